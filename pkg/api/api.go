// Package api implements the REST API for evaluating expressions, managing
// datasets and reading the evaluation history.
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/lemonberrylabs/mexpr/pkg/expr"
	"github.com/lemonberrylabs/mexpr/pkg/parser"
	"github.com/lemonberrylabs/mexpr/pkg/runtime"
	"github.com/lemonberrylabs/mexpr/pkg/sqlselect"
	"github.com/lemonberrylabs/mexpr/pkg/store"
	"github.com/lemonberrylabs/mexpr/pkg/types"
	"github.com/tevino/abool/v2"
)

// DefaultListLimit is the number of evaluations returned when no limit is
// given.
const DefaultListLimit = 50

// Options configures a Server.
type Options struct {
	// AccessLog receives one line per request. Nil disables access logging.
	AccessLog io.Writer
}

// Server is the HTTP API server.
type Server struct {
	app      *fiber.App
	eval     *runtime.Evaluator
	draining *abool.AtomicBool
}

// New creates a new API server around ev.
func New(ev *runtime.Evaluator, opts Options) *Server {
	srv := &Server{
		eval:     ev,
		draining: abool.New(),
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
	})

	if opts.AccessLog != nil {
		app.Use(logger.New(logger.Config{Output: opts.AccessLog}))
	}
	app.Use(srv.rejectWhileDraining)

	// Expressions
	app.Post("/v1/evaluate", srv.evaluate)
	app.Post("/v1/postfix", srv.postfix)
	app.Post("/v1/check", srv.check)
	app.Post("/v1/query", srv.query)

	// Datasets
	app.Post("/v1/datasets", srv.createDataset)
	app.Get("/v1/datasets", srv.listDatasets)
	app.Get("/v1/datasets/:dataset", srv.getDataset)
	app.Delete("/v1/datasets/:dataset", srv.deleteDataset)

	// History
	app.Get("/v1/evaluations", srv.listEvaluations)

	srv.app = app
	return srv
}

// Listen starts the HTTP server on the given address.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Serve serves HTTP requests on an existing listener.
func (s *Server) Serve(ln net.Listener) error {
	return s.app.Listener(ln)
}

// Drain makes the server answer new requests with 503.
func (s *Server) Drain() {
	s.draining.Set()
}

// Shutdown drains and then gracefully shuts down the server.
func (s *Server) Shutdown() error {
	s.Drain()
	return s.app.Shutdown()
}

// App returns the underlying Fiber app (useful for testing).
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) rejectWhileDraining(c *fiber.Ctx) error {
	if s.draining.IsSet() {
		return apiError(c, 503, "UNAVAILABLE", "server is shutting down")
	}
	return c.Next()
}

// apiError writes the {"error": {code, message, status}} envelope.
func apiError(c *fiber.Ctx, code int, status, message string) error {
	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    code,
			"message": message,
			"status":  status,
		},
	})
}

// evaluationError maps an evaluation failure to a response.
func evaluationError(c *fiber.Ctx, err error) error {
	var evalErr *types.EvalError
	switch {
	case errors.Is(err, expr.ErrNoMatch):
		return apiError(c, 400, "INVALID_ARGUMENT", err.Error())
	case errors.Is(err, expr.ErrUnresolvedVariable):
		return apiError(c, 400, "FAILED_PRECONDITION", err.Error())
	case errors.Is(err, store.ErrNotFound):
		return apiError(c, 404, "NOT_FOUND", err.Error())
	case errors.Is(err, store.ErrRowOutOfRange):
		return apiError(c, 400, "OUT_OF_RANGE", err.Error())
	case errors.As(err, &evalErr):
		return c.Status(422).JSON(fiber.Map{
			"error": fiber.Map{
				"code":    422,
				"message": evalErr.Message,
				"status":  "EVALUATION_FAILED",
				"tags":    evalErr.Tags,
			},
		})
	}
	return apiError(c, 500, "INTERNAL", err.Error())
}

// --- Expression Handlers ---

type evaluateRequest struct {
	Expression string                 `json:"expression"`
	Grammar    string                 `json:"grammar"`
	Variables  map[string]interface{} `json:"variables"`
	Dataset    string                 `json:"dataset"`
	Row        int                    `json:"row"`
}

// decodeBody decodes a JSON body keeping numbers as json.Number, so that
// 3.0 stays a double and 3 an int.
func decodeBody(c *fiber.Ctx, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(c.Body()))
	dec.UseNumber()
	return dec.Decode(v)
}

func (s *Server) evaluate(c *fiber.Ctx) error {
	var req evaluateRequest
	if err := decodeBody(c, &req); err != nil {
		return apiError(c, 400, "INVALID_ARGUMENT", fmt.Sprintf("invalid request body: %v", err))
	}
	if req.Expression == "" {
		return apiError(c, 400, "INVALID_ARGUMENT", "expression is required")
	}
	grammar, err := expr.ParseGrammar(req.Grammar)
	if err != nil {
		return apiError(c, 400, "INVALID_ARGUMENT", err.Error())
	}

	vars := make(map[string]types.Value, len(req.Variables))
	for name, raw := range req.Variables {
		v := types.ValueFromJSON(raw)
		if !v.IsLiteral() {
			return apiError(c, 400, "INVALID_ARGUMENT", fmt.Sprintf("variable %s must be a number or a boolean", name))
		}
		vars[name] = v
	}

	out, err := s.eval.Evaluate(c.UserContext(), runtime.Request{
		Expression: req.Expression,
		Grammar:    grammar,
		Variables:  vars,
		Dataset:    req.Dataset,
		Row:        req.Row,
	})
	if err != nil {
		return evaluationError(c, err)
	}

	return c.JSON(fiber.Map{
		"result": fiber.Map{
			"type":  out.Result.Type().String(),
			"value": out.Result,
		},
		"grammar":    out.Program.Grammar.String(),
		"postfix":    out.Program.PostfixText(),
		"evaluation": out.Evaluation.Name,
	})
}

type postfixRequest struct {
	Expression string `json:"expression"`
	Grammar    string `json:"grammar"`
}

func (s *Server) postfix(c *fiber.Ctx) error {
	var req postfixRequest
	if err := c.BodyParser(&req); err != nil {
		return apiError(c, 400, "INVALID_ARGUMENT", fmt.Sprintf("invalid request body: %v", err))
	}
	grammar, err := expr.ParseGrammar(req.Grammar)
	if err != nil {
		return apiError(c, 400, "INVALID_ARGUMENT", err.Error())
	}

	prog, err := s.eval.Compile(req.Expression, grammar)
	if err != nil {
		return evaluationError(c, err)
	}
	tree, err := prog.Tree()
	if err != nil {
		return apiError(c, 500, "INTERNAL", err.Error())
	}

	return c.JSON(fiber.Map{
		"grammar":   prog.Grammar.String(),
		"postfix":   prog.PostfixText(),
		"tree":      tree.String(),
		"variables": nonNil(prog.Variables()),
	})
}

type checkRequest struct {
	Expression string `json:"expression"`
}

func (s *Server) check(c *fiber.Ctx) error {
	var req checkRequest
	if err := c.BodyParser(&req); err != nil {
		return apiError(c, 400, "INVALID_ARGUMENT", fmt.Sprintf("invalid request body: %v", err))
	}
	return c.JSON(Check(req.Expression))
}

// CheckResult reports which grammars accept an expression.
type CheckResult struct {
	Expression string          `json:"expression"`
	Grammars   map[string]bool `json:"grammars"`
	Circle     *CircleResult   `json:"circle,omitempty"`
	TokenError string          `json:"tokenError,omitempty"`
}

// CircleResult describes a recognized circle equation.
type CircleResult struct {
	RadiusSquared types.Value `json:"radiusSquared"`
}

// Check matches input against every grammar and the circle equation form.
func Check(input string) CheckResult {
	res := CheckResult{
		Expression: input,
		Grammars: map[string]bool{
			expr.GrammarArithmetic.String(): false,
			expr.GrammarComparison.String(): false,
			expr.GrammarLogical.String():    false,
		},
	}
	tokens, err := expr.Tokenize(input)
	if err != nil {
		res.TokenError = err.Error()
		return res
	}
	for _, g := range []expr.Grammar{expr.GrammarArithmetic, expr.GrammarComparison, expr.GrammarLogical} {
		if _, _, err := expr.Match(tokens, g); err == nil {
			res.Grammars[g.String()] = true
		}
	}
	if circle, err := expr.ParseCircle(tokens); err == nil {
		res.Circle = &CircleResult{RadiusSquared: circle.RadiusSquared}
	}
	return res
}

type queryRequest struct {
	SQL string `json:"sql"`
}

func (s *Server) query(c *fiber.Ctx) error {
	var req queryRequest
	if err := c.BodyParser(&req); err != nil {
		return apiError(c, 400, "INVALID_ARGUMENT", fmt.Sprintf("invalid request body: %v", err))
	}
	q, res, err := sqlselect.Run(req.SQL, s.eval.Store())
	if err != nil {
		if errors.Is(err, sqlselect.ErrInvalidQuery) {
			return apiError(c, 400, "INVALID_ARGUMENT", err.Error())
		}
		return evaluationError(c, err)
	}
	return c.JSON(fiber.Map{
		"canonical": q.Canonical,
		"columns":   res.Columns,
		"rows":      res.Rows,
		"skipped":   res.Skipped,
	})
}

// --- Dataset Handlers ---

func (s *Server) createDataset(c *fiber.Ctx) error {
	// The store keeps the ID, so it must not alias the request buffer.
	datasetID := utils.CopyString(c.Query("datasetId"))
	if datasetID == "" {
		return apiError(c, 400, "INVALID_ARGUMENT", "datasetId query parameter is required")
	}
	if !parser.ValidDatasetName(datasetID) {
		return apiError(c, 400, "INVALID_ARGUMENT", fmt.Sprintf("invalid dataset ID %q", datasetID))
	}

	file, err := parser.Parse(c.Body())
	if err != nil {
		return apiError(c, 400, "INVALID_ARGUMENT", fmt.Sprintf("invalid dataset definition: %v", err))
	}

	ds, err := s.eval.Store().CreateDataset(datasetID, file.Description, file.Rows)
	if err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return apiError(c, 409, "ALREADY_EXISTS", err.Error())
		}
		return apiError(c, 500, "INTERNAL", err.Error())
	}
	return c.Status(200).JSON(datasetToJSON(ds, false))
}

func (s *Server) listDatasets(c *fiber.Ctx) error {
	datasets := s.eval.Store().ListDatasets()
	items := make([]fiber.Map, len(datasets))
	for i, ds := range datasets {
		items[i] = datasetToJSON(ds, false)
	}
	return c.JSON(fiber.Map{
		"datasets": items,
	})
}

func (s *Server) getDataset(c *fiber.Ctx) error {
	ds, err := s.eval.Store().GetDataset(c.Params("dataset"))
	if err != nil {
		return apiError(c, 404, "NOT_FOUND", err.Error())
	}
	return c.JSON(datasetToJSON(ds, true))
}

func (s *Server) deleteDataset(c *fiber.Ctx) error {
	name := c.Params("dataset")
	if err := s.eval.Store().DeleteDataset(name); err != nil {
		return apiError(c, 404, "NOT_FOUND", err.Error())
	}
	return c.JSON(fiber.Map{
		"name": name,
		"done": true,
	})
}

// --- History Handlers ---

func (s *Server) listEvaluations(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", DefaultListLimit)
	if limit < 0 {
		return apiError(c, 400, "INVALID_ARGUMENT", "limit must not be negative")
	}

	h := s.eval.History()
	if h == nil {
		return c.JSON(fiber.Map{"evaluations": []fiber.Map{}})
	}
	list, err := h.List(c.UserContext(), limit)
	if err != nil {
		return apiError(c, 500, "INTERNAL", err.Error())
	}

	items := make([]fiber.Map, len(list))
	for i, e := range list {
		items[i] = evaluationToJSON(e)
	}
	return c.JSON(fiber.Map{
		"evaluations": items,
	})
}

// --- Directory Loading ---

// WatchDir loads all dataset files from dir into the store. The file name
// (sans extension, lowercased) becomes the dataset ID. Files that fail to
// load are logged and skipped.
func (s *Server) WatchDir(dir string) error {
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("reading datasets directory: %w", err)
	}

	files, err := parser.LoadDir(dir)
	if err != nil {
		log.Printf("Warning: some dataset files were skipped:\n%v", err)
	}
	for _, f := range files {
		s.eval.Store().PutDataset(f.Name, f.Description, f.Rows)
		log.Printf("Loaded dataset %q (%d rows)", f.Name, len(f.Rows))
	}

	log.Printf("Loaded %d dataset(s) from %s", len(files), dir)
	return nil
}

// --- Helpers ---

func datasetToJSON(ds *store.Dataset, withRows bool) fiber.Map {
	result := fiber.Map{
		"name":        ds.Name,
		"description": ds.Description,
		"revisionId":  ds.RevisionID,
		"columns":     ds.Columns(),
		"rowCount":    len(ds.Rows),
		"createTime":  ds.CreateTime.Format(time.RFC3339),
		"updateTime":  ds.UpdateTime.Format(time.RFC3339),
	}
	if withRows {
		result["rows"] = ds.Rows
	}
	return result
}

func evaluationToJSON(e *store.Evaluation) fiber.Map {
	result := fiber.Map{
		"name":       e.Name,
		"expression": e.Expression,
		"grammar":    e.Grammar,
		"state":      e.State,
		"createTime": e.CreateTime.Format(time.RFC3339),
	}
	if e.Dataset != "" {
		result["dataset"] = e.Dataset
		result["row"] = e.Row
	}
	if e.State == store.EvaluationSucceeded {
		result["result"] = e.Result
		result["resultType"] = e.ResultType
	} else {
		result["error"] = fiber.Map{
			"message": e.Error,
			"tags":    nonNil(e.Tags),
		}
	}
	return result
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
