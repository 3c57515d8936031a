package runtime

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/lemonberrylabs/mexpr/pkg/cache"
	"github.com/lemonberrylabs/mexpr/pkg/expr"
	"github.com/lemonberrylabs/mexpr/pkg/store"
	"github.com/lemonberrylabs/mexpr/pkg/types"
)

// Request is one evaluation: an expression, the grammar to match it with,
// and where its variables come from. Variables shadow the columns of the
// dataset row when both are given.
type Request struct {
	Expression string
	Grammar    expr.Grammar
	Variables  map[string]types.Value
	Dataset    string
	Row        int
}

// Outcome is the result of a successful Evaluate.
type Outcome struct {
	Program    *expr.Program
	Result     types.Value
	Evaluation *store.Evaluation
}

// Evaluator runs requests through the program cache against the datasets
// in a store, recording each evaluation in the history.
type Evaluator struct {
	store   *store.Store
	cache   *cache.Cache
	history store.History
}

// NewEvaluator creates an evaluator. A nil history disables recording.
func NewEvaluator(s *store.Store, c *cache.Cache, h store.History) *Evaluator {
	if c == nil {
		c = cache.New(0)
	}
	return &Evaluator{store: s, cache: c, history: h}
}

// Store returns the dataset store.
func (e *Evaluator) Store() *store.Store { return e.store }

// History returns the evaluation history, which may be nil.
func (e *Evaluator) History() store.History { return e.history }

// Cache returns the program cache.
func (e *Evaluator) Cache() *cache.Cache { return e.cache }

// Compile returns the cached program for input and grammar.
func (e *Evaluator) Compile(input string, grammar expr.Grammar) (*expr.Program, error) {
	return e.cache.Compile(input, grammar)
}

// Scope builds the variable scope for req: the dataset row, if any, as the
// parent and the request variables on top.
func (e *Evaluator) Scope(req Request) (*VariableScope, error) {
	parent := NewScope()
	if req.Dataset != "" {
		ds, err := e.store.GetDataset(req.Dataset)
		if err != nil {
			return nil, err
		}
		row, err := ds.Row(req.Row)
		if err != nil {
			return nil, err
		}
		parent = NewScopeFrom(row)
	}
	scope := parent.NewChildScope()
	for name, v := range req.Variables {
		if !v.IsLiteral() {
			return nil, fmt.Errorf("variable %s: value must be a number or a boolean", name)
		}
		scope.SetLocal(name, v)
	}
	return scope, nil
}

// Evaluate compiles and evaluates req. Compile errors wrap expr.ErrNoMatch;
// missing datasets and rows wrap the store errors. Evaluations that compile
// are recorded in the history whether or not they succeed.
func (e *Evaluator) Evaluate(ctx context.Context, req Request) (*Outcome, error) {
	prog, err := e.cache.Compile(req.Expression, req.Grammar)
	if err != nil {
		return nil, err
	}
	scope, err := e.Scope(req)
	if err != nil {
		return nil, err
	}

	result, evalErr := prog.Evaluate(scope, Lookup)

	rec := &store.Evaluation{
		Expression: req.Expression,
		Grammar:    prog.Grammar.String(),
		Dataset:    req.Dataset,
		Row:        req.Row,
		CreateTime: time.Now(),
	}
	if evalErr != nil {
		rec.State = store.EvaluationFailed
		rec.Error = evalErr.Error()
		rec.Tags = ErrorTags(evalErr)
	} else {
		rec.State = store.EvaluationSucceeded
		rec.Result = result.String()
		rec.ResultType = result.Type().String()
	}
	if e.history != nil {
		if err := e.history.Record(ctx, rec); err != nil {
			log.Printf("Warning: could not record evaluation: %v", err)
		}
	}

	if evalErr != nil {
		return nil, evalErr
	}
	return &Outcome{Program: prog, Result: result, Evaluation: rec}, nil
}

// ErrorTags returns the classification tags of an evaluation error.
func ErrorTags(err error) []string {
	var evalErr *types.EvalError
	if errors.As(err, &evalErr) {
		return evalErr.Tags
	}
	if errors.Is(err, expr.ErrUnresolvedVariable) {
		return []string{types.TagUnresolvedVariable}
	}
	return nil
}
