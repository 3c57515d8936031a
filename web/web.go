// Package web provides the embedded web UI for browsing datasets and the
// evaluation history.
package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/lemonberrylabs/mexpr/pkg/store"
	"github.com/lemonberrylabs/mexpr/pkg/types"
)

//go:embed templates/*.html
var templateFS embed.FS

// recentLimit is the number of evaluations shown on the dashboard.
const recentLimit = 10

// Handler serves the web UI pages.
type Handler struct {
	store   *store.Store
	history store.History
	funcMap template.FuncMap
}

// pageData wraps all page-specific data with common fields.
type pageData struct {
	NavActive string
	Data      interface{}
}

// New creates a new web UI handler. A nil history hides the evaluation
// pages' contents.
func New(s *store.Store, h store.History) *Handler {
	return &Handler{
		store:   s,
		history: h,
		funcMap: template.FuncMap{
			"timeAgo":    timeAgo,
			"formatTime": formatTime,
			"stateClass": stateClass,
			"stateIcon":  stateIcon,
			"truncate":   truncate,
			"cell":       cell,
			"join":       strings.Join,
		},
	}
}

func (h *Handler) render(c *fiber.Ctx, page string, navActive string, data interface{}) error {
	// Each page is parsed with the layout on its own so that the "content"
	// blocks of different pages do not collide.
	tmpl := template.Must(
		template.New("").Funcs(h.funcMap).ParseFS(templateFS, "templates/layout.html", "templates/"+page),
	)

	pd := pageData{
		NavActive: navActive,
		Data:      data,
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, page, pd); err != nil {
		return c.Status(500).SendString(fmt.Sprintf("template error: %v", err))
	}

	c.Set("Content-Type", "text/html; charset=utf-8")
	return c.Send(buf.Bytes())
}

// Register adds web UI routes to the Fiber app.
func (h *Handler) Register(app *fiber.App) {
	app.Get("/ui", h.dashboard)
	app.Get("/ui/datasets/:name", h.datasetDetail)
	app.Get("/ui/evaluations", h.evaluationList)

	// Redirect root to UI
	app.Get("/", func(c *fiber.Ctx) error {
		return c.Redirect("/ui")
	})
}

// --- Page Data Types ---

type dashboardContent struct {
	Datasets       []*store.Dataset
	RecentEvals    []*store.Evaluation
	SucceededCount int
	FailedCount    int
}

type datasetDetailContent struct {
	Dataset *store.Dataset
	Columns []string
}

type evaluationListContent struct {
	Evaluations []*store.Evaluation
}

type notFoundContent struct {
	Message string
}

// --- Page Handlers ---

func (h *Handler) dashboard(c *fiber.Ctx) error {
	evals, err := h.evaluations(c, 0)
	if err != nil {
		return c.Status(500).SendString(fmt.Sprintf("history error: %v", err))
	}
	var succeeded, failed int
	for _, e := range evals {
		switch e.State {
		case store.EvaluationSucceeded:
			succeeded++
		case store.EvaluationFailed:
			failed++
		}
	}
	recent := evals
	if len(recent) > recentLimit {
		recent = recent[:recentLimit]
	}

	return h.render(c, "dashboard.html", "dashboard", dashboardContent{
		Datasets:       h.store.ListDatasets(),
		RecentEvals:    recent,
		SucceededCount: succeeded,
		FailedCount:    failed,
	})
}

func (h *Handler) datasetDetail(c *fiber.Ctx) error {
	name := c.Params("name")
	ds, err := h.store.GetDataset(name)
	if err != nil {
		return h.render(c, "not_found.html", "", notFoundContent{
			Message: fmt.Sprintf("Dataset '%s' not found", name),
		})
	}
	return h.render(c, "dataset_detail.html", "dashboard", datasetDetailContent{
		Dataset: ds,
		Columns: ds.Columns(),
	})
}

func (h *Handler) evaluationList(c *fiber.Ctx) error {
	evals, err := h.evaluations(c, c.QueryInt("limit", 100))
	if err != nil {
		return c.Status(500).SendString(fmt.Sprintf("history error: %v", err))
	}
	return h.render(c, "evaluation_list.html", "evaluations", evaluationListContent{
		Evaluations: evals,
	})
}

func (h *Handler) evaluations(c *fiber.Ctx, limit int) ([]*store.Evaluation, error) {
	if h.history == nil {
		return nil, nil
	}
	return h.history.List(c.UserContext(), limit)
}

// --- Template Helpers ---

func timeAgo(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		m := int(d.Minutes())
		if m == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", m)
	case d < 24*time.Hour:
		h := int(d.Hours())
		if h == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", h)
	default:
		days := int(d.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05")
}

func stateClass(state store.EvaluationState) string {
	switch state {
	case store.EvaluationSucceeded:
		return "state-succeeded"
	case store.EvaluationFailed:
		return "state-failed"
	default:
		return ""
	}
}

func stateIcon(state store.EvaluationState) template.HTML {
	switch state {
	case store.EvaluationSucceeded:
		return "&#10003;"
	case store.EvaluationFailed:
		return "&#10007;"
	default:
		return "&#8226;"
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// cell renders a row value; columns absent from the row show as a dash.
func cell(row store.Row, col string) string {
	v, ok := row[col]
	if !ok || v.Type() == types.TypeNull {
		return "-"
	}
	return v.String()
}
