package web

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/lemonberrylabs/mexpr/pkg/store"
	"github.com/lemonberrylabs/mexpr/pkg/types"
)

func setupTestApp(t *testing.T) (*fiber.App, *store.Store, *store.MemoryHistory) {
	t.Helper()
	s := store.New()
	hist := store.NewMemoryHistory()
	h := New(s, hist)
	app := fiber.New()
	h.Register(app)
	return app, s, hist
}

func get(t *testing.T, app *fiber.App, path string) (int, string) {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestDashboardEmpty(t *testing.T) {
	app, _, _ := setupTestApp(t)

	code, html := get(t, app, "/ui")
	if code != 200 {
		t.Fatalf("expected 200, got %d: %s", code, html)
	}
	for _, want := range []string{"Dashboard", "mexpr", "No datasets loaded", "No evaluations yet"} {
		if !strings.Contains(html, want) {
			t.Errorf("expected %q in response", want)
		}
	}
}

func TestDashboardWithData(t *testing.T) {
	app, s, hist := setupTestApp(t)

	_, err := s.CreateDataset("app", "host table", []store.Row{
		{"a": types.NewInt(1), "b": types.NewDouble(3.0)},
	})
	if err != nil {
		t.Fatalf("failed to create dataset: %v", err)
	}
	ctx := context.Background()
	hist.Record(ctx, &store.Evaluation{Expression: "b <= 5", Grammar: "comparison", State: store.EvaluationSucceeded, Result: "true", ResultType: "bool"})
	hist.Record(ctx, &store.Evaluation{Expression: "1 / 0", Grammar: "arithmetic", State: store.EvaluationFailed, Error: "division by zero"})

	code, html := get(t, app, "/ui")
	if code != 200 {
		t.Fatalf("expected 200, got %d", code)
	}
	for _, want := range []string{"/ui/datasets/app", "host table", "a, b", "b &lt;= 5", "division by zero", "Succeeded: <strong>1</strong>", "Failed: <strong>1</strong>"} {
		if !strings.Contains(html, want) {
			t.Errorf("expected %q in response", want)
		}
	}
}

func TestDatasetDetail(t *testing.T) {
	app, s, _ := setupTestApp(t)

	s.CreateDataset("points", "", []store.Row{
		{"x": types.NewInt(3), "y": types.NewDouble(4.5)},
		{"x": types.NewInt(-2)},
	})

	code, html := get(t, app, "/ui/datasets/points")
	if code != 200 {
		t.Fatalf("expected 200, got %d", code)
	}
	for _, want := range []string{"<th>x</th>", "<th>y</th>", "<code>4.5</code>", "<code>-2</code>", "<code>-</code>"} {
		if !strings.Contains(html, want) {
			t.Errorf("expected %q in response", want)
		}
	}
}

func TestDatasetNotFound(t *testing.T) {
	app, _, _ := setupTestApp(t)

	code, html := get(t, app, "/ui/datasets/nonexistent")
	if code != 200 {
		t.Fatalf("expected 200, got %d", code)
	}
	if !strings.Contains(html, "Not Found") || !strings.Contains(html, "nonexistent") {
		t.Error("expected not found message")
	}
}

func TestEvaluationList(t *testing.T) {
	app, _, hist := setupTestApp(t)
	hist.Record(context.Background(), &store.Evaluation{
		Expression: "x + 1",
		Grammar:    "arithmetic",
		Dataset:    "app",
		State:      store.EvaluationFailed,
		Error:      "unresolved variable: x",
		Tags:       []string{types.TagUnresolvedVariable},
	})

	code, html := get(t, app, "/ui/evaluations")
	if code != 200 {
		t.Fatalf("expected 200, got %d", code)
	}
	// html/template escapes '+' in text.
	for _, want := range []string{"evaluations/eval-1", "x &#43; 1", "[UnresolvedVariable]", "state-failed"} {
		if !strings.Contains(html, want) {
			t.Errorf("expected %q in response", want)
		}
	}
}

func TestNilHistory(t *testing.T) {
	app := fiber.New()
	New(store.New(), nil).Register(app)

	if code, _ := get(t, app, "/ui/evaluations"); code != 200 {
		t.Errorf("expected 200, got %d", code)
	}
}

func TestRootRedirect(t *testing.T) {
	app, _, _ := setupTestApp(t)

	req := httptest.NewRequest("GET", "/", nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != 302 {
		t.Fatalf("expected 302 redirect, got %d", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "/ui" {
		t.Fatalf("expected redirect to /ui, got %s", loc)
	}
}
