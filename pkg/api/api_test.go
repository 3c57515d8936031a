package api

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/lemonberrylabs/mexpr/pkg/runtime"
	"github.com/lemonberrylabs/mexpr/pkg/store"
	"github.com/lemonberrylabs/mexpr/pkg/types"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s := store.New()
	_, err := s.CreateDataset("app", "sample", []store.Row{
		{"a": types.NewInt(1), "b": types.NewDouble(3.0), "c": types.NewInt(5), "d": types.NewInt(-1)},
		{"a": types.NewInt(200), "b": types.NewDouble(0.5), "c": types.NewInt(0)},
	})
	if err != nil {
		t.Fatal(err)
	}
	return New(runtime.NewEvaluator(s, nil, store.NewMemoryHistory()), Options{})
}

func do(t *testing.T, srv *Server, method, path, body string) (int, map[string]interface{}) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	resp, err := srv.App().Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var out map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("%s %s: decoding response: %v", method, path, err)
	}
	return resp.StatusCode, out
}

func errorStatus(out map[string]interface{}) string {
	e, _ := out["error"].(map[string]interface{})
	s, _ := e["status"].(string)
	return s
}

func TestEvaluate(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name      string
		body      string
		wantCode  int
		wantType  string
		wantValue interface{}
		wantErr   string
	}{
		{"double promotion", `{"expression": "5.0 + 10"}`, 200, "double", 15.0, ""},
		{"dataset row", `{"expression": "b <= c", "dataset": "app"}`, 200, "bool", true, ""},
		{"second row", `{"expression": "a / 2", "dataset": "app", "row": 1}`, 200, "int", 100.0, ""},
		{"int variable", `{"expression": "a + 1", "variables": {"a": 2}}`, 200, "int", 3.0, ""},
		{"double variable", `{"expression": "a * 2", "variables": {"a": 1.5}}`, 200, "double", 3.0, ""},
		{"explicit grammar", `{"expression": "1 < 2 and 3 > 2", "grammar": "logical"}`, 200, "bool", true, ""},
		{"no match", `{"expression": "1 +"}`, 400, "", nil, "INVALID_ARGUMENT"},
		{"int literal overflow", `{"expression": "9223372036854775808 + 1"}`, 400, "", nil, "INVALID_ARGUMENT"},
		{"wrong grammar", `{"expression": "1 + 2", "grammar": "comparison"}`, 400, "", nil, "INVALID_ARGUMENT"},
		{"unresolved", `{"expression": "x + 1"}`, 400, "", nil, "FAILED_PRECONDITION"},
		{"zero division", `{"expression": "1 / 0"}`, 422, "", nil, "EVALUATION_FAILED"},
		{"type error", `{"expression": "a + 1", "variables": {"a": true}}`, 422, "", nil, "EVALUATION_FAILED"},
		{"unknown dataset", `{"expression": "a", "dataset": "nope"}`, 404, "", nil, "NOT_FOUND"},
		{"row out of range", `{"expression": "a", "dataset": "app", "row": 7}`, 400, "", nil, "OUT_OF_RANGE"},
		{"empty expression", `{"expression": ""}`, 400, "", nil, "INVALID_ARGUMENT"},
		{"unknown grammar", `{"expression": "1", "grammar": "bogus"}`, 400, "", nil, "INVALID_ARGUMENT"},
		{"string variable", `{"expression": "a + 1", "variables": {"a": "x"}}`, 400, "", nil, "INVALID_ARGUMENT"},
		{"bad body", `{`, 400, "", nil, "INVALID_ARGUMENT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, out := do(t, srv, "POST", "/v1/evaluate", tt.body)
			if code != tt.wantCode {
				t.Fatalf("status %d, want %d (%v)", code, tt.wantCode, out)
			}
			if tt.wantErr != "" {
				if got := errorStatus(out); got != tt.wantErr {
					t.Errorf("error status %q, want %q", got, tt.wantErr)
				}
				return
			}
			result := out["result"].(map[string]interface{})
			if result["type"] != tt.wantType {
				t.Errorf("type %v, want %s", result["type"], tt.wantType)
			}
			if result["value"] != tt.wantValue {
				t.Errorf("value %v, want %v", result["value"], tt.wantValue)
			}
		})
	}
}

func TestEvaluateFailureTags(t *testing.T) {
	srv := newTestServer(t)
	_, out := do(t, srv, "POST", "/v1/evaluate", `{"expression": "c % 0", "dataset": "app"}`)
	e := out["error"].(map[string]interface{})
	tags, _ := e["tags"].([]interface{})
	if len(tags) != 1 || tags[0] != types.TagZeroDivisionError {
		t.Errorf("tags %v", e["tags"])
	}
	if !strings.Contains(e["message"].(string), "modulo by zero") {
		t.Errorf("message %v", e["message"])
	}
}

func TestPostfix(t *testing.T) {
	srv := newTestServer(t)

	code, out := do(t, srv, "POST", "/v1/postfix", `{"expression": "1 + 2 * 3"}`)
	if code != 200 {
		t.Fatalf("status %d: %v", code, out)
	}
	want := []interface{}{"1", "2", "3", "*", "+"}
	if !reflect.DeepEqual(out["postfix"], want) {
		t.Errorf("postfix %v, want %v", out["postfix"], want)
	}
	if out["tree"] != "(1 + (2 * 3))" {
		t.Errorf("tree %v", out["tree"])
	}
	if out["grammar"] != "arithmetic" {
		t.Errorf("grammar %v", out["grammar"])
	}

	_, out = do(t, srv, "POST", "/v1/postfix", `{"expression": "max(a, b) >= c"}`)
	if !reflect.DeepEqual(out["variables"], []interface{}{"a", "b", "c"}) {
		t.Errorf("variables %v", out["variables"])
	}

	code, _ = do(t, srv, "POST", "/v1/postfix", `{"expression": "( )"}`)
	if code != 400 {
		t.Errorf("status %d, want 400", code)
	}
}

func TestCheck(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		expression string
		grammars   map[string]interface{}
		circle     bool
	}{
		{"1 + 2", map[string]interface{}{"arithmetic": true, "comparison": false, "logical": false}, false},
		{"a < 1", map[string]interface{}{"arithmetic": false, "comparison": true, "logical": true}, false},
		{"a < 1 or true", map[string]interface{}{"arithmetic": false, "comparison": false, "logical": true}, false},
		{"1 < < 2", map[string]interface{}{"arithmetic": false, "comparison": false, "logical": false}, false},
		{"pow(x, 2) + pow(y, 2) = 25", map[string]interface{}{"arithmetic": false, "comparison": true, "logical": true}, true},
	}
	for _, tt := range tests {
		t.Run(tt.expression, func(t *testing.T) {
			body, _ := json.Marshal(map[string]string{"expression": tt.expression})
			code, out := do(t, srv, "POST", "/v1/check", string(body))
			if code != 200 {
				t.Fatalf("status %d", code)
			}
			if !reflect.DeepEqual(out["grammars"], tt.grammars) {
				t.Errorf("grammars %v, want %v", out["grammars"], tt.grammars)
			}
			if _, ok := out["circle"]; ok != tt.circle {
				t.Errorf("circle present = %v, want %v", ok, tt.circle)
			}
		})
	}

	_, out := do(t, srv, "POST", "/v1/check", `{"expression": "1 # 2"}`)
	if out["tokenError"] == nil {
		t.Error("expected tokenError for an unknown character")
	}
}

func TestQuery(t *testing.T) {
	srv := newTestServer(t)

	code, out := do(t, srv, "POST", "/v1/query", `{"sql": "SELECT a, d FROM app WHERE a <= 100"}`)
	if code != 200 {
		t.Fatalf("status %d: %v", code, out)
	}
	if out["canonical"] != "select a, d from app where a <= 100" {
		t.Errorf("canonical %v", out["canonical"])
	}
	want := []interface{}{[]interface{}{1.0, -1.0}}
	if !reflect.DeepEqual(out["rows"], want) {
		t.Errorf("rows %v, want %v", out["rows"], want)
	}

	_, out = do(t, srv, "POST", "/v1/query", `{"sql": "select d from app where d < 0"}`)
	if out["skipped"] != 1.0 {
		t.Errorf("skipped %v, want 1", out["skipped"])
	}

	code, out = do(t, srv, "POST", "/v1/query", `{"sql": "select from app"}`)
	if code != 400 || errorStatus(out) != "INVALID_ARGUMENT" {
		t.Errorf("status %d %v", code, out)
	}
	code, _ = do(t, srv, "POST", "/v1/query", `{"sql": "select a from nowhere"}`)
	if code != 404 {
		t.Errorf("status %d, want 404", code)
	}
}

func TestDatasets(t *testing.T) {
	srv := newTestServer(t)

	code, out := do(t, srv, "POST", "/v1/datasets?datasetId=prices", `{"description": "p", "rows": [{"p": 9.5}, {"p": 2}]}`)
	if code != 200 {
		t.Fatalf("create: status %d: %v", code, out)
	}
	if out["rowCount"] != 2.0 {
		t.Errorf("rowCount %v", out["rowCount"])
	}

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		code   int
	}{
		{"duplicate", "POST", "/v1/datasets?datasetId=prices", `{"rows": []}`, 409},
		{"missing id", "POST", "/v1/datasets", `{"rows": []}`, 400},
		{"invalid id", "POST", "/v1/datasets?datasetId=9x", `{"rows": []}`, 400},
		{"bad rows", "POST", "/v1/datasets?datasetId=bad", `{"rows": [{"p": "x"}]}`, 400},
		{"get missing", "GET", "/v1/datasets/nope", "", 404},
		{"delete missing", "DELETE", "/v1/datasets/nope", "", 404},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, out := do(t, srv, tt.method, tt.path, tt.body)
			if code != tt.code {
				t.Errorf("status %d, want %d (%v)", code, tt.code, out)
			}
		})
	}

	_, out = do(t, srv, "GET", "/v1/datasets", "")
	items := out["datasets"].([]interface{})
	if len(items) != 2 {
		t.Fatalf("got %d datasets, want 2", len(items))
	}
	if items[0].(map[string]interface{})["name"] != "app" {
		t.Errorf("first dataset %v", items[0])
	}
	// The stored ID must survive the requests made since it was created.
	if items[1].(map[string]interface{})["name"] != "prices" {
		t.Errorf("second dataset %v", items[1])
	}

	_, out = do(t, srv, "GET", "/v1/datasets/prices", "")
	rows := out["rows"].([]interface{})
	if len(rows) != 2 || rows[0].(map[string]interface{})["p"] != 9.5 {
		t.Errorf("rows %v", rows)
	}

	// New dataset is usable for evaluation.
	code, out = do(t, srv, "POST", "/v1/evaluate", `{"expression": "p * 2", "dataset": "prices", "row": 1}`)
	if code != 200 || out["result"].(map[string]interface{})["value"] != 4.0 {
		t.Errorf("evaluate on new dataset: %d %v", code, out)
	}

	code, _ = do(t, srv, "DELETE", "/v1/datasets/prices", "")
	if code != 200 {
		t.Errorf("delete: status %d", code)
	}
	code, _ = do(t, srv, "GET", "/v1/datasets/prices", "")
	if code != 404 {
		t.Errorf("get after delete: status %d", code)
	}
}

func TestEvaluations(t *testing.T) {
	srv := newTestServer(t)
	do(t, srv, "POST", "/v1/evaluate", `{"expression": "1 + 2"}`)
	do(t, srv, "POST", "/v1/evaluate", `{"expression": "1 / 0"}`)
	do(t, srv, "POST", "/v1/evaluate", `{"expression": "1 +"}`) // not recorded

	_, out := do(t, srv, "GET", "/v1/evaluations", "")
	items := out["evaluations"].([]interface{})
	if len(items) != 2 {
		t.Fatalf("got %d evaluations, want 2", len(items))
	}
	newest := items[0].(map[string]interface{})
	if newest["expression"] != "1 / 0" || newest["state"] != "FAILED" {
		t.Errorf("newest %v", newest)
	}
	oldest := items[1].(map[string]interface{})
	if oldest["result"] != "3" || oldest["resultType"] != "int" {
		t.Errorf("oldest %v", oldest)
	}

	_, out = do(t, srv, "GET", "/v1/evaluations?limit=1", "")
	if n := len(out["evaluations"].([]interface{})); n != 1 {
		t.Errorf("limit=1 returned %d", n)
	}
	code, _ := do(t, srv, "GET", "/v1/evaluations?limit=-1", "")
	if code != 400 {
		t.Errorf("negative limit: status %d", code)
	}
}

func TestDrain(t *testing.T) {
	srv := newTestServer(t)
	if code, _ := do(t, srv, "GET", "/v1/datasets", ""); code != 200 {
		t.Fatalf("status %d before drain", code)
	}
	srv.Drain()
	code, out := do(t, srv, "GET", "/v1/datasets", "")
	if code != 503 || errorStatus(out) != "UNAVAILABLE" {
		t.Errorf("status %d %v, want 503 UNAVAILABLE", code, out)
	}
}

func TestWatchDir(t *testing.T) {
	srv := newTestServer(t)
	dir := t.TempDir()
	files := map[string]string{
		"Points.yaml": "rows:\n  - {x: 3, y: 4}\n",
		"broken.yaml": "rows:\n  - {x: nope}\n",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	if err := srv.WatchDir(dir); err != nil {
		t.Fatal(err)
	}
	code, out := do(t, srv, "POST", "/v1/evaluate", `{"expression": "sqr(x) + sqr(y) = 25", "dataset": "points"}`)
	if code != 200 || out["result"].(map[string]interface{})["value"] != true {
		t.Errorf("evaluate on loaded dataset: %d %v", code, out)
	}
	if code, _ := do(t, srv, "GET", "/v1/datasets/broken", ""); code != 404 {
		t.Errorf("broken dataset should not load, status %d", code)
	}

	if err := srv.WatchDir(filepath.Join(dir, "missing")); err == nil {
		t.Error("expected error for missing directory")
	}
}
