package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/lemonberrylabs/mexpr/pkg/api"
	grpcapi "github.com/lemonberrylabs/mexpr/pkg/api/grpc"
	"github.com/lemonberrylabs/mexpr/pkg/runtime"
	"github.com/lemonberrylabs/mexpr/pkg/store"
	"github.com/lemonberrylabs/mexpr/web"
)

const datasetsDir = "testdata/datasets"

var (
	// testServer is the base URL of the HTTP API under test.
	testServer string
	// grpcEndpoint is the host:port of the gRPC API under test.
	grpcEndpoint string
)

// TestMain runs the suite against MEXPR_URL (and MEXPR_GRPC_ENDPOINT) when
// set. An external server must be started with
//
//	mexpr serve --datasets-dir=test/integration/testdata/datasets
//
// Otherwise the HTTP and gRPC servers are started in-process on ephemeral
// ports with the same datasets.
func TestMain(m *testing.M) {
	testServer = os.Getenv("MEXPR_URL")
	grpcEndpoint = os.Getenv("MEXPR_GRPC_ENDPOINT")

	if testServer == "" {
		stop, err := startLocal()
		if err != nil {
			log.Fatalf("starting local server: %v", err)
		}
		code := m.Run()
		stop()
		os.Exit(code)
	}

	if !strings.HasPrefix(testServer, "http://") && !strings.HasPrefix(testServer, "https://") {
		testServer = "http://" + testServer
	}
	if grpcEndpoint == "" {
		grpcEndpoint = "localhost:8788"
	}
	os.Exit(m.Run())
}

func startLocal() (func(), error) {
	ev := runtime.NewEvaluator(store.New(), nil, store.NewMemoryHistory())

	srv := api.New(ev, api.Options{})
	if err := srv.WatchDir(datasetsDir); err != nil {
		return nil, err
	}
	web.New(ev.Store(), ev.History()).Register(srv.App())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	go srv.Serve(ln)

	gsrv := grpcapi.New(ev)
	gl, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		ln.Close()
		return nil, err
	}
	go gsrv.ServeListener(gl)

	testServer = "http://" + ln.Addr().String()
	grpcEndpoint = gl.Addr().String()

	return func() {
		gsrv.GracefulStop()
		srv.Shutdown()
	}, nil
}

// apiURL builds a full URL for the given API path.
func apiURL(path string) string {
	return strings.TrimRight(testServer, "/") + "/v1/" + path
}

// doRequest sends a request and decodes the JSON response body.
func doRequest(t *testing.T, method, url string, body []byte) (int, map[string]interface{}) {
	t.Helper()

	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	var out map[string]interface{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("%s %s: decoding %q: %v", method, url, string(raw), err)
		}
	}
	return resp.StatusCode, out
}

// postJSON marshals body and posts it to the API path.
func postJSON(t *testing.T, path string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return doRequest(t, http.MethodPost, apiURL(path), data)
}

// getJSON fetches an API path.
func getJSON(t *testing.T, path string) (int, map[string]interface{}) {
	t.Helper()
	return doRequest(t, http.MethodGet, apiURL(path), nil)
}

// evaluate posts an evaluation request given as raw JSON, which keeps
// 3.0 distinct from 3.
func evaluate(t *testing.T, body string) (int, map[string]interface{}) {
	t.Helper()
	return doRequest(t, http.MethodPost, apiURL("evaluate"), []byte(body))
}

// assertResult checks a successful evaluation's result type and value.
func assertResult(t *testing.T, code int, out map[string]interface{}, wantType string, wantValue interface{}) {
	t.Helper()
	if code != http.StatusOK {
		t.Fatalf("expected 200 but got %d: %v", code, out)
	}
	result, ok := out["result"].(map[string]interface{})
	if !ok {
		t.Fatalf("response has no result: %v", out)
	}
	if result["type"] != wantType {
		t.Errorf("result type %v, want %s", result["type"], wantType)
	}

	expectedJSON, _ := json.Marshal(wantValue)
	actualJSON, _ := json.Marshal(result["value"])
	if string(expectedJSON) != string(actualJSON) {
		t.Errorf("result mismatch:\n  expected: %s\n  actual:   %s", expectedJSON, actualJSON)
	}
}

// assertError checks an error response's HTTP code and status string.
func assertError(t *testing.T, code int, out map[string]interface{}, wantCode int, wantStatus string) {
	t.Helper()
	if code != wantCode {
		t.Fatalf("expected %d but got %d: %v", wantCode, code, out)
	}
	e, ok := out["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("response has no error envelope: %v", out)
	}
	if e["status"] != wantStatus {
		t.Errorf("error status %v, want %s (message %v)", e["status"], wantStatus, e["message"])
	}
}

// errorTags returns the tags of an EVALUATION_FAILED response.
func errorTags(out map[string]interface{}) []string {
	e, _ := out["error"].(map[string]interface{})
	raw, _ := e["tags"].([]interface{})
	tags := make([]string, 0, len(raw))
	for _, tag := range raw {
		if s, ok := tag.(string); ok {
			tags = append(tags, s)
		}
	}
	return tags
}

// uniqueID generates a dataset ID for test isolation. Underscores keep the
// ID usable as a table name in queries.
func uniqueID(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, time.Now().UnixNano())
}

// createDataset uploads a YAML dataset and removes it when the test ends.
func createDataset(t *testing.T, id, source string) {
	t.Helper()
	code, out := doRequest(t, http.MethodPost, apiURL("datasets?datasetId="+id), []byte(source))
	if code != http.StatusOK {
		t.Fatalf("createDataset failed with status %d: %v", code, out)
	}
	t.Cleanup(func() {
		req, _ := http.NewRequest(http.MethodDelete, apiURL("datasets/"+id), nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Logf("deleteDataset warning: %v", err)
			return
		}
		resp.Body.Close()
	})
}
