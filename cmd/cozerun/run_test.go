package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
)

// resetRunFlags clears flag state left over from earlier Execute calls.
func resetRunFlags(t *testing.T) {
	t.Helper()
	runAsync = false
	runParams = nil
	runOutputDir = ""
	pollHandle = ""
	metricsFile = ""
	logFormat = "text"
	logLevel = "info"
	for _, name := range []string{"param", "async", "output-dir"} {
		if f := runCmd.Flags().Lookup(name); f != nil {
			f.Changed = false
		}
	}
}

// fakeCoze answers the run endpoint and the run-history endpoint.
type fakeCoze struct {
	mu       sync.Mutex
	start    map[string]any
	queries  int
	statuses []string
}

func (f *fakeCoze) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/workflow/run", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		_ = json.NewDecoder(r.Body).Decode(&f.start)
		if f.start["is_async"] == true {
			_, _ = io.WriteString(w, `{"code":0,"execute_id":"exec-42"}`)
			return
		}
		_, _ = io.WriteString(w, `{"code":0,"data":"{\"answer\":\"ok\"}"}`)
	})
	mux.HandleFunc("GET /v1/workflows/{workflow_id}/run_histories/{run_handle}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		status := f.statuses[min(f.queries, len(f.statuses)-1)]
		f.queries++
		_, _ = io.WriteString(w, `{"code":0,"data":[{"execute_status":"`+status+`"}]}`)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func (f *fakeCoze) startBody() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.start
}

func runConfig(t *testing.T, baseURL string) string {
	t.Helper()
	return writeConfig(t, `
api:
  token: pat_test
  base_url: `+baseURL+`
workflow:
  id: wf-1
  parameters:
    city: Beijing
poll:
  initial_interval: 1ms
  max_interval: 4ms
  max_attempts: 5
`)
}

func TestRunCmd_Sync(t *testing.T) {
	resetRunFlags(t)
	fake := &fakeCoze{}
	server := fake.server(t)
	outDir := t.TempDir()

	output, err := executeCmd(t, "run", "-c", runConfig(t, server.URL), "-o", outDir,
		"--param", "days=3", "--param", "city=Shanghai")
	if err != nil {
		t.Fatalf("run command error = %v", err)
	}

	start := fake.startBody()
	if _, ok := start["is_async"]; ok {
		t.Errorf("sync run sent is_async: %v", start)
	}
	wantParams := map[string]any{"city": "Shanghai", "days": float64(3)}
	if !reflect.DeepEqual(start["parameters"], wantParams) {
		t.Errorf("parameters = %v, want %v", start["parameters"], wantParams)
	}

	if !strings.Contains(output, "Outcome:  completed") {
		t.Errorf("output missing outcome\nGot: %s", output)
	}
	files, _ := filepath.Glob(filepath.Join(outDir, "sync_*.json"))
	if len(files) != 1 {
		t.Fatalf("found %d sync artifacts, want 1", len(files))
	}
}

func TestRunCmd_Async(t *testing.T) {
	resetRunFlags(t)
	fake := &fakeCoze{statuses: []string{"Running", "Success"}}
	server := fake.server(t)
	outDir := t.TempDir()
	metricsPath := filepath.Join(t.TempDir(), "cozerun.prom")

	output, err := executeCmd(t, "run", "-c", runConfig(t, server.URL), "--async", "-o", outDir,
		"--metrics-file", metricsPath, "--log-format", "json")
	if err != nil {
		t.Fatalf("run command error = %v", err)
	}

	for _, phrase := range []string{"Outcome:  succeeded", "Run:      exec-42", "Queries:  2"} {
		if !strings.Contains(output, phrase) {
			t.Errorf("output missing %q\nGot: %s", phrase, output)
		}
	}

	files, _ := filepath.Glob(filepath.Join(outDir, "async_*_exec-42.json"))
	if len(files) != 1 {
		t.Fatalf("found %d async artifacts, want 1", len(files))
	}

	metrics, err := os.ReadFile(metricsPath)
	if err != nil {
		t.Fatalf("metrics file not written: %v", err)
	}
	if !strings.Contains(string(metrics), `cozerun_workflow_executions_total{mode="async",outcome="succeeded"} 1`) {
		t.Errorf("metrics file missing execution counter\nGot: %s", metrics)
	}
}

func TestRunCmd_AsyncFailedExitsNonZero(t *testing.T) {
	resetRunFlags(t)
	fake := &fakeCoze{statuses: []string{"Fail"}}
	server := fake.server(t)

	_, err := executeCmd(t, "run", "-c", runConfig(t, server.URL), "--async", "-o", t.TempDir())
	if err == nil {
		t.Fatal("run command expected error for failed run, got nil")
	}
	if !strings.Contains(err.Error(), "outcome failed") {
		t.Errorf("error = %v, want 'outcome failed'", err)
	}
}

func TestPollCmd(t *testing.T) {
	resetRunFlags(t)
	fake := &fakeCoze{statuses: []string{"Success"}}
	server := fake.server(t)
	outDir := t.TempDir()

	output, err := executeCmd(t, "poll", "-c", runConfig(t, server.URL), "--handle", "exec-7", "-o", outDir)
	if err != nil {
		t.Fatalf("poll command error = %v", err)
	}
	if start := fake.startBody(); start != nil {
		t.Errorf("poll should not start a run, got %v", start)
	}
	if !strings.Contains(output, "Run:      exec-7") {
		t.Errorf("output missing handle\nGot: %s", output)
	}
}

func TestRunCmd_InvalidParam(t *testing.T) {
	resetRunFlags(t)
	_, err := executeCmd(t, "run", "-c", runConfig(t, "http://127.0.0.1:1"), "--param", "novalue")
	if err == nil || !strings.Contains(err.Error(), "expected key=value") {
		t.Errorf("run command error = %v, want 'expected key=value'", err)
	}
}

func TestRunCmd_InvalidLogFormat(t *testing.T) {
	resetRunFlags(t)
	_, err := executeCmd(t, "run", "-c", runConfig(t, "http://127.0.0.1:1"), "--log-format", "xml")
	if err == nil || !strings.Contains(err.Error(), "unknown log format") {
		t.Errorf("run command error = %v, want 'unknown log format'", err)
	}
}

func TestParseParams(t *testing.T) {
	got, err := parseParams([]string{
		"city=Beijing",
		"days=3",
		"flag=true",
		`tags=["a","b"]`,
		`quoted="42"`,
		"empty=",
		"expr=a=b",
	})
	if err != nil {
		t.Fatalf("parseParams() error = %v", err)
	}

	want := map[string]any{
		"city":   "Beijing",
		"days":   json.Number("3"),
		"flag":   true,
		"tags":   []any{"a", "b"},
		"quoted": "42",
		"empty":  "",
		"expr":   "a=b",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("parseParams() = %#v, want %#v", got, want)
	}
}

func TestParseParams_LargeIntegersKeepPrecision(t *testing.T) {
	got, err := parseParams([]string{
		"user_id=7428000000000000001",
		`ids=[7428000000000000003]`,
		"ratio=0.25",
	})
	if err != nil {
		t.Fatalf("parseParams() error = %v", err)
	}

	body, err := json.Marshal(got)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}

	want := `{"ids":[7428000000000000003],"ratio":0.25,"user_id":7428000000000000001}`
	if string(body) != want {
		t.Errorf("marshalled params = %s, want %s", body, want)
	}
}

func TestParseParams_Invalid(t *testing.T) {
	for _, pair := range []string{"novalue", "=x", " =x"} {
		if _, err := parseParams([]string{pair}); err == nil {
			t.Errorf("parseParams(%q) expected error, got nil", pair)
		}
	}
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		format  string
		level   string
		wantErr bool
	}{
		{"text", "info", false},
		{"json", "debug", false},
		{"", "warn", false},
		{"JSON", "error", false},
		{"xml", "info", true},
		{"text", "loud", true},
	}

	for _, tt := range tests {
		t.Run(tt.format+"/"+tt.level, func(t *testing.T) {
			_, err := newLogger(io.Discard, tt.format, tt.level)
			if (err != nil) != tt.wantErr {
				t.Errorf("newLogger() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
