package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// mockRun tracks when an async run finishes and how.
type mockRun struct {
	workflowID string
	doneAt     time.Time
	failed     bool
}

// StartMockCozeServer runs a fake Coze workflow API on addr.
// Async runs report Running for 5-15 seconds, then Success (one in five
// runs ends in Fail). Call this in a goroutine before creating the runner.
func StartMockCozeServer(addr string) {
	var (
		runs = make(map[string]*mockRun)
		mu   sync.Mutex
	)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/workflow/run", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		workflowID := gjson.GetBytes(body, "workflow_id").String()
		params := gjson.GetBytes(body, "parameters").Raw

		if !gjson.GetBytes(body, "is_async").Bool() {
			time.Sleep(time.Duration(200+rand.Intn(300)) * time.Millisecond)
			output, _ := json.Marshal(map[string]any{"output": "echo " + params})
			writeJSON(w, map[string]any{"code": 0, "msg": "Success", "data": string(output)})
			return
		}

		id := uuid.NewString()
		mu.Lock()
		runs[id] = &mockRun{
			workflowID: workflowID,
			doneAt:     time.Now().Add(time.Duration(5+rand.Intn(11)) * time.Second),
			failed:     rand.Intn(5) == 0,
		}
		mu.Unlock()

		slog.Info("run submitted", "workflow_id", workflowID, "execute_id", id)
		writeJSON(w, map[string]any{"code": 0, "msg": "Success", "execute_id": id})
	})

	mux.HandleFunc("GET /v1/workflows/{workflow_id}/run_histories/{execute_id}", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("execute_id")

		mu.Lock()
		run, ok := runs[id]
		mu.Unlock()
		if !ok || run.workflowID != r.PathValue("workflow_id") {
			w.WriteHeader(http.StatusNotFound)
			writeJSON(w, map[string]any{"code": 4000, "msg": "run not found"})
			return
		}

		status := "Running"
		history := map[string]any{"execute_id": id}
		if time.Now().After(run.doneAt) {
			status = "Success"
			history["output"] = `{"output":"done"}`
			if run.failed {
				status = "Fail"
				history["error_message"] = "node execution failed"
			}
		}
		history["execute_status"] = status

		writeJSON(w, map[string]any{"code": 0, "msg": "", "data": []any{history}})
	})

	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("mock server error", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}
