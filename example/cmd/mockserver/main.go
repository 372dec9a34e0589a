// Standalone mock Coze API for trying the CLI.
//
// Usage:
//
//	go run ./example/cmd/mockserver
//
// Then in another terminal:
//
//	go run ./cmd/cozerun run -c example/config.yaml --async
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

func main() {
	fmt.Println("Mock Coze API starting on :9999")
	fmt.Println("Async runs report Running twice, then Success")
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	var (
		nextID  atomic.Int64
		queries sync.Map
	)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/workflow/run", func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			w.WriteHeader(http.StatusUnauthorized)
			writeJSON(w, map[string]any{"code": 4100, "msg": "missing access token"})
			return
		}

		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			writeJSON(w, map[string]any{"code": 4000, "msg": "invalid body"})
			return
		}

		if body["is_async"] != true {
			writeJSON(w, map[string]any{"code": 0, "msg": "Success", "data": `{"output":"sync done"}`})
			return
		}

		id := fmt.Sprintf("74300000000000%05d", nextID.Add(1))
		slog.Info("run submitted", "workflow_id", body["workflow_id"], "execute_id", id)
		writeJSON(w, map[string]any{"code": 0, "msg": "Success", "execute_id": id})
	})

	mux.HandleFunc("GET /v1/workflows/{workflow_id}/run_histories/{execute_id}", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("execute_id")
		n, _ := queries.LoadOrStore(id, new(atomic.Int64))
		count := n.(*atomic.Int64).Add(1)

		status := "Running"
		if count > 2 {
			status = "Success"
		}
		slog.Info("status queried", "execute_id", id, "query", count, "status", status)

		writeJSON(w, map[string]any{
			"code": 0,
			"data": []any{map[string]any{
				"execute_id":     id,
				"execute_status": status,
				"output":         `{"output":"async done"}`,
			}},
		})
	})

	if err := http.ListenAndServe(":9999", mux); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
