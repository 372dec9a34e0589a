package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"

	"github.com/jpalmerr/cozerun"
)

func main() {
	// start mock server (see mock_server.go)
	go StartMockCozeServer(":9999")
	time.Sleep(100 * time.Millisecond)

	req, err := cozerun.NewRunRequest("7428000000000000000",
		cozerun.WithParameter("city", "Beijing"),
		cozerun.WithParameter("days", 3),
	)
	if err != nil {
		slog.Error("failed to create request", "error", err)
		os.Exit(1)
	}

	// artifacts stay in memory for the demo
	fs := afero.NewMemMapFs()

	r, err := cozerun.New(
		cozerun.WithToken("pat_demo"),
		cozerun.WithBaseURL("http://localhost:9999"),
		cozerun.WithInitialInterval(time.Second),
		cozerun.WithMaxInterval(4*time.Second),
		cozerun.WithMaxAttempts(20),
		cozerun.WithFilesystem(fs),
		cozerun.WithAttemptCallback(func(a cozerun.AttemptResult) {
			fmt.Printf("  attempt %2d  %-9s next wait %s\n", a.Attempt, a.State, a.Wait)
		}),
	)
	if err != nil {
		slog.Error("failed to create runner", "error", err)
		os.Exit(1)
	}
	defer r.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Println("Synchronous run:")
	exec, err := r.RunSync(ctx, req)
	if err != nil {
		slog.Error("sync run failed", "error", err)
		os.Exit(1)
	}
	printArtifact(fs, exec)

	fmt.Println("Asynchronous run:")
	exec, err = r.RunAsync(ctx, req)
	if err != nil {
		slog.Error("async run failed", "error", err)
		os.Exit(1)
	}
	printArtifact(fs, exec)
}

func printArtifact(fs afero.Fs, exec cozerun.Execution) {
	data, err := afero.ReadFile(fs, exec.ArtifactPath)
	if err != nil {
		slog.Error("failed to read artifact", "path", exec.ArtifactPath, "error", err)
		return
	}
	fmt.Printf("  outcome %s after %s, saved to %s\n", exec.Outcome, exec.Elapsed.Round(time.Millisecond), exec.ArtifactPath)
	fmt.Println(string(data))
	fmt.Println()
}
