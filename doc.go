// Package cozerun runs Coze workflows and keeps a JSON record of every
// execution.
//
// A workflow can run synchronously, in one blocking HTTP call, or
// asynchronously: the run is submitted, then its history is polled with
// exponential backoff until it reaches a terminal state or the attempt
// budget is spent. Either way the request and the last response are written
// to a file named <mode>_<YYYYMMDDHHMMSS>[_<run handle>].json.
//
// # Quick Start
//
//	r, err := cozerun.New(cozerun.WithToken(os.Getenv("COZE_API_TOKEN")))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer r.Close()
//
//	req, _ := cozerun.NewRunRequest("7428000000000000000",
//	    cozerun.WithParameter("input", "hello"),
//	)
//
//	exec, err := r.RunAsync(ctx, req)
//	fmt.Println(exec.Outcome, exec.ArtifactPath)
//
// # Polling
//
// The wait starts at 2 seconds. It grows by 1.5x after a pending status and
// by 2x after a failed query or a response without a status, and never
// exceeds 30 seconds. After 120 queries without a terminal state one final
// query is made and its response is persisted as is. All of these are
// configurable:
//
//	r, err := cozerun.New(
//	    cozerun.WithToken(tok),
//	    cozerun.WithInitialInterval(time.Second),
//	    cozerun.WithMaxInterval(10*time.Second),
//	    cozerun.WithMaxAttempts(60),
//	    cozerun.WithBackoffMultipliers(1.5, 2),
//	)
//
// # Status Vocabularies
//
// A [Vocabulary] tells the runner where the status and run handle live and
// which values are terminal. [CozeVocabulary] reads data[0].execute_status
// (Success, Fail, Running); [GenericVocabulary] reads a top-level status
// (completed, failed, pending, running).
//
// # Architecture
//
//   - internal/poller: sequential polling loop with backoff
//   - internal/coze: HTTP client for the run and run-history endpoints
//   - internal/store: artifact persistence on an afero filesystem
//   - internal/metrics: Prometheus collectors
//   - config: YAML configuration for the cozerun command
package cozerun
