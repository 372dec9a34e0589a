// Package coze is the HTTP client for the Coze workflow API.
//
// This package is internal to cozerun. It performs two operations against a
// fixed base URL with bearer-token authentication: submitting a workflow run
// ([Client.StartRun]) and reading the history of an async run
// ([Client.QueryRun]). Every call returns a tagged [Result] instead of an
// error, so the caller decides how each failure is handled: start failures
// are fatal, query failures are transient.
package coze
