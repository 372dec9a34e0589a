// Package store persists execution artifacts for cozerun.
//
// This package is internal to cozerun. Each execution produces one JSON
// document holding the request that was sent and the raw response that came
// back, so a human can inspect the remote API's answer (including error
// details) after the fact.
//
// The main types are:
//
//   - [Store]: interface for saving an [Artifact]
//   - [FileStore]: writes artifacts as files on an afero filesystem
//
// File names are built from the execution mode, a timestamp and the run
// handle, each passed through [Sanitize].
package store
