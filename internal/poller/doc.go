// Package poller drives the status loop for a single asynchronous workflow run.
//
// This package is internal to cozerun. Given a run handle and a query
// function, a [Poller] queries the run repeatedly until the remote system
// reports a terminal state or the attempt budget in its [Policy] runs out,
// sleeping between queries with a capped exponential backoff.
//
// The main components are:
//
//   - [Policy]: initial/maximum interval, attempt budget and the two multipliers
//   - [Poller]: the sequential polling loop
//   - [Outcome]: the terminal payload or the best known payload after exhaustion
//   - [Attempt]: per-query record handed to an optional observer
//
// Users of the cozerun library should not need to interact with this
// package directly. Configuration is done through the root cozerun package.
package poller
