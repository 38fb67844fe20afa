// Package worker executes the actions a conductor dispatches.
//
// A Worker pulls action requests from a task queue, looks the action up in a
// Registry, runs it and reports the outcome to a Reporter as an action
// execution event. Workers know nothing about workflow structure: ordering,
// joins, retries and with-items bookkeeping all stay with the conductor that
// produced the requests.
//
// # Outcomes
//
// The status reported for a request is:
//
//   - succeeded when the action returns a nil error; the returned value is the
//     result.
//   - failed when the action returns an error, when it panics, or when no
//     action is registered under the requested name. The result is a map with
//     an "error" key.
//   - expired when Config.ActionTimeout elapses before the action returns.
//
// Nothing is reported when the worker's own context is cancelled while an
// action runs; the request is considered abandoned by the driver.
//
// # Concurrency
//
// Several workers may share one queue and one Registry. The Reporter is
// called from every worker goroutine and must serialize access to the
// conductor itself.
package worker
