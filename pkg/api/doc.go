// Package api contains the vocabulary shared by the conductor, its drivers
// and its stores: statuses, events, dispatch descriptions, log entries,
// typed contract errors and observers.
//
// Most users interact with the higher-level conductor package, which
// re-exports selected types and helpers from this package.
//
// # Statuses
//
// Status values are shared by tasks and workflows. IsActive, IsCompleted,
// IsPaused and IsCanceled group them the way the state machines need.
//
// # Events
//
// Drivers report progress with ActionExecutionEvent (optionally carrying an
// item id for with-items tasks) and request workflow changes with
// WorkflowExecutionEvent. EngineOperationEvent is used by the conductor
// itself to complete pass-through tasks and to schedule retries.
//
// # Errors
//
// Contract violations are returned as typed errors (InvalidEventError,
// InvalidStatusError, InvalidTaskError, InvalidTaskFlowEntryError,
// InvalidWorkflowStatusTransitionError). Each wraps a sentinel, so callers
// can use either errors.As or errors.Is.
//
// # Observability
//
// Observer receives lifecycle callbacks. LoggingObserver writes slog
// records, BasicMetrics keeps atomic counters, TracingObserver annotates the
// active OpenTelemetry span and PrometheusObserver exports counters. Combine
// them with NewCompositeObserver.
package api
