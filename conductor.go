package conductor

import (
	"context"
	"database/sql"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/petrijr/conductor/internal/engine"
	"github.com/petrijr/conductor/internal/persistence"
	"github.com/petrijr/conductor/internal/spec"
	"github.com/petrijr/conductor/pkg/api"
)

// Re-export key types so users don't need to dig into internal packages.

type (
	Conductor = engine.Conductor
	Config    = engine.Config
	Snapshot  = engine.Snapshot
	Workflow  = spec.Workflow

	Status                 = api.Status
	TaskDispatch           = api.TaskDispatch
	ActionRequest          = api.ActionRequest
	ActionExecutionEvent   = api.ActionExecutionEvent
	WorkflowExecutionEvent = api.WorkflowExecutionEvent
	LogEntry               = api.LogEntry
	HistoryEvent           = api.HistoryEvent

	Observer             = api.Observer
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	CompositeObserver    = api.CompositeObserver
	NoopObserver         = api.NoopObserver
	TracingObserver      = api.TracingObserver
	PrometheusObserver   = api.PrometheusObserver

	Store           = persistence.Store
	StoreFilter     = persistence.Filter
	SnapshotSummary = persistence.Summary
	EventStore      = persistence.EventStore
	HistoryObserver = persistence.HistoryObserver
)

// Re-export common helpers.

var (
	NewLoggingObserver    = api.NewLoggingObserver
	NewCompositeObserver  = api.NewCompositeObserver
	NewTracingObserver    = api.NewTracingObserver
	NewPrometheusObserver = api.NewPrometheusObserver

	NewActionExecutionEvent     = api.NewActionExecutionEvent
	NewItemActionExecutionEvent = api.NewItemActionExecutionEvent

	NewInMemoryStore      = persistence.NewInMemoryStore
	NewInMemoryEventStore = persistence.NewInMemoryEventStore
	NewHistoryObserver    = persistence.NewHistoryObserver

	// ErrSnapshotNotFound is returned by stores and Resume for unknown ids.
	ErrSnapshotNotFound = persistence.ErrSnapshotNotFound
	// ErrLeaseHeld is returned when another driver owns a conductor.
	ErrLeaseHeld = persistence.ErrLeaseHeld
	// ErrInvalidSpec is wrapped by every workflow validation failure.
	ErrInvalidSpec = spec.ErrInvalidSpec
	// ErrInvalidSnapshot is returned for snapshots that cannot be restored.
	ErrInvalidSnapshot = engine.ErrInvalidSnapshot
)

// Re-export status values for convenience.

const (
	StatusUnset     = api.StatusUnset
	StatusRequested = api.StatusRequested
	StatusScheduled = api.StatusScheduled
	StatusDelayed   = api.StatusDelayed
	StatusRunning   = api.StatusRunning
	StatusPending   = api.StatusPending
	StatusPausing   = api.StatusPausing
	StatusPaused    = api.StatusPaused
	StatusResuming  = api.StatusResuming
	StatusCanceling = api.StatusCanceling
	StatusCanceled  = api.StatusCanceled
	StatusSucceeded = api.StatusSucceeded
	StatusFailed    = api.StatusFailed
	StatusExpired   = api.StatusExpired
	StatusAbandoned = api.StatusAbandoned
	StatusRetrying  = api.StatusRetrying
)

// Workflow definitions

// Load reads and validates a workflow file.
func Load(path string) (*Workflow, error) {
	return spec.Load(path)
}

// Parse decodes and validates a YAML or JSON workflow definition.
func Parse(raw []byte) (*Workflow, error) {
	return spec.Parse(raw)
}

// Conductor constructors
// These wrap the internal/engine package so external callers
// never need to import internal packages.

// New creates a conductor for cfg.Spec. The workflow stays unset until
// RequestWorkflowStatus(StatusRunning) is called (LocalRunner does that).
func New(ctx context.Context, cfg Config) (*Conductor, error) {
	return engine.New(ctx, cfg)
}

// FromSnapshot restores a conductor from snap. Evaluator, observer and logger
// come from cfg.
func FromSnapshot(cfg Config, snap *Snapshot) (*Conductor, error) {
	return engine.FromSnapshot(cfg, snap)
}

// Resume loads the snapshot stored under id and restores it.
func Resume(ctx context.Context, store Store, id string, cfg Config) (*Conductor, error) {
	snap, err := store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	return engine.FromSnapshot(cfg, snap)
}

// Store constructors

// NewSQLiteStore returns a Store that keeps snapshots in a SQLite database.
func NewSQLiteStore(db *sql.DB) (Store, error) {
	s, err := persistence.NewSQLiteStore(db)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// NewSQLiteEventStore returns an EventStore that keeps history in SQLite.
func NewSQLiteEventStore(db *sql.DB) (EventStore, error) {
	s, err := persistence.NewSQLiteEventStore(db)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// NewPostgresStore returns a Store backed by PostgreSQL.
func NewPostgresStore(db *sql.DB) (Store, error) {
	s, err := persistence.NewPostgresStore(db)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// NewRedisStore returns a Store backed by Redis. An empty prefix defaults to
// "conductor:".
func NewRedisStore(client *redis.Client, prefix string) Store {
	return persistence.NewRedisStore(client, prefix)
}

// NewMongoStore returns a Store backed by a MongoDB collection.
func NewMongoStore(client *mongo.Client, dbName, collName string) Store {
	return persistence.NewMongoStore(client, dbName, collName)
}
