package persistence

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/suite"
	_ "modernc.org/sqlite"

	"github.com/petrijr/conductor/pkg/api"
)

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

func TestSQLiteStoreSuite(t *testing.T) {
	ts := &StoreSuite{}
	ts.newStore = func() Store {
		store, err := NewSQLiteStore(openSQLite(ts.T()))
		if err != nil {
			ts.T().Fatalf("NewSQLiteStore failed: %v", err)
		}
		return store
	}
	suite.Run(t, ts)
}

func TestSQLiteStore_SchemaIsIdempotent(t *testing.T) {
	db := openSQLite(t)
	first, err := NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	if err := first.Save(context.Background(), newSnapshot(t, "wf-1", api.StatusPaused)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	second, err := NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("second NewSQLiteStore failed: %v", err)
	}
	got, err := second.Load(context.Background(), "wf-1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.State != api.StatusPaused {
		t.Fatalf("state = %q, want paused", got.State)
	}
}

func TestSQLiteEventStore_AppendAndList(t *testing.T) {
	store, err := NewSQLiteEventStore(openSQLite(t))
	if err != nil {
		t.Fatalf("NewSQLiteEventStore failed: %v", err)
	}
	ctx := context.Background()

	events := []api.HistoryEvent{
		{ConductorID: "wf-1", Type: api.HistoryWorkflowStatus, Status: api.StatusRunning},
		{ConductorID: "wf-2", Type: api.HistoryWorkflowStatus, Status: api.StatusRunning},
		{ConductorID: "wf-1", Type: api.HistoryTaskStatus, TaskID: "task1", Status: api.StatusSucceeded, Detail: "from=running"},
	}
	for _, ev := range events {
		if err := store.AppendEvent(ctx, ev); err != nil {
			t.Fatalf("AppendEvent failed: %v", err)
		}
	}

	got, err := store.ListEvents(ctx, "wf-1")
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[1].TaskID != "task1" || got[1].Status != api.StatusSucceeded || got[1].Detail != "from=running" {
		t.Fatalf("unexpected second event: %+v", got[1])
	}
	if got[0].At.IsZero() {
		t.Fatal("expected append to stamp a time")
	}
}
