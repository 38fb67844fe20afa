package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/conductor"
	"github.com/petrijr/conductor/internal/persistence"
)

const greetingWorkflow = `
input:
  - name
tasks:
  greet:
    action: text.greet
    input:
      name: "{{ $.name }}"
    next:
      - when: "{{ succeeded() }}"
        publish:
          - greeting: "{{ result() }}"
        do: decorate
  decorate:
    action: text.decorate
    input:
      message: "{{ $.greeting }}"
    next:
      - when: "{{ succeeded() }}"
        publish:
          - message: "{{ result() }}"
output:
  message: "{{ $.message }}"
`

// cliEnv is a temp directory with a workflow file and a sqlite store.
type cliEnv struct {
	t        *testing.T
	dsn      string
	workflow string
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	dir := t.TempDir()
	wf := filepath.Join(dir, "greeting.yaml")
	require.NoError(t, os.WriteFile(wf, []byte(greetingWorkflow), 0o600))
	return &cliEnv{t: t, dsn: filepath.Join(dir, "conductor.db"), workflow: wf}
}

func (e *cliEnv) run(args ...string) (string, error) {
	e.t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--store", "sqlite", "--dsn", e.dsn}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (e *cliEnv) mustRun(args ...string) string {
	e.t.Helper()
	out, err := e.run(args...)
	require.NoError(e.t, err, "conductorctl %v", args)
	return out
}

func (e *cliEnv) decode(out string, v any) {
	e.t.Helper()
	require.NoError(e.t, json.Unmarshal([]byte(out), v), "output: %s", out)
}

func TestCLI_DrivesWorkflowToCompletion(t *testing.T) {
	env := newCLIEnv(t)

	var created summary
	env.decode(env.mustRun("init", env.workflow, "--id", "w1", "--input", "name=Ada", "-o", "json"), &created)
	assert.Equal(t, "w1", created.ID)
	assert.Equal(t, conductor.StatusRunning, created.Status)

	var next []conductor.TaskDispatch
	env.decode(env.mustRun("next", "w1", "-o", "json"), &next)
	require.Len(t, next, 1)
	assert.Equal(t, "greet", next[0].ID)
	require.Len(t, next[0].Actions, 1)
	assert.Equal(t, "text.greet", next[0].Actions[0].Action)
	assert.Equal(t, map[string]any{"name": "Ada"}, next[0].Actions[0].Input)

	env.mustRun("event", "w1", "greet", "running")
	var ev eventResult
	env.decode(env.mustRun("event", "w1", "greet", "succeeded", "--result", `"Hello, Ada"`, "-o", "json"), &ev)
	assert.Equal(t, "greet", ev.Task)
	assert.Equal(t, conductor.StatusSucceeded, ev.TaskStatus)
	assert.Equal(t, conductor.StatusRunning, ev.Workflow.Status)

	next = nil
	env.decode(env.mustRun("next", "w1", "-o", "json"), &next)
	require.Len(t, next, 1)
	assert.Equal(t, "decorate", next[0].ID)
	assert.Equal(t, map[string]any{"message": "Hello, Ada"}, next[0].Actions[0].Input)

	env.mustRun("event", "w1", "decorate", "running")
	ev = eventResult{}
	env.decode(env.mustRun("event", "w1", "decorate", "succeeded", "--result", `"HELLO, ADA!"`, "-o", "json"), &ev)
	assert.Equal(t, conductor.StatusSucceeded, ev.Workflow.Status)
	assert.Equal(t, map[string]any{"message": "HELLO, ADA!"}, ev.Workflow.Output)

	var snap conductor.Snapshot
	env.decode(env.mustRun("inspect", "w1", "-o", "json"), &snap)
	assert.Equal(t, conductor.StatusSucceeded, snap.State)

	text := env.mustRun("inspect", "w1")
	assert.Contains(t, text, "w1 succeeded")
	assert.Contains(t, text, "decorate")

	var history []conductor.HistoryEvent
	env.decode(env.mustRun("history", "w1", "-o", "json"), &history)
	assert.NotEmpty(t, history)

	var listed []conductor.SnapshotSummary
	env.decode(env.mustRun("list", "--status", "succeeded", "-o", "json"), &listed)
	require.Len(t, listed, 1)
	assert.Equal(t, "w1", listed[0].ID)

	// A finished workflow cannot be paused.
	_, err := env.run("request", "w1", "pausing")
	require.Error(t, err)

	assert.Contains(t, env.mustRun("delete", "w1"), "deleted w1")
	_, err = env.run("inspect", "w1")
	assert.True(t, errors.Is(err, persistence.ErrSnapshotNotFound), "unexpected error: %v", err)
}

func TestCLI_PauseAndResume(t *testing.T) {
	env := newCLIEnv(t)
	env.mustRun("init", env.workflow, "--id", "w2", "--input", "name=Bob")

	var s summary
	env.decode(env.mustRun("request", "w2", "pausing", "-o", "json"), &s)
	assert.Equal(t, conductor.StatusPaused, s.Status)

	var next []conductor.TaskDispatch
	env.decode(env.mustRun("next", "w2", "-o", "json"), &next)
	assert.Empty(t, next)

	s = summary{}
	env.decode(env.mustRun("request", "w2", "resuming", "-o", "json"), &s)
	assert.Contains(t, []conductor.Status{conductor.StatusResuming, conductor.StatusRunning}, s.Status)

	env.decode(env.mustRun("next", "w2", "-o", "json"), &next)
	require.Len(t, next, 1)
	assert.Equal(t, "greet", next[0].ID)
}

func TestCLI_InitWithoutStart(t *testing.T) {
	env := newCLIEnv(t)

	var s summary
	env.decode(env.mustRun("init", env.workflow, "--id", "w3", "--input", "name=Cy", "--start=false", "-o", "json"), &s)
	assert.Equal(t, conductor.StatusUnset, s.Status)

	s = summary{}
	env.decode(env.mustRun("request", "w3", "running", "-o", "json"), &s)
	assert.Equal(t, conductor.StatusRunning, s.Status)
}

func TestCLI_InitRejectsDuplicateID(t *testing.T) {
	env := newCLIEnv(t)
	env.mustRun("init", env.workflow, "--id", "dup", "--input", "name=Ada")

	_, err := env.run("init", env.workflow, "--id", "dup", "--input", "name=Ada")
	assert.True(t, errors.Is(err, errConductorExists), "unexpected error: %v", err)
}

func TestCLI_EventErrors(t *testing.T) {
	env := newCLIEnv(t)
	env.mustRun("init", env.workflow, "--id", "w4", "--input", "name=Ada")

	_, err := env.run("event", "w4", "greet", "succeeded", "--result", "{not json")
	assert.ErrorContains(t, err, "invalid --result")

	_, err = env.run("event", "w4", "greet", "bogus")
	assert.Error(t, err)

	_, err = env.run("event", "w4", "nope", "running")
	assert.Error(t, err)

	_, err = env.run("next", "missing")
	assert.True(t, errors.Is(err, persistence.ErrSnapshotNotFound), "unexpected error: %v", err)
}

func TestCLI_EventRespectsForeignLease(t *testing.T) {
	env := newCLIEnv(t)
	env.mustRun("init", env.workflow, "--id", "w5", "--input", "name=Ada")

	db, err := sql.Open("sqlite", env.dsn)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})
	store, err := persistence.NewSQLiteStore(db)
	require.NoError(t, err)
	ok, err := store.TryAcquireLease(context.Background(), "w5", "other-driver", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = env.run("event", "w5", "greet", "running")
	assert.True(t, errors.Is(err, persistence.ErrLeaseHeld), "unexpected error: %v", err)

	require.NoError(t, store.ReleaseLease(context.Background(), "w5", "other-driver"))
	env.mustRun("event", "w5", "greet", "running")
}

func TestCLI_RejectsUnknownOutputFormat(t *testing.T) {
	env := newCLIEnv(t)
	_, err := env.run("list", "-o", "xml")
	assert.ErrorContains(t, err, "unknown output format")
}

func TestParseAssignments(t *testing.T) {
	got, err := parseAssignments([]string{"name=Ada", "count=3", "ok=true", `tags=["a","b"]`, "empty="})
	require.NoError(t, err)
	assert.Equal(t, "Ada", got["name"])
	assert.EqualValues(t, 3, got["count"])
	assert.Equal(t, true, got["ok"])
	assert.Equal(t, []any{"a", "b"}, got["tags"])
	assert.Equal(t, "", got["empty"])

	_, err = parseAssignments([]string{"novalue"})
	assert.Error(t, err)
	_, err = parseAssignments([]string{"=x"})
	assert.Error(t, err)
}
