package conductor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

const greeting = `
input:
  - name
tasks:
  greet:
    action: test.echo
    input:
      message: "hello {{ $.name }}"
    next:
      - when: "{{ succeeded() }}"
        publish:
          - greeting: "{{ result() }}"
        do: shout
  shout:
    action: test.upper
    input:
      message: "{{ $.greeting }}"
    next:
      - when: "{{ succeeded() }}"
        publish:
          - shouted: "{{ result() }}"
output:
  greeting: "{{ $.greeting }}"
  shouted: "{{ $.shouted }}"
`

func message(input any) string {
	in, _ := input.(map[string]any)
	s, _ := in["message"].(string)
	return s
}

func newTestRunner(t *testing.T, cfg RunnerConfig) *LocalRunner {
	t.Helper()
	r := NewLocalRunner(cfg)
	t.Cleanup(func() {
		if err := r.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	r.MustRegister("test.echo", func(ctx context.Context, input any) (any, error) {
		return message(input), nil
	})
	r.MustRegister("test.upper", func(ctx context.Context, input any) (any, error) {
		out := []byte(message(input))
		for i, b := range out {
			if b >= 'a' && b <= 'z' {
				out[i] = b - 'a' + 'A'
			}
		}
		return string(out), nil
	})
	return r
}

func newTestConductor(t *testing.T, src, id string, input map[string]any) *Conductor {
	t.Helper()
	wf, err := Parse([]byte(src))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	c, err := New(context.Background(), Config{ID: id, Spec: wf, Input: input})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c
}

func runWithTimeout(t *testing.T, r *LocalRunner, c *Conductor) Status {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	status, err := r.Run(ctx, c)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	return status
}

func TestLocalRunner_Sequential(t *testing.T) {
	r := newTestRunner(t, RunnerConfig{Workers: 2})
	c := newTestConductor(t, greeting, "seq", map[string]any{"name": "Ada"})

	if status := runWithTimeout(t, r, c); status != StatusSucceeded {
		t.Fatalf("expected status %s, got %s (errors: %v)", StatusSucceeded, status, c.Errors())
	}
	out := c.Output()
	if out["greeting"] != "hello Ada" || out["shouted"] != "HELLO ADA" {
		t.Fatalf("unexpected output: %v", out)
	}
}

const fanOut = `
input:
  - hosts
tasks:
  ping:
    action: test.ping
    with:
      items: "{{ $.hosts }}"
      concurrency: 2
    input:
      host: "{{ item() }}"
    next:
      - when: "{{ succeeded() }}"
        publish:
          - replies: "{{ result() }}"
output:
  replies: "{{ $.replies }}"
`

func TestLocalRunner_WithItemsRespectsConcurrency(t *testing.T) {
	r := newTestRunner(t, RunnerConfig{Workers: 4})

	var (
		active, peak atomic.Int32
		mu           sync.Mutex
		seen         []string
	)
	r.MustRegister("test.ping", func(ctx context.Context, input any) (any, error) {
		n := active.Add(1)
		defer active.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)

		host, _ := input.(map[string]any)["host"].(string)
		mu.Lock()
		seen = append(seen, host)
		mu.Unlock()
		return "pong " + host, nil
	})

	hosts := []any{"a", "b", "c", "d", "e"}
	c := newTestConductor(t, fanOut, "items", map[string]any{"hosts": hosts})

	if status := runWithTimeout(t, r, c); status != StatusSucceeded {
		t.Fatalf("expected status %s, got %s (errors: %v)", StatusSucceeded, status, c.Errors())
	}
	if p := peak.Load(); p > 2 {
		t.Fatalf("concurrency limit exceeded: %d items ran at once", p)
	}

	sort.Strings(seen)
	if fmt.Sprint(seen) != "[a b c d e]" {
		t.Fatalf("unexpected items executed: %v", seen)
	}
	replies, ok := c.Output()["replies"].([]any)
	if !ok || len(replies) != len(hosts) {
		t.Fatalf("unexpected replies: %#v", c.Output()["replies"])
	}
	for i, h := range hosts {
		if replies[i] != "pong "+h.(string) {
			t.Fatalf("replies[%d] = %v, results must keep item order", i, replies[i])
		}
	}
}

func TestLocalRunner_EmptyItems(t *testing.T) {
	r := newTestRunner(t, RunnerConfig{})
	r.MustRegister("test.ping", func(ctx context.Context, input any) (any, error) {
		t.Errorf("no item should run")
		return nil, nil
	})
	c := newTestConductor(t, fanOut, "no-items", map[string]any{"hosts": []any{}})

	if status := runWithTimeout(t, r, c); status != StatusSucceeded {
		t.Fatalf("expected status %s, got %s", StatusSucceeded, status)
	}
}

const flaky = `
tasks:
  call:
    action: test.flaky
    retry:
      count: 2
    next:
      - when: "{{ succeeded() }}"
        publish:
          - answer: "{{ result() }}"
output:
  answer: "{{ $.answer }}"
`

func TestLocalRunner_RetriesFailedTask(t *testing.T) {
	r := newTestRunner(t, RunnerConfig{})
	var calls atomic.Int32
	r.MustRegister("test.flaky", func(ctx context.Context, input any) (any, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("service unavailable")
		}
		return 42, nil
	})
	c := newTestConductor(t, flaky, "flaky", nil)

	if status := runWithTimeout(t, r, c); status != StatusSucceeded {
		t.Fatalf("expected status %s, got %s (errors: %v)", StatusSucceeded, status, c.Errors())
	}
	if n := calls.Load(); n != 3 {
		t.Fatalf("expected 3 calls, got %d", n)
	}
	if got := c.Output()["answer"]; got != 42 {
		t.Fatalf("answer = %#v", got)
	}
	if n := len(c.TaskEntries("call")); n != 3 {
		t.Fatalf("expected 3 attempts recorded, got %d", n)
	}
}

func TestLocalRunner_FailingActionFailsWorkflow(t *testing.T) {
	r := newTestRunner(t, RunnerConfig{})
	r.MustRegister("test.flaky", func(ctx context.Context, input any) (any, error) {
		return nil, errors.New("boom")
	})
	c := newTestConductor(t, flaky, "always-fails", nil)

	if status := runWithTimeout(t, r, c); status != StatusFailed {
		t.Fatalf("expected status %s, got %s", StatusFailed, status)
	}
	e := c.CurrentTaskEntry("call")
	res, _ := e.Result.(map[string]any)
	if res["error"] != "boom" {
		t.Fatalf("unexpected result of last attempt: %#v", e.Result)
	}
}

func TestLocalRunner_ActionTimeoutExpiresTask(t *testing.T) {
	r := newTestRunner(t, RunnerConfig{ActionTimeout: 20 * time.Millisecond})
	r.MustRegister("test.slow", func(ctx context.Context, input any) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	src := `
tasks:
  slow:
    action: test.slow
`
	c := newTestConductor(t, src, "slow", nil)

	if status := runWithTimeout(t, r, c); status != StatusFailed {
		t.Fatalf("expected status %s, got %s", StatusFailed, status)
	}
	if s := c.CurrentTaskEntry("slow").Status; s != StatusExpired {
		t.Fatalf("task status = %s, want %s", s, StatusExpired)
	}
}

func TestLocalRunner_PauseAndResume(t *testing.T) {
	r := newTestRunner(t, RunnerConfig{Workers: 2})
	started := make(chan struct{})
	release := make(chan struct{})
	r.MustRegister("test.block", func(ctx context.Context, input any) (any, error) {
		close(started)
		<-release
		return "unblocked", nil
	})
	src := `
tasks:
  first:
    action: test.block
    next:
      - when: "{{ succeeded() }}"
        do: second
  second:
    action: test.echo
    input:
      message: done
`
	c := newTestConductor(t, src, "pause", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	exec, err := r.Start(ctx, c)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	<-started
	if err := exec.Request(ctx, StatusPausing); err != nil {
		t.Fatalf("Request(pausing) failed: %v", err)
	}
	if s := exec.Status(); s != StatusPausing {
		t.Fatalf("status = %s, want %s", s, StatusPausing)
	}
	close(release)

	status, err := exec.Wait()
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if status != StatusPaused {
		t.Fatalf("expected status %s, got %s", StatusPaused, status)
	}
	if err := exec.Request(ctx, StatusResuming); !errors.Is(err, ErrExecutionFinished) {
		t.Fatalf("expected ErrExecutionFinished, got %v", err)
	}
	if c.CurrentTaskEntry("second") != nil {
		t.Fatalf("second must not run while paused")
	}

	// Starting a paused conductor resumes it.
	if status := runWithTimeout(t, r, c); status != StatusSucceeded {
		t.Fatalf("expected status %s after resume, got %s (errors: %v)", StatusSucceeded, status, c.Errors())
	}
	if e := c.CurrentTaskEntry("second"); e == nil || e.Result != "done" {
		t.Fatalf("second did not run after resume: %+v", e)
	}
}

func TestLocalRunner_StartTwiceFails(t *testing.T) {
	r := newTestRunner(t, RunnerConfig{})
	release := make(chan struct{})
	r.MustRegister("test.block", func(ctx context.Context, input any) (any, error) {
		<-release
		return nil, nil
	})
	src := `
tasks:
  wait:
    action: test.block
`
	c := newTestConductor(t, src, "twice", nil)
	ctx := context.Background()

	exec, err := r.Start(ctx, c)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := r.Start(ctx, c); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	close(release)
	if status, err := exec.Wait(); err != nil || status != StatusSucceeded {
		t.Fatalf("Wait = %s, %v", status, err)
	}
}

func TestLocalRunner_ContextCancelAbandonsRun(t *testing.T) {
	r := newTestRunner(t, RunnerConfig{})
	r.MustRegister("test.block", func(ctx context.Context, input any) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	src := `
tasks:
  wait:
    action: test.block
`
	c := newTestConductor(t, src, "cancel", nil)
	ctx, cancel := context.WithCancel(context.Background())

	exec, err := r.Start(ctx, c)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	cancel()

	status, err := exec.Wait()
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if status != StatusRunning {
		t.Fatalf("status = %s, want %s", status, StatusRunning)
	}
}

func TestLocalRunner_ClosedRunnerRejectsStart(t *testing.T) {
	r := NewLocalRunner(RunnerConfig{})
	if err := r.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	c := newTestConductor(t, greeting, "closed", map[string]any{"name": "Ada"})
	if _, err := r.Start(context.Background(), c); !errors.Is(err, ErrRunnerClosed) {
		t.Fatalf("expected ErrRunnerClosed, got %v", err)
	}
}

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

func TestLocalRunner_SQLiteStoreAndQueue(t *testing.T) {
	db := openSQLite(t)
	store, err := NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	queue, err := NewSQLiteQueue(db)
	if err != nil {
		t.Fatalf("NewSQLiteQueue failed: %v", err)
	}

	r := newTestRunner(t, RunnerConfig{Workers: 2, Queue: queue, Store: store, Owner: "runner-1"})
	c := newTestConductor(t, greeting, "persisted", map[string]any{"name": "Grace"})

	if status := runWithTimeout(t, r, c); status != StatusSucceeded {
		t.Fatalf("expected status %s, got %s (errors: %v)", StatusSucceeded, status, c.Errors())
	}

	ctx := context.Background()
	restored, err := Resume(ctx, store, "persisted", Config{})
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if restored.WorkflowStatus() != StatusSucceeded {
		t.Fatalf("stored status = %s", restored.WorkflowStatus())
	}
	if got := restored.Output()["shouted"]; got != "HELLO GRACE" {
		t.Fatalf("stored output = %v", restored.Output())
	}

	ok, err := store.TryAcquireLease(ctx, "persisted", "runner-2", time.Minute)
	if err != nil || !ok {
		t.Fatalf("lease should be released after the run: ok=%v err=%v", ok, err)
	}
}

func TestLocalRunner_LeaseHeldByOtherOwner(t *testing.T) {
	store := NewInMemoryStore()
	c := newTestConductor(t, greeting, "leased", map[string]any{"name": "Ada"})
	ctx := context.Background()

	if err := store.Save(ctx, c.Serialize()); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if ok, err := store.TryAcquireLease(ctx, "leased", "someone-else", time.Minute); err != nil || !ok {
		t.Fatalf("TryAcquireLease: ok=%v err=%v", ok, err)
	}

	r := newTestRunner(t, RunnerConfig{Store: store})
	if _, err := r.Start(ctx, c); !errors.Is(err, ErrLeaseHeld) {
		t.Fatalf("expected ErrLeaseHeld, got %v", err)
	}
	if s := c.WorkflowStatus(); s != StatusUnset {
		t.Fatalf("conductor must stay untouched, got %s", s)
	}
}
