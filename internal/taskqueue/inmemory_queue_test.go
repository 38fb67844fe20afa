package taskqueue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestInMemoryQueue_EnqueueDequeueOrder(t *testing.T) {
	q := NewInMemoryQueue()
	ctx := context.Background()

	for _, id := range []string{"1", "2", "3"} {
		if err := q.Enqueue(ctx, Task{ID: id, ConductorID: "wf", TaskID: "t" + id, Action: "core.echo"}); err != nil {
			t.Fatalf("Enqueue %s failed: %v", id, err)
		}
	}
	if q.Len() != 3 {
		t.Fatalf("expected Len 3, got %d", q.Len())
	}

	for _, want := range []string{"1", "2", "3"} {
		got, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("Dequeue failed: %v", err)
		}
		if got.ID != want {
			t.Fatalf("unexpected dequeue order: got %q, want %q", got.ID, want)
		}
		if got.EnqueuedAt.IsZero() {
			t.Fatal("expected EnqueuedAt to be stamped")
		}
	}
	if q.Len() != 0 {
		t.Fatalf("expected Len 0 after dequeues, got %d", q.Len())
	}
}

func TestInMemoryQueue_DequeueHonorsContextCancellation(t *testing.T) {
	q := NewInMemoryQueue()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	// No tasks enqueued, Dequeue should return ctx error.
	_, err := q.Dequeue(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestInMemoryQueue_NotBeforeDelaysDelivery(t *testing.T) {
	q := NewInMemoryQueue()
	ctx := context.Background()

	start := time.Now()
	if err := q.Enqueue(ctx, Task{ID: "later", NotBefore: start.Add(60 * time.Millisecond)}); err != nil {
		t.Fatalf("Enqueue later failed: %v", err)
	}
	if err := q.Enqueue(ctx, Task{ID: "now"}); err != nil {
		t.Fatalf("Enqueue now failed: %v", err)
	}

	first, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if first.ID != "now" {
		t.Fatalf("expected the due task first, got %q", first.ID)
	}

	second, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if second.ID != "later" {
		t.Fatalf("expected delayed task, got %q", second.ID)
	}
	if elapsed := time.Since(start); elapsed < 60*time.Millisecond {
		t.Fatalf("delayed task delivered after %v", elapsed)
	}
}

func TestInMemoryQueue_WakesBlockedConsumers(t *testing.T) {
	q := NewInMemoryQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	const consumers = 4
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		got = map[string]bool{}
	)
	for i := 0; i < consumers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			task, err := q.Dequeue(ctx)
			if err != nil {
				return
			}
			mu.Lock()
			got[task.ID] = true
			mu.Unlock()
		}()
	}

	// Give the consumers a moment to block.
	time.Sleep(20 * time.Millisecond)
	for _, id := range []string{"a", "b", "c", "d"} {
		if err := q.Enqueue(ctx, Task{ID: id}); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}
	wg.Wait()

	if len(got) != consumers {
		t.Fatalf("expected every consumer to receive a task, got %v", got)
	}
}

func TestTaskCodec_RoundTrip(t *testing.T) {
	item := 2
	in := Task{
		ID:          "x",
		ConductorID: "wf-1",
		TaskID:      "ping",
		Action:      "net.ping",
		Input:       map[string]any{"host": "a"},
		ItemID:      &item,
		NotBefore:   time.Unix(100, 0),
	}
	data, err := EncodeTask(in)
	if err != nil {
		t.Fatalf("EncodeTask: %v", err)
	}
	out, err := DecodeTask(data)
	if err != nil {
		t.Fatalf("DecodeTask: %v", err)
	}
	if out.TaskID != "ping" || out.ItemID == nil || *out.ItemID != 2 || !out.NotBefore.Equal(in.NotBefore) {
		t.Fatalf("unexpected task: %+v", out)
	}
	if m, ok := out.Input.(map[string]any); !ok || m["host"] != "a" {
		t.Fatalf("unexpected input: %#v", out.Input)
	}
}
