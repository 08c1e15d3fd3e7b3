package fifo

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	return NewQueue(Config{
		Name:   "test",
		Dedup:  NewMemoryDedupIndex(time.Minute),
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func receive(t *testing.T, q *Queue, max int) []Delivery {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	batch, err := q.ReceiveBatch(ctx, max)
	if err != nil {
		t.Fatalf("ReceiveBatch failed: %v", err)
	}
	return batch
}

func enqueue(t *testing.T, q *Queue, dedupID, groupID, body string) bool {
	t.Helper()
	accepted, err := q.Enqueue(context.Background(), Message{
		DedupID: dedupID,
		GroupID: groupID,
		Body:    []byte(body),
	})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	return accepted
}

func TestDuplicateDedupIDCollapses(t *testing.T) {
	q := newTestQueue(t)
	if !enqueue(t, q, "dedup-1", "subscriptions", "first") {
		t.Fatal("first submission rejected")
	}
	if enqueue(t, q, "dedup-1", "subscriptions", "first") {
		t.Fatal("duplicate submission inside window was accepted")
	}
	if enqueue(t, q, "dedup-2", "subscriptions", "second") != true {
		t.Fatal("distinct submission rejected")
	}

	batch := receive(t, q, 10)
	if len(batch) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(batch))
	}
	if string(batch[0].Body) != "first" || string(batch[1].Body) != "second" {
		t.Fatalf("delivery order wrong: %q, %q", batch[0].Body, batch[1].Body)
	}
}

func TestEnqueueRequiresDedupAndGroup(t *testing.T) {
	q := newTestQueue(t)
	if _, err := q.Enqueue(context.Background(), Message{GroupID: "g", Body: []byte("x")}); err == nil {
		t.Fatal("expected error for missing dedup id")
	}
	if _, err := q.Enqueue(context.Background(), Message{DedupID: "d", Body: []byte("x")}); err == nil {
		t.Fatal("expected error for missing group id")
	}
}

func TestGroupBlocksWhileInflight(t *testing.T) {
	q := newTestQueue(t)
	enqueue(t, q, "d1", "subscriptions", "one")
	enqueue(t, q, "d2", "subscriptions", "two")

	first := receive(t, q, 1)
	if len(first) != 1 || string(first[0].Body) != "one" {
		t.Fatalf("unexpected first batch: %+v", first)
	}

	// The group has an unacknowledged delivery; nothing else from it may
	// be handed out.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if batch, err := q.ReceiveBatch(ctx, 1); err == nil {
		t.Fatalf("expected receive to block, got %+v", batch)
	}

	first[0].Ack()
	second := receive(t, q, 1)
	if len(second) != 1 || string(second[0].Body) != "two" {
		t.Fatalf("unexpected second batch: %+v", second)
	}
}

func TestGroupsDeliverIndependently(t *testing.T) {
	q := newTestQueue(t)
	enqueue(t, q, "d1", "payments", "pay")
	enqueue(t, q, "d2", "subscriptions", "sub")

	batch := receive(t, q, 10)
	if len(batch) != 2 {
		t.Fatalf("expected deliveries from both groups, got %d", len(batch))
	}
	seen := map[string]string{}
	for _, d := range batch {
		seen[d.GroupID] = string(d.Body)
	}
	if seen["payments"] != "pay" || seen["subscriptions"] != "sub" {
		t.Fatalf("unexpected batch contents: %v", seen)
	}
}

func TestNackRedeliversThenDeadLetters(t *testing.T) {
	q := newTestQueue(t)
	enqueue(t, q, "d1", "subscriptions", "poison")

	for attempt := 1; attempt <= 3; attempt++ {
		batch := receive(t, q, 1)
		if len(batch) != 1 {
			t.Fatalf("attempt %d: expected redelivery, got %d messages", attempt, len(batch))
		}
		if batch[0].Attempts != attempt-1 {
			t.Fatalf("attempt %d: Attempts = %d", attempt, batch[0].Attempts)
		}
		batch[0].Nack()
	}

	dead := q.DeadLetters()
	if len(dead) != 1 {
		t.Fatalf("expected 1 dead-lettered message, got %d", len(dead))
	}
	if dead[0].Attempts != 3 {
		t.Fatalf("dead-lettered with Attempts = %d, want 3", dead[0].Attempts)
	}
	if q.Depth() != 0 {
		t.Fatalf("queue still has %d pending messages", q.Depth())
	}
}

func TestNackReturnsLaterDeliveriesUncharged(t *testing.T) {
	q := newTestQueue(t)
	enqueue(t, q, "d1", "subscriptions", "one")
	enqueue(t, q, "d2", "subscriptions", "two")
	enqueue(t, q, "d3", "subscriptions", "three")

	batch := receive(t, q, 10)
	if len(batch) != 3 {
		t.Fatalf("expected 3 deliveries, got %d", len(batch))
	}

	// Fail the first; the later two were in flight and must come back
	// behind it, in order, without an attempt charged.
	batch[0].Nack()

	redelivered := receive(t, q, 10)
	if len(redelivered) != 3 {
		t.Fatalf("expected full group redelivery, got %d", len(redelivered))
	}
	bodies := []string{string(redelivered[0].Body), string(redelivered[1].Body), string(redelivered[2].Body)}
	if bodies[0] != "one" || bodies[1] != "two" || bodies[2] != "three" {
		t.Fatalf("order lost on redelivery: %v", bodies)
	}
	if redelivered[0].Attempts != 1 {
		t.Fatalf("failed message Attempts = %d, want 1", redelivered[0].Attempts)
	}
	if redelivered[1].Attempts != 0 || redelivered[2].Attempts != 0 {
		t.Fatalf("later messages were charged attempts: %d, %d", redelivered[1].Attempts, redelivered[2].Attempts)
	}
}

func TestRejectDeadLettersImmediately(t *testing.T) {
	q := newTestQueue(t)
	enqueue(t, q, "d1", "subscriptions", "garbage")

	batch := receive(t, q, 1)
	batch[0].Reject("unparsable body")

	dead := q.DeadLetters()
	if len(dead) != 1 {
		t.Fatalf("expected immediate dead-letter, got %d", len(dead))
	}
	if dead[0].Attempts != 0 {
		t.Fatalf("rejected message should not be charged attempts, got %d", dead[0].Attempts)
	}
}

func TestReceiveBatchBlocksUntilEnqueue(t *testing.T) {
	q := newTestQueue(t)
	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = q.Enqueue(context.Background(), Message{DedupID: "late", GroupID: "g", Body: []byte("x")})
	}()
	batch := receive(t, q, 1)
	if len(batch) != 1 || string(batch[0].Body) != "x" {
		t.Fatalf("unexpected batch: %+v", batch)
	}
}

func TestMemoryDedupWindowExpires(t *testing.T) {
	idx := NewMemoryDedupIndex(30 * time.Millisecond)
	first, err := idx.Remember(context.Background(), "id")
	if err != nil || !first {
		t.Fatalf("first Remember = %v, %v", first, err)
	}
	again, _ := idx.Remember(context.Background(), "id")
	if again {
		t.Fatal("duplicate accepted inside window")
	}
	time.Sleep(40 * time.Millisecond)
	expired, _ := idx.Remember(context.Background(), "id")
	if !expired {
		t.Fatal("id still remembered after window expired")
	}
}
