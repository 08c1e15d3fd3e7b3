package fifo

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Message is one unit of ordered delivery. Messages sharing a GroupID
// are delivered in submission order; messages sharing a DedupID within
// the dedup window collapse to one delivery.
type Message struct {
	DedupID  string
	GroupID  string
	Body     []byte
	Attempts int

	// W3C trace context of the producing operation, carried so the
	// consumer span joins the originating trace.
	Traceparent string
	Tracestate  string
}

type queued struct {
	Message
	seq uint64
}

// Delivery is a received message awaiting a per-item Ack or Nack.
type Delivery struct {
	Message
	q   *Queue
	seq uint64
}

type Config struct {
	Name        string
	MaxAttempts int
	Dedup       DedupIndex
	Logger      *slog.Logger
}

// Queue is an in-process FIFO queue with SQS-style semantics: content
// deduplication over a bounded window, strict per-group ordering, batch
// receive with per-item acknowledgment, and a dead-letter queue for
// messages that exhaust their redelivery budget.
type Queue struct {
	name        string
	maxAttempts int
	dedup       DedupIndex
	logger      *slog.Logger

	mu       sync.Mutex
	seq      uint64
	pending  map[string][]*queued
	inflight map[string]map[uint64]*queued
	dead     []Message

	wake chan struct{}
}

func NewQueue(cfg Config) *Queue {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Dedup == nil {
		cfg.Dedup = NewMemoryDedupIndex(0)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Queue{
		name:        cfg.Name,
		maxAttempts: cfg.MaxAttempts,
		dedup:       cfg.Dedup,
		logger:      cfg.Logger.With("queue", cfg.Name),
		pending:     map[string][]*queued{},
		inflight:    map[string]map[uint64]*queued{},
		wake:        make(chan struct{}, 1),
	}
}

// Enqueue submits a message. The false return means an identical
// DedupID was seen within the window and the message collapsed into the
// earlier delivery; that is a logged no-op, not an error.
func (q *Queue) Enqueue(ctx context.Context, m Message) (bool, error) {
	if m.DedupID == "" || m.GroupID == "" {
		return false, fmt.Errorf("queue %s: message requires dedupId and groupId", q.name)
	}
	first, err := q.dedup.Remember(ctx, m.DedupID)
	if err != nil {
		return false, fmt.Errorf("queue %s: dedup index: %w", q.name, err)
	}
	if !first {
		q.logger.Info("duplicate suppressed", "dedup_id", m.DedupID, "group_id", m.GroupID)
		return false, nil
	}

	q.mu.Lock()
	q.seq++
	q.pending[m.GroupID] = append(q.pending[m.GroupID], &queued{Message: m, seq: q.seq})
	q.mu.Unlock()

	q.signal()
	return true, nil
}

// ReceiveBatch blocks until at least one message is deliverable, then
// returns up to max messages. Groups with an unacknowledged earlier
// message contribute nothing; within the batch each group's messages
// appear in submission order.
func (q *Queue) ReceiveBatch(ctx context.Context, max int) ([]Delivery, error) {
	if max <= 0 {
		max = 1
	}
	for {
		if batch := q.tryReceive(max); len(batch) > 0 {
			return batch, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.wake:
		}
	}
}

func (q *Queue) tryReceive(max int) []Delivery {
	q.mu.Lock()
	defer q.mu.Unlock()

	var batch []Delivery
	for _, group := range q.sortedGroups() {
		if len(batch) >= max {
			break
		}
		if len(q.inflight[group]) > 0 {
			continue
		}
		msgs := q.pending[group]
		take := len(msgs)
		if room := max - len(batch); take > room {
			take = room
		}
		for _, m := range msgs[:take] {
			if q.inflight[group] == nil {
				q.inflight[group] = map[uint64]*queued{}
			}
			q.inflight[group][m.seq] = m
			batch = append(batch, Delivery{Message: m.Message, q: q, seq: m.seq})
		}
		if take == len(msgs) {
			delete(q.pending, group)
		} else {
			q.pending[group] = msgs[take:]
		}
	}
	return batch
}

// sortedGroups keeps batch composition deterministic across calls.
func (q *Queue) sortedGroups() []string {
	groups := make([]string, 0, len(q.pending))
	for g, msgs := range q.pending {
		if len(msgs) > 0 {
			groups = append(groups, g)
		}
	}
	sort.Strings(groups)
	return groups
}

// Ack marks the delivery processed and removes it from the queue.
func (d Delivery) Ack() {
	q := d.q
	q.mu.Lock()
	defer q.mu.Unlock()
	if g, ok := q.inflight[d.GroupID]; ok {
		delete(g, d.seq)
		if len(g) == 0 {
			delete(q.inflight, d.GroupID)
		}
	}
	q.signalLocked()
}

// Nack reports a failed delivery. The message returns to the head of
// its group with an incremented attempt count, or moves to the
// dead-letter queue once the budget is spent. Any later in-flight
// messages of the same group return to pending behind it, unattempted.
func (d Delivery) Nack() {
	q := d.q
	q.mu.Lock()
	defer q.mu.Unlock()

	group := q.inflight[d.GroupID]
	m, ok := group[d.seq]
	if !ok {
		return
	}
	delete(group, d.seq)

	var requeue []*queued
	m.Attempts++
	if m.Attempts >= q.maxAttempts {
		q.dead = append(q.dead, m.Message)
		q.logger.Error("message dead-lettered",
			"dedup_id", m.DedupID,
			"group_id", m.GroupID,
			"attempts", m.Attempts,
		)
	} else {
		requeue = append(requeue, m)
	}

	// Later deliveries of this group cannot proceed ahead of the failed
	// message; pull them back without charging an attempt.
	for seq, later := range group {
		if seq > d.seq {
			requeue = append(requeue, later)
			delete(group, seq)
		}
	}
	if len(group) == 0 {
		delete(q.inflight, d.GroupID)
	}

	if len(requeue) > 0 {
		sort.Slice(requeue, func(i, j int) bool { return requeue[i].seq < requeue[j].seq })
		q.pending[d.GroupID] = append(requeue, q.pending[d.GroupID]...)
	}
	q.signalLocked()
}

// Reject dead-letters the delivery immediately, bypassing redelivery.
// Meant for messages that can never succeed, e.g. malformed payloads.
func (d Delivery) Reject(reason string) {
	q := d.q
	q.mu.Lock()
	defer q.mu.Unlock()

	group := q.inflight[d.GroupID]
	m, ok := group[d.seq]
	if !ok {
		return
	}
	delete(group, d.seq)
	if len(group) == 0 {
		delete(q.inflight, d.GroupID)
	}
	q.dead = append(q.dead, m.Message)
	q.logger.Error("message rejected",
		"dedup_id", m.DedupID,
		"group_id", m.GroupID,
		"reason", reason,
	)
	q.signalLocked()
}

// DeadLetters returns a snapshot of dead-lettered messages.
func (q *Queue) DeadLetters() []Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Message, len(q.dead))
	copy(out, q.dead)
	return out
}

// Depth reports the number of pending (not in-flight) messages.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, msgs := range q.pending {
		n += len(msgs)
	}
	return n
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// signalLocked is safe to call with q.mu held; the wake channel is
// buffered and never blocks.
func (q *Queue) signalLocked() { q.signal() }
