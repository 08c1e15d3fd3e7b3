package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	otelx "github.com/md-rashed-zaman/eventfanout/libs/otel"
)

// MemoryCollection is the in-process engine, used by tests and local
// runs. Feeds are explicitly registered bounded channels; a consumer
// that falls behind loses mutations with a logged warning instead of
// blocking writers.
type MemoryCollection struct {
	name   string
	logger *slog.Logger

	mu    sync.Mutex
	docs  map[string]json.RawMessage
	feeds map[*memoryFeed]struct{}
}

func NewMemoryCollection(name string, logger *slog.Logger) *MemoryCollection {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryCollection{
		name:   name,
		logger: logger.With("collection", name),
		docs:   map[string]json.RawMessage{},
		feeds:  map[*memoryFeed]struct{}{},
	}
}

func (c *MemoryCollection) Insert(ctx context.Context, id string, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document %s: %w", id, err)
	}
	tp, ts := otelx.TraceContextStrings(ctx)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.docs[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, id)
	}
	c.docs[id] = raw
	c.notifyLocked(Mutation{Operation: OpInsert, Key: id, FullDocument: raw, Traceparent: tp, Tracestate: ts})
	return nil
}

func (c *MemoryCollection) Update(ctx context.Context, id string, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document %s: %w", id, err)
	}
	tp, ts := otelx.TraceContextStrings(ctx)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.docs[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	c.docs[id] = raw
	c.notifyLocked(Mutation{Operation: OpUpdate, Key: id, FullDocument: raw, Traceparent: tp, Tracestate: ts})
	return nil
}

func (c *MemoryCollection) Delete(ctx context.Context, id string) error {
	tp, ts := otelx.TraceContextStrings(ctx)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.docs[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(c.docs, id)
	c.notifyLocked(Mutation{Operation: OpDelete, Key: id, Traceparent: tp, Tracestate: ts})
	return nil
}

func (c *MemoryCollection) Get(_ context.Context, id string, out any) error {
	c.mu.Lock()
	raw, ok := c.docs[id]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return json.Unmarshal(raw, out)
}

func (c *MemoryCollection) Watch(_ context.Context) (Feed, error) {
	f := &memoryFeed{c: c, ch: make(chan Mutation, 64), closed: make(chan struct{})}
	c.mu.Lock()
	c.feeds[f] = struct{}{}
	c.mu.Unlock()
	return f, nil
}

func (c *MemoryCollection) notifyLocked(m Mutation) {
	for f := range c.feeds {
		select {
		case f.ch <- m:
		default:
			c.logger.Warn("change feed consumer behind, mutation dropped", "key", m.Key)
		}
	}
}

type memoryFeed struct {
	c  *MemoryCollection
	ch chan Mutation

	closeOnce sync.Once
	closed    chan struct{}
}

func (f *memoryFeed) Next(ctx context.Context) (Mutation, error) {
	select {
	case m := <-f.ch:
		return m, nil
	case <-f.closed:
		return Mutation{}, ErrFeedClosed
	case <-ctx.Done():
		return Mutation{}, ctx.Err()
	}
}

func (f *memoryFeed) Close() error {
	f.c.mu.Lock()
	delete(f.c.feeds, f)
	f.c.mu.Unlock()
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}
