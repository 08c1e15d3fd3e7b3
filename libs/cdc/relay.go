package cdc

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/eventfanout/libs/docstore"
	"github.com/md-rashed-zaman/eventfanout/libs/events"
	"github.com/md-rashed-zaman/eventfanout/libs/fifo"
)

// Dedup ids are v5 uuids over the canonical payload, so an identical
// mutation replayed after a relay restart hashes to the same id and is
// absorbed by the queue's dedup window.
var dedupNamespace = uuid.MustParse("9d4f2c6e-1a8b-4f30-b6d1-52c80a7de3f5")

type RelayConfig struct {
	GroupID          string
	EnqueueRetries   int
	RetryBackoff     time.Duration
	ReconnectBackoff time.Duration
}

// Relay watches a collection's change feed and converts each committed
// mutation into exactly one queue message. A failing mutation never
// stalls the feed; a failing feed reconnects.
type Relay struct {
	collection docstore.Collection
	queue      *fifo.Queue
	cfg        RelayConfig
	logger     *slog.Logger
}

func NewRelay(collection docstore.Collection, queue *fifo.Queue, cfg RelayConfig, logger *slog.Logger) *Relay {
	if cfg.EnqueueRetries <= 0 {
		cfg.EnqueueRetries = 5
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 200 * time.Millisecond
	}
	if cfg.ReconnectBackoff <= 0 {
		cfg.ReconnectBackoff = time.Second
	}
	return &Relay{
		collection: collection,
		queue:      queue,
		cfg:        cfg,
		logger:     logger.With("group_id", cfg.GroupID),
	}
}

func (r *Relay) Run(ctx context.Context) {
	for {
		feed, err := r.collection.Watch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Error("change feed open failed", "err", err)
			if !sleep(ctx, r.cfg.ReconnectBackoff) {
				return
			}
			continue
		}

		err = r.consume(ctx, feed)
		_ = feed.Close()
		if ctx.Err() != nil {
			return
		}
		// A fresh watch starts at "now": mutations committed during the
		// gap are missed. Documented limitation, surfaced loudly.
		r.logger.Warn("change feed interrupted, reconnecting; mutations during the gap may be missed", "err", err)
		if !sleep(ctx, r.cfg.ReconnectBackoff) {
			return
		}
	}
}

func (r *Relay) consume(ctx context.Context, feed docstore.Feed) error {
	for {
		m, err := feed.Next(ctx)
		if err != nil {
			return err
		}
		r.handle(ctx, m)
	}
}

func (r *Relay) handle(ctx context.Context, m docstore.Mutation) {
	if len(m.FullDocument) == 0 {
		// Pure deletes produce no event by policy.
		r.logger.Debug("mutation without document skipped", "op", string(m.Operation), "key", m.Key)
		return
	}

	canonical, err := events.CanonicalJSON(m.FullDocument)
	if err != nil {
		r.logger.Error("mutation payload not canonicalisable, skipped", "key", m.Key, "err", err)
		return
	}
	msg := fifo.Message{
		DedupID:     uuid.NewSHA1(dedupNamespace, canonical).String(),
		GroupID:     r.cfg.GroupID,
		Body:        m.FullDocument,
		Traceparent: m.Traceparent,
		Tracestate:  m.Tracestate,
	}

	backoff := r.cfg.RetryBackoff
	for attempt := 1; attempt <= r.cfg.EnqueueRetries; attempt++ {
		accepted, err := r.queue.Enqueue(ctx, msg)
		if err == nil {
			if !accepted {
				r.logger.Debug("mutation collapsed into earlier delivery", "key", m.Key, "dedup_id", msg.DedupID)
			}
			return
		}
		r.logger.Warn("queue submission failed",
			"key", m.Key,
			"attempt", attempt,
			"err", err,
		)
		if attempt < r.cfg.EnqueueRetries && !sleep(ctx, backoff) {
			break
		}
		backoff *= 2
	}
	r.logger.Error("mutation permanently lost after retries", "key", m.Key, "dedup_id", msg.DedupID)
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
