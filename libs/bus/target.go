package bus

import (
	"context"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/eventfanout/libs/deadletter"
	"github.com/md-rashed-zaman/eventfanout/libs/events"
)

// Deliverer is the single capability shared by every target kind: hand
// the envelope over, report whether it was accepted. New target kinds
// implement this interface rather than special-casing call sites.
type Deliverer interface {
	Deliver(ctx context.Context, e events.Envelope) error
}

// Publisher is anything envelopes can be published onto: a local Bus or
// a transport client for another domain's bus.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, e events.Envelope) error
}

// Target binds a deliverer to its dead-letter sink. Every target has
// exactly one sink; a failed delivery is captured there verbatim.
type Target struct {
	Name       string
	Deliverer  Deliverer
	DeadLetter deadletter.Sink
}

// HandlerFunc adapts a plain function into a local-handler target.
type HandlerFunc func(ctx context.Context, e events.Envelope) error

func (f HandlerFunc) Deliver(ctx context.Context, e events.Envelope) error {
	return f(ctx, e)
}

// Relay republishes a matched envelope onto another domain's bus,
// source and detail-type unchanged. It never retries; retry policy
// belongs to the delivery mechanism invoking it.
type Relay struct {
	remote  Publisher
	timeout time.Duration
}

func NewRelay(remote Publisher, timeout time.Duration) *Relay {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Relay{remote: remote, timeout: timeout}
}

func (r *Relay) Destination() string { return r.remote.Name() }

func (r *Relay) Deliver(ctx context.Context, e events.Envelope) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.remote.Publish(ctx, e)
}

// EventLog is the log-sink target kind: it records every matched
// envelope and always accepts.
type EventLog struct {
	logger *slog.Logger
}

func NewEventLog(logger *slog.Logger) EventLog {
	return EventLog{logger: logger}
}

func (l EventLog) Deliver(_ context.Context, e events.Envelope) error {
	l.logger.Info("event observed",
		"event_id", e.ID,
		"source", e.Source,
		"detail_type", e.DetailType,
		"account", e.Account,
		"detail", string(e.Detail),
	)
	return nil
}
