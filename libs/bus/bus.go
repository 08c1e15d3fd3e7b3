package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/md-rashed-zaman/eventfanout/libs/deadletter"
	"github.com/md-rashed-zaman/eventfanout/libs/events"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RoutingError marks rule misconfiguration detected at registration or
// load time. It never reaches runtime delivery paths.
type RoutingError struct {
	Rule   string
	Reason string
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("routing error in rule %q: %s", e.Rule, e.Reason)
}

// Bus is one domain's pub/sub channel. Publish fans an envelope out to
// every rule whose pattern matches; each matched target is invoked in
// its own goroutine so a slow or failing target cannot block siblings.
type Bus struct {
	name          string
	targetTimeout time.Duration
	logger        *slog.Logger
	tracer        trace.Tracer

	mu    sync.RWMutex
	rules []Rule

	inflight sync.WaitGroup
}

// Rule fans matched envelopes out to its targets. Evaluation order
// across rules is unspecified; rules are independent.
type Rule struct {
	Name    string
	Pattern Pattern
	Targets []Target
}

func New(name string, logger *slog.Logger) *Bus {
	return &Bus{
		name:          name,
		targetTimeout: 5 * time.Second,
		logger:        logger.With("bus", name),
		tracer:        otel.Tracer("eventfanout/bus"),
	}
}

func (b *Bus) Name() string { return b.name }

// SetTargetTimeout bounds each individual target invocation.
func (b *Bus) SetTargetTimeout(d time.Duration) {
	if d > 0 {
		b.targetTimeout = d
	}
}

// RegisterRule validates the rule before accepting it. A relay target
// pointing back at this bus is rejected outright: relays preserve
// (source, detail-type), so a self-relay always re-matches its own rule.
func (b *Bus) RegisterRule(r Rule) error {
	if r.Name == "" {
		return &RoutingError{Rule: "(unnamed)", Reason: "rule name is required"}
	}
	if err := r.Pattern.Validate(); err != nil {
		return &RoutingError{Rule: r.Name, Reason: err.Error()}
	}
	if len(r.Targets) == 0 {
		return &RoutingError{Rule: r.Name, Reason: "at least one target is required"}
	}
	for _, t := range r.Targets {
		if t.Deliverer == nil {
			return &RoutingError{Rule: r.Name, Reason: fmt.Sprintf("target %q has no deliverer", t.Name)}
		}
		if t.DeadLetter == nil {
			return &RoutingError{Rule: r.Name, Reason: fmt.Sprintf("target %q has no dead-letter sink", t.Name)}
		}
		if relay, ok := t.Deliverer.(*Relay); ok && relay.Destination() == b.name {
			return &RoutingError{Rule: r.Name, Reason: "relay target forwards back onto its own bus"}
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.rules = append(b.rules, r)
	return nil
}

// Publish fans the envelope out to all matching targets and returns once
// delivery has been handed off. Target failures never propagate to the
// caller; they land in each target's dead-letter sink.
func (b *Bus) Publish(ctx context.Context, e events.Envelope) error {
	if err := e.Validate(); err != nil {
		return err
	}

	ctx, span := b.tracer.Start(ctx, "bus.publish",
		trace.WithAttributes(
			attribute.String("bus.name", b.name),
			attribute.String("event.source", e.Source),
			attribute.String("event.detail_type", e.DetailType),
		),
	)
	defer span.End()

	b.mu.RLock()
	var matched []Rule
	for _, r := range b.rules {
		if r.Pattern.Matches(e) {
			matched = append(matched, r)
		}
	}
	b.mu.RUnlock()

	span.SetAttributes(attribute.Int("bus.matched_rules", len(matched)))
	if len(matched) == 0 {
		b.logger.Debug("no rules matched", "event_id", e.ID, "detail_type", e.DetailType)
		return nil
	}

	// Deliveries detach from the caller's cancellation: an accepted
	// envelope either completes, dead-letters, or times out on its own
	// per-target deadline.
	deliverCtx := context.WithoutCancel(ctx)
	for _, rule := range matched {
		for _, target := range rule.Targets {
			b.inflight.Add(1)
			go b.deliver(deliverCtx, rule, target, e)
		}
	}
	return nil
}

func (b *Bus) deliver(ctx context.Context, rule Rule, target Target, e events.Envelope) {
	defer b.inflight.Done()

	ctx, cancel := context.WithTimeout(ctx, b.targetTimeout)
	defer cancel()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("target panicked: %v", r)
			}
		}()
		return target.Deliverer.Deliver(ctx, e)
	}()
	if err == nil {
		return
	}

	b.logger.Warn("target delivery failed",
		"rule", rule.Name,
		"target", target.Name,
		"event_id", e.ID,
		"err", err,
	)
	target.DeadLetter.Capture(ctx, deadletter.Entry{
		RuleName:   rule.Name,
		TargetName: target.Name,
		Envelope:   e,
		Reason:     err.Error(),
		FailedAt:   time.Now().UTC(),
	})
}

// Close waits for in-flight deliveries to finish, up to ctx's deadline.
func (b *Bus) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
