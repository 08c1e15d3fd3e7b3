package cdc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/eventfanout/libs/bus"
	"github.com/md-rashed-zaman/eventfanout/libs/events"
	"github.com/md-rashed-zaman/eventfanout/libs/fifo"
	otelx "github.com/md-rashed-zaman/eventfanout/libs/otel"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type ConsumerConfig struct {
	Source    string
	BatchSize int
}

// Consumer drains the ordered queue in batches and republishes each
// body as a domain event on the originating bus. It acknowledges per
// message; it mutates no business state itself.
type Consumer struct {
	queue  *fifo.Queue
	bus    bus.Publisher
	cfg    ConsumerConfig
	logger *slog.Logger
	tracer trace.Tracer
}

func NewConsumer(queue *fifo.Queue, publisher bus.Publisher, cfg ConsumerConfig, logger *slog.Logger) *Consumer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	return &Consumer{
		queue:  queue,
		bus:    publisher,
		cfg:    cfg,
		logger: logger.With("source", cfg.Source),
		tracer: otel.Tracer("eventfanout/cdc"),
	}
}

func (c *Consumer) Run(ctx context.Context) {
	for {
		batch, err := c.queue.ReceiveBatch(ctx, c.cfg.BatchSize)
		if err != nil {
			return
		}
		c.processBatch(ctx, batch)
	}
}

// processBatch reports success per message. When a message fails, the
// rest of its group in this batch is skipped untouched: Nack already
// returned those deliveries to the queue behind the failed one.
func (c *Consumer) processBatch(ctx context.Context, batch []fifo.Delivery) {
	failedGroups := map[string]bool{}
	for _, d := range batch {
		if failedGroups[d.GroupID] {
			continue
		}

		// Resume the trace of the operation that produced the message.
		msgCtx := otelx.ContextWithTraceContext(ctx, d.Traceparent, d.Tracestate)
		ctxSpan, span := c.tracer.Start(msgCtx, "queue.consume",
			trace.WithAttributes(
				attribute.String("messaging.group_id", d.GroupID),
				attribute.String("messaging.dedup_id", d.DedupID),
			),
		)

		env, err := c.toEnvelope(d.Body)
		if err != nil {
			// A body that cannot become a valid envelope never will;
			// retrying is pointless.
			span.RecordError(err)
			span.End()
			d.Reject(err.Error())
			continue
		}

		if err := c.bus.Publish(ctxSpan, env); err != nil {
			c.logger.Warn("bus publish failed", "event_id", env.ID, "err", err)
			span.RecordError(err)
			span.End()
			d.Nack()
			failedGroups[d.GroupID] = true
			continue
		}
		span.End()
		d.Ack()
	}
}

func (c *Consumer) toEnvelope(body []byte) (events.Envelope, error) {
	var parsed struct {
		Event         string `json:"event"`
		AccountNumber string `json:"accountNumber"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return events.Envelope{}, fmt.Errorf("parse message body: %w", err)
	}
	if parsed.Event == "" {
		return events.Envelope{}, fmt.Errorf("%w: body has no event field", events.ErrInvalidEnvelope)
	}
	return events.Envelope{
		ID:         uuid.NewString(),
		Source:     c.cfg.Source,
		DetailType: parsed.Event,
		Detail:     body,
		Account:    parsed.AccountNumber,
		Time:       time.Now().UTC(),
	}, nil
}
