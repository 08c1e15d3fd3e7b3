package kafkax

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/eventfanout/libs/events"
	"github.com/segmentio/kafka-go"
)

// TopicForBus names the topic carrying a domain bus's inbound envelopes.
func TopicForBus(busName string) string { return "bus." + busName }

// BusWriter is the transport side of a cross-domain relay: it publishes
// envelopes onto the topic feeding another domain's bus.
type BusWriter struct {
	name   string
	writer *kafka.Writer
}

func NewBusWriter(brokers string, busName string) *BusWriter {
	return &BusWriter{
		name: busName,
		writer: kafka.NewWriter(kafka.WriterConfig{
			Brokers:  SplitBrokers(brokers),
			Topic:    TopicForBus(busName),
			Balancer: &kafka.Hash{},
		}),
	}
}

func (w *BusWriter) Name() string { return w.name }

func (w *BusWriter) Publish(ctx context.Context, e events.Envelope) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	key := e.Account
	if key == "" {
		key = e.Source
	}
	msg := kafka.Message{
		Key:   []byte(key),
		Value: raw,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(e.ID)},
			{Key: "event_type", Value: []byte(e.DetailType)},
		},
	}
	msg.Headers = InjectTraceHeaders(ctx, msg.Headers)
	return w.writer.WriteMessages(ctx, msg)
}

func (w *BusWriter) Close() error { return w.writer.Close() }

// ArchiveWriter is a log-sink style target that appends every matched
// envelope to a retention topic for operator replay.
type ArchiveWriter struct {
	writer *kafka.Writer
}

func NewArchiveWriter(brokers string, topic string) *ArchiveWriter {
	return &ArchiveWriter{
		writer: kafka.NewWriter(kafka.WriterConfig{
			Brokers:  SplitBrokers(brokers),
			Topic:    topic,
			Balancer: &kafka.Hash{},
		}),
	}
}

func (a *ArchiveWriter) Deliver(ctx context.Context, e events.Envelope) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(e.Source),
		Value: raw,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(e.ID)},
			{Key: "event_type", Value: []byte(e.DetailType)},
		},
	}
	msg.Headers = InjectTraceHeaders(ctx, msg.Headers)
	return a.writer.WriteMessages(ctx, msg)
}

func (a *ArchiveWriter) Close() error { return a.writer.Close() }

// BusReader feeds a local bus from its transport topic: envelopes
// relayed by other domains arrive here.
type BusReader struct {
	reader *kafka.Reader
	logger *slog.Logger
}

func NewBusReader(brokers string, busName string, groupID string, logger *slog.Logger) *BusReader {
	return &BusReader{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  SplitBrokers(brokers),
			GroupID:  groupID,
			Topic:    TopicForBus(busName),
			MinBytes: 1,
			MaxBytes: 10e6,
		}),
		logger: logger,
	}
}

func (r *BusReader) Run(ctx context.Context, publish func(context.Context, events.Envelope) error) {
	defer r.reader.Close()

	for {
		msg, err := r.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Error("kafka read error", "err", err)
			time.Sleep(1 * time.Second)
			continue
		}

		ctxMsg := ExtractTraceContext(ctx, msg)

		var env events.Envelope
		if err := json.Unmarshal(msg.Value, &env); err != nil {
			meta := ExtractEventMeta(msg)
			r.logger.Error("malformed envelope dropped", "err", err, "event_id", meta.EventID, "event_type", meta.EventType)
			continue
		}
		if err := publish(ctxMsg, env); err != nil {
			r.logger.Error("local publish failed", "err", err, "event_id", env.ID)
		}
	}
}
