package deadletter

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/md-rashed-zaman/eventfanout/libs/events"
)

// Entry is a failed delivery captured verbatim for operator inspection.
// Sinks are terminal: nothing here retries or replays automatically.
type Entry struct {
	RuleName   string          `json:"rule_name"`
	TargetName string          `json:"target_name"`
	Envelope   events.Envelope `json:"envelope"`
	Reason     string          `json:"reason"`
	FailedAt   time.Time       `json:"failed_at"`
}

type Sink interface {
	Capture(ctx context.Context, entry Entry)
}

// Store is a bounded in-memory sink. Once full, the oldest entries are
// dropped so a long-running failure cannot exhaust memory.
type Store struct {
	name     string
	capacity int

	mu      sync.Mutex
	entries []Entry
	dropped int
}

func NewStore(name string, capacity int) *Store {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Store{name: name, capacity: capacity}
}

func (s *Store) Name() string { return s.name }

func (s *Store) Capture(_ context.Context, entry Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) >= s.capacity {
		s.entries = s.entries[1:]
		s.dropped++
	}
	s.entries = append(s.entries, entry)
}

func (s *Store) List() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// LogSink wraps another sink and logs every capture.
type LogSink struct {
	next   Sink
	logger *slog.Logger
}

func NewLogSink(next Sink, logger *slog.Logger) *LogSink {
	return &LogSink{next: next, logger: logger}
}

func (l *LogSink) Capture(ctx context.Context, entry Entry) {
	l.logger.Error("delivery dead-lettered",
		"rule", entry.RuleName,
		"target", entry.TargetName,
		"event_id", entry.Envelope.ID,
		"detail_type", entry.Envelope.DetailType,
		"reason", entry.Reason,
	)
	if l.next != nil {
		l.next.Capture(ctx, entry)
	}
}
