package docstore

import (
	"context"
	"encoding/json"
	"errors"
)

// Operation tags a committed mutation.
type Operation string

const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Mutation is one committed change observed on a collection's feed.
// FullDocument is the post-image; pure deletes carry none. Traceparent
// and Tracestate hold the W3C trace context of the writing operation,
// so downstream work can join the trace that caused the mutation.
type Mutation struct {
	Operation    Operation
	Key          string
	FullDocument json.RawMessage
	Traceparent  string
	Tracestate   string
}

var (
	ErrNotFound   = errors.New("document not found")
	ErrDuplicate  = errors.New("document already exists")
	ErrFeedClosed = errors.New("change feed closed")
)

// Collection is the minimal read/write/watch contract domains use. The
// engine behind it owns durability and feed retention.
type Collection interface {
	Insert(ctx context.Context, id string, doc any) error
	Update(ctx context.Context, id string, doc any) error
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string, out any) error
	Watch(ctx context.Context) (Feed, error)
}

// Feed is an ordered stream of mutations starting at the moment Watch
// was called. Next blocks until a mutation arrives or ctx ends.
type Feed interface {
	Next(ctx context.Context) (Mutation, error)
	Close() error
}
