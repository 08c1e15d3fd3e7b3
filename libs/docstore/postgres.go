package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/eventfanout/libs/db"
	otelx "github.com/md-rashed-zaman/eventfanout/libs/otel"
)

// PGStore keeps documents in a JSONB table and appends every mutation
// to an ordered change log in the same transaction, so the feed sees
// exactly one record per committed mutation.
type PGStore struct {
	pool   *db.Pool
	logger *slog.Logger
}

func NewPGStore(pool *db.Pool, logger *slog.Logger) *PGStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PGStore{pool: pool, logger: logger}
}

// Setup creates the backing tables when they are absent.
func (s *PGStore) Setup(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS documents (
			collection TEXT NOT NULL,
			id TEXT NOT NULL,
			doc JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (collection, id)
		);
		CREATE TABLE IF NOT EXISTS document_changes (
			change_id BIGSERIAL PRIMARY KEY,
			collection TEXT NOT NULL,
			doc_id TEXT NOT NULL,
			op TEXT NOT NULL,
			doc JSONB,
			traceparent TEXT NOT NULL DEFAULT '',
			tracestate TEXT NOT NULL DEFAULT '',
			changed_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS document_changes_collection_idx
			ON document_changes (collection, change_id);
	`)
	return err
}

func (s *PGStore) Collection(name string) *PGCollection {
	return &PGCollection{
		store:        s,
		name:         name,
		pollInterval: 250 * time.Millisecond,
		logger:       s.logger.With("collection", name),
	}
}

type PGCollection struct {
	store        *PGStore
	name         string
	pollInterval time.Duration
	logger       *slog.Logger
}

func (c *PGCollection) Insert(ctx context.Context, id string, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document %s: %w", id, err)
	}
	return c.mutate(ctx, func(tx pgx.Tx) error {
		ct, err := tx.Exec(ctx, `
			INSERT INTO documents (collection, id, doc)
			VALUES ($1, $2, $3)
			ON CONFLICT (collection, id) DO NOTHING
		`, c.name, id, raw)
		if err != nil {
			return err
		}
		if ct.RowsAffected() == 0 {
			return fmt.Errorf("%w: %s", ErrDuplicate, id)
		}
		return c.logChange(ctx, tx, id, OpInsert, raw)
	})
}

func (c *PGCollection) Update(ctx context.Context, id string, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document %s: %w", id, err)
	}
	return c.mutate(ctx, func(tx pgx.Tx) error {
		ct, err := tx.Exec(ctx, `
			UPDATE documents
			SET doc = $3, updated_at = now()
			WHERE collection = $1 AND id = $2
		`, c.name, id, raw)
		if err != nil {
			return err
		}
		if ct.RowsAffected() == 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return c.logChange(ctx, tx, id, OpUpdate, raw)
	})
}

func (c *PGCollection) Delete(ctx context.Context, id string) error {
	return c.mutate(ctx, func(tx pgx.Tx) error {
		ct, err := tx.Exec(ctx, `
			DELETE FROM documents WHERE collection = $1 AND id = $2
		`, c.name, id)
		if err != nil {
			return err
		}
		if ct.RowsAffected() == 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return c.logChange(ctx, tx, id, OpDelete, nil)
	})
}

func (c *PGCollection) Get(ctx context.Context, id string, out any) error {
	var raw []byte
	err := c.store.pool.QueryRow(ctx, `
		SELECT doc FROM documents WHERE collection = $1 AND id = $2
	`, c.name, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (c *PGCollection) mutate(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := c.store.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (c *PGCollection) logChange(ctx context.Context, tx pgx.Tx, id string, op Operation, doc []byte) error {
	tp, ts := otelx.TraceContextStrings(ctx)
	_, err := tx.Exec(ctx, `
		INSERT INTO document_changes (collection, doc_id, op, doc, traceparent, tracestate)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, c.name, id, string(op), doc, tp, ts)
	return err
}

// Watch opens a feed starting at the current tail of the change log; no
// historical backfill. The feed remembers its position, so transient
// query failures resume where they left off.
func (c *PGCollection) Watch(ctx context.Context) (Feed, error) {
	var last int64
	err := c.store.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(change_id), 0) FROM document_changes WHERE collection = $1
	`, c.name).Scan(&last)
	if err != nil {
		return nil, fmt.Errorf("read change log position: %w", err)
	}
	return &pgFeed{c: c, last: last, closed: make(chan struct{})}, nil
}

type pgFeed struct {
	c      *PGCollection
	last   int64
	buf    []Mutation
	closed chan struct{}
}

func (f *pgFeed) Next(ctx context.Context) (Mutation, error) {
	backoff := f.c.pollInterval
	for {
		select {
		case <-f.closed:
			return Mutation{}, ErrFeedClosed
		case <-ctx.Done():
			return Mutation{}, ctx.Err()
		default:
		}

		if len(f.buf) > 0 {
			m := f.buf[0]
			f.buf = f.buf[1:]
			return m, nil
		}

		batch, err := f.fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return Mutation{}, ctx.Err()
			}
			// The position survives the failure; wait and re-poll.
			f.c.logger.Warn("change feed query failed, retrying", "err", err)
			backoff = minDuration(backoff*2, 5*time.Second)
		} else {
			f.buf = batch
			if len(batch) > 0 {
				continue
			}
			backoff = f.c.pollInterval
		}

		select {
		case <-time.After(backoff):
		case <-f.closed:
			return Mutation{}, ErrFeedClosed
		case <-ctx.Done():
			return Mutation{}, ctx.Err()
		}
	}
}

func (f *pgFeed) fetch(ctx context.Context) ([]Mutation, error) {
	rows, err := f.c.store.pool.Query(ctx, `
		SELECT change_id, doc_id, op, doc, traceparent, tracestate
		FROM document_changes
		WHERE collection = $1 AND change_id > $2
		ORDER BY change_id
		LIMIT 100
	`, f.c.name, f.last)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var (
		out  []Mutation
		last = f.last
	)
	for rows.Next() {
		var (
			changeID int64
			docID    string
			op       string
			doc      []byte
			tp, ts   string
		)
		if err := rows.Scan(&changeID, &docID, &op, &doc, &tp, &ts); err != nil {
			return nil, err
		}
		out = append(out, Mutation{Operation: Operation(op), Key: docID, FullDocument: doc, Traceparent: tp, Tracestate: ts})
		last = changeID
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	f.last = last
	return out, nil
}

func (f *pgFeed) Close() error {
	select {
	case <-f.closed:
	default:
		close(f.closed)
	}
	return nil
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
