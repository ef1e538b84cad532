// Package persist is the server-side append-only operation log: every
// accepted operation is appended to PostgreSQL and replayed into a
// fresh crdt.Engine on startup. Grounded on the teacher's server/main.go,
// which opens a pgxpool connection but never queries it — this module
// is what actually exercises that pool.
package persist

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"collabtext/crdt"
	"collabtext/internal/wire"
)

// Log is an append-only, per-document operation log backed by Postgres.
type Log struct {
	pool  *pgxpool.Pool
	docID string
}

// Open connects to databaseURL and ensures the operations table exists
// for docID.
func Open(ctx context.Context, databaseURL, docID string) (*Log, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("persist: connect: %w", err)
	}
	l := &Log{pool: pool, docID: docID}
	if err := l.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return l, nil
}

func (l *Log) ensureSchema(ctx context.Context) error {
	_, err := l.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS collabtext_operations (
			doc_id     text NOT NULL,
			seq        bigserial,
			payload    jsonb NOT NULL,
			PRIMARY KEY (doc_id, seq)
		)`)
	return err
}

// Append records op in the log.
func (l *Log) Append(ctx context.Context, op wire.Operation) error {
	payload, err := wire.Marshal(op)
	if err != nil {
		return fmt.Errorf("persist: encode: %w", err)
	}
	_, err = l.pool.Exec(ctx,
		`INSERT INTO collabtext_operations (doc_id, payload) VALUES ($1, $2)`,
		l.docID, payload)
	return err
}

// Replay applies every recorded operation, in append order, to e.
func (l *Log) Replay(ctx context.Context, e *crdt.Engine) error {
	rows, err := l.pool.Query(ctx,
		`SELECT payload FROM collabtext_operations WHERE doc_id=$1 ORDER BY seq ASC`,
		l.docID)
	if err != nil {
		return fmt.Errorf("persist: replay query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return fmt.Errorf("persist: replay scan: %w", err)
		}
		op, err := wire.Unmarshal(payload)
		if err != nil {
			return fmt.Errorf("persist: replay decode: %w", err)
		}
		if _, err := wire.Apply(e, op); err != nil {
			return fmt.Errorf("persist: replay apply: %w", err)
		}
	}
	return rows.Err()
}

// Close releases the pool.
func (l *Log) Close() { l.pool.Close() }
