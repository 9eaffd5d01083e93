package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/jinaga/factengine/pkg/fact"
)

// SQLiteQueue is a durable Queue surviving process restart, grounded on
// the teacher's SQLiteReceiptStore: a single table, migrated on
// construction, with the envelope's canonical fields serialized as JSON
// the way the teacher serializes Effect/DecisionRecord payloads.
type SQLiteQueue struct {
	db *sql.DB
}

func NewSQLiteQueue(db *sql.DB) (*SQLiteQueue, error) {
	q := &SQLiteQueue{db: db}
	if err := q.migrate(context.Background()); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *SQLiteQueue) migrate(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS outbound_queue (
			fact_type TEXT NOT NULL,
			fact_hash TEXT NOT NULL,
			envelope_json TEXT NOT NULL,
			sequence INTEGER PRIMARY KEY AUTOINCREMENT,
			UNIQUE(fact_type, fact_hash)
		)
	`)
	return err
}

func (q *SQLiteQueue) Enqueue(ctx context.Context, envelopes []fact.Envelope) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("queue: begin enqueue: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, env := range envelopes {
		data, err := json.Marshal(env)
		if err != nil {
			return fmt.Errorf("queue: marshal envelope: %w", err)
		}
		ref := env.Fact.Reference()
		_, err = tx.ExecContext(ctx,
			`INSERT INTO outbound_queue (fact_type, fact_hash, envelope_json) VALUES (?, ?, ?)
			 ON CONFLICT(fact_type, fact_hash) DO NOTHING`,
			ref.Type, ref.Hash, string(data))
		if err != nil {
			return fmt.Errorf("queue: insert envelope: %w", err)
		}
	}
	return tx.Commit()
}

func (q *SQLiteQueue) Peek(ctx context.Context) ([]fact.Envelope, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT envelope_json FROM outbound_queue ORDER BY sequence ASC`)
	if err != nil {
		return nil, fmt.Errorf("queue: peek: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []fact.Envelope
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("queue: scan envelope: %w", err)
		}
		var env fact.Envelope
		if err := json.Unmarshal([]byte(data), &env); err != nil {
			return nil, fmt.Errorf("queue: corrupt envelope json: %w", err)
		}
		out = append(out, env)
	}
	return out, rows.Err()
}

func (q *SQLiteQueue) Dequeue(ctx context.Context, refs []fact.Reference) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("queue: begin dequeue: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, ref := range refs {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM outbound_queue WHERE fact_type = ? AND fact_hash = ?`,
			ref.Type, ref.Hash); err != nil {
			return fmt.Errorf("queue: delete envelope: %w", err)
		}
	}
	return tx.Commit()
}
