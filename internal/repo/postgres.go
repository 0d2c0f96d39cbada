package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/riskcast/omen/internal/domain"
)

// Postgres is the durable repository. Save is an upsert keyed on
// signal_id; the id is deterministic, so replaying the same event is
// a no-op at the storage layer.
type Postgres struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewPostgres creates a Postgres-backed repository.
func NewPostgres(db *sqlx.DB, timeout time.Duration) *Postgres {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Postgres{db: db, timeout: timeout}
}

// Schema returns the DDL the repository expects. Ran by migration
// tooling, kept here so the contract lives next to the queries.
func Schema() string {
	return `
CREATE TABLE IF NOT EXISTS signals (
    signal_id        TEXT PRIMARY KEY,
    input_event_hash TEXT NOT NULL,
    trace_id         TEXT NOT NULL,
    generated_at     TIMESTAMPTZ NOT NULL,
    emitted_at       TIMESTAMPTZ,
    probability      DOUBLE PRECISION NOT NULL,
    confidence_level TEXT NOT NULL,
    payload          JSONB NOT NULL,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS signals_event_hash_idx ON signals (input_event_hash);
CREATE INDEX IF NOT EXISTS signals_generated_at_idx ON signals (generated_at DESC);`
}

// Save upserts the signal under both indices.
func (r *Postgres) Save(ctx context.Context, signal domain.Signal) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	payload, err := json.Marshal(signal)
	if err != nil {
		return fmt.Errorf("failed to marshal signal: %w", err)
	}

	query := `
		INSERT INTO signals (signal_id, input_event_hash, trace_id, generated_at, emitted_at,
		                     probability, confidence_level, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (signal_id) DO UPDATE SET
		    emitted_at = EXCLUDED.emitted_at,
		    payload    = EXCLUDED.payload`

	_, err = r.db.ExecContext(ctx, query,
		signal.SignalID, signal.InputEventHash, signal.TraceID, signal.GeneratedAt,
		signal.EmittedAt, signal.Probability, string(signal.ConfidenceLevel), payload)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			// Unique violation on the event-hash index: same event,
			// different id, which deterministic hashing rules out
			// unless the hashing rule itself changed underneath us.
			return fmt.Errorf("event hash collision for %s: %w", signal.InputEventHash, err)
		}
		return fmt.Errorf("failed to save signal %s: %w", signal.SignalID, err)
	}
	return nil
}

// FindByID returns the signal with the given id.
func (r *Postgres) FindByID(ctx context.Context, signalID string) (domain.Signal, error) {
	return r.findOne(ctx, `SELECT payload FROM signals WHERE signal_id = $1`, signalID)
}

// FindByHash returns the signal derived from the given event hash.
func (r *Postgres) FindByHash(ctx context.Context, inputEventHash string) (domain.Signal, error) {
	return r.findOne(ctx, `SELECT payload FROM signals WHERE input_event_hash = $1`, inputEventHash)
}

func (r *Postgres) findOne(ctx context.Context, query, arg string) (domain.Signal, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var payload []byte
	if err := r.db.QueryRowxContext(ctx, query, arg).Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Signal{}, ErrNotFound
		}
		return domain.Signal{}, fmt.Errorf("failed to query signal: %w", err)
	}

	var signal domain.Signal
	if err := json.Unmarshal(payload, &signal); err != nil {
		return domain.Signal{}, fmt.Errorf("failed to decode signal payload: %w", err)
	}
	return signal, nil
}

// FindRecent returns up to limit signals generated after since,
// newest first.
func (r *Postgres) FindRecent(ctx context.Context, limit int, since time.Time) ([]domain.Signal, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	query := `SELECT payload FROM signals WHERE generated_at > $1 ORDER BY generated_at DESC LIMIT $2`
	rows, err := r.db.QueryxContext(ctx, query, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent signals: %w", err)
	}
	defer rows.Close()

	var out []domain.Signal
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan signal row: %w", err)
		}
		var signal domain.Signal
		if err := json.Unmarshal(payload, &signal); err != nil {
			return nil, fmt.Errorf("failed to decode signal payload: %w", err)
		}
		out = append(out, signal)
	}
	return out, rows.Err()
}
