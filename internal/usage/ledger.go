// Package usage persists per-call accounting rows to PostgreSQL so spend
// survives process restarts. The in-memory pool stats remain the source
// of truth for the running process; the ledger is the durable audit trail.
package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Record is one row of the usage ledger.
type Record struct {
	Fingerprint string
	Model       string
	Tokens      int
	CostUSD     float64
	Duration    time.Duration
	FromCache   bool
	Status      string // "success" or "failure"
}

// Totals aggregates ledger rows since a point in time.
type Totals struct {
	Requests  int64   `json:"requests"`
	CacheHits int64   `json:"cache_hits"`
	Failures  int64   `json:"failures"`
	Tokens    int64   `json:"tokens"`
	CostUSD   float64 `json:"cost_usd"`
}

// Ledger writes usage rows to PostgreSQL. A nil pool disables
// persistence entirely; every method degrades to a no-op.
type Ledger struct {
	db *pgxpool.Pool
}

func NewLedger(db *pgxpool.Pool) *Ledger {
	return &Ledger{db: db}
}

// Record inserts one usage row.
func (l *Ledger) Record(ctx context.Context, rec Record) error {
	if l == nil || l.db == nil {
		return nil
	}

	_, err := l.db.Exec(ctx, `
		INSERT INTO usage_log (fingerprint, model, tokens, cost_usd, duration_ms, from_cache, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, rec.Fingerprint, rec.Model, rec.Tokens, rec.CostUSD, rec.Duration.Milliseconds(), rec.FromCache, rec.Status)
	if err != nil {
		return fmt.Errorf("insert usage_log: %w", err)
	}
	return nil
}

// TotalsSince aggregates rows created at or after since.
func (l *Ledger) TotalsSince(ctx context.Context, since time.Time) (Totals, error) {
	if l == nil || l.db == nil {
		return Totals{}, nil
	}

	var t Totals
	err := l.db.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE from_cache),
		       COUNT(*) FILTER (WHERE status = 'failure'),
		       COALESCE(SUM(tokens), 0),
		       COALESCE(SUM(cost_usd), 0)
		FROM usage_log
		WHERE created_at >= $1
	`, since).Scan(&t.Requests, &t.CacheHits, &t.Failures, &t.Tokens, &t.CostUSD)
	if err != nil {
		return Totals{}, fmt.Errorf("query usage_log totals: %w", err)
	}
	return t, nil
}
