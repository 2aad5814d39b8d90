// Package usage persists routing decisions and their observed outcomes to a
// local sqlite database, feeding the stats API.
package usage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/clawinfra/clawrouter/internal/router"
)

// Store is the sqlite-backed usage log.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the usage database at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("usage: open db: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("usage: wal mode: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{db: db, logger: logger.With("component", "usage")}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("usage: migrate: %w", err)
	}
	return s, nil
}

// migrate creates tables on first run.
func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS decisions (
			id             TEXT PRIMARY KEY,
			created_at     INTEGER NOT NULL,
			tier           TEXT NOT NULL,
			model          TEXT NOT NULL,
			confidence     REAL NOT NULL,
			reasoning      TEXT NOT NULL DEFAULT '',
			fingerprint    TEXT NOT NULL DEFAULT '',
			session_id     TEXT NOT NULL DEFAULT '',
			est_tokens     INTEGER NOT NULL DEFAULT 0,
			cache_hit      INTEGER NOT NULL DEFAULT 0,
			ambiguous      INTEGER NOT NULL DEFAULT 0,
			duration_us    INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS feedback (
			decision_id    TEXT NOT NULL,
			created_at     INTEGER NOT NULL,
			success        INTEGER NOT NULL,
			latency_ms     REAL NOT NULL DEFAULT 0,
			cost           REAL NOT NULL DEFAULT 0,
			input_tokens   INTEGER NOT NULL DEFAULT 0,
			output_tokens  INTEGER NOT NULL DEFAULT 0,
			error_kind     TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_created ON decisions(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_tier ON decisions(tier)`,
		`CREATE INDEX IF NOT EXISTS idx_feedback_decision ON feedback(decision_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate %q: %w", stmt[:40], err)
		}
	}
	return nil
}

// RecordDecision logs one routing decision.
func (s *Store) RecordDecision(ctx context.Context, d *router.RoutingDecision) error {
	boolInt := func(b bool) int {
		if b {
			return 1
		}
		return 0
	}
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO decisions
		(id, created_at, tier, model, confidence, reasoning, fingerprint, session_id, est_tokens, cache_hit, ambiguous, duration_us)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Timestamp.Unix(), d.Tier.String(), d.Model, d.Confidence, d.Reasoning,
		d.Fingerprint, d.SessionID, d.EstimatedTokens, boolInt(d.CacheHit), boolInt(d.Ambiguous), d.DurationUs)
	if err != nil {
		return fmt.Errorf("usage: insert decision: %w", err)
	}
	return nil
}

// RecordFeedback logs the observed outcome for a decision.
func (s *Store) RecordFeedback(ctx context.Context, decisionID string, obs router.Observed) error {
	success := 0
	if obs.Success {
		success = 1
	}
	kind := obs.ErrorKind
	if kind == "" && obs.Err != nil {
		kind = router.ClassifyError(obs.Err)
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO feedback
		(decision_id, created_at, success, latency_ms, cost, input_tokens, output_tokens, error_kind)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		decisionID, time.Now().Unix(), success, obs.LatencyMs, obs.Cost, obs.InputTokens, obs.OutputTokens, kind)
	if err != nil {
		return fmt.Errorf("usage: insert feedback: %w", err)
	}
	return nil
}

// TierCount is one row of the tier distribution.
type TierCount struct {
	Tier  string `json:"tier"`
	Count int    `json:"count"`
}

// ModelUsage aggregates outcomes per model.
type ModelUsage struct {
	Model        string  `json:"model"`
	Requests     int     `json:"requests"`
	Successes    int     `json:"successes"`
	AvgLatencyMs float64 `json:"avgLatencyMs"`
	TotalCost    float64 `json:"totalCost"`
}

// Summary is the aggregate view served by the stats API.
type Summary struct {
	Decisions   int          `json:"decisions"`
	CacheHits   int          `json:"cacheHits"`
	Ambiguous   int          `json:"ambiguous"`
	ByTier      []TierCount  `json:"byTier"`
	ByModel     []ModelUsage `json:"byModel"`
	WindowHours int          `json:"windowHours"`
}

// Summarize aggregates decisions and feedback over the trailing window.
func (s *Store) Summarize(ctx context.Context, window time.Duration) (*Summary, error) {
	since := time.Now().Add(-window).Unix()
	sum := &Summary{WindowHours: int(window.Hours())}

	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(cache_hit), 0), COALESCE(SUM(ambiguous), 0)
		 FROM decisions WHERE created_at >= ?`, since)
	if err := row.Scan(&sum.Decisions, &sum.CacheHits, &sum.Ambiguous); err != nil {
		return nil, fmt.Errorf("usage: summarize decisions: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT tier, COUNT(*) FROM decisions WHERE created_at >= ? GROUP BY tier ORDER BY COUNT(*) DESC`, since)
	if err != nil {
		return nil, fmt.Errorf("usage: summarize tiers: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var tc TierCount
		if err := rows.Scan(&tc.Tier, &tc.Count); err != nil {
			return nil, err
		}
		sum.ByTier = append(sum.ByTier, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	mrows, err := s.db.QueryContext(ctx,
		`SELECT d.model, COUNT(f.decision_id), COALESCE(SUM(f.success), 0),
		        COALESCE(AVG(f.latency_ms), 0), COALESCE(SUM(f.cost), 0)
		 FROM decisions d JOIN feedback f ON f.decision_id = d.id
		 WHERE d.created_at >= ?
		 GROUP BY d.model ORDER BY COUNT(f.decision_id) DESC`, since)
	if err != nil {
		return nil, fmt.Errorf("usage: summarize models: %w", err)
	}
	defer mrows.Close()
	for mrows.Next() {
		var mu ModelUsage
		if err := mrows.Scan(&mu.Model, &mu.Requests, &mu.Successes, &mu.AvgLatencyMs, &mu.TotalCost); err != nil {
			return nil, err
		}
		sum.ByModel = append(sum.ByModel, mu)
	}
	if err := mrows.Err(); err != nil {
		return nil, err
	}
	return sum, nil
}

// Prune deletes rows older than the retention window.
func (s *Store) Prune(ctx context.Context, retention time.Duration) error {
	cutoff := time.Now().Add(-retention).Unix()
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM feedback WHERE decision_id IN (SELECT id FROM decisions WHERE created_at < ?)`, cutoff); err != nil {
		return fmt.Errorf("usage: prune feedback: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM decisions WHERE created_at < ?`, cutoff); err != nil {
		return fmt.Errorf("usage: prune decisions: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
