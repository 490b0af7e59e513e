package eventstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/loqalabs/voiceloop/internal/config"
	_ "modernc.org/sqlite"
)

// Run is one process lifetime of the voice loop.
type Run struct {
	RunID     string
	Model     string
	StartedAt time.Time
}

// TurnRecord is the journal entry for one completed turn.
type TurnRecord struct {
	TurnID    string
	RunID     string
	Utterance string
	Intent    string
	Outcome   string
	Reply     string
	Latency   time.Duration
	CreatedAt time.Time
}

// Store journals runs and turns in SQLite. In ephemeral mode every method is
// a no-op.
type Store struct {
	db    *sql.DB
	cfg   config.EventStoreConfig
	log   *slog.Logger
	clock func() time.Time

	mu   sync.Mutex
	live string
}

func Open(ctx context.Context, cfg config.EventStoreConfig, log *slog.Logger) (*Store, error) {
	log = log.With(slog.String("component", "eventstore"))
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	if cfg.VacuumOnStart {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("event store vacuum failed", slog.String("error", err.Error()))
		}
	}
	if err := s.Prune(ctx); err != nil {
		log.Warn("event store prune on start failed", slog.String("error", err.Error()))
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS runs (
    run_id TEXT PRIMARY KEY,
    model TEXT,
    started_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS turns (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    turn_id TEXT NOT NULL UNIQUE,
    run_id TEXT NOT NULL,
    utterance TEXT,
    intent TEXT,
    outcome TEXT,
    reply TEXT,
    latency_ms INTEGER,
    created_at INTEGER NOT NULL,
    FOREIGN KEY(run_id) REFERENCES runs(run_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_turns_run_created ON turns(run_id, created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) disabled() bool {
	return s.cfg.RetentionMode == "ephemeral" || s.db == nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// AppendRun registers a run. Turns reference it, so it must exist first.
// The most recently registered run is never pruned.
func (s *Store) AppendRun(ctx context.Context, runID, model string) error {
	if s.disabled() {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(run_id, model, started_at) VALUES(?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET model=excluded.model`,
		runID, model, s.clock().UTC().UnixMilli())
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.live = runID
	s.mu.Unlock()
	return nil
}

func (s *Store) liveRun() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

func (s *Store) AppendTurn(ctx context.Context, rec TurnRecord) error {
	if s.disabled() {
		return nil
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.clock().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns(turn_id, run_id, utterance, intent, outcome, reply, latency_ms, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.TurnID, rec.RunID, rec.Utterance, rec.Intent, rec.Outcome, rec.Reply,
		rec.Latency.Milliseconds(), rec.CreatedAt.UTC().UnixMilli())
	return err
}

// ListTurns returns the newest limit turns, oldest first. An empty runID
// lists across all runs.
func (s *Store) ListTurns(ctx context.Context, runID string, limit int) ([]TurnRecord, error) {
	if s.disabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT turn_id, run_id, utterance, intent, outcome, reply, latency_ms, created_at FROM turns`
	args := []any{}
	if runID != "" {
		query += ` WHERE run_id = ?`
		args = append(args, runID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []TurnRecord
	for rows.Next() {
		var rec TurnRecord
		var latencyMS, created int64
		if err := rows.Scan(&rec.TurnID, &rec.RunID, &rec.Utterance, &rec.Intent, &rec.Outcome, &rec.Reply, &latencyMS, &created); err != nil {
			return nil, err
		}
		rec.Latency = time.Duration(latencyMS) * time.Millisecond
		rec.CreatedAt = time.UnixMilli(created).UTC()
		turns = append(turns, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// ListRuns returns the newest limit runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if s.disabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, model, started_at FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var started int64
		if err := rows.Scan(&r.RunID, &r.Model, &started); err != nil {
			return nil, err
		}
		r.StartedAt = time.UnixMilli(started).UTC()
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Prune applies retention by age and by run count. It runs on open and can
// be scheduled.
func (s *Store) Prune(ctx context.Context) (err error) {
	if s.disabled() {
		return nil
	}
	if s.cfg.RetentionMode != "persistent" && s.cfg.RetentionMode != "session" {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	live := s.liveRun()
	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour).UTC().UnixMilli()
		if _, err = tx.ExecContext(ctx, `DELETE FROM turns WHERE created_at < ?`, cutoff); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ? AND run_id <> ?`, cutoff, live); err != nil {
			return err
		}
	}
	if s.cfg.MaxRuns > 0 {
		if _, err = tx.ExecContext(ctx, `DELETE FROM runs WHERE run_id <> ? AND run_id IN (
			SELECT run_id FROM runs ORDER BY started_at DESC LIMIT -1 OFFSET ?
		)`, live, s.cfg.MaxRuns); err != nil {
			return err
		}
	}
	return tx.Commit()
}
