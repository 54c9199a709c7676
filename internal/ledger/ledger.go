// Package ledger keeps a SQLite-backed history of synthesis requests.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loqalabs/loqa-tts/internal/config"
)

// Statuses recorded for a synthesis request.
const (
	StatusCreated   = "created"
	StatusDelivered = "delivered"
	StatusFailed    = "failed"
)

// Record is one synthesis request in the ledger.
type Record struct {
	ID         int64
	ArtifactID string
	Voice      string
	TextChars  int
	Status     string
	Detail     string
	DurationMS int64
	CreatedAt  time.Time
}

// Ledger records synthesis requests and their delivery outcome. In
// ephemeral mode every call is a no-op.
type Ledger struct {
	db    *sql.DB
	cfg   config.LedgerConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the ledger according to config.
func Open(ctx context.Context, cfg config.LedgerConfig, log *slog.Logger) (*Ledger, error) {
	if cfg.Mode == "ephemeral" {
		return &Ledger{cfg: cfg, log: log, clock: time.Now}, nil
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

	l := &Ledger{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := l.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("ledger vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := l.Prune(ctx); err != nil {
		log.Warn("ledger prune on start failed", slog.String("error", err.Error()))
	}

	return l, nil
}

func (l *Ledger) initSchema(ctx context.Context) error {
	if l.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS synthesis_requests (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    artifact_id TEXT,
    voice TEXT NOT NULL,
    text_chars INTEGER NOT NULL,
    status TEXT NOT NULL,
    detail TEXT,
    duration_ms INTEGER,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_requests_created ON synthesis_requests(created_at);
CREATE INDEX IF NOT EXISTS idx_requests_artifact ON synthesis_requests(artifact_id);
`
	_, err := l.db.ExecContext(ctx, ddl)
	return err
}

// Close releases underlying resources.
func (l *Ledger) Close() error {
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}

// RecordCreated notes a successful synthesis awaiting retrieval.
func (l *Ledger) RecordCreated(ctx context.Context, artifactID, voice string, textChars int, duration time.Duration) error {
	if l.db == nil {
		return nil
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO synthesis_requests(artifact_id, voice, text_chars, status, duration_ms, created_at)
		 VALUES(?, ?, ?, ?, ?, ?)`,
		artifactID, voice, textChars, StatusCreated, duration.Milliseconds(), l.clock().UTC())
	return err
}

// RecordFailure notes a request that never produced an artifact.
func (l *Ledger) RecordFailure(ctx context.Context, voice string, textChars int, detail string) error {
	if l.db == nil {
		return nil
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO synthesis_requests(voice, text_chars, status, detail, created_at)
		 VALUES(?, ?, ?, ?, ?)`,
		voice, textChars, StatusFailed, detail, l.clock().UTC())
	return err
}

// MarkDelivered flips a created request to delivered after its artifact
// has been streamed and removed.
func (l *Ledger) MarkDelivered(ctx context.Context, artifactID string) error {
	if l.db == nil {
		return nil
	}
	_, err := l.db.ExecContext(ctx,
		`UPDATE synthesis_requests SET status = ? WHERE artifact_id = ? AND status = ?`,
		StatusDelivered, artifactID, StatusCreated)
	return err
}

// Recent returns up to limit requests, newest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]Record, error) {
	if l.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, COALESCE(artifact_id, ''), voice, text_chars, status, COALESCE(detail, ''), COALESCE(duration_ms, 0), created_at
		 FROM synthesis_requests ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var created string
		if err := rows.Scan(&r.ID, &r.ArtifactID, &r.Voice, &r.TextChars, &r.Status, &r.Detail, &r.DurationMS, &created); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			r.CreatedAt = ts
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Prune applies configured retention (called on startup).
func (l *Ledger) Prune(ctx context.Context) error {
	if l.db == nil {
		return nil
	}
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if l.cfg.RetentionDays > 0 {
		cutoff := l.clock().Add(-time.Duration(l.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM synthesis_requests WHERE created_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
	}
	if l.cfg.MaxRequests > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM synthesis_requests WHERE id IN (
			SELECT id FROM synthesis_requests ORDER BY created_at DESC, id DESC LIMIT -1 OFFSET ?
		)`, l.cfg.MaxRequests)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}
