package eventstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loqalabs/loqa-speak/internal/config"
)

const (
	StatusStarted   = "started"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Synthesis is the journal row of one request.
type Synthesis struct {
	ID         string
	Voice      string
	Engine     string
	TextLength int
	Status     string
	ErrorKind  string
	Error      string
	AudioBytes int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Event represents a recorded timeline entry of a synthesis.
type Event struct {
	ID          int64
	SynthesisID string
	Type        string
	Payload     []byte
	CreatedAt   time.Time
}

// Store wraps a SQLite-backed synthesis journal.
type Store struct {
	db    *sql.DB
	cfg   config.EventStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the event store according to config.
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

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", cfg.Path)
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
CREATE TABLE IF NOT EXISTS syntheses (
    synthesis_id TEXT PRIMARY KEY,
    voice TEXT,
    engine TEXT,
    text_length INTEGER,
    status TEXT NOT NULL,
    error_kind TEXT,
    error TEXT,
    audio_bytes INTEGER,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    synthesis_id TEXT NOT NULL,
    event_type TEXT,
    payload BLOB,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY(synthesis_id) REFERENCES syntheses(synthesis_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_events_synthesis_created ON events(synthesis_id, created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Enabled reports whether writes reach a database.
func (s *Store) Enabled() bool {
	return s != nil && s.db != nil
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if !s.Enabled() {
		return nil
	}
	return s.db.Close()
}

// AppendSynthesis inserts or updates the row for syn.ID. Later calls keep the
// original creation time and replace the outcome columns.
func (s *Store) AppendSynthesis(ctx context.Context, syn Synthesis) error {
	if !s.Enabled() {
		return nil
	}
	now := s.clock().UTC()
	if syn.Status == "" {
		syn.Status = StatusStarted
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO syntheses(synthesis_id, voice, engine, text_length, status, error_kind, error, audio_bytes, created_at, updated_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(synthesis_id) DO UPDATE SET
		   voice=COALESCE(NULLIF(excluded.voice, ''), voice),
		   engine=COALESCE(NULLIF(excluded.engine, ''), engine),
		   status=excluded.status,
		   error_kind=excluded.error_kind,
		   error=excluded.error,
		   audio_bytes=excluded.audio_bytes,
		   updated_at=excluded.updated_at`,
		syn.ID, syn.Voice, syn.Engine, syn.TextLength, syn.Status, syn.ErrorKind, syn.Error, syn.AudioBytes, now, now)
	return err
}

// GetSynthesis loads one journal row.
func (s *Store) GetSynthesis(ctx context.Context, id string) (Synthesis, bool, error) {
	if !s.Enabled() {
		return Synthesis{}, false, nil
	}
	var syn Synthesis
	var voice, engine, errorKind, errText sql.NullString
	var textLength, audioBytes sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT synthesis_id, voice, engine, text_length, status, error_kind, error, audio_bytes, created_at, updated_at
		 FROM syntheses WHERE synthesis_id = ?`, id).
		Scan(&syn.ID, &voice, &engine, &textLength, &syn.Status, &errorKind, &errText, &audioBytes, &syn.CreatedAt, &syn.UpdatedAt)
	if err == sql.ErrNoRows {
		return Synthesis{}, false, nil
	}
	if err != nil {
		return Synthesis{}, false, err
	}
	syn.Voice = voice.String
	syn.Engine = engine.String
	syn.ErrorKind = errorKind.String
	syn.Error = errText.String
	syn.TextLength = int(textLength.Int64)
	syn.AudioBytes = int(audioBytes.Int64)
	return syn, true, nil
}

// AppendEvent writes an event into the store.
func (s *Store) AppendEvent(ctx context.Context, evt Event) error {
	if !s.Enabled() {
		return nil
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = s.clock().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events(synthesis_id, event_type, payload, created_at) VALUES(?, ?, ?, ?)`,
		evt.SynthesisID, evt.Type, evt.Payload, evt.CreatedAt)
	return err
}

// ListEvents retrieves up to limit events of a synthesis in insertion order.
func (s *Store) ListEvents(ctx context.Context, synthesisID string, limit int) ([]Event, error) {
	if !s.Enabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, synthesis_id, event_type, payload, created_at
		 FROM events WHERE synthesis_id = ? ORDER BY id ASC LIMIT ?`, synthesisID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.SynthesisID, &e.Type, &e.Payload, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Prune applies configured retention (called on startup and can be scheduled).
func (s *Store) Prune(ctx context.Context) (err error) {
	if !s.Enabled() {
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
			_ = tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour).UTC()
		if _, err = tx.ExecContext(ctx, `DELETE FROM events WHERE created_at < ?`, cutoff); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM syntheses WHERE created_at < ?`, cutoff); err != nil {
			return err
		}
	}
	if s.cfg.MaxSessions > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM syntheses WHERE synthesis_id IN (
			SELECT synthesis_id FROM syntheses ORDER BY created_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxSessions)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}
