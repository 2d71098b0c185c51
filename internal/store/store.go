package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a point read matches no row.
var ErrNotFound = errors.New("store: not found")

// Store wraps the SQLite database holding jobs, sessions, proactive
// messages, the social backlog, decay log and per-entity settings.
type Store struct {
	db *sql.DB

	defaultDailyCap int
	defaultCooldown time.Duration
}

// Open opens (or creates) the database at path and applies pending
// migrations. Pass ":memory:" for an in-memory database (used by tests).
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Single connection avoids "database is locked" with the pure-Go driver.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{
		db:              db,
		defaultDailyCap: DefaultDailyCap,
		defaultCooldown: DefaultAnalysisCooldown,
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	for i, stmts := range migrations {
		version := i + 1
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(stmts); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}
	return nil
}

// AppliedMigrations returns applied schema versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

var migrations = []string{
	// 001: jobs queue
	`CREATE TABLE jobs (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		target_type TEXT NOT NULL DEFAULT '',
		target_id TEXT NOT NULL DEFAULT '',
		payload_json TEXT NOT NULL DEFAULT '{}',
		priority INTEGER NOT NULL DEFAULT 1,
		status TEXT NOT NULL DEFAULT 'pending',
		execute_after TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		max_attempts INTEGER NOT NULL DEFAULT 3,
		owner TEXT,
		last_heartbeat TEXT,
		created_at TEXT NOT NULL,
		completed_at TEXT,
		result TEXT,
		last_error TEXT
	);
	CREATE INDEX idx_jobs_claim ON jobs(status, execute_after, priority);
	CREATE INDEX idx_jobs_target ON jobs(type, target_type, target_id, status);`,

	// 002: entities, sessions, timeline
	`CREATE TABLE entities (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		persona_key TEXT NOT NULL DEFAULT '',
		active INTEGER NOT NULL DEFAULT 1,
		message_count INTEGER NOT NULL DEFAULT 0,
		relationship_started_at TEXT NOT NULL,
		last_active_at TEXT,
		created_at TEXT NOT NULL
	);
	CREATE TABLE sessions (
		id TEXT PRIMARY KEY,
		entity_id TEXT NOT NULL UNIQUE,
		affect_json TEXT NOT NULL DEFAULT '{}',
		affect_updated_at TEXT,
		last_intensity REAL NOT NULL DEFAULT 0,
		open_question INTEGER NOT NULL DEFAULT 0,
		open_question_text TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);
	CREATE TABLE timeline (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX idx_timeline_entity_created ON timeline(entity_id, created_at);`,

	// 003: proactive messages
	`CREATE TABLE proactive_messages (
		id TEXT PRIMARY KEY,
		entity_id TEXT NOT NULL,
		trigger_type TEXT NOT NULL,
		trigger_subtype TEXT NOT NULL DEFAULT '',
		trigger_details TEXT NOT NULL DEFAULT '',
		trigger_strength REAL NOT NULL DEFAULT 0,
		message_text TEXT NOT NULL,
		tone TEXT NOT NULL DEFAULT '',
		scheduled_for TEXT NOT NULL,
		expires_at TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		delivered_at TEXT,
		user_reaction TEXT,
		effectiveness_score REAL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX idx_proactive_status_sched ON proactive_messages(status, scheduled_for);
	CREATE INDEX idx_proactive_entity_delivered ON proactive_messages(entity_id, delivered_at);`,

	// 004: social backlog, decay log, settings
	`CREATE TABLE social_items (
		id TEXT PRIMARY KEY,
		entity_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		summary TEXT NOT NULL DEFAULT '',
		importance REAL NOT NULL DEFAULT 0,
		processed INTEGER NOT NULL DEFAULT 0,
		resolved INTEGER NOT NULL DEFAULT 0,
		mentioned INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);
	CREATE INDEX idx_social_entity ON social_items(entity_id, kind, processed);
	CREATE TABLE decay_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		channel TEXT NOT NULL,
		old_value REAL NOT NULL,
		new_value REAL NOT NULL,
		applied_at TEXT NOT NULL
	);
	CREATE INDEX idx_decay_log_session ON decay_log(session_id, channel, applied_at);
	CREATE TABLE entity_settings (
		entity_id TEXT PRIMARY KEY,
		sensitivities_json TEXT NOT NULL DEFAULT '{}',
		max_messages_per_day INTEGER NOT NULL DEFAULT 3,
		analysis_cooldown_minutes INTEGER NOT NULL DEFAULT 240
	);`,
}
