package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// ErrDuplicate indicates an insert collided with an existing unique key.
// Callers treat it as "already ingested, skip".
var ErrDuplicate = errors.New("duplicate record")

// Store is the SQLite persistence layer for ingested records, security
// events and risk scores. Unique indexes on session_id and event_id back
// the pipeline's check-then-insert deduplication.
type Store struct {
	db *sql.DB
}

// Open opens (and if needed bootstraps) the database at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("store path is empty")
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	// Serialized access keeps the single-writer pipeline simple.
	db.SetMaxOpenConns(1)

	st := &Store{db: db}
	if err := st.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS connection_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL UNIQUE,
			username TEXT NOT NULL,
			source_ip TEXT NOT NULL DEFAULT '',
			start_time INTEGER NOT NULL,
			end_time INTEGER NOT NULL DEFAULT 0,
			duration_seconds INTEGER NOT NULL DEFAULT 0,
			bytes_in INTEGER NOT NULL DEFAULT 0,
			bytes_out INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT '',
			department TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			display_name TEXT NOT NULL DEFAULT '',
			city TEXT NOT NULL DEFAULT '',
			country_name TEXT NOT NULL DEFAULT '',
			country_code TEXT NOT NULL DEFAULT '',
			is_suspicious INTEGER NOT NULL DEFAULT 0,
			impossible_travel INTEGER NOT NULL DEFAULT 0,
			travel_speed REAL,
			raw TEXT NOT NULL DEFAULT '{}',
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_connections_user_start
			ON connection_records(username, start_time)`,
		`CREATE TABLE IF NOT EXISTS auth_failures (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			dedup_key TEXT NOT NULL UNIQUE,
			username TEXT NOT NULL,
			source_ip TEXT NOT NULL DEFAULT '',
			ts INTEGER NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			city TEXT NOT NULL DEFAULT '',
			country_code TEXT NOT NULL DEFAULT '',
			raw TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_failures_user_ip_ts
			ON auth_failures(username, source_ip, ts)`,
		`CREATE TABLE IF NOT EXISTS security_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id TEXT NOT NULL UNIQUE,
			category TEXT NOT NULL,
			severity TEXT NOT NULL DEFAULT 'info',
			ts INTEGER NOT NULL,
			event_date TEXT NOT NULL DEFAULT '',
			src_ip TEXT NOT NULL DEFAULT '',
			dst_ip TEXT NOT NULL DEFAULT '',
			src_port INTEGER NOT NULL DEFAULT 0,
			dst_port INTEGER NOT NULL DEFAULT 0,
			src_country TEXT NOT NULL DEFAULT '',
			dst_country TEXT NOT NULL DEFAULT '',
			username TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			department TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			display_name TEXT NOT NULL DEFAULT '',
			attack_name TEXT NOT NULL DEFAULT '',
			attack_id TEXT NOT NULL DEFAULT '',
			cve TEXT NOT NULL DEFAULT '',
			virus_name TEXT NOT NULL DEFAULT '',
			file_name TEXT NOT NULL DEFAULT '',
			file_hash TEXT NOT NULL DEFAULT '',
			url TEXT NOT NULL DEFAULT '',
			web_category TEXT NOT NULL DEFAULT '',
			action TEXT NOT NULL DEFAULT '',
			details TEXT NOT NULL DEFAULT '',
			rule_tags TEXT NOT NULL DEFAULT '[]',
			raw TEXT NOT NULL DEFAULT '{}',
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_user_cat_ts
			ON security_events(username, category, ts)`,
		`CREATE INDEX IF NOT EXISTS idx_events_cat_ts
			ON security_events(category, ts)`,
		`CREATE TABLE IF NOT EXISTS user_risk_scores (
			username TEXT PRIMARY KEY,
			current_score INTEGER NOT NULL DEFAULT 0,
			risk_level TEXT NOT NULL DEFAULT 'None',
			trend TEXT NOT NULL DEFAULT 'Stable',
			last_calculated INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS risk_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL,
			source TEXT NOT NULL,
			event_id TEXT NOT NULL DEFAULT '',
			weight_added INTEGER NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			ts INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_risk_events_user_ts
			ON risk_events(username, ts)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate store: %w", err)
		}
	}
	return nil
}

// asStoreErr maps driver errors to the package's sentinel errors.
func asStoreErr(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return ErrDuplicate
	}
	return err
}
