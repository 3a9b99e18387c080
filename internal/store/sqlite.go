package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA foreign_keys=ON;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite pragmas: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) AutoMigrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS visitor_profiles (
			visitor_id TEXT PRIMARY KEY,
			need TEXT NOT NULL DEFAULT 'UNKNOWN',
			style TEXT NOT NULL DEFAULT 'UNKNOWN',
			attachment TEXT NOT NULL DEFAULT 'UNKNOWN',
			motivation TEXT NOT NULL DEFAULT 'UNKNOWN',
			plan_tier TEXT NOT NULL DEFAULT 'UNKNOWN',
			avg_response_time_ms REAL NOT NULL DEFAULT 0,
			hesitation_level REAL NOT NULL DEFAULT 0,
			engagement_score REAL NOT NULL DEFAULT 50,
			receptivity_score REAL NOT NULL DEFAULT 50,
			data_points INTEGER NOT NULL DEFAULT 0,
			confidence REAL NOT NULL DEFAULT 0,
			strategy_tag TEXT NOT NULL DEFAULT '',
			conversion_probability REAL NOT NULL DEFAULT 0,
			estimated_monthly_value REAL NOT NULL DEFAULT 0,
			insights_json TEXT NOT NULL DEFAULT '{}',
			key_statements_json TEXT NOT NULL DEFAULT '[]',
			trigger_words_json TEXT NOT NULL DEFAULT '[]',
			created_at_unix INTEGER NOT NULL,
			updated_at_unix INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS probe_responses (
			id TEXT PRIMARY KEY,
			visitor_id TEXT NOT NULL,
			probe_id TEXT NOT NULL,
			response TEXT NOT NULL,
			category TEXT NOT NULL,
			phase INTEGER NOT NULL,
			created_at_unix INTEGER NOT NULL,
			UNIQUE(visitor_id, probe_id),
			FOREIGN KEY(visitor_id) REFERENCES visitor_profiles(visitor_id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS behavior_events (
			id TEXT PRIMARY KEY,
			visitor_id TEXT NOT NULL,
			response_time_ms INTEGER,
			message_length INTEGER,
			hesitation_count INTEGER,
			hour_of_day INTEGER,
			created_at_unix INTEGER NOT NULL,
			FOREIGN KEY(visitor_id) REFERENCES visitor_profiles(visitor_id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			visitor_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			category TEXT NOT NULL,
			confidence REAL NOT NULL DEFAULT 0,
			embedding BLOB,
			dimensions INTEGER NOT NULL DEFAULT 0,
			tombstoned INTEGER NOT NULL DEFAULT 0,
			created_at_unix_ms INTEGER NOT NULL,
			decayed_at_unix INTEGER
		);`,
		`CREATE INDEX IF NOT EXISTS idx_memories_visitor_created ON memories(visitor_id, created_at_unix_ms);`,
		`CREATE INDEX IF NOT EXISTS idx_behavior_events_visitor ON behavior_events(visitor_id, created_at_unix);`,
	}

	for _, query := range queries {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("run migration: %w", err)
		}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func nullIfZeroInt64(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
