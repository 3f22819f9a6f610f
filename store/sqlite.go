/*
 * MailTriage - Copyright (C) 2022 Zane van Iperen.
 *    Contact: zane@zanevaniperen.com
 *
 * This program is free software; you can redistribute it and/or modify
 * it under the terms of the GNU General Public License version 2, and only
 * version 2 as published by the Free Software Foundation.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program; if not, write to the Free Software
 * Foundation, Inc., 59 Temple Place, Suite 330, Boston, MA  02111-1307  USA
 */

package store

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	db *sqlx.DB
}

type migration struct {
	version int
	sql     string
}

var migrations = []migration{
	{1, `
		CREATE TABLE schema_version (version INTEGER NOT NULL);

		CREATE TABLE account_status (
			name           TEXT PRIMARY KEY,
			connected      INTEGER NOT NULL DEFAULT 0,
			idle_supported INTEGER NOT NULL DEFAULT 0,
			llm_provider   TEXT NOT NULL DEFAULT '',
			llm_model      TEXT NOT NULL DEFAULT '',
			last_scan      INTEGER,
			paused         INTEGER NOT NULL DEFAULT 0,
			errors         INTEGER NOT NULL DEFAULT 0,
			updated_at     INTEGER NOT NULL
		);

		CREATE TABLE provider_status (
			name                 TEXT PRIMARY KEY,
			model                TEXT NOT NULL DEFAULT '',
			requests_today       INTEGER NOT NULL DEFAULT 0,
			requests_total       INTEGER NOT NULL DEFAULT 0,
			requests_last_minute INTEGER NOT NULL DEFAULT 0,
			rpm_limit            INTEGER,
			rate_limited         INTEGER NOT NULL DEFAULT 0,
			updated_at           INTEGER NOT NULL
		);

		CREATE TABLE dead_letters (
			id         TEXT PRIMARY KEY,
			account    TEXT NOT NULL,
			folder     TEXT NOT NULL,
			uid        INTEGER NOT NULL,
			message_id TEXT NOT NULL DEFAULT '',
			subject    TEXT NOT NULL DEFAULT '',
			sender     TEXT NOT NULL DEFAULT '',
			action     TEXT NOT NULL DEFAULT '',
			confidence REAL NOT NULL DEFAULT 0,
			reason     TEXT NOT NULL DEFAULT '',
			status     TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE INDEX dead_letters_account ON dead_letters (account, status);

		CREATE TABLE audit_log (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			account    TEXT NOT NULL,
			folder     TEXT NOT NULL,
			uid        INTEGER NOT NULL,
			message_id TEXT NOT NULL DEFAULT '',
			subject    TEXT NOT NULL DEFAULT '',
			action     TEXT NOT NULL,
			target     TEXT NOT NULL DEFAULT '',
			confidence REAL NOT NULL DEFAULT 0,
			provider   TEXT NOT NULL DEFAULT '',
			model      TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		);
		CREATE INDEX audit_log_account ON audit_log (account, created_at);

		INSERT INTO schema_version (version) VALUES (1);
	`},
}

// Open opens (or creates) the database at path and applies any pending
// migrations. ":memory:" is supported for tests.
func Open(path string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	if path == ":memory:" {
		// Every connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}
