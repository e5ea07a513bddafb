// Package store provides SQLite-backed persistence for GAO-Dev orchestration
// state: epics, stories, ceremonies, action items, learnings, and safety
// bookkeeping. It is the only package that touches the database directly;
// every other component receives typed snapshots through its methods.
package store

import (
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/gao-dev/gaodev/internal/model"
)

// Store wraps a single SQLite handle. All writes are serialized through
// writeMu so the single-writer-per-tree model in the design holds even
// though database/sql itself would happily interleave writers.
type Store struct {
	db      *sql.DB
	writeMu sync.Mutex
	inTx    bool
}

const schema = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	phase TEXT NOT NULL,
	applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS epics (
	epic_num INTEGER NOT NULL,
	project TEXT NOT NULL,
	feature_name TEXT NOT NULL,
	scale_level INTEGER NOT NULL,
	status TEXT NOT NULL DEFAULT 'planned',
	total_stories INTEGER NOT NULL DEFAULT 0,
	stories_completed INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	completed_at DATETIME,
	PRIMARY KEY (project, epic_num)
);

CREATE TABLE IF NOT EXISTS stories (
	project TEXT NOT NULL,
	epic_num INTEGER NOT NULL,
	story_num INTEGER NOT NULL,
	title TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'draft',
	cycle_time_seconds INTEGER NOT NULL DEFAULT 0,
	rework_count INTEGER NOT NULL DEFAULT 0,
	quality_gates_passed TEXT NOT NULL DEFAULT 'unknown',
	input_tokens INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	cost_usd REAL NOT NULL DEFAULT 0,
	PRIMARY KEY (project, epic_num, story_num)
);

CREATE TABLE IF NOT EXISTS ceremonies (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project TEXT NOT NULL,
	epic_num INTEGER NOT NULL,
	story_num INTEGER,
	type TEXT NOT NULL,
	phase TEXT NOT NULL DEFAULT '',
	held_at DATETIME NOT NULL DEFAULT (datetime('now')),
	duration_ms INTEGER NOT NULL DEFAULT 0,
	participants TEXT NOT NULL DEFAULT '',
	transcript TEXT NOT NULL DEFAULT '',
	summary TEXT NOT NULL DEFAULT '',
	outcome TEXT NOT NULL DEFAULT 'success',
	commit_sha TEXT NOT NULL DEFAULT '',
	idempotency_key TEXT NOT NULL DEFAULT '',
	input_tokens INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	cost_usd REAL NOT NULL DEFAULT 0
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_ceremonies_idempotency ON ceremonies(project, idempotency_key) WHERE idempotency_key != '';
CREATE INDEX IF NOT EXISTS idx_ceremonies_epic_type ON ceremonies(project, epic_num, type);

CREATE TABLE IF NOT EXISTS action_items (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ceremony_id INTEGER NOT NULL REFERENCES ceremonies(id),
	project TEXT NOT NULL,
	epic_num INTEGER NOT NULL,
	priority TEXT NOT NULL,
	description TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'open',
	auto_promote_to_story BOOLEAN NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	closed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_action_items_status ON action_items(project, status);
CREATE INDEX IF NOT EXISTS idx_action_items_epic ON action_items(project, epic_num);

CREATE TABLE IF NOT EXISTS learnings (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project TEXT NOT NULL,
	category TEXT NOT NULL,
	text TEXT NOT NULL,
	tags TEXT NOT NULL DEFAULT '',
	scale_level INTEGER NOT NULL DEFAULT 0,
	project_type TEXT NOT NULL DEFAULT '',
	base_relevance REAL NOT NULL DEFAULT 0.5,
	application_count INTEGER NOT NULL DEFAULT 0,
	success_rate REAL NOT NULL DEFAULT 0,
	confidence_score REAL NOT NULL DEFAULT 0,
	indexed_at DATETIME NOT NULL DEFAULT (datetime('now')),
	superseded_by INTEGER
);

CREATE INDEX IF NOT EXISTS idx_learnings_project ON learnings(project);
CREATE INDEX IF NOT EXISTS idx_learnings_category ON learnings(category);

CREATE VIRTUAL TABLE IF NOT EXISTS learnings_fts USING fts5(
	text, tags,
	content='learnings',
	content_rowid='id'
);

CREATE TRIGGER IF NOT EXISTS learnings_ai AFTER INSERT ON learnings BEGIN
	INSERT INTO learnings_fts(rowid, text, tags) VALUES (new.id, new.text, new.tags);
END;
CREATE TRIGGER IF NOT EXISTS learnings_ad AFTER DELETE ON learnings BEGIN
	INSERT INTO learnings_fts(learnings_fts, rowid, text, tags) VALUES ('delete', old.id, old.text, old.tags);
END;
CREATE TRIGGER IF NOT EXISTS learnings_au AFTER UPDATE ON learnings BEGIN
	INSERT INTO learnings_fts(learnings_fts, rowid, text, tags) VALUES ('delete', old.id, old.text, old.tags);
	INSERT INTO learnings_fts(rowid, text, tags) VALUES (new.id, new.text, new.tags);
END;

CREATE TABLE IF NOT EXISTS learning_applications (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	learning_id INTEGER NOT NULL REFERENCES learnings(id),
	project TEXT NOT NULL,
	epic_num INTEGER NOT NULL,
	story_num INTEGER,
	outcome TEXT NOT NULL,
	applied_at DATETIME NOT NULL DEFAULT (datetime('now')),
	context TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_learning_applications_learning ON learning_applications(learning_id);

CREATE TABLE IF NOT EXISTS safety_state (
	project TEXT NOT NULL,
	epic_num INTEGER NOT NULL,
	ceremony_type TEXT NOT NULL,
	last_held_at DATETIME,
	consecutive_failures INTEGER NOT NULL DEFAULT 0,
	circuit_open BOOLEAN NOT NULL DEFAULT 0,
	total_ceremonies_this_epic INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (project, epic_num, ceremony_type)
);
`

// Open creates or opens a SQLite database at dbPath, applying WAL journal
// mode and a busy timeout so readers never block the single writer, then
// ensures the schema (and any pending additive migrations) is applied.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, model.Precondition("E003", "open state database", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, model.Migration("E030", "create schema", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, model.Migration("E030", "apply migrations", err)
	}

	return &Store{db: db}, nil
}

// migrate applies additive, idempotent schema changes for databases
// created by an earlier version of this package: each new column is
// guarded by a pragma_table_info probe so re-running is always safe.
func migrate(db *sql.DB) error {
	for _, table := range []string{"stories", "ceremonies"} {
		if err := addColumnIfMissing(db, table, "input_tokens", "INTEGER NOT NULL DEFAULT 0"); err != nil {
			return err
		}
		if err := addColumnIfMissing(db, table, "output_tokens", "INTEGER NOT NULL DEFAULT 0"); err != nil {
			return err
		}
		if err := addColumnIfMissing(db, table, "cost_usd", "REAL NOT NULL DEFAULT 0"); err != nil {
			return err
		}
	}
	if _, err := db.Exec(`INSERT OR IGNORE INTO schema_migrations (version, phase) VALUES (1, 'initial')`); err != nil {
		return fmt.Errorf("record initial migration: %w", err)
	}
	return nil
}

func addColumnIfMissing(db *sql.DB, table, column, ddlType string) error {
	var count int
	err := db.QueryRow(fmt.Sprintf(`SELECT COUNT(*) FROM pragma_table_info('%s') WHERE name = ?`, table), column).Scan(&count)
	if err != nil {
		return fmt.Errorf("check %s.%s column: %w", table, column, err)
	}
	if count == 0 {
		if _, err := db.Exec(fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, table, column, ddlType)); err != nil {
			return fmt.Errorf("add %s.%s column: %w", table, column, err)
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Tx is a handle to an in-flight write transaction. Nested Begin calls
// fail with model.ErrInTransaction, matching the no-nesting contract.
type Tx struct {
	tx *sql.Tx
}

// Begin starts a write transaction. Only one may be outstanding at a time:
// a Begin while another transaction is open, whether nested or from another
// goroutine, fails with model.ErrInTransaction instead of waiting. Readers
// are never blocked by it thanks to WAL mode.
func (s *Store) Begin() (*Tx, error) {
	if !s.writeMu.TryLock() {
		return nil, model.ErrInTransaction
	}
	if s.inTx {
		s.writeMu.Unlock()
		return nil, model.ErrInTransaction
	}
	tx, err := s.db.Begin()
	if err != nil {
		s.writeMu.Unlock()
		return nil, model.Transient("E021", "begin transaction", err)
	}
	s.inTx = true
	return &Tx{tx: tx}, nil
}

// Commit commits the transaction and releases the writer lock held by Begin.
func (s *Store) Commit(tx *Tx) error {
	defer s.release()
	if err := tx.tx.Commit(); err != nil {
		return model.Transient("E022", "commit transaction", err)
	}
	return nil
}

// Rollback aborts the transaction and releases the writer lock held by Begin.
func (s *Store) Rollback(tx *Tx) error {
	defer s.release()
	return tx.tx.Rollback()
}

func (s *Store) release() {
	s.inTx = false
	s.writeMu.Unlock()
}

// DB exposes the raw handle for read-only queries issued by components that
// only ever read (LearningService scoring, reporting). Writers must go
// through Begin/Commit/Rollback.
func (s *Store) DB() *sql.DB { return s.db }
