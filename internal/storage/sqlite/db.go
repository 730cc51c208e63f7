package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS students (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	student_id TEXT NOT NULL DEFAULT '',
	name       TEXT NOT NULL,
	class      TEXT NOT NULL DEFAULT '',
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_students_student_id ON students(student_id) WHERE student_id != '';
CREATE INDEX IF NOT EXISTS idx_students_name ON students(name);

CREATE TABLE IF NOT EXISTS teachers (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	name             TEXT NOT NULL,
	subject          TEXT NOT NULL DEFAULT '',
	teaching_classes TEXT NOT NULL DEFAULT '',
	created_at       DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_teachers_name_subject ON teachers(name, subject);

CREATE TABLE IF NOT EXISTS scores (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	student_id   INTEGER NOT NULL REFERENCES students(id),
	points       TEXT NOT NULL,
	reason       TEXT NOT NULL,
	teacher_name TEXT NOT NULL DEFAULT '',
	date         TEXT NOT NULL,
	batch_id     TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_scores_student ON scores(student_id);
CREATE INDEX IF NOT EXISTS idx_scores_batch ON scores(batch_id);

CREATE TABLE IF NOT EXISTS teacher_scores (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	teacher_id   INTEGER NOT NULL REFERENCES teachers(id),
	teacher_name TEXT NOT NULL,
	points       TEXT NOT NULL,
	reason       TEXT NOT NULL,
	class        TEXT NOT NULL DEFAULT '',
	subject      TEXT NOT NULL DEFAULT '',
	date         TEXT NOT NULL,
	batch_id     TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS teaching_observations (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	observer_teacher TEXT NOT NULL DEFAULT '',
	teaching_teacher TEXT NOT NULL DEFAULT '',
	class            TEXT NOT NULL DEFAULT '',
	date             TEXT NOT NULL,
	notes            TEXT NOT NULL DEFAULT '',
	batch_id         TEXT NOT NULL DEFAULT '',
	created_at       DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS pending_scores (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	item_index        INTEGER NOT NULL DEFAULT 0,
	student_name      TEXT NOT NULL DEFAULT '',
	student_no        TEXT NOT NULL DEFAULT '',
	class             TEXT NOT NULL DEFAULT '',
	reason            TEXT NOT NULL,
	teacher_name      TEXT NOT NULL DEFAULT '',
	subject           TEXT NOT NULL DEFAULT '',
	others            TEXT NOT NULL DEFAULT '',
	points            TEXT NOT NULL,
	batch_id          TEXT NOT NULL DEFAULT '',
	raw_data          TEXT NOT NULL DEFAULT '',
	unbound_reason    TEXT NOT NULL DEFAULT '',
	match_suggestions TEXT NOT NULL DEFAULT '[]',
	status            TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'resolved', 'rejected')),
	score_id          INTEGER REFERENCES scores(id),
	created_at        DATETIME NOT NULL,
	resolved_at       DATETIME
);
CREATE INDEX IF NOT EXISTS idx_pending_status ON pending_scores(status);

CREATE TABLE IF NOT EXISTS logs (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	action     TEXT NOT NULL,
	details    TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_logs_action ON logs(action);
`

// Store is the SQLite-backed roster, ledger and pending queue.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates or migrates the database at path. Foreign keys are enforced
// and every transaction takes the write lock up front, so a status
// check-and-set inside a transaction cannot interleave with another writer.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func dsn(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_busy_timeout=5000&_foreign_keys=on&_txlock=immediate"
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

// SetClock overrides the time source used for created_at and resolved_at.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

func isForeignKeyViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
	}
	return false
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// logAction appends an audit row. Details are stored as JSON.
func (s *Store) logAction(ctx context.Context, ex execer, action string, details any) error {
	payload, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("encoding audit details: %w", err)
	}
	_, err = ex.ExecContext(ctx,
		`INSERT INTO logs (action, details, created_at) VALUES (?, ?, ?)`,
		action, string(payload), s.now(),
	)
	return err
}
