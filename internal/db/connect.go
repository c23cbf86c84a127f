package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	_ "modernc.org/sqlite"             // driver: sqlite
)

type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// Open opens a DB and ensures schema exists.
func Open(ctx context.Context, driver Driver, dsn string) (*sql.DB, error) {
	var drvName string
	switch driver {
	case DriverSQLite:
		drvName = "sqlite" // modernc driver
		if dsn == "" {
			dsn = "file:assessops.db?cache=shared&mode=rwc&_pragma=busy_timeout(5000)"
		}
	case DriverPostgres:
		drvName = "pgx" // pgx stdlib driver
		if dsn == "" {
			dsn = "postgres://localhost:5432/assessops?sslmode=disable"
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	if err := ensureSchema(ctx, db, driver); err != nil {
		return nil, err
	}
	return db, nil
}

func ensureSchema(ctx context.Context, db *sql.DB, driver Driver) error {
	var schema string
	switch driver {
	case DriverSQLite:
		schema = schemaSQLite
	case DriverPostgres:
		schema = schemaPostgres
	}
	_, err := db.ExecContext(ctx, schema)
	return err
}

// Timestamps are Unix milliseconds. The UNIQUE constraint on
// source_event_id makes re-ingestion a no-op even when two processes race
// on the same externally retried event.
const schemaSQLite = `
PRAGMA foreign_keys=ON;

CREATE TABLE IF NOT EXISTS students (
  id TEXT PRIMARY KEY,
  full_name TEXT NOT NULL,
  email TEXT,
  phone TEXT,
  normalized_email TEXT,
  normalized_phone TEXT,
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS ix_students_normalized_email ON students(normalized_email);
CREATE INDEX IF NOT EXISTS ix_students_normalized_phone ON students(normalized_phone);

CREATE TABLE IF NOT EXISTS tests (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL UNIQUE,
  max_marks INTEGER NOT NULL,
  marking_scheme_json TEXT NOT NULL,
  created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS attempts (
  id TEXT PRIMARY KEY,
  student_id TEXT NOT NULL REFERENCES students(id),
  test_id TEXT NOT NULL REFERENCES tests(id),
  source_event_id TEXT NOT NULL UNIQUE,
  started_at INTEGER NOT NULL,
  submitted_at INTEGER,
  answers_json TEXT NOT NULL,
  raw_payload TEXT NOT NULL,
  status TEXT NOT NULL,
  duplicate_of_attempt_id TEXT REFERENCES attempts(id)
);
CREATE INDEX IF NOT EXISTS ix_attempts_student_test ON attempts(student_id, test_id);
CREATE INDEX IF NOT EXISTS ix_attempts_status ON attempts(status);
CREATE INDEX IF NOT EXISTS ix_attempts_started_at ON attempts(started_at);

CREATE TABLE IF NOT EXISTS attempt_scores (
  attempt_id TEXT PRIMARY KEY REFERENCES attempts(id),
  correct INTEGER NOT NULL DEFAULT 0,
  wrong INTEGER NOT NULL DEFAULT 0,
  skipped INTEGER NOT NULL DEFAULT 0,
  accuracy REAL NOT NULL DEFAULT 0,
  net_correct INTEGER NOT NULL DEFAULT 0,
  score REAL NOT NULL DEFAULT 0,
  computed_at INTEGER NOT NULL,
  explanation_json TEXT
);

CREATE TABLE IF NOT EXISTS flags (
  id TEXT PRIMARY KEY,
  attempt_id TEXT NOT NULL REFERENCES attempts(id),
  reason TEXT NOT NULL,
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS ix_flags_attempt ON flags(attempt_id);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS students (
  id TEXT PRIMARY KEY,
  full_name TEXT NOT NULL,
  email TEXT,
  phone TEXT,
  normalized_email TEXT,
  normalized_phone TEXT,
  created_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS ix_students_normalized_email ON students(normalized_email);
CREATE INDEX IF NOT EXISTS ix_students_normalized_phone ON students(normalized_phone);

CREATE TABLE IF NOT EXISTS tests (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL UNIQUE,
  max_marks INTEGER NOT NULL,
  marking_scheme_json TEXT NOT NULL,
  created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS attempts (
  id TEXT PRIMARY KEY,
  student_id TEXT NOT NULL REFERENCES students(id),
  test_id TEXT NOT NULL REFERENCES tests(id),
  source_event_id TEXT NOT NULL UNIQUE,
  started_at BIGINT NOT NULL,
  submitted_at BIGINT,
  answers_json TEXT NOT NULL,
  raw_payload TEXT NOT NULL,
  status TEXT NOT NULL,
  duplicate_of_attempt_id TEXT REFERENCES attempts(id)
);
CREATE INDEX IF NOT EXISTS ix_attempts_student_test ON attempts(student_id, test_id);
CREATE INDEX IF NOT EXISTS ix_attempts_status ON attempts(status);
CREATE INDEX IF NOT EXISTS ix_attempts_started_at ON attempts(started_at);

CREATE TABLE IF NOT EXISTS attempt_scores (
  attempt_id TEXT PRIMARY KEY REFERENCES attempts(id),
  correct INTEGER NOT NULL DEFAULT 0,
  wrong INTEGER NOT NULL DEFAULT 0,
  skipped INTEGER NOT NULL DEFAULT 0,
  accuracy DOUBLE PRECISION NOT NULL DEFAULT 0,
  net_correct INTEGER NOT NULL DEFAULT 0,
  score DOUBLE PRECISION NOT NULL DEFAULT 0,
  computed_at BIGINT NOT NULL,
  explanation_json TEXT
);

CREATE TABLE IF NOT EXISTS flags (
  id TEXT PRIMARY KEY,
  attempt_id TEXT NOT NULL REFERENCES attempts(id),
  reason TEXT NOT NULL,
  created_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS ix_flags_attempt ON flags(attempt_id);
`
