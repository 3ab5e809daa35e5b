package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// DB represents the database connection.
type DB struct {
	*sql.DB
	path   string
	logger *zerolog.Logger
}

var (
	ErrNotFound               = errors.New("not found")
	ErrDuplicate              = errors.New("duplicate record")
	ErrConcurrentModification = errors.New("concurrent modification")
)

// NewDB opens the database at path and creates tables if they don't exist.
func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	instance := &DB{DB: db, path: path, logger: logger}
	if err := instance.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("Database initialized")
	return instance, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

func (db *DB) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS employees (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL,
			deletion_status TEXT NOT NULL DEFAULT 'Active',
			can_access_remotely BOOLEAN NOT NULL DEFAULT 0,
			pin_hash TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS attendance_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			employee_id INTEGER NOT NULL,
			date TEXT NOT NULL,
			clock_in_time DATETIME NOT NULL,
			clock_out_time DATETIME,
			on_break BOOLEAN NOT NULL DEFAULT 0,
			break_start_time DATETIME,
			break_end_time DATETIME,
			total_break_time INTEGER,
			hours_worked REAL,
			status TEXT NOT NULL CHECK (status IN ('present', 'absent', 'late', 'half_day', 'on_break')),
			clock_in_location TEXT,
			clock_out_location TEXT,
			break_start_location TEXT,
			break_end_location TEXT,
			device_info TEXT,
			notes TEXT NOT NULL DEFAULT '[]',
			version INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (employee_id) REFERENCES employees(id)
		)`,
		`CREATE TABLE IF NOT EXISTS system_activities (
			id TEXT PRIMARY KEY,
			employee_id INTEGER NOT NULL,
			activity_type TEXT NOT NULL,
			payload TEXT,
			created_at DATETIME NOT NULL
		)`,

		// One record per employee and calendar day; a concurrent second
		// clock-in fails here instead of opening a second session.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_attendance_employee_date ON attendance_records(employee_id, date)`,
		`CREATE INDEX IF NOT EXISTS idx_attendance_date ON attendance_records(date)`,
		`CREATE INDEX IF NOT EXISTS idx_attendance_status ON attendance_records(status)`,
		`CREATE INDEX IF NOT EXISTS idx_employees_role ON employees(role, deletion_status)`,
		`CREATE INDEX IF NOT EXISTS idx_activities_employee ON system_activities(employee_id, created_at)`,
	}

	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return fmt.Errorf("exec migration %s: %w", trimSQL(q), err)
		}
	}
	return nil
}

func trimSQL(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 60 {
		return s[:60] + "..."
	}
	return s
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
