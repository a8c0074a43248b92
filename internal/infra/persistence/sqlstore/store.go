// Package sqlstore implements domain.StatusStore over database/sql. The
// sqlite and postgres packages supply the driver and dialect.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"termsync/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.StatusStore = (*Store)(nil)

// Table holds the single status table name shared by all SQL backends.
const Table = "syndication_import"

// Dialect captures the differences between SQL backends.
type Dialect struct {
	Name string
	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder func(n int) string
}

var (
	// SQLite binds with '?'.
	SQLite = Dialect{Name: "sqlite", Placeholder: func(int) string { return "?" }}
	// Postgres binds with '$n'.
	Postgres = Dialect{Name: "postgres", Placeholder: func(n int) string { return fmt.Sprintf("$%d", n) }}
)

// Store persists one row per terminology.
type Store struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// New wraps db, creating the status table if it is missing.
func New(ctx context.Context, db *sql.DB, dialect Dialect) (*Store, error) {
	if db == nil {
		return nil, errors.New("sqlstore: nil db")
	}
	if _, err := db.ExecContext(ctx, ddl()); err != nil {
		return nil, fmt.Errorf("ensure %s table: %w", Table, err)
	}
	return &Store{db: db, dialect: dialect, now: func() time.Time { return time.Now().UTC() }}, nil
}

func ddl() string {
	return `CREATE TABLE IF NOT EXISTS ` + Table + ` (
		terminology TEXT PRIMARY KEY,
		requested_version TEXT NOT NULL,
		actual_version TEXT,
		status TEXT NOT NULL,
		error_message TEXT,
		updated_at_ms BIGINT NOT NULL
	)`
}

const columns = "terminology, requested_version, actual_version, status, error_message, updated_at_ms"

// Get returns the status row for terminology.
func (s *Store) Get(ctx context.Context, terminology string) (domain.ImportStatus, bool, error) {
	query := "SELECT " + columns + " FROM " + Table + " WHERE terminology = " + s.dialect.Placeholder(1)
	rows, err := s.db.QueryContext(ctx, query, terminology)
	if err != nil {
		return domain.ImportStatus{}, false, fmt.Errorf("select %s: %w", terminology, err)
	}
	defer func() { _ = rows.Close() }()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return domain.ImportStatus{}, false, fmt.Errorf("iterate %s: %w", terminology, err)
		}
		return domain.ImportStatus{}, false, nil
	}
	status, err := scan(rows)
	if err != nil {
		return domain.ImportStatus{}, false, err
	}
	return status, true, nil
}

// Upsert writes status; an empty actual version keeps the stored one.
func (s *Store) Upsert(ctx context.Context, status domain.ImportStatus) error {
	if strings.TrimSpace(status.Terminology) == "" {
		return errors.New("sqlstore: terminology required")
	}
	p := s.dialect.Placeholder
	query := "INSERT INTO " + Table + "(" + columns + ") VALUES(" +
		strings.Join([]string{p(1), p(2), p(3), p(4), p(5), p(6)}, ",") + ")" +
		` ON CONFLICT(terminology) DO UPDATE SET
		requested_version = excluded.requested_version,
		actual_version = COALESCE(excluded.actual_version, ` + Table + `.actual_version),
		status = excluded.status,
		error_message = excluded.error_message,
		updated_at_ms = excluded.updated_at_ms`
	_, err := s.db.ExecContext(ctx, query,
		status.Terminology,
		status.RequestedVersion,
		nullable(status.ActualVersion),
		string(status.Status),
		nullable(status.ErrorMessage),
		s.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", status.Terminology, err)
	}
	return nil
}

// List returns every row ordered by terminology.
func (s *Store) List(ctx context.Context) ([]domain.ImportStatus, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+columns+" FROM "+Table+" ORDER BY terminology")
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", Table, err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.ImportStatus
	for rows.Next() {
		status, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, status)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", Table, err)
	}
	return out, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// SetClock overrides the timestamp source. Intended for tests.
func (s *Store) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func scan(rows *sql.Rows) (domain.ImportStatus, error) {
	var (
		status          domain.ImportStatus
		actual, message sql.NullString
		state           string
		updated         int64
	)
	if err := rows.Scan(&status.Terminology, &status.RequestedVersion, &actual, &state, &message, &updated); err != nil {
		return domain.ImportStatus{}, fmt.Errorf("scan: %w", err)
	}
	status.ActualVersion = actual.String
	status.ErrorMessage = message.String
	status.Status = domain.Status(state)
	status.UpdatedAt = time.UnixMilli(updated).UTC()
	return status, nil
}

func nullable(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
