package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq" // postgres driver for database/sql
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // sqlite driver for database/sql

	"github.com/hyderomar92-ai/safeguard/internal/schema"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Dialect names a supported SQL backend.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// ParseDialect accepts "sqlite" (or "sqlite3") and "postgres" (or "postgresql").
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "postgres", "postgresql":
		return DialectPostgres, nil
	default:
		return "", fmt.Errorf("store: unknown sql dialect %q", s)
	}
}

// Builder returns a squirrel statement builder using the dialect's
// placeholder format.
func (d Dialect) Builder() sq.StatementBuilderType {
	if d == DialectPostgres {
		return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	}
	return sq.StatementBuilder.PlaceholderFormat(sq.Question)
}

func (d Dialect) gooseDialect() goose.Dialect {
	if d == DialectPostgres {
		return goose.DialectPostgres
	}
	return goose.DialectSQLite3
}

// timeLayout is fixed-width so lexical order on the TEXT columns matches
// chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// FormatTime renders t in UTC using the column layout.
func FormatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

// ParseTime parses a value written by FormatTime.
func ParseTime(s string) (time.Time, error) { return time.Parse(timeLayout, s) }

var caseColumns = []string{
	"id", "student_name", "class_name", "incident_date", "incident_type", "raw_description",
	"report", "status", "related_log_ids", "created_by", "is_confidential", "resolution_notes",
	"completed_steps", "created_at", "updated_at",
}

// SQL is a Store backed by database/sql.
type SQL struct {
	db      *sql.DB
	dialect Dialect
	sb      sq.StatementBuilderType
}

// Open connects to the database, applies pending migrations and returns the
// store. For sqlite the dsn is a file path; its parent directory is created.
func Open(ctx context.Context, dialect Dialect, dsn string) (*SQL, error) {
	driver := string(dialect)
	if dialect == DialectSQLite {
		if dir := filepath.Dir(dsn); dsn != ":memory:" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("store: create dir: %w", err)
			}
		}
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", driver, err)
	}
	if dialect == DialectSQLite {
		// Single writer; avoids SQLITE_BUSY between pooled connections.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping %s: %w", driver, err)
	}
	s := NewSQL(db, dialect)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQL wraps an open database without migrating it.
func NewSQL(db *sql.DB, dialect Dialect) *SQL {
	return &SQL{db: db, dialect: dialect, sb: dialect.Builder()}
}

// Migrate applies the embedded migrations.
func (s *SQL) Migrate(ctx context.Context) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("store: migrations fs: %w", err)
	}
	provider, err := goose.NewProvider(s.dialect.gooseDialect(), s.db, fsys)
	if err != nil {
		return fmt.Errorf("store: goose new provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("store: goose up: %w", err)
	}
	return nil
}

// DB returns the underlying handle so the audit log can share it.
func (s *SQL) DB() *sql.DB { return s.db }

// Dialect returns the store's SQL dialect.
func (s *SQL) Dialect() Dialect { return s.dialect }

// Close closes the database connection.
func (s *SQL) Close() error { return s.db.Close() }

func (s *SQL) Get(ctx context.Context, id string) (*schema.Case, error) {
	query, args, err := s.sb.Select(caseColumns...).From("cases").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("store: build get: %w", err)
	}
	c, err := scanCase(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get %s: %w", id, err)
	}
	return c, nil
}

// List pushes the exact-match fields of f down to SQL and applies the
// case-insensitive ones in Go, so results match Memory for any collation.
func (s *SQL) List(ctx context.Context, f Filter) ([]*schema.Case, error) {
	q := s.sb.Select(caseColumns...).From("cases").OrderBy("updated_at DESC", "id ASC")
	if f.Status != "" {
		q = q.Where(sq.Eq{"status": string(f.Status)})
	}
	if f.Author != "" {
		q = q.Where(sq.Eq{"created_by": f.Author})
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("store: build list: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	defer rows.Close()

	out := []*schema.Case{}
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list scan: %w", err)
		}
		if f.Match(c) {
			out = append(out, c)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list rows: %w", err)
	}
	return out, nil
}

func (s *SQL) Put(ctx context.Context, c *schema.Case) error {
	if c == nil || c.ID == "" {
		return fmt.Errorf("store: case id is required")
	}
	report, err := json.Marshal(c.GeneratedReport)
	if err != nil {
		return fmt.Errorf("store: marshal report: %w", err)
	}
	logIDs, err := json.Marshal(c.RelatedLogIDs)
	if err != nil {
		return fmt.Errorf("store: marshal related logs: %w", err)
	}
	steps, err := json.Marshal(c.CompletedSteps)
	if err != nil {
		return fmt.Errorf("store: marshal completed steps: %w", err)
	}

	updates := make([]string, 0, len(caseColumns)-1)
	for _, col := range caseColumns[1:] {
		updates = append(updates, col+" = excluded."+col)
	}
	query, args, err := s.sb.Insert("cases").
		Columns(caseColumns...).
		Values(c.ID, c.StudentName, c.ClassName, FormatTime(c.Date), c.IncidentType, c.RawDescription,
			string(report), string(c.Status), string(logIDs), c.CreatedBy, c.IsConfidential,
			c.ResolutionNotes, string(steps), FormatTime(c.CreatedAt), FormatTime(c.UpdatedAt)).
		Suffix("ON CONFLICT (id) DO UPDATE SET " + strings.Join(updates, ", ")).
		ToSql()
	if err != nil {
		return fmt.Errorf("store: build put: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("store: put %s: %w", c.ID, err)
	}
	return nil
}

func (s *SQL) Delete(ctx context.Context, id string) error {
	query, args, err := s.sb.Delete("cases").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("store: build delete: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("store: delete %s: %w", id, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCase(row rowScanner) (*schema.Case, error) {
	var (
		c                             schema.Case
		date, created, updated        string
		status, report, logIDs, steps string
	)
	err := row.Scan(&c.ID, &c.StudentName, &c.ClassName, &date, &c.IncidentType, &c.RawDescription,
		&report, &status, &logIDs, &c.CreatedBy, &c.IsConfidential, &c.ResolutionNotes,
		&steps, &created, &updated)
	if err != nil {
		return nil, err
	}
	c.Status = schema.Status(status)
	if err := json.Unmarshal([]byte(report), &c.GeneratedReport); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	if err := json.Unmarshal([]byte(logIDs), &c.RelatedLogIDs); err != nil {
		return nil, fmt.Errorf("decode related logs: %w", err)
	}
	if err := json.Unmarshal([]byte(steps), &c.CompletedSteps); err != nil {
		return nil, fmt.Errorf("decode completed steps: %w", err)
	}
	for _, ts := range []struct {
		src string
		dst *time.Time
	}{{date, &c.Date}, {created, &c.CreatedAt}, {updated, &c.UpdatedAt}} {
		t, err := ParseTime(ts.src)
		if err != nil {
			return nil, fmt.Errorf("decode timestamp %q: %w", ts.src, err)
		}
		*ts.dst = t
	}
	return &c, nil
}
