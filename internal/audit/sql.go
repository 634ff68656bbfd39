package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/hyderomar92-ai/safeguard/internal/store"
)

var entryColumns = []string{
	"sequence", "id", "at", "actor", "action", "case_id", "payload", "payload_hash", "previous_hash", "entry_hash",
}

// SQL is a Log stored in the audit_entries table created by the store
// migrations. It only ever inserts.
type SQL struct {
	mu sync.Mutex
	db *sql.DB
	sb sq.StatementBuilderType
}

// NewSQL returns a Log over db using the dialect's placeholders.
func NewSQL(db *sql.DB, dialect store.Dialect) *SQL {
	return &SQL{db: db, sb: dialect.Builder()}
}

func (s *SQL) Append(ctx context.Context, r Record) (*Entry, error) {
	payload, err := canonicalPayload(r.Payload)
	if err != nil {
		return nil, err
	}
	ts := r.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("audit: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	headQuery, args, err := s.sb.Select("sequence", "entry_hash").From("audit_entries").
		OrderBy("sequence DESC").Limit(1).ToSql()
	if err != nil {
		return nil, fmt.Errorf("audit: build head query: %w", err)
	}
	var (
		seq  uint64
		prev = genesis
	)
	err = tx.QueryRowContext(ctx, headQuery, args...).Scan(&seq, &prev)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("audit: read chain head: %w", err)
	}

	e := &Entry{
		ID:        uuid.New().String(),
		Sequence:  seq + 1,
		Timestamp: ts.UTC(),
		Actor:     r.Actor,
		Action:    r.Action,
		CaseID:    r.CaseID,
	}
	if err := seal(e, payload, prev); err != nil {
		return nil, err
	}

	insert, args, err := s.sb.Insert("audit_entries").Columns(entryColumns...).
		Values(int64(e.Sequence), e.ID, store.FormatTime(e.Timestamp), e.Actor, string(e.Action), e.CaseID,
			string(e.Payload), e.PayloadHash, e.PreviousHash, e.EntryHash).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("audit: build insert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, insert, args...); err != nil {
		return nil, fmt.Errorf("audit: insert: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("audit: commit: %w", err)
	}
	return e, nil
}

func (s *SQL) Query(ctx context.Context, f Filter) ([]*Entry, error) {
	q := s.sb.Select(entryColumns...).From("audit_entries").OrderBy("sequence ASC")
	if f.CaseID != "" {
		q = q.Where(sq.Eq{"case_id": f.CaseID})
	}
	if f.Actor != "" {
		q = q.Where(sq.Eq{"actor": f.Actor})
	}
	if f.Action != "" {
		q = q.Where(sq.Eq{"action": string(f.Action)})
	}
	if !f.Since.IsZero() {
		q = q.Where(sq.GtOrEq{"at": store.FormatTime(f.Since)})
	}
	if !f.Until.IsZero() {
		q = q.Where(sq.LtOrEq{"at": store.FormatTime(f.Until)})
	}
	if f.MaxResults > 0 {
		q = q.Limit(uint64(f.MaxResults))
	}
	return s.query(ctx, q)
}

func (s *SQL) Verify(ctx context.Context) error {
	entries, err := s.query(ctx, s.sb.Select(entryColumns...).From("audit_entries").OrderBy("sequence ASC"))
	if err != nil {
		return err
	}
	return verifyChain(entries)
}

func (s *SQL) query(ctx context.Context, q sq.SelectBuilder) ([]*Entry, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("audit: build query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	defer rows.Close()

	out := make([]*Entry, 0)
	for rows.Next() {
		var (
			e       Entry
			seq     int64
			at      string
			action  string
			payload string
		)
		if err := rows.Scan(&seq, &e.ID, &at, &e.Actor, &action, &e.CaseID,
			&payload, &e.PayloadHash, &e.PreviousHash, &e.EntryHash); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		ts, err := store.ParseTime(at)
		if err != nil {
			return nil, fmt.Errorf("audit: decode timestamp %q: %w", at, err)
		}
		e.Sequence = uint64(seq)
		e.Timestamp = ts
		e.Action = Action(action)
		e.Payload = []byte(payload)
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: rows: %w", err)
	}
	return out, nil
}
