// Package store persists safeguarding cases. Implementations are per-key
// upsert stores; lifecycle rules live in the lifecycle package.
package store

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/hyderomar92-ai/safeguard/internal/schema"
)

// ErrNotFound is returned by Get when no case has the requested id.
var ErrNotFound = errors.New("store: case not found")

// Store is the persistence boundary for cases. Implementations must return
// copies so callers cannot mutate stored state.
type Store interface {
	Get(ctx context.Context, id string) (*schema.Case, error)
	List(ctx context.Context, f Filter) ([]*schema.Case, error)
	Put(ctx context.Context, c *schema.Case) error
	// Delete removes the case. Deleting an unknown id is not an error.
	Delete(ctx context.Context, id string) error
}

// Filter narrows List results. Zero-valued fields match everything.
type Filter struct {
	Status schema.Status
	// Author matches CreatedBy exactly.
	Author string
	// IncidentType, ClassName and StudentName match case-insensitively.
	IncidentType string
	ClassName    string
	StudentName  string
	// Search is a case-insensitive substring of the student name, description,
	// incident type or report summary.
	Search string
}

// Match reports whether c passes every set field of f.
func (f Filter) Match(c *schema.Case) bool {
	if c == nil {
		return false
	}
	if f.Status != "" && c.Status != f.Status {
		return false
	}
	if f.Author != "" && c.CreatedBy != f.Author {
		return false
	}
	if !foldEq(f.IncidentType, c.IncidentType) || !foldEq(f.ClassName, c.ClassName) || !foldEq(f.StudentName, c.StudentName) {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(f.Search)); q != "" {
		for _, s := range []string{c.StudentName, c.RawDescription, c.IncidentType, c.GeneratedReport.DSLSummary} {
			if strings.Contains(strings.ToLower(s), q) {
				return true
			}
		}
		return false
	}
	return true
}

func foldEq(want, got string) bool {
	want = strings.TrimSpace(want)
	return want == "" || strings.EqualFold(want, strings.TrimSpace(got))
}

// sortByUpdated orders cases newest first, breaking ties by id.
func sortByUpdated(cs []*schema.Case) {
	sort.SliceStable(cs, func(i, j int) bool {
		if !cs[i].UpdatedAt.Equal(cs[j].UpdatedAt) {
			return cs[i].UpdatedAt.After(cs[j].UpdatedAt)
		}
		return cs[i].ID < cs[j].ID
	})
}
