package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyderomar92-ai/safeguard/internal/schema"
)

var base = time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)

func testCase(id, student string, updated time.Duration) *schema.Case {
	return &schema.Case{
		ID:             id,
		StudentName:    student,
		ClassName:      "7B",
		Date:           base,
		IncidentType:   "Bullying",
		RawDescription: "Lunch money taken by older pupils.",
		GeneratedReport: schema.GeneratedReport{
			DSLSummary: "Repeated taking of lunch money.",
			NextSteps:  []string{"Inform parents", "Review CCTV"},
			RiskLevel:  schema.RiskHigh,
			Sentiment:  schema.SentimentSerious,
		},
		Status:         schema.StatusOpen,
		RelatedLogIDs:  []string{"m1"},
		CreatedBy:      "dsl",
		CompletedSteps: []string{},
		CreatedAt:      base,
		UpdatedAt:      base.Add(updated),
	}
}

func TestFilter_Match(t *testing.T) {
	c := testCase("c1", "Jane Roe", 0)
	tests := []struct {
		name string
		f    Filter
		want bool
	}{
		{"empty", Filter{}, true},
		{"status", Filter{Status: schema.StatusOpen}, true},
		{"status miss", Filter{Status: schema.StatusClosed}, false},
		{"author", Filter{Author: "dsl"}, true},
		{"author is exact", Filter{Author: "DSL"}, false},
		{"type folds", Filter{IncidentType: "bullying"}, true},
		{"class folds", Filter{ClassName: " 7b "}, true},
		{"student folds", Filter{StudentName: "jane roe"}, true},
		{"student miss", Filter{StudentName: "Jane"}, false},
		{"search description", Filter{Search: "LUNCH"}, true},
		{"search summary", Filter{Search: "repeated"}, true},
		{"search type", Filter{Search: "bully"}, true},
		{"search miss", Filter{Search: "fire"}, false},
		{"combined", Filter{Status: schema.StatusOpen, Search: "roe"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.f.Match(c))
		})
	}
	assert.False(t, Filter{}.Match(nil))
}

func TestMemory_GetPutDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.Get(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	c := testCase("c1", "Jane Roe", 0)
	require.NoError(t, m.Put(ctx, c))

	got, err := m.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, c, got)

	// Stored state is isolated from both the caller's copy and returned copies.
	c.StudentName = "changed"
	got.GeneratedReport.NextSteps[0] = "changed"
	again, err := m.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "Jane Roe", again.StudentName)
	assert.Equal(t, "Inform parents", again.GeneratedReport.NextSteps[0])

	require.NoError(t, m.Delete(ctx, "c1"))
	require.NoError(t, m.Delete(ctx, "c1"), "delete is idempotent")
	_, err = m.Get(ctx, "c1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_PutRequiresID(t *testing.T) {
	assert.Error(t, NewMemory().Put(context.Background(), &schema.Case{}))
	assert.Error(t, NewMemory().Put(context.Background(), nil))
}

func TestMemory_ListOrderAndFilter(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Put(ctx, testCase("a", "Jane Roe", time.Minute)))
	require.NoError(t, m.Put(ctx, testCase("b", "Samuel Poe", 3*time.Minute)))
	require.NoError(t, m.Put(ctx, testCase("c", "Jane Roe", 2*time.Minute)))
	require.NoError(t, m.Put(ctx, testCase("d", "Jane Roe", 2*time.Minute)))

	all, err := m.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c", "d", "a"}, ids(all))

	jane, err := m.List(ctx, Filter{StudentName: "Jane Roe"})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "d", "a"}, ids(jane))

	none, err := m.List(ctx, Filter{Status: schema.StatusClosed})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func ids(cs []*schema.Case) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.ID
	}
	return out
}
