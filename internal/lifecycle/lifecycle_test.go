package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyderomar92-ai/safeguard/internal/audit"
	"github.com/hyderomar92-ai/safeguard/internal/notify"
	"github.com/hyderomar92-ai/safeguard/internal/risk"
	"github.com/hyderomar92-ai/safeguard/internal/schema"
	"github.com/hyderomar92-ai/safeguard/internal/store"
)

var (
	frozen = time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC)
	dsl    = Session{Actor: "dsl@school"}
)

type recordingNotifier struct {
	alerts []notify.Alert
	err    error
}

func (r *recordingNotifier) Notify(_ context.Context, a notify.Alert) error {
	r.alerts = append(r.alerts, a)
	return r.err
}

type failingAudit struct {
	audit.Log
	fail bool
}

func (f *failingAudit) Append(ctx context.Context, r audit.Record) (*audit.Entry, error) {
	if f.fail {
		return nil, errors.New("disk full")
	}
	return f.Log.Append(ctx, r)
}

type fixture struct {
	svc      *Service
	store    *store.Memory
	audit    *audit.Memory
	notifier *recordingNotifier
}

// newFixture returns a service whose clock never advances, so every
// timestamp comes from the monotonic guard.
func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{store: store.NewMemory(), audit: audit.NewMemory(), notifier: &recordingNotifier{}}
	n := 0
	base := []Option{
		WithClock(func() time.Time { return frozen }),
		WithIDGenerator(func() string { n++; return fmt.Sprintf("case-%d", n) }),
		WithNotifier(f.notifier, DefaultAlertScore),
		WithRoster([]string{"Jane Roe", "Samuel Poe"}),
	}
	f.svc = New(f.store, f.audit, append(base, opts...)...)
	return f
}

func report(level schema.RiskLevel, sentiment schema.Sentiment, steps ...string) *schema.GeneratedReport {
	if steps == nil {
		steps = []string{}
	}
	return &schema.GeneratedReport{
		DSLSummary: "Samuel Poe took Jane Roe's lunch money.",
		NextSteps:  steps,
		RiskLevel:  level,
		Sentiment:  sentiment,
	}
}

func janeForm() Form {
	return Form{
		StudentName:    "Jane Roe",
		ClassName:      "7B",
		Date:           time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC),
		IncidentType:   "Bullying",
		RawDescription: "Lunch money taken.",
	}
}

func evidence() []schema.InteractionRecord {
	return []schema.InteractionRecord{{ID: "m2"}, {ID: "m1"}}
}

func actions(t *testing.T, log audit.Log) []audit.Action {
	t.Helper()
	es, err := log.Query(context.Background(), audit.Filter{})
	require.NoError(t, err)
	out := make([]audit.Action, len(es))
	for i, e := range es {
		out[i] = e.Action
	}
	return out
}

func TestCreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c, err := f.svc.Create(ctx, dsl, evidence(), report(schema.RiskMedium, schema.SentimentCautionary, "Call parents"), janeForm())
	require.NoError(t, err)

	assert.Equal(t, "case-1", c.ID)
	assert.Equal(t, schema.StatusOpen, c.Status)
	assert.Equal(t, "dsl@school", c.CreatedBy)
	assert.Equal(t, []string{"m2", "m1"}, c.RelatedLogIDs)
	assert.NotNil(t, c.CompletedSteps)
	assert.Empty(t, c.CompletedSteps)
	assert.True(t, c.CreatedAt.Equal(c.UpdatedAt))

	got, err := f.svc.Get(ctx, c.ID)
	require.NoError(t, err)
	if diff := cmp.Diff(c, got); diff != "" {
		t.Errorf("stored case mismatch (-created +stored):\n%s", diff)
	}
	assert.Equal(t, []audit.Action{audit.ActionCreate}, actions(t, f.audit))
	assert.Empty(t, f.notifier.alerts, "score 35 is below the alert threshold")
}

func TestCreate_Validation(t *testing.T) {
	valid := report(schema.RiskLow, schema.SentimentRoutine)
	tests := []struct {
		name   string
		sess   Session
		report *schema.GeneratedReport
		form   func(*Form)
		field  string
	}{
		{"no actor", Session{}, valid, nil, "actor"},
		{"nil report", dsl, nil, nil, "report"},
		{"bad report", dsl, &schema.GeneratedReport{DSLSummary: "x", NextSteps: []string{}, RiskLevel: "Extreme", Sentiment: "Routine"}, nil, "report"},
		{"blank student", dsl, valid, func(f *Form) { f.StudentName = "  " }, "student_name"},
		{"blank description", dsl, valid, func(f *Form) { f.RawDescription = "" }, "raw_description"},
		{"bad status", dsl, valid, func(f *Form) { f.Status = "Archived" }, "status"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			form := janeForm()
			if tt.form != nil {
				tt.form(&form)
			}
			_, err := f.svc.Create(context.Background(), tt.sess, nil, tt.report, form)
			require.ErrorIs(t, err, ErrValidation)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)

			all, err := f.store.List(context.Background(), store.Filter{})
			require.NoError(t, err)
			assert.Empty(t, all, "failed create must not store anything")
			assert.Empty(t, actions(t, f.audit))
		})
	}
}

func TestCreate_StatusAndDefaultDate(t *testing.T) {
	f := newFixture(t)
	form := janeForm()
	form.Status = "investigating"
	form.Date = time.Time{}
	c, err := f.svc.Create(context.Background(), dsl, nil, report(schema.RiskLow, schema.SentimentRoutine), form)
	require.NoError(t, err)
	assert.Equal(t, schema.StatusInvestigating, c.Status)
	assert.False(t, c.Date.IsZero())
	assert.NotNil(t, c.RelatedLogIDs)
}

func TestLifecycleRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	orig, err := f.svc.Create(ctx, dsl, evidence(), report(schema.RiskHigh, schema.SentimentSerious, "A", "B"), janeForm())
	require.NoError(t, err)

	updated, err := f.svc.Update(ctx, Session{Actor: "deputy"}, orig.Clone())
	require.NoError(t, err)

	assert.True(t, updated.UpdatedAt.After(orig.UpdatedAt), "updatedAt must strictly increase")
	if diff := cmp.Diff(orig, updated, cmpopts.IgnoreFields(schema.Case{}, "UpdatedAt")); diff != "" {
		t.Errorf("round trip mismatch (-orig +updated):\n%s", diff)
	}
	assert.Equal(t, "dsl@school", updated.CreatedBy, "createdBy is set once")
}

func TestUpdate_PreservesUnsuppliedFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	orig, err := f.svc.Create(ctx, dsl, evidence(), report(schema.RiskHigh, schema.SentimentSerious, "A", "B"), janeForm())
	require.NoError(t, err)
	_, err = f.svc.ToggleActionStep(ctx, dsl, orig.ID, "A")
	require.NoError(t, err)
	_, err = f.svc.SaveResolutionNotes(ctx, dsl, orig.ID, "Parents informed.")
	require.NoError(t, err)

	got, err := f.svc.Update(ctx, dsl, &schema.Case{
		ID:           orig.ID,
		IncidentType: "Online safety",
		CreatedBy:    "someone else",
		CreatedAt:    frozen.Add(-time.Hour),
	})
	require.NoError(t, err)

	assert.Equal(t, "Online safety", got.IncidentType)
	assert.Equal(t, orig.StudentName, got.StudentName)
	assert.Equal(t, orig.RawDescription, got.RawDescription)
	assert.Equal(t, orig.GeneratedReport, got.GeneratedReport)
	assert.Equal(t, orig.RelatedLogIDs, got.RelatedLogIDs)
	assert.Equal(t, []string{"A"}, got.CompletedSteps)
	assert.Equal(t, "Parents informed.", got.ResolutionNotes)
	assert.Equal(t, "dsl@school", got.CreatedBy)
	assert.True(t, got.CreatedAt.Equal(orig.CreatedAt))
	assert.Equal(t, schema.StatusOpen, got.Status)

	es, err := f.audit.Query(ctx, audit.Filter{Action: audit.ActionUpdate})
	require.NoError(t, err)
	require.Len(t, es, 1)
	assert.JSONEq(t, `{"fields":["incident_type"]}`, string(es[0].Payload))
}

func TestUpdate_ReconcilesSuppliedSteps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	orig, err := f.svc.Create(ctx, dsl, nil, report(schema.RiskLow, schema.SentimentRoutine, "A", "B"), janeForm())
	require.NoError(t, err)

	in := orig.Clone()
	in.CompletedSteps = []string{"B", "Z", "B"}
	got, err := f.svc.Update(ctx, dsl, in)
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, got.CompletedSteps)
}

func TestUpdate_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Update(ctx, dsl, &schema.Case{ID: "missing"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.Update(ctx, dsl, &schema.Case{})
	assert.ErrorIs(t, err, ErrValidation)

	orig, err := f.svc.Create(ctx, dsl, nil, report(schema.RiskLow, schema.SentimentRoutine), janeForm())
	require.NoError(t, err)
	_, err = f.svc.Update(ctx, dsl, &schema.Case{ID: orig.ID, Status: "Archived"})
	assert.ErrorIs(t, err, ErrValidation)

	got, err := f.svc.Get(ctx, orig.ID)
	require.NoError(t, err)
	assert.Equal(t, orig, got, "failed update must not change the case")
}

func TestSetStatus_AllTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c, err := f.svc.Create(ctx, dsl, nil, report(schema.RiskLow, schema.SentimentRoutine), janeForm())
	require.NoError(t, err)

	statuses := []schema.Status{schema.StatusOpen, schema.StatusInvestigating, schema.StatusClosed}
	last := c.UpdatedAt
	for _, from := range statuses {
		for _, to := range statuses {
			_, err := f.svc.SetStatus(ctx, dsl, c.ID, from)
			require.NoError(t, err)
			got, err := f.svc.SetStatus(ctx, dsl, c.ID, to)
			require.NoError(t, err, "%s -> %s", from, to)
			assert.Equal(t, to, got.Status)
			assert.True(t, got.UpdatedAt.After(last))
			last = got.UpdatedAt
		}
	}
}

func TestSetStatus_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.SetStatus(ctx, dsl, "missing", schema.StatusClosed)
	assert.ErrorIs(t, err, ErrNotFound)

	c, err := f.svc.Create(ctx, dsl, nil, report(schema.RiskLow, schema.SentimentRoutine), janeForm())
	require.NoError(t, err)
	_, err = f.svc.SetStatus(ctx, dsl, c.ID, "Archived")
	assert.ErrorIs(t, err, ErrValidation)

	got, err := f.svc.SetStatus(ctx, dsl, c.ID, "closed")
	require.NoError(t, err)
	assert.Equal(t, schema.StatusClosed, got.Status)
}

func TestToggleActionStep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c, err := f.svc.Create(ctx, dsl, nil, report(schema.RiskLow, schema.SentimentRoutine, "A", "B", "C"), janeForm())
	require.NoError(t, err)

	c, err = f.svc.ToggleActionStep(ctx, dsl, c.ID, "B")
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, c.CompletedSteps)

	c, err = f.svc.ToggleActionStep(ctx, dsl, c.ID, "A")
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "A"}, c.CompletedSteps)

	c, err = f.svc.ToggleActionStep(ctx, dsl, c.ID, "B")
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, c.CompletedSteps)

	_, err = f.svc.ToggleActionStep(ctx, dsl, c.ID, "D")
	assert.ErrorIs(t, err, ErrInvariantViolation)
	got, err := f.svc.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, got.CompletedSteps)

	_, err = f.svc.ToggleActionStep(ctx, dsl, "missing", "A")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveResolutionNotes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c, err := f.svc.Create(ctx, dsl, nil, report(schema.RiskLow, schema.SentimentRoutine), janeForm())
	require.NoError(t, err)

	c, err = f.svc.SaveResolutionNotes(ctx, dsl, c.ID, "first")
	require.NoError(t, err)
	c, err = f.svc.SaveResolutionNotes(ctx, dsl, c.ID, "second")
	require.NoError(t, err)
	assert.Equal(t, "second", c.ResolutionNotes)

	c, err = f.svc.SaveResolutionNotes(ctx, dsl, c.ID, "")
	require.NoError(t, err)
	assert.Empty(t, c.ResolutionNotes)
}

func TestRegenerate_StepInvariant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c, err := f.svc.Create(ctx, dsl, nil, report(schema.RiskLow, schema.SentimentRoutine, "A", "B", "C"), janeForm())
	require.NoError(t, err)
	for _, s := range []string{"A", "B"} {
		_, err = f.svc.ToggleActionStep(ctx, dsl, c.ID, s)
		require.NoError(t, err)
	}

	got, err := f.svc.Regenerate(ctx, dsl, c.ID, report(schema.RiskMedium, schema.SentimentCautionary, "B", "C", "D"))
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, got.CompletedSteps)
	assert.Equal(t, []string{"B", "C", "D"}, got.GeneratedReport.NextSteps)

	_, err = f.svc.Regenerate(ctx, dsl, c.ID, nil)
	assert.ErrorIs(t, err, ErrValidation)
	_, err = f.svc.Regenerate(ctx, dsl, "missing", report(schema.RiskLow, schema.SentimentRoutine))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReport_EnumsStoredCanonical(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lower := func(steps ...string) *schema.GeneratedReport {
		return report("high", " serious ", steps...)
	}

	c, err := f.svc.Create(ctx, dsl, nil, lower("A"), janeForm())
	require.NoError(t, err)
	assert.Equal(t, schema.RiskHigh, c.GeneratedReport.RiskLevel)
	assert.Equal(t, schema.SentimentSerious, c.GeneratedReport.Sentiment)
	assert.Equal(t, 70, risk.Assess(c).Score)
	assert.Len(t, f.notifier.alerts, 1, "a canonicalised report reaches the alert threshold")

	c, err = f.svc.Regenerate(ctx, dsl, c.ID, report("critical", "critical", "B"))
	require.NoError(t, err)
	assert.Equal(t, 100, risk.Assess(c).Score)

	upd := c.Clone()
	upd.GeneratedReport = *lower("C")
	c, err = f.svc.Update(ctx, dsl, upd)
	require.NoError(t, err)
	assert.Equal(t, 70, risk.Assess(c).Score)

	stored, err := f.svc.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.RiskHigh, stored.GeneratedReport.RiskLevel)
	assert.Equal(t, schema.SentimentSerious, stored.GeneratedReport.Sentiment)
}

func TestRegenerate_StepInvariantProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	letters := []string{"A", "B", "C", "D", "E"}
	stepGen := gen.SliceOf(gen.IntRange(0, len(letters)-1).Map(func(i int) string { return letters[i] }))

	properties.Property("completed steps stay a subset of next steps", prop.ForAll(
		func(first, toggles, second []string) bool {
			f := newFixture(t)
			ctx := context.Background()
			first = slices.Compact(slices.Sorted(slices.Values(first)))
			c, err := f.svc.Create(ctx, dsl, nil, report(schema.RiskLow, schema.SentimentRoutine, first...), janeForm())
			if err != nil {
				return false
			}
			for _, s := range toggles {
				if slices.Contains(first, s) {
					if _, err := f.svc.ToggleActionStep(ctx, dsl, c.ID, s); err != nil {
						return false
					}
				}
			}
			second = slices.Compact(slices.Sorted(slices.Values(second)))
			got, err := f.svc.Regenerate(ctx, dsl, c.ID, report(schema.RiskLow, schema.SentimentRoutine, second...))
			if err != nil {
				return false
			}
			for _, s := range got.CompletedSteps {
				if !slices.Contains(second, s) {
					return false
				}
			}
			return risk.ResolutionPercent(got.CompletedSteps, second) <= 100
		},
		stepGen, stepGen, stepGen,
	))

	properties.TestingRun(t)
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c, err := f.svc.Create(ctx, dsl, nil, report(schema.RiskLow, schema.SentimentRoutine), janeForm())
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, dsl, c.ID))
	_, err = f.svc.Get(ctx, c.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, f.svc.Delete(ctx, dsl, c.ID), "delete is idempotent")
	assert.Equal(t, []audit.Action{audit.ActionCreate, audit.ActionDelete}, actions(t, f.audit))
}

func TestList_OrderAndFilter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, err := f.svc.Create(ctx, dsl, nil, report(schema.RiskLow, schema.SentimentRoutine), janeForm())
	require.NoError(t, err)
	form := janeForm()
	form.StudentName = "Samuel Poe"
	b, err := f.svc.Create(ctx, Session{Actor: "deputy"}, nil, report(schema.RiskLow, schema.SentimentRoutine), form)
	require.NoError(t, err)
	_, err = f.svc.SetStatus(ctx, dsl, a.ID, schema.StatusClosed)
	require.NoError(t, err)

	all, err := f.svc.List(ctx, store.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, a.ID, all[0].ID, "most recently updated first")
	assert.Equal(t, b.ID, all[1].ID)

	mine, err := f.svc.List(ctx, store.Filter{Author: "deputy"})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, b.ID, mine[0].ID)
}

func TestEndToEnd_JaneRoe(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c, err := f.svc.Create(ctx, dsl, evidence(),
		report(schema.RiskHigh, schema.SentimentSerious, "Inform parents", "Review CCTV", "Speak to duty staff"),
		janeForm())
	require.NoError(t, err)

	c, err = f.svc.ToggleActionStep(ctx, dsl, c.ID, "Review CCTV")
	require.NoError(t, err)

	a := risk.Assess(c)
	assert.Equal(t, 33, a.ResolutionPercent)
	assert.Equal(t, 70, a.Score)

	c, err = f.svc.SetStatus(ctx, dsl, c.ID, schema.StatusClosed)
	require.NoError(t, err)
	assert.Equal(t, schema.StatusClosed, c.Status)

	c, err = f.svc.SetStatus(ctx, dsl, c.ID, schema.StatusInvestigating)
	require.NoError(t, err)
	assert.Equal(t, schema.StatusInvestigating, c.Status)

	assert.Equal(t, []audit.Action{
		audit.ActionCreate, audit.ActionToggleStep, audit.ActionSetStatus, audit.ActionSetStatus,
	}, actions(t, f.audit))
	require.NoError(t, f.audit.Verify(ctx))

	// Score 70 reaches the alert threshold; the summary is redacted but the
	// subject's own name is kept.
	require.Len(t, f.notifier.alerts, 1)
	alert := f.notifier.alerts[0]
	assert.Equal(t, c.ID, alert.CaseID)
	assert.Equal(t, risk.BandHigh, alert.Band)
	assert.Equal(t, "[REDACTED] took Jane Roe's lunch money.", alert.Summary)
}

func TestNotifierFailureDoesNotFailCreate(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = errors.New("telegram down")
	_, err := f.svc.Create(context.Background(), dsl, nil, report(schema.RiskCritical, schema.SentimentCritical), janeForm())
	require.NoError(t, err)
	assert.Len(t, f.notifier.alerts, 1)
}

func TestAuditFailureRestoresState(t *testing.T) {
	st := store.NewMemory()
	fa := &failingAudit{Log: audit.NewMemory()}
	svc := New(st, fa, WithClock(func() time.Time { return frozen }))
	ctx := context.Background()

	c, err := svc.Create(ctx, dsl, nil, report(schema.RiskLow, schema.SentimentRoutine, "A"), janeForm())
	require.NoError(t, err)

	fa.fail = true
	_, err = svc.SetStatus(ctx, dsl, c.ID, schema.StatusClosed)
	require.Error(t, err)
	got, err := svc.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c, got, "failed audit append must leave the case unchanged")

	_, err = svc.Create(ctx, dsl, nil, report(schema.RiskLow, schema.SentimentRoutine), janeForm())
	require.Error(t, err)
	err = svc.Delete(ctx, dsl, c.ID)
	require.Error(t, err)

	all, err := svc.List(ctx, store.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, c.ID, all[0].ID)
}

func TestTick_StrictlyIncreasing(t *testing.T) {
	f := newFixture(t)
	a := f.svc.tick(time.Time{})
	b := f.svc.tick(time.Time{})
	assert.True(t, b.After(a))

	floor := frozen.Add(time.Hour)
	c := f.svc.tick(floor)
	assert.True(t, c.After(floor))
}
