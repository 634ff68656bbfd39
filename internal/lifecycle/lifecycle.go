// Package lifecycle owns the safeguarding case aggregate: creation from a
// generated report, mutation (status, action steps, resolution notes,
// regeneration), deletion and retrieval.
//
// All operations on one Service are serialised. There is no optimistic
// concurrency check: two processes editing the same case overwrite each
// other, and the last write wins.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hyderomar92-ai/safeguard/internal/audit"
	"github.com/hyderomar92-ai/safeguard/internal/correlate"
	"github.com/hyderomar92-ai/safeguard/internal/notify"
	"github.com/hyderomar92-ai/safeguard/internal/redact"
	"github.com/hyderomar92-ai/safeguard/internal/risk"
	"github.com/hyderomar92-ai/safeguard/internal/schema"
	"github.com/hyderomar92-ai/safeguard/internal/store"
)

// DefaultAlertScore is the risk score at or above which a new or regenerated
// case raises an alert.
const DefaultAlertScore = 70

// Session identifies who is acting. It is passed explicitly to every
// mutating operation.
type Session struct {
	Actor string
}

func (s Session) validate() error {
	if strings.TrimSpace(s.Actor) == "" {
		return invalid("actor", "session actor is required")
	}
	return nil
}

// Form carries the author-supplied fields of a new case.
type Form struct {
	StudentName    string
	ClassName      string
	Date           time.Time
	IncidentType   string
	RawDescription string
	IsConfidential bool
	// Status defaults to Open when empty.
	Status schema.Status
}

// Service implements the case lifecycle over a Store and an audit Log.
type Service struct {
	mu    sync.Mutex
	store store.Store
	audit audit.Log
	log   logrus.FieldLogger

	now   func() time.Time
	newID func() string
	last  time.Time

	notifier   notify.Notifier
	alertScore int
	roster     []string
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator sets the case id source.
func WithIDGenerator(f func() string) Option {
	return func(s *Service) { s.newID = f }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Service) { s.log = l }
}

// WithNotifier enables alerts for cases scoring at least threshold.
func WithNotifier(n notify.Notifier, threshold int) Option {
	return func(s *Service) {
		s.notifier = n
		s.alertScore = threshold
	}
}

// WithRoster sets the names redacted from alert text.
func WithRoster(names []string) Option {
	return func(s *Service) { s.roster = slices.Clone(names) }
}

// New returns a Service.
func New(st store.Store, log audit.Log, opts ...Option) *Service {
	s := &Service{
		store:      st,
		audit:      log,
		log:        logrus.StandardLogger(),
		now:        time.Now,
		newID:      func() string { return uuid.New().String() },
		alertScore: DefaultAlertScore,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Create commits a new case built from a generated report. evidence is the
// set of meeting logs the report was generated from; their ids are stored as
// the case's related logs.
func (s *Service) Create(ctx context.Context, sess Session, evidence []schema.InteractionRecord, report *schema.GeneratedReport, form Form) (*schema.Case, error) {
	if err := sess.validate(); err != nil {
		return nil, err
	}
	if report == nil {
		return nil, invalid("report", "a generated report is required")
	}
	rep, err := canonicalReport(*report)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(form.StudentName) == "" {
		return nil, invalid("student_name", "is required")
	}
	if strings.TrimSpace(form.RawDescription) == "" {
		return nil, invalid("raw_description", "is required")
	}
	status := schema.StatusOpen
	if form.Status != "" {
		st, err := schema.ParseStatus(string(form.Status))
		if err != nil {
			return nil, invalid("status", "%q is not one of Open, Investigating, Closed", form.Status)
		}
		status = st
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.tick(time.Time{})
	date := form.Date
	if date.IsZero() {
		date = now
	}
	c := &schema.Case{
		ID:              s.newID(),
		StudentName:     strings.TrimSpace(form.StudentName),
		ClassName:       strings.TrimSpace(form.ClassName),
		Date:            date.UTC(),
		IncidentType:    strings.TrimSpace(form.IncidentType),
		RawDescription:  form.RawDescription,
		GeneratedReport: rep,
		Status:          status,
		RelatedLogIDs:   correlate.IDs(evidence),
		CreatedBy:       sess.Actor,
		IsConfidential:  form.IsConfidential,
		CompletedSteps:  []string{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.commit(ctx, sess, nil, c, audit.ActionCreate, map[string]any{
		"status":        c.Status,
		"incident_type": c.IncidentType,
		"related_logs":  len(c.RelatedLogIDs),
	}); err != nil {
		return nil, err
	}
	s.alert(ctx, c, "case created")
	return c.Clone(), nil
}

// Update replaces the stored case with the same id. createdBy and createdAt
// are always preserved. Blank strings, nil slices, a zero date, an empty
// status and a zero report mean "not supplied" and keep the stored value.
// Supplied completed steps are reconciled against the resulting next steps.
func (s *Service) Update(ctx context.Context, sess Session, c *schema.Case) (*schema.Case, error) {
	if err := sess.validate(); err != nil {
		return nil, err
	}
	if c == nil || strings.TrimSpace(c.ID) == "" {
		return nil, invalid("id", "an existing case id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, err := s.get(ctx, c.ID)
	if err != nil {
		return nil, err
	}

	next := c.Clone()
	next.CreatedBy = prev.CreatedBy
	next.CreatedAt = prev.CreatedAt
	keepString(&next.StudentName, prev.StudentName)
	keepString(&next.ClassName, prev.ClassName)
	keepString(&next.IncidentType, prev.IncidentType)
	keepString(&next.RawDescription, prev.RawDescription)
	keepString(&next.ResolutionNotes, prev.ResolutionNotes)
	if next.Date.IsZero() {
		next.Date = prev.Date
	}
	next.Date = next.Date.UTC()
	if next.Status == "" {
		next.Status = prev.Status
	} else if st, err := schema.ParseStatus(string(next.Status)); err != nil {
		return nil, invalid("status", "%q is not one of Open, Investigating, Closed", next.Status)
	} else {
		next.Status = st
	}
	if next.GeneratedReport.IsZero() {
		next.GeneratedReport = prev.GeneratedReport.Clone()
	} else if rep, err := canonicalReport(next.GeneratedReport); err != nil {
		return nil, err
	} else {
		next.GeneratedReport = rep
	}
	if next.RelatedLogIDs == nil {
		next.RelatedLogIDs = slices.Clone(prev.RelatedLogIDs)
	}
	if next.CompletedSteps == nil {
		next.CompletedSteps = prev.CompletedSteps
	}
	next.CompletedSteps = schema.ReconcileSteps(next.CompletedSteps, next.GeneratedReport.NextSteps)
	next.UpdatedAt = s.tick(prev.UpdatedAt)

	if err := s.commit(ctx, sess, prev, next, audit.ActionUpdate, map[string]any{
		"fields": changedFields(prev, next),
	}); err != nil {
		return nil, err
	}
	return next.Clone(), nil
}

// SetStatus moves a case to status. Every transition between the three
// statuses is allowed, including to the current status.
func (s *Service) SetStatus(ctx context.Context, sess Session, id string, status schema.Status) (*schema.Case, error) {
	if err := sess.validate(); err != nil {
		return nil, err
	}
	st, err := schema.ParseStatus(string(status))
	if err != nil {
		return nil, invalid("status", "%q is not one of Open, Investigating, Closed", status)
	}
	return s.mutate(ctx, sess, id, audit.ActionSetStatus, func(c *schema.Case) (map[string]any, error) {
		from := c.Status
		c.Status = st
		return map[string]any{"from": from, "to": st}, nil
	})
}

// ToggleActionStep marks step completed if it is not, and not completed if
// it is. step must be one of the report's next steps.
func (s *Service) ToggleActionStep(ctx context.Context, sess Session, id, step string) (*schema.Case, error) {
	if err := sess.validate(); err != nil {
		return nil, err
	}
	return s.mutate(ctx, sess, id, audit.ActionToggleStep, func(c *schema.Case) (map[string]any, error) {
		if !c.GeneratedReport.HasStep(step) {
			return nil, fmt.Errorf("%w: step %q is not a next step of case %s", ErrInvariantViolation, step, c.ID)
		}
		completed := !slices.Contains(c.CompletedSteps, step)
		if completed {
			c.CompletedSteps = append(c.CompletedSteps, step)
		} else {
			c.CompletedSteps = slices.DeleteFunc(c.CompletedSteps, func(x string) bool { return x == step })
		}
		c.CompletedSteps = schema.ReconcileSteps(c.CompletedSteps, c.GeneratedReport.NextSteps)
		return map[string]any{"step": step, "completed": completed}, nil
	})
}

// SaveResolutionNotes replaces the case's resolution notes. An empty text
// clears them.
func (s *Service) SaveResolutionNotes(ctx context.Context, sess Session, id, text string) (*schema.Case, error) {
	if err := sess.validate(); err != nil {
		return nil, err
	}
	return s.mutate(ctx, sess, id, audit.ActionSaveNotes, func(c *schema.Case) (map[string]any, error) {
		c.ResolutionNotes = text
		return map[string]any{"length": len(text)}, nil
	})
}

// Regenerate replaces the case's report wholesale. Completed steps that are
// not next steps of the new report are dropped.
func (s *Service) Regenerate(ctx context.Context, sess Session, id string, report *schema.GeneratedReport) (*schema.Case, error) {
	if err := sess.validate(); err != nil {
		return nil, err
	}
	if report == nil {
		return nil, invalid("report", "a generated report is required")
	}
	rep, err := canonicalReport(*report)
	if err != nil {
		return nil, err
	}
	c, err := s.mutate(ctx, sess, id, audit.ActionRegenerate, func(c *schema.Case) (map[string]any, error) {
		before := len(c.CompletedSteps)
		c.GeneratedReport = rep.Clone()
		c.CompletedSteps = schema.ReconcileSteps(c.CompletedSteps, c.GeneratedReport.NextSteps)
		return map[string]any{
			"risk_level":    c.GeneratedReport.RiskLevel,
			"sentiment":     c.GeneratedReport.Sentiment,
			"steps_dropped": before - len(c.CompletedSteps),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	s.alert(ctx, c, "report regenerated")
	return c, nil
}

// Delete removes a case permanently. Deleting an unknown id succeeds and
// records nothing.
func (s *Service) Delete(ctx context.Context, sess Session, id string) error {
	if err := sess.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, err := s.get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("lifecycle: delete %s: %w", id, err)
	}
	if _, err := s.audit.Append(ctx, audit.Record{
		Timestamp: s.tick(time.Time{}),
		Actor:     sess.Actor,
		Action:    audit.ActionDelete,
		CaseID:    id,
	}); err != nil {
		if rerr := s.store.Put(ctx, prev); rerr != nil {
			s.log.WithError(rerr).WithField("case_id", id).Error("restore after failed audit append")
		}
		return fmt.Errorf("lifecycle: audit delete %s: %w", id, err)
	}
	s.log.WithFields(logrus.Fields{"case_id": id, "actor": sess.Actor, "action": audit.ActionDelete}).Info("case deleted")
	return nil
}

// Get returns the case with id.
func (s *Service) Get(ctx context.Context, id string) (*schema.Case, error) {
	return s.get(ctx, id)
}

// List returns the cases matching f, most recently updated first.
func (s *Service) List(ctx context.Context, f store.Filter) ([]*schema.Case, error) {
	cs, err := s.store.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: list: %w", err)
	}
	return cs, nil
}

func (s *Service) get(ctx context.Context, id string) (*schema.Case, error) {
	c, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("lifecycle: get %s: %w", id, err)
	}
	return c, nil
}

// mutate runs fn on a copy of the stored case and commits the result.
func (s *Service) mutate(ctx context.Context, sess Session, id string, action audit.Action, fn func(c *schema.Case) (map[string]any, error)) (*schema.Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	next := prev.Clone()
	payload, err := fn(next)
	if err != nil {
		return nil, err
	}
	next.UpdatedAt = s.tick(prev.UpdatedAt)
	if err := s.commit(ctx, sess, prev, next, action, payload); err != nil {
		return nil, err
	}
	return next.Clone(), nil
}

// commit stores next and appends the audit entry. If the audit append fails
// the store is restored to prev (or the new case removed).
func (s *Service) commit(ctx context.Context, sess Session, prev, next *schema.Case, action audit.Action, payload map[string]any) error {
	if err := s.store.Put(ctx, next); err != nil {
		return fmt.Errorf("lifecycle: store %s: %w", next.ID, err)
	}
	if _, err := s.audit.Append(ctx, audit.Record{
		Timestamp: next.UpdatedAt,
		Actor:     sess.Actor,
		Action:    action,
		CaseID:    next.ID,
		Payload:   payload,
	}); err != nil {
		var rerr error
		if prev == nil {
			rerr = s.store.Delete(ctx, next.ID)
		} else {
			rerr = s.store.Put(ctx, prev)
		}
		if rerr != nil {
			s.log.WithError(rerr).WithField("case_id", next.ID).Error("restore after failed audit append")
		}
		return fmt.Errorf("lifecycle: audit %s: %w", action, err)
	}
	s.log.WithFields(logrus.Fields{"case_id": next.ID, "actor": sess.Actor, "action": action}).Info("case updated")
	return nil
}

// tick returns a timestamp strictly after both the last one issued and
// floor.
func (s *Service) tick(floor time.Time) time.Time {
	now := s.now().UTC()
	if !now.After(s.last) {
		now = s.last.Add(time.Nanosecond)
	}
	if !now.After(floor) {
		now = floor.UTC().Add(time.Nanosecond)
	}
	s.last = now
	return now
}

// alert notifies the DSL when c scores at or above the threshold. Failures
// are logged and never returned.
func (s *Service) alert(ctx context.Context, c *schema.Case, reason string) {
	if s.notifier == nil {
		return
	}
	a := risk.Assess(c)
	if a.Score < s.alertScore {
		return
	}
	err := s.notifier.Notify(ctx, notify.Alert{
		CaseID:  c.ID,
		Student: c.StudentName,
		Score:   a.Score,
		Band:    a.Band,
		Reason:  reason,
		Summary: redact.Redact(c.GeneratedReport.DSLSummary, c.StudentName, s.roster, true),
	})
	if err != nil {
		s.log.WithError(err).WithField("case_id", c.ID).Warn("alert not delivered")
	}
}

// canonicalReport validates r and returns a copy with its risk level and
// sentiment in canonical spelling.
func canonicalReport(r schema.GeneratedReport) (schema.GeneratedReport, error) {
	if problems := schema.ValidateReport(r); len(problems) > 0 {
		return schema.GeneratedReport{}, invalid("report", "%s", strings.Join(problems, "; "))
	}
	out := r.Clone()
	out.RiskLevel, _ = schema.ParseRiskLevel(string(r.RiskLevel))
	out.Sentiment, _ = schema.ParseSentiment(string(r.Sentiment))
	return out, nil
}

func keepString(dst *string, prev string) {
	if strings.TrimSpace(*dst) == "" {
		*dst = prev
	}
}

// changedFields lists the json names of the fields that differ.
func changedFields(a, b *schema.Case) []string {
	var out []string
	add := func(name string, changed bool) {
		if changed {
			out = append(out, name)
		}
	}
	add("student_name", a.StudentName != b.StudentName)
	add("class_name", a.ClassName != b.ClassName)
	add("date", !a.Date.Equal(b.Date))
	add("incident_type", a.IncidentType != b.IncidentType)
	add("raw_description", a.RawDescription != b.RawDescription)
	add("generated_report", !reportEqual(a.GeneratedReport, b.GeneratedReport))
	add("status", a.Status != b.Status)
	add("related_log_ids", !slices.Equal(a.RelatedLogIDs, b.RelatedLogIDs))
	add("is_confidential", a.IsConfidential != b.IsConfidential)
	add("resolution_notes", a.ResolutionNotes != b.ResolutionNotes)
	add("completed_steps", !slices.Equal(a.CompletedSteps, b.CompletedSteps))
	if out == nil {
		out = []string{}
	}
	return out
}

func reportEqual(a, b schema.GeneratedReport) bool {
	return a.DSLSummary == b.DSLSummary && a.EvidenceAnalysis == b.EvidenceAnalysis &&
		a.RiskLevel == b.RiskLevel && a.Sentiment == b.Sentiment &&
		slices.Equal(a.Chronology, b.Chronology) && slices.Equal(a.KeyEvidence, b.KeyEvidence) &&
		slices.Equal(a.PoliciesApplied, b.PoliciesApplied) && slices.Equal(a.WitnessQuestions, b.WitnessQuestions) &&
		slices.Equal(a.NextSteps, b.NextSteps)
}
