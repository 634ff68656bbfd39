// Package review runs the periodic stale-case sweep: open and investigating
// cases that nobody has touched for a while are logged, and the high-risk
// ones are sent to the DSL.
package review

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/hyderomar92-ai/safeguard/internal/notify"
	"github.com/hyderomar92-ai/safeguard/internal/redact"
	"github.com/hyderomar92-ai/safeguard/internal/risk"
	"github.com/hyderomar92-ai/safeguard/internal/schema"
	"github.com/hyderomar92-ai/safeguard/internal/store"
)

// Defaults used when Config leaves a field zero.
const (
	DefaultSchedule   = "0 7 * * 1-5"
	DefaultStaleDays  = 7
	DefaultAlertScore = 70
)

// sweepTimeout bounds one scheduled sweep.
const sweepTimeout = 5 * time.Minute

// Lister is the read side of the case lifecycle.
type Lister interface {
	List(ctx context.Context, f store.Filter) ([]*schema.Case, error)
}

// Config controls the sweep.
type Config struct {
	Schedule   string
	StaleDays  int
	// AlertScore is the minimum score that alerts. Zero alerts on every
	// stale case; a negative value selects DefaultAlertScore.
	AlertScore int
	// Roster names are redacted from alert summaries.
	Roster []string
}

// Finding is one stale case.
type Finding struct {
	CaseID     string          `json:"case_id"`
	Student    string          `json:"student"`
	Status     schema.Status   `json:"status"`
	IdleDays   int             `json:"idle_days"`
	Assessment risk.Assessment `json:"assessment"`
	Alerted    bool            `json:"alerted"`
}

// Sweeper finds stale cases.
type Sweeper struct {
	cases    Lister
	notifier notify.Notifier
	cfg      Config
	log      logrus.FieldLogger
	now      func() time.Time
	cron     *cron.Cron
}

// New returns a Sweeper. notifier may be nil, in which case stale cases are
// only logged.
func New(cases Lister, notifier notify.Notifier, cfg Config, log logrus.FieldLogger) *Sweeper {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.StaleDays <= 0 {
		cfg.StaleDays = DefaultStaleDays
	}
	if cfg.AlertScore < 0 {
		cfg.AlertScore = DefaultAlertScore
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Sweeper{cases: cases, notifier: notifier, cfg: cfg, log: log, now: time.Now}
}

// RunOnce performs a single sweep and returns the stale cases, longest idle
// first.
func (s *Sweeper) RunOnce(ctx context.Context) ([]Finding, error) {
	now := s.now().UTC()
	cutoff := now.AddDate(0, 0, -s.cfg.StaleDays)

	var stale []*schema.Case
	for _, st := range []schema.Status{schema.StatusOpen, schema.StatusInvestigating} {
		cs, err := s.cases.List(ctx, store.Filter{Status: st})
		if err != nil {
			return nil, fmt.Errorf("review: list %s cases: %w", st, err)
		}
		for _, c := range cs {
			if c.UpdatedAt.Before(cutoff) {
				stale = append(stale, c)
			}
		}
	}
	sort.SliceStable(stale, func(i, j int) bool {
		return stale[i].UpdatedAt.Before(stale[j].UpdatedAt)
	})

	findings := make([]Finding, 0, len(stale))
	for _, c := range stale {
		f := Finding{
			CaseID:     c.ID,
			Student:    c.StudentName,
			Status:     c.Status,
			IdleDays:   int(now.Sub(c.UpdatedAt).Hours() / 24),
			Assessment: risk.Assess(c),
		}
		fields := logrus.Fields{
			"case_id":   f.CaseID,
			"status":    f.Status,
			"idle_days": f.IdleDays,
			"score":     f.Assessment.Score,
		}
		if s.notifier != nil && f.Assessment.Score >= s.cfg.AlertScore {
			err := s.notifier.Notify(ctx, notify.Alert{
				CaseID:  c.ID,
				Student: c.StudentName,
				Score:   f.Assessment.Score,
				Band:    f.Assessment.Band,
				Reason:  fmt.Sprintf("no update for %d days", f.IdleDays),
				Summary: redact.Redact(c.GeneratedReport.DSLSummary, c.StudentName, s.cfg.Roster, true),
			})
			if err != nil {
				s.log.WithError(err).WithFields(fields).Warn("stale case alert not delivered")
			} else {
				f.Alerted = true
			}
		}
		s.log.WithFields(fields).Info("stale case")
		findings = append(findings, f)
	}
	s.log.WithField("stale", len(findings)).Info("review sweep finished")
	return findings, nil
}

// Start schedules the sweep and returns immediately.
func (s *Sweeper) Start() error {
	if s.cron != nil {
		return fmt.Errorf("review: already started")
	}
	c := cron.New(cron.WithLocation(time.Local))
	if _, err := c.AddFunc(s.cfg.Schedule, s.scheduled); err != nil {
		return fmt.Errorf("review: schedule %q: %w", s.cfg.Schedule, err)
	}
	c.Start()
	s.cron = c
	s.log.WithField("schedule", s.cfg.Schedule).Info("review scheduler started")
	return nil
}

// Stop stops scheduling and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.cron = nil
	s.log.Info("review scheduler stopped")
}

func (s *Sweeper) scheduled() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()
	if _, err := s.RunOnce(ctx); err != nil {
		s.log.WithError(err).Error("review sweep failed")
	}
}
