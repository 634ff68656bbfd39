// Package schema defines the canonical data types for safeguarding case files:
// roster identities, meeting logs, generated reports and the case aggregate.
package schema

import (
	"slices"
	"time"
)

// RiskLevel is the qualitative risk a generated report assigns to an incident.
type RiskLevel string

const (
	RiskLow      RiskLevel = "Low"
	RiskMedium   RiskLevel = "Medium"
	RiskHigh     RiskLevel = "High"
	RiskCritical RiskLevel = "Critical"
)

// Sentiment is the qualitative tone a generated report assigns to an incident.
type Sentiment string

const (
	SentimentCritical   Sentiment = "Critical"
	SentimentSerious    Sentiment = "Serious"
	SentimentCautionary Sentiment = "Cautionary"
	SentimentRoutine    Sentiment = "Routine"
)

// MeetingSentiment is the tone recorded on a meeting log by its author.
type MeetingSentiment string

const (
	MeetingPositive  MeetingSentiment = "Positive"
	MeetingNeutral   MeetingSentiment = "Neutral"
	MeetingConcerned MeetingSentiment = "Concerned"
)

// Status is the lifecycle state of a case. All transitions between the three
// states are legal and none of them is terminal.
type Status string

const (
	StatusOpen          Status = "Open"
	StatusInvestigating Status = "Investigating"
	StatusClosed        Status = "Closed"
)

// StudentIdentity is read-only roster data.
type StudentIdentity struct {
	ID        string `json:"id" yaml:"id"`
	FullName  string `json:"full_name" yaml:"full_name"`
	ClassName string `json:"class_name,omitempty" yaml:"class_name"`
}

// InteractionRecord is a meeting log entry. The engine only reads these.
type InteractionRecord struct {
	ID        string           `json:"id" yaml:"id"`
	Date      time.Time        `json:"date" yaml:"date"`
	Attendees []string         `json:"attendees" yaml:"attendees"`
	Sentiment MeetingSentiment `json:"sentiment" yaml:"sentiment"`
	Notes     string           `json:"notes" yaml:"notes"`
	CreatedBy string           `json:"created_by" yaml:"created_by"`
}

// GeneratedReport is the structured output of the report generation gateway.
// A report is replaced wholesale on regeneration, never patched.
type GeneratedReport struct {
	DSLSummary       string    `json:"dsl_summary"`
	Chronology       []string  `json:"chronology"`
	KeyEvidence      []string  `json:"key_evidence"`
	EvidenceAnalysis string    `json:"evidence_analysis"`
	PoliciesApplied  []string  `json:"policies_applied"`
	WitnessQuestions []string  `json:"witness_questions"`
	NextSteps        []string  `json:"next_steps"`
	RiskLevel        RiskLevel `json:"risk_level"`
	Sentiment        Sentiment `json:"sentiment"`
}

// IsZero reports whether r carries no generated content at all.
func (r GeneratedReport) IsZero() bool {
	return r.DSLSummary == "" && r.EvidenceAnalysis == "" && r.RiskLevel == "" &&
		r.Sentiment == "" && len(r.NextSteps) == 0 && len(r.Chronology) == 0
}

// Clone returns a deep copy of r.
func (r GeneratedReport) Clone() GeneratedReport {
	r.Chronology = slices.Clone(r.Chronology)
	r.KeyEvidence = slices.Clone(r.KeyEvidence)
	r.PoliciesApplied = slices.Clone(r.PoliciesApplied)
	r.WitnessQuestions = slices.Clone(r.WitnessQuestions)
	r.NextSteps = slices.Clone(r.NextSteps)
	return r
}

// HasStep reports whether step is one of the report's next steps.
func (r GeneratedReport) HasStep(step string) bool {
	return slices.Contains(r.NextSteps, step)
}

// Case is a safeguarding case file: the raw narrative, its generated report
// and the lifecycle metadata around it.
type Case struct {
	ID              string          `json:"id"`
	StudentName     string          `json:"student_name"`
	ClassName       string          `json:"class_name,omitempty"`
	Date            time.Time       `json:"date"`
	IncidentType    string          `json:"incident_type"`
	RawDescription  string          `json:"raw_description"`
	GeneratedReport GeneratedReport `json:"generated_report"`
	Status          Status          `json:"status"`
	RelatedLogIDs   []string        `json:"related_log_ids"`
	CreatedBy       string          `json:"created_by"`
	IsConfidential  bool            `json:"is_confidential"`
	ResolutionNotes string          `json:"resolution_notes,omitempty"`
	CompletedSteps  []string        `json:"completed_steps"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Clone returns a deep copy of c. Nil slices stay nil so callers can tell
// "not supplied" apart from "supplied empty".
func (c *Case) Clone() *Case {
	if c == nil {
		return nil
	}
	out := *c
	out.GeneratedReport = c.GeneratedReport.Clone()
	out.RelatedLogIDs = slices.Clone(c.RelatedLogIDs)
	out.CompletedSteps = slices.Clone(c.CompletedSteps)
	return &out
}

// ReconcileSteps returns the members of completed that are also in nextSteps,
// preserving the order of completed and dropping duplicates.
func ReconcileSteps(completed, nextSteps []string) []string {
	out := make([]string, 0, len(completed))
	for _, s := range completed {
		if slices.Contains(nextSteps, s) && !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}
