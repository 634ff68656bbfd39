package schema

import (
	"fmt"
	"strings"
)

// ParseStatus converts a string to a Status constant, ignoring case.
// Returns an error for unrecognized values.
func ParseStatus(s string) (Status, error) {
	for _, st := range []Status{StatusOpen, StatusInvestigating, StatusClosed} {
		if strings.EqualFold(strings.TrimSpace(s), string(st)) {
			return st, nil
		}
	}
	return "", fmt.Errorf("schema: unknown status %q (want Open, Investigating or Closed)", s)
}

// ParseRiskLevel converts a string to a RiskLevel constant, ignoring case.
func ParseRiskLevel(s string) (RiskLevel, error) {
	for _, r := range []RiskLevel{RiskLow, RiskMedium, RiskHigh, RiskCritical} {
		if strings.EqualFold(strings.TrimSpace(s), string(r)) {
			return r, nil
		}
	}
	return "", fmt.Errorf("schema: unknown risk level %q", s)
}

// ParseSentiment converts a string to a report Sentiment constant, ignoring case.
func ParseSentiment(s string) (Sentiment, error) {
	for _, v := range []Sentiment{SentimentCritical, SentimentSerious, SentimentCautionary, SentimentRoutine} {
		if strings.EqualFold(strings.TrimSpace(s), string(v)) {
			return v, nil
		}
	}
	return "", fmt.Errorf("schema: unknown sentiment %q", s)
}

// ParseMeetingSentiment converts a string to a MeetingSentiment, ignoring case.
func ParseMeetingSentiment(s string) (MeetingSentiment, error) {
	for _, v := range []MeetingSentiment{MeetingPositive, MeetingNeutral, MeetingConcerned} {
		if strings.EqualFold(strings.TrimSpace(s), string(v)) {
			return v, nil
		}
	}
	return "", fmt.Errorf("schema: unknown meeting sentiment %q", s)
}

// ValidateReport returns field-level error messages for a generated report.
func ValidateReport(r GeneratedReport) []string {
	var errs []string
	if strings.TrimSpace(r.DSLSummary) == "" {
		errs = append(errs, "dsl_summary is required")
	}
	if r.NextSteps == nil {
		errs = append(errs, "next_steps is required")
	}
	if r.RiskLevel == "" {
		errs = append(errs, "risk_level is required")
	} else if _, err := ParseRiskLevel(string(r.RiskLevel)); err != nil {
		errs = append(errs, fmt.Sprintf("risk_level %q is not valid", r.RiskLevel))
	}
	if r.Sentiment == "" {
		errs = append(errs, "sentiment is required")
	} else if _, err := ParseSentiment(string(r.Sentiment)); err != nil {
		errs = append(errs, fmt.Sprintf("sentiment %q is not valid", r.Sentiment))
	}
	return errs
}
