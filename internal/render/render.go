// Package render produces output from cases and their derived assessments.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/hyderomar92-ai/safeguard/internal/risk"
	"github.com/hyderomar92-ai/safeguard/internal/schema"
)

// CaseView is a case together with its derived values. Case may already be
// redacted; Redacted records that so the output can say so.
type CaseView struct {
	Case       *schema.Case    `json:"case"`
	Assessment risk.Assessment `json:"assessment"`
	Redacted   bool            `json:"redacted"`
}

// NewCaseView assesses c and wraps it for rendering.
func NewCaseView(c *schema.Case, redacted bool) CaseView {
	return CaseView{Case: c, Assessment: risk.Assess(c), Redacted: redacted}
}

var titler = cases.Title(language.BritishEnglish)

// RenderJSON produces a pretty-printed JSON representation of the view.
func RenderJSON(v any) ([]byte, error) {
	if v == nil {
		return nil, fmt.Errorf("render: nil value")
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("render: json marshal: %w", err)
	}
	return b, nil
}

// RenderMarkdown produces a Markdown case sheet suitable for pasting into a
// record system. Every next step appears as a checklist item.
func RenderMarkdown(v CaseView) string {
	c := v.Case
	if c == nil {
		return ""
	}
	var sb strings.Builder
	r := c.GeneratedReport

	fmt.Fprintf(&sb, "## Safeguarding Case: %s\n\n", mdEscape(c.StudentName))
	if v.Redacted {
		sb.WriteString("> Other students' names have been redacted.\n\n")
	}
	if c.IsConfidential {
		sb.WriteString("> **CONFIDENTIAL**\n\n")
	}
	fmt.Fprintf(&sb, "**Case:** `%s`  \n", c.ID)
	if c.ClassName != "" {
		fmt.Fprintf(&sb, "**Class:** %s  \n", mdEscape(c.ClassName))
	}
	fmt.Fprintf(&sb, "**Date:** %s  \n", c.Date.Format("2006-01-02"))
	fmt.Fprintf(&sb, "**Type:** %s  \n", titler.String(c.IncidentType))
	fmt.Fprintf(&sb, "**Status:** %s  \n", c.Status)
	fmt.Fprintf(&sb, "**Risk:** %s / %s (score %d, %s)  \n",
		r.RiskLevel, r.Sentiment, v.Assessment.Score, v.Assessment.Band)
	fmt.Fprintf(&sb, "**Resolution:** %d%%\n\n", v.Assessment.ResolutionPercent)

	if r.DSLSummary != "" {
		sb.WriteString("### Summary\n\n")
		sb.WriteString(r.DSLSummary)
		sb.WriteString("\n\n")
	}

	writeList(&sb, "Chronology", r.Chronology)
	writeList(&sb, "Key Evidence", r.KeyEvidence)

	if r.EvidenceAnalysis != "" {
		sb.WriteString("### Evidence Analysis\n\n")
		sb.WriteString(r.EvidenceAnalysis)
		sb.WriteString("\n\n")
	}

	writeList(&sb, "Policies Applied", r.PoliciesApplied)
	writeList(&sb, "Witness Questions", r.WitnessQuestions)

	if len(r.NextSteps) > 0 {
		sb.WriteString("### Next Steps\n\n")
		for _, s := range r.NextSteps {
			box := " "
			if stepDone(c.CompletedSteps, s) {
				box = "x"
			}
			fmt.Fprintf(&sb, "- [%s] %s\n", box, s)
		}
		sb.WriteString("\n")
	}

	if c.ResolutionNotes != "" {
		sb.WriteString("### Resolution Notes\n\n")
		sb.WriteString(c.ResolutionNotes)
		sb.WriteString("\n\n")
	}

	if len(c.RelatedLogIDs) > 0 {
		fmt.Fprintf(&sb, "**Related logs:** %s\n\n", strings.Join(c.RelatedLogIDs, ", "))
	}

	fmt.Fprintf(&sb, "_Created by %s on %s; updated %s._\n",
		mdEscape(c.CreatedBy), c.CreatedAt.Format("2006-01-02 15:04"), c.UpdatedAt.Format("2006-01-02 15:04"))

	return sb.String()
}

// RenderTable writes one row per case: id, student, date, type, status,
// score, band and resolution.
func RenderTable(w io.Writer, cs []*schema.Case) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTUDENT\tDATE\tTYPE\tSTATUS\tSCORE\tBAND\tRESOLVED")
	for _, c := range cs {
		a := risk.Assess(c)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\t%d%%\n",
			c.ID, c.StudentName, c.Date.Format("2006-01-02"), titler.String(c.IncidentType),
			c.Status, a.Score, a.Band, a.ResolutionPercent)
	}
	return tw.Flush()
}

// RenderEvidence produces a Markdown table of meeting logs.
func RenderEvidence(student string, records []schema.InteractionRecord) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Evidence for %s\n\n", mdEscape(student))
	if len(records) == 0 {
		sb.WriteString("No meeting logs found.\n")
		return sb.String()
	}
	sb.WriteString("| ID | Date | Sentiment | Attendees | Notes |\n")
	sb.WriteString("|---|---|---|---|---|\n")
	for _, r := range records {
		fmt.Fprintf(&sb, "| %s | %s | %s | %s | %s |\n",
			r.ID, r.Date.Format("2006-01-02"), r.Sentiment,
			mdEscape(strings.Join(r.Attendees, ", ")), mdEscape(r.Notes))
	}
	return sb.String()
}

func writeList(sb *strings.Builder, heading string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(sb, "### %s\n\n", heading)
	for _, it := range items {
		fmt.Fprintf(sb, "- %s\n", it)
	}
	sb.WriteString("\n")
}

func stepDone(completed []string, step string) bool {
	for _, s := range completed {
		if s == step {
			return true
		}
	}
	return false
}

// mdEscape replaces characters that would break Markdown table cells.
func mdEscape(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", "")
	return s
}
