package llm

import (
	"context"
	"strings"
	"testing"

	"github.com/hyderomar92-ai/safeguard/internal/risk"
	"github.com/hyderomar92-ai/safeguard/internal/schema"
)

// bullyingResponse is the canned model response for a peer-on-peer incident.
const bullyingResponse = `{
  "dsl_summary": "Jane Roe reports sustained taking of lunch money by older pupils.",
  "chronology": ["2026-03-02: Jane disclosed lunch money taken", "2026-03-09: found crying after lunch"],
  "key_evidence": ["m1: first disclosure to Ms Clark"],
  "evidence_analysis": "Repeated pattern across two weeks; consistent account.",
  "policies_applied": ["Anti-Bullying Policy"],
  "witness_questions": ["Who was on lunch duty on 9 March?"],
  "next_steps": ["Speak to lunch duty staff", "Inform parents", "Review CCTV"],
  "risk_level": "High",
  "sentiment": "Serious"
}`

// neglectResponse cites no policies and uses lower-case enums.
const neglectResponse = "```json\n" + `{
  "dsl_summary": "Repeated hunger and unwashed uniform.",
  "next_steps": ["Refer to children's social care"],
  "risk_level": "critical",
  "sentiment": "critical"
}` + "\n```"

// routineResponse is a low-level record.
const routineResponse = `{
  "dsl_summary": "Minor playground disagreement, resolved.",
  "next_steps": [],
  "risk_level": "Low",
  "sentiment": "Routine"
}`

type singleResponseProvider struct {
	response string
}

func (p *singleResponseProvider) Complete(ctx context.Context, system, user string, maxTokens int, temp float64) (string, error) {
	return p.response, nil
}

func runGolden(t *testing.T, profileName, response string) *schema.GeneratedReport {
	t.Helper()
	origNewProvider := NewProvider
	NewProvider = func(_, _ string) (Provider, error) {
		return &singleResponseProvider{response: response}, nil
	}
	t.Cleanup(func() { NewProvider = origNewProvider })

	opts := Options{MaxTokens: 4096, Temperature: 0.2, Model: "mock", Profile: profileName}
	report, err := NewClient(opts).Generate(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	return report
}

func TestGolden_Bullying(t *testing.T) {
	r := runGolden(t, "general", bullyingResponse)
	if r.RiskLevel != schema.RiskHigh || r.Sentiment != schema.SentimentSerious {
		t.Errorf("got %s/%s, want High/Serious", r.RiskLevel, r.Sentiment)
	}
	if len(r.NextSteps) != 3 {
		t.Fatalf("expected 3 next steps, got %d", len(r.NextSteps))
	}
	if got := strings.Join(r.PoliciesApplied, ","); got != "Anti-Bullying Policy" {
		t.Errorf("cited policies must be kept, got %q", got)
	}
	if got := risk.Score(r.RiskLevel, r.Sentiment); got != 70 {
		t.Errorf("score = %d, want 70", got)
	}
}

func TestGolden_Neglect(t *testing.T) {
	r := runGolden(t, "kcsie", neglectResponse)
	if r.RiskLevel != schema.RiskCritical || r.Sentiment != schema.SentimentCritical {
		t.Errorf("got %s/%s, want Critical/Critical", r.RiskLevel, r.Sentiment)
	}
	if len(r.PoliciesApplied) != 2 {
		t.Errorf("expected kcsie default policies, got %q", r.PoliciesApplied)
	}
	if got := risk.Score(r.RiskLevel, r.Sentiment); got != 100 {
		t.Errorf("score = %d, want 100", got)
	}
}

func TestGolden_Routine(t *testing.T) {
	r := runGolden(t, "early-years", routineResponse)
	if len(r.NextSteps) != 0 || r.NextSteps == nil {
		t.Errorf("expected empty non-nil next steps, got %#v", r.NextSteps)
	}
	if got := risk.ResolutionPercent(nil, r.NextSteps); got != 0 {
		t.Errorf("resolution = %d, want 0", got)
	}
	if got := risk.Score(r.RiskLevel, r.Sentiment); got != 10 {
		t.Errorf("score = %d, want 10", got)
	}
}
