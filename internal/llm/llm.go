// Package llm is the report generation gateway. It handles LLM provider
// communication, prompt construction, response validation, and the single
// repair attempt. Provider failures surface as *GatewayError.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sirupsen/logrus"

	"github.com/hyderomar92-ai/safeguard/internal/profile"
	"github.com/hyderomar92-ai/safeguard/internal/schema"
)

// ErrInvalidModelOutput is returned (wrapped in a parse-failure GatewayError)
// when both the initial and repair responses fail validation.
var ErrInvalidModelOutput = errors.New("llm: invalid model output after repair attempt")

// ErrEmptyRequest is returned before any provider call when the student name
// or description is blank.
var ErrEmptyRequest = errors.New("llm: student name and description are required")

// Provider is the interface for LLM backends.
type Provider interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int, temperature float64) (string, error)
}

// NewProvider is the factory for creating LLM providers. It is a package-level
// variable so tests can replace it with a mock without modifying the call site.
// Tests must restore the original value; use t.Cleanup to do so safely.
var NewProvider func(providerName, model string) (Provider, error) = defaultNewProvider

// Request is the gateway input: who the case is about, what happened, and the
// meeting logs selected as evidence.
type Request struct {
	StudentName string
	Description string
	Evidence    []schema.InteractionRecord
}

// Options configures a Generate call.
type Options struct {
	Provider    string
	Model       string
	Profile     string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	// Logger, when set, receives debug output including full prompts.
	Logger logrus.FieldLogger
}

// Gateway turns a request into a generated report.
type Gateway interface {
	Generate(ctx context.Context, req Request) (*schema.GeneratedReport, error)
}

// Client is the Gateway backed by the configured provider.
type Client struct {
	Options Options
}

// NewClient returns a Client for opts.
func NewClient(opts Options) *Client {
	return &Client{Options: opts}
}

// Generate implements Gateway.
func (c *Client) Generate(ctx context.Context, req Request) (*schema.GeneratedReport, error) {
	return Generate(ctx, req, c.Options)
}

// ValidationError records a single validation failure on an LLM response.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

// Generate builds a prompt, calls the LLM, validates the response, and
// performs one repair attempt if validation fails. Nothing is retried on
// provider errors; those come back as *GatewayError.
func Generate(ctx context.Context, req Request, opts Options) (*schema.GeneratedReport, error) {
	if strings.TrimSpace(req.StudentName) == "" || strings.TrimSpace(req.Description) == "" {
		return nil, ErrEmptyRequest
	}

	profName := opts.Profile
	if profName == "" {
		profName = "general"
	}
	prof, err := profile.Load(profName)
	if err != nil {
		return nil, fmt.Errorf("llm: %w", err)
	}

	provider, err := NewProvider(opts.Provider, opts.Model)
	if err != nil {
		return nil, newGatewayError(fmt.Errorf("llm: create provider: %w", err))
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	sysPrompt := buildSystemPrompt(prof)
	userPrompt := buildUserPrompt(req)

	log := opts.Logger
	if log != nil {
		log.WithFields(logrus.Fields{"provider": opts.Provider, "model": opts.Model, "profile": prof.Name}).
			Debugf("system prompt:\n%s\nuser prompt:\n%s", sysPrompt, userPrompt)
	}

	raw, err := provider.Complete(ctx, sysPrompt, userPrompt, opts.MaxTokens, opts.Temperature)
	if err != nil {
		return nil, newGatewayError(fmt.Errorf("llm: complete: %w", err))
	}

	report, validationErrs := ValidateResponse(raw)
	if report != nil && !needsRepair(validationErrs) {
		applyDefaults(report, prof)
		return report, nil
	}
	if log != nil {
		log.WithField("errors", len(validationErrs)).Warn("model output failed validation; attempting repair")
	}

	// One repair attempt: include the original prompt and the invalid response
	// so the LLM has full context.
	repairPrompt := buildRepairPrompt(userPrompt, raw, validationErrs)
	raw2, err := provider.Complete(ctx, sysPrompt, repairPrompt, opts.MaxTokens, opts.Temperature)
	if err != nil {
		return nil, newGatewayError(fmt.Errorf("llm: repair complete: %w", err))
	}

	report2, validationErrs2 := ValidateResponse(raw2)
	if report2 != nil && !needsRepair(validationErrs2) {
		applyDefaults(report2, prof)
		return report2, nil
	}

	return nil, &GatewayError{Category: CategoryParseFailure, Err: ErrInvalidModelOutput}
}

// needsRepair returns true when validation errors include a parse,
// required-field or enum failure that requires a retry.
func needsRepair(errs []ValidationError) bool {
	for _, e := range errs {
		if e.Field == "json_parse" || e.Field == "required_field" || e.Field == "enum" {
			return true
		}
	}
	return false
}

// applyDefaults fills policies_applied from the profile when the model cited
// nothing.
func applyDefaults(r *schema.GeneratedReport, prof profile.Profile) {
	if len(r.PoliciesApplied) == 0 {
		r.PoliciesApplied = slices.Clone(prof.DefaultPolicies)
	}
}

// fenceRe matches a markdown code fence block (``` or ~~~) with an optional
// language tag and captures the content between the fences.
var fenceRe = regexp.MustCompile("(?s)^(?:`{3}|~{3})[^\\n]*\\n(.*?)(?:`{3}|~{3})\\s*$")

// openFenceRe matches only an opening fence line (no closing fence required).
// Used to strip orphaned opening fences from truncated responses.
var openFenceRe = regexp.MustCompile("^(?:`{3}|~{3})[^\\n]*\\n")

// stripMarkdownFences removes leading/trailing markdown code fences that LLMs
// sometimes wrap around JSON output (e.g., "```json\n...\n```").
func stripMarkdownFences(s string) string {
	s = strings.TrimSpace(s)
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	if loc := openFenceRe.FindStringIndex(s); loc != nil {
		return strings.TrimSpace(s[loc[1]:])
	}
	return s
}

// invalidJSONEscapeRe matches a backslash followed by any character that is not
// a valid JSON string escape character ("\/bfnrtu).
var invalidJSONEscapeRe = regexp.MustCompile(`\\([^"\\/bfnrtu])`)

// fixInvalidJSONEscapes replaces invalid JSON escape sequences in s with their
// correctly double-escaped equivalents.
func fixInvalidJSONEscapes(s string) string {
	return invalidJSONEscapeRe.ReplaceAllString(s, `\\$1`)
}

// ValidateResponse parses and validates the raw LLM response.
// Leading/trailing markdown fences are stripped before parsing. Enum values
// are normalised to their canonical spelling; blank and duplicate next steps
// are dropped and recorded as non-fatal errors. Returns a nil report on parse
// failure, missing required fields or invalid enums.
func ValidateResponse(raw string) (*schema.GeneratedReport, []ValidationError) {
	var errs []ValidationError

	raw = stripMarkdownFences(raw)

	// 1. JSON parse, with one escape sanitisation pass.
	var report schema.GeneratedReport
	if err := json.Unmarshal([]byte(raw), &report); err != nil {
		fixed := fixInvalidJSONEscapes(raw)
		if err2 := json.Unmarshal([]byte(fixed), &report); err2 != nil {
			errs = append(errs, ValidationError{Field: "json_parse", Message: err.Error()})
			return nil, errs
		}
	}

	// 2. Required fields.
	if strings.TrimSpace(report.DSLSummary) == "" {
		errs = append(errs, ValidationError{Field: "required_field", Message: "dsl_summary is missing"})
	}
	if report.NextSteps == nil {
		errs = append(errs, ValidationError{Field: "required_field", Message: "next_steps is missing"})
	}
	if report.RiskLevel == "" {
		errs = append(errs, ValidationError{Field: "required_field", Message: "risk_level is missing"})
	}
	if report.Sentiment == "" {
		errs = append(errs, ValidationError{Field: "required_field", Message: "sentiment is missing"})
	}
	if len(errs) > 0 {
		return nil, errs
	}

	// 3. Enums.
	if lvl, err := schema.ParseRiskLevel(string(report.RiskLevel)); err != nil {
		errs = append(errs, ValidationError{Field: "enum", Message: fmt.Sprintf("invalid risk_level %q", report.RiskLevel)})
	} else {
		report.RiskLevel = lvl
	}
	if s, err := schema.ParseSentiment(string(report.Sentiment)); err != nil {
		errs = append(errs, ValidationError{Field: "enum", Message: fmt.Sprintf("invalid sentiment %q", report.Sentiment)})
	} else {
		report.Sentiment = s
	}
	if len(errs) > 0 {
		return nil, errs
	}

	// 4. Next steps are toggled by their text, so they must be unique.
	steps := make([]string, 0, len(report.NextSteps))
	for i, s := range report.NextSteps {
		s = strings.TrimSpace(s)
		if s == "" || slices.Contains(steps, s) {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("next_steps[%d]", i),
				Message: "blank or duplicate step dropped",
			})
			continue
		}
		steps = append(steps, s)
	}
	report.NextSteps = steps

	for _, p := range []*[]string{&report.Chronology, &report.KeyEvidence, &report.PoliciesApplied, &report.WitnessQuestions} {
		if *p == nil {
			*p = []string{}
		}
	}

	return &report, errs
}

// buildSystemPrompt assembles the LLM system prompt.
func buildSystemPrompt(prof profile.Profile) string {
	var sb strings.Builder

	sb.WriteString("You are a safeguarding case assistant supporting a school's Designated " +
		"Safeguarding Lead (DSL). You turn a staff member's incident description and supporting " +
		"meeting logs into a structured case report.\n\n")

	sb.WriteString("Output ONLY valid JSON conforming to the schema below. " +
		"No prose, no markdown, no explanation outside the JSON.\n\n")

	sb.WriteString("Only cite meeting logs that appear in the EVIDENCE section, by their id. " +
		"Never invent events, dates, people or quotations. " +
		"If the evidence does not support a conclusion, say so in evidence_analysis.\n\n")

	sb.WriteString("next_steps must be short, distinct, actionable instructions; " +
		"they are tracked individually as the case is worked.\n\n")

	if prof.SystemPromptAddendum != "" {
		sb.WriteString(prof.SystemPromptAddendum)
		sb.WriteString("\n\n")
	}

	sb.WriteString(outputSchema)

	return sb.String()
}

// outputSchema is the JSON schema fragment shown to the LLM.
const outputSchema = `Output schema (JSON only):
{
  "dsl_summary": "two or three sentences for the DSL",
  "chronology": ["YYYY-MM-DD: event", "..."],
  "key_evidence": ["log-id: what it shows", "..."],
  "evidence_analysis": "...",
  "policies_applied": ["policy or guidance name", "..."],
  "witness_questions": ["...", "..."],
  "next_steps": ["...", "..."],
  "risk_level": "Low|Medium|High|Critical",
  "sentiment": "Critical|Serious|Cautionary|Routine"
}
`

// buildUserPrompt assembles the LLM user prompt.
func buildUserPrompt(req Request) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "STUDENT: %s\n\n", req.StudentName)

	sb.WriteString("INCIDENT DESCRIPTION:\n")
	sb.WriteString(strings.TrimSpace(req.Description))
	sb.WriteString("\n\nEVIDENCE (meeting logs):\n")
	if len(req.Evidence) == 0 {
		sb.WriteString("  (none selected)\n")
	}
	for _, r := range req.Evidence {
		fmt.Fprintf(&sb, "  [%s] %s sentiment=%s attendees=%s\n    %s\n",
			r.ID, r.Date.Format("2006-01-02"), r.Sentiment,
			strings.Join(r.Attendees, "; "), strings.ReplaceAll(strings.TrimSpace(r.Notes), "\n", "\n    "))
	}

	sb.WriteString("\nProduce the JSON report now.")

	return sb.String()
}

// buildRepairPrompt constructs the repair message. It includes the original
// user prompt and the previous invalid response so the LLM has full context.
func buildRepairPrompt(originalUserPrompt, previousResponse string, errs []ValidationError) string {
	var sb strings.Builder
	sb.WriteString(originalUserPrompt)
	sb.WriteString("\n\nYour previous response was:\n")
	sb.WriteString(previousResponse)
	sb.WriteString("\n\nThat response was invalid. Errors:\n")
	for _, e := range errs {
		fmt.Fprintf(&sb, "  - %s\n", e.Error())
	}
	sb.WriteString("\nPlease output only the corrected JSON conforming to the schema. Do not repeat the error.")
	return sb.String()
}

// ── Provider dispatch ─────────────────────────────────────────────────────────

// defaultNewProvider dispatches to the appropriate provider implementation.
func defaultNewProvider(providerName, model string) (Provider, error) {
	switch strings.ToLower(providerName) {
	case "anthropic", "":
		return newAnthropicProvider(model)
	case "openai":
		return newOpenAIProvider(model)
	case "google":
		return newGoogleProvider(model)
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", providerName)
	}
}

// ── Anthropic provider ───────────────────────────────────────────────────────

// anthropicProvider implements Provider using the Anthropic SDK.
// anthropic.Client is a value type; the SDK's NewClient returns it by value.
type anthropicProvider struct {
	client anthropic.Client
	model  string
}

func newAnthropicProvider(model string) (Provider, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("%w: ANTHROPIC_API_KEY", ErrMissingAPIKey)
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &anthropicProvider{client: client, model: model}, nil
}

func (p *anthropicProvider) Complete(
	ctx context.Context,
	systemPrompt, userPrompt string,
	maxTokens int,
	temperature float64,
) (string, error) {
	msg, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(p.model),
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(temperature),
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic: messages.new: %w", err)
	}
	if msg.StopReason == "refusal" {
		return "", fmt.Errorf("anthropic: %w", ErrSafetyBlock)
	}

	var parts []string
	for _, block := range msg.Content {
		// "text" is the only content type that carries assistant text output.
		if block.Type == "text" {
			parts = append(parts, block.Text)
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("anthropic: response contained no text content blocks")
	}
	return strings.Join(parts, ""), nil
}
