// Package redact removes references to other students from case text before
// it is copied, exported or printed. The case subject is never redacted.
//
// Matching happens in two steps: the roster is compiled into terms, the text
// is scanned into non-overlapping spans, and only then are the spans
// substituted. Existing placeholders and occurrences of the subject's name are
// protected spans that no term may overlap, which keeps the transform
// idempotent.
package redact

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/hyderomar92-ai/safeguard/internal/schema"
)

// Placeholders substituted for redacted names.
const (
	FullNamePlaceholder  = "[REDACTED]"
	FirstNamePlaceholder = "[STUDENT]"
)

// Minimum rune lengths: full names must be longer than 4, first names longer than 3.
const (
	minFullNameLen  = 5
	minFirstNameLen = 4
)

// Tier says which replacement rule produced a match.
type Tier int

const (
	TierFullName Tier = iota + 1
	TierFirstName
)

// Placeholder returns the replacement text for the tier.
func (t Tier) Placeholder() string {
	if t == TierFirstName {
		return FirstNamePlaceholder
	}
	return FullNamePlaceholder
}

// Match is one span of text attributed to a roster name.
type Match struct {
	Start int
	End   int
	Name  string
	Tier  Tier
}

type term struct {
	name      string
	re        *regexp.Regexp
	tier      Tier
	wholeWord bool
}

type span struct{ start, end int }

// Redactor is compiled once per (subject, roster) pair and may be reused for
// any number of texts. It is safe for concurrent use.
type Redactor struct {
	subjectRe *regexp.Regexp
	terms     []term
}

// Redact applies the redaction to text when enabled is true and returns text
// unchanged otherwise.
func Redact(text, subjectName string, rosterNames []string, enabled bool) string {
	if !enabled {
		return text
	}
	return New(subjectName, rosterNames).Redact(text)
}

// New compiles the roster into redaction terms. Roster entries equal to the
// subject (ignoring case) are skipped, as are names too short to redact
// safely.
func New(subjectName string, rosterNames []string) *Redactor {
	subject := normalize(subjectName)
	subjectFirst := firstToken(subject)

	r := &Redactor{}
	if subject != "" {
		r.subjectRe = namePattern(subject)
	}

	var full, first []term
	seen := make(map[string]bool)
	for _, raw := range rosterNames {
		name := normalize(raw)
		if name == "" || strings.EqualFold(name, subject) || utf8.RuneCountInString(name) < minFullNameLen {
			continue
		}
		if key := "full:" + strings.ToLower(name); !seen[key] {
			seen[key] = true
			full = append(full, term{name: name, re: namePattern(name), tier: TierFullName})
		}

		fn := firstToken(name)
		if utf8.RuneCountInString(fn) < minFirstNameLen || strings.EqualFold(fn, subjectFirst) {
			continue
		}
		if key := "first:" + strings.ToLower(fn); !seen[key] {
			seen[key] = true
			first = append(first, term{name: fn, re: namePattern(fn), tier: TierFirstName, wholeWord: true})
		}
	}

	// Longest first so "Anna Bell Smith" wins over "Anna Bell".
	byLength := func(ts []term) {
		sort.SliceStable(ts, func(i, j int) bool {
			return utf8.RuneCountInString(ts[i].name) > utf8.RuneCountInString(ts[j].name)
		})
	}
	byLength(full)
	byLength(first)
	r.terms = append(full, first...)
	return r
}

// Redact returns text with every match replaced by its tier's placeholder.
// Whitespace and punctuation outside matches are left untouched.
func (r *Redactor) Redact(text string) string {
	matches := r.Matches(text)
	if len(matches) == 0 {
		return text
	}
	text = norm.NFC.String(text)
	var sb strings.Builder
	sb.Grow(len(text))
	pos := 0
	for _, m := range matches {
		sb.WriteString(text[pos:m.Start])
		sb.WriteString(m.Tier.Placeholder())
		pos = m.End
	}
	sb.WriteString(text[pos:])
	return sb.String()
}

// Matches scans text and returns non-overlapping matches ordered by start
// offset. Full-name terms are applied before first-name terms. Offsets index
// the NFC form of text.
func (r *Redactor) Matches(text string) []Match {
	if len(r.terms) == 0 || text == "" {
		return nil
	}
	text = norm.NFC.String(text)
	taken := r.protected(text)

	var out []Match
	for _, t := range r.terms {
		var found []span
		for _, g := range gaps(taken, len(text)) {
			for _, s := range t.find(text[g.start:g.end]) {
				found = append(found, span{g.start + s.start, g.start + s.end})
			}
		}
		for _, s := range found {
			out = append(out, Match{Start: s.start, End: s.end, Name: t.name, Tier: t.tier})
		}
		taken = merge(append(taken, found...))
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// Case returns a copy of c with every free-text field redacted. Next steps
// and completed steps go through the same transform, so completed steps stay
// a subset of next steps.
func (r *Redactor) Case(c *schema.Case) *schema.Case {
	out := c.Clone()
	if out == nil {
		return nil
	}
	out.RawDescription = r.Redact(out.RawDescription)
	out.ResolutionNotes = r.Redact(out.ResolutionNotes)

	rep := &out.GeneratedReport
	rep.DSLSummary = r.Redact(rep.DSLSummary)
	rep.EvidenceAnalysis = r.Redact(rep.EvidenceAnalysis)
	r.redactAll(rep.Chronology)
	r.redactAll(rep.KeyEvidence)
	r.redactAll(rep.WitnessQuestions)
	r.redactAll(rep.NextSteps)
	r.redactAll(out.CompletedSteps)
	return out
}

func (r *Redactor) redactAll(ss []string) {
	for i := range ss {
		ss[i] = r.Redact(ss[i])
	}
}

// protected returns the spans no term may touch: placeholders already in the
// text and every occurrence of the subject's name.
func (r *Redactor) protected(text string) []span {
	var ps []span
	for _, p := range []string{FullNamePlaceholder, FirstNamePlaceholder} {
		for off := 0; ; {
			i := strings.Index(text[off:], p)
			if i < 0 {
				break
			}
			ps = append(ps, span{off + i, off + i + len(p)})
			off += i + len(p)
		}
	}
	if r.subjectRe != nil {
		for _, loc := range r.subjectRe.FindAllStringIndex(text, -1) {
			ps = append(ps, span{loc[0], loc[1]})
		}
	}
	return merge(ps)
}

// find returns all matches of t inside seg. For whole-word terms the segment
// edges count as word boundaries, because they abut a placeholder or a
// protected name.
func (t term) find(seg string) []span {
	var out []span
	for p := 0; p < len(seg); {
		loc := t.re.FindStringIndex(seg[p:])
		if loc == nil || loc[1] == loc[0] {
			break
		}
		s, e := p+loc[0], p+loc[1]
		if t.wholeWord && !(boundaryBefore(seg, s) && boundaryAfter(seg, e)) {
			_, size := utf8.DecodeRuneInString(seg[s:])
			p = s + size
			continue
		}
		out = append(out, span{s, e})
		p = e
	}
	return out
}

func boundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return !isWordRune(r)
}

func boundaryAfter(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return !isWordRune(r)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r) || r == '_'
}

// gaps returns the complement of the sorted, merged spans within [0, n).
func gaps(taken []span, n int) []span {
	var out []span
	pos := 0
	for _, s := range taken {
		if s.start > pos {
			out = append(out, span{pos, s.start})
		}
		if s.end > pos {
			pos = s.end
		}
	}
	if pos < n {
		out = append(out, span{pos, n})
	}
	return out
}

func merge(ss []span) []span {
	if len(ss) == 0 {
		return ss
	}
	sort.Slice(ss, func(i, j int) bool { return ss[i].start < ss[j].start })
	out := []span{ss[0]}
	for _, s := range ss[1:] {
		last := &out[len(out)-1]
		if s.start <= last.end {
			if s.end > last.end {
				last.end = s.end
			}
			continue
		}
		out = append(out, s)
	}
	return out
}

// namePattern compiles a case-insensitive literal pattern for name in which
// any run of whitespace between tokens matches any run of whitespace.
func namePattern(name string) *regexp.Regexp {
	tokens := strings.Fields(name)
	for i, tok := range tokens {
		tokens[i] = regexp.QuoteMeta(tok)
	}
	return regexp.MustCompile(`(?i)` + strings.Join(tokens, `\s+`))
}

func normalize(name string) string {
	return strings.Join(strings.Fields(norm.NFC.String(name)), " ")
}

func firstToken(name string) string {
	if f := strings.Fields(name); len(f) > 0 {
		return f[0]
	}
	return ""
}
