package risk

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/hyderomar92-ai/safeguard/internal/schema"
)

var (
	allLevels     = []schema.RiskLevel{schema.RiskLow, schema.RiskMedium, schema.RiskHigh, schema.RiskCritical}
	allSentiments = []schema.Sentiment{schema.SentimentRoutine, schema.SentimentCautionary, schema.SentimentSerious, schema.SentimentCritical}
)

func TestScore(t *testing.T) {
	cases := []struct {
		level     schema.RiskLevel
		sentiment schema.Sentiment
		want      int
	}{
		{schema.RiskCritical, schema.SentimentCritical, 100},
		{schema.RiskLow, schema.SentimentRoutine, 10},
		{schema.RiskHigh, schema.SentimentSerious, 70},
		{schema.RiskMedium, schema.SentimentCautionary, 35},
		{schema.RiskCritical, schema.SentimentSerious, 90},
		{"", "", 0},            // unknown values weigh zero
		{"Extreme", "Dire", 0}, // likewise
	}
	for _, c := range cases {
		got := Score(c.level, c.sentiment)
		if got != c.want {
			t.Errorf("Score(%q, %q) = %d, want %d", c.level, c.sentiment, got, c.want)
		}
	}
}

func TestScore_BoundedForAllPairs(t *testing.T) {
	for _, l := range allLevels {
		for _, s := range allSentiments {
			got := Score(l, s)
			if got < 0 || got > 100 {
				t.Errorf("Score(%q, %q) = %d, outside [0,100]", l, s, got)
			}
		}
	}
}

func TestScore_Monotonic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	levels := make([]interface{}, len(allLevels))
	for i, l := range allLevels {
		levels[i] = l
	}
	sentiments := make([]interface{}, len(allSentiments))
	for i, s := range allSentiments {
		sentiments[i] = s
	}

	properties.Property("score never decreases as risk rank rises", prop.ForAll(
		func(a, b schema.RiskLevel, s schema.Sentiment) bool {
			if RiskOrdinal(a) > RiskOrdinal(b) {
				a, b = b, a
			}
			return Score(a, s) <= Score(b, s)
		},
		gen.OneConstOf(levels...),
		gen.OneConstOf(levels...),
		gen.OneConstOf(sentiments...),
	))

	properties.Property("score never decreases as sentiment rank rises", prop.ForAll(
		func(l schema.RiskLevel, a, b schema.Sentiment) bool {
			if SentimentOrdinal(a) > SentimentOrdinal(b) {
				a, b = b, a
			}
			return Score(l, a) <= Score(l, b)
		},
		gen.OneConstOf(levels...),
		gen.OneConstOf(sentiments...),
		gen.OneConstOf(sentiments...),
	))

	properties.TestingRun(t)
}

func TestResolutionPercent(t *testing.T) {
	cases := []struct {
		name      string
		completed []string
		next      []string
		want      int
	}{
		{"empty next steps", []string{"A"}, nil, 0},
		{"none done", nil, []string{"A", "B", "C"}, 0},
		{"one of three", []string{"A"}, []string{"A", "B", "C"}, 33},
		{"two of three", []string{"A", "B"}, []string{"A", "B", "C"}, 67},
		{"all done", []string{"A", "B"}, []string{"A", "B"}, 100},
		{"stale entries ignored", []string{"Z", "A"}, []string{"A", "B"}, 50},
	}
	for _, c := range cases {
		got := ResolutionPercent(c.completed, c.next)
		if got != c.want {
			t.Errorf("%s: ResolutionPercent = %d, want %d", c.name, got, c.want)
		}
	}
}

func TestBandFor(t *testing.T) {
	cases := []struct {
		score int
		want  Band
	}{
		{0, BandLow}, {29, BandLow}, {30, BandElevated}, {54, BandElevated},
		{55, BandHigh}, {70, BandHigh}, {80, BandSevere}, {100, BandSevere},
	}
	for _, c := range cases {
		if got := BandFor(c.score); got != c.want {
			t.Errorf("BandFor(%d) = %q, want %q", c.score, got, c.want)
		}
	}
}

func TestOrdinals_Ascending(t *testing.T) {
	for i := 1; i < len(allLevels); i++ {
		if RiskOrdinal(allLevels[i-1]) >= RiskOrdinal(allLevels[i]) {
			t.Errorf("RiskOrdinal not strictly ascending at %q", allLevels[i])
		}
	}
	for i := 1; i < len(allSentiments); i++ {
		if SentimentOrdinal(allSentiments[i-1]) >= SentimentOrdinal(allSentiments[i]) {
			t.Errorf("SentimentOrdinal not strictly ascending at %q", allSentiments[i])
		}
	}
	if RiskOrdinal("nope") != -1 || SentimentOrdinal("nope") != -1 {
		t.Error("unknown values should have ordinal -1")
	}
}

func TestAssess(t *testing.T) {
	c := &schema.Case{
		GeneratedReport: schema.GeneratedReport{
			NextSteps: []string{"A", "B", "C"},
			RiskLevel: schema.RiskHigh,
			Sentiment: schema.SentimentSerious,
		},
		CompletedSteps: []string{"B"},
	}
	got := Assess(c)
	if got.Score != 70 || got.Band != BandHigh || got.ResolutionPercent != 33 {
		t.Errorf("Assess = %+v, want {70 HIGH 33}", got)
	}
	if Assess(nil).Score != 0 {
		t.Error("Assess(nil) should score 0")
	}
}
