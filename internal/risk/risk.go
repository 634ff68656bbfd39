// Package risk provides deterministic scoring for safeguarding cases.
// No I/O happens here.
package risk

import (
	"math"

	"github.com/hyderomar92-ai/safeguard/internal/schema"
)

var riskWeight = map[schema.RiskLevel]int{
	schema.RiskCritical: 60,
	schema.RiskHigh:     40,
	schema.RiskMedium:   20,
	schema.RiskLow:      10,
}

var sentimentWeight = map[schema.Sentiment]int{
	schema.SentimentCritical:   40,
	schema.SentimentSerious:    30,
	schema.SentimentCautionary: 15,
	schema.SentimentRoutine:    0,
}

// Score maps a risk level and sentiment to a score in [0, 100].
// Unknown values weigh zero.
func Score(level schema.RiskLevel, sentiment schema.Sentiment) int {
	return clamp(riskWeight[level] + sentimentWeight[sentiment])
}

// ResolutionPercent returns round(100 * |completed ∩ nextSteps| / |nextSteps|),
// or 0 when there are no next steps.
func ResolutionPercent(completed, nextSteps []string) int {
	if len(nextSteps) == 0 {
		return 0
	}
	done := len(schema.ReconcileSteps(completed, nextSteps))
	return clamp(int(math.Round(100 * float64(done) / float64(len(nextSteps)))))
}

// RiskOrdinal returns the rank of a risk level: Low=0 … Critical=3, -1 if unknown.
func RiskOrdinal(level schema.RiskLevel) int {
	switch level {
	case schema.RiskLow:
		return 0
	case schema.RiskMedium:
		return 1
	case schema.RiskHigh:
		return 2
	case schema.RiskCritical:
		return 3
	default:
		return -1
	}
}

// SentimentOrdinal returns the rank of a sentiment: Routine=0 … Critical=3, -1 if unknown.
func SentimentOrdinal(s schema.Sentiment) int {
	switch s {
	case schema.SentimentRoutine:
		return 0
	case schema.SentimentCautionary:
		return 1
	case schema.SentimentSerious:
		return 2
	case schema.SentimentCritical:
		return 3
	default:
		return -1
	}
}

// Band is a coarse label for a risk score, used in listings and alerts.
type Band string

const (
	BandLow      Band = "LOW"
	BandElevated Band = "ELEVATED"
	BandHigh     Band = "HIGH"
	BandSevere   Band = "SEVERE"
)

// BandFor buckets a score: <30 LOW, <55 ELEVATED, <80 HIGH, otherwise SEVERE.
func BandFor(score int) Band {
	switch {
	case score < 30:
		return BandLow
	case score < 55:
		return BandElevated
	case score < 80:
		return BandHigh
	default:
		return BandSevere
	}
}

// Assessment holds the derived signals for one case.
type Assessment struct {
	Score             int  `json:"score"`
	Band              Band `json:"band"`
	ResolutionPercent int  `json:"resolution_percent"`
}

// Assess computes the derived signals for c. They are never stored; callers
// recompute them on read.
func Assess(c *schema.Case) Assessment {
	if c == nil {
		return Assessment{Band: BandLow}
	}
	score := Score(c.GeneratedReport.RiskLevel, c.GeneratedReport.Sentiment)
	return Assessment{
		Score:             score,
		Band:              BandFor(score),
		ResolutionPercent: ResolutionPercent(c.CompletedSteps, c.GeneratedReport.NextSteps),
	}
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
