// Package oddsmath holds the decimal-odds arithmetic used by the scanner:
// expected value, implied probability, margin removal, confidence labelling
// and closing line value.
package oddsmath

import (
	"fmt"
	"math"

	"github.com/rewired-gh/courtedge/internal/models"
)

// Confidence thresholds.
const (
	HighEV       = 0.05
	MediumEV     = 0.03
	SaneProbLow  = 0.30
	SaneProbHigh = 0.70
)

// MinQuotedOdd is the decimal odd at or below which a side counts as unquoted.
const MinQuotedOdd = 1.0

// EV returns the expected net return of a unit stake at decimal odd given win probability p.
//
//	EV = p*(odd-1) - (1-p)
//
// At the fair odd (odd = 1/p) EV is zero.
func EV(odd, p float64) float64 {
	return p*(odd-1) - (1 - p)
}

// ImpliedProbability converts a decimal odd into its raw implied probability.
func ImpliedProbability(odd float64) (float64, error) {
	if odd <= MinQuotedOdd {
		return 0, fmt.Errorf("odd must be greater than 1.0, got %v", odd)
	}
	return 1.0 / odd, nil
}

// RemoveMargin strips the bookmaker overround from a two-way market using the
// multiplicative method, returning fair probabilities that sum to 1.
func RemoveMargin(homeOdd, awayOdd float64) (pHome, pAway float64, err error) {
	ih, err := ImpliedProbability(homeOdd)
	if err != nil {
		return 0, 0, fmt.Errorf("home: %w", err)
	}
	ia, err := ImpliedProbability(awayOdd)
	if err != nil {
		return 0, 0, fmt.Errorf("away: %w", err)
	}
	total := ih + ia
	return ih / total, ia / total, nil
}

// Overround returns the bookmaker margin of a two-way market as a fraction
// (0.05 means the implied probabilities sum to 105%).
func Overround(homeOdd, awayOdd float64) float64 {
	if homeOdd <= MinQuotedOdd || awayOdd <= MinQuotedOdd {
		return 0
	}
	return 1/homeOdd + 1/awayOdd - 1
}

// ConfidenceFor labels an opportunity. HIGH needs a strong EV and a probability
// inside [SaneProbLow, SaneProbHigh].
func ConfidenceFor(ev, p float64) models.Confidence {
	switch {
	case ev >= HighEV && p >= SaneProbLow && p <= SaneProbHigh:
		return models.ConfidenceHigh
	case ev >= MediumEV:
		return models.ConfidenceMedium
	default:
		return models.ConfidenceLow
	}
}

// Divergence is the relative distance of a live odd from the stored one.
func Divergence(stored, live float64) float64 {
	if stored <= 0 {
		return 0
	}
	return math.Abs(live-stored) / stored
}

// CLV is the closing line value of a bet: how much better the taken odd was
// than the closing odd. Positive means the bet beat the close.
func CLV(betOdd, closingOdd float64) (float64, error) {
	if betOdd <= MinQuotedOdd || closingOdd <= MinQuotedOdd {
		return 0, fmt.Errorf("odds must be greater than 1.0")
	}
	return betOdd/closingOdd - 1, nil
}
