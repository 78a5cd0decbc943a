// Package probability estimates the home player's chance of winning a match.
//
// Two interchangeable models are provided: MultiFactor, which blends five
// player-statistics signals, and MarketOnly, which strips the bookmaker margin
// from the quoted odds. Every estimate is clamped to [MinProbability,
// MaxProbability]; an internal failure yields FailSafe rather than an error.
package probability

import (
	"context"
	"fmt"
	"math"

	"github.com/rewired-gh/courtedge/internal/models"
)

const (
	MinProbability = 0.05
	MaxProbability = 0.95
	FailSafe       = 0.5
)

// Model variants selectable from configuration.
const (
	VariantMultiFactor = "multifactor"
	VariantMarket      = "market"
)

// Estimate sources.
const (
	SourceMultiFactor = "multifactor"
	SourceHeuristic   = "heuristic"
	SourceMarket      = "market"
	SourceFailSafe    = "failsafe"
)

// MatchInput is everything a model may consult for one match.
type MatchInput struct {
	Home    string
	Away    string
	Surface models.Surface
	Tier    models.Tier
	HomeOdd float64
	AwayOdd float64
}

// Estimate is a home-side win probability with a 0..1 confidence score.
type Estimate struct {
	Home       float64
	Confidence float64
	Source     string
}

// Away is the complement of the home probability.
func (e Estimate) Away() float64 {
	return 1 - e.Home
}

// Model produces win probabilities.
type Model interface {
	Probability(ctx context.Context, in MatchInput) Estimate
}

// New returns the model for variant. stats is only used by the multi-factor model.
func New(variant string, stats StatsSource) (Model, error) {
	switch variant {
	case VariantMultiFactor, "":
		if stats == nil {
			return nil, fmt.Errorf("multifactor model requires a player statistics store")
		}
		return NewMultiFactor(stats, DefaultWeights), nil
	case VariantMarket:
		return MarketOnly{}, nil
	default:
		return nil, fmt.Errorf("unknown model variant %q", variant)
	}
}

// Clamp bounds p to [MinProbability, MaxProbability]. NaN maps to FailSafe.
func Clamp(p float64) float64 {
	if math.IsNaN(p) {
		return FailSafe
	}
	return math.Max(MinProbability, math.Min(MaxProbability, p))
}

func failSafe() Estimate {
	return Estimate{Home: FailSafe, Confidence: 0, Source: SourceFailSafe}
}
