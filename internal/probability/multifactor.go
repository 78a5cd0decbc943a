package probability

import (
	"context"
	"math"
	"strings"

	"github.com/rewired-gh/courtedge/internal/logger"
	"github.com/rewired-gh/courtedge/internal/models"
)

// StatsSource is the subset of the player store the model reads.
type StatsSource interface {
	GetOrCreate(ctx context.Context, name string) (*models.PlayerStats, error)
	HeadToHead(ctx context.Context, a, b string) (models.HeadToHead, error)
}

// Weights of the five sub-factors. They should sum to 1.
type Weights struct {
	Ranking    float64
	SurfaceElo float64
	Form       float64
	HeadToHead float64
	Fatigue    float64
}

// DefaultWeights is the canonical blend.
var DefaultWeights = Weights{
	Ranking:    0.30,
	SurfaceElo: 0.25,
	Form:       0.20,
	HeadToHead: 0.15,
	Fatigue:    0.10,
}

func (w Weights) sum() float64 {
	return w.Ranking + w.SurfaceElo + w.Form + w.HeadToHead + w.Fatigue
}

const (
	rankScale         = 100.0
	eloScale          = 400.0
	h2hSaturation     = 10.0
	fatigueSaturation = 15.0
	maxFatiguePenalty = 0.20
)

// tierSharpening stretches estimates away from 0.5 in longer formats.
var tierSharpening = map[models.Tier]float64{
	models.TierGrandSlam: 1.10,
	models.TierMasters:   1.05,
}

// Factors are the individual sub-factor values, each a home-side probability.
type Factors struct {
	Ranking    float64
	SurfaceElo float64
	Form       float64
	HeadToHead float64
	Fatigue    float64
}

// MultiFactor blends ranking, surface Elo, form, head-to-head and fatigue.
type MultiFactor struct {
	stats   StatsSource
	weights Weights
}

// NewMultiFactor creates the model. Zero weights fall back to DefaultWeights.
func NewMultiFactor(stats StatsSource, w Weights) *MultiFactor {
	if w.sum() <= 0 {
		w = DefaultWeights
	}
	return &MultiFactor{stats: stats, weights: w}
}

// Probability implements Model.
func (m *MultiFactor) Probability(ctx context.Context, in MatchInput) Estimate {
	home, err := m.stats.GetOrCreate(ctx, in.Home)
	if err != nil {
		logger.Warn("Player lookup failed for %s: %v", in.Home, err)
		return failSafe()
	}
	away, err := m.stats.GetOrCreate(ctx, in.Away)
	if err != nil {
		logger.Warn("Player lookup failed for %s: %v", in.Away, err)
		return failSafe()
	}

	if !home.HasRealData() || !away.HasRealData() {
		return heuristic(in.Home, in.Away)
	}

	h2h, err := m.stats.HeadToHead(ctx, in.Home, in.Away)
	if err != nil {
		logger.Debug("Head-to-head lookup failed for %s vs %s: %v", in.Home, in.Away, err)
		h2h = models.HeadToHead{PlayerA: in.Home, PlayerB: in.Away}
	}

	f := ComputeFactors(home, away, h2h, in.Surface)
	p := m.combine(f)
	if k, ok := tierSharpening[in.Tier]; ok {
		p = 0.5 + (p-0.5)*k
	}

	return Estimate{
		Home:       Clamp(p),
		Confidence: dataConfidence(home, away, h2h),
		Source:     SourceMultiFactor,
	}
}

func (m *MultiFactor) combine(f Factors) float64 {
	w := m.weights
	total := w.Ranking*f.Ranking +
		w.SurfaceElo*f.SurfaceElo +
		w.Form*f.Form +
		w.HeadToHead*f.HeadToHead +
		w.Fatigue*f.Fatigue
	return total / w.sum()
}

// ComputeFactors evaluates each sub-factor for home against away on surface.
func ComputeFactors(home, away *models.PlayerStats, h2h models.HeadToHead, surface models.Surface) Factors {
	return Factors{
		Ranking:    RankingFactor(home.Ranking, away.Ranking),
		SurfaceElo: EloExpectation(home.EloOn(surface), away.EloOn(surface)),
		Form:       FormFactor(home.Form, away.Form),
		HeadToHead: HeadToHeadFactor(h2h.WinsA, h2h.WinsB),
		Fatigue:    FatigueFactor(home.Matches30d, away.Matches30d),
	}
}

// RankingFactor is a logistic of the rank gap scaled by 100 places.
func RankingFactor(rankHome, rankAway int) float64 {
	gap := float64(rankAway-rankHome) / rankScale
	return 1.0 / (1.0 + math.Exp(-gap))
}

// EloExpectation is the standard Elo expected score on a 400-point scale.
func EloExpectation(eloHome, eloAway float64) float64 {
	return 1.0 / (1.0 + math.Pow(10, (eloAway-eloHome)/eloScale))
}

// FormFactor maps the form difference into [0, 1].
func FormFactor(formHome, formAway float64) float64 {
	return 0.5 + (formHome-formAway)/2
}

// HeadToHeadFactor shrinks the home win rate toward 0.5 until ten meetings.
func HeadToHeadFactor(winsHome, winsAway int) float64 {
	total := winsHome + winsAway
	if total == 0 {
		return 0.5
	}
	rate := float64(winsHome) / float64(total)
	weight := math.Min(float64(total)/h2hSaturation, 1.0)
	return 0.5 + (rate-0.5)*weight
}

// FatiguePenalty grows with matches in the last 30 days, up to 20% at 15 matches.
func FatiguePenalty(matches30d int) float64 {
	return math.Min(float64(matches30d)/fatigueSaturation, 1.0) * maxFatiguePenalty
}

// FatigueFactor favours the fresher player.
func FatigueFactor(homeMatches, awayMatches int) float64 {
	f := 0.5 + (FatiguePenalty(awayMatches) - FatiguePenalty(homeMatches))
	return math.Max(0, math.Min(1, f))
}

func dataConfidence(home, away *models.PlayerStats, h2h models.HeadToHead) float64 {
	c := 0.6
	if home.Ranking != models.UnknownRanking && away.Ranking != models.UnknownRanking {
		c += 0.2
	}
	c += 0.2 * math.Min(float64(h2h.Total())/h2hSaturation, 1.0)
	return c
}

// topPlayers are name fragments the heuristic fallback scores higher.
var topPlayers = []string{
	"sinner", "alcaraz", "djokovic", "zverev", "medvedev", "fritz", "de minaur",
	"rublev", "ruud", "draper", "tsitsipas", "shelton",
	"sabalenka", "swiatek", "gauff", "rybakina", "pegula", "paolini", "zheng",
	"andreeva", "navarro", "keys",
}

// heuristic is a placeholder used only when a player has no real data.
func heuristic(home, away string) Estimate {
	p := 0.5 + nameScore(home) - nameScore(away)
	return Estimate{Home: Clamp(p), Confidence: 0.3, Source: SourceHeuristic}
}

func nameScore(name string) float64 {
	lower := strings.ToLower(name)
	for _, fragment := range topPlayers {
		if strings.Contains(lower, fragment) {
			return 0.2
		}
	}
	return 0
}
