package probability

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/rewired-gh/courtedge/internal/models"
)

type fakeStats struct {
	players map[string]*models.PlayerStats
	h2h     models.HeadToHead
	err     error
}

func (f *fakeStats) GetOrCreate(_ context.Context, name string) (*models.PlayerStats, error) {
	if f.err != nil {
		return nil, f.err
	}
	if p, ok := f.players[name]; ok {
		return p, nil
	}
	return models.NewPlayerStats(name), nil
}

func (f *fakeStats) HeadToHead(_ context.Context, a, b string) (models.HeadToHead, error) {
	h := f.h2h
	h.PlayerA, h.PlayerB = a, b
	return h, nil
}

func player(name string, rank int, elo, form float64, m30 int) *models.PlayerStats {
	p := models.NewPlayerStats(name)
	p.Ranking = rank
	p.Elo = elo
	for _, s := range models.Surfaces {
		p.SurfaceElo[s] = elo
	}
	p.Form = form
	p.Matches30d = m30
	return p
}

func TestMultiFactor_WeightedBlend(t *testing.T) {
	stats := &fakeStats{
		players: map[string]*models.PlayerStats{
			"Home": player("Home", 10, 1700, 0.7, 3),
			"Away": player("Away", 60, 1600, 0.5, 12),
		},
		h2h: models.HeadToHead{WinsA: 3, WinsB: 1},
	}
	m := NewMultiFactor(stats, DefaultWeights)

	est := m.Probability(context.Background(), MatchInput{
		Home: "Home", Away: "Away", Surface: models.SurfaceClay, Tier: models.TierRegular,
	})

	ranking := 1 / (1 + math.Exp(-0.5))
	elo := 1 / (1 + math.Pow(10, -100.0/400))
	form := 0.6
	h2h := 0.5 + 0.25*0.4
	fatigue := 0.5 + (12.0/15*0.2 - 3.0/15*0.2)
	want := 0.30*ranking + 0.25*elo + 0.20*form + 0.15*h2h + 0.10*fatigue

	if math.Abs(est.Home-want) > 1e-9 {
		t.Errorf("Home probability = %v, want %v", est.Home, want)
	}
	if est.Source != SourceMultiFactor {
		t.Errorf("Source = %q", est.Source)
	}
	if math.Abs(est.Away()-(1-want)) > 1e-9 {
		t.Errorf("Away probability = %v", est.Away())
	}
}

func TestMultiFactor_SymmetricPlayersAreEven(t *testing.T) {
	stats := &fakeStats{players: map[string]*models.PlayerStats{
		"A": player("A", 20, 1800, 0.6, 5),
		"B": player("B", 20, 1800, 0.6, 5),
	}}
	est := NewMultiFactor(stats, DefaultWeights).Probability(context.Background(), MatchInput{
		Home: "A", Away: "B", Surface: models.SurfaceHard, Tier: models.TierGrandSlam,
	})
	if math.Abs(est.Home-0.5) > 1e-12 {
		t.Errorf("Expected 0.5, got %v", est.Home)
	}
}

func TestMultiFactor_ClampsExtremes(t *testing.T) {
	stats := &fakeStats{
		players: map[string]*models.PlayerStats{
			"Strong": player("Strong", 1, 2500, 1.0, 0),
			"Weak":   player("Weak", 998, 1000, 0.0, 15),
		},
		h2h: models.HeadToHead{WinsA: 10},
	}
	m := NewMultiFactor(stats, DefaultWeights)

	est := m.Probability(context.Background(), MatchInput{Home: "Strong", Away: "Weak", Surface: models.SurfaceHard})
	if est.Home != MaxProbability {
		t.Errorf("Expected clamp to %v, got %v", MaxProbability, est.Home)
	}

	stats.h2h = models.HeadToHead{WinsB: 10}
	est = m.Probability(context.Background(), MatchInput{Home: "Weak", Away: "Strong", Surface: models.SurfaceHard})
	if est.Home != MinProbability {
		t.Errorf("Expected clamp to %v, got %v", MinProbability, est.Home)
	}
}

func TestMultiFactor_TierSharpening(t *testing.T) {
	stats := &fakeStats{players: map[string]*models.PlayerStats{
		"A": player("A", 10, 1700, 0.6, 5),
		"B": player("B", 40, 1650, 0.5, 5),
	}}
	m := NewMultiFactor(stats, DefaultWeights)
	in := MatchInput{Home: "A", Away: "B", Surface: models.SurfaceGrass, Tier: models.TierRegular}

	regular := m.Probability(context.Background(), in).Home
	in.Tier = models.TierGrandSlam
	slam := m.Probability(context.Background(), in).Home

	want := 0.5 + (regular-0.5)*1.10
	if math.Abs(slam-want) > 1e-9 {
		t.Errorf("Grand slam estimate = %v, want %v", slam, want)
	}
}

func TestMultiFactor_FailSafe(t *testing.T) {
	m := NewMultiFactor(&fakeStats{err: errors.New("db locked")}, DefaultWeights)
	est := m.Probability(context.Background(), MatchInput{Home: "A", Away: "B"})
	if est.Home != FailSafe || est.Source != SourceFailSafe {
		t.Errorf("Expected fail-safe estimate, got %+v", est)
	}
}

func TestMultiFactor_HeuristicFallback(t *testing.T) {
	m := NewMultiFactor(&fakeStats{}, DefaultWeights)

	tests := []struct {
		home, away string
		want       float64
	}{
		{"Carlos Alcaraz", "Unknown Qualifier", 0.7},
		{"Unknown Qualifier", "Iga Swiatek", 0.3},
		{"Jannik Sinner", "Novak Djokovic", 0.5},
		{"Nobody One", "Nobody Two", 0.5},
	}
	for _, tt := range tests {
		est := m.Probability(context.Background(), MatchInput{Home: tt.home, Away: tt.away})
		if est.Source != SourceHeuristic {
			t.Errorf("%s vs %s: source = %q", tt.home, tt.away, est.Source)
		}
		if math.Abs(est.Home-tt.want) > 1e-12 {
			t.Errorf("%s vs %s: p = %v, want %v", tt.home, tt.away, est.Home, tt.want)
		}
	}
}

func TestFactorFunctions(t *testing.T) {
	if got := RankingFactor(50, 50); got != 0.5 {
		t.Errorf("RankingFactor equal = %v", got)
	}
	if RankingFactor(1, 100) <= 0.5 {
		t.Error("Better ranked home should be favoured")
	}
	if got := EloExpectation(1500, 1500); got != 0.5 {
		t.Errorf("EloExpectation equal = %v", got)
	}
	if got := HeadToHeadFactor(0, 0); got != 0.5 {
		t.Errorf("HeadToHeadFactor no meetings = %v", got)
	}
	if got := HeadToHeadFactor(20, 0); got != 1.0 {
		t.Errorf("HeadToHeadFactor saturated = %v", got)
	}
	if got := FatiguePenalty(30); got != 0.20 {
		t.Errorf("FatiguePenalty capped = %v", got)
	}
	if got := FatigueFactor(0, 15); math.Abs(got-0.7) > 1e-12 {
		t.Errorf("FatigueFactor = %v", got)
	}
}

func TestMarketOnly(t *testing.T) {
	est := MarketOnly{}.Probability(context.Background(), MatchInput{HomeOdd: 2.20, AwayOdd: 1.70})
	want := (1 / 2.20) / (1/2.20 + 1/1.70)
	if math.Abs(est.Home-want) > 1e-12 {
		t.Errorf("Market probability = %v, want %v", est.Home, want)
	}
	if est.Confidence != 1.0 || est.Source != SourceMarket {
		t.Errorf("Unexpected estimate %+v", est)
	}

	bad := MarketOnly{}.Probability(context.Background(), MatchInput{HomeOdd: 1.0, AwayOdd: 1.70})
	if bad.Home != FailSafe {
		t.Errorf("Expected fail-safe for unquoted odds, got %v", bad.Home)
	}
}

func TestClamp(t *testing.T) {
	tests := []struct{ in, want float64 }{
		{-1, MinProbability},
		{0, MinProbability},
		{0.5, 0.5},
		{1, MaxProbability},
		{math.NaN(), FailSafe},
	}
	for _, tt := range tests {
		if got := Clamp(tt.in); got != tt.want {
			t.Errorf("Clamp(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNew(t *testing.T) {
	if _, err := New(VariantMarket, nil); err != nil {
		t.Errorf("market variant: %v", err)
	}
	if _, err := New(VariantMultiFactor, &fakeStats{}); err != nil {
		t.Errorf("multifactor variant: %v", err)
	}
	if _, err := New(VariantMultiFactor, nil); err == nil {
		t.Error("Expected error without stats store")
	}
	if _, err := New("neural", nil); err == nil {
		t.Error("Expected error for unknown variant")
	}
}
