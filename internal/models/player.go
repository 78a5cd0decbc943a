package models

import (
	"errors"
	"time"
)

// Neutral priors used for players without real data.
const (
	UnknownRanking = 999
	DefaultElo     = 1500.0
	DefaultForm    = 0.5
	DefaultWinRate = 0.5
)

// PlayerStats is the per-player profile consumed by the multi-factor model.
type PlayerStats struct {
	Name           string              `json:"name"`
	Ranking        int                 `json:"ranking"`
	Elo            float64             `json:"elo"`
	SurfaceElo     map[Surface]float64 `json:"surface_elo"`
	Form           float64             `json:"form"`
	Matches30d     int                 `json:"matches_30d"`
	SurfaceWinRate map[Surface]float64 `json:"surface_win_rate"`
	LastUpdated    time.Time           `json:"last_updated"`
}

// NewPlayerStats returns the neutral "unknown player" prior.
func NewPlayerStats(name string) *PlayerStats {
	p := &PlayerStats{
		Name:    name,
		Ranking: UnknownRanking,
		Elo:     DefaultElo,
		Form:    DefaultForm,
	}
	p.Normalize()
	return p
}

// Normalize fills any missing surface keys with neutral values.
func (p *PlayerStats) Normalize() {
	if p.SurfaceElo == nil {
		p.SurfaceElo = make(map[Surface]float64, len(Surfaces))
	}
	if p.SurfaceWinRate == nil {
		p.SurfaceWinRate = make(map[Surface]float64, len(Surfaces))
	}
	for _, s := range Surfaces {
		if _, ok := p.SurfaceElo[s]; !ok {
			p.SurfaceElo[s] = DefaultElo
		}
		if _, ok := p.SurfaceWinRate[s]; !ok {
			p.SurfaceWinRate[s] = DefaultWinRate
		}
	}
}

// HasRealData is false while ranking, form and Elo are all still the neutral defaults.
func (p *PlayerStats) HasRealData() bool {
	return p.Ranking != UnknownRanking || p.Form != DefaultForm || p.Elo != DefaultElo
}

// EloOn returns the surface Elo, falling back to the overall rating.
func (p *PlayerStats) EloOn(s Surface) float64 {
	if v, ok := p.SurfaceElo[s]; ok {
		return v
	}
	return p.Elo
}

// Validate checks that all player fields are valid
func (p *PlayerStats) Validate() error {
	if p.Name == "" {
		return errors.New("player name must not be empty")
	}
	if p.Ranking < 1 {
		return errors.New("ranking must be positive")
	}
	if p.Form < 0.0 || p.Form > 1.0 {
		return errors.New("form must be between 0.0 and 1.0")
	}
	if p.Matches30d < 0 {
		return errors.New("matches in last 30 days must not be negative")
	}
	for _, s := range Surfaces {
		if _, ok := p.SurfaceElo[s]; !ok {
			return errors.New("surface elo must cover every surface")
		}
		rate, ok := p.SurfaceWinRate[s]
		if !ok {
			return errors.New("surface win rate must cover every surface")
		}
		if rate < 0.0 || rate > 1.0 {
			return errors.New("surface win rate must be between 0.0 and 1.0")
		}
	}
	return nil
}

// HeadToHead is the win tally between two players, oriented so PlayerA is the
// first name asked about.
type HeadToHead struct {
	PlayerA string `json:"player_a"`
	PlayerB string `json:"player_b"`
	WinsA   int    `json:"wins_a"`
	WinsB   int    `json:"wins_b"`
}

// Total is the number of recorded meetings.
func (h HeadToHead) Total() int {
	return h.WinsA + h.WinsB
}
