// Package models defines the core domain entities for courtedge.
// These models represent upcoming tennis matches, quoted odds, candidate value
// bets ("opportunities"), player profiles and the line-movement log.
// All persisted models include built-in validation to ensure data integrity
// throughout the application.
package models

import (
	"errors"
	"fmt"
	"time"
)

// Surface is the playing surface of a tournament.
type Surface string

const (
	SurfaceHard   Surface = "hard"
	SurfaceClay   Surface = "clay"
	SurfaceGrass  Surface = "grass"
	SurfaceIndoor Surface = "indoor"
)

// Surfaces lists every surface in a fixed order.
var Surfaces = []Surface{SurfaceHard, SurfaceClay, SurfaceGrass, SurfaceIndoor}

// Valid reports whether s is one of the known surfaces.
func (s Surface) Valid() bool {
	switch s {
	case SurfaceHard, SurfaceClay, SurfaceGrass, SurfaceIndoor:
		return true
	}
	return false
}

// Tier is the coarse tournament category.
type Tier string

const (
	TierGrandSlam Tier = "grand_slam"
	TierMasters   Tier = "masters"
	TierATP500    Tier = "atp500"
	TierATP250    Tier = "atp250"
	TierRegular   Tier = "regular"
)

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	switch t {
	case TierGrandSlam, TierMasters, TierATP500, TierATP250, TierRegular:
		return true
	}
	return false
}

// MatchEvent is an upcoming match as listed by the odds provider.
// It is rebuilt on every scan and never persisted on its own.
type MatchEvent struct {
	ID        string    `json:"id"`
	Home      string    `json:"home"`
	Away      string    `json:"away"`
	StartTime time.Time `json:"start_time"` // UTC
	League    string    `json:"league"`
	Surface   Surface   `json:"surface"`
	Tier      Tier      `json:"tier"`
}

// Label is the human-readable "Home vs Away" string.
func (m *MatchEvent) Label() string {
	return fmt.Sprintf("%s vs %s", m.Home, m.Away)
}

// Validate checks that all match fields are valid.
func (m *MatchEvent) Validate() error {
	if m.ID == "" {
		return errors.New("match ID must not be empty")
	}
	if m.Home == "" || m.Away == "" {
		return errors.New("both competitors must be named")
	}
	if m.StartTime.IsZero() {
		return errors.New("start time must be set")
	}
	if !m.Surface.Valid() {
		return fmt.Errorf("unknown surface %q", m.Surface)
	}
	if !m.Tier.Valid() {
		return fmt.Errorf("unknown tier %q", m.Tier)
	}
	return nil
}
