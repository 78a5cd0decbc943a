package models

import (
	"errors"
	"time"
)

// OddsSnapshot holds the decimal odds for both sides of a match at a point in time.
type OddsSnapshot struct {
	EventID   string    `json:"event_id"`
	HomeOdd   float64   `json:"home_odd"`
	AwayOdd   float64   `json:"away_odd"`
	Timestamp time.Time `json:"timestamp"` // as reported by the source
}

// Valid reports whether both sides carry a real quote. Odds at or below 1.0
// mean the market is unquoted.
func (s *OddsSnapshot) Valid() bool {
	return s != nil && s.HomeOdd > 1.0 && s.AwayOdd > 1.0
}

// OddFor returns the quoted odd for the given side.
func (s *OddsSnapshot) OddFor(side Side) float64 {
	if side == SideAway {
		return s.AwayOdd
	}
	return s.HomeOdd
}

// LineMovement is one append-only odds observation for an event.
type LineMovement struct {
	ID         string    `json:"id"`
	EventID    string    `json:"event_id"`
	HomeOdd    float64   `json:"home_odd"`
	AwayOdd    float64   `json:"away_odd"`
	ObservedAt time.Time `json:"observed_at"`
}

// Validate checks that all line movement fields are valid
func (l *LineMovement) Validate() error {
	if l.ID == "" {
		return errors.New("line movement ID must not be empty")
	}
	if l.EventID == "" {
		return errors.New("event ID must not be empty")
	}
	if l.HomeOdd <= 1.0 || l.AwayOdd <= 1.0 {
		return errors.New("odds must be greater than 1.0")
	}
	if l.ObservedAt.IsZero() {
		return errors.New("observed at must be set")
	}
	if l.ObservedAt.After(time.Now().Add(time.Minute)) {
		return errors.New("observed at must not be in the future")
	}
	return nil
}

// MatchResult records how a match finished along with its closing prices.
type MatchResult struct {
	EventID        string    `json:"event_id"`
	Winner         Side      `json:"winner"`
	HomeClosingOdd float64   `json:"home_closing_odd"`
	AwayClosingOdd float64   `json:"away_closing_odd"`
	RecordedAt     time.Time `json:"recorded_at"`
}
