// Package scanner turns upcoming matches and their odds into ranked
// value-bet opportunities.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rewired-gh/courtedge/internal/logger"
	"github.com/rewired-gh/courtedge/internal/models"
	"github.com/rewired-gh/courtedge/internal/oddsapi"
	"github.com/rewired-gh/courtedge/internal/oddsmath"
	"github.com/rewired-gh/courtedge/internal/probability"
)

// OddsSource lists matches and quotes their match-winner odds.
type OddsSource interface {
	UpcomingMatches(ctx context.Context, hoursAhead int) ([]models.MatchEvent, error)
	EventOdds(ctx context.Context, eventID string) (*models.OddsSnapshot, error)
}

// Params is the scan filter.
type Params struct {
	HoursAhead int
	MinEV      float64
	OddMin     float64
	OddMax     float64
}

// Validate checks the filter is usable.
func (p Params) Validate() error {
	if p.HoursAhead <= 0 {
		return errors.New("hours ahead must be positive")
	}
	if p.OddMin <= 1.0 {
		return errors.New("odd_min must be greater than 1.0")
	}
	if p.OddMax < p.OddMin {
		return errors.New("odd_max must not be below odd_min")
	}
	return nil
}

// Report counts what happened to the matches of one scan.
type Report struct {
	Matches       int `json:"matches"`
	Skipped       int `json:"skipped"`
	Evaluated     int `json:"evaluated"`
	Opportunities int `json:"opportunities"`
}

// Scanner evaluates matches against a probability model.
type Scanner struct {
	odds  OddsSource
	model probability.Model
	now   func() time.Time
}

// New creates a Scanner.
func New(odds OddsSource, model probability.Model) *Scanner {
	return &Scanner{odds: odds, model: model, now: time.Now}
}

// Scan returns every side whose odd is inside [OddMin, OddMax] and whose EV
// reaches MinEV, ordered by EV descending. Per-match failures are logged and
// the match skipped; only failing to list matches fails the scan.
func (s *Scanner) Scan(ctx context.Context, p Params) ([]models.Opportunity, Report, error) {
	var report Report
	if err := p.Validate(); err != nil {
		return nil, report, fmt.Errorf("invalid scan parameters: %w", err)
	}

	matches, err := s.odds.UpcomingMatches(ctx, p.HoursAhead)
	if err != nil {
		return nil, report, fmt.Errorf("failed to list matches: %w", err)
	}
	report.Matches = len(matches)

	var opportunities []models.Opportunity
	for i := range matches {
		if err := ctx.Err(); err != nil {
			return nil, report, err
		}

		found, ok := s.evaluate(ctx, &matches[i], p)
		if !ok {
			report.Skipped++
			continue
		}
		report.Evaluated++
		opportunities = append(opportunities, found...)
	}

	sort.SliceStable(opportunities, func(i, j int) bool {
		a, b := opportunities[i], opportunities[j]
		if a.EV != b.EV {
			return a.EV > b.EV
		}
		if a.EventID != b.EventID {
			return a.EventID < b.EventID
		}
		return a.Side < b.Side
	})
	report.Opportunities = len(opportunities)

	logger.Info("Scan complete: %d matches, %d skipped, %d opportunities",
		report.Matches, report.Skipped, report.Opportunities)
	return opportunities, report, nil
}

func (s *Scanner) evaluate(ctx context.Context, m *models.MatchEvent, p Params) ([]models.Opportunity, bool) {
	snap, err := s.odds.EventOdds(ctx, m.ID)
	if err != nil {
		if errors.Is(err, oddsapi.ErrNoOdds) {
			logger.Debug("No odds for %s (%s)", m.Label(), m.ID)
		} else {
			logger.Warn("Failed to fetch odds for %s (%s): %v", m.Label(), m.ID, err)
		}
		return nil, false
	}
	if !snap.Valid() {
		logger.Debug("Unquoted odds for %s: %.2f / %.2f", m.Label(), snap.HomeOdd, snap.AwayOdd)
		return nil, false
	}

	marketHome, marketAway, err := oddsmath.RemoveMargin(snap.HomeOdd, snap.AwayOdd)
	if err != nil {
		logger.Warn("Failed to de-margin %s: %v", m.Label(), err)
		return nil, false
	}

	est := s.model.Probability(ctx, probability.MatchInput{
		Home:    m.Home,
		Away:    m.Away,
		Surface: m.Surface,
		Tier:    m.Tier,
		HomeOdd: snap.HomeOdd,
		AwayOdd: snap.AwayOdd,
	})
	logger.Debug("%s: odds %.2f/%.2f (overround %.1f%%), model %.3f via %s",
		m.Label(), snap.HomeOdd, snap.AwayOdd, oddsmath.Overround(snap.HomeOdd, snap.AwayOdd)*100, est.Home, est.Source)

	sides := []struct {
		side   models.Side
		odd    float64
		model  float64
		market float64
	}{
		{models.SideHome, snap.HomeOdd, est.Home, marketHome},
		{models.SideAway, snap.AwayOdd, est.Away(), marketAway},
	}

	now := s.now().UTC()
	var out []models.Opportunity
	for _, sd := range sides {
		if sd.odd < p.OddMin || sd.odd > p.OddMax {
			continue
		}
		ev := oddsmath.EV(sd.odd, sd.model)
		if ev < p.MinEV {
			continue
		}
		out = append(out, models.Opportunity{
			EventID:           m.ID,
			Match:             m.Label(),
			Home:              m.Home,
			Away:              m.Away,
			StartTime:         m.StartTime,
			League:            m.League,
			Surface:           m.Surface,
			Tier:              m.Tier,
			Side:              sd.side,
			Odd:               sd.odd,
			ModelProbability:  sd.model,
			EV:                ev,
			MarketProbability: sd.market,
			Confidence:        oddsmath.ConfidenceFor(ev, sd.model),
			Status:            models.StatusActive,
			DedupHash:         models.DedupHash(m.ID, sd.side, sd.odd),
			CreatedAt:         now,
		})
	}
	return out, true
}
