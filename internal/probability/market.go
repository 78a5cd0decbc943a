package probability

import (
	"context"

	"github.com/rewired-gh/courtedge/internal/logger"
	"github.com/rewired-gh/courtedge/internal/oddsmath"
)

// MarketOnly reads the probability straight off the de-margined odds.
type MarketOnly struct{}

// Probability implements Model.
func (MarketOnly) Probability(_ context.Context, in MatchInput) Estimate {
	pHome, _, err := oddsmath.RemoveMargin(in.HomeOdd, in.AwayOdd)
	if err != nil {
		logger.Debug("Market model fallback for %s vs %s: %v", in.Home, in.Away, err)
		return failSafe()
	}
	return Estimate{Home: Clamp(pHome), Confidence: 1.0, Source: SourceMarket}
}
