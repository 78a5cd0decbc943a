// Package league infers tournament tier and playing surface from the free-text
// league name the odds provider attaches to each match.
//
// Both inferences are ordered keyword scans: the first category with a matching
// substring wins, so "Roland Garros" is a grand slam on clay and "Paris Masters"
// resolves to masters before the indoor keyword list is consulted for surface.
package league

import (
	"strings"

	"github.com/rewired-gh/courtedge/internal/models"
)

type tierRule struct {
	tier     models.Tier
	keywords []string
}

type surfaceRule struct {
	surface  models.Surface
	keywords []string
}

var tierRules = []tierRule{
	{models.TierGrandSlam, []string{"grand slam", "australian open", "roland garros", "french open", "wimbledon", "us open"}},
	{models.TierMasters, []string{"masters", "1000", "indian wells", "miami", "monte carlo", "madrid", "rome", "canada", "cincinnati", "shanghai", "paris"}},
	{models.TierATP500, []string{"500"}},
	{models.TierATP250, []string{"250"}},
}

var surfaceRules = []surfaceRule{
	{models.SurfaceClay, []string{"clay", "roland garros", "french open", "monte carlo", "madrid", "rome", "barcelona", "hamburg"}},
	{models.SurfaceGrass, []string{"grass", "wimbledon", "queens", "halle", "eastbourne"}},
	{models.SurfaceIndoor, []string{"indoor", "paris", "vienna", "basel", "finals"}},
	{models.SurfaceHard, []string{"hard"}},
}

// InferTier maps a league name to a tournament tier, defaulting to regular.
func InferTier(league string) models.Tier {
	name := strings.ToLower(league)
	for _, rule := range tierRules {
		if containsAny(name, rule.keywords) {
			return rule.tier
		}
	}
	return models.TierRegular
}

// InferSurface maps a league name to a surface, defaulting to hard.
func InferSurface(league string) models.Surface {
	name := strings.ToLower(league)
	for _, rule := range surfaceRules {
		if containsAny(name, rule.keywords) {
			return rule.surface
		}
	}
	return models.SurfaceHard
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
