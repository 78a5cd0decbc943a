package storage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/rewired-gh/courtedge/internal/models"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestStore(t *testing.T) (*Store, *clock) {
	t.Helper()
	s, err := New(context.Background(), filepath.Join(t.TempDir(), "opportunities.db"))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	c := &clock{t: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)}
	s.now = c.now
	return s, c
}

func opportunity(eventID string, side models.Side, odd, p float64, start time.Time) models.Opportunity {
	ev := p*(odd-1) - (1 - p)
	return models.Opportunity{
		EventID:           eventID,
		Match:             eventID + " home vs " + eventID + " away",
		Home:              eventID + " home",
		Away:              eventID + " away",
		StartTime:         start,
		League:            "ATP Madrid",
		Surface:           models.SurfaceClay,
		Tier:              models.TierMasters,
		Side:              side,
		Odd:               odd,
		ModelProbability:  p,
		EV:                ev,
		MarketProbability: 0.45,
		Confidence:        models.ConfidenceHigh,
		DedupHash:         models.DedupHash(eventID, side, odd),
	}
}

func TestStore_SaveAndActive(t *testing.T) {
	s, c := newTestStore(t)
	ctx := context.Background()
	start := c.now().Add(6 * time.Hour)

	opps := []models.Opportunity{
		opportunity("e1", models.SideHome, 2.20, 0.55, start),
		opportunity("e2", models.SideAway, 2.00, 0.60, start),
		opportunity("e3", models.SideHome, 1.90, 0.58, c.now().Add(time.Hour)),
	}

	saved, err := s.Save(ctx, opps)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if saved != 3 {
		t.Fatalf("Expected 3 saved, got %d", saved)
	}
	if opps[0].ID == 0 {
		t.Error("Expected insert id to be assigned")
	}

	active, err := s.Active(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 3 {
		t.Fatalf("Expected 3 active, got %d", len(active))
	}
	for i := 1; i < len(active); i++ {
		if active[i-1].EV < active[i].EV {
			t.Errorf("Active not ordered by EV: %v < %v", active[i-1].EV, active[i].EV)
		}
	}
	got := active[0]
	if got.EventID != "e1" || got.Side != models.SideHome || got.Surface != models.SurfaceClay || got.Status != models.StatusActive {
		t.Errorf("Round trip lost fields: %+v", got)
	}
	if !got.StartTime.Equal(start.Truncate(time.Second)) {
		t.Errorf("StartTime = %v, want %v", got.StartTime, start)
	}

	later, err := s.Active(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(later) != 2 {
		t.Errorf("Expected 2 opportunities more than 2h ahead, got %d", len(later))
	}
}

func TestStore_SaveSkipsDuplicatesAndInvalid(t *testing.T) {
	s, c := newTestStore(t)
	ctx := context.Background()
	start := c.now().Add(6 * time.Hour)

	first := []models.Opportunity{opportunity("e1", models.SideHome, 2.20, 0.55, start)}
	if n, err := s.Save(ctx, first); err != nil || n != 1 {
		t.Fatalf("Save = %d, %v", n, err)
	}

	bad := opportunity("e2", models.SideHome, 2.20, 0.55, start)
	bad.EV = 0.99
	batch := []models.Opportunity{
		opportunity("e1", models.SideHome, 2.204, 0.55, start),
		bad,
		opportunity("e3", models.SideAway, 2.10, 0.55, start),
	}
	n, err := s.Save(ctx, batch)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected only e3 to be saved, got %d", n)
	}

	stats, err := s.Statistics(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Total != 2 {
		t.Errorf("Expected 2 rows, got %d", stats.Total)
	}
}

func TestStore_SaveRefreshesModelValues(t *testing.T) {
	s, c := newTestStore(t)
	ctx := context.Background()
	start := c.now().Add(6 * time.Hour)

	if n, err := s.Save(ctx, []models.Opportunity{opportunity("e1", models.SideHome, 2.20, 0.55, start)}); err != nil || n != 1 {
		t.Fatalf("Save = %d, %v", n, err)
	}

	rescan := opportunity("e1", models.SideHome, 2.20, 0.50, start)
	rescan.MarketProbability = 0.44
	rescan.Confidence = models.ConfidenceMedium
	n, err := s.Save(ctx, []models.Opportunity{rescan})
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("A refresh must not count as a new row, got %d", n)
	}

	pending, err := s.ForNotification(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Fatalf("Expected 1 row, got %d", len(pending))
	}
	got := pending[0]
	if math.Abs(got.EV-rescan.EV) > 1e-9 || got.ModelProbability != 0.50 {
		t.Errorf("EV = %.3f p = %.2f, want the rescan's EV %.3f p 0.50", got.EV, got.ModelProbability, rescan.EV)
	}
	if got.MarketProbability != 0.44 || got.Confidence != models.ConfidenceMedium {
		t.Errorf("market = %.2f confidence = %s", got.MarketProbability, got.Confidence)
	}
}

func TestStore_DedupIdempotenceWithExpiry(t *testing.T) {
	s, c := newTestStore(t)
	ctx := context.Background()
	opp := opportunity("e1", models.SideHome, 2.20, 0.55, c.now().Add(48*time.Hour))

	sent, err := s.AlreadySent(ctx, &opp)
	if err != nil || sent {
		t.Fatalf("Fresh opportunity reported sent: %v, %v", sent, err)
	}

	if err := s.MarkSent(ctx, &opp, 24*time.Hour); err != nil {
		t.Fatalf("MarkSent failed: %v", err)
	}

	for _, step := range []time.Duration{0, time.Hour, 22 * time.Hour} {
		c.advance(step)
		if sent, _ := s.AlreadySent(ctx, &opp); !sent {
			t.Fatalf("Expected sent within expiry window")
		}
	}

	same := opportunity("e1", models.SideHome, 2.2049, 0.55, opp.StartTime)
	if sent, _ := s.AlreadySent(ctx, &same); !sent {
		t.Error("Odd rounding to the same 2dp must share the ledger entry")
	}
	moved := opportunity("e1", models.SideHome, 2.21, 0.55, opp.StartTime)
	if sent, _ := s.AlreadySent(ctx, &moved); sent {
		t.Error("A different rounded odd must not be treated as sent")
	}

	c.advance(time.Hour)
	if sent, _ := s.AlreadySent(ctx, &opp); sent {
		t.Error("Expected ledger entry to expire after 24h")
	}

	removed, err := s.CleanupExpiredSent(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Errorf("Expected 1 expired ledger entry removed, got %d", removed)
	}
}

func TestStore_RescanDoesNotRenotify(t *testing.T) {
	s, c := newTestStore(t)
	ctx := context.Background()
	start := c.now().Add(12 * time.Hour)

	first := []models.Opportunity{opportunity("e1", models.SideHome, 2.20, 0.55, start)}
	if _, err := s.Save(ctx, first); err != nil {
		t.Fatal(err)
	}
	pending, err := s.ForNotification(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Fatalf("Expected 1 pending notification, got %d", len(pending))
	}
	if err := s.MarkSent(ctx, &pending[0], 24*time.Hour); err != nil {
		t.Fatal(err)
	}

	c.advance(time.Hour)
	second := []models.Opportunity{opportunity("e1", models.SideHome, 2.20, 0.55, start)}
	if _, err := s.Save(ctx, second); err != nil {
		t.Fatal(err)
	}

	if sent, _ := s.AlreadySent(ctx, &second[0]); !sent {
		t.Error("Rescanned opportunity must be reported as already sent")
	}
	pending, err = s.ForNotification(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("Expected nothing pending, got %d", len(pending))
	}
}

func TestStore_ExpiredOpportunitiesDisappear(t *testing.T) {
	s, c := newTestStore(t)
	ctx := context.Background()

	opps := []models.Opportunity{
		opportunity("e1", models.SideHome, 2.20, 0.55, c.now().Add(2*time.Hour)),
		opportunity("e1", models.SideAway, 2.00, 0.60, c.now().Add(2*time.Hour)),
		opportunity("e2", models.SideHome, 2.20, 0.55, c.now().Add(30*time.Hour)),
	}
	if _, err := s.Save(ctx, opps); err != nil {
		t.Fatal(err)
	}

	if err := s.MarkExpired(ctx, "e1"); err != nil {
		t.Fatalf("MarkExpired failed: %v", err)
	}

	settled, err := s.ByEvent(ctx, "e1")
	if err != nil {
		t.Fatal(err)
	}
	if len(settled) != 2 || settled[0].Side != models.SideAway || settled[1].Side != models.SideHome {
		t.Fatalf("ByEvent returned %+v", settled)
	}
	for _, o := range settled {
		if o.Status != models.StatusExpired {
			t.Errorf("ByEvent must include expired rows, got %s", o.Status)
		}
	}

	for name, fetch := range map[string]func(context.Context, float64) ([]models.Opportunity, error){
		"Active":          s.Active,
		"ForNotification": s.ForNotification,
	} {
		got, err := fetch(ctx, 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 || got[0].EventID != "e2" {
			t.Errorf("%s returned %+v, want only e2", name, got)
		}
	}

	c.advance(31 * time.Hour)
	n, err := s.ExpireStarted(ctx, c.now())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("ExpireStarted updated %d rows, want 1", n)
	}

	stats, err := s.Statistics(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Active != 0 || stats.Expired != 3 {
		t.Errorf("Expected 0 active / 3 expired, got %d / %d", stats.Active, stats.Expired)
	}
}

func TestStore_StartingWithin(t *testing.T) {
	s, c := newTestStore(t)
	ctx := context.Background()

	opps := []models.Opportunity{
		opportunity("soon", models.SideHome, 2.20, 0.55, c.now().Add(time.Hour)),
		opportunity("soon", models.SideAway, 2.00, 0.60, c.now().Add(time.Hour)),
		opportunity("later", models.SideHome, 2.20, 0.55, c.now().Add(20*time.Hour)),
	}
	if _, err := s.Save(ctx, opps); err != nil {
		t.Fatal(err)
	}

	ids, err := s.StartingWithin(ctx, 6*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != "soon" {
		t.Errorf("StartingWithin = %v, want [soon]", ids)
	}
}

func TestStore_LineMovementsAndCLV(t *testing.T) {
	s, c := newTestStore(t)
	ctx := context.Background()
	start := c.now().Add(3 * time.Hour)
	opp := opportunity("e1", models.SideHome, 2.20, 0.55, start)

	if _, err := s.ClosingLineValue(ctx, &opp); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound without history, got %v", err)
	}

	for i, home := range []float64{2.20, 2.10, 2.00} {
		lm := &models.LineMovement{
			EventID:    "e1",
			HomeOdd:    home,
			AwayOdd:    1.80,
			ObservedAt: c.now().Add(time.Duration(i) * time.Minute),
		}
		if err := s.AddLineMovement(ctx, lm); err != nil {
			t.Fatalf("AddLineMovement failed: %v", err)
		}
		if lm.ID == "" {
			t.Error("Expected generated id")
		}
	}
	if err := s.AddLineMovement(ctx, &models.LineMovement{EventID: "e1", HomeOdd: 1.0, AwayOdd: 2.0}); err == nil {
		t.Error("Expected error for unquoted movement")
	}

	history, err := s.LineHistory(ctx, "e1")
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 3 || history[0].HomeOdd != 2.20 || history[2].HomeOdd != 2.00 {
		t.Errorf("Unexpected history %+v", history)
	}

	clv, err := s.ClosingLineValue(ctx, &opp)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(clv-0.10) > 1e-9 {
		t.Errorf("CLV = %v, want 0.10", clv)
	}
}

func TestStore_ClosingLineFallsBackToResult(t *testing.T) {
	s, c := newTestStore(t)
	ctx := context.Background()
	opp := opportunity("e9", models.SideAway, 2.00, 0.60, c.now().Add(time.Hour))

	if err := s.RecordResult(ctx, &models.MatchResult{
		EventID: "e9", Winner: models.SideAway, HomeClosingOdd: 2.5, AwayClosingOdd: 1.60,
	}); err != nil {
		t.Fatalf("RecordResult failed: %v", err)
	}

	clv, err := s.ClosingLineValue(ctx, &opp)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(clv-(2.00/1.60-1)) > 1e-9 {
		t.Errorf("CLV = %v", clv)
	}

	if err := s.RecordResult(ctx, &models.MatchResult{EventID: "e9", Winner: "DRAW"}); err == nil {
		t.Error("Expected error for invalid winner")
	}
}

func TestStore_CleanupOld(t *testing.T) {
	s, c := newTestStore(t)
	ctx := context.Background()

	old := opportunity("old", models.SideHome, 2.20, 0.55, c.now().Add(time.Hour))
	old.CreatedAt = c.now().AddDate(0, 0, -40)
	fresh := opportunity("fresh", models.SideHome, 2.20, 0.55, c.now().Add(time.Hour))
	if _, err := s.Save(ctx, []models.Opportunity{old, fresh}); err != nil {
		t.Fatal(err)
	}

	n, err := s.CleanupOld(ctx, 30)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("Expected 1 row removed, got %d", n)
	}
	active, _ := s.Active(ctx, 0)
	if len(active) != 1 || active[0].EventID != "fresh" {
		t.Errorf("Unexpected remaining rows %+v", active)
	}
}

func TestStore_Statistics(t *testing.T) {
	s, c := newTestStore(t)
	ctx := context.Background()
	start := c.now().Add(5 * time.Hour)

	var opps []models.Opportunity
	for i, p := range []float64{0.55, 0.60, 0.65} {
		o := opportunity(fmt.Sprintf("e%d", i), models.SideHome, 2.0, p, start)
		if i == 2 {
			o.Confidence = models.ConfidenceMedium
		}
		opps = append(opps, o)
	}
	if _, err := s.Save(ctx, opps); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkSent(ctx, &opps[0], 24*time.Hour); err != nil {
		t.Fatal(err)
	}

	stats, err := s.Statistics(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Total != 3 || stats.Active != 3 {
		t.Errorf("Unexpected counts %+v", stats)
	}
	if math.Abs(stats.AvgEV-0.20) > 1e-9 || math.Abs(stats.MaxEV-0.30) > 1e-9 {
		t.Errorf("AvgEV/MaxEV = %v/%v", stats.AvgEV, stats.MaxEV)
	}
	if stats.AvgOdd != 2.0 {
		t.Errorf("AvgOdd = %v", stats.AvgOdd)
	}
	if stats.ByConfidence[models.ConfidenceHigh] != 2 || stats.ByConfidence[models.ConfidenceMedium] != 1 {
		t.Errorf("ByConfidence = %v", stats.ByConfidence)
	}
	if stats.SentLast24h != 1 {
		t.Errorf("SentLast24h = %d", stats.SentLast24h)
	}
}

func TestStore_EmptyStatistics(t *testing.T) {
	s, _ := newTestStore(t)
	stats, err := s.Statistics(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Total != 0 || stats.AvgEV != 0 {
		t.Errorf("Unexpected stats on empty store %+v", stats)
	}
}
