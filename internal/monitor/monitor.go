// Package monitor runs the long-lived service: a scan loop that finds and
// announces value bets and a monitor loop that records line movements for
// matches about to start.
//
// Both loops run immediately on start, then sleep their interval in short
// chunks so cancellation is observed quickly. A failed cycle is logged, the
// operator is told once per failure streak, and the loop retries after a flat
// retry delay.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rewired-gh/courtedge/internal/logger"
	"github.com/rewired-gh/courtedge/internal/models"
	"github.com/rewired-gh/courtedge/internal/oddsapi"
	"github.com/rewired-gh/courtedge/internal/scanner"
)

// sleepChunk bounds a single wait so shutdown is never delayed by a long interval.
const sleepChunk = 10 * time.Second

// ErrScanInProgress is returned by StartScan while another scan is running.
var ErrScanInProgress = errors.New("a scan is already in progress")

// Scanner finds opportunities.
type Scanner interface {
	Scan(ctx context.Context, p scanner.Params) ([]models.Opportunity, scanner.Report, error)
}

// Store is the persistence the service needs.
type Store interface {
	Save(ctx context.Context, opps []models.Opportunity) (int, error)
	ForNotification(ctx context.Context, minHoursAhead float64) ([]models.Opportunity, error)
	AlreadySent(ctx context.Context, opp *models.Opportunity) (bool, error)
	MarkSent(ctx context.Context, opp *models.Opportunity, expires time.Duration) error
	CleanupExpiredSent(ctx context.Context) (int64, error)
	CleanupOld(ctx context.Context, days int) (int64, error)
	ExpireStarted(ctx context.Context, now time.Time) (int64, error)
	StartingWithin(ctx context.Context, horizon time.Duration) ([]string, error)
	AddLineMovement(ctx context.Context, lm *models.LineMovement) error
}

// Odds returns current odds for a single event.
type Odds interface {
	EventOdds(ctx context.Context, eventID string) (*models.OddsSnapshot, error)
}

// Notifier delivers alerts and operator notices.
type Notifier interface {
	SendOpportunity(opp *models.Opportunity, seq int64, liveOdd float64) error
	SendError(err error) error
	SendRecovery(failures int) error
}

// Sequencer hands out alert numbers.
type Sequencer interface {
	Next() (int64, error)
}

// Config controls loop timing and notification policy.
type Config struct {
	ScanInterval      time.Duration
	MonitorInterval   time.Duration
	RetryDelay        time.Duration
	HeartbeatInterval time.Duration
	MinHoursAhead     float64
	SentExpiry        time.Duration
	MonitorHorizon    time.Duration
	RetentionDays     int
	Params            scanner.Params
}

// Service owns the scan and monitor loops.
type Service struct {
	scanner  Scanner
	store    Store
	odds     Odds
	notifier Notifier
	seq      Sequencer
	cfg      Config

	running atomic.Bool
	scanMu  sync.Mutex

	mu   sync.RWMutex
	last *models.ScanSummary

	now func() time.Time
}

// New creates a Service. notifier may be nil, in which case nothing is sent
// and the dedup ledger is left untouched.
func New(sc Scanner, store Store, odds Odds, notifier Notifier, seq Sequencer, cfg Config) (*Service, error) {
	if sc == nil || store == nil || odds == nil {
		return nil, errors.New("scanner, store and odds source are required")
	}
	if notifier != nil && seq == nil {
		return nil, errors.New("a sequence is required when notifications are enabled")
	}
	if cfg.ScanInterval <= 0 || cfg.MonitorInterval <= 0 {
		return nil, fmt.Errorf("intervals must be positive (scan %v, monitor %v)", cfg.ScanInterval, cfg.MonitorInterval)
	}
	if err := cfg.Params.Validate(); err != nil {
		return nil, err
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Minute
	}
	if cfg.SentExpiry <= 0 {
		cfg.SentExpiry = 24 * time.Hour
	}
	if cfg.MonitorHorizon <= 0 {
		cfg.MonitorHorizon = 2 * time.Hour
	}

	return &Service{
		scanner:  sc,
		store:    store,
		odds:     odds,
		notifier: notifier,
		seq:      seq,
		cfg:      cfg,
		now:      time.Now,
	}, nil
}

// Running reports whether Run is active.
func (s *Service) Running() bool {
	return s.running.Load()
}

// LastSummary returns the most recent scan summary, or nil before the first scan.
func (s *Service) LastSummary() *models.ScanSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return nil
	}
	summary := *s.last
	return &summary
}

// Run blocks until ctx is cancelled. Cycle failures never stop the loops.
func (s *Service) Run(ctx context.Context) error {
	s.running.Store(true)
	defer s.running.Store(false)

	logger.Info("Starting service (scan every %v, monitor every %v, retry delay %v)",
		s.cfg.ScanInterval, s.cfg.MonitorInterval, s.cfg.RetryDelay)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.loop(gctx, "scan", s.cfg.ScanInterval, func(ctx context.Context) error {
			_, err := s.TriggerScan(ctx)
			return err
		})
	})
	g.Go(func() error {
		return s.loop(gctx, "monitor", s.cfg.MonitorInterval, s.MonitorCycle)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		logger.Info("Service stopped")
		return nil
	}
	return err
}

func (s *Service) loop(ctx context.Context, name string, interval time.Duration, cycle func(context.Context) error) error {
	consecutiveFailures := 0

	handleCycleResult := func(err error) {
		if err != nil {
			consecutiveFailures++
			logger.Error("%s cycle failed: %v", name, err)
			if consecutiveFailures == 1 && s.notifier != nil {
				if sendErr := s.notifier.SendError(fmt.Errorf("%s cycle: %w", name, err)); sendErr != nil {
					logger.Warn("Failed to send error notification to Telegram: %v", sendErr)
				}
			}
			return
		}
		if consecutiveFailures > 0 && s.notifier != nil {
			if sendErr := s.notifier.SendRecovery(consecutiveFailures); sendErr != nil {
				logger.Warn("Failed to send recovery notification to Telegram: %v", sendErr)
			}
		}
		consecutiveFailures = 0
	}

	for {
		err := cycle(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		handleCycleResult(err)

		wait := interval
		if err != nil {
			wait = s.cfg.RetryDelay
		}
		if err := s.sleep(ctx, name, wait); err != nil {
			return err
		}
	}
}

// sleep waits d in chunks of at most sleepChunk, logging a heartbeat every
// HeartbeatInterval.
func (s *Service) sleep(ctx context.Context, name string, d time.Duration) error {
	deadline := time.Now().Add(d)
	lastBeat := time.Now()

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		timer := time.NewTimer(min(remaining, sleepChunk))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if s.cfg.HeartbeatInterval > 0 && time.Since(lastBeat) >= s.cfg.HeartbeatInterval {
			logger.Info("%s loop alive, next cycle in %v", name, time.Until(deadline).Round(time.Second))
			lastBeat = time.Now()
		}
	}
}

// TriggerScan runs one scan cycle now. Concurrent calls are serialized.
func (s *Service) TriggerScan(ctx context.Context) (models.ScanSummary, error) {
	s.scanMu.Lock()
	defer s.scanMu.Unlock()
	return s.runScan(ctx, uuid.New().String())
}

// StartScan runs one scan cycle in the background and returns its id at once.
// The cycle keeps ctx's values but not its cancellation, and is bounded by
// timeout instead. The result is reported by LastSummary. It fails with
// ErrScanInProgress while another scan holds the scan lock.
func (s *Service) StartScan(ctx context.Context, timeout time.Duration) (string, error) {
	if !s.scanMu.TryLock() {
		return "", ErrScanInProgress
	}
	id := uuid.New().String()

	go func() {
		defer s.scanMu.Unlock()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		if _, err := s.runScan(sctx, id); err != nil {
			logger.Warn("Background scan %s failed: %v", id, err)
		}
	}()
	return id, nil
}

func (s *Service) runScan(ctx context.Context, id string) (models.ScanSummary, error) {
	summary := models.ScanSummary{
		ID:        id,
		StartedAt: s.now(),
	}
	err := s.scanCycle(ctx, &summary)
	summary.FinishedAt = s.now()
	if err != nil {
		summary.Err = err.Error()
	}

	s.mu.Lock()
	s.last = &summary
	s.mu.Unlock()

	logger.WithFields(logger.Fields{
		"scan_id":       summary.ID,
		"matches":       summary.Matches,
		"skipped":       summary.Skipped,
		"opportunities": summary.Opportunities,
		"saved":         summary.Saved,
		"notified":      summary.Notified,
		"duration":      summary.FinishedAt.Sub(summary.StartedAt).String(),
	}).Info("Scan cycle completed")

	return summary, err
}

func (s *Service) scanCycle(ctx context.Context, summary *models.ScanSummary) error {
	if n, err := s.store.CleanupExpiredSent(ctx); err != nil {
		logger.Warn("Failed to clean up sent ledger: %v", err)
	} else if n > 0 {
		logger.Debug("Removed %d expired sent records", n)
	}
	if n, err := s.store.ExpireStarted(ctx, s.now()); err != nil {
		logger.Warn("Failed to expire started matches: %v", err)
	} else if n > 0 {
		logger.Debug("Expired %d opportunities for started matches", n)
	}

	opps, report, err := s.scanner.Scan(ctx, s.cfg.Params)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}
	summary.Matches = report.Matches
	summary.Skipped = report.Skipped
	summary.Opportunities = len(opps)

	saved, err := s.store.Save(ctx, opps)
	if err != nil {
		return fmt.Errorf("failed to save opportunities: %w", err)
	}
	summary.Saved = saved

	if s.notifier != nil {
		notified, err := s.notify(ctx, opps)
		summary.Notified = notified
		if err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if s.cfg.RetentionDays > 0 {
		if n, err := s.store.CleanupOld(ctx, s.cfg.RetentionDays); err != nil {
			logger.Warn("Failed to clean up old opportunities: %v", err)
		} else if n > 0 {
			logger.Info("Removed %d opportunities older than %d days", n, s.cfg.RetentionDays)
		}
	}
	return nil
}

// notify sends every stored, unsent opportunity that this scan found again.
// Opportunities no longer offered by the bookmaker are not announced.
func (s *Service) notify(ctx context.Context, scanned []models.Opportunity) (int, error) {
	fresh := make(map[string]bool, len(scanned))
	for i := range scanned {
		fresh[scanned[i].DedupHash] = true
	}

	pending, err := s.store.ForNotification(ctx, s.cfg.MinHoursAhead)
	if err != nil {
		return 0, fmt.Errorf("failed to load opportunities for notification: %w", err)
	}

	notified := 0
	for i := range pending {
		if err := ctx.Err(); err != nil {
			return notified, err
		}
		opp := &pending[i]
		if !fresh[opp.DedupHash] {
			continue
		}
		sent, err := s.store.AlreadySent(ctx, opp)
		if err != nil {
			logger.Warn("Failed to check sent ledger for %s: %v", opp.EventID, err)
			continue
		}
		if sent {
			continue
		}

		liveOdd := s.liveOdd(ctx, opp)
		seq, err := s.seq.Next()
		if err != nil {
			return notified, fmt.Errorf("failed to allocate alert number: %w", err)
		}
		if err := s.notifier.SendOpportunity(opp, seq, liveOdd); err != nil {
			logger.Warn("Failed to send opportunity %s (%s): %v", opp.EventID, opp.Side, err)
			continue
		}
		// The message is out; record it even if ctx was cancelled mid-send.
		if err := s.store.MarkSent(context.WithoutCancel(ctx), opp, s.cfg.SentExpiry); err != nil {
			logger.Warn("Failed to record sent opportunity %s: %v", opp.EventID, err)
		}
		notified++
	}
	return notified, nil
}

func (s *Service) liveOdd(ctx context.Context, opp *models.Opportunity) float64 {
	snap, err := s.odds.EventOdds(ctx, opp.EventID)
	if err != nil {
		logger.Debug("Live odds unavailable for %s: %v", opp.EventID, err)
		return 0
	}
	return snap.OddFor(opp.Side)
}

// MonitorCycle records the current odds of every match starting within the
// monitor horizon.
func (s *Service) MonitorCycle(ctx context.Context) error {
	ids, err := s.store.StartingWithin(ctx, s.cfg.MonitorHorizon)
	if err != nil {
		return fmt.Errorf("failed to list upcoming matches: %w", err)
	}

	recorded := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		snap, err := s.odds.EventOdds(ctx, id)
		if errors.Is(err, oddsapi.ErrNoOdds) {
			logger.Debug("No odds for %s", id)
			continue
		}
		if err != nil {
			logger.Warn("Failed to fetch odds for %s: %v", id, err)
			continue
		}

		// Stamp with the source time so a cached quote is not dated as new.
		observed := snap.Timestamp
		if observed.IsZero() {
			observed = s.now()
		}
		lm := &models.LineMovement{
			EventID:    id,
			HomeOdd:    snap.HomeOdd,
			AwayOdd:    snap.AwayOdd,
			ObservedAt: observed,
		}
		if err := s.store.AddLineMovement(ctx, lm); err != nil {
			logger.Warn("Failed to record line movement for %s: %v", id, err)
			continue
		}
		recorded++
	}

	logger.Debug("Monitor cycle recorded %d of %d line movements", recorded, len(ids))
	return nil
}
