// Package storage persists opportunities, the notification dedup ledger,
// line-movement history and match results in a SQLite database.
//
// Writes are insert-only for opportunities: a batch never aborts on a single
// bad row, which is logged and skipped. Deduplication is keyed by the
// opportunity hash (event, side, odd rounded to 2dp) and is time-bounded by
// the ledger entry's expiry.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rewired-gh/courtedge/internal/logger"
	"github.com/rewired-gh/courtedge/internal/models"
	"github.com/rewired-gh/courtedge/internal/oddsmath"
)

// ErrNotFound is returned when a lookup has no matching row.
var ErrNotFound = errors.New("not found")

// Store is the SQLite-backed opportunity store.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New opens the opportunity database at path.
func New(ctx context.Context, path string) (*Store, error) {
	db, err := OpenDB(ctx, path)
	if err != nil {
		return nil, err
	}

	s := &Store{db: db, now: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS opportunities (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id TEXT NOT NULL,
		match_label TEXT NOT NULL,
		home TEXT NOT NULL DEFAULT '',
		away TEXT NOT NULL DEFAULT '',
		start_time INTEGER NOT NULL,
		league TEXT NOT NULL DEFAULT '',
		surface TEXT NOT NULL DEFAULT '',
		tier TEXT NOT NULL DEFAULT '',
		side TEXT NOT NULL,
		odd REAL NOT NULL,
		model_probability REAL NOT NULL,
		ev REAL NOT NULL,
		market_probability REAL NOT NULL,
		confidence TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'ACTIVE',
		dedup_hash TEXT NOT NULL UNIQUE,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_opportunities_status_start ON opportunities(status, start_time);
	CREATE INDEX IF NOT EXISTS idx_opportunities_event ON opportunities(event_id);

	CREATE TABLE IF NOT EXISTS line_movements (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL,
		home_odd REAL NOT NULL,
		away_odd REAL NOT NULL,
		observed_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_line_movements_event ON line_movements(event_id, observed_at);

	CREATE TABLE IF NOT EXISTS sent_opportunities (
		hash TEXT PRIMARY KEY,
		event_id TEXT NOT NULL,
		side TEXT NOT NULL,
		odd REAL NOT NULL,
		sent_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sent_expires ON sent_opportunities(expires_at);

	CREATE TABLE IF NOT EXISTS match_results (
		event_id TEXT PRIMARY KEY,
		winner TEXT NOT NULL,
		home_closing_odd REAL NOT NULL DEFAULT 0,
		away_closing_odd REAL NOT NULL DEFAULT 0,
		recorded_at INTEGER NOT NULL
	);
	`
	_, err := s.db.ExecContext(ctx, query)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save inserts opportunities and returns how many new rows were written.
// Invalid rows are skipped. When the dedup hash is already stored and still
// ACTIVE, the row takes the latest model probability, EV, market probability
// and confidence; such refreshes are not counted.
func (s *Store) Save(ctx context.Context, opps []models.Opportunity) (int, error) {
	refresh := `
	UPDATE opportunities
	SET model_probability = ?, ev = ?, market_probability = ?, confidence = ?
	WHERE dedup_hash = ? AND status = ?`
	query := `
	INSERT INTO opportunities (
		event_id, match_label, home, away, start_time, league, surface, tier,
		side, odd, model_probability, ev, market_probability,
		confidence, status, dedup_hash, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(dedup_hash) DO NOTHING`

	saved := 0
	for i := range opps {
		o := &opps[i]
		if err := ctx.Err(); err != nil {
			return saved, err
		}
		if o.DedupHash == "" {
			o.DedupHash = models.DedupHash(o.EventID, o.Side, o.Odd)
		}
		if o.Status == "" {
			o.Status = models.StatusActive
		}
		if o.CreatedAt.IsZero() {
			o.CreatedAt = s.now().UTC()
		}
		if err := o.Validate(); err != nil {
			logger.Warn("Skipping invalid opportunity %s/%s: %v", o.EventID, o.Side, err)
			continue
		}

		res, err := s.db.ExecContext(ctx, query,
			o.EventID, o.Match, o.Home, o.Away, o.StartTime.Unix(), o.League, string(o.Surface), string(o.Tier),
			string(o.Side), o.Odd, o.ModelProbability, o.EV, o.MarketProbability,
			string(o.Confidence), string(o.Status), o.DedupHash, o.CreatedAt.Unix(),
		)
		if err != nil {
			logger.Warn("Failed to save opportunity %s/%s: %v", o.EventID, o.Side, err)
			continue
		}
		if n, _ := res.RowsAffected(); n == 0 {
			if _, err := s.db.ExecContext(ctx, refresh,
				o.ModelProbability, o.EV, o.MarketProbability, string(o.Confidence),
				o.DedupHash, string(models.StatusActive),
			); err != nil {
				logger.Warn("Failed to refresh opportunity %s/%s: %v", o.EventID, o.Side, err)
				continue
			}
			logger.Debug("Opportunity %s/%s @ %.2f already stored, refreshed to EV %.3f", o.EventID, o.Side, o.Odd, o.EV)
			continue
		}
		if id, err := res.LastInsertId(); err == nil {
			o.ID = id
		}
		saved++
	}
	return saved, nil
}

const selectOpportunity = `
	SELECT o.id, o.event_id, o.match_label, o.home, o.away, o.start_time, o.league, o.surface, o.tier,
		o.side, o.odd, o.model_probability, o.ev, o.market_probability,
		o.confidence, o.status, o.dedup_hash, o.created_at
	FROM opportunities o`

// Active returns ACTIVE opportunities starting more than minHoursAhead hours
// from now, ordered by EV descending then most recent first.
func (s *Store) Active(ctx context.Context, minHoursAhead float64) ([]models.Opportunity, error) {
	cutoff := s.now().Add(hours(minHoursAhead)).Unix()
	query := selectOpportunity + `
	WHERE o.status = ? AND o.start_time > ?
	ORDER BY o.ev DESC, o.created_at DESC, o.id DESC`
	return s.queryOpportunities(ctx, query, string(models.StatusActive), cutoff)
}

// ByEvent returns every stored opportunity of one event regardless of status.
func (s *Store) ByEvent(ctx context.Context, eventID string) ([]models.Opportunity, error) {
	query := selectOpportunity + `
	WHERE o.event_id = ?
	ORDER BY o.side, o.created_at, o.id`
	return s.queryOpportunities(ctx, query, eventID)
}

// ForNotification is Active minus every opportunity whose dedup hash has an
// unexpired ledger entry.
func (s *Store) ForNotification(ctx context.Context, minHoursAhead float64) ([]models.Opportunity, error) {
	now := s.now()
	query := selectOpportunity + `
	WHERE o.status = ? AND o.start_time > ?
		AND NOT EXISTS (
			SELECT 1 FROM sent_opportunities so
			WHERE so.hash = o.dedup_hash AND so.expires_at > ?
		)
	ORDER BY o.ev DESC, o.created_at DESC, o.id DESC`
	return s.queryOpportunities(ctx, query, string(models.StatusActive), now.Add(hours(minHoursAhead)).Unix(), now.Unix())
}

// AlreadySent reports whether opp's hash has an unexpired ledger entry.
func (s *Store) AlreadySent(ctx context.Context, opp *models.Opportunity) (bool, error) {
	hash := models.DedupHash(opp.EventID, opp.Side, opp.Odd)
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM sent_opportunities WHERE hash = ? AND expires_at > ?`,
		hash, s.now().Unix(),
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check ledger: %w", err)
	}
	return true, nil
}

// MarkSent records opp in the ledger until now+expires.
func (s *Store) MarkSent(ctx context.Context, opp *models.Opportunity, expires time.Duration) error {
	now := s.now()
	rec := models.SentRecord{
		Hash:      models.DedupHash(opp.EventID, opp.Side, opp.Odd),
		EventID:   opp.EventID,
		Side:      opp.Side,
		Odd:       models.RoundOdd(opp.Odd).InexactFloat64(),
		SentAt:    now,
		ExpiresAt: now.Add(expires),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sent_opportunities (hash, event_id, side, odd, sent_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(hash) DO UPDATE SET
			sent_at = excluded.sent_at,
			expires_at = excluded.expires_at`,
		rec.Hash, rec.EventID, string(rec.Side), rec.Odd, rec.SentAt.Unix(), rec.ExpiresAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to mark sent: %w", err)
	}
	return nil
}

// CleanupExpiredSent deletes expired ledger entries.
func (s *Store) CleanupExpiredSent(ctx context.Context) (int64, error) {
	return s.exec(ctx, "cleanup expired sent",
		`DELETE FROM sent_opportunities WHERE expires_at <= ?`, s.now().Unix())
}

// CleanupOld deletes opportunities and line movements older than days.
func (s *Store) CleanupOld(ctx context.Context, days int) (int64, error) {
	cutoff := s.now().AddDate(0, 0, -days).Unix()
	n, err := s.exec(ctx, "cleanup old opportunities",
		`DELETE FROM opportunities WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	m, err := s.exec(ctx, "cleanup old line movements",
		`DELETE FROM line_movements WHERE observed_at < ?`, cutoff)
	if err != nil {
		return n, err
	}
	if n+m > 0 {
		logger.Info("Retention sweep removed %d opportunities and %d line movements", n, m)
	}
	return n + m, nil
}

// MarkExpired moves every ACTIVE opportunity of eventID to EXPIRED.
func (s *Store) MarkExpired(ctx context.Context, eventID string) error {
	_, err := s.exec(ctx, "mark expired",
		`UPDATE opportunities SET status = ? WHERE event_id = ? AND status = ?`,
		string(models.StatusExpired), eventID, string(models.StatusActive))
	return err
}

// ExpireStarted expires every ACTIVE opportunity whose match started by now.
func (s *Store) ExpireStarted(ctx context.Context, now time.Time) (int64, error) {
	return s.exec(ctx, "expire started",
		`UPDATE opportunities SET status = ? WHERE status = ? AND start_time <= ?`,
		string(models.StatusExpired), string(models.StatusActive), now.Unix())
}

// StartingWithin lists distinct events with ACTIVE opportunities that start
// between now and now+horizon.
func (s *Store) StartingWithin(ctx context.Context, horizon time.Duration) ([]string, error) {
	now := s.now()
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT event_id FROM opportunities
		WHERE status = ? AND start_time > ? AND start_time <= ?
		ORDER BY event_id`,
		string(models.StatusActive), now.Unix(), now.Add(horizon).Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query upcoming events: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan event id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AddLineMovement appends an odds observation. An empty ID is assigned.
func (s *Store) AddLineMovement(ctx context.Context, lm *models.LineMovement) error {
	if lm.ID == "" {
		lm.ID = uuid.NewString()
	}
	if lm.ObservedAt.IsZero() {
		lm.ObservedAt = s.now().UTC()
	}
	if err := lm.Validate(); err != nil {
		return fmt.Errorf("invalid line movement: %w", err)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO line_movements (id, event_id, home_odd, away_odd, observed_at) VALUES (?, ?, ?, ?, ?)`,
		lm.ID, lm.EventID, lm.HomeOdd, lm.AwayOdd, lm.ObservedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to add line movement: %w", err)
	}
	return nil
}

// LineHistory returns the observations for eventID, oldest first.
func (s *Store) LineHistory(ctx context.Context, eventID string) ([]models.LineMovement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_id, home_odd, away_odd, observed_at FROM line_movements
		WHERE event_id = ? ORDER BY observed_at ASC, rowid ASC`, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to query line history: %w", err)
	}
	defer rows.Close()

	var history []models.LineMovement
	for rows.Next() {
		var lm models.LineMovement
		var observed int64
		if err := rows.Scan(&lm.ID, &lm.EventID, &lm.HomeOdd, &lm.AwayOdd, &observed); err != nil {
			return nil, fmt.Errorf("failed to scan line movement: %w", err)
		}
		lm.ObservedAt = time.Unix(observed, 0).UTC()
		history = append(history, lm)
	}
	return history, rows.Err()
}

// RecordResult stores or replaces the outcome of a match.
func (s *Store) RecordResult(ctx context.Context, r *models.MatchResult) error {
	if r.EventID == "" || !r.Winner.Valid() {
		return fmt.Errorf("invalid match result for %q", r.EventID)
	}
	if r.RecordedAt.IsZero() {
		r.RecordedAt = s.now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO match_results (event_id, winner, home_closing_odd, away_closing_odd, recorded_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(event_id) DO UPDATE SET
			winner = excluded.winner,
			home_closing_odd = excluded.home_closing_odd,
			away_closing_odd = excluded.away_closing_odd,
			recorded_at = excluded.recorded_at`,
		r.EventID, string(r.Winner), r.HomeClosingOdd, r.AwayClosingOdd, r.RecordedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to record result: %w", err)
	}
	return nil
}

// ClosingLineValue compares opp's odd with the closing odd of its side. The
// closing odd is the last line movement before the start, or the recorded
// result's closing odd when no movement was captured.
func (s *Store) ClosingLineValue(ctx context.Context, opp *models.Opportunity) (float64, error) {
	closing, err := s.closingOdd(ctx, opp)
	if err != nil {
		return 0, err
	}
	return oddsmath.CLV(opp.Odd, closing)
}

func (s *Store) closingOdd(ctx context.Context, opp *models.Opportunity) (float64, error) {
	var home, away float64
	err := s.db.QueryRowContext(ctx, `
		SELECT home_odd, away_odd FROM line_movements
		WHERE event_id = ? AND observed_at <= ?
		ORDER BY observed_at DESC, rowid DESC LIMIT 1`,
		opp.EventID, opp.StartTime.Unix(),
	).Scan(&home, &away)
	if err == nil {
		return pick(opp.Side, home, away), nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("failed to load closing line: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT home_closing_odd, away_closing_odd FROM match_results WHERE event_id = ?`,
		opp.EventID,
	).Scan(&home, &away)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load match result: %w", err)
	}
	odd := pick(opp.Side, home, away)
	if odd <= oddsmath.MinQuotedOdd {
		return 0, ErrNotFound
	}
	return odd, nil
}

// Statistics aggregates the store for status reporting.
func (s *Store) Statistics(ctx context.Context) (*models.Statistics, error) {
	stats := &models.Statistics{ByConfidence: map[models.Confidence]int{}}

	var avgEV, maxEV, avgOdd sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
			AVG(ev), MAX(ev), AVG(odd)
		FROM opportunities`,
		string(models.StatusActive), string(models.StatusExpired),
	).Scan(&stats.Total, &stats.Active, &stats.Expired, &avgEV, &maxEV, &avgOdd)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate opportunities: %w", err)
	}
	stats.AvgEV, stats.MaxEV, stats.AvgOdd = avgEV.Float64, maxEV.Float64, avgOdd.Float64

	rows, err := s.db.QueryContext(ctx, `SELECT confidence, COUNT(*) FROM opportunities GROUP BY confidence`)
	if err != nil {
		return nil, fmt.Errorf("failed to group by confidence: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var c string
		var n int
		if err := rows.Scan(&c, &n); err != nil {
			return nil, fmt.Errorf("failed to scan confidence row: %w", err)
		}
		stats.ByConfidence[models.Confidence(c)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	since := s.now().Add(-24 * time.Hour).Unix()
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sent_opportunities WHERE sent_at >= ?`, since,
	).Scan(&stats.SentLast24h); err != nil {
		return nil, fmt.Errorf("failed to count sent: %w", err)
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM line_movements`,
	).Scan(&stats.LineMovements); err != nil {
		return nil, fmt.Errorf("failed to count line movements: %w", err)
	}

	return stats, nil
}

func (s *Store) queryOpportunities(ctx context.Context, query string, args ...any) ([]models.Opportunity, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query opportunities: %w", err)
	}
	defer rows.Close()

	var opps []models.Opportunity
	for rows.Next() {
		var (
			o                                       models.Opportunity
			surface, tier, side, confidence, status string
			start, created                          int64
		)
		if err := rows.Scan(
			&o.ID, &o.EventID, &o.Match, &o.Home, &o.Away, &start, &o.League, &surface, &tier,
			&side, &o.Odd, &o.ModelProbability, &o.EV, &o.MarketProbability,
			&confidence, &status, &o.DedupHash, &created,
		); err != nil {
			return nil, fmt.Errorf("failed to scan opportunity: %w", err)
		}
		o.Surface = models.Surface(surface)
		o.Tier = models.Tier(tier)
		o.Side = models.Side(side)
		o.Confidence = models.Confidence(confidence)
		o.Status = models.Status(status)
		o.StartTime = time.Unix(start, 0).UTC()
		o.CreatedAt = time.Unix(created, 0).UTC()
		opps = append(opps, o)
	}
	return opps, rows.Err()
}

func (s *Store) exec(ctx context.Context, what, query string, args ...any) (int64, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to %s: %w", what, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func pick(side models.Side, home, away float64) float64 {
	if side == models.SideAway {
		return away
	}
	return home
}

func hours(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}
