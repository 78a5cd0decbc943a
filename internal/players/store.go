// Package players persists per-player statistics consumed by the multi-factor
// probability model: rankings, overall and surface Elo, recent form, fatigue
// and head-to-head records.
//
// Unknown players get the neutral prior from models.NewPlayerStats. When a
// Provider is configured it is consulted for missing or stale records; any
// provider failure keeps whatever is already stored.
package players

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rewired-gh/courtedge/internal/logger"
	"github.com/rewired-gh/courtedge/internal/models"
	"github.com/rewired-gh/courtedge/internal/storage"
)

// EloK is the rating update factor applied per recorded match.
const EloK = 32.0

const (
	formWindow    = 10
	fatigueWindow = 30 * 24 * time.Hour
)

// ErrNotFound is returned by Get for players that have no stored record.
var ErrNotFound = errors.New("player not found")

// Provider supplies fresh statistics from an external source.
type Provider interface {
	Fetch(ctx context.Context, name string) (*models.PlayerStats, error)
}

// Store is the SQLite-backed player statistics store.
type Store struct {
	db         *sql.DB
	provider   Provider
	staleAfter time.Duration
	now        func() time.Time
}

// New opens the player database at path. provider may be nil.
func New(ctx context.Context, path string, provider Provider, staleAfter time.Duration) (*Store, error) {
	db, err := storage.OpenDB(ctx, path)
	if err != nil {
		return nil, err
	}

	s := &Store{db: db, provider: provider, staleAfter: staleAfter, now: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS players (
		name TEXT PRIMARY KEY,
		ranking INTEGER NOT NULL,
		elo REAL NOT NULL,
		surface_elo TEXT NOT NULL,
		form REAL NOT NULL,
		matches_30d INTEGER NOT NULL DEFAULT 0,
		surface_win_rate TEXT NOT NULL,
		last_updated INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS head_to_head (
		player_a TEXT NOT NULL,
		player_b TEXT NOT NULL,
		wins_a INTEGER NOT NULL DEFAULT 0,
		wins_b INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (player_a, player_b)
	);

	CREATE TABLE IF NOT EXISTS recent_matches (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		player TEXT NOT NULL,
		opponent TEXT NOT NULL,
		surface TEXT NOT NULL,
		won INTEGER NOT NULL,
		played_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_recent_matches_player ON recent_matches(player, played_at);
	`
	_, err := s.db.ExecContext(ctx, query)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Get returns the stored record for name or ErrNotFound.
func (s *Store) Get(ctx context.Context, name string) (*models.PlayerStats, error) {
	return load(ctx, s.db, name)
}

// GetOrCreate returns the record for name, refreshing it from the provider
// when missing or stale, and inserting the neutral prior when nothing better
// is available.
func (s *Store) GetOrCreate(ctx context.Context, name string) (*models.PlayerStats, error) {
	stored, err := s.Get(ctx, name)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if s.provider != nil && (stored == nil || s.now().Sub(stored.LastUpdated) > s.staleAfter) {
		fresh, ferr := s.provider.Fetch(ctx, name)
		switch {
		case ferr != nil:
			logger.Debug("Player provider failed for %s: %v", name, ferr)
		case fresh != nil:
			fresh.Name = name
			if fresh.LastUpdated.IsZero() {
				fresh.LastUpdated = s.now().UTC()
			}
			if err := s.Upsert(ctx, fresh); err != nil {
				logger.Warn("Discarding provider stats for %s: %v", name, err)
				break
			}
			return fresh, nil
		}
	}

	if stored != nil {
		return stored, nil
	}

	prior := models.NewPlayerStats(name)
	if err := save(ctx, s.db, prior); err != nil {
		return nil, fmt.Errorf("failed to create player %s: %w", name, err)
	}
	return prior, nil
}

// Upsert validates and stores stats, replacing any existing record.
func (s *Store) Upsert(ctx context.Context, stats *models.PlayerStats) error {
	stats.Normalize()
	if err := stats.Validate(); err != nil {
		return fmt.Errorf("invalid player stats: %w", err)
	}
	return save(ctx, s.db, stats)
}

// HeadToHead returns the meeting tally between a and b, oriented a-first.
func (s *Store) HeadToHead(ctx context.Context, a, b string) (models.HeadToHead, error) {
	return headToHead(ctx, s.db, a, b)
}

// RecordMatch stores a finished match and updates both players' Elo, form,
// fatigue and surface win rate as well as their head-to-head tally.
func (s *Store) RecordMatch(ctx context.Context, winner, loser string, surface models.Surface, playedAt time.Time) error {
	if winner == "" || loser == "" || winner == loser {
		return fmt.Errorf("invalid match participants %q vs %q", winner, loser)
	}
	if !surface.Valid() {
		return fmt.Errorf("unknown surface %q", surface)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	w, err := loadOrPrior(ctx, tx, winner)
	if err != nil {
		return err
	}
	l, err := loadOrPrior(ctx, tx, loser)
	if err != nil {
		return err
	}

	w.Elo, l.Elo = updateElo(w.Elo, l.Elo)
	w.SurfaceElo[surface], l.SurfaceElo[surface] = updateElo(w.EloOn(surface), l.EloOn(surface))

	insert := `INSERT INTO recent_matches (player, opponent, surface, won, played_at) VALUES (?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, insert, winner, loser, string(surface), 1, playedAt.Unix()); err != nil {
		return fmt.Errorf("failed to record match: %w", err)
	}
	if _, err := tx.ExecContext(ctx, insert, loser, winner, string(surface), 0, playedAt.Unix()); err != nil {
		return fmt.Errorf("failed to record match: %w", err)
	}

	for _, p := range []*models.PlayerStats{w, l} {
		if err := s.recompute(ctx, tx, p); err != nil {
			return err
		}
		if err := save(ctx, tx, p); err != nil {
			return fmt.Errorf("failed to update player %s: %w", p.Name, err)
		}
	}

	if err := addHeadToHeadWin(ctx, tx, winner, loser); err != nil {
		return err
	}

	return tx.Commit()
}

// updateElo returns the new ratings of a winner and a loser.
func updateElo(winner, loser float64) (float64, float64) {
	expected := 1.0 / (1.0 + math.Pow(10, (loser-winner)/400.0))
	delta := EloK * (1.0 - expected)
	return winner + delta, loser - delta
}

func (s *Store) recompute(ctx context.Context, q queryer, p *models.PlayerStats) error {
	since := s.now().Add(-fatigueWindow).Unix()
	if err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM recent_matches WHERE player = ? AND played_at >= ?`,
		p.Name, since,
	).Scan(&p.Matches30d); err != nil {
		return fmt.Errorf("failed to count recent matches: %w", err)
	}

	rows, err := q.QueryContext(ctx,
		`SELECT won FROM recent_matches WHERE player = ? ORDER BY played_at DESC, id DESC LIMIT ?`,
		p.Name, formWindow,
	)
	if err != nil {
		return fmt.Errorf("failed to load form: %w", err)
	}
	var wins, total int
	for rows.Next() {
		var won int
		if err := rows.Scan(&won); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan form row: %w", err)
		}
		wins += won
		total++
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to load form: %w", err)
	}
	if total > 0 {
		p.Form = float64(wins) / float64(total)
	}

	rows, err = q.QueryContext(ctx,
		`SELECT surface, SUM(won), COUNT(*) FROM recent_matches WHERE player = ? GROUP BY surface`,
		p.Name,
	)
	if err != nil {
		return fmt.Errorf("failed to load surface record: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var surface string
		var won, played int
		if err := rows.Scan(&surface, &won, &played); err != nil {
			return fmt.Errorf("failed to scan surface row: %w", err)
		}
		if played > 0 {
			p.SurfaceWinRate[models.Surface(surface)] = float64(won) / float64(played)
		}
	}
	return rows.Err()
}

func loadOrPrior(ctx context.Context, q queryer, name string) (*models.PlayerStats, error) {
	p, err := load(ctx, q, name)
	if errors.Is(err, ErrNotFound) {
		return models.NewPlayerStats(name), nil
	}
	return p, err
}

func load(ctx context.Context, q queryer, name string) (*models.PlayerStats, error) {
	var (
		p              models.PlayerStats
		surfaceElo     string
		surfaceWinRate string
		lastUpdated    int64
	)
	err := q.QueryRowContext(ctx, `
		SELECT name, ranking, elo, surface_elo, form, matches_30d, surface_win_rate, last_updated
		FROM players WHERE name = ?`, name,
	).Scan(&p.Name, &p.Ranking, &p.Elo, &surfaceElo, &p.Form, &p.Matches30d, &surfaceWinRate, &lastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load player %s: %w", name, err)
	}

	if err := json.Unmarshal([]byte(surfaceElo), &p.SurfaceElo); err != nil {
		logger.Warn("Corrupt surface elo for %s: %v", name, err)
		p.SurfaceElo = nil
	}
	if err := json.Unmarshal([]byte(surfaceWinRate), &p.SurfaceWinRate); err != nil {
		logger.Warn("Corrupt surface win rate for %s: %v", name, err)
		p.SurfaceWinRate = nil
	}
	if lastUpdated > 0 {
		p.LastUpdated = time.Unix(lastUpdated, 0).UTC()
	}
	p.Normalize()
	return &p, nil
}

func save(ctx context.Context, q queryer, p *models.PlayerStats) error {
	surfaceElo, err := json.Marshal(p.SurfaceElo)
	if err != nil {
		return err
	}
	surfaceWinRate, err := json.Marshal(p.SurfaceWinRate)
	if err != nil {
		return err
	}
	var lastUpdated int64
	if !p.LastUpdated.IsZero() {
		lastUpdated = p.LastUpdated.Unix()
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO players (name, ranking, elo, surface_elo, form, matches_30d, surface_win_rate, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			ranking = excluded.ranking,
			elo = excluded.elo,
			surface_elo = excluded.surface_elo,
			form = excluded.form,
			matches_30d = excluded.matches_30d,
			surface_win_rate = excluded.surface_win_rate,
			last_updated = excluded.last_updated`,
		p.Name, p.Ranking, p.Elo, string(surfaceElo), p.Form, p.Matches30d, string(surfaceWinRate), lastUpdated,
	)
	return err
}

// orderedPair returns the canonical key for a pair and whether it was swapped.
func orderedPair(a, b string) (string, string, bool) {
	if a <= b {
		return a, b, false
	}
	return b, a, true
}

func headToHead(ctx context.Context, q queryer, a, b string) (models.HeadToHead, error) {
	first, second, swapped := orderedPair(a, b)
	h := models.HeadToHead{PlayerA: a, PlayerB: b}

	var winsFirst, winsSecond int
	err := q.QueryRowContext(ctx,
		`SELECT wins_a, wins_b FROM head_to_head WHERE player_a = ? AND player_b = ?`,
		first, second,
	).Scan(&winsFirst, &winsSecond)
	if errors.Is(err, sql.ErrNoRows) {
		return h, nil
	}
	if err != nil {
		return h, fmt.Errorf("failed to load head-to-head: %w", err)
	}

	if swapped {
		h.WinsA, h.WinsB = winsSecond, winsFirst
	} else {
		h.WinsA, h.WinsB = winsFirst, winsSecond
	}
	return h, nil
}

func addHeadToHeadWin(ctx context.Context, q queryer, winner, loser string) error {
	first, second, swapped := orderedPair(winner, loser)
	winsA, winsB := 1, 0
	if swapped {
		winsA, winsB = 0, 1
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO head_to_head (player_a, player_b, wins_a, wins_b) VALUES (?, ?, ?, ?)
		ON CONFLICT(player_a, player_b) DO UPDATE SET
			wins_a = wins_a + excluded.wins_a,
			wins_b = wins_b + excluded.wins_b`,
		first, second, winsA, winsB,
	)
	if err != nil {
		return fmt.Errorf("failed to update head-to-head: %w", err)
	}
	return nil
}
