// Package oddsapi is a client for the BetsAPI-style sports odds service:
// upcoming tennis events and the match-winner market for each event.
package oddsapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/rewired-gh/courtedge/internal/league"
	"github.com/rewired-gh/courtedge/internal/logger"
	"github.com/rewired-gh/courtedge/internal/models"
)

const (
	// TennisSportID is the provider's sport id for tennis.
	TennisSportID = 13
	// MatchWinnerMarket is the odds market key for tennis to-win-match.
	MatchWinnerMarket = "13_1"
)

// ErrNoOdds is returned when an event has no quoted match-winner market.
var ErrNoOdds = errors.New("no odds available")

// OddsCache stores recent odds snapshots keyed by event id.
type OddsCache interface {
	Get(ctx context.Context, eventID string) (*models.OddsSnapshot, bool)
	Set(ctx context.Context, snap *models.OddsSnapshot)
}

// Config holds client settings.
type Config struct {
	BaseURL         string
	Token           string
	SportID         int
	Timeout         time.Duration
	MaxRetries      int
	RetryDelay      time.Duration
	RequestInterval time.Duration
	MaxPages        int
}

// Client provides access to the odds API
type Client struct {
	baseURL    string
	token      string
	sportID    int
	maxRetries int
	retryDelay time.Duration
	maxPages   int
	httpClient *http.Client
	limiter    *rate.Limiter
	cache      OddsCache
	now        func() time.Time
}

// NewClient creates a new odds API client. cache may be nil.
func NewClient(cfg Config, cache OddsCache) *Client {
	limit := rate.Inf
	if cfg.RequestInterval > 0 {
		limit = rate.Every(cfg.RequestInterval)
	}
	if cfg.SportID == 0 {
		cfg.SportID = TennisSportID
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	if cfg.MaxPages < 1 {
		cfg.MaxPages = 1
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		token:      cfg.Token,
		sportID:    cfg.SportID,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		maxPages:   cfg.MaxPages,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(limit, 1),
		cache:      cache,
		now:        time.Now,
	}
}

type namedRef struct {
	Name string `json:"name"`
}

type upcomingEvent struct {
	ID     string   `json:"id"`
	Time   string   `json:"time"`
	League namedRef `json:"league"`
	Home   namedRef `json:"home"`
	Away   namedRef `json:"away"`
}

type pager struct {
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
	Total   int `json:"total"`
}

type upcomingResponse struct {
	Success int             `json:"success"`
	Pager   pager           `json:"pager"`
	Results []upcomingEvent `json:"results"`
}

type oddsRecord struct {
	HomeOd  string `json:"home_od"`
	AwayOd  string `json:"away_od"`
	AddTime string `json:"add_time"`
}

type oddsResponse struct {
	Success int `json:"success"`
	Results struct {
		Odds map[string][]oddsRecord `json:"odds"`
	} `json:"results"`
}

// UpcomingMatches lists tennis matches starting within hoursAhead hours.
// Pages are walked until a short page, the page cap, or a page whose last
// event already starts beyond the window.
func (c *Client) UpcomingMatches(ctx context.Context, hoursAhead int) ([]models.MatchEvent, error) {
	now := c.now().UTC()
	horizon := now.Add(time.Duration(hoursAhead) * time.Hour)

	var matches []models.MatchEvent
	seen := make(map[string]bool)

	for page := 1; page <= c.maxPages; page++ {
		params := url.Values{}
		params.Set("sport_id", strconv.Itoa(c.sportID))
		params.Set("page", strconv.Itoa(page))

		var response upcomingResponse
		if err := c.getJSON(ctx, "/v1/bet365/upcoming", params, &response); err != nil {
			if page == 1 {
				return nil, fmt.Errorf("failed to fetch upcoming events: %w", err)
			}
			logger.Warn("Stopping pagination at page %d: %v", page, err)
			break
		}
		if response.Success != 1 {
			if page == 1 {
				return nil, fmt.Errorf("upcoming events: provider reported failure")
			}
			break
		}

		beyond := false
		for _, ev := range response.Results {
			start, err := parseUnix(ev.Time)
			if err != nil {
				logger.Debug("Skipping event %s: bad start time %q", ev.ID, ev.Time)
				continue
			}
			if start.After(horizon) {
				beyond = true
				continue
			}
			if !start.After(now) || seen[ev.ID] {
				continue
			}
			if ev.ID == "" || ev.Home.Name == "" || ev.Away.Name == "" {
				logger.Debug("Skipping event with missing fields: %+v", ev)
				continue
			}
			seen[ev.ID] = true
			matches = append(matches, models.MatchEvent{
				ID:        ev.ID,
				Home:      ev.Home.Name,
				Away:      ev.Away.Name,
				StartTime: start,
				League:    ev.League.Name,
				Surface:   league.InferSurface(ev.League.Name),
				Tier:      league.InferTier(ev.League.Name),
			})
		}

		perPage := response.Pager.PerPage
		if perPage <= 0 || len(response.Results) < perPage {
			break
		}
		if response.Pager.Total > 0 && page*perPage >= response.Pager.Total {
			break
		}
		if beyond {
			break
		}
	}

	logger.Debug("Fetched %d upcoming matches within %dh", len(matches), hoursAhead)
	return matches, nil
}

// EventOdds returns the most recent match-winner quote for an event.
func (c *Client) EventOdds(ctx context.Context, eventID string) (*models.OddsSnapshot, error) {
	if c.cache != nil {
		if snap, ok := c.cache.Get(ctx, eventID); ok {
			return snap, nil
		}
	}

	params := url.Values{}
	params.Set("event_id", eventID)
	params.Set("odds_market", "1")

	var response oddsResponse
	if err := c.getJSON(ctx, "/v2/event/odds", params, &response); err != nil {
		return nil, fmt.Errorf("failed to fetch odds for %s: %w", eventID, err)
	}
	if response.Success != 1 {
		return nil, fmt.Errorf("odds for %s: provider reported failure", eventID)
	}

	records := response.Results.Odds[MatchWinnerMarket]
	if len(records) == 0 {
		return nil, ErrNoOdds
	}
	last := records[len(records)-1]

	home, errH := strconv.ParseFloat(last.HomeOd, 64)
	away, errA := strconv.ParseFloat(last.AwayOd, 64)
	if errH != nil || errA != nil {
		return nil, fmt.Errorf("odds for %s: malformed quote %q/%q: %w", eventID, last.HomeOd, last.AwayOd, ErrNoOdds)
	}

	ts, err := parseUnix(last.AddTime)
	if err != nil {
		ts = c.now().UTC()
	}

	snap := &models.OddsSnapshot{
		EventID:   eventID,
		HomeOdd:   home,
		AwayOdd:   away,
		Timestamp: ts,
	}
	if c.cache != nil && snap.Valid() {
		c.cache.Set(ctx, snap)
	}
	return snap, nil
}

func (c *Client) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	params.Set("token", c.token)
	resp, err := c.doRequest(ctx, c.baseURL+path+"?"+params.Encode(), path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

// doRequest performs HTTP request with retry logic. Transport errors and 5xx
// responses are retried with linear backoff, anything else is returned as is.
func (c *Client) doRequest(ctx context.Context, rawURL, path string) (*http.Response, error) {
	var lastErr error

	for i := 0; i < c.maxRetries; i++ {
		if i > 0 {
			if err := sleepCtx(ctx, c.retryDelay*time.Duration(i)); err != nil {
				return nil, err
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = redact(path, err)
			logger.Debug("Request %s failed (attempt %d/%d): %v", path, i+1, c.maxRetries, lastErr)
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			logger.Debug("Request %s failed (attempt %d/%d): %v", path, i+1, c.maxRetries, lastErr)
			continue
		}

		return resp, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// redact drops the request URL, which carries the API token, from transport errors.
func redact(path string, err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return fmt.Errorf("%s %s: %w", uerr.Op, path, uerr.Err)
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func parseUnix(s string) (time.Time, error) {
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}
