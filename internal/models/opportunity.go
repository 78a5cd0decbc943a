package models

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the competitor a bet is placed on.
type Side string

const (
	SideHome Side = "HOME"
	SideAway Side = "AWAY"
)

// Valid reports whether s is HOME or AWAY.
func (s Side) Valid() bool {
	return s == SideHome || s == SideAway
}

// Confidence is a coarse label summarising how trustworthy an opportunity looks.
type Confidence string

const (
	ConfidenceHigh   Confidence = "HIGH"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceLow    Confidence = "LOW"
)

// Status is the lifecycle state of a stored opportunity.
type Status string

const (
	StatusActive  Status = "ACTIVE"
	StatusExpired Status = "EXPIRED"
)

// evTolerance bounds float error when re-deriving EV from probability and odd.
const evTolerance = 1e-9

// Opportunity is a candidate bet whose expected value cleared the scan filter.
type Opportunity struct {
	ID                int64      `json:"id,omitempty"`
	EventID           string     `json:"event_id"`
	Match             string     `json:"match"`
	Home              string     `json:"home"`
	Away              string     `json:"away"`
	StartTime         time.Time  `json:"start_time"`
	League            string     `json:"league"`
	Surface           Surface    `json:"surface"`
	Tier              Tier       `json:"tier"`
	Side              Side       `json:"side"`
	Odd               float64    `json:"odd"`
	ModelProbability  float64    `json:"model_probability"`
	EV                float64    `json:"ev"`
	MarketProbability float64    `json:"market_probability"`
	Confidence        Confidence `json:"confidence"`
	Status            Status     `json:"status"`
	DedupHash         string     `json:"dedup_hash"`
	CreatedAt         time.Time  `json:"created_at"`
}

// Pick returns the name of the player the bet backs.
func (o *Opportunity) Pick() string {
	if o.Side == SideAway {
		return o.Away
	}
	return o.Home
}

// Validate checks that all opportunity fields are valid
func (o *Opportunity) Validate() error {
	if o.EventID == "" {
		return errors.New("event ID must not be empty")
	}
	if o.Match == "" {
		return errors.New("match label must not be empty")
	}
	if !o.Side.Valid() {
		return fmt.Errorf("invalid side %q", o.Side)
	}
	if o.Odd <= 1.0 {
		return errors.New("odd must be greater than 1.0")
	}
	if o.ModelProbability < 0.0 || o.ModelProbability > 1.0 {
		return errors.New("model probability must be between 0.0 and 1.0")
	}
	if o.MarketProbability < 0.0 || o.MarketProbability > 1.0 {
		return errors.New("market probability must be between 0.0 and 1.0")
	}
	expected := o.ModelProbability*(o.Odd-1) - (1 - o.ModelProbability)
	if math.Abs(o.EV-expected) > evTolerance {
		return errors.New("ev must equal p*(odd-1) - (1-p)")
	}
	if o.StartTime.IsZero() {
		return errors.New("start time must be set")
	}
	if o.DedupHash == "" {
		return errors.New("dedup hash must not be empty")
	}
	return nil
}

// RoundOdd rounds an odd to two decimals, half away from zero.
func RoundOdd(odd float64) decimal.Decimal {
	return decimal.NewFromFloat(odd).Round(2)
}

// DedupHash derives the stable notification key for (event, side, odd rounded to 2dp).
func DedupHash(eventID string, side Side, odd float64) string {
	key := fmt.Sprintf("%s|%s|%s", eventID, side, RoundOdd(odd).StringFixed(2))
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// SentRecord is a dedup ledger entry written once an opportunity has been notified.
type SentRecord struct {
	Hash      string    `json:"hash"`
	EventID   string    `json:"event_id"`
	Side      Side      `json:"side"`
	Odd       float64   `json:"odd"`
	SentAt    time.Time `json:"sent_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Statistics aggregates the opportunity store for status reporting.
type Statistics struct {
	Total         int                `json:"total"`
	Active        int                `json:"active"`
	Expired       int                `json:"expired"`
	AvgEV         float64            `json:"avg_ev"`
	MaxEV         float64            `json:"max_ev"`
	AvgOdd        float64            `json:"avg_odd"`
	ByConfidence  map[Confidence]int `json:"by_confidence"`
	SentLast24h   int                `json:"sent_last_24h"`
	LineMovements int                `json:"line_movements"`
}

// ScanSummary describes the outcome of one scan cycle.
type ScanSummary struct {
	ID            string    `json:"id"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	Matches       int       `json:"matches"`
	Skipped       int       `json:"skipped"`
	Opportunities int       `json:"opportunities"`
	Saved         int       `json:"saved"`
	Notified      int       `json:"notified"`
	Err           string    `json:"error,omitempty"`
}
