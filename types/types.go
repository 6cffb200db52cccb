package types

import (
	"errors"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SHARED TYPES - Avoid import cycles
// ═══════════════════════════════════════════════════════════════════════════════

// ErrCapabilityUnavailable means the order-placement capability cannot be
// reached at all. Execution aborts the whole basket when it sees it.
var ErrCapabilityUnavailable = errors.New("order placement unavailable")

// Direction of a basket trade
type Direction string

const (
	Accumulate Direction = "LONG"  // buy every YES leg, sum < 1
	Distribute Direction = "SHORT" // sell every YES leg, sum > 1
)

// Side of a single leg order
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// LegSide maps a basket direction to the side every leg takes.
func (d Direction) LegSide() Side {
	if d == Distribute {
		return Sell
	}
	return Buy
}

// MarketSummary is one eligible market from the listing endpoint
type MarketSummary struct {
	ID       string
	Question string
	Volume   float64
}

// OutcomeQuote is a raw (name, token, price) triple from market detail
type OutcomeQuote struct {
	Name    string
	TokenID string
	Price   float64
}

// Outcome is a tradeable leg of a multi-outcome market
type Outcome struct {
	Name     string
	TokenID  string
	YesPrice float64
	NoPrice  float64
}

// Opportunity is a detected sum-of-prices mispricing
type Opportunity struct {
	MarketID       string
	Label          string
	Direction      Direction
	Outcomes       []Outcome
	PriceSum       float64
	ProfitFraction float64
	ProfitAmount   float64
	TradeSize      float64
}

// LegOrder is what the order-placement capability receives
type LegOrder struct {
	TokenID string
	Side    Side
	Price   float64
	Amount  float64 // USDC notional
}

// Fill is the capability's answer for one leg
type Fill struct {
	OrderID string
	Status  string
	Matched bool
}

// LegResult records one attempted leg
type LegResult struct {
	Outcome string
	Order   LegOrder
	Fill    Fill
	Err     error
}

// OK reports whether the leg filled.
func (l LegResult) OK() bool {
	return l.Err == nil && l.Fill.Matched
}

// TradeResult aggregates a basket
type TradeResult struct {
	BasketID      string
	Succeeded     bool
	LegsAttempted int
	LegsSucceeded int
	Legs          []LegResult
	Reason        string
}

// RiskStatus is a read-only snapshot of the risk gate
type RiskStatus struct {
	Halted       bool
	HaltReason   string
	Deployed     float64
	TradesToday  int
	DailyPnL     float64
	Available    float64
	MaxExposure  float64
	MaxDailyLoss float64
}

// SessionStats are the scan loop's running counters
type SessionStats struct {
	Scans              int
	OpportunitiesFound int
	TradesAttempted    int
	TradesSucceeded    int
	SessionProfit      float64
	HourProfit         float64
	StartedAt          time.Time
	LastScanAt         time.Time
}

// WinRate returns succeeded/attempted as a percentage.
func (s SessionStats) WinRate() float64 {
	if s.TradesAttempted == 0 {
		return 0
	}
	return float64(s.TradesSucceeded) / float64(s.TradesAttempted) * 100
}

// Report is the periodic summary payload
type Report struct {
	Stats  SessionStats
	Risk   RiskStatus
	DryRun bool
	At     time.Time
}
