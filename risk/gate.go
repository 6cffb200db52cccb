package risk

import (
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/negriskbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// RISK GATE - Central approval system
// ═══════════════════════════════════════════════════════════════════════════════
//
// Scanner finds → Gate approves/rejects → Orchestrator executes → Gate records
//
// Active ──(emergency stop | daily loss breach)──▶ Halted (terminal)
//
// ═══════════════════════════════════════════════════════════════════════════════

// ErrHalted is returned by the scan loop once the gate has halted
var ErrHalted = errors.New("risk gate halted")

const (
	DailyLossFraction = 0.10  // of max exposure
	MinProfitAmount   = 0.01  // USDC
	MaxLegs           = 8
	MinLegPrice       = 0.02
	FailurePenalty    = 0.005 // of size, charged on a botched basket
)

// Reason is the outcome code of Approve
type Reason string

const (
	Approved               Reason = "APPROVED"
	Halted                 Reason = "HALTED"
	DailyLossLimitBreached Reason = "DAILY_LOSS_LIMIT_BREACHED"
	ExposureLimitExceeded  Reason = "EXPOSURE_LIMIT_EXCEEDED"
	ProfitTooSmall         Reason = "PROFIT_TOO_SMALL"
	TooManyLegs            Reason = "TOO_MANY_LEGS"
	LegIlliquid            Reason = "LEG_ILLIQUID"
)

// Notifier receives the gate's outbound alerts
type Notifier interface {
	NotifyRiskRejected(label, reason string)
	NotifyEmergencyStop(reason string)
}

// Gate is the stateful risk gatekeeper
type Gate struct {
	mu sync.RWMutex

	// Configuration
	maxExposure  float64
	maxDailyLoss float64

	// State
	deployed    float64
	tradesToday int
	dailyPnL    float64
	halted      bool
	haltReason  string

	// Callbacks
	notifier Notifier
	onHalt   func(reason string)
}

// NewGate creates the gate. notifier may be nil.
func NewGate(maxExposure float64, notifier Notifier) *Gate {
	g := &Gate{
		maxExposure:  maxExposure,
		maxDailyLoss: maxExposure * DailyLossFraction,
		notifier:     notifier,
	}

	log.Info().
		Float64("max_exposure", g.maxExposure).
		Float64("max_daily_loss", g.maxDailyLoss).
		Int("max_legs", MaxLegs).
		Msg("🛡️ Risk Gate initialized")

	return g
}

// OnHalt sets a callback fired once when the gate halts
func (g *Gate) OnHalt(fn func(reason string)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onHalt = fn
}

// ═══════════════════════════════════════════════════════════════════════════════
// APPROVAL
// ═══════════════════════════════════════════════════════════════════════════════

// Approve runs the rules in order; the first failing rule wins.
func (g *Gate) Approve(opp types.Opportunity) (bool, Reason) {
	g.mu.Lock()

	reject := func(reason Reason, detail string, notify bool) (bool, Reason) {
		g.mu.Unlock()
		log.Debug().
			Str("market", opp.MarketID).
			Str("reason", string(reason)).
			Str("detail", detail).
			Msg("🚫 Trade rejected")
		if notify && g.notifier != nil {
			g.notifier.NotifyRiskRejected(opp.Label, detail)
		}
		return false, reason
	}

	// 1. Kill switch
	if g.halted {
		return reject(Halted, "kill switch active", false)
	}

	// 2. Daily loss limit
	if g.dailyPnL < -g.maxDailyLoss {
		g.mu.Unlock()
		g.EmergencyStop("daily loss limit breached")
		return false, DailyLossLimitBreached
	}

	// 3. Exposure
	if g.deployed+opp.TradeSize > g.maxExposure {
		return reject(ExposureLimitExceeded, "exposure limit exceeded", true)
	}

	// 4. Profit floor
	if opp.ProfitAmount < MinProfitAmount {
		return reject(ProfitTooSmall, "profit too small", false)
	}

	// 5. Leg count
	if len(opp.Outcomes) > MaxLegs {
		return reject(TooManyLegs, "too many outcomes", true)
	}

	// 6. Leg liquidity
	for _, o := range opp.Outcomes {
		if o.YesPrice < MinLegPrice {
			return reject(LegIlliquid, "'"+o.Name+"' too cheap, illiquid", true)
		}
	}

	g.mu.Unlock()
	log.Info().
		Str("market", opp.MarketID).
		Str("type", string(opp.Direction)).
		Float64("size", opp.TradeSize).
		Msg("✅ Trade approved by Risk Gate")
	return true, Approved
}

// ═══════════════════════════════════════════════════════════════════════════════
// STATE TRANSITIONS
// ═══════════════════════════════════════════════════════════════════════════════

// RecordStart reserves capital before execution begins.
func (g *Gate) RecordStart(size float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deployed += size
	g.tradesToday++
}

// RecordEnd releases the reservation and books the result. Must be called
// exactly once per RecordStart.
func (g *Gate) RecordEnd(size, profit float64, succeeded bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.deployed -= size
	if g.deployed < 0 {
		log.Warn().Float64("deployed", g.deployed).Msg("⚠️ Unbalanced RecordEnd, clamping deployed capital")
		g.deployed = 0
	}

	if succeeded {
		g.dailyPnL += profit
		log.Info().Float64("profit", profit).Float64("daily_pnl", g.dailyPnL).Msg("📈 Win recorded")
	} else {
		g.dailyPnL -= size * FailurePenalty
		log.Warn().Float64("penalty", size*FailurePenalty).Float64("daily_pnl", g.dailyPnL).Msg("📉 Failed basket recorded")
	}
}

// EmergencyStop halts the gate. Idempotent: only the first call notifies.
func (g *Gate) EmergencyStop(reason string) {
	g.mu.Lock()
	if g.halted {
		g.mu.Unlock()
		return
	}
	g.halted = true
	g.haltReason = reason
	onHalt := g.onHalt
	g.mu.Unlock()

	log.Error().Str("reason", reason).Msg("🚨 EMERGENCY STOP")

	if g.notifier != nil {
		g.notifier.NotifyEmergencyStop(reason)
	}
	if onHalt != nil {
		onHalt(reason)
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// ACCESSORS
// ═══════════════════════════════════════════════════════════════════════════════

// IsHalted returns the kill-switch state
func (g *Gate) IsHalted() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.halted
}

// Status returns a snapshot of the risk state
func (g *Gate) Status() types.RiskStatus {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return types.RiskStatus{
		Halted:       g.halted,
		HaltReason:   g.haltReason,
		Deployed:     g.deployed,
		TradesToday:  g.tradesToday,
		DailyPnL:     g.dailyPnL,
		Available:    g.maxExposure - g.deployed,
		MaxExposure:  g.maxExposure,
		MaxDailyLoss: g.maxDailyLoss,
	}
}
