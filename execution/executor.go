package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/web3guy0/negriskbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// EXECUTION LAYER - Basket orchestrator
// ═══════════════════════════════════════════════════════════════════════════════
//
// Order Flow:
//   Approved opportunity → N fill-or-kill legs → TradeResult
//
// Legs go out sequentially. A failed leg does not stop the basket; only an
// unreachable order capability does. Partial fills are counted, never unwound.
//
// ═══════════════════════════════════════════════════════════════════════════════

// OrderPlacer is the order-placement capability, one method per action
type OrderPlacer interface {
	Buy(ctx context.Context, order types.LegOrder) (types.Fill, error)
	Sell(ctx context.Context, order types.LegOrder) (types.Fill, error)
}

// Notifier receives execution events
type Notifier interface {
	NotifyOrderExecuting(opp types.Opportunity, dryRun bool)
	NotifyLegPlaced(opp types.Opportunity, outcome string, order types.LegOrder, dryRun bool)
	NotifyTradeSuccess(opp types.Opportunity, dryRun bool)
	NotifyTradeFailed(label, reason string)
}

// Config for the orchestrator
type Config struct {
	DryRun          bool
	OrdersPerSecond float64
}

// Orchestrator turns an approved opportunity into basket orders
type Orchestrator struct {
	mu sync.RWMutex

	// Components
	live      OrderPlacer // nil when no venue connection
	simulator OrderPlacer
	limiter   *rate.Limiter
	notifier  Notifier

	// Configuration
	dryRun bool

	// Metrics
	legsSubmitted int
	legsFilled    int
	legsFailed    int
	baskets       int
}

// NewOrchestrator creates the basket executor. live may be nil; in dry run
// every leg goes to simulator instead.
func NewOrchestrator(live, simulator OrderPlacer, cfg Config, notifier Notifier) *Orchestrator {
	rps := cfg.OrdersPerSecond
	if rps <= 0 {
		rps = 5
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}

	mode := "LIVE"
	if cfg.DryRun {
		mode = "DRY RUN"
	}
	log.Info().
		Str("mode", mode).
		Float64("orders_per_sec", rps).
		Bool("venue_connected", live != nil).
		Msg("⚙️ Execution orchestrator initialized")

	return &Orchestrator{
		live:      live,
		simulator: simulator,
		limiter:   rate.NewLimiter(rate.Limit(rps), 1),
		notifier:  notifier,
		dryRun:    cfg.DryRun,
	}
}

// DryRun reports whether legs are simulated
func (o *Orchestrator) DryRun() bool { return o.dryRun }

// Execute places every leg of the basket and aggregates the result.
func (o *Orchestrator) Execute(ctx context.Context, opp types.Opportunity) types.TradeResult {
	result := types.TradeResult{BasketID: uuid.NewString()}

	n := len(opp.Outcomes)
	if n == 0 {
		result.Reason = "no legs"
		o.notifier.NotifyTradeFailed(opp.Label, result.Reason)
		return result
	}

	o.notifier.NotifyOrderExecuting(opp, o.dryRun)

	placer := o.live
	if o.dryRun {
		placer = o.simulator
	}

	legSize := opp.TradeSize / float64(n)
	side := opp.Direction.LegSide()

	log.Info().
		Str("basket", result.BasketID).
		Str("type", string(opp.Direction)).
		Int("legs", n).
		Float64("leg_size", legSize).
		Msg("🧺 Executing basket")

	for _, outcome := range opp.Outcomes {
		order := types.LegOrder{
			TokenID: outcome.TokenID,
			Side:    side,
			Price:   outcome.YesPrice,
			Amount:  legSize,
		}
		o.notifier.NotifyLegPlaced(opp, outcome.Name, order, o.dryRun)
		result.LegsAttempted++

		var leg types.LegResult
		if placer == nil {
			leg = types.LegResult{Outcome: outcome.Name, Order: order, Err: types.ErrCapabilityUnavailable}
		} else {
			leg = o.placeLeg(ctx, placer, outcome.Name, order)
		}
		result.Legs = append(result.Legs, leg)
		o.recordLeg(leg)

		if errors.Is(leg.Err, types.ErrCapabilityUnavailable) {
			log.Error().Err(leg.Err).Str("basket", result.BasketID).Msg("❌ Order capability unavailable, aborting basket")
			result.Reason = "order placement unavailable"
			o.finish(opp, &result)
			return result
		}

		if leg.OK() {
			result.LegsSucceeded++
			log.Info().Str("outcome", outcome.Name).Str("side", string(side)).Msg("✅ Leg filled")
		} else {
			log.Warn().Err(leg.Err).Str("outcome", outcome.Name).Str("status", leg.Fill.Status).Msg("⚠️ Leg not filled")
		}
	}

	result.Succeeded = result.LegsSucceeded == result.LegsAttempted
	if !result.Succeeded {
		result.Reason = fmt.Sprintf("only %d/%d legs filled", result.LegsSucceeded, result.LegsAttempted)
	}
	o.finish(opp, &result)
	return result
}

func (o *Orchestrator) placeLeg(ctx context.Context, placer OrderPlacer, name string, order types.LegOrder) types.LegResult {
	leg := types.LegResult{Outcome: name, Order: order}

	if err := o.limiter.Wait(ctx); err != nil {
		leg.Err = fmt.Errorf("rate limit wait: %w", err)
		return leg
	}

	if order.Side == types.Sell {
		leg.Fill, leg.Err = placer.Sell(ctx, order)
	} else {
		leg.Fill, leg.Err = placer.Buy(ctx, order)
	}
	return leg
}

func (o *Orchestrator) finish(opp types.Opportunity, result *types.TradeResult) {
	o.mu.Lock()
	o.baskets++
	o.mu.Unlock()

	if result.Succeeded {
		o.notifier.NotifyTradeSuccess(opp, o.dryRun)
		log.Info().
			Str("basket", result.BasketID).
			Float64("expected_profit", opp.ProfitAmount).
			Msg("💰 Basket complete")
		return
	}
	o.notifier.NotifyTradeFailed(opp.Label, result.Reason)
	log.Warn().
		Str("basket", result.BasketID).
		Int("filled", result.LegsSucceeded).
		Int("attempted", result.LegsAttempted).
		Str("reason", result.Reason).
		Msg("❌ Basket failed")
}

func (o *Orchestrator) recordLeg(leg types.LegResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.legsSubmitted++
	if leg.OK() {
		o.legsFilled++
	} else {
		o.legsFailed++
	}
}

// GetMetrics returns execution counters
func (o *Orchestrator) GetMetrics() map[string]interface{} {
	o.mu.RLock()
	defer o.mu.RUnlock()

	fillRate := 0.0
	if o.legsSubmitted > 0 {
		fillRate = float64(o.legsFilled) / float64(o.legsSubmitted) * 100
	}
	return map[string]interface{}{
		"baskets":        o.baskets,
		"legs_submitted": o.legsSubmitted,
		"legs_filled":    o.legsFilled,
		"legs_failed":    o.legsFailed,
		"fill_rate":      fmt.Sprintf("%.1f%%", fillRate),
		"dry_run":        o.dryRun,
	}
}

type nopNotifier struct{}

func (nopNotifier) NotifyOrderExecuting(types.Opportunity, bool)                   {}
func (nopNotifier) NotifyLegPlaced(types.Opportunity, string, types.LegOrder, bool) {}
func (nopNotifier) NotifyTradeSuccess(types.Opportunity, bool)                     {}
func (nopNotifier) NotifyTradeFailed(string, string)                               {}
