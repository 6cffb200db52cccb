package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/web3guy0/negriskbot/risk"
	"github.com/web3guy0/negriskbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ENGINE - Scan loop orchestrator
// ═══════════════════════════════════════════════════════════════════════════════
//
// Flow (every SCAN_INTERVAL):
//   Scanner → rank → Risk gate → Orchestrator → Gate.RecordEnd → Journal
//
// Side loop (cron):
//   Periodic report, hour profit reset
//
// ═══════════════════════════════════════════════════════════════════════════════

// Scanner finds opportunities across all eligible markets
type Scanner interface {
	ScanAll(ctx context.Context, tradeSize float64) []types.Opportunity
}

// RiskGate interface to keep core decoupled from the gate's internals
type RiskGate interface {
	Approve(opp types.Opportunity) (bool, risk.Reason)
	RecordStart(size float64)
	RecordEnd(size, profit float64, succeeded bool)
	EmergencyStop(reason string)
	IsHalted() bool
	Status() types.RiskStatus
}

// Executor places a basket
type Executor interface {
	Execute(ctx context.Context, opp types.Opportunity) types.TradeResult
}

// Notifier for loop-level events (Telegram)
type Notifier interface {
	NotifyStarted(dryRun bool, tradeSize, minProfit float64, scanInterval time.Duration)
	NotifyOpportunity(opp types.Opportunity, dryRun bool)
	NotifyReport(report types.Report)
	NotifyStopped(stats types.SessionStats, dryRun bool)
}

// Journal persists finished baskets
type Journal interface {
	RecordBasket(ctx context.Context, opp types.Opportunity, res types.TradeResult, dryRun bool) error
}

// Metrics sink
type Metrics interface {
	ScanCompleted(d time.Duration, found int)
	TradeCompleted(opp types.Opportunity, res types.TradeResult)
	RiskUpdated(status types.RiskStatus)
}

// Config for the loop
type Config struct {
	TradeSize      float64
	MinProfit      float64
	ScanInterval   time.Duration
	ReportInterval time.Duration
	TradeCooldown  time.Duration
	CycleTimeout   time.Duration
	DryRun         bool
}

// Deps are the engine's collaborators. Notifier, Journal and Metrics may be nil.
type Deps struct {
	Scanner  Scanner
	Gate     RiskGate
	Executor Executor
	Notifier Notifier
	Journal  Journal
	Metrics  Metrics
}

type Engine struct {
	mu sync.RWMutex

	// Components
	scanner  Scanner
	gate     RiskGate
	executor Executor
	notifier Notifier
	journal  Journal
	metrics  Metrics

	cfg  Config
	wake chan struct{}

	// Stats
	stats types.SessionStats
}

// NewEngine creates the scan loop
func NewEngine(cfg Config, deps Deps) *Engine {
	e := &Engine{
		scanner:  deps.Scanner,
		gate:     deps.Gate,
		executor: deps.Executor,
		notifier: deps.Notifier,
		journal:  deps.Journal,
		metrics:  deps.Metrics,
		cfg:      cfg,
		wake:     make(chan struct{}, 1),
	}
	if e.notifier == nil {
		e.notifier = nopNotifier{}
	}
	if e.journal == nil {
		e.journal = nopJournal{}
	}
	if e.metrics == nil {
		e.metrics = nopMetrics{}
	}
	return e
}

// Wake interrupts the inter-cycle wait so a halt is noticed immediately.
func (e *Engine) Wake() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// MAIN LOOP
// ═══════════════════════════════════════════════════════════════════════════════

// Run blocks until ctx is cancelled (nil), the gate halts (risk.ErrHalted)
// or an unhandled fault occurs.
func (e *Engine) Run(ctx context.Context) (err error) {
	e.mu.Lock()
	e.stats.StartedAt = time.Now()
	e.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			reason := e.fault("scan loop", r)
			e.notifier.NotifyStopped(e.Stats(), e.cfg.DryRun)
			err = errors.New(reason)
		}
	}()

	e.notifier.NotifyStarted(e.cfg.DryRun, e.cfg.TradeSize, e.cfg.MinProfit, e.cfg.ScanInterval)

	scheduler, err := e.startReports()
	if err != nil {
		return err
	}
	defer func() {
		<-scheduler.Stop().Done()
	}()

	log.Info().Dur("interval", e.cfg.ScanInterval).Msg("⚡ Engine started")

	ticker := time.NewTicker(e.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		if e.gate.IsHalted() {
			return e.stopHalted()
		}

		e.RunCycle(ctx)

		if e.gate.IsHalted() {
			return e.stopHalted()
		}

		select {
		case <-ctx.Done():
			log.Info().Msg("🛑 Shutdown requested")
			e.notifier.NotifyStopped(e.Stats(), e.cfg.DryRun)
			return nil
		case <-e.wake:
		case <-ticker.C:
		}
	}
}

// fault halts trading after a recovered panic and returns the halt reason
func (e *Engine) fault(where string, r any) string {
	reason := fmt.Sprintf("unhandled fault: %v", r)
	log.Error().Str("panic", fmt.Sprint(r)).Str("in", where).Msg("💥 Unhandled fault")
	e.gate.EmergencyStop(reason)
	return reason
}

func (e *Engine) stopHalted() error {
	st := e.gate.Status()
	log.Error().Str("reason", st.HaltReason).Msg("🛑 Risk gate halted, stopping")
	e.notifier.NotifyStopped(e.Stats(), e.cfg.DryRun)
	return fmt.Errorf("%w: %s", risk.ErrHalted, st.HaltReason)
}

// RunCycle performs one scan and works through the ranked candidates.
func (e *Engine) RunCycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	candidates := e.Scan(ctx)

	for _, opp := range candidates {
		if ctx.Err() != nil || e.gate.IsHalted() {
			return
		}

		e.notifier.NotifyOpportunity(opp, e.cfg.DryRun)

		ok, reason := e.gate.Approve(opp)
		if !ok {
			log.Debug().
				Str("market", opp.Label).
				Str("reason", string(reason)).
				Msg("Opportunity rejected")
			e.metrics.RiskUpdated(e.gate.Status())
			continue
		}

		e.handleOpportunity(ctx, opp)

		if !e.cooldown(ctx) {
			return
		}
	}
}

// Scan runs one scan and returns candidates ranked by profit fraction.
func (e *Engine) Scan(ctx context.Context) []types.Opportunity {
	start := time.Now()

	scanCtx := ctx
	if e.cfg.CycleTimeout > 0 {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(ctx, e.cfg.CycleTimeout)
		defer cancel()
	}

	candidates := e.scanner.ScanAll(scanCtx, e.cfg.TradeSize)
	Rank(candidates)

	e.mu.Lock()
	e.stats.Scans++
	e.stats.OpportunitiesFound += len(candidates)
	e.stats.LastScanAt = time.Now()
	e.mu.Unlock()

	e.metrics.ScanCompleted(time.Since(start), len(candidates))
	return candidates
}

// Rank sorts by descending profit fraction, stable for ties.
func Rank(opps []types.Opportunity) {
	sort.SliceStable(opps, func(i, j int) bool {
		return opps[i].ProfitFraction > opps[j].ProfitFraction
	})
}

func (e *Engine) handleOpportunity(ctx context.Context, opp types.Opportunity) {
	var res types.TradeResult

	e.gate.RecordStart(opp.TradeSize)
	defer func() {
		// res is zero (failed) if Execute panicked
		profit := 0.0
		if res.Succeeded {
			profit = opp.ProfitAmount
		}
		e.gate.RecordEnd(opp.TradeSize, profit, res.Succeeded)
		e.metrics.RiskUpdated(e.gate.Status())
	}()

	e.mu.Lock()
	e.stats.TradesAttempted++
	e.mu.Unlock()

	// In-flight legs are not cancelled by shutdown
	res = e.executor.Execute(context.WithoutCancel(ctx), opp)

	e.mu.Lock()
	if res.Succeeded {
		e.stats.TradesSucceeded++
		e.stats.SessionProfit += opp.ProfitAmount
		e.stats.HourProfit += opp.ProfitAmount
	}
	e.mu.Unlock()

	e.metrics.TradeCompleted(opp, res)

	if err := e.journal.RecordBasket(context.WithoutCancel(ctx), opp, res, e.cfg.DryRun); err != nil {
		log.Warn().Err(err).Str("basket", res.BasketID).Msg("⚠️ Journal write failed")
	}
}

func (e *Engine) cooldown(ctx context.Context) bool {
	if e.cfg.TradeCooldown <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(e.cfg.TradeCooldown)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// REPORTS
// ═══════════════════════════════════════════════════════════════════════════════

func (e *Engine) startReports() (*cron.Cron, error) {
	c := cron.New(cron.WithChain(e.recoverJob))
	if e.cfg.ReportInterval > 0 {
		schedule := "@every " + e.cfg.ReportInterval.String()
		if _, err := c.AddFunc(schedule, e.SendReport); err != nil {
			return nil, fmt.Errorf("core: schedule report: %w", err)
		}
	}
	c.Start()
	return c, nil
}

// recoverJob turns a panicking scheduled job into a halt the loop notices
func (e *Engine) recoverJob(j cron.Job) cron.Job {
	return cron.FuncJob(func() {
		defer func() {
			if r := recover(); r != nil {
				e.fault("report job", r)
				e.Wake()
			}
		}()
		j.Run()
	})
}

// SendReport emits the periodic summary and resets hour profit.
func (e *Engine) SendReport() {
	e.mu.Lock()
	report := types.Report{
		Stats:  e.stats,
		DryRun: e.cfg.DryRun,
		At:     time.Now(),
	}
	e.stats.HourProfit = 0
	e.mu.Unlock()

	report.Risk = e.gate.Status()

	log.Info().
		Int("scans", report.Stats.Scans).
		Int("opportunities", report.Stats.OpportunitiesFound).
		Int("trades", report.Stats.TradesAttempted).
		Int("succeeded", report.Stats.TradesSucceeded).
		Float64("hour_profit", report.Stats.HourProfit).
		Float64("daily_pnl", report.Risk.DailyPnL).
		Msg("📊 Periodic report")

	e.notifier.NotifyReport(report)
}

// Stats returns a snapshot of the session counters
func (e *Engine) Stats() types.SessionStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stats
}

// DryRun reports the trading mode
func (e *Engine) DryRun() bool { return e.cfg.DryRun }

type nopNotifier struct{}

func (nopNotifier) NotifyStarted(bool, float64, float64, time.Duration) {}
func (nopNotifier) NotifyOpportunity(types.Opportunity, bool)          {}
func (nopNotifier) NotifyReport(types.Report)                          {}
func (nopNotifier) NotifyStopped(types.SessionStats, bool)             {}

type nopJournal struct{}

func (nopJournal) RecordBasket(context.Context, types.Opportunity, types.TradeResult, bool) error {
	return nil
}

type nopMetrics struct{}

func (nopMetrics) ScanCompleted(time.Duration, int)                    {}
func (nopMetrics) TradeCompleted(types.Opportunity, types.TradeResult) {}
func (nopMetrics) RiskUpdated(types.RiskStatus)                        {}
