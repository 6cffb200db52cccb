package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/web3guy0/negriskbot/storage"
	"github.com/web3guy0/negriskbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// METRICS - Prometheus registry + ops HTTP
// ═══════════════════════════════════════════════════════════════════════════════
//
//   GET /metrics   Prometheus exposition
//   GET /healthz   200 while trading, 503 once halted
//   GET /status    session, risk, execution and journal snapshot
//
// ═══════════════════════════════════════════════════════════════════════════════

// Registry holds all bot metrics on a private prometheus registry
type Registry struct {
	reg *prometheus.Registry

	ScanDuration   prometheus.Histogram
	Scans          prometheus.Counter
	Opportunities  prometheus.Counter
	Trades         *prometheus.CounterVec
	Legs           *prometheus.CounterVec
	ExpectedProfit prometheus.Counter

	Deployed prometheus.Gauge
	DailyPnL prometheus.Gauge
	Halted   prometheus.Gauge
}

// NewRegistry creates and registers all metrics
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		ScanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "negrisk_scan_duration_seconds",
			Help:    "Duration of a full market scan in seconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		Scans: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "negrisk_scans_total",
			Help: "Total number of completed scans",
		}),
		Opportunities: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "negrisk_opportunities_total",
			Help: "Total number of opportunities detected",
		}),
		Trades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "negrisk_baskets_total",
			Help: "Executed baskets by direction and result",
		}, []string{"direction", "result"}),
		Legs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "negrisk_legs_total",
			Help: "Submitted legs by side and result",
		}, []string{"side", "result"}),
		ExpectedProfit: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "negrisk_expected_profit_usdc_total",
			Help: "Expected profit of fully filled baskets in USDC",
		}),
		Deployed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "negrisk_deployed_capital_usdc",
			Help: "Capital currently reserved by in-flight baskets",
		}),
		DailyPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "negrisk_daily_pnl_usdc",
			Help: "Daily profit and loss as tracked by the risk gate",
		}),
		Halted: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "negrisk_halted",
			Help: "1 once the risk gate has halted trading",
		}),
	}

	r.reg.MustRegister(
		r.ScanDuration, r.Scans, r.Opportunities, r.Trades, r.Legs,
		r.ExpectedProfit, r.Deployed, r.DailyPnL, r.Halted,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Gatherer exposes the underlying registry
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// ScanCompleted records one scan
func (r *Registry) ScanCompleted(d time.Duration, found int) {
	r.ScanDuration.Observe(d.Seconds())
	r.Scans.Inc()
	r.Opportunities.Add(float64(found))
}

// TradeCompleted records one basket and its legs
func (r *Registry) TradeCompleted(opp types.Opportunity, res types.TradeResult) {
	result := "failed"
	if res.Succeeded {
		result = "succeeded"
		r.ExpectedProfit.Add(opp.ProfitAmount)
	}
	r.Trades.WithLabelValues(string(opp.Direction), result).Inc()

	for _, leg := range res.Legs {
		lr := "failed"
		if leg.OK() {
			lr = "filled"
		}
		r.Legs.WithLabelValues(string(leg.Order.Side), lr).Inc()
	}
}

// RiskUpdated mirrors the gate state
func (r *Registry) RiskUpdated(st types.RiskStatus) {
	r.Deployed.Set(st.Deployed)
	r.DailyPnL.Set(st.DailyPnL)
	if st.Halted {
		r.Halted.Set(1)
	} else {
		r.Halted.Set(0)
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// HTTP
// ═══════════════════════════════════════════════════════════════════════════════

// SessionSource is the scan loop
type SessionSource interface {
	Stats() types.SessionStats
	DryRun() bool
}

// RiskSource is the risk gate
type RiskSource interface {
	Status() types.RiskStatus
}

// ExecutionSource is the orchestrator
type ExecutionSource interface {
	GetMetrics() map[string]interface{}
}

// JournalSource is the basket journal
type JournalSource interface {
	Stats(ctx context.Context) (storage.JournalStats, error)
	RecentBaskets(ctx context.Context, limit int) ([]storage.Basket, error)
}

const recentBaskets = 10

// Server serves /metrics, /healthz and /status
type Server struct {
	addr    string
	reg     *Registry
	session SessionSource
	risk    RiskSource
	exec    ExecutionSource
	journal JournalSource
	engine  *gin.Engine
}

// NewServer builds the ops server. exec may be nil.
func NewServer(addr string, reg *Registry, session SessionSource, risk RiskSource, exec ExecutionSource) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{addr: addr, reg: reg, session: session, risk: risk, exec: exec}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg.Gatherer(), promhttp.HandlerOpts{})))
	engine.GET("/healthz", s.healthz)
	engine.GET("/status", s.status)
	s.engine = engine

	return s
}

// SetJournal adds lifetime journal totals to /status
func (s *Server) SetJournal(j JournalSource) {
	s.journal = j
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.addr).Msg("📈 Metrics server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) healthz(c *gin.Context) {
	st := s.risk.Status()
	if st.Halted {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "halted", "reason": st.HaltReason})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) status(c *gin.Context) {
	stats := s.session.Stats()
	risk := s.risk.Status()

	mode := "LIVE"
	if s.session.DryRun() {
		mode = "DRY_RUN"
	}

	body := gin.H{
		"mode": mode,
		"session": gin.H{
			"scans":               stats.Scans,
			"opportunities_found": stats.OpportunitiesFound,
			"trades_attempted":    stats.TradesAttempted,
			"trades_succeeded":    stats.TradesSucceeded,
			"win_rate":            stats.WinRate(),
			"session_profit":      stats.SessionProfit,
			"hour_profit":         stats.HourProfit,
			"started_at":          stats.StartedAt,
			"last_scan_at":        stats.LastScanAt,
		},
		"risk": gin.H{
			"halted":         risk.Halted,
			"halt_reason":    risk.HaltReason,
			"deployed":       risk.Deployed,
			"available":      risk.Available,
			"trades_today":   risk.TradesToday,
			"daily_pnl":      risk.DailyPnL,
			"max_exposure":   risk.MaxExposure,
			"max_daily_loss": risk.MaxDailyLoss,
		},
	}
	if s.exec != nil {
		body["execution"] = s.exec.GetMetrics()
	}
	if s.journal != nil {
		body["journal"] = s.journalBlock(c.Request.Context())
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) journalBlock(ctx context.Context) gin.H {
	st, err := s.journal.Stats(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("⚠️ Journal stats unavailable")
		return gin.H{"error": err.Error()}
	}
	baskets, err := s.journal.RecentBaskets(ctx, recentBaskets)
	if err != nil {
		log.Warn().Err(err).Msg("⚠️ Recent baskets unavailable")
		return gin.H{"error": err.Error()}
	}

	recent := make([]gin.H, 0, len(baskets))
	for _, b := range baskets {
		recent = append(recent, gin.H{
			"id":              b.ID,
			"market":          b.Question,
			"direction":       b.Direction,
			"succeeded":       b.Succeeded,
			"legs_filled":     b.LegsFilled,
			"legs_attempted":  b.LegsAttempted,
			"expected_profit": b.ExpectedProfit.InexactFloat64(),
			"reason":          b.Reason,
			"dry_run":         b.DryRun,
			"created_at":      b.CreatedAt,
		})
	}

	return gin.H{
		"baskets":         st.Baskets,
		"succeeded":       st.Succeeded,
		"expected_profit": st.ExpectedProfit.InexactFloat64(),
		"recent":          recent,
	}
}
