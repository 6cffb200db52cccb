package main

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/web3guy0/negriskbot/bot"
	"github.com/web3guy0/negriskbot/core"
	"github.com/web3guy0/negriskbot/exec"
	"github.com/web3guy0/negriskbot/execution"
	"github.com/web3guy0/negriskbot/feeds"
	"github.com/web3guy0/negriskbot/internal/config"
	"github.com/web3guy0/negriskbot/metrics"
	"github.com/web3guy0/negriskbot/risk"
	"github.com/web3guy0/negriskbot/storage"
	"github.com/web3guy0/negriskbot/strategy"
)

func run(ctx context.Context, cfg *config.Config) error {
	printBanner(cfg)

	// ═══════════════════════════════════════════════════════════════════════════════
	// INITIALIZE COMPONENTS
	// ═══════════════════════════════════════════════════════════════════════════════

	// 1. Notifications
	var tg *bot.TelegramBot
	if cfg.TelegramEnabled() {
		b, err := bot.NewTelegramBot(cfg.TelegramToken, cfg.TelegramChatID)
		if err != nil {
			log.Warn().Err(err).Msg("Telegram unavailable, continuing without notifications")
		} else {
			tg = b
		}
	} else {
		log.Warn().Msg("TELEGRAM_BOT_TOKEN/TELEGRAM_CHAT_ID not set, notifications disabled")
	}

	// 2. Journal
	var db *storage.Database
	if cfg.DatabasePath != "" {
		d, err := storage.New(cfg.DatabasePath)
		if err != nil {
			log.Warn().Err(err).Msg("Journal unavailable, continuing without persistence")
		} else {
			db = d
			defer db.Close()
		}
	}

	// 3. Market data + scanner
	gamma := feeds.NewGamma(cfg.GammaURL, cfg.HTTPTimeout)
	scanner := strategy.NewSumArb(gamma, cfg.MinProfitThreshold, cfg.ScanWorkers)
	log.Info().Str("strategy", scanner.Name()).Int("workers", cfg.ScanWorkers).Msg("✅ Scanner initialized")

	// 4. Risk gate
	gate := risk.NewGate(cfg.MaxTotalExposure, tg)

	// 5. Order placement. A live client that fails to initialize leaves the
	// capability unset; every basket then fails as unavailable.
	var live execution.OrderPlacer
	if !cfg.DryRun {
		client, err := exec.NewClient(exec.ClientConfig{
			BaseURL:       cfg.CLOBURL,
			APIKey:        cfg.CLOBApiKey,
			APISecret:     cfg.CLOBApiSecret,
			Passphrase:    cfg.CLOBPassphrase,
			PrivateKey:    cfg.WalletPrivateKey,
			FunderAddress: cfg.FunderAddress,
			SignatureType: cfg.SignatureType,
			ChainID:       cfg.ChainID,
			Timeout:       cfg.HTTPTimeout,
		})
		if err != nil {
			log.Error().Err(err).Msg("❌ Live execution client unavailable")
		} else {
			live = client
		}
	}
	sim := exec.NewSimulator()
	orchestrator := execution.NewOrchestrator(live, sim, execution.Config{
		DryRun:          cfg.DryRun,
		OrdersPerSecond: cfg.OrdersPerSecond,
	}, tg)

	// 6. Metrics
	reg := metrics.NewRegistry()

	// 7. Core engine
	engine := core.NewEngine(core.Config{
		TradeSize:      cfg.TradeSize,
		MinProfit:      cfg.MinProfitThreshold,
		ScanInterval:   cfg.ScanInterval,
		ReportInterval: cfg.ReportInterval,
		TradeCooldown:  cfg.TradeCooldown,
		CycleTimeout:   cfg.CycleTimeout,
		DryRun:         cfg.DryRun,
	}, core.Deps{
		Scanner:  scanner,
		Gate:     gate,
		Executor: orchestrator,
		Notifier: tg,
		Journal:  db,
		Metrics:  reg,
	})
	gate.OnHalt(func(string) { engine.Wake() })
	tg.SetControl(engine, gate)

	// ═══════════════════════════════════════════════════════════════════════════════
	// START
	// ═══════════════════════════════════════════════════════════════════════════════

	tg.Start()
	defer tg.Stop()

	g, gctx := errgroup.WithContext(ctx)
	if cfg.MetricsAddr != "" {
		srv := metrics.NewServer(cfg.MetricsAddr, reg, engine, gate, orchestrator)
		if db != nil {
			srv.SetJournal(db)
		}
		g.Go(func() error { return srv.Run(gctx) })
	}
	g.Go(func() error {
		err := engine.Run(gctx)
		if errors.Is(err, risk.ErrHalted) {
			log.Error().Str("reason", gate.Status().HaltReason).Msg("🛑 Trading halted, restart required")
		}
		return err
	})

	log.Info().Msg("🚀 All systems running...")
	err := g.Wait()

	tg.Stop()
	log.Info().
		Int64("simulated_orders", sim.Orders()).
		Int64("telegram_dropped", tg.Dropped()).
		Msg("📊 Shutdown stats")
	return err
}

func printBanner(cfg *config.Config) {
	log.Info().Msg("═══════════════════════════════════════════════════════════════")
	log.Info().Msgf("              NEGRISK SUM-ARB BOT v%s", version)
	log.Info().Msg("═══════════════════════════════════════════════════════════════")
	log.Info().Msgf("  Mode:            %s", cfg.Mode())
	log.Info().Msgf("  Trade size:      $%.2f USDC", cfg.TradeSize)
	log.Info().Msgf("  Min profit:      %.2f%%", cfg.MinProfitThreshold*100)
	log.Info().Msgf("  Max exposure:    $%.2f USDC", cfg.MaxTotalExposure)
	log.Info().Msgf("  Scan interval:   %s", cfg.ScanInterval)
	log.Info().Msgf("  Report interval: %s", cfg.ReportInterval)
	log.Info().Msg("═══════════════════════════════════════════════════════════════")
}
