package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the bot. Loaded once at startup and
// never mutated afterwards.
type Config struct {
	// Trading
	TradeSize          float64       `env:"TRADE_SIZE_USDC" envDefault:"10"`
	MinProfitThreshold float64       `env:"MIN_PROFIT_THRESHOLD" envDefault:"0.03"`
	MaxTotalExposure   float64       `env:"MAX_TOTAL_EXPOSURE" envDefault:"100"`
	ScanInterval       time.Duration `env:"SCAN_INTERVAL" envDefault:"30s"`
	ReportInterval     time.Duration `env:"REPORT_INTERVAL" envDefault:"60m"`
	TradeCooldown      time.Duration `env:"TRADE_COOLDOWN" envDefault:"500ms"`
	CycleTimeout       time.Duration `env:"CYCLE_TIMEOUT" envDefault:"5m"`

	// Mode
	DryRun bool `env:"DRY_RUN" envDefault:"true"`
	Debug  bool `env:"DEBUG" envDefault:"false"`

	// Polymarket API
	GammaURL    string        `env:"GAMMA_URL" envDefault:"https://gamma-api.polymarket.com"`
	CLOBURL     string        `env:"CLOB_URL" envDefault:"https://clob.polymarket.com"`
	ChainID     int64         `env:"CHAIN_ID" envDefault:"137"`
	HTTPTimeout time.Duration `env:"HTTP_TIMEOUT" envDefault:"10s"`

	// CLOB Credentials
	CLOBApiKey     string `env:"POLY_API_KEY"`
	CLOBApiSecret  string `env:"POLY_API_SECRET"`
	CLOBPassphrase string `env:"POLY_PASSPHRASE"`

	// Wallet
	WalletPrivateKey string `env:"WALLET_PRIVATE_KEY"`
	FunderAddress    string `env:"FUNDER_ADDRESS"` // Address that holds funds (may differ from signing key)
	SignatureType    int    `env:"SIGNATURE_TYPE" envDefault:"0"`

	// Telegram
	TelegramToken  string `env:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID int64  `env:"TELEGRAM_CHAT_ID"`

	// Throughput
	ScanWorkers     int     `env:"SCAN_WORKERS" envDefault:"8"`
	OrdersPerSecond float64 `env:"ORDERS_PER_SECOND" envDefault:"5"`

	// Persistence / ops
	DatabasePath string `env:"DATABASE_PATH"`
	MetricsAddr  string `env:"METRICS_ADDR"`
	LogFile      string `env:"LOG_FILE"`
}

// Option overrides a setting after the environment is parsed (CLI flags).
type Option func(*Config)

// WithDryRun forces the trading mode.
func WithDryRun(dryRun bool) Option {
	return func(c *Config) { c.DryRun = dryRun }
}

// Load reads .env (if present) and then the process environment.
func Load(opts ...Option) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("config: parse env: %w", err)
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the loop cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.TradeSize <= 0 {
		errs = append(errs, errors.New("TRADE_SIZE_USDC must be positive"))
	}
	if c.MinProfitThreshold <= 0 || c.MinProfitThreshold >= 1 {
		errs = append(errs, errors.New("MIN_PROFIT_THRESHOLD must be in (0,1)"))
	}
	if c.MaxTotalExposure < c.TradeSize {
		errs = append(errs, errors.New("MAX_TOTAL_EXPOSURE must be at least TRADE_SIZE_USDC"))
	}
	if c.ScanInterval <= 0 {
		errs = append(errs, errors.New("SCAN_INTERVAL must be positive"))
	}
	if c.ReportInterval < time.Minute {
		errs = append(errs, errors.New("REPORT_INTERVAL must be at least 1m"))
	}
	if c.ScanWorkers < 1 {
		errs = append(errs, errors.New("SCAN_WORKERS must be at least 1"))
	}
	if c.OrdersPerSecond <= 0 {
		errs = append(errs, errors.New("ORDERS_PER_SECOND must be positive"))
	}
	if !c.DryRun && c.WalletPrivateKey == "" {
		errs = append(errs, errors.New("WALLET_PRIVATE_KEY is required when DRY_RUN=false"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// TelegramEnabled reports whether both token and chat are set.
func (c *Config) TelegramEnabled() bool {
	return c.TelegramToken != "" && c.TelegramChatID != 0
}

// Mode is the human label used in logs and notifications.
func (c *Config) Mode() string {
	if c.DryRun {
		return "DRY RUN"
	}
	return "LIVE"
}
