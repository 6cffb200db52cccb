package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/web3guy0/negriskbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// DATABASE - Basket journal
// ═══════════════════════════════════════════════════════════════════════════════
//
// Write-only audit trail of every executed basket and its legs. Risk state is
// never read back from here: a restart always starts from a clean gate.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Database wraps gorm. A nil *Database is a disabled journal.
type Database struct {
	db *gorm.DB
}

// Models

type Basket struct {
	ID             string          `gorm:"primaryKey"`
	MarketID       string          `gorm:"index"`
	Question       string
	Direction      string          // LONG or SHORT
	PriceSum       decimal.Decimal `gorm:"type:decimal(10,6)"`
	ProfitFraction decimal.Decimal `gorm:"type:decimal(10,6)"`
	ExpectedProfit decimal.Decimal `gorm:"type:decimal(20,6)"`
	TradeSize      decimal.Decimal `gorm:"type:decimal(20,6)"`
	LegsAttempted  int
	LegsFilled     int
	Succeeded      bool `gorm:"index"`
	Reason         string
	DryRun         bool
	Legs           []Leg `gorm:"foreignKey:BasketID"`
	CreatedAt      time.Time
}

type Leg struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	BasketID  string `gorm:"index"`
	Outcome   string
	TokenID   string
	Side      string          // BUY or SELL
	Price     decimal.Decimal `gorm:"type:decimal(10,6)"`
	Amount    decimal.Decimal `gorm:"type:decimal(20,6)"`
	OrderID   string
	Status    string
	Filled    bool
	Error     string
	CreatedAt time.Time
}

// New opens the journal. A postgres:// URL selects PostgreSQL, anything else
// is a SQLite file path.
func New(dbPath string) (*Database, error) {
	var db *gorm.DB
	var err error

	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}

	if strings.HasPrefix(dbPath, "postgres://") || strings.HasPrefix(dbPath, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dbPath), cfg)
		if err != nil {
			return nil, fmt.Errorf("storage: open postgres: %w", err)
		}
		log.Info().Msg("💾 Journal connected (PostgreSQL)")
	} else {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("storage: create dir: %w", err)
		}
		db, err = gorm.Open(sqlite.Open(dbPath), cfg)
		if err != nil {
			return nil, fmt.Errorf("storage: open sqlite: %w", err)
		}
		log.Info().Str("path", dbPath).Msg("💾 Journal initialized (SQLite)")
	}

	if err := db.AutoMigrate(&Basket{}, &Leg{}); err != nil {
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}

	return &Database{db: db}, nil
}

// IsEnabled returns true if the journal is active
func (d *Database) IsEnabled() bool {
	return d != nil && d.db != nil
}

// RecordBasket stores a finished basket with all attempted legs.
func (d *Database) RecordBasket(ctx context.Context, opp types.Opportunity, res types.TradeResult, dryRun bool) error {
	if !d.IsEnabled() {
		return nil
	}

	id := res.BasketID
	if id == "" {
		id = uuid.NewString()
	}

	basket := Basket{
		ID:             id,
		MarketID:       opp.MarketID,
		Question:       opp.Label,
		Direction:      string(opp.Direction),
		PriceSum:       decimal.NewFromFloat(opp.PriceSum),
		ProfitFraction: decimal.NewFromFloat(opp.ProfitFraction),
		ExpectedProfit: decimal.NewFromFloat(opp.ProfitAmount),
		TradeSize:      decimal.NewFromFloat(opp.TradeSize),
		LegsAttempted:  res.LegsAttempted,
		LegsFilled:     res.LegsSucceeded,
		Succeeded:      res.Succeeded,
		Reason:         res.Reason,
		DryRun:         dryRun,
	}
	for _, l := range res.Legs {
		leg := Leg{
			Outcome: l.Outcome,
			TokenID: l.Order.TokenID,
			Side:    string(l.Order.Side),
			Price:   decimal.NewFromFloat(l.Order.Price),
			Amount:  decimal.NewFromFloat(l.Order.Amount),
			OrderID: l.Fill.OrderID,
			Status:  l.Fill.Status,
			Filled:  l.OK(),
		}
		if l.Err != nil {
			leg.Error = l.Err.Error()
		}
		basket.Legs = append(basket.Legs, leg)
	}

	if err := d.db.WithContext(ctx).Create(&basket).Error; err != nil {
		return fmt.Errorf("storage: record basket %s: %w", id, err)
	}
	return nil
}

// RecentBaskets returns the latest baskets with their legs, newest first
func (d *Database) RecentBaskets(ctx context.Context, limit int) ([]Basket, error) {
	if !d.IsEnabled() {
		return nil, nil
	}
	var baskets []Basket
	err := d.db.WithContext(ctx).
		Preload("Legs", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Order("created_at DESC").
		Limit(limit).
		Find(&baskets).Error
	return baskets, err
}

// JournalStats are lifetime totals across restarts
type JournalStats struct {
	Baskets        int64
	Succeeded      int64
	ExpectedProfit decimal.Decimal
}

// Stats aggregates the journal
func (d *Database) Stats(ctx context.Context) (JournalStats, error) {
	var st JournalStats
	if !d.IsEnabled() {
		return st, nil
	}

	db := d.db.WithContext(ctx)
	if err := db.Model(&Basket{}).Count(&st.Baskets).Error; err != nil {
		return st, fmt.Errorf("storage: count baskets: %w", err)
	}
	if err := db.Model(&Basket{}).Where("succeeded = ?", true).Count(&st.Succeeded).Error; err != nil {
		return st, fmt.Errorf("storage: count succeeded: %w", err)
	}

	var result struct {
		Total decimal.Decimal
	}
	if err := db.Model(&Basket{}).Where("succeeded = ?", true).
		Select("COALESCE(SUM(expected_profit), 0) as total").Scan(&result).Error; err != nil {
		return st, fmt.Errorf("storage: sum profit: %w", err)
	}
	st.ExpectedProfit = result.Total
	return st, nil
}

// Close releases the connection pool
func (d *Database) Close() {
	if !d.IsEnabled() {
		return
	}
	if sqlDB, err := d.db.DB(); err == nil {
		sqlDB.Close()
	}
}
