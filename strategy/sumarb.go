package strategy

import (
	"context"
	"math"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/web3guy0/negriskbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SUM ARBITRAGE - NegRisk basket mispricing
// ═══════════════════════════════════════════════════════════════════════════════
//
// Exactly one outcome resolves YES, so a full basket of YES shares pays $1.
//
//   Σ yes < 1-ε  → LONG  (buy every leg)
//   Σ yes > 1+ε  → SHORT (sell every leg)
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	MinOutcomePrice = 0.01 // at or below: treated as dead leg
	MaxOutcomePrice = 0.99 // at or above: treated as decided
	MinOutcomes     = 2
)

// MarketSource is the market-data gateway the scanner reads from
type MarketSource interface {
	ListEligibleMarkets(ctx context.Context) ([]types.MarketSummary, error)
	FetchOutcomePrices(ctx context.Context, marketID string) ([]types.OutcomeQuote, error)
}

// Classify maps a YES price sum to a basket direction. Both boundaries are
// exclusive: a sum of exactly 1-ε or 1+ε is no trade.
func Classify(sum, epsilon float64) (types.Direction, bool) {
	switch {
	case sum < 1-epsilon:
		return types.Accumulate, true
	case sum > 1+epsilon:
		return types.Distribute, true
	default:
		return "", false
	}
}

// BuildOutcomes drops near-certain and near-dead legs. Returns nil when fewer
// than two tradeable outcomes remain.
func BuildOutcomes(quotes []types.OutcomeQuote) []types.Outcome {
	outcomes := make([]types.Outcome, 0, len(quotes))
	for _, q := range quotes {
		if q.Price <= MinOutcomePrice || q.Price >= MaxOutcomePrice {
			continue
		}
		outcomes = append(outcomes, types.Outcome{
			Name:     q.Name,
			TokenID:  q.TokenID,
			YesPrice: q.Price,
			NoPrice:  math.Round((1-q.Price)*1e6) / 1e6,
		})
	}
	if len(outcomes) < MinOutcomes {
		return nil
	}
	return outcomes
}

// Detect builds an opportunity from already-filtered outcomes.
func Detect(marketID, label string, outcomes []types.Outcome, epsilon, tradeSize float64) (types.Opportunity, bool) {
	if len(outcomes) < MinOutcomes {
		return types.Opportunity{}, false
	}

	sum := 0.0
	for _, o := range outcomes {
		sum += o.YesPrice
	}

	dir, ok := Classify(sum, epsilon)
	if !ok {
		return types.Opportunity{}, false
	}

	fraction := 1 - sum
	if dir == types.Distribute {
		fraction = sum - 1
	}

	return types.Opportunity{
		MarketID:       marketID,
		Label:          label,
		Direction:      dir,
		Outcomes:       outcomes,
		PriceSum:       sum,
		ProfitFraction: fraction,
		ProfitAmount:   fraction * tradeSize,
		TradeSize:      tradeSize,
	}, true
}

// SumArb scans NegRisk markets for basket mispricing
type SumArb struct {
	source  MarketSource
	epsilon float64
	workers int
}

// NewSumArb creates the scanner. epsilon is the minimum profit fraction.
func NewSumArb(source MarketSource, epsilon float64, workers int) *SumArb {
	if workers < 1 {
		workers = 1
	}
	return &SumArb{source: source, epsilon: epsilon, workers: workers}
}

// Name returns the strategy identifier
func (s *SumArb) Name() string { return "NegRiskSumArb" }

// Evaluate checks one market. Fetch errors are swallowed: the market simply
// yields no signal this cycle.
func (s *SumArb) Evaluate(ctx context.Context, marketID, label string, tradeSize float64) (types.Opportunity, bool) {
	quotes, err := s.source.FetchOutcomePrices(ctx, marketID)
	if err != nil {
		log.Debug().Err(err).Str("market", marketID).Msg("Skip market")
		return types.Opportunity{}, false
	}
	outcomes := BuildOutcomes(quotes)
	if outcomes == nil {
		return types.Opportunity{}, false
	}
	return Detect(marketID, label, outcomes, s.epsilon, tradeSize)
}

// ScanAll evaluates every eligible market on a bounded worker pool and
// returns the qualifying opportunities in no particular order. A panic in
// any worker is re-raised here once the pool has drained.
func (s *SumArb) ScanAll(ctx context.Context, tradeSize float64) []types.Opportunity {
	log.Info().
		Float64("threshold_pct", s.epsilon*100).
		Float64("trade_size", tradeSize).
		Msg("🔍 Scan started")

	markets, err := s.source.ListEligibleMarkets(ctx)
	if err != nil {
		log.Error().Err(err).Msg("❌ Market listing failed")
		return nil
	}

	var (
		mu     sync.Mutex
		found  []types.Opportunity
		done   int
		panicV any
	)

	var g errgroup.Group
	g.SetLimit(s.workers)
	for _, m := range markets {
		if ctx.Err() != nil {
			break
		}
		m := m
		g.Go(func() error {
			// Worker panics are carried back to the caller's goroutine
			defer func() {
				if r := recover(); r != nil {
					mu.Lock()
					if panicV == nil {
						panicV = r
					}
					mu.Unlock()
				}
			}()

			opp, ok := s.Evaluate(ctx, m.ID, m.Question, tradeSize)

			mu.Lock()
			defer mu.Unlock()
			done++
			if ok {
				found = append(found, opp)
				log.Info().
					Str("type", string(opp.Direction)).
					Str("market", shorten(opp.Label, 50)).
					Float64("spread_pct", opp.ProfitFraction*100).
					Float64("profit", opp.ProfitAmount).
					Msg("🎯 Opportunity")
			}
			if done%50 == 0 {
				log.Info().Int("done", done).Int("total", len(markets)).Msg("... markets scanned")
			}
			return nil
		})
	}
	_ = g.Wait()

	if panicV != nil {
		panic(panicV)
	}

	log.Info().
		Int("opportunities", len(found)).
		Int("markets", len(markets)).
		Msg("✅ Scan complete")

	return found
}

func shorten(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
