package risk

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/negriskbot/types"
)

type recorder struct {
	mu       sync.Mutex
	rejected []string
	stops    []string
}

func (r *recorder) NotifyRiskRejected(label, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rejected = append(r.rejected, reason)
}

func (r *recorder) NotifyEmergencyStop(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops = append(r.stops, reason)
}

func opportunity(size float64, prices ...float64) types.Opportunity {
	outcomes := make([]types.Outcome, len(prices))
	sum := 0.0
	for i, p := range prices {
		outcomes[i] = types.Outcome{Name: "o", TokenID: "t", YesPrice: p, NoPrice: 1 - p}
		sum += p
	}
	frac := 1 - sum
	if frac < 0 {
		frac = -frac
	}
	return types.Opportunity{
		MarketID:       "m",
		Label:          "Who wins?",
		Direction:      types.Accumulate,
		Outcomes:       outcomes,
		PriceSum:       sum,
		ProfitFraction: frac,
		ProfitAmount:   frac * size,
		TradeSize:      size,
	}
}

func TestGate_Approve_HappyPath(t *testing.T) {
	rec := &recorder{}
	g := NewGate(100, rec)

	ok, reason := g.Approve(opportunity(10, 0.40, 0.35, 0.20))
	assert.True(t, ok)
	assert.Equal(t, Approved, reason)
	assert.Empty(t, rec.rejected)
	st := g.Status()
	assert.Zero(t, st.Deployed)
	assert.Zero(t, st.TradesToday)
	assert.Equal(t, 100.0, st.Available)
	assert.InDelta(t, 10.0, st.MaxDailyLoss, 1e-9)
}

func TestGate_ScenarioC_Exposure(t *testing.T) {
	rec := &recorder{}
	g := NewGate(100, rec)
	g.RecordStart(95)

	ok, reason := g.Approve(opportunity(10, 0.40, 0.35, 0.20))
	assert.False(t, ok)
	assert.Equal(t, ExposureLimitExceeded, reason)
	assert.Len(t, rec.rejected, 1)
}

func TestGate_ExposureBoundaryInclusive(t *testing.T) {
	g := NewGate(100, nil)
	g.RecordStart(90)
	ok, _ := g.Approve(opportunity(10, 0.40, 0.35, 0.20))
	assert.True(t, ok, "deployed+size == max is allowed")
}

func TestGate_ProfitTooSmall_Silent(t *testing.T) {
	rec := &recorder{}
	g := NewGate(100, rec)

	opp := opportunity(0.1, 0.40, 0.35, 0.20) // 0.05 * 0.1 = 0.005
	ok, reason := g.Approve(opp)
	assert.False(t, ok)
	assert.Equal(t, ProfitTooSmall, reason)
	assert.Empty(t, rec.rejected)
}

func TestGate_TooManyLegs(t *testing.T) {
	rec := &recorder{}
	g := NewGate(100, rec)

	prices := []float64{0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1}
	ok, reason := g.Approve(opportunity(10, prices...))
	assert.False(t, ok)
	assert.Equal(t, TooManyLegs, reason)
	assert.Len(t, rec.rejected, 1)

	ok, _ = g.Approve(opportunity(10, prices[:8]...))
	assert.True(t, ok, "exactly 8 legs is allowed")
}

func TestGate_LegIlliquid(t *testing.T) {
	rec := &recorder{}
	g := NewGate(100, rec)

	ok, reason := g.Approve(opportunity(10, 0.50, 0.30, 0.015))
	assert.False(t, ok)
	assert.Equal(t, LegIlliquid, reason)
	assert.Len(t, rec.rejected, 1)
}

func TestGate_RuleOrder(t *testing.T) {
	g := NewGate(100, nil)
	g.RecordStart(95)

	// exposure + too many legs + illiquid: exposure must win
	prices := []float64{0.01, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1}
	_, reason := g.Approve(opportunity(10, prices...))
	assert.Equal(t, ExposureLimitExceeded, reason)

	// too many legs + illiquid: legs wins
	g.RecordEnd(95, 0, true)
	_, reason = g.Approve(opportunity(10, prices...))
	assert.Equal(t, TooManyLegs, reason)
}

func TestGate_DailyLossHaltsForever(t *testing.T) {
	rec := &recorder{}
	g := NewGate(100, rec)

	// 10.5 of losses > 10 daily limit
	g.RecordStart(10)
	g.RecordEnd(10, 0, true)
	g.mu.Lock()
	g.dailyPnL = -10.5
	g.mu.Unlock()

	ok, reason := g.Approve(opportunity(10, 0.40, 0.35, 0.20))
	assert.False(t, ok)
	assert.Equal(t, DailyLossLimitBreached, reason)
	assert.True(t, g.IsHalted())
	require.Len(t, rec.stops, 1)

	for i := 0; i < 5; i++ {
		ok, reason = g.Approve(opportunity(10, 0.40, 0.35, 0.20))
		assert.False(t, ok)
		assert.Equal(t, Halted, reason)
	}
	assert.Len(t, rec.stops, 1)
	assert.Empty(t, rec.rejected)
}

func TestGate_DailyLossAtLimitStillActive(t *testing.T) {
	g := NewGate(100, nil)
	g.mu.Lock()
	g.dailyPnL = -10
	g.mu.Unlock()

	ok, _ := g.Approve(opportunity(10, 0.40, 0.35, 0.20))
	assert.True(t, ok)
	assert.False(t, g.IsHalted())
}

func TestGate_EmergencyStopIdempotent(t *testing.T) {
	rec := &recorder{}
	g := NewGate(100, rec)
	var fired int
	g.OnHalt(func(string) { fired++ })

	g.EmergencyStop("manual")
	g.EmergencyStop("again")

	assert.True(t, g.IsHalted())
	assert.Equal(t, []string{"manual"}, rec.stops)
	assert.Equal(t, 1, fired)
	assert.Equal(t, "manual", g.Status().HaltReason)

	_, reason := g.Approve(opportunity(10, 0.40, 0.35, 0.20))
	assert.Equal(t, Halted, reason)
}

func TestGate_RecordStartEndBalance(t *testing.T) {
	g := NewGate(100, nil)

	g.RecordStart(10)
	g.RecordStart(20)
	assert.Equal(t, 30.0, g.Status().Deployed)
	assert.Equal(t, 2, g.Status().TradesToday)

	g.RecordEnd(10, 0.5, true)
	g.RecordEnd(20, 0, false)

	st := g.Status()
	assert.Equal(t, 0.0, st.Deployed)
	assert.InDelta(t, 0.5-20*FailurePenalty, st.DailyPnL, 1e-12)
	assert.Equal(t, 100.0, st.Available)
}

func TestGate_RecordEndNeverNegative(t *testing.T) {
	g := NewGate(100, nil)
	g.RecordEnd(10, 0, false)
	assert.Equal(t, 0.0, g.Status().Deployed)
}

func TestGate_ApproveIsPureOnReject(t *testing.T) {
	g := NewGate(100, nil)
	g.RecordStart(95)
	before := g.Status()

	for i := 0; i < 3; i++ {
		g.Approve(opportunity(10, 0.40, 0.35, 0.20))
		g.Approve(opportunity(0.01, 0.40, 0.35, 0.20))
	}
	assert.Equal(t, before, g.Status())
}

func TestGate_ConcurrentBalanced(t *testing.T) {
	g := NewGate(1000, nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.RecordStart(5)
			g.RecordEnd(5, 0.1, true)
		}()
	}
	wg.Wait()
	assert.Equal(t, 0.0, g.Status().Deployed)
	assert.Equal(t, 50, g.Status().TradesToday)
}
