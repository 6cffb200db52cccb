package bot

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/negriskbot/types"
)

type fakeAPI struct {
	mu      sync.Mutex
	sent    []tgbotapi.MessageConfig
	calls   int
	err     error
	updates chan tgbotapi.Update
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{updates: make(chan tgbotapi.Update, 8)}
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return tgbotapi.Message{}, f.err
	}
	f.sent = append(f.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, nil
}

func (f *fakeAPI) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel { return f.updates }
func (f *fakeAPI) StopReceivingUpdates()                                         {}

func (f *fakeAPI) messages() []tgbotapi.MessageConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]tgbotapi.MessageConfig, len(f.sent))
	copy(out, f.sent)
	return out
}

type fakeRisk struct {
	mu      sync.Mutex
	stopped []string
}

func (r *fakeRisk) Status() types.RiskStatus {
	return types.RiskStatus{Deployed: 10, MaxExposure: 100, MaxDailyLoss: 10, DailyPnL: 0.25}
}
func (r *fakeRisk) EmergencyStop(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = append(r.stopped, reason)
}

type fakeStatus struct{}

func (fakeStatus) Stats() types.SessionStats {
	return types.SessionStats{Scans: 12, TradesAttempted: 4, TradesSucceeded: 3, SessionProfit: 1.5}
}
func (fakeStatus) DryRun() bool { return true }

func command(chatID int64, text string) tgbotapi.Update {
	cmd := strings.Fields(text)[0]
	return tgbotapi.Update{Message: &tgbotapi.Message{
		Text:     text,
		Chat:     &tgbotapi.Chat{ID: chatID},
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}},
	}}
}

func sampleOpp() types.Opportunity {
	return types.Opportunity{
		MarketID:  "m1",
		Label:     "Who will win <the> election?",
		Direction: types.Accumulate,
		Outcomes: []types.Outcome{
			{Name: "Alice", TokenID: "1", YesPrice: 0.40},
			{Name: "Bob", TokenID: "2", YesPrice: 0.35},
			{Name: "Carol", TokenID: "3", YesPrice: 0.20},
		},
		PriceSum:       0.95,
		ProfitFraction: 0.05,
		ProfitAmount:   0.5,
		TradeSize:      10,
	}
}

func TestNilBotIsSafe(t *testing.T) {
	var b *TelegramBot
	assert.NotPanics(t, func() {
		b.Start()
		b.NotifyOpportunity(sampleOpp(), true)
		b.NotifyRiskRejected("x", "y")
		b.NotifyStopped(types.SessionStats{}, true)
		b.SetControl(nil, nil)
		b.Stop()
	})
	assert.Equal(t, int64(0), b.Dropped())
}

func TestNewTelegramBot_RequiresConfig(t *testing.T) {
	_, err := NewTelegramBot("", 1)
	assert.Error(t, err)
	_, err = NewTelegramBot("token", 0)
	assert.Error(t, err)
}

func TestDelivery_HTMLAndSilentRejections(t *testing.T) {
	api := newFakeAPI()
	b := newTelegramBot(api, 42)
	b.Start()

	b.NotifyTradeFailed("Market A", "only 2/3 legs filled")
	b.NotifyRiskRejected("Market B", "exposure limit exceeded")
	b.Stop()

	msgs := api.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, int64(42), msgs[0].ChatID)
	assert.Equal(t, tgbotapi.ModeHTML, msgs[0].ParseMode)
	assert.False(t, msgs[0].DisableNotification)
	assert.Contains(t, msgs[0].Text, "only 2/3 legs filled")
	assert.True(t, msgs[1].DisableNotification, "risk rejections are silent")
}

func TestStopFlushesQueue(t *testing.T) {
	api := newFakeAPI()
	b := newTelegramBot(api, 1)
	for i := 0; i < 5; i++ {
		b.NotifyEmergencyStop("x")
	}
	b.Start()
	b.NotifyStopped(types.SessionStats{TradesAttempted: 2}, true)
	b.Stop()

	assert.Len(t, api.messages(), 6)
}

func TestQueueFullDrops(t *testing.T) {
	b := newTelegramBot(newFakeAPI(), 1)
	for i := 0; i < queueSize+3; i++ {
		b.NotifyTradeFailed("m", "r")
	}
	assert.Equal(t, int64(3), b.Dropped())
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	api := newFakeAPI()
	api.err = errors.New("telegram down")
	b := newTelegramBot(api, 1)
	b.Start()
	for i := 0; i < 10; i++ {
		b.NotifyTradeFailed("m", "r")
	}
	b.Stop()

	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Equal(t, 5, api.calls, "breaker stops calling after five consecutive failures")
}

func TestCommands(t *testing.T) {
	api := newFakeAPI()
	b := newTelegramBot(api, 7)
	risk := &fakeRisk{}
	b.SetControl(fakeStatus{}, risk)
	b.Start()

	api.updates <- command(999, "/stop") // not our chat
	api.updates <- command(7, "/status")
	api.updates <- command(7, "/help")
	api.updates <- command(7, "/stop")

	require.Eventually(t, func() bool {
		risk.mu.Lock()
		defer risk.mu.Unlock()
		return len(risk.stopped) == 1
	}, time.Second, 5*time.Millisecond)
	b.Stop()

	assert.Equal(t, []string{"manual stop from Telegram"}, risk.stopped)
	msgs := api.messages()
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[0].Text, "BOT STATUS")
	assert.Contains(t, msgs[0].Text, "Scans: <b>12</b>")
	assert.Contains(t, msgs[1].Text, "/stop")
}

func TestCommand_UnknownAndUnwired(t *testing.T) {
	api := newFakeAPI()
	b := newTelegramBot(api, 7)
	b.Start()

	api.updates <- command(7, "/pause")
	api.updates <- command(7, "/status")
	require.Eventually(t, func() bool { return len(api.messages()) == 2 }, time.Second, 5*time.Millisecond)
	b.Stop()

	msgs := api.messages()
	assert.Contains(t, msgs[0].Text, "Unknown command")
	assert.Contains(t, msgs[1].Text, "not available")
}

func TestFormatOpportunity(t *testing.T) {
	text := FormatOpportunity(sampleOpp())
	assert.Contains(t, text, "ARBITRAGE OPPORTUNITY")
	assert.Contains(t, text, "&lt;the&gt;", "labels are HTML-escaped")
	assert.Contains(t, text, "LONG ARB")
	assert.Contains(t, text, "$0.9500")
	assert.Contains(t, text, "5.00%")
	assert.Contains(t, text, "• Bob: <b>$0.3500</b>")
	assert.Contains(t, text, separator)
}

func TestFormatModeTags(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	opp := sampleOpp()

	assert.Contains(t, FormatOrderExecuting(opp, true, now), "[SIMULATED]")
	assert.Contains(t, FormatOrderExecuting(opp, false, now), "[LIVE]")
	assert.Contains(t, FormatTradeSuccess(opp, true, now), "[SIMULATED]")
	assert.Contains(t, FormatTradeSuccess(opp, false, now), "+$0.5000")

	leg := FormatLegPlaced(opp, "Alice", types.LegOrder{TokenID: "1", Side: types.Sell, Price: 0.4, Amount: 3.3333}, false, now)
	assert.Contains(t, leg, "[LIVE] SELL ORDER PLACED")
	assert.Contains(t, leg, "$3.33 USDC")
	assert.Contains(t, leg, "03:04:05")
}

func TestFormatLabelTruncated(t *testing.T) {
	long := strings.Repeat("a", 80)
	text := FormatTradeFailed(long, "r", time.Now())
	assert.Contains(t, text, strings.Repeat("a", labelLimit)+"...")
	assert.NotContains(t, text, strings.Repeat("a", labelLimit+1))
}

func TestFormatReport(t *testing.T) {
	r := types.Report{
		Stats:  types.SessionStats{Scans: 120, OpportunitiesFound: 6, TradesAttempted: 4, TradesSucceeded: 3, HourProfit: 1.25},
		Risk:   types.RiskStatus{DailyPnL: -0.3, Available: 90},
		DryRun: false,
		At:     time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC),
	}
	text := FormatReport(r)
	assert.Contains(t, text, "🔴 LIVE")
	assert.Contains(t, text, "Scans: <b>120</b>")
	assert.Contains(t, text, "Win rate: <b>75.0%</b>")
	assert.Contains(t, text, "$1.2500 USDC")
	assert.Contains(t, text, "$-0.3000 USDC")
	assert.Contains(t, text, "$90.00 USDC")
}

func TestFormatStoppedAndStarted(t *testing.T) {
	now := time.Now()
	stopped := FormatStopped(types.SessionStats{TradesAttempted: 9, SessionProfit: 4.2}, true, now)
	assert.Contains(t, stopped, "Total trades: <b>9</b>")
	assert.Contains(t, stopped, "$4.2000 USDC")
	assert.Contains(t, stopped, "DRY RUN")

	started := FormatStarted(false, 10, 0.03, 30*time.Second, now)
	assert.Contains(t, started, "$10.00 USDC")
	assert.Contains(t, started, "3.00%")
	assert.Contains(t, started, "30s")
	assert.Contains(t, started, "LIVE")
}

func TestFormatStatus_Halted(t *testing.T) {
	text := FormatStatus(types.SessionStats{}, types.RiskStatus{Halted: true, HaltReason: "daily loss limit breached"}, false)
	assert.Contains(t, text, "HALTED: daily loss limit breached")
}

func TestStop_BoundedWhenSendHangs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/getMe") {
			fmt.Fprint(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"bot","username":"negrisk_test_bot"}}`)
			return
		}
		// sendMessage and getUpdates never answer
		select {
		case <-r.Context().Done():
		case <-time.After(10 * time.Second):
		}
	}))
	defer srv.Close()

	api, err := newBotAPI("123:abc", srv.URL+"/bot%s/%s", 200*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "negrisk_test_bot", api.Self.UserName)

	b := newTelegramBot(api, 42)
	b.Start()
	b.NotifyTradeFailed("Who wins?", "only 1/3 legs filled")

	stopped := make(chan struct{})
	go func() {
		b.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop blocked on a hung Telegram call")
	}
}
