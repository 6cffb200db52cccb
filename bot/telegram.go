package bot

import (
	"fmt"
	"html"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/web3guy0/negriskbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TELEGRAM BOT - Trade notifications & control
// ═══════════════════════════════════════════════════════════════════════════════
//
// Features:
//   🎯 Opportunity alerts
//   💰 Basket notifications (executing/leg/success/failed)
//   📊 Periodic reports
//   🛑 /stop kill switch, /status, /help
//
// Delivery is best effort: a bounded queue drained by one sender goroutine,
// drop-on-full, behind a circuit breaker. Nothing here blocks trading.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	queueSize  = 128
	separator  = "━━━━━━━━━━━━━━━━━━━━━━━━━━━━"
	labelLimit = 55

	updateTimeout = 30 // long-poll seconds
	httpTimeout   = (updateTimeout + 15) * time.Second
)

// botAPI is the part of *tgbotapi.BotAPI the bot uses
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// StatusProvider provides session statistics for /status
type StatusProvider interface {
	Stats() types.SessionStats
	DryRun() bool
}

// RiskControl is the risk gate as seen from chat
type RiskControl interface {
	Status() types.RiskStatus
	EmergencyStop(reason string)
}

type outbound struct {
	text   string
	silent bool
}

// TelegramBot manages the Telegram interface. A nil *TelegramBot is a valid,
// silent notifier.
type TelegramBot struct {
	mu      sync.RWMutex
	api     botAPI
	chatID  int64
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	queue   chan outbound
	breaker *gobreaker.CircuitBreaker
	dropped atomic.Int64

	// Control
	status StatusProvider
	risk   RiskControl
}

// NewTelegramBot creates a new Telegram bot
func NewTelegramBot(token string, chatID int64) (*TelegramBot, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram: TELEGRAM_BOT_TOKEN not set")
	}
	if chatID == 0 {
		return nil, fmt.Errorf("telegram: TELEGRAM_CHAT_ID not set")
	}

	api, err := newBotAPI(token, tgbotapi.APIEndpoint, httpTimeout)
	if err != nil {
		return nil, err
	}

	log.Info().Str("username", api.Self.UserName).Msg("🤖 Telegram bot initialized")
	return newTelegramBot(api, chatID), nil
}

// newBotAPI bounds every Bot API call, the long poll included
func newBotAPI(token, endpoint string, timeout time.Duration) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPIWithClient(token, endpoint, &http.Client{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("telegram: create bot: %w", err)
	}
	return api, nil
}

func newTelegramBot(api botAPI, chatID int64) *TelegramBot {
	return &TelegramBot{
		api:    api,
		chatID: chatID,
		stopCh: make(chan struct{}),
		queue:  make(chan outbound, queueSize),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "telegram",
			MaxRequests: 1,
			Timeout:     60 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("⚡ Telegram breaker state change")
			},
		}),
	}
}

// SetControl wires /status and /stop
func (b *TelegramBot) SetControl(status StatusProvider, risk RiskControl) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status = status
	b.risk = risk
}

// Start begins delivering messages and listening for commands
func (b *TelegramBot) Start() {
	if b == nil {
		return
	}
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}
	b.running = true
	b.mu.Unlock()

	b.wg.Add(2)
	go b.sendLoop()
	go b.commandLoop()
	log.Info().Msg("📱 Telegram bot started")
}

// Stop flushes queued messages and stops the bot
func (b *TelegramBot) Stop() {
	if b == nil {
		return
	}
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	close(b.stopCh)
	b.mu.Unlock()

	b.api.StopReceivingUpdates()
	b.wg.Wait()
	log.Info().Int64("dropped", b.dropped.Load()).Msg("Telegram bot stopped")
}

// Dropped returns how many messages were discarded on a full queue
func (b *TelegramBot) Dropped() int64 {
	if b == nil {
		return 0
	}
	return b.dropped.Load()
}

// ═══════════════════════════════════════════════════════════════════════════════
// NOTIFICATIONS
// ═══════════════════════════════════════════════════════════════════════════════

// NotifyStarted sends the startup banner
func (b *TelegramBot) NotifyStarted(dryRun bool, tradeSize, minProfit float64, scanInterval time.Duration) {
	b.enqueue(FormatStarted(dryRun, tradeSize, minProfit, scanInterval, time.Now()), false)
}

// NotifyOpportunity sends an opportunity alert
func (b *TelegramBot) NotifyOpportunity(opp types.Opportunity, dryRun bool) {
	b.enqueue(FormatOpportunity(opp), false)
}

// NotifyOrderExecuting announces a basket about to go out
func (b *TelegramBot) NotifyOrderExecuting(opp types.Opportunity, dryRun bool) {
	b.enqueue(FormatOrderExecuting(opp, dryRun, time.Now()), false)
}

// NotifyLegPlaced announces one leg
func (b *TelegramBot) NotifyLegPlaced(opp types.Opportunity, outcome string, order types.LegOrder, dryRun bool) {
	b.enqueue(FormatLegPlaced(opp, outcome, order, dryRun, time.Now()), false)
}

// NotifyTradeSuccess announces a fully filled basket
func (b *TelegramBot) NotifyTradeSuccess(opp types.Opportunity, dryRun bool) {
	b.enqueue(FormatTradeSuccess(opp, dryRun, time.Now()), false)
}

// NotifyTradeFailed announces a failed basket
func (b *TelegramBot) NotifyTradeFailed(label, reason string) {
	b.enqueue(FormatTradeFailed(label, reason, time.Now()), false)
}

// NotifyRiskRejected is sent silently
func (b *TelegramBot) NotifyRiskRejected(label, reason string) {
	b.enqueue(FormatRiskRejected(label, reason, time.Now()), true)
}

// NotifyEmergencyStop sends the kill-switch alert
func (b *TelegramBot) NotifyEmergencyStop(reason string) {
	b.enqueue(FormatEmergencyStop(reason, time.Now()), false)
}

// NotifyReport sends the periodic summary
func (b *TelegramBot) NotifyReport(report types.Report) {
	b.enqueue(FormatReport(report), false)
}

// NotifyStopped sends the shutdown summary
func (b *TelegramBot) NotifyStopped(stats types.SessionStats, dryRun bool) {
	b.enqueue(FormatStopped(stats, dryRun, time.Now()), false)
}

// ═══════════════════════════════════════════════════════════════════════════════
// DELIVERY
// ═══════════════════════════════════════════════════════════════════════════════

func (b *TelegramBot) enqueue(text string, silent bool) {
	if b == nil {
		return
	}
	select {
	case b.queue <- outbound{text: text, silent: silent}:
	default:
		b.dropped.Add(1)
		log.Warn().Msg("⚠️ Telegram queue full, message dropped")
	}
}

func (b *TelegramBot) sendLoop() {
	defer b.wg.Done()
	for {
		select {
		case m := <-b.queue:
			b.deliver(m)
		case <-b.stopCh:
			// Flush what is already queued
			for {
				select {
				case m := <-b.queue:
					b.deliver(m)
				default:
					return
				}
			}
		}
	}
}

func (b *TelegramBot) deliver(m outbound) {
	msg := tgbotapi.NewMessage(b.chatID, m.text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableNotification = m.silent
	msg.DisableWebPagePreview = true

	_, err := b.breaker.Execute(func() (interface{}, error) {
		return b.api.Send(msg)
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to send Telegram message")
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// COMMAND HANDLING
// ═══════════════════════════════════════════════════════════════════════════════

func (b *TelegramBot) commandLoop() {
	defer b.wg.Done()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = updateTimeout

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-b.stopCh:
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}

			// Only respond to authorized chat
			if update.Message.Chat == nil || update.Message.Chat.ID != b.chatID {
				continue
			}

			b.handleCommand(update.Message)
		}
	}
}

func (b *TelegramBot) handleCommand(msg *tgbotapi.Message) {
	b.mu.RLock()
	status, risk := b.status, b.risk
	b.mu.RUnlock()

	switch strings.ToLower(msg.Command()) {
	case "start", "help":
		b.enqueue(FormatHelp(), false)
	case "status":
		if status == nil || risk == nil {
			b.enqueue("❌ Status not available", false)
			return
		}
		b.enqueue(FormatStatus(status.Stats(), risk.Status(), status.DryRun()), false)
	case "stop":
		if risk == nil {
			b.enqueue("❌ Risk gate not available", false)
			return
		}
		from := ""
		if msg.From != nil {
			from = msg.From.String()
		}
		log.Warn().Str("from", from).Msg("🛑 Stop requested from Telegram")
		risk.EmergencyStop("manual stop from Telegram")
	default:
		b.enqueue("❓ Unknown command. Use /help", false)
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// FORMATTING
// ═══════════════════════════════════════════════════════════════════════════════

func modeTag(dryRun bool) string {
	if dryRun {
		return "[SIMULATED]"
	}
	return "[LIVE]"
}

func modeName(dryRun bool) string {
	if dryRun {
		return "🔵 DRY RUN"
	}
	return "🔴 LIVE"
}

func label(s string) string {
	r := []rune(s)
	if len(r) > labelLimit {
		s = string(r[:labelLimit]) + "..."
	}
	return html.EscapeString(s)
}

// FormatStarted renders the startup banner
func FormatStarted(dryRun bool, tradeSize, minProfit float64, scanInterval time.Duration, now time.Time) string {
	footer := "⚡ Trading LIVE!"
	if dryRun {
		footer = "⚠️ No real funds in use"
	}
	return fmt.Sprintf(`🤖 <b>NEGRISK ARB BOT STARTED</b>
%s
📋 Mode: <b>%s</b>
💵 Trade size: <b>$%.2f USDC</b>
📈 Min profit: <b>%.2f%%</b>
🔍 Scan every: <b>%s</b>
⏰ %s
%s
%s`,
		separator, modeName(dryRun), tradeSize, minProfit*100, scanInterval,
		now.Format("02/01/2006 15:04:05"), separator, footer)
}

// FormatOpportunity renders an opportunity alert
func FormatOpportunity(opp types.Opportunity) string {
	var legs strings.Builder
	for _, o := range opp.Outcomes {
		fmt.Fprintf(&legs, "\n   • %s: <b>$%.4f</b>", html.EscapeString(o.Name), o.YesPrice)
	}
	return fmt.Sprintf(`🎯 <b>ARBITRAGE OPPORTUNITY</b>
%s
📌 <b>%s</b>
📊 Type: <b>%s ARB</b>
🧮 YES sum: <b>$%.4f</b>
📈 Profit: <b>%.2f%%</b> = <b>$%.4f USDC</b>
%s
<b>Outcomes:</b>%s`,
		separator, label(opp.Label), opp.Direction, opp.PriceSum,
		opp.ProfitFraction*100, opp.ProfitAmount, separator, legs.String())
}

// FormatOrderExecuting renders the basket-start message
func FormatOrderExecuting(opp types.Opportunity, dryRun bool, now time.Time) string {
	emoji := "🟢"
	if dryRun {
		emoji = "🔵"
	}
	return fmt.Sprintf(`%s <b>%s EXECUTING BASKET</b>
%s
📌 %s
📊 Type: <b>%s</b>
🧺 Legs: <b>%d</b>
💵 Size: <b>$%.2f USDC</b>
⏰ %s`,
		emoji, modeTag(dryRun), separator, label(opp.Label), opp.Direction,
		len(opp.Outcomes), opp.TradeSize, now.Format("15:04:05"))
}

// FormatLegPlaced renders one leg
func FormatLegPlaced(opp types.Opportunity, outcome string, order types.LegOrder, dryRun bool, now time.Time) string {
	emoji := "📌"
	if dryRun {
		emoji = "🔵"
	}
	return fmt.Sprintf(`%s <b>%s %s ORDER PLACED</b>
%s
📌 %s
🎯 Outcome: <b>%s</b>
💲 Price: <b>$%.4f</b>
💵 Amount: <b>$%.2f USDC</b>
⏰ %s`,
		emoji, modeTag(dryRun), order.Side, separator, label(opp.Label),
		html.EscapeString(outcome), order.Price, order.Amount, now.Format("15:04:05"))
}

// FormatTradeSuccess renders a filled basket
func FormatTradeSuccess(opp types.Opportunity, dryRun bool, now time.Time) string {
	emoji := "💰"
	if dryRun {
		emoji = "🔵"
	}
	return fmt.Sprintf(`%s <b>%s TRADE SUCCEEDED ✅</b>
%s
📌 %s
📊 Type: <b>%s</b>
💰 Profit: <b>+$%.4f USDC</b>
⏰ %s`,
		emoji, modeTag(dryRun), separator, label(opp.Label), opp.Direction,
		opp.ProfitAmount, now.Format("15:04:05"))
}

// FormatTradeFailed renders a failed basket
func FormatTradeFailed(lbl, reason string, now time.Time) string {
	return fmt.Sprintf(`❌ <b>TRADE FAILED</b>
%s
📌 %s
❌ Reason: %s
⏰ %s`,
		separator, label(lbl), html.EscapeString(reason), now.Format("15:04:05"))
}

// FormatRiskRejected renders a gate rejection
func FormatRiskRejected(lbl, reason string, now time.Time) string {
	return fmt.Sprintf(`⚠️ <b>REJECTED BY RISK GATE</b>
%s
📌 %s
🛡️ Reason: %s
⏰ %s`,
		separator, label(lbl), html.EscapeString(reason), now.Format("15:04:05"))
}

// FormatEmergencyStop renders the kill-switch alert
func FormatEmergencyStop(reason string, now time.Time) string {
	return fmt.Sprintf(`🛑 <b>⚠️ EMERGENCY STOP!</b>
%s
❌ Reason: <b>%s</b>
⏰ %s
%s
Check the bot now!`,
		separator, html.EscapeString(reason), now.Format("02/01/2006 15:04:05"), separator)
}

// FormatReport renders the periodic summary
func FormatReport(r types.Report) string {
	return fmt.Sprintf(`📊 <b>PERIODIC REPORT %s</b>
%s
📋 Mode: <b>%s</b>
%s
🔍 Scans: <b>%d</b>
🎯 Opportunities: <b>%d</b>
⚡ Trades: <b>%d</b>
✅ Succeeded: <b>%d</b>
📊 Win rate: <b>%.1f%%</b>
%s
💰 Hour profit: <b>$%.4f USDC</b>
📈 Daily P&amp;L: <b>$%.4f USDC</b>
💵 Available: <b>$%.2f USDC</b>`,
		r.At.Format("15:04 02/01"), separator, modeName(r.DryRun), separator,
		r.Stats.Scans, r.Stats.OpportunitiesFound, r.Stats.TradesAttempted,
		r.Stats.TradesSucceeded, r.Stats.WinRate(), separator,
		r.Stats.HourProfit, r.Risk.DailyPnL, r.Risk.Available)
}

// FormatStopped renders the shutdown summary
func FormatStopped(stats types.SessionStats, dryRun bool, now time.Time) string {
	return fmt.Sprintf(`🛑 <b>BOT STOPPED</b>
%s
📋 Mode: <b>%s</b>
⚡ Total trades: <b>%d</b>
💰 Total profit: <b>$%.4f USDC</b>
⏰ %s`,
		separator, modeName(dryRun), stats.TradesAttempted, stats.SessionProfit,
		now.Format("02/01/2006 15:04:05"))
}

// FormatStatus renders /status
func FormatStatus(stats types.SessionStats, risk types.RiskStatus, dryRun bool) string {
	state := "🟢 RUNNING"
	if risk.Halted {
		state = "🛑 HALTED: " + html.EscapeString(risk.HaltReason)
	}
	return fmt.Sprintf(`📊 <b>BOT STATUS</b>
%s
%s
📋 Mode: <b>%s</b>
🔍 Scans: <b>%d</b> | ⚡ Trades: <b>%d</b> (%.1f%%)
💰 Session profit: <b>$%.4f</b>
📈 Daily P&amp;L: <b>$%.4f</b> (limit -$%.2f)
💼 Deployed: <b>$%.2f</b> / $%.2f`,
		separator, state, modeName(dryRun), stats.Scans, stats.TradesAttempted,
		stats.WinRate(), stats.SessionProfit, risk.DailyPnL, risk.MaxDailyLoss,
		risk.Deployed, risk.MaxExposure)
}

// FormatHelp renders /help
func FormatHelp() string {
	return fmt.Sprintf(`🤖 <b>NEGRISK BOT COMMANDS</b>
%s

📊 /status  Bot status
🛑 /stop  Emergency stop (restart required)
❓ /help  This message`, separator)
}
