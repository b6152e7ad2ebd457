// Package alerts is the fire-and-forget notification channel. Send errors
// are logged and dropped, never returned to the engine. Delivery runs
// synchronously on the caller's goroutine, so a slow sender holds the
// caller up to the sender's own timeout (10 s for Telegram).
package alerts

import (
	"fmt"
	"log"

	"github.com/quantro/meanrev/ledger"
)

// Notifier receives operational events. Every method is best-effort.
type Notifier interface {
	Startup(mode, symbol string, maxDailyLoss float64)
	Shutdown(reason string)
	TradeEntry(symbol string, side ledger.Side, size int, price, z float64)
	TradeExit(symbol string, trade ledger.Trade)
	CircuitBreaker(reason string)
	BrokerDown()
	BrokerUp()
	DailySummary(date string, pnl float64, trades, wins, losses int)
	Error(msg string)
}

// Noop drops everything.
type Noop struct{}

func (Noop) Startup(string, string, float64)                       {}
func (Noop) Shutdown(string)                                       {}
func (Noop) TradeEntry(string, ledger.Side, int, float64, float64) {}
func (Noop) TradeExit(string, ledger.Trade)                        {}
func (Noop) CircuitBreaker(string)                                 {}
func (Noop) BrokerDown()                                           {}
func (Noop) BrokerUp()                                             {}
func (Noop) DailySummary(string, float64, int, int, int)           {}
func (Noop) Error(string)                                          {}

var _ Notifier = Noop{}

// Sender delivers a formatted message somewhere. Telegram implements it;
// tests substitute a recorder.
type Sender interface {
	Send(text string) error
}

// Relay formats engine events and hands them to a Sender without ever
// propagating failures.
type Relay struct {
	sender Sender
}

// NewRelay wraps a sender into a Notifier.
func NewRelay(s Sender) *Relay {
	return &Relay{sender: s}
}

func (r *Relay) post(text string) {
	if err := r.sender.Send(text); err != nil {
		log.Printf("[WARN] alerts: send failed: %v", err)
	}
}

func (r *Relay) Startup(mode, symbol string, maxDailyLoss float64) {
	r.post(fmt.Sprintf("🚀 meanrev started (%s) on %s, daily loss limit $%.0f", mode, symbol, maxDailyLoss))
}

func (r *Relay) Shutdown(reason string) {
	r.post(fmt.Sprintf("🛑 meanrev stopped: %s", reason))
}

func (r *Relay) TradeEntry(symbol string, side ledger.Side, size int, price, z float64) {
	r.post(fmt.Sprintf("📥 %s %d %s @ %.2f (Z=%.2f)", side, size, symbol, price, z))
}

func (r *Relay) TradeExit(symbol string, t ledger.Trade) {
	emoji := "🟢"
	if t.RealizedPnL < 0 {
		emoji = "🔴"
	}
	r.post(fmt.Sprintf("%s exit %s %s @ %.2f, P&L $%.2f (%s)",
		emoji, symbol, t.Side, t.ExitPrice, t.RealizedPnL, t.Reason))
}

func (r *Relay) CircuitBreaker(reason string) {
	r.post(fmt.Sprintf("⚠️ circuit breaker: %s", reason))
}

func (r *Relay) BrokerDown() { r.post("📡 broker disconnected") }
func (r *Relay) BrokerUp()   { r.post("📡 broker reconnected") }

func (r *Relay) DailySummary(date string, pnl float64, trades, wins, losses int) {
	winRate := 0.0
	if trades > 0 {
		winRate = 100 * float64(wins) / float64(trades)
	}
	r.post(fmt.Sprintf("📊 %s: %d trades, %d/%d W/L (%.0f%%), net $%.2f",
		date, trades, wins, losses, winRate, pnl))
}

func (r *Relay) Error(msg string) {
	r.post(fmt.Sprintf("❌ %s", msg))
}

var _ Notifier = (*Relay)(nil)
