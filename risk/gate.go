package risk

import (
	"fmt"
	"log"
	"time"

	"github.com/quantro/meanrev/ledger"
)

// Reason codes a denial or halt.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonHalted            Reason = "Halted"
	ReasonDailyLoss         Reason = "DailyLoss"
	ReasonCooldown          Reason = "Cooldown"
	ReasonDailyTradeCap     Reason = "DailyTradeCap"
	ReasonConsecutiveLosses Reason = "ConsecutiveLosses"
	ReasonBrokerTimeout     Reason = "BrokerTimeout"
	ReasonForceFlatten      Reason = "ForceFlatten"
	ReasonBrokerUnavailable Reason = "BrokerUnavailable"
)

// Decision is the result of the pre-trade gate. Deny is never an error: it
// silently suppresses the intent.
type Decision struct {
	Allowed bool
	Reason  Reason
	Detail  string
}

func allow() Decision { return Decision{Allowed: true} }

func deny(reason Reason, format string, args ...any) Decision {
	return Decision{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// Limits parameterises the circuit breakers.
type Limits struct {
	MaxDailyLoss         float64
	MaxConsecutiveLosses int
	Cooldown             time.Duration
	MaxDailyTrades       int
	MaxPositionDuration  time.Duration
}

// Validate enforces the configuration surface constraints.
func (l Limits) Validate() error {
	if l.MaxDailyLoss <= 0 {
		return fmt.Errorf("risk: max_daily_loss must be > 0, got %v", l.MaxDailyLoss)
	}
	if l.MaxConsecutiveLosses < 1 {
		return fmt.Errorf("risk: max_consecutive_losses must be >= 1, got %d", l.MaxConsecutiveLosses)
	}
	if l.Cooldown < 0 {
		return fmt.Errorf("risk: cooldown must be >= 0")
	}
	if l.MaxPositionDuration <= 0 {
		return fmt.Errorf("risk: max_position_duration must be > 0")
	}
	return nil
}

// State is the serialisable risk state, embedded in engine snapshots.
type State struct {
	SessionDate       string     `json:"session_date"`
	SessionPnL        float64    `json:"session_pnl"`
	ConsecutiveLosses int        `json:"consecutive_losses"`
	TradesToday       int        `json:"trades_today"`
	CooldownUntil     *time.Time `json:"cooldown_until,omitempty"`
	OpenEntryTime     *time.Time `json:"open_entry_time,omitempty"`
	Halted            bool       `json:"halted"`
	HaltReason        Reason     `json:"halt_reason,omitempty"`
}

// Gate is the pre-trade predicate and post-trade accountant. It enforces
// the daily loss limit, consecutive-loss cooldown, daily trade cap, and
// position duration cap. One gate per engine instance; not goroutine-safe
// by design (the engine is single-threaded per symbol).
type Gate struct {
	limits Limits
	state  State

	// lossCooldown distinguishes a cooldown set by consecutive losses from
	// one imposed externally; the deny reason differs.
	lossCooldown bool
}

// NewGate builds a gate with validated limits.
func NewGate(limits Limits) (*Gate, error) {
	if err := limits.Validate(); err != nil {
		return nil, err
	}
	return &Gate{limits: limits}, nil
}

// Limits returns the configured limits.
func (g *Gate) Limits() Limits { return g.limits }

// CanTrade is the pre-trade gate. Check order: Halted > DailyLoss >
// Cooldown > DailyTradeCap > ConsecutiveLosses.
func (g *Gate) CanTrade(now time.Time) Decision {
	if g.state.Halted {
		reason := g.state.HaltReason
		if reason == ReasonDailyLoss {
			return deny(ReasonDailyLoss, "session pnl %.2f breached daily loss limit %.2f",
				g.state.SessionPnL, g.limits.MaxDailyLoss)
		}
		return deny(ReasonHalted, "halted: %s", reason)
	}

	if g.state.SessionPnL <= -g.limits.MaxDailyLoss {
		return deny(ReasonDailyLoss, "session pnl %.2f at or below -%.2f",
			g.state.SessionPnL, g.limits.MaxDailyLoss)
	}

	if g.state.CooldownUntil != nil && now.Before(*g.state.CooldownUntil) {
		if !g.lossCooldown {
			return deny(ReasonCooldown, "cooling down until %s", g.state.CooldownUntil.Format(time.RFC3339))
		}
		// fall through to the trade-cap check; the loss cooldown reports
		// its own reason below
		if g.limits.MaxDailyTrades > 0 && g.state.TradesToday >= g.limits.MaxDailyTrades {
			return deny(ReasonDailyTradeCap, "%d trades today >= cap %d", g.state.TradesToday, g.limits.MaxDailyTrades)
		}
		return deny(ReasonConsecutiveLosses, "%d consecutive losses, cooling down until %s",
			g.state.ConsecutiveLosses, g.state.CooldownUntil.Format(time.RFC3339))
	}

	if g.limits.MaxDailyTrades > 0 && g.state.TradesToday >= g.limits.MaxDailyTrades {
		return deny(ReasonDailyTradeCap, "%d trades today >= cap %d", g.state.TradesToday, g.limits.MaxDailyTrades)
	}

	return allow()
}

// Record applies a closed trade to the session accounting. A losing trade
// advances the consecutive-loss counter and arms the cooldown when the
// limit is reached; a winning trade resets it. Breaching the daily loss
// limit halts the session.
func (g *Gate) Record(t ledger.Trade) {
	g.state.SessionPnL += t.RealizedPnL
	g.state.TradesToday++

	if t.RealizedPnL < 0 {
		g.state.ConsecutiveLosses++
		if g.state.ConsecutiveLosses >= g.limits.MaxConsecutiveLosses && g.limits.Cooldown > 0 {
			until := t.CloseTime.Add(g.limits.Cooldown)
			g.state.CooldownUntil = &until
			g.lossCooldown = true
			log.Printf("[WARN] risk: %d consecutive losses, cooling down until %s",
				g.state.ConsecutiveLosses, until.Format(time.RFC3339))
		}
	} else {
		g.state.ConsecutiveLosses = 0
		if g.lossCooldown {
			g.state.CooldownUntil = nil
			g.lossCooldown = false
		}
	}

	if g.state.SessionPnL <= -g.limits.MaxDailyLoss && !g.state.Halted {
		g.state.Halted = true
		g.state.HaltReason = ReasonDailyLoss
		log.Printf("[ERROR] risk: daily loss limit breached (session pnl %.2f), halting for the session",
			g.state.SessionPnL)
	}
}

// NotePositionOpened records the open-position entry time for the
// duration check and the single-position exposure rule.
func (g *Gate) NotePositionOpened(at time.Time) {
	t := at
	g.state.OpenEntryTime = &t
}

// NotePositionClosed clears the open-position marker.
func (g *Gate) NotePositionClosed() {
	g.state.OpenEntryTime = nil
}

// HasOpenPosition reports whether an entry time is currently recorded.
func (g *Gate) HasOpenPosition() bool { return g.state.OpenEntryTime != nil }

// CheckDuration reports whether the open position has exceeded the
// configured maximum holding time.
func (g *Gate) CheckDuration(now time.Time) bool {
	if g.state.OpenEntryTime == nil {
		return false
	}
	return now.Sub(*g.state.OpenEntryTime) > g.limits.MaxPositionDuration
}

// Halt stops trading with the given reason. Halts persist for the session;
// only ResetDaily clears them.
func (g *Gate) Halt(reason Reason) {
	g.state.Halted = true
	g.state.HaltReason = reason
	log.Printf("[ERROR] risk: halted (%s)", reason)
}

// Halted reports the halt flag and its reason.
func (g *Gate) Halted() (bool, Reason) {
	return g.state.Halted, g.state.HaltReason
}

// SetCooldown imposes an externally driven cooldown (reported as Cooldown,
// not ConsecutiveLosses).
func (g *Gate) SetCooldown(until time.Time) {
	u := until
	g.state.CooldownUntil = &u
	g.lossCooldown = false
}

// SessionPnL returns the realized session P&L recorded so far.
func (g *Gate) SessionPnL() float64 { return g.state.SessionPnL }

// ConsecutiveLosses returns the rolling loss counter.
func (g *Gate) ConsecutiveLosses() int { return g.state.ConsecutiveLosses }

// TradesToday returns the session trade count.
func (g *Gate) TradesToday() int { return g.state.TradesToday }

// SessionDate returns the calendar session the counters belong to.
func (g *Gate) SessionDate() string { return g.state.SessionDate }

// SetSessionDate stamps the session without resetting counters. Used when
// restoring from a snapshot within the same session.
func (g *Gate) SetSessionDate(date string) { g.state.SessionDate = date }

// ResetDaily rolls the session over: counters zeroed, cooldown and halts
// cleared. The open-position marker survives (a position can straddle the
// session boundary).
func (g *Gate) ResetDaily(date string) {
	open := g.state.OpenEntryTime
	g.state = State{SessionDate: date, OpenEntryTime: open}
	g.lossCooldown = false
	log.Printf("[INFO] risk: session reset for %s", date)
}

// Snapshot returns a copy of the serialisable state.
func (g *Gate) Snapshot() State {
	s := g.state
	if s.CooldownUntil != nil {
		t := *s.CooldownUntil
		s.CooldownUntil = &t
	}
	if s.OpenEntryTime != nil {
		t := *s.OpenEntryTime
		s.OpenEntryTime = &t
	}
	return s
}

// Restore reinstates a snapshotted state.
func (g *Gate) Restore(s State) {
	g.state = s
	g.lossCooldown = s.CooldownUntil != nil &&
		s.ConsecutiveLosses >= g.limits.MaxConsecutiveLosses
}
