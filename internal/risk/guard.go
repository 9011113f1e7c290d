package risk

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/altgrid/sweeper/internal/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// RISK GUARD - Circuit breaker over a rolling trade-result window
// ═══════════════════════════════════════════════════════════════════════════════
//
// Two independent timed stops:
//   - GLOBAL: rolling-window drawdown vs base capital halts all lanes
//   - LANE B: a streak of lane-B failures halts lane B only
//
// Stops are re-armed only by RecordResult evaluations and cleared only
// by the clock. There is deliberately no manual reset.
//
// ═══════════════════════════════════════════════════════════════════════════════

type Config struct {
	BaseCapitalUsd     decimal.Decimal
	HistoryWindow      int             // rolling sample count N
	DrawdownStopPct    decimal.Decimal // positive; trip when window PnL <= -this % of capital
	DrawdownCooldown   time.Duration
	LaneBFailureStreak int // consecutive lane-B failures M
	LaneBCooldown      time.Duration
}

type Guard struct {
	mu  sync.Mutex
	cfg Config

	history         []types.TradeResult // bounded to cfg.HistoryWindow
	globalStopUntil time.Time
	laneBStopUntil  time.Time

	now func() time.Time
}

// NewGuard creates a risk guard in the RUNNING state.
func NewGuard(cfg Config) *Guard {
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 20
	}
	if cfg.LaneBFailureStreak <= 0 {
		cfg.LaneBFailureStreak = 3
	}
	return &Guard{cfg: cfg, now: time.Now}
}

// RecordResult appends a settlement outcome and re-evaluates both stops.
func (g *Guard) RecordResult(r types.TradeResult) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.history = append(g.history, r)
	if len(g.history) > g.cfg.HistoryWindow {
		g.history = g.history[len(g.history)-g.cfg.HistoryWindow:]
	}

	g.evaluateDrawdownLocked()
	g.evaluateLaneBLocked()
}

func (g *Guard) evaluateDrawdownLocked() {
	if g.cfg.BaseCapitalUsd.IsZero() {
		return
	}
	sum := decimal.Zero
	for _, r := range g.history {
		sum = sum.Add(r.PnlUsd)
	}
	pct := sum.Div(g.cfg.BaseCapitalUsd).Mul(decimal.NewFromInt(100))
	if pct.LessThanOrEqual(g.cfg.DrawdownStopPct.Neg()) {
		until := g.now().Add(g.cfg.DrawdownCooldown)
		if until.After(g.globalStopUntil) {
			g.globalStopUntil = until
			log.Warn().
				Str("window_pnl_pct", pct.StringFixed(2)).
				Time("until", until).
				Msg("🚨 Global stop armed: drawdown threshold breached")
		}
	}
}

func (g *Guard) evaluateLaneBLocked() {
	streak := 0
	for i := len(g.history) - 1; i >= 0; i-- {
		if g.history[i].Lane != types.LaneB {
			continue
		}
		if g.history[i].Success {
			break
		}
		streak++
		if streak >= g.cfg.LaneBFailureStreak {
			until := g.now().Add(g.cfg.LaneBCooldown)
			if until.After(g.laneBStopUntil) {
				g.laneBStopUntil = until
				log.Warn().
					Int("failures", streak).
					Time("until", until).
					Msg("🚨 Lane B stop armed: failure streak")
			}
			return
		}
	}
}

// IsLaneAllowed reports whether the lane may trade right now. Stops
// self-heal purely by timestamp comparison.
func (g *Guard) IsLaneAllowed(lane types.Lane) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if now.Before(g.globalStopUntil) {
		return false
	}
	if lane == types.LaneB && now.Before(g.laneBStopUntil) {
		return false
	}
	return true
}

// Status returns the stop timestamps for reporting.
func (g *Guard) Status() (globalStopUntil, laneBStopUntil time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.globalStopUntil, g.laneBStopUntil
}
