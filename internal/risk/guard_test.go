package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/altgrid/sweeper/internal/types"
)

func testConfig() Config {
	return Config{
		BaseCapitalUsd:     decimal.NewFromInt(1000),
		HistoryWindow:      10,
		DrawdownStopPct:    decimal.NewFromInt(5),
		DrawdownCooldown:   30 * time.Minute,
		LaneBFailureStreak: 3,
		LaneBCooldown:      10 * time.Minute,
	}
}

func frozenGuard(cfg Config) (*Guard, *time.Time) {
	g := NewGuard(cfg)
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return clock }
	return g, &clock
}

func result(lane types.Lane, success bool, pnl int64) types.TradeResult {
	return types.TradeResult{Lane: lane, Success: success, PnlUsd: decimal.NewFromInt(pnl)}
}

func TestBothLanesAllowedInitially(t *testing.T) {
	g := NewGuard(testConfig())
	assert.True(t, g.IsLaneAllowed(types.LaneA))
	assert.True(t, g.IsLaneAllowed(types.LaneB))
}

func TestLaneBStopAfterFailureStreak(t *testing.T) {
	g, clock := frozenGuard(testConfig())

	g.RecordResult(result(types.LaneB, false, -1))
	g.RecordResult(result(types.LaneB, false, -1))
	assert.True(t, g.IsLaneAllowed(types.LaneB), "two failures are below the streak")

	g.RecordResult(result(types.LaneB, false, -1))
	assert.False(t, g.IsLaneAllowed(types.LaneB))
	assert.True(t, g.IsLaneAllowed(types.LaneA), "lane B stop leaves lane A running")

	*clock = clock.Add(10*time.Minute + time.Second)
	assert.True(t, g.IsLaneAllowed(types.LaneB), "stop self-heals after the cooldown")
}

func TestLaneBStreakBrokenBySuccess(t *testing.T) {
	g, _ := frozenGuard(testConfig())

	g.RecordResult(result(types.LaneB, false, -1))
	g.RecordResult(result(types.LaneB, false, -1))
	g.RecordResult(result(types.LaneB, true, 2))
	g.RecordResult(result(types.LaneB, false, -1))
	g.RecordResult(result(types.LaneB, false, -1))

	assert.True(t, g.IsLaneAllowed(types.LaneB), "a success resets the streak")
}

func TestLaneAFailuresDoNotStopLaneB(t *testing.T) {
	g, _ := frozenGuard(testConfig())

	for i := 0; i < 5; i++ {
		g.RecordResult(result(types.LaneA, false, -1))
	}
	assert.True(t, g.IsLaneAllowed(types.LaneB))
}

func TestGlobalDrawdownStop(t *testing.T) {
	g, clock := frozenGuard(testConfig())

	// -5% of $1000 base capital = -$50 across the window.
	g.RecordResult(result(types.LaneA, false, -30))
	assert.True(t, g.IsLaneAllowed(types.LaneA))

	g.RecordResult(result(types.LaneA, false, -25))
	assert.False(t, g.IsLaneAllowed(types.LaneA), "window PnL -$55 trips the -5% stop")
	assert.False(t, g.IsLaneAllowed(types.LaneB), "global stop halts every lane")

	*clock = clock.Add(30*time.Minute + time.Second)
	assert.True(t, g.IsLaneAllowed(types.LaneA))
}

func TestDrawdownWindowIsBounded(t *testing.T) {
	cfg := testConfig()
	cfg.HistoryWindow = 3
	g, _ := frozenGuard(cfg)

	// Old losses must age out of the rolling window.
	g.RecordResult(result(types.LaneA, false, -40))
	g.RecordResult(result(types.LaneA, true, 1))
	g.RecordResult(result(types.LaneA, true, 1))
	g.RecordResult(result(types.LaneA, true, 1))

	assert.True(t, g.IsLaneAllowed(types.LaneA))
	g.RecordResult(result(types.LaneA, false, -45))
	assert.True(t, g.IsLaneAllowed(types.LaneA), "-$43 in window, below the -$50 trip")
}

func TestStopReArmsOnNewResults(t *testing.T) {
	g, clock := frozenGuard(testConfig())

	g.RecordResult(result(types.LaneB, false, -1))
	g.RecordResult(result(types.LaneB, false, -1))
	g.RecordResult(result(types.LaneB, false, -1))
	assert.False(t, g.IsLaneAllowed(types.LaneB))

	// Another failure while stopped extends the stop from now.
	*clock = clock.Add(5 * time.Minute)
	g.RecordResult(result(types.LaneB, false, -1))

	*clock = clock.Add(6 * time.Minute)
	assert.False(t, g.IsLaneAllowed(types.LaneB), "stop extended by the newer failure")
}
