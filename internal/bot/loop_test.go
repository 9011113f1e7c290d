package bot

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altgrid/sweeper/internal/types"
)

type stubScanner struct {
	mu    sync.Mutex
	opps  []types.Opportunity
	calls int
	gate  chan struct{} // when set, Scan blocks until closed
}

func (s *stubScanner) Scan(_ context.Context) []types.Opportunity {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.gate != nil {
		<-s.gate
	}
	return s.opps
}

func (s *stubScanner) scanCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubGate struct{ blocked map[types.Lane]bool }

func (g stubGate) IsLaneAllowed(lane types.Lane) bool { return !g.blocked[lane] }

type stubBalances struct{ insufficient map[string]bool }

func (b stubBalances) IsBalanceSufficient(_ context.Context, _ int64, symbol string, _ *big.Int) bool {
	return !b.insufficient[symbol]
}

type stubExecutor struct {
	mu       sync.Mutex
	enqueued []types.QueuedTrade
	reject   bool
}

func (e *stubExecutor) Enqueue(trade types.QueuedTrade) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.reject {
		return false
	}
	e.enqueued = append(e.enqueued, trade)
	return true
}

func (e *stubExecutor) trades() []types.QueuedTrade {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]types.QueuedTrade(nil), e.enqueued...)
}

func opp(src string, lane types.Lane, pnlPct string) types.Opportunity {
	return types.Opportunity{
		Lane:           lane,
		ChainID:        137,
		SrcSymbol:      src,
		DestSymbol:     "USDC",
		AmountBase:     big.NewInt(1000),
		NotionalUsd:    decimal.NewFromInt(50),
		ExpectedPnlPct: decimal.RequireFromString(pnlPct),
	}
}

func newTestLoop(sc Scanner, gate Gate, bal BalanceChecker, exec Enqueuer) *Loop {
	return NewLoop(time.Hour, sc, gate, bal, exec)
}

func TestTickEnqueuesGatedOpportunities(t *testing.T) {
	sc := &stubScanner{opps: []types.Opportunity{
		opp("WMATIC", types.LaneB, "2.0"),
		opp("WETH", types.LaneB, "1.0"),
	}}
	exec := &stubExecutor{}
	l := newTestLoop(sc, stubGate{}, stubBalances{}, exec)

	l.Tick(context.Background())

	trades := exec.trades()
	require.Len(t, trades, 2, "lane B admits every survivor")
	assert.Equal(t, "WMATIC", trades[0].SrcSymbol)
	assert.Equal(t, "WETH", trades[1].SrcSymbol)
}

func TestTickLaneAAdmitsOnePerTick(t *testing.T) {
	sc := &stubScanner{opps: []types.Opportunity{
		opp("WMATIC", types.LaneA, "2.0"),
		opp("WETH", types.LaneA, "1.0"),
		opp("USDT", types.LaneB, "0.9"),
	}}
	exec := &stubExecutor{}
	l := newTestLoop(sc, stubGate{}, stubBalances{}, exec)

	l.Tick(context.Background())

	trades := exec.trades()
	require.Len(t, trades, 2)
	assert.Equal(t, "WMATIC", trades[0].SrcSymbol, "only the best lane A candidate runs")
	assert.Equal(t, "USDT", trades[1].SrcSymbol, "lane B is unaffected by the lane A cap")
}

func TestTickRejectedEnqueueDoesNotConsumeLaneASlot(t *testing.T) {
	sc := &stubScanner{opps: []types.Opportunity{
		opp("WMATIC", types.LaneA, "2.0"),
		opp("WETH", types.LaneA, "1.0"),
	}}
	exec := &stubExecutor{reject: true}
	l := newTestLoop(sc, stubGate{}, stubBalances{}, exec)

	l.Tick(context.Background())
	assert.Empty(t, exec.trades())
}

func TestTickRespectsRiskGate(t *testing.T) {
	sc := &stubScanner{opps: []types.Opportunity{
		opp("WMATIC", types.LaneA, "2.0"),
		opp("WETH", types.LaneB, "1.0"),
	}}
	exec := &stubExecutor{}
	l := newTestLoop(sc, stubGate{blocked: map[types.Lane]bool{types.LaneB: true}}, stubBalances{}, exec)

	l.Tick(context.Background())

	trades := exec.trades()
	require.Len(t, trades, 1)
	assert.Equal(t, types.LaneA, trades[0].Lane)
}

func TestTickSkipsInsufficientBalance(t *testing.T) {
	sc := &stubScanner{opps: []types.Opportunity{
		opp("WMATIC", types.LaneB, "2.0"),
		opp("WETH", types.LaneB, "1.0"),
	}}
	exec := &stubExecutor{}
	l := newTestLoop(sc, stubGate{}, stubBalances{insufficient: map[string]bool{"WMATIC": true}}, exec)

	l.Tick(context.Background())

	trades := exec.trades()
	require.Len(t, trades, 1)
	assert.Equal(t, "WETH", trades[0].SrcSymbol)
}

func TestTickSingleFlight(t *testing.T) {
	gate := make(chan struct{})
	sc := &stubScanner{gate: gate}
	l := newTestLoop(sc, stubGate{}, stubBalances{}, &stubExecutor{})

	done := make(chan struct{})
	go func() {
		l.Tick(context.Background())
		close(done)
	}()

	// Wait until the first tick is inside Scan, then fire another.
	deadline := time.Now().Add(2 * time.Second)
	for sc.scanCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	require.Equal(t, 1, sc.scanCount())

	l.Tick(context.Background()) // must be dropped, not queued
	assert.Equal(t, 1, sc.scanCount(), "overlapping tick skipped")

	close(gate)
	<-done
	l.Tick(context.Background())
	assert.Equal(t, 2, sc.scanCount(), "ticks resume after the scan finishes")
}
