package bot

import (
	"context"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/altgrid/sweeper/internal/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// BOT LOOP - Fixed-interval scan → gate → enqueue
// ═══════════════════════════════════════════════════════════════════════════════
//
// One ticker drives everything. A tick that fires while the previous
// one is still scanning is skipped outright (single flight); ticks are
// never queued. Each tick walks the ranked opportunities, applies the
// risk and balance gates, and hands survivors to the executor. Lane A
// admits at most one trade per tick; lane B admits every survivor.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Scanner produces ranked opportunities.
type Scanner interface {
	Scan(ctx context.Context) []types.Opportunity
}

// Gate decides whether a lane may trade right now.
type Gate interface {
	IsLaneAllowed(lane types.Lane) bool
}

// BalanceChecker verifies the wallet can fund the trade's source leg.
type BalanceChecker interface {
	IsBalanceSufficient(ctx context.Context, chainID int64, symbol string, amountBase *big.Int) bool
}

// Enqueuer accepts gated trades for execution.
type Enqueuer interface {
	Enqueue(trade types.QueuedTrade) bool
}

type Loop struct {
	interval time.Duration
	scanner  Scanner
	gate     Gate
	balances BalanceChecker
	executor Enqueuer

	scanning atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewLoop(interval time.Duration, scanner Scanner, gate Gate, balances BalanceChecker, executor Enqueuer) *Loop {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Loop{
		interval: interval,
		scanner:  scanner,
		gate:     gate,
		balances: balances,
		executor: executor,
		stopCh:   make(chan struct{}),
	}
}

// Start runs the tick loop until Stop or ctx cancellation.
func (l *Loop) Start(ctx context.Context) {
	l.wg.Add(1)
	go l.run(ctx)
	log.Info().Dur("interval", l.interval).Msg("🤖 Bot loop started")
}

// Stop halts ticking and waits for an in-flight tick to finish.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
	l.wg.Wait()
	log.Info().Msg("Bot loop stopped")
}

func (l *Loop) run(ctx context.Context) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.Tick(ctx)
		}
	}
}

// Tick runs one scan-and-dispatch pass. Overlapping calls are dropped,
// not queued.
func (l *Loop) Tick(ctx context.Context) {
	if !l.scanning.CompareAndSwap(false, true) {
		log.Debug().Msg("Tick skipped: previous scan still running")
		return
	}
	defer l.scanning.Store(false)

	opps := l.scanner.Scan(ctx)
	if len(opps) == 0 {
		return
	}

	laneADone := false
	for _, opp := range opps {
		if opp.Lane == types.LaneA && laneADone {
			continue
		}
		if !l.gate.IsLaneAllowed(opp.Lane) {
			log.Debug().Str("lane", string(opp.Lane)).Msg("Lane stopped, opportunity dropped")
			continue
		}
		if !l.balances.IsBalanceSufficient(ctx, opp.ChainID, opp.SrcSymbol, opp.AmountBase) {
			log.Debug().
				Str("pair", opp.SrcSymbol+"/"+opp.DestSymbol).
				Int64("chain", opp.ChainID).
				Msg("Balance insufficient, opportunity dropped")
			continue
		}

		accepted := l.executor.Enqueue(types.QueuedTrade{
			ChainID:        opp.ChainID,
			SrcSymbol:      opp.SrcSymbol,
			DestSymbol:     opp.DestSymbol,
			AmountBase:     opp.AmountBase,
			Lane:           opp.Lane,
			NotionalUsd:    opp.NotionalUsd,
			ExpectedPnlPct: opp.ExpectedPnlPct,
		})
		if accepted && opp.Lane == types.LaneA {
			laneADone = true
		}
	}
}
