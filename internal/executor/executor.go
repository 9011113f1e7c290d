package executor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/altgrid/sweeper/internal/metrics"
	"github.com/altgrid/sweeper/internal/settle"
	"github.com/altgrid/sweeper/internal/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// EXECUTOR - Per-chain FIFO settlement serialization
// ═══════════════════════════════════════════════════════════════════════════════
//
// One bounded channel and one worker goroutine per chain: at most one
// settlement is ever in flight on a chain, which keeps the shared
// signer's nonces ordered. Chains drain independently. A full queue
// drops new trades (backpressure) instead of growing without bound.
//
// Every settlement outcome is fed back into the risk guard and the
// inventory manager so future gating and sizing see it.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Settler executes a single validated trade.
type Settler interface {
	Settle(ctx context.Context, req settle.Request) settle.Result
}

// ResultSink receives settlement outcomes for risk gating.
type ResultSink interface {
	RecordResult(r types.TradeResult)
}

// PnlSink receives realized PnL for compounding trade sizing.
type PnlSink interface {
	AddRealizedPnl(pnlUsd decimal.Decimal)
}

// Journal persists settlement attempts. May be nil.
type Journal interface {
	LogSettlement(trade types.QueuedTrade, success bool, txHash, errorCode string, pnlUsd decimal.Decimal)
}

type Executor struct {
	mu     sync.Mutex
	queues map[int64]chan types.QueuedTrade

	capacity    int
	settler     Settler
	risk        ResultSink
	inventory   PnlSink
	journal     Journal
	fromAddress string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an executor. Workers spin up lazily, one per chain, on
// first enqueue.
func New(settler Settler, risk ResultSink, inventory PnlSink, journal Journal, fromAddress string, capacity int) *Executor {
	if capacity <= 0 {
		capacity = 32
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Executor{
		queues:      make(map[int64]chan types.QueuedTrade),
		capacity:    capacity,
		settler:     settler,
		risk:        risk,
		inventory:   inventory,
		journal:     journal,
		fromAddress: fromAddress,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Enqueue pushes a trade onto its chain's queue. Returns false when the
// queue is full and the trade was dropped.
func (e *Executor) Enqueue(trade types.QueuedTrade) bool {
	queue := e.queueFor(trade.ChainID)

	select {
	case queue <- trade:
		return true
	default:
		metrics.QueueDropped.WithLabelValues(metrics.ChainLabel(trade.ChainID)).Inc()
		log.Warn().
			Int64("chain", trade.ChainID).
			Str("pair", trade.SrcSymbol+"/"+trade.DestSymbol).
			Msg("Queue full, trade dropped")
		return false
	}
}

// QueueDepth returns the number of waiting trades for a chain.
func (e *Executor) QueueDepth(chainID int64) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if q, ok := e.queues[chainID]; ok {
		return len(q)
	}
	return 0
}

// Stop cancels workers and waits for the in-flight settlement, if any,
// to finish. Queued trades are abandoned.
func (e *Executor) Stop() {
	e.cancel()
	e.wg.Wait()
}

func (e *Executor) queueFor(chainID int64) chan types.QueuedTrade {
	e.mu.Lock()
	defer e.mu.Unlock()

	if q, ok := e.queues[chainID]; ok {
		return q
	}
	q := make(chan types.QueuedTrade, e.capacity)
	e.queues[chainID] = q

	e.wg.Add(1)
	go e.worker(chainID, q)
	log.Info().Int64("chain", chainID).Int("capacity", e.capacity).Msg("⚙️ Chain worker started")
	return q
}

// worker drains one chain's queue strictly in order, one trade at a time.
func (e *Executor) worker(chainID int64, queue <-chan types.QueuedTrade) {
	defer e.wg.Done()
	for {
		select {
		case <-e.ctx.Done():
			return
		case trade := <-queue:
			e.process(trade)
		}
	}
}

func (e *Executor) process(trade types.QueuedTrade) {
	result := e.settler.Settle(e.ctx, settle.Request{
		ChainID:     trade.ChainID,
		SrcSymbol:   trade.SrcSymbol,
		DestSymbol:  trade.DestSymbol,
		AmountWei:   trade.AmountBase.String(),
		FromAddress: e.fromAddress,
	})

	pnl := decimal.Zero
	outcome := "failure"
	if result.OK {
		pnl = trade.ExpectedPnlUsd()
		outcome = "success"
	}
	metrics.Trades.WithLabelValues(string(trade.Lane), outcome).Inc()

	// Close the feedback loop: gating and sizing must see every outcome.
	e.risk.RecordResult(types.TradeResult{
		Lane:      trade.Lane,
		Success:   result.OK,
		PnlUsd:    pnl,
		Timestamp: time.Now(),
	})
	if result.OK {
		e.inventory.AddRealizedPnl(pnl)
	}
	if e.journal != nil {
		e.journal.LogSettlement(trade, result.OK, result.TxHash, string(result.ErrorCode), pnl)
	}

	if result.OK {
		log.Info().
			Str("tx", result.TxHash).
			Str("lane", string(trade.Lane)).
			Str("pair", trade.SrcSymbol+"/"+trade.DestSymbol).
			Str("expected_pnl", pnl.StringFixed(2)).
			Msg("📊 Trade settled")
	} else {
		log.Warn().
			Str("code", string(result.ErrorCode)).
			Str("error", result.Error).
			Str("pair", trade.SrcSymbol+"/"+trade.DestSymbol).
			Msg("Trade failed")
	}
}
