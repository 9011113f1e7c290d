package inventory

import (
	"context"
	"math/big"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/altgrid/sweeper/internal/metrics"
	"github.com/altgrid/sweeper/internal/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// INVENTORY - Capital tracking and compounding trade sizing
// ═══════════════════════════════════════════════════════════════════════════════
//
// Sizing is a % of working capital (base + realized PnL), clamped to the
// lane's [min, max] band. Gains compound into larger future trades,
// losses shrink them.
//
// ═══════════════════════════════════════════════════════════════════════════════

// BalanceReader reads live on-chain balances for the trading wallet.
type BalanceReader interface {
	Balance(ctx context.Context, chainID int64, symbol string) (*big.Int, error)
}

type Manager struct {
	mu sync.RWMutex

	totalUsd    decimal.Decimal
	realizedPnl decimal.Decimal
	lanes       map[types.Lane]types.LaneConfig

	balances BalanceReader
	// last observed balances, display only
	seen map[int64]map[string]decimal.Decimal
}

// NewManager creates an inventory manager with the given base capital.
func NewManager(totalUsd decimal.Decimal, laneA, laneB types.LaneConfig, balances BalanceReader) *Manager {
	metrics.EquityUsd.Set(totalUsd.InexactFloat64())
	return &Manager{
		totalUsd:    totalUsd,
		realizedPnl: decimal.Zero,
		lanes: map[types.Lane]types.LaneConfig{
			types.LaneA: laneA,
			types.LaneB: laneB,
		},
		balances: balances,
		seen:     make(map[int64]map[string]decimal.Decimal),
	}
}

// CalculateTradeSize returns the USD size for the lane's next trade,
// always within [lane.MinUsd, lane.MaxUsd].
func (m *Manager) CalculateTradeSize(lane types.Lane) decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cfg := m.lanes[lane]
	size := m.totalUsd.Add(m.realizedPnl).Mul(cfg.SizePct)
	if size.LessThan(cfg.MinUsd) {
		return cfg.MinUsd
	}
	if size.GreaterThan(cfg.MaxUsd) {
		return cfg.MaxUsd
	}
	return size
}

// AddRealizedPnl accumulates settled PnL into the sizing base.
func (m *Manager) AddRealizedPnl(pnlUsd decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.realizedPnl = m.realizedPnl.Add(pnlUsd)
	metrics.EquityUsd.Set(m.totalUsd.Add(m.realizedPnl).InexactFloat64())
	log.Debug().
		Str("pnl", pnlUsd.StringFixed(2)).
		Str("realized_total", m.realizedPnl.StringFixed(2)).
		Msg("Realized PnL updated")
}

// IsBalanceSufficient checks the live wallet balance for the pair's
// source leg. A read failure counts as insufficient: we never trade on
// an unverified balance.
func (m *Manager) IsBalanceSufficient(ctx context.Context, chainID int64, symbol string, amountBase *big.Int) bool {
	if m.balances == nil {
		return false
	}
	bal, err := m.balances.Balance(ctx, chainID, symbol)
	if err != nil {
		log.Warn().Err(err).Int64("chain", chainID).Str("symbol", symbol).Msg("Balance read failed")
		return false
	}
	return bal.Cmp(amountBase) >= 0
}

// RecordBalance stores an observed balance for stats reporting.
func (m *Manager) RecordBalance(chainID int64, symbol string, usd decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen[chainID] == nil {
		m.seen[chainID] = make(map[string]decimal.Decimal)
	}
	m.seen[chainID][symbol] = usd
}

// Stats returns a snapshot of capital state.
func (m *Manager) Stats() types.InventoryStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	balances := make(map[int64]map[string]decimal.Decimal, len(m.seen))
	for chain, bySymbol := range m.seen {
		balances[chain] = make(map[string]decimal.Decimal, len(bySymbol))
		for sym, usd := range bySymbol {
			balances[chain][sym] = usd
		}
	}
	return types.InventoryStats{
		TotalUsd:    m.totalUsd,
		RealizedPnl: m.realizedPnl,
		Balances:    balances,
	}
}
