package types

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SHARED TYPES - Avoid import cycles
// ═══════════════════════════════════════════════════════════════════════════════

// Lane is a strategy bucket with independent sizing and risk thresholds.
type Lane string

const (
	LaneA Lane = "A" // frequent, low-risk
	LaneB Lane = "B" // opportunistic, higher-risk
)

// LaneConfig holds per-lane sizing and entry thresholds.
type LaneConfig struct {
	SizePct    decimal.Decimal // fraction of capital per trade
	MinUsd     decimal.Decimal
	MaxUsd     decimal.Decimal
	MinEdgePct decimal.Decimal // minimum expected PnL % to accept
}

// Pair is a configured trading pair on a specific chain.
type Pair struct {
	ChainID    int64
	SrcSymbol  string
	DestSymbol string
	Lane       Lane
}

// Opportunity is a scored candidate trade. Created fresh each scan tick,
// never persisted across ticks.
type Opportunity struct {
	Lane           Lane
	ChainID        int64
	SrcSymbol      string
	DestSymbol     string
	AmountBase     *big.Int
	NotionalUsd    decimal.Decimal
	ExpectedPnlPct decimal.Decimal
	QuotePayload   []byte // raw price route from the aggregator
}

// QueuedTrade is an accepted opportunity waiting in a per-chain queue.
type QueuedTrade struct {
	ChainID        int64
	SrcSymbol      string
	DestSymbol     string
	AmountBase     *big.Int
	Lane           Lane
	NotionalUsd    decimal.Decimal
	ExpectedPnlPct decimal.Decimal
}

// ExpectedPnlUsd returns the USD PnL this trade is expected to realize.
func (t QueuedTrade) ExpectedPnlUsd() decimal.Decimal {
	return t.NotionalUsd.Mul(t.ExpectedPnlPct).Div(decimal.NewFromInt(100))
}

// TradeResult is the settlement outcome fed back into risk and inventory.
type TradeResult struct {
	Lane      Lane
	Success   bool
	PnlUsd    decimal.Decimal
	Timestamp time.Time
}

// InventoryStats is a snapshot of capital state.
type InventoryStats struct {
	TotalUsd    decimal.Decimal
	RealizedPnl decimal.Decimal
	Balances    map[int64]map[string]decimal.Decimal
}
