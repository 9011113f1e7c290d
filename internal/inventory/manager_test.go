package inventory

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/altgrid/sweeper/internal/types"
)

var (
	laneA = types.LaneConfig{
		SizePct:    decimal.NewFromFloat(0.05),
		MinUsd:     decimal.NewFromInt(5),
		MaxUsd:     decimal.NewFromInt(250),
		MinEdgePct: decimal.NewFromFloat(0.25),
	}
	laneB = types.LaneConfig{
		SizePct:    decimal.NewFromFloat(0.10),
		MinUsd:     decimal.NewFromInt(10),
		MaxUsd:     decimal.NewFromInt(500),
		MinEdgePct: decimal.NewFromFloat(0.75),
	}
)

type stubBalances struct {
	balance *big.Int
	err     error
}

func (s *stubBalances) Balance(_ context.Context, _ int64, _ string) (*big.Int, error) {
	return s.balance, s.err
}

func TestCalculateTradeSize(t *testing.T) {
	m := NewManager(decimal.NewFromInt(1000), laneA, laneB, nil)

	// 5% of $1000
	assert.True(t, m.CalculateTradeSize(types.LaneA).Equal(decimal.NewFromInt(50)))
	// 10% of $1000
	assert.True(t, m.CalculateTradeSize(types.LaneB).Equal(decimal.NewFromInt(100)))
}

func TestCalculateTradeSizeClampedToBand(t *testing.T) {
	small := NewManager(decimal.NewFromInt(50), laneA, laneB, nil)
	assert.True(t, small.CalculateTradeSize(types.LaneA).Equal(laneA.MinUsd), "below min clamps up")

	large := NewManager(decimal.NewFromInt(100000), laneA, laneB, nil)
	assert.True(t, large.CalculateTradeSize(types.LaneA).Equal(laneA.MaxUsd), "above max clamps down")
}

func TestRealizedPnlCompounds(t *testing.T) {
	m := NewManager(decimal.NewFromInt(1000), laneA, laneB, nil)

	m.AddRealizedPnl(decimal.NewFromInt(200))
	// 5% of $1200
	assert.True(t, m.CalculateTradeSize(types.LaneA).Equal(decimal.NewFromInt(60)))

	m.AddRealizedPnl(decimal.NewFromInt(-400))
	// 5% of $800
	assert.True(t, m.CalculateTradeSize(types.LaneA).Equal(decimal.NewFromInt(40)))
}

func TestIsBalanceSufficient(t *testing.T) {
	m := NewManager(decimal.NewFromInt(1000), laneA, laneB, &stubBalances{balance: big.NewInt(100)})

	assert.True(t, m.IsBalanceSufficient(context.Background(), 137, "USDC", big.NewInt(100)))
	assert.False(t, m.IsBalanceSufficient(context.Background(), 137, "USDC", big.NewInt(101)))
}

func TestBalanceReadFailureCountsAsInsufficient(t *testing.T) {
	m := NewManager(decimal.NewFromInt(1000), laneA, laneB, &stubBalances{err: errors.New("rpc down")})
	assert.False(t, m.IsBalanceSufficient(context.Background(), 137, "USDC", big.NewInt(1)))

	noReader := NewManager(decimal.NewFromInt(1000), laneA, laneB, nil)
	assert.False(t, noReader.IsBalanceSufficient(context.Background(), 137, "USDC", big.NewInt(1)))
}

func TestStatsSnapshot(t *testing.T) {
	m := NewManager(decimal.NewFromInt(1000), laneA, laneB, nil)
	m.AddRealizedPnl(decimal.NewFromInt(25))
	m.RecordBalance(137, "USDC", decimal.NewFromInt(500))

	stats := m.Stats()
	assert.True(t, stats.TotalUsd.Equal(decimal.NewFromInt(1000)))
	assert.True(t, stats.RealizedPnl.Equal(decimal.NewFromInt(25)))
	assert.True(t, stats.Balances[137]["USDC"].Equal(decimal.NewFromInt(500)))
}
