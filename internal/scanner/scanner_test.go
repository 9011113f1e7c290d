package scanner

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altgrid/sweeper/internal/config"
	"github.com/altgrid/sweeper/internal/quote"
	"github.com/altgrid/sweeper/internal/registry"
	"github.com/altgrid/sweeper/internal/types"
)

type fixedSizer struct{ usd decimal.Decimal }

func (f fixedSizer) CalculateTradeSize(_ types.Lane) decimal.Decimal { return f.usd }

type mapPrices map[string]decimal.Decimal

func (m mapPrices) Price(symbol string) (decimal.Decimal, bool) {
	p, ok := m[symbol]
	return p, ok
}

type mapQuoter struct {
	quotes map[string]*quote.Quote // keyed by src symbol
	errs   map[string]error
}

func (m *mapQuoter) GetQuote(_ context.Context, src, _ registry.Token, _ *big.Int, _ int64) (*quote.Quote, error) {
	if err, ok := m.errs[src.Symbol]; ok {
		return nil, err
	}
	q, ok := m.quotes[src.Symbol]
	if !ok {
		return nil, errors.New("no quote stubbed")
	}
	return q, nil
}

// quoteWithEdge returns a $50 quote whose gross edge is edgePct percent,
// with $0.05 of gas (0.1% of notional).
func quoteWithEdge(edgePct string) *quote.Quote {
	src := decimal.NewFromInt(50)
	edge := decimal.RequireFromString(edgePct)
	return &quote.Quote{
		SrcUSD:     src,
		DestUSD:    src.Add(src.Mul(edge).Div(decimal.NewFromInt(100))),
		GasCostUSD: decimal.RequireFromString("0.05"),
		DestAmount: big.NewInt(1),
		PriceRoute: []byte(`{}`),
	}
}

func testConfig(pairs ...types.Pair) *config.Config {
	return &config.Config{
		Pairs: pairs,
		LaneA: types.LaneConfig{MinEdgePct: decimal.RequireFromString("0.25")},
		LaneB: types.LaneConfig{MinEdgePct: decimal.RequireFromString("0.75")},
		// 0.3% of fixed cost on top of gas
		SlippagePct:      decimal.RequireFromString("0.15"),
		MevMarginPct:     decimal.RequireFromString("0.10"),
		FailureBufferPct: decimal.RequireFromString("0.05"),
	}
}

func pair(src string, lane types.Lane) types.Pair {
	return types.Pair{ChainID: 137, SrcSymbol: src, DestSymbol: "USDC", Lane: lane}
}

func TestScanScoresAndFilters(t *testing.T) {
	cfg := testConfig(pair("WMATIC", types.LaneA), pair("WETH", types.LaneA))
	prices := mapPrices{"WMATIC": decimal.RequireFromString("0.50"), "WETH": decimal.NewFromInt(2500)}
	quoter := &mapQuoter{quotes: map[string]*quote.Quote{
		// gross 1.00% - gas 0.10% - costs 0.30% = 0.60% expected
		"WMATIC": quoteWithEdge("1.00"),
		// gross 0.50% - 0.40% = 0.10%, below lane A's 0.25% minimum
		"WETH": quoteWithEdge("0.50"),
	}}

	s := New(cfg, registry.New(), fixedSizer{decimal.NewFromInt(50)}, prices, quoter)
	opps := s.Scan(context.Background())

	require.Len(t, opps, 1)
	assert.Equal(t, "WMATIC", opps[0].SrcSymbol)
	assert.True(t, opps[0].ExpectedPnlPct.Equal(decimal.RequireFromString("0.6")),
		"got %s", opps[0].ExpectedPnlPct)
	assert.True(t, opps[0].NotionalUsd.Equal(decimal.NewFromInt(50)))

	// $50 at $0.50 = 100 WMATIC in 18-decimal base units
	want, _ := new(big.Int).SetString("100000000000000000000", 10)
	assert.Equal(t, want, opps[0].AmountBase)
}

func TestScanSortsBestFirst(t *testing.T) {
	cfg := testConfig(pair("WETH", types.LaneA), pair("WMATIC", types.LaneA))
	prices := mapPrices{"WMATIC": decimal.NewFromInt(1), "WETH": decimal.NewFromInt(1)}
	quoter := &mapQuoter{quotes: map[string]*quote.Quote{
		"WETH":   quoteWithEdge("1.00"), // 0.60% expected
		"WMATIC": quoteWithEdge("2.00"), // 1.60% expected
	}}

	s := New(cfg, registry.New(), fixedSizer{decimal.NewFromInt(50)}, prices, quoter)
	opps := s.Scan(context.Background())

	require.Len(t, opps, 2)
	assert.Equal(t, "WMATIC", opps[0].SrcSymbol, "highest expected PnL ranks first")
	assert.Equal(t, "WETH", opps[1].SrcSymbol)
}

func TestScanLaneBThreshold(t *testing.T) {
	cfg := testConfig(pair("WMATIC", types.LaneB))
	prices := mapPrices{"WMATIC": decimal.NewFromInt(1)}
	quoter := &mapQuoter{quotes: map[string]*quote.Quote{
		"WMATIC": quoteWithEdge("1.00"), // 0.60%, below lane B's 0.75%
	}}

	s := New(cfg, registry.New(), fixedSizer{decimal.NewFromInt(50)}, prices, quoter)
	assert.Empty(t, s.Scan(context.Background()))
}

func TestScanQuoteFailureSkipsPairOnly(t *testing.T) {
	cfg := testConfig(pair("WETH", types.LaneA), pair("WMATIC", types.LaneA))
	prices := mapPrices{"WMATIC": decimal.NewFromInt(1), "WETH": decimal.NewFromInt(1)}
	quoter := &mapQuoter{
		quotes: map[string]*quote.Quote{"WMATIC": quoteWithEdge("1.00")},
		errs:   map[string]error{"WETH": errors.New("aggregator 503")},
	}

	s := New(cfg, registry.New(), fixedSizer{decimal.NewFromInt(50)}, prices, quoter)
	opps := s.Scan(context.Background())

	require.Len(t, opps, 1, "one pair failing must not abort the scan")
	assert.Equal(t, "WMATIC", opps[0].SrcSymbol)
}

func TestScanMissingPriceSkipsPair(t *testing.T) {
	cfg := testConfig(pair("WMATIC", types.LaneA))
	quoter := &mapQuoter{quotes: map[string]*quote.Quote{"WMATIC": quoteWithEdge("1.00")}}

	s := New(cfg, registry.New(), fixedSizer{decimal.NewFromInt(50)}, mapPrices{}, quoter)
	assert.Empty(t, s.Scan(context.Background()))
}

func TestScanStableSourceUsesDollarPeg(t *testing.T) {
	cfg := testConfig(types.Pair{ChainID: 137, SrcSymbol: "USDT", DestSymbol: "USDC", Lane: types.LaneA})
	prices := mapPrices{"USDT": decimal.NewFromInt(1)}
	quoter := &mapQuoter{quotes: map[string]*quote.Quote{"USDT": quoteWithEdge("1.00")}}

	s := New(cfg, registry.New(), fixedSizer{decimal.NewFromInt(50)}, prices, quoter)
	opps := s.Scan(context.Background())

	require.Len(t, opps, 1)
	// $50 at $1 in 6-decimal base units
	assert.Equal(t, big.NewInt(50_000_000), opps[0].AmountBase)
}
