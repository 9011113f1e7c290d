package config

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altgrid/sweeper/internal/types"
)

func TestParseRPCEndpoints(t *testing.T) {
	out, err := parseRPCEndpoints("137=https://polygon.example, 8453=https://base.example")
	require.NoError(t, err)
	assert.Equal(t, "https://polygon.example", out[137])
	assert.Equal(t, "https://base.example", out[8453])

	out, err = parseRPCEndpoints("")
	require.NoError(t, err)
	assert.Empty(t, out)

	_, err = parseRPCEndpoints("polygon=https://x")
	assert.Error(t, err)

	_, err = parseRPCEndpoints("137")
	assert.Error(t, err)
}

func TestParsePairs(t *testing.T) {
	pairs, err := parsePairs("137:WMATIC-USDC:A, 8453:weth-usdc:b")
	require.NoError(t, err)
	require.Len(t, pairs, 2)

	assert.Equal(t, types.Pair{ChainID: 137, SrcSymbol: "WMATIC", DestSymbol: "USDC", Lane: types.LaneA}, pairs[0])
	assert.Equal(t, types.Pair{ChainID: 8453, SrcSymbol: "WETH", DestSymbol: "USDC", Lane: types.LaneB}, pairs[1])
}

func TestParsePairsRejectsMalformed(t *testing.T) {
	for _, raw := range []string{
		"137:WMATIC-USDC",   // missing lane
		"137:WMATICUSDC:A",  // missing leg separator
		"137:WMATIC-USDC:C", // unknown lane
		"xx:WMATIC-USDC:A",  // bad chain id
		"137:-USDC:A",       // empty leg
	} {
		_, err := parsePairs(raw)
		assert.Error(t, err, "input %q", raw)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.DryRun, "dry run must be the default")
	assert.Equal(t, "https://apiv5.paraswap.io", cfg.AggregatorURL)
	assert.Len(t, cfg.Pairs, 1)
	assert.True(t, cfg.LaneA.MinEdgePct.LessThan(cfg.LaneB.MinEdgePct),
		"lane B demands a higher edge than lane A")
}

func TestLaneFor(t *testing.T) {
	cfg := &Config{
		LaneA: types.LaneConfig{MinUsd: decimal.NewFromInt(5)},
		LaneB: types.LaneConfig{MinUsd: decimal.NewFromInt(10)},
	}
	assert.True(t, cfg.LaneFor(types.LaneA).MinUsd.Equal(decimal.NewFromInt(5)))
	assert.True(t, cfg.LaneFor(types.LaneB).MinUsd.Equal(decimal.NewFromInt(10)))
}
