package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/altgrid/sweeper/internal/types"
)

// Config holds all configuration for the sweeper.
type Config struct {
	// Mode
	DryRun bool
	Debug  bool

	// Wallet
	WalletPrivateKey string // hex, 0x prefix optional
	TradingAddress   string // expected signer address; fail closed on mismatch

	// Chains
	RPCEndpoints map[int64]string // chainID -> RPC URL

	// Aggregator
	AggregatorURL string

	// Pairs and lanes
	Pairs []types.Pair
	LaneA types.LaneConfig
	LaneB types.LaneConfig

	// Scanner cost model (percent of notional)
	SlippagePct      decimal.Decimal
	MevMarginPct     decimal.Decimal
	FailureBufferPct decimal.Decimal
	SlippageBps      int64 // bound passed to the tx builder

	// Scheduler
	TickInterval time.Duration

	// Executor
	QueueCapacity int

	// Settlement
	CooldownTTL      time.Duration
	GasReserveWei    string // native reserve held back for gas, wei
	MinStableUsd     decimal.Decimal
	QuoteFloorUsd    decimal.Decimal
	GasLimitMultiple decimal.Decimal

	// Risk
	BaseCapitalUsd     decimal.Decimal
	HistoryWindow      int
	DrawdownStopPct    decimal.Decimal // positive, e.g. 5 = stop at -5% of base capital
	DrawdownCooldown   time.Duration
	LaneBFailureStreak int
	LaneBCooldown      time.Duration

	// HTTP
	ListenAddr string

	// Storage
	DatabaseURL  string // postgres DSN; sqlite fallback when empty
	DatabasePath string
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		DryRun: getEnvBool("DRY_RUN", true),
		Debug:  getEnvBool("DEBUG", false),

		WalletPrivateKey: os.Getenv("WALLET_PRIVATE_KEY"),
		TradingAddress:   os.Getenv("TRADING_ADDRESS"),

		AggregatorURL: getEnv("AGGREGATOR_URL", "https://apiv5.paraswap.io"),

		LaneA: types.LaneConfig{
			SizePct:    getEnvDecimal("LANE_A_SIZE_PCT", decimal.NewFromFloat(0.05)),
			MinUsd:     getEnvDecimal("LANE_A_MIN_USD", decimal.NewFromInt(5)),
			MaxUsd:     getEnvDecimal("LANE_A_MAX_USD", decimal.NewFromInt(250)),
			MinEdgePct: getEnvDecimal("LANE_A_MIN_EDGE_PCT", decimal.NewFromFloat(0.25)),
		},
		LaneB: types.LaneConfig{
			SizePct:    getEnvDecimal("LANE_B_SIZE_PCT", decimal.NewFromFloat(0.10)),
			MinUsd:     getEnvDecimal("LANE_B_MIN_USD", decimal.NewFromInt(10)),
			MaxUsd:     getEnvDecimal("LANE_B_MAX_USD", decimal.NewFromInt(500)),
			MinEdgePct: getEnvDecimal("LANE_B_MIN_EDGE_PCT", decimal.NewFromFloat(0.75)),
		},

		SlippagePct:      getEnvDecimal("COST_SLIPPAGE_PCT", decimal.NewFromFloat(0.15)),
		MevMarginPct:     getEnvDecimal("COST_MEV_MARGIN_PCT", decimal.NewFromFloat(0.10)),
		FailureBufferPct: getEnvDecimal("COST_FAILURE_BUFFER_PCT", decimal.NewFromFloat(0.05)),
		SlippageBps:      int64(getEnvInt("SLIPPAGE_BPS", 100)),

		TickInterval:  getEnvDuration("TICK_INTERVAL", 15*time.Second),
		QueueCapacity: getEnvInt("QUEUE_CAPACITY", 32),

		CooldownTTL:      getEnvDuration("COOLDOWN_TTL", 30*time.Second),
		GasReserveWei:    getEnv("GAS_RESERVE_WEI", "2000000000000000000"),
		MinStableUsd:     getEnvDecimal("MIN_STABLE_USD", decimal.NewFromInt(2)),
		QuoteFloorUsd:    getEnvDecimal("QUOTE_FLOOR_USD", decimal.NewFromInt(1)),
		GasLimitMultiple: getEnvDecimal("GAS_LIMIT_MULTIPLE", decimal.NewFromFloat(1.5)),

		BaseCapitalUsd:     getEnvDecimal("BASE_CAPITAL_USD", decimal.NewFromInt(1000)),
		HistoryWindow:      getEnvInt("RISK_HISTORY_WINDOW", 20),
		DrawdownStopPct:    getEnvDecimal("RISK_DRAWDOWN_STOP_PCT", decimal.NewFromInt(5)),
		DrawdownCooldown:   getEnvDuration("RISK_DRAWDOWN_COOLDOWN", 30*time.Minute),
		LaneBFailureStreak: getEnvInt("RISK_LANE_B_FAILURES", 3),
		LaneBCooldown:      getEnvDuration("RISK_LANE_B_COOLDOWN", 10*time.Minute),

		ListenAddr: getEnv("LISTEN_ADDR", ":8080"),

		DatabaseURL:  os.Getenv("DATABASE_URL"),
		DatabasePath: getEnv("DATABASE_PATH", "data/sweeper.db"),
	}

	rpcs, err := parseRPCEndpoints(os.Getenv("CHAIN_RPC_URLS"))
	if err != nil {
		return nil, err
	}
	cfg.RPCEndpoints = rpcs

	pairs, err := parsePairs(getEnv("PAIRS", "137:WMATIC-USDC:A"))
	if err != nil {
		return nil, err
	}
	cfg.Pairs = pairs

	return cfg, nil
}

// LaneFor returns the config for the given lane.
func (c *Config) LaneFor(lane types.Lane) types.LaneConfig {
	if lane == types.LaneB {
		return c.LaneB
	}
	return c.LaneA
}

// parseRPCEndpoints parses "137=https://...,8453=https://..." into a map.
func parseRPCEndpoints(raw string) (map[int64]string, error) {
	out := make(map[int64]string)
	if raw == "" {
		return out, nil
	}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("invalid CHAIN_RPC_URLS entry %q", part)
		}
		id, err := strconv.ParseInt(strings.TrimSpace(kv[0]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid chain id in CHAIN_RPC_URLS entry %q: %w", part, err)
		}
		out[id] = strings.TrimSpace(kv[1])
	}
	return out, nil
}

// parsePairs parses "137:WMATIC-USDC:A,137:USDC-WETH:B".
func parsePairs(raw string) ([]types.Pair, error) {
	var pairs []types.Pair
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Split(part, ":")
		if len(fields) != 3 {
			return nil, fmt.Errorf("invalid PAIRS entry %q (want chain:SRC-DST:lane)", part)
		}
		chainID, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid chain id in PAIRS entry %q: %w", part, err)
		}
		legs := strings.SplitN(fields[1], "-", 2)
		if len(legs) != 2 || legs[0] == "" || legs[1] == "" {
			return nil, fmt.Errorf("invalid pair legs in PAIRS entry %q", part)
		}
		lane := types.Lane(strings.ToUpper(fields[2]))
		if lane != types.LaneA && lane != types.LaneB {
			return nil, fmt.Errorf("invalid lane in PAIRS entry %q", part)
		}
		pairs = append(pairs, types.Pair{
			ChainID:    chainID,
			SrcSymbol:  strings.ToUpper(legs[0]),
			DestSymbol: strings.ToUpper(legs[1]),
			Lane:       lane,
		})
	}
	return pairs, nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}
