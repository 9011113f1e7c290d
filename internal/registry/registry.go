package registry

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TOKEN REGISTRY - Symbol resolution per chain
// ═══════════════════════════════════════════════════════════════════════════════

// NativeSentinel is the conventional aggregator address for the chain's
// native asset.
var NativeSentinel = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")

// Token is a resolved token registry entry.
type Token struct {
	Symbol   string
	Address  common.Address
	Decimals int32
	Native   bool
	Stable   bool
}

// Registry resolves trading symbols to on-chain token metadata.
type Registry struct {
	chains map[int64]map[string]Token
}

// New returns a registry seeded with the supported mainnets.
func New() *Registry {
	r := &Registry{chains: make(map[int64]map[string]Token)}

	// Polygon
	r.add(137, Token{Symbol: "POL", Address: NativeSentinel, Decimals: 18, Native: true})
	r.add(137, Token{Symbol: "WMATIC", Address: common.HexToAddress("0x0d500B1d8E8eF31E21C99d1Db9A6444d3ADf1270"), Decimals: 18})
	r.add(137, Token{Symbol: "WETH", Address: common.HexToAddress("0x7ceB23fD6bC0adD59E62ac25578270cFf1b9f619"), Decimals: 18})
	r.add(137, Token{Symbol: "USDC", Address: common.HexToAddress("0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359"), Decimals: 6, Stable: true})
	r.add(137, Token{Symbol: "USDT", Address: common.HexToAddress("0xc2132D05D31c914a87C6611C10748AEb04B58e8F"), Decimals: 6, Stable: true})
	r.add(137, Token{Symbol: "DAI", Address: common.HexToAddress("0x8f3Cf7ad23Cd3CaDbD9735AFf958023239c6A063"), Decimals: 18, Stable: true})

	// Base
	r.add(8453, Token{Symbol: "ETH", Address: NativeSentinel, Decimals: 18, Native: true})
	r.add(8453, Token{Symbol: "WETH", Address: common.HexToAddress("0x4200000000000000000000000000000000000006"), Decimals: 18})
	r.add(8453, Token{Symbol: "USDC", Address: common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"), Decimals: 6, Stable: true})

	return r
}

func (r *Registry) add(chainID int64, t Token) {
	if r.chains[chainID] == nil {
		r.chains[chainID] = make(map[string]Token)
	}
	r.chains[chainID][strings.ToUpper(t.Symbol)] = t
}

// IsSupportedChain reports whether the chain has registry entries.
func (r *Registry) IsSupportedChain(chainID int64) bool {
	return len(r.chains[chainID]) > 0
}

// Resolve returns the token entry for a symbol on a chain.
func (r *Registry) Resolve(symbol string, chainID int64) (Token, error) {
	tokens, ok := r.chains[chainID]
	if !ok {
		return Token{}, fmt.Errorf("unsupported chain %d", chainID)
	}
	t, ok := tokens[strings.ToUpper(symbol)]
	if !ok {
		return Token{}, fmt.Errorf("unknown token %q on chain %d", symbol, chainID)
	}
	return t, nil
}
