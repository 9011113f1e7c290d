package scanner

import (
	"context"
	"math/big"
	"sort"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/altgrid/sweeper/internal/config"
	"github.com/altgrid/sweeper/internal/metrics"
	"github.com/altgrid/sweeper/internal/quote"
	"github.com/altgrid/sweeper/internal/registry"
	"github.com/altgrid/sweeper/internal/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// OPPORTUNITY SCANNER - Quote, score, rank
// ═══════════════════════════════════════════════════════════════════════════════
//
// Each scan quotes every configured pair at its lane's current trade
// size and scores it:
//
//   grossEdge% = (destUSD - srcUSD) / srcUSD * 100
//   expected%  = grossEdge% - gas% - slippage% - mevMargin% - failureBuffer%
//
// Pairs clearing their lane's minimum edge come back sorted best-first.
// A failed quote or missing reference price skips that pair only; the
// scan never aborts on a single pair.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Sizer provides the USD trade size for a lane.
type Sizer interface {
	CalculateTradeSize(lane types.Lane) decimal.Decimal
}

// PriceSource provides USD reference prices for sizing conversion.
type PriceSource interface {
	Price(symbol string) (decimal.Decimal, bool)
}

// Quoter fetches firm aggregator quotes.
type Quoter interface {
	GetQuote(ctx context.Context, src, dest registry.Token, amount *big.Int, chainID int64) (*quote.Quote, error)
}

type Scanner struct {
	cfg      *config.Config
	registry *registry.Registry
	sizer    Sizer
	prices   PriceSource
	quoter   Quoter
}

func New(cfg *config.Config, reg *registry.Registry, sizer Sizer, prices PriceSource, quoter Quoter) *Scanner {
	return &Scanner{
		cfg:      cfg,
		registry: reg,
		sizer:    sizer,
		prices:   prices,
		quoter:   quoter,
	}
}

// Scan evaluates all configured pairs and returns viable opportunities
// sorted by expected PnL, best first.
func (s *Scanner) Scan(ctx context.Context) []types.Opportunity {
	var opps []types.Opportunity

	for _, pair := range s.cfg.Pairs {
		opp, ok := s.evaluate(ctx, pair)
		if ok {
			opps = append(opps, opp)
		}
	}

	sort.SliceStable(opps, func(i, j int) bool {
		return opps[i].ExpectedPnlPct.GreaterThan(opps[j].ExpectedPnlPct)
	})

	metrics.ScanOpportunities.Set(float64(len(opps)))
	if len(opps) > 0 {
		log.Debug().Int("count", len(opps)).
			Str("best_pct", opps[0].ExpectedPnlPct.StringFixed(3)).
			Msg("🔍 Scan complete")
	}
	return opps
}

func (s *Scanner) evaluate(ctx context.Context, pair types.Pair) (types.Opportunity, bool) {
	src, err := s.registry.Resolve(pair.SrcSymbol, pair.ChainID)
	if err != nil {
		log.Warn().Err(err).Msg("Pair skipped: unknown src token")
		return types.Opportunity{}, false
	}
	dest, err := s.registry.Resolve(pair.DestSymbol, pair.ChainID)
	if err != nil {
		log.Warn().Err(err).Msg("Pair skipped: unknown dest token")
		return types.Opportunity{}, false
	}

	sizeUsd := s.sizer.CalculateTradeSize(pair.Lane)
	amount, ok := s.baseUnits(sizeUsd, src)
	if !ok {
		return types.Opportunity{}, false
	}

	q, err := s.quoter.GetQuote(ctx, src, dest, amount, pair.ChainID)
	if err != nil {
		log.Debug().Err(err).
			Str("pair", pair.SrcSymbol+"/"+pair.DestSymbol).
			Int64("chain", pair.ChainID).
			Msg("Quote failed, pair skipped")
		return types.Opportunity{}, false
	}
	if q.SrcUSD.LessThanOrEqual(decimal.Zero) {
		return types.Opportunity{}, false
	}

	hundred := decimal.NewFromInt(100)
	grossEdgePct := q.DestUSD.Sub(q.SrcUSD).Div(q.SrcUSD).Mul(hundred)
	gasPct := q.GasCostUSD.Div(q.SrcUSD).Mul(hundred)
	expectedPct := grossEdgePct.
		Sub(gasPct).
		Sub(s.cfg.SlippagePct).
		Sub(s.cfg.MevMarginPct).
		Sub(s.cfg.FailureBufferPct)

	minEdge := s.cfg.LaneFor(pair.Lane).MinEdgePct
	if expectedPct.LessThan(minEdge) {
		return types.Opportunity{}, false
	}

	log.Info().
		Str("pair", pair.SrcSymbol+"/"+pair.DestSymbol).
		Int64("chain", pair.ChainID).
		Str("lane", string(pair.Lane)).
		Str("size_usd", sizeUsd.StringFixed(2)).
		Str("expected_pct", expectedPct.StringFixed(3)).
		Msg("💡 Opportunity found")

	return types.Opportunity{
		Lane:           pair.Lane,
		ChainID:        pair.ChainID,
		SrcSymbol:      pair.SrcSymbol,
		DestSymbol:     pair.DestSymbol,
		AmountBase:     amount,
		NotionalUsd:    q.SrcUSD,
		ExpectedPnlPct: expectedPct,
		QuotePayload:   q.PriceRoute,
	}, true
}

// baseUnits converts a USD size into src token base units using the
// reference price. A missing or stale price skips the pair.
func (s *Scanner) baseUnits(sizeUsd decimal.Decimal, src registry.Token) (*big.Int, bool) {
	price, ok := s.prices.Price(src.Symbol)
	if !ok {
		log.Warn().Str("symbol", src.Symbol).Msg("No reference price, pair skipped")
		return nil, false
	}
	amount := sizeUsd.Div(price).Shift(src.Decimals).Truncate(0).BigInt()
	if amount.Sign() <= 0 {
		return nil, false
	}
	return amount, true
}
