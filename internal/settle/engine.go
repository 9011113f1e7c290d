package settle

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/altgrid/sweeper/internal/cooldown"
	"github.com/altgrid/sweeper/internal/metrics"
	"github.com/altgrid/sweeper/internal/quote"
	"github.com/altgrid/sweeper/internal/registry"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SETTLEMENT ENGINE - Single-trade execution pipeline
// ═══════════════════════════════════════════════════════════════════════════════
//
// Pipeline, each step short-circuiting with a structured failure:
//   cooldown → validate → parse amount → credentials → reconcile balance
//   → quote → allowance → build → submit
//
// Callers always get a typed Result; the engine never panics outward
// and never throws.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Request is a single trade to settle.
type Request struct {
	ChainID     int64  `json:"chainId"`
	SrcSymbol   string `json:"srcSymbol"`
	DestSymbol  string `json:"destSymbol"`
	AmountWei   string `json:"amountWei"`
	FromAddress string `json:"fromAddress"`

	// Optional risk controls. SlippageBps and DestAmountWei are mutually
	// exclusive; when both are zero the engine's default slippage applies.
	SlippageBps   int64  `json:"slippageBps,omitempty"`
	DestAmountWei string `json:"destAmountWei,omitempty"`
}

// Result is the structured settlement outcome.
type Result struct {
	OK        bool      `json:"ok"`
	TxHash    string    `json:"txHash,omitempty"`
	Error     string    `json:"error,omitempty"`
	ErrorCode ErrorCode `json:"errorCode,omitempty"`

	// SubmittedWei is the final amount after reconciliation, for callers
	// that need to account for clipping. Not serialized.
	SubmittedWei *big.Int `json:"-"`
}

func failure(code ErrorCode, msg string) Result {
	return Result{OK: false, Error: msg, ErrorCode: code}
}

// TokenRegistry resolves symbols to on-chain token entries.
type TokenRegistry interface {
	Resolve(symbol string, chainID int64) (registry.Token, error)
	IsSupportedChain(chainID int64) bool
}

// Quoter obtains firm quotes and swap calldata from the aggregator.
type Quoter interface {
	GetQuote(ctx context.Context, src, dest registry.Token, amount *big.Int, chainID int64) (*quote.Quote, error)
	Build(ctx context.Context, req quote.BuildRequest) (*quote.BuildResult, error)
}

// ChainClient is one chain's read/write surface.
type ChainClient interface {
	From() common.Address
	NativeBalance(ctx context.Context, addr common.Address) (*big.Int, error)
	TokenBalance(ctx context.Context, token, addr common.Address) (*big.Int, error)
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	Approve(ctx context.Context, token, spender common.Address, amount *big.Int) (string, error)
	SendSwap(ctx context.Context, to common.Address, value *big.Int, data []byte, gasHint uint64, gasPrice *big.Int) (string, error)
}

// ChainClients hands out per-chain clients.
type ChainClients interface {
	HasEndpoint(chainID int64) bool
	Client(ctx context.Context, chainID int64) (ChainClient, error)
}

// Config is the engine's static configuration.
type Config struct {
	PrivateKeyHex   string
	ExpectedAddress string
	CooldownTTL     time.Duration
	GasReserveWei   *big.Int
	MinStableUsd    decimal.Decimal
	QuoteFloorUsd   decimal.Decimal
	SlippageBps     int64
	DryRun          bool
}

// retryPolicy governs the build-step retry. Relaxed parameters on the
// second attempt mirror the aggregator's ignoreChecks escape hatch.
type retryPolicy struct {
	maxAttempts    int
	backoff        time.Duration
	relaxedOnRetry bool
}

// Engine validates and executes one trade at a time. It holds no
// per-chain ordering state; serialization is the Executor's job.
type Engine struct {
	cfg      Config
	registry TokenRegistry
	quotes   Quoter
	clients  ChainClients
	store    cooldown.Store
	local    cooldown.Store // in-process fallback layer, same TTL
	retry    retryPolicy

	privateKey *ecdsa.PrivateKey
	signerAddr common.Address
	keyErr     error
}

// NewEngine creates a settlement engine. An invalid or missing key is
// not fatal here: it surfaces as a configuration error per settlement,
// so the HTTP surface can still answer with a typed code.
func NewEngine(cfg Config, reg TokenRegistry, quotes Quoter, clients ChainClients, store cooldown.Store) *Engine {
	e := &Engine{
		cfg:      cfg,
		registry: reg,
		quotes:   quotes,
		clients:  clients,
		store:    store,
		local:    cooldown.NewMemoryStore(),
		retry: retryPolicy{
			maxAttempts:    2,
			backoff:        500 * time.Millisecond,
			relaxedOnRetry: true,
		},
	}
	if cfg.PrivateKeyHex != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKeyHex, "0x"))
		if err != nil {
			e.keyErr = fmt.Errorf("invalid private key: %w", err)
		} else {
			e.privateKey = key
			e.signerAddr = crypto.PubkeyToAddress(key.PublicKey)
		}
	}
	return e
}

// SignerAddress returns the address derived from the configured key.
func (e *Engine) SignerAddress() common.Address { return e.signerAddr }

// Settle runs the full pipeline for one request.
func (e *Engine) Settle(ctx context.Context, req Request) (res Result) {
	started := time.Now()
	defer func() {
		metrics.SettlementSeconds.Observe(time.Since(started).Seconds())
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Settlement panic recovered")
			res = failure(CodeInternal, "internal error")
		}
	}()

	// 1. Cooldown guard: both layers must pass. Local first so a store
	// outage cannot bypass dedup entirely.
	key := cooldown.Key(req.FromAddress, req.ChainID, req.SrcSymbol, req.DestSymbol)
	if ok, err := e.local.SetIfAbsent(ctx, key, e.cfg.CooldownTTL); err != nil || !ok {
		metrics.CooldownHits.Inc()
		return failure(CodeCooldownActive, fmt.Sprintf("cooldown active for %s/%s on chain %d", req.SrcSymbol, req.DestSymbol, req.ChainID))
	}
	if ok, err := e.store.SetIfAbsent(ctx, key, e.cfg.CooldownTTL); err != nil {
		return failure(CodeCooldownActive, "cooldown store unavailable: "+truncateErr(err))
	} else if !ok {
		metrics.CooldownHits.Inc()
		return failure(CodeCooldownActive, fmt.Sprintf("cooldown active for %s/%s on chain %d", req.SrcSymbol, req.DestSymbol, req.ChainID))
	}

	// 2. Validation
	if !e.registry.IsSupportedChain(req.ChainID) {
		return failure(CodeUnsupportedChain, fmt.Sprintf("chain %d is not supported", req.ChainID))
	}
	src, err := e.registry.Resolve(req.SrcSymbol, req.ChainID)
	if err != nil {
		return failure(CodeInvalidPair, truncateErr(err))
	}
	dest, err := e.registry.Resolve(req.DestSymbol, req.ChainID)
	if err != nil {
		return failure(CodeInvalidPair, truncateErr(err))
	}
	if src.Address == dest.Address {
		return failure(CodeInvalidPair, "source and destination resolve to the same token")
	}
	if req.SlippageBps > 0 && req.DestAmountWei != "" {
		return failure(CodeConflictingLimits, "slippage and destination amount are mutually exclusive")
	}

	// 3. Amount parsing
	amount, ok := new(big.Int).SetString(req.AmountWei, 10)
	if !ok || amount.Sign() <= 0 {
		return failure(CodeInvalidAmount, fmt.Sprintf("invalid amount %q", req.AmountWei))
	}
	var destAmount *big.Int
	if req.DestAmountWei != "" {
		destAmount, ok = new(big.Int).SetString(req.DestAmountWei, 10)
		if !ok || destAmount.Sign() <= 0 {
			return failure(CodeInvalidAmount, fmt.Sprintf("invalid destination amount %q", req.DestAmountWei))
		}
	}

	// 4. Credential check: fail closed before touching the chain.
	if e.keyErr != nil {
		return failure(CodeNoSigningKey, truncateErr(e.keyErr))
	}
	if e.privateKey == nil {
		return failure(CodeNoSigningKey, "no signing key configured")
	}
	if !e.clients.HasEndpoint(req.ChainID) {
		return failure(CodeNoRPCEndpoint, fmt.Sprintf("no RPC endpoint configured for chain %d", req.ChainID))
	}
	if e.cfg.ExpectedAddress != "" &&
		common.HexToAddress(e.cfg.ExpectedAddress) != e.signerAddr {
		return failure(CodeAddressMismatch, fmt.Sprintf("signer %s does not match configured trading address", e.signerAddr.Hex()))
	}
	from := e.signerAddr
	if req.FromAddress != "" && common.HexToAddress(req.FromAddress) != from {
		return failure(CodeAddressMismatch, "request from-address does not match signer")
	}

	client, err := e.clients.Client(ctx, req.ChainID)
	if err != nil {
		return failure(CodeNoRPCEndpoint, truncateErr(err))
	}

	// 5. Balance reconciliation
	amount, recon := e.reconcileAmount(ctx, client, src, from, amount)
	if !recon.OK {
		return recon
	}

	// 6. Quote
	q, err := e.quotes.GetQuote(ctx, src, dest, amount, req.ChainID)
	if err != nil {
		return failure(CodeQuoteFailed, truncateErr(err))
	}
	if q.SrcUSD.LessThan(e.cfg.QuoteFloorUsd) {
		return failure(CodeQuoteTooSmall, fmt.Sprintf("quoted notional $%s below floor $%s", q.SrcUSD.StringFixed(2), e.cfg.QuoteFloorUsd.StringFixed(2)))
	}

	if e.cfg.DryRun {
		hash := fmt.Sprintf("DRY_%d", time.Now().UnixNano())
		log.Info().
			Str("pair", req.SrcSymbol+"/"+req.DestSymbol).
			Str("notional", q.SrcUSD.StringFixed(2)).
			Msg("📝 DRY RUN: swap would be submitted")
		return Result{OK: true, TxHash: hash, SubmittedWei: amount}
	}

	// 7. Allowance
	if !src.Native {
		if r := e.ensureAllowance(ctx, client, src, from, q.Spender, amount); !r.OK {
			return r
		}
	}

	// 8. Build (one relaxed retry on failure)
	slippage := req.SlippageBps
	if slippage == 0 && destAmount == nil {
		slippage = e.cfg.SlippageBps
	}
	build, err := e.buildWithRetry(ctx, quote.BuildRequest{
		ChainID:     req.ChainID,
		SrcToken:    src,
		DestToken:   dest,
		Amount:      amount,
		UserAddress: from,
		PriceRoute:  q.PriceRoute,
		SlippageBps: slippage,
		DestAmount:  destAmount,
	})
	if err != nil {
		return failure(CodeBuildFailed, truncateErr(err))
	}

	// 9. Submit
	txHash, err := client.SendSwap(ctx, build.To, build.Value, build.Data, build.Gas, build.GasPrice)
	if err != nil {
		return failure(CodeSubmitFailed, truncateErr(err))
	}

	log.Info().
		Str("tx", txHash).
		Str("pair", req.SrcSymbol+"/"+req.DestSymbol).
		Int64("chain", req.ChainID).
		Str("notional", q.SrcUSD.StringFixed(2)).
		Msg("✅ Swap submitted")

	return Result{OK: true, TxHash: txHash, SubmittedWei: amount}
}

// haircut is applied whenever a requested amount is clipped down, to
// absorb balance drift between check and execution.
var haircutNum = big.NewInt(995)
var haircutDen = big.NewInt(1000)

func applyHaircut(amount *big.Int) *big.Int {
	out := new(big.Int).Mul(amount, haircutNum)
	return out.Div(out, haircutDen)
}

// reconcileAmount caps the trade to what the wallet actually holds.
// Returns the (possibly clipped) amount, or a terminal failure Result.
func (e *Engine) reconcileAmount(ctx context.Context, client ChainClient, src registry.Token, from common.Address, amount *big.Int) (*big.Int, Result) {
	if src.Native {
		balance, err := client.NativeBalance(ctx, from)
		if err != nil {
			return nil, failure(CodeInsufficientNative, "native balance read failed: "+truncateErr(err))
		}
		tradable := new(big.Int).Sub(balance, e.cfg.GasReserveWei)
		if amount.Cmp(tradable) > 0 {
			if tradable.Sign() <= 0 {
				return nil, failure(CodeInsufficientNative, "balance does not cover the gas reserve")
			}
			clipped := applyHaircut(tradable)
			if clipped.Sign() <= 0 {
				return nil, failure(CodeInsufficientNative, "tradable native balance rounds to zero")
			}
			log.Debug().
				Str("requested", amount.String()).
				Str("clipped", clipped.String()).
				Msg("Native amount clipped to balance minus gas reserve")
			amount = clipped
		}
		return amount, Result{OK: true}
	}

	balance, err := client.TokenBalance(ctx, src.Address, from)
	if err != nil {
		return nil, failure(CodeInsufficientBalance, "token balance read failed: "+truncateErr(err))
	}
	if amount.Cmp(balance) > 0 {
		clipped := applyHaircut(balance)
		if clipped.Sign() <= 0 {
			return nil, failure(CodeInsufficientBalance, fmt.Sprintf("wallet holds no %s", src.Symbol))
		}
		log.Debug().
			Str("requested", amount.String()).
			Str("clipped", clipped.String()).
			Msg("Token amount clipped to wallet balance")
		amount = clipped
	}

	// Stable legs carry a minimum USD notional; bump up when the wallet
	// allows it, otherwise reject.
	if src.Stable {
		minBase := stableBaseUnits(e.cfg.MinStableUsd, src.Decimals)
		if amount.Cmp(minBase) < 0 {
			if balance.Cmp(minBase) >= 0 {
				log.Debug().
					Str("bumped_to", minBase.String()).
					Msg("Stable amount bumped to minimum notional")
				amount = minBase
			} else {
				return nil, failure(CodeBelowMinimum, fmt.Sprintf("amount below $%s minimum for %s", e.cfg.MinStableUsd.StringFixed(2), src.Symbol))
			}
		}
	}
	return amount, Result{OK: true}
}

// stableBaseUnits converts a USD amount to base units assuming a $1 peg.
func stableBaseUnits(usd decimal.Decimal, decimals int32) *big.Int {
	return usd.Shift(decimals).BigInt()
}

// ensureAllowance checks the aggregator proxy allowance and, when short,
// submits and awaits a max approval before proceeding.
func (e *Engine) ensureAllowance(ctx context.Context, client ChainClient, src registry.Token, owner, spender common.Address, amount *big.Int) Result {
	allowance, err := client.Allowance(ctx, src.Address, owner, spender)
	if err != nil {
		return failure(CodeApprovalFailed, "allowance read failed: "+truncateErr(err))
	}
	if allowance.Cmp(amount) >= 0 {
		return Result{OK: true}
	}

	log.Info().
		Str("token", src.Symbol).
		Str("spender", spender.Hex()).
		Msg("Allowance insufficient, approving")
	if _, err := client.Approve(ctx, src.Address, spender, new(big.Int).Set(maxApproval)); err != nil {
		return failure(CodeApprovalFailed, truncateErr(err))
	}
	return Result{OK: true}
}

// maxApproval is the unlimited ERC-20 allowance (2^256-1).
var maxApproval = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// buildWithRetry applies the retry policy to the aggregator build call.
func (e *Engine) buildWithRetry(ctx context.Context, req quote.BuildRequest) (*quote.BuildResult, error) {
	var lastErr error
	for attempt := 1; attempt <= e.retry.maxAttempts; attempt++ {
		if attempt > 1 {
			req.IgnoreChecks = e.retry.relaxedOnRetry
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(e.retry.backoff):
			}
			log.Debug().Int("attempt", attempt).Msg("Retrying build with relaxed checks")
		}
		build, err := e.quotes.Build(ctx, req)
		if err == nil {
			return build, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
