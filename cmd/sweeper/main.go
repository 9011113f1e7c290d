package main

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/altgrid/sweeper/internal/bot"
	"github.com/altgrid/sweeper/internal/chain"
	"github.com/altgrid/sweeper/internal/config"
	"github.com/altgrid/sweeper/internal/cooldown"
	"github.com/altgrid/sweeper/internal/executor"
	"github.com/altgrid/sweeper/internal/feeds"
	"github.com/altgrid/sweeper/internal/inventory"
	"github.com/altgrid/sweeper/internal/quote"
	"github.com/altgrid/sweeper/internal/registry"
	"github.com/altgrid/sweeper/internal/risk"
	"github.com/altgrid/sweeper/internal/scanner"
	"github.com/altgrid/sweeper/internal/settle"
	"github.com/altgrid/sweeper/internal/storage"
)

func main() {
	godotenv.Load()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Configuration invalid")
	}
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	log.Info().
		Bool("dry_run", cfg.DryRun).
		Int("pairs", len(cfg.Pairs)).
		Int("chains", len(cfg.RPCEndpoints)).
		Msg("🚀 Sweeper starting")

	var key *ecdsa.PrivateKey
	if cfg.WalletPrivateKey != "" {
		key, err = crypto.HexToECDSA(strings.TrimPrefix(cfg.WalletPrivateKey, "0x"))
		if err != nil {
			log.Warn().Err(err).Msg("Private key invalid, running without signing")
			key = nil
		}
	} else {
		log.Warn().Msg("No private key configured, running without signing")
	}

	gasReserve, ok := new(big.Int).SetString(cfg.GasReserveWei, 10)
	if !ok {
		log.Fatal().Str("value", cfg.GasReserveWei).Msg("GAS_RESERVE_WEI is not a valid integer")
	}

	reg := registry.New()
	dialer := chain.NewDialer(cfg.RPCEndpoints, key, cfg.GasLimitMultiple)
	quotes := quote.NewClient(cfg.AggregatorURL)
	store := cooldown.NewMemoryStore()

	feed := feeds.NewReferenceFeed(pairSymbols(cfg))
	feed.Start()

	engine := settle.NewEngine(settle.Config{
		PrivateKeyHex:   cfg.WalletPrivateKey,
		ExpectedAddress: cfg.TradingAddress,
		CooldownTTL:     cfg.CooldownTTL,
		GasReserveWei:   gasReserve,
		MinStableUsd:    cfg.MinStableUsd,
		QuoteFloorUsd:   cfg.QuoteFloorUsd,
		SlippageBps:     cfg.SlippageBps,
		DryRun:          cfg.DryRun,
	}, reg, quotes, settle.DialerClients{Dialer: dialer}, store)

	server := settle.NewServer(cfg.ListenAddr, engine)

	journal, err := storage.Open(cfg.DatabaseURL, cfg.DatabasePath)
	if err != nil {
		log.Warn().Err(err).Msg("Journal unavailable, trades will not be persisted")
		journal = nil
	}

	inv := inventory.NewManager(cfg.BaseCapitalUsd, cfg.LaneA, cfg.LaneB, &walletBalances{
		dialer: dialer,
		reg:    reg,
		owner:  signerAddress(key),
	})
	guard := risk.NewGuard(risk.Config{
		BaseCapitalUsd:     cfg.BaseCapitalUsd,
		HistoryWindow:      cfg.HistoryWindow,
		DrawdownStopPct:    cfg.DrawdownStopPct,
		DrawdownCooldown:   cfg.DrawdownCooldown,
		LaneBFailureStreak: cfg.LaneBFailureStreak,
		LaneBCooldown:      cfg.LaneBCooldown,
	})

	exec := executor.New(engine, guard, inv, journal, signerAddress(key).Hex(), cfg.QueueCapacity)
	scan := scanner.New(cfg, reg, inv, feed, quotes)
	loop := bot.NewLoop(cfg.TickInterval, scan, guard, inv, exec)

	server.WithStatus(func() interface{} {
		globalStop, laneBStop := guard.Status()
		stats := inv.Stats()
		out := map[string]interface{}{
			"dryRun":          cfg.DryRun,
			"equityUsd":       stats.TotalUsd.Add(stats.RealizedPnl).StringFixed(2),
			"realizedPnlUsd":  stats.RealizedPnl.StringFixed(2),
			"globalStopUntil": globalStop,
			"laneBStopUntil":  laneBStop,
		}
		if journal != nil {
			if rows, err := journal.RecentTrades(10); err == nil {
				out["recentTrades"] = rows
			}
		}
		return out
	})
	go func() {
		if err := server.Start(); err != nil {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	loop.Start(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("Shutting down")

	cancel()
	loop.Stop()
	exec.Stop()
	feed.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP shutdown incomplete")
	}
	log.Info().Msg("👋 Sweeper stopped")
}

// pairSymbols collects every symbol the configured pairs touch, for the
// reference feed subscription.
func pairSymbols(cfg *config.Config) []string {
	seen := make(map[string]bool)
	var symbols []string
	for _, p := range cfg.Pairs {
		for _, s := range []string{p.SrcSymbol, p.DestSymbol} {
			if !seen[s] {
				seen[s] = true
				symbols = append(symbols, s)
			}
		}
	}
	return symbols
}

func signerAddress(key *ecdsa.PrivateKey) common.Address {
	if key == nil {
		return common.Address{}
	}
	return crypto.PubkeyToAddress(key.PublicKey)
}

// walletBalances reads live wallet balances through the chain dialer.
type walletBalances struct {
	dialer *chain.Dialer
	reg    *registry.Registry
	owner  common.Address
}

func (w *walletBalances) Balance(ctx context.Context, chainID int64, symbol string) (*big.Int, error) {
	token, err := w.reg.Resolve(symbol, chainID)
	if err != nil {
		return nil, err
	}
	client, err := w.dialer.Client(ctx, chainID)
	if err != nil {
		return nil, err
	}
	if token.Native {
		return client.NativeBalance(ctx, w.owner)
	}
	return client.TokenBalance(ctx, token.Address, w.owner)
}
