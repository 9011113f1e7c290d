package feeds

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// REFERENCE PRICE FEED - Binance miniTicker stream
// ═══════════════════════════════════════════════════════════════════════════════
//
// Supplies USD mid prices the scanner uses to convert USD trade sizes
// into token base units. Stables short-circuit to $1; everything else
// rides a combined miniTicker WebSocket stream with auto-reconnect.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	binanceStreamURL = "wss://stream.binance.com:9443/stream?streams=%s"
	reconnectDelay   = 5 * time.Second
	staleAfter       = 30 * time.Second
)

// tickerStreams maps trading symbols to Binance stream tickers. Stables
// are intentionally absent: they resolve to $1 without a stream.
var tickerStreams = map[string]string{
	"WMATIC": "maticusdt",
	"POL":    "polusdt",
	"WETH":   "ethusdt",
	"ETH":    "ethusdt",
	"WBTC":   "btcusdt",
}

var stableSymbols = map[string]bool{
	"USDC": true,
	"USDT": true,
	"DAI":  true,
}

type pricePoint struct {
	price decimal.Decimal
	at    time.Time
}

// ReferenceFeed maintains live USD prices for a set of symbols.
type ReferenceFeed struct {
	mu sync.RWMutex

	streams []string
	bySym   map[string]string // trading symbol -> stream ticker
	prices  map[string]pricePoint

	running bool
	stopCh  chan struct{}
	conn    *websocket.Conn
}

// NewReferenceFeed creates a feed covering the given trading symbols.
// Unknown non-stable symbols are skipped with a warning; the scanner
// will then skip pairs that need them.
func NewReferenceFeed(symbols []string) *ReferenceFeed {
	f := &ReferenceFeed{
		bySym:  make(map[string]string),
		prices: make(map[string]pricePoint),
		stopCh: make(chan struct{}),
	}
	seen := make(map[string]bool)
	for _, sym := range symbols {
		sym = strings.ToUpper(sym)
		if stableSymbols[sym] {
			continue
		}
		stream, ok := tickerStreams[sym]
		if !ok {
			log.Warn().Str("symbol", sym).Msg("No reference stream for symbol")
			continue
		}
		f.bySym[sym] = stream
		if !seen[stream] {
			seen[stream] = true
			f.streams = append(f.streams, stream+"@miniTicker")
		}
	}
	return f
}

// Start connects and begins processing.
func (f *ReferenceFeed) Start() {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return
	}
	f.running = true
	f.mu.Unlock()

	if len(f.streams) == 0 {
		log.Info().Msg("Reference feed idle: only stable symbols configured")
		return
	}
	go f.connectionLoop()
	log.Info().Strs("streams", f.streams).Msg("📈 Reference price feed started")
}

// Stop closes the connection.
func (f *ReferenceFeed) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		return
	}
	f.running = false
	close(f.stopCh)
	if f.conn != nil {
		f.conn.Close()
	}
	log.Info().Msg("Reference feed stopped")
}

// Price returns the current USD price for a trading symbol. Stables
// always return $1. Returns false when no fresh price is available.
func (f *ReferenceFeed) Price(symbol string) (decimal.Decimal, bool) {
	symbol = strings.ToUpper(symbol)
	if stableSymbols[symbol] {
		return decimal.NewFromInt(1), true
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	stream, ok := f.bySym[symbol]
	if !ok {
		return decimal.Zero, false
	}
	p, ok := f.prices[stream]
	if !ok || time.Since(p.at) > staleAfter {
		return decimal.Zero, false
	}
	return p.price, true
}

func (f *ReferenceFeed) connectionLoop() {
	for {
		select {
		case <-f.stopCh:
			return
		default:
		}

		if err := f.connect(); err != nil {
			log.Warn().Err(err).Msg("Reference feed connect failed, retrying")
		}

		select {
		case <-f.stopCh:
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (f *ReferenceFeed) connect() error {
	url := fmt.Sprintf(binanceStreamURL, strings.Join(f.streams, "/"))
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()

	log.Info().Msg("📡 Reference feed connected")

	for {
		select {
		case <-f.stopCh:
			conn.Close()
			return nil
		default:
		}

		conn.SetReadDeadline(time.Now().Add(staleAfter))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			return fmt.Errorf("read: %w", err)
		}
		f.handleMessage(msg)
	}
}

func (f *ReferenceFeed) handleMessage(msg []byte) {
	var frame struct {
		Stream string `json:"stream"`
		Data   struct {
			Symbol string `json:"s"`
			Close  string `json:"c"`
		} `json:"data"`
	}
	if err := json.Unmarshal(msg, &frame); err != nil {
		return
	}
	price, err := decimal.NewFromString(frame.Data.Close)
	if err != nil || price.IsZero() {
		return
	}

	stream := strings.SplitN(frame.Stream, "@", 2)[0]
	f.mu.Lock()
	f.prices[stream] = pricePoint{price: price, at: time.Now()}
	f.mu.Unlock()
}
