package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// CHAIN CLIENT - Balances, allowances, transaction submission
// ═══════════════════════════════════════════════════════════════════════════════
//
// ERC-20 reads go through raw eth_call calldata rather than generated
// bindings; the three selectors below are the only contract surface we
// touch.
//
// ═══════════════════════════════════════════════════════════════════════════════

var (
	selBalanceOf = common.Hex2Bytes("70a08231") // balanceOf(address)
	selAllowance = common.Hex2Bytes("dd62ed3e") // allowance(address,address)
	selApprove   = common.Hex2Bytes("095ea7b3") // approve(address,uint256)

	// MaxApproval is the unlimited ERC-20 allowance (2^256-1).
	MaxApproval = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

const (
	callTimeout    = 10 * time.Second
	receiptTimeout = 2 * time.Minute
	receiptPoll    = 3 * time.Second
)

// Client wraps one chain's RPC endpoint with a shared signing key.
type Client struct {
	chainID    *big.Int
	eth        *ethclient.Client
	privateKey *ecdsa.PrivateKey
	from       common.Address
	gasMult    decimal.Decimal
}

// Dialer hands out cached per-chain clients.
type Dialer struct {
	mu        sync.Mutex
	endpoints map[int64]string
	clients   map[int64]*Client
	key       *ecdsa.PrivateKey
	gasMult   decimal.Decimal
}

// NewDialer creates a dialer over the configured RPC endpoints.
func NewDialer(endpoints map[int64]string, key *ecdsa.PrivateKey, gasMult decimal.Decimal) *Dialer {
	return &Dialer{
		endpoints: endpoints,
		clients:   make(map[int64]*Client),
		key:       key,
		gasMult:   gasMult,
	}
}

// HasEndpoint reports whether an RPC endpoint is configured for the chain.
func (d *Dialer) HasEndpoint(chainID int64) bool {
	_, ok := d.endpoints[chainID]
	return ok
}

// Client returns a cached client for the chain, dialing on first use.
func (d *Dialer) Client(ctx context.Context, chainID int64) (*Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if c, ok := d.clients[chainID]; ok {
		return c, nil
	}
	endpoint, ok := d.endpoints[chainID]
	if !ok {
		return nil, fmt.Errorf("no RPC endpoint configured for chain %d", chainID)
	}
	eth, err := ethclient.DialContext(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("dial chain %d: %w", chainID, err)
	}
	c := &Client{
		chainID:    big.NewInt(chainID),
		eth:        eth,
		privateKey: d.key,
		gasMult:    d.gasMult,
	}
	if d.key != nil {
		c.from = crypto.PubkeyToAddress(d.key.PublicKey)
	}
	d.clients[chainID] = c
	log.Info().Int64("chain", chainID).Msg("⛓️ Chain client connected")
	return c, nil
}

// From returns the signing address.
func (c *Client) From() common.Address { return c.from }

// NativeBalance reads the native asset balance.
func (c *Client) NativeBalance(ctx context.Context, addr common.Address) (*big.Int, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	return c.eth.BalanceAt(ctx, addr, nil)
}

// TokenBalance reads an ERC-20 balance via eth_call.
func (c *Client) TokenBalance(ctx context.Context, token, addr common.Address) (*big.Int, error) {
	data := append(append([]byte{}, selBalanceOf...), common.LeftPadBytes(addr.Bytes(), 32)...)
	out, err := c.call(ctx, token, data)
	if err != nil {
		return nil, fmt.Errorf("balanceOf: %w", err)
	}
	return new(big.Int).SetBytes(out), nil
}

// Allowance reads the ERC-20 allowance granted by owner to spender.
func (c *Client) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	data := append(append([]byte{}, selAllowance...), common.LeftPadBytes(owner.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(spender.Bytes(), 32)...)
	out, err := c.call(ctx, token, data)
	if err != nil {
		return nil, fmt.Errorf("allowance: %w", err)
	}
	return new(big.Int).SetBytes(out), nil
}

// Approve submits an ERC-20 approval and waits for the receipt.
func (c *Client) Approve(ctx context.Context, token, spender common.Address, amount *big.Int) (string, error) {
	data := append(append([]byte{}, selApprove...), common.LeftPadBytes(spender.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(amount.Bytes(), 32)...)

	tx, err := c.signAndSend(ctx, token, big.NewInt(0), data, 0, nil)
	if err != nil {
		return "", err
	}
	log.Info().
		Str("tx", tx.Hash().Hex()).
		Str("token", token.Hex()).
		Str("spender", spender.Hex()).
		Msg("📝 Approval submitted, awaiting confirmation")

	receipt, err := c.waitMined(ctx, tx.Hash())
	if err != nil {
		return tx.Hash().Hex(), fmt.Errorf("approval not confirmed: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return tx.Hash().Hex(), fmt.Errorf("approval reverted: %s", tx.Hash().Hex())
	}
	return tx.Hash().Hex(), nil
}

// SendSwap submits prepared calldata with a gas-limit multiplier over
// the estimate and returns the transaction hash.
func (c *Client) SendSwap(ctx context.Context, to common.Address, value *big.Int, data []byte, gasHint uint64, gasPrice *big.Int) (string, error) {
	tx, err := c.signAndSend(ctx, to, value, data, gasHint, gasPrice)
	if err != nil {
		return "", err
	}
	return tx.Hash().Hex(), nil
}

func (c *Client) signAndSend(ctx context.Context, to common.Address, value *big.Int, data []byte, gasHint uint64, gasPrice *big.Int) (*types.Transaction, error) {
	if c.privateKey == nil {
		return nil, fmt.Errorf("no signing key loaded")
	}
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	nonce, err := c.eth.PendingNonceAt(ctx, c.from)
	if err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	if gasPrice == nil {
		gasPrice, err = c.eth.SuggestGasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("gas price: %w", err)
		}
	}

	gas := gasHint
	if gas == 0 {
		gas, err = c.eth.EstimateGas(ctx, ethereum.CallMsg{
			From:  c.from,
			To:    &to,
			Value: value,
			Data:  data,
		})
		if err != nil {
			return nil, fmt.Errorf("gas estimate: %w", err)
		}
	}
	gas = c.padGas(gas)

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.privateKey)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}
	return signed, nil
}

// padGas applies the configured multiplier (e.g. 1.5x) to reduce
// out-of-gas failures under congestion.
func (c *Client) padGas(gas uint64) uint64 {
	padded := decimal.NewFromInt(int64(gas)).Mul(c.gasMult)
	return uint64(padded.IntPart())
}

func (c *Client) call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	return c.eth.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
}

func (c *Client) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, receiptTimeout)
	defer cancel()

	ticker := time.NewTicker(receiptPoll)
	defer ticker.Stop()
	for {
		receipt, err := c.eth.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
