package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"

	"vaultguard/native/pipeline"
)

// Method selectors for the read-only contract calls the client issues.
var (
	selAllowance    = []byte{0xdd, 0x62, 0xed, 0x3e} // allowance(address,address)
	selProxies      = []byte{0xc4, 0x55, 0x27, 0x91} // proxies(address)
	selLatestAnswer = []byte{0x50, 0xd2, 0x5b, 0xcd} // latestAnswer()
)

// Config wires the client to a JSON-RPC node and the contracts it reads.
type Config struct {
	RPCURL        string
	ProxyRegistry common.Address
	Tokens        map[string]common.Address
	PriceFeeds    map[string]common.Address
	PriceDecimals int
}

// Client reads allowances, proxies and prices from an Ethereum node. It
// implements the pipeline's read-only capabilities.
type Client struct {
	eth           *ethclient.Client
	proxyRegistry common.Address
	tokens        map[string]common.Address
	feeds         map[string]common.Address
	priceScale    *big.Int
}

// Dial connects to the configured node.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.RPCURL) == "" {
		return nil, fmt.Errorf("chain: rpc url required")
	}
	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", cfg.RPCURL, err)
	}
	decimals := cfg.PriceDecimals
	if decimals <= 0 {
		decimals = 8
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	return &Client{
		eth:           eth,
		proxyRegistry: cfg.ProxyRegistry,
		tokens:        cfg.Tokens,
		feeds:         cfg.PriceFeeds,
		priceScale:    scale,
	}, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	if c != nil && c.eth != nil {
		c.eth.Close()
	}
}

// MarketPrice reads the oracle feed for token. Feeds expose no scheduled
// next tick, so the current answer is reported for both values.
func (c *Client) MarketPrice(ctx context.Context, token string) (pipeline.PriceQuote, error) {
	feed, ok := c.feeds[token]
	if !ok {
		return pipeline.PriceQuote{}, fmt.Errorf("chain: no price feed for %s", token)
	}
	raw, err := c.call(ctx, feed, selLatestAnswer)
	if err != nil {
		return pipeline.PriceQuote{}, fmt.Errorf("chain: latest answer for %s: %w", token, err)
	}
	answer := new(big.Int).SetBytes(raw)
	price := new(big.Rat).SetFrac(answer, c.priceScale)
	return pipeline.PriceQuote{
		Current: price,
		Next:    new(big.Rat).Set(price),
	}, nil
}

// ProxyAddress resolves the owner's execution proxy from the registry.
func (c *Client) ProxyAddress(ctx context.Context, owner common.Address) (common.Address, bool, error) {
	if c.proxyRegistry == (common.Address{}) {
		return common.Address{}, false, fmt.Errorf("chain: proxy registry not configured")
	}
	raw, err := c.call(ctx, c.proxyRegistry, append(selProxies, pad(owner)...))
	if err != nil {
		return common.Address{}, false, fmt.Errorf("chain: proxy lookup: %w", err)
	}
	proxy := wordToAddress(raw)
	return proxy, proxy != (common.Address{}), nil
}

// Allowance reads the ERC-20 allowance granted by owner to spender.
func (c *Client) Allowance(ctx context.Context, token string, owner, spender common.Address) (*uint256.Int, error) {
	contract, ok := c.tokens[token]
	if !ok {
		return nil, fmt.Errorf("chain: no token address for %s", token)
	}
	data := append(append(append([]byte{}, selAllowance...), pad(owner)...), pad(spender)...)
	raw, err := c.call(ctx, contract, data)
	if err != nil {
		return nil, fmt.Errorf("chain: allowance for %s: %w", token, err)
	}
	amount, overflow := uint256.FromBig(new(big.Int).SetBytes(raw))
	if overflow {
		return nil, fmt.Errorf("chain: allowance overflows uint256")
	}
	return amount, nil
}

func (c *Client) call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	return c.eth.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
}

func pad(addr common.Address) []byte {
	return common.LeftPadBytes(addr.Bytes(), 32)
}

func wordToAddress(raw []byte) common.Address {
	if len(raw) < common.AddressLength {
		return common.Address{}
	}
	return common.BytesToAddress(raw[len(raw)-common.AddressLength:])
}
