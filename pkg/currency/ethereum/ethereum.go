// Package ethereum implements the currency contract for ether and for one
// ERC-20 token on the same networks.
package ethereum

import (
	"context"
	"math/big"
	"sync"
	"time"

	geth "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"kelvin-core/pkg/cache"
	"kelvin-core/pkg/currency"
	"kelvin-core/pkg/errno"
	"kelvin-core/pkg/monitor"
	"kelvin-core/pkg/restclient"
)

const (
	coinType      = 60
	etherDecimals = 18
	gweiDecimals  = 9
	confirmations = 12
)

// Backend is the subset of ethclient.Client the currency needs.
type Backend interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg geth.CallMsg) (uint64, error)
	CallContract(ctx context.Context, msg geth.CallMsg, blockNumber *big.Int) ([]byte, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// DialFunc connects to a JSON-RPC endpoint.
type DialFunc func(ctx context.Context, url string) (Backend, error)

// Network describes one Ethereum chain.
type Network struct {
	Name     string
	ChainID  *big.Int
	RPC      string
	Explorer string
}

var defaultNetworks = []Network{
	{Name: "mainnet", ChainID: big.NewInt(1), RPC: "https://cloudflare-eth.com", Explorer: "https://etherscan.io"},
	{Name: "sepolia", ChainID: big.NewInt(11155111), RPC: "https://rpc.sepolia.org", Explorer: "https://sepolia.etherscan.io"},
	{Name: "holesky", ChainID: big.NewInt(17000), RPC: "https://ethereum-holesky-rpc.publicnode.com", Explorer: "https://holesky.etherscan.io"},
}

// Token selects ERC-20 mode.
type Token struct {
	Symbol    string
	Decimals  int32
	Contracts map[string]string // network -> contract address
}

type Options struct {
	RPC      map[string]string // network -> JSON-RPC url override
	APIURL   string            // Etherscan v2 API
	APIKey   string
	Timeout  time.Duration
	Cache    cache.Cache
	CacheTTL time.Duration
	Dial     DialFunc
}

// Currency implements currency.Currency and currency.HashSigner.
type Currency struct {
	name     string
	symbol   string
	unit     currency.Unit
	networks []Network
	token    *Token
	opts     Options
	api      *restclient.Client

	mu       sync.Mutex
	backends map[string]Backend
}

var (
	_ currency.Currency   = (*Currency)(nil)
	_ currency.HashSigner = (*Currency)(nil)
)

// NewEther returns the "eth" currency.
func NewEther(opts Options) *Currency {
	return newCurrency("eth", "ETH", etherDecimals, nil, opts)
}

// NewERC20 returns a token currency available on the networks listed in
// token.Contracts.
func NewERC20(token Token, opts Options) *Currency {
	return newCurrency("erc20", token.Symbol, token.Decimals, &token, opts)
}

func newCurrency(name, symbol string, decimals int32, token *Token, opts Options) *Currency {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 30 * time.Second
	}
	if opts.Dial == nil {
		opts.Dial = func(ctx context.Context, url string) (Backend, error) {
			return ethclient.DialContext(ctx, url)
		}
	}
	if opts.APIURL == "" {
		opts.APIURL = "https://api.etherscan.io/v2/api"
	}

	var networks []Network
	for _, n := range defaultNetworks {
		if token != nil && token.Contracts[n.Name] == "" {
			continue
		}
		if url := opts.RPC[n.Name]; url != "" {
			n.RPC = url
		}
		networks = append(networks, n)
	}

	return &Currency{
		name:     name,
		symbol:   symbol,
		unit:     currency.Unit{Decimals: decimals},
		networks: networks,
		token:    token,
		opts:     opts,
		api:      restclient.New(opts.APIURL, opts.Timeout),
		backends: make(map[string]Backend),
	}
}

func (c *Currency) Networks() []string {
	names := make([]string, len(c.networks))
	for i, n := range c.networks {
		names[i] = n.Name
	}
	return names
}

func (c *Currency) network(name string) (Network, error) {
	for _, n := range c.networks {
		if n.Name == name {
			return n, nil
		}
	}
	return Network{}, errno.ErrInvalidNetwork.New("%q is not a %s network", name, c.name)
}

// backend dials lazily and keeps one client per network.
func (c *Currency) backend(ctx context.Context, n Network) (Backend, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.backends[n.Name]; ok {
		return b, nil
	}
	b, err := c.opts.Dial(ctx, n.RPC)
	if err != nil {
		return nil, errno.ErrNetwork.Wrap(err, "dial %s", n.RPC)
	}
	c.backends[n.Name] = b
	return b, nil
}

// call runs fn against the network backend with the configured timeout.
func (c *Currency) call(ctx context.Context, n Network, op string, fn func(context.Context, Backend) error) (err error) {
	start := time.Now()
	defer func() { monitor.ObserveNetworkCall(c.name, op, start, err) }()

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()
	b, err := c.backend(ctx, n)
	if err != nil {
		return err
	}
	return fn(ctx, b)
}

func (c *Currency) IsValidAmount(amount string) bool {
	return c.unit.IsValidNormal(amount)
}

func (c *Currency) NormalToBase(amount string) (string, error) {
	return c.unit.NormalToBase(amount)
}

func (c *Currency) BaseToNormal(amount string) (string, error) {
	return c.unit.BaseToNormal(amount)
}

func (c *Currency) Extras() currency.Extras {
	ct := make(map[string]uint32, len(c.networks))
	for _, n := range c.networks {
		ct[n.Name] = coinType
	}
	e := currency.Extras{
		Symbol:        c.symbol,
		Decimals:      c.unit.Decimals,
		CoinType:      ct,
		Confirmations: confirmations,
	}
	if c.token != nil {
		e.Contracts = c.token.Contracts
	}
	return e
}

func (c *Currency) contract(network string) common.Address {
	return common.HexToAddress(c.token.Contracts[network])
}
