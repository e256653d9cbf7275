// Package bitcoin implements the currency contract for Bitcoin and Litecoin
// using P2PKH accounts and an Esplora compatible REST service.
package bitcoin

import (
	"context"
	"time"

	"github.com/btcsuite/btcd/chaincfg"

	"kelvin-core/pkg/address"
	"kelvin-core/pkg/cache"
	"kelvin-core/pkg/currency"
	"kelvin-core/pkg/device/wire"
	"kelvin-core/pkg/errno"
	"kelvin-core/pkg/monitor"
	"kelvin-core/pkg/restclient"
)

const (
	decimals      = 8
	confirmations = 6
)

// Network binds a chain to its Esplora endpoint.
type Network struct {
	Name     string
	Params   *chaincfg.Params
	CoinType uint32
	API      string
	Explorer string
}

type Options struct {
	API      map[string]string // network -> Esplora base url override
	Timeout  time.Duration
	Cache    cache.Cache
	CacheTTL time.Duration
}

// Currency implements currency.Currency for one bitcoin-like chain.
type Currency struct {
	name     string
	symbol   string
	family   byte
	unit     currency.Unit
	networks []Network
	clients  map[string]*restclient.Client
	opts     Options
}

var _ currency.Currency = (*Currency)(nil)

func NewBitcoin(opts Options) *Currency {
	return newCurrency("btc", "BTC", wire.FamilyBitcoin, []Network{
		{Name: "mainnet", Params: &chaincfg.MainNetParams, CoinType: 0, API: "https://blockstream.info/api", Explorer: "https://blockstream.info"},
		{Name: "testnet", Params: &chaincfg.TestNet3Params, CoinType: 1, API: "https://blockstream.info/testnet/api", Explorer: "https://blockstream.info/testnet"},
	}, opts)
}

func NewLitecoin(opts Options) *Currency {
	return newCurrency("ltc", "LTC", wire.FamilyLitecoin, []Network{
		{Name: "mainnet", Params: &address.LitecoinMainNetParams, CoinType: 2, API: "https://litecoinspace.org/api", Explorer: "https://litecoinspace.org"},
		{Name: "testnet", Params: &address.LitecoinTestNetParams, CoinType: 1, API: "https://litecoinspace.org/testnet/api", Explorer: "https://litecoinspace.org/testnet"},
	}, opts)
}

func newCurrency(name, symbol string, family byte, networks []Network, opts Options) *Currency {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 30 * time.Second
	}
	clients := make(map[string]*restclient.Client, len(networks))
	for i := range networks {
		if url := opts.API[networks[i].Name]; url != "" {
			networks[i].API = url
		}
		clients[networks[i].Name] = restclient.New(networks[i].API, opts.Timeout)
	}
	return &Currency{
		name:     name,
		symbol:   symbol,
		family:   family,
		unit:     currency.Unit{Decimals: decimals},
		networks: networks,
		clients:  clients,
		opts:     opts,
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

// get runs a GET against the network's Esplora service with the configured timeout.
func (c *Currency) get(ctx context.Context, n Network, op, path string, out interface{}) (err error) {
	start := time.Now()
	defer func() { monitor.ObserveNetworkCall(c.name, op, start, err) }()

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()
	return c.clients[n.Name].GetJSON(ctx, path, out)
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
		ct[n.Name] = n.CoinType
	}
	return currency.Extras{
		Symbol:        c.symbol,
		Decimals:      decimals,
		CoinType:      ct,
		Confirmations: confirmations,
	}
}
