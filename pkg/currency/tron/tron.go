// Package tron implements the currency contract for TRX transfers through a
// TronGrid compatible HTTP API. TRX has no user-selectable fee.
package tron

import (
	"context"
	"time"

	"kelvin-core/pkg/address"
	"kelvin-core/pkg/currency"
	"kelvin-core/pkg/errno"
	"kelvin-core/pkg/monitor"
	"kelvin-core/pkg/restclient"
)

const (
	coinType = 195
	decimals = 6
)

type Network struct {
	Name     string
	API      string
	Explorer string
}

type Options struct {
	API     map[string]string // network -> TronGrid base url override
	APIKey  string
	Timeout time.Duration
}

type Currency struct {
	unit     currency.Unit
	networks []Network
	clients  map[string]*restclient.Client
	opts     Options
}

var _ currency.Currency = (*Currency)(nil)

func New(opts Options) *Currency {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	networks := []Network{
		{Name: "mainnet", API: "https://api.trongrid.io", Explorer: "https://tronscan.org/#"},
		{Name: "shasta", API: "https://api.shasta.trongrid.io", Explorer: "https://shasta.tronscan.org/#"},
		{Name: "nile", API: "https://nile.trongrid.io", Explorer: "https://nile.tronscan.org/#"},
	}
	clients := make(map[string]*restclient.Client, len(networks))
	for i := range networks {
		if url := opts.API[networks[i].Name]; url != "" {
			networks[i].API = url
		}
		clients[networks[i].Name] = restclient.New(networks[i].API, opts.Timeout).WithHeader("TRON-PRO-API-KEY", opts.APIKey)
	}
	return &Currency{
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
	return Network{}, errno.ErrInvalidNetwork.New("%q is not a trx network", name)
}

// call runs fn with the network client under the configured timeout.
func (c *Currency) call(ctx context.Context, n Network, op string, fn func(context.Context, *restclient.Client) error) (err error) {
	start := time.Now()
	defer func() { monitor.ObserveNetworkCall("trx", op, start, err) }()

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()
	return fn(ctx, c.clients[n.Name])
}

func (c *Currency) FeeUnit() (string, error) {
	return "", errno.ErrFeeNotApplicable.New("trx")
}

func (c *Currency) IsValidFeeOption(network, _ string) (bool, error) {
	if _, err := c.network(network); err != nil {
		return false, err
	}
	return false, errno.ErrFeeNotApplicable.New("trx")
}

// FeeOptions is always empty.
func (c *Currency) FeeOptions(_ context.Context, network string) ([]string, error) {
	if _, err := c.network(network); err != nil {
		return nil, err
	}
	return []string{}, nil
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

func (c *Currency) IsValidAddress(network, addr string) (bool, error) {
	if _, err := c.network(network); err != nil {
		return false, err
	}
	_, ok := address.DecodeTron(addr)
	return ok, nil
}

func parseAddress(addr string) ([]byte, error) {
	raw, ok := address.DecodeTron(addr)
	if !ok {
		return nil, errno.ErrInvalidAddress.New("%q is not a TRON address", addr)
	}
	return raw, nil
}

func (c *Currency) AddressURL(network, addr string) (string, error) {
	n, err := c.network(network)
	if err != nil {
		return "", err
	}
	if _, err := parseAddress(addr); err != nil {
		return "", err
	}
	return n.Explorer + "/address/" + addr, nil
}

func (c *Currency) TxURL(network, txid string) (string, error) {
	n, err := c.network(network)
	if err != nil {
		return "", err
	}
	if !txidPattern.MatchString(txid) {
		return "", errno.ErrInvalidArgument.New("%q is not a transaction id", txid)
	}
	return n.Explorer + "/transaction/" + txid, nil
}

func (c *Currency) DeriveAddress(network, pubkey string) (string, error) {
	if _, err := c.network(network); err != nil {
		return "", err
	}
	pub, err := currency.ParsePubkey(pubkey)
	if err != nil {
		return "", err
	}
	return address.NewTronGenerator().PubKeyToAddress(pub.SerializeUncompressed())
}

func (c *Currency) Extras() currency.Extras {
	ct := make(map[string]uint32, len(c.networks))
	for _, n := range c.networks {
		ct[n.Name] = coinType
	}
	return currency.Extras{Symbol: "TRX", Decimals: decimals, CoinType: ct, Confirmations: 19}
}
