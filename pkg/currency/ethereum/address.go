package ethereum

import (
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"kelvin-core/pkg/address"
	"kelvin-core/pkg/currency"
	"kelvin-core/pkg/errno"
)

var (
	addrPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	txidPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)
)

// validAddress accepts all-lowercase, all-uppercase or EIP-55 checksummed hex.
func validAddress(addr string) bool {
	if !addrPattern.MatchString(addr) {
		return false
	}
	body := addr[2:]
	if body == strings.ToLower(body) || body == strings.ToUpper(body) {
		return true
	}
	return address.ToChecksum(body) == body
}

func (c *Currency) IsValidAddress(network, addr string) (bool, error) {
	if _, err := c.network(network); err != nil {
		return false, err
	}
	return validAddress(addr), nil
}

func (c *Currency) parseAddress(addr string) (common.Address, error) {
	if !validAddress(addr) {
		return common.Address{}, errno.ErrInvalidAddress.New("%q", addr)
	}
	return common.HexToAddress(addr), nil
}

func (c *Currency) AddressURL(network, addr string) (string, error) {
	n, err := c.network(network)
	if err != nil {
		return "", err
	}
	a, err := c.parseAddress(addr)
	if err != nil {
		return "", err
	}
	if c.token != nil {
		return n.Explorer + "/token/" + c.contract(network).Hex() + "?a=" + a.Hex(), nil
	}
	return n.Explorer + "/address/" + a.Hex(), nil
}

func (c *Currency) TxURL(network, txid string) (string, error) {
	n, err := c.network(network)
	if err != nil {
		return "", err
	}
	if !txidPattern.MatchString(txid) {
		return "", errno.ErrInvalidArgument.New("%q is not a transaction hash", txid)
	}
	return n.Explorer + "/tx/" + strings.ToLower(txid), nil
}

func (c *Currency) DeriveAddress(network, pubkey string) (string, error) {
	if _, err := c.network(network); err != nil {
		return "", err
	}
	pub, err := currency.ParsePubkey(pubkey)
	if err != nil {
		return "", err
	}
	return address.NewETHGenerator().PubKeyToAddress(pub.SerializeUncompressed())
}

// link is AddressURL without the error, for view cells.
func (c *Currency) link(network, addr string) string {
	u, _ := c.AddressURL(network, addr)
	return u
}
