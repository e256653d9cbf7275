package bitcoin

import (
	"regexp"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"

	"kelvin-core/pkg/address"
	"kelvin-core/pkg/currency"
	"kelvin-core/pkg/errno"
)

var txidPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

func decodeAddress(n Network, addr string) (btcutil.Address, bool) {
	a, err := btcutil.DecodeAddress(addr, n.Params)
	if err != nil || !a.IsForNet(n.Params) {
		return nil, false
	}
	// DecodeAddress also accepts raw public keys
	if _, ok := a.(*btcutil.AddressPubKey); ok {
		return nil, false
	}
	return a, true
}

func (c *Currency) IsValidAddress(network, addr string) (bool, error) {
	n, err := c.network(network)
	if err != nil {
		return false, err
	}
	_, ok := decodeAddress(n, addr)
	return ok, nil
}

func (c *Currency) parseAddress(n Network, addr string) (btcutil.Address, error) {
	a, ok := decodeAddress(n, addr)
	if !ok {
		return nil, errno.ErrInvalidAddress.New("%q is not a %s %s address", addr, c.name, n.Name)
	}
	return a, nil
}

func (c *Currency) AddressURL(network, addr string) (string, error) {
	n, err := c.network(network)
	if err != nil {
		return "", err
	}
	if _, err := c.parseAddress(n, addr); err != nil {
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
	return n.Explorer + "/tx/" + txid, nil
}

func (c *Currency) DeriveAddress(network, pubkey string) (string, error) {
	n, err := c.network(network)
	if err != nil {
		return "", err
	}
	pub, err := currency.ParsePubkey(pubkey)
	if err != nil {
		return "", err
	}
	return address.NewBTCGenerator(n.Params).PubKeyToAddress(pub.SerializeCompressed())
}

// senderScript is the P2PKH script of the compressed pubkey.
func senderScript(n Network, pubkey string) (btcutil.Address, []byte, error) {
	pub, err := currency.ParsePubkey(pubkey)
	if err != nil {
		return nil, nil, err
	}
	addr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(pub.SerializeCompressed()), n.Params)
	if err != nil {
		return nil, nil, err
	}
	script, err := txscript.PayToAddrScript(addr)
	return addr, script, err
}

func (c *Currency) link(n Network, addr string) string {
	return n.Explorer + "/address/" + addr
}
