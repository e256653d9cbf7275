package bitcoin

import (
	"github.com/btcsuite/btcd/btcec/v2"

	"kelvin-core/pkg/currency"
	"kelvin-core/pkg/device"
	"kelvin-core/pkg/device/wire"
	"kelvin-core/pkg/errno"
)

func (c *Currency) path(n Network, account uint32) ([]uint32, error) {
	path, err := wire.Path(n.CoinType, account)
	if err != nil {
		return nil, errno.ErrInvalidArgument.Wrap(err, "account")
	}
	return path, nil
}

func (c *Currency) pathCommand(network string, account uint32, op byte) (device.Command, error) {
	n, err := c.network(network)
	if err != nil {
		return device.Command{}, err
	}
	path, err := c.path(n, account)
	if err != nil {
		return device.Command{}, err
	}
	return wire.NewCommand(c.family, op, wire.PathRequest{Path: path, Network: n.Name})
}

func (c *Currency) PubkeyCommand(network string, account uint32) (device.Command, error) {
	return c.pathCommand(network, account, wire.OpGetPubkey)
}

func (c *Currency) ShowAddressCommand(network string, account uint32) (device.Command, error) {
	return c.pathCommand(network, account, wire.OpShowAddr)
}

func (c *Currency) ParsePubkeyResponse(rsp device.Response) (string, error) {
	var out wire.PubkeyResponse
	if err := wire.Decode(rsp.Payload, &out); err != nil {
		return "", errno.ErrInvalidArgument.Wrap(err, "decode pubkey response")
	}
	pub, err := btcec.ParsePubKey(out.Pubkey)
	if err != nil {
		return "", errno.ErrInvalidArgument.Wrap(err, "device returned an invalid pubkey")
	}
	return currency.EncodePubkey(pub), nil
}
