package tron

import (
	"github.com/btcsuite/btcd/btcec/v2"

	"kelvin-core/pkg/currency"
	"kelvin-core/pkg/device"
	"kelvin-core/pkg/device/wire"
	"kelvin-core/pkg/errno"
)

func (c *Currency) pathCommand(network string, account uint32, op byte) (device.Command, error) {
	n, err := c.network(network)
	if err != nil {
		return device.Command{}, err
	}
	path, err := wire.Path(coinType, account)
	if err != nil {
		return device.Command{}, errno.ErrInvalidArgument.Wrap(err, "account")
	}
	return wire.NewCommand(wire.FamilyTron, op, wire.PathRequest{Path: path, Network: n.Name})
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
