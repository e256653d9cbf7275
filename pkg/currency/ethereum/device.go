package ethereum

import (
	"encoding/hex"

	"github.com/btcsuite/btcd/btcec/v2"

	"kelvin-core/pkg/currency"
	"kelvin-core/pkg/device"
	"kelvin-core/pkg/device/wire"
	"kelvin-core/pkg/errno"
)

func (c *Currency) pathCommand(network string, account uint32, op byte) (device.Command, error) {
	if _, err := c.network(network); err != nil {
		return device.Command{}, err
	}
	path, err := wire.Path(coinType, account)
	if err != nil {
		return device.Command{}, errno.ErrInvalidArgument.Wrap(err, "account")
	}
	return wire.NewCommand(wire.FamilyEthereum, op, wire.PathRequest{Path: path, Network: network})
}

func (c *Currency) PubkeyCommand(network string, account uint32) (device.Command, error) {
	return c.pathCommand(network, account, wire.OpGetPubkey)
}

func (c *Currency) ShowAddressCommand(network string, account uint32) (device.Command, error) {
	return c.pathCommand(network, account, wire.OpShowAddr)
}

func (c *Currency) ParsePubkeyResponse(rsp device.Response) (string, error) {
	return parsePubkey(rsp)
}

func parsePubkey(rsp device.Response) (string, error) {
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

// SignHashCommand asks the device to sign a raw 32-byte digest with the
// account key. The digest is shown on the device before approval.
func (c *Currency) SignHashCommand(network string, account uint32, digest []byte) (device.Command, error) {
	if _, err := c.network(network); err != nil {
		return device.Command{}, err
	}
	if len(digest) != 32 {
		return device.Command{}, errno.ErrInvalidArgument.New("digest must be 32 bytes, got %d", len(digest))
	}
	path, err := wire.Path(coinType, account)
	if err != nil {
		return device.Command{}, errno.ErrInvalidArgument.Wrap(err, "account")
	}
	return wire.NewCommand(wire.FamilyEthereum, wire.OpSignHash, wire.SignRequest{
		Path:    path,
		Network: network,
		Digests: [][]byte{digest},
		Display: []wire.Field{{Label: "Hash", Value: "0x" + hex.EncodeToString(digest)}},
	})
}

func (c *Currency) ParseSignHashResponse(rsp device.Response) (string, error) {
	sig, err := singleSignature(rsp)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sig[:64]), nil
}

func singleSignature(rsp device.Response) ([]byte, error) {
	var out wire.SignResponse
	if err := wire.Decode(rsp.Payload, &out); err != nil {
		return nil, errno.ErrInvalidArgument.Wrap(err, "decode sign response")
	}
	if len(out.Signatures) != 1 || len(out.Signatures[0]) != 65 {
		return nil, errno.ErrInvalidArgument.New("expected one 65-byte signature")
	}
	return out.Signatures[0], nil
}
