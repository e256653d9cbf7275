package simulator

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kelvin-core/pkg/device"
	"kelvin-core/pkg/device/wire"
	"kelvin-core/pkg/errno"
	"kelvin-core/pkg/hdwallet"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func newSim(t *testing.T, opts ...Option) *Simulator {
	w, err := hdwallet.FromMnemonic(testMnemonic, "")
	require.NoError(t, err)
	return New(w, opts...)
}

func ethPath(t *testing.T) []uint32 {
	p, err := wire.Path(60, 0)
	require.NoError(t, err)
	return p
}

func TestGetPubkey(t *testing.T) {
	s := newSim(t)
	cmd, err := wire.NewCommand(wire.FamilyEthereum, wire.OpGetPubkey, wire.PathRequest{Path: ethPath(t), Network: "mainnet"})
	require.NoError(t, err)

	rsp, err := device.Exchange(context.Background(), s.Opener(), cmd)
	require.NoError(t, err)

	var out wire.PubkeyResponse
	require.NoError(t, wire.Decode(rsp.Payload, &out))
	require.Len(t, out.Pubkey, 65)
	pub, err := crypto.UnmarshalPubkey(out.Pubkey)
	require.NoError(t, err)
	assert.Equal(t, "0x9858EfFD232B4033E47d90003D41EC34EcaEda94", crypto.PubkeyToAddress(*pub).Hex())
}

func TestShowAddrWritesDisplay(t *testing.T) {
	var screen bytes.Buffer
	s := newSim(t, WithDisplay(&screen))
	cmd, err := wire.NewCommand(wire.FamilyEthereum, wire.OpShowAddr, wire.PathRequest{Path: ethPath(t), Network: "mainnet"})
	require.NoError(t, err)

	_, err = device.Exchange(context.Background(), s.Opener(), cmd)
	require.NoError(t, err)
	assert.Contains(t, screen.String(), "0x9858EfFD232B4033E47d90003D41EC34EcaEda94")
	assert.Contains(t, screen.String(), "m/44'/60'/0'/0/0")
}

func TestSignProducesRecoverableSignature(t *testing.T) {
	var shown []wire.Field
	s := newSim(t, WithApprove(func(f []wire.Field) bool { shown = f; return true }))
	digest := crypto.Keccak256([]byte("kelvin"))
	req := wire.SignRequest{
		Path:    ethPath(t),
		Network: "mainnet",
		Digests: [][]byte{digest},
		Display: []wire.Field{{Label: "To", Value: "0xabc"}},
	}
	cmd, err := wire.NewCommand(wire.FamilyEthereum, wire.OpSignTx, req)
	require.NoError(t, err)

	rsp, err := device.Exchange(context.Background(), s.Opener(), cmd)
	require.NoError(t, err)
	assert.Equal(t, req.Display, shown)

	var out wire.SignResponse
	require.NoError(t, wire.Decode(rsp.Payload, &out))
	require.Len(t, out.Signatures, 1)
	require.Len(t, out.Signatures[0], 65)

	pub, err := crypto.SigToPub(digest, out.Signatures[0])
	require.NoError(t, err)
	assert.Equal(t, "0x9858EfFD232B4033E47d90003D41EC34EcaEda94", crypto.PubkeyToAddress(*pub).Hex())
}

func TestSignRejectedByUser(t *testing.T) {
	s := newSim(t, WithApprove(func([]wire.Field) bool { return false }))
	cmd, err := wire.NewCommand(wire.FamilyEthereum, wire.OpSignHash, wire.SignRequest{
		Path:    ethPath(t),
		Digests: [][]byte{make([]byte, 32)},
	})
	require.NoError(t, err)

	_, err = device.Exchange(context.Background(), s.Opener(), cmd)
	var se *device.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, wire.StatusRejected, se.Status)
	assert.ErrorIs(t, err, errno.ErrDevice)
}

func TestBadPayloadAndUnknownOp(t *testing.T) {
	s := newSim(t)

	status, _ := s.Handle(wire.CommandID(wire.FamilyEthereum, wire.OpSignTx), []byte{0xff})
	assert.Equal(t, wire.StatusBadPayload, status)

	short, err := wire.Encode(wire.SignRequest{Path: ethPath(t), Digests: [][]byte{{1, 2, 3}}})
	require.NoError(t, err)
	status, _ = s.Handle(wire.CommandID(wire.FamilyEthereum, wire.OpSignTx), short)
	assert.Equal(t, wire.StatusBadPayload, status)

	status, _ = s.Handle(wire.CommandID(wire.FamilyEthereum, 0x7f), nil)
	assert.Equal(t, wire.StatusUnknownOp, status)
}
