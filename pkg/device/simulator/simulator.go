// Package simulator is an in-process signing device backed by a BIP-32 wallet.
// It answers the same commands as the hardware and is used by tests and by
// `kelvin-cli simulator serve`.
package simulator

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"kelvin-core/pkg/address"
	"kelvin-core/pkg/device"
	"kelvin-core/pkg/device/wire"
	"kelvin-core/pkg/hdwallet"
	"kelvin-core/pkg/logger"
)

// ApproveFunc decides whether the user confirms the displayed fields.
type ApproveFunc func(fields []wire.Field) bool

type Simulator struct {
	wallet  *hdwallet.Wallet
	mu      sync.Mutex
	display io.Writer
	approve ApproveFunc
}

type Option func(*Simulator)

// WithDisplay sets where the "screen" is written.
func WithDisplay(w io.Writer) Option {
	return func(s *Simulator) { s.display = w }
}

func WithApprove(f ApproveFunc) Option {
	return func(s *Simulator) { s.approve = f }
}

// New returns a simulator that approves everything and discards its display.
func New(w *hdwallet.Wallet, opts ...Option) *Simulator {
	s := &Simulator{
		wallet:  w,
		display: io.Discard,
		approve: func([]wire.Field) bool { return true },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle implements bridge.Handler.
func (s *Simulator) Handle(id uint16, payload []byte) (uint16, []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	family, op := wire.SplitCommandID(id)
	var (
		resp interface{}
		err  error
	)
	switch op {
	case wire.OpGetPubkey:
		resp, err = s.getPubkey(payload)
	case wire.OpShowAddr:
		resp, err = s.showAddr(family, payload)
	case wire.OpSignTx, wire.OpSignHash:
		var rejected bool
		resp, rejected, err = s.sign(op, payload)
		if rejected {
			return wire.StatusRejected, nil
		}
	default:
		return wire.StatusUnknownOp, nil
	}
	if err != nil {
		logger.Debug("simulator rejected payload", zap.Uint16("command", id), zap.Error(err))
		return wire.StatusBadPayload, nil
	}

	out, err := wire.Encode(resp)
	if err != nil {
		return wire.StatusInternal, nil
	}
	return wire.StatusOK, out
}

func (s *Simulator) getPubkey(payload []byte) (interface{}, error) {
	var req wire.PathRequest
	if err := wire.Decode(payload, &req); err != nil {
		return nil, err
	}
	pub, err := s.wallet.PublicKey(req.Path)
	if err != nil {
		return nil, err
	}
	return wire.PubkeyResponse{Pubkey: pub.SerializeUncompressed()}, nil
}

func (s *Simulator) showAddr(family byte, payload []byte) (interface{}, error) {
	var req wire.PathRequest
	if err := wire.Decode(payload, &req); err != nil {
		return nil, err
	}
	pub, err := s.wallet.PublicKey(req.Path)
	if err != nil {
		return nil, err
	}
	gen, err := generatorFor(family, req.Network)
	if err != nil {
		return nil, err
	}
	addr, err := gen.PubKeyToAddress(pub.SerializeUncompressed())
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(s.display, "[%s] %s\n  Address: %s\n", req.Network, wire.FormatPath(req.Path), addr)
	return wire.PubkeyResponse{Pubkey: pub.SerializeUncompressed()}, nil
}

func (s *Simulator) sign(op byte, payload []byte) (interface{}, bool, error) {
	var req wire.SignRequest
	if err := wire.Decode(payload, &req); err != nil {
		return nil, false, err
	}
	if len(req.Digests) == 0 {
		return nil, false, fmt.Errorf("nothing to sign")
	}
	for _, d := range req.Digests {
		if len(d) != 32 {
			return nil, false, fmt.Errorf("digest must be 32 bytes, got %d", len(d))
		}
	}
	priv, err := s.wallet.PrivateKey(req.Path)
	if err != nil {
		return nil, false, err
	}

	fields := req.Display
	if op == wire.OpSignHash && len(fields) == 0 {
		fields = []wire.Field{{Label: "Hash", Value: fmt.Sprintf("%x", req.Digests[0])}}
	}
	fmt.Fprintf(s.display, "[%s] %s\n", req.Network, wire.FormatPath(req.Path))
	for _, f := range fields {
		fmt.Fprintf(s.display, "  %s: %s\n", f.Label, f.Value)
	}
	if !s.approve(fields) {
		fmt.Fprintln(s.display, "  -> rejected")
		return nil, true, nil
	}

	sigs := make([][]byte, 0, len(req.Digests))
	for _, d := range req.Digests {
		sig, err := crypto.Sign(d, priv.ToECDSA())
		if err != nil {
			return nil, false, err
		}
		sigs = append(sigs, sig)
	}
	fmt.Fprintln(s.display, "  -> approved")
	return wire.SignResponse{Signatures: sigs}, false, nil
}

func generatorFor(family byte, network string) (address.Generator, error) {
	switch family {
	case wire.FamilyEthereum:
		return address.NewETHGenerator(), nil
	case wire.FamilyTron:
		return address.NewTronGenerator(), nil
	case wire.FamilyBitcoin:
		if network == "mainnet" {
			return address.NewBTCGenerator(&chaincfg.MainNetParams), nil
		}
		return address.NewBTCGenerator(&chaincfg.TestNet3Params), nil
	case wire.FamilyLitecoin:
		if network == "mainnet" {
			return address.NewBTCGenerator(&address.LitecoinMainNetParams), nil
		}
		return address.NewBTCGenerator(&address.LitecoinTestNetParams), nil
	}
	return nil, fmt.Errorf("unknown currency family 0x%02x", family)
}

// Opener connects a device.Session directly to the simulator.
func (s *Simulator) Opener() device.Opener {
	return func(ctx context.Context) (device.Transport, error) {
		return transport{s}, nil
	}
}

type transport struct {
	s *Simulator
}

func (t transport) Send(id uint16, payload []byte) (uint16, []byte, error) {
	status, resp := t.s.Handle(id, payload)
	return status, resp, nil
}

func (t transport) Close() error { return nil }
