// Package driver enacts one action of the display-verify-sign-broadcast flow:
// resolve the currency, validate the network, then run the action against the
// currency contract and the signing device.
package driver

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"kelvin-core/internal/journal"
	"kelvin-core/pkg/currency"
	"kelvin-core/pkg/device"
	"kelvin-core/pkg/errno"
	"kelvin-core/pkg/logger"
)

type Action string

const (
	ActionGetPubkey Action = "getpubkey"
	ActionToAddr    Action = "toaddr"
	ActionShowAddr  Action = "showaddr"
	ActionFees      Action = "fees"
	ActionSignTx    Action = "signtx"
	ActionBroadcast Action = "broadcast"
	ActionBalance   Action = "balance"
	ActionHistory   Action = "history"
	ActionSignHash  Action = "signhash"
)

// Actions lists every action in the order the CLI shows them.
var Actions = []Action{
	ActionGetPubkey, ActionToAddr, ActionShowAddr, ActionFees, ActionSignTx,
	ActionBroadcast, ActionBalance, ActionHistory, ActionSignHash,
}

// Exchanger sends one command to the signing device. *device.Session
// implements it.
type Exchanger interface {
	Exchange(ctx context.Context, cmd device.Command) (device.Response, error)
}

// Params are the action specific inputs. Unused fields are ignored.
type Params struct {
	Account uint32
	Pubkey  string
	Address string
	To      string
	Amount  string
	Fee     string
	Tx      string
	Digest  string
}

type Driver struct {
	registry *currency.Registry
	device   Exchanger
	journal  journal.Recorder
	out      io.Writer
}

type Option func(*Driver)

// WithJournal records finalized and broadcast transactions.
func WithJournal(r journal.Recorder) Option {
	return func(d *Driver) { d.journal = r }
}

func WithOutput(w io.Writer) Option {
	return func(d *Driver) { d.out = w }
}

// New 创建 Driver。dev 可以为 nil, 此时需要设备的动作会返回 ErrDevice
func New(reg *currency.Registry, dev Exchanger, opts ...Option) *Driver {
	d := &Driver{registry: reg, device: dev, out: os.Stdout}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ParseAction rejects names that are not in Actions.
func ParseAction(name string) (Action, error) {
	for _, a := range Actions {
		if string(a) == name {
			return a, nil
		}
	}
	return "", errno.ErrInvalidArgument.New("unknown action %q", name)
}

// Run resolves name and network and performs action. Nothing is sent to the
// device unless every input of the action validated.
func (d *Driver) Run(ctx context.Context, action Action, name, network string, p Params) error {
	cur, err := d.registry.Resolve(name)
	if err != nil {
		return err
	}
	if err := currency.CheckNetwork(cur.Networks(), network); err != nil {
		return errno.ErrInvalidNetwork.New("unsupported network %q for %s", network, name)
	}
	logger.Debug("driver run", zap.String("action", string(action)), zap.String("currency", name), zap.String("network", network))

	switch action {
	case ActionGetPubkey:
		return d.getPubkey(ctx, cur, network, p)
	case ActionToAddr:
		return d.toAddr(cur, network, p)
	case ActionShowAddr:
		return d.showAddr(ctx, cur, network, p)
	case ActionFees:
		return d.fees(ctx, cur, name, network)
	case ActionSignTx:
		return d.signTx(ctx, cur, name, network, p)
	case ActionBroadcast:
		return d.broadcast(ctx, cur, name, network, p)
	case ActionBalance:
		return d.balance(ctx, cur, network, p)
	case ActionHistory:
		return d.history(ctx, cur, network, p)
	case ActionSignHash:
		return d.signHash(ctx, cur, name, network, p)
	}
	return errno.ErrInvalidArgument.New("unknown action %q", action)
}

func (d *Driver) exchange(ctx context.Context, cmd device.Command) (device.Response, error) {
	if d.device == nil {
		return device.Response{}, errno.ErrDevice.New("no signing device configured")
	}
	return d.device.Exchange(ctx, cmd)
}

func (d *Driver) getPubkey(ctx context.Context, cur currency.Currency, network string, p Params) error {
	cmd, err := cur.PubkeyCommand(network, p.Account)
	if err != nil {
		return err
	}
	rsp, err := d.exchange(ctx, cmd)
	if err != nil {
		return err
	}
	pub, err := cur.ParsePubkeyResponse(rsp)
	if err != nil {
		return err
	}
	fmt.Fprintf(d.out, "your pubkey for account %d is:\n%s\n", p.Account, pub)
	return nil
}

func (d *Driver) toAddr(cur currency.Currency, network string, p Params) error {
	addr, err := cur.DeriveAddress(network, p.Pubkey)
	if err != nil {
		return err
	}
	fmt.Fprintf(d.out, "the encoded address is:\n%s\n", addr)
	return nil
}

func (d *Driver) showAddr(ctx context.Context, cur currency.Currency, network string, p Params) error {
	cmd, err := cur.ShowAddressCommand(network, p.Account)
	if err != nil {
		return err
	}
	if _, err := d.exchange(ctx, cmd); err != nil {
		return err
	}
	fmt.Fprintf(d.out, "address of account %d is shown on the device\n", p.Account)
	return nil
}

func (d *Driver) fees(ctx context.Context, cur currency.Currency, name, network string) error {
	unit, err := cur.FeeUnit()
	if errors.Is(err, errno.ErrFeeNotApplicable) {
		fmt.Fprintf(d.out, "%s has no fee options\n", name)
		return nil
	}
	if err != nil {
		return err
	}
	opts, err := cur.FeeOptions(ctx, network)
	if err != nil {
		return err
	}
	fmt.Fprintf(d.out, "suggested fee options (in the unit of: %s)\n", unit)
	for _, o := range opts {
		fmt.Fprintln(d.out, o)
	}
	return nil
}

// validateSignTx runs every check that does not need the network.
func validateSignTx(cur currency.Currency, req currency.SignTxRequest) error {
	if _, err := currency.ParsePubkey(req.FromPubkey); err != nil {
		return err
	}
	ok, err := cur.IsValidAddress(req.Network, req.ToAddr)
	if err != nil {
		return err
	}
	if !ok {
		return errno.ErrInvalidAddress.New("%q", req.ToAddr)
	}
	if !cur.IsValidAmount(req.Amount) {
		return errno.ErrInvalidAmount.New("%q", req.Amount)
	}
	if req.FeeOpt == "" {
		return nil
	}
	ok, err = cur.IsValidFeeOption(req.Network, req.FeeOpt)
	if err != nil {
		return err
	}
	if !ok {
		return errno.ErrInvalidFee.New("%q", req.FeeOpt)
	}
	return nil
}

func (d *Driver) signTx(ctx context.Context, cur currency.Currency, name, network string, p Params) error {
	req := currency.SignTxRequest{
		Network:      network,
		AccountIndex: p.Account,
		FromPubkey:   p.Pubkey,
		ToAddr:       p.To,
		Amount:       p.Amount,
		FeeOpt:       p.Fee,
	}
	if err := validateSignTx(cur, req); err != nil {
		return err
	}

	cmd, view, err := cur.PrepareSignTx(ctx, req)
	if err != nil {
		return err
	}
	schema := cur.PreparedTxSchema()
	fmt.Fprintln(d.out, "----------------")
	for _, f := range schema {
		fmt.Fprintf(d.out, "%s\t: %s\n", f.Label, view[f.Key].Value)
	}
	fmt.Fprintln(d.out, "----------------")

	rsp, err := d.exchange(ctx, cmd)
	if err != nil {
		return err
	}
	signed, err := cur.BuildSignedTx(req, cmd, rsp)
	if err != nil {
		return err
	}
	d.record(journal.Record{
		Kind:     journal.KindSigned,
		Currency: name,
		Network:  network,
		From:     view["from"].Value,
		To:       view["to"].Value,
		Amount:   view["value"].Value,
		Fee:      view["fee"].Value,
		SignedTx: signed,
	})
	fmt.Fprintln(d.out, signed)
	return nil
}

func (d *Driver) broadcast(ctx context.Context, cur currency.Currency, name, network string, p Params) error {
	if p.Tx == "" {
		return errno.ErrInvalidArgument.New("signed transaction required")
	}
	txid, err := cur.SubmitTransaction(ctx, network, p.Tx)
	if err != nil {
		return err
	}
	d.record(journal.Record{Kind: journal.KindBroadcast, Currency: name, Network: network, TxID: txid, SignedTx: p.Tx})
	fmt.Fprintln(d.out, txid)
	if u, err := cur.TxURL(network, txid); err == nil {
		fmt.Fprintln(d.out, u)
	}
	return nil
}

// record 写日志失败不影响已经完成的签名或广播
func (d *Driver) record(r journal.Record) {
	if d.journal == nil {
		return
	}
	if _, err := d.journal.Append(r); err != nil {
		logger.Warn("journal append failed", zap.String("currency", r.Currency), zap.Error(err))
	}
}

// address picks p.Address, or derives it from p.Pubkey.
func address(cur currency.Currency, network string, p Params) (string, error) {
	if p.Address != "" {
		ok, err := cur.IsValidAddress(network, p.Address)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", errno.ErrInvalidAddress.New("%q", p.Address)
		}
		return p.Address, nil
	}
	if p.Pubkey == "" {
		return "", errno.ErrInvalidArgument.New("address or pubkey required")
	}
	return cur.DeriveAddress(network, p.Pubkey)
}

func (d *Driver) balance(ctx context.Context, cur currency.Currency, network string, p Params) error {
	addr, err := address(cur, network, p)
	if err != nil {
		return err
	}
	bal, err := cur.Balance(ctx, network, addr)
	if err != nil {
		return err
	}
	fmt.Fprintf(d.out, "%s %s\n", bal, cur.Extras().Symbol)
	return nil
}

func (d *Driver) history(ctx context.Context, cur currency.Currency, network string, p Params) error {
	addr, err := address(cur, network, p)
	if err != nil {
		return err
	}
	rows, err := cur.RecentHistory(ctx, network, addr)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Fprintln(d.out, "no transactions")
		return nil
	}
	schema := cur.HistorySchema()
	for _, row := range rows {
		fmt.Fprintln(d.out, "----------------")
		for _, f := range schema {
			fmt.Fprintf(d.out, "%s\t: %s\n", f.Label, row[f.Key].Value)
		}
	}
	fmt.Fprintln(d.out, "----------------")
	return nil
}

func (d *Driver) signHash(ctx context.Context, cur currency.Currency, name, network string, p Params) error {
	hs, ok := cur.(currency.HashSigner)
	if !ok {
		return errno.ErrInvalidArgument.New("%s cannot sign raw hashes", name)
	}
	digest, err := hex.DecodeString(strings.TrimPrefix(p.Digest, "0x"))
	if err != nil || len(digest) != 32 {
		return errno.ErrInvalidArgument.New("digest must be 32 bytes of hex")
	}
	cmd, err := hs.SignHashCommand(network, p.Account, digest)
	if err != nil {
		return err
	}
	fmt.Fprintf(d.out, "Asking the device to sign the 32-byte digest with account %d:\n    %s\n",
		p.Account, strings.ToUpper(hex.EncodeToString(digest)))
	rsp, err := d.exchange(ctx, cmd)
	if err != nil {
		return err
	}
	sig, err := hs.ParseSignHashResponse(rsp)
	if err != nil {
		return err
	}
	fmt.Fprintf(d.out, "64-byte secp256k1 ECDSA signature:\n    %s\n", strings.ToUpper(sig))
	return nil
}
