package driver

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kelvin-core/internal/journal"
	"kelvin-core/pkg/currency"
	"kelvin-core/pkg/currency/ethereum"
	"kelvin-core/pkg/currency/tron"
	"kelvin-core/pkg/device"
	"kelvin-core/pkg/device/simulator"
	"kelvin-core/pkg/errno"
	"kelvin-core/pkg/hdwallet"
)

const (
	testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	generatorPub = "0479be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798483ada7726a3c4655da4fbfc0e1108a8fd17b448a68554199c47d08ffb10d4b8"
)

// countingDevice 记录发往设备的指令
type countingDevice struct {
	next  Exchanger
	calls []device.Command
}

func (c *countingDevice) Exchange(ctx context.Context, cmd device.Command) (device.Response, error) {
	c.calls = append(c.calls, cmd)
	if c.next == nil {
		return device.Response{Payload: []byte("signed")}, nil
	}
	return c.next.Exchange(ctx, cmd)
}

// stubCurrency 只实现 signtx 路径用到的方法
type stubCurrency struct {
	currency.Currency
	prepared int
}

func (s *stubCurrency) Networks() []string { return []string{"mainnet"} }
func (s *stubCurrency) IsValidAddress(_, addr string) (bool, error) {
	return addr == "good-address", nil
}
func (s *stubCurrency) IsValidAmount(a string) bool { return a == "1.5" }
func (s *stubCurrency) IsValidFeeOption(_, fee string) (bool, error) {
	return fee == "fast", nil
}
func (s *stubCurrency) PreparedTxSchema() currency.Schema {
	return currency.Schema{
		{Key: "to", Label: "To", Format: currency.FormatAddress},
		{Key: "value", Label: "Amount", Format: currency.FormatValue},
		{Key: "fee", Label: "Fee", Format: currency.FormatValue},
	}
}
func (s *stubCurrency) PrepareSignTx(_ context.Context, req currency.SignTxRequest) (device.Command, currency.Transaction, error) {
	s.prepared++
	return device.Command{ID: 0x0903}, currency.Transaction{
		"to":    {Value: req.ToAddr},
		"value": {Value: req.Amount},
		"fee":   {Value: "0.001"},
	}, nil
}
func (s *stubCurrency) BuildSignedTx(_ currency.SignTxRequest, _ device.Command, rsp device.Response) (string, error) {
	return "tx:" + string(rsp.Payload), nil
}

func newSimulator(t *testing.T, display *bytes.Buffer) *device.Session {
	w, err := hdwallet.FromMnemonic(testMnemonic, "")
	require.NoError(t, err)
	return device.NewSession(simulator.New(w, simulator.WithDisplay(display)).Opener())
}

func newRegistry(t *testing.T, extra ...currency.Currency) *currency.Registry {
	reg := currency.NewRegistry()
	require.NoError(t, reg.Register("eth", ethereum.NewEther(ethereum.Options{})))
	require.NoError(t, reg.Register("trx", tron.New(tron.Options{})))
	for _, c := range extra {
		require.NoError(t, reg.Register("stub", c))
	}
	return reg
}

func TestRunRejectsUnknownInputs(t *testing.T) {
	dev := &countingDevice{}
	d := New(newRegistry(t), dev, WithOutput(&bytes.Buffer{}))
	ctx := context.Background()

	err := d.Run(ctx, ActionGetPubkey, "doesnotexist", "mainnet", Params{})
	assert.ErrorIs(t, err, errno.ErrUnknownCurrency)

	err = d.Run(ctx, ActionGetPubkey, "eth", "ropsten", Params{})
	assert.ErrorIs(t, err, errno.ErrInvalidNetwork)

	err = d.Run(ctx, Action("dance"), "eth", "mainnet", Params{})
	assert.ErrorIs(t, err, errno.ErrInvalidArgument)

	_, err = ParseAction("dance")
	assert.ErrorIs(t, err, errno.ErrInvalidArgument)
	a, err := ParseAction("signtx")
	require.NoError(t, err)
	assert.Equal(t, ActionSignTx, a)

	assert.Empty(t, dev.calls)
}

func TestPubkeyAddressAndShowAddr(t *testing.T) {
	var out, display bytes.Buffer
	d := New(newRegistry(t), newSimulator(t, &display), WithOutput(&out))
	ctx := context.Background()

	require.NoError(t, d.Run(ctx, ActionGetPubkey, "eth", "mainnet", Params{}))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "your pubkey for account 0 is:", lines[0])
	pub := lines[1]

	out.Reset()
	require.NoError(t, d.Run(ctx, ActionToAddr, "eth", "mainnet", Params{Pubkey: pub}))
	assert.Equal(t, "the encoded address is:\n0x9858EfFD232B4033E47d90003D41EC34EcaEda94\n", out.String())

	err := d.Run(ctx, ActionToAddr, "eth", "mainnet", Params{Pubkey: "04zz"})
	assert.ErrorIs(t, err, errno.ErrInvalidPubkey)

	require.NoError(t, d.Run(ctx, ActionShowAddr, "eth", "mainnet", Params{}))
	assert.Contains(t, display.String(), "0x9858EfFD232B4033E47d90003D41EC34EcaEda94")
}

func TestFeesForFeeLessCurrency(t *testing.T) {
	var out bytes.Buffer
	d := New(newRegistry(t), nil, WithOutput(&out))
	require.NoError(t, d.Run(context.Background(), ActionFees, "trx", "mainnet", Params{}))
	assert.Equal(t, "trx has no fee options\n", out.String())
}

func TestSignTxValidationNeverReachesDevice(t *testing.T) {
	stub := &stubCurrency{}
	dev := &countingDevice{}
	d := New(newRegistry(t, stub), dev, WithOutput(&bytes.Buffer{}))
	ctx := context.Background()
	good := Params{Pubkey: generatorPub, To: "good-address", Amount: "1.5", Fee: "fast"}

	tests := []struct {
		name   string
		mutate func(*Params)
		want   error
	}{
		{"pubkey", func(p *Params) { p.Pubkey = "02abc" }, errno.ErrInvalidPubkey},
		{"address", func(p *Params) { p.To = "bad" }, errno.ErrInvalidAddress},
		{"amount", func(p *Params) { p.Amount = "-1" }, errno.ErrInvalidAmount},
		{"fee", func(p *Params) { p.Fee = "slow" }, errno.ErrInvalidFee},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := good
			tt.mutate(&p)
			err := d.Run(ctx, ActionSignTx, "stub", "mainnet", p)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, errno.ErrInvalidArgument)
		})
	}
	assert.Zero(t, stub.prepared)
	assert.Empty(t, dev.calls)
}

func TestSignTxAndBroadcastAreJournaled(t *testing.T) {
	j, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer j.Close()

	var out bytes.Buffer
	stub := &stubCurrency{}
	dev := &countingDevice{}
	d := New(newRegistry(t, stub), dev, WithOutput(&out), WithJournal(j))

	err = d.Run(context.Background(), ActionSignTx, "stub", "mainnet",
		Params{Pubkey: generatorPub, To: "good-address", Amount: "1.5"})
	require.NoError(t, err)
	assert.Len(t, dev.calls, 1)
	assert.Contains(t, out.String(), "To\t: good-address\n")
	assert.Contains(t, out.String(), "Fee\t: 0.001\n")
	assert.True(t, strings.HasSuffix(out.String(), "tx:signed\n"))

	records, err := j.List(0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, journal.KindSigned, records[0].Kind)
	assert.Equal(t, "stub", records[0].Currency)
	assert.Equal(t, "1.5", records[0].Amount)
	assert.Equal(t, "tx:signed", records[0].SignedTx)
}

func TestBroadcastRequiresTx(t *testing.T) {
	d := New(newRegistry(t), nil, WithOutput(&bytes.Buffer{}))
	err := d.Run(context.Background(), ActionBroadcast, "eth", "mainnet", Params{})
	assert.ErrorIs(t, err, errno.ErrInvalidArgument)
}

func TestSignHash(t *testing.T) {
	var out, display bytes.Buffer
	d := New(newRegistry(t), newSimulator(t, &display), WithOutput(&out))
	ctx := context.Background()
	digest := strings.Repeat("ab", 32)

	require.NoError(t, d.Run(ctx, ActionSignHash, "eth", "mainnet", Params{Digest: "0x" + digest}))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, strings.ToUpper(digest), strings.TrimSpace(lines[1]))
	assert.Len(t, strings.TrimSpace(lines[3]), 128)

	err := d.Run(ctx, ActionSignHash, "eth", "mainnet", Params{Digest: "abcd"})
	assert.ErrorIs(t, err, errno.ErrInvalidArgument)

	err = d.Run(ctx, ActionSignHash, "trx", "mainnet", Params{Digest: digest})
	assert.ErrorIs(t, err, errno.ErrInvalidArgument)
}

func TestDeviceActionsWithoutDevice(t *testing.T) {
	d := New(newRegistry(t), nil, WithOutput(&bytes.Buffer{}))
	err := d.Run(context.Background(), ActionShowAddr, "eth", "mainnet", Params{})
	assert.ErrorIs(t, err, errno.ErrDevice)
}
