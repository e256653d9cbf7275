package bitcoin

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/txscript"
	btcwire "github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kelvin-core/pkg/cache"
	"kelvin-core/pkg/currency"
	"kelvin-core/pkg/device"
	"kelvin-core/pkg/device/simulator"
	"kelvin-core/pkg/errno"
	"kelvin-core/pkg/hdwallet"
)

const (
	testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	generatorPub = "0479be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798483ada7726a3c4655da4fbfc0e1108a8fd17b448a68554199c47d08ffb10d4b8"
	recipient    = "1BgGZ9tcN4rm9KBzDn7KprQz87SZ26SAMH"
)

// fakeEsplora serves the handful of Esplora endpoints the currency uses.
type fakeEsplora struct {
	mu        sync.Mutex
	utxos     []esploraUTXO
	txs       string
	feeCalls  int
	broadcast []string
	reject    bool
}

func (f *fakeEsplora) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case r.URL.Path == "/fee-estimates":
		f.feeCalls++
		_, _ = io.WriteString(w, `{"1":40.0,"2":20.25,"6":10.5,"144":1.0}`)
	case r.URL.Path == "/tx" && r.Method == http.MethodPost:
		if f.reject {
			http.Error(w, "sendrawtransaction RPC error: bad-txns-inputs-missingorspent", http.StatusBadRequest)
			return
		}
		body, _ := io.ReadAll(r.Body)
		f.broadcast = append(f.broadcast, string(body))
		raw, _ := hex.DecodeString(string(body))
		tx := btcwire.NewMsgTx(btcwire.TxVersion)
		_ = tx.Deserialize(bytes.NewReader(raw))
		_, _ = io.WriteString(w, tx.TxHash().String())
	case strings.HasSuffix(r.URL.Path, "/utxo"):
		_ = json.NewEncoder(w).Encode(f.utxos)
	case strings.HasSuffix(r.URL.Path, "/txs"):
		_, _ = io.WriteString(w, f.txs)
	case strings.HasPrefix(r.URL.Path, "/address/"):
		_, _ = io.WriteString(w, `{"chain_stats":{"funded_txo_sum":150000,"spent_txo_sum":25000},"mempool_stats":{"funded_txo_sum":999,"spent_txo_sum":0}}`)
	default:
		http.NotFound(w, r)
	}
}

func newTestBitcoin(t *testing.T, f *fakeEsplora) *Currency {
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return NewBitcoin(Options{
		API:     map[string]string{"mainnet": srv.URL, "testnet": srv.URL},
		Timeout: time.Second,
		Cache:   cache.NewMemoryCache(time.Minute, time.Minute),
	})
}

func newSession(t *testing.T) *device.Session {
	w, err := hdwallet.FromMnemonic(testMnemonic, "")
	require.NoError(t, err)
	return device.NewSession(simulator.New(w).Opener())
}

func txid(b byte) string {
	return strings.Repeat(hex.EncodeToString([]byte{b}), 32)
}

func TestNetworksAndUnits(t *testing.T) {
	btc := NewBitcoin(Options{})
	ltc := NewLitecoin(Options{})
	assert.Equal(t, []string{"mainnet", "testnet"}, btc.Networks())
	assert.Equal(t, uint32(0), btc.Extras().CoinType["mainnet"])
	assert.Equal(t, uint32(2), ltc.Extras().CoinType["mainnet"])

	unit, err := btc.FeeUnit()
	require.NoError(t, err)
	assert.Equal(t, "sat/kB", unit)

	base, err := btc.NormalToBase("0.00000001")
	require.NoError(t, err)
	assert.Equal(t, "1", base)
	assert.False(t, btc.IsValidAmount("0.000000001"))
}

func TestAddresses(t *testing.T) {
	btc := NewBitcoin(Options{})
	ltc := NewLitecoin(Options{})

	addr, err := btc.DeriveAddress("mainnet", generatorPub)
	require.NoError(t, err)
	assert.Equal(t, recipient, addr)

	for a, want := range map[string]bool{
		recipient:        true,
		"not-an-address": false,
		"bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4": true,
		"3J98t1WpEZ73CNmQviecrnyiWrnqRhWNLy":         true,
		"1BgGZ9tcN4rm9KBzDn7KprQz87SZ26SAMx":         false,
		"0479be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798": false,
	} {
		ok, err := btc.IsValidAddress("mainnet", a)
		require.NoError(t, err)
		assert.Equal(t, want, ok, a)
	}

	ok, err := btc.IsValidAddress("testnet", recipient)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = btc.IsValidAddress("regtest", recipient)
	assert.ErrorIs(t, err, errno.ErrInvalidNetwork)

	ltcAddr, err := ltc.DeriveAddress("mainnet", generatorPub)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ltcAddr, "L"), ltcAddr)
	ok, err = ltc.IsValidAddress("mainnet", ltcAddr)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = ltc.IsValidAddress("mainnet", recipient)
	require.NoError(t, err)
	assert.False(t, ok)

	u, err := btc.TxURL("testnet", txid(0xab))
	require.NoError(t, err)
	assert.Equal(t, "https://blockstream.info/testnet/tx/"+txid(0xab), u)
	_, err = btc.AddressURL("mainnet", "xyz")
	assert.ErrorIs(t, err, errno.ErrInvalidAddress)
}

func TestFeeOptions(t *testing.T) {
	f := &fakeEsplora{}
	btc := newTestBitcoin(t, f)

	opts, err := btc.FeeOptions(context.Background(), "mainnet")
	require.NoError(t, err)
	assert.Equal(t, []string{"1000", "10500", "20250"}, opts)
	for _, o := range opts {
		ok, err := btc.IsValidFeeOption("mainnet", o)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	_, err = btc.FeeOptions(context.Background(), "mainnet")
	require.NoError(t, err)
	assert.Equal(t, 1, f.feeCalls)

	for _, bad := range []string{"999", "10000001", "1.5", "fast", ""} {
		ok, err := btc.IsValidFeeOption("mainnet", bad)
		require.NoError(t, err)
		assert.False(t, ok, bad)
	}
}

func TestSelectCoins(t *testing.T) {
	utxos := []esploraUTXO{
		{TxID: txid(1), Value: 50_000, Status: esploraStatus{Confirmed: true}},
		{TxID: txid(2), Value: 100_000, Status: esploraStatus{Confirmed: true}},
		{TxID: txid(3), Value: 1_000_000},
	}
	sel, err := selectCoins(utxos, 120_000, 10_000)
	require.NoError(t, err)
	require.Len(t, sel.utxos, 2)
	assert.Equal(t, int64(100_000), sel.utxos[0].Value)
	assert.Equal(t, int64(3740), sel.fee)
	assert.Equal(t, int64(26260), sel.change)

	// change below dust is given to the miner
	sel, err = selectCoins(utxos, 146_000, 10_000)
	require.NoError(t, err)
	assert.Equal(t, int64(0), sel.change)
	assert.Equal(t, int64(4000), sel.fee)

	_, err = selectCoins(utxos, 150_000, 10_000)
	assert.ErrorIs(t, err, errno.ErrUnfulfillable)
}

func TestSignAndBroadcast(t *testing.T) {
	f := &fakeEsplora{utxos: []esploraUTXO{
		{TxID: txid(1), Vout: 0, Value: 50_000, Status: esploraStatus{Confirmed: true}},
		{TxID: txid(2), Vout: 1, Value: 100_000, Status: esploraStatus{Confirmed: true}},
	}}
	btc := newTestBitcoin(t, f)
	s := newSession(t)
	ctx := context.Background()

	cmd, err := btc.PubkeyCommand("mainnet", 0)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0201), cmd.ID)
	rsp, err := s.Exchange(ctx, cmd)
	require.NoError(t, err)
	pub, err := btc.ParsePubkeyResponse(rsp)
	require.NoError(t, err)
	from, err := btc.DeriveAddress("mainnet", pub)
	require.NoError(t, err)

	req := currency.SignTxRequest{Network: "mainnet", FromPubkey: pub, ToAddr: recipient, Amount: "0.0012", FeeOpt: "10000"}
	cmd, view, err := btc.PrepareSignTx(ctx, req)
	require.NoError(t, err)
	require.NoError(t, btc.PreparedTxSchema().Check(view))
	assert.Equal(t, from, view["from"].Value)
	assert.Equal(t, "0.0012", view["value"].Value)
	assert.Equal(t, "0.0000374", view["fee"].Value)
	assert.Equal(t, "0.0002626", view["change"].Value)
	assert.Equal(t, "2", view["inputs"].Value)

	rsp, err = s.Exchange(ctx, cmd)
	require.NoError(t, err)
	signed, err := btc.BuildSignedTx(req, cmd, rsp)
	require.NoError(t, err)

	// 用脚本引擎验证每个输入的签名
	raw, err := hex.DecodeString(signed)
	require.NoError(t, err)
	tx := btcwire.NewMsgTx(btcwire.TxVersion)
	require.NoError(t, tx.Deserialize(bytes.NewReader(raw)))
	_, fromScript, err := senderScript(btc.networks[0], pub)
	require.NoError(t, err)
	values := []int64{100_000, 50_000}
	for i := range tx.TxIn {
		fetcher := txscript.NewCannedPrevOutputFetcher(fromScript, values[i])
		vm, err := txscript.NewEngine(fromScript, tx, i, txscript.StandardVerifyFlags, nil,
			txscript.NewTxSigHashes(tx, fetcher), values[i], fetcher)
		require.NoError(t, err)
		require.NoError(t, vm.Execute(), "input %d", i)
	}

	other := req
	other.ToAddr = from
	_, err = btc.BuildSignedTx(other, cmd, rsp)
	assert.ErrorIs(t, err, errno.ErrInvalidArgument)

	id, err := btc.SubmitTransaction(ctx, "mainnet", signed)
	require.NoError(t, err)
	assert.Equal(t, tx.TxHash().String(), id)
	assert.Equal(t, []string{signed}, f.broadcast)

	f.reject = true
	_, err = btc.SubmitTransaction(ctx, "mainnet", signed)
	assert.ErrorIs(t, err, errno.ErrRejected)

	_, err = btc.SubmitTransaction(ctx, "mainnet", "00zz")
	assert.ErrorIs(t, err, errno.ErrInvalidArgument)
}

func TestPrepareSignTxUnfulfillable(t *testing.T) {
	f := &fakeEsplora{utxos: []esploraUTXO{{TxID: txid(1), Value: 10_000, Status: esploraStatus{Confirmed: true}}}}
	btc := newTestBitcoin(t, f)
	ctx := context.Background()

	req := currency.SignTxRequest{Network: "mainnet", FromPubkey: generatorPub, ToAddr: recipient, Amount: "0.01", FeeOpt: "1000"}
	_, _, err := btc.PrepareSignTx(ctx, req)
	assert.ErrorIs(t, err, errno.ErrUnfulfillable)

	req.Amount = "0.000005"
	_, _, err = btc.PrepareSignTx(ctx, req)
	assert.ErrorIs(t, err, errno.ErrUnfulfillable)

	// 低于最低费率: 格式合法但无法满足
	req.Amount = "0.00001"
	req.FeeOpt = "999"
	ok, err := btc.IsValidFeeOption("mainnet", req.FeeOpt)
	require.NoError(t, err)
	assert.False(t, ok)
	_, _, err = btc.PrepareSignTx(ctx, req)
	assert.ErrorIs(t, err, errno.ErrUnfulfillable)

	req.FeeOpt = "fast"
	_, _, err = btc.PrepareSignTx(ctx, req)
	assert.ErrorIs(t, err, errno.ErrInvalidFee)
}

func TestBalanceAndHistory(t *testing.T) {
	f := &fakeEsplora{txs: `[
		{"txid":"` + txid(0xaa) + `","fee":226,"status":{"confirmed":false},
		 "vin":[{"prevout":{"scriptpubkey_address":"` + recipient + `","value":100000}}],
		 "vout":[{"scriptpubkey_address":"3J98t1WpEZ73CNmQviecrnyiWrnqRhWNLy","value":60000},{"scriptpubkey_address":"` + recipient + `","value":39774}]},
		{"txid":"` + txid(0xbb) + `","fee":300,"status":{"confirmed":true,"block_height":800000,"block_time":1690000000},
		 "vin":[{"prevout":{"scriptpubkey_address":"3J98t1WpEZ73CNmQviecrnyiWrnqRhWNLy","value":200000}}],
		 "vout":[{"scriptpubkey_address":"` + recipient + `","value":100000}]}
	]`}
	btc := newTestBitcoin(t, f)
	ctx := context.Background()

	bal, err := btc.Balance(ctx, "mainnet", recipient)
	require.NoError(t, err)
	assert.Equal(t, "0.00125", bal)

	schema := btc.HistorySchema()
	require.NoError(t, schema.Validate())
	rows, err := btc.RecentHistory(ctx, "mainnet", recipient)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, r := range rows {
		require.NoError(t, schema.Check(r))
	}

	assert.Equal(t, "out", rows[0]["direction"].Value)
	assert.Equal(t, "0.0006", rows[0]["value"].Value)
	assert.Equal(t, "false", rows[0][currency.ConfirmedKey].Value)
	assert.Equal(t, "3J98t1WpEZ73CNmQviecrnyiWrnqRhWNLy", rows[0]["counterparty"].Value)

	assert.Equal(t, "in", rows[1]["direction"].Value)
	assert.Equal(t, "0.001", rows[1]["value"].Value)
	assert.Equal(t, "true", rows[1][currency.ConfirmedKey].Value)
	assert.Equal(t, "2023-07-22T04:26:40Z", rows[1]["date"].Value)
}
