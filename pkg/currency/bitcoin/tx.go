package bitcoin

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	btcwire "github.com/btcsuite/btcd/wire"
	"go.uber.org/zap"

	"kelvin-core/pkg/currency"
	"kelvin-core/pkg/device"
	"kelvin-core/pkg/device/wire"
	"kelvin-core/pkg/errno"
	"kelvin-core/pkg/logger"
	"kelvin-core/pkg/monitor"
	"kelvin-core/pkg/restclient"
)

const (
	dustLimit = 546
	// P2PKH size estimate: overhead, per input (compressed key), per output.
	txOverhead = 10
	inputSize  = 148
	outputSize = 34
)

func estimateFee(inputs, outputs int, rate int64) int64 {
	size := int64(txOverhead + inputSize*inputs + outputSize*outputs)
	return (size*rate + 999) / 1000
}

func (c *Currency) PreparedTxSchema() currency.Schema {
	return currency.Schema{
		{Key: "network", Label: "Network", Format: currency.FormatString},
		{Key: "from", Label: "From", Format: currency.FormatAddress},
		{Key: "to", Label: "To", Format: currency.FormatAddress},
		{Key: "value", Label: "Amount (" + c.symbol + ")", Format: currency.FormatValue},
		{Key: "fee", Label: "Fee (" + c.symbol + ")", Format: currency.FormatValue},
		{Key: "feeRate", Label: "Fee Rate (sat/kB)", Format: currency.FormatNumber},
		{Key: "change", Label: "Change (" + c.symbol + ")", Format: currency.FormatValue},
		{Key: "inputs", Label: "Inputs", Format: currency.FormatNumber},
	}
}

// selection is the result of coin selection.
type selection struct {
	utxos  []esploraUTXO
	fee    int64
	change int64
}

// selectCoins spends the largest confirmed outputs first.
func selectCoins(utxos []esploraUTXO, amount, rate int64) (selection, error) {
	confirmed := make([]esploraUTXO, 0, len(utxos))
	for _, u := range utxos {
		if u.Status.Confirmed {
			confirmed = append(confirmed, u)
		}
	}
	sort.Slice(confirmed, func(i, j int) bool { return confirmed[i].Value > confirmed[j].Value })

	var total int64
	for i, u := range confirmed {
		total += u.Value
		inputs := i + 1
		if total < amount+estimateFee(inputs, 1, rate) {
			continue
		}
		sel := selection{utxos: confirmed[:inputs]}
		fee2 := estimateFee(inputs, 2, rate)
		if change := total - amount - fee2; change > dustLimit {
			sel.fee, sel.change = fee2, change
		} else {
			sel.fee = total - amount
		}
		return sel, nil
	}
	need := amount + estimateFee(max(len(confirmed), 1), 1, rate)
	return selection{}, errno.ErrUnfulfillable.New("insufficient funds: have %d sat confirmed, need %d sat", total, need)
}

func (c *Currency) PrepareSignTx(ctx context.Context, req currency.SignTxRequest) (device.Command, currency.Transaction, error) {
	n, err := c.network(req.Network)
	if err != nil {
		return device.Command{}, nil, err
	}
	from, fromScript, err := senderScript(n, req.FromPubkey)
	if err != nil {
		return device.Command{}, nil, err
	}
	to, err := c.parseAddress(n, req.ToAddr)
	if err != nil {
		return device.Command{}, nil, err
	}
	amountBig, err := c.unit.ToBase(req.Amount)
	if err != nil {
		return device.Command{}, nil, err
	}
	if !amountBig.IsInt64() {
		return device.Command{}, nil, errno.ErrInvalidAmount.New("%q is too large", req.Amount)
	}
	amount := amountBig.Int64()
	if amount <= dustLimit {
		return device.Command{}, nil, errno.ErrUnfulfillable.New("amount %s is below the dust limit", req.Amount)
	}
	path, err := c.path(n, req.AccountIndex)
	if err != nil {
		return device.Command{}, nil, err
	}
	rate, err := c.feeRate(ctx, n.Name, req.FeeOpt)
	if err != nil {
		return device.Command{}, nil, err
	}

	var utxos []esploraUTXO
	if err := c.get(ctx, n, "utxo", "/address/"+from.EncodeAddress()+"/utxo", &utxos); err != nil {
		return device.Command{}, nil, err
	}
	sel, err := selectCoins(utxos, amount, rate)
	if err != nil {
		return device.Command{}, nil, err
	}

	tx := btcwire.NewMsgTx(btcwire.TxVersion)
	for _, u := range sel.utxos {
		hash, err := chainhash.NewHashFromStr(u.TxID)
		if err != nil {
			return device.Command{}, nil, errno.ErrNetwork.Wrap(err, "utxo txid %q", u.TxID)
		}
		tx.AddTxIn(btcwire.NewTxIn(btcwire.NewOutPoint(hash, u.Vout), nil, nil))
	}
	toScript, err := txscript.PayToAddrScript(to)
	if err != nil {
		return device.Command{}, nil, errno.ErrInvalidAddress.Wrap(err, "%q", req.ToAddr)
	}
	tx.AddTxOut(btcwire.NewTxOut(amount, toScript))
	if sel.change > 0 {
		tx.AddTxOut(btcwire.NewTxOut(sel.change, fromScript))
	}

	digests, err := sigHashes(tx, fromScript)
	if err != nil {
		return device.Command{}, nil, err
	}
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return device.Command{}, nil, err
	}

	view := currency.Transaction{
		"network": {Value: n.Name},
		"from":    {Value: from.EncodeAddress(), Link: c.link(n, from.EncodeAddress())},
		"to":      {Value: req.ToAddr, Link: c.link(n, req.ToAddr)},
		"value":   {Value: c.unit.FromBase(big.NewInt(amount))},
		"fee":     {Value: c.unit.FromBase(big.NewInt(sel.fee))},
		"feeRate": {Value: strconv.FormatInt(rate, 10)},
		"change":  {Value: c.unit.FromBase(big.NewInt(sel.change))},
		"inputs":  {Value: strconv.Itoa(len(sel.utxos))},
	}
	cmd, err := wire.NewCommand(c.family, wire.OpSignTx, wire.SignRequest{
		Path:    path,
		Network: n.Name,
		Tx:      buf.Bytes(),
		Digests: digests,
		Display: []wire.Field{
			{Label: "To", Value: req.ToAddr},
			{Label: "Amount", Value: view["value"].Value + " " + c.symbol},
			{Label: "Fee", Value: view["fee"].Value + " " + c.symbol},
			{Label: "Change", Value: view["change"].Value + " " + c.symbol},
		},
	})
	if err != nil {
		return device.Command{}, nil, err
	}
	return cmd, view, nil
}

// sigHashes computes the legacy SIGHASH_ALL digest of every input, all of
// which spend fromScript.
func sigHashes(tx *btcwire.MsgTx, fromScript []byte) ([][]byte, error) {
	digests := make([][]byte, len(tx.TxIn))
	for i := range tx.TxIn {
		h, err := txscript.CalcSignatureHash(fromScript, txscript.SigHashAll, tx, i)
		if err != nil {
			return nil, err
		}
		digests[i] = h
	}
	return digests, nil
}

func (c *Currency) BuildSignedTx(req currency.SignTxRequest, cmd device.Command, rsp device.Response) (string, error) {
	n, err := c.network(req.Network)
	if err != nil {
		return "", err
	}
	if cmd.ID != wire.CommandID(c.family, wire.OpSignTx) {
		return "", errno.ErrInvalidArgument.New("command 0x%04x is not a %s sign command", cmd.ID, c.name)
	}
	var sr wire.SignRequest
	if err := wire.Decode(cmd.Payload, &sr); err != nil {
		return "", errno.ErrInvalidArgument.Wrap(err, "decode prepared command")
	}
	path, err := c.path(n, req.AccountIndex)
	if err != nil || wire.FormatPath(path) != wire.FormatPath(sr.Path) || sr.Network != n.Name {
		return "", errno.ErrInvalidArgument.New("prepared command does not belong to this request")
	}

	tx := btcwire.NewMsgTx(btcwire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(sr.Tx)); err != nil {
		return "", errno.ErrInvalidArgument.Wrap(err, "decode prepared transaction")
	}
	_, fromScript, err := senderScript(n, req.FromPubkey)
	if err != nil {
		return "", err
	}
	if err := c.matchRequest(req, n, tx, fromScript); err != nil {
		return "", err
	}

	var out wire.SignResponse
	if err := wire.Decode(rsp.Payload, &out); err != nil {
		return "", errno.ErrInvalidArgument.Wrap(err, "decode sign response")
	}
	if len(out.Signatures) != len(tx.TxIn) {
		return "", errno.ErrInvalidArgument.New("expected %d signatures, got %d", len(tx.TxIn), len(out.Signatures))
	}

	pub, err := currency.ParsePubkey(req.FromPubkey)
	if err != nil {
		return "", err
	}
	digests, err := sigHashes(tx, fromScript)
	if err != nil {
		return "", err
	}
	for i, raw := range out.Signatures {
		sig, err := toDER(raw)
		if err != nil {
			return "", err
		}
		if !sig.Verify(digests[i], pub) {
			return "", errno.ErrInvalidArgument.New("signature %d does not match the sender public key", i)
		}
		script, err := txscript.NewScriptBuilder().
			AddData(append(sig.Serialize(), byte(txscript.SigHashAll))).
			AddData(pub.SerializeCompressed()).
			Script()
		if err != nil {
			return "", err
		}
		tx.TxIn[i].SignatureScript = script
	}

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", err
	}
	monitor.SignedTransactionsTotal.WithLabelValues(c.name, n.Name).Inc()
	return hex.EncodeToString(buf.Bytes()), nil
}

// toDER converts a 65-byte R||S||V device signature, normalising S to the low half.
func toDER(raw []byte) (*ecdsa.Signature, error) {
	if len(raw) != 65 {
		return nil, errno.ErrInvalidArgument.New("signature must be 65 bytes, got %d", len(raw))
	}
	var r, s btcec.ModNScalar
	if r.SetByteSlice(raw[:32]) || s.SetByteSlice(raw[32:64]) || r.IsZero() || s.IsZero() {
		return nil, errno.ErrInvalidArgument.New("signature out of range")
	}
	if s.IsOverHalfOrder() {
		s.Negate()
	}
	return ecdsa.NewSignature(&r, &s), nil
}

// matchRequest checks that output 0 pays the request and every other output
// returns change to the sender.
func (c *Currency) matchRequest(req currency.SignTxRequest, n Network, tx *btcwire.MsgTx, fromScript []byte) error {
	to, err := c.parseAddress(n, req.ToAddr)
	if err != nil {
		return err
	}
	toScript, err := txscript.PayToAddrScript(to)
	if err != nil {
		return err
	}
	amount, err := c.unit.ToBase(req.Amount)
	if err != nil {
		return err
	}
	mismatch := errno.ErrInvalidArgument.New("prepared transaction does not match the request")
	if len(tx.TxIn) == 0 || len(tx.TxOut) == 0 || len(tx.TxOut) > 2 {
		return mismatch
	}
	if !bytes.Equal(tx.TxOut[0].PkScript, toScript) || big.NewInt(tx.TxOut[0].Value).Cmp(amount) != 0 {
		return mismatch
	}
	for _, out := range tx.TxOut[1:] {
		if !bytes.Equal(out.PkScript, fromScript) {
			return mismatch
		}
	}
	return nil
}

func (c *Currency) SubmitTransaction(ctx context.Context, network, signedTx string) (txid string, err error) {
	n, err := c.network(network)
	if err != nil {
		return "", err
	}
	raw, err := hex.DecodeString(signedTx)
	if err != nil {
		return "", errno.ErrInvalidArgument.Wrap(err, "signed transaction is not hex")
	}
	tx, err := btcutil.NewTxFromBytes(raw)
	if err != nil {
		return "", errno.ErrInvalidArgument.Wrap(err, "decode signed transaction")
	}

	start := time.Now()
	defer func() { monitor.ObserveNetworkCall(c.name, "broadcast", start, err) }()
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	txid, err = c.clients[n.Name].PostText(ctx, "/tx", signedTx)
	if err != nil {
		var httpErr *restclient.HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusBadRequest {
			return "", errno.ErrRejected.Wrap(httpErr, "broadcast")
		}
		return "", err
	}
	if want := tx.Hash().String(); !strings.EqualFold(txid, want) {
		logger.Warn("broadcast returned unexpected txid", zap.String("got", txid), zap.String("want", want))
	}
	logger.Info("transaction broadcast", zap.String("currency", c.name), zap.String("network", n.Name), zap.String("txid", txid))
	return txid, nil
}
