package tron

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"kelvin-core/pkg/address"
	"kelvin-core/pkg/currency"
	"kelvin-core/pkg/device"
	"kelvin-core/pkg/device/wire"
	"kelvin-core/pkg/errno"
	"kelvin-core/pkg/logger"
	"kelvin-core/pkg/monitor"
	"kelvin-core/pkg/restclient"
)

var txidPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

type createTransactionRequest struct {
	OwnerAddress string `json:"owner_address"`
	ToAddress    string `json:"to_address"`
	Amount       int64  `json:"amount"`
	Visible      bool   `json:"visible"`
}

// unsignedTx is the subset of TronGrid's Transaction JSON we rely on.
type unsignedTx struct {
	TxID       string `json:"txID"`
	RawDataHex string `json:"raw_data_hex"`
	Error      string `json:"Error"`
}

type broadcastReply struct {
	Result  bool   `json:"result"`
	Code    string `json:"code"`
	TxID    string `json:"txid"`
	Message string `json:"message"`
}

func (c *Currency) PreparedTxSchema() currency.Schema {
	return currency.Schema{
		{Key: "network", Label: "Network", Format: currency.FormatString},
		{Key: "from", Label: "From", Format: currency.FormatAddress},
		{Key: "to", Label: "To", Format: currency.FormatAddress},
		{Key: "value", Label: "Amount (TRX)", Format: currency.FormatValue},
		{Key: "expiration", Label: "Expires", Format: currency.FormatDate},
	}
}

func (c *Currency) PrepareSignTx(ctx context.Context, req currency.SignTxRequest) (device.Command, currency.Transaction, error) {
	n, err := c.network(req.Network)
	if err != nil {
		return device.Command{}, nil, err
	}
	from, err := c.DeriveAddress(n.Name, req.FromPubkey)
	if err != nil {
		return device.Command{}, nil, err
	}
	if _, err := parseAddress(req.ToAddr); err != nil {
		return device.Command{}, nil, err
	}
	if req.FeeOpt != "" {
		return device.Command{}, nil, errno.ErrFeeNotApplicable.New("trx")
	}
	amount, err := c.unit.ToBase(req.Amount)
	if err != nil {
		return device.Command{}, nil, err
	}
	if !amount.IsInt64() {
		return device.Command{}, nil, errno.ErrInvalidAmount.New("%s is out of range", req.Amount)
	}
	path, err := wire.Path(coinType, req.AccountIndex)
	if err != nil {
		return device.Command{}, nil, errno.ErrInvalidArgument.Wrap(err, "account")
	}

	balance, err := c.balanceSun(ctx, n, from)
	if err != nil {
		return device.Command{}, nil, err
	}
	if balance.Cmp(amount) < 0 {
		return device.Command{}, nil, errno.ErrUnfulfillable.New("insufficient TRX balance: have %s, need %s",
			c.unit.FromBase(balance), req.Amount)
	}

	var utx unsignedTx
	err = c.call(ctx, n, "prepare", func(ctx context.Context, rc *restclient.Client) error {
		return rc.PostJSON(ctx, "/wallet/createtransaction", createTransactionRequest{
			OwnerAddress: from,
			ToAddress:    req.ToAddr,
			Amount:       amount.Int64(),
			Visible:      true,
		}, &utx)
	})
	if err != nil {
		return device.Command{}, nil, err
	}
	if utx.Error != "" {
		if strings.Contains(utx.Error, "balance is not sufficient") {
			return device.Command{}, nil, errno.ErrUnfulfillable.New("%s", utx.Error)
		}
		return device.Command{}, nil, errno.ErrNetwork.New("createtransaction: %s", utx.Error)
	}

	raw, err := hex.DecodeString(utx.RawDataHex)
	if err != nil {
		return device.Command{}, nil, errno.ErrNetwork.Wrap(err, "raw_data_hex")
	}
	txid := sha256.Sum256(raw)
	if hex.EncodeToString(txid[:]) != strings.ToLower(utx.TxID) {
		return device.Command{}, nil, errno.ErrNetwork.New("node returned a txID that does not hash raw_data")
	}
	t, err := c.matchRequest(req, from, raw)
	if err != nil {
		return device.Command{}, nil, errno.ErrNetwork.Wrap(err, "node built an unexpected transaction")
	}

	view := currency.Transaction{
		"network":    {Value: n.Name},
		"from":       {Value: from, Link: n.Explorer + "/address/" + from},
		"to":         {Value: req.ToAddr, Link: n.Explorer + "/address/" + req.ToAddr},
		"value":      {Value: c.unit.FromBase(big.NewInt(t.Amount))},
		"expiration": {Value: currency.FormatTime(time.UnixMilli(t.Expiration))},
	}
	cmd, err := wire.NewCommand(wire.FamilyTron, wire.OpSignTx, wire.SignRequest{
		Path:    path,
		Network: n.Name,
		Tx:      raw,
		Digests: [][]byte{txid[:]},
		Display: []wire.Field{
			{Label: "To", Value: req.ToAddr},
			{Label: "Amount (TRX)", Value: view["value"].Value},
		},
	})
	if err != nil {
		return device.Command{}, nil, err
	}
	return cmd, view, nil
}

// matchRequest checks that raw transfers exactly req.Amount from from to req.ToAddr.
func (c *Currency) matchRequest(req currency.SignTxRequest, from string, raw []byte) (transfer, error) {
	mismatch := errno.ErrInvalidArgument.New("prepared transaction does not match the request")
	t, err := parseTransfer(raw)
	if err != nil {
		return transfer{}, errno.ErrInvalidArgument.Wrap(err, "decode prepared transaction")
	}
	owner, _ := address.DecodeTron(from)
	to, err := parseAddress(req.ToAddr)
	if err != nil {
		return transfer{}, err
	}
	amount, err := c.unit.ToBase(req.Amount)
	if err != nil {
		return transfer{}, err
	}
	if !bytes.Equal(t.Owner, owner) || !bytes.Equal(t.To, to) || big.NewInt(t.Amount).Cmp(amount) != 0 {
		return transfer{}, mismatch
	}
	return t, nil
}

func (c *Currency) BuildSignedTx(req currency.SignTxRequest, cmd device.Command, rsp device.Response) (string, error) {
	n, err := c.network(req.Network)
	if err != nil {
		return "", err
	}
	if cmd.ID != wire.CommandID(wire.FamilyTron, wire.OpSignTx) {
		return "", errno.ErrInvalidArgument.New("command 0x%04x is not a tron sign command", cmd.ID)
	}
	var sr wire.SignRequest
	if err := wire.Decode(cmd.Payload, &sr); err != nil {
		return "", errno.ErrInvalidArgument.Wrap(err, "decode prepared command")
	}
	path, err := wire.Path(coinType, req.AccountIndex)
	if err != nil || wire.FormatPath(path) != wire.FormatPath(sr.Path) || sr.Network != n.Name {
		return "", errno.ErrInvalidArgument.New("prepared command does not belong to this request")
	}

	from, err := c.DeriveAddress(n.Name, req.FromPubkey)
	if err != nil {
		return "", err
	}
	if _, err := c.matchRequest(req, from, sr.Tx); err != nil {
		return "", err
	}

	var out wire.SignResponse
	if err := wire.Decode(rsp.Payload, &out); err != nil {
		return "", errno.ErrInvalidArgument.Wrap(err, "decode sign response")
	}
	if len(out.Signatures) != 1 || len(out.Signatures[0]) != 65 {
		return "", errno.ErrInvalidArgument.New("expected one 65-byte signature")
	}
	sig := out.Signatures[0]

	txid := sha256.Sum256(sr.Tx)
	pub, err := crypto.SigToPub(txid[:], sig)
	if err != nil {
		return "", errno.ErrInvalidArgument.Wrap(err, "recover signer")
	}
	signer, err := address.NewTronGenerator().PubKeyToAddress(crypto.FromECDSAPub(pub))
	if err != nil || signer != from {
		return "", errno.ErrInvalidArgument.New("signature does not match the sender public key")
	}

	monitor.SignedTransactionsTotal.WithLabelValues("trx", n.Name).Inc()
	return hex.EncodeToString(encodeSigned(sr.Tx, [][]byte{sig})), nil
}

func (c *Currency) SubmitTransaction(ctx context.Context, network, signedTx string) (string, error) {
	n, err := c.network(network)
	if err != nil {
		return "", err
	}
	b, err := hex.DecodeString(signedTx)
	if err != nil {
		return "", errno.ErrInvalidArgument.Wrap(err, "signed transaction is not hex")
	}
	raw, sigs, err := decodeSigned(b)
	if err != nil {
		return "", errno.ErrInvalidArgument.Wrap(err, "decode signed transaction")
	}
	if len(sigs) == 0 {
		return "", errno.ErrInvalidArgument.New("transaction is not signed")
	}
	sum := sha256.Sum256(raw)
	txid := hex.EncodeToString(sum[:])

	var reply broadcastReply
	err = c.call(ctx, n, "broadcast", func(ctx context.Context, rc *restclient.Client) error {
		return rc.PostJSON(ctx, "/wallet/broadcasthex", map[string]string{"transaction": signedTx}, &reply)
	})
	if err != nil {
		var httpErr *restclient.HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode >= 400 && httpErr.StatusCode < 500 {
			return "", errno.ErrRejected.Wrap(err, "broadcast")
		}
		return "", err
	}
	if !reply.Result {
		return "", errno.ErrRejected.New("%s: %s", reply.Code, decodeMessage(reply.Message))
	}
	logger.Info("transaction broadcast", zap.String("currency", "trx"), zap.String("network", n.Name), zap.String("txid", txid))
	return txid, nil
}

// decodeMessage undoes the hex encoding TronGrid applies to error messages.
func decodeMessage(msg string) string {
	if b, err := hex.DecodeString(msg); err == nil {
		return string(b)
	}
	return msg
}

// hexToBase58 converts a 41-prefixed hex address to its base58check form.
func hexToBase58(s string) string {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 21 || b[0] != address.TronPrefix {
		return s
	}
	return base58.CheckEncode(b[1:], b[0])
}
