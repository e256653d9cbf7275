package ethereum

import (
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"strconv"
	"strings"

	geth "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"kelvin-core/pkg/currency"
	"kelvin-core/pkg/device"
	"kelvin-core/pkg/device/wire"
	"kelvin-core/pkg/errno"
	"kelvin-core/pkg/logger"
	"kelvin-core/pkg/monitor"
)

const transferGas = 21000

var etherUnit = currency.Unit{Decimals: etherDecimals}

func (c *Currency) PreparedTxSchema() currency.Schema {
	s := currency.Schema{
		{Key: "network", Label: "Network", Format: currency.FormatString},
		{Key: "from", Label: "From", Format: currency.FormatAddress},
		{Key: "to", Label: "To", Format: currency.FormatAddress},
		{Key: "value", Label: "Amount (" + c.symbol + ")", Format: currency.FormatValue},
	}
	if c.token != nil {
		s = append(s, currency.SchemaField{Key: "contract", Label: "Token Contract", Format: currency.FormatAddress})
	}
	return append(s,
		currency.SchemaField{Key: "fee", Label: "Max Fee (ETH)", Format: currency.FormatValue},
		currency.SchemaField{Key: "gasPrice", Label: "Gas Price (Gwei)", Format: currency.FormatNumber},
		currency.SchemaField{Key: "gasLimit", Label: "Gas Limit", Format: currency.FormatNumber},
		currency.SchemaField{Key: "nonce", Label: "Nonce", Format: currency.FormatNumber},
	)
}

type preparedTx struct {
	from     common.Address
	to       common.Address // recipient of the value, not the token contract
	value    *big.Int
	tx       *types.Transaction
	gasPrice *big.Int
}

func (c *Currency) PrepareSignTx(ctx context.Context, req currency.SignTxRequest) (device.Command, currency.Transaction, error) {
	n, err := c.network(req.Network)
	if err != nil {
		return device.Command{}, nil, err
	}
	pub, err := currency.ParsePubkey(req.FromPubkey)
	if err != nil {
		return device.Command{}, nil, err
	}
	from := crypto.PubkeyToAddress(*pub.ToECDSA())
	to, err := c.parseAddress(req.ToAddr)
	if err != nil {
		return device.Command{}, nil, err
	}
	value, err := c.unit.ToBase(req.Amount)
	if err != nil {
		return device.Command{}, nil, err
	}
	path, err := wire.Path(coinType, req.AccountIndex)
	if err != nil {
		return device.Command{}, nil, errno.ErrInvalidArgument.Wrap(err, "account")
	}
	gasPrice, err := c.gasPrice(ctx, n.Name, req.FeeOpt)
	if err != nil {
		return device.Command{}, nil, err
	}

	p := &preparedTx{from: from, to: to, value: value, gasPrice: gasPrice}
	err = c.call(ctx, n, "prepare", func(ctx context.Context, b Backend) error {
		return c.buildUnsigned(ctx, b, n, p)
	})
	if err != nil {
		return device.Command{}, nil, err
	}

	signer := types.NewEIP155Signer(n.ChainID)
	raw, err := p.tx.MarshalBinary()
	if err != nil {
		return device.Command{}, nil, err
	}
	view := c.view(n, p)
	cmd, err := wire.NewCommand(wire.FamilyEthereum, wire.OpSignTx, wire.SignRequest{
		Path:    path,
		Network: n.Name,
		Tx:      raw,
		Digests: [][]byte{signer.Hash(p.tx).Bytes()},
		Display: c.display(view),
	})
	if err != nil {
		return device.Command{}, nil, err
	}
	return cmd, view, nil
}

// buildUnsigned fetches nonce and balances and fills p.tx.
func (c *Currency) buildUnsigned(ctx context.Context, b Backend, n Network, p *preparedTx) error {
	nonce, err := b.PendingNonceAt(ctx, p.from)
	if err != nil {
		return errno.ErrNetwork.Wrap(err, "pending nonce")
	}
	ether, err := b.BalanceAt(ctx, p.from, nil)
	if err != nil {
		return errno.ErrNetwork.Wrap(err, "balance")
	}

	txTo, txValue, gasLimit := p.to, p.value, uint64(transferGas)
	var data []byte
	if c.token != nil {
		contract := c.contract(n.Name)
		tokens, err := c.tokenBalance(ctx, b, contract, p.from)
		if err != nil {
			return err
		}
		if tokens.Cmp(p.value) < 0 {
			return errno.ErrUnfulfillable.New("insufficient %s balance: have %s, need %s",
				c.symbol, c.unit.FromBase(tokens), c.unit.FromBase(p.value))
		}
		data, err = packTransfer(p.to, p.value)
		if err != nil {
			return err
		}
		gasLimit, err = b.EstimateGas(ctx, geth.CallMsg{From: p.from, To: &contract, Data: data})
		if err != nil {
			return errno.ErrNetwork.Wrap(err, "estimate gas")
		}
		txTo, txValue = contract, new(big.Int)
	}

	fee := new(big.Int).Mul(p.gasPrice, new(big.Int).SetUint64(gasLimit))
	need := new(big.Int).Add(fee, txValue)
	if ether.Cmp(need) < 0 {
		return errno.ErrUnfulfillable.New("insufficient ETH balance: have %s, need %s",
			etherUnit.FromBase(ether), etherUnit.FromBase(need))
	}

	p.tx = types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: p.gasPrice,
		Gas:      gasLimit,
		To:       &txTo,
		Value:    txValue,
		Data:     data,
	})
	return nil
}

func (c *Currency) tokenBalance(ctx context.Context, b Backend, contract, owner common.Address) (*big.Int, error) {
	data, err := packBalanceOf(owner)
	if err != nil {
		return nil, err
	}
	out, err := b.CallContract(ctx, geth.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return nil, errno.ErrNetwork.Wrap(err, "balanceOf")
	}
	bal, err := unpackBalanceOf(out)
	if err != nil {
		return nil, errno.ErrNetwork.Wrap(err, "decode balanceOf")
	}
	return bal, nil
}

func (c *Currency) view(n Network, p *preparedTx) currency.Transaction {
	fee := new(big.Int).Mul(p.tx.GasPrice(), new(big.Int).SetUint64(p.tx.Gas()))
	view := currency.Transaction{
		"network":  {Value: n.Name},
		"from":     {Value: p.from.Hex(), Link: c.link(n.Name, p.from.Hex())},
		"to":       {Value: p.to.Hex(), Link: c.link(n.Name, p.to.Hex())},
		"value":    {Value: c.unit.FromBase(p.value)},
		"fee":      {Value: etherUnit.FromBase(fee)},
		"gasPrice": {Value: gwei.FromBase(p.tx.GasPrice())},
		"gasLimit": {Value: strconv.FormatUint(p.tx.Gas(), 10)},
		"nonce":    {Value: strconv.FormatUint(p.tx.Nonce(), 10)},
	}
	if c.token != nil {
		contract := c.contract(n.Name).Hex()
		view["contract"] = currency.Cell{Value: contract, Link: n.Explorer + "/token/" + contract}
	}
	return view
}

// display orders the view like the prepared schema for the device screen.
func (c *Currency) display(view currency.Transaction) []wire.Field {
	var fields []wire.Field
	for _, f := range c.PreparedTxSchema() {
		if f.Key == "gasPrice" || f.Key == "gasLimit" || f.Key == "from" {
			continue
		}
		fields = append(fields, wire.Field{Label: f.Label, Value: view[f.Key].Value})
	}
	return fields
}

func (c *Currency) BuildSignedTx(req currency.SignTxRequest, cmd device.Command, rsp device.Response) (string, error) {
	n, err := c.network(req.Network)
	if err != nil {
		return "", err
	}
	if cmd.ID != wire.CommandID(wire.FamilyEthereum, wire.OpSignTx) {
		return "", errno.ErrInvalidArgument.New("command 0x%04x is not an ethereum sign command", cmd.ID)
	}
	var sr wire.SignRequest
	if err := wire.Decode(cmd.Payload, &sr); err != nil {
		return "", errno.ErrInvalidArgument.Wrap(err, "decode prepared command")
	}
	path, err := wire.Path(coinType, req.AccountIndex)
	if err != nil || wire.FormatPath(path) != wire.FormatPath(sr.Path) || sr.Network != n.Name {
		return "", errno.ErrInvalidArgument.New("prepared command does not belong to this request")
	}

	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(sr.Tx); err != nil {
		return "", errno.ErrInvalidArgument.Wrap(err, "decode prepared transaction")
	}
	if err := c.matchRequest(req, n, tx); err != nil {
		return "", err
	}

	sig, err := singleSignature(rsp)
	if err != nil {
		return "", err
	}
	signer := types.NewEIP155Signer(n.ChainID)
	signed, err := tx.WithSignature(signer, sig)
	if err != nil {
		return "", errno.ErrInvalidArgument.Wrap(err, "attach signature")
	}

	pub, err := currency.ParsePubkey(req.FromPubkey)
	if err != nil {
		return "", err
	}
	sender, err := types.Sender(signer, signed)
	if err != nil || sender != crypto.PubkeyToAddress(*pub.ToECDSA()) {
		return "", errno.ErrInvalidArgument.New("signature does not match the sender public key")
	}

	out, err := signed.MarshalBinary()
	if err != nil {
		return "", err
	}
	monitor.SignedTransactionsTotal.WithLabelValues(c.name, n.Name).Inc()
	return "0x" + hex.EncodeToString(out), nil
}

// matchRequest checks that tx moves exactly what req asked for.
func (c *Currency) matchRequest(req currency.SignTxRequest, n Network, tx *types.Transaction) error {
	to, err := c.parseAddress(req.ToAddr)
	if err != nil {
		return err
	}
	value, err := c.unit.ToBase(req.Amount)
	if err != nil {
		return err
	}
	mismatch := errno.ErrInvalidArgument.New("prepared transaction does not match the request")
	if tx.To() == nil {
		return mismatch
	}
	if c.token == nil {
		if *tx.To() != to || tx.Value().Cmp(value) != 0 || len(tx.Data()) != 0 {
			return mismatch
		}
		return nil
	}
	gotTo, gotValue, ok := unpackTransfer(tx.Data())
	if !ok || *tx.To() != c.contract(n.Name) || gotTo != to || gotValue.Cmp(value) != 0 || tx.Value().Sign() != 0 {
		return mismatch
	}
	return nil
}

func (c *Currency) SubmitTransaction(ctx context.Context, network, signedTx string) (string, error) {
	n, err := c.network(network)
	if err != nil {
		return "", err
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(signedTx, "0x"))
	if err != nil {
		return "", errno.ErrInvalidArgument.Wrap(err, "signed transaction is not hex")
	}
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return "", errno.ErrInvalidArgument.Wrap(err, "decode signed transaction")
	}
	if tx.ChainId().Cmp(n.ChainID) != 0 {
		return "", errno.ErrInvalidArgument.New("transaction is for chain %s, not %s", tx.ChainId(), n.Name)
	}

	err = c.call(ctx, n, "broadcast", func(ctx context.Context, b Backend) error {
		if err := b.SendTransaction(ctx, tx); err != nil {
			var rpcErr rpc.Error
			if errors.As(err, &rpcErr) {
				return errno.ErrRejected.Wrap(err, "code %d", rpcErr.ErrorCode())
			}
			return errno.ErrNetwork.Wrap(err, "send transaction")
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	logger.Info("transaction broadcast", zap.String("currency", c.name), zap.String("network", n.Name), zap.String("txid", tx.Hash().Hex()))
	return tx.Hash().Hex(), nil
}
