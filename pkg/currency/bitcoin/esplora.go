package bitcoin

import (
	"context"
	"math/big"
	"time"

	"kelvin-core/pkg/currency"
)

type esploraStats struct {
	FundedTxoSum int64 `json:"funded_txo_sum"`
	SpentTxoSum  int64 `json:"spent_txo_sum"`
}

type esploraAddress struct {
	Address      string       `json:"address"`
	ChainStats   esploraStats `json:"chain_stats"`
	MempoolStats esploraStats `json:"mempool_stats"`
}

type esploraStatus struct {
	Confirmed   bool  `json:"confirmed"`
	BlockHeight int64 `json:"block_height"`
	BlockTime   int64 `json:"block_time"`
}

type esploraUTXO struct {
	TxID   string        `json:"txid"`
	Vout   uint32        `json:"vout"`
	Value  int64         `json:"value"`
	Status esploraStatus `json:"status"`
}

type esploraOut struct {
	Address string `json:"scriptpubkey_address"`
	Value   int64  `json:"value"`
}

type esploraIn struct {
	Prevout *esploraOut `json:"prevout"`
}

type esploraTx struct {
	TxID   string        `json:"txid"`
	Fee    int64         `json:"fee"`
	Status esploraStatus `json:"status"`
	Vin    []esploraIn   `json:"vin"`
	Vout   []esploraOut  `json:"vout"`
}

// Balance returns the confirmed balance; mempool activity is ignored.
func (c *Currency) Balance(ctx context.Context, network, addr string) (string, error) {
	n, err := c.network(network)
	if err != nil {
		return "", err
	}
	if _, err := c.parseAddress(n, addr); err != nil {
		return "", err
	}
	var info esploraAddress
	if err := c.get(ctx, n, "balance", "/address/"+addr, &info); err != nil {
		return "", err
	}
	return c.unit.FromBase(big.NewInt(info.ChainStats.FundedTxoSum - info.ChainStats.SpentTxoSum)), nil
}

func (c *Currency) HistorySchema() currency.Schema {
	return currency.Schema{
		{Key: "txid", Label: "Transaction", Format: currency.FormatHash},
		{Key: "date", Label: "Date", Format: currency.FormatDate},
		{Key: "direction", Label: "Direction", Format: currency.FormatString},
		{Key: "counterparty", Label: "Counterparty", Format: currency.FormatAddress},
		{Key: "value", Label: "Amount (" + c.symbol + ")", Format: currency.FormatValue},
		{Key: "fee", Label: "Fee (" + c.symbol + ")", Format: currency.FormatValue},
		{Key: currency.ConfirmedKey, Label: currency.ConfirmedKey, Format: currency.FormatBoolean},
	}
}

// RecentHistory lists mempool and recent confirmed transactions, newest first.
// Unconfirmed rows are dated at the time of the query.
func (c *Currency) RecentHistory(ctx context.Context, network, addr string) ([]currency.Transaction, error) {
	n, err := c.network(network)
	if err != nil {
		return nil, err
	}
	if _, err := c.parseAddress(n, addr); err != nil {
		return nil, err
	}
	var txs []esploraTx
	if err := c.get(ctx, n, "history", "/address/"+addr+"/txs", &txs); err != nil {
		return nil, err
	}

	now := time.Now()
	rows := make([]currency.Transaction, 0, len(txs))
	for _, tx := range txs {
		rows = append(rows, c.historyRow(n, addr, tx, now))
	}
	return rows, nil
}

func (c *Currency) historyRow(n Network, addr string, tx esploraTx, now time.Time) currency.Transaction {
	var spent, received int64
	var sender string
	for _, in := range tx.Vin {
		if in.Prevout == nil {
			continue
		}
		if in.Prevout.Address == addr {
			spent += in.Prevout.Value
		} else if sender == "" {
			sender = in.Prevout.Address
		}
	}
	var recipient string
	for _, out := range tx.Vout {
		if out.Address == addr {
			received += out.Value
		} else if recipient == "" {
			recipient = out.Address
		}
	}

	direction, counterparty, value := "in", sender, received-spent
	if spent > 0 {
		// outgoing: the fee is paid by us and is not part of the amount
		direction, counterparty, value = "out", recipient, spent-received-tx.Fee
	}
	if value < 0 {
		value = 0
	}

	date := now
	if tx.Status.Confirmed {
		date = time.Unix(tx.Status.BlockTime, 0)
	}
	txURL, _ := c.TxURL(n.Name, tx.TxID)
	cp := currency.Cell{Value: counterparty}
	if counterparty != "" {
		cp.Link = c.link(n, counterparty)
	}
	return currency.Transaction{
		"txid":                {Value: tx.TxID, Link: txURL},
		"date":                {Value: currency.FormatTime(date)},
		"direction":           {Value: direction},
		"counterparty":        cp,
		"value":               {Value: c.unit.FromBase(big.NewInt(value))},
		"fee":                 {Value: c.unit.FromBase(big.NewInt(tx.Fee))},
		currency.ConfirmedKey: {Value: currency.FormatBool(tx.Status.Confirmed)},
	}
}
