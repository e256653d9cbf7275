package ethereum

import (
	"context"
	"encoding/json"
	"math/big"
	"net/url"
	"strconv"
	"strings"
	"time"

	"kelvin-core/pkg/currency"
	"kelvin-core/pkg/errno"
	"kelvin-core/pkg/monitor"
)

const historyLimit = 20

func (c *Currency) Balance(ctx context.Context, network, addr string) (string, error) {
	n, err := c.network(network)
	if err != nil {
		return "", err
	}
	owner, err := c.parseAddress(addr)
	if err != nil {
		return "", err
	}

	var bal *big.Int
	err = c.call(ctx, n, "balance", func(ctx context.Context, b Backend) error {
		if c.token != nil {
			bal, err = c.tokenBalance(ctx, b, c.contract(n.Name), owner)
			return err
		}
		bal, err = b.BalanceAt(ctx, owner, nil)
		if err != nil {
			return errno.ErrNetwork.Wrap(err, "balance")
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return c.unit.FromBase(bal), nil
}

func (c *Currency) HistorySchema() currency.Schema {
	return currency.Schema{
		{Key: "txid", Label: "Transaction", Format: currency.FormatHash},
		{Key: "date", Label: "Date", Format: currency.FormatDate},
		{Key: "from", Label: "From", Format: currency.FormatAddress},
		{Key: "to", Label: "To", Format: currency.FormatAddress},
		{Key: "value", Label: "Amount (" + c.symbol + ")", Format: currency.FormatValue},
		{Key: "fee", Label: "Fee (ETH)", Format: currency.FormatValue},
		{Key: "failed", Label: "Failed", Format: currency.FormatBoolean},
		{Key: currency.ConfirmedKey, Label: currency.ConfirmedKey, Format: currency.FormatBoolean},
	}
}

// scanTx is one row of the Etherscan txlist / tokentx actions.
type scanTx struct {
	Hash          string `json:"hash"`
	TimeStamp     string `json:"timeStamp"`
	From          string `json:"from"`
	To            string `json:"to"`
	Value         string `json:"value"`
	GasPrice      string `json:"gasPrice"`
	GasUsed       string `json:"gasUsed"`
	IsError       string `json:"isError"`
	Confirmations string `json:"confirmations"`
}

type scanResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

func (c *Currency) RecentHistory(ctx context.Context, network, addr string) (_ []currency.Transaction, err error) {
	n, err := c.network(network)
	if err != nil {
		return nil, err
	}
	owner, err := c.parseAddress(addr)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() { monitor.ObserveNetworkCall(c.name, "history", start, err) }()

	q := url.Values{}
	q.Set("chainid", n.ChainID.String())
	q.Set("module", "account")
	q.Set("address", owner.Hex())
	q.Set("page", "1")
	q.Set("offset", strconv.Itoa(historyLimit))
	q.Set("sort", "desc")
	if c.token != nil {
		q.Set("action", "tokentx")
		q.Set("contractaddress", c.contract(n.Name).Hex())
	} else {
		q.Set("action", "txlist")
	}
	if c.opts.APIKey != "" {
		q.Set("apikey", c.opts.APIKey)
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()
	var resp scanResponse
	if err := c.api.GetJSON(ctx, "?"+q.Encode(), &resp); err != nil {
		return nil, err
	}

	var rows []scanTx
	if resp.Status != "1" {
		// "No transactions found" is reported as status 0 with an empty list.
		if strings.HasPrefix(resp.Message, "No transactions found") {
			return []currency.Transaction{}, nil
		}
		var reason string
		_ = json.Unmarshal(resp.Result, &reason)
		return nil, errno.ErrNetwork.New("etherscan: %s %s", resp.Message, reason)
	}
	if err := json.Unmarshal(resp.Result, &rows); err != nil {
		return nil, errno.ErrNetwork.Wrap(err, "decode etherscan result")
	}

	txs := make([]currency.Transaction, 0, len(rows))
	for _, r := range rows {
		txs = append(txs, c.historyRow(n, r))
	}
	return txs, nil
}

func (c *Currency) historyRow(n Network, r scanTx) currency.Transaction {
	ts, _ := strconv.ParseInt(r.TimeStamp, 10, 64)
	confs, _ := strconv.Atoi(r.Confirmations)
	value := parseBig(r.Value)
	fee := new(big.Int).Mul(parseBig(r.GasPrice), parseBig(r.GasUsed))

	from := addressCell(c, n, r.From)
	to := addressCell(c, n, r.To)
	txURL, _ := c.TxURL(n.Name, r.Hash)
	return currency.Transaction{
		"txid":                {Value: r.Hash, Link: txURL},
		"date":                {Value: currency.FormatTime(time.Unix(ts, 0))},
		"from":                from,
		"to":                  to,
		"value":               {Value: c.unit.FromBase(value)},
		"fee":                 {Value: etherUnit.FromBase(fee)},
		"failed":              {Value: currency.FormatBool(r.IsError == "1")},
		currency.ConfirmedKey: {Value: currency.FormatBool(confs >= confirmations)},
	}
}

func addressCell(c *Currency, n Network, addr string) currency.Cell {
	if !validAddress(addr) {
		// contract creation has an empty "to"
		return currency.Cell{Value: addr}
	}
	a, _ := c.parseAddress(addr)
	return currency.Cell{Value: a.Hex(), Link: c.link(n.Name, a.Hex())}
}

func parseBig(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return new(big.Int)
	}
	return v
}
