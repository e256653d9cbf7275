package tron

import (
	"context"
	"math/big"
	"net/url"
	"strconv"
	"time"

	"kelvin-core/pkg/currency"
	"kelvin-core/pkg/errno"
	"kelvin-core/pkg/restclient"
)

const historyLimit = 20

type account struct {
	Address string `json:"address"`
	Balance int64  `json:"balance"`
}

type gridTransfer struct {
	OwnerAddress string `json:"owner_address"`
	ToAddress    string `json:"to_address"`
	Amount       int64  `json:"amount"`
}

type gridTx struct {
	TxID           string `json:"txID"`
	BlockNumber    int64  `json:"blockNumber"`
	BlockTimestamp int64  `json:"block_timestamp"`
	Ret            []struct {
		ContractRet string `json:"contractRet"`
	} `json:"ret"`
	RawData struct {
		Contract []struct {
			Type      string `json:"type"`
			Parameter struct {
				Value gridTransfer `json:"value"`
			} `json:"parameter"`
		} `json:"contract"`
		Timestamp int64 `json:"timestamp"`
	} `json:"raw_data"`
}

type gridList struct {
	Data    []gridTx `json:"data"`
	Success bool     `json:"success"`
	Error   string   `json:"error"`
}

// balanceSun returns the account balance in SUN. Accounts that were never
// activated report as an empty object.
func (c *Currency) balanceSun(ctx context.Context, n Network, addr string) (*big.Int, error) {
	var acct account
	err := c.call(ctx, n, "balance", func(ctx context.Context, rc *restclient.Client) error {
		return rc.PostJSON(ctx, "/wallet/getaccount", map[string]interface{}{"address": addr, "visible": true}, &acct)
	})
	if err != nil {
		return nil, err
	}
	return big.NewInt(acct.Balance), nil
}

func (c *Currency) Balance(ctx context.Context, network, addr string) (string, error) {
	n, err := c.network(network)
	if err != nil {
		return "", err
	}
	if _, err := parseAddress(addr); err != nil {
		return "", err
	}
	bal, err := c.balanceSun(ctx, n, addr)
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
		{Key: "value", Label: "Amount (TRX)", Format: currency.FormatValue},
		{Key: "failed", Label: "Failed", Format: currency.FormatBoolean},
		{Key: currency.ConfirmedKey, Label: currency.ConfirmedKey, Format: currency.FormatBoolean},
	}
}

// RecentHistory lists the latest TRX transfers of addr, newest first.
// Contracts other than TransferContract are skipped.
func (c *Currency) RecentHistory(ctx context.Context, network, addr string) ([]currency.Transaction, error) {
	n, err := c.network(network)
	if err != nil {
		return nil, err
	}
	if _, err := parseAddress(addr); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("limit", strconv.Itoa(historyLimit))
	q.Set("only_confirmed", "false")
	var list gridList
	err = c.call(ctx, n, "history", func(ctx context.Context, rc *restclient.Client) error {
		return rc.GetJSON(ctx, "/v1/accounts/"+addr+"/transactions?"+q.Encode(), &list)
	})
	if err != nil {
		return nil, err
	}
	if !list.Success && list.Error != "" {
		return nil, errno.ErrNetwork.New("trongrid: %s", list.Error)
	}

	rows := make([]currency.Transaction, 0, len(list.Data))
	for _, tx := range list.Data {
		if len(tx.RawData.Contract) != 1 || tx.RawData.Contract[0].Type != "TransferContract" {
			continue
		}
		v := tx.RawData.Contract[0].Parameter.Value
		from, to := hexToBase58(v.OwnerAddress), hexToBase58(v.ToAddress)
		ts := tx.BlockTimestamp
		if ts == 0 {
			ts = tx.RawData.Timestamp
		}
		failed := len(tx.Ret) > 0 && tx.Ret[0].ContractRet != "" && tx.Ret[0].ContractRet != "SUCCESS"
		rows = append(rows, currency.Transaction{
			"txid":                {Value: tx.TxID, Link: n.Explorer + "/transaction/" + tx.TxID},
			"date":                {Value: currency.FormatTime(time.UnixMilli(ts))},
			"from":                {Value: from, Link: n.Explorer + "/address/" + from},
			"to":                  {Value: to, Link: n.Explorer + "/address/" + to},
			"value":               {Value: c.unit.FromBase(big.NewInt(v.Amount))},
			"failed":              {Value: currency.FormatBool(failed)},
			currency.ConfirmedKey: {Value: currency.FormatBool(tx.BlockNumber > 0)},
		})
		if len(rows) == historyLimit {
			break
		}
	}
	return rows, nil
}
