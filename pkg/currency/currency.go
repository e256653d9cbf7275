// Package currency defines the contract every supported network family
// implements for the display-verify-sign-broadcast flow, plus the registry
// callers resolve implementations from.
//
// All amounts crossing the contract (Amount, Balance, the value cells of a
// Transaction) are in normal units. NormalToBase and BaseToNormal are
// utilities for callers that need smallest-denomination integers.
package currency

import (
	"context"

	"kelvin-core/pkg/device"
)

// SignTxRequest is the caller's intent to move funds. It is passed unchanged
// from PrepareSignTx to BuildSignedTx.
type SignTxRequest struct {
	Network      string `json:"network" binding:"required"`
	AccountIndex uint32 `json:"accountIndex"`
	FromPubkey   string `json:"fromPubkey" binding:"required,pubkey"`
	ToAddr       string `json:"toAddr" binding:"required"`
	Amount       string `json:"amount" binding:"required"`
	FeeOpt       string `json:"feeOpt,omitempty"`
}

// Currency is implemented once per network family and shared by all callers.
// Implementations are safe for concurrent use.
type Currency interface {
	// Networks lists the supported networks, production network first.
	Networks() []string
	// FeeUnit returns errno.ErrFeeNotApplicable for currencies without a
	// user-selectable fee.
	FeeUnit() (string, error)
	IsValidFeeOption(network, feeOpt string) (bool, error)
	IsValidAddress(network, addr string) (bool, error)
	IsValidAmount(amount string) bool

	NormalToBase(amount string) (string, error)
	BaseToNormal(amount string) (string, error)

	AddressURL(network, addr string) (string, error)
	TxURL(network, txid string) (string, error)

	DeriveAddress(network, pubkey string) (string, error)

	// Balance returns the confirmed balance of addr in normal units.
	Balance(ctx context.Context, network, addr string) (string, error)
	HistorySchema() Schema
	// RecentHistory includes unconfirmed transactions where the source reports them.
	RecentHistory(ctx context.Context, network, addr string) ([]Transaction, error)
	// FeeOptions returns an empty slice, not an error, for fee-less currencies.
	FeeOptions(ctx context.Context, network string) ([]string, error)

	PreparedTxSchema() Schema
	PrepareSignTx(ctx context.Context, req SignTxRequest) (device.Command, Transaction, error)
	BuildSignedTx(req SignTxRequest, cmd device.Command, rsp device.Response) (string, error)
	SubmitTransaction(ctx context.Context, network, signedTx string) (string, error)

	PubkeyCommand(network string, account uint32) (device.Command, error)
	ParsePubkeyResponse(rsp device.Response) (string, error)
	ShowAddressCommand(network string, account uint32) (device.Command, error)

	Extras() Extras
}

// HashSigner is implemented by currencies whose device app can sign an
// arbitrary 32-byte digest.
type HashSigner interface {
	SignHashCommand(network string, account uint32, digest []byte) (device.Command, error)
	// ParseSignHashResponse returns the 64-byte R||S signature as hex.
	ParseSignHashResponse(rsp device.Response) (string, error)
}

// Extras carries family specific properties that do not belong in the
// contract itself.
type Extras struct {
	Symbol   string `json:"symbol"`
	Decimals int32  `json:"decimals"`
	// CoinType per network, the second level of m/44'/coin'/0'/0/account.
	CoinType map[string]uint32 `json:"coinType"`
	// Contracts holds the token contract per network (erc20 only).
	Contracts map[string]string `json:"contracts,omitempty"`
	// Confirmations a transaction needs before the history reports it final.
	Confirmations int `json:"confirmations"`
}

// HasNetwork reports whether c supports network.
func HasNetwork(c Currency, network string) bool {
	for _, n := range c.Networks() {
		if n == network {
			return true
		}
	}
	return false
}
