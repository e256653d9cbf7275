package handler

import (
	"context"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"lukechampine.com/blake3"

	"kelvin-core/internal/handler/request"
	"kelvin-core/internal/handler/response"
	"kelvin-core/internal/journal"
	"kelvin-core/pkg/currency"
	"kelvin-core/pkg/device"
	"kelvin-core/pkg/errno"
	"kelvin-core/pkg/lock"
	"kelvin-core/pkg/logger"
	"kelvin-core/pkg/validator"
)

// CurrencyHandler exposes the read and prepare half of the currency contract
// to UI callers. Signing stays with the caller's device.
type CurrencyHandler struct {
	registry *currency.Registry
	journal  *journal.Journal
	locker   lock.Locker
}

type Option func(*CurrencyHandler)

// WithLocker 多实例部署时传入 Redis 锁, 避免同一笔交易被并发广播
func WithLocker(l lock.Locker) Option {
	return func(h *CurrencyHandler) { h.locker = l }
}

// broadcastLockTTL 覆盖一次 SubmitTransaction 的最长耗时
const broadcastLockTTL = 30 * time.Second

// NewCurrencyHandler; j 可以为 nil (不记录广播, /journal 返回空列表)
func NewCurrencyHandler(reg *currency.Registry, j *journal.Journal, opts ...Option) *CurrencyHandler {
	h := &CurrencyHandler{registry: reg, journal: j, locker: lock.NewMemoryLock()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type currencyInfo struct {
	Name     string          `json:"name"`
	Networks []string        `json:"networks"`
	FeeUnit  string          `json:"feeUnit,omitempty"`
	Extras   currency.Extras `json:"extras"`
}

func info(name string, cur currency.Currency) currencyInfo {
	unit, _ := cur.FeeUnit()
	return currencyInfo{Name: name, Networks: cur.Networks(), FeeUnit: unit, Extras: cur.Extras()}
}

// resolve 解析 :currency 与 (可选的) :network 路由参数
func (h *CurrencyHandler) resolve(c *gin.Context) (currency.Currency, string, bool) {
	cur, err := h.registry.Resolve(c.Param("currency"))
	if err != nil {
		response.Error(c, err)
		return nil, "", false
	}
	network := c.Param("network")
	if network != "" {
		if err := currency.CheckNetwork(cur.Networks(), network); err != nil {
			response.Error(c, err)
			return nil, "", false
		}
	}
	return cur, network, true
}

func bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		response.Error(c, errno.ErrBind.New("%s", validator.GetErrorMsg(err)))
		return false
	}
	return true
}

// ListCurrencies GET /api/v1/currencies
func (h *CurrencyHandler) ListCurrencies(c *gin.Context) {
	names := h.registry.Names()
	out := make([]currencyInfo, 0, len(names))
	for _, name := range names {
		cur, _ := h.registry.Resolve(name)
		out = append(out, info(name, cur))
	}
	response.Success(c, out)
}

// GetCurrency GET /api/v1/currencies/:currency
func (h *CurrencyHandler) GetCurrency(c *gin.Context) {
	cur, _, ok := h.resolve(c)
	if !ok {
		return
	}
	response.Success(c, gin.H{
		"currency":         info(c.Param("currency"), cur),
		"historySchema":    cur.HistorySchema(),
		"preparedTxSchema": cur.PreparedTxSchema(),
	})
}

// ValidateAddress GET /api/v1/currencies/:currency/networks/:network/address/:address
func (h *CurrencyHandler) ValidateAddress(c *gin.Context) {
	cur, network, ok := h.resolve(c)
	if !ok {
		return
	}
	addr := c.Param("address")
	valid, err := cur.IsValidAddress(network, addr)
	if err != nil {
		response.Error(c, err)
		return
	}
	data := gin.H{"address": addr, "valid": valid}
	if valid {
		if u, err := cur.AddressURL(network, addr); err == nil {
			data["url"] = u
		}
	}
	response.Success(c, data)
}

// ValidateAmount GET /api/v1/currencies/:currency/amount/:amount
func (h *CurrencyHandler) ValidateAmount(c *gin.Context) {
	cur, _, ok := h.resolve(c)
	if !ok {
		return
	}
	amount := c.Param("amount")
	response.Success(c, gin.H{"amount": amount, "valid": cur.IsValidAmount(amount)})
}

// Convert POST /api/v1/currencies/:currency/convert
func (h *CurrencyHandler) Convert(c *gin.Context) {
	cur, _, ok := h.resolve(c)
	if !ok {
		return
	}
	var req request.ConvertRequest
	if !bindJSON(c, &req) {
		return
	}
	var (
		out string
		err error
	)
	if req.To == "base" {
		out, err = cur.NormalToBase(req.Amount)
	} else {
		out, err = cur.BaseToNormal(req.Amount)
	}
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"amount": out, "unit": req.To})
}

// Derive POST /api/v1/currencies/:currency/networks/:network/derive
func (h *CurrencyHandler) Derive(c *gin.Context) {
	cur, network, ok := h.resolve(c)
	if !ok {
		return
	}
	var req request.DeriveRequest
	if !bindJSON(c, &req) {
		return
	}
	addr, err := cur.DeriveAddress(network, req.Pubkey)
	if err != nil {
		response.Error(c, err)
		return
	}
	u, _ := cur.AddressURL(network, addr)
	response.Success(c, gin.H{"address": addr, "url": u})
}

// Balance GET /api/v1/currencies/:currency/networks/:network/balance/:address
func (h *CurrencyHandler) Balance(c *gin.Context) {
	cur, network, ok := h.resolve(c)
	if !ok {
		return
	}
	bal, err := cur.Balance(c.Request.Context(), network, c.Param("address"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"balance": bal, "symbol": cur.Extras().Symbol})
}

// History GET /api/v1/currencies/:currency/networks/:network/history/:address
func (h *CurrencyHandler) History(c *gin.Context) {
	cur, network, ok := h.resolve(c)
	if !ok {
		return
	}
	rows, err := cur.RecentHistory(c.Request.Context(), network, c.Param("address"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"schema": cur.HistorySchema(), "transactions": rows})
}

// Fees GET /api/v1/currencies/:currency/networks/:network/fees
func (h *CurrencyHandler) Fees(c *gin.Context) {
	cur, network, ok := h.resolve(c)
	if !ok {
		return
	}
	opts, err := cur.FeeOptions(c.Request.Context(), network)
	if err != nil {
		response.Error(c, err)
		return
	}
	unit, err := cur.FeeUnit()
	if err != nil && !errors.Is(err, errno.ErrFeeNotApplicable) {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"unit": unit, "options": opts})
}

func encodeCommand(cmd device.Command) request.Command {
	return request.Command{ID: cmd.ID, Payload: hex.EncodeToString(cmd.Payload)}
}

// Prepare POST /api/v1/currencies/:currency/prepare
func (h *CurrencyHandler) Prepare(c *gin.Context) {
	cur, _, ok := h.resolve(c)
	if !ok {
		return
	}
	var req currency.SignTxRequest
	if !bindJSON(c, &req) {
		return
	}
	cmd, view, err := cur.PrepareSignTx(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{
		"command": encodeCommand(cmd),
		"schema":  cur.PreparedTxSchema(),
		"view":    view,
	})
}

// Finalize POST /api/v1/currencies/:currency/finalize
func (h *CurrencyHandler) Finalize(c *gin.Context) {
	cur, _, ok := h.resolve(c)
	if !ok {
		return
	}
	var req request.FinalizeRequest
	if !bindJSON(c, &req) {
		return
	}
	payload, err := hex.DecodeString(strings.TrimPrefix(req.Command.Payload, "0x"))
	if err != nil {
		response.Error(c, errno.ErrInvalidArgument.Wrap(err, "command payload"))
		return
	}
	rsp, err := hex.DecodeString(strings.TrimPrefix(req.Response, "0x"))
	if err != nil {
		response.Error(c, errno.ErrInvalidArgument.Wrap(err, "device response"))
		return
	}
	signed, err := cur.BuildSignedTx(req.Request, device.Command{ID: req.Command.ID, Payload: payload}, device.Response{Payload: rsp})
	if err != nil {
		response.Error(c, err)
		return
	}
	h.record(journal.Record{Kind: journal.KindSigned, Currency: c.Param("currency"), Network: req.Request.Network,
		To: req.Request.ToAddr, Amount: req.Request.Amount, SignedTx: signed})
	response.Success(c, gin.H{"tx": signed})
}

func hashSigner(c *gin.Context, cur currency.Currency) (currency.HashSigner, bool) {
	hs, ok := cur.(currency.HashSigner)
	if !ok {
		response.Error(c, errno.ErrInvalidArgument.New("%s cannot sign raw hashes", c.Param("currency")))
	}
	return hs, ok
}

// SignHash POST /api/v1/currencies/:currency/networks/:network/signhash
// 返回让设备签名 32 字节摘要的命令
func (h *CurrencyHandler) SignHash(c *gin.Context) {
	cur, network, ok := h.resolve(c)
	if !ok {
		return
	}
	hs, ok := hashSigner(c, cur)
	if !ok {
		return
	}
	var req request.SignHashRequest
	if !bindJSON(c, &req) {
		return
	}
	digest, err := hex.DecodeString(req.Digest)
	if err != nil {
		response.Error(c, errno.ErrInvalidArgument.Wrap(err, "digest"))
		return
	}
	cmd, err := hs.SignHashCommand(network, req.Account, digest)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"command": encodeCommand(cmd)})
}

// SignHashSignature POST /api/v1/currencies/:currency/signhash/signature
func (h *CurrencyHandler) SignHashSignature(c *gin.Context) {
	cur, _, ok := h.resolve(c)
	if !ok {
		return
	}
	hs, ok := hashSigner(c, cur)
	if !ok {
		return
	}
	var req request.SignHashResponse
	if !bindJSON(c, &req) {
		return
	}
	rsp, err := hex.DecodeString(strings.TrimPrefix(req.Response, "0x"))
	if err != nil {
		response.Error(c, errno.ErrInvalidArgument.Wrap(err, "device response"))
		return
	}
	sig, err := hs.ParseSignHashResponse(device.Response{Payload: rsp})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"signature": sig})
}

// Broadcast POST /api/v1/currencies/:currency/networks/:network/broadcast
func (h *CurrencyHandler) Broadcast(c *gin.Context) {
	cur, network, ok := h.resolve(c)
	if !ok {
		return
	}
	var req request.BroadcastRequest
	if !bindJSON(c, &req) {
		return
	}
	sum := blake3.Sum256([]byte(req.Tx))
	key := "broadcast:" + c.Param("currency") + ":" + network + ":" + hex.EncodeToString(sum[:])
	ok, err := h.locker.Acquire(c.Request.Context(), key, broadcastLockTTL)
	if err != nil {
		response.Error(c, errno.InternalServerError.Wrap(err, "acquire broadcast lock"))
		return
	}
	if !ok {
		response.Error(c, errno.ErrInFlight.New("retry after the pending broadcast finishes"))
		return
	}
	defer func() {
		if err := h.locker.Release(context.Background(), key); err != nil {
			logger.Warn("release broadcast lock", zap.String("key", key), zap.Error(err))
		}
	}()

	txid, err := cur.SubmitTransaction(c.Request.Context(), network, req.Tx)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.record(journal.Record{Kind: journal.KindBroadcast, Currency: c.Param("currency"), Network: network, TxID: txid, SignedTx: req.Tx})
	u, _ := cur.TxURL(network, txid)
	response.Success(c, gin.H{"txid": txid, "url": u})
}

func (h *CurrencyHandler) record(r journal.Record) {
	if h.journal == nil {
		return
	}
	if _, err := h.journal.Append(r); err != nil {
		logger.Warn("journal append failed", zap.String("currency", r.Currency), zap.Error(err))
	}
}

// Journal GET /api/v1/journal?limit=20
func (h *CurrencyHandler) Journal(c *gin.Context) {
	if h.journal == nil {
		response.Success(c, []journal.Record{})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit < 0 {
		response.Error(c, errno.ErrInvalidArgument.New("limit must be a non-negative integer"))
		return
	}
	records, err := h.journal.List(limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	if records == nil {
		records = []journal.Record{}
	}
	response.Success(c, records)
}
