package server

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lukechampine.com/blake3"

	"kelvin-core/internal/handler"
	"kelvin-core/internal/journal"
	"kelvin-core/pkg/currency"
	"kelvin-core/pkg/currency/ethereum"
	"kelvin-core/pkg/currency/tron"
	"kelvin-core/pkg/device"
	"kelvin-core/pkg/device/simulator"
	"kelvin-core/pkg/errno"
	"kelvin-core/pkg/hdwallet"
	"kelvin-core/pkg/lock"
)

const generatorPub = "0479be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798483ada7726a3c4655da4fbfc0e1108a8fd17b448a68554199c47d08ffb10d4b8"

type apiResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"msg"`
	Data    json.RawMessage `json:"data"`
}

func newTestRouter(t *testing.T) *gin.Engine {
	gin.SetMode(gin.TestMode)
	reg := currency.NewRegistry()
	require.NoError(t, reg.Register("eth", ethereum.NewEther(ethereum.Options{})))
	require.NoError(t, reg.Register("trx", tron.New(tron.Options{})))

	j, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	r, err := NewHTTPRouter(handler.NewCurrencyHandler(reg, j))
	require.NoError(t, err)
	return r
}

func do(t *testing.T, r http.Handler, method, path string, body interface{}) apiResponse {
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var out apiResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealthAndMetrics(t *testing.T) {
	r := newTestRouter(t)
	resp := do(t, r, http.MethodGet, "/health", nil)
	assert.Equal(t, errno.OK.Code, resp.Code)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "http_requests_total"))
}

func TestListAndGetCurrency(t *testing.T) {
	r := newTestRouter(t)

	resp := do(t, r, http.MethodGet, "/api/v1/currencies", nil)
	require.Equal(t, errno.OK.Code, resp.Code)
	var list []struct {
		Name     string   `json:"name"`
		Networks []string `json:"networks"`
		FeeUnit  string   `json:"feeUnit"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &list))
	require.Len(t, list, 2)
	assert.Equal(t, "eth", list[0].Name)
	assert.Equal(t, "Gwei", list[0].FeeUnit)
	assert.Contains(t, list[0].Networks, "mainnet")
	assert.Empty(t, list[1].FeeUnit)

	resp = do(t, r, http.MethodGet, "/api/v1/currencies/eth", nil)
	assert.Equal(t, errno.OK.Code, resp.Code)
	assert.Contains(t, string(resp.Data), `"historySchema"`)

	resp = do(t, r, http.MethodGet, "/api/v1/currencies/doesnotexist", nil)
	assert.Equal(t, errno.ErrUnknownCurrency.Code, resp.Code)
}

func TestValidationEndpoints(t *testing.T) {
	r := newTestRouter(t)

	resp := do(t, r, http.MethodGet, "/api/v1/currencies/eth/networks/mainnet/address/not-an-address", nil)
	require.Equal(t, errno.OK.Code, resp.Code)
	assert.JSONEq(t, `{"address":"not-an-address","valid":false}`, string(resp.Data))

	resp = do(t, r, http.MethodGet, "/api/v1/currencies/eth/networks/ropsten/address/0x00", nil)
	assert.Equal(t, errno.ErrInvalidNetwork.Code, resp.Code)

	resp = do(t, r, http.MethodGet, "/api/v1/currencies/eth/amount/1.50", nil)
	assert.JSONEq(t, `{"amount":"1.50","valid":false}`, string(resp.Data))

	resp = do(t, r, http.MethodPost, "/api/v1/currencies/trx/convert", map[string]string{"amount": "1.5", "to": "base"})
	require.Equal(t, errno.OK.Code, resp.Code)
	assert.JSONEq(t, `{"amount":"1500000","unit":"base"}`, string(resp.Data))

	resp = do(t, r, http.MethodPost, "/api/v1/currencies/trx/convert", map[string]string{"amount": "abc", "to": "base"})
	assert.Equal(t, errno.ErrInvalidAmount.Code, resp.Code)
}

func TestDerive(t *testing.T) {
	r := newTestRouter(t)

	resp := do(t, r, http.MethodPost, "/api/v1/currencies/eth/networks/mainnet/derive", map[string]string{"pubkey": generatorPub})
	require.Equal(t, errno.OK.Code, resp.Code)
	var out struct {
		Address string `json:"address"`
		URL     string `json:"url"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &out))
	assert.Equal(t, "0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf", out.Address)
	assert.True(t, strings.HasSuffix(out.URL, "/address/0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf"))

	resp = do(t, r, http.MethodPost, "/api/v1/currencies/eth/networks/mainnet/derive", map[string]string{"pubkey": "04abc"})
	assert.Equal(t, errno.ErrBind.Code, resp.Code)
}

func TestFeesAndJournal(t *testing.T) {
	r := newTestRouter(t)

	resp := do(t, r, http.MethodGet, "/api/v1/currencies/trx/networks/mainnet/fees", nil)
	require.Equal(t, errno.OK.Code, resp.Code)
	assert.JSONEq(t, `{"unit":"","options":[]}`, string(resp.Data))

	resp = do(t, r, http.MethodGet, "/api/v1/journal", nil)
	require.Equal(t, errno.OK.Code, resp.Code)
	assert.JSONEq(t, `[]`, string(resp.Data))

	resp = do(t, r, http.MethodGet, "/api/v1/journal?limit=x", nil)
	assert.Equal(t, errno.ErrInvalidArgument.Code, resp.Code)
}

func TestPrepareRejectsBadBody(t *testing.T) {
	r := newTestRouter(t)
	resp := do(t, r, http.MethodPost, "/api/v1/currencies/eth/prepare", map[string]string{"network": "mainnet"})
	assert.Equal(t, errno.ErrBind.Code, resp.Code)
}

func TestBroadcastInFlight(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reg := currency.NewRegistry()
	require.NoError(t, reg.Register("trx", tron.New(tron.Options{})))

	const tx = "0a02"
	sum := blake3.Sum256([]byte(tx))
	l := lock.NewMemoryLock()
	held, err := l.Acquire(context.Background(), "broadcast:trx:mainnet:"+hex.EncodeToString(sum[:]), time.Minute)
	require.NoError(t, err)
	require.True(t, held)

	r, err := NewHTTPRouter(handler.NewCurrencyHandler(reg, nil, handler.WithLocker(l)))
	require.NoError(t, err)

	resp := do(t, r, http.MethodPost, "/api/v1/currencies/trx/networks/mainnet/broadcast", map[string]string{"tx": tx})
	assert.Equal(t, errno.ErrInFlight.Code, resp.Code)
}

func TestSignHashRoundTrip(t *testing.T) {
	r := newTestRouter(t)
	digest := strings.Repeat("ab", 32)

	resp := do(t, r, http.MethodPost, "/api/v1/currencies/eth/networks/mainnet/signhash", map[string]interface{}{"account": 0, "digest": digest})
	require.Equal(t, errno.OK.Code, resp.Code, resp.Message)
	var out struct {
		Command struct {
			ID      uint16 `json:"id"`
			Payload string `json:"payload"`
		} `json:"command"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &out))
	payload, err := hex.DecodeString(out.Command.Payload)
	require.NoError(t, err)

	w, err := hdwallet.FromMnemonic("abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about", "")
	require.NoError(t, err)
	s := device.NewSession(simulator.New(w).Opener())
	rsp, err := s.Exchange(context.Background(), device.Command{ID: out.Command.ID, Payload: payload})
	require.NoError(t, err)

	resp = do(t, r, http.MethodPost, "/api/v1/currencies/eth/signhash/signature", map[string]string{"response": hex.EncodeToString(rsp.Payload)})
	require.Equal(t, errno.OK.Code, resp.Code, resp.Message)
	var sig struct {
		Signature string `json:"signature"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &sig))
	assert.Len(t, sig.Signature, 128)

	// trx 没有摘要签名能力
	resp = do(t, r, http.MethodPost, "/api/v1/currencies/trx/networks/mainnet/signhash", map[string]interface{}{"digest": digest})
	assert.Equal(t, errno.ErrInvalidArgument.Code, resp.Code)

	resp = do(t, r, http.MethodPost, "/api/v1/currencies/eth/networks/mainnet/signhash", map[string]interface{}{"digest": "abcd"})
	assert.Equal(t, errno.ErrBind.Code, resp.Code)
}
