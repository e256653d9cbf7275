package restclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kelvin-core/pkg/errno"
)

func TestClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/json":
			assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
			_, _ = io.WriteString(w, `{"value":42}`)
		case "/echo":
			b, _ := io.ReadAll(r.Body)
			assert.Equal(t, "text/plain", r.Header.Get("Content-Type"))
			_, _ = w.Write(append(b, '\n'))
		case "/bad":
			http.Error(w, "sendrawtransaction RPC error", http.StatusBadRequest)
		default:
			_, _ = io.WriteString(w, "not json")
		}
	}))
	defer srv.Close()

	c := New(srv.URL+"/", time.Second).WithHeader("X-Api-Key", "secret")
	ctx := context.Background()

	var out struct{ Value int }
	require.NoError(t, c.GetJSON(ctx, "/json", &out))
	assert.Equal(t, 42, out.Value)

	txt, err := c.PostText(ctx, "/echo", "deadbeef")
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", txt)

	_, err = c.PostText(ctx, "/bad", "00")
	assert.ErrorIs(t, err, errno.ErrNetwork)
	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusBadRequest, httpErr.StatusCode)

	err = c.GetJSON(ctx, "/other", &out)
	assert.ErrorIs(t, err, errno.ErrNetwork)
}

func TestClientUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := New(url, time.Second).GetJSON(context.Background(), "/", &struct{}{})
	assert.ErrorIs(t, err, errno.ErrNetwork)
}
