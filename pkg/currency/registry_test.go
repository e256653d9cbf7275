package currency

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kelvin-core/pkg/errno"
)

type stubCurrency struct {
	Currency
	networks []string
}

func (s stubCurrency) Networks() []string { return s.networks }

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	eth := stubCurrency{networks: []string{"mainnet", "sepolia"}}
	require.NoError(t, r.Register("eth", eth))
	require.NoError(t, r.Register("btc", stubCurrency{networks: []string{"mainnet"}}))
	assert.Error(t, r.Register("eth", eth))
	assert.Error(t, r.Register("", eth))

	assert.Equal(t, []string{"eth", "btc"}, r.Names())

	c, err := r.Resolve("eth")
	require.NoError(t, err)
	assert.True(t, HasNetwork(c, "sepolia"))
	assert.False(t, HasNetwork(c, "ropsten"))
	assert.NoError(t, CheckNetwork(c.Networks(), "mainnet"))
	assert.ErrorIs(t, CheckNetwork(c.Networks(), "ropsten"), errno.ErrInvalidNetwork)

	_, err = r.Resolve("doesnotexist")
	assert.ErrorIs(t, err, errno.ErrUnknownCurrency)

	names := r.Names()
	names[0] = "mutated"
	assert.Equal(t, "eth", r.Names()[0])
}
