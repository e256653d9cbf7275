package currency

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kelvin-core/pkg/errno"
)

func TestUnitValidity(t *testing.T) {
	u := Unit{Decimals: 8}

	valid := []string{"1", "0.1", "0.00000001", "21000000", "123.456"}
	for _, v := range valid {
		assert.True(t, u.IsValidNormal(v), v)
	}

	invalid := []string{"", "0", "-1", "01", "1.", ".5", "1.0", "1.10", "0.000000001", "1e8", " 1", "abc", "1,5"}
	for _, v := range invalid {
		assert.False(t, u.IsValidNormal(v), v)
	}

	assert.True(t, u.IsValidBase("0"))
	assert.True(t, u.IsValidBase("100000000"))
	assert.False(t, u.IsValidBase("1.5"))
	assert.False(t, u.IsValidBase("007"))
}

func TestUnitRoundTrip(t *testing.T) {
	for _, decimals := range []int32{0, 6, 8, 18} {
		u := Unit{Decimals: decimals}
		for _, x := range []string{"1", "42", "0.5", "0.000001", "123456789.123456", "0.1"} {
			if !u.IsValidNormal(x) {
				continue
			}
			base, err := u.NormalToBase(x)
			require.NoError(t, err)
			back, err := u.BaseToNormal(base)
			require.NoError(t, err)
			assert.Equal(t, x, back, "decimals=%d", decimals)
		}
	}
}

func TestUnitConversion(t *testing.T) {
	u := Unit{Decimals: 18}
	base, err := u.NormalToBase("1.5")
	require.NoError(t, err)
	assert.Equal(t, "1500000000000000000", base)

	normal, err := u.BaseToNormal("1")
	require.NoError(t, err)
	assert.Equal(t, "0.000000000000000001", normal)

	normal, err = u.BaseToNormal("0")
	require.NoError(t, err)
	assert.Equal(t, "0", normal)

	_, err = u.NormalToBase("1.50")
	assert.ErrorIs(t, err, errno.ErrInvalidAmount)
	assert.ErrorIs(t, err, errno.ErrInvalidArgument)

	_, err = u.BaseToNormal("1.5")
	assert.ErrorIs(t, err, errno.ErrInvalidAmount)
}
