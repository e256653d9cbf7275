package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type feeQuote struct {
	Options []string
}

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(time.Minute, time.Minute)

	in := feeQuote{Options: []string{"1", "2"}}
	require.NoError(t, c.Set(ctx, "k", in, time.Minute))
	in.Options[0] = "mutated"

	var out feeQuote
	require.NoError(t, c.Get(ctx, "k", &out))
	assert.Equal(t, []string{"1", "2"}, out.Options)

	require.NoError(t, c.Delete(ctx, "k"))
	assert.ErrorIs(t, c.Get(ctx, "k", &out), ErrCacheMiss)
}

func TestMultiLevelCache(t *testing.T) {
	ctx := context.Background()
	l1 := NewMemoryCache(time.Minute, time.Minute)
	l2 := NewMemoryCache(time.Minute, time.Minute)
	m := NewMultiLevelCache(l1, l2)

	// 只存在于 L2 的值会被回写到 L1
	require.NoError(t, l2.Set(ctx, "k", "v", time.Minute))
	var s string
	require.NoError(t, m.Get(ctx, "k", &s))
	assert.Equal(t, "v", s)

	s = ""
	require.NoError(t, l1.Get(ctx, "k", &s))
	assert.Equal(t, "v", s)

	require.NoError(t, m.Delete(ctx, "k"))
	assert.ErrorIs(t, m.Get(ctx, "k", &s), ErrCacheMiss)
}

func TestFetch(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(time.Minute, time.Minute)
	calls := 0
	load := func(context.Context) ([]string, error) {
		calls++
		return []string{"10", "20"}, nil
	}

	v, err := Fetch(ctx, c, "fees", time.Minute, load)
	require.NoError(t, err)
	assert.Equal(t, []string{"10", "20"}, v)

	v, err = Fetch(ctx, c, "fees", time.Minute, load)
	require.NoError(t, err)
	assert.Equal(t, []string{"10", "20"}, v)
	assert.Equal(t, 1, calls)

	boom := errors.New("boom")
	_, err = Fetch(ctx, c, "other", time.Minute, func(context.Context) (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)

	// nil cache 直接透传
	n, err := Fetch[int](ctx, nil, "x", time.Minute, func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}
