package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCounter(t *testing.T) (*miniredis.Miniredis, *Counter) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := NewWithClient(goredis.NewClient(&goredis.Options{
		Addr: mr.Addr(),
	}))
	t.Cleanup(func() { _ = c.Close() })
	return mr, c
}

func TestNew(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestCounter_Incr(t *testing.T) {
	mr, c := newTestCounter(t)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		v, err := c.Incr(ctx, "rotor:investor")
		require.NoError(t, err)
		assert.Equal(t, want, v)
	}

	v, err := c.Incr(ctx, "rotor:coach")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	got, err := mr.Get("rotor:investor")
	require.NoError(t, err)
	assert.Equal(t, "3", got)
}

func TestCounter_IncrExistingValue(t *testing.T) {
	mr, c := newTestCounter(t)
	require.NoError(t, mr.Set("rotor:coach", "4"))

	v, err := c.Incr(context.Background(), "rotor:coach")
	require.NoError(t, err)
	assert.Equal(t, int64(5), v)
}

func TestCounter_Errors(t *testing.T) {
	mr, c := newTestCounter(t)
	ctx := context.Background()

	require.NoError(t, mr.Set("rotor:coach", "not-a-number"))
	_, err := c.Incr(ctx, "rotor:coach")
	assert.Error(t, err)

	assert.NoError(t, c.Ping(ctx))
	mr.Close()
	assert.Error(t, c.Ping(ctx))
	_, err = c.Incr(ctx, "rotor:investor")
	assert.Error(t, err)
}
