package entitymem_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/bursar/entitymem"
)

type addItem struct {
	StructureName string `json:"structure_name,omitempty"`
	ItemName      string `json:"item_name,omitempty"`
	Amount        string `json:"amount,omitempty"`
}

func exercise(t *testing.T, s entitymem.Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Get(ctx, "c1")
	assert.True(t, errors.Is(err, entitymem.ErrNotFound))
	has, err := s.Has(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, has)

	p, err := entitymem.NewPartial("add_fee_item", addItem{StructureName: "Term 1 2025"}, []string{"item_name", "amount"})
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "c1", p))

	// Mutating the caller's copy does not leak into the store.
	p.Missing[0] = "changed"

	got, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "add_fee_item", got.Intent)
	assert.Equal(t, []string{"item_name", "amount"}, got.Missing)

	var req addItem
	require.NoError(t, got.Decode(&req))
	assert.Equal(t, "Term 1 2025", req.StructureName)

	has, err = s.Has(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, has)

	_, err = s.Get(ctx, "c2")
	assert.ErrorIs(t, err, entitymem.ErrNotFound)

	require.NoError(t, s.Clear(ctx, "c1"))
	_, err = s.Get(ctx, "c1")
	assert.ErrorIs(t, err, entitymem.ErrNotFound)
}

func TestMemory(t *testing.T) {
	exercise(t, entitymem.NewMemory(0, 0))
}

func TestMemoryExpires(t *testing.T) {
	s := entitymem.NewMemory(10, 20*time.Millisecond)
	ctx := context.Background()
	p, err := entitymem.NewPartial("publish_fee_structure", struct{}{}, []string{"structure_name"})
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "c1", p))

	assert.Eventually(t, func() bool {
		_, err := s.Get(ctx, "c1")
		return errors.Is(err, entitymem.ErrNotFound)
	}, time.Second, 10*time.Millisecond)
}

func TestMemoryEvictsOldest(t *testing.T) {
	s := entitymem.NewMemory(2, time.Minute)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		p, err := entitymem.NewPartial("x", struct{}{}, nil)
		require.NoError(t, err)
		require.NoError(t, s.Set(ctx, id, p))
	}
	assert.Equal(t, 2, s.Len())
	has, _ := s.Has(ctx, "a")
	assert.False(t, has)
}

func TestRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	exercise(t, entitymem.NewRedis(client, 0))
}

func TestRedisTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	s := entitymem.NewRedis(client, time.Minute).WithPrefix("test:")
	ctx := context.Background()
	p, err := entitymem.NewPartial("record_payment", struct{}{}, []string{"amount"})
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "c1", p))

	assert.True(t, mr.Exists("test:c1"))
	assert.Equal(t, time.Minute, mr.TTL("test:c1"))

	mr.FastForward(2 * time.Minute)
	_, err = s.Get(ctx, "c1")
	assert.ErrorIs(t, err, entitymem.ErrNotFound)
}
