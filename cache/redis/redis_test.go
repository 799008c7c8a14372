package redis_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/hay-ledger/cache/redis"
	"github.com/warp/hay-ledger/ledger"
)

func newTestCache(t *testing.T) (*redis.Cache, *goredis.Client) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	rdb := goredis.NewClient(&goredis.Options{Addr: addr})
	require.NoError(t, rdb.Ping(context.Background()).Err())
	t.Cleanup(func() { rdb.Close() })
	return redis.NewWithClient(rdb, time.Minute), rdb
}

func rows() []ledger.InventoryRow {
	return []ledger.InventoryRow{{
		StackID: "s1", StackName: "Lot 1", Commodity: "Alfalfa",
		LocationID: "l1", LocationName: "Barn",
		Bales: decimal.NewFromInt(60), Tons: decimal.NewFromInt(36),
	}}
}

func TestCache_MissFillHit(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	org := "org-" + uuid.NewString()

	_, version, ok, err := c.Load(ctx, org)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, version)

	require.NoError(t, c.Fill(ctx, org, version, rows()))

	got, _, ok, err := c.Load(ctx, org)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, got, 1)
	assert.True(t, got[0].Bales.Equal(decimal.NewFromInt(60)))
	assert.Equal(t, "Barn", got[0].LocationName)
}

func TestCache_InvalidateOrphansRacingFill(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	org := "org-" + uuid.NewString()

	// GIVEN: a reader computed rows under version 0
	_, version, _, err := c.Load(ctx, org)
	require.NoError(t, err)

	// WHEN: a write commits before the fill lands
	require.NoError(t, c.Invalidate(ctx, org))
	require.NoError(t, c.Fill(ctx, org, version, rows()))

	// THEN: the stale fill is never served
	_, current, ok, err := c.Load(ctx, org)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(1), current)
}

func TestCache_CorruptEntryIsAMiss(t *testing.T) {
	c, rdb := newTestCache(t)
	ctx := context.Background()
	org := "org-" + uuid.NewString()

	require.NoError(t, rdb.Set(ctx, "inv:"+org+":v0", "{not json", time.Minute).Err())

	_, _, ok, err := c.Load(ctx, org)
	require.NoError(t, err)
	assert.False(t, ok)
}
