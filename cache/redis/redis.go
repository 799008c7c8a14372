/*
Package redis caches inventory listings in Redis.

KEYS:
  inv:{org}:ver      current version, INCR on every committed write
  inv:{org}:v{n}     JSON rows computed while the version was n (TTL)

A fill that raced with a write lands under the old version and is never
read again; it expires with its TTL. The version key has no TTL: if it
reset, an old data key could become current again.
*/
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/warp/hay-ledger/ledger"
)

type Cache struct {
	rdb *goredis.Client
	ttl time.Duration
}

// New connects to addr and pings it.
func New(ctx context.Context, addr, password string, ttl time.Duration) (*Cache, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewWithClient(rdb, ttl), nil
}

func NewWithClient(rdb *goredis.Client, ttl time.Duration) *Cache {
	return &Cache{rdb: rdb, ttl: ttl}
}

func (c *Cache) Close() error {
	return c.rdb.Close()
}

func versionKey(orgID string) string {
	return "inv:" + orgID + ":ver"
}

func dataKey(orgID string, version int64) string {
	return "inv:" + orgID + ":v" + strconv.FormatInt(version, 10)
}

func (c *Cache) Load(ctx context.Context, orgID string) ([]ledger.InventoryRow, int64, bool, error) {
	version, err := c.rdb.Get(ctx, versionKey(orgID)).Int64()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return nil, 0, false, err
	}

	val, err := c.rdb.Get(ctx, dataKey(orgID, version)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, version, false, nil
	}
	if err != nil {
		return nil, 0, false, err
	}

	var rows []ledger.InventoryRow
	if err := json.Unmarshal(val, &rows); err != nil {
		// Treat a corrupt entry as a miss; the next fill overwrites it.
		return nil, version, false, nil
	}
	return rows, version, true, nil
}

func (c *Cache) Fill(ctx context.Context, orgID string, version int64, rows []ledger.InventoryRow) error {
	b, err := json.Marshal(rows)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, dataKey(orgID, version), b, c.ttl).Err()
}

func (c *Cache) Invalidate(ctx context.Context, orgID string) error {
	return c.rdb.Incr(ctx, versionKey(orgID)).Err()
}

var _ ledger.InventoryCache = (*Cache)(nil)
