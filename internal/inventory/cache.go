package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is a short-lived read cache for the low-stock and valuation queries.
// Entries expire quickly and are dropped on every ledger mutation, so the
// write path never depends on it.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache constructs Cache. A zero ttl defaults to 30 seconds.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Cache{client: client, ttl: ttl}
}

func lowStockKey(companyID, warehouseID int64) string {
	return fmt.Sprintf("inventory:lowstock:%d:%d", companyID, warehouseID)
}

func valuationKey(companyID, warehouseID int64) string {
	return fmt.Sprintf("inventory:valuation:%d:%d", companyID, warehouseID)
}

func companySetKey(companyID int64) string {
	return fmt.Sprintf("inventory:cachekeys:%d", companyID)
}

// GetLowStock returns the cached low-stock listing, if present.
func (c *Cache) GetLowStock(ctx context.Context, companyID, warehouseID int64) ([]LowStockItem, bool) {
	var items []LowStockItem
	if !c.get(ctx, lowStockKey(companyID, warehouseID), &items) {
		return nil, false
	}
	return items, true
}

// SetLowStock stores the low-stock listing.
func (c *Cache) SetLowStock(ctx context.Context, companyID, warehouseID int64, items []LowStockItem) {
	c.set(ctx, companyID, lowStockKey(companyID, warehouseID), items)
}

// GetValuation returns the cached valuation rows, if present.
func (c *Cache) GetValuation(ctx context.Context, companyID, warehouseID int64) ([]ValuationRow, bool) {
	var rows []ValuationRow
	if !c.get(ctx, valuationKey(companyID, warehouseID), &rows) {
		return nil, false
	}
	return rows, true
}

// SetValuation stores the valuation rows.
func (c *Cache) SetValuation(ctx context.Context, companyID, warehouseID int64, rows []ValuationRow) {
	c.set(ctx, companyID, valuationKey(companyID, warehouseID), rows)
}

// Invalidate drops every cached read for the company.
func (c *Cache) Invalidate(ctx context.Context, companyID int64) {
	if c == nil || c.client == nil {
		return
	}
	setKey := companySetKey(companyID)
	keys, err := c.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return
	}
	keys = append(keys, setKey)
	_ = c.client.Del(ctx, keys...).Err()
}

func (c *Cache) get(ctx context.Context, key string, target any) bool {
	if c == nil || c.client == nil {
		return false
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(payload, target) == nil
}

func (c *Cache) set(ctx context.Context, companyID int64, key string, value any) {
	if c == nil || c.client == nil {
		return
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return
	}
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, key, payload, c.ttl)
	pipe.SAdd(ctx, companySetKey(companyID), key)
	pipe.Expire(ctx, companySetKey(companyID), c.ttl)
	_, _ = pipe.Exec(ctx)
}
