package cart

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient is the subset of *redis.Client used by RedisStore.
type RedisClient interface {
	Pipeline() redis.Pipeliner
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisStore keeps each cart as two hashes: quantities and unit prices.
type RedisStore struct {
	client    RedisClient
	keyPrefix string
	ttl       time.Duration
}

// NewRedisStore constructs a Redis-backed cart store. ttl <= 0 keeps carts
// until cleared.
func NewRedisStore(client RedisClient, keyPrefix string, ttl time.Duration) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "cart:"
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix, ttl: ttl}
}

func (r *RedisStore) qtyKey(sessionID string) string   { return r.keyPrefix + sessionID + ":qty" }
func (r *RedisStore) priceKey(sessionID string) string { return r.keyPrefix + sessionID + ":price" }

// Add increments the line quantity and records the latest unit price.
func (r *RedisStore) Add(ctx context.Context, sessionID string, item Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validate(sessionID, item); err != nil {
		return err
	}

	qtyKey, priceKey := r.qtyKey(sessionID), r.priceKey(sessionID)
	pipe := r.client.Pipeline()
	pipe.HIncrBy(ctx, qtyKey, item.ProductID, item.Quantity)
	pipe.HSet(ctx, priceKey, item.ProductID, item.Price)
	if r.ttl > 0 {
		pipe.Expire(ctx, qtyKey, r.ttl)
		pipe.Expire(ctx, priceKey, r.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Items returns the cart lines sorted by product id.
func (r *RedisStore) Items(ctx context.Context, sessionID string) ([]Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	qty, err := r.client.HGetAll(ctx, r.qtyKey(sessionID)).Result()
	if err != nil {
		return nil, err
	}
	prices, err := r.client.HGetAll(ctx, r.priceKey(sessionID)).Result()
	if err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(qty))
	for productID, rawQty := range qty {
		n, err := strconv.ParseInt(rawQty, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("cart %s quantity for %s: %w", sessionID, productID, err)
		}
		var price int64
		if raw, ok := prices[productID]; ok {
			if price, err = strconv.ParseInt(raw, 10, 64); err != nil {
				return nil, fmt.Errorf("cart %s price for %s: %w", sessionID, productID, err)
			}
		}
		items = append(items, Item{ProductID: productID, Quantity: n, Price: price})
	}
	sortItems(items)
	return items, nil
}

// Clear deletes both hashes of the cart.
func (r *RedisStore) Clear(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if sessionID == "" {
		return ErrSessionRequired
	}
	return r.client.Del(ctx, r.qtyKey(sessionID), r.priceKey(sessionID)).Err()
}
