package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/redis/go-redis/v9"
)

// keyPrefix keeps storefront entries apart from anything else in a shared Redis.
const keyPrefix = "storefront:"

const catalogKey = keyPrefix + "catalog:products"

func NewRedisCache(client *redis.Client, baseTTL time.Duration) *RedisCache {
	return &RedisCache{
		client:  client,
		baseTTL: baseTTL,
	}
}

// RedisCache shares catalog snapshots between storefront processes on one machine.
type RedisCache struct {
	client  *redis.Client
	baseTTL time.Duration
}

func (r *RedisCache) GetProducts(ctx context.Context) ([]domain.ProductSnapshot, error) {
	var products []domain.ProductSnapshot
	if err := r.get(ctx, catalogKey, &products); err != nil {
		return nil, err
	}
	return products, nil
}

func (r *RedisCache) SetProducts(ctx context.Context, products []domain.ProductSnapshot) error {
	if err := r.set(ctx, catalogKey, products); err != nil {
		return err
	}
	for i := range products {
		if err := r.set(ctx, productKey(products[i].ID), &products[i]); err != nil {
			return err
		}
	}
	return nil
}

func (r *RedisCache) GetProduct(ctx context.Context, productID int64) (*domain.ProductSnapshot, error) {
	var product domain.ProductSnapshot
	if err := r.get(ctx, productKey(productID), &product); err != nil {
		return nil, err
	}
	return &product, nil
}

func (r *RedisCache) SetProduct(ctx context.Context, product *domain.ProductSnapshot) error {
	return r.set(ctx, productKey(product.ID), product)
}

func (r *RedisCache) Invalidate(ctx context.Context) error {
	keys := []string{catalogKey}
	iter := r.client.Scan(ctx, 0, keyPrefix+"product:*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan failed: %w", err)
	}

	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func (r *RedisCache) get(ctx context.Context, key string, out any) error {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrCacheMiss
	}
	if err != nil {
		return fmt.Errorf("redis get failed: %w", err)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal %s failed: %w", key, err)
	}
	return nil
}

func (r *RedisCache) set(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s failed: %w", key, err)
	}

	// jitter keeps entries written together from expiring together
	jitter := time.Duration(rand.Int63n(int64(r.baseTTL/4) + 1))
	if err := r.client.Set(ctx, key, data, r.baseTTL+jitter).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func productKey(productID int64) string {
	return fmt.Sprintf("%sproduct:%d", keyPrefix, productID)
}
