package repository

import (
	"github.com/chucky-1/venue/internal/model"
	"github.com/go-redis/cache/v8"

	"context"
	"time"
)

// Cache keeps the latest tick of every symbol in redis
type Cache struct {
	cache *cache.Cache
}

// NewCache is constructor
func NewCache(cache *cache.Cache) *Cache {
	return &Cache{cache: cache}
}

// Set stores the tick under its symbol
func (c *Cache) Set(tick *model.Tick) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := c.cache.Set(&cache.Item{
		Ctx:   ctx,
		Key:   tick.Symbol,
		Value: tick,
		TTL:   time.Hour * 24,
	})
	if err != nil {
		return err
	}
	return nil
}

// Get returns the latest tick of the symbol
func (c *Cache) Get(symbol string) (*model.Tick, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	var tick model.Tick
	err := c.cache.Get(ctx, symbol, &tick)
	if err != nil {
		return nil, err
	}
	return &tick, nil
}
