package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/approvio/approvio/pkg/cache"
)

// NewCache selects the cache backend from the URL scheme. redis:// URLs get
// Redis; memory:// or empty gets the in-process cache.
func NewCache(ctx context.Context, cacheURL string) (cache.Cache, error) {
	switch parseProvider(cacheURL) {
	case "redis":
		addr := strings.TrimPrefix(cacheURL, "redis://")

		redisCache, err := cache.NewRedisCache(ctx, map[string]string{"addr": addr})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}

		return redisCache, nil
	case "", "memory":
		return cache.NewMemoryCache(), nil
	default:
		return nil, fmt.Errorf("unsupported cache provider: %s", parseProvider(cacheURL))
	}
}
