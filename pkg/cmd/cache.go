package cmd

import (
	"context"
	"strings"
	"time"

	"github.com/cadencehq/cadence/pkg/cache"
)

func NewCache(ctx context.Context, cacheURL string) cache.Cache {
	if strings.HasPrefix(cacheURL, "redis://") || strings.HasPrefix(cacheURL, "rediss://") {
		c, err := cache.NewRedisCache(ctx, cacheURL)
		if err != nil {
			panic(err)
		}

		return c
	}

	return cache.NewMemoryCache(time.Minute)
}
