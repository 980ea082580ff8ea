package redis

import (
	"github.com/redis/go-redis/v9"

	"github.com/zaihebian/LeadGenNewVersion/internal/config"
)

// NewClient builds the redis client used for dedup and retry bookkeeping.
func NewClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}
