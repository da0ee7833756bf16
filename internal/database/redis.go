package database

import (
	"context"
	"log"

	"github.com/clearfunds/backend/internal/config"
	"github.com/go-redis/redis/v8"
)

// InitRedis connects the idempotency/webhook-event store. Redis is
// optional: the payment handlers degrade to pass-through behavior when it
// is unreachable, so a failed ping returns nil instead of aborting
// startup.
func InitRedis(cfg config.RedisConfig) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Printf("[REDIS] connection to %s failed, idempotency and webhook queueing disabled: %v", cfg.Addr, err)
		return nil
	}

	log.Printf("[REDIS] connected to %s", cfg.Addr)
	return rdb
}
