package database

import (
	"context"
	"fmt"
	"time"

	"github.com/featurehub-ai/platform/pkg/common/config"
	"github.com/featurehub-ai/platform/pkg/common/logger"
	"github.com/redis/go-redis/v9"
)

// RedisOptions builds the client options for the submission lock store.
// REDIS_URL wins over the REDIS_HOST/REDIS_PORT settings; REDIS_LOCK_DB, when
// set, moves the locks to their own logical database either way.
func RedisOptions(cfg *config.Config) (*redis.Options, error) {
	var opts *redis.Options
	if cfg.RedisURL != "" {
		parsed, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{
			Addr:     fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}
	}
	if cfg.RedisLockDB >= 0 {
		opts.DB = cfg.RedisLockDB
	}

	// Lock calls sit on the submit path; a slow Redis must fail the request
	// rather than hold it until the HTTP write timeout.
	timeout := cfg.RedisTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	opts.DialTimeout = timeout
	opts.ReadTimeout = timeout
	opts.WriteTimeout = timeout
	return opts, nil
}

// OpenRedis connects the lock store and verifies it with a ping. Unlike the
// database, an unreachable Redis is a startup error: a server that believes
// it holds cross-replica locks must actually have them.
func OpenRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	opts, err := RedisOptions(cfg)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", opts.Addr, err)
	}
	logger.Log.WithField("addr", opts.Addr).WithField("db", opts.DB).Info("Connected to Redis")
	return client, nil
}
