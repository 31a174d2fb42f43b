package app

import (
	"context"
	"fmt"

	"care-portal/internal/config"
	"care-portal/internal/db"
	"care-portal/internal/logger"
	"care-portal/internal/otc"
	"care-portal/internal/redis"
	"care-portal/internal/session"
)

type Infra struct {
	DB    *db.DB
	Redis *redis.Client

	Sessions   session.Store
	Challenges otc.Store
}

// setupInfra connects the backing stores named by SESSION_STORE. OTC
// challenges live in Redis unless everything runs in memory.
func setupInfra(ctx context.Context, cfg config.Config) (*Infra, error) {
	infra := &Infra{}

	if cfg.SessionStore == "memory" {
		logger.Warn("using in-memory stores; sessions do not survive restarts", nil)
		infra.Sessions = session.NewMemoryStore()
		infra.Challenges = otc.NewMemoryStore(nil)
		return infra, nil
	}

	redisClient, err := redis.New(ctx, cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		return nil, err
	}
	infra.Redis = redisClient
	infra.Challenges = otc.NewRedisStore(redisClient.Client)

	logger.Info("redis ready", nil)

	switch cfg.SessionStore {
	case "postgres":
		database, err := db.Open(ctx, cfg.DatabaseDSN)
		if err != nil {
			_ = redisClient.Close()
			return nil, err
		}
		infra.DB = database
		infra.Sessions = session.NewPostgresStore(database)
		logger.Info("database ready", nil)
	default:
		infra.Sessions = session.NewRedisStore(redisClient.Client)
	}

	return infra, nil
}

// Healthy reports the first backing store that does not answer.
func (i *Infra) Healthy(ctx context.Context) error {
	if i.Redis != nil {
		if err := i.Redis.Healthy(ctx); err != nil {
			return err
		}
	}
	if i.DB != nil {
		if err := i.DB.PingContext(ctx); err != nil {
			return fmt.Errorf("db: ping: %w", err)
		}
	}
	return nil
}

func (i *Infra) Close() error {
	var firstErr error
	if i.DB != nil {
		if err := i.DB.Close(); err != nil {
			firstErr = err
		}
	}
	if i.Redis != nil {
		if err := i.Redis.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
