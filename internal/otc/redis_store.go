package otc

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Challenges are stored as hashes so the attempt counter can be bumped with
// HINCRBY without a read-modify-write of the whole record.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "otc:"}
}

func (r *RedisStore) key(sessionID string) string {
	return r.prefix + sessionID
}

// incrementScript bumps attempts only on an existing challenge; a bare
// HINCRBY would resurrect a deleted key as an empty hash.
var incrementScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return -1
end
return redis.call("HINCRBY", KEYS[1], "attempts", 1)
`)

func (r *RedisStore) Get(ctx context.Context, sessionID string) (*Challenge, error) {
	vals, err := r.client.HGetAll(ctx, r.key(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("otc: redis get: %w", err)
	}
	if len(vals) == 0 {
		return nil, nil
	}

	attempts, _ := strconv.Atoi(vals["attempts"])
	maxAttempts, _ := strconv.Atoi(vals["maxAttempts"])
	expiresAt, _ := strconv.ParseInt(vals["expiresAt"], 10, 64)
	if vals["methodId"] == "" || maxAttempts == 0 {
		return nil, errors.New("otc: corrupt challenge record")
	}

	return &Challenge{
		MethodID:      vals["methodId"],
		Method:        Method(vals["method"]),
		Destination:   vals["destination"],
		Attempts:      attempts,
		MaxAttempts:   maxAttempts,
		ExpiresAt:     expiresAt,
		StytchUserID:  vals["stytchUserId"],
		LastRequestID: vals["lastRequestId"],
	}, nil
}

func (r *RedisStore) Put(ctx context.Context, sessionID string, c Challenge, ttl time.Duration) error {
	key := r.key(sessionID)
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, key)
		p.HSet(ctx, key, map[string]any{
			"methodId":      c.MethodID,
			"method":        string(c.Method),
			"destination":   c.Destination,
			"attempts":      c.Attempts,
			"maxAttempts":   c.MaxAttempts,
			"expiresAt":     c.ExpiresAt,
			"stytchUserId":  c.StytchUserID,
			"lastRequestId": c.LastRequestID,
		})
		if ttl > 0 {
			p.Expire(ctx, key, ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("otc: redis put: %w", err)
	}
	return nil
}

func (r *RedisStore) IncrementAttempts(ctx context.Context, sessionID string) (int, error) {
	n, err := incrementScript.Run(ctx, r.client, []string{r.key(sessionID)}).Int()
	if err != nil {
		return 0, fmt.Errorf("otc: redis increment: %w", err)
	}
	if n < 0 {
		return 0, ErrNoActiveChallenge
	}
	return n, nil
}

func (r *RedisStore) Delete(ctx context.Context, sessionID string) error {
	return r.client.Del(ctx, r.key(sessionID)).Err()
}
