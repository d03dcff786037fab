package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Redis is a Limiter shared between processes. Each key is a sorted set
// whose members are scored by their expiry in unix milliseconds.
type Redis struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &Redis{client: client, prefix: prefix, now: time.Now}
}

func (l *Redis) redisKey(key string) string {
	return l.prefix + ":" + key
}

func (l *Redis) Attempts(ctx context.Context, key string) (int, error) {
	rk := l.redisKey(key)
	now := l.now().UnixMilli()

	pipe := l.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, rk, "-inf", strconv.FormatInt(now, 10))
	card := pipe.ZCard(ctx, rk)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("count attempts: %w", err)
	}
	return int(card.Val()), nil
}

func (l *Redis) Hit(ctx context.Context, key string, window time.Duration) error {
	rk := l.redisKey(key)
	now := l.now()
	expiry := now.Add(window).UnixMilli()

	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, rk, "-inf", strconv.FormatInt(now.UnixMilli(), 10))
	pipe.ZAdd(ctx, rk, redis.Z{Score: float64(expiry), Member: uuid.NewString()})
	pipe.PExpireAt(ctx, rk, time.UnixMilli(expiry).Add(time.Minute))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record hit: %w", err)
	}
	return nil
}

// hitIfUnderScript prunes expired hits and adds one only while the set holds
// fewer than ARGV[2] members.
// KEYS[1] = sorted set, ARGV[1] = now ms, ARGV[2] = max, ARGV[3] = expiry ms, ARGV[4] = member
var hitIfUnderScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
if redis.call('ZCARD', KEYS[1]) >= tonumber(ARGV[2]) then
	return 0
end
redis.call('ZADD', KEYS[1], ARGV[3], ARGV[4])
redis.call('PEXPIREAT', KEYS[1], tonumber(ARGV[3]) + 60000)
return 1
`)

func (l *Redis) HitIfUnder(ctx context.Context, key string, window time.Duration, max int) (bool, error) {
	now := l.now()
	expiry := now.Add(window).UnixMilli()
	n, err := hitIfUnderScript.Run(ctx, l.client, []string{l.redisKey(key)},
		now.UnixMilli(), max, expiry, uuid.NewString()).Int()
	if err != nil {
		return false, fmt.Errorf("record hit: %w", err)
	}
	return n == 1, nil
}

func (l *Redis) SecondsUntilReset(ctx context.Context, key string) (int, error) {
	rk := l.redisKey(key)
	now := l.now()

	pipe := l.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, rk, "-inf", strconv.FormatInt(now.UnixMilli(), 10))
	oldest := pipe.ZRangeWithScores(ctx, rk, 0, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("read oldest hit: %w", err)
	}

	zs := oldest.Val()
	if len(zs) == 0 {
		return 0, nil
	}
	expiry := time.UnixMilli(int64(zs[0].Score))
	return ceilSeconds(expiry.Sub(now)), nil
}

// Clear removes every hit under key.
func (l *Redis) Clear(ctx context.Context, key string) error {
	if err := l.client.Del(ctx, l.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("clear %s: %w", key, err)
	}
	return nil
}
