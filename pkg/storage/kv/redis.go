package kv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"stellar-hq/hermes/pkg/config"
)

// ErrNotCached indicates a cache miss.
var ErrNotCached = errors.New("not cached")

// Client wraps the redis connection used for distributed rate-limit
// buckets, the API-key validation cache, and DDoS tracking. Every
// operation is bounded by the configured op timeout.
type Client struct {
	rdb       *redis.Client
	opTimeout time.Duration
	logger    *slog.Logger
}

// NewClient connects to redis and verifies the connection with a ping.
func NewClient(ctx context.Context, cfg *config.CacheConfig) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid cache url: %w", err)
	}
	opts.PoolSize = cfg.PoolSize
	opts.DialTimeout = cfg.DialTimeout

	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to cache: %w", err)
	}

	return &Client{
		rdb:       rdb,
		opTimeout: cfg.OpTimeout,
		logger:    slog.Default().With("component", "storage.kv"),
	}, nil
}

// NewClientFromRedis wraps an existing redis client. Used by tests with
// miniredis.
func NewClientFromRedis(rdb *redis.Client, opTimeout time.Duration) *Client {
	return &Client{
		rdb:       rdb,
		opTimeout: opTimeout,
		logger:    slog.Default().With("component", "storage.kv"),
	}
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

func (c *Client) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.opTimeout)
}

// ----------------------------------------------------------------------------
// Token buckets
// ----------------------------------------------------------------------------

// bucketScript implements an atomic token bucket. The bucket state lives
// in a hash {tokens, ts}; refill is computed from the elapsed time since
// the last take using the caller-supplied clock so the decision and the
// state update cannot interleave with another gateway instance.
//
// KEYS[1] = bucket key
// ARGV[1] = capacity
// ARGV[2] = refill tokens per second
// ARGV[3] = cost
// ARGV[4] = now (unix microseconds)
//
// Returns {allowed (0/1), remaining tokens * 1000, retry-after millis}.
var bucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local state = redis.call('HMGET', key, 'tokens', 'ts')
local tokens = tonumber(state[1])
local ts = tonumber(state[2])
if tokens == nil then
  tokens = capacity
  ts = now
end

local elapsed = (now - ts) / 1000000.0
if elapsed > 0 then
  tokens = math.min(capacity, tokens + elapsed * refill)
end

local allowed = 0
local retry_ms = 0
if tokens >= cost then
  allowed = 1
  tokens = tokens - cost
else
  if refill > 0 then
    retry_ms = math.ceil((cost - tokens) / refill * 1000)
  else
    retry_ms = -1
  end
end

redis.call('HMSET', key, 'tokens', tokens, 'ts', now)
local ttl = 3600
if refill > 0 then
  ttl = math.max(60, math.ceil(capacity / refill) * 2)
end
redis.call('EXPIRE', key, ttl)

return {allowed, math.floor(tokens * 1000), retry_ms}
`)

// BucketDecision is the outcome of one token-bucket take.
type BucketDecision struct {
	Allowed    bool
	Remaining  float64
	RetryAfter time.Duration
}

// TakeToken atomically takes cost tokens from the named bucket, refilling
// it by refillPerSec since the last take up to capacity.
func (c *Client) TakeToken(ctx context.Context, key string, capacity, refillPerSec, cost float64) (BucketDecision, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	now := time.Now().UnixMicro()
	res, err := bucketScript.Run(ctx, c.rdb, []string{key},
		capacity, refillPerSec, cost, now).Int64Slice()
	if err != nil {
		return BucketDecision{}, fmt.Errorf("bucket script failed: %w", err)
	}
	if len(res) != 3 {
		return BucketDecision{}, fmt.Errorf("bucket script returned %d values", len(res))
	}

	d := BucketDecision{
		Allowed:   res[0] == 1,
		Remaining: float64(res[1]) / 1000.0,
	}
	if res[2] > 0 {
		d.RetryAfter = time.Duration(res[2]) * time.Millisecond
	}
	return d, nil
}

// PeekBucket reads the current token count without consuming.
func (c *Client) PeekBucket(ctx context.Context, key string) (float64, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	val, err := c.rdb.HGet(ctx, key, "tokens").Float64()
	if err == redis.Nil {
		return -1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to peek bucket: %w", err)
	}
	return val, nil
}

// ResetBucket deletes the bucket state so the next take starts full.
func (c *Client) ResetBucket(ctx context.Context, key string) error {
	ctx, cancel := c.bound(ctx)
	defer cancel()
	return c.rdb.Del(ctx, key).Err()
}

// ----------------------------------------------------------------------------
// API-key validation cache
// ----------------------------------------------------------------------------

const (
	apiKeyCachePrefix = "hermes:apikey:"
	apiKeyMissMarker  = "__miss__"
)

// CacheAPIKey stores a serialized validation result keyed by the key hash.
func (c *Client) CacheAPIKey(ctx context.Context, hash string, payload []byte, ttl time.Duration) error {
	ctx, cancel := c.bound(ctx)
	defer cancel()
	return c.rdb.Set(ctx, apiKeyCachePrefix+hash, payload, ttl).Err()
}

// CacheAPIKeyMiss records a negative entry so repeated probes with an
// unknown key skip the database.
func (c *Client) CacheAPIKeyMiss(ctx context.Context, hash string, ttl time.Duration) error {
	ctx, cancel := c.bound(ctx)
	defer cancel()
	return c.rdb.Set(ctx, apiKeyCachePrefix+hash, apiKeyMissMarker, ttl).Err()
}

// GetCachedAPIKey returns the cached payload for a key hash. A cached
// negative entry returns (nil, true, nil); an absent entry returns
// ErrNotCached.
func (c *Client) GetCachedAPIKey(ctx context.Context, hash string) (payload []byte, negative bool, err error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	val, err := c.rdb.Get(ctx, apiKeyCachePrefix+hash).Result()
	if err == redis.Nil {
		return nil, false, ErrNotCached
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read api-key cache: %w", err)
	}
	if val == apiKeyMissMarker {
		return nil, true, nil
	}
	return []byte(val), false, nil
}

// InvalidateAPIKey removes a cached entry, positive or negative.
func (c *Client) InvalidateAPIKey(ctx context.Context, hash string) error {
	ctx, cancel := c.bound(ctx)
	defer cancel()
	return c.rdb.Del(ctx, apiKeyCachePrefix+hash).Err()
}

// ----------------------------------------------------------------------------
// DDoS tracking
// ----------------------------------------------------------------------------

const (
	violationPrefix = "hermes:violations:"
	banPrefix       = "hermes:ban:"
)

// IncrViolations bumps the rate-limit violation counter for a client IP
// inside the sliding window and returns the new count.
func (c *Client) IncrViolations(ctx context.Context, ip string, window time.Duration) (int64, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	key := violationPrefix + ip
	pipe := c.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to count violation: %w", err)
	}
	return incr.Val(), nil
}

// Ban quarantines a client IP for the given duration.
func (c *Client) Ban(ctx context.Context, ip string, duration time.Duration) error {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	if err := c.rdb.Set(ctx, banPrefix+ip, time.Now().UTC().Format(time.RFC3339), duration).Err(); err != nil {
		return fmt.Errorf("failed to ban ip: %w", err)
	}
	c.logger.Warn("client ip banned", "ip", ip, "duration", duration)
	return nil
}

// IsBanned reports whether an IP is quarantined and the remaining ban time.
func (c *Client) IsBanned(ctx context.Context, ip string) (bool, time.Duration, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	ttl, err := c.rdb.TTL(ctx, banPrefix+ip).Result()
	if err != nil {
		return false, 0, fmt.Errorf("failed to check ban: %w", err)
	}
	if ttl <= 0 {
		return false, 0, nil
	}
	return true, ttl, nil
}

// Unban lifts a quarantine early.
func (c *Client) Unban(ctx context.Context, ip string) error {
	ctx, cancel := c.bound(ctx)
	defer cancel()
	return c.rdb.Del(ctx, banPrefix+ip).Err()
}

// ClearViolations resets the violation counter for an IP.
func (c *Client) ClearViolations(ctx context.Context, ip string) error {
	ctx, cancel := c.bound(ctx)
	defer cancel()
	return c.rdb.Del(ctx, violationPrefix+ip).Err()
}

// ----------------------------------------------------------------------------
// Access tokens
// ----------------------------------------------------------------------------

const (
	accessTokenPrefix  = "access_token:"
	authRequiredPrefix = "auth_required:"
)

// StoreAccessToken saves a refreshed access token for a subject. A zero
// ttl stores the token without expiry.
func (c *Client) StoreAccessToken(ctx context.Context, subject, token string, ttl time.Duration) error {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	if err := c.rdb.Set(ctx, accessTokenPrefix+subject, token, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store access token: %w", err)
	}
	return c.rdb.Del(ctx, authRequiredPrefix+subject).Err()
}

// GetAccessToken returns the stored token for a subject, or ErrNotCached
// when none is held.
func (c *Client) GetAccessToken(ctx context.Context, subject string) (string, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	val, err := c.rdb.Get(ctx, accessTokenPrefix+subject).Result()
	if err == redis.Nil {
		return "", ErrNotCached
	}
	if err != nil {
		return "", fmt.Errorf("failed to read access token: %w", err)
	}
	return val, nil
}

// MarkAuthRequired flags a subject whose token could not be refreshed so
// the next request forces re-authentication. The stored token is dropped.
func (c *Client) MarkAuthRequired(ctx context.Context, subject string) error {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	if err := c.rdb.Set(ctx, authRequiredPrefix+subject, "1", 0).Err(); err != nil {
		return fmt.Errorf("failed to flag re-auth: %w", err)
	}
	return c.rdb.Del(ctx, accessTokenPrefix+subject).Err()
}

// AuthRequired reports whether a subject has been flagged for re-auth.
func (c *Client) AuthRequired(ctx context.Context, subject string) (bool, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	n, err := c.rdb.Exists(ctx, authRequiredPrefix+subject).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check re-auth flag: %w", err)
	}
	return n > 0, nil
}
