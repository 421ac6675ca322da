package server

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"heart-risk-predictor/internal/common/config"
	apperrors "heart-risk-predictor/internal/common/errors"
	"heart-risk-predictor/internal/common/logger"
	"heart-risk-predictor/internal/common/metrics"
)

// refillInterval is the period at which RefillRate tokens are added back.
const refillInterval = time.Second

// tokenBucket keeps one bucket per key as a hash of tokens and the time of
// the last refill. It returns {allowed, remaining, retry_after_ms}.
var tokenBucket = redis.NewScript(`
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local refill_tokens = tonumber(ARGV[3])
local interval_ms = tonumber(ARGV[4])
local ttl_seconds = tonumber(ARGV[5])

local state = redis.call('HMGET', key, 'tokens', 'last_refill_ms')
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if tokens == nil or last_refill == nil then
	tokens = capacity
	last_refill = now_ms
end

if interval_ms > 0 and refill_tokens > 0 then
	local elapsed = math.max(0, now_ms - last_refill)
	local intervals = math.floor(elapsed / interval_ms)
	if intervals > 0 then
		tokens = math.min(capacity, tokens + (intervals * refill_tokens))
		last_refill = last_refill + (intervals * interval_ms)
	end
end

local allowed = 0
local retry_after_ms = 0
if tokens > 0 then
	allowed = 1
	tokens = tokens - 1
else
	retry_after_ms = math.max(0, interval_ms - (now_ms - last_refill))
end

redis.call('HMSET', key, 'tokens', tokens, 'last_refill_ms', last_refill)
redis.call('EXPIRE', key, ttl_seconds)

return { allowed, tokens, retry_after_ms }
`)

// RateLimit limits requests per client IP with a Redis token bucket. It
// lets requests through when Redis is unavailable.
func RateLimit(cfg config.RateLimitConfig, rdb redis.Scripter, log logger.Logger) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil || cfg.Capacity <= 0 {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}

	ttl := bucketTTL(cfg)
	limit := strconv.Itoa(cfg.Capacity)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := rateKey(cfg.KeyPrefix, c)

			vals, err := tokenBucket.Run(c.Request().Context(), rdb, []string{key},
				time.Now().UnixMilli(),
				cfg.Capacity,
				cfg.RefillRate,
				refillInterval.Milliseconds(),
				int64(ttl/time.Second),
			).Int64Slice()
			if err != nil || len(vals) != 3 {
				log.Warn("Rate limiter unavailable, allowing request", map[string]interface{}{
					"key":   key,
					"error": fmt.Sprint(err),
				})
				return next(c)
			}

			allowed, remaining, retryMs := vals[0] == 1, vals[1], vals[2]
			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

			if !allowed {
				secs := int(math.Ceil(float64(retryMs) / 1000.0))
				if secs < 1 {
					secs = 1
				}
				h.Set("Retry-After", strconv.Itoa(secs))
				metrics.RateLimitRejections.Inc()
				return apperrors.NewRateLimitedError(time.Duration(retryMs) * time.Millisecond)
			}
			return next(c)
		}
	}
}

// bucketTTL keeps an idle bucket around at least until it would be full
// again.
func bucketTTL(cfg config.RateLimitConfig) time.Duration {
	if cfg.RefillRate <= 0 {
		return time.Hour
	}
	secs := int(math.Ceil(float64(cfg.Capacity)/float64(cfg.RefillRate))) + 1
	return time.Duration(secs) * time.Second
}

func rateKey(prefix string, c echo.Context) string {
	ip := c.RealIP()
	if ip == "" {
		ip = "unknown"
	}
	return prefix + "ip:" + ip
}
