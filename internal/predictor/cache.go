package predictor

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"heart-risk-predictor/internal/models"
)

// Cache stores finished predictions keyed by model fingerprint and input.
type Cache interface {
	Get(ctx context.Context, key string) (*models.PredictionResult, bool, error)
	Set(ctx context.Context, key string, result *models.PredictionResult) error
}

// CacheKey hashes the model fingerprint and the aligned model input, so
// two submissions that differ only in formatting share an entry and a
// retrained model never reads its predecessor's entries.
func CacheKey(prefix, fingerprint string, x []float64) string {
	h := sha1.New()
	h.Write([]byte(fingerprint))
	buf := make([]byte, 0, 24)
	for _, v := range x {
		buf = strconv.AppendFloat(buf[:0], v, 'g', -1, 64)
		h.Write([]byte{'|'})
		h.Write(buf)
	}
	return prefix + hex.EncodeToString(h.Sum(nil))
}

type RedisCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewRedisCache(client redis.Cmdable, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, key string) (*models.PredictionResult, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var result models.PredictionResult
	if err := json.Unmarshal([]byte(val), &result); err != nil {
		return nil, false, err
	}
	return &result, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, result *models.PredictionResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, c.ttl).Err()
}
