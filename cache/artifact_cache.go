package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-redis/redis/v8"

	"mvsynth/logger"
	"mvsynth/model"
)

const (
	opTimeout  = 5 * time.Second
	maxRetries = 2
)

// getWithRetry 获取缓存，临时错误最多重试2次（指数退避）。
// 键不存在或最终失败都返回 nil, false，让调用方重新计算。
func getWithRetry(ctx context.Context, client *redis.Client, key string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	retryDelay := 100 * time.Millisecond
	for attempt := 0; attempt < maxRetries; attempt++ {
		data, err := client.Get(ctx, key).Bytes()
		if err == nil {
			logger.Debug("缓存命中", logger.String("key", key), logger.Int("dataSize", len(data)))
			return data, true
		}
		if errors.Is(err, redis.Nil) {
			return nil, false
		}
		if attempt < maxRetries-1 {
			logger.Warn("获取缓存失败，准备重试",
				logger.String("key", key),
				logger.Int("attempt", attempt+1),
				logger.ErrorField(err))
			select {
			case <-ctx.Done():
				return nil, false
			case <-time.After(retryDelay):
			}
			retryDelay *= 2
			continue
		}
		logger.Error("获取缓存最终失败", logger.String("key", key), logger.ErrorField(err))
	}
	return nil, false
}

func setJSON(ctx context.Context, client *redis.Client, key string, v interface{}, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := client.Set(ctx, key, data, ttl).Err(); err != nil {
		logger.Error("设置缓存失败", logger.String("key", key), logger.ErrorField(err))
		return err
	}
	logger.Debug("缓存设置成功",
		logger.String("key", key),
		logger.Int("dataSize", len(data)),
		logger.Duration("expiration", ttl))
	return nil
}

// AnalysisCache stores analyses under the key the analyzer derives from the
// file digest and options.
type AnalysisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewAnalysisCache(client *redis.Client, ttl time.Duration) *AnalysisCache {
	return &AnalysisCache{client: client, ttl: ttl}
}

func (c *AnalysisCache) GetAnalysis(ctx context.Context, key string) (*model.Analysis, bool) {
	data, ok := getWithRetry(ctx, c.client, key)
	if !ok {
		return nil, false
	}
	var a model.Analysis
	if err := json.Unmarshal(data, &a); err != nil {
		logger.Warn("丢弃无法解析的分析缓存", logger.String("key", key), logger.ErrorField(err))
		return nil, false
	}
	return &a, true
}

func (c *AnalysisCache) SetAnalysis(ctx context.Context, key string, a *model.Analysis) error {
	return setJSON(ctx, c.client, key, a, c.ttl)
}

// KeyframeKey returns keyframe:{sha256(prompt|seed|WxH)}.
func KeyframeKey(k model.KeyframeKey) string {
	sum := sha256.Sum256([]byte(k.String()))
	return "keyframe:" + hex.EncodeToString(sum[:])
}

// KeyframeCache remembers generated keyframes across runs. An entry whose
// image file has disappeared counts as a miss.
type KeyframeCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewKeyframeCache(client *redis.Client, ttl time.Duration) *KeyframeCache {
	return &KeyframeCache{client: client, ttl: ttl}
}

func (c *KeyframeCache) GetKeyframe(ctx context.Context, key model.KeyframeKey) (*model.Keyframe, bool) {
	data, ok := getWithRetry(ctx, c.client, KeyframeKey(key))
	if !ok {
		return nil, false
	}
	var kf model.Keyframe
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, false
	}
	if _, err := os.Stat(kf.Path); err != nil {
		logger.Debug("关键帧文件已不存在", logger.String("path", kf.Path))
		return nil, false
	}
	return &kf, true
}

func (c *KeyframeCache) SetKeyframe(ctx context.Context, key model.KeyframeKey, kf *model.Keyframe) error {
	return setJSON(ctx, c.client, KeyframeKey(key), kf, c.ttl)
}

// DeletePattern 批量删除匹配模式的缓存键
func DeletePattern(ctx context.Context, client *redis.Client, pattern string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	keys, err := client.Keys(ctx, pattern).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list keys for %s: %w", pattern, err)
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if err := client.Del(ctx, keys...).Err(); err != nil {
		return 0, fmt.Errorf("failed to delete keys for %s: %w", pattern, err)
	}
	logger.Info("批量删除缓存成功", logger.String("pattern", pattern), logger.Int("deletedCount", len(keys)))
	return len(keys), nil
}
