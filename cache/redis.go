// Package cache keeps analyses and keyframes in Redis so repeated runs can
// skip the expensive stages.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"mvsynth/config"
	"mvsynth/logger"
)

// RedisClient 是全局缓存客户端，未配置 Redis 时为 nil
var RedisClient *redis.Client

const (
	analysisPattern = "analysis:*"
	keyframePattern = "keyframe:*"
	healthKey       = "mvsynth:healthcheck"
)

// ConnectRedis 初始化缓存连接并确认服务可达
func ConnectRedis(ctx context.Context, cfg *config.Config) error {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  opTimeout,
		WriteTimeout: opTimeout,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return fmt.Errorf("failed to connect to Redis at %s: %w", client.Options().Addr, err)
	}
	RedisClient = client
	logger.Info("缓存已连接", logger.String("addr", client.Options().Addr), logger.Int("db", cfg.RedisDB))
	return nil
}

// CloseRedis 关闭缓存连接
func CloseRedis() error {
	if RedisClient == nil {
		return nil
	}
	err := RedisClient.Close()
	RedisClient = nil
	return err
}

// CheckRedis writes, reads back and deletes the health key.
func CheckRedis(ctx context.Context) error {
	if RedisClient == nil {
		return fmt.Errorf("Redis client not initialized")
	}
	want := fmt.Sprintf("ok-%d", time.Now().UnixNano())

	if err := RedisClient.Set(ctx, healthKey, want, time.Minute).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", healthKey, err)
	}
	got, err := RedisClient.Get(ctx, healthKey).Result()
	if err != nil {
		return fmt.Errorf("failed to get %s: %w", healthKey, err)
	}
	if got != want {
		return fmt.Errorf("unexpected value for %s: got %s", healthKey, got)
	}
	return RedisClient.Del(ctx, healthKey).Err()
}

// Stats counts cached entries per artifact kind.
type Stats struct {
	Analyses  int
	Keyframes int
}

// ArtifactStats scans the cache for analysis and keyframe entries.
func ArtifactStats(ctx context.Context, client *redis.Client) (Stats, error) {
	var st Stats
	var err error
	if st.Analyses, err = countKeys(ctx, client, analysisPattern); err != nil {
		return st, err
	}
	st.Keyframes, err = countKeys(ctx, client, keyframePattern)
	return st, err
}

// FlushArtifacts removes every cached analysis and keyframe.
func FlushArtifacts(ctx context.Context, client *redis.Client) (int, error) {
	total := 0
	for _, pattern := range []string{analysisPattern, keyframePattern} {
		n, err := DeletePattern(ctx, client, pattern)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func countKeys(ctx context.Context, client *redis.Client, pattern string) (int, error) {
	n := 0
	iter := client.Scan(ctx, 0, pattern, 500).Iterator()
	for iter.Next(ctx) {
		n++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("failed to scan %s: %w", pattern, err)
	}
	return n, nil
}
