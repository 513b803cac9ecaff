package storage

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"golang.org/x/sync/errgroup"

	"mvsynth/config"
	"mvsynth/logger"
)

const (
	videoPrefix    = "videos"
	keyframePrefix = "keyframes"
	uploadWorkers  = 4
)

// Client 封装了 MinIO 客户端
type Client struct {
	client *minio.Client
	bucket string
}

// NewClient connects to MinIO and creates the bucket when missing.
func NewClient(ctx context.Context, cfg *config.Config) (*Client, error) {
	logger.Info("正在连接 MinIO 服务器...",
		logger.String("endpoint", cfg.MinioEndpoint),
		logger.String("bucket", cfg.MinioBucket))

	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
		Region: cfg.MinioRegion,
	})
	if err != nil {
		return nil, fmt.Errorf("创建 MinIO 客户端失败: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	// 检查存储桶是否存在
	exists, err := client.BucketExists(ctx, cfg.MinioBucket)
	if err != nil {
		return nil, fmt.Errorf("检查存储桶失败: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.MinioBucket, minio.MakeBucketOptions{Region: cfg.MinioRegion}); err != nil {
			return nil, fmt.Errorf("创建存储桶失败: %w", err)
		}
		logger.Info("成功创建存储桶", logger.String("bucket", cfg.MinioBucket))
	}
	return &Client{client: client, bucket: cfg.MinioBucket}, nil
}

func (c *Client) Bucket() string { return c.bucket }

// VideoKey returns videos/{runID}/{file}.
func VideoKey(runID, file string) string {
	return path.Join(videoPrefix, runID, filepath.Base(file))
}

// KeyframeKey returns keyframes/{runID}/{file}.
func KeyframeKey(runID, file string) string {
	return path.Join(keyframePrefix, runID, filepath.Base(file))
}

// UploadFile uploads a local file under key.
func (c *Client) UploadFile(ctx context.Context, key, localPath string) error {
	info, err := c.client.FPutObject(ctx, c.bucket, key, localPath, minio.PutObjectOptions{
		ContentType: contentTypeOf(localPath),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", localPath, err)
	}
	logger.Debug("上传完成", logger.String("key", key), logger.Int64("size", info.Size))
	return nil
}

// UploadRun uploads a run's final video and keyframes in parallel and
// returns the video's object key. The first failure cancels the rest.
func (c *Client) UploadRun(ctx context.Context, runID, videoPath string, keyframes []string) (string, error) {
	start := time.Now()
	videoKey := VideoKey(runID, videoPath)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uploadWorkers)
	g.Go(func() error {
		return c.UploadFile(gctx, videoKey, videoPath)
	})
	for _, kf := range keyframes {
		kf := kf // per-iteration copy (go 1.21 loop semantics)
		g.Go(func() error {
			return c.UploadFile(gctx, KeyframeKey(runID, kf), kf)
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	logger.Info("运行产物上传完成",
		logger.String("runId", runID),
		logger.String("videoKey", videoKey),
		logger.Int("keyframes", len(keyframes)),
		logger.Duration("elapsed", time.Since(start)))
	return videoKey, nil
}

// PresignGet returns a temporary download URL for key.
func (c *Client) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	u, err := c.client.PresignedGetObject(ctx, c.bucket, key, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("failed to presign %s: %w", key, err)
	}
	return u.String(), nil
}
