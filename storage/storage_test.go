package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"mvsynth/config"
)

func TestObjectKeys(t *testing.T) {
	if got := VideoKey("run-1", "/out/mvsynth_20240101_120000.mp4"); got != "videos/run-1/mvsynth_20240101_120000.mp4" {
		t.Errorf("VideoKey = %s", got)
	}
	if got := KeyframeKey("run-1", "/kf/run-1/keyframe_003.png"); got != "keyframes/run-1/keyframe_003.png" {
		t.Errorf("KeyframeKey = %s", got)
	}
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		size int64
		want string
	}{
		{512, "512 B"},
		{2048, "2.0 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
	}
	for _, tt := range tests {
		if got := FormatSize(tt.size); got != tt.want {
			t.Errorf("FormatSize(%d) = %s, want %s", tt.size, got, tt.want)
		}
	}
}

func TestContentTypeOf(t *testing.T) {
	if got := contentTypeOf("a/B.MP4"); got != "video/mp4" {
		t.Errorf("got %s", got)
	}
	if got := contentTypeOf("keyframe_000.png"); got != "image/png" {
		t.Errorf("got %s", got)
	}
	if got := contentTypeOf("x.bin"); got != "application/octet-stream" {
		t.Errorf("got %s", got)
	}
}

// TestUploadRun runs against MINIO_TEST_ENDPOINT (minioadmin credentials).
func TestUploadRun(t *testing.T) {
	endpoint := os.Getenv("MINIO_TEST_ENDPOINT")
	if endpoint == "" {
		t.Skip("MINIO_TEST_ENDPOINT not set")
	}
	ctx := context.Background()
	c, err := NewClient(ctx, &config.Config{
		MinioEndpoint:  endpoint,
		MinioAccessKey: "minioadmin",
		MinioSecretKey: "minioadmin",
		MinioBucket:    "mvsynth-test",
		MinioRegion:    "us-east-1",
	})
	if err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	video := filepath.Join(dir, "final.mp4")
	kf := filepath.Join(dir, "keyframe_000.png")
	os.WriteFile(video, []byte("video"), 0644)
	os.WriteFile(kf, []byte("png"), 0644)

	key, err := c.UploadRun(ctx, "test-run", video, []string{kf})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.DeletePrefix(context.Background(), "videos/test-run") })
	t.Cleanup(func() { c.DeletePrefix(context.Background(), "keyframes/test-run") })

	objects, stats, err := c.List(ctx, "videos/test-run/")
	if err != nil || stats.TotalObjects != 1 || objects[0].Key != key {
		t.Fatalf("List = %v, %+v, %v", objects, stats, err)
	}
	if u, err := c.PresignGet(ctx, key, time.Minute); err != nil || u == "" {
		t.Errorf("PresignGet = %q, %v", u, err)
	}
}
