package cache

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"

	"mvsynth/core/analyzer"
	"mvsynth/core/keyframe"
	"mvsynth/model"
)

var (
	_ analyzer.Cache = (*AnalysisCache)(nil)
	_ keyframe.Store = (*KeyframeCache)(nil)
)

func TestKeyframeKey(t *testing.T) {
	a := model.KeyframeKey{Prompt: "sea, oil", Seed: 3, Width: 1024, Height: 1024}
	b := a
	b.Seed = 4

	ka, kb := KeyframeKey(a), KeyframeKey(b)
	if !strings.HasPrefix(ka, "keyframe:") || len(ka) != len("keyframe:")+64 {
		t.Errorf("unexpected key %s", ka)
	}
	if ka != KeyframeKey(a) {
		t.Error("key is not stable")
	}
	if ka == kb {
		t.Error("different seeds share a key")
	}
}

// testClient connects to REDIS_TEST_ADDR or skips.
func testClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis not reachable at %s: %v", addr, err)
	}
	t.Cleanup(func() {
		DeletePattern(context.Background(), client, "mvsynth-test:*")
		DeletePattern(context.Background(), client, "keyframe:*")
		client.Close()
	})
	return client
}

func TestAnalysisCacheRoundTrip(t *testing.T) {
	client := testClient(t)
	c := NewAnalysisCache(client, time.Minute)
	ctx := context.Background()

	if _, ok := c.GetAnalysis(ctx, "mvsynth-test:missing"); ok {
		t.Fatal("hit on missing key")
	}
	in := &model.Analysis{Duration: 10, SampleRate: 44100, Tempo: 120, Beats: []float64{0.5, 1}}
	if err := c.SetAnalysis(ctx, "mvsynth-test:a", in); err != nil {
		t.Fatal(err)
	}
	out, ok := c.GetAnalysis(ctx, "mvsynth-test:a")
	if !ok || out.Tempo != 120 || len(out.Beats) != 2 {
		t.Errorf("got %+v, %v", out, ok)
	}
}

func TestKeyframeCacheRequiresFile(t *testing.T) {
	client := testClient(t)
	c := NewKeyframeCache(client, time.Minute)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "keyframe_000.png")
	if err := os.WriteFile(path, []byte("png"), 0644); err != nil {
		t.Fatal(err)
	}
	key := model.KeyframeKey{Prompt: "p", Seed: 1, Width: 8, Height: 8}
	if err := c.SetKeyframe(ctx, key, &model.Keyframe{Path: path, Width: 8, Height: 8}); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.GetKeyframe(ctx, key); !ok {
		t.Fatal("expected hit")
	}
	os.Remove(path)
	if _, ok := c.GetKeyframe(ctx, key); ok {
		t.Error("hit on keyframe whose file is gone")
	}
}

func TestArtifactStatsAndFlush(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()
	if _, err := FlushArtifacts(ctx, client); err != nil {
		t.Fatal(err)
	}

	an := NewAnalysisCache(client, time.Minute)
	if err := an.SetAnalysis(ctx, "analysis:mvsynth-test", &model.Analysis{Duration: 1}); err != nil {
		t.Fatal(err)
	}
	kf := NewKeyframeCache(client, time.Minute)
	if err := kf.SetKeyframe(ctx, model.KeyframeKey{Prompt: "p", Seed: 1, Width: 8, Height: 8}, &model.Keyframe{}); err != nil {
		t.Fatal(err)
	}

	st, err := ArtifactStats(ctx, client)
	if err != nil {
		t.Fatal(err)
	}
	if st.Analyses != 1 || st.Keyframes != 1 {
		t.Errorf("stats = %+v, want 1/1", st)
	}
	n, err := FlushArtifacts(ctx, client)
	if err != nil || n != 2 {
		t.Errorf("FlushArtifacts = %d, %v, want 2", n, err)
	}
}
