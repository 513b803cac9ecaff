package cmd

import (
	"context"
	"fmt"

	"mvsynth/cache"
	"mvsynth/config"
	"mvsynth/core/analyzer"
	"mvsynth/core/compositor"
	"mvsynth/core/keyframe"
	"mvsynth/core/pipeline"
	"mvsynth/db"
	"mvsynth/logger"
	"mvsynth/repository"
	"mvsynth/storage"
)

// renderFlags are the per-run overrides shared by render, watch and server.
type renderFlags struct {
	style      string
	narrative  string
	keyframes  int
	seed       int64
	preset     string
	resolution string
	fps        int
	transition string
	mode       string
	hwAccel    bool
	outputDir  string
}

// app holds the process-wide clients. Optional services stay nil when not
// configured.
type app struct {
	cfg      *config.Config
	profile  *config.RenderProfile
	analyzer *analyzer.Analyzer
	runner   *pipeline.Runner
	runs     repository.RunRepository
	store    *storage.Client
	closers  []func() error
}

func newApp(ctx context.Context, cfg *config.Config, withStorage bool) (*app, error) {
	profile, err := config.LoadProfile(cfg.ProfilePath)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, profile: profile, runs: repository.NewMemoryRunRepository()}

	var anOpts []analyzer.Option
	var plOpts []pipeline.Option
	if cfg.RedisEnabled() {
		if err := cache.ConnectRedis(ctx, cfg); err != nil {
			// 缓存不可用时继续运行，只是不复用结果
			logger.Warn("Redis 不可用，禁用缓存", logger.ErrorField(err))
		} else {
			a.closers = append(a.closers, cache.CloseRedis)
			anOpts = append(anOpts, analyzer.WithCache(cache.NewAnalysisCache(cache.RedisClient, cfg.CacheTTL)))
			plOpts = append(plOpts, pipeline.WithKeyframeStore(cache.NewKeyframeCache(cache.RedisClient, cfg.CacheTTL)))
		}
	}
	if cfg.DatabaseEnabled() {
		if err := db.ConnectGormDB(cfg); err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, db.CloseGormDB)
		a.runs = repository.NewGormRunRepository(db.GormDB)
	}
	if withStorage && cfg.MinioEnabled() {
		store, err := storage.NewClient(ctx, cfg)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.store = store
	}

	a.analyzer = analyzer.New(analyzer.NewFileDecoder(cfg.FFmpegPath, cfg.FFprobePath), anOpts...)
	gen := keyframe.NewHTTPGenerator(cfg.ImageGenURL, cfg.ImageGenTimeout)
	factory := func(context.Context) (keyframe.Generator, error) { return gen, nil }
	plOpts = append(plOpts, pipeline.WithCompositorOptions(compositor.WithHWEncoder(cfg.HWEncoder)))
	a.runner = pipeline.NewRunner(a.analyzer, factory, cfg.FFmpegPath, cfg.WorkDir, cfg.KeyframeDir, plOpts...)
	return a, nil
}

// newAnalyzer builds a standalone analyzer, cached through Redis when it
// is configured and reachable.
func newAnalyzer(ctx context.Context, cfg *config.Config) (*analyzer.Analyzer, func()) {
	dec := analyzer.NewFileDecoder(cfg.FFmpegPath, cfg.FFprobePath)
	if !cfg.RedisEnabled() {
		return analyzer.New(dec), func() {}
	}
	if err := cache.ConnectRedis(ctx, cfg); err != nil {
		logger.Warn("Redis 不可用，禁用缓存", logger.ErrorField(err))
		return analyzer.New(dec), func() {}
	}
	return analyzer.New(dec, analyzer.WithCache(cache.NewAnalysisCache(cache.RedisClient, cfg.CacheTTL))),
		func() { cache.CloseRedis() }
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warn("关闭连接时发生错误", logger.ErrorField(err))
		}
	}
	a.closers = nil
}

// baseRequest builds the request template from the profile, the
// environment and any flags that were set.
func (a *app) baseRequest(f *renderFlags) (pipeline.Request, error) {
	req, err := pipeline.RequestFromProfile(a.profile)
	if err != nil {
		return req, err
	}
	if a.cfg.ProfilePath == "" && a.cfg.ImagePreset != "" {
		if req.Preset, err = keyframe.LookupPreset(a.cfg.ImagePreset); err != nil {
			return req, err
		}
	}
	req.Preset = req.Preset.WithOverrides(a.cfg.ImageWidth, a.cfg.ImageHeight, a.cfg.ImageSteps, a.cfg.ImageGuidance)
	req.Compositor.OutputDir = a.cfg.OutputDir
	req.Compositor.HWAccel = req.Compositor.HWAccel || a.cfg.HWAccel
	if f == nil {
		return req, nil
	}

	req.Style = f.style
	req.Narrative = f.narrative
	if f.keyframes > 0 {
		req.Keyframes = f.keyframes
	}
	if f.seed >= 0 {
		req.Seed = f.seed
	}
	if f.preset != "" {
		p, err := keyframe.LookupPreset(f.preset)
		if err != nil {
			return req, err
		}
		req.Preset = p.WithOverrides(a.cfg.ImageWidth, a.cfg.ImageHeight, a.cfg.ImageSteps, a.cfg.ImageGuidance)
	}
	if f.resolution != "" {
		if req.Compositor.Resolution, err = compositor.ParseResolution(f.resolution); err != nil {
			return req, err
		}
	}
	if f.fps > 0 {
		req.Compositor.FPS = f.fps
	}
	if f.transition != "" {
		if err := applyTransition(&req, f.transition); err != nil {
			return req, err
		}
	}
	if f.mode != "" {
		if err := applyMode(&req, f.mode); err != nil {
			return req, err
		}
	}
	if f.hwAccel {
		req.Compositor.HWAccel = true
	}
	if f.outputDir != "" {
		req.Compositor.OutputDir = f.outputDir
	}
	return req, nil
}

func requireStyle(f *renderFlags) error {
	if f.style == "" {
		return fmt.Errorf("--style is required")
	}
	return nil
}
