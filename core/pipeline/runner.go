package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mvsynth/core/analyzer"
	"mvsynth/core/compositor"
	"mvsynth/core/keyframe"
	"mvsynth/core/planner"
	"mvsynth/logger"
	"mvsynth/model"
)

// ProgressFunc receives stage progress. percent covers the whole run.
type ProgressFunc func(stage string, percent int, message string)

// Result is everything a finished run produced.
type Result struct {
	RunID      string
	Analysis   *model.Analysis
	Keyframes  []model.Keyframe
	Timeline   *model.Timeline
	OutputPath string
	Elapsed    time.Duration
}

// Runner executes the four stages in order: analyze, keyframes, plan,
// compose. Stages never overlap and share no mutable state.
type Runner struct {
	analyzer    *analyzer.Analyzer
	factory     keyframe.Factory
	store       keyframe.Store
	keyframeDir string

	ffmpegPath string
	workDir    string
	compOpts   []compositor.Option

	log *zap.Logger
}

type Option func(*Runner)

// WithKeyframeStore shares generated keyframes across runs.
func WithKeyframeStore(s keyframe.Store) Option { return func(r *Runner) { r.store = s } }

// WithCompositorOptions is passed to every run's compositor.
func WithCompositorOptions(opts ...compositor.Option) Option {
	return func(r *Runner) { r.compOpts = append(r.compOpts, opts...) }
}

// NewRunner wires the stages. Keyframes of run {id} go to keyframeDir/{id};
// clips are rendered under workDir.
func NewRunner(a *analyzer.Analyzer, factory keyframe.Factory, ffmpegPath, workDir, keyframeDir string, opts ...Option) *Runner {
	r := &Runner{
		analyzer:    a,
		factory:     factory,
		keyframeDir: keyframeDir,
		ffmpegPath:  ffmpegPath,
		workDir:     workDir,
		log:         logger.Named("pipeline"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes req. progress may be nil.
func (r *Runner) Run(ctx context.Context, req Request, progress ProgressFunc) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.RunID == "" {
		req.RunID = uuid.New().String()
	}
	if progress == nil {
		progress = func(string, int, string) {}
	}
	log := r.log.With(zap.String("run", req.RunID))
	started := time.Now()
	res := &Result{RunID: req.RunID}

	progress(model.StageAnalyze, 5, "analyzing audio")
	analysis, err := r.analyzer.Analyze(ctx, req.AudioPath, req.Analyzer)
	if err != nil {
		return nil, err
	}
	res.Analysis = analysis
	progress(model.StageAnalyze, 15, fmt.Sprintf("audio: %.1fs, %.1f BPM", analysis.Duration, analysis.Tempo))

	synth := keyframe.NewSynthesizer(r.factory, filepath.Join(r.keyframeDir, req.RunID),
		keyframe.WithPreset(req.Preset),
		keyframe.WithSeed(req.Seed),
		keyframe.WithStore(r.store),
		keyframe.WithProgress(func(done, total int) {
			progress(model.StageKeyframes, 20+35*done/total, fmt.Sprintf("generated keyframe %d/%d", done, total))
		}),
	)
	progress(model.StageKeyframes, 20, fmt.Sprintf("generating %d keyframes", req.Keyframes))
	frames, err := synth.Synthesize(ctx, req.Style, req.Narrative, req.Keyframes, analysis.Sections)
	if err != nil {
		return nil, err
	}
	res.Keyframes = frames

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	progress(model.StagePlan, 55, "planning timeline")
	tl, err := planner.Plan(analysis, model.KeyframePaths(frames), req.Planner)
	if err != nil {
		return nil, err
	}
	res.Timeline = tl
	log.Info("timeline planned", zap.Int("segments", len(tl.Segments)), zap.String("mode", string(req.Planner.Mode)))
	progress(model.StagePlan, 60, fmt.Sprintf("%d segments", len(tl.Segments)))

	compOpts := append([]compositor.Option{
		compositor.WithProgress(func(done, total int) {
			progress(model.StageCompose, 60+25*done/total, fmt.Sprintf("rendered segment %d/%d", done, total))
		}),
	}, r.compOpts...)
	comp := compositor.New(r.ffmpegPath, r.workDir, compOpts...)
	out, err := comp.Compose(ctx, tl, req.AudioPath, req.Compositor)
	if err != nil {
		return nil, err
	}
	res.OutputPath = out
	res.Elapsed = time.Since(started)

	log.Info("run complete", zap.String("output", out), zap.Duration("elapsed", res.Elapsed))
	progress(model.StageFinalize, 100, "done: "+filepath.Base(out))
	return res, nil
}
