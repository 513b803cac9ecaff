package keyframe

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"mvsynth/logger"
	"mvsynth/model"
)

// Store persists keyframes across runs, keyed by (prompt, seed, size).
type Store interface {
	GetKeyframe(ctx context.Context, key model.KeyframeKey) (*model.Keyframe, bool)
	SetKeyframe(ctx context.Context, key model.KeyframeKey, kf *model.Keyframe) error
}

// ProgressFunc is told how many keyframes are done out of total.
type ProgressFunc func(done, total int)

// Synthesizer produces the keyframe pool for a run. Generations are strictly
// sequential and the generator is released between them.
type Synthesizer struct {
	factory Factory
	outDir  string
	preset  Preset
	seed    int64
	store   Store
	onStep  ProgressFunc
	log     *zap.Logger

	genOnce sync.Once
	gen     Generator
	genErr  error

	mu   sync.Mutex
	memo map[model.KeyframeKey]model.Keyframe
}

// Option configures a Synthesizer.
type Option func(*Synthesizer)

func WithPreset(p Preset) Option { return func(s *Synthesizer) { s.preset = p } }

// WithSeed sets the base seed. Keyframe i uses seed+i; a negative seed lets
// the generator choose.
func WithSeed(seed int64) Option { return func(s *Synthesizer) { s.seed = seed } }

func WithStore(st Store) Option { return func(s *Synthesizer) { s.store = st } }

func WithProgress(fn ProgressFunc) Option { return func(s *Synthesizer) { s.onStep = fn } }

// NewSynthesizer creates a Synthesizer writing PNGs into outDir. The
// generator is built lazily from factory on first use.
func NewSynthesizer(factory Factory, outDir string, opts ...Option) *Synthesizer {
	s := &Synthesizer{
		factory: factory,
		outDir:  outDir,
		preset:  presets["pixart"],
		seed:    -1,
		log:     logger.Named("keyframe"),
		memo:    make(map[model.KeyframeKey]model.Keyframe),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Synthesizer) generator(ctx context.Context) (Generator, error) {
	s.genOnce.Do(func() {
		s.gen, s.genErr = s.factory(ctx)
	})
	return s.gen, s.genErr
}

// Synthesize generates count keyframes for style and narrative. sections,
// when non-empty, add opening/development/closing modifiers to the prompts.
func (s *Synthesizer) Synthesize(ctx context.Context, style, narrative string, count int, sections []model.Section) ([]model.Keyframe, error) {
	if style == "" {
		return nil, fmt.Errorf("style must not be empty")
	}
	if count <= 0 {
		return nil, fmt.Errorf("keyframe count must be positive, got %d", count)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.outDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create keyframe dir %s: %w", s.outDir, err)
	}

	prompts := Prompts(style, narrative, count, sections)
	frames := make([]model.Keyframe, 0, count)
	for i, prompt := range prompts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		seed := int64(-1)
		if s.seed >= 0 {
			seed = s.seed + int64(i)
		}
		kf, err := s.keyframe(ctx, i, prompt, seed)
		if err != nil {
			return nil, err
		}
		frames = append(frames, kf)

		if s.onStep != nil {
			s.onStep(i+1, count)
		}
	}
	return frames, nil
}

func (s *Synthesizer) keyframe(ctx context.Context, index int, prompt string, seed int64) (model.Keyframe, error) {
	key := model.KeyframeKey{Prompt: prompt, Seed: seed, Width: s.preset.Width, Height: s.preset.Height}

	if kf, ok := s.memo[key]; ok {
		kf.Index = index
		return kf, nil
	}
	if s.store != nil {
		if kf, ok := s.store.GetKeyframe(ctx, key); ok {
			if _, err := os.Stat(kf.Path); err == nil {
				s.log.Debug("keyframe cache hit", zap.Int("index", index), zap.String("path", kf.Path))
				s.memo[key] = *kf
				hit := *kf
				hit.Index = index
				return hit, nil
			}
		}
	}

	res, err := s.generateChecked(ctx, index, prompt, seed)
	if err != nil {
		return model.Keyframe{}, err
	}

	path := filepath.Join(s.outDir, fmt.Sprintf("keyframe_%03d.png", index))
	if err := savePNG(path, res.Image); err != nil {
		return model.Keyframe{}, model.NewStageError(model.StageKeyframes, strconv.Itoa(index), nil, err)
	}

	b := res.Image.Bounds()
	kf := model.Keyframe{
		Index:  index,
		Path:   path,
		Width:  b.Dx(),
		Height: b.Dy(),
		Prompt: prompt,
		Seed:   res.Seed,
	}
	if kf.Width != s.preset.Width || kf.Height != s.preset.Height {
		s.log.Warn("generated image size differs from request",
			zap.Int("index", index),
			zap.Int("width", kf.Width), zap.Int("height", kf.Height))
	}

	s.memo[key] = kf
	if s.store != nil {
		// A random request stays random across runs; only the seed the
		// generator actually used is reproducible.
		stored := key
		if seed < 0 {
			stored.Seed = res.Seed
		}
		if err := s.store.SetKeyframe(ctx, stored, &kf); err != nil {
			s.log.Warn("failed to cache keyframe", zap.Int("index", index), zap.Error(err))
		}
	}
	return kf, nil
}

// generateChecked runs one generation, retrying once with a perturbed seed
// when the image comes back uniformly black.
func (s *Synthesizer) generateChecked(ctx context.Context, index int, prompt string, seed int64) (*Result, error) {
	gen, err := s.generator(ctx)
	if err != nil {
		return nil, model.NewStageError(model.StageKeyframes, strconv.Itoa(index), nil,
			fmt.Errorf("failed to construct image generator: %w", err))
	}

	res, err := s.generateOnce(ctx, gen, index, prompt, seed)
	if !errors.Is(err, model.ErrKeyframeDegenerate) {
		return res, err
	}

	s.log.Warn("black keyframe, retrying once", zap.Int("index", index), zap.Int64("seed", seed))
	retrySeed := int64(-1)
	if seed >= 0 {
		retrySeed = seed + 1
	}
	return s.generateOnce(ctx, gen, index, prompt, retrySeed)
}

func (s *Synthesizer) generateOnce(ctx context.Context, gen Generator, index int, prompt string, seed int64) (*Result, error) {
	req := Request{
		Prompt:   prompt,
		Width:    s.preset.Width,
		Height:   s.preset.Height,
		Steps:    s.preset.Steps,
		Guidance: s.preset.Guidance,
		Seed:     seed,
		Model:    s.preset.Name,
	}

	res, err := gen.Generate(ctx, req)
	// Release before anything else so the next generation starts clean.
	if relErr := gen.Release(ctx); relErr != nil {
		s.log.Warn("image generator release failed", zap.Int("index", index), zap.Error(relErr))
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, model.NewStageError(model.StageKeyframes, strconv.Itoa(index), nil, err)
	}
	if res == nil || res.Image == nil {
		return nil, model.NewStageError(model.StageKeyframes, strconv.Itoa(index), nil,
			fmt.Errorf("image generator returned no image"))
	}
	if isBlack(res.Image) {
		return nil, model.NewStageError(model.StageKeyframes, strconv.Itoa(index), model.ErrKeyframeDegenerate,
			fmt.Errorf("seed %d", res.Seed))
	}
	return res, nil
}

func savePNG(path string, img image.Image) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
