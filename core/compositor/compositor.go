package compositor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"mvsynth/core/utils"
	"mvsynth/logger"
	"mvsynth/model"
)

// Options control one Compose call.
type Options struct {
	Resolution      Resolution
	FPS             int
	HWAccel         bool
	TransitionStyle model.Transition
	// OutputDir receives the final file.
	OutputDir string
	// Prefix names the final file as {prefix}_{timestamp}.mp4.
	Prefix string
}

func DefaultOptions() Options {
	return Options{
		Resolution:      Resolution{Width: 1920, Height: 1080},
		FPS:             30,
		TransitionStyle: model.TransitionCrossfade,
		Prefix:          "mvsynth",
	}
}

func (o Options) Validate() error {
	if !supportedResolutions[o.Resolution] {
		return fmt.Errorf("unsupported resolution %s", o.Resolution)
	}
	switch o.FPS {
	case 24, 30, 60:
	default:
		return fmt.Errorf("unsupported fps %d", o.FPS)
	}
	if _, err := model.ParseTransition(string(o.TransitionStyle)); err != nil {
		return err
	}
	if o.OutputDir == "" {
		return fmt.Errorf("output directory is required")
	}
	return nil
}

// ProgressFunc is told how many clips are rendered out of total.
type ProgressFunc func(done, total int)

// Compositor renders a Timeline into a single video with ffmpeg.
type Compositor struct {
	ffmpegPath string
	workDir    string
	hwEncoder  string
	runner     Runner
	onClip     ProgressFunc
	now        func() time.Time
	log        *zap.Logger
}

type Option func(*Compositor)

// WithRunner replaces the subprocess runner.
func WithRunner(r Runner) Option { return func(c *Compositor) { c.runner = r } }

func WithHWEncoder(name string) Option { return func(c *Compositor) { c.hwEncoder = name } }

func WithProgress(fn ProgressFunc) Option { return func(c *Compositor) { c.onClip = fn } }

// New creates a Compositor. Run-scoped temporary directories are created
// under workDir.
func New(ffmpegPath, workDir string, opts ...Option) *Compositor {
	c := &Compositor{
		ffmpegPath: ffmpegPath,
		workDir:    workDir,
		hwEncoder:  defaultHWEncoder,
		runner:     ExecRunner{},
		now:        time.Now,
		log:        logger.Named("compositor"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compose renders every segment of tl to a clip, joins the clips against
// audioPath and moves the result into opts.OutputDir. On success the run
// directory is removed; on failure it is kept for diagnosis; on
// cancellation it is removed and no output appears.
func (c *Compositor) Compose(ctx context.Context, tl *model.Timeline, audioPath string, opts Options) (string, error) {
	if err := opts.Validate(); err != nil {
		return "", err
	}
	if tl == nil {
		return "", fmt.Errorf("timeline is nil")
	}
	if err := tl.Validate(); err != nil {
		return "", fmt.Errorf("invalid timeline: %w", err)
	}
	if _, err := os.Stat(audioPath); err != nil {
		return "", model.NewStageError(model.StageCompose, audioPath, nil, err)
	}
	if opts.Prefix == "" {
		opts.Prefix = "mvsynth"
	}

	if err := os.MkdirAll(c.workDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create work dir %s: %w", c.workDir, err)
	}
	if err := os.MkdirAll(opts.OutputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output dir %s: %w", opts.OutputDir, err)
	}
	runDir, err := os.MkdirTemp(c.workDir, "run-*")
	if err != nil {
		return "", fmt.Errorf("failed to create run dir: %w", err)
	}

	out, err := c.compose(ctx, runDir, tl, audioPath, opts)
	switch {
	case err == nil:
		os.RemoveAll(runDir)
		c.log.Info("composition complete", zap.String("output", out), zap.Int("segments", len(tl.Segments)))
		return out, nil
	case ctx.Err() != nil:
		os.RemoveAll(runDir)
		return "", fmt.Errorf("composition cancelled: %w", ctx.Err())
	default:
		c.log.Error("composition failed, keeping run dir", zap.String("runDir", runDir), zap.Error(err))
		return "", err
	}
}

func (c *Compositor) compose(ctx context.Context, runDir string, tl *model.Timeline, audioPath string, opts Options) (string, error) {
	clips := make([]string, 0, len(tl.Segments))
	for i, seg := range tl.Segments {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		clip := filepath.Join(runDir, fmt.Sprintf("clip_%04d.mp4", i))
		if err := c.renderClip(ctx, seg, clip, opts); err != nil {
			return "", err
		}
		clips = append(clips, clip)
		if c.onClip != nil {
			c.onClip(i+1, len(tl.Segments))
		}
	}

	durations := make([]float64, len(tl.Segments))
	for i, seg := range tl.Segments {
		durations[i] = seg.Duration
	}

	joined := filepath.Join(runDir, "final.mp4")
	if err := c.join(ctx, runDir, clips, durations, audioPath, joined, opts); err != nil {
		return "", err
	}

	out, err := c.outputPath(opts.OutputDir, opts.Prefix)
	if err != nil {
		return "", model.NewStageError(model.StageFinalize, opts.OutputDir, nil, err)
	}
	if err := moveFile(joined, out); err != nil {
		return "", model.NewStageError(model.StageFinalize, out, nil, err)
	}
	return out, nil
}

func (c *Compositor) renderClip(ctx context.Context, seg model.Segment, clip string, opts Options) error {
	w, h, fps := opts.Resolution.Width, opts.Resolution.Height, opts.FPS
	args := []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-loop", "1",
		"-framerate", strconv.Itoa(fps),
		"-i", seg.Image,
		"-vf", clipFilter(seg, w, h, fps),
		"-t", formatSeconds(seg.Duration),
		"-r", strconv.Itoa(fps),
	}
	args = append(args, videoCodecArgs(opts.HWAccel, c.hwEncoder)...)
	args = append(args, "-pix_fmt", "yuv420p", "-an", clip)

	c.log.Debug("rendering clip",
		zap.Int("segment", seg.Index),
		zap.String("image", seg.Image),
		zap.Float64("duration", seg.Duration),
		zap.String("effect", string(seg.Effect)))

	if err := c.runner.Run(ctx, c.ffmpegPath, args...); err != nil {
		if ctx.Err() != nil {
			return err
		}
		se := model.NewStageError(model.StageCompose, fmt.Sprintf("segment %d (%s)", seg.Index, seg.Image), model.ErrCompositorStep, err)
		se.Stderr = utils.StderrOf(err)
		return se
	}
	return nil
}

// join produces out from the clips and the audio. Crossfade styles use an
// xfade graph and fall back to the concat manifest when it fails; cut and
// none go straight to the manifest.
func (c *Compositor) join(ctx context.Context, runDir string, clips []string, durations []float64, audioPath, out string, opts Options) error {
	if len(clips) == 1 {
		return c.concatErr(c.muxSingle(ctx, clips[0], audioPath, out, opts), clips[0])
	}

	switch opts.TransitionStyle {
	case model.TransitionCut, model.TransitionNone:
		manifest, err := writeManifest(runDir, clips)
		if err != nil {
			return model.NewStageError(model.StageConcat, runDir, model.ErrCompositorConcat, err)
		}
		return c.concatErr(c.concatManifest(ctx, manifest, audioPath, out, opts), manifest)
	}

	err := c.concatCrossfade(ctx, clips, durations, audioPath, out, opts)
	if err == nil || ctx.Err() != nil {
		return err
	}
	c.log.Warn("crossfade concat failed, falling back to concat manifest",
		zap.Int("clips", len(clips)), zap.Error(err))
	os.Remove(out)

	manifest, err := writeManifest(runDir, clips)
	if err != nil {
		return model.NewStageError(model.StageConcat, runDir, model.ErrCompositorConcat, err)
	}
	return c.concatErr(c.concatManifest(ctx, manifest, audioPath, out, opts), manifest)
}

func (c *Compositor) concatErr(err error, input string) error {
	if err == nil {
		return nil
	}
	var se *model.StageError
	if errors.As(err, &se) {
		return err
	}
	se = model.NewStageError(model.StageConcat, input, model.ErrCompositorConcat, err)
	se.Stderr = utils.StderrOf(err)
	return se
}

func (c *Compositor) muxSingle(ctx context.Context, clip, audioPath, out string, opts Options) error {
	args := []string{"-y", "-hide_banner", "-loglevel", "error", "-i", clip, "-i", audioPath, "-map", "0:v", "-map", "1:a"}
	args = append(args, videoCodecArgs(opts.HWAccel, c.hwEncoder)...)
	args = append(args, "-pix_fmt", "yuv420p")
	args = append(args, audioCodecArgs...)
	args = append(args, "-shortest", out)
	return c.runner.Run(ctx, c.ffmpegPath, args...)
}

func (c *Compositor) concatCrossfade(ctx context.Context, clips []string, durations []float64, audioPath, out string, opts Options) error {
	args := []string{"-y", "-hide_banner", "-loglevel", "error"}
	for _, clip := range clips {
		args = append(args, "-i", clip)
	}
	args = append(args, "-i", audioPath,
		"-filter_complex", crossfadeGraph(durations),
		"-map", "[vout]",
		"-map", fmt.Sprintf("%d:a", len(clips)),
	)
	args = append(args, videoCodecArgs(opts.HWAccel, c.hwEncoder)...)
	args = append(args, "-pix_fmt", "yuv420p")
	args = append(args, audioCodecArgs...)
	args = append(args, "-shortest", out)
	return c.runner.Run(ctx, c.ffmpegPath, args...)
}

func (c *Compositor) concatManifest(ctx context.Context, manifest, audioPath, out string, opts Options) error {
	args := []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-f", "concat", "-safe", "0", "-i", manifest,
		"-i", audioPath,
		"-map", "0:v", "-map", "1:a",
	}
	args = append(args, videoCodecArgs(opts.HWAccel, c.hwEncoder)...)
	args = append(args, "-pix_fmt", "yuv420p")
	args = append(args, audioCodecArgs...)
	args = append(args, "-shortest", out)
	return c.runner.Run(ctx, c.ffmpegPath, args...)
}

// writeManifest lists clips for the concat demuxer, one `file '<abs>'` per line.
func writeManifest(dir string, clips []string) (string, error) {
	var b strings.Builder
	for _, clip := range clips {
		abs, err := filepath.Abs(clip)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "file '%s'\n", strings.ReplaceAll(abs, "'", `'\''`))
	}
	path := filepath.Join(dir, "concat.txt")
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return "", fmt.Errorf("failed to write concat manifest: %w", err)
	}
	return path, nil
}

// outputPath returns {dir}/{prefix}_{timestamp}.mp4, adding a counter when a
// file with that name already exists.
func (c *Compositor) outputPath(dir, prefix string) (string, error) {
	stamp := c.now().Format("20060102_150405")
	path := filepath.Join(dir, fmt.Sprintf("%s_%s.mp4", prefix, stamp))
	for n := 2; ; n++ {
		_, err := os.Stat(path)
		if errors.Is(err, os.ErrNotExist) {
			return path, nil
		}
		if err != nil {
			return "", fmt.Errorf("failed to check output path %s: %w", path, err)
		}
		path = filepath.Join(dir, fmt.Sprintf("%s_%s_%d.mp4", prefix, stamp, n))
	}
}

// moveFile renames src to dst, copying through a temporary name when the
// two are on different filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	tmp := dst + ".part"
	if err := utils.CopyFile(src, tmp); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Remove(src)
}
