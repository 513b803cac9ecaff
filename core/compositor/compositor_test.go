package compositor

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"mvsynth/core/utils"
	"mvsynth/model"
)

// fakeRunner records invocations and writes the output file (the last
// argument) unless fail says otherwise.
type fakeRunner struct {
	mu    sync.Mutex
	calls [][]string
	fail  func(args []string) bool
	hook  func(args []string)
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) error {
	f.mu.Lock()
	f.calls = append(f.calls, args)
	f.mu.Unlock()

	if f.hook != nil {
		f.hook(args)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.fail != nil && f.fail(args) {
		return &utils.CommandError{Name: name, Args: args, ExitCode: 1, Stderr: "Error initializing filter", Err: errors.New("exit status 1")}
	}
	return os.WriteFile(args[len(args)-1], []byte("video"), 0644)
}

func has(args []string, s string) bool {
	for _, a := range args {
		if a == s {
			return true
		}
	}
	return false
}

func timeline(durations ...float64) *model.Timeline {
	tl := &model.Timeline{}
	start := 0.0
	for i, d := range durations {
		end := start + d
		tin, tout := model.TransitionCrossfade, model.TransitionCrossfade
		if i == 0 {
			tin = model.TransitionNone
		}
		if i == len(durations)-1 {
			tout = model.TransitionFadeBlack
		}
		tl.Segments = append(tl.Segments, model.Segment{
			Index: i, Start: start, End: end, Duration: d,
			Image: "keyframe.png", TransitionIn: tin, TransitionOut: tout, TransitionDuration: 0.5,
			Effect: model.EffectKenBurns, EffectStrength: 1,
		})
		start = end
	}
	tl.Duration = start
	return tl
}

type fixture struct {
	work, out, audio string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	root := t.TempDir()
	f := fixture{
		work:  filepath.Join(root, "work"),
		out:   filepath.Join(root, "out"),
		audio: filepath.Join(root, "song.wav"),
	}
	if err := os.WriteFile(f.audio, []byte("RIFF"), 0644); err != nil {
		t.Fatal(err)
	}
	return f
}

func (f fixture) options(style model.Transition) Options {
	opts := DefaultOptions()
	opts.OutputDir = f.out
	opts.TransitionStyle = style
	return opts
}

func entries(t *testing.T, dir string) []string {
	t.Helper()
	list, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		t.Fatal(err)
	}
	names := make([]string, 0, len(list))
	for _, e := range list {
		names = append(names, e.Name())
	}
	return names
}

func TestComposeFallsBackToManifest(t *testing.T) {
	f := newFixture(t)
	runner := &fakeRunner{fail: func(args []string) bool { return has(args, "-filter_complex") }}
	c := New("ffmpeg", f.work, WithRunner(runner))

	out, err := c.Compose(context.Background(), timeline(3, 4, 3), f.audio, f.options(model.TransitionCrossfade))
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}
	if got := entries(t, f.out); len(got) != 1 || filepath.Join(f.out, got[0]) != out {
		t.Fatalf("output dir holds %v, want exactly %s", got, filepath.Base(out))
	}
	if got := entries(t, f.work); len(got) != 0 {
		t.Errorf("temporary files left behind: %v", got)
	}
	if len(runner.calls) != 5 {
		t.Fatalf("got %d encoder calls, want 3 clips + crossfade + manifest", len(runner.calls))
	}
	last := runner.calls[4]
	if !has(last, "concat") || !has(last, "1:a") || !has(last, "-shortest") {
		t.Errorf("fallback call is not a manifest concat: %v", last)
	}
}

func TestComposeCutUsesManifest(t *testing.T) {
	f := newFixture(t)
	runner := &fakeRunner{}
	c := New("ffmpeg", f.work, WithRunner(runner))

	if _, err := c.Compose(context.Background(), timeline(2, 2), f.audio, f.options(model.TransitionCut)); err != nil {
		t.Fatal(err)
	}
	for _, call := range runner.calls {
		if has(call, "-filter_complex") {
			t.Errorf("cut style ran a crossfade graph: %v", call)
		}
	}
	if !has(runner.calls[2], "concat") {
		t.Errorf("expected manifest concat, got %v", runner.calls[2])
	}
}

func TestComposeCrossfadeGraph(t *testing.T) {
	f := newFixture(t)
	runner := &fakeRunner{}
	c := New("ffmpeg", f.work, WithRunner(runner))

	if _, err := c.Compose(context.Background(), timeline(4, 4, 4), f.audio, f.options(model.TransitionCrossfade)); err != nil {
		t.Fatal(err)
	}
	if len(runner.calls) != 4 {
		t.Fatalf("got %d calls, want 4", len(runner.calls))
	}
	concat := runner.calls[3]
	if !has(concat, "[vout]") || !has(concat, "3:a") {
		t.Errorf("crossfade call does not map [vout] and the audio input: %v", concat)
	}
}

func TestComposeSingleSegmentMux(t *testing.T) {
	f := newFixture(t)
	runner := &fakeRunner{}
	c := New("ffmpeg", f.work, WithRunner(runner))

	if _, err := c.Compose(context.Background(), timeline(5), f.audio, f.options(model.TransitionCrossfade)); err != nil {
		t.Fatal(err)
	}
	mux := runner.calls[1]
	if has(mux, "-filter_complex") || has(mux, "concat") || !has(mux, "1:a") {
		t.Errorf("single clip was not muxed directly: %v", mux)
	}
}

func TestComposeClipFailureKeepsRunDir(t *testing.T) {
	f := newFixture(t)
	runner := &fakeRunner{fail: func(args []string) bool {
		return strings.HasSuffix(args[len(args)-1], "clip_0001.mp4")
	}}
	c := New("ffmpeg", f.work, WithRunner(runner))

	_, err := c.Compose(context.Background(), timeline(3, 3, 3), f.audio, f.options(model.TransitionCrossfade))
	if !errors.Is(err, model.ErrCompositorStep) {
		t.Fatalf("expected ErrCompositorStep, got %v", err)
	}
	var se *model.StageError
	if !errors.As(err, &se) || se.Stage != model.StageCompose || !strings.Contains(se.Input, "segment 1") {
		t.Errorf("unexpected stage error %v", err)
	}
	if se.Stderr != "Error initializing filter" {
		t.Errorf("stderr not propagated: %q", se.Stderr)
	}
	if got := entries(t, f.out); len(got) != 0 {
		t.Errorf("output produced on failure: %v", got)
	}
	if got := entries(t, f.work); len(got) != 1 {
		t.Errorf("run dir not preserved: %v", got)
	}
}

func TestComposeBothConcatsFail(t *testing.T) {
	f := newFixture(t)
	runner := &fakeRunner{fail: func(args []string) bool {
		return has(args, "-filter_complex") || has(args, "concat")
	}}
	c := New("ffmpeg", f.work, WithRunner(runner))

	_, err := c.Compose(context.Background(), timeline(3, 3), f.audio, f.options(model.TransitionCrossfade))
	if !errors.Is(err, model.ErrCompositorConcat) {
		t.Fatalf("expected ErrCompositorConcat, got %v", err)
	}
	if got := entries(t, f.out); len(got) != 0 {
		t.Errorf("output produced on failure: %v", got)
	}
}

func TestComposeCancelledRemovesRunDir(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner := &fakeRunner{hook: func(args []string) {
		if strings.HasSuffix(args[len(args)-1], "clip_0001.mp4") {
			cancel()
		}
	}}
	c := New("ffmpeg", f.work, WithRunner(runner))

	_, err := c.Compose(ctx, timeline(3, 3, 3), f.audio, f.options(model.TransitionCrossfade))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if got := entries(t, f.work); len(got) != 0 {
		t.Errorf("run dir left after cancellation: %v", got)
	}
	if got := entries(t, f.out); len(got) != 0 {
		t.Errorf("partial output after cancellation: %v", got)
	}
}

func TestComposeUniqueOutputNames(t *testing.T) {
	f := newFixture(t)
	fixed := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	c := New("ffmpeg", f.work, WithRunner(&fakeRunner{}))
	c.now = func() time.Time { return fixed }

	first, err := c.Compose(context.Background(), timeline(2), f.audio, f.options(model.TransitionCut))
	if err != nil {
		t.Fatal(err)
	}
	second, err := c.Compose(context.Background(), timeline(2), f.audio, f.options(model.TransitionCut))
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(first) != "mvsynth_20261017_120000.mp4" || first == second {
		t.Errorf("unexpected output names %s, %s", first, second)
	}
}

func TestOutputPathStatError(t *testing.T) {
	// A regular file used as the directory makes Stat fail with ENOTDIR.
	notDir := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(notDir, nil, 0644); err != nil {
		t.Fatal(err)
	}
	c := New("ffmpeg", t.TempDir(), WithRunner(&fakeRunner{}))

	done := make(chan error, 1)
	go func() {
		_, err := c.outputPath(notDir, "mvsynth")
		done <- err
	}()
	select {
	case err := <-done:
		if err == nil {
			t.Error("expected an error when the output dir cannot be checked")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("outputPath did not return")
	}
}

func TestComposeRejectsBadOptions(t *testing.T) {
	f := newFixture(t)
	c := New("ffmpeg", f.work, WithRunner(&fakeRunner{}))
	opts := f.options(model.TransitionCrossfade)
	opts.FPS = 25
	if _, err := c.Compose(context.Background(), timeline(2), f.audio, opts); err == nil {
		t.Error("expected error for fps 25")
	}
	if _, err := c.Compose(context.Background(), timeline(2), filepath.Join(f.work, "missing.wav"), f.options(model.TransitionCut)); err == nil {
		t.Error("expected error for missing audio")
	}
}

func TestMotionFilter(t *testing.T) {
	tests := []struct {
		effect model.Effect
		want   string
	}{
		{model.EffectZoomIn, "zoompan=z='1+0.15*on/90':x='iw/2-(iw/zoom/2)':y='ih/2-(ih/zoom/2)':d=1:s=1920x1080:fps=30"},
		{model.EffectZoomOut, "zoompan=z='1.15-0.15*on/90':x='iw/2-(iw/zoom/2)':y='ih/2-(ih/zoom/2)':d=1:s=1920x1080:fps=30"},
		{model.EffectPanLeft, "zoompan=z='1.05':x='iw*0.05*on/90':y='ih*0.05':d=1:s=1920x1080:fps=30"},
		{model.EffectPanRight, "zoompan=z='1.05':x='iw*0.05*(1-on/90)':y='ih*0.05':d=1:s=1920x1080:fps=30"},
		{model.EffectKenBurns, "zoompan=z='1+0.08*on/90':x='iw/4+iw/6*on/90':y='ih/4':d=1:s=1920x1080:fps=30"},
		{model.EffectSubtleMotion, "zoompan=z='1+0.02*sin(2*PI*on/90)':x='iw/2-(iw/zoom/2)':y='ih/2-(ih/zoom/2)':d=1:s=1920x1080:fps=30"},
		{model.EffectNone, ""},
	}
	for _, tt := range tests {
		if got := motionFilter(tt.effect, 1920, 1080, 30, 90); got != tt.want {
			t.Errorf("%s:\n got %s\nwant %s", tt.effect, got, tt.want)
		}
	}
}

func TestClipFilterFades(t *testing.T) {
	tl := timeline(4, 4)
	first := clipFilter(tl.Segments[0], 1080, 1080, 24)
	if strings.Contains(first, "fade=t=in") {
		t.Errorf("first segment should not fade in: %s", first)
	}
	if !strings.Contains(first, "fade=t=out:st=3.5:d=0.5") {
		t.Errorf("missing fade out: %s", first)
	}
	if !strings.HasPrefix(first, "scale=1080:1080:force_original_aspect_ratio=decrease,pad=1080:1080:(ow-iw)/2:(oh-ih)/2,setsar=1,zoompan") {
		t.Errorf("missing letterbox: %s", first)
	}

	seg := tl.Segments[1]
	seg.TransitionDuration = 0
	if got := clipFilter(seg, 1080, 1080, 24); strings.Contains(got, "fade") {
		t.Errorf("zero transition should not fade: %s", got)
	}
}

func TestCrossfadeOffsets(t *testing.T) {
	got := crossfadeOffsets([]float64{4, 4, 4})
	if len(got) != 2 || got[0] != 3.5 || got[1] != 7 {
		t.Errorf("offsets = %v, want [3.5 7]", got)
	}
	got = crossfadeOffsets([]float64{0.3, 0.3, 0.3})
	if got[0] != 0 || got[1] != 0 {
		t.Errorf("offsets = %v, want clamped to 0", got)
	}
	want := "[0:v]tpad=stop_mode=clone:stop_duration=0.5[p0];" +
		"[1:v]tpad=stop_mode=clone:stop_duration=0.5[p1];" +
		"[p0][p1]xfade=transition=fade:duration=0.5:offset=4.00[v1];" +
		"[v1][2:v]xfade=transition=fade:duration=0.5:offset=8.00[vout]"
	if g := crossfadeGraph([]float64{4, 4, 4}); g != want {
		t.Errorf("graph:\n got %s\nwant %s", g, want)
	}
}

func TestParseResolution(t *testing.T) {
	r, err := ParseResolution("1080x1920")
	if err != nil || r.Width != 1080 || r.Height != 1920 {
		t.Errorf("ParseResolution = %v, %v", r, err)
	}
	for _, bad := range []string{"1280x720", "1920", "axb"} {
		if _, err := ParseResolution(bad); err == nil {
			t.Errorf("ParseResolution(%q) accepted", bad)
		}
	}
}

func TestVideoCodecArgs(t *testing.T) {
	if got := strings.Join(videoCodecArgs(false, ""), " "); got != "-c:v libx264 -crf 23 -preset medium" {
		t.Errorf("software args = %s", got)
	}
	if got := strings.Join(videoCodecArgs(true, "h264_nvenc"), " "); got != "-c:v h264_nvenc -q:v 65" {
		t.Errorf("hardware args = %s", got)
	}
}

func skipIfNoFFmpeg(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not found in PATH")
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not found in PATH")
	}
}

func TestComposeWithFFmpeg(t *testing.T) {
	skipIfNoFFmpeg(t)
	if testing.Short() {
		t.Skip("skipping encoder run in short mode")
	}

	root := t.TempDir()
	imgPath := filepath.Join(root, "frame.png")
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 5), B: 120, A: 255})
		}
	}
	fh, err := os.Create(imgPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(fh, img); err != nil {
		t.Fatal(err)
	}
	fh.Close()

	audio := filepath.Join(root, "tone.wav")
	ctx := context.Background()
	if err := utils.RunCommand(ctx, nil, "ffmpeg", "-y", "-hide_banner", "-loglevel", "error",
		"-f", "lavfi", "-i", "sine=frequency=440:sample_rate=44100:duration=3", audio); err != nil {
		t.Fatal(err)
	}

	tl := timeline(0.75, 0.75, 0.75, 0.75)
	for i := range tl.Segments {
		tl.Segments[i].Image = imgPath
	}
	opts := DefaultOptions()
	opts.Resolution = Resolution{Width: 1080, Height: 1080}
	opts.FPS = 24
	opts.OutputDir = filepath.Join(root, "out")

	out, err := New("ffmpeg", filepath.Join(root, "work")).Compose(ctx, tl, audio, opts)
	if err != nil {
		t.Fatal(err)
	}
	d, err := ProbeDuration(ctx, "ffprobe", out)
	if err != nil {
		t.Fatal(err)
	}
	// Crossfades overlap held frames, so the video keeps the audio's length.
	if math.Abs(d-3) > 0.1 {
		t.Errorf("output duration %f, want 3s", d)
	}
}
