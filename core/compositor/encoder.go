package compositor

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"mvsynth/core/utils"
)

// Runner executes one encoder invocation. It must return the subprocess
// stderr through a *utils.CommandError on failure.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) error
}

// ExecRunner runs commands as real subprocesses.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) error {
	return utils.RunCommand(ctx, nil, name, args...)
}

const defaultHWEncoder = "h264_videotoolbox"

// videoCodecArgs selects the H.264 encoder and its quality settings.
func videoCodecArgs(hwAccel bool, hwEncoder string) []string {
	if hwAccel {
		if hwEncoder == "" {
			hwEncoder = defaultHWEncoder
		}
		return []string{"-c:v", hwEncoder, "-q:v", "65"}
	}
	return []string{"-c:v", "libx264", "-crf", "23", "-preset", "medium"}
}

var audioCodecArgs = []string{"-c:a", "aac", "-b:a", "192k"}

// Resolution is an output canvas size.
type Resolution struct {
	Width  int
	Height int
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

var supportedResolutions = map[Resolution]bool{
	{1920, 1080}: true,
	{1080, 1920}: true,
	{1080, 1080}: true,
	{3840, 2160}: true,
}

// ParseResolution parses "WxH" and accepts only the supported canvases.
func ParseResolution(s string) (Resolution, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return Resolution{}, fmt.Errorf("invalid resolution %q, expected WxH", s)
	}
	width, err := strconv.Atoi(w)
	if err != nil {
		return Resolution{}, fmt.Errorf("invalid resolution width %q: %w", w, err)
	}
	height, err := strconv.Atoi(h)
	if err != nil {
		return Resolution{}, fmt.Errorf("invalid resolution height %q: %w", h, err)
	}
	r := Resolution{Width: width, Height: height}
	if !supportedResolutions[r] {
		return Resolution{}, fmt.Errorf("unsupported resolution %s", r)
	}
	return r, nil
}
