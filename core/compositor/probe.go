package compositor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"mvsynth/core/utils"
)

type ffprobeFormat struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// ProbeDuration returns the container duration of path in seconds.
func ProbeDuration(ctx context.Context, ffprobePath, path string) (float64, error) {
	var out bytes.Buffer
	err := utils.RunCommand(ctx, &out, ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "json",
		path,
	)
	if err != nil {
		return 0, fmt.Errorf("ffprobe execution failed for %s: %w", path, err)
	}

	var probe ffprobeFormat
	if err := json.Unmarshal(out.Bytes(), &probe); err != nil {
		return 0, fmt.Errorf("failed to unmarshal ffprobe output for %s: %w\nFFprobe Output: %s", path, err, out.String())
	}
	if probe.Format.Duration == "" {
		return 0, fmt.Errorf("duration not found in ffprobe output for %s", path)
	}
	d, err := strconv.ParseFloat(probe.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration %q for %s: %w", probe.Format.Duration, path, err)
	}
	return d, nil
}
