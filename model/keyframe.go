package model

import "fmt"

// Keyframe is a still image produced by the image generator.
type Keyframe struct {
	Index  int    `json:"index"`
	Path   string `json:"path"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Prompt string `json:"prompt"`
	Seed   int64  `json:"seed"`
}

// KeyframeKey identifies a generation request for memoization.
type KeyframeKey struct {
	Prompt string
	Seed   int64
	Width  int
	Height int
}

func (k KeyframeKey) String() string {
	return fmt.Sprintf("%s|%d|%dx%d", k.Prompt, k.Seed, k.Width, k.Height)
}

// KeyframePaths returns the file paths of the keyframes in order.
func KeyframePaths(frames []Keyframe) []string {
	paths := make([]string, len(frames))
	for i, f := range frames {
		paths[i] = f.Path
	}
	return paths
}
