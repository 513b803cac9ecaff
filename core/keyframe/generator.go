package keyframe

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"sort"
)

// Request is one call to the image generator.
type Request struct {
	Prompt   string  `json:"prompt"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	Steps    int     `json:"steps"`
	Guidance float64 `json:"guidance"`
	Seed     int64   `json:"seed"`
	Model    string  `json:"model,omitempty"`
}

// Result is a generated raster and the seed actually used. The seed differs
// from the request when the request seed was negative.
type Result struct {
	Image image.Image
	Seed  int64
}

// Generator renders images from prompts. Release frees whatever accelerator
// memory the generator holds; it is called between generations.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Result, error)
	Release(ctx context.Context) error
}

// Factory constructs a Generator. The Synthesizer calls it at most once.
type Factory func(ctx context.Context) (Generator, error)

// Preset fixes the sampling parameters for a model family.
type Preset struct {
	Name     string  `json:"name"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	Steps    int     `json:"steps"`
	Guidance float64 `json:"guidance"`
}

var presets = map[string]Preset{
	"pixart":     {Name: "pixart", Width: 1024, Height: 1024, Steps: 20, Guidance: 4.5},
	"sdxl_turbo": {Name: "sdxl_turbo", Width: 512, Height: 512, Steps: 4, Guidance: 0.0},
}

// LookupPreset returns the named preset.
func LookupPreset(name string) (Preset, error) {
	p, ok := presets[name]
	if !ok {
		return Preset{}, fmt.Errorf("unknown image preset %q (available: %v)", name, PresetNames())
	}
	return p, nil
}

func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// isBlack reports whether every pixel has zero luminance.
func isBlack(img image.Image) bool {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y != 0 {
				return false
			}
		}
	}
	return true
}

// WithOverrides replaces the preset's sampling parameters where the
// arguments are set. Zero sizes and steps, and negative guidance, keep the
// preset value.
func (p Preset) WithOverrides(width, height, steps int, guidance float64) Preset {
	if width > 0 {
		p.Width = width
	}
	if height > 0 {
		p.Height = height
	}
	if steps > 0 {
		p.Steps = steps
	}
	if guidance >= 0 {
		p.Guidance = guidance
	}
	return p
}
