package config

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// RenderProfile holds per-run defaults that can be shared as a YAML file.
type RenderProfile struct {
	Resolution string `yaml:"resolution"`
	FPS        int    `yaml:"fps"`
	HWAccel    bool   `yaml:"hw_accel"`

	Keyframes   int    `yaml:"keyframes"`
	Seed        int64  `yaml:"seed"`
	ImagePreset string `yaml:"image_preset"`

	Planner  PlannerProfile  `yaml:"planner"`
	Analyzer AnalyzerProfile `yaml:"analyzer"`
}

type PlannerProfile struct {
	TransitionMode     string  `yaml:"transition_mode"`
	TransitionStyle    string  `yaml:"transition_style"`
	TransitionDuration float64 `yaml:"transition_duration"`
	MinSegment         float64 `yaml:"min_segment_duration"`
	MaxSegment         float64 `yaml:"max_segment_duration"`
	EnergyScaling      bool    `yaml:"energy_scaling"`
}

type AnalyzerProfile struct {
	DetectSpeech     bool    `yaml:"detect_speech"`
	EnergyHopMs      int     `yaml:"energy_hop_ms"`
	MinBeatStrength  float64 `yaml:"min_beat_strength"`
	SectionThreshold float64 `yaml:"section_threshold"`
}

// DefaultProfile returns the built-in render defaults.
func DefaultProfile() *RenderProfile {
	return &RenderProfile{
		Resolution:  "1920x1080",
		FPS:         30,
		Keyframes:   8,
		Seed:        -1,
		ImagePreset: "pixart",
		Planner: PlannerProfile{
			TransitionMode:     "beat_sync",
			TransitionStyle:    "crossfade",
			TransitionDuration: 0.5,
			MinSegment:         2.0,
			MaxSegment:         8.0,
			EnergyScaling:      true,
		},
		Analyzer: AnalyzerProfile{
			DetectSpeech:     true,
			EnergyHopMs:      50,
			MinBeatStrength:  0.3,
			SectionThreshold: 0.5,
		},
	}
}

// LoadProfile reads a YAML profile on top of the defaults.
// An empty path returns the defaults.
func LoadProfile(path string) (*RenderProfile, error) {
	p := DefaultProfile()
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parse profile %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid profile %s: %w", path, err)
	}
	return p, nil
}

// Save writes the profile to path.
func (p *RenderProfile) Save(path string) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

var (
	validResolutions = map[string]bool{"1920x1080": true, "1080x1920": true, "1080x1080": true, "3840x2160": true}
	validFPS         = map[int]bool{24: true, 30: true, 60: true}
	validModes       = map[string]bool{"beat_sync": true, "energy_sync": true, "section_sync": true, "uniform": true}
	validStyles      = map[string]bool{"none": true, "cut": true, "crossfade": true, "fade_black": true, "zoom_morph": true, "ken_burns": true}
)

// Validate rejects values outside the accepted ranges.
func (p *RenderProfile) Validate() error {
	if !validResolutions[p.Resolution] {
		return fmt.Errorf("unsupported resolution %q", p.Resolution)
	}
	if !validFPS[p.FPS] {
		return fmt.Errorf("unsupported fps %d", p.FPS)
	}
	if p.Keyframes <= 0 {
		return fmt.Errorf("keyframes must be positive, got %d", p.Keyframes)
	}
	if !validModes[p.Planner.TransitionMode] {
		return fmt.Errorf("unknown transition mode %q", p.Planner.TransitionMode)
	}
	if !validStyles[p.Planner.TransitionStyle] {
		return fmt.Errorf("unknown transition style %q", p.Planner.TransitionStyle)
	}
	if !(p.Planner.MinSegment > 0) || math.IsInf(p.Planner.MaxSegment, 0) || !(p.Planner.MaxSegment >= p.Planner.MinSegment) {
		return fmt.Errorf("segment bounds [%g, %g] are invalid", p.Planner.MinSegment, p.Planner.MaxSegment)
	}
	if !(p.Planner.TransitionDuration >= 0) || math.IsInf(p.Planner.TransitionDuration, 0) {
		return fmt.Errorf("transition duration must be non-negative")
	}
	if p.Analyzer.EnergyHopMs < 10 || p.Analyzer.EnergyHopMs > 500 {
		return fmt.Errorf("energy_hop_ms %d outside [10, 500]", p.Analyzer.EnergyHopMs)
	}
	if !(p.Analyzer.MinBeatStrength >= 0 && p.Analyzer.MinBeatStrength <= 1) {
		return fmt.Errorf("min_beat_strength %g outside [0, 1]", p.Analyzer.MinBeatStrength)
	}
	if !(p.Analyzer.SectionThreshold >= 0 && p.Analyzer.SectionThreshold <= 1) {
		return fmt.Errorf("section_threshold %g outside [0, 1]", p.Analyzer.SectionThreshold)
	}
	return nil
}
