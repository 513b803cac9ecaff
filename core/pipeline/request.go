package pipeline

import (
	"fmt"
	"strings"

	"mvsynth/config"
	"mvsynth/core/analyzer"
	"mvsynth/core/compositor"
	"mvsynth/core/keyframe"
	"mvsynth/core/planner"
	"mvsynth/model"
)

// Request describes one audio-to-video run.
type Request struct {
	RunID     string
	AudioPath string
	Style     string
	Narrative string
	Keyframes int
	// Seed is the base seed; keyframe i uses Seed+i. Negative lets the
	// generator choose.
	Seed   int64
	Preset keyframe.Preset

	Analyzer   analyzer.Options
	Planner    planner.Options
	Compositor compositor.Options
}

func (r *Request) Validate() error {
	if r.AudioPath == "" {
		return fmt.Errorf("audio path is required")
	}
	if strings.TrimSpace(r.Style) == "" {
		return fmt.Errorf("style is required")
	}
	if r.Keyframes <= 0 {
		return fmt.Errorf("keyframes must be positive, got %d", r.Keyframes)
	}
	if err := r.Analyzer.Validate(); err != nil {
		return err
	}
	if err := r.Planner.Validate(); err != nil {
		return err
	}
	return r.Compositor.Validate()
}

// RequestFromProfile fills a Request from a render profile. Audio, style,
// narrative and the output directory are left to the caller.
func RequestFromProfile(p *config.RenderProfile) (Request, error) {
	if err := p.Validate(); err != nil {
		return Request{}, err
	}
	res, err := compositor.ParseResolution(p.Resolution)
	if err != nil {
		return Request{}, err
	}
	mode, err := planner.ParseMode(p.Planner.TransitionMode)
	if err != nil {
		return Request{}, err
	}
	style, err := model.ParseTransition(p.Planner.TransitionStyle)
	if err != nil {
		return Request{}, err
	}
	preset, err := keyframe.LookupPreset(p.ImagePreset)
	if err != nil {
		return Request{}, err
	}

	comp := compositor.DefaultOptions()
	comp.Resolution = res
	comp.FPS = p.FPS
	comp.HWAccel = p.HWAccel
	comp.TransitionStyle = style

	return Request{
		Keyframes: p.Keyframes,
		Seed:      p.Seed,
		Preset:    preset,
		Analyzer: analyzer.Options{
			DetectSpeech:     p.Analyzer.DetectSpeech,
			EnergyHopMs:      p.Analyzer.EnergyHopMs,
			MinBeatStrength:  p.Analyzer.MinBeatStrength,
			SectionThreshold: p.Analyzer.SectionThreshold,
		},
		Planner: planner.Options{
			Mode:               mode,
			MinSegment:         p.Planner.MinSegment,
			MaxSegment:         p.Planner.MaxSegment,
			TransitionStyle:    style,
			TransitionDuration: p.Planner.TransitionDuration,
			EnergyScaling:      p.Planner.EnergyScaling,
		},
		Compositor: comp,
	}, nil
}
