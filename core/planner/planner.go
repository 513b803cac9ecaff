package planner

import (
	"fmt"
	"math"

	"mvsynth/logger"
	"mvsynth/model"
)

// Mode selects how sync points are chosen.
type Mode string

const (
	ModeBeatSync    Mode = "beat_sync"
	ModeEnergySync  Mode = "energy_sync"
	ModeSectionSync Mode = "section_sync"
	ModeUniform     Mode = "uniform"
)

// ParseMode validates a transition mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeBeatSync, ModeEnergySync, ModeSectionSync, ModeUniform:
		return m, nil
	}
	return "", fmt.Errorf("unknown transition mode %q", s)
}

// Options controls timeline planning.
type Options struct {
	Mode               Mode             `json:"transition_mode"`
	MinSegment         float64          `json:"min_segment_duration"`
	MaxSegment         float64          `json:"max_segment_duration"`
	TransitionStyle    model.Transition `json:"transition_style"`
	TransitionDuration float64          `json:"transition_duration"`
	EnergyScaling      bool             `json:"energy_scaling"`
}

func DefaultOptions() Options {
	return Options{
		Mode:               ModeBeatSync,
		MinSegment:         2.0,
		MaxSegment:         8.0,
		TransitionStyle:    model.TransitionCrossfade,
		TransitionDuration: 0.5,
		EnergyScaling:      true,
	}
}

func (o Options) Validate() error {
	if _, err := ParseMode(string(o.Mode)); err != nil {
		return err
	}
	if _, err := model.ParseTransition(string(o.TransitionStyle)); err != nil {
		return err
	}
	// Written as negated comparisons so NaN fails them.
	if !(o.MinSegment > 0) || math.IsInf(o.MaxSegment, 0) || !(o.MaxSegment >= o.MinSegment) {
		return fmt.Errorf("segment bounds [%g, %g] are invalid", o.MinSegment, o.MaxSegment)
	}
	if !(o.TransitionDuration >= 0) || math.IsInf(o.TransitionDuration, 0) {
		return fmt.Errorf("transition duration must be non-negative, got %g", o.TransitionDuration)
	}
	return nil
}

// Plan maps the keyframe pool onto the analysis. Images are assigned
// round-robin; the result always tiles [0, analysis.Duration] exactly.
func Plan(a *model.Analysis, images []string, opts Options) (*model.Timeline, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if a == nil || a.Duration <= 0 {
		return nil, model.NewStageError(model.StagePlan, "", model.ErrTimelineInfeasible,
			fmt.Errorf("analysis has no duration"))
	}
	if len(images) == 0 {
		return nil, model.NewStageError(model.StagePlan, "", model.ErrTimelineInfeasible,
			fmt.Errorf("keyframe pool is empty"))
	}

	points := densify(syncPoints(a, opts), len(images), a.Duration)
	if len(points) < len(images) {
		return nil, model.NewStageError(model.StagePlan, "", model.ErrTimelineInfeasible,
			fmt.Errorf("%d sync points for %d keyframes", len(points), len(images)))
	}
	points = finalize(points, a.Duration)
	n := len(points) - 1
	if n < 1 {
		return nil, model.NewStageError(model.StagePlan, "", model.ErrTimelineInfeasible,
			fmt.Errorf("no segments between sync points"))
	}

	segments := make([]model.Segment, n)
	for i := 0; i < n; i++ {
		start, end := points[i], points[i+1]
		seg := model.Segment{
			Index:         i,
			Start:         start,
			End:           end,
			Duration:      end - start,
			ImageIndex:    i % len(images),
			Image:         images[i%len(images)],
			TransitionIn:  opts.TransitionStyle,
			TransitionOut: opts.TransitionStyle,
			Markers:       model.MarkersIn(a.Markers, start, end),
		}
		if i == 0 {
			seg.TransitionIn = model.TransitionNone
		}
		if i == n-1 {
			seg.TransitionOut = model.TransitionFadeBlack
		}

		seg.Energy = 0.5
		if opts.EnergyScaling {
			seg.Energy = clamp01(a.EnergyAt(start + seg.Duration/2))
		}
		seg.Effect, seg.EffectStrength = effectFor(seg.Energy)
		segments[i] = seg
	}

	for i := range segments {
		td := math.Min(opts.TransitionDuration, segments[i].Duration/2)
		if i > 0 {
			td = math.Min(td, segments[i-1].Duration/2)
		}
		if i < n-1 {
			td = math.Min(td, segments[i+1].Duration/2)
		}
		segments[i].TransitionDuration = td
	}

	tl := &model.Timeline{Duration: a.Duration, Segments: segments}
	logger.Debug("timeline planned",
		logger.String("mode", string(opts.Mode)),
		logger.Int("segments", n),
		logger.Int("keyframes", len(images)),
		logger.Float64("duration", a.Duration))
	return tl, nil
}

// effectFor picks the motion effect and its strength from segment energy.
func effectFor(energy float64) (model.Effect, float64) {
	switch {
	case energy > 0.8:
		return model.EffectZoomIn, 1.2
	case energy > 0.5:
		return model.EffectKenBurns, 1.0
	default:
		return model.EffectSubtleMotion, 0.5
	}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
