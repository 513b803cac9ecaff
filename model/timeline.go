package model

import (
	"fmt"
	"math"
)

// Transition is how a segment enters or leaves the frame.
type Transition string

const (
	TransitionNone      Transition = "none"
	TransitionCut       Transition = "cut"
	TransitionCrossfade Transition = "crossfade"
	TransitionFadeBlack Transition = "fade_black"
	TransitionZoomMorph Transition = "zoom_morph"
	TransitionKenBurns  Transition = "ken_burns"
)

// ParseTransition validates a transition style name.
func ParseTransition(s string) (Transition, error) {
	switch t := Transition(s); t {
	case TransitionNone, TransitionCut, TransitionCrossfade, TransitionFadeBlack, TransitionZoomMorph, TransitionKenBurns:
		return t, nil
	}
	return "", fmt.Errorf("unknown transition style %q", s)
}

// Effect is the motion applied to a still keyframe inside a clip.
type Effect string

const (
	EffectNone         Effect = "none"
	EffectZoomIn       Effect = "zoom_in"
	EffectZoomOut      Effect = "zoom_out"
	EffectPanLeft      Effect = "pan_left"
	EffectPanRight     Effect = "pan_right"
	EffectKenBurns     Effect = "ken_burns"
	EffectSubtleMotion Effect = "subtle_motion"
)

// Segment is one planned clip of the output video.
type Segment struct {
	Index              int        `json:"index"`
	Start              float64    `json:"start"`
	End                float64    `json:"end"`
	Duration           float64    `json:"duration"`
	Image              string     `json:"image"`
	ImageIndex         int        `json:"image_index"`
	TransitionIn       Transition `json:"transition_in"`
	TransitionOut      Transition `json:"transition_out"`
	TransitionDuration float64    `json:"transition_duration"`
	Effect             Effect     `json:"effect"`
	EffectStrength     float64    `json:"effect_strength"`
	Energy             float64    `json:"energy"`
	Markers            []Marker   `json:"markers"`
}

// Timeline is the ordered, gap-free list of segments covering [0, Duration].
type Timeline struct {
	Duration float64   `json:"total_duration"`
	Segments []Segment `json:"segments"`
}

// TotalDuration sums the segment durations.
func (t *Timeline) TotalDuration() float64 {
	var sum float64
	for _, s := range t.Segments {
		sum += s.Duration
	}
	return sum
}

// Validate checks that the segments tile [0, Duration] in index order.
func (t *Timeline) Validate() error {
	if len(t.Segments) == 0 {
		return fmt.Errorf("timeline has no segments")
	}
	if t.Segments[0].Start != 0 {
		return fmt.Errorf("first segment starts at %f", t.Segments[0].Start)
	}
	for i, s := range t.Segments {
		if s.Index != i {
			return fmt.Errorf("segment %d has index %d", i, s.Index)
		}
		if s.Duration <= 0 || s.End <= s.Start {
			return fmt.Errorf("segment %d has non-positive duration", i)
		}
		if i > 0 && s.Start != t.Segments[i-1].End {
			return fmt.Errorf("segments %d and %d do not tile", i-1, i)
		}
	}
	if last := t.Segments[len(t.Segments)-1]; last.End != t.Duration {
		return fmt.Errorf("last segment ends at %f, want %f", last.End, t.Duration)
	}
	if math.Abs(t.TotalDuration()-t.Duration) > 1e-6 {
		return fmt.Errorf("segment durations sum to %f, want %f", t.TotalDuration(), t.Duration)
	}
	return nil
}
