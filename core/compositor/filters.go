package compositor

import (
	"fmt"
	"strconv"
	"strings"

	"mvsynth/model"
)

// FilterBuilder assembles a comma-separated ffmpeg filter chain.
type FilterBuilder struct {
	filters []string
}

func NewFilterBuilder() *FilterBuilder {
	return &FilterBuilder{filters: make([]string, 0, 4)}
}

// Letterbox scales the input to fit width x height and pads the rest with
// black, keeping the source aspect ratio.
func (fb *FilterBuilder) Letterbox(width, height int) *FilterBuilder {
	if width <= 0 || height <= 0 {
		return fb
	}
	fb.filters = append(fb.filters,
		fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease", width, height),
		fmt.Sprintf("pad=%d:%d:(ow-iw)/2:(oh-ih)/2", width, height),
		"setsar=1",
	)
	return fb
}

// Motion adds the zoompan filter for effect over frames output frames.
// EffectNone adds nothing.
func (fb *FilterBuilder) Motion(effect model.Effect, width, height, fps, frames int) *FilterBuilder {
	if f := motionFilter(effect, width, height, fps, frames); f != "" {
		fb.filters = append(fb.filters, f)
	}
	return fb
}

// Fade adds a fade-in at the start and a fade-out ending at duration.
// Zero lengths are skipped.
func (fb *FilterBuilder) Fade(fadeIn, fadeOut, duration float64) *FilterBuilder {
	if fadeIn > 0 {
		fb.filters = append(fb.filters, fmt.Sprintf("fade=t=in:st=0:d=%s", formatSeconds(fadeIn)))
	}
	if fadeOut > 0 {
		start := duration - fadeOut
		if start < 0 {
			start = 0
		}
		fb.filters = append(fb.filters, fmt.Sprintf("fade=t=out:st=%s:d=%s", formatSeconds(start), formatSeconds(fadeOut)))
	}
	return fb
}

func (fb *FilterBuilder) Custom(filter string) *FilterBuilder {
	fb.filters = append(fb.filters, filter)
	return fb
}

func (fb *FilterBuilder) Build() string {
	return strings.Join(fb.filters, ",")
}

const centerX, centerY = "iw/2-(iw/zoom/2)", "ih/2-(ih/zoom/2)"

// motionFilter renders the zoom/pan table with n = output frame number and
// N = total frames. Each looped input frame yields exactly one output frame.
func motionFilter(effect model.Effect, width, height, fps, frames int) string {
	if frames < 1 {
		frames = 1
	}
	n := fmt.Sprintf("on/%d", frames)

	var z, x, y string
	switch effect {
	case model.EffectZoomIn:
		z, x, y = "1+0.15*"+n, centerX, centerY
	case model.EffectZoomOut:
		z, x, y = "1.15-0.15*"+n, centerX, centerY
	case model.EffectPanLeft:
		z, x, y = "1.05", "iw*0.05*"+n, "ih*0.05"
	case model.EffectPanRight:
		z, x, y = "1.05", "iw*0.05*(1-"+n+")", "ih*0.05"
	case model.EffectKenBurns:
		z, x, y = "1+0.08*"+n, "iw/4+iw/6*"+n, "ih/4"
	case model.EffectSubtleMotion:
		z, x, y = "1+0.02*sin(2*PI*"+n+")", centerX, centerY
	default:
		return ""
	}
	return fmt.Sprintf("zoompan=z='%s':x='%s':y='%s':d=1:s=%dx%d:fps=%d", z, x, y, width, height, fps)
}

// FrameCount is the number of frames a clip of duration seconds holds.
func FrameCount(duration float64, fps int) int {
	n := int(duration * float64(fps))
	if n < 1 {
		n = 1
	}
	return n
}

// clipFilter is the full -vf chain for one segment.
func clipFilter(seg model.Segment, width, height, fps int) string {
	var fadeIn, fadeOut float64
	if seg.TransitionIn != model.TransitionNone && seg.TransitionIn != "" {
		fadeIn = seg.TransitionDuration
	}
	if seg.TransitionOut != model.TransitionNone && seg.TransitionOut != "" {
		fadeOut = seg.TransitionDuration
	}
	return NewFilterBuilder().
		Letterbox(width, height).
		Motion(seg.Effect, width, height, fps, FrameCount(seg.Duration, fps)).
		Fade(fadeIn, fadeOut, seg.Duration).
		Build()
}

// xfadeDuration is the overlap of every crossfade in the concat graph.
const xfadeDuration = 0.5

// crossfadeOffsets returns the offset of fade k (1-based) as
// sum(durations[:k]) - xfadeDuration*k, clamped at zero.
func crossfadeOffsets(durations []float64) []float64 {
	if len(durations) < 2 {
		return nil
	}
	offsets := make([]float64, len(durations)-1)
	var sum float64
	for k := 1; k < len(durations); k++ {
		sum += durations[k-1]
		off := sum - xfadeDuration*float64(k)
		if off < 0 {
			off = 0
		}
		offsets[k-1] = off
	}
	return offsets
}

// crossfadeGraph chains n clip inputs through xfade, ending in [vout]. Every
// clip but the last is held on its final frame for xfadeDuration first, so
// each fade starts on the planned boundary and the output keeps the summed
// duration of the timeline.
func crossfadeGraph(durations []float64) string {
	padded := make([]float64, len(durations))
	copy(padded, durations)
	parts := make([]string, 0, 2*len(durations))
	for i := 0; i < len(durations)-1; i++ {
		padded[i] += xfadeDuration
		parts = append(parts, fmt.Sprintf("[%d:v]tpad=stop_mode=clone:stop_duration=%s[p%d]",
			i, formatSeconds(xfadeDuration), i))
	}

	prev := "[p0]"
	for i, off := range crossfadeOffsets(padded) {
		k := i + 1
		next := fmt.Sprintf("[p%d]", k)
		out := fmt.Sprintf("[v%d]", k)
		if k == len(durations)-1 {
			next = fmt.Sprintf("[%d:v]", k)
			out = "[vout]"
		}
		parts = append(parts, fmt.Sprintf("%s%sxfade=transition=fade:duration=%s:offset=%.2f%s",
			prev, next, formatSeconds(xfadeDuration), off, out))
		prev = out
	}
	return strings.Join(parts, ";")
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', -1, 64)
}
