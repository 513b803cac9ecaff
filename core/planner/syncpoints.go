package planner

import (
	"math"
	"sort"

	"mvsynth/model"
)

// syncPoints selects the candidate cut times for the given mode. The result
// starts at 0 and is strictly increasing; it does not yet include duration.
func syncPoints(a *model.Analysis, opts Options) []float64 {
	switch opts.Mode {
	case ModeUniform:
		return uniformPoints(a.Duration, opts)
	case ModeSectionSync:
		return sectionPoints(a)
	case ModeEnergySync:
		return energyPoints(a, opts)
	default:
		return beatPoints(a, opts)
	}
}

func uniformPoints(duration float64, opts Options) []float64 {
	avg := (opts.MinSegment + opts.MaxSegment) / 2
	n := int(math.Ceil(duration / avg))
	if n < 1 {
		n = 1
	}
	step := duration / float64(n)
	points := make([]float64, n)
	for i := range points {
		points[i] = float64(i) * step
	}
	return points
}

func sectionPoints(a *model.Analysis) []float64 {
	points := []float64{0}
	for _, s := range a.Sections {
		if s.Start > 0 {
			points = append(points, s.Start)
		}
	}
	sort.Float64s(points)
	return points
}

func energyPoints(a *model.Analysis, opts Options) []float64 {
	points := []float64{0}
	for _, m := range a.Markers {
		if m.Type != model.MarkerEnergyPeak {
			continue
		}
		if m.Time-points[len(points)-1] >= opts.MinSegment {
			points = append(points, m.Time)
		}
	}
	return points
}

// beatPoints walks the downbeats (or beats when there are none). Gaps below
// the minimum are skipped; gaps above the maximum get synthetic points every
// MaxSegment until the candidate fits.
func beatPoints(a *model.Analysis, opts Options) []float64 {
	candidates := a.Downbeats
	if len(candidates) == 0 {
		candidates = a.Beats
	}

	points := []float64{0}
	for _, t := range candidates {
		for {
			last := points[len(points)-1]
			gap := t - last
			if gap < opts.MinSegment {
				break
			}
			if gap <= opts.MaxSegment {
				points = append(points, t)
				break
			}
			points = append(points, last+opts.MaxSegment)
		}
	}

	if last := points[len(points)-1]; a.Duration-last > opts.MaxSegment {
		points = append(points, a.Duration-opts.MaxSegment/2)
	}
	return points
}

// densify splits the widest gap at its midpoint until there are at least
// want points. Ties go to the later gap.
func densify(points []float64, want int, duration float64) []float64 {
	for len(points) < want {
		if len(points) < 2 {
			points = append(points, duration)
			continue
		}
		widest, at := -1.0, 0
		for i := 0; i < len(points)-1; i++ {
			if gap := points[i+1] - points[i]; gap >= widest {
				widest, at = gap, i
			}
		}
		mid := (points[at] + points[at+1]) / 2
		points = append(points, 0)
		copy(points[at+2:], points[at+1:])
		points[at+1] = mid
	}
	return points
}

// finalize drops anything at or past duration or not strictly increasing,
// then closes the sequence with duration itself.
func finalize(points []float64, duration float64) []float64 {
	out := make([]float64, 0, len(points)+1)
	for _, p := range points {
		if p >= duration {
			continue
		}
		if len(out) > 0 && p <= out[len(out)-1] {
			continue
		}
		out = append(out, p)
	}
	return append(out, duration)
}
