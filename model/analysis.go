package model

import (
	"fmt"
	"math"
)

// EnergyPoint is one sample of the normalized RMS energy curve.
type EnergyPoint struct {
	Time   float64 `json:"time"`
	Energy float64 `json:"energy"`
}

// Section is one structural segment of the audio.
type Section struct {
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
	Index    int     `json:"index"`
	Duration float64 `json:"duration"`
}

// SpeechSegment is a contiguous region of detected voice activity.
type SpeechSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Analysis is the complete output of the audio analyzer. It is immutable once built.
type Analysis struct {
	Duration       float64         `json:"duration"`
	SampleRate     int             `json:"sample_rate"`
	Tempo          float64         `json:"tempo"`
	Beats          []float64       `json:"beats"`
	Downbeats      []float64       `json:"downbeats"`
	EnergyCurve    []EnergyPoint   `json:"energy_curve"`
	Markers        []Marker        `json:"markers"`
	Sections       []Section       `json:"sections"`
	SpeechSegments []SpeechSegment `json:"speech_segments"`
}

// EnergyAt linearly interpolates the energy curve at t. Outside the curve the
// neighbours default to 0.5 at time 0 and at Duration.
func (a *Analysis) EnergyAt(t float64) float64 {
	if len(a.EnergyCurve) == 0 {
		return 0.5
	}

	prev := EnergyPoint{Time: 0, Energy: 0.5}
	next := EnergyPoint{Time: a.Duration, Energy: 0.5}
	for _, p := range a.EnergyCurve {
		if p.Time <= t {
			prev = p
			continue
		}
		next = p
		break
	}

	if next.Time == prev.Time {
		return prev.Energy
	}
	ratio := (t - prev.Time) / (next.Time - prev.Time)
	return prev.Energy + ratio*(next.Energy-prev.Energy)
}

// Validate checks the structural invariants of an analysis.
func (a *Analysis) Validate() error {
	if a.Duration <= 0 {
		return fmt.Errorf("duration must be positive, got %f", a.Duration)
	}
	if a.Tempo <= 0 {
		return fmt.Errorf("tempo must be positive, got %f", a.Tempo)
	}

	for i := 1; i < len(a.Beats); i++ {
		if a.Beats[i] < a.Beats[i-1] {
			return fmt.Errorf("beats not sorted at %d", i)
		}
	}
	for i := 1; i < len(a.EnergyCurve); i++ {
		if a.EnergyCurve[i].Time <= a.EnergyCurve[i-1].Time {
			return fmt.Errorf("energy curve not strictly increasing at %d", i)
		}
	}
	for i := 1; i < len(a.Markers); i++ {
		if a.Markers[i].Time < a.Markers[i-1].Time {
			return fmt.Errorf("markers not sorted at %d", i)
		}
	}
	for _, m := range a.Markers {
		if m.Time < 0 || m.Time > a.Duration+1e-9 {
			return fmt.Errorf("marker %s at %f outside [0, %f]", m.Type, m.Time, a.Duration)
		}
	}

	if len(a.Sections) == 0 {
		return fmt.Errorf("no sections")
	}
	if a.Sections[0].Start != 0 {
		return fmt.Errorf("first section starts at %f", a.Sections[0].Start)
	}
	for i := 1; i < len(a.Sections); i++ {
		if a.Sections[i].Start != a.Sections[i-1].End {
			return fmt.Errorf("sections %d and %d do not tile", i-1, i)
		}
	}
	if last := a.Sections[len(a.Sections)-1]; math.Abs(last.End-a.Duration) > 1e-9 {
		return fmt.Errorf("last section ends at %f, duration %f", last.End, a.Duration)
	}

	for i, s := range a.SpeechSegments {
		if s.End < s.Start {
			return fmt.Errorf("speech segment %d ends before it starts", i)
		}
		if i > 0 && s.Start < a.SpeechSegments[i-1].End {
			return fmt.Errorf("speech segments %d and %d overlap", i-1, i)
		}
	}
	return nil
}
