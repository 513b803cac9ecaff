package model

// MarkerType identifies the kind of event a Marker represents.
type MarkerType string

const (
	MarkerBeat        MarkerType = "beat"
	MarkerDownbeat    MarkerType = "downbeat"
	MarkerEnergyPeak  MarkerType = "energy_peak"
	MarkerSpeechStart MarkerType = "speech_start"
	MarkerSpeechEnd   MarkerType = "speech_end"
	MarkerSection     MarkerType = "section"
)

// Default marker strengths by type.
const (
	DownbeatStrength    = 1.0
	EnergyPeakStrength  = 0.9
	SpeechStartStrength = 0.8
	SpeechEndStrength   = 0.6
	SectionStrength     = 1.0
)

// Marker is a point event on the audio timeline.
type Marker struct {
	Time     float64                `json:"time"`
	Type     MarkerType             `json:"type"`
	Strength float64                `json:"strength"`
	Data     map[string]interface{} `json:"data,omitempty"`
}

// MarkersIn returns the markers with start <= time < end, preserving order.
func MarkersIn(markers []Marker, start, end float64) []Marker {
	var out []Marker
	for _, m := range markers {
		if m.Time >= start && m.Time < end {
			out = append(out, m)
		}
	}
	return out
}

// FilterMarkers returns the markers of the given type, preserving order.
func FilterMarkers(markers []Marker, t MarkerType) []Marker {
	var out []Marker
	for _, m := range markers {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}
