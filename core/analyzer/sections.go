package analyzer

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"

	"mvsynth/model"
)

const sectionMinSpacingSec = 10.0

var errNoNovelty = errors.New("mfcc novelty curve is undefined")

// sectionBoundaries returns the interior boundary times found as peaks of
// the normalised MFCC novelty curve.
func sectionBoundaries(coeffs [][]float64, sr int, threshold float64) ([]float64, error) {
	if len(coeffs) < 3 {
		return nil, nil
	}

	novelty := make([]float64, len(coeffs)-1)
	for t := range novelty {
		var sum float64
		for k := range coeffs[t] {
			sum += math.Abs(coeffs[t+1][k] - coeffs[t][k])
		}
		if math.IsNaN(sum) || math.IsInf(sum, 0) {
			return nil, errNoNovelty
		}
		novelty[t] = sum
	}
	if mx := floats.Max(novelty); mx > 0 {
		floats.Scale(1/mx, novelty)
	}

	distance := int(float64(sr) / hopLen * sectionMinSpacingSec)
	var out []float64
	for _, p := range findPeaks(novelty, threshold, distance) {
		out = append(out, framesToTime(p, hopLen, sr))
	}
	return out, nil
}

// buildSections tiles [0, duration] using the given interior boundaries.
func buildSections(boundaries []float64, duration float64) []model.Section {
	points := []float64{0}
	for _, b := range boundaries {
		if b > points[len(points)-1] && b < duration {
			points = append(points, b)
		}
	}
	points = append(points, duration)

	sections := make([]model.Section, 0, len(points)-1)
	for i := 0; i < len(points)-1; i++ {
		sections = append(sections, model.Section{
			Start:    points[i],
			End:      points[i+1],
			Index:    i,
			Duration: points[i+1] - points[i],
		})
	}
	return sections
}
