package analyzer

import "sort"

// findPeaks returns the indices of local maxima of x whose value is at least
// height and which are at least distance samples apart. Flat peaks resolve to
// their midpoint. When two peaks are too close the higher one wins; ties keep
// the later peak.
func findPeaks(x []float64, height float64, distance int) []int {
	var peaks []int
	n := len(x)
	for i := 1; i < n-1; {
		if x[i-1] < x[i] {
			ahead := i + 1
			for ahead < n-1 && x[ahead] == x[i] {
				ahead++
			}
			if x[ahead] < x[i] {
				peaks = append(peaks, (i+ahead-1)/2)
				i = ahead
				continue
			}
		}
		i++
	}

	filtered := peaks[:0]
	for _, p := range peaks {
		if x[p] >= height {
			filtered = append(filtered, p)
		}
	}
	peaks = filtered

	if distance <= 1 || len(peaks) < 2 {
		return peaks
	}

	order := make([]int, len(peaks))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return x[peaks[order[a]]] < x[peaks[order[b]]]
	})

	keep := make([]bool, len(peaks))
	for i := range keep {
		keep[i] = true
	}
	for i := len(order) - 1; i >= 0; i-- {
		j := order[i]
		if !keep[j] {
			continue
		}
		for k := j - 1; k >= 0 && peaks[j]-peaks[k] < distance; k-- {
			keep[k] = false
		}
		for k := j + 1; k < len(peaks) && peaks[k]-peaks[j] < distance; k++ {
			keep[k] = false
		}
	}

	out := make([]int, 0, len(peaks))
	for i, p := range peaks {
		if keep[i] {
			out = append(out, p)
		}
	}
	return out
}
