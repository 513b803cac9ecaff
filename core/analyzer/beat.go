package analyzer

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const (
	defaultTempo = 120.0
	startBPM     = 120.0
	stdBPM       = 1.0 // octaves
	maxTempo     = 320.0
	acSize       = 8.0 // seconds of lag considered by the tempo estimator
	tightness    = 100.0
)

// onsetStrength is the mean positive spectral flux between adjacent dB mel
// frames, shifted so that onset frames line up with centred STFT frames.
func onsetStrength(melDB [][]float64) []float64 {
	n := len(melDB)
	out := make([]float64, n)
	shift := 1 + nFFT/(2*hopLen)
	for t := 1; t < n; t++ {
		dst := t - 1 + shift
		if dst >= n {
			break
		}
		var sum float64
		for m, v := range melDB[t] {
			if d := v - melDB[t-1][m]; d > 0 {
				sum += d
			}
		}
		out[dst] = sum / float64(len(melDB[t]))
	}
	return out
}

// estimateTempo picks the autocorrelation lag of the onset envelope with the
// best score under a log-normal prior centred on startBPM.
func estimateTempo(onset []float64, sr int) float64 {
	fftRes := float64(sr) / hopLen
	maxLag := int(acSize * fftRes)
	if maxLag > len(onset)-1 {
		maxLag = len(onset) - 1
	}
	if maxLag < 1 {
		return defaultTempo
	}

	ac := make([]float64, maxLag+1)
	for lag := range ac {
		ac[lag] = floats.Dot(onset[:len(onset)-lag], onset[lag:])
	}
	if ac[0] <= 0 {
		return defaultTempo
	}

	best, bestScore := defaultTempo, math.Inf(-1)
	for lag := 1; lag <= maxLag; lag++ {
		bpm := 60 * fftRes / float64(lag)
		if bpm > maxTempo {
			continue
		}
		prior := (math.Log2(bpm) - math.Log2(startBPM)) / stdBPM
		score := math.Log1p(1e6*ac[lag]/ac[0]) - 0.5*prior*prior
		if score > bestScore {
			best, bestScore = bpm, score
		}
	}
	return best
}

// trackBeats runs the dynamic-programming beat tracker over the onset envelope
// and returns beat frame indices.
func trackBeats(onset []float64, bpm float64, sr int) []int {
	if len(onset) == 0 || floats.Max(onset) <= 0 {
		return nil
	}

	fftRes := float64(sr) / hopLen
	period := int(math.Round(60 * fftRes / bpm))
	if period < 1 {
		period = 1
	}

	local := localScore(onset, period)
	backlink, cum := beatDP(local, period)

	beats := []int{lastBeat(cum)}
	for backlink[beats[len(beats)-1]] >= 0 {
		beats = append(beats, backlink[beats[len(beats)-1]])
	}
	for i, j := 0, len(beats)-1; i < j; i, j = i+1, j-1 {
		beats[i], beats[j] = beats[j], beats[i]
	}

	return trimBeats(local, beats)
}

// localScore smooths the std-normalised onset envelope with a Gaussian
// whose width is a small fraction of the beat period.
func localScore(onset []float64, period int) []float64 {
	norm := make([]float64, len(onset))
	copy(norm, onset)
	if sd := stat.StdDev(norm, nil); sd > 0 {
		floats.Scale(1/sd, norm)
	}

	window := make([]float64, 2*period+1)
	for i := range window {
		d := float64(i-period) * 32 / float64(period)
		window[i] = math.Exp(-0.5 * d * d)
	}

	out := make([]float64, len(norm))
	for i := range out {
		var sum float64
		for k, w := range window {
			j := i + k - period
			if j < 0 || j >= len(norm) {
				continue
			}
			sum += norm[j] * w
		}
		out[i] = sum
	}
	return out
}

func beatDP(local []float64, period int) ([]int, []float64) {
	backlink := make([]int, len(local))
	cum := make([]float64, len(local))

	near := int(math.RoundToEven(float64(period) / 2))
	var offsets []int
	for off := -2 * period; off <= -near; off++ {
		offsets = append(offsets, off)
	}
	txwt := make([]float64, len(offsets))
	for j, off := range offsets {
		l := math.Log(float64(-off) / float64(period))
		txwt[j] = -tightness * l * l
	}

	threshold := 0.01 * floats.Max(local)
	first := true
	for i, score := range local {
		best, bestIdx := math.Inf(-1), 0
		for j, off := range offsets {
			c := txwt[j]
			if pos := i + off; pos >= 0 {
				c += cum[pos]
			}
			if c > best {
				best, bestIdx = c, j
			}
		}
		cum[i] = score + best

		if first && score < threshold {
			backlink[i] = -1
		} else {
			backlink[i] = i + offsets[bestIdx]
			first = false
		}
	}
	return backlink, cum
}

// lastBeat is the final local maximum of the cumulative score that clears
// half the median of all local maxima.
func lastBeat(cum []float64) int {
	n := len(cum)
	isMax := make([]bool, n)
	var maxima []float64
	for i, v := range cum {
		prev, next := cum[max(i-1, 0)], cum[min(i+1, n-1)]
		if v > prev && v >= next {
			isMax[i] = true
			maxima = append(maxima, v)
		}
	}
	if len(maxima) == 0 {
		return n - 1
	}

	sort.Float64s(maxima)
	med := maxima[len(maxima)/2]
	if len(maxima)%2 == 0 {
		med = (maxima[len(maxima)/2-1] + maxima[len(maxima)/2]) / 2
	}

	for i := n - 1; i >= 0; i-- {
		if isMax[i] && 2*cum[i] > med {
			return i
		}
	}
	return n - 1
}

// trimBeats drops leading and trailing beats whose smoothed local score is
// below half the RMS of the beat scores.
func trimBeats(local []float64, beats []int) []int {
	if len(beats) == 0 {
		return beats
	}
	x := make([]float64, len(beats))
	for i, b := range beats {
		x[i] = local[b]
	}

	smooth := make([]float64, len(x))
	var sq float64
	for i := range x {
		v := x[i]
		if i > 0 {
			v += 0.5 * x[i-1]
		}
		if i < len(x)-1 {
			v += 0.5 * x[i+1]
		}
		smooth[i] = v
		sq += v * v
	}
	threshold := 0.5 * math.Sqrt(sq/float64(len(smooth)))

	lo, hi := -1, -1
	for i, v := range smooth {
		if v > threshold {
			if lo < 0 {
				lo = i
			}
			hi = i
		}
	}
	if lo < 0 {
		return nil
	}
	return beats[lo : hi+1]
}

// downbeatsOf assumes 4/4 and takes every fourth beat. With fewer than four
// beats every beat is a downbeat.
func downbeatsOf(beats []float64) []float64 {
	if len(beats) < 4 {
		return append([]float64(nil), beats...)
	}
	var out []float64
	for i := 0; i < len(beats); i += 4 {
		out = append(out, beats[i])
	}
	return out
}
