package analyzer

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	nFFT   = 2048
	hopLen = 512
	nMels  = 128
	nMFCC  = 13
	topDB  = 80.0
	amin   = 1e-10
)

// padCenter zero-pads x by n samples on both sides so frame t is centred on sample t*hop.
func padCenter(x []float64, n int) []float64 {
	out := make([]float64, len(x)+2*n)
	copy(out[n:], x)
	return out
}

func frameCount(paddedLen, frameLen, hop int) int {
	if paddedLen < frameLen {
		return 0
	}
	return 1 + (paddedLen-frameLen)/hop
}

// periodicHann is the DFT-even Hann window used for spectral analysis.
func periodicHann(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n))
	}
	return w
}

// rms computes centred frame-wise root-mean-square energy.
func rms(y []float64, frameLen, hop int) []float64 {
	padded := padCenter(y, frameLen/2)
	frames := frameCount(len(padded), frameLen, hop)
	out := make([]float64, frames)
	for t := range out {
		start := t * hop
		var sum float64
		for _, v := range padded[start : start+frameLen] {
			sum += v * v
		}
		out[t] = math.Sqrt(sum / float64(frameLen))
	}
	return out
}

func hzToMel(f float64) float64 {
	const (
		fSp       = 200.0 / 3
		minLogHz  = 1000.0
		minLogMel = minLogHz / fSp
	)
	logstep := math.Log(6.4) / 27
	if f < minLogHz {
		return f / fSp
	}
	return minLogMel + math.Log(f/minLogHz)/logstep
}

func melToHz(m float64) float64 {
	const (
		fSp       = 200.0 / 3
		minLogHz  = 1000.0
		minLogMel = minLogHz / fSp
	)
	logstep := math.Log(6.4) / 27
	if m < minLogMel {
		return m * fSp
	}
	return minLogHz * math.Exp(logstep*(m-minLogMel))
}

// melBank is a slaney-normalised triangular filterbank. Only the non-zero
// span of each band is stored.
type melBank struct {
	lo      []int
	weights [][]float64
}

func newMelBank(sr, nfft, bands int) *melBank {
	bins := nfft/2 + 1
	fftFreqs := make([]float64, bins)
	for k := range fftFreqs {
		fftFreqs[k] = float64(k) * float64(sr) / float64(nfft)
	}

	minMel, maxMel := hzToMel(0), hzToMel(float64(sr)/2)
	melF := make([]float64, bands+2)
	for i := range melF {
		melF[i] = melToHz(minMel + (maxMel-minMel)*float64(i)/float64(bands+1))
	}

	b := &melBank{lo: make([]int, bands), weights: make([][]float64, bands)}
	for m := 0; m < bands; m++ {
		enorm := 2 / (melF[m+2] - melF[m])
		lo := -1
		var w []float64
		for k, f := range fftFreqs {
			lower := (f - melF[m]) / (melF[m+1] - melF[m])
			upper := (melF[m+2] - f) / (melF[m+2] - melF[m+1])
			v := math.Max(0, math.Min(lower, upper))
			if v <= 0 {
				if lo >= 0 {
					break
				}
				continue
			}
			if lo < 0 {
				lo = k
			}
			w = append(w, v*enorm)
		}
		if lo < 0 {
			lo = 0
		}
		b.lo[m] = lo
		b.weights[m] = w
	}
	return b
}

func (b *melBank) apply(power []float64) []float64 {
	out := make([]float64, len(b.weights))
	for m, w := range b.weights {
		var sum float64
		for i, v := range w {
			sum += v * power[b.lo[m]+i]
		}
		out[m] = sum
	}
	return out
}

// melSpectrogramDB returns the power mel spectrogram in decibels, indexed
// [frame][band], clipped to topDB below its peak.
func melSpectrogramDB(y []float64, sr int) [][]float64 {
	padded := padCenter(y, nFFT/2)
	frames := frameCount(len(padded), nFFT, hopLen)
	window := periodicHann(nFFT)
	fft := fourier.NewFFT(nFFT)
	bank := newMelBank(sr, nFFT, nMels)

	buf := make([]float64, nFFT)
	coeffs := make([]complex128, nFFT/2+1)
	power := make([]float64, nFFT/2+1)
	out := make([][]float64, frames)
	maxDB := math.Inf(-1)

	for t := 0; t < frames; t++ {
		start := t * hopLen
		for i := range buf {
			buf[i] = padded[start+i] * window[i]
		}
		coeffs = fft.Coefficients(coeffs, buf)
		for k, c := range coeffs {
			re, im := real(c), imag(c)
			power[k] = re*re + im*im
		}
		row := bank.apply(power)
		for m, v := range row {
			db := 10 * math.Log10(math.Max(amin, v))
			row[m] = db
			if db > maxDB {
				maxDB = db
			}
		}
		out[t] = row
	}

	floor := maxDB - topDB
	for _, row := range out {
		for m, v := range row {
			if v < floor {
				row[m] = floor
			}
		}
	}
	return out
}

// mfcc projects each dB mel frame onto the first n orthonormal DCT-II bases.
func mfcc(melDB [][]float64, n int) [][]float64 {
	if len(melDB) == 0 {
		return nil
	}
	bands := len(melDB[0])
	basis := make([][]float64, n)
	for k := range basis {
		scale := math.Sqrt(2 / float64(bands))
		if k == 0 {
			scale = math.Sqrt(1 / float64(bands))
		}
		basis[k] = make([]float64, bands)
		for j := range basis[k] {
			basis[k][j] = scale * math.Cos(math.Pi*float64(k)*(2*float64(j)+1)/(2*float64(bands)))
		}
	}

	out := make([][]float64, len(melDB))
	for t, row := range melDB {
		coef := make([]float64, n)
		for k, b := range basis {
			var sum float64
			for j, v := range row {
				sum += b[j] * v
			}
			coef[k] = sum
		}
		out[t] = coef
	}
	return out
}

func framesToTime(frame, hop, sr int) float64 {
	return float64(frame*hop) / float64(sr)
}
