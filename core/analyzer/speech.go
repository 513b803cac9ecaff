package analyzer

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"mvsynth/model"
)

const (
	speechFrameSec = 0.025
	speechHopSec   = 0.010
	minSpeechSec   = 0.1
	speechMergeSec = 0.3
)

// detectSpeech finds voice-activity regions with an adaptive RMS threshold
// (mean + 0.5 std). Runs shorter than minSpeechSec are dropped and runs
// separated by less than speechMergeSec are merged.
func detectSpeech(y []float64, sr int, duration float64) []model.SpeechSegment {
	frameLen := int(speechFrameSec * float64(sr))
	hop := int(speechHopSec * float64(sr))
	if frameLen < 1 || hop < 1 {
		return nil
	}

	energy := rms(y, frameLen, hop)
	if len(energy) == 0 {
		return nil
	}
	mean, std := stat.PopMeanStdDev(energy, nil)
	threshold := mean + 0.5*std

	var runs []model.SpeechSegment
	inRun := false
	var start float64
	for i, e := range energy {
		t := framesToTime(i, hop, sr)
		active := e > threshold
		switch {
		case active && !inRun:
			start, inRun = t, true
		case !active && inRun:
			if t-start >= minSpeechSec {
				runs = append(runs, model.SpeechSegment{Start: start, End: math.Min(t, duration)})
			}
			inRun = false
		}
	}
	if inRun && duration-start >= minSpeechSec {
		runs = append(runs, model.SpeechSegment{Start: start, End: duration})
	}

	if len(runs) == 0 {
		return nil
	}
	merged := []model.SpeechSegment{runs[0]}
	for _, r := range runs[1:] {
		last := &merged[len(merged)-1]
		if r.Start-last.End < speechMergeSec {
			last.End = r.End
			continue
		}
		merged = append(merged, r)
	}
	return merged
}
