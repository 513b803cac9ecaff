package analyzer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"mvsynth/core/utils"
	"mvsynth/logger"
	"mvsynth/model"
)

const (
	minDuration     = 1.0
	energyFrameLen  = 2048
	energyPeakFloor = 0.7
)

// Options controls the analysis. Use DefaultOptions as the starting point.
type Options struct {
	DetectSpeech     bool    `json:"detect_speech"`
	EnergyHopMs      int     `json:"energy_hop_ms"`
	MinBeatStrength  float64 `json:"min_beat_strength"`
	SectionThreshold float64 `json:"section_threshold"`
}

// DefaultOptions returns detect_speech=true, 50 ms energy hop, 0.3 minimum
// beat strength and 0.5 section threshold.
func DefaultOptions() Options {
	return Options{
		DetectSpeech:     true,
		EnergyHopMs:      50,
		MinBeatStrength:  0.3,
		SectionThreshold: 0.5,
	}
}

func (o Options) Validate() error {
	if o.EnergyHopMs < 10 || o.EnergyHopMs > 500 {
		return fmt.Errorf("energy_hop_ms %d outside [10, 500]", o.EnergyHopMs)
	}
	if !(o.MinBeatStrength >= 0 && o.MinBeatStrength <= 1) {
		return fmt.Errorf("min_beat_strength %g outside [0, 1]", o.MinBeatStrength)
	}
	if !(o.SectionThreshold >= 0 && o.SectionThreshold <= 1) {
		return fmt.Errorf("section_threshold %g outside [0, 1]", o.SectionThreshold)
	}
	return nil
}

// String is a stable encoding used in cache keys.
func (o Options) String() string {
	return fmt.Sprintf("s%t-h%d-b%g-t%g", o.DetectSpeech, o.EnergyHopMs, o.MinBeatStrength, o.SectionThreshold)
}

// Cache stores finished analyses across runs.
type Cache interface {
	GetAnalysis(ctx context.Context, key string) (*model.Analysis, bool)
	SetAnalysis(ctx context.Context, key string, a *model.Analysis) error
}

// Analyzer extracts beats, energy, speech and sections from audio files.
type Analyzer struct {
	decoder Decoder
	cache   Cache
	log     *zap.Logger
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithCache memoizes analyses by file content and options.
func WithCache(c Cache) Option {
	return func(a *Analyzer) { a.cache = c }
}

// New creates an Analyzer reading audio through dec.
func New(dec Decoder, opts ...Option) *Analyzer {
	a := &Analyzer{decoder: dec, log: logger.Named("analyzer")}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze decodes audioPath and builds its Analysis.
func (a *Analyzer) Analyze(ctx context.Context, audioPath string, opts Options) (*model.Analysis, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	var key string
	if a.cache != nil {
		digest, err := fileDigest(audioPath)
		if err != nil {
			return nil, readError(audioPath, err)
		}
		key = fmt.Sprintf("analysis:%s:%s", digest, opts)
		if cached, ok := a.cache.GetAnalysis(ctx, key); ok {
			a.log.Debug("analysis cache hit", zap.String("path", audioPath))
			return cached, nil
		}
	}

	samples, sr, err := a.decoder.Decode(ctx, audioPath)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, readError(audioPath, err)
	}
	if sr <= 0 {
		return nil, readError(audioPath, fmt.Errorf("invalid sample rate %d", sr))
	}

	result, err := a.AnalyzeSamples(ctx, samples, sr, opts)
	if err != nil {
		var se *model.StageError
		if errors.As(err, &se) && se.Input == "" {
			se.Input = audioPath
		}
		return nil, err
	}

	a.log.Info("audio analyzed",
		zap.String("path", audioPath),
		zap.Float64("duration", result.Duration),
		zap.Float64("tempo", result.Tempo),
		zap.Int("beats", len(result.Beats)),
		zap.Int("sections", len(result.Sections)),
		zap.Int("markers", len(result.Markers)))

	if a.cache != nil {
		if err := a.cache.SetAnalysis(ctx, key, result); err != nil {
			a.log.Warn("failed to cache analysis", zap.String("path", audioPath), zap.Error(err))
		}
	}
	return result, nil
}

func readError(path string, err error) error {
	se := model.NewStageError(model.StageAnalyze, path, model.ErrAudioRead, err)
	se.Stderr = utils.StderrOf(err)
	return se
}

func fileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// AnalyzeSamples analyzes mono samples at sample rate sr.
func (a *Analyzer) AnalyzeSamples(ctx context.Context, y []float64, sr int, opts Options) (*model.Analysis, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	duration := float64(len(y)) / float64(sr)
	if duration < minDuration {
		return nil, model.NewStageError(model.StageAnalyze, "", model.ErrAudioEmpty,
			fmt.Errorf("decoded duration %.3fs", duration))
	}

	res := &model.Analysis{Duration: duration, SampleRate: sr}

	// Beats and tempo
	melDB := melSpectrogramDB(y, sr)
	onset := onsetStrength(melDB)
	res.Tempo = estimateTempo(onset, sr)
	beatFrames := trackBeats(onset, res.Tempo, sr)
	res.Beats = make([]float64, len(beatFrames))
	for i, f := range beatFrames {
		res.Beats[i] = framesToTime(f, hopLen, sr)
	}
	res.Downbeats = downbeatsOf(res.Beats)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Energy
	hop := max(1, sr*opts.EnergyHopMs/1000)
	energy := rms(y, energyFrameLen, hop)
	if len(energy) > 0 {
		if mx := floats.Max(energy); mx > 0 {
			floats.Scale(1/mx, energy)
		}
	}
	res.EnergyCurve = make([]model.EnergyPoint, 0, len(energy)+1)
	for i, e := range energy {
		res.EnergyCurve = append(res.EnergyCurve, model.EnergyPoint{Time: framesToTime(i, hop, sr), Energy: e})
	}
	if n := len(res.EnergyCurve); n == 0 || res.EnergyCurve[n-1].Time < duration {
		last := 0.0
		if n > 0 {
			last = res.EnergyCurve[n-1].Energy
		}
		res.EnergyCurve = append(res.EnergyCurve, model.EnergyPoint{Time: duration, Energy: last})
	}
	peakDistance := max(1, int(float64(sr)/float64(hop)/2))
	energyPeaks := findPeaks(energy, energyPeakFloor, peakDistance)

	// Speech
	if opts.DetectSpeech {
		res.SpeechSegments = detectSpeech(y, sr, duration)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Sections
	boundaries, err := sectionBoundaries(mfcc(melDB, nMFCC), sr, opts.SectionThreshold)
	if err != nil {
		a.log.Warn("section detection failed, using a single section", zap.Error(err))
		boundaries = nil
	}
	res.Sections = buildSections(boundaries, duration)

	res.Markers = collectMarkers(res, beatFrames, onset, energyPeaks, hop, opts)
	return res, nil
}

// collectMarkers emits markers in type order (downbeat, beat, energy peak,
// speech, section) and then stable-sorts them by time.
func collectMarkers(res *model.Analysis, beatFrames []int, onset []float64, energyPeaks []int, hop int, opts Options) []model.Marker {
	var markers []model.Marker

	for i, t := range res.Downbeats {
		markers = append(markers, model.Marker{
			Time:     t,
			Type:     model.MarkerDownbeat,
			Strength: model.DownbeatStrength,
			Data:     map[string]interface{}{"measure": i},
		})
	}

	maxOnset := 0.0
	if len(onset) > 0 {
		maxOnset = floats.Max(onset)
	}
	for i, f := range beatFrames {
		strength := 0.5
		if maxOnset > 0 && f < len(onset) {
			strength = math.Min(1, onset[f]/maxOnset)
		}
		if strength < opts.MinBeatStrength {
			continue
		}
		markers = append(markers, model.Marker{
			Time:     res.Beats[i],
			Type:     model.MarkerBeat,
			Strength: strength,
			Data:     map[string]interface{}{"index": i},
		})
	}

	for _, p := range energyPeaks {
		markers = append(markers, model.Marker{
			Time:     framesToTime(p, hop, res.SampleRate),
			Type:     model.MarkerEnergyPeak,
			Strength: model.EnergyPeakStrength,
			Data:     map[string]interface{}{"energy": res.EnergyCurve[p].Energy},
		})
	}

	for i, s := range res.SpeechSegments {
		markers = append(markers,
			model.Marker{
				Time:     s.Start,
				Type:     model.MarkerSpeechStart,
				Strength: model.SpeechStartStrength,
				Data:     map[string]interface{}{"segment": i, "end": s.End},
			},
			model.Marker{
				Time:     s.End,
				Type:     model.MarkerSpeechEnd,
				Strength: model.SpeechEndStrength,
				Data:     map[string]interface{}{"segment": i, "start": s.Start},
			})
	}

	for _, s := range res.Sections[1:] {
		markers = append(markers, model.Marker{
			Time:     s.Start,
			Type:     model.MarkerSection,
			Strength: model.SectionStrength,
			Data:     map[string]interface{}{"index": s.Index, "start": s.Start, "end": s.End},
		})
	}

	sort.SliceStable(markers, func(i, j int) bool {
		return markers[i].Time < markers[j].Time
	})
	return markers
}
