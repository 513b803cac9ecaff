package analyzer

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"mvsynth/core/utils"
)

// Decoder turns an audio file into mono samples at its native sample rate.
type Decoder interface {
	Decode(ctx context.Context, path string) ([]float64, int, error)
}

// FileDecoder decodes PCM WAV files in-process and everything else through
// ffprobe/ffmpeg.
type FileDecoder struct {
	FFmpegPath  string
	FFprobePath string
}

// NewFileDecoder creates a decoder. An empty ffprobe path is derived from the
// ffmpeg path.
func NewFileDecoder(ffmpegPath, ffprobePath string) *FileDecoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = strings.Replace(ffmpegPath, "ffmpeg", "ffprobe", 1)
	}
	return &FileDecoder{FFmpegPath: ffmpegPath, FFprobePath: ffprobePath}
}

func (d *FileDecoder) Decode(ctx context.Context, path string) ([]float64, int, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, 0, err
	}
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		samples, sr, ok, err := decodeWAV(path)
		if err != nil {
			return nil, 0, err
		}
		if ok {
			return samples, sr, nil
		}
	}
	return d.decodeFFmpeg(ctx, path)
}

// decodeWAV reads integer PCM WAV files. ok is false for formats it does not
// handle (e.g. float or compressed WAV) so the caller can fall back to ffmpeg.
func decodeWAV(path string) (samples []float64, sampleRate int, ok bool, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, false, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() || dec.WavAudioFormat != 1 {
		return nil, 0, false, nil
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to read wav %s: %w", path, err)
	}
	return downmix(buf, int(dec.BitDepth)), int(dec.SampleRate), true, nil
}

// downmix averages interleaved channels and scales integers to [-1, 1].
func downmix(buf *audio.IntBuffer, depth int) []float64 {
	channels := 1
	if buf.Format != nil && buf.Format.NumChannels > 0 {
		channels = buf.Format.NumChannels
	}
	if depth <= 0 {
		depth = buf.SourceBitDepth
	}
	if depth <= 0 {
		depth = 16
	}
	scale := math.Pow(2, float64(depth-1))

	frames := len(buf.Data) / channels
	out := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += float64(buf.Data[i*channels+c])
		}
		out[i] = sum / float64(channels) / scale
	}
	return out
}

type probeStreams struct {
	Streams []struct {
		CodecName  string `json:"codec_name"`
		SampleRate string `json:"sample_rate"`
	} `json:"streams"`
}

// sampleRate uses ffprobe to get the native sample rate of the first audio stream.
func (d *FileDecoder) sampleRate(ctx context.Context, path string) (int, error) {
	var out bytes.Buffer
	err := utils.RunCommand(ctx, &out, d.FFprobePath,
		"-v", "error",
		"-select_streams", "a:0",
		"-show_entries", "stream=codec_name,sample_rate",
		"-of", "json",
		path,
	)
	if err != nil {
		return 0, err
	}

	var probe probeStreams
	if err := json.Unmarshal(out.Bytes(), &probe); err != nil {
		return 0, fmt.Errorf("failed to unmarshal ffprobe output for %s: %w\nFFprobe Output: %s", path, err, out.String())
	}
	if len(probe.Streams) == 0 {
		return 0, fmt.Errorf("no audio streams found in %s", path)
	}
	sr, err := strconv.Atoi(probe.Streams[0].SampleRate)
	if err != nil || sr <= 0 {
		return 0, fmt.Errorf("invalid sample rate %q in %s", probe.Streams[0].SampleRate, path)
	}
	return sr, nil
}

// decodeFFmpeg asks ffmpeg for mono 32-bit float PCM on stdout.
func (d *FileDecoder) decodeFFmpeg(ctx context.Context, path string) ([]float64, int, error) {
	sr, err := d.sampleRate(ctx, path)
	if err != nil {
		return nil, 0, err
	}

	var out bytes.Buffer
	err = utils.RunCommand(ctx, &out, d.FFmpegPath,
		"-v", "error",
		"-i", path,
		"-vn",
		"-ac", "1",
		"-f", "f32le",
		"-acodec", "pcm_f32le",
		"pipe:1",
	)
	if err != nil {
		return nil, 0, err
	}

	raw := out.Bytes()
	samples := make([]float64, len(raw)/4)
	for i := range samples {
		samples[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:])))
	}
	return samples, sr, nil
}
