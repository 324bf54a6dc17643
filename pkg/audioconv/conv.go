// Package audioconv decodes audio files into the 16 kHz mono float PCM the
// transcription gateways take.
package audioconv

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
	popus "github.com/pekim/opus"
)

const TargetRate = 16000

type Options struct {
	MaxSamples int
}

type Format string

const (
	WAV     Format = "wav"
	MP3     Format = "mp3"
	Ogg     Format = "ogg"
	Unknown Format = ""
)

// DecodeFile picks a decoder from the extension, falling back to sniffing
// the magic bytes.
func DecodeFile(path string, opt Options) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	format := formatFromExt(filepath.Ext(path))
	if format == Unknown {
		if format, err = sniff(f); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}

	pcm, err := Decode(f, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if opt.MaxSamples > 0 && len(pcm) > opt.MaxSamples {
		pcm = pcm[:opt.MaxSamples]
	}
	return pcm, nil
}

func Decode(r io.ReadSeeker, format Format) ([]float32, error) {
	switch format {
	case WAV:
		return decodeWAV(r)
	case MP3:
		return decodeMP3(r)
	case Ogg:
		// Vorbis first, then Opus in the same container
		if pcm, err := decodeVorbis(r); err == nil {
			return pcm, nil
		}
		if _, err := r.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		pcm, err := decodeOpus(r)
		if err != nil {
			return nil, fmt.Errorf("ogg is neither vorbis nor opus: %w", err)
		}
		return pcm, nil
	default:
		return nil, fmt.Errorf("unsupported format %q (wav/mp3/ogg)", format)
	}
}

func formatFromExt(ext string) Format {
	switch strings.ToLower(ext) {
	case ".wav":
		return WAV
	case ".mp3":
		return MP3
	case ".ogg", ".oga", ".opus":
		return Ogg
	}
	return Unknown
}

func sniff(f io.ReadSeeker) (Format, error) {
	magic, _ := bufio.NewReader(f).Peek(4)
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return Unknown, err
	}
	switch {
	case string(magic) == "RIFF":
		return WAV, nil
	case string(magic) == "OggS":
		return Ogg, nil
	case len(magic) >= 3 && (string(magic[:3]) == "ID3" || magic[0] == 0xFF):
		return MP3, nil
	}
	return Unknown, errors.New("unrecognized audio container")
}

func decodeWAV(r io.ReadSeeker) ([]float32, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, errors.New("invalid wav")
	}
	pb, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, err
	}
	if pb == nil || len(pb.Data) == 0 {
		return nil, errors.New("empty wav")
	}

	depth := int(dec.BitDepth)
	if depth == 0 {
		depth = 16
	}
	channels, rate := 1, 44100
	if pb.Format != nil {
		if pb.Format.NumChannels > 0 {
			channels = pb.Format.NumChannels
		}
		if pb.Format.SampleRate > 0 {
			rate = pb.Format.SampleRate
		}
	}
	return toMono16k(intsToFloat(pb.Data, depth), channels, rate), nil
}

func decodeMP3(r io.Reader) ([]float32, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, err
	}
	var raw bytes.Buffer
	if _, err := io.Copy(&raw, dec); err != nil {
		return nil, err
	}
	samples := make([]int16, raw.Len()/2)
	if err := binary.Read(bytes.NewReader(raw.Bytes()), binary.LittleEndian, &samples); err != nil {
		return nil, err
	}
	rate := dec.SampleRate()
	if rate <= 0 {
		rate = 44100
	}
	// go-mp3 always yields interleaved stereo
	return toMono16k(int16sToFloat(samples), 2, rate), nil
}

func decodeVorbis(r io.Reader) ([]float32, error) {
	pcm, format, err := oggvorbis.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if format == nil || format.Channels <= 0 || format.SampleRate <= 0 {
		return nil, errors.New("invalid ogg/vorbis stream")
	}
	return toMono16k(pcm, format.Channels, format.SampleRate), nil
}

func decodeOpus(r io.ReadSeeker) ([]float32, error) {
	dec, err := popus.NewDecoder(r)
	if err != nil {
		return nil, err
	}
	defer dec.Destroy()

	channels := dec.ChannelCount()
	if channels <= 0 {
		channels = 1
	}

	// opusfile always decodes at 48 kHz
	var pcm []float32
	buf := make([]int16, 24000*channels)
	for {
		n, err := dec.Read(buf)
		if n > 0 {
			pcm = append(pcm, int16sToFloat(buf[:n*channels])...)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	return toMono16k(pcm, channels, 48000), nil
}

func toMono16k(x []float32, channels, rate int) []float32 {
	return Resample(Downmix(x, channels), rate, TargetRate)
}

func intsToFloat(data []int, bitDepth int) []float32 {
	out := make([]float32, len(data))
	scale := 1.0 / float64(int64(1)<<(bitDepth-1))
	for i, v := range data {
		out[i] = float32(clamp(float64(v)*scale, -1, 1))
	}
	return out
}

func int16sToFloat(data []int16) []float32 {
	out := make([]float32, len(data))
	for i, v := range data {
		out[i] = float32(v) / 32768
	}
	return out
}

// Downmix averages interleaved channels into mono.
func Downmix(in []float32, channels int) []float32 {
	if channels <= 1 {
		return in
	}
	n := len(in) / channels
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += float64(in[i*channels+c])
		}
		out[i] = float32(sum / float64(channels))
	}
	return out
}

// Resample converts between rates with linear interpolation.
func Resample(in []float32, from, to int) []float32 {
	if from == to || len(in) == 0 {
		return in
	}
	ratio := float64(to) / float64(from)
	n := int(float64(len(in))*ratio + 0.5)
	out := make([]float32, n)
	last := len(in) - 1
	for i := range out {
		src := float64(i) / ratio
		i0 := int(src)
		if i0 >= last {
			out[i] = in[last]
			continue
		}
		a := float32(src - float64(i0))
		out[i] = in[i0]*(1-a) + in[i0+1]*a
	}
	return out
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
