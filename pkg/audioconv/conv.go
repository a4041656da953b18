// Package audioconv decodes common audio containers into mono 16 kHz float
// PCM, the input whisper expects, and encodes PCM back to WAV.
package audioconv

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
)

const SampleRate = 16000

var ErrUnsupported = errors.New("unsupported audio format")

type Options struct {
	// MaxSamples caps the output length; 0 keeps everything.
	MaxSamples int
}

// clip is decoded audio before normalization: interleaved samples in
// [-1, 1] at their native rate.
type clip struct {
	samples  []float32
	channels int
	rate     int
}

// mono16k downmixes, resamples and trims c to what whisper expects.
func (c clip) mono16k(opt Options) []float32 {
	x := downmix(c.samples, c.channels)
	x = resample(x, c.rate, SampleRate)
	if opt.MaxSamples > 0 && len(x) > opt.MaxSamples {
		x = x[:opt.MaxSamples]
	}
	return x
}

type decoder func(data []byte) (clip, error)

func decoderFor(name string, data []byte) (decoder, error) {
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".wav", ".wave":
		return decodeWAV, nil
	case ".mp3", ".mpga", ".mpeg":
		return decodeMP3, nil
	case ".ogg", ".oga", ".opus":
		return decodeOgg, nil
	}

	switch {
	case bytes.HasPrefix(data, []byte("RIFF")):
		return decodeWAV, nil
	case bytes.HasPrefix(data, []byte("OggS")):
		return decodeOgg, nil
	case bytes.HasPrefix(data, []byte("ID3")), len(data) > 1 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return decodeMP3, nil
	}
	return nil, fmt.Errorf("%w: %q (wav, mp3, ogg vorbis or opus)", ErrUnsupported, ext)
}

func DecodeFile(path string, opt Options) ([]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Decode(data, path, opt)
}

// Decode picks a decoder from name's extension, falling back to sniffing the
// container magic when the extension is unknown.
func Decode(data []byte, name string, opt Options) ([]float32, error) {
	dec, err := decoderFor(name, data)
	if err != nil {
		return nil, err
	}
	c, err := dec(data)
	if err != nil {
		return nil, err
	}
	return c.mono16k(opt), nil
}

func decodeOgg(data []byte) (clip, error) {
	c, vorbisErr := decodeVorbis(data)
	if vorbisErr == nil {
		return c, nil
	}
	c, opusErr := decodeOpus(bytes.NewReader(data))
	if opusErr == nil {
		return c, nil
	}
	return clip{}, fmt.Errorf("ogg is neither vorbis (%v) nor opus: %w", vorbisErr, opusErr)
}

func decodeWAV(data []byte) (clip, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return clip{}, errors.New("wav: invalid header")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return clip{}, fmt.Errorf("wav: %w", err)
	}
	if buf == nil || len(buf.Data) == 0 {
		return clip{}, errors.New("wav: no samples")
	}

	c := clip{channels: 1, rate: 44100}
	if f := buf.Format; f != nil {
		c.channels = max(f.NumChannels, 1)
		if f.SampleRate > 0 {
			c.rate = f.SampleRate
		}
	}

	depth := int(dec.BitDepth)
	if depth == 0 {
		depth = 16
	}
	full := float64(int64(1) << (depth - 1))
	c.samples = make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		c.samples[i] = float32(math.Max(-1, math.Min(1, float64(v)/full)))
	}
	return c, nil
}

// go-mp3 always produces 16-bit little-endian stereo.
func decodeMP3(data []byte) (clip, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return clip{}, fmt.Errorf("mp3: %w", err)
	}
	raw, err := io.ReadAll(dec)
	if err != nil {
		return clip{}, fmt.Errorf("mp3: %w", err)
	}

	ints := make([]int16, len(raw)/2)
	if err := binary.Read(bytes.NewReader(raw[:len(ints)*2]), binary.LittleEndian, ints); err != nil {
		return clip{}, fmt.Errorf("mp3: %w", err)
	}

	rate := dec.SampleRate()
	if rate <= 0 {
		rate = 44100
	}
	return clip{samples: fromInt16(ints), channels: 2, rate: rate}, nil
}

func decodeVorbis(data []byte) (clip, error) {
	pcm, format, err := oggvorbis.ReadAll(bytes.NewReader(data))
	if err != nil {
		return clip{}, err
	}
	if format == nil || format.Channels <= 0 || format.SampleRate <= 0 {
		return clip{}, errors.New("vorbis: bad stream format")
	}
	return clip{samples: pcm, channels: format.Channels, rate: format.SampleRate}, nil
}

func fromInt16(in []int16) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v) / 32768
	}
	return out
}

// downmix averages interleaved frames into one channel.
func downmix(in []float32, channels int) []float32 {
	if channels <= 1 {
		return in
	}
	out := make([]float32, len(in)/channels)
	for i := range out {
		var sum float32
		for _, v := range in[i*channels : (i+1)*channels] {
			sum += v
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// resample converts between rates by linear interpolation. The tail repeats
// the last input sample.
func resample(in []float32, from, to int) []float32 {
	if from == to || len(in) == 0 {
		return in
	}
	step := float64(from) / float64(to)
	out := make([]float32, int(math.Ceil(float64(len(in))*float64(to)/float64(from))))
	last := len(in) - 1
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= last {
			out[i] = in[last]
			continue
		}
		frac := float32(pos - float64(j))
		out[i] = in[j] + (in[j+1]-in[j])*frac
	}
	return out
}
