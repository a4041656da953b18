//go:build voice

// Package audio captures microphone input through portaudio.
package audio

import (
	"context"
	"math"
	"time"

	"github.com/gordonklaus/portaudio"
)

const (
	sampleRate = 16000
	frameSize  = 320 // 20ms
)

type RecorderOptions struct {
	// SilenceRMS is the level below which a frame counts as silence.
	SilenceRMS float64
	// Silence ends the utterance once speech has started.
	Silence time.Duration
	// StartTimeout gives up when nobody starts talking.
	StartTimeout time.Duration
	MaxLength    time.Duration
}

func (o *RecorderOptions) defaults() {
	if o.SilenceRMS <= 0 {
		o.SilenceRMS = 0.015
	}
	if o.Silence <= 0 {
		o.Silence = 600 * time.Millisecond
	}
	if o.StartTimeout <= 0 {
		o.StartTimeout = 5 * time.Second
	}
	if o.MaxLength <= 0 {
		o.MaxLength = 10 * time.Second
	}
}

type Recorder struct {
	opt RecorderOptions
}

// NewRecorder initializes portaudio. Close must be called to release it.
func NewRecorder(opt RecorderOptions) (*Recorder, error) {
	opt.defaults()
	if err := portaudio.Initialize(); err != nil {
		return nil, err
	}
	return &Recorder{opt: opt}, nil
}

func (r *Recorder) Close() error {
	return portaudio.Terminate()
}

// Record returns one utterance as mono 16 kHz PCM. Leading silence is
// dropped and recording stops after a trailing pause. It returns an empty
// slice when nobody spoke before StartTimeout.
func (r *Recorder) Record(ctx context.Context) ([]float32, error) {
	buf := make([]float32, frameSize)
	out := make([]float32, 0, sampleRate*3)

	stream, err := portaudio.OpenDefaultStream(1, 0, sampleRate, len(buf), buf)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return nil, err
	}
	defer stream.Stop()

	frameDur := time.Second * frameSize / sampleRate
	var (
		speaking      bool
		silenceFrames int
		silenceLimit  = int(r.opt.Silence / frameDur)
		startFrames   = int(r.opt.StartTimeout / frameDur)
		maxFrames     = int(r.opt.MaxLength / frameDur)
	)

	for i := 0; i < maxFrames; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := stream.Read(); err != nil {
			return nil, err
		}

		if frameRMS(buf) > r.opt.SilenceRMS {
			speaking = true
			silenceFrames = 0
			out = append(out, buf...)
			continue
		}

		if !speaking {
			if i >= startFrames {
				return out, nil
			}
			continue
		}

		silenceFrames++
		if silenceFrames >= silenceLimit {
			break
		}
		out = append(out, buf...)
	}

	return out, nil
}

func frameRMS(f []float32) float64 {
	var s float64
	for _, x := range f {
		s += float64(x * x)
	}
	return math.Sqrt(s / float64(len(f)))
}
