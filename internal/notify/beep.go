//go:build voice

// Package notify plays short sounds and synthesized replies on the default
// output device.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
	"github.com/faiface/beep/wav"
)

const outputRate = beep.SampleRate(44100)

var (
	initOnce sync.Once
	initErr  error
	playMu   sync.Mutex
)

func ensureSpeaker() error {
	initOnce.Do(func() {
		initErr = speaker.Init(outputRate, outputRate.N(time.Second/10))
	})
	return initErr
}

// Init opens the output device. Play calls it on demand.
func Init() error {
	return ensureSpeaker()
}

// Play decodes mp3 or wav data and blocks until playback ends or ctx is done.
func Play(ctx context.Context, data []byte, format string) error {
	if err := ensureSpeaker(); err != nil {
		return fmt.Errorf("init speaker: %w", err)
	}

	rc := io.NopCloser(bytes.NewReader(data))

	var (
		streamer beep.StreamSeekCloser
		f        beep.Format
		err      error
	)
	switch format {
	case "wav":
		streamer, f, err = wav.Decode(rc)
	case "mp3", "":
		streamer, f, err = mp3.Decode(rc)
	default:
		return fmt.Errorf("cannot play %q audio", format)
	}
	if err != nil {
		return fmt.Errorf("decode %s: %w", format, err)
	}
	defer streamer.Close()

	var s beep.Streamer = streamer
	if f.SampleRate != outputRate {
		s = beep.Resample(4, f.SampleRate, outputRate, streamer)
	}

	playMu.Lock()
	defer playMu.Unlock()

	done := make(chan struct{})
	speaker.Play(beep.Seq(s, beep.Callback(func() {
		close(done)
	})))

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		speaker.Clear()
		return ctx.Err()
	}
}

// Chime plays the listening cue from path. An empty path is a no-op.
func Chime(ctx context.Context, path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read chime: %w", err)
	}
	format := "mp3"
	if bytes.HasPrefix(data, []byte("RIFF")) {
		format = "wav"
	}
	return Play(ctx, data, format)
}
