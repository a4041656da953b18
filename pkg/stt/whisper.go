//go:build voice

// Package stt runs whisper.cpp locally on 16 kHz mono PCM.
package stt

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

var ErrNoAudio = errors.New("no audio samples")

type Options struct {
	// Language is a whisper language code or "auto".
	Language      string
	Threads       int
	InitialPrompt string
	BeamSize      int
	// Temperature 0 keeps decoding greedy and repeatable.
	Temperature float32
}

type Segment struct {
	Text  string
	Start time.Duration
	End   time.Duration
}

type Result struct {
	Text     string
	Segments []Segment
	Language string
}

// Whisper tags silence and background sound with bracketed markers such as
// [BLANK_AUDIO] or (music). They are never part of what the user said.
var markerRe = regexp.MustCompile(`^\s*[\[(][^\])]*[\])]\s*$`)

type Transcriber struct {
	mu    sync.Mutex
	model whisper.Model
}

func NewTranscriber(modelPath string) (*Transcriber, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: empty model path")
	}
	m, err := whisper.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load %s: %w", modelPath, err)
	}
	return &Transcriber{model: m}, nil
}

func (t *Transcriber) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.model == nil {
		return nil
	}
	err := t.model.Close()
	t.model = nil
	return err
}

// TranscribePCM decodes mono 16 kHz samples in [-1, 1]. Calls are serialized
// because every context shares the loaded model. Cancelling ctx stops the
// encoder before it starts.
func (t *Transcriber) TranscribePCM(ctx context.Context, pcm []float32, opt Options) (Result, error) {
	if len(pcm) == 0 {
		return Result{}, ErrNoAudio
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.model == nil {
		return Result{}, errors.New("whisper: transcriber closed")
	}

	wctx, err := t.model.NewContext()
	if err != nil {
		return Result{}, fmt.Errorf("whisper: new context: %w", err)
	}
	if err := configure(wctx, opt); err != nil {
		return Result{}, err
	}

	var segs []Segment
	onSegment := func(s whisper.Segment) {
		if markerRe.MatchString(s.Text) {
			return
		}
		segs = append(segs, Segment{Text: strings.TrimSpace(s.Text), Start: s.Start, End: s.End})
	}
	keepGoing := func() bool { return ctx.Err() == nil }

	if err := wctx.Process(pcm, keepGoing, onSegment, nil); err != nil {
		return Result{}, fmt.Errorf("whisper: process: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	lang := wctx.DetectedLanguage()
	if lang == "" {
		lang = wctx.Language()
	}
	return Result{Text: joinSegments(segs), Segments: segs, Language: lang}, nil
}

func configure(wctx whisper.Context, opt Options) error {
	lang := opt.Language
	if lang == "" {
		lang = "auto"
	}
	if err := wctx.SetLanguage(lang); err != nil {
		return fmt.Errorf("whisper: language %q: %w", lang, err)
	}

	threads := opt.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	wctx.SetThreads(uint(threads))
	wctx.SetTranslate(false)
	wctx.SetTemperature(opt.Temperature)

	if opt.BeamSize > 0 {
		wctx.SetBeamSize(opt.BeamSize)
	}
	if opt.InitialPrompt != "" {
		wctx.SetInitialPrompt(opt.InitialPrompt)
	}
	return nil
}

func joinSegments(segs []Segment) string {
	parts := make([]string, 0, len(segs))
	for _, s := range segs {
		if s.Text != "" {
			parts = append(parts, s.Text)
		}
	}
	return strings.Join(parts, " ")
}
