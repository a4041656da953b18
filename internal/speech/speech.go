// Package speech turns microphone audio into text and replies into sound.
// Online paths go through the OpenAI audio API; offline paths need the
// voice build tag (whisper.cpp, portaudio, espeak-ng).
package speech

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"strings"

	"github.com/vanshikaxcx/emotibot/pkg/audioconv"
)

var (
	ErrEmptyText   = errors.New("nothing to say")
	ErrUnavailable = errors.New("speech backend not available")
	ErrNoSpeech    = errors.New("no speech detected")
)

const (
	MethodAuto    = "auto"
	MethodOffline = "offline"
	MethodOnline  = "online"
)

type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename, lang string) (string, error)
}

type Audio struct {
	Data   []byte
	Format string // mp3, wav
}

func (a Audio) ContentType() string {
	switch a.Format {
	case "wav":
		return "audio/wav"
	case "opus":
		return "audio/ogg"
	default:
		return "audio/mpeg"
	}
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (Audio, error)
}

// Voice speaks text on the local machine without network access.
type Voice interface {
	Say(ctx context.Context, text string) error
}

type Player interface {
	Play(ctx context.Context, a Audio) error
}

// Recorder captures one utterance as mono 16 kHz PCM.
type Recorder interface {
	Record(ctx context.Context) ([]float32, error)
}

// Ducker lowers other applications while the companion talks.
type Ducker interface {
	Duck(ctx context.Context) error
	Unduck(ctx context.Context) error
}

// Speaker holds whatever speech backends could be set up. Any of them may be
// nil.
type Speaker struct {
	Transcriber Transcriber
	Synthesizer Synthesizer
	Voice       Voice
	Player      Player
	Recorder    Recorder
	Ducker      Ducker
	Lang        string
}

// Speak says text with the given method. auto tries the offline voice first
// and falls back to online synthesis played locally.
func (s *Speaker) Speak(ctx context.Context, text, method string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyText
	}
	if method == "" {
		method = MethodAuto
	}

	if s.Ducker != nil {
		if err := s.Ducker.Duck(ctx); err != nil {
			log.Debug("Duck failed", "err", err)
		}
		defer func() {
			if err := s.Ducker.Unduck(context.WithoutCancel(ctx)); err != nil {
				log.Debug("Unduck failed", "err", err)
			}
		}()
	}

	switch method {
	case MethodOffline:
		return s.speakOffline(ctx, text)
	case MethodOnline:
		return s.speakOnline(ctx, text)
	case MethodAuto:
		err := s.speakOffline(ctx, text)
		if err == nil {
			return nil
		}
		log.Debug("Offline voice failed, trying online", "err", err)
		if err2 := s.speakOnline(ctx, text); err2 != nil {
			return errors.Join(err, err2)
		}
		return nil
	default:
		return fmt.Errorf("unknown speech method %q", method)
	}
}

func (s *Speaker) speakOffline(ctx context.Context, text string) error {
	if s.Voice == nil {
		return fmt.Errorf("offline voice: %w", ErrUnavailable)
	}
	if err := s.Voice.Say(ctx, text); err != nil {
		return fmt.Errorf("offline voice: %w", err)
	}
	return nil
}

func (s *Speaker) speakOnline(ctx context.Context, text string) error {
	if s.Synthesizer == nil || s.Player == nil {
		return fmt.Errorf("online voice: %w", ErrUnavailable)
	}
	a, err := s.Synthesizer.Synthesize(ctx, text)
	if err != nil {
		return fmt.Errorf("online voice: %w", err)
	}
	if err := s.Player.Play(ctx, a); err != nil {
		return fmt.Errorf("play: %w", err)
	}
	return nil
}

// Synthesize renders text to audio for a remote client.
func (s *Speaker) Synthesize(ctx context.Context, text string) (Audio, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Audio{}, ErrEmptyText
	}
	if s.Synthesizer == nil {
		return Audio{}, fmt.Errorf("synthesize: %w", ErrUnavailable)
	}
	return s.Synthesizer.Synthesize(ctx, text)
}

// Transcribe converts uploaded audio to text.
func (s *Speaker) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	if s.Transcriber == nil {
		return "", fmt.Errorf("transcribe: %w", ErrUnavailable)
	}
	if len(audio) == 0 {
		return "", ErrNoSpeech
	}
	text, err := s.Transcriber.Transcribe(ctx, audio, filename, s.Lang)
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrNoSpeech
	}
	return text, nil
}

// ListenOnce records one utterance from the microphone and transcribes it.
func (s *Speaker) ListenOnce(ctx context.Context) (string, error) {
	if s.Recorder == nil {
		return "", fmt.Errorf("microphone: %w", ErrUnavailable)
	}

	pcm, err := s.Recorder.Record(ctx)
	if err != nil {
		return "", fmt.Errorf("record: %w", err)
	}
	if len(pcm) == 0 {
		return "", ErrNoSpeech
	}
	log.Debug("Recorded", "samples", len(pcm))

	wav, err := audioconv.EncodeWAV(pcm, audioconv.SampleRate)
	if err != nil {
		return "", err
	}
	return s.Transcribe(ctx, wav, "speech.wav")
}

// Check reports which speech components are usable.
func (s *Speaker) Check(_ context.Context) map[string]bool {
	return map[string]bool{
		"microphone":         s.Recorder != nil,
		"speech_recognition": s.Transcriber != nil,
		"offline_tts":        s.Voice != nil,
		"online_tts":         s.Synthesizer != nil,
		"audio_playback":     s.Player != nil,
	}
}
