//go:build voice

package speech

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"time"

	"github.com/vanshikaxcx/emotibot/internal/audio"
	"github.com/vanshikaxcx/emotibot/internal/notify"
	"github.com/vanshikaxcx/emotibot/internal/tts"
	"github.com/vanshikaxcx/emotibot/pkg/audioconv"
	"github.com/vanshikaxcx/emotibot/pkg/stt"
)

const VoiceSupport = true

type LocalOptions struct {
	WhisperModel string
	Rate         int
	Lang         string
	Chime        string
	Duck         bool
}

type whisperTranscriber struct {
	tr *stt.Transcriber
}

func (w whisperTranscriber) Transcribe(ctx context.Context, data []byte, filename, lang string) (string, error) {
	pcm, err := audioconv.Decode(data, filename, audioconv.Options{MaxSamples: audioconv.SampleRate * 120})
	if err != nil {
		return "", err
	}
	res, err := w.tr.TranscribePCM(ctx, pcm, stt.Options{Language: lang})
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

type beepPlayer struct{}

func (beepPlayer) Play(ctx context.Context, a Audio) error {
	return notify.Play(ctx, a.Data, a.Format)
}

type chimeRecorder struct {
	rec   *audio.Recorder
	chime string
}

func (c chimeRecorder) Record(ctx context.Context) ([]float32, error) {
	if err := notify.Chime(ctx, c.chime); err != nil {
		log.Debug("Chime failed", "err", err)
	}
	return c.rec.Record(ctx)
}

// SetupLocal attaches every local backend that initializes. Backends that
// fail are logged and left nil. Local whisper is only used when no
// transcriber is set yet. The returned func releases them.
func SetupLocal(s *Speaker, opt LocalOptions) func() error {
	var closers []func() error

	s.Voice = tts.New(opt.Rate, opt.Lang)

	if err := notify.Init(); err != nil {
		log.Warn("Audio playback unavailable", "err", err)
	} else {
		s.Player = beepPlayer{}
	}

	if rec, err := audio.NewRecorder(audio.RecorderOptions{}); err != nil {
		log.Warn("Microphone unavailable", "err", err)
	} else {
		s.Recorder = chimeRecorder{rec: rec, chime: opt.Chime}
		closers = append(closers, rec.Close)
	}

	if opt.WhisperModel != "" && s.Transcriber == nil {
		t := time.Now()
		tr, err := stt.NewTranscriber(opt.WhisperModel)
		if err != nil {
			log.Warn("Local whisper unavailable", "model", opt.WhisperModel, "err", err)
		} else {
			log.Debug("Loaded whisper", "model", opt.WhisperModel, "took", time.Since(t))
			s.Transcriber = whisperTranscriber{tr: tr}
			closers = append(closers, tr.Close)
		}
	}

	if opt.Duck {
		d := audio.NewDucker([]string{"emotibot"}, 0.3, 10, 200*time.Millisecond)
		if d.Available() {
			s.Ducker = d
		}
	}

	return func() error {
		var errs []error
		for _, c := range closers {
			if err := c(); err != nil {
				errs = append(errs, err)
			}
		}
		if err := errors.Join(errs...); err != nil {
			return fmt.Errorf("close local speech: %w", err)
		}
		return nil
	}
}
