//go:build !voice

package speech

import (
	log "log/slog"
)

const VoiceSupport = false

type LocalOptions struct {
	WhisperModel string
	Rate         int
	Lang         string
	Chime        string
	Duck         bool
}

func SetupLocal(_ *Speaker, _ LocalOptions) func() error {
	log.Debug("Built without voice support; offline speech disabled")
	return func() error { return nil }
}
