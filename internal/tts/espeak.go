//go:build voice

// Package tts speaks text through libespeak-ng.
package tts

/*
#cgo LDFLAGS: -lespeak-ng
#include <stdlib.h>
#include <string.h>
#include <espeak-ng/speak_lib.h>

static int
espeak_say(const char *text, int rate, const char *lang)
{
	if (!text)
	{ return -1; }

	if (espeak_Initialize(AUDIO_OUTPUT_SYNCH_PLAYBACK, 500, NULL, 0) < 0)
	{ return -2; }

	espeak_VOICE specs = { 0 };
	specs.languages = lang;
	espeak_SetVoiceByProperties(&specs);
	espeak_SetParameter(espeakRATE, rate, 0);

	espeak_Synth(text, strlen(text) + 1, 0, POS_CHARACTER, 0, espeakCHARS_AUTO, NULL, NULL);
	espeak_Synchronize();
	espeak_Terminate();

	return 0;
}
*/
import "C"

import (
	"context"
	"fmt"
	"sync"
	"unsafe"
)

// espeak keeps global state; one utterance at a time.
var mu sync.Mutex

type Espeak struct {
	rate int
	lang string
}

func New(rate int, lang string) *Espeak {
	if rate <= 0 {
		rate = 150
	}
	if lang == "" {
		lang = "en"
	}
	return &Espeak{rate: rate, lang: lang}
}

// Say blocks until the text has been spoken. Cancelling ctx only prevents an
// utterance that has not started yet.
func (e *Espeak) Say(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()

	ctext := C.CString(text)
	defer C.free(unsafe.Pointer(ctext))
	clang := C.CString(e.lang)
	defer C.free(unsafe.Pointer(clang))

	if rc := C.espeak_say(ctext, C.int(e.rate), clang); rc != 0 {
		return fmt.Errorf("espeak_say failed: %d", int(rc))
	}
	return nil
}
