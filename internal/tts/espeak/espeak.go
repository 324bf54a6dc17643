// Package espeak speaks through libespeak-ng.
package espeak

/*
#cgo LDFLAGS: -lespeak-ng
#include <stdlib.h>
#include <string.h>
#include <espeak-ng/speak_lib.h>

static int
mizon_init(void)
{
	return espeak_Initialize(AUDIO_OUTPUT_PLAYBACK, 500, NULL, 0);
}

static int
mizon_say(const char *text, const char *lang, int rate, int pitch)
{
	espeak_VOICE voice;
	memset(&voice, 0, sizeof(voice));
	voice.languages = lang;
	if (espeak_SetVoiceByProperties(&voice) != EE_OK)
		return -2;
	if (rate > 0)
		espeak_SetParameter(espeakRATE, rate, 0);
	if (pitch > 0)
		espeak_SetParameter(espeakPITCH, pitch, 0);

	return espeak_Synth(text, strlen(text) + 1, 0, POS_CHARACTER, 0,
	                    espeakCHARS_AUTO, NULL, NULL) == EE_OK ? 0 : -1;
}
*/
import "C"

import (
	"context"
	"fmt"
	"sync"
	"unsafe"

	"mizon/internal/tts"
	"mizon/pkg/phrase"
)

// Speaker owns the process-wide espeak instance; calls are serialized.
type Speaker struct {
	mu sync.Mutex
}

var (
	initOnce sync.Once
	initErr  error
)

func New() (*Speaker, error) {
	initOnce.Do(func() {
		if rc := C.mizon_init(); rc < 0 {
			initErr = fmt.Errorf("espeak_Initialize failed: %d", int(rc))
		}
	})
	if initErr != nil {
		return nil, initErr
	}
	return &Speaker{}, nil
}

func voice(lang phrase.Language, text string) string {
	if lang.Resolve(text) == phrase.Arabic {
		return "ar"
	}
	return "en"
}

// Speak queues the text and waits for playback to drain. Cancelling ctx
// cuts playback off immediately.
func (s *Speaker) Speak(ctx context.Context, req tts.Request) error {
	if req.Text == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ctext := C.CString(req.Text)
	defer C.free(unsafe.Pointer(ctext))
	clang := C.CString(voice(req.Language, req.Text))
	defer C.free(unsafe.Pointer(clang))

	if rc := C.mizon_say(ctext, clang, C.int(req.Rate), C.int(req.Pitch)); rc != 0 {
		return &tts.SynthesisError{Engine: "espeak", Err: fmt.Errorf("espeak_say failed: %d", int(rc))}
	}

	done := make(chan struct{})
	go func() {
		C.espeak_Synchronize()
		close(done)
	}()

	select {
	case <-ctx.Done():
		C.espeak_Cancel()
		<-done
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (s *Speaker) Close() error {
	C.espeak_Terminate()
	return nil
}
