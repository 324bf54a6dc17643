// Package cue plays the short sound that tells the user capture has started.
package cue

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
)

// Beep plays an mp3 file on the default output device. The speaker is
// initialised once, at the rate of the first file played.
type Beep struct {
	Path string

	mu      sync.Mutex
	once    sync.Once
	rate    beep.SampleRate
	initErr error
}

func NewBeep(path string) *Beep {
	return &Beep{Path: path}
}

// Play blocks until the cue has finished.
func (b *Beep) Play() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	f, err := os.Open(b.Path)
	if err != nil {
		return fmt.Errorf("open cue: %w", err)
	}

	streamer, format, err := mp3.Decode(f)
	if err != nil {
		f.Close()
		return fmt.Errorf("decode cue: %w", err)
	}
	defer streamer.Close()

	b.once.Do(func() {
		b.rate = format.SampleRate
		b.initErr = speaker.Init(format.SampleRate, format.SampleRate.N(time.Second/10))
	})
	if b.initErr != nil {
		return fmt.Errorf("init speaker: %w", b.initErr)
	}

	var s beep.Streamer = streamer
	if format.SampleRate != b.rate {
		s = beep.Resample(4, format.SampleRate, b.rate, streamer)
	}

	done := make(chan struct{})
	speaker.Play(beep.Seq(s, beep.Callback(func() {
		close(done)
	})))
	<-done
	return nil
}
