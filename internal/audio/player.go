package audio

import (
	"context"
	"fmt"
	log "log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
	"github.com/faiface/beep/wav"
)

// DefaultPlaybackRate is the rate the speaker runs at; every source is
// resampled to it.
const DefaultPlaybackRate = 44100

// Player plays PCM buffers and audio files through the default output device.
// The speaker is opened lazily on first use and shared by every call.
type Player struct {
	rate   beep.SampleRate
	logger *log.Logger

	once    sync.Once
	initErr error
	mu      sync.Mutex
}

func NewPlayer(rate int, logger *log.Logger) *Player {
	if rate <= 0 {
		rate = DefaultPlaybackRate
	}
	return &Player{
		rate:   beep.SampleRate(rate),
		logger: logger.With("component", "player"),
	}
}

func (p *Player) init() error {
	p.once.Do(func() {
		if err := speaker.Init(p.rate, p.rate.N(time.Second/10)); err != nil {
			p.initErr = fmt.Errorf("%w: speaker init: %w", ErrDevice, err)
		}
	})
	return p.initErr
}

// PlayPCM blocks until the mono samples at rate have been played or ctx ends.
func (p *Player) PlayPCM(ctx context.Context, samples []float32, rate int) error {
	if len(samples) == 0 {
		return nil
	}
	return p.play(ctx, pcmStreamer(samples), beep.SampleRate(rate))
}

// PlayFile plays a wav or mp3 file.
func (p *Player) PlayFile(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var (
		s      beep.StreamSeekCloser
		format beep.Format
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		s, format, err = mp3.Decode(f)
	default:
		s, format, err = wav.Decode(f)
	}
	if err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	defer s.Close()

	return p.play(ctx, s, format.SampleRate)
}

func (p *Player) play(ctx context.Context, s beep.Streamer, rate beep.SampleRate) error {
	if err := p.init(); err != nil {
		return err
	}

	// one sound at a time
	p.mu.Lock()
	defer p.mu.Unlock()

	if rate != p.rate {
		s = beep.Resample(4, rate, p.rate, s)
	}

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

// pcmStreamer feeds mono samples to both speaker channels.
func pcmStreamer(samples []float32) beep.Streamer {
	pos := 0
	return beep.StreamerFunc(func(out [][2]float64) (int, bool) {
		if pos >= len(samples) {
			return 0, false
		}
		n := copy2(out, samples[pos:])
		pos += n
		return n, true
	})
}

func copy2(out [][2]float64, in []float32) int {
	n := min(len(out), len(in))
	for i := 0; i < n; i++ {
		v := float64(in[i])
		out[i][0] = v
		out[i][1] = v
	}
	return n
}
