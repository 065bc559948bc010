// Package tts turns reply text into mono PCM and writes it to WAV files.
package tts

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"hark/pkg/audioconv"
)

var ErrSynthesis = errors.New("synthesis failed")

type PCM struct {
	Samples    []float32
	SampleRate int
}

func (p PCM) Duration() time.Duration {
	if p.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(p.Samples)) * time.Second / time.Duration(p.SampleRate)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (PCM, error)
}

// Chain tries synthesizers in order and returns the first success.
type Chain struct {
	synths []Synthesizer
	logger *log.Logger
}

func NewChain(logger *log.Logger, synths ...Synthesizer) (*Chain, error) {
	if len(synths) == 0 {
		return nil, fmt.Errorf("%w: no synthesizers configured", ErrSynthesis)
	}
	return &Chain{synths: synths, logger: logger.With("component", "tts.chain")}, nil
}

func (c *Chain) Synthesize(ctx context.Context, text string) (PCM, error) {
	var errs []error
	for i, s := range c.synths {
		pcm, err := s.Synthesize(ctx, text)
		if err == nil {
			if i > 0 {
				c.logger.Info("fallback synthesizer succeeded", "index", i)
			}
			return pcm, nil
		}
		if ctx.Err() != nil {
			return PCM{}, ctx.Err()
		}
		errs = append(errs, err)
		c.logger.Warn("synthesizer failed, trying next", "index", i, "err", err)
	}
	return PCM{}, fmt.Errorf("%w: %w", ErrSynthesis, errors.Join(errs...))
}

// SaveWAV writes pcm as 16-bit mono, creating the parent directory.
func SaveWAV(path string, pcm PCM) error {
	if pcm.SampleRate <= 0 {
		return fmt.Errorf("save %s: invalid sample rate %d", path, pcm.SampleRate)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}

	ints := audioconv.Float32ToInt16(pcm.Samples)
	data := make([]int, len(ints))
	for i, v := range ints {
		data[i] = int(v)
	}

	enc := wav.NewEncoder(f, pcm.SampleRate, 16, 1, 1)
	err = enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: pcm.SampleRate},
		Data:           data,
		SourceBitDepth: 16,
	})
	if err == nil {
		err = enc.Close()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}
