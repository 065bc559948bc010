package tts

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	log "log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"hark/pkg/audioconv"
)

const DefaultPiperRate = 22050

// Piper runs the piper executable once per reply and reads raw s16le PCM
// from its stdout.
type Piper struct {
	exe    string
	model  string
	rate   int
	logger *log.Logger

	command func(ctx context.Context, name string, args ...string) *exec.Cmd
}

type voiceConfig struct {
	Audio struct {
		SampleRate int `json:"sample_rate"`
	} `json:"audio"`
}

// NewPiper reads the output rate from the voice's .onnx.json sidecar when
// there is one.
func NewPiper(exe, model string, logger *log.Logger) *Piper {
	p := &Piper{
		exe:     exe,
		model:   model,
		rate:    DefaultPiperRate,
		logger:  logger.With("component", "tts", "engine", "piper"),
		command: exec.CommandContext,
	}
	if rate, err := voiceRate(model + ".json"); err == nil {
		p.rate = rate
	} else if !errors.Is(err, os.ErrNotExist) {
		p.logger.Warn("voice config unreadable, assuming default rate", "rate", p.rate, "err", err)
	}
	return p
}

func voiceRate(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	var vc voiceConfig
	if err := sonic.Unmarshal(data, &vc); err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}
	if vc.Audio.SampleRate <= 0 {
		return 0, fmt.Errorf("%s: missing audio.sample_rate", path)
	}
	return vc.Audio.SampleRate, nil
}

func (p *Piper) Synthesize(ctx context.Context, text string) (PCM, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return PCM{}, fmt.Errorf("%w: empty text", ErrSynthesis)
	}

	start := time.Now()
	cmd := p.command(ctx, p.exe, "--model", p.model, "--output_raw")
	cmd.Stdin = strings.NewReader(strings.ReplaceAll(text, "\n", " ") + "\n")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return PCM{}, ctx.Err()
		}
		return PCM{}, fmt.Errorf("%w: piper: %w: %s", ErrSynthesis, err, strings.TrimSpace(stderr.String()))
	}

	raw := stdout.Bytes()
	if len(raw) < 2 {
		return PCM{}, fmt.Errorf("%w: piper produced no audio", ErrSynthesis)
	}
	ints := make([]int16, len(raw)/2)
	if err := binary.Read(bytes.NewReader(raw[:len(ints)*2]), binary.LittleEndian, ints); err != nil {
		return PCM{}, fmt.Errorf("%w: read piper output: %w", ErrSynthesis, err)
	}

	pcm := PCM{Samples: audioconv.Int16ToFloat32(ints), SampleRate: p.rate}
	p.logger.Debug("synthesized",
		"chars", len(text),
		"audio", pcm.Duration(),
		"took", time.Since(start),
	)
	return pcm, nil
}
