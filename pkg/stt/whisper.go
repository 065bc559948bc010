// Package stt transcribes 16 kHz mono PCM with a whisper.cpp model.
package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"runtime"
	"strings"
	"sync"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

var ErrTranscription = errors.New("transcription failed")

type Options struct {
	Language      string // ISO code or "auto"; empty means auto
	TranslateToEn bool
	Threads       int // <= 0 uses every CPU
	InitialPrompt string
	BeamSize      int // 0 keeps greedy decoding
}

// Transcriber holds one loaded model. whisper contexts are not shared, so
// calls run one at a time.
type Transcriber struct {
	mu    sync.Mutex
	model whisper.Model
	opt   Options
}

func NewTranscriber(modelPath string, opt Options) (*Transcriber, error) {
	if strings.TrimSpace(modelPath) == "" {
		return nil, fmt.Errorf("%w: no model path", ErrTranscription)
	}
	model, err := whisper.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("open whisper model %s: %w", modelPath, err)
	}
	if opt.Language == "" {
		opt.Language = "auto"
	}
	if opt.Threads <= 0 {
		opt.Threads = runtime.NumCPU()
	}
	return &Transcriber{model: model, opt: opt}, nil
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

// Transcribe runs the model over pcm and returns the speech text with
// non-speech tags removed. The model itself cannot be interrupted; ctx is
// honoured before it starts and between segments.
func (t *Transcriber) Transcribe(ctx context.Context, pcm []float32) (string, error) {
	if len(pcm) == 0 {
		return "", fmt.Errorf("%w: empty audio", ErrTranscription)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.model == nil {
		return "", fmt.Errorf("%w: transcriber closed", ErrTranscription)
	}

	wctx, err := t.context()
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := wctx.Process(pcm, nil, nil, nil); err != nil {
		return "", fmt.Errorf("%w: %w", ErrTranscription, err)
	}

	var texts []string
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("%w: read segment: %w", ErrTranscription, err)
		}
		texts = append(texts, seg.Text)
	}
	return Clean(texts), nil
}

func (t *Transcriber) context() (whisper.Context, error) {
	wctx, err := t.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("%w: new context: %w", ErrTranscription, err)
	}
	if err := wctx.SetLanguage(t.opt.Language); err != nil {
		return nil, fmt.Errorf("%w: language %q: %w", ErrTranscription, t.opt.Language, err)
	}
	wctx.SetTranslate(t.opt.TranslateToEn)
	wctx.SetThreads(uint(t.opt.Threads))
	if t.opt.BeamSize > 0 {
		wctx.SetBeamSize(t.opt.BeamSize)
	}
	if t.opt.InitialPrompt != "" {
		wctx.SetInitialPrompt(t.opt.InitialPrompt)
	}
	return wctx, nil
}

// [BLANK_AUDIO], (music) and friends
var nonSpeech = regexp.MustCompile(`\[[A-Z_ ]+\]|\((?i:music|silence|noise|applause|laughs?)\)`)

// Clean joins segment texts, dropping non-speech tags and collapsing spaces.
func Clean(parts []string) string {
	joined := nonSpeech.ReplaceAllString(strings.Join(parts, " "), " ")
	return strings.Join(strings.Fields(joined), " ")
}
