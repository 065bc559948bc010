package tts

import (
	"context"
	"sync"
)

// Mock is a Synthesizer for tests. With a nil SynthesizeFunc it returns
// 10 ms of silence per character at 16 kHz.
type Mock struct {
	SynthesizeFunc func(ctx context.Context, text string) (PCM, error)

	mu    sync.Mutex
	calls []string
}

func NewMock() *Mock {
	return &Mock{}
}

// FailingMock always returns err.
func FailingMock(err error) *Mock {
	return &Mock{SynthesizeFunc: func(context.Context, string) (PCM, error) {
		return PCM{}, err
	}}
}

func (m *Mock) Synthesize(ctx context.Context, text string) (PCM, error) {
	m.mu.Lock()
	m.calls = append(m.calls, text)
	m.mu.Unlock()

	if m.SynthesizeFunc != nil {
		return m.SynthesizeFunc(ctx, text)
	}
	return PCM{Samples: make([]float32, len(text)*160), SampleRate: 16000}, nil
}

// Calls returns the texts passed to Synthesize, in order.
func (m *Mock) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

var _ Synthesizer = (*Mock)(nil)
