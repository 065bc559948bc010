package vad

import (
	"errors"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// The onnxruntime environment is process wide and is never torn down.
var (
	envOnce sync.Once
	envErr  error
)

// stateShape is the recurrent state silero v5 carries between windows.
var stateShape = ort.NewShape(2, 1, 128)

type SileroConfig struct {
	ModelPath   string
	RuntimePath string
	SampleRate  int
}

// SileroModel runs silero_vad.onnx. Input is consumed in fixed windows
// (512 samples at 16 kHz, 256 at 8 kHz) prefixed with the tail of the previous
// window; partial windows wait for the next frame.
type SileroModel struct {
	window  int
	context int

	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	sr      *ort.Tensor[int64]
	state   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	stateN  *ort.Tensor[float32]

	pending []float32
	tail    []float32
	last    float32
}

func windowFor(rate int) (window, context int, err error) {
	switch rate {
	case 16000:
		return 512, 64, nil
	case 8000:
		return 256, 32, nil
	}
	return 0, 0, fmt.Errorf("silero: unsupported sample rate %d (want 8000 or 16000)", rate)
}

func NewSileroModel(cfg SileroConfig) (*SileroModel, error) {
	window, context, err := windowFor(cfg.SampleRate)
	if err != nil {
		return nil, err
	}
	if cfg.ModelPath == "" {
		return nil, errors.New("silero: model path is required")
	}

	envOnce.Do(func() {
		if cfg.RuntimePath != "" {
			ort.SetSharedLibraryPath(cfg.RuntimePath)
		}
		envErr = ort.InitializeEnvironment()
	})
	if envErr != nil {
		return nil, fmt.Errorf("silero: init onnxruntime: %w", envErr)
	}

	m := &SileroModel{
		window:  window,
		context: context,
		tail:    make([]float32, context),
	}
	if err := m.open(cfg.ModelPath, int64(cfg.SampleRate)); err != nil {
		m.Close()
		return nil, err
	}
	return m, nil
}

func (m *SileroModel) open(path string, rate int64) error {
	var err error

	if m.input, err = ort.NewEmptyTensor[float32](ort.NewShape(1, int64(m.context+m.window))); err != nil {
		return fmt.Errorf("silero: input tensor: %w", err)
	}
	if m.sr, err = ort.NewTensor(ort.NewShape(1), []int64{rate}); err != nil {
		return fmt.Errorf("silero: sr tensor: %w", err)
	}
	if m.state, err = ort.NewEmptyTensor[float32](stateShape); err != nil {
		return fmt.Errorf("silero: state tensor: %w", err)
	}
	if m.output, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 1)); err != nil {
		return fmt.Errorf("silero: output tensor: %w", err)
	}
	if m.stateN, err = ort.NewEmptyTensor[float32](stateShape); err != nil {
		return fmt.Errorf("silero: stateN tensor: %w", err)
	}

	m.session, err = ort.NewAdvancedSession(path,
		[]string{"input", "sr", "state"},
		[]string{"output", "stateN"},
		[]ort.Value{m.input, m.sr, m.state},
		[]ort.Value{m.output, m.stateN},
		nil,
	)
	if err != nil {
		return fmt.Errorf("silero: create session %s: %w", path, err)
	}
	return nil
}

// Probability returns the score of the last complete window. Until the first
// window fills it returns 0.
func (m *SileroModel) Probability(frame []float32) (float32, error) {
	m.pending = append(m.pending, frame...)

	for len(m.pending) >= m.window {
		in := m.input.GetData()
		copy(in[:m.context], m.tail)
		copy(in[m.context:], m.pending[:m.window])

		if err := m.session.Run(); err != nil {
			return 0, fmt.Errorf("silero: inference: %w", err)
		}

		m.last = m.output.GetData()[0]
		copy(m.state.GetData(), m.stateN.GetData())
		copy(m.tail, in[len(in)-m.context:])
		m.pending = m.pending[m.window:]
	}

	return m.last, nil
}

func (m *SileroModel) Reset() {
	if m.state != nil {
		clear(m.state.GetData())
	}
	clear(m.tail)
	m.pending = m.pending[:0]
	m.last = 0
}

func (m *SileroModel) Close() error {
	var errs []error
	if m.session != nil {
		errs = append(errs, m.session.Destroy())
		m.session = nil
	}
	for _, t := range []*ort.Tensor[float32]{m.input, m.state, m.output, m.stateN} {
		if t != nil {
			errs = append(errs, t.Destroy())
		}
	}
	if m.sr != nil {
		errs = append(errs, m.sr.Destroy())
	}
	m.input, m.sr, m.state, m.output, m.stateN = nil, nil, nil, nil, nil
	return errors.Join(errs...)
}
