// Package vad turns per-frame speech probabilities into start and end events.
package vad

import (
	"fmt"
	"time"
)

type Kind int

const (
	None Kind = iota
	Start
	End
)

func (k Kind) String() string {
	switch k {
	case Start:
		return "start"
	case End:
		return "end"
	default:
		return "none"
	}
}

// Event carries the sample offset, counted from the last Reset, at which
// speech began or ended.
type Event struct {
	Kind   Kind
	Sample int
}

// Model scores one frame of mono float32 samples.
type Model interface {
	Probability(frame []float32) (float32, error)
	Reset()
	Close() error
}

type Options struct {
	SampleRate int
	Threshold  float32
	MinSilence time.Duration
	SpeechPad  time.Duration
}

func DefaultOptions() Options {
	return Options{
		SampleRate: 16000,
		Threshold:  0.5,
		MinSilence: 500 * time.Millisecond,
		SpeechPad:  30 * time.Millisecond,
	}
}

// Iterator is the streaming event generator. A start fires on the first frame
// at or above the threshold; an end fires once the probability has stayed
// below threshold-0.15 for MinSilence.
type Iterator struct {
	model Model

	threshold  float32
	negative   float32
	minSilence int
	pad        int

	triggered bool
	tempEnd   int
	current   int
}

func NewIterator(model Model, opt Options) (*Iterator, error) {
	if model == nil {
		return nil, fmt.Errorf("vad: nil model")
	}
	if opt.SampleRate <= 0 {
		return nil, fmt.Errorf("vad: invalid sample rate %d", opt.SampleRate)
	}
	if opt.Threshold <= 0 || opt.Threshold >= 1 {
		return nil, fmt.Errorf("vad: threshold %.2f outside (0,1)", opt.Threshold)
	}

	neg := opt.Threshold - 0.15
	if neg < 0.01 {
		neg = 0.01
	}

	it := &Iterator{
		model:      model,
		threshold:  opt.Threshold,
		negative:   neg,
		minSilence: samples(opt.SampleRate, opt.MinSilence),
		pad:        samples(opt.SampleRate, opt.SpeechPad),
	}
	return it, nil
}

func samples(rate int, d time.Duration) int {
	return int(int64(rate) * int64(d) / int64(time.Second))
}

// Detect feeds one frame and reports the event it produced, if any.
func (it *Iterator) Detect(frame []float32) (Event, error) {
	window := len(frame)
	it.current += window

	p, err := it.model.Probability(frame)
	if err != nil {
		return Event{}, fmt.Errorf("vad: score frame: %w", err)
	}

	if p >= it.threshold && it.tempEnd != 0 {
		it.tempEnd = 0
	}

	if p >= it.threshold && !it.triggered {
		it.triggered = true
		return Event{Kind: Start, Sample: max(0, it.current-it.pad-window)}, nil
	}

	if p < it.negative && it.triggered {
		if it.tempEnd == 0 {
			it.tempEnd = it.current
		}
		if it.current-it.tempEnd < it.minSilence {
			return Event{}, nil
		}
		end := it.tempEnd + it.pad - window
		it.tempEnd = 0
		it.triggered = false
		return Event{Kind: End, Sample: end}, nil
	}

	return Event{}, nil
}

// Triggered reports whether the iterator is inside a speech region.
func (it *Iterator) Triggered() bool {
	return it.triggered
}

func (it *Iterator) Reset() {
	it.model.Reset()
	it.triggered = false
	it.tempEnd = 0
	it.current = 0
}

func (it *Iterator) Close() error {
	return it.model.Close()
}
