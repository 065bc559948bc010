package vad

import "math"

// DefaultReference is the RMS level that maps to a probability of 0.5.
const DefaultReference = 0.015

// EnergyModel scores frames by RMS energy. It needs no native runtime and is
// meant for machines without onnxruntime.
type EnergyModel struct {
	ref float64
}

func NewEnergyModel(reference float64) *EnergyModel {
	if reference <= 0 {
		reference = DefaultReference
	}
	return &EnergyModel{ref: reference}
}

func (m *EnergyModel) Probability(frame []float32) (float32, error) {
	if len(frame) == 0 {
		return 0, nil
	}
	p := frameRMS(frame) / (2 * m.ref)
	if p > 1 {
		p = 1
	}
	return float32(p), nil
}

func (m *EnergyModel) Reset() {}

func (m *EnergyModel) Close() error { return nil }

func frameRMS(f []float32) float64 {
	var s float64
	for _, x := range f {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s / float64(len(f)))
}
