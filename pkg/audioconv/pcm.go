package audioconv

import "math"

// IntToFloat32 scales signed integer samples of the given bit depth to [-1, 1].
func IntToFloat32(data []int, bitDepth int) []float32 {
	full := float64(int64(1) << (bitDepth - 1))
	out := make([]float32, len(data))
	for i, v := range data {
		out[i] = float32(math.Max(-1, math.Min(1, float64(v)/full)))
	}
	return out
}

func Int16ToFloat32(data []int16) []float32 {
	out := make([]float32, len(data))
	for i, v := range data {
		out[i] = float32(v) / 32768
	}
	return out
}

// Float32ToInt16 clips to [-1, 1] before scaling.
func Float32ToInt16(data []float32) []int16 {
	out := make([]int16, len(data))
	for i, v := range data {
		x := math.Max(-1, math.Min(1, float64(v)))
		out[i] = int16(math.Round(x * math.MaxInt16))
	}
	return out
}

// Downmix averages interleaved channels into mono. A trailing partial frame is
// dropped.
func Downmix(in []float32, channels int) []float32 {
	if channels <= 1 {
		return in
	}
	out := make([]float32, len(in)/channels)
	for i := range out {
		var sum float32
		for _, v := range in[i*channels : (i+1)*channels] {
			sum += v
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// Resample converts between rates by linear interpolation. The input is
// returned as is when the rates match.
func Resample(in []float32, from, to int) []float32 {
	if from == to || from <= 0 || to <= 0 || len(in) == 0 {
		return in
	}
	step := float64(from) / float64(to)
	out := make([]float32, int(math.Ceil(float64(len(in))/step)))
	last := len(in) - 1
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= last {
			out[i] = in[last]
			continue
		}
		frac := float32(pos - float64(j))
		out[i] = in[j] + (in[j+1]-in[j])*frac
	}
	return out
}
