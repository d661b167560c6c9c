package openaq

import "sort"

// TrimmedMean averages samples after discarding the lowest and highest 5%.
// Sets of fewer than 10 samples are averaged as-is; from 10 samples up, at
// least one sample is trimmed from each end. Empty input returns nil, never
// zero: "no data" and "clean air" are different answers.
func TrimmedMean(samples []float64) *float64 {
	if len(samples) == 0 {
		return nil
	}

	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)

	if len(sorted) >= 10 {
		trim := len(sorted) / 20
		if trim < 1 {
			trim = 1
		}
		sorted = sorted[trim : len(sorted)-trim]
	}

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	mean := sum / float64(len(sorted))
	return &mean
}
