// Package aggregate reduces a set of upstream price samples to a single
// value with a deterministic method-selection ladder.
package aggregate

import "sort"

// Method names a statistical reduction over samples.
type Method string

const (
	TrimmedMean Method = "trimmed_mean"
	Median      Method = "median"
	Mean        Method = "mean"
)

// ParseMethod maps a client-supplied string to a Method, falling back
// to TrimmedMean for anything unrecognized.
func ParseMethod(s string) Method {
	switch Method(s) {
	case TrimmedMean, Median, Mean:
		return Method(s)
	default:
		return TrimmedMean
	}
}

// Sample is one upstream observation.
type Sample struct {
	Source string  `json:"source"`
	Value  float64 `json:"value"`
	TsMs   int64   `json:"ts_ms"`
}

// Aggregate applies the selection ladder: trimmed_mean only with five or
// more samples (clipping one extreme on each side needs that much
// support), median with three or more, mean otherwise. Requesting
// median or mean skips the trim rule entirely. used holds the samples
// that contributed to the value.
func Aggregate(samples []Sample, method Method) (value float64, effective Method, used []Sample) {
	switch {
	case method == TrimmedMean && len(samples) >= 5:
		sorted := sortByValue(samples)
		used = sorted[1 : len(sorted)-1]
		return mean(used), TrimmedMean, used
	case len(samples) >= 3 && method != Mean:
		return median(samples), Median, samples
	default:
		return mean(samples), Mean, samples
	}
}

func sortByValue(samples []Sample) []Sample {
	sorted := make([]Sample, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Value < sorted[j].Value })
	return sorted
}

func mean(samples []Sample) float64 {
	var sum float64
	for _, s := range samples {
		sum += s.Value
	}
	return sum / float64(len(samples))
}

func median(samples []Sample) float64 {
	sorted := sortByValue(samples)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2].Value
	}
	return (sorted[n/2-1].Value + sorted[n/2].Value) / 2
}
