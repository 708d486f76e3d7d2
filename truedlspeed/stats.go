package truedlspeed

import (
	"math"
)

// Stats summarises the samples of one finished session for the closing
// report.
type Stats struct {
	NSamples int
	Mean     float64
	Min      float64
	MinIndex int
	Max      float64
	MaxIndex int
}

func getMean(series []float64) float64 {
	ret := float64(0)
	nSamplesF64 := float64(len(series))
	for _, element := range series {
		ret += element / nSamplesF64
	}
	return ret
}

func getStats(series []float64) *Stats {
	if len(series) == 0 {
		return &Stats{}
	}

	ret := &Stats{
		Min:      math.Inf(1),
		Max:      math.Inf(-1),
		MinIndex: 0,
		MaxIndex: 0,
	}
	for index, element := range series {
		if element < ret.Min {
			ret.Min = element
			ret.MinIndex = index
		}
		if element > ret.Max {
			ret.Max = element
			ret.MaxIndex = index
		}
	}
	ret.NSamples = len(series)
	ret.Mean = getMean(series)
	return ret
}

// sampleRecorder keeps the values of a session's samples. It is fed from
// the session's worker and read only after the session has stopped.
type sampleRecorder struct {
	values []float64
}

func (r *sampleRecorder) record(sample Sample) {
	r.values = append(r.values, sample.Value)
}

func (r *sampleRecorder) stats() *Stats {
	return getStats(r.values)
}
