// Package pace learns how long a reader usually spends on each node and
// scores completions against that learned pace.
package pace

import (
	"math"
	"sort"
)

const (
	// Raw samples are clamped into [clampLow, clampHigh] x the current
	// average before they influence learning. The unclamped value is still
	// what gets scored.
	clampLow  = 0.5
	clampHigh = 1.75

	historyCap = 5

	// EWMA weights for folding the history center into the average.
	keepWeight = 0.7
	newWeight  = 0.3
)

// Record is the learned timing state for one node.
type Record struct {
	AvgMs   float64
	Samples int
	// HistoryMs is a rolling window of recent clamped samples, oldest
	// first, at most historyCap entries. It is an in-memory enrichment;
	// the exported marker format carries only AvgMs and Samples.
	HistoryMs []float64
}

// UpdateRobustAverage folds one completion into rec and returns the new
// record. A nil rec seeds a fresh record from the sample. Outliers are
// resisted twice over: the sample is clamped relative to the current
// average, and with three or more window entries the center is a trimmed
// mean.
func UpdateRobustAverage(rec *Record, elapsedMs float64) Record {
	if rec == nil || rec.Samples == 0 {
		return Record{
			AvgMs:     elapsedMs,
			Samples:   1,
			HistoryMs: []float64{elapsedMs},
		}
	}

	clamped := elapsedMs
	if min := clampLow * rec.AvgMs; clamped < min {
		clamped = min
	}
	if max := clampHigh * rec.AvgMs; clamped > max {
		clamped = max
	}

	history := append(append([]float64{}, rec.HistoryMs...), clamped)
	if len(history) > historyCap {
		history = history[len(history)-historyCap:]
	}

	center := mean(history)
	if len(history) >= 3 {
		center = trimmedMean(history)
	}

	return Record{
		AvgMs:     keepWeight*rec.AvgMs + newWeight*center,
		Samples:   rec.Samples + 1,
		HistoryMs: history,
	}
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// trimmedMean drops one minimum and one maximum from a sorted copy and
// means the rest.
func trimmedMean(xs []float64) float64 {
	sorted := append([]float64{}, xs...)
	sort.Float64s(sorted)
	return mean(sorted[1 : len(sorted)-1])
}

const (
	// The reward curve peaks at 93% of the learned average and falls off
	// log-normally. Finishing suspiciously fast is punished harder than
	// finishing slow.
	peakRatio  = 0.93
	sigmaFast  = 0.18
	sigmaSlow  = 0.28
	floorRatio = 0.60
	maxPoints  = 12
)

// score is the continuous reward curve on (0, 1].
func score(elapsedMs, avgMs float64) float64 {
	if avgMs <= 0 || elapsedMs <= 0 {
		return 0
	}
	r := elapsedMs / avgMs
	if r < floorRatio {
		return 0
	}
	sigma := sigmaSlow
	if r <= peakRatio {
		sigma = sigmaFast
	}
	d := math.Log(r) - math.Log(peakRatio)
	return math.Exp(-(d * d) / (2 * sigma * sigma))
}

// Points converts elapsed-vs-expected into a whole-point reward. Callers
// award points only when a prior record existed; a calibration run scores
// nothing.
func Points(elapsedMs, avgMs float64) int {
	return int(math.Round(maxPoints * score(elapsedMs, avgMs)))
}
