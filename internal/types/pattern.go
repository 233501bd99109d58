package types

import "time"

// PatternBaseline is a learned baseline for a log pattern, keyed by
// "log_group#pattern". The average is an exponential moving average; the
// standard deviation is derived at read time, never persisted.
type PatternBaseline struct {
	Key             string    `json:"key"`
	AvgCount        float64   `json:"avg_count"`
	LastSeen        time.Time `json:"last_seen"`
	OccurrenceCount int       `json:"occurrence_count"`
}

// PatternEMAAlpha is the smoothing factor for baseline updates.
const PatternEMAAlpha = 0.3

// StdDev returns the derived standard deviation estimate: half the average.
func (b *PatternBaseline) StdDev() float64 {
	return b.AvgCount * 0.5
}

// Fold returns the baseline average after folding in a new observation.
func (b *PatternBaseline) Fold(currentCount float64) float64 {
	return PatternEMAAlpha*currentCount + (1-PatternEMAAlpha)*b.AvgCount
}
