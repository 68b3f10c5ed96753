// Package sampling turns raw sensor reads into durable records: a threshold
// gate, a bounded batch buffer, flushers that hand batches to the store, and
// the scheduler loop that drives them.
package sampling

// DefaultThresholdDB is the level a reading must exceed to be kept.
const DefaultThresholdDB = 65.0

// ThresholdGate admits readings strictly louder than Threshold.
type ThresholdGate struct {
	Threshold float64
}

// Admit reports whether level is worth persisting.
func (g ThresholdGate) Admit(level float64) bool {
	return level > g.Threshold
}
