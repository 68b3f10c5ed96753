package monitoring

import (
	"expvar"
	"sync"
)

// SamplingCounters tracks the write path: what the sensor produced, what the
// gate let through and what the store accepted. The zero value is usable.
type SamplingCounters struct {
	Reads       expvar.Int
	IOFaults    expvar.Int
	Rejected    expvar.Int
	Admitted    expvar.Int
	Flushes     expvar.Int
	Inserted    expvar.Int
	Skipped     expvar.Int
	StoreFaults expvar.Int
}

// Snapshot returns the current values keyed by their varz names.
func (c *SamplingCounters) Snapshot() map[string]int64 {
	return map[string]int64{
		"reads":        c.Reads.Value(),
		"io_faults":    c.IOFaults.Value(),
		"rejected":     c.Rejected.Value(),
		"admitted":     c.Admitted.Value(),
		"flushes":      c.Flushes.Value(),
		"inserted":     c.Inserted.Value(),
		"skipped":      c.Skipped.Value(),
		"store_faults": c.StoreFaults.Value(),
	}
}

func (c *SamplingCounters) expvarMap() *expvar.Map {
	m := new(expvar.Map).Init()
	m.Set("reads", &c.Reads)
	m.Set("io_faults", &c.IOFaults)
	m.Set("rejected", &c.Rejected)
	m.Set("admitted", &c.Admitted)
	m.Set("flushes", &c.Flushes)
	m.Set("inserted", &c.Inserted)
	m.Set("skipped", &c.Skipped)
	m.Set("store_faults", &c.StoreFaults)
	return m
}

var publishOnce sync.Once

// Sampling is the process-wide counter set, published to /debug/varz as
// "noise_sampling" on first use of Publish.
var Sampling = &SamplingCounters{}

// Publish registers the process-wide counters with expvar. Safe to call more
// than once.
func Publish() {
	publishOnce.Do(func() {
		expvar.Publish("noise_sampling", Sampling.expvarMap())
	})
}
