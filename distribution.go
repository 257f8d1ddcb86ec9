package subscriber

import "sync/atomic"

// distribution is a fixed-width integer histogram over
// [0, maxAckDeadlineSeconds] with 1-second buckets, used to track the
// distribution of per-message receive-to-ack latency (spec.md §3, §4.6).
// Recording is lock-free; percentile queries scan the bucket counts and
// may observe a slightly stale total under concurrent recording, which
// spec.md explicitly permits.
type distribution struct {
	buckets []atomic.Uint64
	total   atomic.Uint64
}

// newDistribution returns a distribution with numBuckets buckets, indices
// [0, numBuckets).
func newDistribution(numBuckets int) *distribution {
	return &distribution{buckets: make([]atomic.Uint64, numBuckets)}
}

// record increments the bucket for v, clamping v to the top bucket if it
// exceeds the histogram's range.
func (d *distribution) record(v int) {
	if v < 0 {
		v = 0
	}
	if v >= len(d.buckets) {
		v = len(d.buckets) - 1
	}
	d.buckets[v].Add(1)
	d.total.Add(1)
}

// percentile returns the smallest bucket index k such that the
// cumulative count through k is >= p% of the total recorded count. It
// returns 0 if nothing has been recorded yet.
func (d *distribution) percentile(p float64) int {
	total := d.total.Load()
	if total == 0 {
		return 0
	}
	threshold := p / 100 * float64(total)
	var cumulative uint64
	for i := range d.buckets {
		cumulative += d.buckets[i].Load()
		if float64(cumulative) >= threshold {
			return i
		}
	}
	return len(d.buckets) - 1
}
