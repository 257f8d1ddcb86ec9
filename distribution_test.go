package subscriber

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDistribution_EmptyPercentileIsZero(t *testing.T) {
	d := newDistribution(601)
	require.Equal(t, 0, d.percentile(99.9))
}

func TestDistribution_ClampsToTopBucket(t *testing.T) {
	d := newDistribution(10)
	d.record(1000)
	require.Equal(t, 9, d.percentile(100))
}

func TestDistribution_PercentileLaw(t *testing.T) {
	d := newDistribution(601)
	rng := rand.New(rand.NewSource(1))
	var values []int
	for i := 0; i < 1000; i++ {
		v := 5 + rng.Intn(16) // uniform in [5, 20]
		values = append(values, v)
		d.record(v)
	}

	for _, p := range []float64{50, 90, 99, 99.9} {
		v := d.percentile(p)
		count := 0
		for _, x := range values {
			if x <= v {
				count++
			}
		}
		require.GreaterOrEqualf(t, float64(count), p/100*float64(len(values)),
			"percentile(%v)=%d should cover at least %v%% of samples", p, v, p)
	}
}

func TestDistribution_ConcurrentRecordIsSafe(t *testing.T) {
	d := newDistribution(601)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			d.record(v % 601)
		}(i)
	}
	wg.Wait()
	require.Equal(t, uint64(100), d.total.Load())
}
