package subscriber

import (
	"testing"
	"testing/synctest"
	"time"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/require"
)

func TestDeadlineController_UpdatesTowardP999(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		dist := newDistribution(maxAckDeadlineSeconds + 1)
		for i := 0; i < 1000; i++ {
			dist.record(5 + i%16) // uniform-ish spread across [5, 20]
		}
		sender := &fakeSender{}
		dc := newDeadlineController(dist, 0, NewScheduler(), sender, newMetrics(), log.NewNopLogger())
		dc.start()
		defer dc.stop()

		time.Sleep(ackDeadlineUpdatePeriod + time.Second)
		synctest.Wait()

		frames := sender.frames()
		require.Len(t, frames, 1)
		require.InDelta(t, 20, frames[0].StreamAckDeadlineSeconds, 1)
		require.Equal(t, int(frames[0].StreamAckDeadlineSeconds), dc.streamAckDeadlineSeconds())
	})
}

func TestDeadlineController_NoUpdateWhenNothingRecorded(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		dist := newDistribution(maxAckDeadlineSeconds + 1)
		sender := &fakeSender{}
		dc := newDeadlineController(dist, 0, NewScheduler(), sender, newMetrics(), log.NewNopLogger())
		dc.start()
		defer dc.stop()

		time.Sleep(ackDeadlineUpdatePeriod + time.Second)
		synctest.Wait()

		require.Empty(t, sender.frames())
		require.Equal(t, initialAckDeadlineSeconds, dc.streamAckDeadlineSeconds())
	})
}

func TestDeadlineController_ClampsToMax(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		dist := newDistribution(maxAckDeadlineSeconds + 1)
		for i := 0; i < 10; i++ {
			dist.record(maxAckDeadlineSeconds) // recorded at the histogram's top bucket
		}
		sender := &fakeSender{}
		dc := newDeadlineController(dist, 0, NewScheduler(), sender, newMetrics(), log.NewNopLogger())
		dc.start()
		defer dc.stop()

		time.Sleep(ackDeadlineUpdatePeriod + time.Second)
		synctest.Wait()

		require.Equal(t, int32(maxAckDeadlineSeconds), sender.frames()[0].StreamAckDeadlineSeconds)
	})
}
