package subscriber

import (
	"testing"
	"testing/synctest"
	"time"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/require"
)

func TestLeaseExtender_SweepExtendsAndFlushes(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		table := newExpirationTable()
		batcher := newAckBatcher()
		sender := &fakeSender{}
		ext := newLeaseExtender(table, batcher, NewScheduler(), sender, 0, newMetrics(), log.NewNopLogger())

		handles := map[string]*LeaseHandle{"C1": {AckID: "C1", ReceivedAt: time.Now()}}
		bucket := table.insert(time.Now().Add(2*time.Second), handles)
		ext.scheduleNextExtension(bucket)

		time.Sleep(3 * time.Second)
		synctest.Wait()

		frames := sender.frames()
		require.Len(t, frames, 1)
		require.Equal(t, []string{"C1"}, frames[0].ModifyDeadlineAckIds)
		require.Equal(t, []int32{2}, frames[0].ModifyDeadlineSeconds)
		require.False(t, table.empty())
	})
}

func TestLeaseExtender_SweepDropsDecidedHandles(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		table := newExpirationTable()
		batcher := newAckBatcher()
		sender := &fakeSender{}
		ext := newLeaseExtender(table, batcher, NewScheduler(), sender, 0, newMetrics(), log.NewNopLogger())

		h := &LeaseHandle{AckID: "D1", ReceivedAt: time.Now()}
		bucket := table.insert(time.Now().Add(2*time.Second), map[string]*LeaseHandle{"D1": h})
		ext.scheduleNextExtension(bucket)
		h.MarkDecided()

		time.Sleep(3 * time.Second)
		synctest.Wait()

		require.Empty(t, sender.frames())
		require.True(t, table.empty())
	})
}

func TestLeaseExtender_ArmDebounceFlushesOnce(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		table := newExpirationTable()
		batcher := newAckBatcher()
		sender := &fakeSender{}
		ext := newLeaseExtender(table, batcher, NewScheduler(), sender, 0, newMetrics(), log.NewNopLogger())

		batcher.addAck("A1")
		ext.armDebounce()
		ext.armDebounce() // second call is a no-op while the alarm is pending

		time.Sleep(pendingAcksSendDelay + time.Millisecond)
		synctest.Wait()

		frames := sender.frames()
		require.Len(t, frames, 1)
		require.Equal(t, []string{"A1"}, frames[0].AckIds)
	})
}

func TestLeaseExtender_StopCancelsAlarms(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		table := newExpirationTable()
		batcher := newAckBatcher()
		sender := &fakeSender{}
		ext := newLeaseExtender(table, batcher, NewScheduler(), sender, 0, newMetrics(), log.NewNopLogger())

		batcher.addAck("A1")
		ext.armDebounce()
		ext.stop()

		time.Sleep(pendingAcksSendDelay * 2)
		synctest.Wait()

		require.Empty(t, sender.frames())
	})
}
