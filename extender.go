package subscriber

import (
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// leaseExtender is the periodic sweep of spec.md §4.3: it keeps one
// scheduled alarm armed for the earliest not-yet-decided lease, sweeps
// the expiration table when that alarm fires, and piggy-backs the
// pending debounce flush onto every sweep since the sweep flushes the
// batcher itself.
//
// The extension alarm, the debounce alarm, and the alarm's scheduled
// fire time share one lock (alarmsMu), matching the "alarmsLock" row of
// spec.md §5: the Receiver Dispatcher reschedules it on every new
// bucket, the sweep itself reschedules it for the next bucket, and the
// completion path arms the debounce alarm through it.
type leaseExtender struct {
	table   *expirationTable
	batcher *ackBatcher
	sched   Scheduler
	sender  frameSender
	padding time.Duration
	metrics *metrics
	logger  log.Logger

	// onError is invoked with any send failure encountered while
	// flushing; the Subscriber wires this to its own stream-error path
	// so the supervisor reopens the stream (spec.md §4.2 "On exception
	// anywhere in this flow, terminate the stream with the error").
	onError func(error)

	alarmsMu        sync.Mutex
	extensionAlarm  AlarmHandle
	debounceAlarm   AlarmHandle
	nextExtensionAt time.Time
}

func newLeaseExtender(table *expirationTable, batcher *ackBatcher, sched Scheduler, sender frameSender, padding time.Duration, m *metrics, logger log.Logger) *leaseExtender {
	return &leaseExtender{
		table:   table,
		batcher: batcher,
		sched:   sched,
		sender:  sender,
		padding: padding,
		metrics: m,
		logger:  log.With(logger, "component", "lease_extender"),
	}
}

// scheduleNextExtension arms or reschedules the extension alarm for
// bucket if it fires earlier than whatever is currently scheduled
// (spec.md §4.3). Called by the Receiver Dispatcher after registering a
// new bucket, and by the sweep itself for its remembered next bucket.
func (e *leaseExtender) scheduleNextExtension(bucket *expirationBucket) {
	candidate := bucket.expiration.Add(-e.padding)

	e.alarmsMu.Lock()
	defer e.alarmsMu.Unlock()
	if e.extensionAlarm != nil && !candidate.Before(e.nextExtensionAt) {
		return
	}
	if e.extensionAlarm != nil {
		e.extensionAlarm.Cancel()
	}
	delay := time.Until(candidate)
	if delay < 0 {
		delay = 0
	}
	e.nextExtensionAt = candidate
	e.extensionAlarm = e.sched.Schedule(delay, e.fire)
}

// armDebounce arms the one-shot debounce alarm if none is already
// pending (spec.md §4.4 "Debounce"). Called from the completion path
// every time a decision is recorded.
func (e *leaseExtender) armDebounce() {
	e.alarmsMu.Lock()
	defer e.alarmsMu.Unlock()
	if e.debounceAlarm != nil {
		return
	}
	e.debounceAlarm = e.sched.Schedule(pendingAcksSendDelay, e.fireDebounce)
}

func (e *leaseExtender) fireDebounce() {
	e.alarmsMu.Lock()
	e.debounceAlarm = nil
	e.alarmsMu.Unlock()

	if err := e.flushAndSend(nil); err != nil {
		level.Warn(e.logger).Log("msg", "debounce flush failed", "err", err)
		if e.onError != nil {
			e.onError(err)
		}
	}
}

// fire runs the sweep described in spec.md §4.3 steps 1-5.
func (e *leaseExtender) fire() {
	now := time.Now()
	cutOver := ceilToSecond(now.Add(e.padding).Add(500 * time.Millisecond))

	e.alarmsMu.Lock()
	if e.debounceAlarm != nil {
		e.debounceAlarm.Cancel()
		e.debounceAlarm = nil
	}
	e.extensionAlarm = nil
	e.nextExtensionAt = time.Time{}
	e.alarmsMu.Unlock()

	modifyDeadlines, next := e.table.sweep(now, cutOver)
	if err := e.flushAndSend(modifyDeadlines); err != nil {
		level.Warn(e.logger).Log("msg", "lease extension flush failed", "err", err)
		if e.onError != nil {
			e.onError(err)
		}
		return
	}
	level.Debug(e.logger).Log("msg", "lease extension sweep complete", "extensions", len(modifyDeadlines), "rescheduled", next != nil)
	if next != nil {
		e.scheduleNextExtension(next)
	}
}

// flushAndSend drains the batcher, merging in extra modify-deadline
// entries, sends every resulting frame, updates flush metrics, and logs
// the size of the batch it sent. Used
// by the sweep's piggy-back flush, the debounce alarm, and the
// Subscriber's final shutdown flush.
func (e *leaseExtender) flushAndSend(extra []ModifyDeadline) error {
	frames := e.batcher.flush(extra)
	acks, modifies := 0, 0
	for _, f := range frames {
		if err := e.sender.send(f); err != nil {
			return err
		}
		e.metrics.modifyDeadlinesSent.Add(float64(len(f.ModifyDeadlineAckIds)))
		e.metrics.requestsFlushed.Inc()
		acks += len(f.AckIds)
		modifies += len(f.ModifyDeadlineAckIds)
	}
	if len(frames) > 0 {
		level.Debug(e.logger).Log("msg", "flushed batch", "frames", len(frames), "acks", acks, "modify_deadlines", modifies)
	}
	return nil
}

// stop cancels any pending extension or debounce alarm, used during
// Subscriber shutdown (spec.md §4.1 "cancel the extension alarm").
func (e *leaseExtender) stop() {
	e.alarmsMu.Lock()
	defer e.alarmsMu.Unlock()
	if e.extensionAlarm != nil {
		e.extensionAlarm.Cancel()
		e.extensionAlarm = nil
	}
	if e.debounceAlarm != nil {
		e.debounceAlarm.Cancel()
		e.debounceAlarm = nil
	}
}

// ceilToSecond rounds t up to the next whole second, or returns t
// unchanged if it already falls on a second boundary.
func ceilToSecond(t time.Time) time.Time {
	trunc := t.Truncate(time.Second)
	if trunc.Before(t) {
		return trunc.Add(time.Second)
	}
	return trunc
}
