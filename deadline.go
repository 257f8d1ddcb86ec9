package subscriber

import (
	"sync"

	pb "cloud.google.com/go/pubsub/apiv1/pubsubpb"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// deadlineController is the adaptive deadline controller of spec.md
// §4.5: a slow periodic task that reads the latency distribution's high
// percentile and, when it moves, pushes a new stream-wide ack deadline.
//
// It reaches the live stream through a frameSender rather than a raw
// PullStream for the same reason the lease extender does: a reconnect
// must never leave a stale in-flight controller pushing into a closed
// stream (spec.md §9).
type deadlineController struct {
	dist    *distribution
	padding int // seconds
	sched   Scheduler
	sender  frameSender
	metrics *metrics
	logger  log.Logger
	onError func(error)

	mu      sync.Mutex
	current int
	alarm   AlarmHandle
}

func newDeadlineController(dist *distribution, paddingSeconds int, sched Scheduler, sender frameSender, m *metrics, logger log.Logger) *deadlineController {
	initial := initialAckDeadlineSeconds
	if paddingSeconds > initial {
		initial = paddingSeconds
	}
	initial = clampInt(initial, minAckDeadlineSeconds, maxAckDeadlineSeconds)
	d := &deadlineController{
		dist:    dist,
		padding: paddingSeconds,
		sched:   sched,
		sender:  sender,
		metrics: m,
		logger:  log.With(logger, "component", "deadline_controller"),
		current: initial,
	}
	d.metrics.streamAckDeadline.Set(float64(initial))
	return d
}

// streamAckDeadlineSeconds returns the current stream-wide ack deadline,
// used by the Receiver Dispatcher when keying a new expiration bucket.
func (d *deadlineController) streamAckDeadlineSeconds() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

// start arms the periodic recompute tick (spec.md §4.5, period
// ackDeadlineUpdatePeriod).
func (d *deadlineController) start() {
	d.alarm = d.sched.ScheduleAtFixedRate(ackDeadlineUpdatePeriod, ackDeadlineUpdatePeriod, d.tick)
}

// stop cancels the periodic tick.
func (d *deadlineController) stop() {
	if d.alarm != nil {
		d.alarm.Cancel()
	}
}

func (d *deadlineController) tick() {
	latency := d.dist.percentile(percentileForAckDeadlineUpdates)
	if latency <= 0 {
		return
	}
	target := latency
	if d.padding > target {
		target = d.padding
	}
	candidate := clampInt(target, minAckDeadlineSeconds, maxAckDeadlineSeconds)

	d.mu.Lock()
	if candidate == d.current {
		d.mu.Unlock()
		return
	}
	d.current = candidate
	d.mu.Unlock()

	d.metrics.streamAckDeadline.Set(float64(candidate))
	req := &pb.StreamingPullRequest{StreamAckDeadlineSeconds: int32(candidate)}
	if err := d.sender.send(req); err != nil {
		level.Warn(d.logger).Log("msg", "failed to push updated stream ack deadline", "err", err)
		if d.onError != nil {
			d.onError(err)
		}
		return
	}
	d.metrics.requestsFlushed.Inc()
	level.Debug(d.logger).Log("msg", "updated stream ack deadline", "seconds", candidate, "observed_latency_p999", latency)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
