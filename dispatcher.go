package subscriber

import (
	"context"
	"math"
	"time"

	pb "cloud.google.com/go/pubsub/apiv1/pubsubpb"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// dispatcher is the Receiver Dispatcher of spec.md §4.2
// (processReceivedMessages): for every inbound response frame it
// registers one new expiration bucket, schedules the next lease
// extension, reserves flow-control credit, and only then hands each
// message to the user Receiver on its own goroutine — reserving before
// any delivery goroutine exists keeps a fast Receiver's Release from
// ever racing ahead of the batch's own Reserve.
type dispatcher struct {
	table    *expirationTable
	batcher  *ackBatcher
	extender *leaseExtender
	flow     FlowController
	dist     *distribution
	waiter   *messagesWaiter
	receiver Receiver
	metrics  *metrics
	logger   log.Logger

	// deadlineSeconds returns the stream-wide ack deadline to key new
	// buckets against; backed by the Subscriber's deadlineController.
	deadlineSeconds func() int
}

func newDispatcher(table *expirationTable, batcher *ackBatcher, extender *leaseExtender, flow FlowController, dist *distribution, waiter *messagesWaiter, receiver Receiver, m *metrics, logger log.Logger, deadlineSeconds func() int) *dispatcher {
	return &dispatcher{
		table:           table,
		batcher:         batcher,
		extender:        extender,
		flow:            flow,
		dist:            dist,
		waiter:          waiter,
		receiver:        receiver,
		metrics:         m,
		logger:          log.With(logger, "component", "dispatcher"),
		deadlineSeconds: deadlineSeconds,
	}
}

// processReceivedMessages implements spec.md §4.2. It returns an error
// only when flow-control reservation fails (e.g. the context was
// cancelled while blocked); the caller terminates the stream on error,
// per "On exception anywhere in this flow, terminate the stream with
// the error; the supervisor reopens."
func (d *dispatcher) processReceivedMessages(ctx context.Context, msgs []*pb.ReceivedMessage) error {
	if len(msgs) == 0 {
		return nil
	}

	now := time.Now()
	handles := make(map[string]*LeaseHandle, len(msgs))
	totalBytes := 0
	for _, rm := range msgs {
		size := len(rm.GetMessage().GetData())
		handles[rm.GetAckId()] = &LeaseHandle{
			AckID:      rm.GetAckId(),
			Bytes:      size,
			ReceivedAt: now,
		}
		totalBytes += size
	}

	deadline := time.Duration(d.deadlineSeconds()) * time.Second
	bucket := d.table.insert(now.Add(deadline), handles)
	d.extender.scheduleNextExtension(bucket)

	// Reserve before a single delivery goroutine is spawned: a fast
	// Receiver can reach d.complete's Release before its matching
	// Reserve returns otherwise, and weightedFlowController.Release
	// forwards straight to a semaphore.Weighted that panics on a
	// cumulative release in excess of cumulative acquires.
	if err := d.flow.Reserve(ctx, len(msgs), totalBytes); err != nil {
		return err
	}

	d.waiter.increment(len(msgs))
	d.metrics.inFlightMessages.Add(float64(len(msgs)))
	for _, rm := range msgs {
		h := handles[rm.GetAckId()]
		msg := &Message{
			AckID:       rm.GetAckId(),
			Data:        rm.GetMessage().GetData(),
			Attributes:  rm.GetMessage().GetAttributes(),
			PublishTime: rm.GetMessage().GetPublishTime().AsTime(),
			receivedAt:  now,
			size:        h.Bytes,
		}
		go d.deliver(ctx, h, msg)
	}
	return nil
}

// deliver invokes the user Receiver for one message and routes its
// decision into the completion path. A Receiver error is treated
// identically to an explicit Nack and logged at WARN with the ack id
// (spec.md §7).
func (d *dispatcher) deliver(ctx context.Context, h *LeaseHandle, msg *Message) {
	decision, err := d.receiver(ctx, msg)
	if err != nil {
		level.Warn(d.logger).Log("msg", "receiver returned error, treating as nack", "ack_id", h.AckID, "err", err)
		d.complete(h, Nack)
		return
	}
	d.complete(h, decision)
}

// complete is the per-handle completion path of spec.md §4.2: on Ack it
// records the receive-to-now latency; on Nack (explicit or from a
// Receiver failure) it only queues the negative acknowledgement. Both
// paths release flow-control credit, decrement the in-flight counter,
// and arm the batcher's debounce alarm. MarkDecided guarantees this runs
// at most once per handle even if the Receiver somehow resolves twice.
func (d *dispatcher) complete(h *LeaseHandle, decision Decision) {
	if !h.MarkDecided() {
		return
	}
	switch decision {
	case Ack:
		d.batcher.addAck(h.AckID)
		d.dist.record(int(math.Ceil(time.Since(h.ReceivedAt).Seconds())))
		d.metrics.acksSent.Inc()
	default:
		d.batcher.addNack(h.AckID)
		d.metrics.nacksSent.Inc()
	}
	d.flow.Release(1, h.Bytes)
	d.waiter.increment(-1)
	d.metrics.inFlightMessages.Sub(1)
	d.extender.armDebounce()
}
