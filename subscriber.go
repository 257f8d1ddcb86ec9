package subscriber

import (
	"context"
	"io"
	"sync"
	"time"

	pb "cloud.google.com/go/pubsub/apiv1/pubsubpb"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/services"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Subscriber is the Stream Supervisor of spec.md §4.1. It owns the
// bidirectional pull stream end to end — the initial subscription
// handshake, every subsequent reconnect, and final shutdown — and wires
// together the expiration table, ack batcher, lease extender, deadline
// controller, and receiver dispatcher that ride on that stream.
//
// Lifecycle is delegated entirely to *services.BasicService, the same
// CREATED→STARTING→RUNNING→STOPPING→TERMINATED(+FAILED) machine
// pkg/dataobj/consumer's Service and processor embed, giving spec.md
// §4.8 for free instead of a hand-rolled state enum.
type Subscriber struct {
	*services.BasicService

	cfg     Config
	opener  StreamOpener
	flow    FlowController
	sched   Scheduler
	logger  log.Logger
	metrics *metrics
	reg     prometheus.Registerer

	table    *expirationTable
	batcher  *ackBatcher
	dist     *distribution
	waiter   *messagesWaiter
	extender *leaseExtender
	deadline *deadlineController
	dispatch *dispatcher
	backoff  *reconnectBackoff

	streamMu sync.Mutex
	stream   PullStream
}

// New constructs a Subscriber. cfg must pass Validate. receiver is
// invoked once per delivered message on its own goroutine; opener opens
// the underlying bidirectional pull stream (NewGRPCStreamOpener against
// a real SubscriberClient in production, a fake in tests).
func New(cfg Config, opener StreamOpener, receiver Receiver, reg prometheus.Registerer, logger log.Logger) (*Subscriber, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger = log.With(logger, "component", "pubsub_subscriber", "subscription", cfg.Subscription)

	m := newMetrics()
	if err := m.register(reg); err != nil {
		return nil, err
	}

	s := &Subscriber{
		cfg:     cfg,
		opener:  opener,
		flow:    NewFlowController(cfg.MaxOutstandingMessages, cfg.MaxOutstandingBytes),
		sched:   NewScheduler(),
		logger:  logger,
		metrics: m,
		reg:     reg,
		table:   newExpirationTable(),
		batcher: newAckBatcher(),
		dist:    newDistribution(maxAckDeadlineSeconds + 1),
		waiter:  newMessagesWaiter(),
		backoff: newReconnectBackoff(),
	}

	s.extender = newLeaseExtender(s.table, s.batcher, s.sched, s, cfg.AckDeadlinePadding, m, logger)
	s.extender.onError = s.failStream
	s.deadline = newDeadlineController(s.dist, int(cfg.AckDeadlinePadding.Seconds()), s.sched, s, m, logger)
	s.deadline.onError = s.failStream
	s.dispatch = newDispatcher(s.table, s.batcher, s.extender, s.flow, s.dist, s.waiter, receiver, m, logger, s.deadline.streamAckDeadlineSeconds)

	s.BasicService = services.NewBasicService(nil, s.running, s.stopping)
	return s, nil
}

// send implements frameSender by writing to whatever stream is
// currently open, guarded by streamMu so a reconnect can never race a
// send onto a stale stream (spec.md §9).
func (s *Subscriber) send(req *pb.StreamingPullRequest) error {
	s.streamMu.Lock()
	stream := s.stream
	s.streamMu.Unlock()
	if stream == nil {
		return status.Error(codes.Unavailable, "no active pull stream")
	}
	return stream.Send(req)
}

// failStream is wired as the onError callback of the lease extender and
// deadline controller: a send failure detaches the current stream from
// send and closes its send side, so the supervisor's own Recv loop ends
// once that stream does and the supervisor opens a new one, rather than
// leaving those two components stalled against a dead stream (spec.md
// §4.2). err itself is not passed on; the supervisor sees only the
// stream ending.
func (s *Subscriber) failStream(err error) {
	s.streamMu.Lock()
	stream := s.stream
	s.stream = nil
	s.streamMu.Unlock()
	if stream != nil {
		_ = stream.CloseSend()
	}
}

// running implements services.RunningFn: it repeatedly opens a stream
// and serves it until error, reconnecting with backoff on retryable
// errors (spec.md §4.1 steps 5-6).
func (s *Subscriber) running(ctx context.Context) error {
	s.deadline.start()
	defer s.deadline.stop()

	for {
		err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			s.backoff.reset()
			continue
		}
		if !isRetryable(err) {
			level.Error(s.logger).Log("msg", "fatal stream error", "err", err)
			return err
		}
		delay := s.backoff.next()
		s.metrics.reconnectsTotal.Inc()
		level.Warn(s.logger).Log("msg", "stream error, reconnecting", "err", err, "backoff", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil
		}
	}
}

// runOnce opens one pull stream, sends the initialization frame, and
// serves inbound response frames one at a time until the stream ends or
// errors (spec.md §4.1 steps 1-4). It returns nil on a clean stream close,
// or when the lifecycle is no longer alive after a frame was processed.
func (s *Subscriber) runOnce(ctx context.Context) error {
	stream, err := s.opener.OpenStream(ctx)
	if err != nil {
		return err
	}
	s.streamMu.Lock()
	s.stream = stream
	s.streamMu.Unlock()
	defer func() {
		s.streamMu.Lock()
		if s.stream == stream {
			s.stream = nil
		}
		s.streamMu.Unlock()
	}()

	init := &pb.StreamingPullRequest{
		Subscription:             s.cfg.Subscription,
		StreamAckDeadlineSeconds: int32(s.deadline.streamAckDeadlineSeconds()),
	}
	if err := stream.Send(init); err != nil {
		return err
	}
	level.Debug(s.logger).Log("msg", "pull stream opened")

	for {
		resp, err := stream.Recv()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if err := s.dispatch.processReceivedMessages(ctx, resp.GetReceivedMessages()); err != nil {
			return err
		}
		if !s.isAlive() {
			return nil
		}
	}
}

// isAlive reports whether the lifecycle is in a state that should keep
// reconnecting on a retryable error (spec.md §4.8).
func (s *Subscriber) isAlive() bool {
	switch s.State() {
	case services.Starting, services.Running:
		return true
	default:
		return false
	}
}

// stopping implements services.StoppingFn: drain in-flight receiver
// callbacks, cancel the extension alarm, flush the batcher one final
// time, stop the deadline controller, and close the stream with a
// cancelled status (spec.md §4.1 "Shutdown").
func (s *Subscriber) stopping(failureCase error) error {
	level.Info(s.logger).Log("msg", "stopping")

	s.waiter.waitNoMessages()
	s.extender.stop()
	if err := s.extender.flushAndSend(nil); err != nil {
		level.Warn(s.logger).Log("msg", "final flush failed", "err", err)
	}
	s.deadline.stop()

	s.streamMu.Lock()
	stream := s.stream
	s.stream = nil
	s.streamMu.Unlock()
	if stream != nil {
		_ = stream.CloseSend()
	}

	s.metrics.unregister(s.reg)
	level.Info(s.logger).Log("msg", "stopped")
	return failureCase
}
