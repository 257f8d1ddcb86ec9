// Package subscriber implements a streaming pull subscriber for a cloud
// pub/sub service: a long-lived client that receives messages from a
// server over a bidirectional stream, hands each one to a user-supplied
// Receiver, and acknowledges, nacks, or extends the per-message lease
// deadline back to the server.
//
// A Subscriber owns four cooperating pieces: an expirationTable tracking
// per-message lease deadlines, an ackBatcher coalescing decisions into
// request frames, a deadlineController adapting the stream-wide ack
// deadline to observed latency, and the Subscriber itself, which owns the
// bidirectional RPC and reconnects on retryable errors.
package subscriber

import "time"

// Constants visible at the subscriber/service boundary, carried over from
// the source implementation this package's behavior is grounded on.
const (
	// initialReconnectBackoff is the starting delay before the first
	// stream reconnect attempt after a retryable error.
	initialReconnectBackoff = 100 * time.Millisecond

	// maxPerRequestChanges bounds the number of ack ids or modify-deadline
	// entries carried by a single outbound request frame.
	maxPerRequestChanges = 10000

	// minAckDeadlineSeconds and maxAckDeadlineSeconds clamp the
	// stream-wide ack deadline.
	minAckDeadlineSeconds = 10
	maxAckDeadlineSeconds = 600

	// initialAckDeadlineSeconds seeds streamAckDeadlineSeconds before any
	// latency has been observed.
	initialAckDeadlineSeconds = 10

	// initialAckDeadlineExtensionSeconds is the first lease extension
	// granted to a newly created expiration bucket; it doubles on every
	// subsequent extension of that bucket.
	initialAckDeadlineExtensionSeconds = 2

	// ackDeadlineUpdatePeriod is how often the deadline controller
	// recomputes the stream-wide ack deadline from observed latency.
	ackDeadlineUpdatePeriod = 60 * time.Second

	// percentileForAckDeadlineUpdates is the latency percentile the
	// deadline controller targets.
	percentileForAckDeadlineUpdates = 99.9

	// pendingAcksSendDelay is the debounce window before a batch of
	// pending acks/nacks is flushed to the stream.
	pendingAcksSendDelay = 100 * time.Millisecond
)
