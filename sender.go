package subscriber

import (
	pb "cloud.google.com/go/pubsub/apiv1/pubsubpb"
)

// frameSender transmits a single outbound request frame on whatever pull
// stream is currently open. The lease extender and deadline controller
// both hold one of these rather than a raw PullStream so that a
// reconnect never leaves them pointed at a closed stream: spec.md §9's
// open question about routing deadline-controller pushes through "a
// stable reference" during reconnection is resolved by making the
// Subscriber the single owner of the live stream and handing out this
// indirection instead of the stream itself.
type frameSender interface {
	send(req *pb.StreamingPullRequest) error
}
