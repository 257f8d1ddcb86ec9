package subscriber

import (
	"context"

	pb "cloud.google.com/go/pubsub/apiv1/pubsubpb"
	gax "github.com/googleapis/gax-go/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// PullStream is the bidirectional stream contract of spec.md §6: a
// stream of StreamingPullRequest frames out and StreamingPullResponse
// frames in. It is satisfied directly by the gRPC-generated
// Subscriber_StreamingPullClient returned from a real
// cloud.google.com/go/pubsub/apiv1 SubscriberClient, and by a fake in
// tests.
type PullStream interface {
	Send(*pb.StreamingPullRequest) error
	Recv() (*pb.StreamingPullResponse, error)
	CloseSend() error
}

// StreamOpener opens a new bidirectional pull stream. The Subscriber
// calls it once at startup and again on every reconnect.
type StreamOpener interface {
	OpenStream(ctx context.Context) (PullStream, error)
}

// AuthProvider stamps per-call credentials onto outgoing RPCs, the
// authentication collaborator of spec.md §1.
type AuthProvider interface {
	CallOptions() []gax.CallOption
}

// NoAuth is an AuthProvider that adds no per-call credentials, suitable
// when the transport's channel credentials already carry authentication.
type NoAuth struct{}

func (NoAuth) CallOptions() []gax.CallOption { return nil }

// retryableCodes is the set of gRPC status codes the supervisor treats
// as transient transport errors: reopen the stream after a backoff
// rather than failing the subscriber (spec.md §4.1, §6, §7).
var retryableCodes = map[codes.Code]bool{
	codes.DeadlineExceeded:  true,
	codes.Internal:          true,
	codes.Canceled:          true,
	codes.ResourceExhausted: true,
	codes.Unavailable:       true,
}

// isRetryable reports whether err's gRPC status code is in the retryable
// set. A nil error (clean stream close, io.EOF surfaced by the caller
// beforehand) is not passed here.
func isRetryable(err error) bool {
	return retryableCodes[status.Code(err)]
}
