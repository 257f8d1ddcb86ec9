package subscriber

import (
	"context"
	"time"
)

// Decision is the terminal verdict a Receiver reaches for a delivered
// message.
type Decision int

const (
	// Ack acknowledges the message; the server will not redeliver it.
	Ack Decision = iota
	// Nack releases the message's lease immediately so the server
	// redelivers it to another subscriber.
	Nack
)

func (d Decision) String() string {
	if d == Ack {
		return "ACK"
	}
	return "NACK"
}

// Message is the payload handed to the user Receiver. AckID is opaque to
// the receiver; it exists only to round-trip back into the core when the
// receiver's decision resolves.
type Message struct {
	AckID       string
	Data        []byte
	Attributes  map[string]string
	PublishTime time.Time

	// receivedAt and size are stamped by the dispatcher and are not part
	// of the user-visible contract.
	receivedAt time.Time
	size       int
}

// Receiver is supplied by the host application. It is invoked on its own
// goroutine for every delivered message and is expected to return its
// decision asynchronously with respect to the stream: the dispatcher does
// not block waiting for it before requesting the next frame. A non-nil
// error is treated identically to a Nack and is logged at WARN with the
// message's ack id (spec.md §7).
//
// The receiver must not block indefinitely; the core gates concurrent
// in-flight deliveries through the configured FlowController, not through
// backpressure on this call.
type Receiver func(ctx context.Context, msg *Message) (Decision, error)
