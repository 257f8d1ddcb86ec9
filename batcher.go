package subscriber

import (
	"sync"

	pb "cloud.google.com/go/pubsub/apiv1/pubsubpb"
)

// ModifyDeadline is a pending lease-extension or nack to be folded into
// an outbound modify-ack-deadline entry. A Nack is represented as a
// ModifyDeadline with ExtensionSeconds == 0, which tells the server to
// release the lease immediately (spec.md §4.4).
type ModifyDeadline struct {
	AckID            string
	ExtensionSeconds int
}

// ackBatcher coalesces pending acks, nacks, and caller-supplied
// modify-deadline entries into size-capped StreamingPullRequest frames
// (spec.md §4.4). Pending acks and pending nacks are each guarded by
// their own lock, matching the concurrency table in spec.md §5: the
// completion path only ever adds to one of the two sets, and a flush
// drains a set in its entirety under its own lock.
type ackBatcher struct {
	acksMu  sync.Mutex
	acks    map[string]struct{}
	nacksMu sync.Mutex
	nacks   map[string]struct{}
}

func newAckBatcher() *ackBatcher {
	return &ackBatcher{
		acks:  make(map[string]struct{}),
		nacks: make(map[string]struct{}),
	}
}

// addAck records ackID as pending acknowledgement.
func (b *ackBatcher) addAck(ackID string) {
	b.acksMu.Lock()
	b.acks[ackID] = struct{}{}
	b.acksMu.Unlock()
}

// addNack records ackID as pending negative-acknowledgement.
func (b *ackBatcher) addNack(ackID string) {
	b.nacksMu.Lock()
	b.nacks[ackID] = struct{}{}
	b.nacksMu.Unlock()
}

// drainAcks removes and returns all pending acks.
func (b *ackBatcher) drainAcks() []string {
	b.acksMu.Lock()
	defer b.acksMu.Unlock()
	if len(b.acks) == 0 {
		return nil
	}
	out := make([]string, 0, len(b.acks))
	for id := range b.acks {
		out = append(out, id)
	}
	b.acks = make(map[string]struct{})
	return out
}

// drainNacks removes and returns all pending nacks as zero-extension
// ModifyDeadline entries.
func (b *ackBatcher) drainNacks() []ModifyDeadline {
	b.nacksMu.Lock()
	defer b.nacksMu.Unlock()
	if len(b.nacks) == 0 {
		return nil
	}
	out := make([]ModifyDeadline, 0, len(b.nacks))
	for id := range b.nacks {
		out = append(out, ModifyDeadline{AckID: id, ExtensionSeconds: 0})
	}
	b.nacks = make(map[string]struct{})
	return out
}

// flush drains pending acks and nacks, merges in extra modify-deadline
// entries supplied by the lease extender, and returns the request frames
// to send. No frame carries more than maxPerRequestChanges ack ids, nor
// more than maxPerRequestChanges modify-deadline entries (spec.md §4.4,
// §8 "Batch size cap").
func (b *ackBatcher) flush(extra []ModifyDeadline) []*pb.StreamingPullRequest {
	acks := b.drainAcks()
	modifies := append(extra, b.drainNacks()...)

	ackChunks := chunkStrings(acks, maxPerRequestChanges)
	modChunks := chunkModifyDeadlines(modifies, maxPerRequestChanges)

	n := len(ackChunks)
	if len(modChunks) > n {
		n = len(modChunks)
	}
	if n == 0 {
		return nil
	}

	frames := make([]*pb.StreamingPullRequest, 0, n)
	for i := 0; i < n; i++ {
		req := &pb.StreamingPullRequest{}
		if i < len(ackChunks) {
			req.AckIds = ackChunks[i]
		}
		if i < len(modChunks) {
			for _, m := range modChunks[i] {
				req.ModifyDeadlineAckIds = append(req.ModifyDeadlineAckIds, m.AckID)
				req.ModifyDeadlineSeconds = append(req.ModifyDeadlineSeconds, int32(m.ExtensionSeconds))
			}
		}
		frames = append(frames, req)
	}
	return frames
}

func chunkStrings(in []string, size int) [][]string {
	if len(in) == 0 {
		return nil
	}
	var out [][]string
	for len(in) > 0 {
		n := size
		if n > len(in) {
			n = len(in)
		}
		out = append(out, in[:n])
		in = in[n:]
	}
	return out
}

func chunkModifyDeadlines(in []ModifyDeadline, size int) [][]ModifyDeadline {
	if len(in) == 0 {
		return nil
	}
	var out [][]ModifyDeadline
	for len(in) > 0 {
		n := size
		if n > len(in) {
			n = len(in)
		}
		out = append(out, in[:n])
		in = in[n:]
	}
	return out
}
