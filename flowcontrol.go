package subscriber

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// FlowController bounds the number and total byte size of messages
// outstanding (received but not yet acked/nacked). It is treated as an
// external collaborator by the core: Reserve is required to succeed,
// blocking the caller rather than rejecting, and the core guarantees
// exactly one matching Release per successful Reserve (spec.md §6, §8
// "Credit conservation").
type FlowController interface {
	Reserve(ctx context.Context, count, bytes int) error
	Release(count, bytes int)
}

// weightedFlowController is the default FlowController, a pair of
// weighted semaphores bounding message count and byte size independently.
// It mirrors the admissionLane pattern used for per-lane admission
// control elsewhere in the teacher codebase (engine/internal/workflow),
// adapted here to bound two quantities instead of one.
type weightedFlowController struct {
	messages *semaphore.Weighted
	bytes    *semaphore.Weighted
}

// NewFlowController returns a FlowController that admits at most
// maxMessages outstanding messages totaling at most maxBytes bytes. A
// non-positive limit disables that particular bound.
func NewFlowController(maxMessages, maxBytes int) FlowController {
	if maxMessages <= 0 {
		maxMessages = 1 << 30
	}
	if maxBytes <= 0 {
		maxBytes = 1 << 40
	}
	return &weightedFlowController{
		messages: semaphore.NewWeighted(int64(maxMessages)),
		bytes:    semaphore.NewWeighted(int64(maxBytes)),
	}
}

func (f *weightedFlowController) Reserve(ctx context.Context, count, bytes int) error {
	if err := f.messages.Acquire(ctx, int64(count)); err != nil {
		return err
	}
	if err := f.bytes.Acquire(ctx, int64(bytes)); err != nil {
		f.messages.Release(int64(count))
		return err
	}
	return nil
}

func (f *weightedFlowController) Release(count, bytes int) {
	f.messages.Release(int64(count))
	f.bytes.Release(int64(bytes))
}
