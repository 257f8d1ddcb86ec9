package subscriber

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/btree"
)

// LeaseHandle is the per-message bookkeeping record created when a
// message is registered with the expiration table (spec.md §3). Decided
// is set exactly once, atomically, when the receiver's decision (ack or
// nack) is recorded, just before it is enqueued into the batcher; the
// lease extender consults
// it without taking any lock beyond the table's own.
type LeaseHandle struct {
	AckID      string
	Bytes      int
	ReceivedAt time.Time

	decided atomic.Bool
}

// MarkDecided sets the handle as decided and reports whether this call
// was the one that did so (false if it was already decided).
func (h *LeaseHandle) MarkDecided() bool {
	return h.decided.CompareAndSwap(false, true)
}

// Decided reports whether the handle's terminal decision has already
// been recorded.
func (h *LeaseHandle) Decided() bool {
	return h.decided.Load()
}

// expirationBucket groups the lease handles that were registered with the
// same expiration instant (spec.md §3). nextExtensionSeconds starts at
// initialAckDeadlineExtensionSeconds and doubles on every extension.
type expirationBucket struct {
	expiration           time.Time
	seq                  uint64 // tiebreaker so same-instant buckets stay distinct entries
	nextExtensionSeconds int
	handles              map[string]*LeaseHandle
}

func (b *expirationBucket) less(o *expirationBucket) bool {
	if !b.expiration.Equal(o.expiration) {
		return b.expiration.Before(o.expiration)
	}
	return b.seq < o.seq
}

// extend replaces the bucket's expiration with now + nextExtensionSeconds
// and doubles nextExtensionSeconds for the following call, mirroring
// ExpirationInfo.extendExpiration in the source this package is grounded
// on (spec.md §3, §4.3).
func (b *expirationBucket) extend(now time.Time) {
	b.expiration = now.Add(time.Duration(b.nextExtensionSeconds) * time.Second)
	b.nextExtensionSeconds *= 2
}

// expirationTable is the ordered multimap from expiration instant to the
// set of lease handles sharing that expiration (spec.md §3, §9). It is
// implemented with a google/btree ordered tree rather than a hand-rolled
// heap: the design notes call for either a balanced ordered map or a
// lazy-delete min-heap, and btree.BTreeG gives ordered ascending
// iteration with O(log n) insert/delete directly, with no separate
// lazy-deletion bookkeeping required. Buckets landing on an identical
// expiration instant are kept as distinct entries (via the seq
// tiebreaker) rather than merged, so that two unrelated receive batches
// that happen to quantize to the same second never share extension
// state.
type expirationTable struct {
	mu   sync.Mutex
	seq  uint64
	tree *btree.BTreeG[*expirationBucket]
}

func newExpirationTable() *expirationTable {
	return &expirationTable{
		tree: btree.NewG(32, (*expirationBucket).less),
	}
}

// insert creates a new bucket at the given expiration holding handles and
// adds it to the table, returning the bucket so the caller can compute
// the next lease-extension alarm time from it.
func (t *expirationTable) insert(expiration time.Time, handles map[string]*LeaseHandle) *expirationBucket {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	b := &expirationBucket{
		expiration:           expiration,
		seq:                  t.seq,
		nextExtensionSeconds: initialAckDeadlineExtensionSeconds,
		handles:              handles,
	}
	t.tree.ReplaceOrInsert(b)
	return b
}

// earliest returns the bucket with the smallest expiration, or nil if the
// table is empty.
func (t *expirationTable) earliest() *expirationBucket {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.tree.Min()
	if !ok {
		return nil
	}
	return b
}

// empty reports whether the table currently holds no buckets.
func (t *expirationTable) empty() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tree.Len() == 0
}

// sweep walks the table in ascending expiration order, extending and
// re-inserting every bucket whose expiration is <= cutOver, dropping
// handles that are already decided. It returns the modify-deadline
// entries to send for the survivors and the next bucket (if any) whose
// expiration is beyond cutOver, which the caller should use to schedule
// the following alarm (spec.md §4.3 steps 2-3).
func (t *expirationTable) sweep(now, cutOver time.Time) (modifyDeadlines []ModifyDeadline, next *expirationBucket) {
	t.mu.Lock()
	defer t.mu.Unlock()

	// Collect the expiring buckets first, without mutating them: the
	// btree's ordering invariants depend on a bucket's key staying fixed
	// for as long as it remains in the tree, so extending (which changes
	// the key) must happen only after the bucket has been removed.
	var expiring []*expirationBucket
	t.tree.Ascend(func(b *expirationBucket) bool {
		if b.expiration.After(cutOver) {
			next = b
			return false
		}
		expiring = append(expiring, b)
		return true
	})

	for _, b := range expiring {
		t.tree.Delete(b)

		b.extend(now)
		extensionSeconds := int(b.expiration.Sub(now).Seconds())
		if extensionSeconds < 0 {
			extensionSeconds = 0
		}
		survivors := make(map[string]*LeaseHandle, len(b.handles))
		for ackID, h := range b.handles {
			if h.Decided() {
				continue
			}
			modifyDeadlines = append(modifyDeadlines, ModifyDeadline{AckID: ackID, ExtensionSeconds: extensionSeconds})
			survivors[ackID] = h
		}
		if len(survivors) == 0 {
			continue
		}
		b.handles = survivors
		b.seq = t.nextSeqLocked()
		t.tree.ReplaceOrInsert(b)
	}
	return modifyDeadlines, next
}

// nextSeqLocked returns the next tiebreaker sequence number. Must be
// called with mu held.
func (t *expirationTable) nextSeqLocked() uint64 {
	t.seq++
	return t.seq
}
