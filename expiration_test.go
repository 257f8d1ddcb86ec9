package subscriber

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExpirationTable_InsertAndEarliest(t *testing.T) {
	tbl := newExpirationTable()
	require.True(t, tbl.empty())

	now := time.Now()
	h1 := &LeaseHandle{AckID: "A1"}
	tbl.insert(now.Add(10*time.Second), map[string]*LeaseHandle{"A1": h1})

	h2 := &LeaseHandle{AckID: "B1"}
	tbl.insert(now.Add(5*time.Second), map[string]*LeaseHandle{"B1": h2})

	require.False(t, tbl.empty())
	earliest := tbl.earliest()
	require.NotNil(t, earliest)
	require.Contains(t, earliest.handles, "B1")
}

func TestExpirationTable_SameInstantBucketsStayDistinct(t *testing.T) {
	tbl := newExpirationTable()
	at := time.Now().Add(time.Second)

	tbl.insert(at, map[string]*LeaseHandle{"A1": {AckID: "A1"}})
	tbl.insert(at, map[string]*LeaseHandle{"B1": {AckID: "B1"}})

	count := 0
	tbl.tree.Ascend(func(b *expirationBucket) bool {
		count++
		return true
	})
	require.Equal(t, 2, count)
}

func TestExpirationTable_SweepExtendsAndDropsDecided(t *testing.T) {
	tbl := newExpirationTable()
	now := time.Now()

	decided := &LeaseHandle{AckID: "decided"}
	decided.MarkDecided()
	pending := &LeaseHandle{AckID: "pending"}

	tbl.insert(now.Add(time.Second), map[string]*LeaseHandle{
		"decided": decided,
		"pending": pending,
	})

	cutOver := now.Add(2 * time.Second)
	mods, next := tbl.sweep(now, cutOver)

	require.Nil(t, next)
	require.Len(t, mods, 1)
	require.Equal(t, "pending", mods[0].AckID)
	require.Equal(t, 2, mods[0].ExtensionSeconds)

	// The survivor should have been re-inserted with doubled extension.
	earliest := tbl.earliest()
	require.NotNil(t, earliest)
	require.Equal(t, 4, earliest.nextExtensionSeconds)
	require.Contains(t, earliest.handles, "pending")
	require.NotContains(t, earliest.handles, "decided")
}

func TestExpirationTable_SweepStopsAtFirstBucketPastCutOver(t *testing.T) {
	tbl := newExpirationTable()
	now := time.Now()

	tbl.insert(now.Add(time.Second), map[string]*LeaseHandle{"near": {AckID: "near"}})
	tbl.insert(now.Add(time.Hour), map[string]*LeaseHandle{"far": {AckID: "far"}})

	mods, next := tbl.sweep(now, now.Add(2*time.Second))
	require.Len(t, mods, 1)
	require.Equal(t, "near", mods[0].AckID)
	require.NotNil(t, next)
	require.Contains(t, next.handles, "far")
}

func TestExpirationTable_SweepRemovesBucketWhenAllDecided(t *testing.T) {
	tbl := newExpirationTable()
	now := time.Now()
	h := &LeaseHandle{AckID: "A1"}
	h.MarkDecided()
	tbl.insert(now.Add(time.Second), map[string]*LeaseHandle{"A1": h})

	mods, next := tbl.sweep(now, now.Add(2*time.Second))
	require.Empty(t, mods)
	require.Nil(t, next)
	require.True(t, tbl.empty())
}
