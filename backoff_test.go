package subscriber

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReconnectBackoff_DoublesOnConsecutiveFailures(t *testing.T) {
	b := newReconnectBackoff()
	require.Equal(t, 100*time.Millisecond, b.next())
	require.Equal(t, 200*time.Millisecond, b.next())
	require.Equal(t, 400*time.Millisecond, b.next())
}

func TestReconnectBackoff_ResetAfterCleanClose(t *testing.T) {
	b := newReconnectBackoff()
	b.next()
	b.next()
	b.reset()
	require.Equal(t, 100*time.Millisecond, b.next())
}
