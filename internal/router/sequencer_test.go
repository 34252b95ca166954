package router

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequencerPreservesOrderPerKey(t *testing.T) {
	t.Parallel()
	seq := newSequencer()

	var mu sync.Mutex
	var got []int
	for i := 0; i < 200; i++ {
		i := i
		seq.enqueue(7, func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		})
	}
	seq.waitIdle()

	require.Len(t, got, 200)
	for i, v := range got {
		require.Equal(t, i, v, "tasks for one key must run in enqueue order")
	}
}

func TestSequencerKeysRunIndependently(t *testing.T) {
	t.Parallel()
	seq := newSequencer()

	release := make(chan struct{})
	blocked := make(chan struct{})
	seq.enqueue(1, func() {
		close(blocked)
		<-release
	})
	<-blocked

	done := make(chan struct{})
	seq.enqueue(2, func() { close(done) })

	// Key 2 completes while key 1 is still stuck on its first task.
	<-done
	close(release)
	seq.waitIdle()
}

func TestSequencerReusesKeyAfterIdle(t *testing.T) {
	t.Parallel()
	seq := newSequencer()

	var n int
	seq.enqueue(3, func() { n++ })
	seq.waitIdle()
	seq.enqueue(3, func() { n++ })
	seq.waitIdle()

	assert.Equal(t, 2, n)
}
