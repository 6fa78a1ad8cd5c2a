package keylock

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMap_SerializesSameKey(t *testing.T) {
	t.Parallel()

	var m Map[string]
	var inside atomic.Int32
	var maxInside atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.With("p1", func() error {
				n := inside.Add(1)
				for {
					cur := maxInside.Load()
					if n <= cur || maxInside.CompareAndSwap(cur, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				inside.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside.Load())
	assert.Zero(t, m.size())
}

func TestMap_DistinctKeysDoNotBlock(t *testing.T) {
	t.Parallel()

	var m Map[int]
	unlock := m.Lock(1)
	defer unlock()

	done := make(chan struct{})
	go func() {
		release := m.Lock(2)
		release()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		require.Fail(t, "lock on an unrelated key blocked")
	}
}

func TestMap_UnlockIsIdempotent(t *testing.T) {
	t.Parallel()

	var m Map[string]
	unlock := m.Lock("a")
	assert.Equal(t, 1, m.size())
	unlock()
	unlock()
	assert.Zero(t, m.size())

	again := m.Lock("a")
	again()
}

func TestMap_WithReturnsError(t *testing.T) {
	t.Parallel()

	var m Map[string]
	boom := errors.New("boom")
	assert.ErrorIs(t, m.With("a", func() error { return boom }), boom)
	assert.Zero(t, m.size())
}
