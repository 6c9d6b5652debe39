// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package harness

import (
	"sync"
	"testing"
	"time"

	"github.com/absmach/mqstress/mq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFailureSignalKeepsFirstEvent(t *testing.T) {
	s := NewFailureSignal()
	assert.False(t, s.IsSet())
	assert.Nil(t, s.First())

	s.Set(CorruptionEvent{Consumer: 3, Encoding: mq.EncodingText, MessageID: "a"})
	s.Set(CorruptionEvent{Consumer: 7, Encoding: mq.EncodingMap, MessageID: "b"})

	assert.True(t, s.IsSet())
	require.NotNil(t, s.First())
	assert.Equal(t, 3, s.First().Consumer)
	assert.Equal(t, "a", s.First().MessageID)
}

func TestFailureSignalConcurrentSet(t *testing.T) {
	s := NewFailureSignal()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Set(CorruptionEvent{Consumer: i})
		}(i)
	}
	wg.Wait()

	assert.True(t, s.IsSet())
	require.NotNil(t, s.First())
}

func TestFailureSignalVisibleAcrossGoroutines(t *testing.T) {
	s := NewFailureSignal()

	observed := make(chan struct{})
	go func() {
		for !s.IsSet() {
			time.Sleep(time.Millisecond)
		}
		close(observed)
	}()

	s.Set(CorruptionEvent{})

	select {
	case <-observed:
	case <-time.After(time.Second):
		t.Fatal("signal not observed by polling goroutine")
	}
}

func TestBarrierRequiresExactArrivals(t *testing.T) {
	b := NewReadinessBarrier(5)

	for i := 0; i < 4; i++ {
		b.Arrive()
	}
	assert.False(t, b.AwaitAll(50*time.Millisecond), "barrier satisfied with one arrival missing")

	b.Arrive()
	assert.True(t, b.AwaitAll(time.Second))
}

func TestBarrierConcurrentArrivals(t *testing.T) {
	const n = 100
	b := NewReadinessBarrier(n)

	for i := 0; i < n; i++ {
		go b.Arrive()
	}

	assert.True(t, b.AwaitAll(2*time.Second))
}

func TestBarrierAwaitAfterSatisfied(t *testing.T) {
	b := NewReadinessBarrier(1)
	b.Arrive()

	// Repeated waits on a satisfied barrier succeed immediately.
	assert.True(t, b.AwaitAll(0))
	assert.True(t, b.AwaitAll(time.Millisecond))
}

func TestBarrierZeroWorkers(t *testing.T) {
	b := NewReadinessBarrier(0)
	assert.True(t, b.AwaitAll(0))
}
