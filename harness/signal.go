// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package harness

import (
	"sync/atomic"
	"time"

	"github.com/absmach/mqstress/mq"
)

// CorruptionEvent describes one detected corrupted delivery.
type CorruptionEvent struct {
	Consumer  int
	Queue     string
	Encoding  mq.Encoding
	MessageID string
}

// FailureSignal is the shared loop-continuation flag. It transitions
// false to true exactly once per run and is polled by every worker.
// Eventual visibility is all the workers need: the signal gates loop
// continuation, not data correctness.
type FailureSignal struct {
	tripped atomic.Bool
	first   atomic.Pointer[CorruptionEvent]
}

// NewFailureSignal creates an unset signal.
func NewFailureSignal() *FailureSignal {
	return &FailureSignal{}
}

// Set trips the signal. Idempotent; only the first event is retained.
func (s *FailureSignal) Set(ev CorruptionEvent) {
	s.first.CompareAndSwap(nil, &ev)
	s.tripped.Store(true)
}

// IsSet reports whether the signal has been tripped.
func (s *FailureSignal) IsSet() bool {
	return s.tripped.Load()
}

// First returns the event that tripped the signal, or nil.
func (s *FailureSignal) First() *CorruptionEvent {
	return s.first.Load()
}

// ReadinessBarrier blocks the orchestrator until a fixed number of
// workers have each signaled that their setup is complete.
type ReadinessBarrier struct {
	remaining atomic.Int64
	done      chan struct{}
}

// NewReadinessBarrier creates a barrier for n arrivals. With n <= 0 the
// barrier is already satisfied.
func NewReadinessBarrier(n int) *ReadinessBarrier {
	b := &ReadinessBarrier{done: make(chan struct{})}
	b.remaining.Store(int64(n))
	if n <= 0 {
		close(b.done)
	}
	return b
}

// Arrive records one worker's readiness. It never blocks. Each worker
// must call it exactly once.
func (b *ReadinessBarrier) Arrive() {
	if b.remaining.Add(-1) == 0 {
		close(b.done)
	}
}

// AwaitAll blocks until every expected worker has arrived or the
// timeout elapses, reporting which.
func (b *ReadinessBarrier) AwaitAll(timeout time.Duration) bool {
	// An already-satisfied barrier succeeds even with a zero timeout.
	select {
	case <-b.done:
		return true
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-b.done:
		return true
	case <-timer.C:
		return false
	}
}
