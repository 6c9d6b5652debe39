// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package harness

import "sync"

// Streak is a run of consecutive deliveries of the same message ID as
// seen through the shared tracker cursor.
type Streak struct {
	MessageID string
	Count     int
}

// DeliveryTracker records the identity of the most recently seen
// message and a running count of consecutive repeats. It is a single
// shared cursor, not partitioned per consumer: its invariant is that at
// most one worker mutates it at a time. The counts are diagnostic and
// never influence the run verdict.
type DeliveryTracker struct {
	mu      sync.Mutex
	lastID  string
	repeats int
}

// Observe records one delivery. When the ID differs from the previous
// one, the completed streak is returned with ok=true so the caller can
// log the transition.
func (t *DeliveryTracker) Observe(id string) (ended Streak, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.lastID == id {
		t.repeats++
		return Streak{}, false
	}

	if t.lastID != "" {
		ended = Streak{MessageID: t.lastID, Count: t.repeats}
		ok = true
	}
	t.lastID = id
	t.repeats = 1
	return ended, ok
}

// Current returns the in-progress streak.
func (t *DeliveryTracker) Current() Streak {
	t.mu.Lock()
	defer t.mu.Unlock()

	return Streak{MessageID: t.lastID, Count: t.repeats}
}

// IndexAllocator hands out dense, unique consumer indices under mutual
// exclusion.
type IndexAllocator struct {
	mu   sync.Mutex
	next int
}

// Next returns the next free index, starting at zero.
func (a *IndexAllocator) Next() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	idx := a.next
	a.next++
	return idx
}
