// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"sync"
	"time"

	"github.com/absmach/mqstress/mq"
)

// queue is one fan-out destination: a bounded delivery buffer consumed
// by a single subscriber.
type queue struct {
	name      string
	ch        chan mq.Message
	closed    chan struct{}
	closeOnce sync.Once
}

func newQueue(name string, buffer int) *queue {
	return &queue{
		name:   name,
		ch:     make(chan mq.Message, buffer),
		closed: make(chan struct{}),
	}
}

// dispatch enqueues a delivery. It blocks when the buffer is full, so a
// slow consumer back-pressures the producer, and unblocks with ErrClosed
// when the broker stops.
func (q *queue) dispatch(msg mq.Message) error {
	select {
	case q.ch <- msg:
		return nil
	case <-q.closed:
		return mq.ErrClosed
	}
}

// receive waits at most timeout for a delivery. A nil message with a nil
// error means the wait elapsed.
func (q *queue) receive(timeout time.Duration) (mq.Message, error) {
	// Drain buffered deliveries even while the queue is closing.
	select {
	case msg := <-q.ch:
		return msg, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-q.ch:
		return msg, nil
	case <-q.closed:
		return nil, mq.ErrClosed
	case <-timer.C:
		return nil, nil
	}
}

func (q *queue) close() {
	q.closeOnce.Do(func() {
		close(q.closed)
	})
}
