// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/absmach/mqstress/mq"
)

// connection is one client connection to the embedded broker. Owned by
// a single worker; not safe for cross-worker sharing.
type connection struct {
	b       *Broker
	started atomic.Bool
	closed  atomic.Bool

	mu         sync.Mutex
	errHandler func(error)
}

var _ mq.Connection = (*connection)(nil)

func (c *connection) Start() error {
	if c.closed.Load() {
		return mq.ErrClosed
	}
	c.started.Store(true)
	return nil
}

func (c *connection) CreateSession(mode mq.AckMode) (mq.Session, error) {
	if c.closed.Load() {
		return nil, mq.ErrClosed
	}
	return &session{conn: c, mode: mode}, nil
}

func (c *connection) SetErrorHandler(fn func(error)) {
	c.mu.Lock()
	c.errHandler = fn
	c.mu.Unlock()
}

// notify invokes the registered error handler, if any.
func (c *connection) notify(err error) {
	c.mu.Lock()
	fn := c.errHandler
	c.mu.Unlock()

	if fn != nil && !c.closed.Load() {
		fn(err)
	}
}

func (c *connection) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.b.dropConnection(c)
	return nil
}

// session creates destinations, producers and consumers on one
// connection.
type session struct {
	conn   *connection
	mode   mq.AckMode
	closed atomic.Bool
}

var _ mq.Session = (*session)(nil)

func (s *session) CreateTopic(name string) (mq.Destination, error) {
	if err := s.check(); err != nil {
		return mq.Destination{}, err
	}
	return mq.Destination{Name: name, Kind: mq.DestinationTopic}, nil
}

func (s *session) CreateQueue(name string) (mq.Destination, error) {
	if err := s.check(); err != nil {
		return mq.Destination{}, err
	}
	if _, err := s.conn.b.ensureQueue(name); err != nil {
		return mq.Destination{}, err
	}
	return mq.Destination{Name: name, Kind: mq.DestinationQueue}, nil
}

func (s *session) CreateProducer(dst mq.Destination) (mq.Producer, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return &producer{sess: s, dst: dst}, nil
}

func (s *session) CreateConsumer(dst mq.Destination) (mq.Consumer, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if dst.Kind != mq.DestinationQueue {
		return nil, fmt.Errorf("only queue consumers are supported, got topic %q", dst.Name)
	}
	q, err := s.conn.b.ensureQueue(dst.Name)
	if err != nil {
		return nil, err
	}
	return &consumer{sess: s, q: q}, nil
}

func (s *session) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *session) check() error {
	if s.closed.Load() || s.conn.closed.Load() {
		return mq.ErrClosed
	}
	return nil
}

// producer publishes to one destination.
type producer struct {
	sess   *session
	dst    mq.Destination
	closed atomic.Bool
}

var _ mq.Producer = (*producer)(nil)

func (p *producer) Send(msg mq.Message, mode mq.DeliveryMode, priority int, ttl time.Duration) error {
	if p.closed.Load() {
		return mq.ErrClosed
	}
	if err := p.sess.check(); err != nil {
		return err
	}
	if priority < 0 || priority > 9 {
		return fmt.Errorf("priority %d out of range [0,9]", priority)
	}
	// ttl is accepted for contract compatibility; the embedded broker
	// does not expire messages.
	_ = ttl

	return p.sess.conn.b.publish(p.dst, msg, mode)
}

func (p *producer) Close() error {
	p.closed.Store(true)
	return nil
}

// consumer receives from one queue.
type consumer struct {
	sess   *session
	q      *queue
	closed atomic.Bool
}

var _ mq.Consumer = (*consumer)(nil)

func (c *consumer) Receive(timeout time.Duration) (mq.Message, error) {
	if c.closed.Load() {
		return nil, mq.ErrClosed
	}
	if err := c.sess.check(); err != nil {
		return nil, err
	}
	if !c.sess.conn.started.Load() {
		return nil, ErrNotStarted
	}

	msg, err := c.q.receive(timeout)
	if err != nil || msg == nil {
		return nil, err
	}

	if c.sess.mode == mq.AckAuto {
		if err := msg.Acknowledge(); err != nil {
			return nil, err
		}
	}
	return msg, nil
}

func (c *consumer) Close() error {
	c.closed.Store(true)
	return nil
}
