// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/absmach/mqstress/mq"
)

// fakeService is an in-memory collaborator double. It fans sends out to
// every queue named Consumer.Q<n>.<topic> and can be scripted to fail
// connects, fail sends, or corrupt a specific delivery.
type fakeService struct {
	mu       sync.Mutex
	queues   map[string]chan mq.Message
	counts   map[string]int             // deliveries handed out per queue
	acked    []string
	seq      int
	started  bool
	policies []mq.Policy                // one entry per Start call

	failConnect bool
	failSend    bool

	// corruptQueue/corruptAfter script a single empty-bodied delivery:
	// the Nth message handed to corruptQueue is replaced with an empty
	// text message under the same ID.
	corruptQueue string
	corruptAfter int
}

func newFakeService() *fakeService {
	return &fakeService{
		queues: make(map[string]chan mq.Message),
		counts: make(map[string]int),
	}
}

func (f *fakeService) Start(policy mq.Policy) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.started = true
	f.policies = append(f.policies, policy)
	f.queues = make(map[string]chan mq.Message)
	f.counts = make(map[string]int)
	f.acked = nil
	return nil
}

func (f *fakeService) startPolicies() []mq.Policy {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]mq.Policy(nil), f.policies...)
}

func (f *fakeService) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.started = false
	return nil
}

func (f *fakeService) Connect() (mq.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failConnect {
		return nil, errors.New("fake: connection refused")
	}
	return &fakeConn{svc: f}, nil
}

func (f *fakeService) ensureQueue(name string) chan mq.Message {
	f.mu.Lock()
	defer f.mu.Unlock()

	q, ok := f.queues[name]
	if !ok {
		q = make(chan mq.Message, 1000)
		f.queues[name] = q
	}
	return q
}

// deliver pushes a pre-built message straight into a queue, bound to
// the fake's ack bookkeeping.
func (f *fakeService) deliver(queue string, msg mq.Message, id string) {
	bindFake(msg, id, f)
	f.ensureQueue(queue) <- msg
}

func (f *fakeService) ackedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.acked...)
}

// bindFake attaches an ID and ack recording to a message.
func bindFake(msg mq.Message, id string, f *fakeService) {
	ack := func() error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.acked = append(f.acked, id)
		return nil
	}

	switch m := msg.(type) {
	case *mq.TextMessage:
		m.Bind(id, ack)
	case *mq.MapMessage:
		m.Bind(id, ack)
	case *mq.ObjectMessage:
		m.Bind(id, ack)
	}
}

type fakeConn struct {
	svc *fakeService
}

func (c *fakeConn) Start() error                  { return nil }
func (c *fakeConn) SetErrorHandler(fn func(error)) {}
func (c *fakeConn) Close() error                  { return nil }

func (c *fakeConn) CreateSession(mode mq.AckMode) (mq.Session, error) {
	return &fakeSession{svc: c.svc}, nil
}

type fakeSession struct {
	svc *fakeService
}

func (s *fakeSession) CreateTopic(name string) (mq.Destination, error) {
	return mq.Destination{Name: name, Kind: mq.DestinationTopic}, nil
}

func (s *fakeSession) CreateQueue(name string) (mq.Destination, error) {
	s.svc.ensureQueue(name)
	return mq.Destination{Name: name, Kind: mq.DestinationQueue}, nil
}

func (s *fakeSession) CreateProducer(dst mq.Destination) (mq.Producer, error) {
	return &fakeProducer{svc: s.svc, topic: dst.Name}, nil
}

func (s *fakeSession) CreateConsumer(dst mq.Destination) (mq.Consumer, error) {
	return &fakeConsumer{svc: s.svc, queue: dst.Name}, nil
}

func (s *fakeSession) Close() error { return nil }

type fakeProducer struct {
	svc   *fakeService
	topic string
}

func (p *fakeProducer) Send(msg mq.Message, mode mq.DeliveryMode, priority int, ttl time.Duration) error {
	f := p.svc

	f.mu.Lock()
	if f.failSend {
		f.mu.Unlock()
		return errors.New("fake: send rejected")
	}
	f.seq++
	id := fmt.Sprintf("msg-%d", f.seq)
	var targets []chan mq.Message
	for name, q := range f.queues {
		if strings.HasSuffix(name, "."+p.topic) && strings.HasPrefix(name, "Consumer.Q") {
			targets = append(targets, q)
		}
	}
	f.mu.Unlock()

	for _, q := range targets {
		clone := cloneFakeMessage(msg)
		bindFake(clone, id, f)
		// Drop when the buffer is full so a paused consumer cannot
		// wedge the producer loop.
		select {
		case q <- clone:
		default:
		}
	}
	return nil
}

func (p *fakeProducer) Close() error { return nil }

func cloneFakeMessage(msg mq.Message) mq.Message {
	switch m := msg.(type) {
	case *mq.TextMessage:
		return mq.NewTextMessage(m.Body)
	case *mq.MapMessage:
		c := mq.NewMapMessage()
		for k, v := range m.Fields {
			c.SetString(k, v)
		}
		return c
	case *mq.ObjectMessage:
		return mq.NewObjectMessage(m.Payload)
	default:
		return msg
	}
}

type fakeConsumer struct {
	svc   *fakeService
	queue string
}

func (c *fakeConsumer) Receive(timeout time.Duration) (mq.Message, error) {
	q := c.svc.ensureQueue(c.queue)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var msg mq.Message
	select {
	case msg = <-q:
	case <-timer.C:
		return nil, nil
	}

	f := c.svc
	f.mu.Lock()
	f.counts[c.queue]++
	corrupt := c.queue == f.corruptQueue && f.counts[c.queue] == f.corruptAfter
	f.mu.Unlock()

	if corrupt {
		empty := mq.NewTextMessage("")
		bindFake(empty, msg.ID(), f)
		return empty, nil
	}
	return msg, nil
}

func (c *fakeConsumer) Close() error { return nil }

// captureHandler is a slog handler that records every message line, so
// tests can assert on logged anomalies.
type captureHandler struct {
	mu       sync.Mutex
	messages []string
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.messages = append(h.messages, r.Message)
	return nil
}

func (h *captureHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *captureHandler) WithGroup(string) slog.Handler      { return h }

func (h *captureHandler) contains(substr string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, m := range h.messages {
		if strings.Contains(m, substr) {
			return true
		}
	}
	return false
}
