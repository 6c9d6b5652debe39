// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package broker is an embedded, in-process messaging collaborator
// implementing the mq capability contract. Sends to a virtual topic fan
// out to every queue named Consumer.Q<n>.<topic>, each consumer queue
// receiving an independent copy under the same message ID. Persistent
// sends go through a store-and-forward backend whose behavior is shaped
// by the two policy switches: ReduceMemoryFootprint compresses stored
// bodies, ConcurrentStoreAndDispatch overlaps the store write with
// in-memory dispatch.
package broker

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/absmach/mqstress/config"
	"github.com/absmach/mqstress/mq"
	"github.com/absmach/mqstress/storage"
	badgerstore "github.com/absmach/mqstress/storage/badger"
	"github.com/absmach/mqstress/storage/memory"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
)

var _ mq.Service = (*Broker)(nil)

// ErrNotStarted is returned when receiving on a connection that was
// never started.
var ErrNotStarted = errors.New("broker: connection not started")

// Config holds embedded broker configuration.
type Config struct {
	Storage config.StorageConfig
	Broker  config.BrokerConfig
	Logger  *slog.Logger

	// StoreFactory overrides the storage backend. Used by tests to
	// inject failing stores.
	StoreFactory func(codec storage.Codec) (storage.MessageStore, error)
}

// Broker is the embedded collaborator instance.
type Broker struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.RWMutex
	queues   map[string]*queue
	bindings map[string][]*queue // topic -> bound consumer queues
	conns    map[*connection]struct{}

	store   storage.MessageStore
	breaker *gobreaker.CircuitBreaker
	policy  mq.Policy
	running atomic.Bool
}

// New creates a new embedded broker. Call Start before connecting.
func New(cfg Config) *Broker {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Broker.QueueBuffer < 1 {
		cfg.Broker.QueueBuffer = 4096
	}
	if cfg.Broker.StoreFailureThreshold < 1 {
		cfg.Broker.StoreFailureThreshold = 5
	}
	if cfg.Broker.StoreResetTimeout <= 0 {
		cfg.Broker.StoreResetTimeout = 60 * time.Second
	}

	return &Broker{
		cfg:    cfg,
		logger: cfg.Logger,
	}
}

// Start brings the broker up with the given policy. The storage adapter
// is created fresh per start so records from a previous run cannot leak
// into this one.
func (b *Broker) Start(policy mq.Policy) error {
	if !b.running.CompareAndSwap(false, true) {
		return fmt.Errorf("broker already started")
	}

	codec := storage.Codec{Compress: policy.ReduceMemoryFootprint}

	store, err := b.newStore(codec)
	if err != nil {
		b.running.Store(false)
		return fmt.Errorf("failed to create store: %w", err)
	}

	b.mu.Lock()
	b.policy = policy
	b.store = store
	b.queues = make(map[string]*queue)
	b.bindings = make(map[string][]*queue)
	b.conns = make(map[*connection]struct{})
	b.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "store",
		MaxRequests: 1,
		Timeout:     b.cfg.Broker.StoreResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(b.cfg.Broker.StoreFailureThreshold)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			b.logger.Warn("store circuit breaker state changed",
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})
	b.mu.Unlock()

	b.logger.Info("broker started",
		"reduce_memory_footprint", policy.ReduceMemoryFootprint,
		"concurrent_store_and_dispatch", policy.ConcurrentStoreAndDispatch)
	return nil
}

func (b *Broker) newStore(codec storage.Codec) (storage.MessageStore, error) {
	if b.cfg.StoreFactory != nil {
		return b.cfg.StoreFactory(codec)
	}

	switch b.cfg.Storage.Type {
	case "", "memory":
		return memory.New(codec), nil
	case "badger":
		// Fresh directory per start so a run always begins empty.
		dir := filepath.Join(b.cfg.Storage.BadgerDir, fmt.Sprintf("run-%d", time.Now().UnixNano()))
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, err
		}
		return badgerstore.New(badgerstore.Config{Dir: dir}, codec)
	default:
		return nil, fmt.Errorf("unknown storage type %q", b.cfg.Storage.Type)
	}
}

// Connect opens a new client connection.
func (b *Broker) Connect() (mq.Connection, error) {
	if !b.running.Load() {
		return nil, mq.ErrServiceStopped
	}

	c := &connection{b: b}

	b.mu.Lock()
	b.conns[c] = struct{}{}
	b.mu.Unlock()

	return c, nil
}

// Stop shuts the broker down. Live connections are notified through
// their error handlers, open receives and sends fail with ErrClosed.
func (b *Broker) Stop() error {
	if !b.running.CompareAndSwap(true, false) {
		return nil
	}

	b.mu.Lock()
	conns := make([]*connection, 0, len(b.conns))
	for c := range b.conns {
		conns = append(conns, c)
	}
	queues := make([]*queue, 0, len(b.queues))
	for _, q := range b.queues {
		queues = append(queues, q)
	}
	store := b.store
	b.mu.Unlock()

	for _, c := range conns {
		c.notify(mq.ErrServiceStopped)
	}
	for _, q := range queues {
		q.close()
	}

	var err error
	if store != nil {
		err = store.Close()
	}

	b.logger.Info("broker stopped")
	return err
}

// ensureQueue returns the named queue, creating and binding it first if
// needed.
func (b *Broker) ensureQueue(name string) (*queue, error) {
	if !b.running.Load() {
		return nil, mq.ErrServiceStopped
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if q, ok := b.queues[name]; ok {
		return q, nil
	}

	q := newQueue(name, b.cfg.Broker.QueueBuffer)
	b.queues[name] = q
	if topic, ok := virtualTopicOf(name); ok {
		b.bindings[topic] = append(b.bindings[topic], q)
		b.logger.Debug("bound queue to topic", "queue", name, "topic", topic)
	}
	return q, nil
}

// publish fans a message out to every queue bound to the destination.
func (b *Broker) publish(dst mq.Destination, msg mq.Message, mode mq.DeliveryMode) error {
	if !b.running.Load() {
		return mq.ErrServiceStopped
	}

	var targets []*queue
	b.mu.RLock()
	switch dst.Kind {
	case mq.DestinationTopic:
		targets = append(targets, b.bindings[dst.Name]...)
	case mq.DestinationQueue:
		if q, ok := b.queues[dst.Name]; ok {
			targets = append(targets, q)
		}
	}
	concurrent := b.policy.ConcurrentStoreAndDispatch
	// Capture the run's store and breaker so a worker overrunning its
	// shutdown grace cannot race a restart, or land a late append or
	// ack in the next run's store.
	store := b.store
	breaker := b.breaker
	b.mu.RUnlock()

	if dst.Kind == mq.DestinationQueue && len(targets) == 0 {
		return mq.ErrUnknownDestination
	}

	id := uuid.NewString()
	rec, err := recordFor(msg, id)
	if err != nil {
		return err
	}

	for _, q := range targets {
		delivery, err := cloneForDelivery(msg, id, q.name, mode, store)
		if err != nil {
			return err
		}

		if mode == mq.DeliveryPersistent {
			if concurrent {
				go func(queueName string) {
					_ = b.storeRecord(store, breaker, queueName, rec)
				}(q.name)
			} else if err := b.storeRecord(store, breaker, q.name, rec); err != nil {
				return err
			}
		}

		if err := q.dispatch(delivery); err != nil {
			return err
		}
	}
	return nil
}

// storeRecord appends through the circuit breaker, so a failing store
// cannot stall the dispatch path under concurrent store and dispatch.
func (b *Broker) storeRecord(store storage.MessageStore, breaker *gobreaker.CircuitBreaker, queueName string, rec storage.Record) error {
	_, err := breaker.Execute(func() (any, error) {
		return nil, store.Append(queueName, rec)
	})
	if err != nil {
		b.logger.Warn("store append failed", "queue", queueName, "message", rec.ID, "error", err)
	}
	return err
}

// cloneForDelivery builds the per-queue message copy, bound to the
// queue's acknowledgment path. The store is bound at clone time: an ack
// after a restart releases the record from the store that holds it.
func cloneForDelivery(msg mq.Message, id, queueName string, mode mq.DeliveryMode, store storage.MessageStore) (mq.Message, error) {
	ack := func() error { return nil }
	if mode == mq.DeliveryPersistent {
		ack = func() error { return store.Ack(queueName, id) }
	}

	switch m := msg.(type) {
	case *mq.TextMessage:
		c := mq.NewTextMessage(m.Body)
		c.Bind(id, ack)
		return c, nil
	case *mq.MapMessage:
		c := mq.NewMapMessage()
		for k, v := range m.Fields {
			c.SetString(k, v)
		}
		c.Bind(id, ack)
		return c, nil
	case *mq.ObjectMessage:
		c := mq.NewObjectMessage(m.Payload)
		c.Bind(id, ack)
		return c, nil
	default:
		return nil, fmt.Errorf("unsupported message type %T", msg)
	}
}

// recordFor builds the storage record for a message.
func recordFor(msg mq.Message, id string) (storage.Record, error) {
	switch m := msg.(type) {
	case *mq.TextMessage:
		return storage.Record{ID: id, Encoding: int(mq.EncodingText), Body: []byte(m.Body)}, nil
	case *mq.MapMessage:
		body, err := json.Marshal(m.Fields)
		if err != nil {
			return storage.Record{}, fmt.Errorf("failed to marshal map message: %w", err)
		}
		return storage.Record{ID: id, Encoding: int(mq.EncodingMap), Body: body}, nil
	case *mq.ObjectMessage:
		body, err := json.Marshal(m.Payload)
		if err != nil {
			return storage.Record{}, fmt.Errorf("failed to marshal object message: %w", err)
		}
		return storage.Record{ID: id, Encoding: int(mq.EncodingOpaque), Body: body}, nil
	default:
		return storage.Record{}, fmt.Errorf("unsupported message type %T", msg)
	}
}

// virtualTopicOf maps a queue name of the form Consumer.Q<n>.<topic> to
// the topic it is bound to.
func virtualTopicOf(queueName string) (string, bool) {
	rest, ok := strings.CutPrefix(queueName, "Consumer.")
	if !ok {
		return "", false
	}
	i := strings.Index(rest, ".")
	if i <= 0 || !strings.HasPrefix(rest, "Q") || i+1 >= len(rest) {
		return "", false
	}
	return rest[i+1:], true
}

func (b *Broker) dropConnection(c *connection) {
	b.mu.Lock()
	delete(b.conns, c)
	b.mu.Unlock()
}
