// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package mq defines the capability contract the stress harness requires
// from a messaging collaborator: start/stop a service, open connections,
// create sessions, producers and consumers, send, receive with a bounded
// wait, and acknowledge. The harness depends only on these interfaces;
// the embedded broker implements them in-process and tests substitute
// doubles.
package mq

import (
	"errors"
	"time"
)

// Common collaborator errors.
var (
	// ErrClosed is returned by operations on a closed connection,
	// session, producer or consumer.
	ErrClosed = errors.New("mq: closed")

	// ErrServiceStopped is delivered to connection error handlers when
	// the service shuts down underneath live connections.
	ErrServiceStopped = errors.New("mq: service stopped")

	// ErrUnknownDestination is returned when sending to or consuming
	// from a destination the service does not know about.
	ErrUnknownDestination = errors.New("mq: unknown destination")
)

// Encoding identifies the payload encoding of a message.
type Encoding int

const (
	EncodingText Encoding = iota
	EncodingMap
	EncodingOpaque
)

func (e Encoding) String() string {
	switch e {
	case EncodingText:
		return "text"
	case EncodingMap:
		return "map"
	case EncodingOpaque:
		return "opaque"
	default:
		return "unknown"
	}
}

// AckMode controls how received messages are acknowledged.
type AckMode int

const (
	// AckAuto acknowledges messages implicitly on receive.
	AckAuto AckMode = iota

	// AckIndividual requires an explicit Acknowledge call per message,
	// keeping delivery accounting independent of consumer batching.
	AckIndividual
)

// DeliveryMode controls message persistence semantics.
type DeliveryMode int

const (
	DeliveryNonPersistent DeliveryMode = iota + 1
	DeliveryPersistent
)

// DefaultPriority is the mid-range message priority.
const DefaultPriority = 4

// Policy carries the two broker policy switches a scenario varies.
type Policy struct {
	// ReduceMemoryFootprint makes the service store message bodies in a
	// compacted form.
	ReduceMemoryFootprint bool

	// ConcurrentStoreAndDispatch lets the service persist a message
	// concurrently with dispatching it, instead of store-then-dispatch.
	ConcurrentStoreAndDispatch bool
}

// Service is a manageable messaging collaborator instance.
type Service interface {
	// Start brings the service up with the given policy applied to its
	// default routing policy and storage adapter.
	Start(policy Policy) error

	// Connect opens a new client connection to the running service.
	Connect() (Connection, error)

	// Stop shuts the service down, failing in-flight operations with
	// ErrServiceStopped.
	Stop() error
}

// Connection is a client connection to the service. Connections are
// owned by exactly one worker and are not safe for cross-worker sharing.
type Connection interface {
	// Start enables message flow on the connection.
	Start() error

	// CreateSession creates a session with the given acknowledgment mode.
	CreateSession(mode AckMode) (Session, error)

	// SetErrorHandler registers a callback for asynchronous
	// connection-level faults, such as the service stopping.
	SetErrorHandler(fn func(error))

	// Close releases the connection and everything created from it.
	Close() error
}

// DestinationKind distinguishes topics from queues.
type DestinationKind int

const (
	DestinationTopic DestinationKind = iota
	DestinationQueue
)

// Destination names a send or receive target.
type Destination struct {
	Name string
	Kind DestinationKind
}

// Session creates destinations, producers and consumers.
type Session interface {
	CreateTopic(name string) (Destination, error)
	CreateQueue(name string) (Destination, error)
	CreateProducer(dst Destination) (Producer, error)
	CreateConsumer(dst Destination) (Consumer, error)
	Close() error
}

// Producer publishes messages to its destination.
type Producer interface {
	// Send submits a message for delivery. A zero ttl means the message
	// never expires.
	Send(msg Message, mode DeliveryMode, priority int, ttl time.Duration) error
	Close() error
}

// Consumer receives messages from its destination.
type Consumer interface {
	// Receive waits at most timeout for a message. It returns (nil, nil)
	// when the wait elapses without a delivery.
	Receive(timeout time.Duration) (Message, error)
	Close() error
}

// Message is a delivered or to-be-sent message. Concrete payload types
// are TextMessage, MapMessage and ObjectMessage; receivers extract the
// payload with a type switch.
type Message interface {
	// ID returns the service-assigned message identifier. Empty until
	// the message has been sent.
	ID() string

	// Acknowledge confirms delivery of this message so the service may
	// release it. Only meaningful under AckIndividual.
	Acknowledge() error
}
