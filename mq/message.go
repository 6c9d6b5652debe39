// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package mq

// Meta carries the delivery identity shared by all message types. The
// zero value is a valid unsent message.
type Meta struct {
	id  string
	ack func() error
}

// ID returns the service-assigned message identifier.
func (m *Meta) ID() string { return m.id }

// Acknowledge confirms delivery. It is a no-op on messages that were
// never delivered.
func (m *Meta) Acknowledge() error {
	if m.ack == nil {
		return nil
	}
	return m.ack()
}

// Bind attaches a delivery identity and acknowledgment path to the
// message. Intended for use by Service implementations when they clone
// a message for delivery.
func (m *Meta) Bind(id string, ack func() error) {
	m.id = id
	m.ack = ack
}

// TextMessage carries a plain string body.
type TextMessage struct {
	Meta
	Body string
}

// NewTextMessage creates a text message with the given body.
func NewTextMessage(body string) *TextMessage {
	return &TextMessage{Body: body}
}

// MapMessage carries named string fields.
type MapMessage struct {
	Meta
	Fields map[string]string
}

// NewMapMessage creates an empty map message.
func NewMapMessage() *MapMessage {
	return &MapMessage{Fields: make(map[string]string)}
}

// SetString sets a named field.
func (m *MapMessage) SetString(key, value string) {
	if m.Fields == nil {
		m.Fields = make(map[string]string)
	}
	m.Fields[key] = value
}

// String returns the named field, or the empty string when absent.
func (m *MapMessage) String(key string) string {
	return m.Fields[key]
}

// ObjectMessage carries an opaque payload.
type ObjectMessage struct {
	Meta
	Payload any
}

// NewObjectMessage creates an object message with the given payload.
func NewObjectMessage(payload any) *ObjectMessage {
	return &ObjectMessage{Payload: payload}
}
