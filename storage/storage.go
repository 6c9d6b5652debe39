// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package storage defines the store-and-forward backend contract used by
// the embedded broker, plus the record codec shared by all backends.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/klauspost/compress/s2"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("storage: record not found")

// Record is one persisted message copy, bound to a single queue.
type Record struct {
	ID       string `json:"id"`
	Encoding int    `json:"encoding"`
	Body     []byte `json:"body"`
}

// MessageStore persists queued message copies until they are
// acknowledged. Implementations must be safe for concurrent use.
type MessageStore interface {
	// Append stores a record for the given queue. Appending the same
	// queue/ID pair twice overwrites the previous record.
	Append(queue string, rec Record) error

	// Ack removes the record for the given queue/ID pair. Acking an
	// unknown record is not an error: with concurrent store and
	// dispatch, an acknowledgment can race the store write.
	Ack(queue, id string) error

	// Count returns the number of unacknowledged records in a queue.
	Count(queue string) (int, error)

	// Close releases the backend.
	Close() error
}

// Record wire format markers. The first byte of an encoded record tells
// the decoder whether the JSON body is s2-compressed.
const (
	formatPlain = 0x00
	formatS2    = 0x01
)

// Codec encodes records for storage. With Compress set, record bodies
// are s2-compressed to reduce the store's memory footprint.
type Codec struct {
	Compress bool
}

// Encode serializes a record.
func (c Codec) Encode(rec Record) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}

	if !c.Compress {
		return append([]byte{formatPlain}, data...), nil
	}

	out := []byte{formatS2}
	return append(out, s2.Encode(nil, data)...), nil
}

// Decode deserializes a record produced by any Codec, regardless of the
// compression setting it was encoded with.
func (c Codec) Decode(data []byte) (Record, error) {
	if len(data) == 0 {
		return Record{}, fmt.Errorf("empty record data")
	}

	body := data[1:]
	switch data[0] {
	case formatPlain:
	case formatS2:
		decoded, err := s2.Decode(nil, body)
		if err != nil {
			return Record{}, fmt.Errorf("failed to decompress record: %w", err)
		}
		body = decoded
	default:
		return Record{}, fmt.Errorf("unknown record format 0x%02x", data[0])
	}

	var rec Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return Record{}, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return rec, nil
}
