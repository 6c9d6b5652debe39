// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package memory provides an in-memory message store.
package memory

import (
	"sync"

	"github.com/absmach/mqstress/storage"
)

var _ storage.MessageStore = (*Store)(nil)

// Store is an in-memory implementation of storage.MessageStore. Records
// are held in their encoded form so the codec's compression setting
// applies to resident memory, not just durable storage.
type Store struct {
	mu    sync.RWMutex
	codec storage.Codec
	data  map[string]map[string][]byte // queue -> id -> encoded record
}

// New creates a new in-memory message store.
func New(codec storage.Codec) *Store {
	return &Store{
		codec: codec,
		data:  make(map[string]map[string][]byte),
	}
}

// Append stores a record for the given queue.
func (s *Store) Append(queue string, rec storage.Record) error {
	encoded, err := s.codec.Encode(rec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.data[queue]
	if !ok {
		q = make(map[string][]byte)
		s.data[queue] = q
	}
	q[rec.ID] = encoded
	return nil
}

// Ack removes the record for the given queue/ID pair.
func (s *Store) Ack(queue, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data[queue], id)
	return nil
}

// Count returns the number of unacknowledged records in a queue.
func (s *Store) Count(queue string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.data[queue]), nil
}

// Get retrieves a stored record. Used by tests to verify what the
// broker persisted.
func (s *Store) Get(queue, id string) (storage.Record, error) {
	s.mu.RLock()
	encoded, ok := s.data[queue][id]
	s.mu.RUnlock()

	if !ok {
		return storage.Record{}, storage.ErrNotFound
	}
	return s.codec.Decode(encoded)
}

// Close releases the store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = make(map[string]map[string][]byte)
	return nil
}
