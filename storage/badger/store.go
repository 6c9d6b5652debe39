// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package badger provides a BadgerDB-backed message store.
package badger

import (
	"fmt"
	"time"

	"github.com/absmach/mqstress/storage"
	"github.com/dgraph-io/badger/v4"
)

var _ storage.MessageStore = (*Store)(nil)

// Store is a BadgerDB-backed implementation of storage.MessageStore.
//
// Key format: {queue}/{messageID}
type Store struct {
	db    *badger.DB
	codec storage.Codec

	gcStopCh chan struct{}
	gcDone   chan struct{}
}

// Config holds BadgerDB configuration.
type Config struct {
	Dir string // Directory for BadgerDB data
}

// New creates a new BadgerDB-backed message store.
func New(cfg Config, codec storage.Codec) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Dir)
	opts.Logger = nil // Disable BadgerDB's internal logging
	// Async writes: stress-run messages are transient and regenerated on
	// every run. SyncWrites=true fsyncs on every write, which is 10-100x
	// slower than the fan-out we are trying to keep up with.
	opts.SyncWrites = false
	opts.NumVersionsToKeep = 1
	opts.NumCompactors = 2

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger store: %w", err)
	}

	s := &Store{
		db:       db,
		codec:    codec,
		gcStopCh: make(chan struct{}),
		gcDone:   make(chan struct{}),
	}

	// Start background value log GC
	go s.runGC()

	return s, nil
}

// Append stores a record for the given queue.
func (s *Store) Append(queue string, rec storage.Record) error {
	encoded, err := s.codec.Encode(rec)
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(queue, rec.ID), encoded)
	})
}

// Ack removes the record for the given queue/ID pair.
func (s *Store) Ack(queue, id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(queue, id))
	})
}

// Count returns the number of unacknowledged records in a queue.
func (s *Store) Count(queue string) (int, error) {
	count := 0

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(queue + "/")
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return count, nil
}

// Get retrieves a stored record.
func (s *Store) Get(queue, id string) (storage.Record, error) {
	var rec storage.Record

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(queue, id))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return storage.ErrNotFound
			}
			return err
		}

		return item.Value(func(val []byte) error {
			rec, err = s.codec.Decode(val)
			return err
		})
	})
	if err != nil {
		return storage.Record{}, err
	}

	return rec, nil
}

// Close stops background GC and closes the database.
func (s *Store) Close() error {
	close(s.gcStopCh)
	<-s.gcDone
	return s.db.Close()
}

// runGC periodically runs BadgerDB value log garbage collection.
func (s *Store) runGC() {
	defer close(s.gcDone)

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// ErrNoRewrite is expected when there is nothing to collect.
			for s.db.RunValueLogGC(0.5) == nil {
			}
		case <-s.gcStopCh:
			return
		}
	}
}

func key(queue, id string) []byte {
	return []byte(queue + "/" + id)
}
