// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package badger

import (
	"testing"

	"github.com/absmach/mqstress/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, codec storage.Codec) *Store {
	t.Helper()

	s, err := New(Config{Dir: t.TempDir()}, codec)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, s.Close())
	})
	return s
}

func TestAppendAckCount(t *testing.T) {
	s := newTestStore(t, storage.Codec{})

	require.NoError(t, s.Append("q1", storage.Record{ID: "a", Body: []byte("x")}))
	require.NoError(t, s.Append("q1", storage.Record{ID: "b", Body: []byte("y")}))
	require.NoError(t, s.Append("q10", storage.Record{ID: "a", Body: []byte("z")}))

	// The q1 prefix must not match queue q10.
	n, err := s.Count("q1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, s.Ack("q1", "a"))
	n, err = s.Count("q1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestGetRoundTrip(t *testing.T) {
	s := newTestStore(t, storage.Codec{Compress: true})

	rec := storage.Record{ID: "a", Encoding: 1, Body: []byte("message number 7")}
	require.NoError(t, s.Append("q", rec))

	got, err := s.Get("q", "a")
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	_, err = s.Get("q", "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestAckUnknownIsNoop(t *testing.T) {
	s := newTestStore(t, storage.Codec{})

	assert.NoError(t, s.Ack("q", "missing"))
}
