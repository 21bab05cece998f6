// Package kvtest holds the behaviour every kv.Store backend must show. Backend
// packages run it from their own tests.
package kvtest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i5heu/ngram-corpus/pkg/kv"
)

// Opener opens a fresh store, or reopens the store at the same location when
// called again within one test.
type Opener func(t *testing.T) kv.Store

// Run executes the contract suite against the backend built by open.
func Run(t *testing.T, open func(t *testing.T) (Opener, func())) {
	t.Run("GetPut", func(t *testing.T) {
		reopen, cleanup := open(t)
		defer cleanup()
		testGetPut(t, reopen)
	})
	t.Run("PutIfAbsent", func(t *testing.T) {
		reopen, cleanup := open(t)
		defer cleanup()
		testPutIfAbsent(t, reopen)
	})
	t.Run("ReserveVisibleAndCommitted", func(t *testing.T) {
		reopen, cleanup := open(t)
		defer cleanup()
		testReserve(t, reopen)
	})
	t.Run("AbortDiscards", func(t *testing.T) {
		reopen, cleanup := open(t)
		defer cleanup()
		testAbort(t, reopen)
	})
	t.Run("ReadOnlyRejectsWrites", func(t *testing.T) {
		reopen, cleanup := open(t)
		defer cleanup()
		testReadOnly(t, reopen)
	})
	t.Run("RenewSeesNewCommits", func(t *testing.T) {
		reopen, cleanup := open(t)
		defer cleanup()
		testRenew(t, reopen)
	})
	t.Run("ScanPrefix", func(t *testing.T) {
		reopen, cleanup := open(t)
		defer cleanup()
		testScan(t, reopen)
	})
	t.Run("Persistence", func(t *testing.T) {
		reopen, cleanup := open(t)
		defer cleanup()
		testPersistence(t, reopen)
	})
}

func update(t *testing.T, s kv.Store, fn func(tx kv.Txn)) {
	t.Helper()
	tx, err := s.Begin(true)
	require.NoError(t, err)
	fn(tx)
	require.NoError(t, tx.Commit())
}

func view(t *testing.T, s kv.Store, fn func(tx kv.Txn)) {
	t.Helper()
	tx, err := s.Begin(false)
	require.NoError(t, err)
	defer tx.Abort()
	fn(tx)
}

func testGetPut(t *testing.T, open Opener) {
	s := open(t)
	defer s.Close()

	update(t, s, func(tx kv.Txn) {
		assert.True(t, tx.Writable())
		_, err := tx.Get([]byte("missing"))
		assert.ErrorIs(t, err, kv.ErrNotFound)

		require.NoError(t, tx.Put([]byte("k"), []byte("v1")))
		require.NoError(t, tx.Put([]byte("k"), []byte("v2")))
		got, err := tx.Get([]byte("k"))
		require.NoError(t, err)
		assert.Equal(t, []byte("v2"), got)
	})

	view(t, s, func(tx kv.Txn) {
		assert.False(t, tx.Writable())
		got, err := tx.Get([]byte("k"))
		require.NoError(t, err)
		assert.Equal(t, []byte("v2"), got)
	})
}

func testPutIfAbsent(t *testing.T, open Opener) {
	s := open(t)
	defer s.Close()

	update(t, s, func(tx kv.Txn) {
		require.NoError(t, tx.PutIfAbsent([]byte("k"), []byte("first")))
		assert.ErrorIs(t, tx.PutIfAbsent([]byte("k"), []byte("second")), kv.ErrExists)
	})
	view(t, s, func(tx kv.Txn) {
		got, err := tx.Get([]byte("k"))
		require.NoError(t, err)
		assert.Equal(t, []byte("first"), got)
	})
}

func testReserve(t *testing.T, open Opener) {
	s := open(t)
	defer s.Close()

	update(t, s, func(tx kv.Txn) {
		buf, err := tx.Reserve([]byte("chunk"), 8)
		require.NoError(t, err)
		assert.Len(t, buf, 8)
		assert.Equal(t, make([]byte, 8), buf)

		// Writes after the reservation must reach the store.
		copy(buf, "abcdefgh")
		got, err := tx.Get([]byte("chunk"))
		require.NoError(t, err)
		assert.Equal(t, []byte("abcdefgh"), got)
		buf[0] = 'z'
	})

	view(t, s, func(tx kv.Txn) {
		got, err := tx.Get([]byte("chunk"))
		require.NoError(t, err)
		assert.Equal(t, []byte("zbcdefgh"), got)
	})
}

func testAbort(t *testing.T, open Opener) {
	s := open(t)
	defer s.Close()

	tx, err := s.Begin(true)
	require.NoError(t, err)
	require.NoError(t, tx.Put([]byte("k"), []byte("v")))
	buf, err := tx.Reserve([]byte("r"), 4)
	require.NoError(t, err)
	copy(buf, "data")
	tx.Abort()
	tx.Abort()
	assert.ErrorIs(t, tx.Commit(), kv.ErrTxnDone)

	view(t, s, func(tx kv.Txn) {
		_, err := tx.Get([]byte("k"))
		assert.ErrorIs(t, err, kv.ErrNotFound)
		_, err = tx.Get([]byte("r"))
		assert.ErrorIs(t, err, kv.ErrNotFound)
	})
}

func testReadOnly(t *testing.T, open Opener) {
	s := open(t)
	defer s.Close()

	view(t, s, func(tx kv.Txn) {
		assert.ErrorIs(t, tx.Put([]byte("k"), []byte("v")), kv.ErrReadOnly)
		assert.ErrorIs(t, tx.PutIfAbsent([]byte("k"), []byte("v")), kv.ErrReadOnly)
		_, err := tx.Reserve([]byte("k"), 1)
		assert.ErrorIs(t, err, kv.ErrReadOnly)
	})
}

func testRenew(t *testing.T, open Opener) {
	s := open(t)
	defer s.Close()

	ro, err := s.Begin(false)
	require.NoError(t, err)
	_, err = ro.Get([]byte("k"))
	assert.ErrorIs(t, err, kv.ErrNotFound)
	ro.Abort()

	update(t, s, func(tx kv.Txn) {
		require.NoError(t, tx.Put([]byte("k"), []byte("v")))
	})

	require.NoError(t, ro.Renew())
	got, err := ro.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
	ro.Abort()

	update(t, s, func(tx kv.Txn) {
		assert.ErrorIs(t, tx.Renew(), kv.ErrWritable)
	})
}

func testScan(t *testing.T, open Opener) {
	s := open(t)
	defer s.Close()

	update(t, s, func(tx kv.Txn) {
		require.NoError(t, tx.Put([]byte("a/2"), []byte("2")))
		require.NoError(t, tx.Put([]byte("a/1"), []byte("1")))
		require.NoError(t, tx.Put([]byte("b/1"), []byte("x")))
	})

	view(t, s, func(tx kv.Txn) {
		var keys, values []string
		require.NoError(t, tx.Scan([]byte("a/"), func(key, value []byte) error {
			keys = append(keys, string(key))
			values = append(values, string(value))
			return nil
		}))
		assert.Equal(t, []string{"a/1", "a/2"}, keys)
		assert.Equal(t, []string{"1", "2"}, values)

		var all int
		require.NoError(t, tx.Scan(nil, func(key, value []byte) error {
			all++
			return nil
		}))
		assert.Equal(t, 3, all)
	})
}

func testPersistence(t *testing.T, open Opener) {
	s := open(t)
	update(t, s, func(tx kv.Txn) {
		require.NoError(t, tx.Put([]byte("k"), []byte("v")))
		buf, err := tx.Reserve([]byte("r"), 3)
		require.NoError(t, err)
		copy(buf, "xyz")
	})
	require.NoError(t, s.Close())

	s = open(t)
	defer s.Close()
	view(t, s, func(tx kv.Txn) {
		got, err := tx.Get([]byte("k"))
		require.NoError(t, err)
		assert.Equal(t, []byte("v"), got)
		got, err = tx.Get([]byte("r"))
		require.NoError(t, err)
		assert.Equal(t, []byte("xyz"), got)
	})
}
