// Package kv is the contract the n-gram store consumes from a transactional
// key-value engine: single writer, many readers, ACID transactions over byte
// keys and values.
package kv

import "errors"

var (
	ErrNotFound = errors.New("kv: key not found")
	ErrExists   = errors.New("kv: key already exists")
	ErrReadOnly = errors.New("kv: transaction is read-only")
	ErrWritable = errors.New("kv: transaction is writable")
	ErrTxnDone  = errors.New("kv: transaction already finished")
)

// Store is an open key-value engine.
type Store interface {
	// Begin starts a transaction. Only one writable transaction may be open
	// at a time.
	Begin(writable bool) (Txn, error)
	Close() error
}

// Txn is one transaction. Values returned by Get are copies and stay valid
// after the transaction ends.
type Txn interface {
	Writable() bool

	Get(key []byte) ([]byte, error)
	// PutIfAbsent stores value under key unless key exists, in which case it
	// returns ErrExists.
	PutIfAbsent(key, value []byte) error
	Put(key, value []byte) error
	// Reserve allocates a zeroed value buffer of size bytes for key. The
	// caller writes into the buffer in place; its content is what the key
	// holds when the transaction commits. Get observes reserved buffers.
	Reserve(key []byte, size int) ([]byte, error)
	// Scan calls fn for every key with the given prefix in key order. The
	// slices passed to fn are only valid during the call.
	Scan(prefix []byte, fn func(key, value []byte) error) error

	// Renew moves a read-only transaction to the latest committed snapshot,
	// also after it was aborted. Writable transactions return ErrWritable.
	Renew() error
	Commit() error
	// Abort discards the transaction. It is safe to call after Commit.
	Abort()
}
