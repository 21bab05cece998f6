// Package txn owns the single transaction a corpus may have open. Read-only
// transactions are parked when they end and renewed on the next read; a write
// transaction discards the parked snapshot first.
package txn

import (
	"errors"
	"log/slog"

	"github.com/i5heu/ngram-corpus/internal/chunkcache"
	"github.com/i5heu/ngram-corpus/pkg/errs"
	"github.com/i5heu/ngram-corpus/pkg/kv"
)

type Manager struct {
	store   kv.Store
	log     *slog.Logger
	current *Txn
	parked  kv.Txn
}

func NewManager(store kv.Store, log *slog.Logger) *Manager {
	return &Manager{store: store, log: log}
}

// Txn is the transaction handed to the vocabulary, vector and trie code.
// Engine failures come back wrapped as errs.ErrStorage; kv.ErrNotFound and
// kv.ErrExists are passed through unchanged.
type Txn struct {
	mgr    *Manager
	kv     kv.Txn
	chunks *chunkcache.Cache
	hooks  []func()
	done   bool
}

// Active reports whether a transaction is open.
func (m *Manager) Active() bool {
	return m.current != nil
}

func (m *Manager) BeginRead() (*Txn, error) {
	if m.current != nil {
		return nil, errs.Invariant("begin read: a transaction is already open")
	}

	var t kv.Txn
	if m.parked != nil {
		t, m.parked = m.parked, nil
		if err := t.Renew(); err != nil {
			return nil, errs.Storage("renew read transaction", err)
		}
		m.log.Debug("renewed read transaction")
	} else {
		var err error
		t, err = m.store.Begin(false)
		if err != nil {
			return nil, errs.Storage("begin read transaction", err)
		}
		m.log.Debug("began read transaction")
	}

	m.current = &Txn{mgr: m, kv: t}
	return m.current, nil
}

func (m *Manager) BeginWrite() (*Txn, error) {
	if m.current != nil {
		return nil, errs.Invariant("begin write: a transaction is already open")
	}
	if m.parked != nil {
		m.parked.Abort()
		m.parked = nil
	}

	t, err := m.store.Begin(true)
	if err != nil {
		return nil, errs.Storage("begin write transaction", err)
	}
	m.log.Debug("began write transaction")

	m.current = &Txn{mgr: m, kv: t, chunks: chunkcache.New()}
	return m.current, nil
}

// Close drops the parked read snapshot. It fails while a transaction is open.
func (m *Manager) Close() error {
	if m.current != nil {
		return errs.Invariant("close: a transaction is still open")
	}
	if m.parked != nil {
		m.parked.Abort()
		m.parked = nil
	}
	return nil
}

func (m *Manager) finish(t *Txn) {
	if t.chunks != nil {
		t.chunks.Reset()
	}
	t.hooks = nil
	t.done = true
	if m.current == t {
		m.current = nil
	}
}

func (t *Txn) Writable() bool {
	return t.kv.Writable()
}

// Chunks returns the dirty chunk cache of a write transaction, nil otherwise.
func (t *Txn) Chunks() *chunkcache.Cache {
	return t.chunks
}

// OnCommit registers fn to run after the transaction committed successfully.
// Hooks of an aborted transaction are dropped.
func (t *Txn) OnCommit(fn func()) {
	t.hooks = append(t.hooks, fn)
}

// Commit commits a write transaction and runs its hooks. A read transaction
// is parked for renewal.
func (t *Txn) Commit() error {
	if t.done {
		return errs.Invariant("commit: transaction already finished")
	}
	m := t.mgr
	defer m.finish(t)

	if !t.kv.Writable() {
		t.kv.Abort()
		m.parked = t.kv
		return nil
	}

	if err := t.kv.Commit(); err != nil {
		t.kv.Abort()
		return errs.Storage("commit", err)
	}
	m.log.Debug("committed write transaction", "chunks", t.chunks.Len(), "hooks", len(t.hooks))
	for _, fn := range t.hooks {
		fn()
	}
	return nil
}

// Abort discards the transaction. It is a no-op on a finished transaction.
func (t *Txn) Abort() {
	if t.done {
		return
	}
	m := t.mgr
	defer m.finish(t)

	t.kv.Abort()
	if !t.kv.Writable() {
		m.parked = t.kv
		return
	}
	m.log.Debug("aborted write transaction")
}

func (t *Txn) Get(key []byte) ([]byte, error) {
	v, err := t.kv.Get(key)
	if err != nil && !errors.Is(err, kv.ErrNotFound) {
		return nil, errs.Storage("get", err)
	}
	return v, err
}

func (t *Txn) PutIfAbsent(key, value []byte) error {
	err := t.kv.PutIfAbsent(key, value)
	if err != nil && !errors.Is(err, kv.ErrExists) {
		return errs.Storage("put if absent", err)
	}
	return err
}

func (t *Txn) Put(key, value []byte) error {
	if err := t.kv.Put(key, value); err != nil {
		return errs.Storage("put", err)
	}
	return nil
}

func (t *Txn) Reserve(key []byte, size int) ([]byte, error) {
	buf, err := t.kv.Reserve(key, size)
	if err != nil {
		return nil, errs.Storage("reserve", err)
	}
	return buf, nil
}

// Scan passes errors returned by fn through unwrapped.
func (t *Txn) Scan(prefix []byte, fn func(key, value []byte) error) error {
	var fnErr error
	err := t.kv.Scan(prefix, func(key, value []byte) error {
		fnErr = fn(key, value)
		return fnErr
	})
	if fnErr != nil {
		return fnErr
	}
	if err != nil {
		return errs.Storage("scan", err)
	}
	return nil
}
