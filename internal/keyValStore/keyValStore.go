package keyValStore

import (
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/i5heu/ngram-corpus/pkg/kv"
)

type StoreConfig struct {
	Paths            []string // absolute path at the moment only first path is supported
	MinimumFreeSpace int      // in GB
	Logger           *logrus.Logger
	SyncWrites       bool
}

// KeyValStore is the BadgerDB backend of kv.Store.
type KeyValStore struct {
	config       StoreConfig
	log          *logrus.Logger
	badgerDB     *badger.DB
	readCounter  uint64
	writeCounter uint64
}

func NewKeyValStore(config StoreConfig) (*KeyValStore, error) {
	if config.Logger == nil {
		config.Logger = logrus.New()
		config.Logger.SetLevel(logrus.WarnLevel)
	}

	err := config.checkConfig()
	if err != nil {
		return nil, fmt.Errorf("error checking config for KeyValStore: %w", err)
	}

	opts := badger.DefaultOptions(config.Paths[0])
	opts.Logger = config.Logger
	opts.ValueLogFileSize = 1024 * 1024 * 100 // Set max size of each value log file to 100MB
	opts.SyncWrites = config.SyncWrites

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", config.Paths[0], err)
	}

	k := &KeyValStore{
		config:   config,
		log:      config.Logger,
		badgerDB: db,
	}

	if err := k.displayDiskUsage(config.Paths); err != nil {
		_ = db.Close()
		return nil, err
	}

	return k, nil
}

func (k *KeyValStore) Begin(writable bool) (kv.Txn, error) {
	return &badgerTxn{
		store:    k,
		txn:      k.badgerDB.NewTransaction(writable),
		writable: writable,
	}, nil
}

// Counters returns the number of reads and writes served since the store was
// opened.
func (k *KeyValStore) Counters() (reads, writes uint64) {
	return atomic.LoadUint64(&k.readCounter), atomic.LoadUint64(&k.writeCounter)
}

func (k *KeyValStore) Close() error {
	return k.badgerDB.Close()
}

// Clean syncs, flattens the LSM tree and runs value log garbage collection.
func (k *KeyValStore) Clean() error {
	err := k.badgerDB.Sync()
	if err != nil {
		return fmt.Errorf("error syncing db: %w", err)
	}

	// flatten the db
	err = k.badgerDB.Flatten(runtime.NumCPU()) // The parameter is the number of concurrent compactions
	if err != nil {
		return fmt.Errorf("error flattening db: %w", err)
	}
	k.log.Info("DB Flattened")

	err = k.badgerDB.RunValueLogGC(0.1)
	if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
		return fmt.Errorf("error cleaning db: %w", err)
	}

	return nil
}

type badgerTxn struct {
	store    *KeyValStore
	txn      *badger.Txn
	writable bool
	reserved kv.Reservations
	done     bool
}

func (t *badgerTxn) Writable() bool {
	return t.writable
}

func (t *badgerTxn) Get(key []byte) ([]byte, error) {
	if t.done {
		return nil, kv.ErrTxnDone
	}
	atomic.AddUint64(&t.store.readCounter, 1)

	if buf, ok := t.reserved.Lookup(key); ok {
		value := make([]byte, len(buf))
		copy(value, buf)
		return value, nil
	}

	item, err := t.txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (t *badgerTxn) PutIfAbsent(key, value []byte) error {
	if !t.writable {
		return kv.ErrReadOnly
	}
	_, err := t.Get(key)
	if err == nil {
		return kv.ErrExists
	}
	if !errors.Is(err, kv.ErrNotFound) {
		return err
	}
	return t.Put(key, value)
}

func (t *badgerTxn) Put(key, value []byte) error {
	if !t.writable {
		return kv.ErrReadOnly
	}
	if t.done {
		return kv.ErrTxnDone
	}
	atomic.AddUint64(&t.store.writeCounter, 1)
	t.reserved.Forget(key)

	// badger keeps the slices until commit
	k := append([]byte(nil), key...)
	v := append([]byte(nil), value...)
	return t.txn.Set(k, v)
}

func (t *badgerTxn) Reserve(key []byte, size int) ([]byte, error) {
	if !t.writable {
		return nil, kv.ErrReadOnly
	}
	if t.done {
		return nil, kv.ErrTxnDone
	}
	return t.reserved.Reserve(key, size), nil
}

func (t *badgerTxn) Scan(prefix []byte, fn func(key, value []byte) error) error {
	if t.done {
		return kv.ErrTxnDone
	}
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := t.txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		atomic.AddUint64(&t.store.readCounter, 1)
		item := it.Item()
		key := item.Key()
		err := item.Value(func(v []byte) error {
			return fn(key, v)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *badgerTxn) Renew() error {
	if t.writable {
		return kv.ErrWritable
	}
	if !t.done {
		t.txn.Discard()
	}
	t.txn = t.store.badgerDB.NewTransaction(false)
	t.done = false
	return nil
}

func (t *badgerTxn) Commit() error {
	if t.done {
		return kv.ErrTxnDone
	}
	defer t.Abort()
	if !t.writable {
		return nil
	}

	if n := t.reserved.Len(); n > 0 {
		t.store.log.WithField("reserved", n).Debug("Flushing reserved values")
	}
	err := t.reserved.Each(func(key, buf []byte) error {
		atomic.AddUint64(&t.store.writeCounter, 1)
		return t.txn.Set(key, buf)
	})
	if err != nil {
		return fmt.Errorf("flush reserved values: %w", err)
	}
	return t.txn.Commit()
}

func (t *badgerTxn) Abort() {
	if t.done {
		return
	}
	t.txn.Discard()
	t.reserved.Reset()
	t.done = true
}

var _ kv.Store = (*KeyValStore)(nil)
