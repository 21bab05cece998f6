// Package boltStore is the bbolt backend of kv.Store. It keeps every key in
// one bucket of a single file inside the store directory.
package boltStore

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"go.etcd.io/bbolt"

	"github.com/i5heu/ngram-corpus/internal/keyValStore"
	"github.com/i5heu/ngram-corpus/pkg/kv"
)

// FileName is the name of the database file inside the store directory.
const FileName = "corpus.bolt"

var bucketCorpus = []byte("corpus")

type StoreConfig struct {
	Paths            []string // only the first path is used
	MinimumFreeSpace int      // in GB
	Logger           *logrus.Logger
	SyncWrites       bool
	OpenTimeout      time.Duration
}

type BoltStore struct {
	config       StoreConfig
	log          *logrus.Logger
	db           *bbolt.DB
	readCounter  uint64
	writeCounter uint64
}

// Exists reports whether dir already holds a bbolt corpus file.
func Exists(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, FileName))
	return err == nil && !info.IsDir()
}

func NewBoltStore(config StoreConfig) (*BoltStore, error) {
	if config.Logger == nil {
		config.Logger = logrus.New()
		config.Logger.SetLevel(logrus.WarnLevel)
	}
	if len(config.Paths) == 0 {
		return nil, errors.New("no path provided in configuration")
	}
	if err := keyValStore.CheckPath(config.Paths[0], config.MinimumFreeSpace); err != nil {
		return nil, fmt.Errorf("error checking config for BoltStore: %w", err)
	}
	if config.OpenTimeout == 0 {
		config.OpenTimeout = 5 * time.Second
	}

	path := filepath.Join(config.Paths[0], FileName)
	db, err := bbolt.Open(path, 0600, &bbolt.Options{
		Timeout: config.OpenTimeout,
		NoSync:  !config.SyncWrites,
	})
	if err != nil {
		return nil, fmt.Errorf("open bbolt at %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketCorpus)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	config.Logger.WithFields(logrus.Fields{
		"path": path,
	}).Info("bbolt store opened")

	return &BoltStore{config: config, log: config.Logger, db: db}, nil
}

func (s *BoltStore) Begin(writable bool) (kv.Txn, error) {
	tx, err := s.db.Begin(writable)
	if err != nil {
		return nil, err
	}
	return &boltTxn{store: s, tx: tx, writable: writable}, nil
}

// Counters returns the number of reads and writes served since the store was
// opened.
func (s *BoltStore) Counters() (reads, writes uint64) {
	return atomic.LoadUint64(&s.readCounter), atomic.LoadUint64(&s.writeCounter)
}

// Clean only syncs the file. bbolt reuses freed pages on its own.
func (s *BoltStore) Clean() error {
	return s.db.Sync()
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

type boltTxn struct {
	store    *BoltStore
	tx       *bbolt.Tx
	writable bool
	reserved kv.Reservations
	done     bool
}

func (t *boltTxn) Writable() bool {
	return t.writable
}

func (t *boltTxn) bucket() *bbolt.Bucket {
	return t.tx.Bucket(bucketCorpus)
}

func (t *boltTxn) Get(key []byte) ([]byte, error) {
	if t.done {
		return nil, kv.ErrTxnDone
	}
	atomic.AddUint64(&t.store.readCounter, 1)

	if buf, ok := t.reserved.Lookup(key); ok {
		return append([]byte(nil), buf...), nil
	}

	v := t.bucket().Get(key)
	if v == nil {
		return nil, kv.ErrNotFound
	}
	// v points into the mmap and is only valid while tx is open
	return append([]byte(nil), v...), nil
}

func (t *boltTxn) PutIfAbsent(key, value []byte) error {
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

func (t *boltTxn) Put(key, value []byte) error {
	if !t.writable {
		return kv.ErrReadOnly
	}
	if t.done {
		return kv.ErrTxnDone
	}
	atomic.AddUint64(&t.store.writeCounter, 1)
	t.reserved.Forget(key)

	k := append([]byte(nil), key...)
	v := append([]byte(nil), value...)
	return t.bucket().Put(k, v)
}

func (t *boltTxn) Reserve(key []byte, size int) ([]byte, error) {
	if !t.writable {
		return nil, kv.ErrReadOnly
	}
	if t.done {
		return nil, kv.ErrTxnDone
	}
	return t.reserved.Reserve(key, size), nil
}

func (t *boltTxn) Scan(prefix []byte, fn func(key, value []byte) error) error {
	if t.done {
		return kv.ErrTxnDone
	}
	c := t.bucket().Cursor()

	var k, v []byte
	if len(prefix) == 0 {
		k, v = c.First()
	} else {
		k, v = c.Seek(prefix)
	}
	for ; k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		atomic.AddUint64(&t.store.readCounter, 1)
		if err := fn(k, v); err != nil {
			return err
		}
	}
	return nil
}

func (t *boltTxn) Renew() error {
	if t.writable {
		return kv.ErrWritable
	}
	if !t.done {
		_ = t.tx.Rollback()
	}
	tx, err := t.store.db.Begin(false)
	if err != nil {
		t.done = true
		return err
	}
	t.tx = tx
	t.done = false
	return nil
}

func (t *boltTxn) Commit() error {
	if t.done {
		return kv.ErrTxnDone
	}
	if !t.writable {
		t.Abort()
		return nil
	}

	if n := t.reserved.Len(); n > 0 {
		t.store.log.WithField("reserved", n).Debug("Flushing reserved values")
	}
	err := t.reserved.Each(func(key, buf []byte) error {
		atomic.AddUint64(&t.store.writeCounter, 1)
		return t.bucket().Put(key, buf)
	})
	if err != nil {
		t.Abort()
		return fmt.Errorf("flush reserved values: %w", err)
	}

	t.done = true
	t.reserved.Reset()
	return t.tx.Commit()
}

func (t *boltTxn) Abort() {
	if t.done {
		return
	}
	_ = t.tx.Rollback()
	t.reserved.Reset()
	t.done = true
}

var _ kv.Store = (*BoltStore)(nil)
