package ngram

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/i5heu/ngram-corpus/internal/keys"
	"github.com/i5heu/ngram-corpus/internal/txn"
	"github.com/i5heu/ngram-corpus/internal/vector"
	"github.com/i5heu/ngram-corpus/pkg/backup"
	"github.com/i5heu/ngram-corpus/pkg/errs"
	"github.com/i5heu/ngram-corpus/pkg/types"
)

// restoreBatch is the number of records written per transaction on restore.
var restoreBatch = 10000

// Dump writes every key of the corpus to w from one read snapshot.
func (c *Corpus) Dump(ctx context.Context, w io.Writer, codec backup.Codec) (backup.Summary, error) {
	var sum backup.Summary
	if err := c.usable(); err != nil {
		return sum, err
	}
	tx, err := c.txns.BeginRead()
	if err != nil {
		return sum, c.fail("dump", err)
	}
	defer tx.Abort()

	h := backup.Header{
		CorpusID:   c.id[:],
		Attributes: c.attributes,
		Order:      uint64(c.order),
		ChunkSize:  vector.ChunkSize,
	}
	sum, err = backup.BackupData(ctx, w, codec, h, tx)
	if err != nil {
		if poisons(err) {
			return sum, c.fail("dump", err)
		}
		return sum, err
	}
	c.log.Info("corpus dumped", "codec", codec.String(), "entries", sum.Entries, "bytes", sum.Bytes)
	return sum, nil
}

// Restore loads a dump into the empty directory conf.Paths[0] and opens the
// restored corpus. On failure the directory is emptied again.
func Restore(ctx context.Context, conf Config, r io.Reader) (*Corpus, backup.Summary, error) {
	var sum backup.Summary
	conf, err := prepare(conf)
	if err != nil {
		return nil, sum, err
	}
	dir := conf.Paths[0]
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, sum, errs.Storage("create data directory", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, sum, errs.Storage("read data directory", err)
	}
	if len(entries) > 0 {
		return nil, sum, errs.Config("restore target %s is not empty", dir)
	}
	backend := conf.Backend
	if backend == BackendAuto {
		backend = BackendBadger
	}

	store, err := openStore(conf, backend)
	if err != nil {
		return nil, sum, err
	}
	c, err := newCorpus(conf, backend, store)
	if err != nil {
		store.Close()
		return nil, sum, errors.Join(err, clearDir(dir))
	}

	sum, err = c.restore(ctx, r)
	if err != nil {
		c.shutdown()
		return nil, sum, errors.Join(err, clearDir(dir))
	}

	c.log.Info("corpus restored", "path", dir, "backend", string(backend), "entries", sum.Entries, "id", c.id.String())
	return c, sum, nil
}

func (c *Corpus) restore(ctx context.Context, r io.Reader) (backup.Summary, error) {
	sink := &batchSink{txns: c.txns}
	h, sum, err := backup.RestoreData(ctx, r, sink)
	if err != nil {
		sink.abort()
		return sum, err
	}
	if err := sink.commit(); err != nil {
		return sum, err
	}
	if err := c.readSettings(); err != nil {
		return sum, err
	}
	if err := c.checkHeader(h); err != nil {
		return sum, err
	}
	return sum, c.loadFilter()
}

// clearDir removes everything a failed restore left in dir.
func clearDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return errs.Storage("clear restore target", err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return errs.Storage("clear restore target", err)
		}
	}
	return nil
}

func (c *Corpus) checkHeader(h backup.Header) error {
	id, err := uuid.FromBytes(h.CorpusID)
	if err != nil {
		return errs.Corruption("dump header corpus id: %v", err)
	}
	if id != c.id || h.Attributes != c.attributes || types.Order(h.Order) != c.order || h.ChunkSize != vector.ChunkSize {
		return errs.Corruption("dump header (id %s, %d attributes, order %d, chunk size %d) disagrees with restored settings",
			id, h.Attributes, h.Order, h.ChunkSize)
	}
	return nil
}

// batchSink writes restored records, committing every restoreBatch records
// so that no transaction outgrows the engine's limits.
type batchSink struct {
	txns *txn.Manager
	tx   *txn.Txn
	n    int
}

func (s *batchSink) Put(key, value []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if s.tx == nil {
		tx, err := s.txns.BeginWrite()
		if err != nil {
			return err
		}
		s.tx = tx
	}
	if err := s.tx.Put(key, value); err != nil {
		return err
	}
	s.n++
	if s.n%restoreBatch == 0 {
		return s.commit()
	}
	return nil
}

// checkKey accepts settings keys and well-formed tagged keys only.
func checkKey(key []byte) error {
	if keys.IsSetting(key) {
		return nil
	}
	k, err := keys.Parse(key)
	if err != nil {
		return errs.Corruption("restored key %x: %v", key, err)
	}
	encoded, err := k.Encode()
	if err != nil || !bytes.Equal(encoded, key) {
		return errs.Corruption("restored key %x does not round trip", key)
	}
	return nil
}

func (s *batchSink) commit() error {
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	return tx.Commit()
}

func (s *batchSink) abort() {
	if s.tx != nil {
		s.tx.Abort()
		s.tx = nil
	}
}
