/*
Package ngram builds and persists n-gram models over sequences of words whose
features are indexed per attribute. Every (attribute, order) pair owns an
append-only vector of n-gram nodes linked into a prefix trie and a backoff
trie.

A Corpus is owned by one goroutine and has at most one open transaction.
*/
package ngram

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/i5heu/ngram-corpus/internal/boltStore"
	"github.com/i5heu/ngram-corpus/internal/keyValStore"
	"github.com/i5heu/ngram-corpus/internal/keys"
	"github.com/i5heu/ngram-corpus/internal/trie"
	"github.com/i5heu/ngram-corpus/internal/txn"
	"github.com/i5heu/ngram-corpus/internal/vector"
	"github.com/i5heu/ngram-corpus/internal/vocab"
	"github.com/i5heu/ngram-corpus/pkg/errs"
	"github.com/i5heu/ngram-corpus/pkg/kv"
	"github.com/i5heu/ngram-corpus/pkg/logging"
	"github.com/i5heu/ngram-corpus/pkg/types"
)

// Word is one position of a sequence: its feature for every attribute and
// the weight its occurrence adds.
type Word struct {
	Features []string
	Weight   float64
}

// WeightedGram is a sequence of words.
type WeightedGram []Word

// Corpus is an open n-gram corpus.
type Corpus struct {
	log     *slog.Logger
	config  Config
	backend Backend
	store   kv.Store

	txns    *txn.Manager
	vocab   *vocab.Index
	vectors *vector.Store
	builder *trie.Builder

	id         uuid.UUID
	attributes uint64
	order      types.Order

	poisoned error
	closed   bool
}

// Create makes a new corpus in conf.Paths[0] and returns it open.
func Create(conf Config, attributes uint64, order types.Order) (*Corpus, error) {
	if attributes == 0 {
		return nil, errs.Config("a corpus needs at least one attribute")
	}
	if order == 0 {
		return nil, errs.Config("gram order must be at least 1")
	}
	conf, err := prepare(conf)
	if err != nil {
		return nil, err
	}

	dir := conf.Paths[0]
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errs.Storage("create data directory", err)
	}
	backend, err := chooseBackend(conf.Backend, dir)
	if err != nil {
		return nil, err
	}
	if backend == BackendAuto {
		backend = BackendBadger
	}

	store, err := openStore(conf, backend)
	if err != nil {
		return nil, err
	}
	c, err := newCorpus(conf, backend, store)
	if err != nil {
		store.Close()
		return nil, err
	}

	if err := c.initialize(attributes, order); err != nil {
		c.shutdown()
		return nil, err
	}
	if err := c.loadFilter(); err != nil {
		c.shutdown()
		return nil, err
	}

	c.log.Info("corpus created", "path", dir, "backend", string(backend), "attributes", attributes, "order", uint64(order), "id", c.id.String())
	return c, nil
}

// Open opens an existing corpus.
func Open(conf Config) (*Corpus, error) {
	conf, err := prepare(conf)
	if err != nil {
		return nil, err
	}

	dir := conf.Paths[0]
	backend, err := chooseBackend(conf.Backend, dir)
	if err != nil {
		return nil, err
	}
	if backend == BackendAuto {
		return nil, errs.Config("no corpus in %s", dir)
	}

	store, err := openStore(conf, backend)
	if err != nil {
		return nil, err
	}
	c, err := newCorpus(conf, backend, store)
	if err != nil {
		store.Close()
		return nil, err
	}
	if err := c.readSettings(); err != nil {
		c.shutdown()
		return nil, err
	}
	if err := c.loadFilter(); err != nil {
		c.shutdown()
		return nil, err
	}

	c.log.Info("corpus opened", "path", dir, "backend", string(backend), "attributes", c.attributes, "order", uint64(c.order), "id", c.id.String())
	return c, nil
}

func prepare(conf Config) (Config, error) {
	if len(conf.Paths) == 0 {
		return conf, errs.Config("at least one path must be provided in config")
	}
	if conf.Logger == nil {
		conf.Logger = defaultLogger()
	}
	switch conf.Backend {
	case BackendAuto, BackendBadger, BackendBolt:
	default:
		return conf, errs.Config("unknown backend %q", conf.Backend)
	}
	return conf, nil
}

// detectBackend returns the engine whose files are in dir, or BackendAuto.
func detectBackend(dir string) Backend {
	if boltStore.Exists(dir) {
		return BackendBolt
	}
	if _, err := os.Stat(filepath.Join(dir, "MANIFEST")); err == nil {
		return BackendBadger
	}
	return BackendAuto
}

// chooseBackend reconciles the configured backend with the files in dir.
func chooseBackend(configured Backend, dir string) (Backend, error) {
	found := detectBackend(dir)
	switch {
	case found == BackendAuto:
		return configured, nil
	case configured == BackendAuto || configured == found:
		return found, nil
	}
	return BackendAuto, errs.Config("%s holds a %s store, configured backend is %s", dir, found, configured)
}

func openStore(conf Config, backend Backend) (kv.Store, error) {
	var (
		store kv.Store
		err   error
	)
	switch backend {
	case BackendBolt:
		store, err = boltStore.NewBoltStore(boltStore.StoreConfig{
			Paths:            conf.Paths,
			MinimumFreeSpace: int(conf.MinimumFreeGB),
			Logger:           conf.storeLogger(),
			SyncWrites:       conf.SyncWrites,
		})
	default:
		store, err = keyValStore.NewKeyValStore(keyValStore.StoreConfig{
			Paths:            conf.Paths,
			MinimumFreeSpace: int(conf.MinimumFreeGB),
			Logger:           conf.storeLogger(),
			SyncWrites:       conf.SyncWrites,
		})
	}
	if err != nil {
		return nil, errs.Storage("open "+string(backend)+" store", err)
	}
	return store, nil
}

func newCorpus(conf Config, backend Backend, store kv.Store) (*Corpus, error) {
	log := conf.Logger
	ix, err := vocab.New(conf.Debug.Logger(log, logging.CategoryVocab), conf.vocabCacheSize())
	if err != nil {
		return nil, err
	}

	var filter *vector.GramFilter
	if conf.GramFilter {
		filter = vector.NewGramFilter(conf.GramFilterCapacity)
	}

	return &Corpus{
		log:     log,
		config:  conf,
		backend: backend,
		store:   store,
		txns:    txn.NewManager(store, conf.Debug.Logger(log, logging.CategoryTxn)),
		vocab:   ix,
		vectors: vector.New(conf.Debug.Logger(log, logging.CategoryVector), filter),
	}, nil
}

// setShape records the persisted settings and builds the trie builder.
func (c *Corpus) setShape(id uuid.UUID, attributes uint64, order types.Order) {
	c.id = id
	c.attributes = attributes
	c.order = order
	c.builder = trie.NewBuilder(c.config.Debug.Logger(c.log, logging.CategoryTrie), c.vectors, order)
}

func (c *Corpus) initialize(attributes uint64, order types.Order) error {
	tx, err := c.txns.BeginWrite()
	if err != nil {
		return err
	}
	defer tx.Abort()

	_, err = tx.Get(keys.Setting(keys.SettingGramOrder))
	if err == nil {
		return errs.Config("%s already holds a corpus", c.config.Paths[0])
	}
	if !errors.Is(err, kv.ErrNotFound) {
		return err
	}

	id := uuid.New()
	settings := map[string][]byte{
		keys.SettingAttributes: types.Uint64Bytes(attributes),
		keys.SettingGramOrder:  types.Uint64Bytes(uint64(order)),
		keys.SettingChunkSize:  types.Uint64Bytes(vector.ChunkSize),
		keys.SettingCorpusID:   id[:],
	}
	for name, value := range settings {
		if err := tx.Put(keys.Setting(name), value); err != nil {
			return err
		}
	}

	for a := uint64(0); a < attributes; a++ {
		attr := types.Attribute(a)
		if err := c.vocab.Init(tx, attr); err != nil {
			return err
		}
		for o := types.Order(1); o <= order; o++ {
			if err := c.vectors.Init(tx, vector.ID{Attr: attr, Order: o}); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	c.setShape(id, attributes, order)
	return nil
}

func (c *Corpus) readSettings() error {
	tx, err := c.txns.BeginRead()
	if err != nil {
		return err
	}
	defer tx.Abort()

	attributes, err := readSetting(tx, keys.SettingAttributes)
	if err != nil {
		return err
	}
	order, err := readSetting(tx, keys.SettingGramOrder)
	if err != nil {
		return err
	}
	chunkSize, err := readSetting(tx, keys.SettingChunkSize)
	if err != nil {
		return err
	}
	if chunkSize != vector.ChunkSize {
		return errs.Config("corpus was built with chunk size %d, this build uses %d", chunkSize, vector.ChunkSize)
	}
	if attributes == 0 || order == 0 {
		return errs.Corruption("corpus settings: %d attributes, order %d", attributes, order)
	}

	raw, err := tx.Get(keys.Setting(keys.SettingCorpusID))
	if errors.Is(err, kv.ErrNotFound) {
		return errs.Config("%s holds no corpus: %s missing", c.config.Paths[0], keys.SettingCorpusID)
	}
	if err != nil {
		return err
	}
	id, err := uuid.FromBytes(raw)
	if err != nil {
		return errs.Corruption("corpus id: %v", err)
	}

	c.setShape(id, attributes, types.Order(order))
	return nil
}

func readSetting(tx *txn.Txn, name string) (uint64, error) {
	v, err := tx.Get(keys.Setting(name))
	if errors.Is(err, kv.ErrNotFound) {
		return 0, errs.Config("corpus setting %s missing", name)
	}
	if err != nil {
		return 0, err
	}
	n, err := types.Uint64FromBytes(v)
	if err != nil {
		return 0, errs.Corruption("corpus setting %s: %v", name, err)
	}
	return n, nil
}

func (c *Corpus) loadFilter() error {
	filter := c.vectors.Filter()
	if filter == nil {
		return nil
	}
	tx, err := c.txns.BeginRead()
	if err != nil {
		return err
	}
	defer tx.Abort()
	var ids []vector.ID
	for a := uint64(0); a < c.attributes; a++ {
		for o := types.Order(1); o <= c.order; o++ {
			ids = append(ids, vector.ID{Attr: types.Attribute(a), Order: o})
		}
	}
	if err := filter.Load(tx, ids...); err != nil {
		return err
	}
	c.log.Debug("gram filter loaded", "keys", filter.Keys())
	return nil
}

// ID returns the identity generated when the corpus was created.
func (c *Corpus) ID() uuid.UUID {
	return c.id
}

func (c *Corpus) Attributes() uint64 {
	return c.attributes
}

func (c *Corpus) Order() types.Order {
	return c.order
}

func (c *Corpus) Backend() Backend {
	return c.backend
}

func (c *Corpus) usable() error {
	if c.closed {
		return ErrClosed
	}
	return c.poisoned
}

// fail records err on the handle when it poisons it and logs it once.
func (c *Corpus) fail(op string, err error) error {
	if poisons(err) && c.poisoned == nil {
		c.poisoned = err
	}
	c.log.Error(op+" failed", "error", err)
	return err
}

// AddToCorpus inserts the windows of gram into the trie of every attribute in one write
// transaction. Each word must carry one feature per attribute.
func (c *Corpus) AddToCorpus(gram WeightedGram) error {
	if err := c.usable(); err != nil {
		return err
	}
	if len(gram) == 0 {
		return ErrEmptyGram
	}
	weights := make([]float64, len(gram))
	for i, w := range gram {
		if uint64(len(w.Features)) != c.attributes {
			return errs.Config("word %d has %d features, the corpus has %d attributes", i, len(w.Features), c.attributes)
		}
		weights[i] = w.Weight
	}

	tx, err := c.txns.BeginWrite()
	if err != nil {
		return c.fail("add to corpus", err)
	}
	defer tx.Abort()

	features := make([]string, len(gram))
	for a := uint64(0); a < c.attributes; a++ {
		attr := types.Attribute(a)
		for i, w := range gram {
			features[i] = w.Features[a]
		}
		ids, err := c.vocab.LookupOrCreateAll(tx, attr, features)
		if err != nil {
			return c.fail("add to corpus", err)
		}
		if err := c.builder.InsertFeatureString(tx, attr, ids, weights); err != nil {
			return c.fail("add to corpus", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return c.fail("add to corpus", err)
	}
	return nil
}

// Compact reclaims space in stores that support it.
func (c *Corpus) Compact() error {
	if err := c.usable(); err != nil {
		return err
	}
	if c.txns.Active() {
		return errs.Invariant("compact: a transaction is open")
	}
	cleaner, ok := c.store.(interface{ Clean() error })
	if !ok {
		return nil
	}
	if err := cleaner.Clean(); err != nil {
		return errs.Storage("compact", err)
	}
	return nil
}

// Close releases the store. It fails while a transaction is open.
func (c *Corpus) Close() error {
	if c.closed {
		return nil
	}
	if c.txns.Active() {
		return errs.Invariant("close: a transaction is still open")
	}
	err := c.shutdown()
	if err == nil {
		c.log.Info("corpus closed", "path", c.config.Paths[0])
	}
	return err
}

func (c *Corpus) shutdown() error {
	c.closed = true
	var closeErr error
	if err := c.txns.Close(); err != nil {
		closeErr = errors.Join(closeErr, err)
	}
	c.vocab.Close()
	if err := c.store.Close(); err != nil {
		closeErr = errors.Join(closeErr, fmt.Errorf("close store: %w", err))
	}
	return closeErr
}
