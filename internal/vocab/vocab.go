// Package vocab maps the feature strings of each attribute to dense vocabulary
// IDs. IDs are handed out in creation order starting at 0, which is always
// the "__UNKNOWN__" feature. The mapping is append-only.
package vocab

import (
	"errors"
	"log/slog"

	"github.com/dgraph-io/ristretto"

	"github.com/i5heu/ngram-corpus/internal/keys"
	"github.com/i5heu/ngram-corpus/internal/txn"
	"github.com/i5heu/ngram-corpus/pkg/errs"
	"github.com/i5heu/ngram-corpus/pkg/kv"
	"github.com/i5heu/ngram-corpus/pkg/types"
)

const (
	// UnknownFeature is registered as ID 0 of every attribute.
	UnknownFeature = "__UNKNOWN__"

	// MaxFeatureLength is the longest feature in bytes.
	MaxFeatureLength = 1024
)

type Index struct {
	log   *slog.Logger
	cache *ristretto.Cache
}

// New returns an Index whose read cache holds up to cacheSize entries. A
// cacheSize of 0 disables the cache.
func New(log *slog.Logger, cacheSize int64) (*Index, error) {
	ix := &Index{log: log}
	if cacheSize <= 0 {
		return ix, nil
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cacheSize * 10,
		MaxCost:     cacheSize,
		BufferItems: 64,
	})
	if err != nil {
		return nil, errs.Config("vocabulary cache: %v", err)
	}
	ix.cache = cache
	return ix, nil
}

func (ix *Index) Close() {
	if ix.cache != nil {
		ix.cache.Close()
	}
}

// Init starts the vocabulary of attr with only the unknown feature.
func (ix *Index) Init(tx *txn.Txn, attr types.Attribute) error {
	if err := tx.Put(keys.VocabCount(attr), types.Uint64Bytes(0)); err != nil {
		return err
	}
	id, err := ix.LookupOrCreate(tx, attr, UnknownFeature)
	if err != nil {
		return err
	}
	if id != types.UnknownVocab {
		return errs.Invariant("attribute %d: %s got ID %d", attr, UnknownFeature, id)
	}
	return nil
}

// Lookup returns the ID of feature, or UnknownVocab when it is not in the
// vocabulary.
func (ix *Index) Lookup(tx *txn.Txn, attr types.Attribute, feature string) (types.VocabID, error) {
	id, _, err := ix.lookup(tx, attr, feature)
	return id, err
}

// LookupOrCreate returns the ID of feature and adds it first when missing.
func (ix *Index) LookupOrCreate(tx *txn.Txn, attr types.Attribute, feature string) (types.VocabID, error) {
	if !tx.Writable() {
		return types.UnknownVocab, errs.Invariant("create feature: read-only transaction")
	}
	if len(feature) > MaxFeatureLength {
		return types.UnknownVocab, errs.Config("feature of %d bytes exceeds the maximum of %d", len(feature), MaxFeatureLength)
	}

	id, found, err := ix.lookup(tx, attr, feature)
	if err != nil || found {
		return id, err
	}

	count, err := ix.Size(tx, attr)
	if err != nil {
		return types.UnknownVocab, err
	}
	id = types.VocabID(count)

	if err := tx.Put(keys.VocabCount(attr), types.Uint64Bytes(count+1)); err != nil {
		return types.UnknownVocab, err
	}
	key := keys.Vocab(attr, []byte(feature))
	err = tx.PutIfAbsent(key, id.Bytes())
	if errors.Is(err, kv.ErrExists) {
		return types.UnknownVocab, errs.Invariant("attribute %d: feature %q indexed twice", attr, feature)
	}
	if err != nil {
		return types.UnknownVocab, err
	}
	if err := tx.Put(keys.Feature(attr, id), []byte(feature)); err != nil {
		return types.UnknownVocab, err
	}

	ix.remember(tx, key, id)
	ix.log.Debug("created feature", "attr", uint64(attr), "feature", feature, "id", uint64(id))
	return id, nil
}

func (ix *Index) LookupAll(tx *txn.Txn, attr types.Attribute, features []string) ([]types.VocabID, error) {
	ids := make([]types.VocabID, len(features))
	for i, f := range features {
		id, err := ix.Lookup(tx, attr, f)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}

func (ix *Index) LookupOrCreateAll(tx *txn.Txn, attr types.Attribute, features []string) ([]types.VocabID, error) {
	ids := make([]types.VocabID, len(features))
	for i, f := range features {
		id, err := ix.LookupOrCreate(tx, attr, f)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}

// Feature returns the feature string of id, or kv.ErrNotFound.
func (ix *Index) Feature(tx *txn.Txn, attr types.Attribute, id types.VocabID) (string, error) {
	v, err := tx.Get(keys.Feature(attr, id))
	if err != nil {
		return "", err
	}
	return string(v), nil
}

// Size returns the number of features of attr, the unknown feature included.
func (ix *Index) Size(tx *txn.Txn, attr types.Attribute) (uint64, error) {
	v, err := tx.Get(keys.VocabCount(attr))
	if errors.Is(err, kv.ErrNotFound) {
		return 0, errs.Corruption("attribute %d has no vocabulary counter", attr)
	}
	if err != nil {
		return 0, err
	}
	n, err := types.Uint64FromBytes(v)
	if err != nil {
		return 0, errs.Corruption("vocabulary counter of attribute %d: %v", attr, err)
	}
	return n, nil
}

func (ix *Index) lookup(tx *txn.Txn, attr types.Attribute, feature string) (types.VocabID, bool, error) {
	if len(feature) > MaxFeatureLength {
		return types.UnknownVocab, false, nil
	}
	key := keys.Vocab(attr, []byte(feature))

	if ix.cache != nil {
		if v, ok := ix.cache.Get(string(key)); ok {
			return v.(types.VocabID), true, nil
		}
	}

	v, err := tx.Get(key)
	if errors.Is(err, kv.ErrNotFound) {
		return types.UnknownVocab, false, nil
	}
	if err != nil {
		return types.UnknownVocab, false, err
	}

	var id types.VocabID
	if err := id.FromBytes(v); err != nil {
		return types.UnknownVocab, false, errs.Corruption("vocabulary entry %q of attribute %d: %v", feature, attr, err)
	}
	ix.remember(tx, key, id)
	return id, true, nil
}

// remember caches an entry once it is known to be committed. Reads in a
// write transaction may see its own uncommitted entries, so those wait for
// the commit.
func (ix *Index) remember(tx *txn.Txn, key []byte, id types.VocabID) {
	if ix.cache == nil {
		return
	}
	k := string(key)
	if !tx.Writable() {
		ix.cache.Set(k, id, 1)
		return
	}
	tx.OnCommit(func() {
		ix.cache.Set(k, id, 1)
	})
}
