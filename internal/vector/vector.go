// Package vector stores the Hsu-Glass vectors of a corpus: one append-only
// array of n-gram nodes per (attribute, order), kept in fixed size chunks,
// with a length counter and a GRAM_LOOKUP index from (vocab, history) to the
// node index.
package vector

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/i5heu/ngram-corpus/internal/chunkcache"
	"github.com/i5heu/ngram-corpus/internal/keys"
	"github.com/i5heu/ngram-corpus/internal/txn"
	"github.com/i5heu/ngram-corpus/pkg/errs"
	"github.com/i5heu/ngram-corpus/pkg/kv"
	"github.com/i5heu/ngram-corpus/pkg/types"
)

// ID names one vector.
type ID struct {
	Attr  types.Attribute
	Order types.Order
}

func (id ID) String() string {
	return fmt.Sprintf("%d/%d", id.Attr, id.Order)
}

type Store struct {
	log    *slog.Logger
	filter *GramFilter
}

// New returns a Store. filter may be nil.
func New(log *slog.Logger, filter *GramFilter) *Store {
	return &Store{log: log, filter: filter}
}

// Filter returns the gram filter, nil when disabled.
func (s *Store) Filter() *GramFilter {
	return s.filter
}

// Init writes the length counter of a new vector. Index 0 is reserved, so
// the counter starts at 1.
func (s *Store) Init(tx *txn.Txn, id ID) error {
	if !tx.Writable() {
		return errs.Invariant("init vector %s: read-only transaction", id)
	}
	return tx.Put(keys.VectorLength(id.Attr, id.Order), types.Uint64Bytes(uint64(types.FirstNode)))
}

// Len returns the length counter, which includes the reserved index 0.
func (s *Store) Len(tx *txn.Txn, id ID) (uint64, error) {
	v, err := tx.Get(keys.VectorLength(id.Attr, id.Order))
	if errors.Is(err, kv.ErrNotFound) {
		return 0, errs.Corruption("vector %s has no length counter", id)
	}
	if err != nil {
		return 0, err
	}
	n, err := types.Uint64FromBytes(v)
	if err != nil {
		return 0, errs.Corruption("length counter of vector %s: %v", id, err)
	}
	return n, nil
}

// LookupGram returns the node of (vocab, history) or UnknownNode.
func (s *Store) LookupGram(tx *txn.Txn, id ID, vocab types.VocabID, history types.NodeIndex) (types.NodeIndex, error) {
	key := keys.GramLookup(id.Attr, id.Order, vocab, history)
	if s.filter != nil && !s.filter.Test(key) {
		return types.UnknownNode, nil
	}

	v, err := tx.Get(key)
	if errors.Is(err, kv.ErrNotFound) {
		return types.UnknownNode, nil
	}
	if err != nil {
		return types.UnknownNode, err
	}

	var index types.NodeIndex
	if err := index.FromBytes(v); err != nil {
		return types.UnknownNode, errs.Corruption("gram lookup of vector %s: %v", id, err)
	}
	return index, nil
}

// Get returns the element at index, or kv.ErrNotFound when index is
// UnknownNode or past the end.
func (s *Store) Get(tx *txn.Txn, id ID, index types.NodeIndex) (Element, error) {
	if index.IsUnknown() {
		return Element{}, kv.ErrNotFound
	}
	n, err := s.Len(tx, id)
	if err != nil {
		return Element{}, err
	}
	if uint64(index) >= n {
		return Element{}, kv.ErrNotFound
	}

	chunk, slot := chunkOf(index)
	if cache := tx.Chunks(); cache != nil {
		if buf, ok := cache.Get(chunkcache.Key{Attr: id.Attr, Order: id.Order, Chunk: chunk}); ok {
			return ReadElement(buf[slot*ElementSize:]), nil
		}
	}

	buf, err := s.readChunk(tx, id, chunk)
	if err != nil {
		return Element{}, err
	}
	if buf == nil {
		return Element{}, errs.Corruption("vector %s: chunk %d missing below length %d", id, chunk, n)
	}
	return ReadElement(buf[slot*ElementSize:]), nil
}

// Add appends e and indexes it under (e.Vocab, e.History).
func (s *Store) Add(tx *txn.Txn, id ID, e Element) (types.NodeIndex, error) {
	if !tx.Writable() {
		return types.UnknownNode, errs.Invariant("add to vector %s: read-only transaction", id)
	}

	n, err := s.Len(tx, id)
	if err != nil {
		return types.UnknownNode, err
	}
	index := types.NodeIndex(n)

	if err := tx.Put(keys.VectorLength(id.Attr, id.Order), types.Uint64Bytes(n+1)); err != nil {
		return types.UnknownNode, err
	}

	lookup := keys.GramLookup(id.Attr, id.Order, e.Vocab, e.History)
	err = tx.PutIfAbsent(lookup, index.Bytes())
	if errors.Is(err, kv.ErrExists) {
		return types.UnknownNode, errs.Invariant("vector %s: gram (vocab %d, history %d) already indexed", id, e.Vocab, e.History)
	}
	if err != nil {
		return types.UnknownNode, err
	}

	if err := s.write(tx, id, index, e); err != nil {
		return types.UnknownNode, err
	}
	if s.filter != nil {
		s.filter.Add(lookup)
	}

	s.log.Debug("added node", "vector", id.String(), "index", uint64(index), "vocab", uint64(e.Vocab), "history", uint64(e.History), "backoff", uint64(e.Backoff))
	return index, nil
}

// Update overwrites the element at an existing index.
func (s *Store) Update(tx *txn.Txn, id ID, index types.NodeIndex, e Element) error {
	if !tx.Writable() {
		return errs.Invariant("update vector %s: read-only transaction", id)
	}
	n, err := s.Len(tx, id)
	if err != nil {
		return err
	}
	if index.IsUnknown() || uint64(index) >= n {
		return errs.Invariant("update vector %s: index %d out of range [1, %d)", id, index, n)
	}
	return s.write(tx, id, index, e)
}

func (s *Store) write(tx *txn.Txn, id ID, index types.NodeIndex, e Element) error {
	chunk, slot := chunkOf(index)
	buf, err := s.writableChunk(tx, id, chunk)
	if err != nil {
		return err
	}
	PutElement(buf[slot*ElementSize:], e)
	return nil
}

// writableChunk returns the buffer that becomes the chunk's value at commit.
// The first call per chunk and transaction reserves it and copies the
// persisted content in.
func (s *Store) writableChunk(tx *txn.Txn, id ID, chunk uint64) ([]byte, error) {
	cache := tx.Chunks()
	if cache == nil {
		return nil, errs.Invariant("vector %s: no chunk cache outside a write transaction", id)
	}
	ck := chunkcache.Key{Attr: id.Attr, Order: id.Order, Chunk: chunk}
	if buf, ok := cache.Get(ck); ok {
		return buf, nil
	}

	persisted, err := s.readChunk(tx, id, chunk)
	if err != nil {
		return nil, err
	}

	buf, err := tx.Reserve(keys.Vector(id.Attr, id.Order, chunkStart(chunk)), ChunkBytes)
	if err != nil {
		return nil, err
	}
	if persisted != nil {
		copy(buf, persisted)
	} else {
		clear(buf)
	}
	cache.Put(ck, buf)
	return buf, nil
}

// readChunk returns the stored chunk, nil when it was never written.
func (s *Store) readChunk(tx *txn.Txn, id ID, chunk uint64) ([]byte, error) {
	v, err := tx.Get(keys.Vector(id.Attr, id.Order, chunkStart(chunk)))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(v) != ChunkBytes {
		return nil, errs.Corruption("vector %s: chunk %d has %d bytes, want %d", id, chunk, len(v), ChunkBytes)
	}
	return v, nil
}
