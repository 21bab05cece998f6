package vector

import (
	"github.com/bits-and-blooms/bloom/v3"

	"github.com/i5heu/ngram-corpus/internal/keys"
	"github.com/i5heu/ngram-corpus/internal/txn"
)

// GramFilter is a bloom filter over every GRAM_LOOKUP key. A negative Test is
// a definite miss; a positive one still goes to the store. Keys added by a
// transaction that later aborts only turn into false positives.
type GramFilter struct {
	filter *bloom.BloomFilter
	keys   uint64
}

const gramFilterFalsePositiveRate = 0.01

// NewGramFilter sizes the filter for capacity keys.
func NewGramFilter(capacity uint) *GramFilter {
	if capacity == 0 {
		capacity = 1 << 20
	}
	return &GramFilter{filter: bloom.NewWithEstimates(capacity, gramFilterFalsePositiveRate)}
}

// Load adds the committed GRAM_LOOKUP keys of vectors.
func (g *GramFilter) Load(tx *txn.Txn, vectors ...ID) error {
	for _, v := range vectors {
		err := tx.Scan(keys.GramLookupPrefix(v.Attr, v.Order), func(key, _ []byte) error {
			g.Add(key)
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (g *GramFilter) Add(key []byte) {
	g.filter.Add(key)
	g.keys++
}

func (g *GramFilter) Test(key []byte) bool {
	return g.filter.Test(key)
}

// Keys returns how many keys were added.
func (g *GramFilter) Keys() uint64 {
	return g.keys
}
