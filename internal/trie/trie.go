// Package trie inserts weighted word sequences into the vectors of a corpus
// as an interlinked prefix and backoff trie.
package trie

import (
	"log/slog"

	"github.com/i5heu/ngram-corpus/internal/txn"
	"github.com/i5heu/ngram-corpus/internal/vector"
	"github.com/i5heu/ngram-corpus/pkg/errs"
	"github.com/i5heu/ngram-corpus/pkg/types"
)

type Builder struct {
	log     *slog.Logger
	vectors *vector.Store
	order   types.Order
}

// NewBuilder returns a Builder for a model of the given order.
func NewBuilder(log *slog.Logger, vectors *vector.Store, order types.Order) *Builder {
	return &Builder{log: log, vectors: vectors, order: order}
}

// InsertNGram inserts words[:order] and returns the node of the full n-gram.
// The history node (words[:order-1]) and the backoff node (words[1:order])
// are inserted recursively in the states the state machine prescribes.
func (b *Builder) InsertNGram(tx *txn.Txn, attr types.Attribute, order types.Order, words []types.VocabID, weights []float64, state State) (types.NodeIndex, error) {
	if order == 0 || order > b.order {
		return types.UnknownNode, errs.Invariant("insert n-gram of order %d into a model of order %d", order, b.order)
	}
	if uint64(len(words)) < uint64(order) || uint64(len(weights)) < uint64(order) {
		return types.UnknownNode, errs.Invariant("insert n-gram of order %d from %d words and %d weights", order, len(words), len(weights))
	}
	words, weights = words[:order], weights[:order]
	last := order - 1

	history := types.UnknownNode
	if order > 1 {
		var err error
		history, err = b.InsertNGram(tx, attr, order-1, words[:last], weights[:last], state.Prefix())
		if err != nil {
			return types.UnknownNode, err
		}
	}

	id := vector.ID{Attr: attr, Order: order}
	index, err := b.vectors.LookupGram(tx, id, words[last], history)
	if err != nil {
		return types.UnknownNode, err
	}

	if index.IsUnknown() {
		if state == StateX {
			return types.UnknownNode, errs.Invariant("vector %s: n-gram %v missing although an earlier window inserted it", id, words)
		}
		backoff, err := b.backoff(tx, attr, order, words, weights, state)
		if err != nil {
			return types.UnknownNode, err
		}
		return b.vectors.Add(tx, id, vector.Element{
			History: history,
			Vocab:   words[last],
			Weight:  weights[last],
			Backoff: backoff,
		})
	}

	e, err := b.vectors.Get(tx, id, index)
	if err != nil {
		return types.UnknownNode, err
	}
	if e.History != history || e.Vocab != words[last] {
		return types.UnknownNode, errs.Invariant("vector %s: node %d holds (vocab %d, history %d), looked up as (vocab %d, history %d)",
			id, index, e.Vocab, e.History, words[last], history)
	}
	if state == StateL {
		backoff, err := b.backoff(tx, attr, order, words, weights, state)
		if err != nil {
			return types.UnknownNode, err
		}
		if backoff != e.Backoff {
			return types.UnknownNode, errs.Invariant("vector %s: node %d has backoff %d, recomputed %d", id, index, e.Backoff, backoff)
		}
	}
	if state == StateX {
		return index, nil
	}

	e.Weight += weights[last]
	if err := b.vectors.Update(tx, id, index, e); err != nil {
		return types.UnknownNode, err
	}
	return index, nil
}

func (b *Builder) backoff(tx *txn.Txn, attr types.Attribute, order types.Order, words []types.VocabID, weights []float64, state State) (types.NodeIndex, error) {
	if order == 1 {
		return types.UnknownNode, nil
	}
	return b.InsertNGram(tx, attr, order-1, words[1:order], weights[1:order], state.Suffix())
}

// InsertFeatureString inserts the leading window of words in state L, then
// the full windows starting at 1 through len(words)-order-1 in state LR.
func (b *Builder) InsertFeatureString(tx *txn.Txn, attr types.Attribute, words []types.VocabID, weights []float64) error {
	if len(words) != len(weights) {
		return errs.Invariant("%d words but %d weights", len(words), len(weights))
	}
	if len(words) == 0 {
		return nil
	}

	total := uint64(len(words))
	n := uint64(b.order)
	first := min(total, n)

	if _, err := b.InsertNGram(tx, attr, types.Order(first), words[:first], weights[:first], StateL); err != nil {
		return err
	}
	windows := 1
	for p := uint64(1); p+n < total; p++ {
		if _, err := b.InsertNGram(tx, attr, b.order, words[p:p+n], weights[p:p+n], StateLR); err != nil {
			return err
		}
		windows++
	}

	b.log.Debug("inserted sequence", "attr", uint64(attr), "words", len(words), "windows", windows)
	return nil
}
