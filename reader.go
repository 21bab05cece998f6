package ngram

import (
	"github.com/google/uuid"

	"github.com/i5heu/ngram-corpus/internal/txn"
	"github.com/i5heu/ngram-corpus/internal/vector"
	"github.com/i5heu/ngram-corpus/pkg/errs"
	"github.com/i5heu/ngram-corpus/pkg/types"
)

// Element is one stored n-gram node.
type Element = vector.Element

// Reader reads a consistent snapshot of the corpus. It is only valid inside
// the View callback that received it.
type Reader struct {
	c  *Corpus
	tx *txn.Txn
}

// View runs fn in a read-only transaction.
func (c *Corpus) View(fn func(r *Reader) error) error {
	if err := c.usable(); err != nil {
		return err
	}
	tx, err := c.txns.BeginRead()
	if err != nil {
		return c.fail("view", err)
	}
	defer tx.Abort()

	err = fn(&Reader{c: c, tx: tx})
	if poisons(err) {
		return c.fail("view", err)
	}
	return err
}

func (r *Reader) checkAttr(attr types.Attribute) error {
	if uint64(attr) >= r.c.attributes {
		return errs.Config("attribute %d out of range, the corpus has %d", attr, r.c.attributes)
	}
	return nil
}

func (r *Reader) vector(attr types.Attribute, order types.Order) (vector.ID, error) {
	if err := r.checkAttr(attr); err != nil {
		return vector.ID{}, err
	}
	if order == 0 || order > r.c.order {
		return vector.ID{}, errs.Config("order %d out of range [1, %d]", order, r.c.order)
	}
	return vector.ID{Attr: attr, Order: order}, nil
}

// Vocab returns the ID of feature, or types.UnknownVocab.
func (r *Reader) Vocab(attr types.Attribute, feature string) (types.VocabID, error) {
	if err := r.checkAttr(attr); err != nil {
		return types.UnknownVocab, err
	}
	return r.c.vocab.Lookup(r.tx, attr, feature)
}

// Feature returns the feature string of id, or ErrNotFound.
func (r *Reader) Feature(attr types.Attribute, id types.VocabID) (string, error) {
	if err := r.checkAttr(attr); err != nil {
		return "", err
	}
	return r.c.vocab.Feature(r.tx, attr, id)
}

// VocabSize counts the features of attr, the unknown feature included.
func (r *Reader) VocabSize(attr types.Attribute) (uint64, error) {
	if err := r.checkAttr(attr); err != nil {
		return 0, err
	}
	return r.c.vocab.Size(r.tx, attr)
}

// Len returns the number of nodes of order for attr.
func (r *Reader) Len(attr types.Attribute, order types.Order) (uint64, error) {
	id, err := r.vector(attr, order)
	if err != nil {
		return 0, err
	}
	n, err := r.c.vectors.Len(r.tx, id)
	if err != nil {
		return 0, err
	}
	return n - uint64(types.FirstNode), nil
}

// LookupGram returns the node of order whose last word is vocab and whose
// history node is history, or types.UnknownNode.
func (r *Reader) LookupGram(attr types.Attribute, order types.Order, vocab types.VocabID, history types.NodeIndex) (types.NodeIndex, error) {
	id, err := r.vector(attr, order)
	if err != nil {
		return types.UnknownNode, err
	}
	return r.c.vectors.LookupGram(r.tx, id, vocab, history)
}

// Element returns the node at index, or ErrNotFound.
func (r *Reader) Element(attr types.Attribute, order types.Order, index types.NodeIndex) (Element, error) {
	id, err := r.vector(attr, order)
	if err != nil {
		return Element{}, err
	}
	return r.c.vectors.Get(r.tx, id, index)
}

// Resolve follows the history chain of features and returns the node of the
// whole n-gram. It returns types.UnknownNode when any part is missing.
func (r *Reader) Resolve(attr types.Attribute, features ...string) (types.NodeIndex, Element, error) {
	if len(features) == 0 {
		return types.UnknownNode, Element{}, ErrEmptyGram
	}
	index := types.UnknownNode
	var e Element
	for i, f := range features {
		order := types.Order(i + 1)
		id, err := r.vector(attr, order)
		if err != nil {
			return types.UnknownNode, Element{}, err
		}
		found, err := r.c.vocab.Lookup(r.tx, attr, f)
		if err != nil {
			return types.UnknownNode, Element{}, err
		}
		if found == types.UnknownVocab {
			return types.UnknownNode, Element{}, nil
		}
		next, err := r.c.vectors.LookupGram(r.tx, id, found, index)
		if err != nil {
			return types.UnknownNode, Element{}, err
		}
		if next.IsUnknown() {
			return types.UnknownNode, Element{}, nil
		}
		if e, err = r.c.vectors.Get(r.tx, id, next); err != nil {
			return types.UnknownNode, Element{}, err
		}
		index = next
	}
	return index, e, nil
}

// Stats summarises a corpus.
type Stats struct {
	ID         uuid.UUID
	Backend    Backend
	Attributes uint64
	Order      types.Order
	// VocabSize is indexed by attribute.
	VocabSize []uint64
	// Nodes is indexed by attribute, then order-1.
	Nodes [][]uint64
	// GramFilterKeys is 0 when the filter is disabled.
	GramFilterKeys uint64
	// Reads and Writes count store operations since the corpus was opened.
	Reads, Writes uint64
}

func (c *Corpus) Stats() (Stats, error) {
	s := Stats{
		ID:         c.id,
		Backend:    c.backend,
		Attributes: c.attributes,
		Order:      c.order,
	}
	if f := c.vectors.Filter(); f != nil {
		s.GramFilterKeys = f.Keys()
	}
	if counted, ok := c.store.(interface{ Counters() (uint64, uint64) }); ok {
		s.Reads, s.Writes = counted.Counters()
	}

	err := c.View(func(r *Reader) error {
		for a := uint64(0); a < c.attributes; a++ {
			attr := types.Attribute(a)
			n, err := r.VocabSize(attr)
			if err != nil {
				return err
			}
			s.VocabSize = append(s.VocabSize, n)

			nodes := make([]uint64, c.order)
			for o := types.Order(1); o <= c.order; o++ {
				if nodes[o-1], err = r.Len(attr, o); err != nil {
					return err
				}
			}
			s.Nodes = append(s.Nodes, nodes)
		}
		return nil
	})
	return s, err
}

// Prediction is one completion candidate.
type Prediction struct {
	Gram        WeightedGram
	Probability float64
}

// Predict will complete prefix with between minLen and maxLen words that fit
// before postfix. It is not implemented yet.
func (c *Corpus) Predict(prefix WeightedGram, minLen, maxLen int, postfix WeightedGram) ([]Prediction, error) {
	if err := c.usable(); err != nil {
		return nil, err
	}
	return nil, ErrNotImplemented
}

// CrossEntropy will score query against the model. It is not implemented
// yet.
func (c *Corpus) CrossEntropy(query WeightedGram) (float64, error) {
	if err := c.usable(); err != nil {
		return 0, err
	}
	return 0, ErrNotImplemented
}
