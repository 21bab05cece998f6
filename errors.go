package ngram

import (
	"errors"

	"github.com/i5heu/ngram-corpus/pkg/errs"
	"github.com/i5heu/ngram-corpus/pkg/kv"
)

var (
	ErrStorage    = errs.ErrStorage
	ErrCorruption = errs.ErrCorruption
	ErrConfig     = errs.ErrConfig
	ErrInvariant  = errs.ErrInvariant

	// ErrNotFound is returned by Reader lookups of missing elements and
	// features.
	ErrNotFound = kv.ErrNotFound

	ErrClosed         = errors.New("ngram: corpus closed")
	ErrEmptyGram      = errors.New("ngram: empty gram")
	ErrNotImplemented = errors.New("ngram: not implemented")
)

// poisons reports whether err leaves the corpus in a state it cannot be
// trusted in. Rejected input does not.
func poisons(err error) bool {
	return errors.Is(err, errs.ErrStorage) ||
		errors.Is(err, errs.ErrCorruption) ||
		errors.Is(err, errs.ErrInvariant)
}
