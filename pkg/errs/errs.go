// Package errs defines the error kinds of the n-gram store. None of them is
// recoverable: a corpus handle that returned one of them should be closed.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrStorage marks an I/O or transaction failure of the key-value engine.
	ErrStorage = errors.New("ngram: storage failure")
	// ErrCorruption marks a persisted value whose size or layout does not
	// match the fixed on-disk format.
	ErrCorruption = errors.New("ngram: corrupt data")
	// ErrConfig marks persisted settings that disagree with the compiled
	// constants, or an argument that cannot be encoded.
	ErrConfig = errors.New("ngram: configuration error")
	// ErrInvariant marks a logic error: stored data disagrees with what the
	// trie builder recomputed, or a transaction was used out of order.
	ErrInvariant = errors.New("ngram: invariant violation")
)

// Storage wraps an engine error with the operation that failed.
func Storage(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

func Corruption(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorruption, fmt.Sprintf(format, args...))
}

func Config(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
}

func Invariant(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvariant, fmt.Sprintf(format, args...))
}

// IsFatal reports whether err is one of the kinds above.
func IsFatal(err error) bool {
	return errors.Is(err, ErrStorage) ||
		errors.Is(err, ErrCorruption) ||
		errors.Is(err, ErrConfig) ||
		errors.Is(err, ErrInvariant)
}
