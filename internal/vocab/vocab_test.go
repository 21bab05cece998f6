package vocab

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i5heu/ngram-corpus/internal/testutil"
	"github.com/i5heu/ngram-corpus/internal/txn"
	"github.com/i5heu/ngram-corpus/pkg/errs"
	"github.com/i5heu/ngram-corpus/pkg/kv"
	"github.com/i5heu/ngram-corpus/pkg/types"
)

type fixture struct {
	mgr *txn.Manager
	ix  *Index
}

func newFixture(t *testing.T, backend string, cacheSize int64) *fixture {
	t.Helper()
	ix, err := New(testutil.DiscardLogger(), cacheSize)
	require.NoError(t, err)
	t.Cleanup(ix.Close)

	f := &fixture{
		mgr: txn.NewManager(testutil.TempStore(t, backend), testutil.DiscardLogger()),
		ix:  ix,
	}
	f.write(t, func(tx *txn.Txn) {
		require.NoError(t, ix.Init(tx, 0))
		require.NoError(t, ix.Init(tx, 1))
	})
	return f
}

func (f *fixture) write(t *testing.T, fn func(tx *txn.Txn)) {
	t.Helper()
	tx, err := f.mgr.BeginWrite()
	require.NoError(t, err)
	fn(tx)
	require.NoError(t, tx.Commit())
}

func (f *fixture) read(t *testing.T, fn func(tx *txn.Txn)) {
	t.Helper()
	tx, err := f.mgr.BeginRead()
	require.NoError(t, err)
	defer tx.Abort()
	fn(tx)
}

func TestIndex(t *testing.T) {
	for _, backend := range testutil.Backends {
		for _, cacheSize := range []int64{0, 1000} {
			name := backend
			if cacheSize > 0 {
				name += "/cached"
			}
			t.Run(name, func(t *testing.T) {
				testIndex(t, backend, cacheSize)
			})
		}
	}
}

func testIndex(t *testing.T, backend string, cacheSize int64) {
	t.Run("UnknownIsZero", func(t *testing.T) {
		f := newFixture(t, backend, cacheSize)
		f.read(t, func(tx *txn.Txn) {
			id, err := f.ix.Lookup(tx, 0, UnknownFeature)
			require.NoError(t, err)
			assert.Equal(t, types.UnknownVocab, id)

			n, err := f.ix.Size(tx, 0)
			require.NoError(t, err)
			assert.Equal(t, uint64(1), n)

			feat, err := f.ix.Feature(tx, 0, types.UnknownVocab)
			require.NoError(t, err)
			assert.Equal(t, UnknownFeature, feat)
		})
	})

	t.Run("DenseDeterministicIDs", func(t *testing.T) {
		f := newFixture(t, backend, cacheSize)
		words := []string{"the", "cat", "the", "sat", "cat"}

		f.write(t, func(tx *txn.Txn) {
			ids, err := f.ix.LookupOrCreateAll(tx, 0, words)
			require.NoError(t, err)
			assert.Equal(t, []types.VocabID{1, 2, 1, 3, 2}, ids)

			// attributes are independent
			id, err := f.ix.LookupOrCreate(tx, 1, "sat")
			require.NoError(t, err)
			assert.Equal(t, types.VocabID(1), id)
		})

		f.write(t, func(tx *txn.Txn) {
			ids, err := f.ix.LookupOrCreateAll(tx, 0, []string{"sat", "mat"})
			require.NoError(t, err)
			assert.Equal(t, []types.VocabID{3, 4}, ids)
		})

		f.read(t, func(tx *txn.Txn) {
			ids, err := f.ix.LookupAll(tx, 0, []string{"the", "dog", "mat"})
			require.NoError(t, err)
			assert.Equal(t, []types.VocabID{1, types.UnknownVocab, 4}, ids)

			n, err := f.ix.Size(tx, 0)
			require.NoError(t, err)
			assert.Equal(t, uint64(5), n)

			for id, want := range []string{UnknownFeature, "the", "cat", "sat", "mat"} {
				got, err := f.ix.Feature(tx, 0, types.VocabID(id))
				require.NoError(t, err)
				assert.Equal(t, want, got)
			}
			_, err = f.ix.Feature(tx, 0, 5)
			assert.ErrorIs(t, err, kv.ErrNotFound)

			_, err = f.ix.LookupOrCreate(tx, 0, "x")
			assert.ErrorIs(t, err, errs.ErrInvariant)
		})
	})

	t.Run("AbortDoesNotLeakIDs", func(t *testing.T) {
		f := newFixture(t, backend, cacheSize)

		tx, err := f.mgr.BeginWrite()
		require.NoError(t, err)
		id, err := f.ix.LookupOrCreate(tx, 0, "ghost")
		require.NoError(t, err)
		assert.Equal(t, types.VocabID(1), id)
		// a second lookup in the same transaction sees the new entry
		id, err = f.ix.Lookup(tx, 0, "ghost")
		require.NoError(t, err)
		assert.Equal(t, types.VocabID(1), id)
		tx.Abort()
		if f.ix.cache != nil {
			f.ix.cache.Wait()
		}

		f.write(t, func(tx *txn.Txn) {
			id, err := f.ix.Lookup(tx, 0, "ghost")
			require.NoError(t, err)
			assert.Equal(t, types.UnknownVocab, id)

			id, err = f.ix.LookupOrCreate(tx, 0, "real")
			require.NoError(t, err)
			assert.Equal(t, types.VocabID(1), id)
		})
		if f.ix.cache != nil {
			f.ix.cache.Wait()
		}

		f.read(t, func(tx *txn.Txn) {
			id, err := f.ix.Lookup(tx, 0, "real")
			require.NoError(t, err)
			assert.Equal(t, types.VocabID(1), id)
			id, err = f.ix.Lookup(tx, 0, "ghost")
			require.NoError(t, err)
			assert.Equal(t, types.UnknownVocab, id)
		})
	})

	t.Run("FeatureLength", func(t *testing.T) {
		f := newFixture(t, backend, cacheSize)
		long := strings.Repeat("x", MaxFeatureLength+1)
		longest := strings.Repeat("y", MaxFeatureLength)

		f.write(t, func(tx *txn.Txn) {
			_, err := f.ix.LookupOrCreate(tx, 0, long)
			assert.ErrorIs(t, err, errs.ErrConfig)

			id, err := f.ix.LookupOrCreate(tx, 0, longest)
			require.NoError(t, err)
			assert.Equal(t, types.VocabID(1), id)

			id, err = f.ix.Lookup(tx, 0, long)
			require.NoError(t, err)
			assert.Equal(t, types.UnknownVocab, id)
		})
	})

	t.Run("MissingCounterIsCorruption", func(t *testing.T) {
		f := newFixture(t, backend, cacheSize)
		f.write(t, func(tx *txn.Txn) {
			_, err := f.ix.LookupOrCreate(tx, 7, "x")
			assert.ErrorIs(t, err, errs.ErrCorruption)
		})
	})
}
