package ngram

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i5heu/ngram-corpus/internal/keys"
	"github.com/i5heu/ngram-corpus/internal/testutil"
	"github.com/i5heu/ngram-corpus/internal/vector"
	"github.com/i5heu/ngram-corpus/internal/vocab"
	"github.com/i5heu/ngram-corpus/pkg/backup"
	"github.com/i5heu/ngram-corpus/pkg/types"
)

func testConfig(t *testing.T, backend Backend) Config {
	t.Helper()
	return Config{
		Paths:       []string{t.TempDir()},
		Backend:     backend,
		Logger:      testutil.DiscardLogger(),
		StoreLogger: testutil.DiscardLogrus(),
	}
}

var backends = []Backend{BackendBadger, BackendBolt}

func forEachBackend(t *testing.T, fn func(t *testing.T, backend Backend)) {
	for _, b := range backends {
		t.Run(string(b), func(t *testing.T) {
			fn(t, b)
		})
	}
}

func create(t *testing.T, conf Config, attributes uint64, order types.Order) *Corpus {
	t.Helper()
	c, err := Create(conf, attributes, order)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// sentence builds a single attribute gram with weight 1 per word.
func sentence(words ...string) WeightedGram {
	g := make(WeightedGram, len(words))
	for i, w := range words {
		g[i] = Word{Features: []string{w}, Weight: 1}
	}
	return g
}

func TestSettingsRoundTrip(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend Backend) {
		conf := testConfig(t, backend)
		c, err := Create(conf, 2, 3)
		require.NoError(t, err)
		id := c.ID()
		require.NoError(t, c.Close())
		require.NoError(t, c.Close())

		conf.Backend = BackendAuto
		c, err = Open(conf)
		require.NoError(t, err)
		defer c.Close()

		assert.Equal(t, uint64(2), c.Attributes())
		assert.Equal(t, types.Order(3), c.Order())
		assert.Equal(t, id, c.ID())
		assert.Equal(t, backend, c.Backend())

		stats, err := c.Stats()
		require.NoError(t, err)
		assert.Equal(t, []uint64{1, 1}, stats.VocabSize)
		assert.Equal(t, [][]uint64{{0, 0, 0}, {0, 0, 0}}, stats.Nodes)
	})
}

func TestCreateRejects(t *testing.T) {
	conf := testConfig(t, BackendBolt)

	_, err := Create(conf, 0, 3)
	assert.ErrorIs(t, err, ErrConfig)
	_, err = Create(conf, 1, 0)
	assert.ErrorIs(t, err, ErrConfig)
	_, err = Create(Config{Logger: testutil.DiscardLogger()}, 1, 1)
	assert.ErrorIs(t, err, ErrConfig)

	bad := conf
	bad.Backend = "leveldb"
	_, err = Create(bad, 1, 1)
	assert.ErrorIs(t, err, ErrConfig)

	c := create(t, conf, 1, 2)
	require.NoError(t, c.Close())
	_, err = Create(conf, 1, 2)
	assert.ErrorIs(t, err, ErrConfig)
}

func TestOpenEmptyDirectory(t *testing.T) {
	_, err := Open(testConfig(t, BackendAuto))
	assert.ErrorIs(t, err, ErrConfig)

	// an explicit backend opens the engine but finds no settings
	_, err = Open(testConfig(t, BackendBolt))
	assert.ErrorIs(t, err, ErrConfig)
}

func TestChunkSizeMismatch(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend Backend) {
		conf := testConfig(t, backend)
		c := create(t, conf, 1, 2)

		tx, err := c.txns.BeginWrite()
		require.NoError(t, err)
		require.NoError(t, tx.Put(keys.Setting(keys.SettingChunkSize), types.Uint64Bytes(vector.ChunkSize/2)))
		require.NoError(t, tx.Commit())
		require.NoError(t, c.Close())

		_, err = Open(conf)
		assert.ErrorIs(t, err, ErrConfig)
	})
}

func TestEndToEnd(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend Backend) {
		c := create(t, testConfig(t, backend), 1, 10)

		words := strings.Split("abcdefghijklmnopqrst", "")
		require.Len(t, words, 20)
		require.NoError(t, c.AddToCorpus(sentence(words...)))

		stats, err := c.Stats()
		require.NoError(t, err)
		assert.Equal(t, []uint64{21}, stats.VocabSize)
		// ten windows: the leading one and p = 1..9; "t" is never inserted
		for o := 1; o <= 10; o++ {
			assert.Equal(t, uint64(20-o), stats.Nodes[0][o-1], "order %d", o)
		}

		err = c.View(func(r *Reader) error {
			id, err := r.Vocab(0, "a")
			require.NoError(t, err)
			assert.Equal(t, types.VocabID(1), id)

			idx, err := r.LookupGram(0, 1, id, types.UnknownNode)
			require.NoError(t, err)
			require.False(t, idx.IsUnknown())
			e, err := r.Element(0, 1, idx)
			require.NoError(t, err)
			assert.Equal(t, 1.0, e.Weight)

			idx, e, err = r.Resolve(0, words[:10]...)
			require.NoError(t, err)
			assert.False(t, idx.IsUnknown())
			assert.Equal(t, 1.0, e.Weight)

			hist, _, err := r.Resolve(0, words[:9]...)
			require.NoError(t, err)
			back, _, err := r.Resolve(0, words[1:10]...)
			require.NoError(t, err)
			assert.Equal(t, hist, e.History)
			assert.Equal(t, back, e.Backoff)

			idx, _, err = r.Resolve(0, words[:11]...)
			assert.ErrorIs(t, err, ErrConfig)
			assert.True(t, idx.IsUnknown())

			idx, _, err = r.Resolve(0, "a", "c")
			require.NoError(t, err)
			assert.True(t, idx.IsUnknown())

			f, err := r.Feature(0, 20)
			require.NoError(t, err)
			assert.Equal(t, "t", f)
			return nil
		})
		require.NoError(t, err)

		// a second occurrence of the first word
		require.NoError(t, c.AddToCorpus(sentence("a")))
		err = c.View(func(r *Reader) error {
			_, e, err := r.Resolve(0, "a")
			require.NoError(t, err)
			assert.Equal(t, 2.0, e.Weight)
			return nil
		})
		require.NoError(t, err)
	})
}

func TestVocabDeterminism(t *testing.T) {
	input := []WeightedGram{
		sentence("if", "x", "then", "y"),
		sentence("while", "x", "do", "if"),
	}
	ids := func(c *Corpus) []types.VocabID {
		var out []types.VocabID
		require.NoError(t, c.View(func(r *Reader) error {
			for _, w := range []string{"if", "x", "then", "y", "while", "do", "missing"} {
				id, err := r.Vocab(0, w)
				require.NoError(t, err)
				out = append(out, id)
			}
			return nil
		}))
		return out
	}

	a := create(t, testConfig(t, BackendBadger), 1, 3)
	b := create(t, testConfig(t, BackendBolt), 1, 3)
	for _, g := range input {
		require.NoError(t, a.AddToCorpus(g))
		require.NoError(t, b.AddToCorpus(g))
	}
	assert.Equal(t, []types.VocabID{1, 2, 3, 4, 5, 6, types.UnknownVocab}, ids(a))
	assert.Equal(t, ids(a), ids(b))
}

func TestMultipleAttributes(t *testing.T) {
	c := create(t, testConfig(t, BackendBolt), 2, 2)
	g := WeightedGram{
		{Features: []string{"foo", "IDENT"}, Weight: 1},
		{Features: []string{"(", "PUNCT"}, Weight: 0.5},
		{Features: []string{"bar", "IDENT"}, Weight: 1},
	}
	require.NoError(t, c.AddToCorpus(g))

	stats, err := c.Stats()
	require.NoError(t, err)
	assert.Equal(t, []uint64{4, 3}, stats.VocabSize)
	// only the leading window of each attribute is inserted
	assert.Equal(t, [][]uint64{{2, 1}, {2, 1}}, stats.Nodes)

	require.NoError(t, c.View(func(r *Reader) error {
		_, e, err := r.Resolve(1, "IDENT")
		require.NoError(t, err)
		assert.Equal(t, 1.0, e.Weight)
		_, e, err = r.Resolve(1, "IDENT", "PUNCT")
		require.NoError(t, err)
		assert.Equal(t, 0.5, e.Weight)
		idx, _, err := r.Resolve(1, "PUNCT", "IDENT")
		require.NoError(t, err)
		assert.True(t, idx.IsUnknown())

		_, err = r.Vocab(2, "foo")
		assert.ErrorIs(t, err, ErrConfig)
		_, err = r.Len(0, 3)
		assert.ErrorIs(t, err, ErrConfig)
		return nil
	}))
}

func TestAddToCorpusValidation(t *testing.T) {
	c := create(t, testConfig(t, BackendBolt), 1, 2)

	assert.ErrorIs(t, c.AddToCorpus(nil), ErrEmptyGram)
	assert.ErrorIs(t, c.AddToCorpus(WeightedGram{{Features: []string{"a", "b"}}}), ErrConfig)

	long := strings.Repeat("z", vocab.MaxFeatureLength+1)
	assert.ErrorIs(t, c.AddToCorpus(sentence("ok", long)), ErrConfig)

	// rejected input leaves nothing behind and the handle usable
	stats, err := c.Stats()
	require.NoError(t, err)
	assert.Equal(t, []uint64{1}, stats.VocabSize)
	assert.NoError(t, c.AddToCorpus(sentence("ok")))
}

func TestPoisonedAfterCorruption(t *testing.T) {
	c := create(t, testConfig(t, BackendBolt), 1, 2)
	require.NoError(t, c.AddToCorpus(sentence("a", "b")))

	tx, err := c.txns.BeginWrite()
	require.NoError(t, err)
	require.NoError(t, tx.Put(keys.Vector(0, 1, 0), []byte{1, 2, 3}))
	require.NoError(t, tx.Commit())

	err = c.AddToCorpus(sentence("a"))
	require.ErrorIs(t, err, ErrCorruption)

	assert.ErrorIs(t, c.AddToCorpus(sentence("c")), ErrCorruption)
	assert.ErrorIs(t, c.View(func(r *Reader) error { return nil }), ErrCorruption)
	assert.NoError(t, c.Close())
}

func TestCloseLifecycle(t *testing.T) {
	c := create(t, testConfig(t, BackendBadger), 1, 2)

	err := c.View(func(r *Reader) error {
		return c.Close()
	})
	assert.ErrorIs(t, err, ErrInvariant)

	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.AddToCorpus(sentence("a")), ErrClosed)
	assert.ErrorIs(t, c.View(func(r *Reader) error { return nil }), ErrClosed)
	_, err = c.Predict(nil, 1, 2, nil)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPredictionStubs(t *testing.T) {
	c := create(t, testConfig(t, BackendBolt), 1, 2)
	_, err := c.Predict(sentence("a"), 1, 3, nil)
	assert.ErrorIs(t, err, ErrNotImplemented)
	_, err = c.CrossEntropy(sentence("a", "b"))
	assert.ErrorIs(t, err, ErrNotImplemented)
}

func TestGramFilter(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend Backend) {
		conf := testConfig(t, backend)
		conf.GramFilter = true
		conf.GramFilterCapacity = 1000

		c, err := Create(conf, 1, 3)
		require.NoError(t, err)
		require.NoError(t, c.AddToCorpus(sentence("a", "b", "c", "a", "b")))
		require.NoError(t, c.Close())

		c, err = Open(conf)
		require.NoError(t, err)
		defer c.Close()

		stats, err := c.Stats()
		require.NoError(t, err)
		// a b c, ab bc ca, abc bca
		assert.Equal(t, uint64(8), stats.GramFilterKeys)

		require.NoError(t, c.View(func(r *Reader) error {
			_, e, err := r.Resolve(0, "a", "b")
			require.NoError(t, err)
			assert.Equal(t, 1.0, e.Weight)
			_, e, err = r.Resolve(0, "a")
			require.NoError(t, err)
			assert.Equal(t, 2.0, e.Weight)
			idx, _, err := r.Resolve(0, "b", "a")
			require.NoError(t, err)
			assert.True(t, idx.IsUnknown())
			return nil
		}))
	})
}

func TestDumpRestore(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend Backend) {
		for _, codec := range []backup.Codec{backup.CodecZstd, backup.CodecXZ} {
			t.Run(codec.String(), func(t *testing.T) {
				src := create(t, testConfig(t, backend), 1, 3)
				require.NoError(t, src.AddToCorpus(sentence("to", "be", "or", "not", "to", "be")))

				var buf bytes.Buffer
				sum, err := src.Dump(context.Background(), &buf, codec)
				require.NoError(t, err)
				assert.NotZero(t, sum.Entries)

				conf := testConfig(t, backend)
				dst, rsum, err := Restore(context.Background(), conf, bytes.NewReader(buf.Bytes()))
				require.NoError(t, err)
				t.Cleanup(func() { _ = dst.Close() })
				assert.Equal(t, sum.Entries, rsum.Entries)
				assert.Equal(t, src.ID(), dst.ID())

				want, err := src.Stats()
				require.NoError(t, err)
				got, err := dst.Stats()
				require.NoError(t, err)
				assert.Equal(t, want.VocabSize, got.VocabSize)
				assert.Equal(t, want.Nodes, got.Nodes)

				require.NoError(t, dst.View(func(r *Reader) error {
					_, e, err := r.Resolve(0, "to")
					require.NoError(t, err)
					assert.Equal(t, 2.0, e.Weight)
					return nil
				}))

				// the restored corpus dumps to the same bytes before compression
				var again bytes.Buffer
				sum2, err := dst.Dump(context.Background(), &again, codec)
				require.NoError(t, err)
				assert.Equal(t, sum, sum2)

				require.NoError(t, dst.AddToCorpus(sentence("to", "be")))

				// restoring over an existing corpus is refused
				_, _, err = Restore(context.Background(), conf, bytes.NewReader(buf.Bytes()))
				assert.ErrorIs(t, err, ErrConfig)
			})
		}
	})
}

func TestCompact(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend Backend) {
		c := create(t, testConfig(t, backend), 1, 2)
		require.NoError(t, c.AddToCorpus(sentence("a", "b", "c")))
		assert.NoError(t, c.Compact())
	})
}

func TestBackendMismatch(t *testing.T) {
	conf := testConfig(t, BackendBolt)
	c := create(t, conf, 1, 1)
	require.NoError(t, c.Close())

	conf.Backend = BackendBadger
	_, err := Open(conf)
	assert.ErrorIs(t, err, ErrConfig)
	_, err = Create(conf, 1, 1)
	assert.ErrorIs(t, err, ErrConfig)
}

type record struct{ key, value []byte }

// records is a backup.Source over a fixed list.
type records []record

func (rs records) Scan(_ []byte, fn func(key, value []byte) error) error {
	for _, r := range rs {
		if err := fn(r.key, r.value); err != nil {
			return err
		}
	}
	return nil
}

func readDump(t *testing.T, dump []byte) (backup.Header, records) {
	t.Helper()
	h, rd, err := backup.ReadHeader(bytes.NewReader(dump))
	require.NoError(t, err)
	defer rd.Close()
	var rs records
	for {
		k, v, err := rd.Next()
		if errors.Is(err, io.EOF) {
			return h, rs
		}
		require.NoError(t, err)
		rs = append(rs, record{bytes.Clone(k), bytes.Clone(v)})
	}
}

func writeDump(t *testing.T, h backup.Header, rs records) []byte {
	t.Helper()
	h.Entries = 0
	var buf bytes.Buffer
	_, err := backup.BackupData(context.Background(), &buf, backup.CodecZstd, h, rs)
	require.NoError(t, err)
	return buf.Bytes()
}

func TestFailedRestoreClearsTarget(t *testing.T) {
	saved := restoreBatch
	restoreBatch = 2
	t.Cleanup(func() { restoreBatch = saved })

	forEachBackend(t, func(t *testing.T, backend Backend) {
		src := create(t, testConfig(t, backend), 1, 3)
		require.NoError(t, src.AddToCorpus(sentence("a", "b", "c", "d", "e")))
		var good bytes.Buffer
		_, err := src.Dump(context.Background(), &good, backup.CodecZstd)
		require.NoError(t, err)
		h, rs := readDump(t, good.Bytes())
		require.Greater(t, len(rs), 2*restoreBatch)

		wrongShape := h
		wrongShape.Attributes++
		badKey := append(records{{[]byte("not a key"), []byte{1}}}, rs...)

		cases := map[string][]byte{
			"header":    writeDump(t, wrongShape, rs),
			"key":       writeDump(t, h, badKey),
			"truncated": good.Bytes()[:good.Len()/2],
		}
		for name, dump := range cases {
			t.Run(name, func(t *testing.T) {
				conf := testConfig(t, backend)
				_, _, err := Restore(context.Background(), conf, bytes.NewReader(dump))
				require.Error(t, err)
				if name != "truncated" {
					assert.ErrorIs(t, err, ErrCorruption)
				}

				entries, err := os.ReadDir(conf.Paths[0])
				require.NoError(t, err)
				assert.Empty(t, entries)

				c, _, err := Restore(context.Background(), conf, bytes.NewReader(good.Bytes()))
				require.NoError(t, err)
				assert.Equal(t, src.ID(), c.ID())
				require.NoError(t, c.Close())
			})
		}
	})
}

func TestStatsCountStoreOperations(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend Backend) {
		c := create(t, testConfig(t, backend), 1, 2)
		require.NoError(t, c.AddToCorpus(sentence("a", "b")))
		stats, err := c.Stats()
		require.NoError(t, err)
		assert.NotZero(t, stats.Reads)
		assert.NotZero(t, stats.Writes)
	})
}
