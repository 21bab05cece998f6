package boltStore

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i5heu/ngram-corpus/pkg/kv"
	"github.com/i5heu/ngram-corpus/pkg/kv/kvtest"
)

func openTestStore(t *testing.T, dir string) *BoltStore {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	s, err := NewBoltStore(StoreConfig{Paths: []string{dir}, Logger: logger})
	require.NoError(t, err)
	return s
}

func TestBoltStoreContract(t *testing.T) {
	kvtest.Run(t, func(t *testing.T) (kvtest.Opener, func()) {
		dir := t.TempDir()
		return func(t *testing.T) kv.Store {
			return openTestStore(t, dir)
		}, func() {}
	})
}

func TestExists(t *testing.T) {
	dir := t.TempDir()
	assert.False(t, Exists(dir))

	s := openTestStore(t, dir)
	require.NoError(t, s.Close())
	assert.True(t, Exists(dir))
}

func TestNewBoltStore_NoPath(t *testing.T) {
	_, err := NewBoltStore(StoreConfig{})
	assert.Error(t, err)
}

func TestBoltStore_Counters(t *testing.T) {
	s := openTestStore(t, t.TempDir())
	defer s.Close()

	tx, err := s.Begin(true)
	require.NoError(t, err)
	require.NoError(t, tx.Put([]byte("a"), []byte("1")))
	require.NoError(t, tx.Commit())

	_, writes := s.Counters()
	assert.Equal(t, uint64(1), writes)
	assert.NoError(t, s.Clean())
}
