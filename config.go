package ngram

import (
	"log/slog"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/i5heu/ngram-corpus/pkg/logging"
)

// Backend selects the key-value engine a corpus lives in.
type Backend string

const (
	// BackendAuto opens whatever engine the directory holds and creates
	// badger stores.
	BackendAuto   Backend = ""
	BackendBadger Backend = "badger"
	BackendBolt   Backend = "bolt"
)

const defaultVocabCacheSize = 1 << 16

// Config configures a corpus handle. Only Paths[0] is used.
type Config struct {
	// Paths contains data directories. Currently only Paths[0] is used.
	Paths   []string
	Backend Backend
	// MinimumFreeGB is a free-space threshold checked before opening.
	MinimumFreeGB uint
	// Logger is an optional structured logger. If nil, a stderr logger is used.
	Logger *slog.Logger
	// Debug enables debug output per component.
	Debug logging.Categories
	// VocabCacheSize is the number of vocabulary entries kept in memory.
	// 0 selects the default, a negative value disables the cache.
	VocabCacheSize int64
	// GramFilter keeps a bloom filter over the gram lookup index so that
	// lookups of unseen n-grams skip the store.
	GramFilter         bool
	GramFilterCapacity uint
	SyncWrites         bool
	// StoreLogger receives the storage engine's own log output. If nil,
	// warnings go to stderr.
	StoreLogger *logrus.Logger
}

func defaultLogger() *slog.Logger {
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	return slog.New(h)
}

func (c Config) vocabCacheSize() int64 {
	switch {
	case c.VocabCacheSize == 0:
		return defaultVocabCacheSize
	case c.VocabCacheSize < 0:
		return 0
	}
	return c.VocabCacheSize
}

func (c Config) storeLogger() *logrus.Logger {
	if c.StoreLogger != nil {
		return c.StoreLogger
	}
	l := logrus.New()
	l.SetLevel(logrus.WarnLevel)
	if c.Debug.Enabled(logging.CategoryStore) {
		l.SetLevel(logrus.DebugLevel)
	}
	return l
}
