package testutil

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/i5heu/ngram-corpus/internal/boltStore"
	"github.com/i5heu/ngram-corpus/internal/keyValStore"
	"github.com/i5heu/ngram-corpus/pkg/kv"
)

var RunLong = flag.Bool("long", false, "run long/heavy tests")

func RequireLong(t *testing.T) {
	t.Helper()
	if !*RunLong {
		t.Skip("skipping long test (use -long to enable)")
	}
}

// Backends names every kv backend, for table driven tests.
var Backends = []string{"badger", "bolt"}

// DiscardLogger is a slog logger that writes nothing.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// DiscardLogrus is a logrus logger that writes nothing.
func DiscardLogrus() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// NewStore opens backend in dir. The caller closes it.
func NewStore(backend, dir string) (kv.Store, error) {
	switch backend {
	case "badger":
		return keyValStore.NewKeyValStore(keyValStore.StoreConfig{
			Paths:  []string{dir},
			Logger: DiscardLogrus(),
		})
	case "bolt":
		return boltStore.NewBoltStore(boltStore.StoreConfig{
			Paths:  []string{dir},
			Logger: DiscardLogrus(),
		})
	}
	return nil, fmt.Errorf("unknown backend %q", backend)
}

// OpenStore opens backend in dir. The store is closed when the test ends
// unless the test closed it already.
func OpenStore(t testing.TB, backend, dir string) kv.Store {
	t.Helper()

	s, err := NewStore(backend, dir)
	require.NoError(t, err)

	o := &closeOnce{Store: s}
	t.Cleanup(func() { _ = o.Close() })
	return o
}

type closeOnce struct {
	kv.Store
	once sync.Once
	err  error
}

func (c *closeOnce) Close() error {
	c.once.Do(func() { c.err = c.Store.Close() })
	return c.err
}

// TempStore opens backend in a fresh temporary directory.
func TempStore(t testing.TB, backend string) kv.Store {
	t.Helper()
	return OpenStore(t, backend, t.TempDir())
}
