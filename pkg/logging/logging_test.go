package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCategories(t *testing.T) {
	c, err := ParseCategories("trie, vocab,,")
	require.NoError(t, err)
	assert.True(t, c.Enabled(CategoryTrie))
	assert.True(t, c.Enabled(CategoryVocab))
	assert.False(t, c.Enabled(CategoryTxn))
	assert.Equal(t, "trie,vocab", c.String())

	c, err = ParseCategories("all")
	require.NoError(t, err)
	assert.Len(t, c, len(known))

	_, err = ParseCategories("trie,bogus")
	assert.Error(t, err)
}

func TestCategoryLogger(t *testing.T) {
	var buf bytes.Buffer
	base := New(Options{Level: slog.LevelDebug, NoColor: true, Writer: &buf})

	c, err := ParseCategories("vector")
	require.NoError(t, err)

	c.Logger(base, CategoryTrie).Debug("hidden")
	assert.Empty(t, buf.String())

	c.Logger(base, CategoryTrie).Info("shown")
	assert.Contains(t, buf.String(), "shown")
	assert.Contains(t, buf.String(), "component=trie")

	buf.Reset()
	c.Logger(base, CategoryVector).With("k", 1).Debug("visible")
	assert.Contains(t, buf.String(), "visible")

	buf.Reset()
	c.Logger(base, CategoryTxn).With("k", 1).WithGroup("g").Debug("dropped")
	assert.Empty(t, buf.String())
}

func TestNewRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(Options{Level: slog.LevelWarn, NoColor: true, Writer: &buf})
	l.Info("quiet-info")
	l.Warn("yes")
	assert.NotContains(t, buf.String(), "quiet-info")
	assert.Contains(t, buf.String(), "yes")
}
