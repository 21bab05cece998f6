package chunkcache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCache(t *testing.T) {
	c := New()
	k := Key{Attr: 1, Order: 2, Chunk: 3}

	_, ok := c.Get(k)
	assert.False(t, ok)

	buf := make([]byte, 4)
	c.Put(k, buf)
	got, ok := c.Get(k)
	assert.True(t, ok)
	got[0] = 7
	assert.Equal(t, byte(7), buf[0], "cache must hand out the same buffer")

	_, ok = c.Get(Key{Attr: 1, Order: 2, Chunk: 4})
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len())

	c.Reset()
	assert.Equal(t, 0, c.Len())
	_, ok = c.Get(k)
	assert.False(t, ok)
}
