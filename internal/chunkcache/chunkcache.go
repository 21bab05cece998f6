// Package chunkcache holds the chunk buffers a write transaction has touched.
// A buffer is the reserved value of its chunk key, so writing into it is
// writing the chunk; the cache only makes sure every writer of one chunk
// shares the same buffer until the transaction ends.
package chunkcache

import "github.com/i5heu/ngram-corpus/pkg/types"

// Key identifies one chunk of one vector.
type Key struct {
	Attr  types.Attribute
	Order types.Order
	Chunk uint64
}

type Cache struct {
	chunks map[Key][]byte
}

func New() *Cache {
	return &Cache{chunks: make(map[Key][]byte)}
}

func (c *Cache) Get(k Key) ([]byte, bool) {
	buf, ok := c.chunks[k]
	return buf, ok
}

func (c *Cache) Put(k Key, buf []byte) {
	c.chunks[k] = buf
}

func (c *Cache) Len() int {
	return len(c.chunks)
}

// Reset drops every buffer. The buffers themselves stay owned by the
// transaction that reserved them.
func (c *Cache) Reset() {
	clear(c.chunks)
}
