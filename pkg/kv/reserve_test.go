package kv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReservations(t *testing.T) {
	var r Reservations

	a := r.Reserve([]byte("a"), 4)
	b := r.Reserve([]byte("b"), 2)
	assert.Equal(t, []byte{0, 0, 0, 0}, a)
	a[0] = 7
	b[1] = 9

	got, ok := r.Lookup([]byte("a"))
	require.True(t, ok)
	assert.Equal(t, byte(7), got[0])

	var keys []string
	require.NoError(t, r.Each(func(key, buf []byte) error {
		keys = append(keys, string(key))
		return nil
	}))
	assert.Equal(t, []string{"a", "b"}, keys)

	// Re-reserving keeps the original position but swaps the buffer.
	a2 := r.Reserve([]byte("a"), 4)
	assert.Equal(t, byte(0), a2[0])
	assert.Equal(t, 2, r.Len())

	r.Forget([]byte("a"))
	_, ok = r.Lookup([]byte("a"))
	assert.False(t, ok)
	assert.Equal(t, 1, r.Len())

	r.Reset()
	assert.Equal(t, 0, r.Len())
}
