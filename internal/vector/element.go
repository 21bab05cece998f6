package vector

import (
	"encoding/binary"
	"math"

	"github.com/i5heu/ngram-corpus/pkg/types"
)

const (
	// ChunkSize is the number of elements stored under one chunk key. It is
	// persisted at corpus creation and must not change afterwards.
	ChunkSize = 256

	// ElementSize is the encoded size of one Element.
	ElementSize = 40

	// ChunkBytes is the value size of one chunk key.
	ChunkBytes = ChunkSize * ElementSize
)

// Element is one n-gram node.
//
// History points at the node of the (n-1)-gram prefix in the vector of the
// next lower order, Backoff at the node of the (n-1)-gram suffix. Both are
// UnknownNode for unigrams. BackoffWeight is reserved for smoothing and
// always 0.
type Element struct {
	History       types.NodeIndex
	Vocab         types.VocabID
	Weight        float64
	BackoffWeight float64
	Backoff       types.NodeIndex
}

// PutElement writes e into b[:ElementSize], little-endian without padding.
func PutElement(b []byte, e Element) {
	_ = b[ElementSize-1]
	binary.LittleEndian.PutUint64(b[0:], uint64(e.History))
	binary.LittleEndian.PutUint64(b[8:], uint64(e.Vocab))
	binary.LittleEndian.PutUint64(b[16:], math.Float64bits(e.Weight))
	binary.LittleEndian.PutUint64(b[24:], math.Float64bits(e.BackoffWeight))
	binary.LittleEndian.PutUint64(b[32:], uint64(e.Backoff))
}

// ReadElement decodes b[:ElementSize].
func ReadElement(b []byte) Element {
	_ = b[ElementSize-1]
	return Element{
		History:       types.NodeIndex(binary.LittleEndian.Uint64(b[0:])),
		Vocab:         types.VocabID(binary.LittleEndian.Uint64(b[8:])),
		Weight:        math.Float64frombits(binary.LittleEndian.Uint64(b[16:])),
		BackoffWeight: math.Float64frombits(binary.LittleEndian.Uint64(b[24:])),
		Backoff:       types.NodeIndex(binary.LittleEndian.Uint64(b[32:])),
	}
}

// chunkOf splits a node index into its chunk number and slot.
func chunkOf(index types.NodeIndex) (chunk uint64, slot int) {
	return uint64(index) / ChunkSize, int(uint64(index) % ChunkSize)
}

func chunkStart(chunk uint64) types.NodeIndex {
	return types.NodeIndex(chunk * ChunkSize)
}
