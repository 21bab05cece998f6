package types

import (
	"encoding/binary"
	"fmt"
	"strconv"
)

// Attribute selects one independently indexed feature dimension of a word.
type Attribute uint64

func (a Attribute) String() string {
	return strconv.FormatUint(uint64(a), 10)
}

// Order is the length of an n-gram. The model order is the largest Order a
// corpus tracks.
type Order uint64

func (o Order) String() string {
	return strconv.FormatUint(uint64(o), 10)
}

// VocabID is the dense per-attribute identifier of a feature string.
type VocabID uint64

// UnknownVocab is the ID of the reserved "__UNKNOWN__" feature and the result
// of a vocabulary miss.
const UnknownVocab VocabID = 0

func (v VocabID) Bytes() []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(v))
	return b
}

func (v *VocabID) FromBytes(b []byte) error {
	if len(b) != 8 {
		return fmt.Errorf("invalid byte length for VocabID: %d", len(b))
	}
	*v = VocabID(binary.LittleEndian.Uint64(b))
	return nil
}

// NodeIndex addresses one element of an HG vector.
type NodeIndex uint64

// UnknownNode is never assigned to a real node: index 0 of every vector is
// reserved when the corpus is created.
const UnknownNode NodeIndex = 0

// FirstNode is the index the first real node of a vector receives.
const FirstNode NodeIndex = 1

func (n NodeIndex) Bytes() []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(n))
	return b
}

func (n *NodeIndex) FromBytes(b []byte) error {
	if len(b) != 8 {
		return fmt.Errorf("invalid byte length for NodeIndex: %d", len(b))
	}
	*n = NodeIndex(binary.LittleEndian.Uint64(b))
	return nil
}

func (n NodeIndex) IsUnknown() bool {
	return n == UnknownNode
}

// Uint64Bytes encodes a counter value the way every 8-byte value is stored.
func Uint64Bytes(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

// Uint64FromBytes is the inverse of Uint64Bytes.
func Uint64FromBytes(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("invalid byte length for uint64: %d", len(b))
	}
	return binary.LittleEndian.Uint64(b), nil
}
