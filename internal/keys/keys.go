// Package keys builds and parses the on-disk keys of a corpus.
//
// Every structured key starts with a 4-byte tag and the 8-byte attribute,
// followed by the fields of its type. Fields are big-endian so that keys of
// one vector or one attribute sort together and in numeric order.
package keys

import (
	"encoding/binary"
	"fmt"

	"github.com/i5heu/ngram-corpus/pkg/types"
)

type Tag uint32

const (
	TagVector       Tag = 1
	TagVectorLength Tag = 2
	TagVocab        Tag = 3
	TagVocabCount   Tag = 4
	TagFeature      Tag = 5
	TagGramLookup   Tag = 6
)

func (t Tag) String() string {
	switch t {
	case TagVector:
		return "VECTOR"
	case TagVectorLength:
		return "VECTOR_LENGTH"
	case TagVocab:
		return "VOCAB"
	case TagVocabCount:
		return "VOCAB_COUNT"
	case TagFeature:
		return "FEATURE"
	case TagGramLookup:
		return "GRAM_LOOKUP"
	default:
		return fmt.Sprintf("Tag(%d)", uint32(t))
	}
}

// Settings keys. They are plain strings and never collide with a tagged key
// because no tag value spells printable ASCII.
const (
	SettingAttributes = "nAttributes"
	SettingGramOrder  = "gramOrder"
	SettingChunkSize  = "chunkSize"
	SettingCorpusID   = "corpusID"
)

const (
	tagLen    = 4
	headerLen = tagLen + 8
)

func header(tag Tag, attr types.Attribute, extra int) []byte {
	b := make([]byte, headerLen, headerLen+extra)
	binary.BigEndian.PutUint32(b, uint32(tag))
	binary.BigEndian.PutUint64(b[tagLen:], uint64(attr))
	return b
}

func appendUint64(b []byte, v uint64) []byte {
	return binary.BigEndian.AppendUint64(b, v)
}

// Prefix returns the prefix shared by every key of tag.
func Prefix(tag Tag) []byte {
	b := make([]byte, tagLen)
	binary.BigEndian.PutUint32(b, uint32(tag))
	return b
}

// Vector addresses the chunk of (attr, order) whose first element is start.
func Vector(attr types.Attribute, order types.Order, start types.NodeIndex) []byte {
	b := header(TagVector, attr, 16)
	b = appendUint64(b, uint64(order))
	return appendUint64(b, uint64(start))
}

func VectorLength(attr types.Attribute, order types.Order) []byte {
	return appendUint64(header(TagVectorLength, attr, 8), uint64(order))
}

func Vocab(attr types.Attribute, feature []byte) []byte {
	return append(header(TagVocab, attr, len(feature)), feature...)
}

func VocabCount(attr types.Attribute) []byte {
	return header(TagVocabCount, attr, 0)
}

func Feature(attr types.Attribute, id types.VocabID) []byte {
	return appendUint64(header(TagFeature, attr, 8), uint64(id))
}

func GramLookup(attr types.Attribute, order types.Order, vocab types.VocabID, history types.NodeIndex) []byte {
	b := header(TagGramLookup, attr, 24)
	b = appendUint64(b, uint64(order))
	b = appendUint64(b, uint64(vocab))
	return appendUint64(b, uint64(history))
}

// GramLookupPrefix returns the prefix of every GRAM_LOOKUP key of one vector.
func GramLookupPrefix(attr types.Attribute, order types.Order) []byte {
	return appendUint64(header(TagGramLookup, attr, 8), uint64(order))
}

func Setting(name string) []byte {
	return []byte(name)
}

// Key is a parsed tagged key. Only the fields of its Tag are set.
type Key struct {
	Tag     Tag
	Attr    types.Attribute
	Order   types.Order
	Start   types.NodeIndex
	Vocab   types.VocabID
	History types.NodeIndex
	Feature []byte
}

// Encode rebuilds the key bytes.
func (k Key) Encode() ([]byte, error) {
	switch k.Tag {
	case TagVector:
		return Vector(k.Attr, k.Order, k.Start), nil
	case TagVectorLength:
		return VectorLength(k.Attr, k.Order), nil
	case TagVocab:
		return Vocab(k.Attr, k.Feature), nil
	case TagVocabCount:
		return VocabCount(k.Attr), nil
	case TagFeature:
		return Feature(k.Attr, k.Vocab), nil
	case TagGramLookup:
		return GramLookup(k.Attr, k.Order, k.Vocab, k.History), nil
	}
	return nil, fmt.Errorf("unknown key tag %d", uint32(k.Tag))
}

// IsSetting reports whether key is one of the settings keys.
func IsSetting(key []byte) bool {
	switch string(key) {
	case SettingAttributes, SettingGramOrder, SettingChunkSize, SettingCorpusID:
		return true
	}
	return false
}

// Parse decodes a tagged key.
func Parse(key []byte) (Key, error) {
	if len(key) < headerLen {
		return Key{}, fmt.Errorf("key too short: %d bytes", len(key))
	}
	k := Key{
		Tag:  Tag(binary.BigEndian.Uint32(key)),
		Attr: types.Attribute(binary.BigEndian.Uint64(key[tagLen:])),
	}
	rest := key[headerLen:]

	want := map[Tag]int{
		TagVector:       16,
		TagVectorLength: 8,
		TagVocabCount:   0,
		TagFeature:      8,
		TagGramLookup:   24,
	}
	if k.Tag == TagVocab {
		k.Feature = append([]byte{}, rest...)
		return k, nil
	}
	n, ok := want[k.Tag]
	if !ok {
		return Key{}, fmt.Errorf("unknown key tag %d", uint32(k.Tag))
	}
	if len(rest) != n {
		return Key{}, fmt.Errorf("%s key has %d field bytes, want %d", k.Tag, len(rest), n)
	}

	field := func(i int) uint64 {
		return binary.BigEndian.Uint64(rest[i*8:])
	}
	switch k.Tag {
	case TagVector:
		k.Order = types.Order(field(0))
		k.Start = types.NodeIndex(field(1))
	case TagVectorLength:
		k.Order = types.Order(field(0))
	case TagFeature:
		k.Vocab = types.VocabID(field(0))
	case TagGramLookup:
		k.Order = types.Order(field(0))
		k.Vocab = types.VocabID(field(1))
		k.History = types.NodeIndex(field(2))
	}
	return k, nil
}
