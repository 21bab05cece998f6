// Package backup streams the key space of a corpus to a portable dump and
// back.
//
// A dump is the magic "NGDUMP01", one codec byte and the compressed body.
// The body holds a uvarint length prefixed CBOR Header followed by records of
// (uvarint key length, key, uvarint value length, value). A record with key
// length 0 ends the body.
package backup

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

const (
	Magic   = "NGDUMP01"
	Version = 1

	maxHeaderSize = 1 << 16
	maxRecordSize = 1 << 30
)

var (
	ErrBadMagic  = errors.New("backup: not a corpus dump")
	ErrBadCodec  = errors.New("backup: unknown codec")
	ErrTruncated = errors.New("backup: dump is truncated")
)

// Codec selects the compression of the dump body.
type Codec byte

const (
	CodecZstd Codec = 1
	CodecXZ   Codec = 2
)

func ParseCodec(s string) (Codec, error) {
	switch s {
	case "", "zstd":
		return CodecZstd, nil
	case "xz":
		return CodecXZ, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrBadCodec, s)
}

func (c Codec) String() string {
	switch c {
	case CodecZstd:
		return "zstd"
	case CodecXZ:
		return "xz"
	}
	return fmt.Sprintf("Codec(%d)", byte(c))
}

// Header describes the corpus a dump was taken from.
type Header struct {
	Version    uint64 `cbor:"version"`
	CorpusID   []byte `cbor:"corpusID"`
	Attributes uint64 `cbor:"attributes"`
	Order      uint64 `cbor:"order"`
	ChunkSize  uint64 `cbor:"chunkSize"`
	Entries    uint64 `cbor:"entries"`
}

// Source is a consistent view of the key space, usually one read
// transaction. Dump scans it twice.
type Source interface {
	Scan(prefix []byte, fn func(key, value []byte) error) error
}

// Sink receives restored records in dump order.
type Sink interface {
	Put(key, value []byte) error
}

// Summary reports what a dump or restore moved.
type Summary struct {
	Entries uint64
	// Bytes is the size of keys and values before compression.
	Bytes uint64
}

// BackupData writes every key of src to w.
func BackupData(ctx context.Context, w io.Writer, codec Codec, h Header, src Source) (Summary, error) {
	var sum Summary
	err := src.Scan(nil, func(_, _ []byte) error {
		h.Entries++
		return nil
	})
	if err != nil {
		return sum, fmt.Errorf("count entries: %w", err)
	}
	h.Version = Version

	if _, err := io.WriteString(w, Magic); err != nil {
		return sum, err
	}
	if _, err := w.Write([]byte{byte(codec)}); err != nil {
		return sum, err
	}

	body, err := compressor(w, codec)
	if err != nil {
		return sum, err
	}
	closed := false
	defer func() {
		if !closed {
			body.Close()
		}
	}()
	bw := bufio.NewWriter(body)

	hdr, err := cbor.Marshal(h)
	if err != nil {
		return sum, fmt.Errorf("encode header: %w", err)
	}
	if err := writeField(bw, hdr); err != nil {
		return sum, err
	}

	err = src.Scan(nil, func(key, value []byte) error {
		if sum.Entries%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if err := writeField(bw, key); err != nil {
			return err
		}
		if err := writeField(bw, value); err != nil {
			return err
		}
		sum.Entries++
		sum.Bytes += uint64(len(key) + len(value))
		return nil
	})
	if err != nil {
		return sum, err
	}
	if sum.Entries != h.Entries {
		return sum, fmt.Errorf("backup: source changed during dump: counted %d entries, wrote %d", h.Entries, sum.Entries)
	}

	// end marker
	if err := writeField(bw, nil); err != nil {
		return sum, err
	}
	if err := bw.Flush(); err != nil {
		return sum, err
	}
	closed = true
	return sum, body.Close()
}

// ReadHeader reads the magic, codec and header of a dump and returns a
// reader positioned at the first record.
func ReadHeader(r io.Reader) (Header, *Reader, error) {
	var h Header

	prefix := make([]byte, len(Magic)+1)
	if _, err := io.ReadFull(r, prefix); err != nil {
		return h, nil, fmt.Errorf("%w: %v", ErrBadMagic, err)
	}
	if string(prefix[:len(Magic)]) != Magic {
		return h, nil, ErrBadMagic
	}

	body, err := decompressor(r, Codec(prefix[len(Magic)]))
	if err != nil {
		return h, nil, err
	}
	br := bufio.NewReader(body)

	hdr, err := readField(br, maxHeaderSize)
	if err != nil {
		body.Close()
		return h, nil, err
	}
	if err := cbor.Unmarshal(hdr, &h); err != nil {
		body.Close()
		return h, nil, fmt.Errorf("decode header: %w", err)
	}
	if h.Version != Version {
		body.Close()
		return h, nil, fmt.Errorf("backup: unsupported dump version %d", h.Version)
	}
	return h, &Reader{body: body, r: br, want: h.Entries}, nil
}

// Reader yields the records of a dump.
type Reader struct {
	body io.Closer
	r    *bufio.Reader
	want uint64
	read uint64
	end  bool
}

// Next returns the next record. It returns io.EOF after the end marker, and
// ErrTruncated when the entry count of the header is not met.
func (d *Reader) Next() (key, value []byte, err error) {
	if d.end {
		return nil, nil, io.EOF
	}
	key, err = readField(d.r, maxRecordSize)
	if err != nil {
		return nil, nil, err
	}
	if len(key) == 0 {
		d.end = true
		if d.read != d.want {
			return nil, nil, fmt.Errorf("%w: header announces %d entries, found %d", ErrTruncated, d.want, d.read)
		}
		return nil, nil, io.EOF
	}
	value, err = readField(d.r, maxRecordSize)
	if err != nil {
		return nil, nil, err
	}
	d.read++
	return key, value, nil
}

func (d *Reader) Close() error {
	return d.body.Close()
}

// RestoreData copies every record of r into sink and checks the entry count.
func RestoreData(ctx context.Context, r io.Reader, sink Sink) (Header, Summary, error) {
	var sum Summary
	h, d, err := ReadHeader(r)
	if err != nil {
		return h, sum, err
	}
	defer d.Close()

	for {
		if sum.Entries%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return h, sum, err
			}
		}
		key, value, err := d.Next()
		if errors.Is(err, io.EOF) {
			return h, sum, nil
		}
		if err != nil {
			return h, sum, err
		}
		if err := sink.Put(key, value); err != nil {
			return h, sum, err
		}
		sum.Entries++
		sum.Bytes += uint64(len(key) + len(value))
	}
}

func writeField(w *bufio.Writer, b []byte) error {
	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(b)))
	if _, err := w.Write(lenBuf[:n]); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readField(r *bufio.Reader, limit uint64) ([]byte, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, truncated(err)
	}
	if n > limit {
		return nil, fmt.Errorf("backup: field of %d bytes exceeds %d", n, limit)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, truncated(err)
	}
	return b, nil
}

func truncated(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	return err
}

func compressor(w io.Writer, codec Codec) (io.WriteCloser, error) {
	switch codec {
	case CodecZstd:
		return zstd.NewWriter(w)
	case CodecXZ:
		return xz.NewWriter(w)
	}
	return nil, fmt.Errorf("%w: %d", ErrBadCodec, byte(codec))
}

func decompressor(r io.Reader, codec Codec) (io.ReadCloser, error) {
	switch codec {
	case CodecZstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return dec.IOReadCloser(), nil
	case CodecXZ:
		dec, err := xz.NewReader(r)
		if err != nil {
			return nil, err
		}
		return io.NopCloser(dec), nil
	}
	return nil, fmt.Errorf("%w: %d", ErrBadCodec, byte(codec))
}
