package event

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"iter"
	"time"

	"github.com/c360/orchid/errors"
)

// Record layout constants.
const (
	HeaderSize = 24

	// MaxRecordSize bounds a single record, header included. It also sizes
	// the slack kept free in every output buffer.
	MaxRecordSize = 64 << 10
)

// BufferInfo is stamped by a digitizer reader on every buffer it publishes.
type BufferInfo struct {
	Board     int
	Length    int
	Sequence  uint64
	Timestamp time.Time
}

// Record is one event. Payload aliases the buffer it was decoded from.
type Record struct {
	Board     uint16
	Channel   uint16
	Sequence  uint64
	Timestamp uint64
	Payload   []byte
}

// Size returns the encoded size of r.
func (r Record) Size() int {
	return HeaderSize + len(r.Payload)
}

// Encode writes r at the start of dst and returns the bytes used.
func Encode(dst []byte, r Record) (int, error) {
	size := r.Size()
	if size > MaxRecordSize {
		return 0, errors.WrapInvalid(
			fmt.Errorf("%w: %d bytes", errors.ErrRecordTooBig, size),
			"event", "Encode", "encode record")
	}
	if size > len(dst) {
		return 0, errors.WrapInvalid(
			fmt.Errorf("%w: need %d bytes, have %d", errors.ErrRecordTooBig, size, len(dst)),
			"event", "Encode", "encode record")
	}
	binary.LittleEndian.PutUint32(dst[0:4], uint32(size))
	binary.LittleEndian.PutUint16(dst[4:6], r.Board)
	binary.LittleEndian.PutUint16(dst[6:8], r.Channel)
	binary.LittleEndian.PutUint64(dst[8:16], r.Sequence)
	binary.LittleEndian.PutUint64(dst[16:24], r.Timestamp)
	copy(dst[HeaderSize:size], r.Payload)
	return size, nil
}

// Append appends the encoding of r to dst.
func Append(dst []byte, r Record) ([]byte, error) {
	start := len(dst)
	dst = append(dst, make([]byte, r.Size())...)
	if _, err := Encode(dst[start:], r); err != nil {
		return dst[:start], err
	}
	return dst, nil
}

// Decode reads the record at the start of p and returns it with its size.
func Decode(p []byte) (Record, int, error) {
	if len(p) < HeaderSize {
		return Record{}, 0, errors.WrapInvalid(
			fmt.Errorf("%w: truncated header (%d bytes)", errors.ErrInvalidData, len(p)),
			"event", "Decode", "decode record")
	}
	size := int(binary.LittleEndian.Uint32(p[0:4]))
	if size < HeaderSize || size > MaxRecordSize {
		return Record{}, 0, errors.WrapInvalid(
			fmt.Errorf("%w: record length %d", errors.ErrInvalidData, size),
			"event", "Decode", "decode record")
	}
	if size > len(p) {
		return Record{}, 0, errors.WrapInvalid(
			fmt.Errorf("%w: record length %d exceeds %d remaining bytes", errors.ErrInvalidData, size, len(p)),
			"event", "Decode", "decode record")
	}
	return Record{
		Board:     binary.LittleEndian.Uint16(p[4:6]),
		Channel:   binary.LittleEndian.Uint16(p[6:8]),
		Sequence:  binary.LittleEndian.Uint64(p[8:16]),
		Timestamp: binary.LittleEndian.Uint64(p[16:24]),
		Payload:   p[HeaderSize:size],
	}, size, nil
}

// Records iterates the records packed in buf. Iteration stops after the
// first error, which is yielded with a zero Record.
func Records(buf []byte) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		for len(buf) > 0 {
			r, n, err := Decode(buf)
			if err != nil {
				yield(Record{}, err)
				return
			}
			if !yield(r, nil) {
				return
			}
			buf = buf[n:]
		}
	}
}

// Reader reads records back from a file or stream.
type Reader struct {
	r   *bufio.Reader
	buf []byte
}

// NewReader creates a Reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r), buf: make([]byte, MaxRecordSize)}
}

// Next returns the next record. The payload is valid until the following
// call. It returns io.EOF at a clean end of stream.
func (rd *Reader) Next() (Record, error) {
	if _, err := io.ReadFull(rd.r, rd.buf[:4]); err != nil {
		if err == io.EOF {
			return Record{}, io.EOF
		}
		return Record{}, errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrInvalidData, err), "Reader", "Next", "read record length")
	}
	size := int(binary.LittleEndian.Uint32(rd.buf[:4]))
	if size < HeaderSize || size > MaxRecordSize {
		return Record{}, errors.WrapInvalid(
			fmt.Errorf("%w: record length %d", errors.ErrInvalidData, size), "Reader", "Next", "read record")
	}
	if _, err := io.ReadFull(rd.r, rd.buf[4:size]); err != nil {
		return Record{}, errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrInvalidData, err), "Reader", "Next", "read record body")
	}
	r, _, err := Decode(rd.buf[:size])
	return r, err
}
