package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/luma/nearwire/version"
)

// DefaultMaxArrayLen bounds the length prefix a Reader accepts for byte
// arrays, long lists and collections.
const DefaultMaxArrayLen = 64 << 20

type ReaderOption func(*Reader)

// WithMaxArrayLen overrides DefaultMaxArrayLen. Zero or less disables the
// check.
func WithMaxArrayLen(n int) ReaderOption {
	return func(r *Reader) {
		r.maxArrayLen = n
	}
}

// Reader decodes message fields from a Buffer. Every Get method reports
// whether the value is complete. When the buffer runs dry it keeps the bytes
// read so far and returns false; the next call with more data continues where
// it stopped.
//
// Malformed input is recorded in Err and every later Get returns false. A
// Reader carries the Cursor of one message pass and is not safe for
// concurrent use.
type Reader struct {
	buf *Buffer
	cur Cursor
	err error

	maxArrayLen int

	scratch    [scratchSize]byte
	scratchLen int

	// In-progress byte array or long list.
	arrActive bool
	arrLen    int
	arrOff    int
	arr       []byte
	longs     []int64
}

func NewReader(opts ...ReaderOption) *Reader {
	r := &Reader{
		cur:         newCursor(),
		maxArrayLen: DefaultMaxArrayLen,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// SetBuffer gives the reader the bytes to consume on the next calls.
func (r *Reader) SetBuffer(b *Buffer) {
	r.buf = b
}

// Reset prepares the reader for a brand new message.
func (r *Reader) Reset() {
	r.cur.reset()
	r.err = nil
	r.scratchLen = 0
	r.clearArray()
}

func (r *Reader) Cursor() *Cursor {
	return &r.cur
}

// Field is shorthand for Cursor().Field().
func (r *Reader) Field() int {
	return r.cur.Field()
}

// Advance is shorthand for Cursor().Advance(field).
func (r *Reader) Advance(field int) {
	r.cur.Advance(field)
}

// Err returns the decode error that ended the pass, if any.
func (r *Reader) Err() error {
	return r.err
}

func (r *Reader) fail(err error) {
	if r.err == nil {
		r.err = fmt.Errorf("%w: %w", ErrMalformed, err)
	}
}

// fill accumulates n bytes in scratch.
func (r *Reader) fill(n int) bool {
	if r.err != nil {
		return false
	}

	r.scratchLen += copy(r.scratch[r.scratchLen:n], r.buf.take(n-r.scratchLen))
	return r.scratchLen == n
}

func (r *Reader) GetByte() (byte, bool) {
	if !r.fill(1) {
		return 0, false
	}

	r.scratchLen = 0
	return r.scratch[0], true
}

func (r *Reader) GetBool() (bool, bool) {
	b, ok := r.GetByte()
	return b != 0, ok
}

func (r *Reader) GetInt() (int32, bool) {
	if !r.fill(4) {
		return 0, false
	}

	r.scratchLen = 0
	return int32(binary.BigEndian.Uint32(r.scratch[:4])), true
}

func (r *Reader) GetLong() (int64, bool) {
	if !r.fill(8) {
		return 0, false
	}

	r.scratchLen = 0
	return int64(binary.BigEndian.Uint64(r.scratch[:8])), true
}

// GetByteArray reads a length-prefixed byte array; length -1 yields nil.
func (r *Reader) GetByteArray() ([]byte, bool) {
	if !r.arrActive {
		n, ok := r.getLength()
		if !ok {
			return nil, false
		}

		if n == -1 {
			return nil, true
		}

		r.arrActive = true
		r.arrLen, r.arrOff = n, 0
		r.arr = make([]byte, 0, capHint(n))
	}

	if r.err != nil {
		return nil, false
	}

	// Grows with the bytes that actually arrive, not the declared length.
	r.arr = append(r.arr, r.buf.take(r.arrLen-r.arrOff)...)
	r.arrOff = len(r.arr)
	if r.arrOff < r.arrLen {
		return nil, false
	}

	out := r.arr
	r.clearArray()
	return out, true
}

// GetLongs reads a length-prefixed list of longs; length -1 yields nil.
func (r *Reader) GetLongs() ([]int64, bool) {
	if !r.arrActive {
		n, ok := r.getLength()
		if !ok {
			return nil, false
		}

		if n == -1 {
			return nil, true
		}

		r.arrActive = true
		r.arrLen, r.arrOff = n, 0
		r.longs = make([]int64, 0, capHint(n))
	}

	for r.arrOff < r.arrLen {
		v, ok := r.GetLong()
		if !ok {
			return nil, false
		}

		r.longs = append(r.longs, v)
		r.arrOff++
	}

	out := r.longs
	r.clearArray()
	return out, true
}

// GetVersion reads a nullable fixed-shape version record.
func (r *Reader) GetVersion() (*version.Version, bool) {
	if r.cur.sub == 0 {
		present, ok := r.GetBool()
		if !ok {
			return nil, false
		}

		if !present {
			return nil, true
		}

		r.cur.sub = 1
	}

	if !r.fill(versionSize) {
		return nil, false
	}

	v := decodeVersion(r.scratch[:versionSize])
	r.scratchLen = 0
	r.cur.sub = 0
	return &v, true
}

// getLength reads and validates a length prefix.
func (r *Reader) getLength() (int, bool) {
	n, ok := r.GetInt()
	if !ok {
		return 0, false
	}

	if n < -1 {
		r.fail(fmt.Errorf("%w: %d", ErrNegativeLength, n))
		return 0, false
	}

	if r.maxArrayLen > 0 && int(n) > r.maxArrayLen {
		r.fail(fmt.Errorf("%w: %d > %d", ErrArrayTooLarge, n, r.maxArrayLen))
		return 0, false
	}

	return int(n), true
}

func (r *Reader) clearArray() {
	r.arrActive = false
	r.arrLen, r.arrOff = 0, 0
	r.arr, r.longs = nil, nil
}

// capHint limits up-front allocation for a declared length so a bogus prefix
// cannot reserve memory before any element has arrived.
func capHint(n int) int {
	return min(n, 1024)
}
