package protocol

import (
	"encoding/binary"

	"github.com/luma/nearwire/version"
)

// scratchSize fits the largest fixed-shape value, the version record body.
const scratchSize = versionSize

// Writer encodes message fields into a Buffer. Every Put method returns true
// once the value is fully committed. When the buffer fills up it returns
// false after writing whatever prefix fitted; calling it again with the same
// value and a fresh buffer continues from the unwritten remainder.
//
// A Writer carries the Cursor of one message pass and is not safe for
// concurrent use.
type Writer struct {
	buf *Buffer
	cur Cursor

	// Fixed-width values are staged here so they can be split across
	// buffers.
	scratch    [scratchSize]byte
	scratchLen int
	scratchOff int

	// In-progress byte array or long list.
	arrActive bool
	arrOff    int
}

func NewWriter() *Writer {
	return &Writer{cur: newCursor()}
}

// SetBuffer gives the writer the buffer to fill on the next calls.
func (w *Writer) SetBuffer(b *Buffer) {
	w.buf = b
}

// Reset prepares the writer for a brand new message.
func (w *Writer) Reset() {
	w.cur.reset()
	w.scratchLen, w.scratchOff = 0, 0
	w.arrActive, w.arrOff = false, 0
}

func (w *Writer) Cursor() *Cursor {
	return &w.cur
}

// Field is shorthand for Cursor().Field().
func (w *Writer) Field() int {
	return w.cur.Field()
}

// Advance is shorthand for Cursor().Advance(field).
func (w *Writer) Advance(field int) {
	w.cur.Advance(field)
}

// PutMessageType writes the message's direct type byte, once per pass.
func (w *Writer) PutMessageType(t byte) bool {
	if w.cur.typeDone {
		return true
	}

	if !w.PutByte(t) {
		return false
	}

	w.cur.typeDone = true
	return true
}

func (w *Writer) PutByte(v byte) bool {
	if w.scratchLen == 0 {
		w.scratch[0] = v
		w.scratchLen = 1
	}

	return w.flush()
}

func (w *Writer) PutBool(v bool) bool {
	var b byte
	if v {
		b = 1
	}

	return w.PutByte(b)
}

func (w *Writer) PutInt(v int32) bool {
	if w.scratchLen == 0 {
		binary.BigEndian.PutUint32(w.scratch[:4], uint32(v))
		w.scratchLen = 4
	}

	return w.flush()
}

func (w *Writer) PutLong(v int64) bool {
	if w.scratchLen == 0 {
		binary.BigEndian.PutUint64(w.scratch[:8], uint64(v))
		w.scratchLen = 8
	}

	return w.flush()
}

// PutByteArray writes a length-prefixed byte array; nil is written as length
// -1.
func (w *Writer) PutByteArray(b []byte) bool {
	if !w.arrActive {
		if b == nil {
			return w.PutInt(-1)
		}

		if !w.PutInt(int32(len(b))) {
			return false
		}

		w.arrActive, w.arrOff = true, 0
	}

	w.arrOff += w.buf.put(b[w.arrOff:])
	if w.arrOff < len(b) {
		return false
	}

	w.arrActive, w.arrOff = false, 0
	return true
}

// PutLongs writes a length-prefixed list of longs; nil is written as length
// -1.
func (w *Writer) PutLongs(v []int64) bool {
	if !w.arrActive {
		if v == nil {
			return w.PutInt(-1)
		}

		if !w.PutInt(int32(len(v))) {
			return false
		}

		w.arrActive, w.arrOff = true, 0
	}

	for w.arrOff < len(v) {
		if !w.PutLong(v[w.arrOff]) {
			return false
		}

		w.arrOff++
	}

	w.arrActive, w.arrOff = false, 0
	return true
}

// PutVersion writes a nullable fixed-shape version record.
func (w *Writer) PutVersion(v *version.Version) bool {
	if w.cur.sub == 0 {
		if !w.PutBool(v != nil) {
			return false
		}

		if v == nil {
			return true
		}

		w.cur.sub = 1
	}

	if w.scratchLen == 0 {
		encodeVersion(w.scratch[:versionSize], v)
		w.scratchLen = versionSize
	}

	if !w.flush() {
		return false
	}

	w.cur.sub = 0
	return true
}

// flush copies the staged value into the buffer.
func (w *Writer) flush() bool {
	w.scratchOff += w.buf.put(w.scratch[w.scratchOff:w.scratchLen])
	if w.scratchOff < w.scratchLen {
		return false
	}

	w.scratchLen, w.scratchOff = 0, 0
	return true
}
