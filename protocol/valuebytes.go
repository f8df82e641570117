package protocol

import "fmt"

const (
	valueTagNull byte = iota
	valueTagMarshaled
	valueTagPlain
)

// ValueBytes is a cache value in wire form. Plain values are raw bytes the
// application stored as-is; the others were produced by a marshaller and
// must be unmarshaled on arrival.
type ValueBytes struct {
	Bytes []byte
	Plain bool
}

// Marshaled wraps bytes produced by a marshaller.
func Marshaled(b []byte) *ValueBytes {
	return &ValueBytes{Bytes: b}
}

// Plain wraps raw application bytes.
func Plain(b []byte) *ValueBytes {
	return &ValueBytes{Bytes: b, Plain: true}
}

func (v *ValueBytes) tag() byte {
	switch {
	case v == nil:
		return valueTagNull
	case v.Plain:
		return valueTagPlain
	default:
		return valueTagMarshaled
	}
}

// PutValueBytes writes a nullable value: a tag byte, then for non-nil values
// a length-prefixed byte array.
func PutValueBytes(w *Writer, v *ValueBytes) bool {
	if w.cur.sub == 0 {
		if !w.PutByte(v.tag()) {
			return false
		}

		if v == nil {
			return true
		}

		w.cur.sub = 1
	}

	if !w.PutByteArray(v.Bytes) {
		return false
	}

	w.cur.sub = 0
	return true
}

// GetValueBytes reads a value written by PutValueBytes. The tag is kept in
// the cursor's sub step while the byte array is in flight.
func GetValueBytes(r *Reader) (*ValueBytes, bool) {
	if r.cur.sub == 0 {
		tag, ok := r.GetByte()
		if !ok {
			return nil, false
		}

		switch tag {
		case valueTagNull:
			return nil, true
		case valueTagMarshaled, valueTagPlain:
			r.cur.sub = int(tag)
		default:
			r.fail(fmt.Errorf("%w: %d", ErrUnknownValueTag, tag))
			return nil, false
		}
	}

	b, ok := r.GetByteArray()
	if !ok {
		return nil, false
	}

	plain := r.cur.sub == int(valueTagPlain)
	r.cur.sub = 0
	return &ValueBytes{Bytes: b, Plain: plain}, true
}

func PutValueBytesSlice(w *Writer, s []*ValueBytes) bool {
	return PutSlice(w, s, PutValueBytes)
}

func GetValueBytesSlice(r *Reader, dst *[]*ValueBytes) bool {
	return GetSlice(r, dst, GetValueBytes)
}
