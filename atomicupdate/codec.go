package atomicupdate

import (
	"fmt"

	"github.com/luma/nearwire/marshal"
	"github.com/luma/nearwire/protocol"
)

func (r *Response[K, V]) Encode(w *protocol.Writer) bool {
	if !w.PutMessageType(DirectType) {
		return false
	}

	if !r.WriteHeader(w) {
		return false
	}

	switch w.Field() {
	case 3:
		if !w.PutByteArray(r.errBytes) {
			return false
		}

		w.Advance(3)
		fallthrough

	case 4:
		if !w.PutByteArray(r.failedKeysBytes) {
			return false
		}

		w.Advance(4)
		fallthrough

	case 5:
		if !w.PutVersion(r.futVer) {
			return false
		}

		w.Advance(5)
		fallthrough

	case 6:
		if !w.PutLongs(r.nearExpires) {
			return false
		}

		w.Advance(6)
		fallthrough

	case 7:
		if !w.PutLongs(r.nearTTLs) {
			return false
		}

		w.Advance(7)
		fallthrough

	case 8:
		if !w.PutByteArray(r.remapKeysBytes) {
			return false
		}

		w.Advance(8)
		fallthrough

	case 9:
		if !w.PutByteArray(r.retValBytes) {
			return false
		}

		w.Advance(9)
		fallthrough

	case 10:
		if !protocol.PutInts(w, r.nearSkipIdxs) {
			return false
		}

		w.Advance(10)
		fallthrough

	case 11:
		if !protocol.PutValueBytesSlice(w, r.nearValBytes) {
			return false
		}

		w.Advance(11)
		fallthrough

	case 12:
		if !protocol.PutInts(w, r.nearValIdxs) {
			return false
		}

		w.Advance(12)
		fallthrough

	case 13:
		if !w.PutVersion(r.nearVer) {
			return false
		}

		w.Advance(13)
	}

	return true
}

func (r *Response[K, V]) Decode(rd *protocol.Reader) bool {
	if !r.ReadHeader(rd) {
		return false
	}

	var ok bool

	switch rd.Field() {
	case 3:
		if r.errBytes, ok = rd.GetByteArray(); !ok {
			return false
		}

		rd.Advance(3)
		fallthrough

	case 4:
		if r.failedKeysBytes, ok = rd.GetByteArray(); !ok {
			return false
		}

		rd.Advance(4)
		fallthrough

	case 5:
		if r.futVer, ok = rd.GetVersion(); !ok {
			return false
		}

		rd.Advance(5)
		fallthrough

	case 6:
		var longs []int64
		if longs, ok = rd.GetLongs(); !ok {
			return false
		}

		r.nearExpires = longs
		rd.Advance(6)
		fallthrough

	case 7:
		var longs []int64
		if longs, ok = rd.GetLongs(); !ok {
			return false
		}

		r.nearTTLs = longs
		rd.Advance(7)
		fallthrough

	case 8:
		if r.remapKeysBytes, ok = rd.GetByteArray(); !ok {
			return false
		}

		rd.Advance(8)
		fallthrough

	case 9:
		if r.retValBytes, ok = rd.GetByteArray(); !ok {
			return false
		}

		rd.Advance(9)
		fallthrough

	case 10:
		if !protocol.GetInts(rd, &r.nearSkipIdxs) {
			return false
		}

		rd.Advance(10)
		fallthrough

	case 11:
		if !protocol.GetValueBytesSlice(rd, &r.nearValBytes) {
			return false
		}

		rd.Advance(11)
		fallthrough

	case 12:
		if !protocol.GetInts(rd, &r.nearValIdxs) {
			return false
		}

		rd.Advance(12)
		fallthrough

	case 13:
		if r.nearVer, ok = rd.GetVersion(); !ok {
			return false
		}

		rd.Advance(13)
	}

	return true
}

// PrepareMarshal turns the error, return value, key lists and near values
// into bytes for the wire.
func (r *Response[K, V]) PrepareMarshal(m marshal.Marshaller, res *marshal.Resolver) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var err error

	if r.err != nil {
		if r.errBytes, err = marshal.MarshalError(m, res, r.err); err != nil {
			return fmt.Errorf("Failed to marshal update error: %w", err)
		}
	}

	if r.retVal != nil {
		if r.retValBytes, err = m.Marshal(r.retVal); err != nil {
			return fmt.Errorf("Failed to marshal return value: %w", err)
		}
	}

	if r.failedKeys != nil {
		if r.failedKeysBytes, err = m.Marshal(r.failedKeys); err != nil {
			return fmt.Errorf("Failed to marshal failed keys: %w", err)
		}
	}

	if r.remapKeys != nil {
		if r.remapKeysBytes, err = m.Marshal(r.remapKeys); err != nil {
			return fmt.Errorf("Failed to marshal remap keys: %w", err)
		}
	}

	if r.nearValBytes, err = marshalValues(m, r.nearVals, r.nearValBytes); err != nil {
		return fmt.Errorf("Failed to marshal near values: %w", err)
	}

	return nil
}

// FinishUnmarshal rebuilds the objects PrepareMarshal turned into bytes. On
// error the response must be discarded.
func (r *Response[K, V]) FinishUnmarshal(m marshal.Marshaller, res *marshal.Resolver) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var err error

	if r.errBytes != nil {
		if r.err, err = marshal.DecodeError(m, res, r.errBytes); err != nil {
			return fmt.Errorf("Failed to unmarshal update error: %w", err)
		}
	}

	if r.retValBytes != nil {
		ret, err := marshal.Decode[Return[V]](m, r.retValBytes)
		if err != nil {
			return fmt.Errorf("Failed to unmarshal return value: %w", err)
		}

		r.retVal = &ret
	}

	if r.failedKeysBytes != nil {
		if r.failedKeys, err = marshal.Decode[[]K](m, r.failedKeysBytes); err != nil {
			return fmt.Errorf("Failed to unmarshal failed keys: %w", err)
		}
	}

	if r.remapKeysBytes != nil {
		if r.remapKeys, err = marshal.Decode[[]K](m, r.remapKeysBytes); err != nil {
			return fmt.Errorf("Failed to unmarshal remap keys: %w", err)
		}
	}

	if r.nearVals, err = unmarshalValues[V](m, r.nearValBytes); err != nil {
		return fmt.Errorf("Failed to unmarshal near values: %w", err)
	}

	return nil
}

// marshalValues produces the wire form of vals. Bytes supplied by the caller
// are kept, byte slice values are sent plain.
func marshalValues[V any](m marshal.Marshaller, vals []*V, supplied []*protocol.ValueBytes) ([]*protocol.ValueBytes, error) {
	if vals == nil {
		return supplied, nil
	}

	out := make([]*protocol.ValueBytes, len(vals))
	for i, v := range vals {
		if i < len(supplied) && supplied[i] != nil {
			out[i] = supplied[i]
			continue
		}

		if v == nil {
			continue
		}

		if b, ok := any(*v).([]byte); ok {
			out[i] = protocol.Plain(b)
			continue
		}

		b, err := m.Marshal(*v)
		if err != nil {
			return nil, err
		}

		out[i] = protocol.Marshaled(b)
	}

	return out, nil
}

func unmarshalValues[V any](m marshal.Marshaller, vbs []*protocol.ValueBytes) ([]*V, error) {
	if vbs == nil {
		return nil, nil
	}

	out := make([]*V, len(vbs))
	for i, vb := range vbs {
		if vb == nil {
			continue
		}

		var v V

		if vb.Plain {
			p, ok := any(&v).(*[]byte)
			if !ok {
				return nil, fmt.Errorf("%w: value %d", ErrPlainValue, i)
			}

			*p = vb.Bytes
			out[i] = &v
			continue
		}

		if err := m.Unmarshal(vb.Bytes, &v); err != nil {
			return nil, err
		}

		out[i] = &v
	}

	return out, nil
}
