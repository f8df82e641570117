package protocol

import (
	"fmt"
	"sync"
)

// Message is a wire message with a fixed, hand-ordered field layout.
//
// Encode and Decode run the message's fields starting at the cursor's
// current field and return false as soon as one field cannot be completed.
// They are called again, with new buffers, until they return true.
type Message interface {
	DirectType() byte
	Encode(w *Writer) bool
	Decode(r *Reader) bool
}

// HeaderFields is the number of fields owned by CacheHeader. Message specific
// fields are numbered from here.
const HeaderFields = 3

// CacheHeader carries the fields common to every cache message.
type CacheHeader struct {
	CacheID         int32
	MessageID       int64
	TopologyVersion int64
}

func (h *CacheHeader) WriteHeader(w *Writer) bool {
	switch w.Field() {
	case 0:
		if !w.PutInt(h.CacheID) {
			return false
		}

		w.Advance(0)
		fallthrough

	case 1:
		if !w.PutLong(h.MessageID) {
			return false
		}

		w.Advance(1)
		fallthrough

	case 2:
		if !w.PutLong(h.TopologyVersion) {
			return false
		}

		w.Advance(2)
	}

	return true
}

func (h *CacheHeader) ReadHeader(r *Reader) bool {
	var ok bool

	switch r.Field() {
	case 0:
		if h.CacheID, ok = r.GetInt(); !ok {
			return false
		}

		r.Advance(0)
		fallthrough

	case 1:
		if h.MessageID, ok = r.GetLong(); !ok {
			return false
		}

		r.Advance(1)
		fallthrough

	case 2:
		if h.TopologyVersion, ok = r.GetLong(); !ok {
			return false
		}

		r.Advance(2)
	}

	return true
}

// Registry maps direct types to message constructors so a decoder can build
// the right message from the leading type byte.
type Registry struct {
	mu        sync.RWMutex
	factories map[byte]func() Message
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[byte]func() Message)}
}

func (reg *Registry) Register(t byte, factory func() Message) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if _, ok := reg.factories[t]; ok {
		return fmt.Errorf("Failed to register type %d: %w", t, ErrDuplicateType)
	}

	reg.factories[t] = factory
	return nil
}

// New builds an empty message for the direct type t.
func (reg *Registry) New(t byte) (Message, error) {
	reg.mu.RLock()
	factory, ok := reg.factories[t]
	reg.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("Failed to decode type %d: %w", t, ErrUnknownType)
	}

	return factory(), nil
}
