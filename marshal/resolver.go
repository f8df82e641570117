package marshal

import (
	"errors"
	"fmt"
	"sync"
)

var ErrDuplicateKind = errors.New("Error kind is already registered")

// ErrorRecord is the wire form of an error tree.
type ErrorRecord struct {
	Kind    string        `cbor:"kind" msgpack:"kind"`
	Message string        `cbor:"msg" msgpack:"msg"`
	Causes  []ErrorRecord `cbor:"causes" msgpack:"causes"`
}

// Kinded errors name their own kind instead of being matched against the
// registered sentinels.
type Kinded interface {
	ErrorKind() string
}

// Factory rebuilds a concrete error of a registered kind.
type Factory func(msg string, causes []error) error

type kindEntry struct {
	kind     string
	sentinel error
}

// Resolver maps stable error kinds to the errors they stand for on this node.
// Both ends of a connection register the same kinds, so an error recorded on
// one node still matches errors.Is on the other.
type Resolver struct {
	mu        sync.RWMutex
	sentinels []kindEntry
	byKind    map[string]error
	factories map[string]Factory
}

func NewResolver() *Resolver {
	return &Resolver{
		byKind:    make(map[string]error),
		factories: make(map[string]Factory),
	}
}

// Register binds kind to a sentinel error. Sentinels are matched in
// registration order when recording.
func (r *Resolver) Register(kind string, sentinel error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byKind[kind]; ok {
		return fmt.Errorf("Failed to register %q: %w", kind, ErrDuplicateKind)
	}

	r.byKind[kind] = sentinel
	r.sentinels = append(r.sentinels, kindEntry{kind: kind, sentinel: sentinel})
	return nil
}

// RegisterFactory binds kind to a constructor for a concrete error type.
func (r *Resolver) RegisterFactory(kind string, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.factories[kind]; ok {
		return fmt.Errorf("Failed to register factory %q: %w", kind, ErrDuplicateKind)
	}

	r.factories[kind] = f
	return nil
}

// Record flattens err into an ErrorRecord. Errors joining several causes
// (Unwrap() []error) keep every cause as a child record.
func (r *Resolver) Record(err error) *ErrorRecord {
	if err == nil {
		return nil
	}

	rec := &ErrorRecord{
		Kind:    r.kindOf(err),
		Message: err.Error(),
	}

	if multi, ok := err.(interface{ Unwrap() []error }); ok {
		for _, cause := range multi.Unwrap() {
			if c := r.Record(cause); c != nil {
				rec.Causes = append(rec.Causes, *c)
			}
		}
	}

	return rec
}

// Error rebuilds the error described by rec.
func (r *Resolver) Error(rec *ErrorRecord) error {
	if rec == nil {
		return nil
	}

	var causes []error
	for i := range rec.Causes {
		causes = append(causes, r.Error(&rec.Causes[i]))
	}

	r.mu.RLock()
	factory := r.factories[rec.Kind]
	sentinel := r.byKind[rec.Kind]
	r.mu.RUnlock()

	if factory != nil {
		return factory(rec.Message, causes)
	}

	return &RemoteError{
		Kind:     rec.Kind,
		Message:  rec.Message,
		sentinel: sentinel,
		causes:   causes,
	}
}

func (r *Resolver) kindOf(err error) string {
	if k, ok := err.(Kinded); ok {
		return k.ErrorKind()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.sentinels {
		if errors.Is(err, e.sentinel) {
			return e.kind
		}
	}

	return ""
}

// RemoteError is an error received from another node.
type RemoteError struct {
	Kind    string
	Message string

	sentinel error
	causes   []error
}

func (e *RemoteError) Error() string {
	return e.Message
}

// ErrorKind keeps the kind when the error is forwarded to another node.
func (e *RemoteError) ErrorKind() string {
	return e.Kind
}

func (e *RemoteError) Unwrap() []error {
	if e.sentinel == nil {
		return e.causes
	}

	return append([]error{e.sentinel}, e.causes...)
}

// MarshalError records err with res and marshals the record. A nil error
// yields nil bytes.
func MarshalError(m Marshaller, res *Resolver, err error) ([]byte, error) {
	if err == nil {
		return nil, nil
	}

	return m.Marshal(res.Record(err))
}

// DecodeError reverses MarshalError.
func DecodeError(m Marshaller, res *Resolver, data []byte) (error, error) {
	if data == nil {
		return nil, nil
	}

	var rec ErrorRecord
	if err := m.Unmarshal(data, &rec); err != nil {
		return nil, err
	}

	return res.Error(&rec), nil
}
