package marshal

import (
	"bytes"
	"errors"
	"fmt"

	cbor "github.com/fxamacker/cbor/v2"
	"github.com/vmihailenco/msgpack/v5"
)

var (
	ErrMarshal           = errors.New("Failed to marshal value")
	ErrUnmarshal         = errors.New("Failed to unmarshal value")
	ErrUnknownMarshaller = errors.New("Unknown marshaller")
)

// Marshaller turns objects into opaque bytes and back. Encodings must be
// deterministic so the same value yields the same bytes on every node.
type Marshaller interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// New returns the marshaller registered under name.
func New(name string) (Marshaller, error) {
	switch name {
	case "cbor", "":
		return NewCBOR()
	case "msgpack":
		return NewMsgPack(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMarshaller, name)
	}
}

// Encode is a typed shorthand for m.Marshal.
func Encode[T any](m Marshaller, v T) ([]byte, error) {
	return m.Marshal(v)
}

// Decode is a typed shorthand for m.Unmarshal.
func Decode[T any](m Marshaller, data []byte) (T, error) {
	var v T
	err := m.Unmarshal(data, &v)
	return v, err
}

// CBOR encodes with canonical CBOR (RFC 8949 core deterministic encoding).
type CBOR struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

func NewCBOR() (*CBOR, error) {
	enc, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("Failed to build cbor encoder: %w", err)
	}

	dec, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("Failed to build cbor decoder: %w", err)
	}

	return &CBOR{enc: enc, dec: dec}, nil
}

func (c *CBOR) Name() string {
	return "cbor"
}

func (c *CBOR) Marshal(v any) ([]byte, error) {
	b, err := c.enc.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMarshal, err)
	}

	return b, nil
}

func (c *CBOR) Unmarshal(data []byte, v any) error {
	if err := c.dec.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %w", ErrUnmarshal, err)
	}

	return nil
}

// MsgPack encodes with MessagePack. Map keys are sorted so the output stays
// deterministic.
type MsgPack struct{}

func NewMsgPack() *MsgPack {
	return &MsgPack{}
}

func (MsgPack) Name() string {
	return "msgpack"
}

func (MsgPack) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer

	enc := msgpack.GetEncoder()
	defer msgpack.PutEncoder(enc)

	enc.Reset(&buf)
	enc.SetSortMapKeys(true)

	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMarshal, err)
	}

	return buf.Bytes(), nil
}

func (MsgPack) Unmarshal(data []byte, v any) error {
	if err := msgpack.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %w", ErrUnmarshal, err)
	}

	return nil
}
