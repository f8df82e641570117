package transport

import (
	"errors"
	"fmt"
	"io"

	"github.com/luma/nearwire/internal/telemetry"
	"github.com/luma/nearwire/marshal"
	"github.com/luma/nearwire/protocol"
)

const DefaultBufferSize = 8192

var ErrEncoderClosed = errors.New("Encoder has been released")

// Codec bundles what both directions of a stream need: the message types a
// decoder can build, the marshaller used for the two-phase fields and the
// chunk size.
type Codec struct {
	Registry   *protocol.Registry
	Marshaller marshal.Marshaller
	Resolver   *marshal.Resolver

	// BufferSize is the capacity of the chunk buffer handed to the codec on
	// every pass. Defaults to DefaultBufferSize.
	BufferSize int

	// MaxArrayLen bounds decoded lengths, see protocol.WithMaxArrayLen.
	MaxArrayLen int
}

func (c *Codec) bufferSize() int {
	if c.BufferSize > 0 {
		return c.BufferSize
	}

	return DefaultBufferSize
}

// Encoder writes whole messages to w, one chunk buffer at a time.
type Encoder struct {
	codec *Codec
	w     io.Writer
	pw    *protocol.Writer
	chunk []byte
	buf   protocol.Buffer
}

func (c *Codec) NewEncoder(w io.Writer) *Encoder {
	return &Encoder{
		codec: c,
		w:     w,
		pw:    protocol.NewWriter(),
		chunk: chunkPool.get(c.bufferSize()),
	}
}

// Encode runs the marshal phase of msg, if it has one, then writes it in as
// many chunks as it needs.
func (e *Encoder) Encode(msg protocol.Message) error {
	if e.chunk == nil {
		return ErrEncoderClosed
	}

	if p, ok := msg.(marshal.Preparer); ok {
		if err := p.PrepareMarshal(e.codec.Marshaller, e.codec.Resolver); err != nil {
			return err
		}
	}

	e.pw.Reset()

	chunks, total := 0, 0
	for {
		e.buf.Reset(e.chunk)
		e.pw.SetBuffer(&e.buf)

		done := msg.Encode(e.pw)

		n, err := e.w.Write(e.buf.Bytes())
		total += n
		chunks++

		if err != nil {
			return fmt.Errorf("Failed to write message chunk: %w", err)
		}

		if done {
			telemetry.ObserveMessage(telemetry.DirectionEncode, msg.DirectType(), chunks, total)
			return nil
		}
	}
}

// Release returns the chunk buffer to the pool. The encoder cannot be used
// afterwards.
func (e *Encoder) Release() {
	if e.chunk != nil {
		chunkPool.put(e.chunk)
		e.chunk = nil
	}
}

// Decoder reads whole messages from r. Bytes read past the end of one message
// are kept for the next.
type Decoder struct {
	codec *Codec
	r     io.Reader
	pr    *protocol.Reader
	chunk []byte
	buf   protocol.Buffer

	// unread window of chunk
	start, end int

	err error
}

func (c *Codec) NewDecoder(r io.Reader) *Decoder {
	var opts []protocol.ReaderOption
	if c.MaxArrayLen != 0 {
		opts = append(opts, protocol.WithMaxArrayLen(c.MaxArrayLen))
	}

	return &Decoder{
		codec: c,
		r:     r,
		pr:    protocol.NewReader(opts...),
		chunk: chunkPool.get(c.bufferSize()),
	}
}

// Decode reads the next message and runs its unmarshal phase. It returns
// io.EOF when the stream ends between messages and io.ErrUnexpectedEOF when
// it ends inside one.
func (d *Decoder) Decode() (protocol.Message, error) {
	d.pr.Reset()

	var msg protocol.Message
	started := false
	chunks, total := 0, 0

	for {
		if d.start == d.end {
			if d.err != nil {
				return nil, d.readErr(started)
			}

			n, err := d.r.Read(d.chunk)
			d.start, d.end, d.err = 0, n, err
			continue
		}

		d.buf.Reset(d.chunk[d.start:d.end])
		d.pr.SetBuffer(&d.buf)
		started = true

		if msg == nil {
			t, ok := d.pr.GetByte()
			if ok {
				var err error
				if msg, err = d.codec.Registry.New(t); err != nil {
					telemetry.ObserveDecodeFailure(telemetry.ReasonUnknownType)
					return nil, err
				}
			}
		}

		done := msg != nil && msg.Decode(d.pr)

		d.start += d.buf.Len()
		total += d.buf.Len()
		chunks++

		if err := d.pr.Err(); err != nil {
			telemetry.ObserveDecodeFailure(telemetry.ReasonMalformed)
			return nil, err
		}

		if done {
			return d.finish(msg, chunks, total)
		}
	}
}

func (d *Decoder) finish(msg protocol.Message, chunks, total int) (protocol.Message, error) {
	if f, ok := msg.(marshal.Finisher); ok {
		if err := f.FinishUnmarshal(d.codec.Marshaller, d.codec.Resolver); err != nil {
			telemetry.ObserveDecodeFailure(telemetry.ReasonUnmarshal)
			return nil, err
		}
	}

	telemetry.ObserveMessage(telemetry.DirectionDecode, msg.DirectType(), chunks, total)
	return msg, nil
}

func (d *Decoder) readErr(started bool) error {
	if errors.Is(d.err, io.EOF) {
		if started {
			return io.ErrUnexpectedEOF
		}

		return io.EOF
	}

	telemetry.ObserveDecodeFailure(telemetry.ReasonIO)
	return fmt.Errorf("Failed to read message chunk: %w", d.err)
}

// Release returns the chunk buffer to the pool. The decoder cannot be used
// afterwards.
func (d *Decoder) Release() {
	if d.chunk != nil {
		chunkPool.put(d.chunk)
		d.chunk = nil
		d.start, d.end = 0, 0
		d.err = io.ErrClosedPipe
	}
}
