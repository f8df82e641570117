package transport_test

import (
	"bytes"
	"errors"
	"io"
	"net"
	"testing/iotest"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/nearwire/atomicupdate"
	"github.com/luma/nearwire/protocol"
	"github.com/luma/nearwire/transport"
)

var _ = Describe("transport / Codec", func() {
	It("streams several messages through tiny chunk buffers", func() {
		sent := []*atomicupdate.Response[string, string]{
			makeResponse(1, "a"),
			makeResponse(2, "b"),
			makeResponse(3, "c"),
		}

		for _, size := range []int{1, 2, 7, 64, 8192} {
			codec := makeCodec(size)

			var stream bytes.Buffer
			enc := codec.NewEncoder(&stream)
			for _, resp := range sent {
				Expect(enc.Encode(resp)).To(Succeed())
			}
			enc.Release()

			dec := codec.NewDecoder(iotest.HalfReader(&stream))
			for _, want := range sent {
				msg, err := dec.Decode()
				Expect(err).To(Succeed(), "chunk size %d", size)

				got := msg.(*atomicupdate.Response[string, string])
				Expect(got.MessageID).To(Equal(want.MessageID))
				Expect(got.FailedKeys()).To(Equal(want.FailedKeys()))
				Expect(*got.NearValue(0)).To(Equal(*want.NearValue(0)))
				Expect(got.Error()).To(MatchError(errRejected))
			}

			_, err := dec.Decode()
			Expect(err).To(MatchError(io.EOF))
			dec.Release()
		}
	})

	It("reads one byte at a time", func() {
		codec := makeCodec(16)

		var stream bytes.Buffer
		Expect(codec.NewEncoder(&stream).Encode(makeResponse(9, "z"))).To(Succeed())

		msg, err := codec.NewDecoder(iotest.OneByteReader(&stream)).Decode()
		Expect(err).To(Succeed())
		Expect(msg.(*atomicupdate.Response[string, string]).MessageID).To(Equal(int64(9)))
	})

	It("reports a stream cut inside a message", func() {
		codec := makeCodec(32)

		var stream bytes.Buffer
		Expect(codec.NewEncoder(&stream).Encode(makeResponse(1, "a"))).To(Succeed())

		cut := bytes.NewReader(stream.Bytes()[:stream.Len()-3])
		_, err := codec.NewDecoder(cut).Decode()
		Expect(err).To(MatchError(io.ErrUnexpectedEOF))
	})

	It("rejects unknown message types", func() {
		codec := makeCodec(32)

		_, err := codec.NewDecoder(bytes.NewReader([]byte{99, 0, 0})).Decode()
		Expect(err).To(MatchError(protocol.ErrUnknownType))
	})

	It("rejects malformed lengths", func() {
		codec := makeCodec(32)

		// type, header (4 + 8 + 8), then an error length of -5
		data := append([]byte{atomicupdate.DirectType}, make([]byte, 20)...)
		data = append(data, 0xff, 0xff, 0xff, 0xfb)

		_, err := codec.NewDecoder(bytes.NewReader(data)).Decode()
		Expect(err).To(MatchError(protocol.ErrMalformed))
	})

	It("surfaces read errors", func() {
		codec := makeCodec(32)
		boom := errors.New("boom")

		_, err := codec.NewDecoder(iotest.ErrReader(boom)).Decode()
		Expect(err).To(MatchError(boom))
	})

	It("works over a synchronous pipe", func() {
		codec := makeCodec(5)
		client, server := net.Pipe()
		defer client.Close()
		defer server.Close()

		errs := make(chan error, 1)
		go func() {
			defer GinkgoRecover()

			enc := codec.NewEncoder(client)
			defer enc.Release()
			errs <- enc.Encode(makeResponse(4, "p"))
		}()

		dec := codec.NewDecoder(server)
		defer dec.Release()

		msg, err := dec.Decode()
		Expect(err).To(Succeed())
		Expect(msg.(*atomicupdate.Response[string, string]).FailedKeys()).To(Equal([]string{"p"}))
		Eventually(errs).Should(Receive(BeNil()))
	})

	It("refuses to encode after release", func() {
		codec := makeCodec(32)
		enc := codec.NewEncoder(io.Discard)
		enc.Release()

		Expect(enc.Encode(makeResponse(1, "a"))).To(MatchError(transport.ErrEncoderClosed))
	})
})
