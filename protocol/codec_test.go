package protocol_test

import (
	"errors"
	"runtime"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/nearwire/protocol"
	"github.com/luma/nearwire/version"
)

var _ = Describe("Codec", func() {
	Describe("primitives", func() {
		It("writes an int across 1 byte buffers without re-encoding", func() {
			w := protocol.NewWriter()

			var out []byte
			for i := 0; i < 3; i++ {
				buf := protocol.NewBuffer(make([]byte, 1))
				w.SetBuffer(buf)
				Expect(w.PutInt(0x01020304)).To(BeFalse())
				out = append(out, buf.Bytes()...)
			}

			buf := protocol.NewBuffer(make([]byte, 1))
			w.SetBuffer(buf)
			Expect(w.PutInt(0x01020304)).To(BeTrue())
			out = append(out, buf.Bytes()...)

			Expect(out).To(Equal([]byte{1, 2, 3, 4}))
		})

		It("reads a long fed one byte at a time", func() {
			data := []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xfe}
			r := protocol.NewReader()

			for i, b := range data {
				r.SetBuffer(protocol.NewBuffer([]byte{b}))
				v, ok := r.GetLong()

				if i < len(data)-1 {
					Expect(ok).To(BeFalse())
					continue
				}

				Expect(ok).To(BeTrue())
				Expect(v).To(Equal(int64(-2)))
			}
		})

		It("encodes a nil byte array as length -1 and an empty one as length 0", func() {
			w := protocol.NewWriter()

			buf := protocol.NewBuffer(make([]byte, 16))
			w.SetBuffer(buf)
			Expect(w.PutByteArray(nil)).To(BeTrue())
			Expect(w.PutByteArray([]byte{})).To(BeTrue())
			Expect(buf.Bytes()).To(Equal([]byte{0xff, 0xff, 0xff, 0xff, 0, 0, 0, 0}))

			r := protocol.NewReader()
			r.SetBuffer(protocol.NewBuffer(buf.Bytes()))

			null, ok := r.GetByteArray()
			Expect(ok).To(BeTrue())
			Expect(null).To(BeNil())

			empty, ok := r.GetByteArray()
			Expect(ok).To(BeTrue())
			Expect(empty).NotTo(BeNil())
			Expect(empty).To(BeEmpty())
		})

		It("continues a byte array from the unwritten remainder", func() {
			payload := []byte("0123456789")
			w := protocol.NewWriter()

			first := protocol.NewBuffer(make([]byte, 6))
			w.SetBuffer(first)
			Expect(w.PutByteArray(payload)).To(BeFalse())
			Expect(first.Bytes()).To(Equal([]byte{0, 0, 0, 10, '0', '1'}))

			second := protocol.NewBuffer(make([]byte, 32))
			w.SetBuffer(second)
			Expect(w.PutByteArray(payload)).To(BeTrue())
			Expect(second.Bytes()).To(Equal([]byte("23456789")))
		})

		It("round trips a version record split at every byte", func() {
			v := &version.Version{Topology: 1, NodeOrder: 2, GlobalTime: 3, Order: 4}

			w := protocol.NewWriter()
			var out []byte
			for {
				buf := protocol.NewBuffer(make([]byte, 1))
				w.SetBuffer(buf)
				done := w.PutVersion(v)
				out = append(out, buf.Bytes()...)
				if done {
					break
				}
			}
			Expect(out).To(HaveLen(25))

			r := protocol.NewReader()
			for i, b := range out {
				r.SetBuffer(protocol.NewBuffer([]byte{b}))
				got, ok := r.GetVersion()
				Expect(ok).To(Equal(i == len(out)-1))
				if ok {
					Expect(got).To(Equal(v))
				}
			}
		})

		It("encodes a nil version as a single byte", func() {
			w := protocol.NewWriter()
			buf := protocol.NewBuffer(make([]byte, 4))
			w.SetBuffer(buf)
			Expect(w.PutVersion(nil)).To(BeTrue())
			Expect(buf.Bytes()).To(Equal([]byte{0}))
		})
	})

	Describe("collections", func() {
		It("keeps the in-progress element pending when the buffer fills", func() {
			ints := []int32{10, 20, 30, 40}
			w := protocol.NewWriter()

			// length (4) + two elements (8) + half of the third (2)
			first := protocol.NewBuffer(make([]byte, 14))
			w.SetBuffer(first)
			Expect(protocol.PutInts(w, ints)).To(BeFalse())

			c := w.Cursor()
			Expect(c.Size()).To(Equal(4))
			Expect(c.Items()).To(Equal(2))
			Expect(c.Pending()).To(BeTrue())

			second := protocol.NewBuffer(make([]byte, 64))
			w.SetBuffer(second)
			Expect(protocol.PutInts(w, ints)).To(BeTrue())
			Expect(second.Len()).To(Equal(6))
			Expect(c.Size()).To(Equal(-1))
			Expect(c.Items()).To(BeZero())

			data := append(first.Bytes(), second.Bytes()...)
			r := protocol.NewReader()

			var got []int32
			r.SetBuffer(protocol.NewBuffer(data[:9]))
			Expect(protocol.GetInts(r, &got)).To(BeFalse())
			Expect(got).To(Equal([]int32{10}))
			Expect(r.Cursor().Items()).To(Equal(1))

			r.SetBuffer(protocol.NewBuffer(data[9:]))
			Expect(protocol.GetInts(r, &got)).To(BeTrue())
			Expect(got).To(Equal(ints))
		})

		It("distinguishes nil from empty collections", func() {
			null := &sample{}
			empty := &sample{
				Blob:   []byte{},
				Longs:  []int64{},
				Ints:   []int32{},
				Values: []*protocol.ValueBytes{},
			}

			for _, m := range []*sample{null, empty} {
				decoded := &sample{}
				decodeChunked(encodeChunked(m, 3), 2, decoded)
				Expect(decoded).To(Equal(m))
			}
		})

		It("resumes a value bytes element in the middle of its array", func() {
			values := []*protocol.ValueBytes{protocol.Plain([]byte("abcdef")), nil}
			w := protocol.NewWriter()

			// length (4) + tag (1) + array length (4) + 2 payload bytes
			first := protocol.NewBuffer(make([]byte, 11))
			w.SetBuffer(first)
			Expect(protocol.PutValueBytesSlice(w, values)).To(BeFalse())
			Expect(w.Cursor().Sub()).To(Equal(1))

			second := protocol.NewBuffer(make([]byte, 64))
			w.SetBuffer(second)
			Expect(protocol.PutValueBytesSlice(w, values)).To(BeTrue())

			data := append(first.Bytes(), second.Bytes()...)
			r := protocol.NewReader()

			var got []*protocol.ValueBytes
			for i := range data {
				r.SetBuffer(protocol.NewBuffer(data[i : i+1]))
				ok := protocol.GetValueBytesSlice(r, &got)
				Expect(ok).To(Equal(i == len(data)-1))
			}
			Expect(got).To(Equal(values))
		})
	})

	Describe("messages", func() {
		It("round trips through every buffer capacity", func() {
			m := fullSample()
			whole := encodeChunked(m, 4096)

			for capacity := 1; capacity <= len(whole)+1; capacity++ {
				encoded := encodeChunked(m, capacity)
				Expect(encoded).To(Equal(whole), "capacity %d", capacity)

				for readCap := 1; readCap <= len(whole); readCap += 7 {
					decoded := &sample{}
					decodeChunked(encoded, readCap, decoded)
					Expect(decoded).To(Equal(m), "write capacity %d, read capacity %d", capacity, readCap)
				}
			}
		})

		It("writes the type byte only once per pass", func() {
			m := fullSample()
			encoded := encodeChunked(m, 1)
			Expect(encoded[0]).To(Equal(sampleType))
			Expect(encoded[1:5]).To(Equal([]byte{0xff, 0xff, 0xff, 0xef}))
		})

		It("panics when a field is advanced out of order", func() {
			w := protocol.NewWriter()
			Expect(func() { w.Advance(2) }).To(Panic())
			Expect(func() { w.Advance(0) }).NotTo(Panic())
		})

		It("starts over after Reset", func() {
			m := fullSample()
			w := protocol.NewWriter()

			w.SetBuffer(protocol.NewBuffer(make([]byte, 20)))
			Expect(m.Encode(w)).To(BeFalse())
			Expect(w.Field()).To(BeNumerically(">", 0))

			w.Reset()
			Expect(w.Field()).To(BeZero())

			buf := protocol.NewBuffer(make([]byte, 4096))
			w.SetBuffer(buf)
			Expect(m.Encode(w)).To(BeTrue())
			Expect(buf.Bytes()).To(Equal(encodeChunked(m, 4096)))
		})
	})

	Describe("malformed input", func() {
		It("rejects negative lengths other than -1", func() {
			r := protocol.NewReader()
			r.SetBuffer(protocol.NewBuffer([]byte{0xff, 0xff, 0xff, 0xfe, 0, 0, 0, 0}))

			_, ok := r.GetByteArray()
			Expect(ok).To(BeFalse())
			Expect(errors.Is(r.Err(), protocol.ErrMalformed)).To(BeTrue())
			Expect(errors.Is(r.Err(), protocol.ErrNegativeLength)).To(BeTrue())

			_, ok = r.GetInt()
			Expect(ok).To(BeFalse())
		})

		It("rejects lengths above the configured maximum", func() {
			r := protocol.NewReader(protocol.WithMaxArrayLen(4))
			r.SetBuffer(protocol.NewBuffer([]byte{0, 0, 0, 5}))

			var ints []int32
			Expect(protocol.GetInts(r, &ints)).To(BeFalse())
			Expect(errors.Is(r.Err(), protocol.ErrArrayTooLarge)).To(BeTrue())
		})

		It("rejects unknown value tags", func() {
			r := protocol.NewReader()
			r.SetBuffer(protocol.NewBuffer([]byte{9}))

			_, ok := protocol.GetValueBytes(r)
			Expect(ok).To(BeFalse())
			Expect(errors.Is(r.Err(), protocol.ErrMalformed)).To(BeTrue())
			Expect(errors.Is(r.Err(), protocol.ErrUnknownValueTag)).To(BeTrue())
		})

		It("does not reserve a declared byte array length up front", func() {
			r := protocol.NewReader(protocol.WithMaxArrayLen(0))

			// 1 GiB declared, 3 bytes delivered.
			var before, after runtime.MemStats
			runtime.ReadMemStats(&before)

			r.SetBuffer(protocol.NewBuffer([]byte{0x40, 0, 0, 0, 1, 2, 3}))
			_, ok := r.GetByteArray()

			runtime.ReadMemStats(&after)

			Expect(ok).To(BeFalse())
			Expect(r.Err()).NotTo(HaveOccurred())
			Expect(after.TotalAlloc - before.TotalAlloc).To(BeNumerically("<", 1<<20))
		})

		It("reassembles byte arrays larger than the initial allocation", func() {
			payload := make([]byte, 5000)
			for i := range payload {
				payload[i] = byte(i)
			}

			w := protocol.NewWriter()
			out := protocol.NewBuffer(make([]byte, 5004))
			w.SetBuffer(out)
			Expect(w.PutByteArray(payload)).To(BeTrue())
			data := out.Bytes()

			r := protocol.NewReader()
			var got []byte
			done := false
			for off := 0; off < len(data) && !done; off += 7 {
				r.SetBuffer(protocol.NewBuffer(data[off:min(off+7, len(data))]))
				got, done = r.GetByteArray()
			}

			Expect(done).To(BeTrue())
			Expect(got).To(Equal(payload))
		})

		It("clears the error on Reset", func() {
			r := protocol.NewReader()
			r.SetBuffer(protocol.NewBuffer([]byte{0xff, 0xff, 0xff, 0x00}))
			_, ok := r.GetLongs()
			Expect(ok).To(BeFalse())
			Expect(r.Err()).To(HaveOccurred())

			r.Reset()
			Expect(r.Err()).NotTo(HaveOccurred())
		})
	})

	Describe("Registry", func() {
		It("builds registered messages by direct type", func() {
			reg := protocol.NewRegistry()
			Expect(reg.Register(sampleType, func() protocol.Message { return &sample{} })).To(Succeed())

			m, err := reg.New(sampleType)
			Expect(err).NotTo(HaveOccurred())
			Expect(m).To(BeAssignableToTypeOf(&sample{}))
		})

		It("refuses duplicate registrations", func() {
			reg := protocol.NewRegistry()
			factory := func() protocol.Message { return &sample{} }
			Expect(reg.Register(sampleType, factory)).To(Succeed())
			Expect(errors.Is(reg.Register(sampleType, factory), protocol.ErrDuplicateType)).To(BeTrue())
		})

		It("reports unknown types", func() {
			_, err := protocol.NewRegistry().New(99)
			Expect(errors.Is(err, protocol.ErrUnknownType)).To(BeTrue())
		})
	})
})
