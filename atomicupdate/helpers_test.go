package atomicupdate_test

import (
	"errors"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/nearwire/atomicupdate"
	"github.com/luma/nearwire/marshal"
	"github.com/luma/nearwire/protocol"
	"github.com/luma/nearwire/version"
)

var errStale = errors.New("stale topology")

func ptr[T any](v T) *T {
	return &v
}

func newResolver() *marshal.Resolver {
	res := marshal.NewResolver()
	Expect(atomicupdate.RegisterErrors(res)).To(Succeed())
	Expect(res.Register("test.stale", errStale)).To(Succeed())
	return res
}

func newCBOR() marshal.Marshaller {
	m, err := marshal.New("cbor")
	Expect(err).To(Succeed())
	return m
}

// fullResponse sets every wire field.
func fullResponse() *atomicupdate.Response[string, string] {
	resp := atomicupdate.New[string, string](12, "node-b", version.Version{
		Topology:   4,
		NodeOrder:  1,
		GlobalTime: 1_700_000_000_000,
		Order:      77,
	})
	resp.MessageID = 5
	resp.TopologyVersion = 4

	resp.RecordFailedKey("k1", errStale)
	resp.RecordFailedKeys([]string{"k2", "k3"}, errors.New("disk full"))
	resp.SetRemapKeys([]string{"k9"})
	resp.SetReturnValue(&atomicupdate.Return[string]{Value: ptr("old"), Success: true})

	Expect(resp.AddNearValue(5, ptr("v5"), nil, 1000, 1_700_000_001_000)).To(Succeed())
	Expect(resp.AddNearValue(2, ptr("v2"), nil, -1, -1)).To(Succeed())
	Expect(resp.AddSkippedIndex(3)).To(Succeed())
	Expect(resp.AddNearValue(7, nil, nil, -1, 1_700_000_002_000)).To(Succeed())

	resp.SetNearVersion(&version.Version{Topology: 4, NodeOrder: 1, GlobalTime: 1_700_000_000_500, Order: 78})
	return resp
}

func encodeChunked(m protocol.Message, capacity int) []byte {
	w := protocol.NewWriter()
	chunk := make([]byte, capacity)

	var out []byte
	for {
		buf := protocol.NewBuffer(chunk)
		w.SetBuffer(buf)

		done := m.Encode(w)
		out = append(out, buf.Bytes()...)

		if done {
			return out
		}

		ExpectWithOffset(1, buf.Len()).To(BeNumerically(">", 0), "encode made no progress")
	}
}

func decodeChunked[K, V any](data []byte, capacity int) *atomicupdate.Response[K, V] {
	reg := protocol.NewRegistry()
	ExpectWithOffset(1, atomicupdate.Register[K, V](reg)).To(Succeed())

	r := protocol.NewReader()
	var msg protocol.Message

	for off := 0; off < len(data); {
		end := min(off+capacity, len(data))
		buf := protocol.NewBuffer(data[off:end])
		r.SetBuffer(buf)

		if msg == nil {
			t, ok := r.GetByte()
			if ok {
				var err error
				msg, err = reg.New(t)
				ExpectWithOffset(1, err).To(Succeed())
			}
		}

		done := msg != nil && msg.Decode(r)
		ExpectWithOffset(1, r.Err()).NotTo(HaveOccurred())

		off += buf.Len()
		if done {
			ExpectWithOffset(1, off).To(Equal(len(data)), "trailing bytes left after decode")
			return msg.(*atomicupdate.Response[K, V])
		}
	}

	Fail("ran out of bytes before the message was complete")
	return nil
}

// expectEquivalent compares everything a consumer can observe.
func expectEquivalent(got, want *atomicupdate.Response[string, string]) {
	ExpectWithOffset(1, got.CacheHeader).To(Equal(want.CacheHeader))
	ExpectWithOffset(1, got.FutureVersion()).To(Equal(want.FutureVersion()))
	ExpectWithOffset(1, got.NearVersion()).To(Equal(want.NearVersion()))
	ExpectWithOffset(1, got.FailedKeys()).To(Equal(want.FailedKeys()))
	ExpectWithOffset(1, got.RemapKeys()).To(Equal(want.RemapKeys()))
	ExpectWithOffset(1, got.ReturnValue()).To(Equal(want.ReturnValue()))
	ExpectWithOffset(1, got.NearValueIndexes()).To(Equal(want.NearValueIndexes()))
	ExpectWithOffset(1, got.SkippedIndexes()).To(Equal(want.SkippedIndexes()))
	ExpectWithOffset(1, got.NearTTLList()).To(Equal(want.NearTTLList()))
	ExpectWithOffset(1, got.NearExpireTimeList()).To(Equal(want.NearExpireTimeList()))

	for i := range want.NearValueIndexes() {
		ExpectWithOffset(1, got.NearValue(i)).To(Equal(want.NearValue(i)))
	}

	if want.Error() == nil {
		ExpectWithOffset(1, got.Error()).To(BeNil())
		return
	}

	ExpectWithOffset(1, got.Error()).To(MatchError(want.Error().Error()))

	var gotErr, wantErr *atomicupdate.UpdateError
	ExpectWithOffset(1, errors.As(got.Error(), &gotErr)).To(BeTrue())
	ExpectWithOffset(1, errors.As(want.Error(), &wantErr)).To(BeTrue())
	ExpectWithOffset(1, gotErr.Suppressed()).To(HaveLen(len(wantErr.Suppressed())))
}
