package storage_test

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/tidwall/gjson"

	"github.com/luma/nearwire/storage"
	"github.com/luma/nearwire/version"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Add(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *clock {
	return &clock{now: time.UnixMilli(1_700_000_000_000)}
}

func ver(order uint64) version.Version {
	return version.Version{Topology: 1, Order: order}
}

var _ = Describe("storage / InmemoryStore", func() {
	var (
		ctx   context.Context
		clk   *clock
		store *storage.InmemoryStore[string, string]
	)

	BeforeEach(func() {
		ctx = context.Background()
		clk = newClock()
		store = storage.NewInmemoryStore[string, string](storage.Options[string]{Shards: 4, Clock: clk.Now})
	})

	AfterEach(func() {
		store.Close()
	})

	Describe("Close()", func() {
		It("does not panic when closed twice", func() {
			Expect(func() { store.Close() }).NotTo(Panic())
			Expect(func() { store.Close() }).NotTo(Panic())
		})

		It("closes update channels and rejects further calls", func() {
			updateChan := store.ListenToUpdates()
			Expect(store.Close()).To(Succeed())

			_, ok := <-updateChan
			Expect(ok).To(BeFalse())

			_, err := store.Set(ctx, "foo", storage.Entry[string]{Value: "bar"})
			Expect(err).To(MatchError(storage.ErrClosed))

			_, _, err = store.Get(ctx, "foo")
			Expect(err).To(MatchError(storage.ErrClosed))
		})
	})

	It("an empty inmemory store equals {}", func() {
		value, err := store.Backup()
		Expect(err).To(Succeed())
		Expect(string(value)).To(Equal(`{}`))
	})

	Describe("Set() / Get()", func() {
		It("can read a key that is written", func() {
			ok, err := store.Set(ctx, "foo", storage.Entry[string]{Value: "bar", Version: ver(1), TTL: -1, ExpireAt: -1})
			Expect(err).To(Succeed())
			Expect(ok).To(BeTrue())

			e, found, err := store.Get(ctx, "foo")
			Expect(err).To(Succeed())
			Expect(found).To(BeTrue())
			Expect(e.Value).To(Equal("bar"))
			Expect(e.Version).To(Equal(ver(1)))
		})

		It("keeps the newer version", func() {
			_, err := store.Set(ctx, "foo", storage.Entry[string]{Value: "new", Version: ver(5)})
			Expect(err).To(Succeed())

			ok, err := store.Set(ctx, "foo", storage.Entry[string]{Value: "old", Version: ver(4)})
			Expect(err).To(Succeed())
			Expect(ok).To(BeFalse())

			ok, err = store.Set(ctx, "foo", storage.Entry[string]{Value: "same", Version: ver(5)})
			Expect(err).To(Succeed())
			Expect(ok).To(BeTrue())

			e, _, _ := store.Get(ctx, "foo")
			Expect(e.Value).To(Equal("same"))
		})

		It("hides expired entries", func() {
			expireAt := clk.Now().UnixMilli() + 100
			_, err := store.Set(ctx, "foo", storage.Entry[string]{Value: "bar", Version: ver(1), TTL: 100, ExpireAt: expireAt})
			Expect(err).To(Succeed())

			_, found, _ := store.Get(ctx, "foo")
			Expect(found).To(BeTrue())

			clk.Add(100 * time.Millisecond)

			_, found, _ = store.Get(ctx, "foo")
			Expect(found).To(BeFalse())
			Expect(store.Len()).To(Equal(0))
		})

		It("lets an older version replace an expired entry", func() {
			_, err := store.Set(ctx, "foo", storage.Entry[string]{Value: "a", Version: ver(9), ExpireAt: clk.Now().UnixMilli() + 1})
			Expect(err).To(Succeed())
			clk.Add(time.Second)

			ok, err := store.Set(ctx, "foo", storage.Entry[string]{Value: "b", Version: ver(2)})
			Expect(err).To(Succeed())
			Expect(ok).To(BeTrue())
		})

		It("sends on the update channel when values are set and removed", func() {
			updateChan := store.ListenToUpdates()

			_, err := store.Set(ctx, "foo", storage.Entry[string]{Value: "bar", Version: ver(1)})
			Expect(err).To(Succeed())
			Expect(store.Remove(ctx, "foo")).To(Succeed())

			// Removing a missing key is silent.
			Expect(store.Remove(ctx, "foo")).To(Succeed())

			update, ok := <-updateChan
			Expect(ok).To(BeTrue())
			Expect(update.Key).To(Equal("foo"))
			Expect(update.Entry.Value).To(Equal("bar"))

			update = <-updateChan
			Expect(update.Key).To(Equal("foo"))
			Expect(update.Entry).To(BeNil())

			Consistently(updateChan, 50*time.Millisecond).ShouldNot(Receive())
		})

		It("spreads keys over shards", func() {
			for i := 0; i < 100; i++ {
				_, err := store.Set(ctx, string(rune('a'+i%26))+string(rune('0'+i/26)), storage.Entry[string]{Value: "v"})
				Expect(err).To(Succeed())
			}

			Expect(store.Len()).To(Equal(100))
		})
	})

	Describe("Backup()", func() {
		It("renders entries as JSON", func() {
			_, err := store.Set(ctx, "foo", storage.Entry[string]{Value: "bar", Version: ver(3), TTL: 10, ExpireAt: -1})
			Expect(err).To(Succeed())
			_, err = store.Set(ctx, "a.b", storage.Entry[string]{Value: "dotted", Version: ver(4)})
			Expect(err).To(Succeed())

			data, err := store.Backup()
			Expect(err).To(Succeed())

			Expect(gjson.ValidBytes(data)).To(BeTrue())
			Expect(gjson.GetBytes(data, "foo.value").String()).To(Equal("bar"))
			Expect(gjson.GetBytes(data, "foo.ttl").Int()).To(Equal(int64(10)))
			Expect(gjson.GetBytes(data, "foo.expireAt").Int()).To(Equal(int64(-1)))
			Expect(gjson.GetBytes(data, "foo.version").String()).To(Equal(ver(3).String()))
			Expect(gjson.GetBytes(data, `a\.b.value`).String()).To(Equal("dotted"))
		})
	})

	It("hashes non-string keys by their fmt representation", func() {
		Expect(storage.HashString(42)).To(Equal(storage.HashString("42")))
		Expect(storage.HashString("a")).NotTo(Equal(storage.HashString("b")))
	})
})
