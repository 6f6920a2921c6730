package segment

import (
	"context"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/signaldata/loaderengine/pkg/models"
)

func TestSegment(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Segment Dictionary Suite")
}

func strp(s string) *string { return &s }

func tupleOf(seg1, seg2 string) models.SegmentTuple {
	var t models.SegmentTuple
	t[0] = strp(seg1)
	t[1] = strp(seg2)
	return t
}

var _ = Describe("Dictionary", func() {
	var (
		store *fakeStore
		dict  *Dictionary
		ctx   context.Context
	)

	BeforeEach(func() {
		store = newFakeStore()
		dict = NewDictionary(store, nil)
		ctx = context.Background()
	})

	It("assigns dense codes starting at 1", func() {
		code, err := dict.GetOrCreateCode(ctx, "SIG_A", tupleOf("A", "x"))
		Expect(err).NotTo(HaveOccurred())
		Expect(code).To(Equal(int64(1)))
	})

	It("reuses the code for an identical tuple", func() {
		c1, _ := dict.GetOrCreateCode(ctx, "SIG_A", tupleOf("A", "x"))
		c2, _ := dict.GetOrCreateCode(ctx, "SIG_A", tupleOf("A", "x"))
		Expect(c1).To(Equal(c2))
	})

	It("assigns a new code for a distinct tuple", func() {
		c1, _ := dict.GetOrCreateCode(ctx, "SIG_A", tupleOf("A", "x"))
		c2, _ := dict.GetOrCreateCode(ctx, "SIG_A", tupleOf("B", "x"))
		Expect(c1).NotTo(Equal(c2))
	})

	It("scopes codes per loader", func() {
		c1, _ := dict.GetOrCreateCode(ctx, "SIG_A", tupleOf("A", "x"))
		c2, _ := dict.GetOrCreateCode(ctx, "SIG_B", tupleOf("A", "x"))
		Expect(c1).To(Equal(int64(1)))
		Expect(c2).To(Equal(int64(1)))
	})

	It("treats nil slots as distinct from any string value", func() {
		var withNil models.SegmentTuple
		withNil[0] = strp("A")

		c1, _ := dict.GetOrCreateCode(ctx, "SIG_A", withNil)
		c2, _ := dict.GetOrCreateCode(ctx, "SIG_A", tupleOf("A", ""))
		Expect(c1).NotTo(Equal(c2))
	})

	Describe("with a Redis cache in front", func() {
		var mr *miniredis.Miniredis

		BeforeEach(func() {
			var err error
			mr, err = miniredis.Run()
			Expect(err).NotTo(HaveOccurred())

			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			dict = NewDictionary(store, NewRedisCache(client))
		})

		AfterEach(func() {
			mr.Close()
		})

		It("serves a cache hit on the second lookup without changing the code", func() {
			c1, err := dict.GetOrCreateCode(ctx, "SIG_A", tupleOf("A", "x"))
			Expect(err).NotTo(HaveOccurred())

			c2, err := dict.GetOrCreateCode(ctx, "SIG_A", tupleOf("A", "x"))
			Expect(err).NotTo(HaveOccurred())

			Expect(c2).To(Equal(c1))
		})

		It("still resolves correctly through the store on a cache miss", func() {
			mr.FlushAll()
			code, err := dict.GetOrCreateCode(ctx, "SIG_A", tupleOf("C", "z"))
			Expect(err).NotTo(HaveOccurred())
			Expect(code).To(BeNumerically(">", 0))
		})
	})
})
