package omcbuf

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type evictRecord struct {
	lineAddr uint64
	epoch    uint64
	cycle    uint64
}

type evictRecorder struct {
	evictions []evictRecord
}

func (r *evictRecorder) OMCEvict(lineAddr, epoch, cycle uint64) {
	r.evictions = append(r.evictions, evictRecord{lineAddr, epoch, cycle})
}

var _ = Describe("Buffer", func() {
	var (
		recorder *evictRecorder
		buf      *Buffer
	)

	BeforeEach(func() {
		recorder = &evictRecorder{}
		buf = MakeBuilder().
			WithSets(2).
			WithWays(2).
			WithEvictHandler(recorder).
			Build()
	})

	It("should fill an empty way on a cold set without evicting", func() {
		buf.Insert(0x1000, 0, 10)

		Expect(recorder.evictions).To(BeEmpty())

		s := buf.Stats()
		Expect(s.AccessCount).To(Equal(uint64(1)))
		Expect(s.MissCount).To(Equal(uint64(1)))
		Expect(s.HitCount).To(BeZero())
	})

	It("should combine a repeated write to the same line and epoch", func() {
		buf.Insert(0x1000, 3, 10)
		buf.Insert(0x1000, 3, 11)

		Expect(recorder.evictions).To(BeEmpty())
		Expect(buf.Stats().HitCount).To(Equal(uint64(1)))
	})

	It("should keep writes from different epochs as distinct entries", func() {
		buf.Insert(0x1000, 0, 10)
		buf.Insert(0x1000, 1, 11)

		Expect(recorder.evictions).To(BeEmpty())
		Expect(buf.Stats().MissCount).To(Equal(uint64(2)))
	})

	It("should evict the least recently filled entry of a full set", func() {
		// Lines 0x1000, 0x1080, 0x1100 map to set 0 (bit 6 is the set bit).
		buf.Insert(0x1000, 0, 10)
		buf.Insert(0x1080, 0, 11)
		buf.Insert(0x1100, 0, 12)

		Expect(recorder.evictions).To(HaveLen(1))
		Expect(recorder.evictions[0]).To(Equal(evictRecord{0x1000, 0, 12}))
		Expect(buf.Stats().EvictCount).To(Equal(uint64(1)))
	})

	It("should protect a hit entry from the next eviction", func() {
		buf.Insert(0x1000, 0, 10)
		buf.Insert(0x1080, 0, 11)
		buf.Insert(0x1000, 0, 12)
		buf.Insert(0x1100, 0, 13)

		Expect(recorder.evictions).To(HaveLen(1))
		Expect(recorder.evictions[0].lineAddr).To(Equal(uint64(0x1080)))
	})

	It("should not let sets interfere", func() {
		buf.Insert(0x1000, 0, 10)
		buf.Insert(0x1040, 0, 11)
		buf.Insert(0x1080, 0, 12)
		buf.Insert(0x10C0, 0, 13)

		Expect(recorder.evictions).To(BeEmpty())
	})

	It("should reconstruct the evicted line address", func() {
		buf.Insert(0xABC040, 7, 10)
		buf.Insert(0x1040, 7, 11)
		buf.Insert(0x2040, 7, 12)

		Expect(recorder.evictions).To(HaveLen(1))
		Expect(recorder.evictions[0]).To(Equal(evictRecord{0xABC040, 7, 12}))
	})

	It("should keep LRU counters within a set pairwise distinct", func() {
		buf.Insert(0x1000, 0, 10)
		buf.Insert(0x1080, 0, 11)
		buf.Insert(0x1000, 0, 12)

		set := buf.entries[0:2]
		Expect(set[0].lru).NotTo(Equal(set[1].lru))
	})

	It("should panic on an unaligned address", func() {
		Expect(func() { buf.Insert(0x1001, 0, 10) }).To(Panic())
	})

	It("should panic on the reserved epoch", func() {
		Expect(func() { buf.Insert(0x1000, ^uint64(0), 10) }).To(Panic())
	})
})

var _ = Describe("Builder", func() {
	It("should reject a non-power-of-two set count", func() {
		Expect(func() {
			MakeBuilder().
				WithSets(3).
				WithWays(1).
				WithEvictHandler(&evictRecorder{}).
				Build()
		}).To(Panic())
	})

	It("should reject a missing evict handler", func() {
		Expect(func() {
			MakeBuilder().WithSets(1).WithWays(1).Build()
		}).To(Panic())
	})
})
