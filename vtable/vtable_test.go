package vtable_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/nvoverlay/vtable"
	"github.com/sarchlab/nvoverlay/vtable/mock_vtable"
)

// checkRecord verifies the ownership and sharer invariants that must hold
// at every event boundary.
func checkRecord(rec *vtable.Record) {
	switch rec.Owner {
	case vtable.OwnerL1:
		Expect(rec.L1State).To(Equal(vtable.StateM))
		Expect(rec.L1Sharers.PopCount()).To(Equal(1))
		Expect(rec.L2Sharers.PopCount()).To(Equal(1))
		Expect(rec.L1Sharers.Sole()).To(Equal(rec.L2Sharers.Sole()))
		Expect(rec.L2State).NotTo(Equal(vtable.StateI))
		if rec.L2State == vtable.StateM && rec.L1State == vtable.StateM {
			Expect(rec.L2Ver).To(BeNumerically("<=", rec.L1Ver))
		}
	case vtable.OwnerL2:
		Expect(rec.L2State).To(Equal(vtable.StateM))
		Expect(rec.L2Sharers.PopCount()).To(Equal(1))
		Expect(rec.L1Sharers.PopCount()).To(BeNumerically("<=", 1))
		if rec.L1Sharers.PopCount() == 1 {
			Expect(rec.L1Sharers.Sole()).To(Equal(rec.L2Sharers.Sole()))
			Expect(rec.L1State).To(Equal(vtable.StateS))
		}
	}
}

var _ = Describe("Table", func() {
	var (
		ctrl    *gomock.Controller
		handler *mock_vtable.MockHandler
		table   *vtable.Table
	)

	const addr = uint64(0x1000)

	BeforeEach(func() {
		ctrl = gomock.NewController(GinkgoT())
		handler = mock_vtable.NewMockHandler(ctrl)
		handler.EXPECT().
			TagOp(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			AnyTimes()
		table = vtable.New(handler)
	})

	checkAll := func() {
		table.ForEach(checkRecord)
	}

	Context("load", func() {
		It("should create a clean version-zero record on first touch", func() {
			handler.EXPECT().CoreRecv(0, uint64(0))

			table.L1Load(addr, 0, 0, 10)

			rec := table.Find(addr)
			Expect(rec).NotTo(BeNil())
			Expect(rec.Owner).To(Equal(vtable.OwnerOther))
			Expect(rec.OtherVer).To(Equal(uint64(0)))
			Expect(rec.L1Sharers.Has(0)).To(BeTrue())
			Expect(rec.L2Sharers.Has(0)).To(BeTrue())
			checkAll()
		})

		It("should treat a repeated load as a no-op", func() {
			handler.EXPECT().CoreRecv(0, uint64(0))

			table.L1Load(addr, 0, 0, 10)
			before := *table.Find(addr)

			table.L1Load(addr, 0, 0, 11)

			Expect(*table.Find(addr)).To(Equal(before))
		})

		It("should refill L1 from the core's own L2", func() {
			handler.EXPECT().CoreRecv(gomock.Any(), gomock.Any()).AnyTimes()

			table.L1Store(addr, 0, 4, 10)
			table.L1Evict(addr, 0, 11)

			table.L1Load(addr, 0, 4, 12)

			rec := table.Find(addr)
			Expect(rec.Owner).To(Equal(vtable.OwnerL2))
			Expect(rec.L1State).To(Equal(vtable.StateS))
			Expect(rec.L1Ver).To(Equal(rec.L2Ver))
			Expect(rec.L1Sharers.Has(0)).To(BeTrue())
			checkAll()
		})

		It("should downgrade a remote L1 owner and share the line", func() {
			handler.EXPECT().
				Evict(addr, 0, uint64(4), uint64(20), vtable.EvictOMCAndLLC)
			handler.EXPECT().CoreRecv(1, uint64(4))
			handler.EXPECT().CoreRecv(gomock.Any(), gomock.Any()).AnyTimes()

			table.L1Store(addr, 0, 4, 10)
			table.L1Load(addr, 1, 0, 20)

			rec := table.Find(addr)
			Expect(rec.Owner).To(Equal(vtable.OwnerOther))
			Expect(rec.OtherVer).To(Equal(uint64(4)))
			Expect(rec.L1Sharers.Has(0)).To(BeTrue())
			Expect(rec.L1Sharers.Has(1)).To(BeTrue())
			checkAll()
		})

		It("should write back both levels when the remote owner holds two dirty versions", func() {
			handler.EXPECT().
				Evict(addr, 0, uint64(1), uint64(20), vtable.EvictOMCOnly)
			handler.EXPECT().
				Evict(addr, 0, uint64(2), uint64(20), vtable.EvictOMCAndLLC)
			handler.EXPECT().CoreRecv(1, uint64(2))
			handler.EXPECT().CoreRecv(gomock.Any(), gomock.Any()).AnyTimes()

			table.L1Store(addr, 0, 1, 10)
			table.L1Store(addr, 0, 2, 11)
			table.L1Load(addr, 1, 0, 20)
			checkAll()
		})

		It("should downgrade a remote L2 owner", func() {
			handler.EXPECT().
				Evict(addr, 0, uint64(4), uint64(20), vtable.EvictOMCAndLLC)
			handler.EXPECT().CoreRecv(1, uint64(4))
			handler.EXPECT().CoreRecv(gomock.Any(), gomock.Any()).AnyTimes()

			table.L1Store(addr, 0, 4, 10)
			table.L1Evict(addr, 0, 11)
			table.L1Load(addr, 1, 0, 20)

			rec := table.Find(addr)
			Expect(rec.Owner).To(Equal(vtable.OwnerOther))
			Expect(rec.OtherVer).To(Equal(uint64(4)))
			checkAll()
		})
	})

	Context("store", func() {
		BeforeEach(func() {
			handler.EXPECT().CoreRecv(gomock.Any(), gomock.Any()).AnyTimes()
		})

		It("should take ownership of a clean line", func() {
			table.L1Store(addr, 0, 5, 10)

			rec := table.Find(addr)
			Expect(rec.Owner).To(Equal(vtable.OwnerL1))
			Expect(rec.L1State).To(Equal(vtable.StateM))
			Expect(rec.L1Ver).To(Equal(uint64(5)))
			Expect(rec.L2State).To(Equal(vtable.StateS))
			Expect(rec.L2Ver).To(Equal(uint64(0)))
			Expect(rec.L1Sharers.Sole()).To(Equal(0))
			checkAll()
		})

		It("should treat a same-epoch store to an owned line as a no-op", func() {
			table.L1Store(addr, 0, 5, 10)
			before := *table.Find(addr)

			table.L1Store(addr, 0, 5, 11)

			Expect(*table.Find(addr)).To(Equal(before))
		})

		It("should demote the old version to L2 on a new-epoch store", func() {
			table.L1Store(addr, 0, 5, 10)

			table.L1Store(addr, 0, 7, 11)

			rec := table.Find(addr)
			Expect(rec.L1Ver).To(Equal(uint64(7)))
			Expect(rec.L2State).To(Equal(vtable.StateM))
			Expect(rec.L2Ver).To(Equal(uint64(5)))
			checkAll()
		})

		It("should write back a stale dirty L2 version before demoting", func() {
			table.L1Store(addr, 0, 1, 10)
			table.L1Store(addr, 0, 2, 11)

			handler.EXPECT().
				Evict(addr, 0, uint64(1), uint64(12), vtable.EvictOMCOnly)

			table.L1Store(addr, 0, 3, 12)

			rec := table.Find(addr)
			Expect(rec.L1Ver).To(Equal(uint64(3)))
			Expect(rec.L2Ver).To(Equal(uint64(2)))
			checkAll()
		})

		It("should store over the core's own dirty L2 without writeback", func() {
			table.L1Store(addr, 0, 4, 10)
			table.L1Evict(addr, 0, 11)

			table.L1Store(addr, 0, 6, 12)

			rec := table.Find(addr)
			Expect(rec.Owner).To(Equal(vtable.OwnerL1))
			Expect(rec.L1Ver).To(Equal(uint64(6)))
			Expect(rec.L2State).To(Equal(vtable.StateM))
			Expect(rec.L2Ver).To(Equal(uint64(4)))
			checkAll()
		})

		It("should transfer ownership between L1s keeping the version dirty", func() {
			table.L1Store(addr, 0, 4, 10)

			table.L1Store(addr, 1, 9, 20)

			rec := table.Find(addr)
			Expect(rec.Owner).To(Equal(vtable.OwnerL1))
			Expect(rec.L1Ver).To(Equal(uint64(9)))
			Expect(rec.L2State).To(Equal(vtable.StateM))
			Expect(rec.L2Ver).To(Equal(uint64(4)))
			Expect(rec.L1Sharers.Sole()).To(Equal(1))
			Expect(rec.L2Sharers.Sole()).To(Equal(1))
			checkAll()
		})

		It("should migrate a remote dirty L2 without writeback", func() {
			table.L1Store(addr, 0, 4, 10)
			table.L1Evict(addr, 0, 11)

			table.L1Store(addr, 1, 9, 20)

			rec := table.Find(addr)
			Expect(rec.Owner).To(Equal(vtable.OwnerL1))
			Expect(rec.L1Ver).To(Equal(uint64(9)))
			Expect(rec.L2State).To(Equal(vtable.StateM))
			Expect(rec.L2Ver).To(Equal(uint64(4)))
			Expect(rec.L2Sharers.Sole()).To(Equal(1))
			checkAll()
		})

		It("should signal the transferred version to the receiving core", func() {
			handler2 := mock_vtable.NewMockHandler(ctrl)
			handler2.EXPECT().
				TagOp(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
				AnyTimes()
			t2 := vtable.New(handler2)

			handler2.EXPECT().CoreRecv(0, uint64(0))
			t2.L1Store(addr, 0, 4, 10)

			handler2.EXPECT().CoreRecv(1, uint64(4))
			t2.L1Store(addr, 1, 9, 20)
		})
	})

	Context("evictions", func() {
		BeforeEach(func() {
			handler.EXPECT().CoreRecv(gomock.Any(), gomock.Any()).AnyTimes()
		})

		It("should move ownership to L2 on an L1 eviction", func() {
			table.L1Store(addr, 0, 4, 10)

			table.L1Evict(addr, 0, 11)

			rec := table.Find(addr)
			Expect(rec.Owner).To(Equal(vtable.OwnerL2))
			Expect(rec.L2State).To(Equal(vtable.StateM))
			Expect(rec.L2Ver).To(Equal(uint64(4)))
			Expect(rec.L1Sharers.PopCount()).To(BeZero())
			Expect(rec.L2Sharers.Has(0)).To(BeTrue())
			checkAll()
		})

		It("should write back a stale dirty L2 on an L1 eviction", func() {
			table.L1Store(addr, 0, 1, 10)
			table.L1Store(addr, 0, 2, 11)

			handler.EXPECT().
				Evict(addr, 0, uint64(1), uint64(12), vtable.EvictOMCOnly)

			table.L1Evict(addr, 0, 12)

			Expect(table.Find(addr).L2Ver).To(Equal(uint64(2)))
			checkAll()
		})

		It("should only clear the sharer bit on a clean L1 eviction", func() {
			table.L1Load(addr, 0, 0, 10)

			table.L1Evict(addr, 0, 11)

			rec := table.Find(addr)
			Expect(rec.Owner).To(Equal(vtable.OwnerOther))
			Expect(rec.L1Sharers.PopCount()).To(BeZero())
			Expect(rec.L2Sharers.Has(0)).To(BeTrue())
		})

		It("should write back and release the line on an L2 eviction of an L1 owner", func() {
			table.L1Store(addr, 0, 4, 10)

			handler.EXPECT().
				Evict(addr, 0, uint64(4), uint64(11), vtable.EvictOMCAndLLC)

			table.L2Evict(addr, 0, 11)

			rec := table.Find(addr)
			Expect(rec.Owner).To(Equal(vtable.OwnerOther))
			Expect(rec.OtherVer).To(Equal(uint64(4)))
			Expect(rec.L1Sharers.PopCount()).To(BeZero())
			Expect(rec.L2Sharers.PopCount()).To(BeZero())
			checkAll()
		})

		It("should write back an L2-owned line on its L2 eviction", func() {
			table.L1Store(addr, 0, 4, 10)
			table.L1Evict(addr, 0, 11)

			handler.EXPECT().
				Evict(addr, 0, uint64(4), uint64(12), vtable.EvictOMCAndLLC)

			table.L2Evict(addr, 0, 12)

			Expect(table.Find(addr).Owner).To(Equal(vtable.OwnerOther))
			checkAll()
		})

		It("should clear every sharer on an L3 eviction of a clean line", func() {
			table.L1Load(addr, 0, 0, 10)
			table.L1Load(addr, 1, 0, 11)

			table.L3Evict(addr, 0, 12)

			rec := table.Find(addr)
			Expect(rec.L1Sharers.PopCount()).To(BeZero())
			Expect(rec.L2Sharers.PopCount()).To(BeZero())
		})

		It("should route an L3 eviction of a dirty line through the owner", func() {
			table.L1Store(addr, 1, 4, 10)

			handler.EXPECT().
				Evict(addr, 1, uint64(4), uint64(11), vtable.EvictOMCAndLLC)

			// The LLC does not know which core owns the line; the table
			// resolves it regardless of the event's core id.
			table.L3Evict(addr, 0, 11)

			Expect(table.Find(addr).Owner).To(Equal(vtable.OwnerOther))
			checkAll()
		})

		It("should panic on an eviction from a core that holds nothing", func() {
			table.L1Load(addr, 0, 0, 10)

			Expect(func() { table.L1Evict(addr, 1, 11) }).To(Panic())
			Expect(func() { table.L2Evict(addr, 1, 11) }).To(Panic())
		})
	})

	It("should panic on an unaligned line address", func() {
		Expect(func() { table.Insert(0x1001) }).To(Panic())
	})
})

var _ = Describe("Tag mirror ordering", func() {
	It("should issue the set op before clearing the previous sharers", func() {
		ctrl := gomock.NewController(GinkgoT())
		handler := mock_vtable.NewMockHandler(ctrl)
		var table *vtable.Table

		handler.EXPECT().
			TagOp(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Do(func(op vtable.TagOp, level vtable.Level, core int,
				rec *vtable.Record) {
				if op != vtable.TagOpSet {
					return
				}
				// The previous sharer must still be visible so the mirror
				// can remove its tag before installing the new one.
				Expect(rec.Sharers(level).Has(0)).To(BeTrue())
				Expect(core).To(Equal(1))
			}).
			AnyTimes()
		handler.EXPECT().CoreRecv(gomock.Any(), gomock.Any()).AnyTimes()

		table = vtable.New(handler)
		table.L1Load(0x1000, 0, 0, 10)
		table.L1Store(0x1000, 1, 0, 11)
	})
})
