// Package cpu models the simulated cores: per-core epoch state, the
// inclusive L1/L2 tag arrays mirroring the version table's sharer sets, and
// the tag walks that flush versions older than a target epoch.
package cpu

import (
	"fmt"
	"math/bits"

	"github.com/sarchlab/nvoverlay/vtable"
)

const lineBits = 6

// A WalkHandler receives the writebacks a tag walk emits.
type WalkHandler interface {
	Evict(lineAddr uint64, core int, version, cycle uint64,
		kind vtable.EvictKind)
}

// A Core is the per-core logical-time state plus its event counters.
type Core struct {
	Epoch           uint64
	EpochStoreCount uint64
	LastWalkEpoch   uint64

	LoadCount         uint64
	TotalStoreCount   uint64
	L1EvictCount      uint64
	L2EvictCount      uint64
	L3EvictCount      uint64
	TagWalkEvictCount uint64
}

type tagArray struct {
	level   vtable.Level
	sets    int
	ways    int
	setMask uint64

	// Slots are indexed [core][set*ways+way].
	slots [][]*vtable.Record
}

func newTagArray(level vtable.Level, cores, sets, ways int) *tagArray {
	if sets < 1 || bits.OnesCount(uint(sets)) != 1 {
		panic(fmt.Sprintf("%s tag array sets must be a power of two, not %d",
			level, sets))
	}

	if ways < 1 {
		panic(fmt.Sprintf("%s tag array ways must be positive, not %d",
			level, ways))
	}

	a := &tagArray{
		level:   level,
		sets:    sets,
		ways:    ways,
		setMask: uint64(sets) - 1,
		slots:   make([][]*vtable.Record, cores),
	}
	for i := range a.slots {
		a.slots[i] = make([]*vtable.Record, sets*ways)
	}

	return a
}

func (a *tagArray) set(core int, addr uint64) []*vtable.Record {
	setIndex := int((addr >> lineBits) & a.setMask)
	return a.slots[core][setIndex*a.ways : (setIndex+1)*a.ways]
}

func (a *tagArray) insert(core int, rec *vtable.Record) {
	set := a.set(core, rec.Addr)
	free := -1
	for i, slot := range set {
		if slot == rec {
			panic(fmt.Sprintf(
				"line 0x%X already present in %s tags of core %d",
				rec.Addr, a.level, core))
		}

		if slot == nil && free == -1 {
			free = i
		}
	}

	if free != -1 {
		set[free] = rec
		return
	}

	panic(fmt.Sprintf(
		"no empty %s tag slot for line 0x%X on core %d, missing evictions?",
		a.level, rec.Addr, core))
}

func (a *tagArray) remove(core int, rec *vtable.Record) {
	set := a.set(core, rec.Addr)
	for i, slot := range set {
		if slot == rec {
			set[i] = nil
			return
		}
	}

	panic(fmt.Sprintf("line 0x%X not found in %s tags of core %d",
		rec.Addr, a.level, core))
}

// Comp holds the cores and their tag arrays.
type Comp struct {
	cores     []Core
	tagArrays [2]*tagArray
	handler   WalkHandler

	totalAdvanceCount     uint64
	coherenceAdvanceCount uint64
	skipEpochCount        uint64
}

// Stats is a snapshot of the epoch-advance counters.
type Stats struct {
	TotalAdvanceCount     uint64
	CoherenceAdvanceCount uint64
	SkipEpochCount        uint64
}

// Builder builds cpu components.
type Builder struct {
	coreCount      int
	l1Sets, l1Ways int
	l2Sets, l2Ways int
	handler        WalkHandler
}

// MakeBuilder returns a builder with no defaults set.
func MakeBuilder() Builder {
	return Builder{}
}

// WithCoreCount sets the number of simulated cores.
func (b Builder) WithCoreCount(n int) Builder {
	b.coreCount = n
	return b
}

// WithL1 sets the L1 tag array geometry.
func (b Builder) WithL1(sets, ways int) Builder {
	b.l1Sets, b.l1Ways = sets, ways
	return b
}

// WithL2 sets the L2 tag array geometry.
func (b Builder) WithL2(sets, ways int) Builder {
	b.l2Sets, b.l2Ways = sets, ways
	return b
}

// WithWalkHandler sets the handler receiving tag-walk writebacks.
func (b Builder) WithWalkHandler(h WalkHandler) Builder {
	b.handler = h
	return b
}

// Build builds the component.
func (b Builder) Build() *Comp {
	if b.coreCount < 1 {
		panic(fmt.Sprintf("core count must be positive, not %d", b.coreCount))
	}

	if b.handler == nil {
		panic("cpu needs a walk handler")
	}

	return &Comp{
		cores: make([]Core, b.coreCount),
		tagArrays: [2]*tagArray{
			newTagArray(vtable.LevelL1, b.coreCount, b.l1Sets, b.l1Ways),
			newTagArray(vtable.LevelL2, b.coreCount, b.l2Sets, b.l2Ways),
		},
		handler: b.handler,
	}
}

// CoreCount returns the number of cores.
func (c *Comp) CoreCount() int {
	return len(c.cores)
}

// Core returns the core with the given id.
func (c *Comp) Core(id int) *Core {
	if id < 0 || id >= len(c.cores) {
		panic(fmt.Sprintf("core id out of range: %d", id))
	}

	return &c.cores[id]
}

// CoreRecv is signalled when a core receives a version through coherence.
// Receiving a version from the future pulls the core's epoch forward and
// restarts its store budget.
func (c *Comp) CoreRecv(core int, version uint64) {
	cr := c.Core(core)
	if version <= cr.Epoch {
		return
	}

	if version != cr.Epoch+1 {
		c.skipEpochCount++
	}
	c.coherenceAdvanceCount++
	c.totalAdvanceCount++

	cr.Epoch = version
	cr.EpochStoreCount = 0
}

// AdvanceEpoch advances a core's epoch for a non-coherence reason, i.e. a
// filled store budget.
func (c *Comp) AdvanceEpoch(core int) {
	cr := c.Core(core)
	cr.Epoch++
	cr.EpochStoreCount = 0
	c.totalAdvanceCount++
}

// MinEpoch returns the minimum per-core epoch.
func (c *Comp) MinEpoch() uint64 {
	min := c.cores[0].Epoch
	for _, cr := range c.cores[1:] {
		if cr.Epoch < min {
			min = cr.Epoch
		}
	}

	return min
}

// TagOp applies a tag-array mirror operation issued by the version table.
// For set and clear ops, the record's sharer set still lists the previous
// sharers whose tags must go.
func (c *Comp) TagOp(op vtable.TagOp, level vtable.Level, core int,
	rec *vtable.Record) {
	arr := c.tagArrays[level]

	switch op {
	case vtable.TagOpAdd:
		arr.insert(core, rec)

	case vtable.TagOpRemove:
		arr.remove(core, rec)

	case vtable.TagOpSet, vtable.TagOpClear:
		sharers := rec.Sharers(level)
		for pos := sharers.Iter(-1); pos != -1; pos = sharers.Iter(pos) {
			arr.remove(pos, rec)
		}
		if op == vtable.TagOpSet {
			arr.insert(core, rec)
		}

	default:
		panic(fmt.Sprintf("unknown tag op: %d", op))
	}
}

// TagWalk scans the core's L2 tags and writes back every dirty version
// strictly older than targetEpoch. Ownership may downgrade; sharer sets
// never change.
func (c *Comp) TagWalk(core int, targetEpoch, cycle uint64) {
	cr := c.Core(core)

	for _, rec := range c.tagArrays[vtable.LevelL2].slots[core] {
		if rec == nil {
			continue
		}

		switch rec.Owner {
		case vtable.OwnerL1:
			if rec.L1Sharers.Sole() != core {
				panic(fmt.Sprintf(
					"L1-owned line 0x%X in L2 tags of core %d but owned by %d",
					rec.Addr, core, rec.L1Sharers.Sole()))
			}

			if rec.L1Ver < targetEpoch {
				rec.Owner = vtable.OwnerOther
				rec.OtherVer = rec.L1Ver
				rec.L1State = vtable.StateS
				c.handler.Evict(rec.Addr, core, rec.L1Ver, cycle,
					vtable.EvictOMCAndLLC)
				cr.TagWalkEvictCount++

				// An equal L2 version is discarded with the L1 copy.
				if rec.L2State == vtable.StateM && rec.L2Ver != rec.L1Ver {
					rec.L2State = vtable.StateS
					c.handler.Evict(rec.Addr, core, rec.L2Ver, cycle,
						vtable.EvictOMCAndLLC)
					cr.TagWalkEvictCount++
				}
			} else if rec.L2Ver < targetEpoch && rec.L2State == vtable.StateM {
				// L1 keeps ownership; only the stale L2 version goes.
				rec.L2State = vtable.StateS
				c.handler.Evict(rec.Addr, core, rec.L2Ver, cycle,
					vtable.EvictOMCOnly)
				cr.TagWalkEvictCount++
			}

		case vtable.OwnerL2:
			if rec.L2Ver < targetEpoch {
				rec.Owner = vtable.OwnerOther
				rec.OtherVer = rec.L2Ver
				rec.L2State = vtable.StateS
				c.handler.Evict(rec.Addr, core, rec.L2Ver, cycle,
					vtable.EvictOMCAndLLC)
				cr.TagWalkEvictCount++
			}
		}
	}
}

// Stats returns a snapshot of the epoch-advance counters.
func (c *Comp) Stats() Stats {
	return Stats{
		TotalAdvanceCount:     c.totalAdvanceCount,
		CoherenceAdvanceCount: c.coherenceAdvanceCount,
		SkipEpochCount:        c.skipEpochCount,
	}
}
