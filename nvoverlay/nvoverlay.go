// Package nvoverlay wires the versioning engine together: it dispatches the
// serialized event stream into the version table, routes writebacks through
// the OMC buffer into the overlay and the NVM timing model, advances
// per-core epochs, schedules tag walks, and merges stable epochs into the
// overlay mapping table.
package nvoverlay

import (
	"fmt"

	"github.com/sarchlab/nvoverlay/conf"
	"github.com/sarchlab/nvoverlay/cpu"
	"github.com/sarchlab/nvoverlay/nvm"
	"github.com/sarchlab/nvoverlay/omcbuf"
	"github.com/sarchlab/nvoverlay/overlay"
	"github.com/sarchlab/nvoverlay/vtable"
)

const lineSize = 64

// An EventSink consumes the serialized per-core memory event stream. The
// full engine, the tracer writer, and the baseline engine all satisfy it.
type EventSink interface {
	Load(core int, lineAddr, cycle uint64)
	Store(core int, lineAddr, cycle uint64)
	L1Evict(core int, lineAddr, cycle uint64)
	L2Evict(core int, lineAddr, cycle uint64)
	L3Evict(core int, lineAddr, cycle uint64)
}

// Comp is the versioning engine.
type Comp struct {
	vtable  *vtable.Table
	cpu     *cpu.Comp
	omcbuf  *omcbuf.Buffer
	overlay *overlay.Comp
	omt     *overlay.OMT
	nvm     *nvm.Comp

	epochSize   uint64
	tagWalkFreq uint64

	stableEpochs    []uint64
	lastStableEpoch uint64

	evictOMCCount uint64
	evictLLCCount uint64
}

// Stats is a snapshot of the orchestrator-level counters.
type Stats struct {
	EvictOMCCount   uint64
	EvictLLCCount   uint64
	LastStableEpoch uint64
	TrackedLines    uint64
}

// Builder builds engines from a configuration.
type Builder struct {
	conf *conf.Conf
}

// MakeBuilder returns a builder with no defaults set.
func MakeBuilder() Builder {
	return Builder{}
}

// WithConf sets the configuration the engine is built from.
func (b Builder) WithConf(c *conf.Conf) Builder {
	b.conf = c
	return b
}

func tagGeometry(c *conf.Conf, level string) (sets, ways int) {
	ways = c.MustIntAtLeast("cpu."+level+".ways", 1)
	size := c.MustSizeAtLeast("cpu."+level+".size", 1)

	if size%lineSize != 0 {
		panic(fmt.Sprintf(
			"key %q must be a multiple of the line size (see %d)",
			"cpu."+level+".size", size))
	}

	lines := size / lineSize
	if lines%uint64(ways) != 0 {
		panic(fmt.Sprintf(
			"key %q must be a multiple of %d ways (see %d)",
			"cpu."+level+".size", ways, size))
	}

	return int(lines / uint64(ways)), ways
}

// Build builds the engine.
func (b Builder) Build() *Comp {
	if b.conf == nil {
		panic("nvoverlay needs a configuration")
	}
	c := b.conf

	e := &Comp{
		overlay: overlay.New(),
		omt:     overlay.NewOMT(),
	}

	e.nvm = nvm.MakeBuilder().
		WithBankCount(c.MustPowerOfTwo("nvm.banks")).
		WithReadLatency(uint64(c.MustIntAtLeast("nvm.rlat", 0))).
		WithWriteLatency(uint64(c.MustIntAtLeast("nvm.wlat", 0))).
		Build()

	e.omcbuf = omcbuf.MakeBuilder().
		WithSets(c.MustPowerOfTwo("omcbuf.sets")).
		WithWays(c.MustPowerOfTwo("omcbuf.ways")).
		WithEvictHandler(e).
		Build()

	l1Sets, l1Ways := tagGeometry(c, "l1")
	l2Sets, l2Ways := tagGeometry(c, "l2")
	e.cpu = cpu.MakeBuilder().
		WithCoreCount(c.MustIntAtLeast("cpu.cores", 1)).
		WithL1(l1Sets, l1Ways).
		WithL2(l2Sets, l2Ways).
		WithWalkHandler(e).
		Build()

	e.vtable = vtable.New(e)

	e.epochSize = c.MustSizeAtLeast("nvoverlay.epoch_size", 1)
	e.tagWalkFreq = c.MustSizeAtLeast("nvoverlay.tag_walk_freq", 1)
	e.stableEpochs = make([]uint64, e.cpu.CoreCount())

	return e
}

// Evict receives writebacks from the version table and from tag walks.
func (e *Comp) Evict(lineAddr uint64, core int, version, cycle uint64,
	kind vtable.EvictKind) {
	_ = core

	e.omcbuf.Insert(lineAddr, version, cycle)
	e.evictOMCCount++

	if kind == vtable.EvictOMCAndLLC {
		e.evictLLCCount++
	}
}

// CoreRecv forwards coherence version transfers to the epoch state.
func (e *Comp) CoreRecv(core int, version uint64) {
	e.cpu.CoreRecv(core, version)
}

// TagOp forwards tag-array mirror operations.
func (e *Comp) TagOp(op vtable.TagOp, level vtable.Level, core int,
	rec *vtable.Record) {
	e.cpu.TagOp(op, level, core, rec)
}

// OMCEvict receives entries pushed out of the OMC buffer: the line lands in
// its epoch's overlay and the NVM write is scheduled.
func (e *Comp) OMCEvict(lineAddr, epoch, cycle uint64) {
	e.overlay.Insert(lineAddr, epoch)
	e.nvm.Write(lineAddr, cycle)
}

// Load applies a load event.
func (e *Comp) Load(core int, lineAddr, cycle uint64) {
	cr := e.cpu.Core(core)
	cr.LoadCount++
	e.vtable.L1Load(lineAddr, core, cr.Epoch, cycle)
}

// Store applies a store event, then runs the epoch controller: the store
// counts against the core's budget, a due tag walk flushes old versions and
// refreshes the stable-epoch frontier, and a filled budget opens the next
// epoch.
func (e *Comp) Store(core int, lineAddr, cycle uint64) {
	cr := e.cpu.Core(core)
	e.vtable.L1Store(lineAddr, core, cr.Epoch, cycle)

	cr.EpochStoreCount++
	cr.TotalStoreCount++

	if cr.Epoch-cr.LastWalkEpoch >= e.tagWalkFreq {
		e.cpu.TagWalk(core, cr.Epoch, cycle)
		cr.LastWalkEpoch = cr.Epoch
		e.stableEpochs[core] = cr.Epoch
		e.mergeStable()
	}

	if cr.EpochStoreCount >= e.epochSize {
		e.cpu.AdvanceEpoch(core)
	}
}

// mergeStable merges every epoch below the new stable minimum into the
// OMT. An epoch whose writebacks are still parked in the OMC buffer holds
// the sweep: merging it now would orphan those writes behind a sealed
// epoch. Epochs with no data anywhere merge as no-ops.
func (e *Comp) mergeStable() {
	min := e.stableEpochs[0]
	for _, se := range e.stableEpochs[1:] {
		if se < min {
			min = se
		}
	}

	for epoch := e.lastStableEpoch; epoch < min; epoch++ {
		if e.omcbuf.HasEpochAtOrBelow(epoch) {
			break
		}
		e.overlay.EpochMerge(epoch, e.omt)
		e.lastStableEpoch = epoch + 1
	}
}

// L1Evict applies an L1 eviction event.
func (e *Comp) L1Evict(core int, lineAddr, cycle uint64) {
	e.cpu.Core(core).L1EvictCount++
	e.vtable.L1Evict(lineAddr, core, cycle)
}

// L2Evict applies an L2 eviction event.
func (e *Comp) L2Evict(core int, lineAddr, cycle uint64) {
	e.cpu.Core(core).L2EvictCount++
	e.vtable.L2Evict(lineAddr, core, cycle)
}

// L3Evict applies an LLC eviction event.
func (e *Comp) L3Evict(core int, lineAddr, cycle uint64) {
	e.cpu.Core(core).L3EvictCount++
	e.vtable.L3Evict(lineAddr, core, cycle)
}

// VersionTable returns the version table.
func (e *Comp) VersionTable() *vtable.Table {
	return e.vtable
}

// CPU returns the core and tag-array state.
func (e *Comp) CPU() *cpu.Comp {
	return e.cpu
}

// OMCBuffer returns the write-combining buffer.
func (e *Comp) OMCBuffer() *omcbuf.Buffer {
	return e.omcbuf
}

// Overlay returns the overlay store.
func (e *Comp) Overlay() *overlay.Comp {
	return e.overlay
}

// OMT returns the overlay mapping table.
func (e *Comp) OMT() *overlay.OMT {
	return e.omt
}

// NVM returns the NVM timing model.
func (e *Comp) NVM() *nvm.Comp {
	return e.nvm
}

// LastStableEpoch returns the merged stable-epoch frontier.
func (e *Comp) LastStableEpoch() uint64 {
	return e.lastStableEpoch
}

// Stats returns a snapshot of the orchestrator-level counters.
func (e *Comp) Stats() Stats {
	return Stats{
		EvictOMCCount:   e.evictOMCCount,
		EvictLLCCount:   e.evictLLCCount,
		LastStableEpoch: e.lastStableEpoch,
		TrackedLines:    uint64(e.vtable.RecordCount()),
	}
}
