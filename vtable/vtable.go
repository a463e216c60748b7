// Package vtable provides the coherence-driven version table. For every
// cache line the simulator has seen, it tracks which cache owns the
// authoritative dirty version and which epochs the per-level versions carry,
// and it drives writebacks, epoch piggybacking, and the tag-array mirror
// through a handler supplied by the orchestrator.
package vtable

import "fmt"

const lineSize = 64

// TagOp is a tag-array mirror operation. Every sharer-set mutation the
// table performs is reflected to the handler with the matching op before
// the bitmap changes, so TagOpSet and TagOpClear can still enumerate the
// previous sharers.
type TagOp int

// The tag ops. TagOpSet clears all existing sharers then adds one;
// TagOpClear removes all.
const (
	TagOpAdd TagOp = iota
	TagOpRemove
	TagOpSet
	TagOpClear
)

// EvictKind tells the orchestrator where an evicted version goes.
type EvictKind int

const (
	// EvictOMCOnly inserts the version into the OMC buffer.
	EvictOMCOnly EvictKind = iota

	// EvictOMCAndLLC inserts the version into the OMC buffer and accounts
	// an LLC eviction.
	EvictOMCAndLLC
)

// A Handler receives the side effects of version-table transitions.
type Handler interface {
	Evict(lineAddr uint64, core int, version, cycle uint64, kind EvictKind)
	CoreRecv(core int, version uint64)
	TagOp(op TagOp, level Level, core int, rec *Record)
}

// Table is the version table.
type Table struct {
	records map[uint64]*Record
	handler Handler
}

// New creates a version table reporting side effects to the handler.
func New(handler Handler) *Table {
	if handler == nil {
		panic("vtable needs a handler")
	}

	return &Table{
		records: make(map[uint64]*Record),
		handler: handler,
	}
}

// RecordCount returns the number of lines tracked.
func (t *Table) RecordCount() int {
	return len(t.records)
}

// Find returns the record for the line, or nil if it was never touched.
func (t *Table) Find(lineAddr uint64) *Record {
	return t.records[lineAddr]
}

// ForEach calls cb for every tracked record.
func (t *Table) ForEach(cb func(rec *Record)) {
	for _, rec := range t.records {
		cb(rec)
	}
}

// Insert returns the record for the line, creating it on first touch. New
// lines originate from LLC+DRAM with version zero.
func (t *Table) Insert(lineAddr uint64) *Record {
	if lineAddr%lineSize != 0 {
		panic(fmt.Sprintf("line address 0x%X is not aligned", lineAddr))
	}

	rec, ok := t.records[lineAddr]
	if !ok {
		rec = &Record{Addr: lineAddr, Owner: OwnerOther}
		t.records[lineAddr] = rec
	}

	return rec
}

func (t *Table) addSharer(rec *Record, level Level, core int) {
	t.handler.TagOp(TagOpAdd, level, core, rec)
	rec.Sharers(level).Add(core)
}

func (t *Table) removeSharer(rec *Record, level Level, core int) {
	t.handler.TagOp(TagOpRemove, level, core, rec)
	rec.Sharers(level).Remove(core)
}

func (t *Table) setSoleSharer(rec *Record, level Level, core int) {
	t.handler.TagOp(TagOpSet, level, core, rec)
	rec.Sharers(level).Clear()
	rec.Sharers(level).Add(core)
}

func (t *Table) clearSharers(rec *Record, level Level) {
	t.handler.TagOp(TagOpClear, level, -1, rec)
	rec.Sharers(level).Clear()
}

func (t *Table) mustOwnAlone(rec *Record, core int) {
	if rec.L1Sharers.Sole() != core || rec.L2Sharers.Sole() != core {
		panic(fmt.Sprintf(
			"core %d does not solely own line 0x%X: %s", core, rec.Addr, rec))
	}
}

// evictStaleL2 writes back the L2 version when it is dirty and differs from
// the L1 version it is about to be overwritten by.
func (t *Table) evictStaleL2(rec *Record, core int, cycle uint64) {
	if rec.L2State != StateM || rec.L2Ver == rec.L1Ver {
		return
	}

	if rec.L2Ver > rec.L1Ver {
		panic(fmt.Sprintf(
			"L2 version %d newer than L1 version %d on line 0x%X",
			rec.L2Ver, rec.L1Ver, rec.Addr))
	}

	t.handler.Evict(rec.Addr, core, rec.L2Ver, cycle, EvictOMCOnly)
}

// L1Load applies a load issued by core at the given epoch and cycle.
func (t *Table) L1Load(lineAddr uint64, core int, epoch, cycle uint64) {
	_ = epoch

	rec := t.Insert(lineAddr)

	// L1 hit: nothing changes, regardless of ownership.
	if rec.L1Sharers.Has(core) {
		return
	}

	// L1 miss, L2 hit: pull the L2 version up.
	if rec.L2Sharers.Has(core) {
		if rec.Owner == OwnerL1 {
			panic(fmt.Sprintf(
				"L1-owned line 0x%X cached in L2 of non-owner core %d",
				rec.Addr, core))
		}
		if rec.Owner == OwnerL2 && (rec.L1State != StateI || rec.L2State == StateI) {
			panic(fmt.Sprintf("read miss on non-I L1 for line 0x%X", rec.Addr))
		}

		t.addSharer(rec, LevelL1, core)
		rec.L1State = StateS
		rec.L1Ver = rec.L2Ver

		return
	}

	// Miss in both: coherence action by owner.
	switch rec.Owner {
	case OwnerOther:
		rec.L1Ver = rec.OtherVer
		rec.L2Ver = rec.OtherVer
		rec.L1State = StateS
		rec.L2State = StateS

	case OwnerL1:
		owner := rec.L1Sharers.Sole()
		t.mustOwnAlone(rec, owner)
		t.evictStaleL2(rec, owner, cycle)
		t.handler.Evict(rec.Addr, owner, rec.L1Ver, cycle, EvictOMCAndLLC)
		rec.OtherVer = rec.L1Ver
		rec.Owner = OwnerOther

	case OwnerL2:
		owner := rec.L2Sharers.Sole()
		t.handler.Evict(rec.Addr, owner, rec.L2Ver, cycle, EvictOMCAndLLC)
		rec.OtherVer = rec.L2Ver
		rec.Owner = OwnerOther
	}

	t.addSharer(rec, LevelL1, core)
	t.addSharer(rec, LevelL2, core)
	t.handler.CoreRecv(core, rec.OtherVer)
}

// L1Store applies a store issued by core at the given epoch and cycle.
func (t *Table) L1Store(lineAddr uint64, core int, epoch, cycle uint64) {
	rec := t.Insert(lineAddr)

	switch {
	case rec.Owner == OwnerL1 && rec.L1Sharers.Has(core):
		// Store to an already-owned line.
		t.mustOwnAlone(rec, core)
		if rec.L1Ver == epoch {
			return
		}

		t.evictStaleL2(rec, core, cycle)
		rec.L2State = StateM
		rec.L2Ver = rec.L1Ver
		rec.L1Ver = epoch

	case rec.Owner == OwnerL2 && rec.L2Sharers.Has(core):
		// L2 keeps its dirty version; the L1 write happens over it, so a
		// later L1 eviction of the same version is simply discarded.
		rec.Owner = OwnerL1
		rec.L1State = StateM
		rec.L1Ver = epoch
		t.setSoleSharer(rec, LevelL1, core)

	case rec.Owner == OwnerOther:
		rec.Owner = OwnerL1
		rec.L1State = StateM
		rec.L1Ver = epoch
		rec.L2State = StateS
		rec.L2Ver = rec.OtherVer
		t.setSoleSharer(rec, LevelL1, core)
		t.setSoleSharer(rec, LevelL2, core)
		t.handler.CoreRecv(core, rec.OtherVer)

	case rec.Owner == OwnerL1:
		// Dirty transfer from another core's L1. The transferred version
		// stays dirty in the new L2 without a writeback.
		oldOwner := rec.L1Sharers.Sole()
		t.mustOwnAlone(rec, oldOwner)
		t.evictStaleL2(rec, oldOwner, cycle)

		recvVersion := rec.L1Ver
		rec.L2Ver = rec.L1Ver
		rec.L1Ver = epoch
		rec.L1State = StateM
		rec.L2State = StateM
		t.setSoleSharer(rec, LevelL1, core)
		t.setSoleSharer(rec, LevelL2, core)
		t.handler.CoreRecv(core, recvVersion)

	default:
		// Dirty transfer from another core's L2.
		if rec.Owner != OwnerL2 || rec.L2State != StateM {
			panic(fmt.Sprintf("unexpected store state for line 0x%X: %s",
				rec.Addr, rec))
		}

		recvVersion := rec.L2Ver
		rec.Owner = OwnerL1
		rec.L1State = StateM
		rec.L1Ver = epoch
		t.setSoleSharer(rec, LevelL1, core)
		t.setSoleSharer(rec, LevelL2, core)
		t.handler.CoreRecv(core, recvVersion)
	}
}

// L1Evict applies an L1 eviction notification from core.
func (t *Table) L1Evict(lineAddr uint64, core int, cycle uint64) {
	rec := t.Insert(lineAddr)

	if !rec.L1Sharers.Has(core) || !rec.L2Sharers.Has(core) {
		panic(fmt.Sprintf(
			"L1 eviction of line 0x%X not cached by core %d", lineAddr, core))
	}

	switch rec.Owner {
	case OwnerL1:
		t.mustOwnAlone(rec, core)
		t.evictStaleL2(rec, core, cycle)
		rec.Owner = OwnerL2
		rec.L1State = StateI
		rec.L2State = StateM
		rec.L2Ver = rec.L1Ver
		t.removeSharer(rec, LevelL1, core)

	case OwnerL2:
		rec.L1State = StateI
		t.removeSharer(rec, LevelL1, core)

	case OwnerOther:
		t.removeSharer(rec, LevelL1, core)
	}
}

// L2Evict applies an L2 eviction notification from core. The hierarchy is
// inclusive, so the core's L1 copy goes too.
func (t *Table) L2Evict(lineAddr uint64, core int, cycle uint64) {
	rec := t.Insert(lineAddr)

	if !rec.L2Sharers.Has(core) {
		panic(fmt.Sprintf(
			"L2 eviction of line 0x%X not cached by core %d", lineAddr, core))
	}

	switch rec.Owner {
	case OwnerL1:
		t.mustOwnAlone(rec, core)
		t.evictStaleL2(rec, core, cycle)
		t.handler.Evict(rec.Addr, core, rec.L1Ver, cycle, EvictOMCAndLLC)
		rec.Owner = OwnerOther
		rec.OtherVer = rec.L1Ver
		t.removeSharer(rec, LevelL1, core)
		t.removeSharer(rec, LevelL2, core)

	case OwnerL2:
		t.handler.Evict(rec.Addr, core, rec.L2Ver, cycle, EvictOMCAndLLC)
		rec.Owner = OwnerOther
		rec.OtherVer = rec.L2Ver
		if rec.L1Sharers.Has(core) {
			t.removeSharer(rec, LevelL1, core)
		}
		t.removeSharer(rec, LevelL2, core)

	case OwnerOther:
		if rec.L1Sharers.Has(core) {
			t.removeSharer(rec, LevelL1, core)
		}
		t.removeSharer(rec, LevelL2, core)
	}
}

// L3Evict applies an LLC eviction. The LLC is inclusive over all cores, so
// every upper-level copy of the line goes.
func (t *Table) L3Evict(lineAddr uint64, core int, cycle uint64) {
	rec := t.Insert(lineAddr)

	if rec.Owner == OwnerOther {
		t.clearSharers(rec, LevelL1)
		t.clearSharers(rec, LevelL2)
		return
	}

	// Exactly one core holds the dirty copy; its L2 eviction path covers
	// the writebacks. The event's core id is irrelevant here.
	_ = core
	t.L2Evict(lineAddr, rec.L2Sharers.Sole(), cycle)
}
