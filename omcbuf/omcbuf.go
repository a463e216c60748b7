// Package omcbuf provides the set-associative write-combining buffer that
// sits between the coherence engine and the overlay. Entries are keyed by
// (tag, epoch): the same line dirtied in two epochs occupies two entries, so
// deferring the writes never collapses versions that must persist
// separately.
package omcbuf

import (
	"fmt"
	"math/bits"
)

const lineBits = 6

// invalidEpoch marks an empty slot. Real epochs never reach this value.
const invalidEpoch = ^uint64(0)

// An EvictHandler receives entries pushed out of the buffer.
type EvictHandler interface {
	OMCEvict(lineAddr, epoch, cycle uint64)
}

type entry struct {
	tag   uint64
	epoch uint64
	lru   uint64
}

// Buffer is the write-combining cache.
type Buffer struct {
	sets    int
	ways    int
	setBits int
	setMask uint64

	entries    []entry
	lruCounter uint64

	handler EvictHandler

	accessCount uint64
	hitCount    uint64
	missCount   uint64
	evictCount  uint64
}

// Stats is a snapshot of the access counters.
type Stats struct {
	AccessCount uint64
	HitCount    uint64
	MissCount   uint64
	EvictCount  uint64
}

// Builder builds Buffers.
type Builder struct {
	sets    int
	ways    int
	handler EvictHandler
}

// MakeBuilder returns a builder with no defaults set.
func MakeBuilder() Builder {
	return Builder{}
}

// WithSets sets the number of sets. It must be a power of two.
func (b Builder) WithSets(sets int) Builder {
	b.sets = sets
	return b
}

// WithWays sets the associativity. It must be a power of two.
func (b Builder) WithWays(ways int) Builder {
	b.ways = ways
	return b
}

// WithEvictHandler sets the handler that receives evicted entries.
func (b Builder) WithEvictHandler(h EvictHandler) Builder {
	b.handler = h
	return b
}

// Build builds the buffer.
func (b Builder) Build() *Buffer {
	if b.sets < 1 || bits.OnesCount(uint(b.sets)) != 1 {
		panic(fmt.Sprintf("omcbuf sets must be a power of two, not %d", b.sets))
	}

	if b.ways < 1 || bits.OnesCount(uint(b.ways)) != 1 {
		panic(fmt.Sprintf("omcbuf ways must be a power of two, not %d", b.ways))
	}

	if b.handler == nil {
		panic("omcbuf needs an evict handler")
	}

	buf := &Buffer{
		sets:    b.sets,
		ways:    b.ways,
		setBits: bits.TrailingZeros(uint(b.sets)),
		setMask: uint64(b.sets) - 1,
		entries: make([]entry, b.sets*b.ways),
		handler: b.handler,
	}

	for i := range buf.entries {
		buf.entries[i].epoch = invalidEpoch
	}

	return buf
}

// Insert records a write of the line at addr tagged with epoch. A matching
// (tag, epoch) entry absorbs the write; otherwise the entry fills an empty
// way or displaces the set's LRU entry, handing the victim to the evict
// handler with the given cycle.
func (b *Buffer) Insert(lineAddr, epoch, cycle uint64) {
	if epoch == invalidEpoch {
		panic("omcbuf insert with the reserved empty-slot epoch")
	}

	if lineAddr&(1<<lineBits-1) != 0 {
		panic(fmt.Sprintf("omcbuf insert with unaligned address 0x%X",
			lineAddr))
	}

	b.accessCount++

	setIndex := (lineAddr >> lineBits) & b.setMask
	tag := lineAddr >> (lineBits + uint(b.setBits))
	set := b.entries[int(setIndex)*b.ways : (int(setIndex)+1)*b.ways]

	for i := range set {
		if set[i].tag == tag && set[i].epoch == epoch {
			b.hitCount++
			b.lruCounter++
			set[i].lru = b.lruCounter
			return
		}

		if set[i].epoch == invalidEpoch {
			b.missCount++
			b.fill(&set[i], tag, epoch)
			return
		}
	}

	b.missCount++

	victim := &set[0]
	for i := 1; i < len(set); i++ {
		if set[i].lru < victim.lru {
			victim = &set[i]
		}
	}

	evictAddr := (victim.tag<<uint(b.setBits) | setIndex) << lineBits
	b.handler.OMCEvict(evictAddr, victim.epoch, cycle)
	b.evictCount++

	b.fill(victim, tag, epoch)
}

func (b *Buffer) fill(e *entry, tag, epoch uint64) {
	e.tag = tag
	e.epoch = epoch
	b.lruCounter++
	e.lru = b.lruCounter
}

// HasEpochAtOrBelow reports whether any buffered entry is tagged with the
// given epoch or an older one. The stable-epoch sweep uses it to keep an
// epoch from merging while its writebacks are still parked here.
func (b *Buffer) HasEpochAtOrBelow(epoch uint64) bool {
	for _, e := range b.entries {
		if e.epoch != invalidEpoch && e.epoch <= epoch {
			return true
		}
	}

	return false
}

// Stats returns a snapshot of the access counters.
func (b *Buffer) Stats() Stats {
	return Stats{
		AccessCount: b.accessCount,
		HitCount:    b.hitCount,
		MissCount:   b.missCount,
		EvictCount:  b.evictCount,
	}
}
