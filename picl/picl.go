// Package picl implements the baseline persistence scheme used for
// comparison: every first store to a line in an epoch appends the line to a
// sequential log, and the whole dirty working set flushes when the epoch
// advances. Only stores and LLC evictions matter to it.
package picl

import "fmt"

const lineSize = 64

// An NVM accepts the timed writes the baseline issues.
type NVM interface {
	Write(addr, submitCycle uint64) uint64
}

// Comp is the baseline engine. Its methods match the orchestrator's event
// sink, so it can drive a run in place of the full engine.
type Comp struct {
	lines     map[uint64]struct{}
	nvm       NVM
	epochSize uint64

	logPtr          uint64
	epochCount      uint64
	epochStoreCount uint64
	totalStoreCount uint64
}

// Stats is a snapshot of the baseline counters.
type Stats struct {
	LineCount       uint64
	EpochCount      uint64
	TotalStoreCount uint64
}

// Builder builds baseline engines.
type Builder struct {
	nvm       NVM
	epochSize uint64
}

// MakeBuilder returns a builder with no defaults set.
func MakeBuilder() Builder {
	return Builder{}
}

// WithNVM sets the timing model that receives log writes.
func (b Builder) WithNVM(n NVM) Builder {
	b.nvm = n
	return b
}

// WithEpochSize sets the store count per epoch.
func (b Builder) WithEpochSize(n uint64) Builder {
	b.epochSize = n
	return b
}

// Build builds the engine.
func (b Builder) Build() *Comp {
	if b.nvm == nil {
		panic("picl needs an NVM timing model")
	}

	if b.epochSize < 1 {
		panic(fmt.Sprintf("picl epoch size must be positive, not %d",
			b.epochSize))
	}

	return &Comp{
		lines:     make(map[uint64]struct{}),
		nvm:       b.nvm,
		epochSize: b.epochSize,
	}
}

// Store logs the line on its first touch of the epoch and advances the
// epoch when the store budget fills.
func (c *Comp) Store(core int, lineAddr, cycle uint64) {
	_ = core

	if lineAddr%lineSize != 0 {
		panic(fmt.Sprintf("line address 0x%X is not aligned", lineAddr))
	}

	if _, ok := c.lines[lineAddr]; !ok {
		c.lines[lineAddr] = struct{}{}
		c.nvm.Write(c.logPtr, cycle)
		c.logPtr += lineSize
	}

	c.epochStoreCount++
	c.totalStoreCount++

	if c.epochStoreCount == c.epochSize {
		c.AdvanceEpoch(cycle)
	}
}

// L3Evict writes the line back if it is in the dirty working set. Clean
// evictions pass through silently.
func (c *Comp) L3Evict(core int, lineAddr, cycle uint64) {
	_ = core

	if lineAddr%lineSize != 0 {
		panic(fmt.Sprintf("line address 0x%X is not aligned", lineAddr))
	}

	if _, ok := c.lines[lineAddr]; ok {
		delete(c.lines, lineAddr)
		c.nvm.Write(lineAddr, cycle)
	}
}

// Load is ignored by the baseline.
func (c *Comp) Load(core int, lineAddr, cycle uint64) {}

// L1Evict is ignored by the baseline.
func (c *Comp) L1Evict(core int, lineAddr, cycle uint64) {}

// L2Evict is ignored by the baseline.
func (c *Comp) L2Evict(core int, lineAddr, cycle uint64) {}

// AdvanceEpoch writes every line of the dirty working set back to its own
// address, then resets the set and the log pointer.
func (c *Comp) AdvanceEpoch(cycle uint64) {
	for addr := range c.lines {
		c.nvm.Write(addr, cycle)
	}

	c.lines = make(map[uint64]struct{})
	c.epochCount++
	c.logPtr = 0
	c.epochStoreCount = 0
}

// Stats returns a snapshot of the baseline counters.
func (c *Comp) Stats() Stats {
	return Stats{
		LineCount:       uint64(len(c.lines)),
		EpochCount:      c.epochCount,
		TotalStoreCount: c.totalStoreCount,
	}
}
