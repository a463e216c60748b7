package overlay

import (
	"github.com/sarchlab/nvoverlay/radix"
)

// OMT is the overlay mapping table: a five-level radix index from line
// address to the overlay epoch holding the latest merged version of that
// line. Leaves are non-owning handles; the overlay's reference counts
// track them.
type OMT struct {
	table      *radix.Map[Epoch]
	writeCount uint64
}

// OMTStats is a snapshot of the OMT counters.
type OMTStats struct {
	PageCount  uint64
	Size       uint64
	WriteCount uint64
}

// NewOMT creates an empty mapping table covering the 42-bit line key space.
func NewOMT() *OMT {
	return &OMT{
		table: radix.NewMap[Epoch](
			radix.Level{StartBit: 39, Bits: 9},
			radix.Level{StartBit: 30, Bits: 9},
			radix.Level{StartBit: 21, Bits: 9},
			radix.Level{StartBit: 12, Bits: 9},
			radix.Level{StartBit: 6, Bits: 6},
		),
	}
}

// MergeLine points the line's slot at the given epoch and returns the epoch
// it displaced, if any. Each merge charges one write for the leaf update
// plus one per interior node the insert materialized.
func (t *OMT) MergeLine(e *Epoch, lineAddr uint64) *Epoch {
	mustLineAligned(lineAddr)

	before := t.table.PageCount()
	slot := t.table.Insert(lineAddr)
	t.writeCount += t.table.PageCount() - before + 1

	old := *slot
	*slot = e

	return old
}

// Find returns the epoch owning the latest merged version of the line, or
// nil when the line was never merged.
func (t *OMT) Find(lineAddr uint64) *Epoch {
	mustLineAligned(lineAddr)
	return t.table.Find(lineAddr)
}

// Stats returns a snapshot of the OMT counters.
func (t *OMT) Stats() OMTStats {
	return OMTStats{
		PageCount:  t.table.PageCount(),
		Size:       t.table.Size(),
		WriteCount: t.writeCount,
	}
}
