package vtable

import (
	"fmt"

	"github.com/sarchlab/nvoverlay/bitmap"
)

// Owner identifies which cache holds the authoritative dirty version of a
// line. OwnerOther means LLC+DRAM, i.e. the line is clean.
type Owner int

// The owners.
const (
	OwnerOther Owner = iota
	OwnerL1
	OwnerL2
)

func (o Owner) String() string {
	switch o {
	case OwnerOther:
		return "OTHER"
	case OwnerL1:
		return "L1"
	case OwnerL2:
		return "L2"
	}

	return fmt.Sprintf("Owner(%d)", int(o))
}

// State is the MESI-reduced state of a line at one cache level. It is only
// meaningful while a cache level owns the line.
type State int

// The states.
const (
	StateI State = iota
	StateS
	StateM
)

func (s State) String() string {
	switch s {
	case StateI:
		return "I"
	case StateS:
		return "S"
	case StateM:
		return "M"
	}

	return fmt.Sprintf("State(%d)", int(s))
}

// Level selects a private cache level.
type Level int

// The private cache levels.
const (
	LevelL1 Level = iota
	LevelL2
)

func (l Level) String() string {
	switch l {
	case LevelL1:
		return "L1"
	case LevelL2:
		return "L2"
	}

	return fmt.Sprintf("Level(%d)", int(l))
}

// A Record tracks the ownership, per-level states and versions, and sharer
// sets of one cache line.
type Record struct {
	Addr uint64

	Owner Owner

	L1State State
	L2State State

	L1Ver    uint64
	L2Ver    uint64
	OtherVer uint64

	L1Sharers bitmap.Bitmap64
	L2Sharers bitmap.Bitmap64
}

// Sharers returns the sharer set of the given level.
func (r *Record) Sharers(level Level) *bitmap.Bitmap64 {
	if level == LevelL1 {
		return &r.L1Sharers
	}

	return &r.L2Sharers
}

func (r *Record) String() string {
	if r.Owner == OwnerOther {
		return fmt.Sprintf("[OTHER] ver %d; L1 %s L2 %s; addr 0x%X",
			r.OtherVer, r.L1Sharers.String(), r.L2Sharers.String(), r.Addr)
	}

	return fmt.Sprintf("[%s] L1 %s @ %d; L2 %s @ %d; L1 %s L2 %s; addr 0x%X",
		r.Owner, r.L1State, r.L1Ver, r.L2State, r.L2Ver,
		r.L1Sharers.String(), r.L2Sharers.String(), r.Addr)
}
