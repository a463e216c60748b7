package nvoverlay

import (
	"fmt"

	"github.com/sarchlab/nvoverlay/tracer"
)

// Run drives a sink with every record of a trace, in serial order, and
// returns the cycle of the last record and the number of records applied.
// Instruction and cycle markers pass through uncounted.
func Run(r *tracer.Reader, sink EventSink) (lastCycle, applied uint64) {
	for {
		rec, ok := r.Next()
		if !ok {
			return lastCycle, applied
		}

		lastCycle = rec.Cycle
		core := int(rec.Core)

		switch rec.Type {
		case tracer.TypeLoad:
			sink.Load(core, rec.LineAddr, rec.Cycle)
		case tracer.TypeStore:
			sink.Store(core, rec.LineAddr, rec.Cycle)
		case tracer.TypeL1Evict:
			sink.L1Evict(core, rec.LineAddr, rec.Cycle)
		case tracer.TypeL2Evict:
			sink.L2Evict(core, rec.LineAddr, rec.Cycle)
		case tracer.TypeL3Evict:
			sink.L3Evict(core, rec.LineAddr, rec.Cycle)
		case tracer.TypeInst, tracer.TypeCycle:
			continue
		default:
			panic(fmt.Sprintf("unknown trace record type: %d", rec.Type))
		}

		applied++
	}
}
