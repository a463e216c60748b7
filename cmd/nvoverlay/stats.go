package main

import (
	"fmt"

	"github.com/sarchlab/nvoverlay/datarecording"
	"github.com/sarchlab/nvoverlay/nvoverlay"
)

// coreStats is the per-core row recorded at the end of a run.
type coreStats struct {
	Core              int
	Epoch             uint64
	LoadCount         uint64
	StoreCount        uint64
	L1EvictCount      uint64
	L2EvictCount      uint64
	L3EvictCount      uint64
	TagWalkEvictCount uint64
}

func printFullStats(engine *nvoverlay.Comp) {
	s := engine.Stats()
	fmt.Printf("engine: tracked lines %d, OMC evicts %d, LLC evicts %d, "+
		"last stable epoch %d\n",
		s.TrackedLines, s.EvictOMCCount, s.EvictLLCCount, s.LastStableEpoch)

	for i := 0; i < engine.CPU().CoreCount(); i++ {
		core := engine.CPU().Core(i)
		fmt.Printf("core %d: epoch %d loads %d stores %d "+
			"evicts %d/%d/%d walk evicts %d\n",
			i, core.Epoch, core.LoadCount, core.TotalStoreCount,
			core.L1EvictCount, core.L2EvictCount, core.L3EvictCount,
			core.TagWalkEvictCount)
	}

	o := engine.OMCBuffer().Stats()
	fmt.Printf("omcbuf: access %d hit %d miss %d evict %d\n",
		o.AccessCount, o.HitCount, o.MissCount, o.EvictCount)

	v := engine.Overlay().Stats()
	fmt.Printf("overlay: epochs %d (init %d gc %d) pages gc %d size %d\n",
		v.EpochCount, v.EpochInitCount, v.EpochGCCount, v.PageGCCount,
		v.Size)

	m := engine.OMT().Stats()
	fmt.Printf("omt: pages %d size %d writes %d\n",
		m.PageCount, m.Size, m.WriteCount)

	n := engine.NVM().Stats()
	fmt.Printf("nvm: reads %d (uncontended %d) writes %d (uncontended %d) "+
		"sync @ %d\n",
		n.ReadCount, n.UncontendedReadCount,
		n.WriteCount, n.UncontendedWriteCount, engine.NVM().Sync())
}

func recordFullStats(
	recorder datarecording.DataRecorder,
	engine *nvoverlay.Comp,
) {
	recorder.CreateTable("engine", engine.Stats())
	recorder.InsertData("engine", engine.Stats())

	recorder.CreateTable("cores", coreStats{})
	for i := 0; i < engine.CPU().CoreCount(); i++ {
		core := engine.CPU().Core(i)
		recorder.InsertData("cores", coreStats{
			Core:              i,
			Epoch:             core.Epoch,
			LoadCount:         core.LoadCount,
			StoreCount:        core.TotalStoreCount,
			L1EvictCount:      core.L1EvictCount,
			L2EvictCount:      core.L2EvictCount,
			L3EvictCount:      core.L3EvictCount,
			TagWalkEvictCount: core.TagWalkEvictCount,
		})
	}

	recorder.CreateTable("cpu", engine.CPU().Stats())
	recorder.InsertData("cpu", engine.CPU().Stats())

	recorder.CreateTable("omcbuf", engine.OMCBuffer().Stats())
	recorder.InsertData("omcbuf", engine.OMCBuffer().Stats())

	recorder.CreateTable("overlay", engine.Overlay().Stats())
	recorder.InsertData("overlay", engine.Overlay().Stats())

	recorder.CreateTable("omt", engine.OMT().Stats())
	recorder.InsertData("omt", engine.OMT().Stats())

	recorder.CreateTable("nvm", engine.NVM().Stats())
	recorder.InsertData("nvm", engine.NVM().Stats())

	recorder.Flush()
}
