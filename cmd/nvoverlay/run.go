package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sarchlab/nvoverlay/conf"
	"github.com/sarchlab/nvoverlay/datarecording"
	"github.com/sarchlab/nvoverlay/monitoring"
	"github.com/sarchlab/nvoverlay/nvm"
	"github.com/sarchlab/nvoverlay/nvoverlay"
	"github.com/sarchlab/nvoverlay/picl"
	"github.com/sarchlab/nvoverlay/tracer"
)

var (
	confPath    string
	outputPath  string
	monitorOn   bool
	monitorPort int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a trace-driven simulation",
	Long: `run drives the engine selected by nvoverlay.mode ("full" or
"picl") with the trace named by tracer.filename and tracer.cores, then
prints and records the final statistics.`,
	Run: func(cmd *cobra.Command, args []string) {
		runSimulation()
	},
}

func init() {
	runCmd.Flags().StringVar(&confPath, "conf", "nvoverlay.conf",
		"configuration file")
	runCmd.Flags().StringVar(&outputPath, "output", "",
		"base name of the statistics database")
	runCmd.Flags().BoolVar(&monitorOn, "monitor", false,
		"serve live statistics over HTTP")
	runCmd.Flags().IntVar(&monitorPort, "monitor-port", 0,
		"monitoring port, 0 picks a free one")

	rootCmd.AddCommand(runCmd)
}

func runSimulation() {
	c := conf.Load(confPath)

	traceBase := c.MustString("tracer.filename")
	traceCores := c.MustIntAtLeast("tracer.cores", 1)

	reader := tracer.NewReader(traceBase, traceCores)
	defer reader.Close()

	recorder := datarecording.New(outputPath)

	var applied uint64
	monitor := monitoring.NewMonitor().WithPortNumber(monitorPort)
	monitor.RegisterProgress(func() uint64 { return applied })

	mode := c.MustString("nvoverlay.mode")
	switch mode {
	case "full":
		runFull(c, reader, recorder, monitor, &applied)
	case "picl":
		runPicl(c, reader, recorder, monitor, &applied)
	default:
		panic(fmt.Sprintf("unknown mode in configuration: %q", mode))
	}
}

func runFull(
	c *conf.Conf,
	reader *tracer.Reader,
	recorder datarecording.DataRecorder,
	monitor *monitoring.Monitor,
	applied *uint64,
) {
	engine := nvoverlay.MakeBuilder().WithConf(c).Build()

	monitor.RegisterStats("engine", func() any { return engine.Stats() })
	monitor.RegisterStats("omcbuf", func() any {
		return engine.OMCBuffer().Stats()
	})
	monitor.RegisterStats("overlay", func() any {
		return engine.Overlay().Stats()
	})
	monitor.RegisterStats("omt", func() any { return engine.OMT().Stats() })
	monitor.RegisterStats("nvm", func() any { return engine.NVM().Stats() })
	if monitorOn {
		monitor.StartServer()
	}

	lastCycle, count := nvoverlay.Run(reader, countingSink{engine, applied})

	fmt.Printf("Finished trace-driven simulation @ cycle %d (%d events)\n",
		lastCycle, count)
	printFullStats(engine)
	recordFullStats(recorder, engine)
}

func runPicl(
	c *conf.Conf,
	reader *tracer.Reader,
	recorder datarecording.DataRecorder,
	monitor *monitoring.Monitor,
	applied *uint64,
) {
	nvmComp := nvm.MakeBuilder().
		WithBankCount(c.MustPowerOfTwo("nvm.banks")).
		WithReadLatency(uint64(c.MustIntAtLeast("nvm.rlat", 0))).
		WithWriteLatency(uint64(c.MustIntAtLeast("nvm.wlat", 0))).
		Build()

	engine := picl.MakeBuilder().
		WithNVM(nvmComp).
		WithEpochSize(c.MustSizeAtLeast("picl.epoch_size", 1)).
		Build()

	monitor.RegisterStats("picl", func() any { return engine.Stats() })
	monitor.RegisterStats("nvm", func() any { return nvmComp.Stats() })
	if monitorOn {
		monitor.StartServer()
	}

	lastCycle, count := nvoverlay.Run(reader, countingSink{engine, applied})

	fmt.Printf("Finished trace-driven simulation @ cycle %d (%d events)\n",
		lastCycle, count)

	s := engine.Stats()
	fmt.Printf("picl: lines %d epochs %d stores %d\n",
		s.LineCount, s.EpochCount, s.TotalStoreCount)
	n := nvmComp.Stats()
	fmt.Printf("nvm: writes %d (uncontended %d) sync @ %d\n",
		n.WriteCount, n.UncontendedWriteCount, nvmComp.Sync())

	recorder.CreateTable("picl", s)
	recorder.InsertData("picl", s)
	recorder.CreateTable("nvm", n)
	recorder.InsertData("nvm", n)
	recorder.Flush()
}

// countingSink forwards events to a sink while counting them for the
// monitor's progress endpoint.
type countingSink struct {
	sink    nvoverlay.EventSink
	applied *uint64
}

func (s countingSink) Load(core int, lineAddr, cycle uint64) {
	*s.applied++
	s.sink.Load(core, lineAddr, cycle)
}

func (s countingSink) Store(core int, lineAddr, cycle uint64) {
	*s.applied++
	s.sink.Store(core, lineAddr, cycle)
}

func (s countingSink) L1Evict(core int, lineAddr, cycle uint64) {
	*s.applied++
	s.sink.L1Evict(core, lineAddr, cycle)
}

func (s countingSink) L2Evict(core int, lineAddr, cycle uint64) {
	*s.applied++
	s.sink.L2Evict(core, lineAddr, cycle)
}

func (s countingSink) L3Evict(core int, lineAddr, cycle uint64) {
	*s.applied++
	s.sink.L3Evict(core, lineAddr, cycle)
}
