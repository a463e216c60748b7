// Package monitoring turns a running simulation into a small HTTP server
// so its progress and statistics can be watched from a browser.
package monitoring

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"

	"github.com/gorilla/mux"
	"github.com/pkg/browser"
	"github.com/shirou/gopsutil/process"
)

// Monitor serves simulation state over HTTP.
type Monitor struct {
	portNumber int

	lock        sync.Mutex
	statSources map[string]func() any
	progress    func() uint64
}

// NewMonitor creates a new Monitor.
func NewMonitor() *Monitor {
	return &Monitor{
		statSources: make(map[string]func() any),
	}
}

// WithPortNumber sets the port the server listens on. Port 0 picks a free
// one.
func (m *Monitor) WithPortNumber(port int) *Monitor {
	m.portNumber = port
	return m
}

// RegisterStats registers a named statistics source. The source is polled
// on every request, so it always reports live values.
func (m *Monitor) RegisterStats(name string, source func() any) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if _, ok := m.statSources[name]; ok {
		panic(fmt.Sprintf("stats source %q registered twice", name))
	}

	m.statSources[name] = source
}

// RegisterProgress registers the applied-event counter.
func (m *Monitor) RegisterProgress(progress func() uint64) {
	m.progress = progress
}

// StartServer starts serving in the background and opens the statistics
// endpoint in the browser. It returns the address it listens on.
func (m *Monitor) StartServer() string {
	r := mux.NewRouter()
	r.HandleFunc("/api/stats", m.handleStats)
	r.HandleFunc("/api/stats/{name}", m.handleStatsByName)
	r.HandleFunc("/api/progress", m.handleProgress)
	r.HandleFunc("/api/resources", m.handleResources)

	listener, err := net.Listen("tcp",
		fmt.Sprintf("localhost:%d", m.portNumber))
	if err != nil {
		panic(err)
	}

	addr := listener.Addr().String()
	fmt.Fprintf(os.Stderr, "Monitoring simulation at http://%s/api/stats\n",
		addr)

	go func() {
		if err := http.Serve(listener, r); err != nil {
			fmt.Fprintf(os.Stderr, "monitoring server stopped: %v\n", err)
		}
	}()

	_ = browser.OpenURL("http://" + addr + "/api/stats")

	return addr
}

func (m *Monitor) collectStats() map[string]any {
	m.lock.Lock()
	defer m.lock.Unlock()

	stats := make(map[string]any, len(m.statSources))
	for name, source := range m.statSources {
		stats[name] = source()
	}

	return stats
}

func (m *Monitor) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, m.collectStats())
}

func (m *Monitor) handleStatsByName(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	m.lock.Lock()
	source, ok := m.statSources[name]
	m.lock.Unlock()

	if !ok {
		http.Error(w, "unknown stats source", http.StatusNotFound)
		return
	}

	writeJSON(w, source())
}

func (m *Monitor) handleProgress(w http.ResponseWriter, _ *http.Request) {
	var applied uint64
	if m.progress != nil {
		applied = m.progress()
	}

	writeJSON(w, map[string]uint64{"applied": applied})
}

func (m *Monitor) handleResources(w http.ResponseWriter, _ *http.Request) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	memInfo, err := p.MemoryInfo()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]uint64{
		"rss": memInfo.RSS,
		"vms": memInfo.VMS,
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
