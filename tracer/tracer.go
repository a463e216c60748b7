// Package tracer reads and writes memory event traces. Records are fixed
// 27-byte little-endian tuples; each core gets its own stream file, and the
// reader merges the streams back into one serialized event sequence.
package tracer

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// Type tags a trace record.
type Type uint8

// The record types.
const (
	TypeLoad Type = iota
	TypeStore
	TypeL1Evict
	TypeL2Evict
	TypeL3Evict
	TypeInst
	TypeCycle
)

func (t Type) String() string {
	names := []string{
		"LOAD", "STORE", "L1_EVICT", "L2_EVICT", "L3_EVICT", "INST", "CYCLE",
	}
	if int(t) < len(names) {
		return names[t]
	}

	return fmt.Sprintf("Type(%d)", uint8(t))
}

// A Record is one trace event. Serial numbers define the global order
// across the per-core streams.
type Record struct {
	Type     Type
	Core     uint16
	LineAddr uint64
	Cycle    uint64
	Serial   uint64
}

// RecordSize is the on-disk record size in bytes.
const RecordSize = 1 + 2 + 8 + 8 + 8

func (r *Record) encode(buf []byte) {
	buf[0] = byte(r.Type)
	binary.LittleEndian.PutUint16(buf[1:], r.Core)
	binary.LittleEndian.PutUint64(buf[3:], r.LineAddr)
	binary.LittleEndian.PutUint64(buf[11:], r.Cycle)
	binary.LittleEndian.PutUint64(buf[19:], r.Serial)
}

func (r *Record) decode(buf []byte) {
	r.Type = Type(buf[0])
	r.Core = binary.LittleEndian.Uint16(buf[1:])
	r.LineAddr = binary.LittleEndian.Uint64(buf[3:])
	r.Cycle = binary.LittleEndian.Uint64(buf[11:])
	r.Serial = binary.LittleEndian.Uint64(buf[19:])
}

func streamPath(base string, core int) string {
	return fmt.Sprintf("%s.%d", base, core)
}

// A Writer appends records to per-core stream files. It also satisfies the
// orchestrator's event-sink interface so tracer mode can record a run
// instead of simulating it.
type Writer struct {
	files   []*os.File
	streams []*bufio.Writer

	serial     uint64
	typeCounts [7]uint64
}

// NewWriter creates one stream file per core under the base path.
func NewWriter(base string, cores int) *Writer {
	if cores < 1 {
		panic(fmt.Sprintf("trace writer needs at least one core, got %d",
			cores))
	}

	w := &Writer{
		files:   make([]*os.File, cores),
		streams: make([]*bufio.Writer, cores),
	}

	for i := range w.files {
		f, err := os.Create(streamPath(base, i))
		if err != nil {
			panic(fmt.Sprintf("cannot create trace stream: %v", err))
		}
		w.files[i] = f
		w.streams[i] = bufio.NewWriter(f)
	}

	return w
}

// Insert appends a record to the core's stream, assigning the next serial.
func (w *Writer) Insert(t Type, core int, lineAddr, cycle uint64) {
	if core < 0 || core >= len(w.streams) {
		panic(fmt.Sprintf("trace core id out of range: %d", core))
	}

	rec := Record{
		Type:     t,
		Core:     uint16(core),
		LineAddr: lineAddr,
		Cycle:    cycle,
		Serial:   w.serial,
	}
	w.serial++
	w.typeCounts[t]++

	var buf [RecordSize]byte
	rec.encode(buf[:])

	if _, err := w.streams[core].Write(buf[:]); err != nil {
		panic(fmt.Sprintf("cannot write trace record: %v", err))
	}
}

// Load records a load event.
func (w *Writer) Load(core int, lineAddr, cycle uint64) {
	w.Insert(TypeLoad, core, lineAddr, cycle)
}

// Store records a store event.
func (w *Writer) Store(core int, lineAddr, cycle uint64) {
	w.Insert(TypeStore, core, lineAddr, cycle)
}

// L1Evict records an L1 eviction event.
func (w *Writer) L1Evict(core int, lineAddr, cycle uint64) {
	w.Insert(TypeL1Evict, core, lineAddr, cycle)
}

// L2Evict records an L2 eviction event.
func (w *Writer) L2Evict(core int, lineAddr, cycle uint64) {
	w.Insert(TypeL2Evict, core, lineAddr, cycle)
}

// L3Evict records an L3 eviction event.
func (w *Writer) L3Evict(core int, lineAddr, cycle uint64) {
	w.Insert(TypeL3Evict, core, lineAddr, cycle)
}

// RecordCount returns the number of records written so far.
func (w *Writer) RecordCount() uint64 {
	return w.serial
}

// TypeCount returns the number of records written with the given type.
func (w *Writer) TypeCount(t Type) uint64 {
	return w.typeCounts[t]
}

// Close flushes and closes every stream.
func (w *Writer) Close() {
	for i, s := range w.streams {
		if err := s.Flush(); err != nil {
			panic(fmt.Sprintf("cannot flush trace stream: %v", err))
		}
		if err := w.files[i].Close(); err != nil {
			panic(fmt.Sprintf("cannot close trace stream: %v", err))
		}
	}
}

type stream struct {
	file   *os.File
	reader *bufio.Reader

	head  Record
	valid bool
}

func (s *stream) advance() {
	var buf [RecordSize]byte

	_, err := io.ReadFull(s.reader, buf[:])
	if err == io.EOF {
		s.valid = false
		return
	}
	if err != nil {
		panic(fmt.Sprintf("cannot read trace record: %v", err))
	}

	s.head.decode(buf[:])
	s.valid = true
}

// A Reader merges per-core stream files back into serial order. Ties break
// toward the lower core id.
type Reader struct {
	streams []*stream
}

// NewReader opens the per-core streams under the base path.
func NewReader(base string, cores int) *Reader {
	if cores < 1 {
		panic(fmt.Sprintf("trace reader needs at least one core, got %d",
			cores))
	}

	r := &Reader{streams: make([]*stream, cores)}
	for i := range r.streams {
		f, err := os.Open(streamPath(base, i))
		if err != nil {
			panic(fmt.Sprintf("cannot open trace stream: %v", err))
		}

		s := &stream{file: f, reader: bufio.NewReader(f)}
		s.advance()
		r.streams[i] = s
	}

	return r
}

// Next returns the record with the smallest serial across all streams. It
// reports false when every stream is exhausted.
func (r *Reader) Next() (Record, bool) {
	var best *stream
	for _, s := range r.streams {
		if !s.valid {
			continue
		}
		if best == nil || s.head.Serial < best.head.Serial {
			best = s
		}
	}

	if best == nil {
		return Record{}, false
	}

	rec := best.head
	best.advance()

	return rec, true
}

// Close closes every stream.
func (r *Reader) Close() {
	for _, s := range r.streams {
		_ = s.file.Close()
	}
}
