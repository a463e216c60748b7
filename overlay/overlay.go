// Package overlay provides the multi-versioned overlay store and its
// mapping table. Cache-line writebacks accumulate into per-epoch overlay
// pages; once an epoch is stable it merges into the OMT, which then locates
// the latest persisted version of every line. Page lifetime is governed by
// OMT reference counts, so the structures carry no back pointers.
package overlay

import (
	"fmt"

	"github.com/sarchlab/nvoverlay/bitmap"
	"github.com/sarchlab/nvoverlay/radix"
)

const (
	lineBits = 6
	pageBits = 12

	lineSize = 1 << lineBits
	pageSize = 1 << pageBits

	linesPerPage = pageSize / lineSize
)

func pageAlign(addr uint64) uint64 {
	return addr &^ (pageSize - 1)
}

func lineOffset(addr uint64) int {
	return int(addr>>lineBits) & (linesPerPage - 1)
}

func mustLineAligned(addr uint64) {
	if addr&(lineSize-1) != 0 {
		panic(fmt.Sprintf("address 0x%X is not line aligned", addr))
	}
}

func mustPageAligned(addr uint64) {
	if addr&(pageSize-1) != 0 {
		panic(fmt.Sprintf("address 0x%X is not page aligned", addr))
	}
}

// A Page records which lines of one 4 KiB page were written in one epoch.
// RefCount rises once per line first written to the page, i.e. per OMT leaf
// the page's merge will point at it, and falls as later merges move those
// leaves to newer epochs.
type Page struct {
	Bitmap   bitmap.Bitmap64
	RefCount int
}

// sizeClass returns the stored byte size of a page holding lineCount lines.
// The class steps up at 4, 8, 16 and 32 lines: up to 3 lines take 256 bytes,
// 4-7 take 512, 8-15 take 1024, 16-31 take 2048, and 32 or more take 4096.
func sizeClass(lineCount int) uint64 {
	if lineCount < 0 || lineCount > linesPerPage {
		panic(fmt.Sprintf("line count out of range: %d", lineCount))
	}

	switch {
	case lineCount <= 3:
		return 256
	case lineCount <= 7:
		return 512
	case lineCount <= 15:
		return 1024
	case lineCount <= 31:
		return 2048
	default:
		return 4096
	}
}

// An Epoch holds the overlay pages written during one epoch.
type Epoch struct {
	epoch     uint64
	pages     *radix.Map[Page]
	pageCount uint64
	size      uint64
	merged    bool
}

func newEpoch(epoch uint64) *Epoch {
	return &Epoch{
		epoch: epoch,
		pages: radix.NewMap[Page](
			radix.Level{StartBit: 39, Bits: 9},
			radix.Level{StartBit: 30, Bits: 9},
			radix.Level{StartBit: 21, Bits: 9},
			radix.Level{StartBit: 12, Bits: 9},
		),
	}
}

// Number returns the epoch id.
func (e *Epoch) Number() uint64 {
	return e.epoch
}

// Merged reports whether the epoch has been merged into the OMT.
func (e *Epoch) Merged() bool {
	return e.merged
}

// PageCount returns the number of live pages in the epoch.
func (e *Epoch) PageCount() uint64 {
	return e.pageCount
}

// Size returns the stored byte size of the epoch's live pages.
func (e *Epoch) Size() uint64 {
	return e.size
}

// FindPage returns the page at the page-aligned address, or nil.
func (e *Epoch) FindPage(pageAddr uint64) *Page {
	mustPageAligned(pageAddr)
	return e.pages.Find(pageAddr)
}

// insert records a line write and returns the bytes the page grew by.
func (e *Epoch) insert(lineAddr uint64) uint64 {
	slot := e.pages.Insert(pageAlign(lineAddr))
	if *slot == nil {
		*slot = &Page{}
		e.pageCount++
	}
	page := *slot

	offset := lineOffset(lineAddr)
	if page.Bitmap.Has(offset) {
		return 0
	}

	before := page.Bitmap.PopCount()
	page.Bitmap.Add(offset)
	page.RefCount++

	var added uint64
	switch before {
	case 0, 3:
		added = 256
	case 7:
		added = 512
	case 15:
		added = 1024
	case 31:
		added = 2048
	}

	e.size += added

	return added
}

// Comp is the overlay store, keyed by epoch number.
type Comp struct {
	epochs map[uint64]*Epoch

	size           uint64
	epochCount     uint64
	epochInitCount uint64
	epochGCCount   uint64
	pageGCCount    uint64
}

// Stats is a snapshot of the overlay counters.
type Stats struct {
	Size           uint64
	EpochCount     uint64
	EpochInitCount uint64
	EpochGCCount   uint64
	PageGCCount    uint64
}

// New creates an empty overlay store.
func New() *Comp {
	return &Comp{epochs: make(map[uint64]*Epoch)}
}

// Insert records a writeback of the line at lineAddr tagged with epoch,
// creating the overlay epoch on first touch. Inserting into a merged epoch
// is a usage error.
func (c *Comp) Insert(lineAddr, epoch uint64) {
	mustLineAligned(lineAddr)

	e, ok := c.epochs[epoch]
	if !ok {
		e = newEpoch(epoch)
		c.epochs[epoch] = e
		c.epochCount++
		c.epochInitCount++
	}

	if e.merged {
		panic(fmt.Sprintf(
			"overlay epoch %d has been merged, insert is disabled", epoch))
	}

	c.size += e.insert(lineAddr)
}

// Find returns the overlay epoch with the given number, or nil.
func (c *Comp) Find(epoch uint64) *Epoch {
	return c.epochs[epoch]
}

// EpochMerge merges the epoch into the OMT: every present line's OMT slot
// is pointed at this epoch, unlinking whichever epoch held the line before.
// It reports false, and changes nothing, when no overlay data exists for the
// epoch; merging an epoch twice is a usage error.
func (c *Comp) EpochMerge(epoch uint64, omt *OMT) bool {
	e, ok := c.epochs[epoch]
	if !ok {
		return false
	}

	if e.merged {
		panic(fmt.Sprintf("overlay epoch %d has already been merged", epoch))
	}
	e.merged = true

	e.pages.Traverse(func(pageAddr uint64, page *Page) {
		for off := page.Bitmap.Iter(-1); off != -1; off = page.Bitmap.Iter(off) {
			lineAddr := pageAddr | uint64(off)<<lineBits
			old := omt.MergeLine(e, lineAddr)
			if old != nil {
				c.unlink(old, pageAddr)
			}
		}
	})

	return true
}

// unlink drops one OMT reference to the page at pageAddr in the given
// epoch, reclaiming the page and then the epoch when nothing points at
// them anymore.
func (c *Comp) unlink(e *Epoch, pageAddr uint64) {
	page := e.FindPage(pageAddr)
	if page == nil {
		panic(fmt.Sprintf(
			"no overlay page 0x%X in epoch %d to unlink", pageAddr, e.epoch))
	}

	if page.RefCount <= 0 {
		panic(fmt.Sprintf(
			"overlay page 0x%X in epoch %d has no references left",
			pageAddr, e.epoch))
	}

	page.RefCount--
	if page.RefCount > 0 {
		return
	}

	c.pageGCCount++
	e.pageCount--

	reclaimed := sizeClass(page.Bitmap.PopCount())
	e.size -= reclaimed
	c.size -= reclaimed

	if e.pageCount == 0 {
		c.gcEpoch(e)
	}
}

func (c *Comp) gcEpoch(e *Epoch) {
	if e.size != 0 {
		panic(fmt.Sprintf(
			"overlay epoch %d reclaimed with %d bytes still accounted",
			e.epoch, e.size))
	}

	delete(c.epochs, e.epoch)
	c.epochCount--
	c.epochGCCount++
}

// Stats returns a snapshot of the overlay counters.
func (c *Comp) Stats() Stats {
	return Stats{
		Size:           c.size,
		EpochCount:     c.epochCount,
		EpochInitCount: c.epochInitCount,
		EpochGCCount:   c.epochGCCount,
		PageGCCount:    c.pageGCCount,
	}
}
