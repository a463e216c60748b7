// Package bitmap provides a fixed 64-bit set used for sharer lists and
// overlay-page line presence.
package bitmap

import (
	"fmt"
	"math/bits"
	"strings"
)

// Bitmap64 is a set over [0, 64). The zero value is the empty set.
type Bitmap64 struct {
	bits uint64
}

func checkPos(pos int) {
	if pos < 0 || pos > 63 {
		panic(fmt.Sprintf("bitmap position out of range: %d", pos))
	}
}

// Add sets the bit at pos.
func (b *Bitmap64) Add(pos int) {
	checkPos(pos)
	b.bits |= 1 << uint(pos)
}

// Remove clears the bit at pos.
func (b *Bitmap64) Remove(pos int) {
	checkPos(pos)
	b.bits &^= 1 << uint(pos)
}

// Has reports whether the bit at pos is set.
func (b *Bitmap64) Has(pos int) bool {
	checkPos(pos)
	return b.bits&(1<<uint(pos)) != 0
}

// PopCount returns the number of set bits.
func (b *Bitmap64) PopCount() int {
	return bits.OnesCount64(b.bits)
}

// Clear removes all members.
func (b *Bitmap64) Clear() {
	b.bits = 0
}

// Iter returns the smallest member greater than prev, or -1 when there is
// none. Starting with prev = -1 enumerates all members in ascending order.
func (b *Bitmap64) Iter(prev int) int {
	if prev < -1 || prev > 63 {
		panic(fmt.Sprintf("bitmap iterator position out of range: %d", prev))
	}

	rest := b.bits >> uint(prev+1) << uint(prev+1)
	if rest == 0 {
		return -1
	}

	return bits.TrailingZeros64(rest)
}

// Sole returns the only member of a singleton set. It panics if the set does
// not have exactly one member.
func (b *Bitmap64) Sole() int {
	if b.PopCount() != 1 {
		panic(fmt.Sprintf("bitmap is not a singleton: %s", b))
	}

	return bits.TrailingZeros64(b.bits)
}

// String renders the members as a comma-separated list.
func (b *Bitmap64) String() string {
	members := make([]string, 0, b.PopCount())
	for pos := b.Iter(-1); pos != -1; pos = b.Iter(pos) {
		members = append(members, fmt.Sprintf("%d", pos))
	}

	return "[" + strings.Join(members, ", ") + "]"
}
