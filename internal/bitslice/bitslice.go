// Package bitslice decomposes a single uint32 word into adjacent bit fields
// that can be read and replaced independently while the whole word is updated
// with one compare-and-swap.
package bitslice

import (
	"fmt"

	"go.uber.org/atomic"
)

// Slice is a run of Width bits starting at Lo inside a uint32 host word.
type Slice struct {
	Lo    uint
	Width uint
	mask  uint32
}

func newSlice(lo, width uint) Slice {
	if width == 0 || lo+width > 32 {
		panic(fmt.Sprintf("bitslice: [%d, %d) doesn't fit into uint32", lo, lo+width))
	}
	return Slice{Lo: lo, Width: width, mask: uint32(1)<<width - 1}
}

func next(prev []Slice) uint {
	if len(prev) == 0 {
		return 0
	}
	return prev[0].Hi() + 1
}

// Int returns a slice of width bits placed right after prev (or at bit 0).
func Int(width uint, prev ...Slice) Slice {
	return newSlice(next(prev), width)
}

// Bool returns a one-bit slice placed right after prev (or at bit 0).
func Bool(prev ...Slice) Slice {
	return newSlice(next(prev), 1)
}

// Enum returns a slice wide enough to hold values in [0, count) placed right
// after prev (or at bit 0).
func Enum(count uint32, prev ...Slice) Slice {
	width := uint(1)
	for uint32(1)<<width < count {
		width++
	}
	return newSlice(next(prev), width)
}

// Hi is the index of the highest bit of the slice.
func (s Slice) Hi() uint { return s.Lo + s.Width - 1 }

// Max is the largest value the slice can hold.
func (s Slice) Max() uint32 { return s.mask }

// Get extracts the slice value from host.
func (s Slice) Get(host uint32) uint32 {
	return (host >> s.Lo) & s.mask
}

// Bool extracts a one-bit slice as a bool.
func (s Slice) Bool(host uint32) bool {
	return s.Get(host) != 0
}

// Updated returns host with the slice replaced by value. Bits of value that
// don't fit into the slice are dropped.
func (s Slice) Updated(host, value uint32) uint32 {
	return host&^(s.mask<<s.Lo) | (value&s.mask)<<s.Lo
}

// UpdatedBool is Updated for one-bit slices.
func (s Slice) UpdatedBool(host uint32, value bool) uint32 {
	if value {
		return s.Updated(host, 1)
	}
	return s.Updated(host, 0)
}

// AtomicUpdate replaces the slice inside word, retrying until the CAS wins.
// Other slices of the word are preserved as they are at the moment of the
// successful swap.
func (s Slice) AtomicUpdate(word *atomic.Uint32, value uint32) {
	for {
		old := word.Load()
		if word.CompareAndSwap(old, s.Updated(old, value)) {
			return
		}
	}
}

// AtomicUpdateBool is AtomicUpdate for one-bit slices.
func (s Slice) AtomicUpdateBool(word *atomic.Uint32, value bool) {
	if value {
		s.AtomicUpdate(word, 1)
	} else {
		s.AtomicUpdate(word, 0)
	}
}

func (s Slice) String() string {
	return fmt.Sprintf("BitSlice[%d, %d]", s.Lo, s.Hi())
}
