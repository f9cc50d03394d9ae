package gosym

import (
	"math"

	"golang.org/x/exp/slices"
)

// PCIndex is a sorted index of function entry addresses. Most binaries
// fit in 32 bits, so entries are kept as uint32 until a wider address
// shows up, then the whole index is promoted to uint64.
type PCIndex struct {
	i32 []uint32
	i64 []uint64
}

func NewPCIndex(sz int) PCIndex {
	return PCIndex{i32: make([]uint32, sz)}
}

func (it *PCIndex) Set(idx int, value uint64) {
	if it.i32 == nil {
		it.i64[idx] = value
		return
	}
	if value < math.MaxUint32 {
		it.i32[idx] = uint32(value)
		return
	}
	wide := make([]uint64, len(it.i32))
	for j := 0; j < idx; j++ {
		wide[j] = uint64(it.i32[j])
	}
	wide[idx] = value
	it.i32 = nil
	it.i64 = wide
}

func (it *PCIndex) Length() int {
	if it.i32 != nil {
		return len(it.i32)
	}
	return len(it.i64)
}

func (it *PCIndex) Get(idx int) uint64 {
	if it.i32 != nil {
		return uint64(it.i32[idx])
	}
	return it.i64[idx]
}

func (it *PCIndex) Is32() bool {
	return it.i32 != nil
}

// FindIndex returns the index of the greatest entry <= addr,
// or -1 when addr precedes the first entry. Runs of equal entries
// resolve to the first of the run.
func (it *PCIndex) FindIndex(addr uint64) int {
	if it.i32 != nil {
		if len(it.i32) == 0 || addr < uint64(it.i32[0]) {
			return -1
		}
		if addr > math.MaxUint32 {
			// Past every 32 bit entry; the last one wins.
			i := len(it.i32) - 1
			v := it.i32[i]
			for i > 0 && it.i32[i-1] == v {
				i--
			}
			return i
		}
		i, found := slices.BinarySearch(it.i32, uint32(addr))
		if !found {
			i--
		}
		v := it.i32[i]
		for i > 0 && it.i32[i-1] == v {
			i--
		}
		return i
	}
	if len(it.i64) == 0 || addr < it.i64[0] {
		return -1
	}
	i, found := slices.BinarySearch(it.i64, addr)
	if !found {
		i--
	}
	v := it.i64[i]
	for i > 0 && it.i64[i-1] == v {
		i--
	}
	return i
}
