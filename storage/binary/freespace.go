package binary

import (
	"fmt"
	"sort"

	"github.com/sndnv/syn-storage/logger"
)

// freeChunk is a maximal contiguous unallocated byte range in the body
// region of a Disk Data Pool file.
type freeChunk struct {
	addr uint32
	size uint32
}

// freeSpaceIndex is the dual-indexed free-space allocator of §4.B: one
// map keyed by chunk size (a FIFO queue of addresses per size, to break
// best-fit ties deterministically) and a mirror map keyed by address (to
// find address-contiguous neighbours for coalescing on free; the right
// neighbour is a direct lookup, the left one a scan of the map).
type freeSpaceIndex struct {
	bySize map[uint32][]uint32 // size -> FIFO queue of addresses
	byAddr map[uint32]uint32   // addr -> size
	total  uint64
}

func newFreeSpaceIndex() *freeSpaceIndex {
	return &freeSpaceIndex{
		bySize: make(map[uint32][]uint32),
		byAddr: make(map[uint32]uint32),
	}
}

func (f *freeSpaceIndex) totalFree() uint64 { return f.total }

func (f *freeSpaceIndex) insert(addr, size uint32) {
	f.bySize[size] = append(f.bySize[size], addr)
	f.byAddr[addr] = size
	f.total += uint64(size)
}

// removeExact deletes the specific (addr, size) chunk from both maps. It
// is a no-op if the chunk is not present.
func (f *freeSpaceIndex) removeExact(addr, size uint32) {
	queue, ok := f.bySize[size]
	if !ok {
		return
	}
	for i, a := range queue {
		if a == addr {
			queue = append(queue[:i], queue[i+1:]...)
			break
		}
	}
	if len(queue) == 0 {
		delete(f.bySize, size)
	} else {
		f.bySize[size] = queue
	}
	if cur, ok := f.byAddr[addr]; ok && cur == size {
		delete(f.byAddr, addr)
		f.total -= uint64(size)
	}
}

// allocate finds the smallest free chunk of length >= size (best-fit),
// breaking ties between equally-sized chunks in FIFO order. On an exact
// match the chunk is removed whole; otherwise it is split and the
// remainder is reinserted. Returns (0, false) if no chunk fits.
func (f *freeSpaceIndex) allocate(size uint32) (uint32, bool) {
	bestSize, ok := f.smallestFit(size)
	if !ok {
		logger.TraceIf("freespace", "allocate(%d): no chunk fits", size)
		return 0, false
	}

	queue := f.bySize[bestSize]
	addr := queue[0]
	f.removeExact(addr, bestSize)

	if bestSize == size {
		return addr, true
	}

	remainderAddr := addr + size
	remainderSize := bestSize - size
	f.insert(remainderAddr, remainderSize)
	return addr, true
}

// smallestFit returns the size bucket of the best-fit chunk for size,
// i.e. the smallest bucket key >= size that has at least one chunk.
func (f *freeSpaceIndex) smallestFit(size uint32) (uint32, bool) {
	best := uint32(0)
	found := false
	for candidate, queue := range f.bySize {
		if len(queue) == 0 {
			continue
		}
		if candidate < size {
			continue
		}
		if !found || candidate < best {
			best = candidate
			found = true
		}
	}
	return best, found
}

// canFit reports whether any chunk can satisfy an allocation of size.
func (f *freeSpaceIndex) canFit(size uint32) bool {
	_, ok := f.smallestFit(size)
	return ok
}

// free returns the range [addr, addr+size) to the index, coalescing with
// any address-contiguous neighbor on either side.
func (f *freeSpaceIndex) free(addr, size uint32) {
	newAddr, newSize := addr, size

	// Left neighbor: a chunk whose [a, a+s) ends exactly at newAddr.
	for a, s := range f.byAddr {
		if a+s == newAddr {
			f.removeExact(a, s)
			newAddr = a
			newSize += s
			break
		}
	}

	// Right neighbor: a chunk that starts exactly where the (possibly
	// already-merged) chunk ends.
	if rightSize, ok := f.byAddr[newAddr+newSize]; ok {
		f.removeExact(newAddr+newSize, rightSize)
		newSize += rightSize
	}

	f.insert(newAddr, newSize)
	logger.TraceIf("freespace", "free(%d,%d) -> merged chunk at %d size %d", addr, size, newAddr, newSize)
}

// chunkCount returns the number of maximal free chunks currently tracked,
// used to assert invariant 5 of §8 (free-list coalescing).
func (f *freeSpaceIndex) chunkCount() int {
	return len(f.byAddr)
}

// chunks returns a snapshot of all free chunks, sorted by address. The
// tests use it to inspect the index.
func (f *freeSpaceIndex) chunks() []freeChunk {
	out := make([]freeChunk, 0, len(f.byAddr))
	for a, s := range f.byAddr {
		out = append(out, freeChunk{addr: a, size: s})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].addr < out[j].addr })
	return out
}

// carveOut removes the occupied range [addr, addr+size) from whichever
// free chunk currently covers it, reinserting whatever remains on
// either side. Used only while reconstructing the index from an
// on-disk entity chain (Load); returns an error if no tracked chunk
// covers the range, which indicates overlapping or corrupt entities.
func (f *freeSpaceIndex) carveOut(addr, size uint32) error {
	for a, s := range f.byAddr {
		if a <= addr && addr+size <= a+s {
			f.removeExact(a, s)
			if left := addr - a; left > 0 {
				f.insert(a, left)
			}
			if right := (a + s) - (addr + size); right > 0 {
				f.insert(addr+size, right)
			}
			return nil
		}
	}
	return fmt.Errorf("no free chunk covers range [%d, %d)", addr, addr+size)
}

func (f *freeSpaceIndex) reset(addr, size uint32) {
	f.bySize = make(map[uint32][]uint32)
	f.byAddr = make(map[uint32]uint32)
	f.total = 0
	if size > 0 {
		f.insert(addr, size)
	}
}
