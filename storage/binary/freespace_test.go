package binary

import "testing"

func TestFreeSpaceIndexAllocateExactFit(t *testing.T) {
	f := newFreeSpaceIndex()
	f.insert(0, 100)

	addr, ok := f.allocate(100)
	if !ok || addr != 0 {
		t.Fatalf("allocate(100) = (%d, %v), want (0, true)", addr, ok)
	}
	if f.chunkCount() != 0 {
		t.Fatalf("chunkCount() = %d, want 0 after exact-fit allocation", f.chunkCount())
	}
	if f.totalFree() != 0 {
		t.Fatalf("totalFree() = %d, want 0", f.totalFree())
	}
}

func TestFreeSpaceIndexAllocateSplitsRemainder(t *testing.T) {
	f := newFreeSpaceIndex()
	f.insert(0, 100)

	addr, ok := f.allocate(40)
	if !ok || addr != 0 {
		t.Fatalf("allocate(40) = (%d, %v), want (0, true)", addr, ok)
	}
	if f.chunkCount() != 1 {
		t.Fatalf("chunkCount() = %d, want 1 remainder chunk", f.chunkCount())
	}
	if f.totalFree() != 60 {
		t.Fatalf("totalFree() = %d, want 60", f.totalFree())
	}
	chunks := f.chunks()
	if len(chunks) != 1 || chunks[0].addr != 40 || chunks[0].size != 60 {
		t.Fatalf("unexpected remainder chunk: %+v", chunks)
	}
}

func TestFreeSpaceIndexBestFitPrefersSmallestSufficientChunk(t *testing.T) {
	f := newFreeSpaceIndex()
	f.insert(0, 200)
	f.insert(300, 50)
	f.insert(400, 80)

	addr, ok := f.allocate(60)
	if !ok {
		t.Fatalf("allocate(60) failed")
	}
	if addr != 400 {
		t.Fatalf("allocate(60) chose addr %d, want 400 (the 80-byte chunk, the smallest that fits)", addr)
	}
}

func TestFreeSpaceIndexFIFOTieBreak(t *testing.T) {
	f := newFreeSpaceIndex()
	f.insert(100, 50)
	f.insert(200, 50)
	f.insert(300, 50)

	addr, ok := f.allocate(50)
	if !ok || addr != 100 {
		t.Fatalf("allocate(50) = (%d, %v), want (100, true) as the first-inserted same-size chunk", addr, ok)
	}
}

func TestFreeSpaceIndexAllocateNoFit(t *testing.T) {
	f := newFreeSpaceIndex()
	f.insert(0, 10)

	if _, ok := f.allocate(20); ok {
		t.Fatalf("allocate(20) succeeded against a 10-byte pool")
	}
}

func TestFreeSpaceIndexFreeCoalescesBothNeighbors(t *testing.T) {
	f := newFreeSpaceIndex()
	f.insert(0, 10)
	f.insert(30, 10)

	f.free(10, 20)

	if f.chunkCount() != 1 {
		t.Fatalf("chunkCount() = %d, want 1 after coalescing both neighbors", f.chunkCount())
	}
	chunks := f.chunks()
	if chunks[0].addr != 0 || chunks[0].size != 40 {
		t.Fatalf("unexpected coalesced chunk: %+v", chunks[0])
	}
}

func TestFreeSpaceIndexFreeCoalescesLeftOnly(t *testing.T) {
	f := newFreeSpaceIndex()
	f.insert(0, 10)

	f.free(10, 10)

	chunks := f.chunks()
	if len(chunks) != 1 || chunks[0].addr != 0 || chunks[0].size != 20 {
		t.Fatalf("unexpected chunks after left-only coalesce: %+v", chunks)
	}
}

func TestFreeSpaceIndexFreeNoNeighbors(t *testing.T) {
	f := newFreeSpaceIndex()
	f.insert(0, 10)
	f.insert(100, 10)

	f.free(50, 10)

	if f.chunkCount() != 3 {
		t.Fatalf("chunkCount() = %d, want 3 disjoint chunks", f.chunkCount())
	}
}

func TestFreeSpaceIndexCarveOutMiddle(t *testing.T) {
	f := newFreeSpaceIndex()
	f.insert(0, 100)

	if err := f.carveOut(40, 20); err != nil {
		t.Fatalf("carveOut: %v", err)
	}

	chunks := f.chunks()
	if len(chunks) != 2 {
		t.Fatalf("chunks() = %+v, want 2 remainders", chunks)
	}
	if chunks[0].addr != 0 || chunks[0].size != 40 {
		t.Fatalf("left remainder wrong: %+v", chunks[0])
	}
	if chunks[1].addr != 60 || chunks[1].size != 40 {
		t.Fatalf("right remainder wrong: %+v", chunks[1])
	}
	if f.totalFree() != 80 {
		t.Fatalf("totalFree() = %d, want 80", f.totalFree())
	}
}

func TestFreeSpaceIndexCarveOutWholeChunk(t *testing.T) {
	f := newFreeSpaceIndex()
	f.insert(0, 100)

	if err := f.carveOut(0, 100); err != nil {
		t.Fatalf("carveOut: %v", err)
	}
	if f.chunkCount() != 0 {
		t.Fatalf("chunkCount() = %d, want 0", f.chunkCount())
	}
}

func TestFreeSpaceIndexCarveOutNoCoveringChunk(t *testing.T) {
	f := newFreeSpaceIndex()
	f.insert(0, 10)

	if err := f.carveOut(20, 5); err == nil {
		t.Fatalf("carveOut over an untracked range should fail")
	}
}

func TestFreeSpaceIndexReset(t *testing.T) {
	f := newFreeSpaceIndex()
	f.insert(0, 10)
	f.insert(50, 10)

	f.reset(0, 1000)

	if f.chunkCount() != 1 || f.totalFree() != 1000 {
		t.Fatalf("reset did not produce a single full-size chunk: count=%d total=%d", f.chunkCount(), f.totalFree())
	}
}
