package heap_test

import (
	"runtime"
	"testing"
	"unsafe"

	"github.com/monkuous/xrboot/internal/heap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// backed returns an Allocator whose entire backing storage is a single
// registered range over a real Go-owned byte buffer, plus the buffer
// itself (callers must keep it alive for the lifetime of the test via
// runtime.KeepAlive, since the allocator only holds raw addresses).
func backed(tb testing.TB, size int) (*heap.Allocator, []byte) {
	tb.Helper()
	buf := make([]byte, size)
	var a heap.Allocator
	a.AddRange(uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
	return &a, buf
}

func TestAllocateBasic(t *testing.T) {
	a, buf := backed(t, 4096)
	defer runtime.KeepAlive(buf)

	p := a.Allocate(64, 16)
	require.NotZero(t, p)
	assert.Zero(t, p%16)
}

func TestAllocateRespectsAlignment(t *testing.T) {
	a, buf := backed(t, 1<<16)
	defer runtime.KeepAlive(buf)

	for _, align := range []uintptr{16, 32, 64, 256} {
		p := a.Allocate(10, align)
		require.NotZero(t, p)
		assert.Zerof(t, p%align, "pointer %x not aligned to %d", p, align)
	}
}

func TestFreeCoalescesNeighbours(t *testing.T) {
	a, buf := backed(t, 4096)
	defer runtime.KeepAlive(buf)

	p1 := a.Allocate(64, 16)
	p2 := a.Allocate(64, 16)
	p3 := a.Allocate(64, 16)
	require.NotZero(t, p1)
	require.NotZero(t, p2)
	require.NotZero(t, p3)

	a.Free(p2)
	a.Free(p1)
	a.Free(p3)

	// After freeing everything back, a large allocation spanning roughly
	// the whole arena should succeed again — if coalescing were broken,
	// the range would still be fragmented into three small free chunks.
	big := a.Allocate(3000, 16)
	assert.NotZero(t, big)
}

func TestResizeShrinkPreservesPrefix(t *testing.T) {
	a, buf := backed(t, 4096)
	defer runtime.KeepAlive(buf)

	p := a.Allocate(256, 16)
	require.NotZero(t, p)

	data := unsafe.Slice((*byte)(unsafe.Pointer(p)), 256)
	for i := range data {
		data[i] = byte(i)
	}

	shrunk := a.Resize(p, 32, 16)
	require.Equal(t, p, shrunk)

	shrunkData := unsafe.Slice((*byte)(unsafe.Pointer(shrunk)), 32)
	for i := 0; i < 32; i++ {
		assert.Equal(t, byte(i), shrunkData[i])
	}
}

func TestResizeGrowInPlaceWhenNextIsFree(t *testing.T) {
	a, buf := backed(t, 4096)
	defer runtime.KeepAlive(buf)

	p := a.Allocate(32, 16)
	spacer := a.Allocate(32, 16)
	require.NotZero(t, p)
	require.NotZero(t, spacer)
	a.Free(spacer)

	grown := a.Resize(p, 64, 16)
	require.Equal(t, p, grown)
}

func TestResizeGrowFallsBackToCopyWhenNextIsAllocated(t *testing.T) {
	a, buf := backed(t, 4096)
	defer runtime.KeepAlive(buf)

	p := a.Allocate(32, 16)
	blocker := a.Allocate(32, 16)
	require.NotZero(t, p)
	require.NotZero(t, blocker)

	data := unsafe.Slice((*byte)(unsafe.Pointer(p)), 32)
	for i := range data {
		data[i] = byte(0xaa)
	}

	grown := a.Resize(p, 256, 16)
	require.NotZero(t, grown)

	grownData := unsafe.Slice((*byte)(unsafe.Pointer(grown)), 32)
	for i := range grownData {
		assert.Equal(t, byte(0xaa), grownData[i])
	}
}

func TestAllocateFailsWhenExhausted(t *testing.T) {
	a, buf := backed(t, 256)
	defer runtime.KeepAlive(buf)

	p := a.Allocate(10000, 16)
	assert.Zero(t, p)
}
