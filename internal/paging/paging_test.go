package paging_test

import (
	"runtime"
	"testing"
	"unsafe"

	"github.com/monkuous/xrboot/internal/diag"
	"github.com/monkuous/xrboot/internal/heap"
	"github.com/monkuous/xrboot/internal/paging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backedHeap(tb testing.TB, size int) (*heap.Allocator, []byte) {
	tb.Helper()
	buf := make([]byte, size)
	var a heap.Allocator
	a.AddRange(uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
	return &a, buf
}

func TestMapAndGetMapping(t *testing.T) {
	h, buf := backedHeap(t, 1<<20)
	defer runtime.KeepAlive(buf)

	table := paging.NewTable(h)
	table.MapPage(0x1000, 0x80001000)

	got := table.GetMapping(0x1000 + 0x123)
	assert.EqualValues(t, 0x80001000+0x123, got)
}

func TestGetMappingCrashesWhenUnmapped(t *testing.T) {
	var sink diag.BufferSink
	diag.Console = &sink

	h, buf := backedHeap(t, 1<<20)
	defer runtime.KeepAlive(buf)

	table := paging.NewTable(h)
	require.Panics(t, func() {
		table.GetMapping(0x2000)
	})
}

func TestMapPageAllocatesLeafTableOnDemand(t *testing.T) {
	h, buf := backedHeap(t, 1<<20)
	defer runtime.KeepAlive(buf)

	table := paging.NewTable(h)
	table.MapPage(0x400000, 0x1000)
	table.MapPage(0x401000, 0x2000)

	assert.EqualValues(t, 0x1000, table.GetMapping(0x400000))
	assert.EqualValues(t, 0x2000, table.GetMapping(0x401000))
}
