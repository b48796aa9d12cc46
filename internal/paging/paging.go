// Package paging builds the two-level 32-bit page table the bootloader
// hands off to the kernel: a 1024-entry root table, each non-leaf entry
// pointing at a further 1024-entry leaf table allocated on demand.
//
// Grounded on original_source/bootloader/paging.c and spec.md §4.7. PTE
// encoding/decoding is expressed with internal/bitfield (adapted from
// iansmith-mazarin/src/bitfield's reflection-based bitfield packer, here
// specialized to the Meta/PFN shape below) rather than hand-written
// shifts (see DESIGN.md's internal/bitfield and internal/paging notes).
package paging

import (
	"unsafe"

	"github.com/monkuous/xrboot/internal/bitfield"
	"github.com/monkuous/xrboot/internal/diag"
	"github.com/monkuous/xrboot/internal/heap"
)

const (
	pageShift = 12
	// PageSize is the mapping granularity: 4 KiB leaf pages.
	PageSize = 1 << pageShift
	pageMask = PageSize - 1

	levelShift = 10
	levelCount = 2
	levelSize  = 1 << levelShift
	levelMask  = levelSize - 1

	// metaBits is V=1, W=1, K=1, G=1 packed into the low 5 bits — every
	// mapping this bootloader creates is valid, writable, kernel-only and
	// global, matching original_source's BI_META_BITS constant.
	metaBits = 0x17

	// pteMetaWidth and pteFrameWidth are the PTE's two bitfield.Pack/Unpack
	// field widths: a 5-bit meta/flags field, then a 20-bit page frame
	// number above it.
	pteMetaWidth  = 5
	pteFrameWidth = 20
)

func createPTE(phys uint32) uint32 {
	packed, err := bitfield.Pack(metaBits, phys>>pageShift, pteMetaWidth, pteFrameWidth)
	if err != nil {
		diag.Crash("paging: %s", err.Error())
	}
	return packed
}

func decodePTE(raw uint32) uint32 {
	_, pfn := bitfield.Unpack(raw, pteMetaWidth, pteFrameWidth)
	return pfn << pageShift
}

func pteIndex(virt uint32, level int) uint32 {
	return (virt >> uint(pageShift+levelShift*level)) & levelMask
}

// Table is the root page table plus the heap it allocates leaf tables
// from.
type Table struct {
	heap *heap.Allocator
	root [levelSize]uint32
}

// NewTable returns an empty page table that allocates leaf tables from h.
func NewTable(h *heap.Allocator) *Table {
	return &Table{heap: h}
}

func tableAt(addr uint32) []uint32 {
	return unsafe.Slice((*uint32)(unsafe.Pointer(uintptr(addr))), levelSize)
}

func (t *Table) getTable(virt uint32, allowCreation bool) []uint32 {
	table := t.root[:]

	for i := levelCount; i > 1; i-- {
		index := pteIndex(virt, i-1)
		entry := table[index]

		switch {
		case entry != 0:
			table = tableAt(decodePTE(entry))
		case allowCreation:
			newTable := t.heap.Allocate(PageSize, PageSize)
			if newTable == 0 {
				diag.Crash("out of memory")
			}
			bytes := unsafe.Slice((*byte)(unsafe.Pointer(newTable)), PageSize)
			for i := range bytes {
				bytes[i] = 0
			}
			table[index] = createPTE(uint32(newTable))
			table = tableAt(uint32(newTable))
		default:
			diag.Crash("BiGetTable: not found")
		}
	}

	return table
}

// MapPage maps the 4 KiB page containing virt to the physical page
// containing phys, allocating any leaf tables needed along the way.
func (t *Table) MapPage(virt, phys uint32) {
	table := t.getTable(virt, true)
	table[pteIndex(virt, 0)] = createPTE(phys)
}

// GetMapping returns the physical address virt currently maps to,
// crashing fatally if no mapping exists.
func (t *Table) GetMapping(virt uint32) uint32 {
	table := t.getTable(virt, false)
	entry := table[pteIndex(virt, 0)]
	if entry == 0 {
		diag.Crash("BiGetMapping: not found")
	}
	return decodePTE(entry) | (virt & pageMask)
}
