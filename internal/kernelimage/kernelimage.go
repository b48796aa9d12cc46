// Package kernelimage validates and loads the kernel image protocol
// header, then maps the kernel file into the page table page by page.
//
// Grounded on original_source/bootloader/main.c (BiKernelHeader,
// BiLoadKernel) and spec.md §4.8/§6.
package kernelimage

import (
	"encoding/binary"
	"unsafe"

	"github.com/monkuous/xrboot/internal/diag"
	"github.com/monkuous/xrboot/internal/heap"
	"github.com/monkuous/xrboot/internal/paging"
)

const (
	protocolMagic = 0x584c5258
	protocolMajor = 2

	// ProtocolMinor is the minor protocol version this loader speaks,
	// passed through to the kernel at transition time.
	ProtocolMinor = 0

	// FlagMapDTB is header flag bit 0 (map DTB). When it is set, Load
	// validates the DTB mapping window [DtbAddress, MaxDtbEnd). The blob is
	// not mapped into that window: neither Load nor internal/boot creates
	// mappings for it, and Transition receives the blob's physical address.
	FlagMapDTB = 1 << 0

	headerSize = 32
)

// Header is the kernel image protocol header (main.h's BiKernelHeader).
type Header struct {
	Magic        uint32
	MinorVersion uint16
	MajorVersion uint16
	VirtualAddr  uint32
	MSize        uint32
	Entry        uint32
	Flags        uint32
	DtbAddress   uint32
	MaxDtbEnd    uint32
}

func rangesOverlap(a0, a1, b0, b1 uint32) bool {
	return a0 <= b1 && b0 <= a1
}

func alignUp(x, a uint32) uint32   { return (x + a - 1) &^ (a - 1) }
func alignDown(x, a uint32) uint32 { return x &^ (a - 1) }

func zeroBytes(ptr uintptr, offset, count uint32) {
	if count == 0 {
		return
	}
	b := unsafe.Slice((*byte)(unsafe.Pointer(ptr+uintptr(offset))), count)
	for i := range b {
		b[i] = 0
	}
}

func readAt(file File, ptr uintptr, offset, count uint32, position uint64) {
	if count == 0 {
		return
	}
	b := unsafe.Slice((*byte)(unsafe.Pointer(ptr+uintptr(offset))), count)
	file.Read(b, position)
}

// File is the minimal read surface kernelimage needs from an open file;
// internal/ext2.File satisfies it.
type File interface {
	Size() uint64
	Read(buf []byte, position uint64)
}

func parseHeader(buf []byte) Header {
	le := binary.LittleEndian
	return Header{
		Magic:        le.Uint32(buf[0:4]),
		MinorVersion: le.Uint16(buf[4:6]),
		MajorVersion: le.Uint16(buf[6:8]),
		VirtualAddr:  le.Uint32(buf[8:12]),
		MSize:        le.Uint32(buf[12:16]),
		Entry:        le.Uint32(buf[16:20]),
		Flags:        le.Uint32(buf[20:24]),
		DtbAddress:   le.Uint32(buf[24:28]),
		MaxDtbEnd:    le.Uint32(buf[28:32]),
	}
}

// Load reads and validates the kernel image protocol header from file,
// then maps the kernel image into table page by page (head partial page,
// whole aligned pages, tail partial page, trailing zero-filled BSS pages),
// allocating backing pages from h. Returns the validated header.
func Load(file File, table *paging.Table, h *heap.Allocator) Header {
	buf := make([]byte, headerSize)
	file.Read(buf, 0)
	header := parseHeader(buf)

	if header.Magic != protocolMagic {
		diag.Crash("invalid magic number")
	}
	if header.MajorVersion != protocolMajor {
		diag.Crash("unsupported major version")
	}
	if header.Entry < header.VirtualAddr || header.Entry-header.VirtualAddr >= header.MSize {
		diag.Crash("kernel entry point outside kernel image")
	}

	if header.Flags&FlagMapDTB != 0 {
		header.DtbAddress = alignUp(header.DtbAddress, paging.PageSize)
		if header.MaxDtbEnd <= header.DtbAddress {
			diag.Crash("device tree mapping area has negative size")
		}
		if rangesOverlap(
			header.VirtualAddr, header.VirtualAddr+header.MSize-1,
			header.DtbAddress, header.MaxDtbEnd,
		) {
			diag.Crash("device tree mapping area overlaps kernel image")
		}
	}

	fileSize := file.Size()
	if fileSize > uint64(header.MSize) {
		diag.Crash("kernel file too large (0x%x bytes)", fileSize)
	}

	current := alignDown(header.VirtualAddr, paging.PageSize)
	fileEnd := header.VirtualAddr + uint32(fileSize)
	alignedFileEnd := alignDown(fileEnd, paging.PageSize)
	end := alignUp(header.VirtualAddr+header.MSize, paging.PageSize)

	allocPage := func() uintptr {
		p := h.Allocate(paging.PageSize, paging.PageSize)
		if p == 0 {
			diag.Crash("out of memory")
		}
		return p
	}

	if current < header.VirtualAddr {
		buffer := allocPage()
		headCount := header.VirtualAddr - current
		tailCount := paging.PageSize - headCount
		readCount := tailCount
		if fileSize < uint64(readCount) {
			readCount = uint32(fileSize)
		}

		zeroBytes(buffer, 0, headCount)
		readAt(file, buffer, headCount, readCount, 0)
		if readCount != tailCount {
			zeroBytes(buffer, headCount+readCount, tailCount-readCount)
		}

		table.MapPage(current, uint32(buffer))
		current += paging.PageSize
	}

	for current < alignedFileEnd {
		buffer := allocPage()
		readAt(file, buffer, 0, paging.PageSize, uint64(current-header.VirtualAddr))
		table.MapPage(current, uint32(buffer))
		current += paging.PageSize
	}

	if current < fileEnd {
		buffer := allocPage()
		headCount := fileEnd - current
		tailCount := paging.PageSize - headCount

		readAt(file, buffer, 0, headCount, uint64(current-header.VirtualAddr))
		zeroBytes(buffer, headCount, tailCount)

		table.MapPage(current, uint32(buffer))
		current += paging.PageSize
	}

	for current < end {
		buffer := allocPage()
		zeroBytes(buffer, 0, paging.PageSize)
		table.MapPage(current, uint32(buffer))
		current += paging.PageSize
	}

	return header
}
