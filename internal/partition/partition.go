// Package partition parses the MBR partition table and provides
// bounds-checked reads into a selected partition.
//
// Grounded on spec.md §4.3/§6 and original_source/bootloader/partition.c.
// The original's BlFindRootPartition also drives the try-each-entry /
// mount-filesystem / load-config loop; here that orchestration moves to
// internal/boot so that this package doesn't need to import internal/ext2
// and internal/config (internal/ext2 reads through its own Reader
// interface, which Root satisfies), keeping each package's single
// responsibility intact.
package partition

import (
	"encoding/binary"

	"github.com/monkuous/xrboot/internal/blockcache"
	"github.com/monkuous/xrboot/internal/diag"
)

const (
	mbrOffset      = 440
	mbrSize        = 72 // DiskId(4) + Unknown(2) + 4*Entry(16) + Signature(2)
	mbrSignature   = 0xaa55
	entryCount     = 4
	entrySize      = 16
	entriesOffset  = 6 // within the mbrOffset-relative buffer: 4 (DiskId) + 2 (Unknown)
	signatureShift = entriesOffset + entryCount*entrySize
)

// Entry is one of the four MBR partition table entries (spec.md §6).
type Entry struct {
	BootIndicator byte
	Type          byte
	StartingLBA   uint32
	SizeInLBA     uint32
}

// Present reports whether this entry describes a usable partition:
// non-zero type and non-zero size, per spec.md §4.3.
func (e Entry) Present() bool {
	return e.Type != 0 && e.SizeInLBA != 0
}

const sectorSize = 512

// ReadMBR reads and validates the MBR via cache (offset 0, spec.md §6),
// returning its four partition entries in order. Crashes fatally on a bad
// boot indicator or missing 0xAA55 signature (spec.md §4.3: "fatal").
func ReadMBR(cache *blockcache.Cache) [entryCount]Entry {
	diag.Print("Searching for root partition\n")

	buf := make([]byte, mbrSize)
	cache.Read(buf, mbrOffset, mbrSize, false)

	signature := binary.LittleEndian.Uint16(buf[signatureShift:])
	if signature != mbrSignature {
		diag.Crash("invalid mbr")
	}

	var entries [entryCount]Entry
	for i := 0; i < entryCount; i++ {
		raw := buf[entriesOffset+i*entrySize : entriesOffset+(i+1)*entrySize]
		entries[i] = Entry{
			BootIndicator: raw[0],
			Type:          raw[4],
			StartingLBA:   binary.LittleEndian.Uint32(raw[8:12]),
			SizeInLBA:     binary.LittleEndian.Uint32(raw[12:16]),
		}
		if entries[i].BootIndicator != 0 && entries[i].BootIndicator != 0x80 {
			diag.Crash("invalid mbr")
		}
	}

	return entries
}

// Root describes the selected root partition's byte extent on the boot
// disk and provides bounds-checked reads into it.
type Root struct {
	Start uint64
	Size  uint64
	cache *blockcache.Cache
}

// NewRoot builds a Root from an MBR entry.
func NewRoot(cache *blockcache.Cache, e Entry) Root {
	return Root{
		Start: uint64(e.StartingLBA) * sectorSize,
		Size:  uint64(e.SizeInLBA) * sectorSize,
		cache: cache,
	}
}

// Read copies count bytes at partition-relative position into buf,
// crashing fatally if [position, position+count) falls outside the
// partition (spec.md §4.3: "All partition reads bounds-check").
func (r Root) Read(buf []byte, position uint64, bypassCache bool) {
	count := uint64(len(buf))
	end := position + count
	if end < position || end > r.Size {
		diag.Crash("tried to read beyond partition bounds")
	}
	r.cache.Read(buf, r.Start+position, len(buf), bypassCache)
}
