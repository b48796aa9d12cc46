// Package bitfield packs and unpacks a page table entry's two fields — a
// low meta/flags field and a page frame number field above it — into a
// single machine word.
//
// Adapted from iansmith-mazarin/src/bitfield.Pack/Unpack, which walked an
// arbitrary bitfield-tagged struct via reflection to support any field
// layout. internal/paging's pte is the only bitfield shape this tree ever
// packs, so the reflection and struct-tag parsing are gone: the same
// shift-and-mask arithmetic now runs directly against the two field widths
// the caller passes in.
package bitfield

import "fmt"

// Pack packs meta into the low metaBits bits and pfn into the pfnBits
// above it, matching internal/paging's pte{Meta, PFN} field order.
func Pack(meta, pfn uint32, metaBits, pfnBits uint) (uint32, error) {
	if metaBits+pfnBits > 32 {
		return 0, fmt.Errorf("bitfield: total bits %d exceeds 32", metaBits+pfnBits)
	}
	if maxMeta := uint32(1)<<metaBits - 1; meta > maxMeta {
		return 0, fmt.Errorf("bitfield: meta value %d exceeds %d bits", meta, metaBits)
	}
	if maxPFN := uint32(1)<<pfnBits - 1; pfn > maxPFN {
		return 0, fmt.Errorf("bitfield: pfn value %d exceeds %d bits", pfn, pfnBits)
	}

	return meta | pfn<<metaBits, nil
}

// Unpack is Pack's inverse.
func Unpack(packed uint32, metaBits, pfnBits uint) (meta, pfn uint32) {
	meta = packed & (uint32(1)<<metaBits - 1)
	pfn = (packed >> metaBits) & (uint32(1)<<pfnBits - 1)
	return meta, pfn
}
