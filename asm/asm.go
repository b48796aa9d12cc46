// Package asm wraps the handful of machine intrinsics the bootloader core
// needs from the XR instruction set: the "who am I" control register read
// used to stamp the FDT's boot_cpuid_phys, and the release/acquire memory
// barriers used by the multi-processor rendezvous.
//
// None of this runs as literal XR machine code here — there is no XR
// assembler in this toolchain — but the function boundary is the same one
// original_source/bootloader/asm.h draws, and it is exactly what a native
// build would replace with inline asm (mfcr/mtcr instructions) or a
// linked .s file, mirroring how iansmith-mazarin/src/mazboot isolates its
// own register and barrier intrinsics behind a dedicated asm package.
package asm

import "runtime"

// Whami reads the "who am I" control register: the index of the processor
// executing this code, used as FDT boot_cpuid_phys and MP dispatch indices.
//
// Grounded on original_source/bootloader/asm.h's BlReadWhami (mfcr %0, whami).
func Whami() uint32 {
	return whami()
}

// StoreRelease performs a store to *addr with release-ordering semantics:
// no load or store that precedes this call in program order may be
// reordered after it. It pairs with LoadAcquire; the MP rendezvous counter
// itself is incremented with FetchAddRelease.
//
// Go's memory model already gives atomic operations sequential consistency,
// which is strictly stronger than the release/acquire pairing this function
// models; it is kept as a distinctly named primitive (rather than calling
// sync/atomic directly from internal/mpbarrier) so that a future native
// backend can drop in the real store-release instruction without touching
// callers. See DESIGN.md for why sync/atomic, not hand-written asm, backs
// this today.
func StoreRelease(addr *uint32, value uint32) {
	storeRelease(addr, value)
}

// LoadAcquire performs a load from *addr with acquire-ordering semantics:
// no load or store that follows this call in program order may be
// reordered before it.
func LoadAcquire(addr *uint32) uint32 {
	return loadAcquire(addr)
}

// FetchAddRelease atomically adds delta to *addr with release-ordering
// semantics and returns the updated value, modeling the trampoline's
// "store-release write-memory-barrier, then an atomic fetch_add(1)"
// sequence (spec.md §5) as one indivisible operation rather than a
// separate load-and-store, which would lose updates when more than one
// AP's trampoline runs concurrently.
func FetchAddRelease(addr *uint32, delta uint32) uint32 {
	return fetchAddRelease(addr, delta)
}

// Pause yields the current processor briefly while spinning on a barrier.
// Grounded on spec.md §5 ("the BSP spins ... pausing between polls").
func Pause() {
	runtime.Gosched()
}
