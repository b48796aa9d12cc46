package asm

import "sync/atomic"

// currentCPU holds the processor index Whami reports, settable with
// SetCurrentCPU, without needing real hardware threads. Firmware always
// starts the BSP as processor 0, which is also the default; no caller in
// this repository sets another value.
var currentCPU atomic.Uint32

// SetCurrentCPU sets the logical processor index that Whami reports. It is not
// goroutine-local by design: on real XR hardware Whami reads a per-core
// control register, but simulating per-goroutine registers would add
// complexity no caller in this repository needs (Whami is only read once,
// by the BSP, before any AP is dispatched).
func SetCurrentCPU(id uint32) {
	currentCPU.Store(id)
}

func whami() uint32 {
	return currentCPU.Load()
}

func storeRelease(addr *uint32, value uint32) {
	atomic.StoreUint32(addr, value)
}

func loadAcquire(addr *uint32) uint32 {
	return atomic.LoadUint32(addr)
}

func fetchAddRelease(addr *uint32, delta uint32) uint32 {
	return atomic.AddUint32(addr, delta)
}
