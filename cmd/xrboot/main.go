// Command xrboot is the second-stage bootloader image. Firmware transfers
// control to its entry point, Boot, after loading the image into memory,
// handing it a device database, an API table, and the partition firmware
// itself booted from.
//
// Grounded on original_source/bootloader/a4x/main.c's BxMain: this
// reproduces its device-database wiring and its "boot partition" selection
// (always the last slot of the firmware-selected disk's partition array,
// which firmware reserves as a raw, whole-disk proxy with BaseSector 0)
// before handing off to the machine-independent core in internal/boot.
package main

import (
	"unsafe"

	"github.com/monkuous/xrboot/internal/boot"
	"github.com/monkuous/xrboot/internal/diag"
	"github.com/monkuous/xrboot/internal/firmware"
)

// imageEnd stands in for the linker-provided BxImageEnd symbol marking the
// end of this image's own loaded footprint. There is no XR linker in this
// toolchain (see asm's package doc comment for the same caveat about XR
// assembly), so a zero-sized package variable's address is used instead of
// a real link-time symbol.
var imageEnd [0]byte

func init() {
	// No XR register-saving trampoline exists in this toolchain (again,
	// see asm's doc comment): a real native build links Transition against
	// an assembly routine that loads the entry point into the program
	// counter and never returns. This stand-in logs the handoff and then
	// calls the firmware return path, which is the closest equivalent
	// observable behavior available without real hardware.
	boot.Transition = func(entryPhysical, dtbPointer uintptr, numCPUs int, protocolMinor uint16) {
		diag.Print("transition: entry=%p dtb=%p cpus=%u minor=%u\n", entryPhysical, dtbPointer, uint32(numCPUs), uint32(protocolMinor))
		diag.ReturnToFirmware()
	}
}

// Boot is the entry point firmware transfers control to, matching a4x.c's
// BxMain(deviceDatabase, apiTable, bootPartition, args) signature.
func Boot(db *firmware.DeviceDatabase, api *firmware.APITable, bootPartition *firmware.Partition, args string) {
	defer diag.Recover()

	disk := &db.Disks[bootPartition.ID]
	bootDisk := &disk.Partitions[len(disk.Partitions)-1]
	if bootDisk.BaseSector != 0 {
		diag.Crash("boot disk's raw partition slot has a non-zero base sector")
	}

	boot.Run(boot.Params{
		API:            api,
		DeviceDatabase: db,
		BootDiskID:     bootPartition.ID,
		BootPartition:  uint8(len(disk.Partitions) - 1),
		ImageEnd:       uintptr(unsafe.Pointer(&imageEnd)),
		BootArgs:       args,
	})
}

// main exists only to satisfy package main; this image is never run as a
// hosted program; firmware calls Boot directly after loading it.
func main() {
	panic("xrboot: entry point is Boot, called directly by firmware")
}
