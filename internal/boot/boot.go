// Package boot is the top-level orchestrator: it wires firmware's device
// database into the device tree, finds and mounts the root partition,
// loads configuration and kernel, finalises the DTB blob, and hands off
// to every present processor.
//
// Grounded on original_source/bootloader/main.c's BlMain and
// bootloader/a4x/a4x.c's BxMain/BxAddMemoryRanges/BxDtPopulate — a4x.c is
// one concrete machine's wiring of the generic core against its own
// fixed peripheral map; this package generalizes that wiring to run
// against any internal/firmware.DeviceDatabase (spec.md §4.8/§6 describe
// the machine family generically rather than nailing it to one board).
package boot

import (
	"unsafe"

	"github.com/monkuous/xrboot/internal/blockcache"
	"github.com/monkuous/xrboot/internal/config"
	"github.com/monkuous/xrboot/internal/devicetree"
	"github.com/monkuous/xrboot/internal/diag"
	"github.com/monkuous/xrboot/internal/ext2"
	"github.com/monkuous/xrboot/internal/firmware"
	"github.com/monkuous/xrboot/internal/heap"
	"github.com/monkuous/xrboot/internal/kernelimage"
	"github.com/monkuous/xrboot/internal/mpbarrier"
	"github.com/monkuous/xrboot/internal/paging"
	"github.com/monkuous/xrboot/internal/partition"
)

// Peripheral map constants for the XR/station family's fixed onboard
// devices, grounded on bootloader/a4x/main.c's BX_* macros. These are not
// part of the firmware-reported device database: like the original, the
// addresses themselves are board fixed facts, and only which banks/disks/
// processors/boards are actually populated comes from firmware.
const (
	cpuIRQ = 1

	lsicBase = 0xf803_0000
	lsicSize = 0x100

	rtcBase = 0xf800_0080
	rtcSize = 8
	rtcIRQ  = 2

	serialCount = 2
	serialSize  = 8
	serialBase0 = 0xf800_0040
	serialIRQ0  = 4
	serialBaud  = 9600

	disksBase = 0xf800_0064
	disksSize = 12
	disksIRQ  = 3

	amtsuBase = 0xf800_00c0
	amtsuSize = 20
	amtsuIRQ  = 0x30
	amtsuNIRQ = 4

	boardSize = 0x800_0000
	boardIRQ0 = 0x28

	configPath = "/xrlinux.cfg"

	sectorSize     = 512
	cacheBlockSize = 4096
	cacheSlotCount = 16
)

// Params is everything the orchestrator needs from firmware and the
// bootloader's own link-time image layout to run Run.
type Params struct {
	API            *firmware.APITable
	DeviceDatabase *firmware.DeviceDatabase
	BootDiskID     uint8 // index into DeviceDatabase.Disks (a4x.c's bootPartition->Id)
	BootPartition  uint8 // index into that disk's Partitions array
	ImageEnd       uintptr
	BootArgs       string
}

// Transition is the register-saving trampoline that jumps to the kernel
// and never returns (spec.md §1's "out of scope" Transition ABI:
// transition(entry_physical, dtb_pointer, num_cpus, protocol_minor)).
var Transition func(entryPhysical uintptr, dtbPointer uintptr, numCPUs int, protocolMinor uint16) = func(uintptr, uintptr, int, uint16) {
	panic("boot: Transition not wired up")
}

// Run performs the whole boot sequence and, on success, never returns:
// it ends by dispatching to mpbarrier.Run, which jumps every processor
// into the kernel.
func Run(p Params) {
	bootPartition := &p.DeviceDatabase.Disks[p.BootDiskID].Partitions[p.BootPartition]
	shim := firmware.NewShim(p.API, bootPartition)
	diag.Console = shim
	diag.ReturnToFirmware = p.API.ReturnToFirmware

	h := addMemoryRanges(p.DeviceDatabase, p.ImageEnd)
	dt := devicetree.NewBuilder()
	numCPUs := populateDeviceTree(dt, p.DeviceDatabase, p.BootArgs)

	opts, rootFS := findRootPartition(shim)

	if opts.StdoutPath != "" {
		chosen := dt.FindOrCreateChild(dt.Root(), "chosen")
		dt.AddPropertyString(chosen, "stdout-path", opts.StdoutPath)
	}

	diag.Print("Loading kernel from %s\n", opts.KernelPath)
	file, ok := rootFS.Find(opts.KernelPath)
	if !ok {
		diag.Crash("failed to open kernel file")
	}

	table := paging.NewTable(h)
	header := kernelimage.Load(file, table, h)

	diag.Print("Creating device tree blob\n")
	blob := dt.Build()
	dtbPhys := h.Allocate(uintptr(len(blob)), 8)
	if dtbPhys == 0 {
		diag.Crash("out of memory")
	}
	copy(unsafe.Slice((*byte)(unsafe.Pointer(dtbPhys)), len(blob)), blob)

	entryPhys := uintptr(table.GetMapping(header.Entry))

	kick := func(number int, ctx any, callback func(number int, ctx any)) {
		p.API.KickProcessor(number, ctx, callback)
	}
	present := func(number int) bool { return p.DeviceDatabase.Processors[number].Present }

	diag.Print("Starting kernel\n")
	mpbarrier.Run(kick, len(p.DeviceDatabase.Processors), bspIndex(p.DeviceDatabase), present, func() {
		Transition(entryPhys, dtbPhys, numCPUs, kernelimage.ProtocolMinor)
	})
}

// nodeName formats a device-tree node name the way a4x.c builds one with
// BlPrintToBuffer, using diag's own formatter against a BufferSink instead
// of fmt so the freestanding core never needs fmt's reflection-heavy
// machinery before the kernel is loaded.
func nodeName(format string, args ...any) string {
	var buf diag.BufferSink
	diag.Printf(&buf, format, args...)
	return buf.String()
}

func bspIndex(db *firmware.DeviceDatabase) int {
	for i := range db.Processors {
		if db.Processors[i].Present {
			return i
		}
	}
	diag.Crash("no processors present")
	return 0
}

// addMemoryRanges registers every populated RAM bank with the heap,
// clipping the lowest bank's start past the bootloader's own image
// footprint (a4x.c's BxAddMemoryRanges).
func addMemoryRanges(db *firmware.DeviceDatabase, imageEnd uintptr) *heap.Allocator {
	diag.Print("Initializing bootloader heap\n")

	h := &heap.Allocator{}
	for i, bank := range db.RAMBanks {
		if bank.PageFrameCount == 0 {
			continue
		}

		base := uintptr(i) * firmware.RAMBankInterval
		end := base + uintptr(bank.PageFrameCount)*paging.PageSize

		if base < imageEnd {
			base = imageEnd
		}
		if base >= end {
			continue
		}

		h.AddRange(base, end-base)
	}
	return h
}

func populateDeviceTree(dt *devicetree.Builder, db *firmware.DeviceDatabase, bootArgs string) (numCPUs int) {
	diag.Print("Populating device tree\n")

	root := dt.Root()
	dt.AddPropertyU32(root, "#address-cells", 1)
	dt.AddPropertyU32(root, "#size-cells", 1)
	dt.AddPropertyString(root, "compatible", "xrarch,xrcomputer")
	if db.MachineType != firmware.XRStation && db.MachineType != firmware.XRMP && db.MachineType != firmware.XRFrame {
		diag.Crash("unknown machine type")
	}
	dt.AddPropertyString(root, "model", db.MachineType.String())

	addMemoryNodes(dt, db)

	chosen := dt.FindOrCreateChild(root, "chosen")
	dt.AddPropertyString(chosen, "bootargs", bootArgs)

	cpuPhandles, numCPUs := addCPUNodes(dt, db)
	lsic := addLsic(dt, cpuPhandles)
	addRtc(dt, lsic)
	addSerial(dt, lsic)
	addDisks(dt, lsic)
	addAmtsu(dt, lsic)
	addBoards(dt, lsic, db)

	return numCPUs
}

func addMemoryNodes(dt *devicetree.Builder, db *firmware.DeviceDatabase) {
	var start, end uint64

	flush := func() {
		if start == end {
			return
		}
		node := dt.CreateChild(nil, nodeName("memory@%x", start))
		dt.AddPropertyString(node, "device_type", "memory")
		dt.AddPropertyU32s(node, "reg", []uint32{uint32(start), uint32(end - start)})
	}

	for i, bank := range db.RAMBanks {
		if bank.PageFrameCount == 0 {
			continue
		}
		base := uint64(i) * firmware.RAMBankInterval
		if base != end {
			flush()
			start = base
		}
		end = base + uint64(bank.PageFrameCount)*paging.PageSize
	}
	flush()
}

func addCPUNodes(dt *devicetree.Builder, db *firmware.DeviceDatabase) (phandles []uint32, count int) {
	cpus := dt.CreateChild(nil, "cpus")
	dt.AddPropertyU32(cpus, "#address-cells", 1)
	dt.AddPropertyU32(cpus, "#size-cells", 0)

	for i, proc := range db.Processors {
		if !proc.Present {
			continue
		}

		cpu := dt.CreateChild(cpus, nodeName("cpu@%d", i))
		phandle := dt.AllocPhandle()
		dt.AddPropertyU32(cpu, "phandle", phandle)
		dt.AddPropertyString(cpu, "device_type", "cpu")
		dt.AddPropertyU32(cpu, "reg", uint32(i))
		dt.AddPropertyString(cpu, "status", "okay")
		dt.AddPropertyString(cpu, "compatible", "xrarch,xr17032")
		dt.AddProperty(cpu, "interrupt-controller", nil)
		dt.AddPropertyU32(cpu, "#interrupt-cells", 1)

		phandles = append(phandles, phandle)
		count++
	}
	return phandles, count
}

func addInterrupts(dt *devicetree.Builder, node *devicetree.Node, lsicPhandle, base, count uint32) {
	dt.AddPropertyU32(node, "interrupt-parent", lsicPhandle)
	if count == 1 {
		dt.AddPropertyU32(node, "interrupts", base)
		return
	}
	data := make([]uint32, count)
	for i := range data {
		data[i] = base + uint32(i)
	}
	dt.AddPropertyU32s(node, "interrupts", data)
}

func addDevice(dt *devicetree.Builder, lsicPhandle uint32, name, compatible string, address, size, irq, nirq uint32) *devicetree.Node {
	node := dt.CreateChild(nil, nodeName("%s@%x", name, address))
	dt.AddPropertyU32s(node, "reg", []uint32{address, size})
	dt.AddPropertyString(node, "compatible", compatible)
	addInterrupts(dt, node, lsicPhandle, irq, nirq)
	return node
}

func addLsic(dt *devicetree.Builder, cpuPhandles []uint32) uint32 {
	lsicPhandle := dt.AllocPhandle()

	data := make([]uint32, len(cpuPhandles)*2)
	for i, ph := range cpuPhandles {
		data[i*2] = ph
		data[i*2+1] = cpuIRQ
	}

	node := dt.CreateChild(nil, nodeName("lsic@%x", uint32(lsicBase)))
	dt.AddPropertyU32(node, "phandle", lsicPhandle)
	dt.AddPropertyU32s(node, "reg", []uint32{lsicBase, lsicSize})
	dt.AddPropertyString(node, "compatible", "xrarch,lsic")
	dt.AddPropertyU32s(node, "interrupts-extended", data)
	dt.AddProperty(node, "interrupt-controller", nil)
	dt.AddPropertyU32(node, "#interrupt-cells", 1)

	return lsicPhandle
}

func addRtc(dt *devicetree.Builder, lsic uint32) {
	addDevice(dt, lsic, "rtc", "xrarch,rtc", rtcBase, rtcSize, rtcIRQ, 1)
}

func addSerial(dt *devicetree.Builder, lsic uint32) {
	for i := 0; i < serialCount; i++ {
		node := addDevice(dt, lsic, "serial", "xrarch,serial", serialBase0+uint32(i)*serialSize, serialSize, serialIRQ0+uint32(i), 1)
		dt.AddPropertyU32(node, "clock-frequency", serialBaud)
		dt.AddPropertyU32(node, "current-speed", serialBaud)
	}
}

func addDisks(dt *devicetree.Builder, lsic uint32) {
	addDevice(dt, lsic, "disk-controller", "xrarch,disk-controller", disksBase, disksSize, disksIRQ, 1)
}

func addAmtsu(dt *devicetree.Builder, lsic uint32) {
	addDevice(dt, lsic, "amtsu", "xrarch,amtsu", amtsuBase, amtsuSize, amtsuIRQ, amtsuNIRQ)
}

func addBoards(dt *devicetree.Builder, lsic uint32, db *firmware.DeviceDatabase) {
	for i, board := range db.Boards {
		if board.BoardID == 0 {
			continue
		}
		node := addDevice(dt, lsic, "expansion-board", nodeName("xrarch,expansion-%x", board.BoardID), board.Address, boardSize, boardIRQ0+uint32(i), 1)
		if board.Name != "" {
			dt.AddPropertyString(node, "model", board.Name)
		}
	}
}

// findRootPartition scans the boot disk's MBR, trying each present entry
// in order: mount ext2, then look for the configuration file, exactly as
// original_source/bootloader/partition.c's BlFindRootPartition does,
// except the loop itself lives here rather than in internal/partition
// (see that package's doc comment for why).
func findRootPartition(disk *firmware.Shim) (config.Options, *ext2.FS) {
	cache := blockcache.New(disk, sectorSize, cacheBlockSize, cacheSlotCount)

	entries := partition.ReadMBR(cache)
	for _, e := range entries {
		if !e.Present() {
			continue
		}

		root := partition.NewRoot(cache, e)
		fs, ok := ext2.Mount(root)
		if !ok {
			continue
		}

		cfgFile, ok := fs.Find(configPath)
		if !ok {
			continue
		}

		data := make([]byte, cfgFile.Size())
		cfgFile.Read(data, 0)
		return config.Parse(data), fs
	}

	diag.Crash("failed to find root partition")
	panic("unreachable")
}
