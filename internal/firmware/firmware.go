// Package firmware models the hardware description and callback table the
// boot ROM hands the bootloader at entry: a device database (RAM banks,
// disks and their partitions, processors, expansion boards, machine type)
// plus an API table of put-character, get-character, disk-read and
// kick-processor callbacks.
//
// Grounded on original_source/bootloader/a4x/a4x.h (struct FwDeviceDatabase,
// struct FwApiTable) and platform.h's external declarations; spec.md §1
// calls this whole surface an "external collaborator" described only by
// the interfaces the core consumes, which is exactly what DeviceDatabase
// and APITable are. a4x.c's BxMain/BxAddMemoryRanges/BxDtPopulate show how
// a concrete machine wires the database into the core; internal/boot does
// the equivalent wiring against this package instead of a single hardwired
// "a4x" machine.
package firmware

// MachineType identifies the XR computer model the firmware reports,
// carried into the device tree's root "model"/"compatible" properties.
type MachineType uint8

const (
	XRStation MachineType = iota
	XRMP
	XRFrame
)

func (m MachineType) String() string {
	switch m {
	case XRStation:
		return "XR/station"
	case XRMP:
		return "XR/MP"
	case XRFrame:
		return "XR/frame"
	default:
		return "unknown"
	}
}

// RAMBankInterval is the fixed physical-address stride between consecutive
// RAM bank slots (a4x.c's BX_RAM_BANK_INTERVAL).
const RAMBankInterval = 0x200_0000

// RAMBank is one slot of the firmware's fixed-size RAM bank table. A zero
// PageFrameCount means the bank is absent.
type RAMBank struct {
	PageFrameCount uint32
}

// Partition describes one partition of a Disk, as reported by firmware
// (distinct from internal/partition.Entry, which this bootloader parses
// itself out of the MBR rather than trusting the firmware for).
type Partition struct {
	Label       string
	BaseSector  uint32
	SectorCount uint32
	ID          uint8
	PartitionID uint8
}

// Disk is one of firmware's fixed-size disk slots.
type Disk struct {
	Label      string
	Partitions [9]Partition
}

// Amtsu describes one multi-target-serial-unit module.
type Amtsu struct {
	MID uint32
}

// Board describes one populated expansion board slot.
type Board struct {
	Address uint32
	Name    string
	BoardID uint32
}

// Processor reports whether one processor slot is populated.
type Processor struct {
	Present bool
}

// DeviceDatabase is the fixed-shape hardware description firmware passes
// to the bootloader at entry (a4x.h's struct FwDeviceDatabase).
type DeviceDatabase struct {
	TotalRAMBytes uint32
	RAMBanks      [8]RAMBank
	Disks         [8]Disk
	Amtsu         [16]Amtsu
	Boards        [7]Board
	Processors    [8]Processor
	MachineType   MachineType
}

// APITable is the set of callbacks firmware provides for I/O and
// multi-processor control (a4x.h's struct FwApiTable), plus the
// return-to-firmware entry point platform.h declares alongside it
// (BxReturnToFirmware) that internal/diag's fatal-abort path needs.
type APITable struct {
	PutCharacter     func(c byte)
	GetCharacter     func() byte
	ReadDisk         func(partition *Partition, buf []byte, startSector, sectorCount uint32) uint32
	KickProcessor    func(number int, ctx any, callback func(number int, ctx any))
	ReturnToFirmware func()
}
