package firmware

import "github.com/monkuous/xrboot/internal/diag"

// Shim adapts an APITable plus a selected boot partition into the
// diag.Sink and internal/blockcache.Disk interfaces the core consumes,
// mirroring platform.h's BxPrintCharacter/BxReadFromDisk external
// declarations — the freestanding core only ever sees these two narrow
// surfaces, never the full APITable.
type Shim struct {
	api       *APITable
	partition *Partition
}

// NewShim binds an APITable and the firmware-reported boot partition
// (a4x.c's BxBootDisk) into a Shim.
func NewShim(api *APITable, bootPartition *Partition) *Shim {
	return &Shim{api: api, partition: bootPartition}
}

// PutByte implements diag.Sink by forwarding to firmware's put-character
// callback (logging.c's BlPutCharacter).
func (s *Shim) PutByte(b byte) {
	s.api.PutCharacter(b)
}

// ReadSectors implements internal/blockcache.Disk by forwarding to
// firmware's disk-read callback, reporting success only if every
// requested sector was read (platform.h's BxReadFromDisk: "read
// [sector,Min(sector+count,NumberOfSectors)) ... " returns false on a
// short read).
func (s *Shim) ReadSectors(buf []byte, startSector uint64, sectorCount uint32) bool {
	got := s.api.ReadDisk(s.partition, buf, uint32(startSector), sectorCount)
	return got == sectorCount
}

var _ diag.Sink = (*Shim)(nil)
