package main

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/go-restruct/restruct"
	"github.com/pkg/errors"
)

const (
	sectorSize        = 512
	mbrSignature      = 0xaa55
	mbrSignatureOffset = 510
	mbrEntriesOffset  = 446
	mbrEntryCount     = 4

	// firstPartitionLBA leaves room for the MBR sector plus alignment
	// padding, matching the 1 MiB-ish alignment real partitioning tools use
	// (scaled down since these are small test fixtures, not production
	// disks).
	firstPartitionLBA = 64

	ext2PartitionType = 0x83
)

// mbrEntry is the on-disk 16-byte MBR partition table entry. Packed with
// go-restruct the same way internal/ext2image packs its fixed-layout
// records; internal/partition.Entry (the bootloader's own reader) only
// ever looks at BootIndicator, Type, StartingLBA and SizeInLBA, treating
// the CHS fields as don't-care padding, exactly as here.
type mbrEntry struct {
	BootIndicator byte
	CHSStart      [3]byte
	Type          byte
	CHSEnd        [3]byte
	StartingLBA   uint32
	SizeInLBA     uint32
}

func readMBR(f *os.File) ([mbrEntryCount]mbrEntry, error) {
	var entries [mbrEntryCount]mbrEntry

	buf := make([]byte, sectorSize)
	if _, err := f.ReadAt(buf, 0); err != nil && err != io.EOF {
		return entries, errors.Wrap(err, "reading MBR sector")
	}

	if binary.LittleEndian.Uint16(buf[mbrSignatureOffset:]) != mbrSignature {
		// A freshly truncated file reads as all zeroes; treat that as "no
		// partitions yet" rather than an error, so add-partition can also
		// serve as create-from-scratch.
		allZero := true
		for _, b := range buf {
			if b != 0 {
				allZero = false
				break
			}
		}
		if !allZero {
			return entries, errors.New("not a valid MBR (bad 0xaa55 signature)")
		}
		return entries, nil
	}

	for i := 0; i < mbrEntryCount; i++ {
		raw := buf[mbrEntriesOffset+i*16 : mbrEntriesOffset+(i+1)*16]
		if err := restruct.Unpack(raw, binary.LittleEndian, &entries[i]); err != nil {
			return entries, errors.Wrapf(err, "unpacking MBR entry %d", i)
		}
	}
	return entries, nil
}

func writeMBR(f *os.File, entries [mbrEntryCount]mbrEntry) error {
	buf := make([]byte, sectorSize)
	for i, e := range entries {
		packed, err := restruct.Pack(binary.LittleEndian, &e)
		if err != nil {
			return errors.Wrapf(err, "packing MBR entry %d", i)
		}
		copy(buf[mbrEntriesOffset+i*16:], packed)
	}
	binary.LittleEndian.PutUint16(buf[mbrSignatureOffset:], mbrSignature)

	if _, err := f.WriteAt(buf, 0); err != nil {
		return errors.Wrap(err, "writing MBR sector")
	}
	return nil
}

// nextFreeSlot returns the index of the first unused MBR entry and the LBA
// a new partition placed there should start at (past every existing
// partition's end, sector-aligned).
func nextFreeSlot(entries [mbrEntryCount]mbrEntry) (slot int, startLBA uint32, err error) {
	startLBA = firstPartitionLBA
	slot = -1
	for i, e := range entries {
		if e.Type == 0 {
			if slot == -1 {
				slot = i
			}
			continue
		}
		if end := e.StartingLBA + e.SizeInLBA; end > startLBA {
			startLBA = end
		}
	}
	if slot == -1 {
		return 0, 0, errors.New("no free MBR partition slots")
	}
	return slot, startLBA, nil
}

// partitionReader adapts a partition's byte window within the disk file to
// internal/ext2's Reader interface, for read-only inspection of an
// existing image.
type partitionReader struct {
	f     *os.File
	start int64
	size  int64
}

func (r *partitionReader) Read(buf []byte, position uint64, bypassCache bool) {
	if int64(position)+int64(len(buf)) > r.size {
		panic(errors.Errorf("read past end of partition at %d", position))
	}
	if _, err := r.f.ReadAt(buf, r.start+int64(position)); err != nil && err != io.EOF {
		panic(errors.Wrap(err, "reading partition data"))
	}
}
