// Package ext2 implements a read-only reader for the subset of the ext2
// on-disk format the bootloader needs: superblock, block group descriptor
// table, inode table, up to triple indirect block pointers, and directory
// entries.
//
// Grounded on original_source/bootloader/filesystem.c and spec.md §4.4.
// BlFsFileRead's bounds check has a documented underflow bug in the
// original (`avail := position - fileSize` computes garbage when position
// <= fileSize, since the subtraction is backwards); this port resolves
// spec.md §9's Open Question about it by using the straightforward
// `position+count > fileSize` comparison instead (see Read below).
package ext2

import (
	"encoding/binary"
	"math/bits"

	"github.com/monkuous/xrboot/internal/diag"
)

const (
	superblockOffset = 1024
	signature        = 0xef53
	rootInodeNum     = 2

	dirTypesFeature = 1 << 1
	roFeatures      = dirTypesFeature
	size64Feature   = 1 << 1

	typeMask = 0xf000
	typeDir  = 0x4000
	typeReg  = 0x8000
	typeSym  = 0xa000

	maxNameLen        = 0xff
	maxSymlinks       = 5
	indirectionLevels = 3

	inodeRecordSize = 128
	entryRecordSize = 8
	bgdStride       = 32
	bgdReadSize     = 20
)

// Reader is the bounds-checked, partition-relative byte source the
// filesystem reads through. internal/partition.Root satisfies this.
type Reader interface {
	Read(buf []byte, position uint64, bypassCache bool)
}

type superblock struct {
	blockSizeShift        uint32
	blockGroupBlocks      uint32
	blockGroupInodes      uint32
	versionMajor          uint32
	inodeSize             uint16
	optionalFeatures      uint32
	requiredFeatures      uint32
	writeRequiredFeatures uint32
}

type inode struct {
	mode           uint16
	size           uint32
	directBlocks   [12]uint32
	indirectBlocks [indirectionLevels]uint32
	sizeUpper      uint32
}

// FS is a mounted ext2 volume.
type FS struct {
	reader Reader
	sb     superblock

	blockSize        uint64
	bgdtLocation     uint64
	inodeShift       uint32
	indirectionShift uint32
	indirectionCount uint32
	indirectionMask  uint32
	root             inode
}

// Mount reads and validates the superblock at the start of reader, exactly
// as BlFsInitialize does. A false return means "not an ext2 volume (or one
// missing features this reader requires)" — not fatal, since the boot
// orchestrator tries each partition in turn.
func Mount(reader Reader) (*FS, bool) {
	buf := make([]byte, 140)
	reader.Read(buf, superblockOffset, false)

	if binary.LittleEndian.Uint16(buf[56:58]) != signature {
		return nil, false
	}

	fs := &FS{reader: reader}
	sb := &fs.sb

	sb.blockSizeShift = binary.LittleEndian.Uint32(buf[24:28]) + 10
	sb.blockGroupBlocks = binary.LittleEndian.Uint32(buf[32:36])
	sb.blockGroupInodes = binary.LittleEndian.Uint32(buf[40:44])
	sb.versionMajor = binary.LittleEndian.Uint32(buf[76:80])

	if sb.versionMajor < 1 {
		sb.inodeSize = inodeRecordSize
		sb.optionalFeatures = 0
		sb.requiredFeatures = 0
		sb.writeRequiredFeatures = 0
	} else {
		sb.inodeSize = binary.LittleEndian.Uint16(buf[88:90])
		sb.optionalFeatures = binary.LittleEndian.Uint32(buf[92:96])
		sb.requiredFeatures = binary.LittleEndian.Uint32(buf[96:100])
		sb.writeRequiredFeatures = binary.LittleEndian.Uint32(buf[100:104])
	}

	if missing := sb.requiredFeatures &^ roFeatures; missing != 0 {
		diag.Print("ext2: missing required filesystem features 0x%x\n", missing)
		return nil, false
	}
	if sb.inodeSize&(sb.inodeSize-1) != 0 {
		diag.Print("ext2: inode size %u is not a power of two\n", uint32(sb.inodeSize))
		return nil, false
	}

	fs.blockSize = 1 << sb.blockSizeShift
	fs.bgdtLocation = ((uint64(superblockOffset) >> sb.blockSizeShift) + 1) << sb.blockSizeShift
	fs.inodeShift = uint32(bits.TrailingZeros16(sb.inodeSize))
	fs.indirectionShift = sb.blockSizeShift - 2
	fs.indirectionCount = 1 << fs.indirectionShift
	fs.indirectionMask = fs.indirectionCount - 1

	fs.root = fs.readInode(rootInodeNum)
	return fs, true
}

func (fs *FS) readBlockGroupDescriptor(group uint32) (inodeTableBlock uint32) {
	buf := make([]byte, bgdReadSize)
	fs.reader.Read(buf, fs.bgdtLocation+uint64(group)*bgdStride, false)
	return binary.LittleEndian.Uint32(buf[8:12])
}

func (fs *FS) readInode(num uint32) inode {
	group := (num - 1) / fs.sb.blockGroupInodes
	index := (num - 1) % fs.sb.blockGroupInodes
	offset := uint64(index) << fs.inodeShift

	inodeTableBlock := fs.readBlockGroupDescriptor(group)
	location := (uint64(inodeTableBlock) << fs.sb.blockSizeShift) + offset

	buf := make([]byte, inodeRecordSize)
	fs.reader.Read(buf, location, false)

	var out inode
	out.mode = binary.LittleEndian.Uint16(buf[0:2])
	out.size = binary.LittleEndian.Uint32(buf[4:8])
	for i := 0; i < 12; i++ {
		out.directBlocks[i] = binary.LittleEndian.Uint32(buf[40+i*4 : 44+i*4])
	}
	for i := 0; i < indirectionLevels; i++ {
		out.indirectBlocks[i] = binary.LittleEndian.Uint32(buf[88+i*4 : 92+i*4])
	}
	if fs.sb.writeRequiredFeatures&size64Feature != 0 {
		out.sizeUpper = binary.LittleEndian.Uint32(buf[108:112])
	}

	return out
}

func (fs *FS) readFromPointerBlock(block, index uint32) uint32 {
	buf := make([]byte, 4)
	fs.reader.Read(buf, (uint64(block)<<fs.sb.blockSizeShift)+uint64(index)*4, false)
	return binary.LittleEndian.Uint32(buf)
}

func (fs *FS) inodeBlockBase(ino *inode, block uint64) uint64 {
	if block < uint64(len(ino.directBlocks)) {
		return uint64(ino.directBlocks[block])
	}
	block -= uint64(len(ino.directBlocks))

	blocks := uint64(fs.indirectionCount)
	level := 0
	for ; level < indirectionLevels; level++ {
		if block < blocks {
			break
		}
		block -= blocks
		blocks <<= fs.indirectionShift
	}
	if level >= indirectionLevels {
		diag.Crash("tried to read beyond inode maximum bounds")
	}

	volumeBlock := ino.indirectBlocks[level]
	level++

	for level > 0 {
		if volumeBlock == 0 {
			break
		}
		level--
		index := uint32((block >> (uint(fs.indirectionShift) * uint(level))) & uint64(fs.indirectionMask))
		volumeBlock = fs.readFromPointerBlock(volumeBlock, index)
	}

	return uint64(volumeBlock)
}

func (fs *FS) readFromInode(ino *inode, buf []byte, position uint64) {
	for len(buf) > 0 {
		block := position >> fs.sb.blockSizeShift
		offset := position & (fs.blockSize - 1)
		current := fs.blockSize - offset
		if current > uint64(len(buf)) {
			current = uint64(len(buf))
		}

		blockBase := fs.inodeBlockBase(ino, block) << fs.sb.blockSizeShift

		if blockBase != 0 {
			fs.reader.Read(buf[:current], blockBase+offset, false)
		} else {
			for i := uint64(0); i < current; i++ {
				buf[i] = 0
			}
		}

		buf = buf[current:]
		position += current
	}
}

func (fs *FS) inodeSize(ino *inode) uint64 {
	size := uint64(ino.size)
	if fs.sb.writeRequiredFeatures&size64Feature != 0 && ino.mode&typeMask != typeDir {
		size |= uint64(ino.sizeUpper) << 32
	}
	return size
}

func (fs *FS) findEntryInDirectory(dir *inode, name string) (inodeNum uint32, ok bool) {
	if len(name) > maxNameLen {
		return 0, false
	}

	dirSize := fs.inodeSize(dir)
	entry := make([]byte, entryRecordSize)
	nameBuf := make([]byte, len(name))

	for offset := uint64(0); dirSize-offset >= entryRecordSize; {
		fs.readFromInode(dir, entry, offset)

		entryInode := binary.LittleEndian.Uint32(entry[0:4])
		entrySize := binary.LittleEndian.Uint16(entry[4:6])
		entryNameLength := entry[6]
		entryType := entry[7]

		if fs.sb.requiredFeatures&dirTypesFeature != 0 || entryType == 0 {
			if entryInode != 0 && int(entryNameLength) == len(name) {
				fs.readFromInode(dir, nameBuf, offset+entryRecordSize)
				if string(nameBuf) == name {
					return entryInode, true
				}
			}
		}

		offset += uint64(entrySize)
	}

	return 0, false
}

func (fs *FS) findInode(start *inode, path string, symlinks int) (*inode, bool) {
	if symlinks > maxSymlinks {
		return nil, false
	}
	if len(path) == 0 {
		return nil, false
	}

	ino := start
	if path[0] == '/' {
		ino = &fs.root
	}

	for {
		if ino.mode&typeMask != typeDir {
			return nil, false
		}

		for len(path) > 0 && path[0] == '/' {
			path = path[1:]
		}
		if len(path) == 0 {
			break
		}

		componentLength := 0
		for componentLength < len(path) && path[componentLength] != '/' {
			componentLength++
		}
		component := path[:componentLength]

		entryInode, found := fs.findEntryInDirectory(ino, component)
		if !found {
			return nil, false
		}

		newInode := fs.readInode(entryInode)

		if newInode.mode&typeMask == typeSym {
			size := fs.inodeSize(&newInode)
			linkPath := make([]byte, size)
			fs.readFromInode(&newInode, linkPath, 0)

			resolved, ok := fs.findInode(ino, string(linkPath), symlinks+1)
			if !ok {
				return nil, false
			}
			ino = resolved
		} else {
			ino = &newInode
		}

		path = path[componentLength:]
	}

	return ino, true
}

// File is an open regular file: a resolved, validated inode.
type File struct {
	fs   *FS
	node inode
}

// Find resolves path (symlinks included, bounded to 5 hops) to a regular
// file, matching BlFsFind. Directories, device nodes, and anything else
// that isn't a regular file fail to resolve.
func (fs *FS) Find(path string) (*File, bool) {
	node, ok := fs.findInode(&fs.root, path, 0)
	if !ok {
		return nil, false
	}
	if node.mode&typeMask != typeReg {
		return nil, false
	}
	return &File{fs: fs, node: *node}, true
}

// Size returns the file's byte length.
func (f *File) Size() uint64 {
	return f.fs.inodeSize(&f.node)
}

// Read copies count bytes starting at position into buf. A request that
// runs past end-of-file is a silent no-op (buf is left untouched), matching
// BlFsFileRead's contract — only the bounds arithmetic changes from the
// original C, which underflows when position <= size (see the package doc
// comment).
func (f *File) Read(buf []byte, position uint64) {
	if len(buf) == 0 {
		return
	}

	size := f.Size()
	end := position + uint64(len(buf))
	if end < position || end > size {
		return
	}

	f.fs.readFromInode(&f.node, buf, position)
}
