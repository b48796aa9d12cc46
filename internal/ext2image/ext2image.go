// Package ext2image builds ext2 volumes in memory: the write-side mirror
// of internal/ext2's reader. It exists purely as test/tooling
// infrastructure (spec.md never asks the bootloader to write a
// filesystem) so that spec.md §8's testable properties — a known tree of
// files, a sparse file, a chain of symlinks — can be generated
// programmatically instead of hand-authored byte by byte, and so that
// cmd/xrimage and the test suites that need a real ext2 image share one
// code path.
//
// Grounded on internal/ext2's byte-offset layout (superblock, block group
// descriptor, inode table, directory entries) and on
// dsoprea-go-exfat/structures.go's use of go-restruct to pack fixed-layout
// on-disk records instead of hand-rolled binary.LittleEndian.PutUint calls.
// The superblock is small and sparse (only a handful of its ~80 real
// fields are modeled, mirroring internal/ext2's own reduced field set) and
// is built with plain byte-offset writes instead, for the same reason
// internal/ext2 reads it that way: there's no uniform record to pack, just
// a handful of named fields at fixed offsets.
//
// This writer only ever produces a single block group, direct blocks plus
// (when a file needs more than 12) a single level of indirection, and
// single-block directories. Nothing in spec.md §8 needs more than that,
// and internal/ext2's reader already supports double and triple
// indirection independently of whether this writer ever emits it.
package ext2image

import (
	"encoding/binary"

	"github.com/go-restruct/restruct"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	blockSize    = 1024
	rootInodeNum = 2
	firstFreeIno = 11 // ext2 reserves inodes 1-10

	inodeRecordSize  = 128
	entryHeaderSize  = 8
	directBlockCount = 12
	indirectCapacity = blockSize / 4 // pointers per indirect block

	typeDir = 0x4000
	typeReg = 0x8000
	typeSym = 0xa000

	direntTypeReg = 1
	direntTypeDir = 2
	direntTypeSym = 7

	signature = 0xef53

	// dirTypesFeature matches internal/ext2's roFeatures bit: directory
	// entries carry a file-type byte instead of a 16-bit name length.
	dirTypesFeature = 1 << 1
)

// node is one file, directory, or symlink in the tree being built.
type node struct {
	ino      uint32
	mode     uint16
	content  []byte // regular file/symlink content; directory entries are built later
	size     uint64 // reported size; may exceed len(content) for a sparse trailing hole
	children map[string]*node
	order    []string
}

func newNode(mode uint16) *node {
	return &node{mode: mode, children: map[string]*node{}}
}

// Builder assembles an ext2 volume's file tree before laying it out on
// disk. The zero value is not usable; use New.
type Builder struct {
	root      *node
	volumeID  uuid.UUID
	hasVolume bool
}

// New returns a Builder for a volume with an empty root directory.
func New() *Builder {
	return &Builder{root: newNode(typeDir)}
}

// SetVolumeID stamps id into the synthesized superblock's filesystem-id
// field (s_uuid), matching xrimage's use of google/uuid for image/volume
// identification. internal/ext2 never reads this field back; it exists for
// tooling that inspects the image, not the bootloader.
func (b *Builder) SetVolumeID(id uuid.UUID) {
	b.volumeID = id
	b.hasVolume = true
}

func (b *Builder) resolveDir(path string) (*node, error) {
	dir := b.root
	for _, part := range splitPath(path) {
		child, ok := dir.children[part]
		if !ok {
			child = newNode(typeDir)
			dir.children[part] = child
			dir.order = append(dir.order, part)
		}
		if child.mode&0xf000 != typeDir {
			return nil, errors.Errorf("ext2image: %q is not a directory", part)
		}
		dir = child
	}
	return dir, nil
}

func splitPath(path string) []string {
	var parts []string
	start := 0
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == '/' {
			if i > start {
				parts = append(parts, path[start:i])
			}
			start = i + 1
		}
	}
	return parts
}

func dirAndName(path string) (dir string, name string) {
	parts := splitPath(path)
	if len(parts) == 0 {
		return "", ""
	}
	last := len(parts) - 1
	joined := ""
	for _, p := range parts[:last] {
		joined += p + "/"
	}
	return joined, parts[last]
}

// AddDir creates path and any missing ancestors as directories.
func (b *Builder) AddDir(path string) error {
	_, err := b.resolveDir(path)
	return err
}

// AddFile creates a regular file at path with the given content.
func (b *Builder) AddFile(path string, content []byte) error {
	return b.addFile(path, content, uint64(len(content)))
}

// AddSparseFile creates a regular file whose first len(content) bytes are
// content and whose remaining (size - len(content)) bytes are a hole that
// reads back as zero, without allocating any blocks for it.
func (b *Builder) AddSparseFile(path string, content []byte, size uint64) error {
	if uint64(len(content)) > size {
		return errors.Errorf("ext2image: %q: content longer than declared size", path)
	}
	return b.addFile(path, content, size)
}

func (b *Builder) addFile(path string, content []byte, size uint64) error {
	dirPath, name := dirAndName(path)
	if name == "" {
		return errors.Errorf("ext2image: empty path")
	}
	dir, err := b.resolveDir(dirPath)
	if err != nil {
		return err
	}
	if _, exists := dir.children[name]; exists {
		return errors.Errorf("ext2image: %q already exists", path)
	}
	n := newNode(typeReg)
	n.content = content
	n.size = size
	dir.children[name] = n
	dir.order = append(dir.order, name)
	return nil
}

// AddSymlink creates a symlink at path whose target is target. Matches
// internal/ext2's assumption that symlink targets are ordinary
// block-backed file content, not an inline fast-symlink.
func (b *Builder) AddSymlink(path, target string) error {
	dirPath, name := dirAndName(path)
	if name == "" {
		return errors.Errorf("ext2image: empty path")
	}
	dir, err := b.resolveDir(dirPath)
	if err != nil {
		return err
	}
	if _, exists := dir.children[name]; exists {
		return errors.Errorf("ext2image: %q already exists", path)
	}
	n := newNode(typeSym)
	n.content = []byte(target)
	n.size = uint64(len(target))
	dir.children[name] = n
	dir.order = append(dir.order, name)
	return nil
}

// inodeRecord mirrors the 128-byte on-disk ext2 inode layout that
// internal/ext2.readInode decodes (mode@0, size@4, direct blocks@40,
// indirect blocks@88, size-high@108), packed with go-restruct rather than
// hand-written byte offsets since every inode record has this identical
// fixed shape.
type inodeRecord struct {
	Mode        uint16
	UID         uint16
	SizeLow     uint32
	Atime       uint32
	Ctime       uint32
	Mtime       uint32
	Dtime       uint32
	GID         uint16
	LinksCount  uint16
	BlocksCount uint32
	Flags       uint32
	OSD1        uint32
	Direct      [directBlockCount]uint32
	Indirect    [3]uint32
	Generation  uint32
	FileACL     uint32
	SizeHigh    uint32
	FragAddr    uint32
	OSD2        [12]byte
}

// blockGroupDescriptor mirrors the 32-byte record internal/ext2 reads 20
// bytes of (only InodeTable is ever decoded there).
type blockGroupDescriptor struct {
	BlockBitmap     uint32
	InodeBitmap     uint32
	InodeTable      uint32
	FreeBlocksCount uint16
	FreeInodesCount uint16
	UsedDirsCount   uint16
	Pad             uint16
	Reserved        [12]byte
}

// direntHeader mirrors the 8-byte directory entry header internal/ext2
// decodes in findEntryInDirectory.
type direntHeader struct {
	Inode    uint32
	RecLen   uint16
	NameLen  uint8
	FileType uint8
}

// builder state used only during Build.
type layout struct {
	blocks      [][]byte
	inodeBlocks map[uint32]*inodeRecord
	nextIno     uint32
}

func (l *layout) allocBlock() (uint32, []byte) {
	idx := uint32(len(l.blocks))
	buf := make([]byte, blockSize)
	l.blocks = append(l.blocks, buf)
	return idx, buf
}

// assignInodes numbers root as 2 and walks its descendants depth-first in
// insertion order, starting from the first inode ext2 doesn't reserve.
func assignInodes(n *node, l *layout) {
	n.ino = l.nextIno
	if n.ino == rootInodeNum {
		l.nextIno = firstFreeIno
	} else {
		l.nextIno++
	}
	for _, name := range n.order {
		assignInodes(n.children[name], l)
	}
}

// layoutFileBlocks splits content into blockSize chunks, allocating a block
// for every chunk, and arranges them into an inode's direct and
// single-indirect pointers. Blocks past len(content) up to size get a zero
// pointer (a hole), so a sparse file's trailing hole costs no data blocks.
func layoutFileBlocks(content []byte, size uint64, l *layout) ([directBlockCount]uint32, [3]uint32, error) {
	var direct [directBlockCount]uint32
	var indirect [3]uint32

	contentBlocks := (len(content) + blockSize - 1) / blockSize
	totalBlocks := (size + blockSize - 1) / blockSize
	if totalBlocks > directBlockCount+indirectCapacity {
		return direct, indirect, errors.New("ext2image: file too large for this writer (no double/triple indirect support)")
	}

	var pointers []uint32
	for i := 0; i < contentBlocks; i++ {
		start := i * blockSize
		end := start + blockSize
		if end > len(content) {
			end = len(content)
		}
		idx, buf := l.allocBlock()
		copy(buf, content[start:end])
		pointers = append(pointers, idx)
	}
	for uint64(len(pointers)) < totalBlocks {
		pointers = append(pointers, 0) // hole
	}

	for i := 0; i < len(pointers) && i < directBlockCount; i++ {
		direct[i] = pointers[i]
	}
	if len(pointers) > directBlockCount {
		rest := pointers[directBlockCount:]
		indirectIdx, indirectBuf := l.allocBlock()
		for i, ptr := range rest {
			binary.LittleEndian.PutUint32(indirectBuf[i*4:], ptr)
		}
		indirect[0] = indirectIdx
	}

	return direct, indirect, nil
}

// buildDirectoryBlock lays out "." and ".." plus every child as packed
// directory entries in a single block. Returns an error if they don't fit.
func buildDirectoryBlock(n *node, parentIno uint32, l *layout) (uint32, error) {
	idx, buf := l.allocBlock()

	type ent struct {
		ino      uint32
		name     string
		fileType uint8
	}
	entries := []ent{
		{n.ino, ".", direntTypeDir},
		{parentIno, "..", direntTypeDir},
	}
	for _, name := range n.order {
		child := n.children[name]
		entries = append(entries, ent{child.ino, name, directoryEntryType(child.mode)})
	}

	offset := 0
	for i, e := range entries {
		recLen := entryHeaderSize + len(e.name)
		recLen = (recLen + 3) &^ 3 // 4-byte align
		if offset+recLen > blockSize {
			return 0, errors.Errorf("ext2image: directory has too many entries for this writer")
		}
		if i == len(entries)-1 {
			recLen = blockSize - offset // last entry's rec_len fills the block
		}

		header := direntHeader{Inode: e.ino, RecLen: uint16(recLen), NameLen: uint8(len(e.name)), FileType: e.fileType}
		packed, err := restruct.Pack(binary.LittleEndian, &header)
		if err != nil {
			return 0, errors.Wrap(err, "ext2image: packing directory entry")
		}
		copy(buf[offset:], packed)
		copy(buf[offset+entryHeaderSize:], e.name)

		offset += recLen
	}

	return idx, nil
}

func directoryEntryType(mode uint16) uint8 {
	switch mode & 0xf000 {
	case typeDir:
		return direntTypeDir
	case typeSym:
		return direntTypeSym
	default:
		return direntTypeReg
	}
}

// buildInodes walks the tree depth-first, allocating each node's data
// blocks (and, for directories, its children first so their inode numbers
// are already resolved) and filling in its inode record.
func buildInodes(n *node, parentIno uint32, l *layout) error {
	rec := &inodeRecord{Mode: n.mode, LinksCount: 1}

	switch n.mode & 0xf000 {
	case typeDir:
		for _, name := range n.order {
			if err := buildInodes(n.children[name], n.ino, l); err != nil {
				return err
			}
		}
		blockIdx, err := buildDirectoryBlock(n, parentIno, l)
		if err != nil {
			return err
		}
		rec.Direct[0] = blockIdx
		rec.SizeLow = blockSize
	default: // regular file or symlink
		direct, indirect, err := layoutFileBlocks(n.content, n.size, l)
		if err != nil {
			return err
		}
		rec.Direct = direct
		rec.Indirect = indirect
		rec.SizeLow = uint32(n.size)
	}

	l.inodeBlocks[n.ino] = rec
	return nil
}

// Build lays out the whole tree as a single-block-group ext2 volume and
// returns its raw bytes, sized to a whole number of blocks.
func (b *Builder) Build() ([]byte, error) {
	l := &layout{inodeBlocks: map[uint32]*inodeRecord{}, nextIno: rootInodeNum}

	assignInodes(b.root, l)
	inodeCount := l.nextIno - 1 // inodes 1..nextIno-1 exist (1-10 reserved, unused)

	l.allocBlock() // block 0: unused boot block
	l.allocBlock() // block 1: superblock (byte offset 1024, since blockSize == 1024)
	l.allocBlock() // block 2: block group descriptor table

	inodeTableBlocks := (int(inodeCount)*inodeRecordSize + blockSize - 1) / blockSize
	inodeTableStart, _ := l.allocBlock()
	for i := 1; i < inodeTableBlocks; i++ {
		l.allocBlock()
	}

	if err := buildInodes(b.root, rootInodeNum, l); err != nil {
		return nil, err
	}

	sb := l.blocks[1]
	binary.LittleEndian.PutUint32(sb[24:], 0)                       // BlockSizeShift raw (1024 == 10+0)
	binary.LittleEndian.PutUint32(sb[32:], uint32(len(l.blocks)))   // BlockGroupBlocks
	binary.LittleEndian.PutUint32(sb[40:], inodeCount)              // BlockGroupInodes
	binary.LittleEndian.PutUint16(sb[56:], signature)
	binary.LittleEndian.PutUint32(sb[76:], 1)                  // VersionMajor: dynamic (v1+) superblock
	binary.LittleEndian.PutUint16(sb[88:], inodeRecordSize)     // InodeSize
	binary.LittleEndian.PutUint32(sb[96:], dirTypesFeature)     // RequiredFeatures: directory entries carry a file-type byte
	if b.hasVolume {
		idBytes, _ := b.volumeID.MarshalBinary()
		copy(sb[104:120], idBytes)
	}

	bgd := blockGroupDescriptor{InodeTable: inodeTableStart}
	packedBGD, err := restruct.Pack(binary.LittleEndian, &bgd)
	if err != nil {
		return nil, errors.Wrap(err, "ext2image: packing block group descriptor")
	}
	copy(l.blocks[2], packedBGD)

	for ino, rec := range l.inodeBlocks {
		packed, err := restruct.Pack(binary.LittleEndian, rec)
		if err != nil {
			return nil, errors.Wrap(err, "ext2image: packing inode")
		}
		index := ino - 1
		group := index / inodeCount
		within := index % inodeCount
		offset := int(within) * inodeRecordSize
		blockOffset := offset / blockSize
		byteOffset := offset % blockSize
		copy(l.blocks[int(inodeTableStart)+int(group)*inodeTableBlocks+blockOffset][byteOffset:], packed)
	}

	out := make([]byte, 0, len(l.blocks)*blockSize)
	for _, blk := range l.blocks {
		out = append(out, blk...)
	}
	return out, nil
}
