package ext2_test

import (
	"encoding/binary"
	"testing"

	"github.com/monkuous/xrboot/internal/ext2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeVolume is a hand-built, minimal ext2 image: 1024-byte blocks, a
// superblock forcing the pre-v1 inode defaults (128-byte inodes, no
// optional features), a one-block inode table, a root directory holding a
// single entry, and one regular file.
type fakeVolume struct {
	data []byte
}

func (v *fakeVolume) Read(buf []byte, position uint64, bypassCache bool) {
	copy(buf, v.data[position:])
}

func newFakeVolume() *fakeVolume {
	const blockSize = 1024
	data := make([]byte, 22*blockSize)
	le := binary.LittleEndian

	// Superblock at byte 1024.
	const sb = 1024
	le.PutUint32(data[sb+24:], 0)     // BlockSizeShift raw (actual = +10 = 1024)
	le.PutUint32(data[sb+40:], 32)    // BlockGroupInodes
	le.PutUint16(data[sb+56:], 0xef53) // Signature
	le.PutUint32(data[sb+76:], 0)     // VersionMajor < 1

	// Block group descriptor table at byte 2048 (block 2).
	const bgdt = 2 * blockSize
	le.PutUint32(data[bgdt+8:], 3) // InodeTableBlock = 3

	// Inode table starts at block 3 (byte 3072), 128-byte inodes.
	const inodeTable = 3 * blockSize

	// Root inode (#2): group 0, index 1 -> offset 128.
	rootInode := inodeTable + 1*128
	le.PutUint16(data[rootInode:], 0x4000) // directory
	le.PutUint32(data[rootInode+4:], blockSize)
	le.PutUint32(data[rootInode+40:], 10) // DirectBlocks[0] = block 10

	// File inode (#11): group 0, index 10 -> offset 1280.
	fileInode := inodeTable + 10*128
	le.PutUint16(data[fileInode:], 0x8000) // regular file
	le.PutUint32(data[fileInode+4:], 13)
	le.PutUint32(data[fileInode+40:], 20) // DirectBlocks[0] = block 20

	// Root directory contents at block 10 (byte 10240): one entry
	// spanning the whole block.
	const rootData = 10 * blockSize
	le.PutUint32(data[rootData:], 11)      // Inode
	le.PutUint16(data[rootData+4:], blockSize) // rec_len
	data[rootData+6] = 9                   // name length
	data[rootData+7] = 0                   // type (unused, feature off)
	copy(data[rootData+8:], "hello.txt")

	// File contents at block 20 (byte 20480).
	copy(data[20*blockSize:], "Hello, world!")

	return &fakeVolume{data: data}
}

func TestMountRecognizesSignature(t *testing.T) {
	fs, ok := ext2.Mount(newFakeVolume())
	require.True(t, ok)
	require.NotNil(t, fs)
}

func TestMountRejectsBadSignature(t *testing.T) {
	v := newFakeVolume()
	v.data[1024+56] = 0 // clobber the signature's low byte
	v.data[1024+57] = 0

	_, ok := ext2.Mount(v)
	assert.False(t, ok)
}

func TestFindAndReadFile(t *testing.T) {
	fs, ok := ext2.Mount(newFakeVolume())
	require.True(t, ok)

	file, ok := fs.Find("/hello.txt")
	require.True(t, ok)
	assert.EqualValues(t, 13, file.Size())

	buf := make([]byte, 13)
	file.Read(buf, 0)
	assert.Equal(t, "Hello, world!", string(buf))
}

func TestFindMissingFileFails(t *testing.T) {
	fs, ok := ext2.Mount(newFakeVolume())
	require.True(t, ok)

	_, ok = fs.Find("/nonexistent.txt")
	assert.False(t, ok)
}

func TestFindDirectoryIsNotAFile(t *testing.T) {
	fs, ok := ext2.Mount(newFakeVolume())
	require.True(t, ok)

	_, ok = fs.Find("/")
	assert.False(t, ok)
}

func TestReadPastEndOfFileIsSilentNoOp(t *testing.T) {
	fs, ok := ext2.Mount(newFakeVolume())
	require.True(t, ok)

	file, ok := fs.Find("/hello.txt")
	require.True(t, ok)

	buf := make([]byte, 100)
	file.Read(buf, 0)

	for _, b := range buf {
		assert.Zero(t, b)
	}
}
