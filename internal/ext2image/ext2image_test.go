package ext2image_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/monkuous/xrboot/internal/ext2"
	"github.com/monkuous/xrboot/internal/ext2image"
)

// memReader serves a built volume straight out of memory, the way a real
// partition.Root serves one out of a block cache, minus the bounds
// checking (Build never produces an out-of-range read in these tests).
type memReader struct {
	data []byte
}

func (r *memReader) Read(buf []byte, position uint64, bypassCache bool) {
	copy(buf, r.data[position:])
}

func mount(t *testing.T, b *ext2image.Builder) *ext2.FS {
	t.Helper()
	data, err := b.Build()
	require.NoError(t, err)

	fs, ok := ext2.Mount(&memReader{data: data})
	require.True(t, ok)
	return fs
}

func TestBuildRoundTripsNestedFiles(t *testing.T) {
	b := ext2image.New()
	require.NoError(t, b.AddFile("/boot/kernel", []byte("fake kernel bytes")))
	require.NoError(t, b.AddFile("/xrlinux.cfg", []byte("KernelPath: /boot/kernel\n")))

	fs := mount(t, b)

	kernel, ok := fs.Find("/boot/kernel")
	require.True(t, ok)
	assert.EqualValues(t, len("fake kernel bytes"), kernel.Size())
	buf := make([]byte, kernel.Size())
	kernel.Read(buf, 0)
	assert.Equal(t, "fake kernel bytes", string(buf))

	cfg, ok := fs.Find("/xrlinux.cfg")
	require.True(t, ok)
	buf = make([]byte, cfg.Size())
	cfg.Read(buf, 0)
	assert.Equal(t, "KernelPath: /boot/kernel\n", string(buf))
}

func TestBuildRejectsDuplicatePath(t *testing.T) {
	b := ext2image.New()
	require.NoError(t, b.AddFile("/a", []byte("1")))
	assert.Error(t, b.AddFile("/a", []byte("2")))
}

func TestSparseFileReadsZeroFilledHole(t *testing.T) {
	b := ext2image.New()
	require.NoError(t, b.AddSparseFile("/sparse.bin", []byte("head"), 4096))

	fs := mount(t, b)
	file, ok := fs.Find("/sparse.bin")
	require.True(t, ok)
	assert.EqualValues(t, 4096, file.Size())

	buf := make([]byte, 4096)
	file.Read(buf, 0)
	assert.Equal(t, "head", string(buf[:4]))
	for _, b := range buf[4:] {
		assert.Zero(t, b)
	}
}

func TestMultiBlockFileSpansIndirectBlock(t *testing.T) {
	// 12 direct blocks only cover 12 KiB; this forces the single-indirect
	// pointer block to be exercised.
	content := make([]byte, 20*1024)
	for i := range content {
		content[i] = byte(i)
	}

	b := ext2image.New()
	require.NoError(t, b.AddFile("/big.bin", content))

	fs := mount(t, b)
	file, ok := fs.Find("/big.bin")
	require.True(t, ok)
	buf := make([]byte, len(content))
	file.Read(buf, 0)
	assert.Equal(t, content, buf)
}

func TestSymlinkResolvesToTarget(t *testing.T) {
	b := ext2image.New()
	require.NoError(t, b.AddFile("/real.txt", []byte("real content")))
	require.NoError(t, b.AddSymlink("/link.txt", "/real.txt"))

	fs := mount(t, b)
	file, ok := fs.Find("/link.txt")
	require.True(t, ok)
	buf := make([]byte, file.Size())
	file.Read(buf, 0)
	assert.Equal(t, "real content", string(buf))
}

func TestSymlinkChainOfFiveResolvesButSixFails(t *testing.T) {
	b := ext2image.New()
	require.NoError(t, b.AddFile("/target", []byte("ok")))

	// /chain0 -> /chain1 -> ... -> /chain4 -> /target (5 hops): resolves.
	require.NoError(t, b.AddSymlink("/chain4", "/target"))
	for i := 3; i >= 0; i-- {
		require.NoError(t, b.AddSymlink(fmt.Sprintf("/chain%d", i), fmt.Sprintf("/chain%d", i+1)))
	}

	// /over0 -> ... -> /over5 -> /target (6 hops): exceeds the bound.
	require.NoError(t, b.AddSymlink("/over5", "/target"))
	for i := 4; i >= 0; i-- {
		require.NoError(t, b.AddSymlink(fmt.Sprintf("/over%d", i), fmt.Sprintf("/over%d", i+1)))
	}

	fs := mount(t, b)

	file, ok := fs.Find("/chain0")
	require.True(t, ok)
	buf := make([]byte, file.Size())
	file.Read(buf, 0)
	assert.Equal(t, "ok", string(buf))

	_, ok = fs.Find("/over0")
	assert.False(t, ok)
}

func TestDirectoriesNestAndResolve(t *testing.T) {
	b := ext2image.New()
	require.NoError(t, b.AddDir("/etc/xr"))
	require.NoError(t, b.AddFile("/etc/xr/board.cfg", []byte("griffin")))

	fs := mount(t, b)
	file, ok := fs.Find("/etc/xr/board.cfg")
	require.True(t, ok)
	buf := make([]byte, file.Size())
	file.Read(buf, 0)
	assert.Equal(t, "griffin", string(buf))

	_, ok = fs.Find("/etc/xr/missing")
	assert.False(t, ok)
}
