package devicetree_test

import (
	"encoding/binary"
	"testing"

	"github.com/monkuous/xrboot/internal/devicetree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildHeaderFields(t *testing.T) {
	b := devicetree.NewBuilder()
	blob := b.Build()

	be := binary.BigEndian
	require.GreaterOrEqual(t, len(blob), 40)
	assert.EqualValues(t, 0xd00dfeed, be.Uint32(blob[0:]))
	assert.EqualValues(t, len(blob), be.Uint32(blob[4:]))
	assert.EqualValues(t, 17, be.Uint32(blob[20:]))
	assert.EqualValues(t, 16, be.Uint32(blob[24:]))
}

func TestBuildEmitsNestedNodesAndProperties(t *testing.T) {
	b := devicetree.NewBuilder()
	root := b.Root()
	b.AddPropertyString(root, "compatible", "xr,station")

	cpus := b.CreateChild(root, "cpus")
	cpu0 := b.CreateChild(cpus, "cpu@0")
	b.AddPropertyU32(cpu0, "reg", 0)

	blob := b.Build()

	be := binary.BigEndian
	structOff := be.Uint32(blob[8:])
	structSize := be.Uint32(blob[36:])
	structure := blob[structOff : structOff+structSize]

	assert.EqualValues(t, 1, be.Uint32(structure[0:])) // FDT_BEGIN_NODE (root, "")
	// last four bytes of the structure block must be FDT_END.
	assert.EqualValues(t, 9, be.Uint32(structure[len(structure)-4:]))
}

func TestDuplicatePropertyNamesInternOnce(t *testing.T) {
	b := devicetree.NewBuilder()
	root := b.Root()

	a := b.CreateChild(root, "a")
	bNode := b.CreateChild(root, "b")
	b.AddPropertyString(a, "status", "okay")
	b.AddPropertyString(bNode, "status", "okay")

	blob := b.Build()
	be := binary.BigEndian
	stringsOff := be.Uint32(blob[12:])
	stringsSize := be.Uint32(blob[32:])
	strings := blob[stringsOff : stringsOff+stringsSize]

	// "status" should appear exactly once across the whole strings block.
	count := 0
	needle := []byte("status\x00")
	for i := 0; i+len(needle) <= len(strings); i++ {
		if string(strings[i:i+len(needle)]) == string(needle) {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestAddReservedMemoryAppearsInRsvmap(t *testing.T) {
	b := devicetree.NewBuilder()
	b.AddReservedMemory(0x1000, 0x2000)

	blob := b.Build()
	be := binary.BigEndian
	rsvOff := be.Uint32(blob[16:])

	assert.EqualValues(t, 0x1000, be.Uint64(blob[rsvOff:]))
	assert.EqualValues(t, 0x2000, be.Uint64(blob[rsvOff+8:]))
	// terminator entry follows.
	assert.EqualValues(t, 0, be.Uint64(blob[rsvOff+16:]))
	assert.EqualValues(t, 0, be.Uint64(blob[rsvOff+24:]))
}

func TestAllocPhandleIsMonotonic(t *testing.T) {
	b := devicetree.NewBuilder()
	assert.EqualValues(t, 1, b.AllocPhandle())
	assert.EqualValues(t, 2, b.AllocPhandle())
}

func TestFindOrCreateChildReturnsExistingNode(t *testing.T) {
	b := devicetree.NewBuilder()
	root := b.Root()

	first := b.FindOrCreateChild(root, "chosen")
	b.AddPropertyString(first, "bootargs", "quiet")

	second := b.FindOrCreateChild(root, "chosen")
	assert.Same(t, first, second)
	b.AddPropertyString(second, "stdout-path", "serial0")

	blob := b.Build()
	be := binary.BigEndian
	stringsOff := be.Uint32(blob[12:])
	stringsSize := be.Uint32(blob[32:])
	strings := string(blob[stringsOff : stringsOff+stringsSize])
	assert.Contains(t, strings, "bootargs")
	assert.Contains(t, strings, "stdout-path")
}
