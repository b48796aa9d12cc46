package firmware_test

import (
	"testing"

	"github.com/monkuous/xrboot/internal/firmware"
	"github.com/stretchr/testify/assert"
)

func TestMachineTypeString(t *testing.T) {
	assert.Equal(t, "XR/station", firmware.XRStation.String())
	assert.Equal(t, "XR/MP", firmware.XRMP.String())
	assert.Equal(t, "XR/frame", firmware.XRFrame.String())
}

func TestShimPutByteForwardsToAPITable(t *testing.T) {
	var got []byte
	api := &firmware.APITable{
		PutCharacter: func(c byte) { got = append(got, c) },
	}
	shim := firmware.NewShim(api, &firmware.Partition{})

	shim.PutByte('h')
	shim.PutByte('i')
	assert.Equal(t, []byte("hi"), got)
}

func TestShimReadSectorsReportsShortReadAsFailure(t *testing.T) {
	api := &firmware.APITable{
		ReadDisk: func(partition *firmware.Partition, buf []byte, startSector, sectorCount uint32) uint32 {
			return sectorCount - 1
		},
	}
	shim := firmware.NewShim(api, &firmware.Partition{})

	ok := shim.ReadSectors(make([]byte, 512*4), 0, 4)
	assert.False(t, ok)
}

func TestShimReadSectorsReportsFullReadAsSuccess(t *testing.T) {
	api := &firmware.APITable{
		ReadDisk: func(partition *firmware.Partition, buf []byte, startSector, sectorCount uint32) uint32 {
			for i := range buf {
				buf[i] = 0xaa
			}
			return sectorCount
		},
	}
	shim := firmware.NewShim(api, &firmware.Partition{})

	buf := make([]byte, 512*2)
	ok := shim.ReadSectors(buf, 10, 2)
	assert.True(t, ok)
	assert.Equal(t, byte(0xaa), buf[0])
}
