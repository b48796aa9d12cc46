package bitfield_test

import (
	"testing"

	"github.com/monkuous/xrboot/internal/bitfield"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackUnpackRoundTrip(t *testing.T) {
	packed, err := bitfield.Pack(0x17, 0xabcde, 5, 20)
	require.NoError(t, err)

	meta, pfn := bitfield.Unpack(packed, 5, 20)
	assert.EqualValues(t, 0x17, meta)
	assert.EqualValues(t, 0xabcde, pfn)
}

func TestPackRejectsOversizedMeta(t *testing.T) {
	_, err := bitfield.Pack(1<<5, 0, 5, 20)
	assert.Error(t, err)
}

func TestPackRejectsOversizedPFN(t *testing.T) {
	_, err := bitfield.Pack(0, 1<<20, 5, 20)
	assert.Error(t, err)
}

func TestPackRejectsTotalWidthOverflow(t *testing.T) {
	_, err := bitfield.Pack(0, 0, 20, 20)
	assert.Error(t, err)
}
