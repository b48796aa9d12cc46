package diag_test

import (
	"testing"

	"github.com/monkuous/xrboot/internal/diag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintfDirectives(t *testing.T) {
	var sink diag.BufferSink
	diag.Printf(&sink, "%s=%u (0x%04x) %c%%", "count", uint32(42), uint32(42), byte('!'))
	assert.Equal(t, "count=42 (0x002a) !%", sink.String())
}

func TestPrintfNestedFormat(t *testing.T) {
	var sink diag.BufferSink
	diag.Printf(&sink, "outer: %f", "inner %d", []any{int(7)})
	assert.Equal(t, "outer: inner 7", sink.String())
}

func TestPrintfSignedNegative(t *testing.T) {
	var sink diag.BufferSink
	diag.Printf(&sink, "%d", int(-5))
	assert.Equal(t, "-5", sink.String())
}

func TestCrashInvokesReturnToFirmware(t *testing.T) {
	var sink diag.BufferSink
	diag.Console = &sink

	called := false
	diag.ReturnToFirmware = func() { called = true }

	func() {
		defer diag.Recover()
		diag.Crash("kernel file too large (0x%x bytes)", uint64(0x1000))
	}()

	require.True(t, called)
	assert.Contains(t, sink.String(), "kernel file too large")
}
