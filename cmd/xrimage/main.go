// Command xrimage creates and inspects XR boot disk images: an MBR
// partition table plus one or more ext2 volumes built by
// internal/ext2image, for use as test fixtures and during bootloader
// development. It is hosted tooling, not part of the freestanding
// bootloader image.
//
// Grounded on dsoprea-go-exfat's cmd/ tools (cobra-style subcommands,
// go-humanize for sizes, pkg/errors for wrapped error returns) and
// direktiv-vorteil's cobra-based disk-image CLI.
package main

import (
	"os"

	"github.com/dsoprea/go-logging"
	"github.com/spf13/cobra"

	"github.com/monkuous/xrboot/internal/diag"
)

func main() {
	defer func() {
		if state := recover(); state != nil {
			err, ok := state.(error)
			if !ok {
				panic(state)
			}
			log.PrintError(log.Wrap(err))
			os.Exit(1)
		}
	}()

	// internal/config and internal/ext2 print through diag.Console; here
	// that output is collected in memory and not shown.
	diag.Console = &diag.BufferSink{}

	root := &cobra.Command{
		Use:   "xrimage",
		Short: "build and inspect XR boot disk images",
	}
	root.AddCommand(newCreateCommand())
	root.AddCommand(newInspectCommand())
	root.AddCommand(newAddPartitionCommand())
	root.AddCommand(newConfigCommand())

	log.PanicIf(root.Execute())
}
