package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/monkuous/xrboot/internal/config"
	"github.com/monkuous/xrboot/internal/ext2"
)

func newInspectCommand() *cobra.Command {
	var input string
	var verbose bool

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "print an XR boot disk image's partition table and configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(input, verbose)
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "path of the disk image to inspect")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print each partition probe before its result")
	cmd.MarkFlagRequired("input")

	return cmd
}

func runInspect(input string, verbose bool) error {
	f, err := os.Open(input)
	if err != nil {
		return errors.Wrap(err, "opening disk image")
	}
	defer f.Close()

	entries, err := readMBR(f)
	if err != nil {
		return err
	}

	for i, e := range entries {
		if e.Type == 0 {
			continue
		}
		if verbose {
			fmt.Printf("probing partition %d: type=0x%x start=%d size=%d\n", i, e.Type, e.StartingLBA, e.SizeInLBA)
		}

		fmt.Printf("partition %d: type=0x%02x start-lba=%d size=%s\n",
			i, e.Type, e.StartingLBA, humanize.Bytes(uint64(e.SizeInLBA)*sectorSize))

		reader := &partitionReader{
			f:     f,
			start: int64(e.StartingLBA) * sectorSize,
			size:  int64(e.SizeInLBA) * sectorSize,
		}
		fs, ok := ext2.Mount(reader)
		if !ok {
			fmt.Printf("  (not a recognized ext2 volume)\n")
			continue
		}

		cfgFile, ok := fs.Find("/xrlinux.cfg")
		if !ok {
			fmt.Printf("  no /xrlinux.cfg found\n")
			continue
		}
		data := make([]byte, cfgFile.Size())
		cfgFile.Read(data, 0)
		opts := config.Parse(data)
		fmt.Printf("  KernelPath: %s\n", opts.KernelPath)
		fmt.Printf("  StdoutPath: %s\n", opts.StdoutPath)

		if kernel, ok := fs.Find(opts.KernelPath); ok {
			fmt.Printf("  kernel size: %s\n", humanize.Bytes(kernel.Size()))
		}
	}

	return nil
}
