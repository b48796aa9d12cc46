package main

import (
	"os"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/monkuous/xrboot/internal/ext2image"
)

func newAddPartitionCommand() *cobra.Command {
	var input string
	var partType uint8
	var files []string

	cmd := &cobra.Command{
		Use:   "add-partition",
		Short: "append a new ext2 partition with the given files to an existing image",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAddPartition(input, partType, files)
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&input, "input", "i", "", "disk image to modify in place")
	flags.Uint8Var(&partType, "type", ext2PartitionType, "MBR partition type byte")
	flags.StringArrayVar(&files, "file", nil, "local=remote file to embed, may be repeated")
	cmd.MarkFlagRequired("input")

	return cmd
}

func runAddPartition(input string, partType uint8, files []string) error {
	f, err := os.OpenFile(input, os.O_RDWR, 0)
	if err != nil {
		return errors.Wrap(err, "opening disk image")
	}
	defer f.Close()

	entries, err := readMBR(f)
	if err != nil {
		return err
	}
	slot, startLBA, err := nextFreeSlot(entries)
	if err != nil {
		return err
	}

	b := ext2image.New()
	b.SetVolumeID(uuid.New())
	for _, spec := range files {
		local, remote, err := splitFileSpec(spec)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(local)
		if err != nil {
			return errors.Wrapf(err, "reading %s", local)
		}
		if err := b.AddFile(remote, data); err != nil {
			return errors.Wrapf(err, "adding %s", remote)
		}
	}

	volume, err := b.Build()
	if err != nil {
		return errors.Wrap(err, "building ext2 volume")
	}

	entries[slot] = mbrEntry{
		BootIndicator: 0,
		Type:          partType,
		StartingLBA:   startLBA,
		SizeInLBA:     uint32((len(volume) + sectorSize - 1) / sectorSize),
	}
	if err := writeMBR(f, entries); err != nil {
		return err
	}
	if _, err := f.WriteAt(volume, int64(startLBA)*sectorSize); err != nil {
		return errors.Wrap(err, "writing ext2 volume")
	}

	return nil
}
