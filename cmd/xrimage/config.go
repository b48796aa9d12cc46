package main

import (
	"os"

	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/monkuous/xrboot/internal/config"
	"github.com/monkuous/xrboot/internal/ext2"
	"github.com/monkuous/xrboot/internal/ext2image"
)

// configSetOptions is parsed with go-flags rather than cobra's own flag
// set, matching dsoprea-go-exfat's cmd/ tools (which use go-flags for
// their whole CLI surface); pointer fields distinguish "not given" from
// "set to empty".
type configSetOptions struct {
	KernelPath *string `long:"KernelPath" description:"new KernelPath value"`
	StdoutPath *string `long:"StdoutPath" description:"new StdoutPath value"`
}

func newConfigCommand() *cobra.Command {
	config := &cobra.Command{
		Use:   "config",
		Short: "inspect or edit an image's /xrlinux.cfg",
	}
	config.AddCommand(newConfigSetCommand())
	return config
}

func newConfigSetCommand() *cobra.Command {
	var input string

	cmd := &cobra.Command{
		Use:                "set -- [go-flags overrides, e.g. --KernelPath=/boot/kernel2]",
		Short:              "rewrite the root partition's /xrlinux.cfg, preserving its kernel image",
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigSet(input, args)
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "disk image to modify in place")
	return cmd
}

func runConfigSet(input string, args []string) error {
	var opts configSetOptions
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return errors.Wrap(err, "parsing config overrides")
	}

	f, err := os.OpenFile(input, os.O_RDWR, 0)
	if err != nil {
		return errors.Wrap(err, "opening disk image")
	}
	defer f.Close()

	entries, err := readMBR(f)
	if err != nil {
		return err
	}

	slot := -1
	for i, e := range entries {
		if e.Type == ext2PartitionType {
			slot = i
			break
		}
	}
	if slot == -1 {
		return errors.New("no ext2 root partition found")
	}
	e := entries[slot]

	reader := &partitionReader{f: f, start: int64(e.StartingLBA) * sectorSize, size: int64(e.SizeInLBA) * sectorSize}
	fs, ok := ext2.Mount(reader)
	if !ok {
		return errors.New("root partition is not a recognized ext2 volume")
	}

	cfgFile, ok := fs.Find("/xrlinux.cfg")
	if !ok {
		return errors.New("root partition has no /xrlinux.cfg")
	}
	raw := make([]byte, cfgFile.Size())
	cfgFile.Read(raw, 0)
	current := config.Parse(raw)

	if opts.KernelPath != nil {
		current.KernelPath = *opts.KernelPath
	}
	if opts.StdoutPath != nil {
		current.StdoutPath = *opts.StdoutPath
	}

	kernelFile, ok := fs.Find(current.KernelPath)
	if !ok {
		return errors.Errorf("kernel path %q not found in existing image", current.KernelPath)
	}
	kernelData := make([]byte, kernelFile.Size())
	kernelFile.Read(kernelData, 0)

	b := ext2image.New()
	if err := b.AddFile(current.KernelPath, kernelData); err != nil {
		return errors.Wrap(err, "re-adding kernel image")
	}
	if err := b.AddFile("/xrlinux.cfg", marshalConfig(current.KernelPath, current.StdoutPath)); err != nil {
		return errors.Wrap(err, "rewriting configuration file")
	}

	volume, err := b.Build()
	if err != nil {
		return errors.Wrap(err, "rebuilding ext2 volume")
	}
	if uint32((len(volume)+sectorSize-1)/sectorSize) > e.SizeInLBA {
		return errors.New("updated volume no longer fits in its existing partition slot")
	}
	if _, err := f.WriteAt(volume, int64(e.StartingLBA)*sectorSize); err != nil {
		return errors.Wrap(err, "writing updated ext2 volume")
	}

	return nil
}
