package main

import (
	"os"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/monkuous/xrboot/internal/ext2image"
)

type createOptions struct {
	output     string
	kernel     string
	kernelPath string
	stdoutPath string
	extraFiles []string
}

func newCreateCommand() *cobra.Command {
	opts := &createOptions{}

	cmd := &cobra.Command{
		Use:   "create",
		Short: "create a new XR boot disk image with one ext2 root partition",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreate(opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.output, "output", "o", "", "path of the disk image to write")
	flags.StringVar(&opts.kernel, "kernel", "", "local path of the kernel image file to embed")
	flags.StringVar(&opts.kernelPath, "kernel-path", "/boot/kernel", "KernelPath written into /xrlinux.cfg")
	flags.StringVar(&opts.stdoutPath, "stdout-path", "", "StdoutPath written into /xrlinux.cfg (omitted if empty)")
	flags.StringArrayVar(&opts.extraFiles, "file", nil, "additional local=remote file to embed, may be repeated")
	cmd.MarkFlagRequired("output")
	cmd.MarkFlagRequired("kernel")

	return cmd
}

func runCreate(opts *createOptions) error {
	kernelData, err := os.ReadFile(opts.kernel)
	if err != nil {
		return errors.Wrap(err, "reading kernel image")
	}

	b := ext2image.New()
	b.SetVolumeID(uuid.New())

	if err := b.AddFile(opts.kernelPath, kernelData); err != nil {
		return errors.Wrap(err, "adding kernel image")
	}
	if err := b.AddFile("/xrlinux.cfg", marshalConfig(opts.kernelPath, opts.stdoutPath)); err != nil {
		return errors.Wrap(err, "adding configuration file")
	}
	for _, spec := range opts.extraFiles {
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

	f, err := os.Create(opts.output)
	if err != nil {
		return errors.Wrap(err, "creating output file")
	}
	defer f.Close()

	var entries [mbrEntryCount]mbrEntry
	entries[0] = mbrEntry{
		BootIndicator: 0x80,
		Type:          ext2PartitionType,
		StartingLBA:   firstPartitionLBA,
		SizeInLBA:     uint32((len(volume) + sectorSize - 1) / sectorSize),
	}
	if err := writeMBR(f, entries); err != nil {
		return err
	}
	if _, err := f.WriteAt(volume, firstPartitionLBA*sectorSize); err != nil {
		return errors.Wrap(err, "writing ext2 volume")
	}

	return nil
}

func splitFileSpec(spec string) (local, remote string, err error) {
	for i := 0; i < len(spec); i++ {
		if spec[i] == '=' {
			return spec[:i], spec[i+1:], nil
		}
	}
	return "", "", errors.Errorf("--file %q must be local=remote", spec)
}

func marshalConfig(kernelPath, stdoutPath string) []byte {
	out := "KernelPath: " + kernelPath + "\n"
	if stdoutPath != "" {
		out += "StdoutPath: " + stdoutPath + "\n"
	}
	return []byte(out)
}
