// Package config loads the bootloader's configuration file: a sequence of
// `key: value` lines, with `#` starting a line comment and blank lines
// ignored.
//
// Grounded on original_source/bootloader/config.c (BiOption,
// BlLoadConfigurationFromFile, BiHandleOption) and spec.md §4.6.
package config

import "github.com/monkuous/xrboot/internal/diag"

const (
	flagRequired = 1 << 0
	flagProvided = 1 << 31
)

type option struct {
	name  string
	flags uint32
	value *string
}

// Options holds the bootloader's recognized configuration values. Only
// string-valued options exist today (original_source's BiOptionType has a
// single BI_OPTION_STRING variant); spec.md §4.6 names no others.
type Options struct {
	KernelPath string
	StdoutPath string
}

func (o *Options) table() [2]option {
	return [2]option{
		{name: "KernelPath", flags: flagRequired, value: &o.KernelPath},
		{name: "StdoutPath", flags: 0, value: &o.StdoutPath},
	}
}

func isWhitespace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r'
}

// Parse loads Options from the raw bytes of a configuration file, crashing
// fatally on a malformed line or a missing required option, exactly as
// BlLoadConfigurationFromFile does.
func Parse(data []byte) Options {
	diag.Print("Loading configuration\n")

	var opts Options
	table := opts.table()

	line := 1
	for len(data) > 0 {
		for len(data) > 0 && isWhitespace(data[0]) {
			data = data[1:]
		}

		const sizeMax = -1
		nameEnd := sizeMax
		valueEnd := sizeMax
		lineEnd := 0

		for lineEnd < len(data) && data[lineEnd] != '\n' {
			if nameEnd == sizeMax && data[lineEnd] == ':' {
				nameEnd = lineEnd
			}
			if valueEnd == sizeMax && data[lineEnd] == '#' {
				valueEnd = lineEnd
			}
			lineEnd++
		}

		if valueEnd != 0 && lineEnd != 0 {
			if nameEnd == sizeMax {
				diag.Crash("invalid syntax in configuration (line %u)", line)
			}
			if valueEnd == sizeMax {
				valueEnd = lineEnd
			}

			valueStart := nameEnd + 1
			for valueStart < valueEnd && isWhitespace(data[valueStart]) {
				valueStart++
			}
			for valueStart < valueEnd && isWhitespace(data[valueEnd-1]) {
				valueEnd--
			}

			handleOption(table[:], string(data[:nameEnd]), string(data[valueStart:valueEnd]))
		}

		if lineEnd < len(data) {
			lineEnd++
		}
		data = data[lineEnd:]
		line++
	}

	validate(table[:])
	return opts
}

func handleOption(table []option, name, value string) {
	for i := range table {
		if table[i].name == name {
			*table[i].value = value
			table[i].flags |= flagProvided
			return
		}
	}
	diag.Print("BlHandleOption: unknown option `%s`\n", name)
}

func validate(table []option) {
	for _, opt := range table {
		if opt.flags&(flagRequired|flagProvided) == flagRequired {
			diag.Crash("BiValidateOptions: missing required option `%s`", opt.name)
		}
	}
}
