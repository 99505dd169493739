package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"memcore/engine"
	"memcore/hexdump"
	"memcore/memory"
	"memcore/memory_blob"
	"memcore/pattern"
)

type options struct {
	pattern string
	offset  int64
	all     bool
	context int
	nop     bool
	save    string
	workers int
}

func main() {
	fileFlag := flag.String("file", "", "Raw image file to map as the primary module")
	baseFlag := flag.String("base", "", "Base address for -file (default 0x140000000)")
	dumpFlag := flag.String("dump", "", "Dump directory written by -save")
	selfFlag := flag.Bool("self", false, "Scan the primary module of this process")

	var opts options
	flag.StringVar(&opts.pattern, "pattern", "", "Signature to scan for (e.g. '48 8B ?? ?? 89')")
	flag.Int64Var(&opts.offset, "offset", 0, "Offset added to every match")
	flag.BoolVar(&opts.all, "all", false, "Report every match instead of the first")
	flag.IntVar(&opts.context, "context", 1, "Lines of hexdump context around each match")
	flag.BoolVar(&opts.nop, "nop", false, "NOP the first match and show the patched bytes")
	flag.StringVar(&opts.save, "save", "", "Save the primary module to this dump directory")
	flag.IntVar(&opts.workers, "workers", 1, "Parallel scan workers")
	flag.Parse()

	if opts.pattern == "" {
		fmt.Println("Error: --pattern is required")
		flag.Usage()
		os.Exit(1)
	}

	target, err := openTarget(*fileFlag, *baseFlag, *dumpFlag, *selfFlag)
	if err != nil {
		fmt.Printf("Error opening target: %v\n", err)
		os.Exit(1)
	}

	if err := run(target, opts, os.Stdout); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

// run scans target and applies the requested actions. Every patch it makes
// is reverted before it returns, on success and on error.
func run(target memory.Target, opts options, w io.Writer) (err error) {
	pat, err := pattern.Parse(opts.pattern)
	if err != nil {
		return fmt.Errorf("parsing pattern: %w", err)
	}

	e := engine.New(target, engine.WithMemoryOptions(memory.WithScanWorkers(opts.workers)))
	defer func() {
		if closeErr := e.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("reverting patches: %w", closeErr))
		}
	}()

	module, err := e.Module()
	if err != nil {
		return fmt.Errorf("finding primary module: %w", err)
	}
	fmt.Fprintf(w, "Module %s at %s size %#x\n", module.Path, module.Base, uint64(module.Size))
	fmt.Fprintf(w, "Scanning for pattern: %s\n", pat)

	matches, err := e.ScanAdvanced(engine.ScanOptions{Pattern: pat.String(), AllMatches: opts.all})
	if err != nil {
		return fmt.Errorf("scanning memory: %w", err)
	}
	fmt.Fprintf(w, "Found %d matches:\n", len(matches))

	for _, match := range matches {
		fmt.Fprintf(w, "Match at %s (%s+%#x):\n", match.Offset(opts.offset), module.Base, uint64(match-module.Base))
		out, err := hexdump.Context(e.Memory(), match, pat, opts.context)
		if err != nil {
			fmt.Fprintf(w, "Error reading context: %v\n", err)
			continue
		}
		fmt.Fprint(w, out)
	}

	if opts.nop {
		if _, err := e.PatchNop(matches[0], memory.Size(pat.Len())); err != nil {
			return fmt.Errorf("patching %s: %w", matches[0], err)
		}
		patched, err := e.Read(matches[0], memory.Size(pat.Len()), true)
		if err != nil {
			return fmt.Errorf("reading patch: %w", err)
		}
		fmt.Fprintf(w, "Patched %s: % X\n", matches[0], patched)
	}

	if opts.save != "" {
		snapshot, err := memory_blob.Snapshot(target, module.Base, module.Size)
		if err != nil {
			return fmt.Errorf("taking snapshot: %w", err)
		}
		if err := snapshot.Save(opts.save); err != nil {
			return fmt.Errorf("saving dump: %w", err)
		}
		fmt.Fprintf(w, "Dump saved to %s\n", opts.save)
	}
	return nil
}

func openTarget(file, base, dump string, self bool) (memory.Target, error) {
	switch {
	case file != "":
		var addr uint64
		if base != "" {
			var err error
			if addr, err = strconv.ParseUint(base, 0, 64); err != nil {
				return nil, fmt.Errorf("invalid base %q: %w", base, err)
			}
		}
		return memory_blob.LoadFile(file, memory.Address(addr))
	case dump != "":
		return memory_blob.Load(dump)
	case self:
		return selfTarget()
	default:
		return nil, fmt.Errorf("one of --file, --dump or --self is required")
	}
}
