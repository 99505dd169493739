// Package engine is the handle an embedding layer holds: one accessor, one
// patch registry, a signature cache and the primary module of the target.
package engine

import (
	"fmt"

	"memcore/memory"
	"memcore/patch"
)

// NopByte fills PatchNop ranges.
const NopByte = 0x90

// Engine is not synchronized. The embedding layer serializes calls, and
// Close needs exclusive access.
type Engine struct {
	mem     *memory.Accessor
	patches *patch.Manager
	log     memory.Logger

	module    memory.Module
	scanCache map[string]memory.Address
}

type config struct {
	log        memory.Logger
	memOptions []memory.Option
}

type Option func(*config)

func WithLogger(log memory.Logger) Option {
	return func(c *config) {
		c.log = log
	}
}

// WithMemoryOptions passes options to the underlying memory.Accessor.
func WithMemoryOptions(options ...memory.Option) Option {
	return func(c *config) {
		c.memOptions = append(c.memOptions, options...)
	}
}

func New(target memory.Target, options ...Option) *Engine {
	var c config
	for _, opt := range options {
		opt(&c)
	}
	if c.log == nil {
		c.log = memory.NewLogger("engine")
	}

	mem := memory.New(target, append([]memory.Option{memory.WithLogger(c.log)}, c.memOptions...)...)
	return &Engine{
		mem:       mem,
		patches:   patch.NewManager(mem, patch.WithLogger(c.log)),
		log:       c.log,
		scanCache: make(map[string]memory.Address),
	}
}

func (e *Engine) Memory() *memory.Accessor {
	return e.mem
}

func (e *Engine) Patches() *patch.Manager {
	return e.patches
}

// Module returns the primary module, locating it on first use.
func (e *Engine) Module() (memory.Module, error) {
	if !e.module.IsZero() {
		return e.module, nil
	}
	return e.RefreshModule()
}

// RefreshModule locates the primary module again and drops cached scans.
func (e *Engine) RefreshModule() (memory.Module, error) {
	module, err := e.mem.PrimaryModule()
	if err != nil {
		return memory.Module{}, err
	}

	e.module = module
	clear(e.scanCache)
	e.log.Infoln("primary module", module.Path, "at", module.Base, "size", module.Size)
	return module, nil
}

// Scan returns the first match of text in the primary module plus offset.
// The match is cached per signature text; the offset is applied per call.
func (e *Engine) Scan(text string, offset int64) (memory.Address, error) {
	if addr, ok := e.scanCache[text]; ok {
		return addr.Offset(offset), nil
	}

	module, err := e.Module()
	if err != nil {
		return 0, err
	}
	addr, err := e.mem.ScanFirst(module.Base, module.Size, text)
	if err != nil {
		return 0, err
	}

	e.scanCache[text] = addr
	return addr.Offset(offset), nil
}

// ScanOptions selects the range and mode of ScanAdvanced.
type ScanOptions struct {
	Pattern string
	Offset  int64

	// Start defaults to the module base, Length to the module size.
	Start  memory.Address
	Length memory.Size

	AllMatches bool
}

// ScanAdvanced scans an explicit range, bypassing the cache. Every result is shifted by Offset.
func (e *Engine) ScanAdvanced(opts ScanOptions) ([]memory.Address, error) {
	start, length := opts.Start, opts.Length
	if start == 0 || length == 0 {
		module, err := e.Module()
		if err != nil {
			return nil, err
		}
		if start == 0 {
			start = module.Base
		}
		if length == 0 {
			length = module.Size
		}
	}

	var matches []memory.Address
	if opts.AllMatches {
		all, err := e.mem.ScanAll(start, length, opts.Pattern)
		if err != nil {
			return nil, err
		}
		matches = all
	} else {
		first, err := e.mem.ScanFirst(start, length, opts.Pattern)
		if err != nil {
			return nil, err
		}
		matches = []memory.Address{first}
	}

	for i := range matches {
		matches[i] = matches[i].Offset(opts.Offset)
	}
	return matches, nil
}

// Patch applies a tracked patch and returns the original bytes.
func (e *Engine) Patch(addr memory.Address, data []byte) ([]byte, error) {
	return e.patches.Apply(addr, data)
}

// PatchNop fills size bytes at addr with NOP instructions.
func (e *Engine) PatchNop(addr memory.Address, size memory.Size) ([]byte, error) {
	return e.patches.ApplyRepeat(addr, NopByte, size)
}

func (e *Engine) PatchRepeat(addr memory.Address, b byte, count memory.Size) ([]byte, error) {
	return e.patches.ApplyRepeat(addr, b, count)
}

// RestorePatch reverts the patch applied at addr and reports whether there was one.
func (e *Engine) RestorePatch(addr memory.Address) (bool, error) {
	return e.patches.Revert(addr)
}

func (e *Engine) OffsetPtr(base memory.Address, offsets ...int64) (memory.Address, bool) {
	return e.mem.OffsetPtr(base, offsets...)
}

func (e *Engine) OffsetPtrCE(base memory.Address, offsets ...int64) (memory.Address, bool) {
	return e.mem.OffsetPtrCE(base, offsets...)
}

func (e *Engine) Read(addr memory.Address, size memory.Size, safe bool) ([]byte, error) {
	return e.mem.Read(addr, size, safe)
}

func (e *Engine) QuickRead(addr memory.Address, size memory.Size, safe bool) ([8]byte, error) {
	return e.mem.QuickRead(addr, size, safe)
}

func (e *Engine) Write(addr memory.Address, data []byte, safe bool) error {
	return e.mem.Write(addr, data, safe)
}

// Close reverts every live patch. Patches that fail to revert stay
// registered and a later Close retries them. The engine stays usable; patches
// applied after Close are reverted by the next Close.
func (e *Engine) Close() error {
	n := e.patches.Len()
	if n == 0 {
		return nil
	}
	if err := e.patches.RevertAll(); err != nil {
		return fmt.Errorf("engine teardown: %w", err)
	}
	e.log.Debugln("engine closed, reverted", n, "patches")
	return nil
}
