// Copyright 2025 stackwalk project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package stack reconstructs thread call stacks from captured register
// state and stack memory. Frames are recovered by a cascade of
// strategies of decreasing reliability (captured context, call frame
// information, frame-pointer chasing, stack scanning) and annotated
// with the owning module and, when symbols load, function/file/line.
package stack

import (
	"context"

	"github.com/crashtools/stackwalk/pkg/log"
	"github.com/crashtools/stackwalk/pkg/minidump"
	"github.com/crashtools/stackwalk/pkg/modules"
	"github.com/crashtools/stackwalk/pkg/symbols"
)

// Trust says which strategy recovered a frame. Reliability decreases
// from Context down to Scan.
type Trust int

const (
	TrustContext Trust = iota
	TrustCFI
	TrustFP
	TrustScan
)

func (t Trust) String() string {
	switch t {
	case TrustContext:
		return "context"
	case TrustCFI:
		return "cfi"
	case TrustFP:
		return "frame_pointer"
	case TrustScan:
		return "scan"
	}
	return "unknown"
}

// Frame is one recovered call frame. Immutable once produced.
// Addr is the captured instruction address for frame 0 and the raw
// return address for every later frame.
type Frame struct {
	Index          int
	Trust          Trust
	Addr           uint64
	Module         *minidump.Module // nil when the address is outside every known module
	ModuleOffset   uint64
	Function       string
	FunctionOffset uint64
	HasFunction    bool
	File           string
	Line           int
	HasLine        bool
	MissingSymbols bool
	Regs           *minidump.RegisterSet // full register snapshot, frame 0 only
}

// Config bounds the walk.
type Config struct {
	// MaxFrames is the hard cap on frames per thread.
	MaxFrames int
	// ScanWords is how many pointer-sized stack slots the scanning
	// fallback examines above the current stack pointer. The bound
	// caps both cost and false-positive rate.
	ScanWords int
}

func DefaultConfig() Config {
	return Config{
		MaxFrames: 1024,
		ScanWords: 40,
	}
}

// Walker walks one thread at a time. Walkers for different threads may
// run concurrently: the only shared mutable state is the symbol cache,
// which is safe under concurrent use.
type Walker struct {
	Index  *modules.Index
	Cache  *symbols.Cache
	Config Config
}

func NewWalker(index *modules.Index, cache *symbols.Cache) *Walker {
	return &Walker{Index: index, Cache: cache, Config: DefaultConfig()}
}

// WalkThread reconstructs the call stack of one thread, top of stack
// first. A thread with no captured context (or an architecture we have
// no conventions for) yields no frames; running out of unwind
// strategies ends the walk without error.
func (w *Walker) WalkThread(ctx context.Context, thread *minidump.Thread) []*Frame {
	if thread.Context == nil || thread.Context.Regs == nil {
		return nil
	}
	ar := archFor(thread.Context.Arch)
	if ar == nil {
		log.Logf(1, "thread %v: no unwind support for arch %q", thread.ID, thread.Context.Arch)
		return nil
	}
	u := &unwinder{
		arch:  ar,
		stack: thread.Stack,
		index: w.Index,
		cache: w.Cache,
		cfg:   &w.Config,
		ctx:   ctx,
	}
	cur := &frameState{trust: TrustContext, regs: thread.Context.Regs.Clone()}
	var frames []*Frame
	for {
		frame := w.annotate(ctx, ar, len(frames), cur)
		if frame.Index == 0 {
			frame.Regs = cur.regs.Clone()
		}
		frames = append(frames, frame)
		if len(frames) >= w.Config.MaxFrames {
			log.Logf(2, "thread %v: frame cap reached", thread.ID)
			break
		}
		next := u.unwindNext(cur)
		if next == nil {
			break
		}
		ip, _ := next.regs.Get(ar.ip)
		// Stop conditions: null candidate and stall detection.
		if ip == 0 || ip == frame.Addr {
			break
		}
		cur = next
	}
	return frames
}

// annotate resolves a frame's address to a module and, when symbols are
// available, to a function and source position. For every frame past
// the first the address is a return address, so lookup uses addr-1 to
// land inside the call instruction rather than past it.
func (w *Walker) annotate(ctx context.Context, ar *arch, index int, state *frameState) *Frame {
	addr, _ := state.regs.Get(ar.ip)
	frame := &Frame{Index: index, Trust: state.trust, Addr: addr}
	lookupAddr := addr
	if state.trust != TrustContext && lookupAddr > 0 {
		lookupAddr--
	}
	mod, _, ok := w.Index.Find(lookupAddr)
	if !ok {
		return frame
	}
	frame.Module = mod
	frame.ModuleOffset = addr - mod.BaseAddr
	if w.Cache == nil {
		return frame
	}
	res := w.Cache.Resolve(ctx, mod)
	if res.Status != symbols.Loaded {
		frame.MissingSymbols = true
		return frame
	}
	sym, ok := res.Table.Lookup(lookupAddr - mod.BaseAddr)
	if !ok {
		frame.MissingSymbols = true
		return frame
	}
	frame.Function = sym.Function
	frame.FunctionOffset = addr - (mod.BaseAddr + sym.FuncStart)
	frame.HasFunction = true
	if sym.File != "" {
		frame.File = sym.File
		frame.Line = sym.Line
		frame.HasLine = true
	}
	return frame
}
