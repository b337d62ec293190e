// Copyright 2025 stackwalk project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package stack

import (
	"context"

	"github.com/crashtools/stackwalk/pkg/minidump"
	"github.com/crashtools/stackwalk/pkg/modules"
	"github.com/crashtools/stackwalk/pkg/symbols"
)

// frameState is the register state a frame executes with, plus how we
// came to believe it.
type frameState struct {
	trust Trust
	regs  *minidump.RegisterSet
}

// unwinder recovers caller frames for one thread. At every step it
// tries the strategies in strict trust order and takes the first that
// produces a plausible caller; when all fail the walk is over, which is
// a normal termination, not an error.
type unwinder struct {
	arch  *arch
	stack *minidump.MemoryRegion
	index *modules.Index
	cache *symbols.Cache
	cfg   *Config
	ctx   context.Context
}

func (u *unwinder) unwindNext(cur *frameState) *frameState {
	if next := u.unwindCFI(cur); next != nil {
		return next
	}
	if next := u.unwindFramePointer(cur); next != nil {
		return next
	}
	return u.unwindScan(cur)
}

// readPointer reads one pointer from the thread's captured stack.
func (u *unwinder) readPointer(addr uint64) (uint64, error) {
	return u.stack.ReadPointer(addr, u.arch.ptrSize)
}

// ReadPointer implements symbols.MemoryReader for CFI evaluation.
func (u *unwinder) ReadPointer(addr uint64) (uint64, error) {
	return u.readPointer(addr)
}

// unwindCFI looks up a call frame information program covering the
// current instruction and evaluates it. Any evaluation failure, and any
// recovered state that is implausible (zero return address, stack not
// moving forward), falls through to the next strategy.
func (u *unwinder) unwindCFI(cur *frameState) *frameState {
	if u.cache == nil {
		return nil
	}
	ip, _ := cur.regs.Get(u.arch.ip)
	sp, _ := cur.regs.Get(u.arch.sp)
	lookupAddr := ip
	if cur.trust != TrustContext && lookupAddr > 0 {
		lookupAddr--
	}
	mod, _, ok := u.index.Find(lookupAddr)
	if !ok {
		return nil
	}
	res := u.cache.Resolve(u.ctx, mod)
	if res.Status != symbols.Loaded {
		return nil
	}
	rules := res.Table.CFIRules(lookupAddr - mod.BaseAddr)
	if rules == nil {
		return nil
	}
	regVals := make(map[string]uint64)
	for _, name := range cur.regs.Names() {
		val, _ := cur.regs.Get(name)
		regVals[name] = val
	}
	for alias, name := range u.arch.regAliases {
		if val, ok := cur.regs.Get(name); ok {
			regVals[alias] = val
		}
	}
	cfi, err := symbols.EvalCFIRules(rules, regVals, u)
	if err != nil {
		return nil
	}
	if cfi.RA == 0 || cfi.CFA <= sp {
		return nil
	}
	regs := minidump.NewRegisterSet()
	regs.Set(u.arch.ip, cfi.RA)
	regs.Set(u.arch.sp, cfi.CFA)
	if fp, ok := cur.regs.Get(u.arch.fp); ok {
		regs.Set(u.arch.fp, fp)
	}
	// The caller's lr is only known if a rule recovers it ($x30 etc);
	// without it a later frame-pointer step will fail and the cascade
	// falls through to scanning, which is the right degradation.
	for name, val := range cfi.Regs {
		if canonical, ok := u.arch.regAliases[name]; ok {
			name = canonical
		}
		regs.Set(name, val)
	}
	return &frameState{trust: TrustCFI, regs: regs}
}

// unwindFramePointer assumes the platform-standard frame layout. On
// x86/amd64 the saved caller frame pointer sits at [fp] with the return
// address in the adjacent slot. On arm/arm64 the [fp] pair is the saved
// fp/lr of the *callee*, so the caller's pc is the callee's link
// register and the slot next to [fp] restores the caller's lr. Both
// reads must land inside the captured stack and the recovered stack
// pointer must make strict forward progress, which cuts loops on
// corrupted chains.
func (u *unwinder) unwindFramePointer(cur *frameState) *frameState {
	fp, ok := cur.regs.Get(u.arch.fp)
	if !ok || fp == 0 {
		return nil
	}
	sp, _ := cur.regs.Get(u.arch.sp)
	ptr := uint64(u.arch.ptrSize)
	callerFP, err := u.readPointer(fp)
	if err != nil {
		return nil
	}
	saved, err := u.readPointer(fp + ptr)
	if err != nil {
		return nil
	}
	callerSP := fp + 2*ptr
	callerIP := saved
	var callerLR uint64
	if u.arch.lr != "" {
		callerIP, ok = cur.regs.Get(u.arch.lr)
		if !ok {
			return nil
		}
		callerLR = saved
	}
	if callerIP == 0 || callerSP <= sp || callerFP == fp {
		return nil
	}
	regs := minidump.NewRegisterSet()
	regs.Set(u.arch.ip, callerIP)
	regs.Set(u.arch.sp, callerSP)
	regs.Set(u.arch.fp, callerFP)
	if u.arch.lr != "" {
		regs.Set(u.arch.lr, callerLR)
	}
	return &frameState{trust: TrustFP, regs: regs}
}

// unwindScan searches a bounded window of stack slots above the current
// stack pointer for something that looks like a return address: a value
// inside some live module that is not where we already are. First
// candidate wins. Least trustworthy strategy, tried last.
func (u *unwinder) unwindScan(cur *frameState) *frameState {
	sp, ok := cur.regs.Get(u.arch.sp)
	if !ok {
		return nil
	}
	ip, _ := cur.regs.Get(u.arch.ip)
	ptr := uint64(u.arch.ptrSize)
	for i := 0; i < u.cfg.ScanWords; i++ {
		addr := sp + uint64(i)*ptr
		val, err := u.readPointer(addr)
		if err != nil {
			return nil // ran off the captured stack
		}
		if val == ip || !u.index.Covers(val) {
			continue
		}
		regs := minidump.NewRegisterSet()
		regs.Set(u.arch.ip, val)
		regs.Set(u.arch.sp, addr+ptr)
		if fp, ok := cur.regs.Get(u.arch.fp); ok {
			regs.Set(u.arch.fp, fp)
		}
		return &frameState{trust: TrustScan, regs: regs}
	}
	return nil
}
