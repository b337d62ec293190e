// Copyright 2025 stackwalk project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package report

import (
	"fmt"

	"github.com/crashtools/stackwalk/pkg/minidump"
	"github.com/crashtools/stackwalk/pkg/modules"
	"github.com/crashtools/stackwalk/pkg/stack"
)

// Assemble combines the dump's crash/system metadata with the per-thread
// walk results into the final report. All redundant fields (thread_count,
// frame_count, num_records, modules_contains_cert_info, main_module) are
// computed here from the underlying sequences, so they cannot drift.
//
// walks must be parallel to dump.Threads.
func Assemble(dump *minidump.Dump, index *modules.Index, walks [][]*stack.Frame) *Report {
	enc := newAddrEncoder(dump.SystemInfo)
	r := &Report{
		Status:     "OK",
		Pid:        optInt(dump.Pid, dump.Pid != 0),
		SystemInfo: assembleSystemInfo(dump.SystemInfo),
		LsbRelease: assembleLsbRelease(dump.LsbRelease),
	}
	crashedIndex := dump.CrashedThreadIndex()
	if dump.Exception != nil {
		ci := &CrashInfo{
			Type:      dump.Exception.Type,
			Assertion: optString(dump.Exception.AssertMsg),
		}
		if dump.Exception.HasAddress {
			ci.Address = ptr(enc.format(dump.Exception.Address))
		}
		if crashedIndex >= 0 {
			ci.CrashingThread = ptr(crashedIndex)
		}
		r.CrashInfo = ci
	}
	if len(dump.MacCrashInfo) > 0 {
		mci := &MacCrashInfo{}
		for _, rec := range dump.MacCrashInfo {
			mci.Records = append(mci.Records, &MacCrashInfoRecord{
				Module:     optString(rec.Module),
				Message:    optString(rec.Message),
				Signature:  optString(rec.Signature),
				Backtrace:  optString(rec.Backtrace),
				AbortCause: optString(rec.AbortCause),
			})
		}
		mci.NumRecords = len(mci.Records)
		r.MacCrashInfo = mci
	}
	for _, mod := range dump.Modules {
		out := &Module{
			BaseAddr:       enc.format(mod.BaseAddr),
			EndAddr:        enc.format(mod.EndAddr),
			CodeID:         optString(mod.CodeID),
			DebugFile:      optString(mod.DebugFile),
			DebugID:        optString(mod.DebugID),
			Filename:       mod.Filename,
			Version:        optString(mod.Version),
			CertSubject:    optString(mod.CertSubject),
			MissingSymbols: mod.MissingSymbols,
			LoadedSymbols:  mod.LoadedSymbols,
			CorruptSymbols: mod.CorruptSymbols,
			SymbolURL:      optString(mod.SymbolURL),
		}
		r.Modules = append(r.Modules, out)
		if out.CertSubject != nil {
			r.ModulesContainsCertInfo = true
		}
	}
	if main := index.MainModule(); main >= 0 {
		r.MainModule = ptr(main)
	}
	for _, mod := range dump.UnloadedModules {
		r.UnloadedModules = append(r.UnloadedModules, &UnloadedModule{
			BaseAddr: enc.format(mod.BaseAddr),
			EndAddr:  enc.format(mod.EndAddr),
			CodeID:   optString(mod.CodeID),
			Filename: mod.Filename,
		})
	}
	for i, thread := range dump.Threads {
		out := assembleThread(enc, thread, walks[i], false)
		r.Threads = append(r.Threads, out)
		if i == crashedIndex {
			detail := assembleThread(enc, thread, walks[i], true)
			r.CrashingThread = &CrashingThread{
				ThreadsIndex: i,
				Thread:       *detail,
			}
		}
	}
	r.ThreadCount = len(r.Threads)
	return r
}

func assembleThread(enc *addrEncoder, thread *minidump.Thread, frames []*stack.Frame, detail bool) *Thread {
	out := &Thread{
		ThreadID:       thread.ID,
		ThreadName:     optString(thread.Name),
		LastErrorValue: optString(thread.LastError),
	}
	for _, frame := range frames {
		jf := &Frame{
			Frame:          frame.Index,
			Trust:          frame.Trust.String(),
			Offset:         enc.format(frame.Addr),
			MissingSymbols: frame.MissingSymbols,
		}
		if frame.Module != nil {
			jf.Module = ptr(frame.Module.Filename)
			jf.ModuleOffset = ptr(enc.format(frame.ModuleOffset))
		}
		if frame.HasFunction {
			jf.Function = ptr(frame.Function)
			jf.FunctionOffset = ptr(enc.format(frame.FunctionOffset))
		}
		if frame.HasLine {
			jf.File = ptr(frame.File)
			jf.Line = ptr(frame.Line)
		}
		// The full register dump appears only on frame 0 of the
		// crashing-thread detail record.
		if detail && frame.Index == 0 && frame.Regs != nil {
			jf.Registers = make(map[string]string)
			for _, name := range frame.Regs.Names() {
				val, _ := frame.Regs.Get(name)
				jf.Registers[name] = enc.format(val)
			}
		}
		out.Frames = append(out.Frames, jf)
	}
	out.FrameCount = len(out.Frames)
	return out
}

func assembleSystemInfo(info *minidump.SystemInfo) *SystemInfo {
	if info == nil {
		return nil
	}
	return &SystemInfo{
		OS:       optString(info.OS),
		OSVer:    optString(info.OSVer),
		CPUArch:  optString(info.CPUArch),
		CPUInfo:  optString(info.CPUInfo),
		CPUCount: info.CPUCount,
	}
}

func assembleLsbRelease(lsb *minidump.LsbRelease) *LsbRelease {
	if lsb == nil {
		return nil
	}
	return &LsbRelease{
		ID:          optString(lsb.ID),
		Release:     optString(lsb.Release),
		Codename:    optString(lsb.Codename),
		Description: optString(lsb.Description),
	}
}

// addrEncoder formats addresses as 0x-prefixed lowercase hex, zero
// padded to the native pointer width of the crashing platform.
type addrEncoder struct {
	digits int
}

func newAddrEncoder(info *minidump.SystemInfo) *addrEncoder {
	size := 8
	if info != nil {
		size = info.PointerSize()
	}
	return &addrEncoder{digits: 2 * size}
}

func (enc *addrEncoder) format(addr uint64) string {
	return fmt.Sprintf("0x%0*x", enc.digits, addr)
}

func ptr[T any](v T) *T {
	return &v
}

// optString maps the dump convention "empty means the value was absent"
// to the schema convention "absent values are null".
func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func optInt(v int, ok bool) *int {
	if !ok {
		return nil
	}
	return &v
}
