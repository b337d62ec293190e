// Copyright 2024 stackwalk project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package minidump defines the typed records extracted from a process
// crash snapshot. The package does not parse the minidump container
// itself; an external extraction step produces these records and the
// rest of the system consumes them read-only (module symbol flags are
// the one exception, they are settled once by pkg/symbols).
package minidump

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoUsableData is returned when a dump is too empty or too truncated
// to produce any report: no threads and no exception record.
var ErrNoUsableData = errors.New("dump contains no usable thread or exception data")

// Module is a binary image that was mapped into the crashed process.
// The range [BaseAddr, EndAddr) is half-open. Live module ranges are
// normally disjoint, but malformed dumps can violate that, so lookup
// code must not rely on it.
type Module struct {
	BaseAddr    uint64
	EndAddr     uint64
	Filename    string
	CodeID      string
	DebugFile   string
	DebugID     string
	Version     string
	CertSubject string

	// Symbol resolution outcome, written exactly once by the symbol
	// cache the first time symbolication touches this module.
	LoadedSymbols  bool
	MissingSymbols bool
	CorruptSymbols bool
	SymbolURL      string
}

// Contains reports whether addr falls inside the module's live range.
func (mod *Module) Contains(addr uint64) bool {
	return addr >= mod.BaseAddr && addr < mod.EndAddr
}

func (mod *Module) String() string {
	return fmt.Sprintf("%v [%#x-%#x]", mod.Filename, mod.BaseAddr, mod.EndAddr)
}

// UnloadedModule records a module that was mapped and later unmapped
// before the dump was taken. Entries form a log in source order, not a
// current mapping: ranges may overlap each other and the live list, and
// the same module may appear repeatedly.
type UnloadedModule struct {
	BaseAddr uint64
	EndAddr  uint64
	CodeID   string
	Filename string
}

// MemoryRegion is a contiguous slice of the process address space
// captured in the dump (typically a thread's stack).
type MemoryRegion struct {
	BaseAddr uint64
	Data     []byte
}

// EndAddr returns the first address past the region.
func (mem *MemoryRegion) EndAddr() uint64 {
	return mem.BaseAddr + uint64(len(mem.Data))
}

// Contains reports whether size bytes at addr lie fully inside the region.
func (mem *MemoryRegion) Contains(addr, size uint64) bool {
	return mem != nil && addr >= mem.BaseAddr && addr+size >= addr &&
		addr+size <= mem.EndAddr()
}

// ReadPointer reads a little-endian pointer of the given byte size.
func (mem *MemoryRegion) ReadPointer(addr uint64, size int) (uint64, error) {
	if !mem.Contains(addr, uint64(size)) {
		return 0, fmt.Errorf("address %#x+%v is outside captured memory", addr, size)
	}
	var val uint64
	off := addr - mem.BaseAddr
	for i := size - 1; i >= 0; i-- {
		val = val<<8 | uint64(mem.Data[off+uint64(i)])
	}
	return val, nil
}

// RegisterSet is an ordered name -> value mapping of CPU registers.
// Names are platform-specific ("rip", "pc", ...); order is preserved
// so that output matches the capture order of the source context.
type RegisterSet struct {
	names []string
	vals  map[string]uint64
}

func NewRegisterSet() *RegisterSet {
	return &RegisterSet{vals: make(map[string]uint64)}
}

func (regs *RegisterSet) Get(name string) (uint64, bool) {
	val, ok := regs.vals[name]
	return val, ok
}

func (regs *RegisterSet) Set(name string, val uint64) {
	if _, ok := regs.vals[name]; !ok {
		regs.names = append(regs.names, name)
	}
	regs.vals[name] = val
}

// Names returns register names in insertion order.
func (regs *RegisterSet) Names() []string {
	return append([]string{}, regs.names...)
}

// Clone returns an independent copy of the set.
func (regs *RegisterSet) Clone() *RegisterSet {
	clone := NewRegisterSet()
	for _, name := range regs.names {
		clone.Set(name, regs.vals[name])
	}
	return clone
}

// RawContext is a thread's captured CPU state.
type RawContext struct {
	Arch string // normalized arch name: amd64, x86, arm64, arm, ...
	Regs *RegisterSet
}

// Thread is one thread of the crashed process.
type Thread struct {
	ID        uint32
	Name      string
	LastError string // Windows-style last error status, e.g. "ERROR_SUCCESS"
	Context   *RawContext
	Stack     *MemoryRegion
}

// Exception describes why the process crashed.
type Exception struct {
	ThreadID   uint32
	Type       string // e.g. "EXCEPTION_ACCESS_VIOLATION_READ" or "SIGSEGV"
	Address    uint64
	HasAddress bool
	AssertMsg  string
}

// SystemInfo describes the machine the dump was taken on. Empty string
// fields mean the dump did not carry the value.
type SystemInfo struct {
	OS       string
	OSVer    string
	CPUArch  string
	CPUInfo  string
	CPUCount int
}

// PointerSize returns the native pointer width in bytes for the dump's
// CPU architecture. Unknown architectures default to 8; the report layer
// then pads addresses to 16 hex digits, which loses nothing.
func (info *SystemInfo) PointerSize() int {
	switch strings.ToLower(info.CPUArch) {
	case "x86", "arm", "mips", "ppc":
		return 4
	default:
		return 8
	}
}

// LsbRelease is the /etc/lsb-release passthrough found in Linux dumps.
type LsbRelease struct {
	ID          string
	Release     string
	Codename    string
	Description string
}

// MacCrashInfoRecord is one raw __crash_info record from a macOS dump.
type MacCrashInfoRecord struct {
	Module     string
	Message    string
	Signature  string
	Backtrace  string
	AbortCause string
}

// Dump is the full set of records extracted from one minidump. This is
// the input surface of the processor; all fields are optional except
// that a dump with neither threads nor an exception is unusable.
type Dump struct {
	Pid             int // 0 if unknown
	SystemInfo      *SystemInfo
	Exception       *Exception
	Threads         []*Thread
	Modules         []*Module
	UnloadedModules []*UnloadedModule
	LsbRelease      *LsbRelease
	MacCrashInfo    []*MacCrashInfoRecord
}

// Validate checks that the dump can produce a report at all.
func (dump *Dump) Validate() error {
	if len(dump.Threads) == 0 && dump.Exception == nil {
		return ErrNoUsableData
	}
	return nil
}

// CrashedThreadIndex returns the index into Threads of the thread named
// by the exception record, or -1.
func (dump *Dump) CrashedThreadIndex() int {
	if dump.Exception == nil {
		return -1
	}
	for i, thread := range dump.Threads {
		if thread.ID == dump.Exception.ThreadID {
			return i
		}
	}
	return -1
}
