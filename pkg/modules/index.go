// Copyright 2024 stackwalk project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package modules answers "which binary image owns this address" for the
// crashed process's module list.
package modules

import (
	"strings"

	"github.com/crashtools/stackwalk/pkg/minidump"
)

// Index is an address-range index over the live module list, built once
// and read-only afterwards. Malformed dumps can contain overlapping live
// ranges; lookup resolves overlaps deterministically by taking the first
// match in input order, which is a heuristic rather than a guarantee.
type Index struct {
	modules []*minidump.Module
	main    int
}

// BuildIndex constructs the index from the dump's live module list.
func BuildIndex(mods []*minidump.Module) *Index {
	return &Index{modules: mods, main: mainModuleIndex(mods)}
}

// Find returns the module owning addr and the offset of addr within it.
func (ix *Index) Find(addr uint64) (*minidump.Module, uint64, bool) {
	for _, mod := range ix.modules {
		if mod.Contains(addr) {
			return mod, addr - mod.BaseAddr, true
		}
	}
	return nil, 0, false
}

// Covers reports whether addr falls inside any live module. Used by the
// scanning unwinder to tell plausible return addresses from stack junk.
func (ix *Index) Covers(addr uint64) bool {
	_, _, ok := ix.Find(addr)
	return ok
}

// Modules returns the live module list in input order.
func (ix *Index) Modules() []*minidump.Module {
	return ix.modules
}

// MainModule returns the index of the module most plausibly hosting the
// program entry point, or -1 for an empty list.
func (ix *Index) MainModule() int {
	return ix.main
}

// The minidump module list conventionally starts with the process
// executable, but some writers do not honor that, so prefer the first
// module that does not look like a shared library.
func mainModuleIndex(mods []*minidump.Module) int {
	if len(mods) == 0 {
		return -1
	}
	for i, mod := range mods {
		if !looksLikeSharedLib(mod.Filename) {
			return i
		}
	}
	return 0
}

func looksLikeSharedLib(name string) bool {
	name = strings.ToLower(name)
	return strings.HasSuffix(name, ".so") || strings.Contains(name, ".so.") ||
		strings.HasSuffix(name, ".dylib") || strings.HasSuffix(name, ".dll")
}
