// Copyright 2024 stackwalk project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package symbols

import (
	"sort"
)

// SymbolTable is the parsed contents of one module's symbol file:
// functions with line records, public symbols, and STACK CFI programs.
// All addresses are module-relative. Immutable after parsing.
type SymbolTable struct {
	ModuleName string
	DebugID    string
	OS         string
	Arch       string

	funcs   []*Function // sorted by Addr
	publics []*Public   // sorted by Addr
	cfi     []*cfiEntry // sorted by Addr
}

// Function is a FUNC record plus its line records.
type Function struct {
	Addr  uint64
	Size  uint64
	Name  string
	lines []lineRecord // sorted by Addr
}

type lineRecord struct {
	Addr uint64
	Size uint64
	Line int
	File string
}

// Public is a PUBLIC record: a named address with no size.
type Public struct {
	Addr uint64
	Name string
}

// cfiEntry is a STACK CFI INIT record with its delta records.
type cfiEntry struct {
	Addr   uint64
	Size   uint64
	init   string
	deltas []cfiDelta // sorted by Addr
}

type cfiDelta struct {
	Addr  uint64
	rules string
}

// FrameSymbol is the result of resolving one module-relative address.
type FrameSymbol struct {
	Function  string
	FuncStart uint64 // module-relative start of the function
	File      string // empty if no line record covers the address
	Line      int
}

// Lookup resolves a module-relative address to the function covering it.
// FUNC records win; a public symbol preceding the address is the
// fallback when no function range covers it. Returns false on a miss.
func (tab *SymbolTable) Lookup(addr uint64) (FrameSymbol, bool) {
	if fn := tab.funcForAddr(addr); fn != nil {
		sym := FrameSymbol{Function: fn.Name, FuncStart: fn.Addr}
		if line := fn.lineForAddr(addr); line != nil {
			sym.File = line.File
			sym.Line = line.Line
		}
		return sym, true
	}
	// Nearest preceding public symbol, if any.
	i := sort.Search(len(tab.publics), func(i int) bool {
		return tab.publics[i].Addr > addr
	})
	if i == 0 {
		return FrameSymbol{}, false
	}
	pub := tab.publics[i-1]
	return FrameSymbol{Function: pub.Name, FuncStart: pub.Addr}, true
}

func (tab *SymbolTable) funcForAddr(addr uint64) *Function {
	i := sort.Search(len(tab.funcs), func(i int) bool {
		return tab.funcs[i].Addr > addr
	})
	if i == 0 {
		return nil
	}
	fn := tab.funcs[i-1]
	if addr >= fn.Addr+fn.Size {
		return nil
	}
	return fn
}

func (fn *Function) lineForAddr(addr uint64) *lineRecord {
	i := sort.Search(len(fn.lines), func(i int) bool {
		return fn.lines[i].Addr > addr
	})
	if i == 0 {
		return nil
	}
	line := &fn.lines[i-1]
	if addr >= line.Addr+line.Size {
		return nil
	}
	return line
}

// CFIRules returns the merged STACK CFI rule set in effect at a
// module-relative address: the covering INIT record's rules with all
// deltas up to and including addr applied in order. Returns nil when no
// CFI program covers the address.
func (tab *SymbolTable) CFIRules(addr uint64) map[string]string {
	i := sort.Search(len(tab.cfi), func(i int) bool {
		return tab.cfi[i].Addr > addr
	})
	if i == 0 {
		return nil
	}
	entry := tab.cfi[i-1]
	if addr >= entry.Addr+entry.Size {
		return nil
	}
	rules := parseRuleSet(entry.init)
	if rules == nil {
		return nil
	}
	for _, delta := range entry.deltas {
		if delta.Addr > addr {
			break
		}
		for reg, expr := range parseRuleSet(delta.rules) {
			rules[reg] = expr
		}
	}
	return rules
}

// HasCFI reports whether the table carries any CFI programs at all.
func (tab *SymbolTable) HasCFI() bool {
	return len(tab.cfi) > 0
}

func (tab *SymbolTable) finalize() {
	sort.Slice(tab.funcs, func(i, j int) bool { return tab.funcs[i].Addr < tab.funcs[j].Addr })
	for _, fn := range tab.funcs {
		sort.Slice(fn.lines, func(i, j int) bool { return fn.lines[i].Addr < fn.lines[j].Addr })
	}
	sort.Slice(tab.publics, func(i, j int) bool { return tab.publics[i].Addr < tab.publics[j].Addr })
	sort.Slice(tab.cfi, func(i, j int) bool { return tab.cfi[i].Addr < tab.cfi[j].Addr })
	for _, entry := range tab.cfi {
		sort.Slice(entry.deltas, func(i, j int) bool { return entry.deltas[i].Addr < entry.deltas[j].Addr })
	}
}
