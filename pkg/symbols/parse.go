// Copyright 2024 stackwalk project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package symbols

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/ianlancetaylor/demangle"
)

// Parse parses breakpad symbol file text:
//
//	MODULE <os> <arch> <debug id> <debug file>
//	FILE <number> <name>
//	FUNC [m] <address> <size> <param size> <name>
//	<address> <size> <line> <file number>
//	PUBLIC [m] <address> <param size> <name>
//	STACK CFI INIT <address> <size> <reg: expr ...>
//	STACK CFI <address> <reg: expr ...>
//
// Unknown record types (STACK WIN, INFO, INLINE, ...) are skipped, not
// errors; symbol producers keep adding record types and old processors
// must keep working. A file with no MODULE record is corrupt.
func Parse(data []byte) (*SymbolTable, error) {
	tab := &SymbolTable{}
	files := make(map[int]string)
	var curFunc *Function
	var curCFI *cfiEntry
	seenModule := false

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 1<<16), 1<<20)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, "MODULE "):
			fields := strings.SplitN(line, " ", 5)
			if len(fields) < 5 {
				return nil, fmt.Errorf("%w: bad MODULE record at line %v", ErrCorrupt, lineno)
			}
			tab.OS, tab.Arch, tab.DebugID, tab.ModuleName = fields[1], fields[2], fields[3], fields[4]
			seenModule = true
		case strings.HasPrefix(line, "FILE "):
			fields := strings.SplitN(line, " ", 3)
			if len(fields) < 3 {
				continue
			}
			num, err := strconv.Atoi(fields[1])
			if err != nil {
				continue
			}
			files[num] = fields[2]
		case strings.HasPrefix(line, "FUNC "):
			fn, err := parseFunc(line)
			if err != nil {
				return nil, fmt.Errorf("%w: %v at line %v", ErrCorrupt, err, lineno)
			}
			tab.funcs = append(tab.funcs, fn)
			curFunc = fn
		case strings.HasPrefix(line, "PUBLIC "):
			pub, err := parsePublic(line)
			if err != nil {
				return nil, fmt.Errorf("%w: %v at line %v", ErrCorrupt, err, lineno)
			}
			tab.publics = append(tab.publics, pub)
			curFunc = nil
		case strings.HasPrefix(line, "STACK CFI INIT "):
			fields := strings.SplitN(line[len("STACK CFI INIT "):], " ", 3)
			if len(fields) < 3 {
				continue
			}
			addr, err1 := strconv.ParseUint(fields[0], 16, 64)
			size, err2 := strconv.ParseUint(fields[1], 16, 64)
			if err1 != nil || err2 != nil {
				continue
			}
			curCFI = &cfiEntry{Addr: addr, Size: size, init: fields[2]}
			tab.cfi = append(tab.cfi, curCFI)
		case strings.HasPrefix(line, "STACK CFI "):
			fields := strings.SplitN(line[len("STACK CFI "):], " ", 2)
			if len(fields) < 2 || curCFI == nil {
				continue
			}
			addr, err := strconv.ParseUint(fields[0], 16, 64)
			if err != nil {
				continue
			}
			curCFI.deltas = append(curCFI.deltas, cfiDelta{Addr: addr, rules: fields[1]})
		case strings.HasPrefix(line, "STACK "), strings.HasPrefix(line, "INFO "),
			strings.HasPrefix(line, "INLINE"):
			// Recognized but unused record types.
		default:
			// Line records belong to the preceding FUNC.
			if curFunc == nil {
				continue
			}
			rec, ok := parseLineRecord(line, files)
			if ok {
				curFunc.lines = append(curFunc.lines, rec)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if !seenModule {
		return nil, fmt.Errorf("%w: no MODULE record", ErrCorrupt)
	}
	tab.finalize()
	return tab, nil
}

func parseFunc(line string) (*Function, error) {
	rest := line[len("FUNC "):]
	rest = strings.TrimPrefix(rest, "m ")
	fields := strings.SplitN(rest, " ", 4)
	if len(fields) < 4 {
		return nil, fmt.Errorf("bad FUNC record")
	}
	addr, err1 := strconv.ParseUint(fields[0], 16, 64)
	size, err2 := strconv.ParseUint(fields[1], 16, 64)
	if err1 != nil || err2 != nil {
		return nil, fmt.Errorf("bad FUNC address/size")
	}
	return &Function{Addr: addr, Size: size, Name: maybeDemangle(fields[3])}, nil
}

func parsePublic(line string) (*Public, error) {
	rest := line[len("PUBLIC "):]
	rest = strings.TrimPrefix(rest, "m ")
	fields := strings.SplitN(rest, " ", 3)
	if len(fields) < 3 {
		return nil, fmt.Errorf("bad PUBLIC record")
	}
	addr, err := strconv.ParseUint(fields[0], 16, 64)
	if err != nil {
		return nil, fmt.Errorf("bad PUBLIC address")
	}
	return &Public{Addr: addr, Name: maybeDemangle(fields[2])}, nil
}

func parseLineRecord(line string, files map[int]string) (lineRecord, bool) {
	fields := strings.Fields(line)
	if len(fields) != 4 {
		return lineRecord{}, false
	}
	addr, err1 := strconv.ParseUint(fields[0], 16, 64)
	size, err2 := strconv.ParseUint(fields[1], 16, 64)
	num, err3 := strconv.Atoi(fields[2])
	file, err4 := strconv.Atoi(fields[3])
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		return lineRecord{}, false
	}
	return lineRecord{Addr: addr, Size: size, Line: num, File: files[file]}, true
}

// Most symbol producers emit demangled names, but some ship raw Itanium
// ABI names through. Failed demangling keeps the raw name.
func maybeDemangle(name string) string {
	if !strings.HasPrefix(name, "_Z") && !strings.HasPrefix(name, "__Z") {
		return name
	}
	if d, err := demangle.ToString(name); err == nil {
		return d
	}
	// Darwin prepends an extra underscore.
	if d, err := demangle.ToString(name[1:]); err == nil {
		return d
	}
	return name
}
