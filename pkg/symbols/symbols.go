// Copyright 2024 stackwalk project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package symbols loads and queries debug-symbol files for the modules
// of a crashed process: breakpad symbol text parsing, address-to-function
// lookup, call frame information programs, suppliers that locate symbol
// files on disk or on a symbol server, and a process-wide cache that
// loads each module's symbols at most once.
package symbols

import (
	"context"
	"errors"

	"github.com/crashtools/stackwalk/pkg/minidump"
)

var (
	// ErrNotFound means the supplier has no symbol file for the module.
	ErrNotFound = errors.New("no symbol file found")
	// ErrCorrupt means the supplier returned data that does not parse.
	ErrCorrupt = errors.New("symbol file is corrupt")
)

// ModuleID is the stable symbol-lookup key of a module.
type ModuleID struct {
	DebugFile string
	DebugID   string
}

// IDForModule extracts the symbol-lookup key of a module.
func IDForModule(mod *minidump.Module) ModuleID {
	return ModuleID{DebugFile: mod.DebugFile, DebugID: mod.DebugID}
}

func (id ModuleID) String() string {
	return id.DebugFile + "/" + id.DebugID
}

// Supplier locates the symbol file for a module and returns its raw
// contents plus the URL or path it was loaded from. Failures are typed:
// ErrNotFound when no file exists, anything else is an I/O-level error
// that the cache also treats as not-found (symbolication is best effort).
// This is the system's only blocking external I/O; ctx carries the
// caller's deadline.
type Supplier interface {
	FetchSymbols(ctx context.Context, id ModuleID) (data []byte, url string, err error)
}

// Status describes the outcome of a symbol load for one module.
type Status int

const (
	NotAttempted Status = iota
	Loading
	Loaded
	Missing
	Corrupt
)

func (s Status) String() string {
	switch s {
	case NotAttempted:
		return "not attempted"
	case Loading:
		return "loading"
	case Loaded:
		return "loaded"
	case Missing:
		return "missing"
	case Corrupt:
		return "corrupt"
	}
	return "unknown"
}
