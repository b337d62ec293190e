// Copyright 2024 stackwalk project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package symbols

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/crashtools/stackwalk/pkg/log"
	"github.com/crashtools/stackwalk/pkg/minidump"
)

// Result is the settled outcome of a symbol load for one module.
// Table is non-nil iff Status == Loaded.
type Result struct {
	Status Status
	Table  *SymbolTable
	URL    string
}

// Cache loads symbol tables at most once per module identity. Failures
// are sticky: a module whose symbols are missing or corrupt is never
// retried within a process run, which bounds cost when a dump references
// hundreds of unresolvable modules. Concurrent resolves of the same
// identity share a single supplier fetch; no lock is held across the
// fetch, so a slow load of one module never blocks loads of others.
type Cache struct {
	supplier Supplier
	group    singleflight.Group
	mu       sync.Mutex
	results  map[ModuleID]*Result
}

// NewCache creates a cache over the given supplier.
// A nil supplier resolves every module as Missing.
func NewCache(supplier Supplier) *Cache {
	return &Cache{
		supplier: supplier,
		results:  make(map[ModuleID]*Result),
	}
}

// Resolve returns the symbols for mod, loading them on first use. The
// first call for a given identity also settles the module's symbol flags
// (LoadedSymbols/MissingSymbols/CorruptSymbols/SymbolURL), exactly once.
// Resolve never returns an error: symbolication is best effort and every
// failure is folded into the Missing/Corrupt statuses.
func (c *Cache) Resolve(ctx context.Context, mod *minidump.Module) *Result {
	id := IDForModule(mod)
	c.mu.Lock()
	if res, ok := c.results[id]; ok {
		c.mu.Unlock()
		return res
	}
	c.mu.Unlock()

	val, _, _ := c.group.Do(id.String(), func() (interface{}, error) {
		res := c.load(ctx, id)
		// Settle the module's flags before the result becomes
		// observable through the cache.
		mod.LoadedSymbols = res.Status == Loaded
		mod.MissingSymbols = res.Status == Missing
		mod.CorruptSymbols = res.Status == Corrupt
		mod.SymbolURL = res.URL
		c.mu.Lock()
		c.results[id] = res
		c.mu.Unlock()
		return res, nil
	})
	return val.(*Result)
}

// Peek returns the settled result for id without triggering a load.
func (c *Cache) Peek(id ModuleID) (*Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	res, ok := c.results[id]
	return res, ok
}

func (c *Cache) load(ctx context.Context, id ModuleID) *Result {
	if c.supplier == nil || id.DebugFile == "" || id.DebugID == "" {
		return &Result{Status: Missing}
	}
	data, url, err := c.supplier.FetchSymbols(ctx, id)
	if err != nil {
		// Timeouts and transport errors all count as missing;
		// the details go to the operational log, not the report.
		if !errors.Is(err, ErrNotFound) {
			log.Logf(1, "symbols for %v: %v", id, err)
		}
		return &Result{Status: Missing}
	}
	tab, err := Parse(data)
	if err != nil {
		log.Logf(1, "symbols for %v from %v: %v", id, url, err)
		return &Result{Status: Corrupt, URL: url}
	}
	log.Logf(2, "loaded symbols for %v from %v: %v functions", id, url, len(tab.funcs))
	return &Result{Status: Loaded, Table: tab, URL: url}
}
