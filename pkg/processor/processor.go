// Copyright 2025 stackwalk project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package processor ties the pieces together: it takes the typed
// records of one dump, walks every thread's stack, resolves symbols,
// and assembles the crash report. A report is either fully produced or
// the whole operation fails; no partial report is ever returned.
package processor

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/crashtools/stackwalk/pkg/log"
	"github.com/crashtools/stackwalk/pkg/minidump"
	"github.com/crashtools/stackwalk/pkg/modules"
	"github.com/crashtools/stackwalk/pkg/report"
	"github.com/crashtools/stackwalk/pkg/stack"
	"github.com/crashtools/stackwalk/pkg/symbols"
)

// Options control one processing run.
type Options struct {
	// Supplier locates symbol files; nil disables symbolication.
	Supplier symbols.Supplier
	// Stack overrides the default walk bounds when non-nil.
	Stack *stack.Config
	// Parallelism caps concurrent thread walks; 0 means GOMAXPROCS.
	Parallelism int
}

// Process produces the crash report for one dump.
//
// Thread walks run in parallel; they share no mutable state except the
// symbol cache, which loads each module at most once. The only fatal
// condition is a dump with no usable thread or exception data
// (minidump.ErrNoUsableData); per-module symbol failures and per-frame
// unwind failures never fail the run.
func Process(ctx context.Context, dump *minidump.Dump, opts Options) (*report.Report, error) {
	if err := dump.Validate(); err != nil {
		return nil, err
	}
	index := modules.BuildIndex(dump.Modules)
	var cache *symbols.Cache
	if opts.Supplier != nil {
		cache = symbols.NewCache(opts.Supplier)
	}
	walker := stack.NewWalker(index, cache)
	if opts.Stack != nil {
		walker.Config = *opts.Stack
	}

	walks := make([][]*stack.Frame, len(dump.Threads))
	g, gctx := errgroup.WithContext(ctx)
	parallelism := opts.Parallelism
	if parallelism <= 0 {
		parallelism = runtime.GOMAXPROCS(0)
	}
	g.SetLimit(parallelism)
	for i, thread := range dump.Threads {
		i, thread := i, thread
		g.Go(func() error {
			walks[i] = walker.WalkThread(gctx, thread)
			log.Logf(3, "thread %v: %v frames", thread.ID, len(walks[i]))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("stack walk failed: %w", err)
	}
	return report.Assemble(dump, index, walks), nil
}
