// Copyright 2025 stackwalk project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// minidump-stackwalk turns a digested process-crash snapshot into a
// JSON crash report: the crashing thread and reason, every thread's
// call stack, and the modules involved, symbolized from local symbol
// stores and/or a breakpad-layout symbol server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/crashtools/stackwalk/pkg/minidump"
	"github.com/crashtools/stackwalk/pkg/processor"
	"github.com/crashtools/stackwalk/pkg/symbols"
	"github.com/crashtools/stackwalk/pkg/tool"
)

var (
	flagSymbolsURL = flag.String("symbols-url", "", "base URL of a breakpad-layout symbol server")
	flagTimeout    = flag.Duration("symbols-timeout", 30*time.Second, "per-module symbol fetch timeout")
	flagOutput     = flag.String("output", "", "write the report here instead of stdout")
	flagPretty     = flag.Bool("pretty", false, "indent the JSON output")
)

func main() {
	var symbolDirs tool.ListFlag
	flag.Var(&symbolDirs, "symbols-dir", "local symbol store directory (can be given multiple times)")
	flag.Parse()
	if len(flag.Args()) != 1 {
		fmt.Fprintf(os.Stderr, "usage: minidump-stackwalk [flags] digested_dump.json\n")
		flag.PrintDefaults()
		os.Exit(1)
	}
	f, err := os.Open(flag.Args()[0])
	if err != nil {
		tool.Failf("failed to open input file: %v", err)
	}
	dump, err := minidump.Read(f)
	f.Close()
	if err != nil {
		tool.Fail(err)
	}
	rep, err := processor.Process(context.Background(), dump, processor.Options{
		Supplier: buildSupplier(symbolDirs),
	})
	if err != nil {
		tool.Failf("failed to process dump: %v", err)
	}
	out := os.Stdout
	if *flagOutput != "" {
		out, err = os.Create(*flagOutput)
		if err != nil {
			tool.Failf("failed to create output file: %v", err)
		}
		defer out.Close()
	}
	if err := rep.Encode(out, *flagPretty); err != nil {
		tool.Failf("failed to encode report: %v", err)
	}
}

func buildSupplier(dirs []string) symbols.Supplier {
	var suppliers []symbols.Supplier
	if len(dirs) > 0 {
		suppliers = append(suppliers, symbols.NewDirSupplier(dirs...))
	}
	if *flagSymbolsURL != "" {
		suppliers = append(suppliers, symbols.NewHTTPSupplier(*flagSymbolsURL, *flagTimeout))
	}
	switch len(suppliers) {
	case 0:
		return nil
	case 1:
		return suppliers[0]
	}
	return symbols.NewMultiSupplier(suppliers...)
}
