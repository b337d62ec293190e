// Copyright 2024 stackwalk project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package log provides functionality similar to standard log package with some extensions:
//   - verbosity levels
//   - global verbosity setting that can be used by multiple packages
//   - ability to disable all output
//
// Operational detail about a failed report (unreadable dump, symbol
// fetch errors) goes here; it must never leak into the report itself.
package log

import (
	"flag"
	golog "log"
	"sync/atomic"
)

var (
	flagV   = flag.Int("vv", 0, "verbosity")
	enabled atomic.Bool
)

func init() {
	enabled.Store(true)
}

// EnableOutput controls whether anything is logged at all
// (tests disable it to keep output clean).
func EnableOutput(enable bool) {
	enabled.Store(enable)
}

// V reports whether logging at verbosity v is enabled.
func V(v int) bool {
	return enabled.Load() && v <= *flagV
}

func Logf(v int, msg string, args ...interface{}) {
	if V(v) {
		golog.Printf(msg, args...)
	}
}

func Errorf(msg string, args ...interface{}) {
	if enabled.Load() {
		golog.Printf("ERROR: "+msg, args...)
	}
}

func Fatal(err error) {
	golog.Fatal(err)
}

func Fatalf(msg string, args ...interface{}) {
	golog.Fatalf(msg, args...)
}

// VerboseWriter is an io.Writer that forwards to Logf at a fixed verbosity.
type VerboseWriter int

func (w VerboseWriter) Write(data []byte) (int, error) {
	Logf(int(w), "%s", data)
	return len(data), nil
}
