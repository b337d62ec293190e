// Copyright 2024 stackwalk project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package tool contains various helper utilitites useful for implementation of command line tools.
package tool

import (
	"flag"
	"fmt"
	"os"
	"strings"
)

func Failf(msg string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, msg+"\n", args...)
	os.Exit(1)
}

func Fail(err error) {
	Failf("%v", err)
}

// ListFlag is a flag.Value that accumulates repeated occurrences of a
// string flag (e.g. -symbols-dir given several times).
type ListFlag []string

func (f *ListFlag) String() string {
	return strings.Join(*f, ",")
}

func (f *ListFlag) Set(value string) error {
	*f = append(*f, value)
	return nil
}

var _ flag.Value = new(ListFlag)
