// Copyright 2025 stackwalk project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package stack

import "strings"

// arch captures the per-architecture register conventions the unwinder
// needs: pointer width and the names of the program counter, stack
// pointer, frame pointer and (where the ABI has one) link register.
type arch struct {
	name    string
	ptrSize int
	ip      string
	sp      string
	fp      string
	lr      string
	// regAliases maps alternate register spellings used by CFI
	// programs to the context names ("x29" -> "fp").
	regAliases map[string]string
}

var arches = map[string]*arch{
	"amd64": {name: "amd64", ptrSize: 8, ip: "rip", sp: "rsp", fp: "rbp"},
	"x86":   {name: "x86", ptrSize: 4, ip: "eip", sp: "esp", fp: "ebp"},
	"arm64": {name: "arm64", ptrSize: 8, ip: "pc", sp: "sp", fp: "fp", lr: "lr",
		regAliases: map[string]string{"x29": "fp", "x30": "lr"}},
	"arm": {name: "arm", ptrSize: 4, ip: "pc", sp: "sp", fp: "r11", lr: "lr"},
}

var archAliases = map[string]string{
	"x86_64":  "amd64",
	"aarch64": "arm64",
	"i386":    "x86",
	"i686":    "x86",
}

// archFor maps a dump's architecture string to unwind conventions.
// Returns nil for architectures we cannot unwind; the walker then
// yields no frames for the thread.
func archFor(name string) *arch {
	name = strings.ToLower(name)
	if alias, ok := archAliases[name]; ok {
		name = alias
	}
	return arches[name]
}
