// Copyright 2024 stackwalk project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package modules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crashtools/stackwalk/pkg/minidump"
)

func TestFind(t *testing.T) {
	ix := BuildIndex([]*minidump.Module{
		{BaseAddr: 0x1000, EndAddr: 0x2000, Filename: "A"},
		{BaseAddr: 0x3000, EndAddr: 0x4000, Filename: "B"},
	})
	mod, off, ok := ix.Find(0x1500)
	require.True(t, ok)
	assert.Equal(t, "A", mod.Filename)
	assert.Equal(t, uint64(0x500), off)

	// Range ends are half-open.
	mod, _, ok = ix.Find(0x1000)
	require.True(t, ok)
	assert.Equal(t, "A", mod.Filename)
	_, _, ok = ix.Find(0x2000)
	assert.False(t, ok)

	mod, off, ok = ix.Find(0x3fff)
	require.True(t, ok)
	assert.Equal(t, "B", mod.Filename)
	assert.Equal(t, uint64(0xfff), off)

	_, _, ok = ix.Find(0x2500)
	assert.False(t, ok)
	assert.True(t, ix.Covers(0x1500))
	assert.False(t, ix.Covers(0x0))
}

func TestFindOverlap(t *testing.T) {
	// Malformed dumps can contain overlapping live ranges; the first
	// module in input order must win, deterministically.
	ix := BuildIndex([]*minidump.Module{
		{BaseAddr: 0x1000, EndAddr: 0x3000, Filename: "first"},
		{BaseAddr: 0x2000, EndAddr: 0x4000, Filename: "second"},
	})
	mod, _, ok := ix.Find(0x2500)
	require.True(t, ok)
	assert.Equal(t, "first", mod.Filename)
	mod, _, ok = ix.Find(0x3500)
	require.True(t, ok)
	assert.Equal(t, "second", mod.Filename)
}

func TestMainModule(t *testing.T) {
	tests := []struct {
		name  string
		files []string
		want  int
	}{
		{"executable first", []string{"app", "libc.so", "libm.so.6"}, 0},
		{"shared libs first", []string{"libc.so", "ld.so.2", "app"}, 2},
		{"windows", []string{"kernel32.dll", "app.exe"}, 1},
		{"only shared libs", []string{"liba.so", "libb.so"}, 0},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var mods []*minidump.Module
			for i, file := range test.files {
				base := uint64(i+1) * 0x10000
				mods = append(mods, &minidump.Module{BaseAddr: base, EndAddr: base + 0x1000, Filename: file})
			}
			assert.Equal(t, test.want, BuildIndex(mods).MainModule())
		})
	}
	assert.Equal(t, -1, BuildIndex(nil).MainModule())
}
