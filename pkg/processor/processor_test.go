// Copyright 2025 stackwalk project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package processor

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crashtools/stackwalk/pkg/minidump"
	"github.com/crashtools/stackwalk/pkg/symbols"
)

type mapSupplier struct {
	files map[string]string
}

func (s *mapSupplier) FetchSymbols(ctx context.Context, id symbols.ModuleID) ([]byte, string, error) {
	text, ok := s.files[id.DebugFile]
	if !ok {
		return nil, "", fmt.Errorf("%w: %v", symbols.ErrNotFound, id)
	}
	return []byte(text), "test://" + id.String(), nil
}

const appSymFile = `MODULE Linux x86_64 AAAA app
FILE 0 /src/app.cc
FUNC 5000 200 0 crash_me
5000 200 10 0
STACK CFI INIT 5000 200 .cfa: $rsp 8 + .ra: .cfa -8 + ^
`

// testDump builds an amd64 dump with one crashed thread whose stack
// unwinds once via CFI and once via scanning.
func testDump() *minidump.Dump {
	regs := minidump.NewRegisterSet()
	regs.Set("rip", 0x40005010)
	regs.Set("rsp", 0x80000000)
	var data []byte
	data = binary.LittleEndian.AppendUint64(data, 0x50000300) // CFI return address
	data = append(data, make([]byte, 16)...)
	data = binary.LittleEndian.AppendUint64(data, 0x50000900) // scan return address
	data = append(data, make([]byte, 64)...)
	return &minidump.Dump{
		Pid: 77,
		SystemInfo: &minidump.SystemInfo{
			OS:      "Linux",
			OSVer:   "6.1.0",
			CPUArch: "amd64",
		},
		Exception: &minidump.Exception{
			ThreadID:   5,
			Type:       "SIGSEGV",
			Address:    0x40005010,
			HasAddress: true,
		},
		Threads: []*minidump.Thread{
			{
				ID:      5,
				Name:    "main",
				Context: &minidump.RawContext{Arch: "amd64", Regs: regs},
				Stack:   &minidump.MemoryRegion{BaseAddr: 0x80000000, Data: data},
			},
			{ID: 6, Name: "idle"},
		},
		Modules: []*minidump.Module{
			{BaseAddr: 0x40000000, EndAddr: 0x40010000, Filename: "app", DebugFile: "app", DebugID: "AAAA"},
			{BaseAddr: 0x50000000, EndAddr: 0x50010000, Filename: "libbar.so", DebugFile: "libbar.so", DebugID: "BBBB"},
		},
	}
}

func TestProcess(t *testing.T) {
	dump := testDump()
	rep, err := Process(context.Background(), dump, Options{
		Supplier: &mapSupplier{files: map[string]string{"app": appSymFile}},
	})
	require.NoError(t, err)

	assert.Equal(t, "OK", rep.Status)
	assert.Equal(t, 2, rep.ThreadCount)
	require.Len(t, rep.Threads, 2)

	main := rep.Threads[0]
	require.Equal(t, 3, main.FrameCount)
	assert.Equal(t, "context", main.Frames[0].Trust)
	require.NotNil(t, main.Frames[0].Function)
	assert.Equal(t, "crash_me", *main.Frames[0].Function)
	require.NotNil(t, main.Frames[0].File)
	assert.Equal(t, "/src/app.cc", *main.Frames[0].File)
	assert.Equal(t, "cfi", main.Frames[1].Trust)
	require.NotNil(t, main.Frames[1].Module)
	assert.Equal(t, "libbar.so", *main.Frames[1].Module)
	assert.True(t, main.Frames[1].MissingSymbols)
	assert.Equal(t, "scan", main.Frames[2].Trust)

	// A thread with no context yields no frames, which is not an error.
	assert.Equal(t, 0, rep.Threads[1].FrameCount)
	assert.Empty(t, rep.Threads[1].Frames)

	require.NotNil(t, rep.CrashingThread)
	assert.Equal(t, 0, rep.CrashingThread.ThreadsIndex)
	assert.NotEmpty(t, rep.CrashingThread.Frames[0].Registers)

	// Module symbol flags settled by the walk.
	assert.True(t, rep.Modules[0].LoadedSymbols)
	require.NotNil(t, rep.Modules[0].SymbolURL)
	assert.True(t, rep.Modules[1].MissingSymbols)
	assert.False(t, rep.Modules[1].LoadedSymbols)
	assert.Nil(t, rep.Modules[1].SymbolURL)
}

func TestProcessFatalInput(t *testing.T) {
	// No threads and no exception record: no report at all.
	_, err := Process(context.Background(), &minidump.Dump{
		SystemInfo: &minidump.SystemInfo{OS: "Linux"},
		Modules:    []*minidump.Module{{BaseAddr: 1, EndAddr: 2, Filename: "app"}},
	}, Options{})
	assert.ErrorIs(t, err, minidump.ErrNoUsableData)
}

func TestProcessNoSupplier(t *testing.T) {
	rep, err := Process(context.Background(), testDump(), Options{})
	require.NoError(t, err)
	// Without a supplier nothing is symbolized and nothing is flagged
	// missing: symbolication was never attempted.
	assert.False(t, rep.Modules[0].LoadedSymbols)
	assert.False(t, rep.Modules[0].MissingSymbols)
	for _, frame := range rep.Threads[0].Frames {
		assert.Nil(t, frame.Function)
	}
}

func TestProcessIdempotent(t *testing.T) {
	// Two runs over the same immutable input produce byte-identical
	// reports.
	opts := func() Options {
		return Options{Supplier: &mapSupplier{files: map[string]string{"app": appSymFile}}}
	}
	encode := func() []byte {
		rep, err := Process(context.Background(), testDump(), opts())
		require.NoError(t, err)
		buf := new(bytes.Buffer)
		require.NoError(t, rep.Encode(buf, false))
		return buf.Bytes()
	}
	first := encode()
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, encode())
	}
}

func TestProcessParallelism(t *testing.T) {
	// Many threads sharing one module: the walks race on the symbol
	// cache, the output must not depend on scheduling.
	dump := testDump()
	for i := 0; i < 16; i++ {
		regs := minidump.NewRegisterSet()
		regs.Set("rip", 0x40005010)
		regs.Set("rsp", 0x80000000)
		data := binary.LittleEndian.AppendUint64(nil, 0x50000300)
		data = append(data, make([]byte, 64)...)
		dump.Threads = append(dump.Threads, &minidump.Thread{
			ID:      uint32(100 + i),
			Context: &minidump.RawContext{Arch: "amd64", Regs: regs},
			Stack:   &minidump.MemoryRegion{BaseAddr: 0x80000000, Data: data},
		})
	}
	rep, err := Process(context.Background(), dump, Options{
		Supplier:    &mapSupplier{files: map[string]string{"app": appSymFile}},
		Parallelism: 8,
	})
	require.NoError(t, err)
	assert.Equal(t, 18, rep.ThreadCount)
	for _, thread := range rep.Threads[2:] {
		require.Equal(t, 2, thread.FrameCount)
		assert.Equal(t, "cfi", thread.Frames[1].Trust)
	}
}
