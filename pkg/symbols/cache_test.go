// Copyright 2024 stackwalk project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package symbols

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crashtools/stackwalk/pkg/minidump"
)

// countingSupplier serves canned symbol data and counts fetches.
type countingSupplier struct {
	files   map[ModuleID][]byte
	fetches atomic.Int64
	delay   time.Duration
}

func (s *countingSupplier) FetchSymbols(ctx context.Context, id ModuleID) ([]byte, string, error) {
	s.fetches.Add(1)
	if s.delay != 0 {
		time.Sleep(s.delay)
	}
	data, ok := s.files[id]
	if !ok {
		return nil, "", fmt.Errorf("%w: %v", ErrNotFound, id)
	}
	return data, "test://" + id.String(), nil
}

func testModule() *minidump.Module {
	return &minidump.Module{
		BaseAddr:  0x40000000,
		EndAddr:   0x40010000,
		Filename:  "module1",
		DebugFile: "module1",
		DebugID:   "ABCD",
	}
}

func TestCacheLoad(t *testing.T) {
	mod := testModule()
	supplier := &countingSupplier{files: map[ModuleID][]byte{
		IDForModule(mod): []byte("MODULE Linux x86_64 ABCD module1\nFUNC 1000 100 0 main\n"),
	}}
	cache := NewCache(supplier)
	res := cache.Resolve(context.Background(), mod)
	require.Equal(t, Loaded, res.Status)
	require.NotNil(t, res.Table)
	assert.Equal(t, "test://module1/ABCD", res.URL)
	assert.True(t, mod.LoadedSymbols)
	assert.False(t, mod.MissingSymbols)
	assert.False(t, mod.CorruptSymbols)
	assert.Equal(t, "test://module1/ABCD", mod.SymbolURL)

	// Second resolve hits the cache.
	res2 := cache.Resolve(context.Background(), mod)
	assert.Same(t, res, res2)
	assert.EqualValues(t, 1, supplier.fetches.Load())
}

func TestCacheMissing(t *testing.T) {
	mod := testModule()
	cache := NewCache(&countingSupplier{})
	res := cache.Resolve(context.Background(), mod)
	assert.Equal(t, Missing, res.Status)
	assert.Nil(t, res.Table)
	assert.False(t, mod.LoadedSymbols)
	assert.True(t, mod.MissingSymbols)

	// Failures are sticky: no retry within a run.
	cache.Resolve(context.Background(), mod)
	res3 := cache.Resolve(context.Background(), mod)
	assert.Equal(t, Missing, res3.Status)
	settled, ok := cache.Peek(IDForModule(mod))
	assert.True(t, ok)
	assert.Same(t, res, settled)
}

func TestCacheCorrupt(t *testing.T) {
	mod := testModule()
	supplier := &countingSupplier{files: map[ModuleID][]byte{
		IDForModule(mod): []byte("not a symbol file\n"),
	}}
	cache := NewCache(supplier)
	res := cache.Resolve(context.Background(), mod)
	assert.Equal(t, Corrupt, res.Status)
	assert.True(t, mod.CorruptSymbols)
	assert.False(t, mod.LoadedSymbols)
	assert.False(t, mod.MissingSymbols)

	cache.Resolve(context.Background(), mod)
	assert.EqualValues(t, 1, supplier.fetches.Load())
}

func TestCacheNoIdentity(t *testing.T) {
	mod := &minidump.Module{Filename: "anon"}
	cache := NewCache(&countingSupplier{})
	res := cache.Resolve(context.Background(), mod)
	assert.Equal(t, Missing, res.Status)
}

func TestCacheAtMostOnce(t *testing.T) {
	mod := testModule()
	supplier := &countingSupplier{
		files: map[ModuleID][]byte{
			IDForModule(mod): []byte("MODULE Linux x86_64 ABCD module1\nFUNC 1000 100 0 main\n"),
		},
		delay: 10 * time.Millisecond,
	}
	cache := NewCache(supplier)

	const workers = 32
	results := make([]*Result, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = cache.Resolve(context.Background(), mod)
		}()
	}
	wg.Wait()

	// Exactly one underlying load, and every caller observed the same
	// settled result.
	assert.EqualValues(t, 1, supplier.fetches.Load())
	for i := 1; i < workers; i++ {
		assert.Same(t, results[0], results[i])
	}
	assert.Equal(t, Loaded, results[0].Status)
	assert.True(t, mod.LoadedSymbols)
}
