// Copyright 2024 stackwalk project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package symbols

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/ulikunitz/xz"
)

// RelativeSymbolPath returns the conventional breakpad symbol store path
// for a module: <debug file>/<debug id>/<debug file with .sym extension>.
func RelativeSymbolPath(id ModuleID) string {
	file := path.Base(id.DebugFile)
	sym := strings.TrimSuffix(file, ".pdb") + ".sym"
	return path.Join(file, id.DebugID, sym)
}

// DirSupplier looks symbol files up in local symbol store directories,
// trying each root in order. Both plain .sym files and xz-compressed
// .sym.xz files are understood.
type DirSupplier struct {
	roots []string
}

func NewDirSupplier(roots ...string) *DirSupplier {
	return &DirSupplier{roots: roots}
}

func (s *DirSupplier) FetchSymbols(ctx context.Context, id ModuleID) ([]byte, string, error) {
	rel := filepath.FromSlash(RelativeSymbolPath(id))
	for _, root := range s.roots {
		file := filepath.Join(root, rel)
		data, err := os.ReadFile(file)
		if err == nil {
			return data, file, nil
		}
		data, err = readXZ(file + ".xz")
		if err == nil {
			return data, file + ".xz", nil
		}
	}
	return nil, "", fmt.Errorf("%w: %v", ErrNotFound, rel)
}

func readXZ(file string) ([]byte, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r, err := xz.NewReader(f)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

// HTTPSupplier fetches symbol files from a breakpad-layout symbol server.
// A per-fetch timeout bounds how long one module can stall the walk;
// timeouts surface to the cache as missing symbols, not errors.
type HTTPSupplier struct {
	base    string
	client  *http.Client
	timeout time.Duration
}

func NewHTTPSupplier(base string, timeout time.Duration) *HTTPSupplier {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &HTTPSupplier{
		base:    strings.TrimSuffix(base, "/"),
		client:  &http.Client{},
		timeout: timeout,
	}
}

func (s *HTTPSupplier) FetchSymbols(ctx context.Context, id ModuleID) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	symURL := s.base + "/" + escapePath(RelativeSymbolPath(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, symURL, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetching %v: %w", symURL, err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, "", fmt.Errorf("%w: %v", ErrNotFound, symURL)
	case resp.StatusCode != http.StatusOK:
		return nil, "", fmt.Errorf("fetching %v: status %v", symURL, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("fetching %v: %w", symURL, err)
	}
	return data, symURL, nil
}

func escapePath(rel string) string {
	parts := strings.Split(rel, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

// MultiSupplier tries suppliers in order, e.g. local stores before a
// symbol server. The first successful fetch wins.
type MultiSupplier struct {
	suppliers []Supplier
}

func NewMultiSupplier(suppliers ...Supplier) *MultiSupplier {
	return &MultiSupplier{suppliers: suppliers}
}

func (s *MultiSupplier) FetchSymbols(ctx context.Context, id ModuleID) ([]byte, string, error) {
	var lastErr error = fmt.Errorf("%w: no suppliers configured", ErrNotFound)
	for _, sup := range s.suppliers {
		data, url, err := sup.FetchSymbols(ctx, id)
		if err == nil {
			return data, url, nil
		}
		lastErr = err
	}
	return nil, "", lastErr
}
