// Copyright 2024 stackwalk project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package minidump

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// The on-disk digested-dump format. A separate extraction tool walks the
// raw minidump container and emits this JSON; Read turns it back into
// typed records. Addresses are hex strings, stack bytes are base64.

type hexUint64 uint64

func (h *hexUint64) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] != '"' {
		return json.Unmarshal(data, (*uint64)(h))
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	s = strings.TrimPrefix(strings.ToLower(s), "0x")
	val, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return fmt.Errorf("bad address %q: %w", s, err)
	}
	*h = hexUint64(val)
	return nil
}

type jsonDump struct {
	Pid             int                   `json:"pid"`
	SystemInfo      *jsonSystemInfo       `json:"system_info"`
	Exception       *jsonException        `json:"exception"`
	Threads         []*jsonThread         `json:"threads"`
	Modules         []*jsonModule         `json:"modules"`
	UnloadedModules []*jsonUnloadedModule `json:"unloaded_modules"`
	LsbRelease      *LsbRelease           `json:"lsb_release"`
	MacCrashInfo    []*MacCrashInfoRecord `json:"mac_crash_info"`
}

type jsonSystemInfo struct {
	OS       string `json:"os"`
	OSVer    string `json:"os_ver"`
	CPUArch  string `json:"cpu_arch"`
	CPUInfo  string `json:"cpu_info"`
	CPUCount int    `json:"cpu_count"`
}

type jsonException struct {
	ThreadID  uint32     `json:"thread_id"`
	Type      string     `json:"type"`
	Address   *hexUint64 `json:"address"`
	AssertMsg string     `json:"assertion"`
}

type jsonThread struct {
	ID        uint32       `json:"id"`
	Name      string       `json:"name"`
	LastError string       `json:"last_error"`
	Context   *jsonContext `json:"context"`
	Stack     *jsonMemory  `json:"stack"`
}

type jsonContext struct {
	Arch      string        `json:"arch"`
	Registers [][2]jsonWord `json:"registers"` // ordered [name, value] pairs
}

// jsonWord is either a register name or a hex value, depending on the
// position in the pair.
type jsonWord struct {
	name string
	val  uint64
}

func (w *jsonWord) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	w.name = s
	if v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 64); err == nil {
		w.val = v
	}
	return nil
}

type jsonMemory struct {
	BaseAddr hexUint64 `json:"base_addr"`
	Data     string    `json:"data"` // base64
}

type jsonModule struct {
	BaseAddr    hexUint64 `json:"base_addr"`
	EndAddr     hexUint64 `json:"end_addr"`
	Filename    string    `json:"filename"`
	CodeID      string    `json:"code_id"`
	DebugFile   string    `json:"debug_file"`
	DebugID     string    `json:"debug_id"`
	Version     string    `json:"version"`
	CertSubject string    `json:"cert_subject"`
}

type jsonUnloadedModule struct {
	BaseAddr hexUint64 `json:"base_addr"`
	EndAddr  hexUint64 `json:"end_addr"`
	CodeID   string    `json:"code_id"`
	Filename string    `json:"filename"`
}

// Read decodes a digested dump from r.
func Read(r io.Reader) (*Dump, error) {
	var jd jsonDump
	dec := json.NewDecoder(r)
	if err := dec.Decode(&jd); err != nil {
		return nil, fmt.Errorf("failed to decode dump: %w", err)
	}
	dump := &Dump{
		Pid:          jd.Pid,
		LsbRelease:   jd.LsbRelease,
		MacCrashInfo: jd.MacCrashInfo,
	}
	if jd.SystemInfo != nil {
		dump.SystemInfo = &SystemInfo{
			OS:       jd.SystemInfo.OS,
			OSVer:    jd.SystemInfo.OSVer,
			CPUArch:  jd.SystemInfo.CPUArch,
			CPUInfo:  jd.SystemInfo.CPUInfo,
			CPUCount: jd.SystemInfo.CPUCount,
		}
	}
	if jd.Exception != nil {
		dump.Exception = &Exception{
			ThreadID:  jd.Exception.ThreadID,
			Type:      jd.Exception.Type,
			AssertMsg: jd.Exception.AssertMsg,
		}
		if jd.Exception.Address != nil {
			dump.Exception.Address = uint64(*jd.Exception.Address)
			dump.Exception.HasAddress = true
		}
	}
	for _, jt := range jd.Threads {
		thread := &Thread{
			ID:        jt.ID,
			Name:      jt.Name,
			LastError: jt.LastError,
		}
		if jt.Context != nil {
			regs := NewRegisterSet()
			for _, pair := range jt.Context.Registers {
				regs.Set(pair[0].name, pair[1].val)
			}
			thread.Context = &RawContext{Arch: jt.Context.Arch, Regs: regs}
		}
		if jt.Stack != nil {
			data, err := base64.StdEncoding.DecodeString(jt.Stack.Data)
			if err != nil {
				return nil, fmt.Errorf("bad stack memory for thread %v: %w", jt.ID, err)
			}
			thread.Stack = &MemoryRegion{BaseAddr: uint64(jt.Stack.BaseAddr), Data: data}
		}
		dump.Threads = append(dump.Threads, thread)
	}
	for _, jm := range jd.Modules {
		dump.Modules = append(dump.Modules, &Module{
			BaseAddr:    uint64(jm.BaseAddr),
			EndAddr:     uint64(jm.EndAddr),
			Filename:    jm.Filename,
			CodeID:      jm.CodeID,
			DebugFile:   jm.DebugFile,
			DebugID:     jm.DebugID,
			Version:     jm.Version,
			CertSubject: jm.CertSubject,
		})
	}
	for _, jm := range jd.UnloadedModules {
		dump.UnloadedModules = append(dump.UnloadedModules, &UnloadedModule{
			BaseAddr: uint64(jm.BaseAddr),
			EndAddr:  uint64(jm.EndAddr),
			CodeID:   jm.CodeID,
			Filename: jm.Filename,
		})
	}
	return dump, nil
}
