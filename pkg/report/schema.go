// Copyright 2025 stackwalk project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package report assembles the final crash report and encodes it as
// JSON. The schema is a stability-pinned public interface: field names
// and types never change, new fields are only ever added, and any field
// may be null because the source dump lacked the data. Nullable fields
// are pointers; the only fields allowed to disappear from the output
// entirely are forward-compatibility extensions marked omitempty.
package report

import (
	"encoding/json"
	"io"
)

// Report is the root of the crash report (the per-process state).
type Report struct {
	// Status is reserved for a future explicit-error mode; today the
	// absence of output is what signals failure, so this is always "OK".
	Status                  string            `json:"status"`
	Pid                     *int              `json:"pid"`
	CrashInfo               *CrashInfo        `json:"crash_info"`
	SystemInfo              *SystemInfo       `json:"system_info"`
	LsbRelease              *LsbRelease       `json:"lsb_release"`
	MacCrashInfo            *MacCrashInfo     `json:"mac_crash_info"`
	MainModule              *int              `json:"main_module"`
	ModulesContainsCertInfo bool              `json:"modules_contains_cert_info"`
	Modules                 []*Module         `json:"modules"`
	UnloadedModules         []*UnloadedModule `json:"unloaded_modules"`
	ThreadCount             int               `json:"thread_count"`
	Threads                 []*Thread         `json:"threads"`
	CrashingThread          *CrashingThread   `json:"crashing_thread"`
	// Sensitive is a reserved, intentionally never-populated block
	// (it would carry the exploitability rating if we computed one).
	Sensitive *Sensitive `json:"sensitive"`
}

type CrashInfo struct {
	Type           string  `json:"type"`
	Address        *string `json:"address"`
	CrashingThread *int    `json:"crashing_thread"`
	Assertion      *string `json:"assertion"`
}

type SystemInfo struct {
	OS       *string `json:"os"`
	OSVer    *string `json:"os_ver"`
	CPUArch  *string `json:"cpu_arch"`
	CPUInfo  *string `json:"cpu_info"`
	CPUCount int     `json:"cpu_count"`
}

type LsbRelease struct {
	ID          *string `json:"id"`
	Release     *string `json:"release"`
	Codename    *string `json:"codename"`
	Description *string `json:"description"`
}

type MacCrashInfo struct {
	NumRecords int                   `json:"num_records"`
	Records    []*MacCrashInfoRecord `json:"records"`
}

type MacCrashInfoRecord struct {
	Module     *string `json:"module"`
	Message    *string `json:"message"`
	Signature  *string `json:"signature_string"`
	Backtrace  *string `json:"backtrace"`
	AbortCause *string `json:"abort_cause"`
}

type Module struct {
	BaseAddr       string  `json:"base_addr"`
	EndAddr        string  `json:"end_addr"`
	CodeID         *string `json:"code_id"`
	DebugFile      *string `json:"debug_file"`
	DebugID        *string `json:"debug_id"`
	Filename       string  `json:"filename"`
	Version        *string `json:"version"`
	CertSubject    *string `json:"cert_subject"`
	MissingSymbols bool    `json:"missing_symbols"`
	LoadedSymbols  bool    `json:"loaded_symbols"`
	CorruptSymbols bool    `json:"corrupt_symbols"`
	SymbolURL      *string `json:"symbol_url"`
}

type UnloadedModule struct {
	BaseAddr string  `json:"base_addr"`
	EndAddr  string  `json:"end_addr"`
	CodeID   *string `json:"code_id"`
	Filename string  `json:"filename"`
}

type Thread struct {
	ThreadID       uint32   `json:"thread_id"`
	ThreadName     *string  `json:"thread_name"`
	LastErrorValue *string  `json:"last_error_value"`
	FrameCount     int      `json:"frame_count"`
	Frames         []*Frame `json:"frames"`
}

// CrashingThread repeats the crashed thread's fields and adds a
// back-reference into the threads list plus the full register dump on
// frame 0. The frame count historically went by another name here; the
// schema now uses frame_count like every other thread.
type CrashingThread struct {
	ThreadsIndex int `json:"threads_index"`
	Thread
}

type Frame struct {
	Frame          int               `json:"frame"`
	Trust          string            `json:"trust"`
	Offset         string            `json:"offset"`
	Module         *string           `json:"module"`
	ModuleOffset   *string           `json:"module_offset"`
	Function       *string           `json:"function"`
	FunctionOffset *string           `json:"function_offset"`
	File           *string           `json:"file"`
	Line           *int              `json:"line"`
	MissingSymbols bool              `json:"missing_symbols"`
	Registers      map[string]string `json:"registers,omitempty"`
}

type Sensitive struct {
	Exploitability *string `json:"exploitability"`
}

// Encode writes the report as JSON. Pretty mode is for humans; compact
// mode is the machine interface.
func (r *Report) Encode(w io.Writer, pretty bool) error {
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(r)
}
