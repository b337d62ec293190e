// Copyright 2024 stackwalk project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package symbols

import (
	"fmt"
	"strconv"
	"strings"
)

// MemoryReader reads a pointer-sized value from the crashed process's
// captured memory. Reads outside the captured ranges fail.
type MemoryReader interface {
	ReadPointer(addr uint64) (uint64, error)
}

// CFIResult is the caller register state recovered by one CFI program:
// the canonical frame address (the caller's stack pointer at the call),
// the return address, and any callee-saved registers the program rules
// describe, keyed by bare register name.
type CFIResult struct {
	CFA  uint64
	RA   uint64
	Regs map[string]uint64
}

// EvalCFIRules evaluates a merged STACK CFI rule set against the current
// (callee) register values and memory. Rules are postfix expressions over
// literals, register identifiers and .cfa:
//
//	.cfa: $rsp 8 +
//	.ra:  .cfa -8 + ^
//	$rbx: .cfa -24 + ^
//
// The .cfa rule is evaluated first and must be present, as must .ra.
// Every failure mode (unknown identifier, malformed expression, failed
// memory read, division by zero) is a typed error; the caller treats it
// as a failed unwind attempt, never as a fatal condition.
func EvalCFIRules(rules map[string]string, regs map[string]uint64, mem MemoryReader) (*CFIResult, error) {
	cfaExpr, ok := rules[".cfa"]
	if !ok {
		return nil, fmt.Errorf("CFI rules have no .cfa rule")
	}
	raExpr, ok := rules[".ra"]
	if !ok {
		return nil, fmt.Errorf("CFI rules have no .ra rule")
	}
	lookup := func(ident string) (uint64, bool) {
		val, ok := regs[strings.TrimPrefix(ident, "$")]
		return val, ok
	}
	cfa, err := evalPostfix(cfaExpr, lookup, mem)
	if err != nil {
		return nil, fmt.Errorf("evaluating .cfa: %w", err)
	}
	// Later rules see the frame's CFA.
	lookupWithCFA := func(ident string) (uint64, bool) {
		if ident == ".cfa" {
			return cfa, true
		}
		return lookup(ident)
	}
	ra, err := evalPostfix(raExpr, lookupWithCFA, mem)
	if err != nil {
		return nil, fmt.Errorf("evaluating .ra: %w", err)
	}
	res := &CFIResult{CFA: cfa, RA: ra, Regs: make(map[string]uint64)}
	for reg, expr := range rules {
		if reg == ".cfa" || reg == ".ra" {
			continue
		}
		val, err := evalPostfix(expr, lookupWithCFA, mem)
		if err != nil {
			return nil, fmt.Errorf("evaluating %v: %w", reg, err)
		}
		res.Regs[strings.TrimPrefix(reg, "$")] = val
	}
	return res, nil
}

func evalPostfix(expr string, lookup func(string) (uint64, bool), mem MemoryReader) (uint64, error) {
	var stack []uint64
	pop := func() (uint64, uint64, error) {
		if len(stack) < 2 {
			return 0, 0, fmt.Errorf("operand stack underflow in %q", expr)
		}
		a, b := stack[len(stack)-2], stack[len(stack)-1]
		stack = stack[:len(stack)-2]
		return a, b, nil
	}
	for _, tok := range strings.Fields(expr) {
		switch tok {
		case "+", "-", "*", "/", "%", "@":
			a, b, err := pop()
			if err != nil {
				return 0, err
			}
			var val uint64
			switch tok {
			case "+":
				val = a + b
			case "-":
				val = a - b
			case "*":
				val = a * b
			case "/", "%":
				if b == 0 {
					return 0, fmt.Errorf("division by zero in %q", expr)
				}
				if tok == "/" {
					val = a / b
				} else {
					val = a % b
				}
			case "@":
				// Align a down to a multiple of b.
				if b == 0 {
					return 0, fmt.Errorf("alignment by zero in %q", expr)
				}
				val = a - a%b
			}
			stack = append(stack, val)
		case "^":
			if len(stack) < 1 {
				return 0, fmt.Errorf("dereference with empty stack in %q", expr)
			}
			if mem == nil {
				return 0, fmt.Errorf("dereference with no memory in %q", expr)
			}
			addr := stack[len(stack)-1]
			val, err := mem.ReadPointer(addr)
			if err != nil {
				return 0, err
			}
			stack[len(stack)-1] = val
		default:
			if val, err := strconv.ParseInt(tok, 10, 64); err == nil {
				stack = append(stack, uint64(val))
				continue
			}
			val, ok := lookup(tok)
			if !ok {
				return 0, fmt.Errorf("unknown identifier %q in %q", tok, expr)
			}
			stack = append(stack, val)
		}
	}
	if len(stack) != 1 {
		return 0, fmt.Errorf("expression %q left %v operands", expr, len(stack))
	}
	return stack[0], nil
}

// parseRuleSet splits "reg: expr reg: expr ..." into per-register
// expressions with register names normalized (leading $ stripped, .cfa
// and .ra kept as is). Returns nil on malformed input.
func parseRuleSet(s string) map[string]string {
	rules := make(map[string]string)
	var cur string
	var expr []string
	flush := func() {
		if cur != "" {
			rules[cur] = strings.Join(expr, " ")
		}
		expr = nil
	}
	for _, tok := range strings.Fields(s) {
		if strings.HasSuffix(tok, ":") {
			flush()
			cur = strings.TrimSuffix(tok, ":")
			if cur != ".cfa" && cur != ".ra" {
				cur = strings.TrimPrefix(cur, "$")
			}
			continue
		}
		if cur == "" {
			return nil // expression before any register name
		}
		expr = append(expr, tok)
	}
	flush()
	if len(rules) == 0 {
		return nil
	}
	return rules
}
