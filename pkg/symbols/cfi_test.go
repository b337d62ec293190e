// Copyright 2024 stackwalk project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package symbols

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeMemory is a sparse pointer-sized-word memory for evaluator tests.
type fakeMemory map[uint64]uint64

func (m fakeMemory) ReadPointer(addr uint64) (uint64, error) {
	val, ok := m[addr]
	if !ok {
		return 0, fmt.Errorf("no memory at %#x", addr)
	}
	return val, nil
}

func TestEvalCFIRules(t *testing.T) {
	regs := map[string]uint64{
		"rip": 0x40001234,
		"rsp": 0x7fff0000,
		"rbp": 0x7fff0040,
	}
	mem := fakeMemory{
		0x7fff0008: 0x40005678, // saved return address
		0x7fff0000: 0xcafe,     // saved rbx
	}
	rules := parseRuleSet(".cfa: $rsp 16 + .ra: .cfa -8 + ^ $rbx: .cfa -16 + ^")
	require.NotNil(t, rules)
	res, err := EvalCFIRules(rules, regs, mem)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x7fff0010), res.CFA)
	assert.Equal(t, uint64(0x40005678), res.RA)
	assert.Equal(t, uint64(0xcafe), res.Regs["rbx"])
}

func TestEvalRegisterRule(t *testing.T) {
	// arm64-style rules name registers without $ and can recover the
	// return address from a register instead of memory.
	regs := map[string]uint64{
		"pc":  0x40001234,
		"sp":  0x7fff0000,
		"x29": 0x7fff0100,
		"x30": 0x40009999,
	}
	rules := parseRuleSet(".cfa: sp 0 + .ra: x30")
	require.NotNil(t, rules)
	res, err := EvalCFIRules(rules, regs, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x7fff0000), res.CFA)
	assert.Equal(t, uint64(0x40009999), res.RA)
}

func TestEvalArithmetic(t *testing.T) {
	regs := map[string]uint64{"a": 30}
	tests := []struct {
		expr string
		want uint64
	}{
		{"$a 2 +", 32},
		{"$a 2 -", 28},
		{"$a 2 *", 60},
		{"$a 4 /", 7},
		{"$a 4 %", 2},
		{"$a 16 @", 16},
		{"-8 $a +", 22},
	}
	for _, test := range tests {
		got, err := evalPostfix(test.expr, func(id string) (uint64, bool) {
			val, ok := regs[trimDollar(id)]
			return val, ok
		}, nil)
		require.NoError(t, err, "expr %q", test.expr)
		assert.Equal(t, test.want, got, "expr %q", test.expr)
	}
}

func trimDollar(s string) string {
	if len(s) > 0 && s[0] == '$' {
		return s[1:]
	}
	return s
}

func TestEvalFailures(t *testing.T) {
	regs := map[string]uint64{"rsp": 0x1000}
	tests := []struct {
		name  string
		rules string
	}{
		{"no cfa rule", ".ra: $rsp ^"},
		{"no ra rule", ".cfa: $rsp 8 +"},
		{"unknown register", ".cfa: $r99 8 + .ra: .cfa ^"},
		{"division by zero", ".cfa: $rsp 0 / .ra: .cfa ^"},
		{"stack underflow", ".cfa: + .ra: .cfa ^"},
		{"dangling operands", ".cfa: $rsp 8 8 + .ra: .cfa ^"},
		{"failed memory read", ".cfa: $rsp 8 + .ra: .cfa -8 + ^"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			rules := parseRuleSet(test.rules)
			require.NotNil(t, rules)
			_, err := EvalCFIRules(rules, regs, fakeMemory{})
			assert.Error(t, err)
		})
	}
}

func TestParseRuleSet(t *testing.T) {
	assert.Nil(t, parseRuleSet(""))
	assert.Nil(t, parseRuleSet("$rsp 8 + .cfa:"))

	rules := parseRuleSet(".cfa: $rsp 8 + $rbx: .cfa -16 + ^")
	require.NotNil(t, rules)
	assert.Equal(t, "$rsp 8 +", rules[".cfa"])
	assert.Equal(t, ".cfa -16 + ^", rules["rbx"])
}
