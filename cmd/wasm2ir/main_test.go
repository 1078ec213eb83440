package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasm-ir/interchange"
	"github.com/wippyai/wasm-ir/ir"
	"github.com/wippyai/wasm-ir/wasm"
)

var wEnd = wasm.Instruction{Opcode: wasm.OpEnd}

func instr(op byte, imm any) wasm.Instruction {
	return wasm.Instruction{Opcode: op, Imm: imm}
}

func moduleFile(t *testing.T, sections ...wasm.SectionEncoder) string {
	t.Helper()
	m := wasm.NewModule()
	for _, s := range sections {
		m.Section(s)
	}
	bin, err := m.Finish()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "in.wasm")
	require.NoError(t, os.WriteFile(path, bin, 0o644))
	return path
}

func codeOf(instrs ...wasm.Instruction) *wasm.CodeEncoder {
	body := wasm.NewFuncBody(nil)
	for _, in := range instrs {
		body.Instruction(in)
	}
	return (&wasm.CodeEncoder{}).Function(body)
}

// answerModule imports one function and exports a second returning 42.
func answerModule(t *testing.T) string {
	return moduleFile(t,
		(&wasm.TypeEncoder{}).Func(nil, []wasm.ValType{wasm.I32}),
		(&wasm.ImportEncoder{}).Import("env", "g", wasm.TypeRef{Kind: wasm.KindFunc, FuncIdx: 0}),
		(&wasm.FunctionEncoder{}).Function(0),
		(&wasm.ExportEncoder{}).Export("f", wasm.KindFunc, 1),
		codeOf(
			instr(wasm.OpBlock, wasm.BlockImm{Type: wasm.BlockType{Kind: wasm.BlockEmpty}}),
			wEnd,
			instr(wasm.OpI32Const, wasm.I32Imm{Value: 42}),
			wEnd,
		),
	)
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestConvert(t *testing.T) {
	in := answerModule(t)
	dir := t.TempDir()
	pbPath := filepath.Join(dir, "out.pb")
	wasmPath := filepath.Join(dir, "out.wasm")

	out, err := run(t, "convert", in, pbPath, wasmPath)
	require.NoError(t, err)

	src, err := os.ReadFile(in)
	require.NoError(t, err)
	bin, err := os.ReadFile(wasmPath)
	require.NoError(t, err)
	pb, err := os.ReadFile(pbPath)
	require.NoError(t, err)

	require.Equal(t, src, bin)
	require.Equal(t, fmt.Sprintf("in: %d, out: %d, proto: %d\n", len(src), len(bin), len(pb)), out)

	m, err := interchange.Unmarshal(pb)
	require.NoError(t, err)
	require.Len(t, m.Sections, 5)
}

func TestConvertValidation(t *testing.T) {
	in := moduleFile(t,
		(&wasm.TypeEncoder{}).Func(nil, nil),
		(&wasm.FunctionEncoder{}).Function(0),
		codeOf(instr(wasm.OpI32Add, nil), wEnd),
	)
	dir := t.TempDir()
	pbPath := filepath.Join(dir, "out.pb")
	wasmPath := filepath.Join(dir, "out.wasm")

	_, err := run(t, "convert", in, pbPath, wasmPath)
	require.ErrorContains(t, err, "WASM validation error")

	out, err := run(t, "convert", "--no-validate", in, pbPath, wasmPath)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "in: "))
}

func TestConvertExceptions(t *testing.T) {
	in := moduleFile(t,
		(&wasm.TypeEncoder{}).Func(nil, nil),
		(&wasm.FunctionEncoder{}).Function(0),
		(&wasm.TagEncoder{}).Tag(wasm.TagType{TypeIdx: 0}),
		codeOf(instr(wasm.OpThrow, wasm.ThrowImm{TagIdx: 0}), wEnd),
	)
	dir := t.TempDir()
	pbPath := filepath.Join(dir, "out.pb")
	wasmPath := filepath.Join(dir, "out.wasm")

	_, err := run(t, "convert", in, pbPath, wasmPath)
	require.ErrorContains(t, err, "decode")
	_, statErr := os.Stat(wasmPath)
	require.True(t, os.IsNotExist(statErr))

	_, err = run(t, "--exceptions", "convert", in, pbPath, wasmPath)
	require.NoError(t, err)
}

func TestConvertArgs(t *testing.T) {
	_, err := run(t, "convert", "a.wasm")
	require.Error(t, err)

	dir := t.TempDir()
	_, err = run(t, "convert", filepath.Join(dir, "missing.wasm"), filepath.Join(dir, "o.pb"), filepath.Join(dir, "o.wasm"))
	require.ErrorContains(t, err, "read")
}

func TestDump(t *testing.T) {
	out, err := run(t, "dump", answerModule(t))
	require.NoError(t, err)

	want := []string{
		"version 1 (module)",
		"section 0: type",
		"  type[0] () -> (i32)",
		"section 1: import",
		`  import[0] "env"."g" type 0`,
		"section 3: export",
		`  export[0] "f" func 1`,
		"section 4: code",
		"  block",
		"  end",
		"  i32.const 42",
	}
	for _, line := range want {
		require.Contains(t, out, line+"\n")
	}
}

func TestOperatorIndentation(t *testing.T) {
	body := []ir.Operator{
		ir.Op(ir.OpBlock, ir.Blockty{Type: ir.EmptyBlock{}}),
		ir.Op(ir.OpIf, ir.Blockty{Type: ir.EmptyBlock{}}),
		ir.Op(ir.OpNop, nil),
		ir.Op(ir.OpElse, nil),
		ir.Op(ir.OpNop, nil),
		ir.Op(ir.OpEnd, nil),
		ir.Op(ir.OpEnd, nil),
		ir.Op(ir.OpEnd, nil),
	}
	require.Equal(t, []string{
		"block",
		"  if",
		"    nop",
		"  else",
		"    nop",
		"  end",
		"end",
		"end",
	}, operatorLines(body))
}

func TestInspectWithoutTerminal(t *testing.T) {
	out, err := run(t, "inspect", answerModule(t))
	require.NoError(t, err)
	require.Contains(t, out, "section 4: code\n")
}

func TestInspectModel(t *testing.T) {
	codec := ir.NewCodec()
	m := newInspectModel(codec, answerModule(t))
	require.Equal(t, "Decoding module...", m.View())

	msg := m.Init()()
	_, _ = m.Update(msg)
	_, _ = m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	require.Contains(t, m.View(), "type[0] () -> (i32)")

	for i := 0; i < 4; i++ {
		_, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
	}
	require.Equal(t, 4, m.selected)
	require.Contains(t, m.View(), "i32.const 42")

	_, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
	require.Equal(t, 4, m.selected)

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	require.NotNil(t, cmd)
	require.IsType(t, tea.QuitMsg{}, cmd())
}

func TestInspectModelError(t *testing.T) {
	m := newInspectModel(ir.NewCodec(), filepath.Join(t.TempDir(), "missing.wasm"))
	_, _ = m.Update(m.Init()())
	require.Contains(t, m.View(), "Error: read")
}
