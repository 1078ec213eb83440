package validate_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wippyai/wasm-ir/errors"
	"github.com/wippyai/wasm-ir/ir"
	"github.com/wippyai/wasm-ir/validate"
	"github.com/wippyai/wasm-ir/wasm"
)

var (
	wEnd      = wasm.Instruction{Opcode: wasm.OpEnd}
	invalid   = &errors.Error{Phase: errors.PhaseValidate, Kind: errors.KindInvalidData}
	zeroConst = wasm.ConstExpr{instr(wasm.OpI32Const, wasm.I32Imm{Value: 0})}
)

func instr(op byte, imm any) wasm.Instruction {
	return wasm.Instruction{Opcode: op, Imm: imm}
}

func build(t *testing.T, sections ...wasm.SectionEncoder) []byte {
	t.Helper()
	m := wasm.NewModule()
	for _, s := range sections {
		m.Section(s)
	}
	bin, err := m.Finish()
	require.NoError(t, err)
	return bin
}

func voidType() *wasm.TypeEncoder { return (&wasm.TypeEncoder{}).Func(nil, nil) }

func codeOf(instrs ...wasm.Instruction) *wasm.CodeEncoder {
	body := wasm.NewFuncBody(nil)
	for _, in := range instrs {
		body.Instruction(in)
	}
	return (&wasm.CodeEncoder{}).Function(body)
}

func reencode(t *testing.T, c *ir.Codec, bin []byte) []byte {
	t.Helper()
	m, err := c.Decode(bin)
	require.NoError(t, err)
	out, err := c.Encode(m)
	require.NoError(t, err)
	return out
}

func TestCodecOutputValidates(t *testing.T) {
	limit := uint64(4)
	tests := []struct {
		name string
		bin  func(t *testing.T) []byte
	}{
		{
			name: "import function and export",
			bin: func(t *testing.T) []byte {
				return build(t,
					(&wasm.TypeEncoder{}).Func(nil, []wasm.ValType{wasm.I32}),
					(&wasm.ImportEncoder{}).Import("env", "g", wasm.TypeRef{Kind: wasm.KindFunc, FuncIdx: 0}),
					(&wasm.FunctionEncoder{}).Function(0),
					(&wasm.ExportEncoder{}).Export("f", wasm.KindFunc, 1),
					codeOf(instr(wasm.OpI32Const, wasm.I32Imm{Value: 42}), wEnd),
				)
			},
		},
		{
			name: "tables memories globals elements data",
			bin: func(t *testing.T) []byte {
				return build(t,
					voidType(),
					(&wasm.FunctionEncoder{}).Function(0),
					(&wasm.TableEncoder{}).Table(wasm.TableType{ElemType: wasm.FuncRef.Ref, Limits: wasm.Limits{Min: 1, Max: &limit}}),
					(&wasm.MemoryEncoder{}).Memory(wasm.MemoryType{Limits: wasm.Limits{Min: 1}}),
					(&wasm.GlobalEncoder{}).Global(wasm.GlobalType{Content: wasm.I64, Mutable: true},
						wasm.ConstExpr{instr(wasm.OpI64Const, wasm.I64Imm{Value: -1})}),
					(&wasm.ExportEncoder{}).
						Export("run", wasm.KindFunc, 0).
						Export("memory", wasm.KindMemory, 0).
						Export("table", wasm.KindTable, 0).
						Export("counter", wasm.KindGlobal, 0),
					(&wasm.ElementEncoder{}).Active(nil, zeroConst, wasm.ElementItems{Funcs: []uint32{0}}),
					codeOf(
						instr(wasm.OpGlobalGet, wasm.GlobalImm{GlobalIdx: 0}),
						instr(wasm.OpDrop, nil),
						wEnd,
					),
					(&wasm.DataEncoder{}).Active(0, zeroConst, []byte("hi")),
				)
			},
		},
		{
			name: "bulk memory with data count",
			bin: func(t *testing.T) []byte {
				return build(t,
					voidType(),
					(&wasm.FunctionEncoder{}).Function(0),
					(&wasm.MemoryEncoder{}).Memory(wasm.MemoryType{Limits: wasm.Limits{Min: 1}}),
					&wasm.DataCountEncoder{Count: 1},
					codeOf(
						instr(wasm.OpI32Const, wasm.I32Imm{Value: 0}),
						instr(wasm.OpI32Const, wasm.I32Imm{Value: 0}),
						instr(wasm.OpI32Const, wasm.I32Imm{Value: 1}),
						instr(wasm.OpPrefixMisc, wasm.MiscImm{SubOpcode: wasm.MiscMemoryInit, Operands: []uint32{0, 0}}),
						instr(wasm.OpPrefixMisc, wasm.MiscImm{SubOpcode: wasm.MiscDataDrop, Operands: []uint32{0}}),
						wEnd,
					),
					(&wasm.DataEncoder{}).Passive([]byte{1}),
				)
			},
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			out := reencode(t, ir.NewCodec(), tc.bin(t))
			require.NoError(t, validate.Validate(context.Background(), out))
		})
	}
}

func TestStructuralRejections(t *testing.T) {
	i32Param := (&wasm.TypeEncoder{}).Func([]wasm.ValType{wasm.I32}, nil)

	tests := []struct {
		name string
		bin  func(t *testing.T) []byte
		msg  string
	}{
		{
			name: "function type index",
			bin: func(t *testing.T) []byte {
				return build(t, voidType(), (&wasm.FunctionEncoder{}).Function(5), codeOf(wEnd))
			},
			msg: "function 0 references invalid type index 5",
		},
		{
			name: "import type index",
			bin: func(t *testing.T) []byte {
				return build(t, voidType(),
					(&wasm.ImportEncoder{}).Import("env", "g", wasm.TypeRef{Kind: wasm.KindFunc, FuncIdx: 3}))
			},
			msg: "function import 0 references invalid type index 3",
		},
		{
			name: "export function index",
			bin: func(t *testing.T) []byte {
				return build(t, voidType(), (&wasm.FunctionEncoder{}).Function(0),
					(&wasm.ExportEncoder{}).Export("f", wasm.KindFunc, 9), codeOf(wEnd))
			},
			msg: "export 0 (f) references invalid function index 9",
		},
		{
			name: "export memory index",
			bin: func(t *testing.T) []byte {
				return build(t, (&wasm.ExportEncoder{}).Export("memory", wasm.KindMemory, 0))
			},
			msg: "export 0 (memory) references invalid memory index 0",
		},
		{
			name: "duplicate export",
			bin: func(t *testing.T) []byte {
				return build(t, voidType(), (&wasm.FunctionEncoder{}).Function(0),
					(&wasm.ExportEncoder{}).Export("f", wasm.KindFunc, 0).Export("f", wasm.KindFunc, 0),
					codeOf(wEnd))
			},
			msg: `duplicate export name "f" at index 1`,
		},
		{
			name: "element function index",
			bin: func(t *testing.T) []byte {
				return build(t,
					(&wasm.TableEncoder{}).Table(wasm.TableType{ElemType: wasm.FuncRef.Ref, Limits: wasm.Limits{Min: 1}}),
					(&wasm.ElementEncoder{}).Active(nil, zeroConst, wasm.ElementItems{Funcs: []uint32{2}}))
			},
			msg: "element 0, entry 0 references invalid function index 2",
		},
		{
			name: "element table index",
			bin: func(t *testing.T) []byte {
				return build(t, (&wasm.ElementEncoder{}).Active(nil, zeroConst, wasm.ElementItems{}))
			},
			msg: "element 0 references invalid table index 0",
		},
		{
			name: "data memory index",
			bin: func(t *testing.T) []byte {
				return build(t, (&wasm.DataEncoder{}).Active(0, zeroConst, []byte{1}))
			},
			msg: "data segment 0 references invalid memory index 0",
		},
		{
			name: "data count mismatch",
			bin: func(t *testing.T) []byte {
				return build(t,
					(&wasm.MemoryEncoder{}).Memory(wasm.MemoryType{Limits: wasm.Limits{Min: 1}}),
					&wasm.DataCountEncoder{Count: 2},
					(&wasm.DataEncoder{}).Passive([]byte{1}))
			},
			msg: "data count section declares 2 segments, but data section has 1",
		},
		{
			name: "memory min pages",
			bin: func(t *testing.T) []byte {
				return build(t, (&wasm.MemoryEncoder{}).Memory(wasm.MemoryType{Limits: wasm.Limits{Min: 70000}}))
			},
			msg: "memory 0: min pages 70000 exceeds maximum 65536",
		},
		{
			name: "memory max below min",
			bin: func(t *testing.T) []byte {
				one := uint64(1)
				return build(t, (&wasm.MemoryEncoder{}).Memory(wasm.MemoryType{Limits: wasm.Limits{Min: 2, Max: &one}}))
			},
			msg: "memory 0: max pages 1 below min pages 2",
		},
		{
			name: "start signature",
			bin: func(t *testing.T) []byte {
				return build(t, i32Param, (&wasm.FunctionEncoder{}).Function(0),
					&wasm.StartEncoder{Func: 0}, codeOf(wEnd))
			},
			msg: "start function must have signature [] -> [], got [1 params] -> [0 results]",
		},
		{
			name: "call target",
			bin: func(t *testing.T) []byte {
				return build(t, voidType(), (&wasm.FunctionEncoder{}).Function(0),
					codeOf(instr(wasm.OpCall, wasm.CallImm{FuncIdx: 4}), wEnd))
			},
			msg: "function 0: call references invalid function index 4",
		},
		{
			name: "exceptions disabled",
			bin: func(t *testing.T) []byte {
				return build(t, voidType(), (&wasm.FunctionEncoder{}).Function(0),
					(&wasm.TagEncoder{}).Tag(wasm.TagType{TypeIdx: 0}),
					codeOf(instr(wasm.OpThrow, wasm.ThrowImm{TagIdx: 0}), wEnd))
			},
			msg: "exception handling instruction 0x08 with exceptions disabled",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			err := validate.Validate(context.Background(), tc.bin(t))
			require.ErrorIs(t, err, invalid)
			require.ErrorContains(t, err, tc.msg)
		})
	}
}

func TestModuleConstraints(t *testing.T) {
	tests := []struct {
		name string
		bin  func(t *testing.T) []byte
		want error
		msg  string
	}{
		{
			name: "function without body",
			bin: func(t *testing.T) []byte {
				return build(t, voidType(), (&wasm.FunctionEncoder{}).Function(0).Function(0), codeOf(wEnd))
			},
			want: wasm.ErrCodeCount,
			msg:  "code section has 1 entries but function section has 2",
		},
		{
			name: "export after code",
			bin: func(t *testing.T) []byte {
				return build(t, voidType(), (&wasm.FunctionEncoder{}).Function(0), codeOf(wEnd),
					(&wasm.ExportEncoder{}).Export("f", wasm.KindFunc, 0))
			},
			want: wasm.ErrSectionOrder,
			msg:  "section out of order: export",
		},
		{
			name: "duplicate type section",
			bin: func(t *testing.T) []byte {
				return build(t, voidType(), voidType())
			},
			want: wasm.ErrSectionOrder,
			msg:  "section out of order: type",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			err := validate.Validate(context.Background(), tc.bin(t))
			require.ErrorIs(t, err, invalid)
			require.ErrorIs(t, err, tc.want)
			require.ErrorContains(t, err, "structural check failed")
			require.ErrorContains(t, err, tc.msg)
		})
	}
}

func TestParseFailure(t *testing.T) {
	err := validate.Validate(context.Background(), []byte{0, 'a', 's', 'x'})
	require.ErrorIs(t, err, invalid)
	require.ErrorContains(t, err, "parse failed")
}

func TestWazeroRejection(t *testing.T) {
	bin := build(t, voidType(), (&wasm.FunctionEncoder{}).Function(0),
		codeOf(instr(wasm.OpI32Add, nil), wEnd))
	err := validate.Validate(context.Background(), bin)
	require.ErrorIs(t, err, invalid)
	require.ErrorContains(t, err, "wazero rejected module")
}

func TestSkippedCompilation(t *testing.T) {
	bin := build(t, voidType(), (&wasm.FunctionEncoder{}).Function(0),
		(&wasm.TagEncoder{}).Tag(wasm.TagType{TypeIdx: 0}),
		codeOf(
			instr(wasm.OpBlock, wasm.BlockImm{Type: wasm.BlockType{Kind: wasm.BlockEmpty}}),
			instr(wasm.OpTryTable, wasm.TryTableImm{
				Type:    wasm.BlockType{Kind: wasm.BlockEmpty},
				Catches: []wasm.CatchClause{{Kind: wasm.CatchKindCatchAll, LabelIdx: 0}},
			}),
			instr(wasm.OpThrow, wasm.ThrowImm{TagIdx: 0}),
			wEnd,
			wEnd,
			wEnd,
		))

	codec := ir.NewCodec(ir.WithFeatures(ir.FeaturesFull))
	out := reencode(t, codec, bin)
	require.Equal(t, bin, out)

	core, logs := observer.New(zap.DebugLevel)
	v := validate.New(validate.WithFeatures(ir.FeaturesFull), validate.WithLogger(zap.New(core)))
	require.NoError(t, v.Validate(context.Background(), out))

	skipped := logs.FilterMessage("wazero validation skipped").All()
	require.Len(t, skipped, 1)
	require.Equal(t, "exception tags", skipped[0].ContextMap()["reason"])
}

func TestCompiledWithLogger(t *testing.T) {
	bin := build(t, voidType(), (&wasm.FunctionEncoder{}).Function(0), codeOf(wEnd))

	core, logs := observer.New(zap.DebugLevel)
	v := validate.New(validate.WithLogger(zap.New(core)))
	require.NoError(t, v.Validate(context.Background(), bin))
	require.Equal(t, 1, logs.FilterMessage("module validated").Len())
	require.Zero(t, logs.FilterMessage("wazero validation skipped").Len())
}
