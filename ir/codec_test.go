package ir_test

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasm-ir/errors"
	"github.com/wippyai/wasm-ir/ir"
	"github.com/wippyai/wasm-ir/wasm"
)

type rawSection struct {
	body []byte
	id   byte
}

func (r rawSection) SectionID() byte         { return r.id }
func (r rawSection) Encode() ([]byte, error) { return r.body, nil }

var wEnd = wasm.Instruction{Opcode: wasm.OpEnd}

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

func oneFunc() *wasm.FunctionEncoder { return (&wasm.FunctionEncoder{}).Function(0) }

func codeOf(instrs ...wasm.Instruction) *wasm.CodeEncoder {
	body := wasm.NewFuncBody(nil)
	for _, in := range instrs {
		body.Instruction(in)
	}
	return (&wasm.CodeEncoder{}).Function(body)
}

func funcModule(t *testing.T, instrs ...wasm.Instruction) []byte {
	t.Helper()
	return build(t, voidType(), oneFunc(), codeOf(instrs...))
}

// rawBodyModule wraps undecodable instruction bytes in a one-function module.
func rawBodyModule(t *testing.T, code []byte) []byte {
	t.Helper()
	body := append([]byte{0x00}, code...)
	sec := append([]byte{0x01, byte(len(body))}, body...)
	return build(t, voidType(), oneFunc(), rawSection{id: wasm.SectionCode, body: sec})
}

func sectionIDs(t *testing.T, bin []byte) []byte {
	t.Helper()
	var ids []byte
	i := 8
	for i < len(bin) {
		ids = append(ids, bin[i])
		i++
		var size, shift int
		for {
			b := bin[i]
			i++
			size |= int(b&0x7F) << shift
			if b&0x80 == 0 {
				break
			}
			shift += 7
		}
		i += size
	}
	require.Equal(t, len(bin), i)
	return ids
}

func baseModule(sections ...ir.Section) *ir.Module {
	return &ir.Module{
		ProtocolVersion: ir.Uint32(ir.ProtocolVersion),
		Version:         &ir.Version{Number: ir.Uint32(1), Encoding: ir.EncodingModule},
		Sections: append([]ir.Section{
			&ir.TypeSection{Types: []ir.SubType{{Func: &ir.FuncType{}}}},
			&ir.FunctionSection{TypeIdxs: []uint32{0}},
		}, sections...),
	}
}

func TestConcreteScenario(t *testing.T) {
	bin := build(t,
		(&wasm.TypeEncoder{}).Func(nil, []wasm.ValType{wasm.I32}),
		(&wasm.ImportEncoder{}).Import("env", "g", wasm.TypeRef{Kind: wasm.KindFunc, FuncIdx: 0}),
		oneFunc(),
		(&wasm.ExportEncoder{}).Export("f", wasm.KindFunc, 1),
		codeOf(instr(wasm.OpI32Const, wasm.I32Imm{Value: 42}), wEnd),
	)

	m, err := ir.Decode(bin)
	require.NoError(t, err)
	require.Equal(t, ir.ProtocolVersion, *m.ProtocolVersion)
	require.Equal(t, uint32(1), *m.Version.Number)
	require.Equal(t, ir.EncodingModule, m.Version.Encoding)
	require.Len(t, m.Sections, 5)

	types, ok := m.Sections[0].(*ir.TypeSection)
	require.True(t, ok)
	require.Len(t, types.Types, 1)
	require.Empty(t, types.Types[0].Func.Params)
	require.Equal(t, []ir.ValueType{ir.I32}, types.Types[0].Func.Results)

	imports, ok := m.Sections[1].(*ir.ImportSection)
	require.True(t, ok)
	require.Equal(t, []ir.TypeRefFunc{{Module: ir.String("env"), Name: ir.String("g"), FunctionType: ir.Uint32(0)}}, imports.Imports)

	funcs, ok := m.Sections[2].(*ir.FunctionSection)
	require.True(t, ok)
	require.Equal(t, []uint32{0}, funcs.TypeIdxs)

	exports, ok := m.Sections[3].(*ir.ExportSection)
	require.True(t, ok)
	want := ir.Export{Name: ir.String("f"), Kind: ir.ExternalKindFunc, Index: ir.Uint32(1)}
	require.Equal(t, []ir.Export{want}, exports.Exports)

	code, ok := m.Sections[4].(*ir.CodeSectionEntry)
	require.True(t, ok)
	require.Empty(t, code.Locals)
	require.Equal(t, []ir.Operator{ir.Op(ir.OpI32Const, ir.I32Value(42)), ir.Op(ir.OpEnd, nil)}, code.Body)

	out, err := ir.Encode(m)
	require.NoError(t, err)
	require.Equal(t, bin, out)

	again, err := ir.Decode(out)
	require.NoError(t, err)
	require.Equal(t, []ir.Export{want}, again.Sections[3].(*ir.ExportSection).Exports)
}

func TestSectionOrderPreserved(t *testing.T) {
	table := (&wasm.TableEncoder{}).Table(wasm.TableType{ElemType: wasm.FuncRef.Ref, Limits: wasm.Limits{Min: 1}})
	body := wasm.NewFuncBody(nil).Instruction(instr(wasm.OpNop, nil)).Instruction(wEnd)
	bin := build(t,
		voidType(),
		(&wasm.FunctionEncoder{}).Function(0).Function(0),
		table,
		(&wasm.ExportEncoder{}).Export("a", wasm.KindFunc, 0),
		(&wasm.CodeEncoder{}).Function(body).Function(wasm.NewFuncBody(nil).Instruction(wEnd)),
	)

	m, err := ir.Decode(bin)
	require.NoError(t, err)
	var names []string
	for _, s := range m.Sections {
		names = append(names, s.Name())
	}
	require.Equal(t, []string{"type", "function", "table", "export", "code", "code"}, names)
	require.Len(t, m.Sections[4].(*ir.CodeSectionEntry).Body, 2)
	require.Len(t, m.Sections[5].(*ir.CodeSectionEntry).Body, 1)

	out, err := ir.Encode(m)
	require.NoError(t, err)
	require.Equal(t, bin, out)

	// Code entries ahead of the export collapse into one section before it.
	reordered := &ir.Module{
		ProtocolVersion: m.ProtocolVersion,
		Version:         m.Version,
		Sections:        []ir.Section{m.Sections[0], m.Sections[1], m.Sections[2], m.Sections[4], m.Sections[5], m.Sections[3]},
	}
	out, err = ir.Encode(reordered)
	require.NoError(t, err)
	require.Equal(t, []byte{wasm.SectionType, wasm.SectionFunction, wasm.SectionTable, wasm.SectionCode, wasm.SectionExport}, sectionIDs(t, out))

	// Out-of-order sections decode as written; ordering is a validation concern.
	back, err := ir.Decode(out)
	require.NoError(t, err)
	names = names[:0]
	for _, s := range back.Sections {
		names = append(names, s.Name())
	}
	require.Equal(t, []string{"type", "function", "table", "code", "code", "export"}, names)

	again, err := ir.Encode(back)
	require.NoError(t, err)
	require.Equal(t, out, again)
}

func TestDataCountEmitted(t *testing.T) {
	m := baseModule(
		&ir.MemorySection{MemoryTypes: []ir.MemoryType{{Memory64: ir.Bool(false), Shared: ir.Bool(false), Initial: ir.Uint64(1)}}},
		&ir.CodeSectionEntry{Body: []ir.Operator{ir.Op(ir.OpDataDrop, ir.DataIndex(0)), ir.Op(ir.OpEnd, nil)}},
		&ir.DataSection{Datas: []ir.Data{{Kind: &ir.DataKind{Type: ir.DataKindPassive}, Data: []byte("hi")}}},
	)

	out, err := ir.Encode(m)
	require.NoError(t, err)
	require.Equal(t, []byte{
		wasm.SectionType, wasm.SectionFunction, wasm.SectionMemory,
		wasm.SectionDataCount, wasm.SectionCode, wasm.SectionData,
	}, sectionIDs(t, out))

	back, err := ir.Decode(out)
	require.NoError(t, err)
	require.Len(t, back.Sections, 5)
	require.Equal(t, m.Sections[3].(*ir.CodeSectionEntry).Body, back.Sections[3].(*ir.CodeSectionEntry).Body)
	require.Equal(t, []byte("hi"), back.Sections[4].(*ir.DataSection).Datas[0].Data)

	// Without segment references no data count section is written.
	m.Sections[3] = &ir.CodeSectionEntry{Body: []ir.Operator{ir.Op(ir.OpEnd, nil)}}
	out, err = ir.Encode(m)
	require.NoError(t, err)
	require.NotContains(t, sectionIDs(t, out), wasm.SectionDataCount)
}

func TestDecodeRejections(t *testing.T) {
	one := uint64(1)
	tests := []struct {
		name string
		bin  func(t *testing.T) []byte
	}{
		{"shared table", func(t *testing.T) []byte {
			return build(t, (&wasm.TableEncoder{}).Table(wasm.TableType{
				ElemType: wasm.FuncRef.Ref,
				Limits:   wasm.Limits{Min: 1, Max: &one, Shared: true},
			}))
		}},
		{"shared memory", func(t *testing.T) []byte {
			return build(t, (&wasm.MemoryEncoder{}).Memory(wasm.MemoryType{Limits: wasm.Limits{Min: 1, Max: &one, Shared: true}}))
		}},
		{"externref table", func(t *testing.T) []byte {
			return build(t, (&wasm.TableEncoder{}).Table(wasm.TableType{ElemType: wasm.ExternRef.Ref, Limits: wasm.Limits{Min: 1}}))
		}},
		{"table initializer", func(t *testing.T) []byte {
			return build(t, (&wasm.TableEncoder{}).Table(wasm.TableType{
				ElemType: wasm.FuncRef.Ref,
				Limits:   wasm.Limits{Min: 1},
				Init:     []wasm.Instruction{instr(wasm.OpRefNull, wasm.RefNullImm{HeapType: wasm.HeapTypeFunc}), wEnd},
			}))
		}},
		{"start section", func(t *testing.T) []byte {
			return build(t, voidType(), oneFunc(), &wasm.StartEncoder{Func: 0}, codeOf(wEnd))
		}},
		{"multi-type rec group", func(t *testing.T) []byte {
			return build(t, rawSection{id: wasm.SectionType, body: []byte{0x01, 0x4E, 0x02, 0x60, 0x00, 0x00, 0x60, 0x00, 0x00}})
		}},
		{"non-final type", func(t *testing.T) []byte {
			return build(t, rawSection{id: wasm.SectionType, body: []byte{0x01, 0x50, 0x00, 0x60, 0x00, 0x00}})
		}},
		{"struct type", func(t *testing.T) []byte {
			return build(t, rawSection{id: wasm.SectionType, body: []byte{0x01, 0x5F, 0x00}})
		}},
		{"memory import", func(t *testing.T) []byte {
			return build(t, (&wasm.ImportEncoder{}).Import("env", "mem", wasm.TypeRef{
				Kind:   wasm.KindMemory,
				Memory: &wasm.MemoryType{Limits: wasm.Limits{Min: 1}},
			}))
		}},
		{"compact imports", func(t *testing.T) []byte {
			return build(t, voidType(), rawSection{id: wasm.SectionImport, body: []byte{0x01, 0x01, 'm', 0x00, 0x7F, 0x01, 0x01, 'f', 0x00, 0x00}})
		}},
		{"non-exception tag", func(t *testing.T) []byte {
			return build(t, voidType(), rawSection{id: wasm.SectionTag, body: []byte{0x01, 0x01, 0x00}})
		}},
		{"externref local", func(t *testing.T) []byte {
			body := wasm.NewFuncBody([]wasm.LocalEntry{{Count: 1, Type: wasm.ExternRef}}).Instruction(wEnd)
			return build(t, voidType(), oneFunc(), (&wasm.CodeEncoder{}).Function(body))
		}},
		{"ref.null extern", func(t *testing.T) []byte {
			return funcModule(t, instr(wasm.OpRefNull, wasm.RefNullImm{HeapType: wasm.HeapTypeExtern}), instr(wasm.OpDrop, nil), wEnd)
		}},
		{"component", func(t *testing.T) []byte {
			return []byte{0x00, 0x61, 0x73, 0x6D, 0x0D, 0x00, 0x01, 0x00}
		}},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			_, err := ir.Decode(tc.bin(t))
			require.Error(t, err)
			require.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseDecode, Kind: errors.KindUnsupported})
		})
	}
}

func TestDecodeUnsupportedOperators(t *testing.T) {
	tests := []struct {
		name string
		bin  func(t *testing.T) []byte
	}{
		{"simd", func(t *testing.T) []byte {
			return rawBodyModule(t, []byte{0xFD, 0x0F, 0x0B})
		}},
		{"unknown opcode", func(t *testing.T) []byte {
			return rawBodyModule(t, []byte{0x27, 0x0B})
		}},
		{"return_call", func(t *testing.T) []byte {
			return funcModule(t, instr(wasm.OpReturnCall, wasm.CallImm{FuncIdx: 0}), wEnd)
		}},
		{"table.get", func(t *testing.T) []byte {
			return funcModule(t, instr(wasm.OpI32Const, wasm.I32Imm{}), instr(wasm.OpTableGet, wasm.TableImm{}), wEnd)
		}},
		{"typed select", func(t *testing.T) []byte {
			return funcModule(t, instr(wasm.OpSelectType, wasm.SelectTypeImm{Types: []wasm.ValType{wasm.I32}}), wEnd)
		}},
		{"table.size", func(t *testing.T) []byte {
			return funcModule(t, instr(wasm.OpPrefixMisc, wasm.MiscImm{SubOpcode: wasm.MiscTableSize, Operands: []uint32{0}}), wEnd)
		}},
		{"throw without exceptions", func(t *testing.T) []byte {
			return funcModule(t, instr(wasm.OpThrow, wasm.ThrowImm{TagIdx: 0}), wEnd)
		}},
		{"non-constant global init", func(t *testing.T) []byte {
			return build(t, rawSection{id: wasm.SectionGlobal, body: []byte{0x01, 0x7F, 0x00, 0x01, 0x41, 0x00, 0x0B}})
		}},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			_, err := ir.Decode(tc.bin(t))
			require.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseDecode, Kind: errors.KindUnsupportedOperator})
		})
	}
}

func TestUnsupportedOperatorCarriesInstruction(t *testing.T) {
	_, err := ir.Decode(funcModule(t, instr(wasm.OpReturnCall, wasm.CallImm{FuncIdx: 7}), wEnd))
	var e *errors.Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, "code", e.Section)
	require.Equal(t, instr(wasm.OpReturnCall, wasm.CallImm{FuncIdx: 7}), e.Value)
}

func TestUnknownSection(t *testing.T) {
	_, err := ir.Decode(build(t, rawSection{id: 0x1F, body: []byte{0x00}}))
	require.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseDecode, Kind: errors.KindUnknownSection})
}

func TestIgnoredPayloads(t *testing.T) {
	bin := build(t,
		rawSection{id: wasm.SectionCustom, body: []byte{0x04, 'n', 'a', 'm', 'e'}},
		voidType(),
		oneFunc(),
		&wasm.DataCountEncoder{Count: 0},
		codeOf(wEnd),
	)
	m, err := ir.Decode(bin)
	require.NoError(t, err)
	require.Len(t, m.Sections, 3)
}

func TestExceptionFeatures(t *testing.T) {
	tags := (&wasm.TagEncoder{}).Tag(wasm.TagType{TypeIdx: 0})
	bin := build(t, voidType(), oneFunc(), tags, codeOf(
		instr(wasm.OpTry, wasm.BlockImm{Type: wasm.BlockType{Kind: wasm.BlockEmpty}}),
		instr(wasm.OpThrow, wasm.ThrowImm{TagIdx: 0}),
		instr(wasm.OpCatch, wasm.ThrowImm{TagIdx: 0}),
		instr(wasm.OpCatchAll, nil),
		wEnd,
		instr(wasm.OpBlock, wasm.BlockImm{Type: wasm.BlockType{Kind: wasm.BlockEmpty}}),
		instr(wasm.OpTryTable, wasm.TryTableImm{
			Type: wasm.BlockType{Kind: wasm.BlockEmpty},
			Catches: []wasm.CatchClause{
				{Kind: wasm.CatchKindCatch, TagIdx: 0, LabelIdx: 0},
				{Kind: wasm.CatchKindCatchAllRef, LabelIdx: 0},
			},
		}),
		wEnd,
		wEnd,
		wEnd,
	))

	_, err := ir.Decode(bin)
	require.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseDecode, Kind: errors.KindUnsupportedOperator})

	full := ir.NewCodec(ir.WithFeatures(ir.FeaturesFull))
	m, err := full.Decode(bin)
	require.NoError(t, err)
	body := m.Sections[3].(*ir.CodeSectionEntry).Body
	require.Equal(t, ir.Op(ir.OpThrow, ir.TagIndex(0)), body[1])
	require.Equal(t, ir.Op(ir.OpTryTable, ir.TryTable{
		Type: ir.EmptyBlock{},
		Catches: []ir.Catch{
			{Kind: ir.CatchOne, Tag: ir.Uint32(0), Label: ir.Uint32(0)},
			{Kind: ir.CatchAllRef, Label: ir.Uint32(0)},
		},
	}), body[6])

	out, err := full.Encode(m)
	require.NoError(t, err)
	require.Equal(t, bin, out)

	_, err = ir.Encode(m)
	require.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseEncode, Kind: errors.KindUnsupportedOperator})
}

func TestTagSectionWithoutExceptions(t *testing.T) {
	bin := build(t, voidType(), (&wasm.TagEncoder{}).Tag(wasm.TagType{TypeIdx: 0}))
	m, err := ir.Decode(bin)
	require.NoError(t, err)
	tags := m.Sections[1].(*ir.TagSection)
	require.Equal(t, []ir.TagType{{Kind: ir.TagKindException, FunctionTypeIdx: ir.Uint32(0)}}, tags.Tags)

	out, err := ir.Encode(m)
	require.NoError(t, err)
	require.Equal(t, bin, out)
}

func TestBranchTable(t *testing.T) {
	empty := wasm.BlockImm{Type: wasm.BlockType{Kind: wasm.BlockEmpty}}
	bin := funcModule(t,
		instr(wasm.OpBlock, empty),
		instr(wasm.OpBlock, empty),
		instr(wasm.OpI32Const, wasm.I32Imm{Value: 0}),
		instr(wasm.OpBrTable, wasm.BrTableImm{Labels: []uint32{0, 1, 0}, Default: 1}),
		wEnd,
		wEnd,
		wEnd,
	)
	m, err := ir.Decode(bin)
	require.NoError(t, err)

	code := m.Sections[2].(*ir.CodeSectionEntry)
	targets, ok := code.Body[3].Payload.(ir.BrTargets)
	require.True(t, ok)
	require.Equal(t, []uint32{0, 1, 0}, targets.Targets)
	require.Equal(t, uint32(1), *targets.Default)

	out, err := ir.Encode(m)
	require.NoError(t, err)
	require.Equal(t, bin, out)

	code.Body[3] = ir.Op(ir.OpBrTable, ir.BrTargets{Targets: []uint32{0}})
	_, err = ir.Encode(m)
	require.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseEncode, Kind: errors.KindFieldMissing})
	require.Contains(t, err.Error(), "br_table default target not found")
}

func TestConstExprTerminator(t *testing.T) {
	bin := build(t, (&wasm.GlobalEncoder{}).Global(wasm.GlobalType{Content: wasm.I32}, wasm.ConstExpr{
		instr(wasm.OpI32Const, wasm.I32Imm{Value: 7}),
	}))
	require.Equal(t, []byte{0x06, 0x06, 0x01, 0x7F, 0x00, 0x41, 0x07, 0x0B}, bin[8:])

	m, err := ir.Decode(bin)
	require.NoError(t, err)
	global := m.Sections[0].(*ir.GlobalSection).Globals[0]
	require.Equal(t, ir.Expr(ir.Op(ir.OpI32Const, ir.I32Value(7))), global.InitExpr)

	out, err := ir.Encode(m)
	require.NoError(t, err)
	require.Equal(t, bin, out)

	// An expression without its end encodes identically.
	global.InitExpr.Operators = global.InitExpr.Operators[:1]
	out, err = ir.Encode(m)
	require.NoError(t, err)
	require.Equal(t, bin, out)

	global.InitExpr.Operators = []ir.Operator{ir.Op(ir.OpI32Const, ir.I32Value(7)), ir.Op(ir.OpEnd, nil), ir.Op(ir.OpEnd, nil)}
	_, err = ir.Encode(m)
	require.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseEncode, Kind: errors.KindInvalidData})
}

func TestRoundTripAllSections(t *testing.T) {
	limit := uint64(4)
	table := uint32(0)
	funcref := wasm.ConstExpr{instr(wasm.OpRefFunc, wasm.RefFuncImm{FuncIdx: 1})}
	offset := wasm.ConstExpr{instr(wasm.OpI32Const, wasm.I32Imm{Value: 0})}

	body := wasm.NewFuncBody([]wasm.LocalEntry{{Count: 2, Type: wasm.I64}, {Count: 1, Type: wasm.FuncRef}}).
		Instruction(instr(wasm.OpLocalGet, wasm.LocalImm{LocalIdx: 0})).
		Instruction(instr(wasm.OpI32Load, wasm.MemoryImm{Align: 2, Offset: 8})).
		Instruction(instr(wasm.OpI32Extend8S, nil)).
		Instruction(instr(wasm.OpI32Const, wasm.I32Imm{Value: 0})).
		Instruction(instr(wasm.OpI32Const, wasm.I32Imm{Value: 0})).
		Instruction(instr(wasm.OpI32Const, wasm.I32Imm{Value: 1})).
		Instruction(instr(wasm.OpPrefixMisc, wasm.MiscImm{SubOpcode: wasm.MiscMemoryInit, Operands: []uint32{1, 0}})).
		Instruction(instr(wasm.OpF64Const, wasm.F64Imm{Bits: 0x7FF8000000000001})).
		Instruction(instr(wasm.OpPrefixMisc, wasm.MiscImm{SubOpcode: wasm.MiscI64TruncSatF64U})).
		Instruction(instr(wasm.OpDrop, nil)).
		Instruction(instr(wasm.OpRefFunc, wasm.RefFuncImm{FuncIdx: 0})).
		Instruction(instr(wasm.OpLocalSet, wasm.LocalImm{LocalIdx: 2})).
		Instruction(instr(wasm.OpI32Const, wasm.I32Imm{Value: 0})).
		Instruction(instr(wasm.OpCallIndirect, wasm.CallIndirectImm{TypeIdx: 0, TableIdx: 0})).
		Instruction(wEnd)

	bin := build(t,
		(&wasm.TypeEncoder{}).Func(nil, nil).Func([]wasm.ValType{wasm.I32}, []wasm.ValType{wasm.I32}),
		(&wasm.ImportEncoder{}).Import("env", "h", wasm.TypeRef{Kind: wasm.KindFunc, FuncIdx: 0}),
		(&wasm.FunctionEncoder{}).Function(1),
		(&wasm.TableEncoder{}).Table(wasm.TableType{ElemType: wasm.FuncRef.Ref, Limits: wasm.Limits{Min: 2, Max: &limit}}),
		(&wasm.MemoryEncoder{}).Memory(wasm.MemoryType{Limits: wasm.Limits{Min: 1, Max: &limit}}),
		(&wasm.TagEncoder{}).Tag(wasm.TagType{TypeIdx: 0}),
		(&wasm.GlobalEncoder{}).
			Global(wasm.GlobalType{Content: wasm.I64, Mutable: true}, wasm.ConstExpr{instr(wasm.OpI64Const, wasm.I64Imm{Value: -5})}).
			Global(wasm.GlobalType{Content: wasm.FuncRef}, wasm.ConstExpr{instr(wasm.OpRefNull, wasm.RefNullImm{HeapType: wasm.HeapTypeFunc})}),
		(&wasm.ExportEncoder{}).Export("run", wasm.KindFunc, 1).Export("mem", wasm.KindMemory, 0).Export("t", wasm.KindTag, 0),
		(&wasm.ElementEncoder{}).
			Active(nil, offset, wasm.ElementItems{Funcs: []uint32{0, 1}}).
			Active(&table, offset, wasm.ElementItems{UsesExprs: true, Type: wasm.FuncRef.Ref, Exprs: []wasm.ConstExpr{funcref}}).
			Passive(wasm.ElementItems{Funcs: []uint32{1}}).
			Declared(wasm.ElementItems{Funcs: []uint32{0}}),
		&wasm.DataCountEncoder{Count: 2},
		(&wasm.CodeEncoder{}).Function(body),
		(&wasm.DataEncoder{}).Active(0, offset, []byte{1, 2, 3}).Passive([]byte("passive")),
	)

	m, err := ir.Decode(bin)
	require.NoError(t, err)

	out, err := ir.Encode(m)
	require.NoError(t, err)
	require.Equal(t, bin, out)

	again, err := ir.Decode(out)
	require.NoError(t, err)
	require.Equal(t, m, again)

	elems := m.Sections[8].(*ir.ElementSection).Elements
	require.Nil(t, elems[0].Kind.TableIndex)
	require.Equal(t, uint32(0), *elems[1].Kind.TableIndex)
	require.Equal(t, ir.ElementKindDeclared, elems[3].Kind.Type)
	items := elems[1].Items.(*ir.ElementExpressions)
	require.Equal(t, ir.RefTypeFuncRef, items.ReferenceType)
	require.Equal(t, *ir.Expr(ir.Op(ir.OpRefFunc, ir.FunctionIndex(1))), items.Expressions[0])
}

func TestEncodeErrors(t *testing.T) {
	end := ir.Op(ir.OpEnd, nil)
	code := func(ops ...ir.Operator) *ir.CodeSectionEntry {
		return &ir.CodeSectionEntry{Body: ops}
	}
	tests := []struct {
		name   string
		module *ir.Module
		phase  errors.Phase
		kind   errors.Kind
		detail string
	}{
		{
			name:   "data memory index",
			module: baseModule(code(end), &ir.DataSection{Datas: []ir.Data{{Kind: &ir.DataKind{Type: ir.DataKindActive, Expression: ir.Expr(ir.Op(ir.OpI32Const, ir.I32Value(0)))}}}}),
			kind:   errors.KindFieldMissing,
			detail: "memory index not found",
		},
		{
			name:   "payload mismatch",
			module: baseModule(code(ir.Op(ir.OpI32Load, ir.RelativeDepth(0)), end)),
			kind:   errors.KindPayloadMismatch,
			detail: "expected MemArg payload, got RelativeDepth",
		},
		{
			name:   "missing payload",
			module: baseModule(code(ir.Op(ir.OpCall, nil), end)),
			kind:   errors.KindPayloadMismatch,
			detail: "expected FunctionIndex payload, got none",
		},
		{
			name:   "memarg offset",
			module: baseModule(code(ir.Op(ir.OpI32Load, ir.MemArg{Align: ir.Uint32(2), Memory: ir.Uint32(0)}), end)),
			kind:   errors.KindFieldMissing,
			detail: "offset not found",
		},
		{
			name:   "empty block sentinel",
			module: baseModule(code(ir.Op(ir.OpBlock, ir.Blockty{Type: ir.EmptyBlock{Sentinel: 3}}), end, end)),
			kind:   errors.KindInvalidVariant,
		},
		{
			name:   "missing block type",
			module: baseModule(code(ir.Op(ir.OpBlock, ir.Blockty{}), end, end)),
			kind:   errors.KindFieldMissing,
			detail: "block type not found",
		},
		{
			name:   "body without end",
			module: baseModule(code(ir.Op(ir.OpNop, nil))),
			kind:   errors.KindInvalidData,
		},
		{
			name:   "func exact export",
			module: baseModule(&ir.ExportSection{Exports: []ir.Export{{Name: ir.String("f"), Kind: ir.ExternalKindFuncExact, Index: ir.Uint32(0)}}}),
			kind:   errors.KindUnsupported,
		},
		{
			name:   "export index",
			module: baseModule(&ir.ExportSection{Exports: []ir.Export{{Name: ir.String("f")}}}),
			kind:   errors.KindFieldMissing,
			detail: "index not found",
		},
		{
			name:   "table shared flag",
			module: baseModule(&ir.TableSection{Types: []ir.TableType{{Table64: ir.Bool(false), Initial: ir.Uint64(1)}}}),
			kind:   errors.KindFieldMissing,
			detail: "shared not found",
		},
		{
			name:   "global init",
			module: baseModule(&ir.GlobalSection{Globals: []ir.Global{{Type: &ir.GlobalType{ContentType: ir.I32, Mutable: ir.Bool(false), Shared: ir.Bool(false)}}}}),
			kind:   errors.KindFieldMissing,
			detail: "init expr not found",
		},
		{
			name:   "element kind",
			module: baseModule(&ir.ElementSection{Elements: []ir.Element{{Items: &ir.ElementFunctions{}}}}),
			kind:   errors.KindFieldMissing,
			detail: "element kind not found",
		},
		{
			name:   "nil section",
			module: baseModule(nil),
			kind:   errors.KindNilPointer,
		},
		{
			name:   "typed nil section",
			module: baseModule((*ir.DataSection)(nil)),
			kind:   errors.KindNilPointer,
		},
		{
			name:   "missing version",
			module: &ir.Module{},
			kind:   errors.KindFieldMissing,
			detail: "version not found",
		},
		{
			name:   "component version",
			module: &ir.Module{Version: &ir.Version{Number: ir.Uint32(1), Encoding: ir.EncodingComponent}},
			kind:   errors.KindUnsupported,
		},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			_, err := ir.Encode(tc.module)
			require.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseEncode, Kind: tc.kind})
			if tc.detail != "" {
				require.Contains(t, err.Error(), tc.detail)
			}
		})
	}
}

func TestEncodeNilModule(t *testing.T) {
	_, err := ir.Encode(nil)
	require.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseEncode, Kind: errors.KindNilPointer})
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"bad magic", []byte{0x00, 0x61, 0x73, 0x6E, 0x01, 0x00, 0x00, 0x00}, wasm.ErrInvalidMagic},
		{"bad version", []byte{0x00, 0x61, 0x73, 0x6D, 0x02, 0x00, 0x00, 0x00}, wasm.ErrInvalidVersion},
		{"truncated header", []byte{0x00, 0x61, 0x73}, io.ErrUnexpectedEOF},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			_, err := ir.Decode(tc.data)
			require.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseParse, Kind: errors.KindInvalidData})
			require.ErrorIs(t, err, tc.want)
		})
	}
}
