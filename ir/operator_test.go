package ir

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasm-ir/errors"
	"github.com/wippyai/wasm-ir/wasm"
)

func samplePayload(op OpCode) Payload {
	switch op.PayloadKind() {
	case PayloadRelativeDepth:
		return RelativeDepth(3)
	case PayloadBlockty:
		return Blockty{Type: ValueBlock{Type: I64}}
	case PayloadBrTargets:
		return BrTargets{Targets: []uint32{0, 2}, Default: Uint32(1)}
	case PayloadFunctionIndex:
		return FunctionIndex(5)
	case PayloadCallIndirect:
		return CallIndirect{TypeIndex: Uint32(1), TableIndex: Uint32(0)}
	case PayloadLocalIndex:
		return LocalIndex(2)
	case PayloadGlobalIndex:
		return GlobalIndex(1)
	case PayloadMemArg:
		align := opcodes[op].align
		return MemArg{Align: Uint32(align), MaxAlign: Uint32(align), Offset: Uint64(16), Memory: Uint32(0)}
	case PayloadMem:
		return Mem(0)
	case PayloadI32Value:
		return I32Value(-7)
	case PayloadI64Value:
		return I64Value(1 << 40)
	case PayloadF32Value:
		return F32Value(0x7FC00001)
	case PayloadF64Value:
		return F64Value(math.Float64bits(math.Copysign(0, -1)))
	case PayloadMemoryInit:
		return MemoryInit{DataIndex: Uint32(2), Mem: Uint32(0)}
	case PayloadDataIndex:
		return DataIndex(1)
	case PayloadMemoryCopy:
		return MemoryCopy{DstMem: Uint32(0), SrcMem: Uint32(0)}
	case PayloadTableInit:
		return TableInit{ElemIndex: Uint32(1), Table: Uint32(0)}
	case PayloadElemIndex:
		return ElemIndex(4)
	case PayloadTableCopy:
		return TableCopy{DstTable: Uint32(0), SrcTable: Uint32(1)}
	case PayloadTryTable:
		return TryTable{Type: FuncBlock{TypeIndex: 2}, Catches: []Catch{
			{Kind: CatchOneRef, Tag: Uint32(0), Label: Uint32(1)},
			{Kind: CatchAll, Label: Uint32(0)},
		}}
	case PayloadTagIndex:
		return TagIndex(0)
	case PayloadHeapType:
		return HeapTypeFunc
	}
	return nil
}

func TestOpCodeTableComplete(t *testing.T) {
	names := map[string]OpCode{}
	for _, op := range OpCodes() {
		name := op.String()
		require.NotEmpty(t, name)
		prev, dup := names[name]
		require.False(t, dup, "%s used by %d and %d", name, prev, op)
		names[name] = op
	}
	require.Len(t, OpCodes(), int(opCodeCount))
	require.False(t, opCodeCount.Valid())
	require.Equal(t, "opcode(65535)", OpCode(math.MaxUint16).String())
}

func TestOperatorRoundTrip(t *testing.T) {
	for _, op := range OpCodes() {
		op := op
		t.Run(op.String(), func(t *testing.T) {
			want := Op(op, samplePayload(op))

			instr, err := encodeOperator(want, FeaturesFull)
			require.NoError(t, err)

			got, ok := lookupOpCode(instr)
			require.True(t, ok)
			require.Equal(t, op, got)

			bin, err := wasm.EncodeInstructions([]wasm.Instruction{instr})
			require.NoError(t, err)
			instrs, err := wasm.DecodeInstructions(bin)
			require.NoError(t, err)
			require.Len(t, instrs, 1)

			back, err := decodeOperator(instrs[0], FeaturesFull)
			require.NoError(t, err)
			require.Equal(t, want, back)
		})
	}
}

func TestFeatureGating(t *testing.T) {
	for _, op := range OpCodes() {
		feature := op.Feature()
		if feature == 0 {
			continue
		}
		without := FeaturesFull.SetEnabled(feature, false)
		o := Op(op, samplePayload(op))

		_, err := encodeOperator(o, without)
		require.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseEncode, Kind: errors.KindUnsupportedOperator}, op.String())

		instr, err := encodeOperator(o, FeaturesFull)
		require.NoError(t, err)
		_, err = decodeOperator(instr, without)
		require.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseDecode, Kind: errors.KindUnsupportedOperator}, op.String())
		require.Contains(t, err.Error(), "is disabled")
	}
}

func TestExceptionOpsOutsideMinimal(t *testing.T) {
	for _, op := range []OpCode{OpTryTable, OpThrow, OpThrowRef, OpTry, OpCatch, OpCatchAll, OpRethrow, OpDelegate} {
		require.False(t, FeaturesMinimal.IsEnabled(op.Feature()), op.String())
		require.True(t, FeaturesFull.IsEnabled(op.Feature()), op.String())
	}
	for _, op := range []OpCode{OpI32Extend8S, OpI32TruncSatF32S, OpMemoryFill, OpRefNull} {
		require.True(t, FeaturesMinimal.IsEnabled(op.Feature()), op.String())
	}
}

func TestEncodeOperatorErrors(t *testing.T) {
	tests := []struct {
		name   string
		op     Operator
		kind   errors.Kind
		detail string
	}{
		{"invalid opcode", Op(opCodeCount, nil), errors.KindInvalidVariant, ""},
		{"payload on plain op", Op(OpNop, I32Value(1)), errors.KindPayloadMismatch, "expected none payload, got I32Value"},
		{"wrong payload", Op(OpI32Load, RelativeDepth(0)), errors.KindPayloadMismatch, "expected MemArg payload, got RelativeDepth"},
		{"memory.init memory", Op(OpMemoryInit, MemoryInit{DataIndex: Uint32(0)}), errors.KindFieldMissing, "memory index not found"},
		{"call_indirect table", Op(OpCallIndirect, CallIndirect{TypeIndex: Uint32(0)}), errors.KindFieldMissing, "table index not found"},
		{"table.copy source", Op(OpTableCopy, TableCopy{DstTable: Uint32(0)}), errors.KindFieldMissing, "source table not found"},
		{"catch label", Op(OpTryTable, TryTable{Type: EmptyBlock{}, Catches: []Catch{{Kind: CatchAll}}}), errors.KindFieldMissing, "catch 0 label not found"},
		{"catch tag", Op(OpTryTable, TryTable{Type: EmptyBlock{}, Catches: []Catch{{Kind: CatchOne, Label: Uint32(0)}}}), errors.KindFieldMissing, "catch 0 tag not found"},
		{"heap type", Op(OpRefNull, HeapType(-17)), errors.KindInvalidVariant, ""},
		{"block sentinel", Op(OpLoop, Blockty{Type: EmptyBlock{Sentinel: -1}}), errors.KindInvalidVariant, ""},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			_, err := encodeOperator(tc.op, FeaturesFull)
			require.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseEncode, Kind: tc.kind})
			if tc.detail != "" {
				require.Contains(t, err.Error(), tc.detail)
			}
		})
	}
}

func TestDecodeOperatorErrors(t *testing.T) {
	tests := []struct {
		name  string
		instr wasm.Instruction
		kind  errors.Kind
	}{
		{"return_call", wasm.Instruction{Opcode: wasm.OpReturnCall, Imm: wasm.CallImm{}}, errors.KindUnsupportedOperator},
		{"simd", wasm.Instruction{Opcode: wasm.OpPrefixSIMD, Imm: wasm.PrefixImm{SubOpcode: 12}}, errors.KindUnsupportedOperator},
		{"table.grow", wasm.Instruction{Opcode: wasm.OpPrefixMisc, Imm: wasm.MiscImm{SubOpcode: wasm.MiscTableGrow, Operands: []uint32{0}}}, errors.KindUnsupportedOperator},
		{"memory.init operands", wasm.Instruction{Opcode: wasm.OpPrefixMisc, Imm: wasm.MiscImm{SubOpcode: wasm.MiscMemoryInit, Operands: []uint32{1}}}, errors.KindInvalidData},
		{"ref.null extern", wasm.Instruction{Opcode: wasm.OpRefNull, Imm: wasm.RefNullImm{HeapType: wasm.HeapTypeExtern}}, errors.KindUnsupported},
		{"externref block", wasm.Instruction{Opcode: wasm.OpBlock, Imm: wasm.BlockImm{Type: wasm.BlockType{Kind: wasm.BlockValue, Value: wasm.ExternRef}}}, errors.KindUnsupported},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			_, err := decodeOperator(tc.instr, FeaturesFull)
			require.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseDecode, Kind: tc.kind})
		})
	}
}

func TestUnsupportedOperatorName(t *testing.T) {
	_, err := decodeOperator(wasm.Instruction{Opcode: wasm.OpPrefixSIMD, Imm: wasm.PrefixImm{SubOpcode: 0x11}}, FeaturesFull)
	var e *errors.Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, "0xfd 0x11", e.Operator)
}

func TestOperatorString(t *testing.T) {
	tests := []struct {
		op   Operator
		want string
	}{
		{Op(OpNop, nil), "nop"},
		{Op(OpI32Const, I32Value(-1)), "i32.const -1"},
		{Op(OpF64Const, F64Value(math.Float64bits(1.5))), "f64.const 1.5"},
		{Op(OpI32Load, MemArg{Align: Uint32(2), MaxAlign: Uint32(2), Offset: Uint64(8), Memory: Uint32(0)}), "i32.load offset=8"},
		{Op(OpI64Store, MemArg{Align: Uint32(0), MaxAlign: Uint32(3), Offset: Uint64(0), Memory: Uint32(1)}), "i64.store 1 align=1"},
		{Op(OpBrTable, BrTargets{Targets: []uint32{0, 1}, Default: Uint32(2)}), "br_table 0 1 2"},
		{Op(OpBlock, Blockty{Type: ValueBlock{Type: I32}}), "block (result i32)"},
		{Op(OpLoop, Blockty{Type: EmptyBlock{}}), "loop"},
		{Op(OpIf, Blockty{Type: FuncBlock{TypeIndex: 4}}), "if (type 4)"},
		{Op(OpCallIndirect, CallIndirect{TypeIndex: Uint32(3), TableIndex: Uint32(0)}), "call_indirect 0 (type 3)"},
		{Op(OpRefNull, HeapTypeFunc), "ref.null func"},
		{Op(OpMemorySize, Mem(0)), "memory.size"},
		{Op(OpMemoryInit, MemoryInit{DataIndex: Uint32(1), Mem: Uint32(0)}), "memory.init 0 1"},
		{Op(OpTryTable, TryTable{Type: EmptyBlock{}, Catches: []Catch{{Kind: CatchOne, Tag: Uint32(0), Label: Uint32(1)}, {Kind: CatchAllRef, Label: Uint32(0)}}}), "try_table (catch 0 1) (catch_all_ref 0)"},
		{Op(OpCall, I32Value(1)), "call <I32Value>"},
		{Op(OpCall, nil), "call <none>"},
		{Op(OpNop, LocalIndex(0)), "nop <LocalIndex>"},
		{Op(OpLocalGet, GlobalIndex(2)), "local.get <GlobalIndex>"},
		{Op(OpI64Const, I32Value(7)), "i64.const <I32Value>"},
	}
	for _, tc := range tests {
		require.Equal(t, tc.want, tc.op.String())
	}
}

func TestConstExpressions(t *testing.T) {
	_, err := encodeExpression(&Expression{Operators: []Operator{Op(OpLocalGet, LocalIndex(0)), Op(OpEnd, nil)}}, FeaturesMinimal)
	require.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseEncode, Kind: errors.KindUnsupportedOperator})

	expr, err := encodeExpression(Expr(Op(OpGlobalGet, GlobalIndex(0)), Op(OpI32Const, I32Value(4)), Op(OpI32Add, nil)), FeaturesMinimal)
	require.NoError(t, err)
	require.Len(t, expr, 3)

	expr, err = encodeExpression(&Expression{}, FeaturesMinimal)
	require.NoError(t, err)
	require.Empty(t, expr)

	decoded, err := decodeExpression([]wasm.Instruction{
		{Opcode: wasm.OpRefFunc, Imm: wasm.RefFuncImm{FuncIdx: 3}},
		{Opcode: wasm.OpEnd},
	}, FeaturesMinimal)
	require.NoError(t, err)
	require.Equal(t, Expr(Op(OpRefFunc, FunctionIndex(3))), decoded)
}
