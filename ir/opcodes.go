package ir

import (
	"fmt"

	"github.com/wippyai/wasm-ir/wasm"
)

// OpCode identifies an operator. The numbering is persisted by the
// interchange format: append new opcodes at the end, never reorder.
type OpCode uint16

const (
	OpUnreachable OpCode = iota
	OpNop
	OpBlock
	OpLoop
	OpIf
	OpElse
	OpEnd
	OpBr
	OpBrIf
	OpBrTable
	OpReturn
	OpCall
	OpCallIndirect
	OpDrop
	OpSelect
	OpLocalGet
	OpLocalSet
	OpLocalTee
	OpGlobalGet
	OpGlobalSet

	OpI32Load
	OpI64Load
	OpF32Load
	OpF64Load
	OpI32Load8S
	OpI32Load8U
	OpI32Load16S
	OpI32Load16U
	OpI64Load8S
	OpI64Load8U
	OpI64Load16S
	OpI64Load16U
	OpI64Load32S
	OpI64Load32U
	OpI32Store
	OpI64Store
	OpF32Store
	OpF64Store
	OpI32Store8
	OpI32Store16
	OpI64Store8
	OpI64Store16
	OpI64Store32
	OpMemorySize
	OpMemoryGrow

	OpI32Const
	OpI64Const
	OpF32Const
	OpF64Const

	OpI32Eqz
	OpI32Eq
	OpI32Ne
	OpI32LtS
	OpI32LtU
	OpI32GtS
	OpI32GtU
	OpI32LeS
	OpI32LeU
	OpI32GeS
	OpI32GeU
	OpI64Eqz
	OpI64Eq
	OpI64Ne
	OpI64LtS
	OpI64LtU
	OpI64GtS
	OpI64GtU
	OpI64LeS
	OpI64LeU
	OpI64GeS
	OpI64GeU
	OpF32Eq
	OpF32Ne
	OpF32Lt
	OpF32Gt
	OpF32Le
	OpF32Ge
	OpF64Eq
	OpF64Ne
	OpF64Lt
	OpF64Gt
	OpF64Le
	OpF64Ge

	OpI32Clz
	OpI32Ctz
	OpI32Popcnt
	OpI32Add
	OpI32Sub
	OpI32Mul
	OpI32DivS
	OpI32DivU
	OpI32RemS
	OpI32RemU
	OpI32And
	OpI32Or
	OpI32Xor
	OpI32Shl
	OpI32ShrS
	OpI32ShrU
	OpI32Rotl
	OpI32Rotr
	OpI64Clz
	OpI64Ctz
	OpI64Popcnt
	OpI64Add
	OpI64Sub
	OpI64Mul
	OpI64DivS
	OpI64DivU
	OpI64RemS
	OpI64RemU
	OpI64And
	OpI64Or
	OpI64Xor
	OpI64Shl
	OpI64ShrS
	OpI64ShrU
	OpI64Rotl
	OpI64Rotr
	OpF32Abs
	OpF32Neg
	OpF32Ceil
	OpF32Floor
	OpF32Trunc
	OpF32Nearest
	OpF32Sqrt
	OpF32Add
	OpF32Sub
	OpF32Mul
	OpF32Div
	OpF32Min
	OpF32Max
	OpF32Copysign
	OpF64Abs
	OpF64Neg
	OpF64Ceil
	OpF64Floor
	OpF64Trunc
	OpF64Nearest
	OpF64Sqrt
	OpF64Add
	OpF64Sub
	OpF64Mul
	OpF64Div
	OpF64Min
	OpF64Max
	OpF64Copysign

	OpI32WrapI64
	OpI32TruncF32S
	OpI32TruncF32U
	OpI32TruncF64S
	OpI32TruncF64U
	OpI64ExtendI32S
	OpI64ExtendI32U
	OpI64TruncF32S
	OpI64TruncF32U
	OpI64TruncF64S
	OpI64TruncF64U
	OpF32ConvertI32S
	OpF32ConvertI32U
	OpF32ConvertI64S
	OpF32ConvertI64U
	OpF32DemoteF64
	OpF64ConvertI32S
	OpF64ConvertI32U
	OpF64ConvertI64S
	OpF64ConvertI64U
	OpF64PromoteF32
	OpI32ReinterpretF32
	OpI64ReinterpretF64
	OpF32ReinterpretI32
	OpF64ReinterpretI64

	OpI32Extend8S
	OpI32Extend16S
	OpI64Extend8S
	OpI64Extend16S
	OpI64Extend32S

	OpI32TruncSatF32S
	OpI32TruncSatF32U
	OpI32TruncSatF64S
	OpI32TruncSatF64U
	OpI64TruncSatF32S
	OpI64TruncSatF32U
	OpI64TruncSatF64S
	OpI64TruncSatF64U

	OpMemoryInit
	OpDataDrop
	OpMemoryCopy
	OpMemoryFill
	OpTableInit
	OpElemDrop
	OpTableCopy

	OpTryTable
	OpThrow
	OpThrowRef
	OpTry
	OpCatch
	OpCatchAll
	OpRethrow
	OpDelegate

	OpRefNull
	OpRefFunc

	opCodeCount
)

// opInfo describes how an OpCode is encoded. Misc opcodes use the 0xFC
// prefix with sub-opcode misc.
type opInfo struct {
	name     string
	code     byte
	misc     uint32
	payload  PayloadKind
	feature  Features
	align    uint32
	prefixed bool
}

func plain(name string, code byte) opInfo {
	return opInfo{name: name, code: code}
}

func withPayload(name string, code byte, p PayloadKind) opInfo {
	return opInfo{name: name, code: code, payload: p}
}

func memory(name string, code byte, align uint32) opInfo {
	return opInfo{name: name, code: code, payload: PayloadMemArg, align: align}
}

func gated(name string, code byte, p PayloadKind, f Features) opInfo {
	return opInfo{name: name, code: code, payload: p, feature: f}
}

func misc(name string, sub uint32, p PayloadKind, f Features) opInfo {
	return opInfo{name: name, code: wasm.OpPrefixMisc, misc: sub, payload: p, feature: f, prefixed: true}
}

var opcodes = [opCodeCount]opInfo{
	OpUnreachable:  plain("unreachable", wasm.OpUnreachable),
	OpNop:          plain("nop", wasm.OpNop),
	OpBlock:        withPayload("block", wasm.OpBlock, PayloadBlockty),
	OpLoop:         withPayload("loop", wasm.OpLoop, PayloadBlockty),
	OpIf:           withPayload("if", wasm.OpIf, PayloadBlockty),
	OpElse:         plain("else", wasm.OpElse),
	OpEnd:          plain("end", wasm.OpEnd),
	OpBr:           withPayload("br", wasm.OpBr, PayloadRelativeDepth),
	OpBrIf:         withPayload("br_if", wasm.OpBrIf, PayloadRelativeDepth),
	OpBrTable:      withPayload("br_table", wasm.OpBrTable, PayloadBrTargets),
	OpReturn:       plain("return", wasm.OpReturn),
	OpCall:         withPayload("call", wasm.OpCall, PayloadFunctionIndex),
	OpCallIndirect: withPayload("call_indirect", wasm.OpCallIndirect, PayloadCallIndirect),
	OpDrop:         plain("drop", wasm.OpDrop),
	OpSelect:       plain("select", wasm.OpSelect),
	OpLocalGet:     withPayload("local.get", wasm.OpLocalGet, PayloadLocalIndex),
	OpLocalSet:     withPayload("local.set", wasm.OpLocalSet, PayloadLocalIndex),
	OpLocalTee:     withPayload("local.tee", wasm.OpLocalTee, PayloadLocalIndex),
	OpGlobalGet:    withPayload("global.get", wasm.OpGlobalGet, PayloadGlobalIndex),
	OpGlobalSet:    withPayload("global.set", wasm.OpGlobalSet, PayloadGlobalIndex),

	OpI32Load:    memory("i32.load", wasm.OpI32Load, 2),
	OpI64Load:    memory("i64.load", wasm.OpI64Load, 3),
	OpF32Load:    memory("f32.load", wasm.OpF32Load, 2),
	OpF64Load:    memory("f64.load", wasm.OpF64Load, 3),
	OpI32Load8S:  memory("i32.load8_s", wasm.OpI32Load8S, 0),
	OpI32Load8U:  memory("i32.load8_u", wasm.OpI32Load8U, 0),
	OpI32Load16S: memory("i32.load16_s", wasm.OpI32Load16S, 1),
	OpI32Load16U: memory("i32.load16_u", wasm.OpI32Load16U, 1),
	OpI64Load8S:  memory("i64.load8_s", wasm.OpI64Load8S, 0),
	OpI64Load8U:  memory("i64.load8_u", wasm.OpI64Load8U, 0),
	OpI64Load16S: memory("i64.load16_s", wasm.OpI64Load16S, 1),
	OpI64Load16U: memory("i64.load16_u", wasm.OpI64Load16U, 1),
	OpI64Load32S: memory("i64.load32_s", wasm.OpI64Load32S, 2),
	OpI64Load32U: memory("i64.load32_u", wasm.OpI64Load32U, 2),
	OpI32Store:   memory("i32.store", wasm.OpI32Store, 2),
	OpI64Store:   memory("i64.store", wasm.OpI64Store, 3),
	OpF32Store:   memory("f32.store", wasm.OpF32Store, 2),
	OpF64Store:   memory("f64.store", wasm.OpF64Store, 3),
	OpI32Store8:  memory("i32.store8", wasm.OpI32Store8, 0),
	OpI32Store16: memory("i32.store16", wasm.OpI32Store16, 1),
	OpI64Store8:  memory("i64.store8", wasm.OpI64Store8, 0),
	OpI64Store16: memory("i64.store16", wasm.OpI64Store16, 1),
	OpI64Store32: memory("i64.store32", wasm.OpI64Store32, 2),
	OpMemorySize: withPayload("memory.size", wasm.OpMemorySize, PayloadMem),
	OpMemoryGrow: withPayload("memory.grow", wasm.OpMemoryGrow, PayloadMem),

	OpI32Const: withPayload("i32.const", wasm.OpI32Const, PayloadI32Value),
	OpI64Const: withPayload("i64.const", wasm.OpI64Const, PayloadI64Value),
	OpF32Const: withPayload("f32.const", wasm.OpF32Const, PayloadF32Value),
	OpF64Const: withPayload("f64.const", wasm.OpF64Const, PayloadF64Value),

	OpI32Eqz: plain("i32.eqz", wasm.OpI32Eqz),
	OpI32Eq:  plain("i32.eq", wasm.OpI32Eq),
	OpI32Ne:  plain("i32.ne", wasm.OpI32Ne),
	OpI32LtS: plain("i32.lt_s", wasm.OpI32LtS),
	OpI32LtU: plain("i32.lt_u", wasm.OpI32LtU),
	OpI32GtS: plain("i32.gt_s", wasm.OpI32GtS),
	OpI32GtU: plain("i32.gt_u", wasm.OpI32GtU),
	OpI32LeS: plain("i32.le_s", wasm.OpI32LeS),
	OpI32LeU: plain("i32.le_u", wasm.OpI32LeU),
	OpI32GeS: plain("i32.ge_s", wasm.OpI32GeS),
	OpI32GeU: plain("i32.ge_u", wasm.OpI32GeU),
	OpI64Eqz: plain("i64.eqz", wasm.OpI64Eqz),
	OpI64Eq:  plain("i64.eq", wasm.OpI64Eq),
	OpI64Ne:  plain("i64.ne", wasm.OpI64Ne),
	OpI64LtS: plain("i64.lt_s", wasm.OpI64LtS),
	OpI64LtU: plain("i64.lt_u", wasm.OpI64LtU),
	OpI64GtS: plain("i64.gt_s", wasm.OpI64GtS),
	OpI64GtU: plain("i64.gt_u", wasm.OpI64GtU),
	OpI64LeS: plain("i64.le_s", wasm.OpI64LeS),
	OpI64LeU: plain("i64.le_u", wasm.OpI64LeU),
	OpI64GeS: plain("i64.ge_s", wasm.OpI64GeS),
	OpI64GeU: plain("i64.ge_u", wasm.OpI64GeU),
	OpF32Eq:  plain("f32.eq", wasm.OpF32Eq),
	OpF32Ne:  plain("f32.ne", wasm.OpF32Ne),
	OpF32Lt:  plain("f32.lt", wasm.OpF32Lt),
	OpF32Gt:  plain("f32.gt", wasm.OpF32Gt),
	OpF32Le:  plain("f32.le", wasm.OpF32Le),
	OpF32Ge:  plain("f32.ge", wasm.OpF32Ge),
	OpF64Eq:  plain("f64.eq", wasm.OpF64Eq),
	OpF64Ne:  plain("f64.ne", wasm.OpF64Ne),
	OpF64Lt:  plain("f64.lt", wasm.OpF64Lt),
	OpF64Gt:  plain("f64.gt", wasm.OpF64Gt),
	OpF64Le:  plain("f64.le", wasm.OpF64Le),
	OpF64Ge:  plain("f64.ge", wasm.OpF64Ge),

	OpI32Clz:      plain("i32.clz", wasm.OpI32Clz),
	OpI32Ctz:      plain("i32.ctz", wasm.OpI32Ctz),
	OpI32Popcnt:   plain("i32.popcnt", wasm.OpI32Popcnt),
	OpI32Add:      plain("i32.add", wasm.OpI32Add),
	OpI32Sub:      plain("i32.sub", wasm.OpI32Sub),
	OpI32Mul:      plain("i32.mul", wasm.OpI32Mul),
	OpI32DivS:     plain("i32.div_s", wasm.OpI32DivS),
	OpI32DivU:     plain("i32.div_u", wasm.OpI32DivU),
	OpI32RemS:     plain("i32.rem_s", wasm.OpI32RemS),
	OpI32RemU:     plain("i32.rem_u", wasm.OpI32RemU),
	OpI32And:      plain("i32.and", wasm.OpI32And),
	OpI32Or:       plain("i32.or", wasm.OpI32Or),
	OpI32Xor:      plain("i32.xor", wasm.OpI32Xor),
	OpI32Shl:      plain("i32.shl", wasm.OpI32Shl),
	OpI32ShrS:     plain("i32.shr_s", wasm.OpI32ShrS),
	OpI32ShrU:     plain("i32.shr_u", wasm.OpI32ShrU),
	OpI32Rotl:     plain("i32.rotl", wasm.OpI32Rotl),
	OpI32Rotr:     plain("i32.rotr", wasm.OpI32Rotr),
	OpI64Clz:      plain("i64.clz", wasm.OpI64Clz),
	OpI64Ctz:      plain("i64.ctz", wasm.OpI64Ctz),
	OpI64Popcnt:   plain("i64.popcnt", wasm.OpI64Popcnt),
	OpI64Add:      plain("i64.add", wasm.OpI64Add),
	OpI64Sub:      plain("i64.sub", wasm.OpI64Sub),
	OpI64Mul:      plain("i64.mul", wasm.OpI64Mul),
	OpI64DivS:     plain("i64.div_s", wasm.OpI64DivS),
	OpI64DivU:     plain("i64.div_u", wasm.OpI64DivU),
	OpI64RemS:     plain("i64.rem_s", wasm.OpI64RemS),
	OpI64RemU:     plain("i64.rem_u", wasm.OpI64RemU),
	OpI64And:      plain("i64.and", wasm.OpI64And),
	OpI64Or:       plain("i64.or", wasm.OpI64Or),
	OpI64Xor:      plain("i64.xor", wasm.OpI64Xor),
	OpI64Shl:      plain("i64.shl", wasm.OpI64Shl),
	OpI64ShrS:     plain("i64.shr_s", wasm.OpI64ShrS),
	OpI64ShrU:     plain("i64.shr_u", wasm.OpI64ShrU),
	OpI64Rotl:     plain("i64.rotl", wasm.OpI64Rotl),
	OpI64Rotr:     plain("i64.rotr", wasm.OpI64Rotr),
	OpF32Abs:      plain("f32.abs", wasm.OpF32Abs),
	OpF32Neg:      plain("f32.neg", wasm.OpF32Neg),
	OpF32Ceil:     plain("f32.ceil", wasm.OpF32Ceil),
	OpF32Floor:    plain("f32.floor", wasm.OpF32Floor),
	OpF32Trunc:    plain("f32.trunc", wasm.OpF32Trunc),
	OpF32Nearest:  plain("f32.nearest", wasm.OpF32Nearest),
	OpF32Sqrt:     plain("f32.sqrt", wasm.OpF32Sqrt),
	OpF32Add:      plain("f32.add", wasm.OpF32Add),
	OpF32Sub:      plain("f32.sub", wasm.OpF32Sub),
	OpF32Mul:      plain("f32.mul", wasm.OpF32Mul),
	OpF32Div:      plain("f32.div", wasm.OpF32Div),
	OpF32Min:      plain("f32.min", wasm.OpF32Min),
	OpF32Max:      plain("f32.max", wasm.OpF32Max),
	OpF32Copysign: plain("f32.copysign", wasm.OpF32Copysign),
	OpF64Abs:      plain("f64.abs", wasm.OpF64Abs),
	OpF64Neg:      plain("f64.neg", wasm.OpF64Neg),
	OpF64Ceil:     plain("f64.ceil", wasm.OpF64Ceil),
	OpF64Floor:    plain("f64.floor", wasm.OpF64Floor),
	OpF64Trunc:    plain("f64.trunc", wasm.OpF64Trunc),
	OpF64Nearest:  plain("f64.nearest", wasm.OpF64Nearest),
	OpF64Sqrt:     plain("f64.sqrt", wasm.OpF64Sqrt),
	OpF64Add:      plain("f64.add", wasm.OpF64Add),
	OpF64Sub:      plain("f64.sub", wasm.OpF64Sub),
	OpF64Mul:      plain("f64.mul", wasm.OpF64Mul),
	OpF64Div:      plain("f64.div", wasm.OpF64Div),
	OpF64Min:      plain("f64.min", wasm.OpF64Min),
	OpF64Max:      plain("f64.max", wasm.OpF64Max),
	OpF64Copysign: plain("f64.copysign", wasm.OpF64Copysign),

	OpI32WrapI64:        plain("i32.wrap_i64", wasm.OpI32WrapI64),
	OpI32TruncF32S:      plain("i32.trunc_f32_s", wasm.OpI32TruncF32S),
	OpI32TruncF32U:      plain("i32.trunc_f32_u", wasm.OpI32TruncF32U),
	OpI32TruncF64S:      plain("i32.trunc_f64_s", wasm.OpI32TruncF64S),
	OpI32TruncF64U:      plain("i32.trunc_f64_u", wasm.OpI32TruncF64U),
	OpI64ExtendI32S:     plain("i64.extend_i32_s", wasm.OpI64ExtendI32S),
	OpI64ExtendI32U:     plain("i64.extend_i32_u", wasm.OpI64ExtendI32U),
	OpI64TruncF32S:      plain("i64.trunc_f32_s", wasm.OpI64TruncF32S),
	OpI64TruncF32U:      plain("i64.trunc_f32_u", wasm.OpI64TruncF32U),
	OpI64TruncF64S:      plain("i64.trunc_f64_s", wasm.OpI64TruncF64S),
	OpI64TruncF64U:      plain("i64.trunc_f64_u", wasm.OpI64TruncF64U),
	OpF32ConvertI32S:    plain("f32.convert_i32_s", wasm.OpF32ConvertI32S),
	OpF32ConvertI32U:    plain("f32.convert_i32_u", wasm.OpF32ConvertI32U),
	OpF32ConvertI64S:    plain("f32.convert_i64_s", wasm.OpF32ConvertI64S),
	OpF32ConvertI64U:    plain("f32.convert_i64_u", wasm.OpF32ConvertI64U),
	OpF32DemoteF64:      plain("f32.demote_f64", wasm.OpF32DemoteF64),
	OpF64ConvertI32S:    plain("f64.convert_i32_s", wasm.OpF64ConvertI32S),
	OpF64ConvertI32U:    plain("f64.convert_i32_u", wasm.OpF64ConvertI32U),
	OpF64ConvertI64S:    plain("f64.convert_i64_s", wasm.OpF64ConvertI64S),
	OpF64ConvertI64U:    plain("f64.convert_i64_u", wasm.OpF64ConvertI64U),
	OpF64PromoteF32:     plain("f64.promote_f32", wasm.OpF64PromoteF32),
	OpI32ReinterpretF32: plain("i32.reinterpret_f32", wasm.OpI32ReinterpretF32),
	OpI64ReinterpretF64: plain("i64.reinterpret_f64", wasm.OpI64ReinterpretF64),
	OpF32ReinterpretI32: plain("f32.reinterpret_i32", wasm.OpF32ReinterpretI32),
	OpF64ReinterpretI64: plain("f64.reinterpret_i64", wasm.OpF64ReinterpretI64),

	OpI32Extend8S:  gated("i32.extend8_s", wasm.OpI32Extend8S, PayloadNone, FeatureSignExtensionOps),
	OpI32Extend16S: gated("i32.extend16_s", wasm.OpI32Extend16S, PayloadNone, FeatureSignExtensionOps),
	OpI64Extend8S:  gated("i64.extend8_s", wasm.OpI64Extend8S, PayloadNone, FeatureSignExtensionOps),
	OpI64Extend16S: gated("i64.extend16_s", wasm.OpI64Extend16S, PayloadNone, FeatureSignExtensionOps),
	OpI64Extend32S: gated("i64.extend32_s", wasm.OpI64Extend32S, PayloadNone, FeatureSignExtensionOps),

	OpI32TruncSatF32S: misc("i32.trunc_sat_f32_s", wasm.MiscI32TruncSatF32S, PayloadNone, FeatureNonTrappingFloatToInt),
	OpI32TruncSatF32U: misc("i32.trunc_sat_f32_u", wasm.MiscI32TruncSatF32U, PayloadNone, FeatureNonTrappingFloatToInt),
	OpI32TruncSatF64S: misc("i32.trunc_sat_f64_s", wasm.MiscI32TruncSatF64S, PayloadNone, FeatureNonTrappingFloatToInt),
	OpI32TruncSatF64U: misc("i32.trunc_sat_f64_u", wasm.MiscI32TruncSatF64U, PayloadNone, FeatureNonTrappingFloatToInt),
	OpI64TruncSatF32S: misc("i64.trunc_sat_f32_s", wasm.MiscI64TruncSatF32S, PayloadNone, FeatureNonTrappingFloatToInt),
	OpI64TruncSatF32U: misc("i64.trunc_sat_f32_u", wasm.MiscI64TruncSatF32U, PayloadNone, FeatureNonTrappingFloatToInt),
	OpI64TruncSatF64S: misc("i64.trunc_sat_f64_s", wasm.MiscI64TruncSatF64S, PayloadNone, FeatureNonTrappingFloatToInt),
	OpI64TruncSatF64U: misc("i64.trunc_sat_f64_u", wasm.MiscI64TruncSatF64U, PayloadNone, FeatureNonTrappingFloatToInt),

	OpMemoryInit: misc("memory.init", wasm.MiscMemoryInit, PayloadMemoryInit, FeatureBulkMemoryOperations),
	OpDataDrop:   misc("data.drop", wasm.MiscDataDrop, PayloadDataIndex, FeatureBulkMemoryOperations),
	OpMemoryCopy: misc("memory.copy", wasm.MiscMemoryCopy, PayloadMemoryCopy, FeatureBulkMemoryOperations),
	OpMemoryFill: misc("memory.fill", wasm.MiscMemoryFill, PayloadMem, FeatureBulkMemoryOperations),
	OpTableInit:  misc("table.init", wasm.MiscTableInit, PayloadTableInit, FeatureBulkMemoryOperations),
	OpElemDrop:   misc("elem.drop", wasm.MiscElemDrop, PayloadElemIndex, FeatureBulkMemoryOperations),
	OpTableCopy:  misc("table.copy", wasm.MiscTableCopy, PayloadTableCopy, FeatureBulkMemoryOperations),

	OpTryTable: gated("try_table", wasm.OpTryTable, PayloadTryTable, FeatureExceptions),
	OpThrow:    gated("throw", wasm.OpThrow, PayloadTagIndex, FeatureExceptions),
	OpThrowRef: gated("throw_ref", wasm.OpThrowRef, PayloadNone, FeatureExceptions),
	OpTry:      gated("try", wasm.OpTry, PayloadBlockty, FeatureLegacyExceptions),
	OpCatch:    gated("catch", wasm.OpCatch, PayloadTagIndex, FeatureLegacyExceptions),
	OpCatchAll: gated("catch_all", wasm.OpCatchAll, PayloadNone, FeatureLegacyExceptions),
	OpRethrow:  gated("rethrow", wasm.OpRethrow, PayloadRelativeDepth, FeatureLegacyExceptions),
	OpDelegate: gated("delegate", wasm.OpDelegate, PayloadRelativeDepth, FeatureLegacyExceptions),

	OpRefNull: gated("ref.null", wasm.OpRefNull, PayloadHeapType, FeatureReferenceTypes),
	OpRefFunc: gated("ref.func", wasm.OpRefFunc, PayloadFunctionIndex, FeatureReferenceTypes),
}

var (
	byteOps [256]OpCode
	hasByte [256]bool
	miscOps = map[uint32]OpCode{}
)

func init() {
	for op := OpCode(0); op < opCodeCount; op++ {
		info := &opcodes[op]
		if info.name == "" {
			panic(fmt.Sprintf("ir: opcode %d has no table entry", op))
		}
		if info.prefixed {
			miscOps[info.misc] = op
			continue
		}
		byteOps[info.code] = op
		hasByte[info.code] = true
	}
}

// Valid reports whether op is a known opcode.
func (op OpCode) Valid() bool {
	return op < opCodeCount
}

func (op OpCode) String() string {
	if !op.Valid() {
		return fmt.Sprintf("opcode(%d)", uint16(op))
	}
	return opcodes[op].name
}

// PayloadKind returns the immediate shape op requires.
func (op OpCode) PayloadKind() PayloadKind {
	if !op.Valid() {
		return PayloadNone
	}
	return opcodes[op].payload
}

// Feature returns the feature gating op, zero for core instructions.
func (op OpCode) Feature() Features {
	if !op.Valid() {
		return 0
	}
	return opcodes[op].feature
}

// OpCodes returns every known opcode in numeric order.
func OpCodes() []OpCode {
	out := make([]OpCode, 0, opCodeCount)
	for op := OpCode(0); op < opCodeCount; op++ {
		out = append(out, op)
	}
	return out
}

// lookupOpCode maps a binary instruction to its OpCode.
func lookupOpCode(instr wasm.Instruction) (OpCode, bool) {
	if instr.Opcode == wasm.OpPrefixMisc {
		imm, ok := instr.Imm.(wasm.MiscImm)
		if !ok {
			return 0, false
		}
		op, ok := miscOps[imm.SubOpcode]
		return op, ok
	}
	if !hasByte[instr.Opcode] {
		return 0, false
	}
	return byteOps[instr.Opcode], true
}
