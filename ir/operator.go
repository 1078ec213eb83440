package ir

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/wippyai/wasm-ir/errors"
	"github.com/wippyai/wasm-ir/wasm"
)

// Operator is one instruction. Payload must match OpCode.PayloadKind.
type Operator struct {
	Payload Payload
	OpCode  OpCode
}

// Op builds an Operator.
func Op(code OpCode, payload Payload) Operator {
	return Operator{OpCode: code, Payload: payload}
}

func unsupportedInstruction(instr wasm.Instruction) error {
	name := fmt.Sprintf("0x%02x", instr.Opcode)
	switch imm := instr.Imm.(type) {
	case wasm.PrefixImm:
		name = fmt.Sprintf("0x%02x 0x%02x", instr.Opcode, imm.SubOpcode)
	case wasm.MiscImm:
		name = fmt.Sprintf("0x%02x 0x%02x", instr.Opcode, imm.SubOpcode)
	}
	return errors.UnsupportedOperator(errors.PhaseDecode, name, instr)
}

// decodeOperator converts a binary instruction, rejecting anything outside
// features.
func decodeOperator(instr wasm.Instruction, features Features) (Operator, error) {
	code, ok := lookupOpCode(instr)
	if !ok {
		return Operator{}, unsupportedInstruction(instr)
	}
	info := &opcodes[code]
	if info.feature != 0 && !features.IsEnabled(info.feature) {
		e := errors.UnsupportedOperator(errors.PhaseDecode, info.name, instr)
		e.Cause = features.RequireEnabled(info.feature)
		return Operator{}, e
	}

	payload, err := decodePayload(info, instr)
	if err != nil {
		return Operator{}, err
	}
	if KindOf(payload) != info.payload {
		return Operator{}, errors.PayloadMismatch(errors.PhaseDecode, info.name, info.payload.String(), payloadName(payload))
	}
	return Operator{OpCode: code, Payload: payload}, nil
}

func decodePayload(info *opInfo, instr wasm.Instruction) (Payload, error) {
	switch imm := instr.Imm.(type) {
	case nil:
		return nil, nil
	case wasm.BlockImm:
		bt, err := decodeBlockType(imm.Type)
		if err != nil {
			return nil, withOperator(err, info.name)
		}
		return Blockty{Type: bt}, nil
	case wasm.BranchImm:
		return RelativeDepth(imm.LabelIdx), nil
	case wasm.BrTableImm:
		targets := append([]uint32(nil), imm.Labels...)
		return BrTargets{Targets: targets, Default: Uint32(imm.Default)}, nil
	case wasm.CallImm:
		return FunctionIndex(imm.FuncIdx), nil
	case wasm.RefFuncImm:
		return FunctionIndex(imm.FuncIdx), nil
	case wasm.CallIndirectImm:
		return CallIndirect{TypeIndex: Uint32(imm.TypeIdx), TableIndex: Uint32(imm.TableIdx)}, nil
	case wasm.LocalImm:
		return LocalIndex(imm.LocalIdx), nil
	case wasm.GlobalImm:
		return GlobalIndex(imm.GlobalIdx), nil
	case wasm.MemoryImm:
		return MemArg{
			Align:    Uint32(imm.Align),
			MaxAlign: Uint32(info.align),
			Offset:   Uint64(imm.Offset),
			Memory:   Uint32(imm.MemIdx),
		}, nil
	case wasm.MemoryIdxImm:
		return Mem(imm.MemIdx), nil
	case wasm.I32Imm:
		return I32Value(imm.Value), nil
	case wasm.I64Imm:
		return I64Value(imm.Value), nil
	case wasm.F32Imm:
		return F32Value(imm.Bits), nil
	case wasm.F64Imm:
		return F64Value(imm.Bits), nil
	case wasm.ThrowImm:
		return TagIndex(imm.TagIdx), nil
	case wasm.TryTableImm:
		return decodeTryTable(info, imm)
	case wasm.RefNullImm:
		if imm.HeapType != wasm.HeapTypeFunc || imm.Shared {
			return nil, errors.New(errors.PhaseDecode, errors.KindUnsupported).
				Operator(info.name).
				Detail("unsupported reference type %s", wasm.RefType{HeapType: imm.HeapType, Nullable: true, Shared: imm.Shared}).
				Value(instr).
				Build()
		}
		return HeapTypeFunc, nil
	case wasm.MiscImm:
		return decodeMiscPayload(info, imm)
	}
	return nil, unsupportedInstruction(instr)
}

func decodeMiscPayload(info *opInfo, imm wasm.MiscImm) (Payload, error) {
	operand := func(i int) *uint32 {
		return Uint32(imm.Operands[i])
	}
	want := map[PayloadKind]int{
		PayloadNone: 0, PayloadMemoryInit: 2, PayloadMemoryCopy: 2, PayloadTableInit: 2, PayloadTableCopy: 2,
		PayloadDataIndex: 1, PayloadElemIndex: 1, PayloadMem: 1,
	}[info.payload]
	if len(imm.Operands) != want {
		return nil, errors.InvalidData(errors.PhaseDecode, "", fmt.Sprintf("%s: expected %d immediates, got %d", info.name, want, len(imm.Operands)))
	}
	switch info.payload {
	case PayloadNone:
		return nil, nil
	case PayloadMemoryInit:
		return MemoryInit{DataIndex: operand(0), Mem: operand(1)}, nil
	case PayloadMemoryCopy:
		return MemoryCopy{DstMem: operand(0), SrcMem: operand(1)}, nil
	case PayloadTableInit:
		return TableInit{ElemIndex: operand(0), Table: operand(1)}, nil
	case PayloadTableCopy:
		return TableCopy{DstTable: operand(0), SrcTable: operand(1)}, nil
	case PayloadDataIndex:
		return DataIndex(imm.Operands[0]), nil
	case PayloadElemIndex:
		return ElemIndex(imm.Operands[0]), nil
	case PayloadMem:
		return Mem(imm.Operands[0]), nil
	}
	return nil, errors.PayloadMismatch(errors.PhaseDecode, info.name, info.payload.String(), "misc immediate")
}

func decodeTryTable(info *opInfo, imm wasm.TryTableImm) (Payload, error) {
	bt, err := decodeBlockType(imm.Type)
	if err != nil {
		return nil, withOperator(err, info.name)
	}
	catches := make([]Catch, 0, len(imm.Catches))
	for _, c := range imm.Catches {
		out := Catch{Label: Uint32(c.LabelIdx)}
		switch c.Kind {
		case wasm.CatchKindCatch:
			out.Kind, out.Tag = CatchOne, Uint32(c.TagIdx)
		case wasm.CatchKindCatchRef:
			out.Kind, out.Tag = CatchOneRef, Uint32(c.TagIdx)
		case wasm.CatchKindCatchAll:
			out.Kind = CatchAll
		case wasm.CatchKindCatchAllRef:
			out.Kind = CatchAllRef
		default:
			return nil, errors.InvalidDiscriminant(errors.PhaseDecode, "", "catch kind", c.Kind)
		}
		catches = append(catches, out)
	}
	return TryTable{Type: bt, Catches: catches}, nil
}

func withOperator(err error, name string) error {
	if e, ok := err.(*errors.Error); ok && e.Operator == "" {
		e.Operator = name
	}
	return err
}

// encodeOperator converts op to a binary instruction, validating that the
// payload matches the opcode.
func encodeOperator(op Operator, features Features) (wasm.Instruction, error) {
	if !op.OpCode.Valid() {
		return wasm.Instruction{}, errors.InvalidDiscriminant(errors.PhaseEncode, "", "opcode", uint16(op.OpCode))
	}
	info := &opcodes[op.OpCode]
	if info.feature != 0 && !features.IsEnabled(info.feature) {
		e := errors.UnsupportedOperator(errors.PhaseEncode, info.name, op)
		e.Cause = features.RequireEnabled(info.feature)
		return wasm.Instruction{}, e
	}

	mismatch := func() error {
		return errors.PayloadMismatch(errors.PhaseEncode, info.name, info.payload.String(), payloadName(op.Payload))
	}
	missingField := func(field string) error {
		e := errors.FieldMissing(errors.PhaseEncode, "", field)
		e.Operator = info.name
		return e
	}
	prefixedInstr := func(operands ...uint32) wasm.Instruction {
		return wasm.Instruction{Opcode: wasm.OpPrefixMisc, Imm: wasm.MiscImm{SubOpcode: info.misc, Operands: operands}}
	}
	instr := wasm.Instruction{Opcode: info.code}

	switch info.payload {
	case PayloadNone:
		if op.Payload != nil {
			return wasm.Instruction{}, mismatch()
		}
		if info.prefixed {
			return prefixedInstr(), nil
		}

	case PayloadRelativeDepth:
		p, ok := op.Payload.(RelativeDepth)
		if !ok {
			return wasm.Instruction{}, mismatch()
		}
		instr.Imm = wasm.BranchImm{LabelIdx: uint32(p)}

	case PayloadBlockty:
		p, ok := op.Payload.(Blockty)
		if !ok {
			return wasm.Instruction{}, mismatch()
		}
		bt, err := encodeBlockType(p.Type)
		if err != nil {
			return wasm.Instruction{}, withOperator(err, info.name)
		}
		instr.Imm = wasm.BlockImm{Type: bt}

	case PayloadBrTargets:
		p, ok := op.Payload.(BrTargets)
		if !ok {
			return wasm.Instruction{}, mismatch()
		}
		if p.Default == nil {
			return wasm.Instruction{}, missingField("br_table default target")
		}
		instr.Imm = wasm.BrTableImm{Labels: append([]uint32(nil), p.Targets...), Default: *p.Default}

	case PayloadFunctionIndex:
		p, ok := op.Payload.(FunctionIndex)
		if !ok {
			return wasm.Instruction{}, mismatch()
		}
		if op.OpCode == OpRefFunc {
			instr.Imm = wasm.RefFuncImm{FuncIdx: uint32(p)}
		} else {
			instr.Imm = wasm.CallImm{FuncIdx: uint32(p)}
		}

	case PayloadCallIndirect:
		p, ok := op.Payload.(CallIndirect)
		if !ok {
			return wasm.Instruction{}, mismatch()
		}
		if p.TypeIndex == nil {
			return wasm.Instruction{}, missingField("type index")
		}
		if p.TableIndex == nil {
			return wasm.Instruction{}, missingField("table index")
		}
		instr.Imm = wasm.CallIndirectImm{TypeIdx: *p.TypeIndex, TableIdx: *p.TableIndex}

	case PayloadLocalIndex:
		p, ok := op.Payload.(LocalIndex)
		if !ok {
			return wasm.Instruction{}, mismatch()
		}
		instr.Imm = wasm.LocalImm{LocalIdx: uint32(p)}

	case PayloadGlobalIndex:
		p, ok := op.Payload.(GlobalIndex)
		if !ok {
			return wasm.Instruction{}, mismatch()
		}
		instr.Imm = wasm.GlobalImm{GlobalIdx: uint32(p)}

	case PayloadMemArg:
		p, ok := op.Payload.(MemArg)
		if !ok {
			return wasm.Instruction{}, mismatch()
		}
		switch {
		case p.Align == nil:
			return wasm.Instruction{}, missingField("align")
		case p.Offset == nil:
			return wasm.Instruction{}, missingField("offset")
		case p.Memory == nil:
			return wasm.Instruction{}, missingField("memory")
		}
		instr.Imm = wasm.MemoryImm{Align: *p.Align, Offset: *p.Offset, MemIdx: *p.Memory}

	case PayloadMem:
		p, ok := op.Payload.(Mem)
		if !ok {
			return wasm.Instruction{}, mismatch()
		}
		if info.prefixed {
			return prefixedInstr(uint32(p)), nil
		}
		instr.Imm = wasm.MemoryIdxImm{MemIdx: uint32(p)}

	case PayloadI32Value:
		p, ok := op.Payload.(I32Value)
		if !ok {
			return wasm.Instruction{}, mismatch()
		}
		instr.Imm = wasm.I32Imm{Value: int32(p)}

	case PayloadI64Value:
		p, ok := op.Payload.(I64Value)
		if !ok {
			return wasm.Instruction{}, mismatch()
		}
		instr.Imm = wasm.I64Imm{Value: int64(p)}

	case PayloadF32Value:
		p, ok := op.Payload.(F32Value)
		if !ok {
			return wasm.Instruction{}, mismatch()
		}
		instr.Imm = wasm.F32Imm{Bits: uint32(p)}

	case PayloadF64Value:
		p, ok := op.Payload.(F64Value)
		if !ok {
			return wasm.Instruction{}, mismatch()
		}
		instr.Imm = wasm.F64Imm{Bits: uint64(p)}

	case PayloadMemoryInit:
		p, ok := op.Payload.(MemoryInit)
		if !ok {
			return wasm.Instruction{}, mismatch()
		}
		if p.DataIndex == nil {
			return wasm.Instruction{}, missingField("data index")
		}
		if p.Mem == nil {
			return wasm.Instruction{}, missingField("memory index")
		}
		return prefixedInstr(*p.DataIndex, *p.Mem), nil

	case PayloadDataIndex:
		p, ok := op.Payload.(DataIndex)
		if !ok {
			return wasm.Instruction{}, mismatch()
		}
		return prefixedInstr(uint32(p)), nil

	case PayloadMemoryCopy:
		p, ok := op.Payload.(MemoryCopy)
		if !ok {
			return wasm.Instruction{}, mismatch()
		}
		if p.DstMem == nil {
			return wasm.Instruction{}, missingField("destination memory")
		}
		if p.SrcMem == nil {
			return wasm.Instruction{}, missingField("source memory")
		}
		return prefixedInstr(*p.DstMem, *p.SrcMem), nil

	case PayloadTableInit:
		p, ok := op.Payload.(TableInit)
		if !ok {
			return wasm.Instruction{}, mismatch()
		}
		if p.ElemIndex == nil {
			return wasm.Instruction{}, missingField("element index")
		}
		if p.Table == nil {
			return wasm.Instruction{}, missingField("table index")
		}
		return prefixedInstr(*p.ElemIndex, *p.Table), nil

	case PayloadElemIndex:
		p, ok := op.Payload.(ElemIndex)
		if !ok {
			return wasm.Instruction{}, mismatch()
		}
		return prefixedInstr(uint32(p)), nil

	case PayloadTableCopy:
		p, ok := op.Payload.(TableCopy)
		if !ok {
			return wasm.Instruction{}, mismatch()
		}
		if p.DstTable == nil {
			return wasm.Instruction{}, missingField("destination table")
		}
		if p.SrcTable == nil {
			return wasm.Instruction{}, missingField("source table")
		}
		return prefixedInstr(*p.DstTable, *p.SrcTable), nil

	case PayloadTryTable:
		p, ok := op.Payload.(TryTable)
		if !ok {
			return wasm.Instruction{}, mismatch()
		}
		imm, err := encodeTryTable(info, p)
		if err != nil {
			return wasm.Instruction{}, err
		}
		instr.Imm = imm

	case PayloadTagIndex:
		p, ok := op.Payload.(TagIndex)
		if !ok {
			return wasm.Instruction{}, mismatch()
		}
		instr.Imm = wasm.ThrowImm{TagIdx: uint32(p)}

	case PayloadHeapType:
		p, ok := op.Payload.(HeapType)
		if !ok {
			return wasm.Instruction{}, mismatch()
		}
		if p != HeapTypeFunc {
			return wasm.Instruction{}, errors.InvalidDiscriminant(errors.PhaseEncode, "", "heap type", int32(p))
		}
		instr.Imm = wasm.RefNullImm{HeapType: wasm.HeapTypeFunc}

	default:
		return wasm.Instruction{}, mismatch()
	}
	return instr, nil
}

func encodeTryTable(info *opInfo, p TryTable) (wasm.TryTableImm, error) {
	bt, err := encodeBlockType(p.Type)
	if err != nil {
		return wasm.TryTableImm{}, withOperator(err, info.name)
	}
	catches := make([]wasm.CatchClause, 0, len(p.Catches))
	for i, c := range p.Catches {
		if c.Label == nil {
			e := errors.FieldMissing(errors.PhaseEncode, "", fmt.Sprintf("catch %d label", i))
			e.Operator = info.name
			return wasm.TryTableImm{}, e
		}
		clause := wasm.CatchClause{LabelIdx: *c.Label}
		switch c.Kind {
		case CatchOne, CatchOneRef:
			if c.Tag == nil {
				e := errors.FieldMissing(errors.PhaseEncode, "", fmt.Sprintf("catch %d tag", i))
				e.Operator = info.name
				return wasm.TryTableImm{}, e
			}
			clause.TagIdx = *c.Tag
			clause.Kind = wasm.CatchKindCatch
			if c.Kind == CatchOneRef {
				clause.Kind = wasm.CatchKindCatchRef
			}
		case CatchAll:
			clause.Kind = wasm.CatchKindCatchAll
		case CatchAllRef:
			clause.Kind = wasm.CatchKindCatchAllRef
		default:
			return wasm.TryTableImm{}, errors.InvalidDiscriminant(errors.PhaseEncode, "", "catch kind", int32(c.Kind))
		}
		catches = append(catches, clause)
	}
	return wasm.TryTableImm{Type: bt, Catches: catches}, nil
}

// String formats the operator in text-format style, e.g. "i32.load offset=8 align=2".
func (o Operator) String() string {
	var b strings.Builder
	b.WriteString(o.OpCode.String())

	arg := func(s string) {
		b.WriteByte(' ')
		b.WriteString(s)
	}
	opt := func(p *uint32) string {
		if p == nil {
			return "?"
		}
		return strconv.FormatUint(uint64(*p), 10)
	}

	if KindOf(o.Payload) != o.OpCode.PayloadKind() {
		arg("<" + payloadName(o.Payload) + ">")
		return b.String()
	}

	switch p := o.Payload.(type) {
	case nil:
	case RelativeDepth:
		arg(strconv.FormatUint(uint64(p), 10))
	case FunctionIndex:
		arg(strconv.FormatUint(uint64(p), 10))
	case LocalIndex:
		arg(strconv.FormatUint(uint64(p), 10))
	case GlobalIndex:
		arg(strconv.FormatUint(uint64(p), 10))
	case Mem:
		if p != 0 {
			arg(strconv.FormatUint(uint64(p), 10))
		}
	case DataIndex:
		arg(strconv.FormatUint(uint64(p), 10))
	case ElemIndex:
		arg(strconv.FormatUint(uint64(p), 10))
	case TagIndex:
		arg(strconv.FormatUint(uint64(p), 10))
	case I32Value:
		arg(strconv.FormatInt(int64(p), 10))
	case I64Value:
		arg(strconv.FormatInt(int64(p), 10))
	case F32Value:
		arg(strconv.FormatFloat(float64(math.Float32frombits(uint32(p))), 'g', -1, 32))
	case F64Value:
		arg(strconv.FormatFloat(math.Float64frombits(uint64(p)), 'g', -1, 64))
	case HeapType:
		arg("func")
	case Blockty:
		if s := blockTypeString(p.Type); s != "" {
			arg(s)
		}
	case BrTargets:
		for _, t := range p.Targets {
			arg(strconv.FormatUint(uint64(t), 10))
		}
		arg(opt(p.Default))
	case CallIndirect:
		arg(opt(p.TableIndex))
		arg("(type " + opt(p.TypeIndex) + ")")
	case MemArg:
		if p.Memory != nil && *p.Memory != 0 {
			arg(opt(p.Memory))
		}
		if p.Offset != nil && *p.Offset != 0 {
			arg("offset=" + strconv.FormatUint(*p.Offset, 10))
		}
		if p.Align != nil && (p.MaxAlign == nil || *p.Align != *p.MaxAlign) {
			arg("align=" + strconv.FormatUint(1<<*p.Align, 10))
		}
	case MemoryInit:
		arg(opt(p.Mem))
		arg(opt(p.DataIndex))
	case MemoryCopy:
		arg(opt(p.DstMem))
		arg(opt(p.SrcMem))
	case TableInit:
		arg(opt(p.Table))
		arg(opt(p.ElemIndex))
	case TableCopy:
		arg(opt(p.DstTable))
		arg(opt(p.SrcTable))
	case TryTable:
		if s := blockTypeString(p.Type); s != "" {
			arg(s)
		}
		for _, c := range p.Catches {
			s := "(" + c.Kind.String()
			if c.Kind == CatchOne || c.Kind == CatchOneRef {
				s += " " + opt(c.Tag)
			}
			arg(s + " " + opt(c.Label) + ")")
		}
	default:
		arg("<" + payloadName(o.Payload) + ">")
	}
	return b.String()
}

func blockTypeString(bt BlockType) string {
	switch b := bt.(type) {
	case ValueBlock:
		return "(result " + b.Type.String() + ")"
	case FuncBlock:
		return "(type " + strconv.FormatUint(uint64(b.TypeIndex), 10) + ")"
	}
	return ""
}
