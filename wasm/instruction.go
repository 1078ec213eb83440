package wasm

import (
	"errors"
	"fmt"

	"github.com/wippyai/wasm-ir/wasm/internal/binary"
)

// Instruction represents a decoded WebAssembly instruction
type Instruction struct {
	Imm    any
	Opcode byte
}

// BlockImm holds the block type for block, loop, if, and try instructions.
type BlockImm struct {
	Type BlockType
}

// BranchImm holds the label index for br, br_if, rethrow, delegate and br_on_null.
type BranchImm struct {
	LabelIdx uint32
}

// BrTableImm holds the label table for br_table instruction.
type BrTableImm struct {
	Labels  []uint32
	Default uint32
}

// CallImm holds the function index for call and return_call.
type CallImm struct {
	FuncIdx uint32
}

// CallIndirectImm holds type and table indices for call_indirect instruction.
type CallIndirectImm struct {
	TypeIdx  uint32
	TableIdx uint32
}

// CallRefImm holds type index for call_ref and return_call_ref
type CallRefImm struct {
	TypeIdx uint32
}

// LocalImm holds the local index for local.get, local.set, local.tee.
type LocalImm struct {
	LocalIdx uint32
}

// GlobalImm holds the global index for global.get and global.set.
type GlobalImm struct {
	GlobalIdx uint32
}

// TableImm holds table index for table.get/table.set
type TableImm struct {
	TableIdx uint32
}

// MemoryImm holds memory access parameters for load and store instructions.
// Align is the log2 alignment without the multi-memory flag bit.
type MemoryImm struct {
	Offset uint64
	Align  uint32
	MemIdx uint32
}

// MemoryIdxImm holds memory index for memory.size, memory.grow
type MemoryIdxImm struct {
	MemIdx uint32
}

// I32Imm holds the constant value for i32.const instruction.
type I32Imm struct {
	Value int32
}

// I64Imm holds the constant value for i64.const instruction.
type I64Imm struct {
	Value int64
}

// F32Imm holds the raw IEEE-754 bits of an f32.const.
type F32Imm struct {
	Bits uint32
}

// F64Imm holds the raw IEEE-754 bits of an f64.const.
type F64Imm struct {
	Bits uint64
}

// MiscImm holds the sub-opcode and immediates for 0xFC prefix instructions
type MiscImm struct {
	Operands  []uint32
	SubOpcode uint32
}

// RefNullImm holds the heap type for ref.null
type RefNullImm struct {
	HeapType int64
	Shared   bool
}

// RefFuncImm holds the function index for ref.func
type RefFuncImm struct {
	FuncIdx uint32
}

// SelectTypeImm holds value types for typed select
type SelectTypeImm struct {
	Types []ValType
}

// ThrowImm holds tag index for throw and catch
type ThrowImm struct {
	TagIdx uint32
}

// CatchClause represents a single catch clause in try_table
type CatchClause struct {
	Kind     byte   // 0=catch, 1=catch_ref, 2=catch_all, 3=catch_all_ref
	TagIdx   uint32 // Only for Kind 0, 1
	LabelIdx uint32
}

// TryTableImm holds immediates for try_table instruction
type TryTableImm struct {
	Catches []CatchClause
	Type    BlockType
}

// PrefixImm holds the sub-opcode of a GC, SIMD or atomic instruction.
// The immediates that follow it are not decoded.
type PrefixImm struct {
	SubOpcode uint32
}

// ErrUnknownOpcode is returned for bytes that are not an instruction.
var ErrUnknownOpcode = errors.New("unknown opcode")

// ErrImmediateMismatch is returned when encoding an instruction whose Imm
// does not fit its opcode.
var ErrImmediateMismatch = errors.New("immediate does not match opcode")

// UnsupportedInstructionError reports an instruction whose immediates are
// not decoded by this package. Reading cannot continue past it.
type UnsupportedInstructionError struct {
	Instruction Instruction
	Position    int
}

func (e *UnsupportedInstructionError) Error() string {
	imm, _ := e.Instruction.Imm.(PrefixImm)
	return fmt.Sprintf("wasm: unsupported instruction 0x%02x 0x%02x at position %d",
		e.Instruction.Opcode, imm.SubOpcode, e.Position)
}

// IsOpaque reports whether the instruction's immediates were left undecoded.
func (i Instruction) IsOpaque() bool {
	_, ok := i.Imm.(PrefixImm)
	return ok
}

// InstructionReader decodes instructions one at a time.
type InstructionReader struct {
	r      *binary.Reader
	opaque *Instruction
}

// NewInstructionReader creates a reader over raw instruction bytes.
func NewInstructionReader(code []byte) *InstructionReader {
	return newInstructionReaderAt(code, 0)
}

func newInstructionReaderAt(code []byte, offset int) *InstructionReader {
	return &InstructionReader{r: binary.NewReaderAt(code, offset)}
}

// EOF reports whether all bytes have been consumed.
func (ir *InstructionReader) EOF() bool {
	return ir.r.EOF()
}

// Position returns the absolute position of the next instruction.
func (ir *InstructionReader) Position() int {
	return ir.r.Position()
}

// Next decodes the next instruction. After an opaque instruction has been
// returned every further call fails with *UnsupportedInstructionError.
func (ir *InstructionReader) Next() (Instruction, error) {
	if ir.opaque != nil {
		return Instruction{}, &UnsupportedInstructionError{Instruction: *ir.opaque, Position: ir.r.Position()}
	}
	instr, err := readInstruction(ir.r)
	if err != nil {
		return Instruction{}, err
	}
	if instr.IsOpaque() {
		ir.opaque = &instr
	}
	return instr, nil
}

// DecodeInstructions decodes a sequence of instructions from raw bytes.
func DecodeInstructions(code []byte) ([]Instruction, error) {
	ir := NewInstructionReader(code)
	// Pre-allocate based on estimation: roughly 2 bytes per instruction on average
	instrs := make([]Instruction, 0, len(code)/2)
	for !ir.EOF() {
		pos := ir.Position()
		instr, err := ir.Next()
		if err != nil {
			return nil, err
		}
		if instr.IsOpaque() {
			return nil, &UnsupportedInstructionError{Instruction: instr, Position: pos}
		}
		instrs = append(instrs, instr)
	}
	return instrs, nil
}

// readConstExpr reads instructions up to and including the first end.
func readConstExpr(r *binary.Reader) ([]Instruction, error) {
	var instrs []Instruction
	for {
		pos := r.Position()
		instr, err := readInstruction(r)
		if err != nil {
			return nil, err
		}
		if instr.IsOpaque() {
			return nil, &UnsupportedInstructionError{Instruction: instr, Position: pos}
		}
		instrs = append(instrs, instr)
		if instr.Opcode == OpEnd {
			return instrs, nil
		}
	}
}

func readInstruction(r *binary.Reader) (Instruction, error) {
	pos := r.Position()
	op, err := r.ReadByte()
	if err != nil {
		return Instruction{}, r.WrapError("instruction", binary.ErrUnexpectedEOF)
	}

	instr := Instruction{Opcode: op}

	switch op {
	case OpBlock, OpLoop, OpIf, OpTry:
		bt, err := readBlockType(r)
		if err != nil {
			return Instruction{}, err
		}
		instr.Imm = BlockImm{Type: bt}

	case OpCatch, OpThrow:
		tagIdx, err := r.ReadU32()
		if err != nil {
			return Instruction{}, err
		}
		instr.Imm = ThrowImm{TagIdx: tagIdx}

	case OpRethrow, OpDelegate, OpBr, OpBrIf, OpBrOnNull, OpBrOnNonNull:
		labelIdx, err := r.ReadU32()
		if err != nil {
			return Instruction{}, err
		}
		instr.Imm = BranchImm{LabelIdx: labelIdx}

	case OpTryTable:
		bt, err := readBlockType(r)
		if err != nil {
			return Instruction{}, err
		}
		catchCount, err := r.ReadU32()
		if err != nil {
			return Instruction{}, err
		}
		catches := make([]CatchClause, 0, min(catchCount, 64))
		for i := uint32(0); i < catchCount; i++ {
			kind, err := r.ReadByte()
			if err != nil {
				return Instruction{}, err
			}
			if kind > CatchKindCatchAllRef {
				return Instruction{}, r.WrapError("try_table", fmt.Errorf("invalid catch kind 0x%02x", kind))
			}
			var tagIdx uint32
			if kind == CatchKindCatch || kind == CatchKindCatchRef {
				tagIdx, err = r.ReadU32()
				if err != nil {
					return Instruction{}, err
				}
			}
			labelIdx, err := r.ReadU32()
			if err != nil {
				return Instruction{}, err
			}
			catches = append(catches, CatchClause{Kind: kind, TagIdx: tagIdx, LabelIdx: labelIdx})
		}
		instr.Imm = TryTableImm{Type: bt, Catches: catches}

	case OpBrTable:
		count, err := r.ReadU32()
		if err != nil {
			return Instruction{}, err
		}
		labels := make([]uint32, 0, min(count, 1024))
		for i := uint32(0); i < count; i++ {
			l, err := r.ReadU32()
			if err != nil {
				return Instruction{}, err
			}
			labels = append(labels, l)
		}
		def, err := r.ReadU32()
		if err != nil {
			return Instruction{}, err
		}
		instr.Imm = BrTableImm{Labels: labels, Default: def}

	case OpCall, OpReturnCall:
		idx, err := r.ReadU32()
		if err != nil {
			return Instruction{}, err
		}
		instr.Imm = CallImm{FuncIdx: idx}

	case OpCallIndirect, OpReturnCallIndirect:
		typeIdx, err := r.ReadU32()
		if err != nil {
			return Instruction{}, err
		}
		tableIdx, err := r.ReadU32()
		if err != nil {
			return Instruction{}, err
		}
		instr.Imm = CallIndirectImm{TypeIdx: typeIdx, TableIdx: tableIdx}

	case OpCallRef, OpReturnCallRef:
		typeIdx, err := r.ReadU32()
		if err != nil {
			return Instruction{}, err
		}
		instr.Imm = CallRefImm{TypeIdx: typeIdx}

	case OpLocalGet, OpLocalSet, OpLocalTee:
		idx, err := r.ReadU32()
		if err != nil {
			return Instruction{}, err
		}
		instr.Imm = LocalImm{LocalIdx: idx}

	case OpGlobalGet, OpGlobalSet:
		idx, err := r.ReadU32()
		if err != nil {
			return Instruction{}, err
		}
		instr.Imm = GlobalImm{GlobalIdx: idx}

	case OpTableGet, OpTableSet:
		idx, err := r.ReadU32()
		if err != nil {
			return Instruction{}, err
		}
		instr.Imm = TableImm{TableIdx: idx}

	case OpI32Load, OpI64Load, OpF32Load, OpF64Load,
		OpI32Load8S, OpI32Load8U, OpI32Load16S, OpI32Load16U,
		OpI64Load8S, OpI64Load8U, OpI64Load16S, OpI64Load16U, OpI64Load32S, OpI64Load32U,
		OpI32Store, OpI64Store, OpF32Store, OpF64Store,
		OpI32Store8, OpI32Store16, OpI64Store8, OpI64Store16, OpI64Store32:
		memImm, err := readMemArg(r)
		if err != nil {
			return Instruction{}, err
		}
		instr.Imm = memImm

	case OpMemorySize, OpMemoryGrow:
		memIdx, err := r.ReadU32()
		if err != nil {
			return Instruction{}, err
		}
		instr.Imm = MemoryIdxImm{MemIdx: memIdx}

	case OpI32Const:
		val, err := r.ReadS32()
		if err != nil {
			return Instruction{}, err
		}
		instr.Imm = I32Imm{Value: val}

	case OpI64Const:
		val, err := r.ReadS64()
		if err != nil {
			return Instruction{}, err
		}
		instr.Imm = I64Imm{Value: val}

	case OpF32Const:
		bits, err := r.ReadU32LE()
		if err != nil {
			return Instruction{}, err
		}
		instr.Imm = F32Imm{Bits: bits}

	case OpF64Const:
		bits, err := r.ReadU64LE()
		if err != nil {
			return Instruction{}, err
		}
		instr.Imm = F64Imm{Bits: bits}

	case OpRefNull:
		heapType, shared, err := readHeapType(r)
		if err != nil {
			return Instruction{}, err
		}
		instr.Imm = RefNullImm{HeapType: heapType, Shared: shared}

	case OpRefFunc:
		funcIdx, err := r.ReadU32()
		if err != nil {
			return Instruction{}, err
		}
		instr.Imm = RefFuncImm{FuncIdx: funcIdx}

	case OpSelectType:
		count, err := r.ReadU32()
		if err != nil {
			return Instruction{}, err
		}
		types := make([]ValType, 0, min(count, 16))
		for i := uint32(0); i < count; i++ {
			t, err := readValType(r)
			if err != nil {
				return Instruction{}, err
			}
			types = append(types, t)
		}
		instr.Imm = SelectTypeImm{Types: types}

	case OpPrefixMisc:
		imm, err := readMiscImmediate(r)
		if err != nil {
			return Instruction{}, err
		}
		instr.Imm = imm

	case OpPrefixGC, OpPrefixSIMD, OpPrefixAtomic:
		subOp, err := r.ReadU32()
		if err != nil {
			return Instruction{}, err
		}
		instr.Imm = PrefixImm{SubOpcode: subOp}

	default:
		if !hasNoImmediate(op) {
			return Instruction{}, &binary.ParseError{
				Section:  "instruction",
				Position: pos,
				Err:      fmt.Errorf("%w 0x%02x", ErrUnknownOpcode, op),
			}
		}
	}

	return instr, nil
}

func hasNoImmediate(op byte) bool {
	switch op {
	case OpUnreachable, OpNop, OpElse, OpEnd, OpReturn, OpDrop, OpSelect, OpRefIsNull,
		OpRefAsNonNull, OpRefEq, OpCatchAll, OpThrowRef:
		return true
	}
	// Numeric, comparison, conversion and sign-extension opcodes are contiguous.
	return op >= OpI32Eqz && op <= OpI64Extend32S
}

func readMiscImmediate(r *binary.Reader) (MiscImm, error) {
	subOp, err := r.ReadU32()
	if err != nil {
		return MiscImm{}, err
	}
	imm := MiscImm{SubOpcode: subOp}

	var n int
	switch subOp {
	case MiscI32TruncSatF32S, MiscI32TruncSatF32U,
		MiscI32TruncSatF64S, MiscI32TruncSatF64U,
		MiscI64TruncSatF32S, MiscI64TruncSatF32U,
		MiscI64TruncSatF64S, MiscI64TruncSatF64U:
		n = 0
	case MiscMemoryInit, MiscMemoryCopy, MiscTableInit, MiscTableCopy:
		n = 2
	case MiscDataDrop, MiscMemoryFill, MiscElemDrop,
		MiscTableGrow, MiscTableSize, MiscTableFill, MiscMemoryDiscard:
		n = 1
	default:
		return MiscImm{}, r.WrapError("instruction", fmt.Errorf("%w 0xfc 0x%02x", ErrUnknownOpcode, subOp))
	}

	if n > 0 {
		imm.Operands = make([]uint32, n)
		for i := range imm.Operands {
			imm.Operands[i], err = r.ReadU32()
			if err != nil {
				return MiscImm{}, err
			}
		}
	}
	return imm, nil
}

func readMemArg(r *binary.Reader) (MemoryImm, error) {
	alignRaw, err := r.ReadU32()
	if err != nil {
		return MemoryImm{}, err
	}

	var memIdx uint32
	if alignRaw&memArgMultiMemBit != 0 {
		memIdx, err = r.ReadU32()
		if err != nil {
			return MemoryImm{}, err
		}
	}

	offset, err := r.ReadU64()
	if err != nil {
		return MemoryImm{}, err
	}

	return MemoryImm{
		Align:  alignRaw &^ memArgMultiMemBit,
		Offset: offset,
		MemIdx: memIdx,
	}, nil
}

func readBlockType(r *binary.Reader) (BlockType, error) {
	b, err := r.PeekByte()
	if err != nil {
		return BlockType{}, r.WrapError("block type", binary.ErrUnexpectedEOF)
	}
	if b == BlockTypeVoid {
		_, _ = r.ReadByte()
		return BlockType{Kind: BlockEmpty}, nil
	}
	if isValTypeByte(b) {
		vt, err := readValType(r)
		if err != nil {
			return BlockType{}, err
		}
		return BlockType{Kind: BlockValue, Value: vt}, nil
	}
	idx, err := r.ReadS33()
	if err != nil {
		return BlockType{}, err
	}
	if idx < 0 || idx > int64(^uint32(0)) {
		return BlockType{}, r.WrapError("block type", fmt.Errorf("invalid block type %d", idx))
	}
	return BlockType{Kind: BlockFunc, TypeIndex: uint32(idx)}, nil
}

func isValTypeByte(b byte) bool {
	switch {
	case b >= ValV128 && b <= ValI32:
		return true
	case b == ValRefNull || b == ValRef:
		return true
	case b >= refShorthandMin && b <= refShorthandMax:
		return true
	}
	return false
}

func readValType(r *binary.Reader) (ValType, error) {
	b, err := r.ReadByte()
	if err != nil {
		return ValType{}, r.WrapError("value type", binary.ErrUnexpectedEOF)
	}
	switch {
	case b >= ValV128 && b <= ValI32:
		return ValType{Code: b}, nil
	case b == ValRefNull || b == ValRef:
		heap, shared, err := readHeapType(r)
		if err != nil {
			return ValType{}, err
		}
		return ValType{Code: ValRef, Ref: RefType{Nullable: b == ValRefNull, HeapType: heap, Shared: shared}}, nil
	case b >= refShorthandMin && b <= refShorthandMax:
		return ValType{Code: ValRef, Ref: RefType{Nullable: true, HeapType: int64(b) - 0x80}}, nil
	}
	return ValType{}, r.WrapError("value type", fmt.Errorf("invalid value type 0x%02x", b))
}

func readRefType(r *binary.Reader) (RefType, error) {
	vt, err := readValType(r)
	if err != nil {
		return RefType{}, err
	}
	if !vt.IsRef() {
		return RefType{}, r.WrapError("reference type", fmt.Errorf("expected reference type, got %s", vt))
	}
	return vt.Ref, nil
}

func readHeapType(r *binary.Reader) (int64, bool, error) {
	shared := false
	if b, err := r.PeekByte(); err == nil && b == SharedPrefix {
		_, _ = r.ReadByte()
		shared = true
	}
	ht, err := r.ReadS33()
	if err != nil {
		return 0, false, err
	}
	if ht < 0 && (ht < HeapTypeExn || ht > HeapTypeNoExn) {
		return 0, false, r.WrapError("heap type", fmt.Errorf("invalid heap type %d", ht))
	}
	return ht, shared, nil
}

// EncodeInstruction writes a single instruction. It fails when Imm does not
// match the opcode, and for opaque instructions.
func EncodeInstruction(w *binary.Writer, instr Instruction) error {
	mismatch := func() error {
		return fmt.Errorf("%w: opcode 0x%02x with %T", ErrImmediateMismatch, instr.Opcode, instr.Imm)
	}

	switch instr.Opcode {
	case OpBlock, OpLoop, OpIf, OpTry:
		imm, ok := instr.Imm.(BlockImm)
		if !ok {
			return mismatch()
		}
		w.Byte(instr.Opcode)
		return writeBlockType(w, imm.Type)

	case OpCatch, OpThrow:
		imm, ok := instr.Imm.(ThrowImm)
		if !ok {
			return mismatch()
		}
		w.Byte(instr.Opcode)
		w.WriteU32(imm.TagIdx)

	case OpRethrow, OpDelegate, OpBr, OpBrIf, OpBrOnNull, OpBrOnNonNull:
		imm, ok := instr.Imm.(BranchImm)
		if !ok {
			return mismatch()
		}
		w.Byte(instr.Opcode)
		w.WriteU32(imm.LabelIdx)

	case OpTryTable:
		imm, ok := instr.Imm.(TryTableImm)
		if !ok {
			return mismatch()
		}
		w.Byte(instr.Opcode)
		if err := writeBlockType(w, imm.Type); err != nil {
			return err
		}
		w.WriteU32(uint32(len(imm.Catches)))
		for _, c := range imm.Catches {
			if c.Kind > CatchKindCatchAllRef {
				return fmt.Errorf("invalid catch kind 0x%02x", c.Kind)
			}
			w.Byte(c.Kind)
			if c.Kind == CatchKindCatch || c.Kind == CatchKindCatchRef {
				w.WriteU32(c.TagIdx)
			}
			w.WriteU32(c.LabelIdx)
		}

	case OpBrTable:
		imm, ok := instr.Imm.(BrTableImm)
		if !ok {
			return mismatch()
		}
		w.Byte(instr.Opcode)
		w.WriteU32(uint32(len(imm.Labels)))
		for _, l := range imm.Labels {
			w.WriteU32(l)
		}
		w.WriteU32(imm.Default)

	case OpCall, OpReturnCall:
		imm, ok := instr.Imm.(CallImm)
		if !ok {
			return mismatch()
		}
		w.Byte(instr.Opcode)
		w.WriteU32(imm.FuncIdx)

	case OpCallIndirect, OpReturnCallIndirect:
		imm, ok := instr.Imm.(CallIndirectImm)
		if !ok {
			return mismatch()
		}
		w.Byte(instr.Opcode)
		w.WriteU32(imm.TypeIdx)
		w.WriteU32(imm.TableIdx)

	case OpCallRef, OpReturnCallRef:
		imm, ok := instr.Imm.(CallRefImm)
		if !ok {
			return mismatch()
		}
		w.Byte(instr.Opcode)
		w.WriteU32(imm.TypeIdx)

	case OpLocalGet, OpLocalSet, OpLocalTee:
		imm, ok := instr.Imm.(LocalImm)
		if !ok {
			return mismatch()
		}
		w.Byte(instr.Opcode)
		w.WriteU32(imm.LocalIdx)

	case OpGlobalGet, OpGlobalSet:
		imm, ok := instr.Imm.(GlobalImm)
		if !ok {
			return mismatch()
		}
		w.Byte(instr.Opcode)
		w.WriteU32(imm.GlobalIdx)

	case OpTableGet, OpTableSet:
		imm, ok := instr.Imm.(TableImm)
		if !ok {
			return mismatch()
		}
		w.Byte(instr.Opcode)
		w.WriteU32(imm.TableIdx)

	case OpI32Load, OpI64Load, OpF32Load, OpF64Load,
		OpI32Load8S, OpI32Load8U, OpI32Load16S, OpI32Load16U,
		OpI64Load8S, OpI64Load8U, OpI64Load16S, OpI64Load16U, OpI64Load32S, OpI64Load32U,
		OpI32Store, OpI64Store, OpF32Store, OpF64Store,
		OpI32Store8, OpI32Store16, OpI64Store8, OpI64Store16, OpI64Store32:
		imm, ok := instr.Imm.(MemoryImm)
		if !ok {
			return mismatch()
		}
		w.Byte(instr.Opcode)
		writeMemArg(w, imm)

	case OpMemorySize, OpMemoryGrow:
		imm, ok := instr.Imm.(MemoryIdxImm)
		if !ok {
			return mismatch()
		}
		w.Byte(instr.Opcode)
		w.WriteU32(imm.MemIdx)

	case OpI32Const:
		imm, ok := instr.Imm.(I32Imm)
		if !ok {
			return mismatch()
		}
		w.Byte(instr.Opcode)
		w.WriteS32(imm.Value)

	case OpI64Const:
		imm, ok := instr.Imm.(I64Imm)
		if !ok {
			return mismatch()
		}
		w.Byte(instr.Opcode)
		w.WriteS64(imm.Value)

	case OpF32Const:
		imm, ok := instr.Imm.(F32Imm)
		if !ok {
			return mismatch()
		}
		w.Byte(instr.Opcode)
		w.WriteU32LE(imm.Bits)

	case OpF64Const:
		imm, ok := instr.Imm.(F64Imm)
		if !ok {
			return mismatch()
		}
		w.Byte(instr.Opcode)
		w.WriteU64LE(imm.Bits)

	case OpRefNull:
		imm, ok := instr.Imm.(RefNullImm)
		if !ok {
			return mismatch()
		}
		w.Byte(instr.Opcode)
		writeHeapType(w, imm.HeapType, imm.Shared)

	case OpRefFunc:
		imm, ok := instr.Imm.(RefFuncImm)
		if !ok {
			return mismatch()
		}
		w.Byte(instr.Opcode)
		w.WriteU32(imm.FuncIdx)

	case OpSelectType:
		imm, ok := instr.Imm.(SelectTypeImm)
		if !ok {
			return mismatch()
		}
		w.Byte(instr.Opcode)
		w.WriteU32(uint32(len(imm.Types)))
		for _, t := range imm.Types {
			if err := writeValType(w, t); err != nil {
				return err
			}
		}

	case OpPrefixMisc:
		imm, ok := instr.Imm.(MiscImm)
		if !ok {
			return mismatch()
		}
		w.Byte(instr.Opcode)
		w.WriteU32(imm.SubOpcode)
		for _, op := range imm.Operands {
			w.WriteU32(op)
		}

	case OpPrefixGC, OpPrefixSIMD, OpPrefixAtomic:
		return fmt.Errorf("%w: opcode 0x%02x has undecoded immediates", ErrImmediateMismatch, instr.Opcode)

	default:
		if !hasNoImmediate(instr.Opcode) {
			return fmt.Errorf("%w 0x%02x", ErrUnknownOpcode, instr.Opcode)
		}
		if instr.Imm != nil {
			return mismatch()
		}
		w.Byte(instr.Opcode)
	}
	return nil
}

// EncodeInstructions encodes instructions to bytes
func EncodeInstructions(instrs []Instruction) ([]byte, error) {
	w := binary.NewWriter()
	for _, instr := range instrs {
		if err := EncodeInstruction(w, instr); err != nil {
			return nil, err
		}
	}
	return w.Bytes(), nil
}

// writeMemArg writes a memarg with multi-memory support.
func writeMemArg(w *binary.Writer, imm MemoryImm) {
	alignRaw := imm.Align
	if imm.MemIdx != 0 {
		alignRaw |= memArgMultiMemBit
	}
	w.WriteU32(alignRaw)
	if imm.MemIdx != 0 {
		w.WriteU32(imm.MemIdx)
	}
	w.WriteU64(imm.Offset)
}

func writeBlockType(w *binary.Writer, bt BlockType) error {
	switch bt.Kind {
	case BlockEmpty:
		w.Byte(BlockTypeVoid)
	case BlockValue:
		return writeValType(w, bt.Value)
	case BlockFunc:
		w.WriteS64(int64(bt.TypeIndex))
	default:
		return fmt.Errorf("invalid block type kind %d", bt.Kind)
	}
	return nil
}

func writeValType(w *binary.Writer, v ValType) error {
	switch {
	case v.Code >= ValV128 && v.Code <= ValI32:
		w.Byte(v.Code)
	case v.Code == ValRef:
		writeRefType(w, v.Ref)
	default:
		return fmt.Errorf("invalid value type 0x%02x", v.Code)
	}
	return nil
}

func writeRefType(w *binary.Writer, r RefType) {
	if r.Nullable && !r.Shared && r.HeapType >= HeapTypeExn && r.HeapType <= HeapTypeNoExn {
		w.Byte(byte(r.HeapType + 0x80))
		return
	}
	if r.Nullable {
		w.Byte(ValRefNull)
	} else {
		w.Byte(ValRef)
	}
	writeHeapType(w, r.HeapType, r.Shared)
}

func writeHeapType(w *binary.Writer, ht int64, shared bool) {
	if shared {
		w.Byte(SharedPrefix)
	}
	w.WriteS64(ht)
}
