package ir

import (
	"fmt"
	"strings"
)

// PayloadKind identifies the immediate shape an opcode carries.
type PayloadKind uint8

const (
	PayloadNone PayloadKind = iota
	PayloadRelativeDepth
	PayloadBlockty
	PayloadBrTargets
	PayloadFunctionIndex
	PayloadCallIndirect
	PayloadLocalIndex
	PayloadGlobalIndex
	PayloadMemArg
	PayloadMem
	PayloadI32Value
	PayloadI64Value
	PayloadF32Value
	PayloadF64Value
	PayloadMemoryInit
	PayloadDataIndex
	PayloadMemoryCopy
	PayloadTableInit
	PayloadElemIndex
	PayloadTableCopy
	PayloadTryTable
	PayloadTagIndex
	PayloadHeapType
)

var payloadKindNames = [...]string{
	PayloadNone:          "none",
	PayloadRelativeDepth: "RelativeDepth",
	PayloadBlockty:       "Blockty",
	PayloadBrTargets:     "BrTargets",
	PayloadFunctionIndex: "FunctionIndex",
	PayloadCallIndirect:  "CallIndirect",
	PayloadLocalIndex:    "LocalIndex",
	PayloadGlobalIndex:   "GlobalIndex",
	PayloadMemArg:        "MemArg",
	PayloadMem:           "Mem",
	PayloadI32Value:      "I32Value",
	PayloadI64Value:      "I64Value",
	PayloadF32Value:      "F32Value",
	PayloadF64Value:      "F64Value",
	PayloadMemoryInit:    "MemoryInit",
	PayloadDataIndex:     "DataIndex",
	PayloadMemoryCopy:    "MemoryCopy",
	PayloadTableInit:     "TableInit",
	PayloadElemIndex:     "ElemIndex",
	PayloadTableCopy:     "TableCopy",
	PayloadTryTable:      "TryTable",
	PayloadTagIndex:      "TagIndex",
	PayloadHeapType:      "HeapType",
}

func (k PayloadKind) String() string {
	if int(k) < len(payloadKindNames) {
		return payloadKindNames[k]
	}
	return fmt.Sprintf("PayloadKind(%d)", uint8(k))
}

// Payload is the immediate of an Operator. Operators whose opcode takes no
// immediate carry a nil Payload. Payloads are stored by value.
type Payload interface {
	payloadKind() PayloadKind
}

// RelativeDepth is a branch label.
type RelativeDepth uint32

// Blockty is the signature of block, loop, if and try.
type Blockty struct {
	Type BlockType
}

// BrTargets are the labels of br_table. Default must be set on encode.
type BrTargets struct {
	Default *uint32
	Targets []uint32
}

// FunctionIndex is the callee of call, or the function of ref.func.
type FunctionIndex uint32

// CallIndirect is the immediate of call_indirect.
type CallIndirect struct {
	TypeIndex  *uint32
	TableIndex *uint32
}

// LocalIndex is the local of local.get/set/tee.
type LocalIndex uint32

// GlobalIndex is the global of global.get/set.
type GlobalIndex uint32

// MemArg is the immediate of loads and stores. Align is log2 of the
// alignment; MaxAlign is the natural alignment of the access and is
// informational only.
type MemArg struct {
	Align    *uint32
	MaxAlign *uint32
	Offset   *uint64
	Memory   *uint32
}

// Mem is the memory of memory.size, memory.grow and memory.fill.
type Mem uint32

// I32Value is the constant of i32.const.
type I32Value int32

// I64Value is the constant of i64.const.
type I64Value int64

// F32Value holds the IEEE-754 bits of an f32.const.
type F32Value uint32

// F64Value holds the IEEE-754 bits of an f64.const.
type F64Value uint64

// MemoryInit is the immediate of memory.init.
type MemoryInit struct {
	DataIndex *uint32
	Mem       *uint32
}

// DataIndex is the segment of data.drop.
type DataIndex uint32

// MemoryCopy is the immediate of memory.copy.
type MemoryCopy struct {
	DstMem *uint32
	SrcMem *uint32
}

// TableInit is the immediate of table.init.
type TableInit struct {
	ElemIndex *uint32
	Table     *uint32
}

// ElemIndex is the segment of elem.drop.
type ElemIndex uint32

// TableCopy is the immediate of table.copy.
type TableCopy struct {
	DstTable *uint32
	SrcTable *uint32
}

// CatchKind selects the form of a try_table catch clause.
type CatchKind int32

const (
	CatchOne CatchKind = iota
	CatchOneRef
	CatchAll
	CatchAllRef
)

func (k CatchKind) String() string {
	switch k {
	case CatchOne:
		return "catch"
	case CatchOneRef:
		return "catch_ref"
	case CatchAll:
		return "catch_all"
	case CatchAllRef:
		return "catch_all_ref"
	default:
		return fmt.Sprintf("catchkind(%d)", int32(k))
	}
}

// Catch is a try_table clause. Tag is used by CatchOne and CatchOneRef.
type Catch struct {
	Tag   *uint32
	Label *uint32
	Kind  CatchKind
}

// TryTable is the immediate of try_table.
type TryTable struct {
	Type    BlockType
	Catches []Catch
}

// TagIndex is the tag of throw and catch.
type TagIndex uint32

// HeapType is the immediate of ref.null. Only func is modelled.
type HeapType int32

const (
	HeapTypeFunc HeapType = iota
)

func (RelativeDepth) payloadKind() PayloadKind { return PayloadRelativeDepth }
func (Blockty) payloadKind() PayloadKind       { return PayloadBlockty }
func (BrTargets) payloadKind() PayloadKind     { return PayloadBrTargets }
func (FunctionIndex) payloadKind() PayloadKind { return PayloadFunctionIndex }
func (CallIndirect) payloadKind() PayloadKind  { return PayloadCallIndirect }
func (LocalIndex) payloadKind() PayloadKind    { return PayloadLocalIndex }
func (GlobalIndex) payloadKind() PayloadKind   { return PayloadGlobalIndex }
func (MemArg) payloadKind() PayloadKind        { return PayloadMemArg }
func (Mem) payloadKind() PayloadKind           { return PayloadMem }
func (I32Value) payloadKind() PayloadKind      { return PayloadI32Value }
func (I64Value) payloadKind() PayloadKind      { return PayloadI64Value }
func (F32Value) payloadKind() PayloadKind      { return PayloadF32Value }
func (F64Value) payloadKind() PayloadKind      { return PayloadF64Value }
func (MemoryInit) payloadKind() PayloadKind    { return PayloadMemoryInit }
func (DataIndex) payloadKind() PayloadKind     { return PayloadDataIndex }
func (MemoryCopy) payloadKind() PayloadKind    { return PayloadMemoryCopy }
func (TableInit) payloadKind() PayloadKind     { return PayloadTableInit }
func (ElemIndex) payloadKind() PayloadKind     { return PayloadElemIndex }
func (TableCopy) payloadKind() PayloadKind     { return PayloadTableCopy }
func (TryTable) payloadKind() PayloadKind      { return PayloadTryTable }
func (TagIndex) payloadKind() PayloadKind      { return PayloadTagIndex }
func (HeapType) payloadKind() PayloadKind      { return PayloadHeapType }

// KindOf returns the shape of p, PayloadNone for nil.
func KindOf(p Payload) PayloadKind {
	if p == nil {
		return PayloadNone
	}
	return p.payloadKind()
}

// payloadName names p for error messages without dereferencing pointers.
func payloadName(p Payload) string {
	if p == nil {
		return "none"
	}
	return strings.TrimPrefix(fmt.Sprintf("%T", p), "ir.")
}
