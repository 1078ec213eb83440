package wasm

import "fmt"

// ValType is a WebAssembly value type. Code holds the numeric or vector
// type byte, or ValRef for every reference type, in which case Ref
// describes it.
type ValType struct {
	Ref  RefType
	Code byte
}

// Common value types.
var (
	I32       = ValType{Code: ValI32}
	I64       = ValType{Code: ValI64}
	F32       = ValType{Code: ValF32}
	F64       = ValType{Code: ValF64}
	V128      = ValType{Code: ValV128}
	FuncRef   = ValType{Code: ValRef, Ref: RefType{Nullable: true, HeapType: HeapTypeFunc}}
	ExternRef = ValType{Code: ValRef, Ref: RefType{Nullable: true, HeapType: HeapTypeExtern}}
)

// IsRef reports whether v is a reference type.
func (v ValType) IsRef() bool {
	return v.Code == ValRef
}

func (v ValType) String() string {
	switch v.Code {
	case ValI32:
		return "i32"
	case ValI64:
		return "i64"
	case ValF32:
		return "f32"
	case ValF64:
		return "f64"
	case ValV128:
		return "v128"
	case ValRef:
		return v.Ref.String()
	default:
		return fmt.Sprintf("valtype(0x%02x)", v.Code)
	}
}

// RefType is a reference type with nullable flag and heap type.
type RefType struct {
	HeapType int64 // Encoded as s33: negative for abstract types, non-negative for type indices
	Nullable bool
	Shared   bool
}

// IsFunc reports whether r refers to the non-shared abstract func heap type.
func (r RefType) IsFunc() bool {
	return r.HeapType == HeapTypeFunc && !r.Shared
}

func (r RefType) String() string {
	var heap string
	switch r.HeapType {
	case HeapTypeFunc:
		heap = "func"
	case HeapTypeExtern:
		heap = "extern"
	case HeapTypeAny:
		heap = "any"
	case HeapTypeEq:
		heap = "eq"
	case HeapTypeI31:
		heap = "i31"
	case HeapTypeStruct:
		heap = "struct"
	case HeapTypeArray:
		heap = "array"
	case HeapTypeExn:
		heap = "exn"
	case HeapTypeNone:
		heap = "none"
	case HeapTypeNoExtern:
		heap = "noextern"
	case HeapTypeNoFunc:
		heap = "nofunc"
	case HeapTypeNoExn:
		heap = "noexn"
	default:
		heap = fmt.Sprintf("%d", r.HeapType)
	}
	if r.Shared {
		heap = "shared " + heap
	}
	if r.Nullable {
		return "(ref null " + heap + ")"
	}
	return "(ref " + heap + ")"
}

// BlockKind identifies the form of a block type.
type BlockKind byte

const (
	BlockEmpty BlockKind = iota
	BlockValue
	BlockFunc
)

// BlockType is the signature of a structured control instruction.
type BlockType struct {
	Value     ValType
	TypeIndex uint32
	Kind      BlockKind
}

// FuncType represents a WebAssembly function signature with parameter and result types.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

// CompositeKind identifies the composite type a subtype wraps.
type CompositeKind byte

const (
	CompositeFunc   CompositeKind = CompositeKind(FuncTypeByte)
	CompositeStruct CompositeKind = CompositeKind(StructTypeByte)
	CompositeArray  CompositeKind = CompositeKind(ArrayTypeByte)
)

// FieldType is a struct field or array element.
type FieldType struct {
	Type    ValType
	Packed  byte // PackedI8 or PackedI16, zero for value storage
	Mutable bool
}

// SubType is one type definition inside a recursion group.
type SubType struct {
	Func       *FuncType
	Fields     []FieldType // struct fields, or the single array element
	Supertypes []uint32
	Kind       CompositeKind
	Final      bool
	Shared     bool
}

// RecGroup is a recursion group. Explicit is false for the implicit
// single-type group produced by a bare composite type.
type RecGroup struct {
	Types    []SubType
	Explicit bool
}

// Limits holds the size bounds shared by tables and memories.
type Limits struct {
	Max          *uint64
	PageSizeLog2 *uint32
	Min          uint64
	Shared       bool
	Is64         bool
}

// TableType describes a table. Init is the initializer expression
// (including its end), nil when absent.
type TableType struct {
	Init     []Instruction
	ElemType RefType
	Limits   Limits
}

// MemoryType describes a linear memory.
type MemoryType struct {
	Limits Limits
}

// GlobalType describes a global's content type and mutability.
type GlobalType struct {
	Content ValType
	Mutable bool
	Shared  bool
}

// TagType describes an exception tag.
type TagType struct {
	TypeIdx   uint32
	Attribute byte
}

// TypeRef is the external type of an import.
type TypeRef struct {
	Table   *TableType
	Memory  *MemoryType
	Global  *GlobalType
	Tag     *TagType
	FuncIdx uint32
	Kind    byte
}

// ImportForm identifies how an import entry was encoded.
type ImportForm byte

const (
	ImportSingle ImportForm = iota
	ImportCompactSameType
	ImportCompactSameModule
)

// ImportItem is a single named item of a compact import group.
type ImportItem struct {
	Name string
	Type TypeRef
}

// Import is one entry of the import section. Compact groups keep their
// items in Items and leave Name and Type empty.
type Import struct {
	Module string
	Name   string
	Items  []ImportItem
	Type   TypeRef
	Form   ImportForm
}

// Export represents an exported item.
type Export struct {
	Name  string
	Index uint32
	Kind  byte
}

// ElemMode is the mode of an element segment.
type ElemMode byte

const (
	ElemModeActive ElemMode = iota
	ElemModePassive
	ElemModeDeclarative
)

// Element is an element segment. Exactly one of Funcs or Exprs is used,
// depending on UsesExprs. Table is nil when the table index is implicit.
type Element struct {
	Table     *uint32
	Offset    []Instruction
	Funcs     []uint32
	Exprs     [][]Instruction
	RefType   RefType
	Mode      ElemMode
	UsesExprs bool
}

// DataMode is the mode of a data segment.
type DataMode byte

const (
	DataModeActive DataMode = iota
	DataModePassive
)

// DataSegment is a data segment.
type DataSegment struct {
	Offset []Instruction
	Init   []byte
	Memory uint32
	Mode   DataMode
}

// LocalEntry is a run of locals of the same type.
type LocalEntry struct {
	Count uint32
	Type  ValType
}

// FuncBody is a function body from the code section. Code holds the
// raw instruction bytes including the final end; Offset is its absolute
// position in the module.
type FuncBody struct {
	Locals []LocalEntry
	Code   []byte
	Offset int
}

// Instructions decodes the full body.
func (b *FuncBody) Instructions() ([]Instruction, error) {
	return DecodeInstructions(b.Code)
}

// Reader returns an instruction reader over the body.
func (b *FuncBody) Reader() *InstructionReader {
	return newInstructionReaderAt(b.Code, b.Offset)
}

// Encoding identifies the kind of binary.
type Encoding byte

const (
	EncodingModule Encoding = iota
	EncodingComponent
)

func (e Encoding) String() string {
	if e == EncodingComponent {
		return "component"
	}
	return "module"
}

// Range is a byte range within the input.
type Range struct {
	Start int
	End   int
}
