package ir

// ProtocolVersion is the IR schema version written by Decode.
const ProtocolVersion uint32 = 1

// Module is the IR form of a binary module. Sections keep their source
// order; code entries are stored one per function and merged into a single
// code section on encode.
type Module struct {
	ProtocolVersion *uint32
	Version         *Version
	Sections        []Section
}

// Encoding identifies the binary kind a Version refers to.
type Encoding int32

const (
	EncodingModule Encoding = iota
	EncodingComponent
)

func (e Encoding) String() string {
	switch e {
	case EncodingModule:
		return "module"
	case EncodingComponent:
		return "component"
	default:
		return "unknown"
	}
}

// Version is the module header. Only Number 1 with EncodingModule is accepted.
type Version struct {
	Number   *uint32
	Encoding Encoding
}

// Section is one entry of Module.Sections. The concrete types are
// *TypeSection, *ImportSection, *FunctionSection, *TableSection,
// *MemorySection, *GlobalSection, *ExportSection, *ElementSection,
// *CodeSectionEntry, *DataSection and *TagSection.
type Section interface {
	// Name returns the section kind, as used in error messages.
	Name() string
	isSection()
}

// TypeSection lists the module's function types.
type TypeSection struct {
	Types []SubType
}

// SubType is a final type definition without supertypes.
type SubType struct {
	Func *FuncType
}

// FuncType is a function signature.
type FuncType struct {
	Params  []ValueType
	Results []ValueType
}

// ImportSection lists function imports.
type ImportSection struct {
	Imports []TypeRefFunc
}

// TypeRefFunc is a function import.
type TypeRefFunc struct {
	Module       *string
	Name         *string
	FunctionType *uint32
}

// FunctionSection holds the type index of each defined function.
type FunctionSection struct {
	TypeIdxs []uint32
}

// TableSection lists table definitions.
type TableSection struct {
	Types []TableType
}

// TableType describes a table. Maximum is nil when unbounded.
type TableType struct {
	Table64       *bool
	Initial       *uint64
	Maximum       *uint64
	Shared        *bool
	ReferenceType RefType
}

// MemorySection lists memory definitions.
type MemorySection struct {
	MemoryTypes []MemoryType
}

// MemoryType describes a memory. Maximum and PageSizeLog2 are nil when absent.
type MemoryType struct {
	Memory64     *bool
	Shared       *bool
	Initial      *uint64
	Maximum      *uint64
	PageSizeLog2 *uint32
}

// GlobalSection lists global definitions.
type GlobalSection struct {
	Globals []Global
}

// Global is a global definition with its initializer.
type Global struct {
	Type     *GlobalType
	InitExpr *Expression
}

// GlobalType describes a global.
type GlobalType struct {
	Mutable     *bool
	Shared      *bool
	ContentType ValueType
}

// ExportSection lists exports.
type ExportSection struct {
	Exports []Export
}

// ExternalKind is the kind of an exported item.
type ExternalKind int32

const (
	ExternalKindFunc ExternalKind = iota
	ExternalKindTable
	ExternalKindMemory
	ExternalKindGlobal
	ExternalKindTag
	// ExternalKindFuncExact is representable but cannot be encoded.
	ExternalKindFuncExact
)

func (k ExternalKind) String() string {
	switch k {
	case ExternalKindFunc:
		return "func"
	case ExternalKindTable:
		return "table"
	case ExternalKindMemory:
		return "memory"
	case ExternalKindGlobal:
		return "global"
	case ExternalKindTag:
		return "tag"
	case ExternalKindFuncExact:
		return "func_exact"
	default:
		return "unknown"
	}
}

// Export is a named export.
type Export struct {
	Name  *string
	Index *uint32
	Kind  ExternalKind
}

// ElementSection lists element segments.
type ElementSection struct {
	Elements []Element
}

// Element is an element segment.
type Element struct {
	Kind  *ElementKind
	Items ElementItems
}

// ElementKindType is the mode of an element segment.
type ElementKindType int32

const (
	ElementKindPassive ElementKindType = iota
	ElementKindActive
	ElementKindDeclared
)

func (t ElementKindType) String() string {
	switch t {
	case ElementKindPassive:
		return "passive"
	case ElementKindActive:
		return "active"
	case ElementKindDeclared:
		return "declared"
	default:
		return "unknown"
	}
}

// ElementKind is the mode of an element segment. TableIndex and Expression
// are only used by active segments; a nil TableIndex is the implicit table 0.
type ElementKind struct {
	TableIndex *uint32
	Expression *Expression
	Type       ElementKindType
}

// ElementItems are the contents of an element segment: *ElementFunctions
// or *ElementExpressions.
type ElementItems interface {
	isElementItems()
}

// ElementFunctions lists function indices.
type ElementFunctions struct {
	Functions []uint32
}

// ElementExpressions lists constant expressions of ReferenceType.
type ElementExpressions struct {
	Expressions   []Expression
	ReferenceType RefType
}

func (*ElementFunctions) isElementItems()   {}
func (*ElementExpressions) isElementItems() {}

// CodeSectionEntry is one function body. Body includes the final end.
type CodeSectionEntry struct {
	Locals []Locals
	Body   []Operator
}

// Locals is a run of Count locals of the same type.
type Locals struct {
	Count     *uint32
	ValueType ValueType
}

// DataSection lists data segments.
type DataSection struct {
	Datas []Data
}

// Data is a data segment.
type Data struct {
	Kind *DataKind
	Data []byte
}

// DataKindType is the mode of a data segment.
type DataKindType int32

const (
	DataKindPassive DataKindType = iota
	DataKindActive
)

func (t DataKindType) String() string {
	switch t {
	case DataKindPassive:
		return "passive"
	case DataKindActive:
		return "active"
	default:
		return "unknown"
	}
}

// DataKind is the mode of a data segment. MemoryIndex and Expression are
// required for active segments.
type DataKind struct {
	MemoryIndex *uint32
	Expression  *Expression
	Type        DataKindType
}

// TagSection lists exception tags.
type TagSection struct {
	Tags []TagType
}

// TagKind is the attribute of a tag.
type TagKind int32

const (
	TagKindException TagKind = iota
)

// TagType is an exception tag with its function type.
type TagType struct {
	FunctionTypeIdx *uint32
	Kind            TagKind
}

func (*TypeSection) Name() string      { return "type" }
func (*ImportSection) Name() string    { return "import" }
func (*FunctionSection) Name() string  { return "function" }
func (*TableSection) Name() string     { return "table" }
func (*MemorySection) Name() string    { return "memory" }
func (*GlobalSection) Name() string    { return "global" }
func (*ExportSection) Name() string    { return "export" }
func (*ElementSection) Name() string   { return "element" }
func (*CodeSectionEntry) Name() string { return "code" }
func (*DataSection) Name() string      { return "data" }
func (*TagSection) Name() string       { return "tag" }

func (*TypeSection) isSection()      {}
func (*ImportSection) isSection()    {}
func (*FunctionSection) isSection()  {}
func (*TableSection) isSection()     {}
func (*MemorySection) isSection()    {}
func (*GlobalSection) isSection()    {}
func (*ExportSection) isSection()    {}
func (*ElementSection) isSection()   {}
func (*CodeSectionEntry) isSection() {}
func (*DataSection) isSection()      {}
func (*TagSection) isSection()       {}

// Uint32 returns a pointer to v.
func Uint32(v uint32) *uint32 { return &v }

// Uint64 returns a pointer to v.
func Uint64(v uint64) *uint64 { return &v }

// Bool returns a pointer to v.
func Bool(v bool) *bool { return &v }

// String returns a pointer to v.
func String(v string) *string { return &v }
