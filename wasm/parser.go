package wasm

import (
	"errors"
	"fmt"
	"io"

	"github.com/wippyai/wasm-ir/wasm/internal/binary"
)

// Parse errors. ErrSectionOrder and ErrCodeCount describe module-level
// constraints the parser leaves to validation.
var (
	ErrInvalidMagic   = errors.New("wasm: invalid magic number")
	ErrInvalidVersion = errors.New("wasm: unsupported binary version")
	ErrSectionOrder   = errors.New("section out of order")
	ErrSectionSize    = errors.New("section size mismatch")
	ErrCodeCount      = errors.New("function and code section have inconsistent lengths")
)

// Payload is one item produced by Parser.Next. The concrete types are the
// *...Section types below, *VersionPayload, *CodeSectionStart,
// *CodeSectionEntry, *CustomSection, *ComponentSection, *UnknownSection
// and *End.
type Payload interface {
	payload()
}

// VersionPayload is the module header.
type VersionPayload struct {
	Range    Range
	Num      uint16
	Encoding Encoding
}

// TypeSection holds the module's recursion groups.
type TypeSection struct {
	Groups []RecGroup
	Range  Range
}

// ImportSection holds import entries.
type ImportSection struct {
	Imports []Import
	Range   Range
}

// FunctionSection holds the type index of each defined function.
type FunctionSection struct {
	TypeIdxs []uint32
	Range    Range
}

// TableSection holds table definitions.
type TableSection struct {
	Tables []TableType
	Range  Range
}

// MemorySection holds memory definitions.
type MemorySection struct {
	Memories []MemoryType
	Range    Range
}

// TagSection holds exception tag definitions.
type TagSection struct {
	Tags  []TagType
	Range Range
}

// Global is a global definition with its initializer (including end).
type Global struct {
	Init []Instruction
	Type GlobalType
}

// GlobalSection holds global definitions.
type GlobalSection struct {
	Globals []Global
	Range   Range
}

// ExportSection holds exports.
type ExportSection struct {
	Exports []Export
	Range   Range
}

// StartSection names the start function.
type StartSection struct {
	Range Range
	Func  uint32
}

// ElementSection holds element segments.
type ElementSection struct {
	Elements []Element
	Range    Range
}

// DataCountSection holds the declared number of data segments.
type DataCountSection struct {
	Range Range
	Count uint32
}

// DataSection holds data segments.
type DataSection struct {
	Segments []DataSegment
	Range    Range
}

// CodeSectionStart precedes the code section's entries.
type CodeSectionStart struct {
	Range Range
	Count uint32
}

// CodeSectionEntry is a single function body.
type CodeSectionEntry struct {
	Body FuncBody
}

// CustomSection is a named custom section.
type CustomSection struct {
	Name  string
	Data  []byte
	Range Range
}

// ComponentSection is a raw section of a component-model binary.
type ComponentSection struct {
	Data  []byte
	Range Range
	ID    byte
}

// UnknownSection is a module section with an unrecognized id.
type UnknownSection struct {
	Data  []byte
	Range Range
	ID    byte
}

// End is emitted once after the last section.
type End struct {
	Offset int
}

func (*VersionPayload) payload()   {}
func (*TypeSection) payload()      {}
func (*ImportSection) payload()    {}
func (*FunctionSection) payload()  {}
func (*TableSection) payload()     {}
func (*MemorySection) payload()    {}
func (*TagSection) payload()       {}
func (*GlobalSection) payload()    {}
func (*ExportSection) payload()    {}
func (*StartSection) payload()     {}
func (*ElementSection) payload()   {}
func (*DataCountSection) payload() {}
func (*DataSection) payload()      {}
func (*CodeSectionStart) payload() {}
func (*CodeSectionEntry) payload() {}
func (*CustomSection) payload()    {}
func (*ComponentSection) payload() {}
func (*UnknownSection) payload()   {}
func (*End) payload()              {}

type parserState int

const (
	stateHeader parserState = iota
	stateSections
	stateCode
	stateDone
)

// Parser streams a binary module as a sequence of payloads. The whole
// input must be consumed: trailing bytes inside a section or after the
// last section are reported as errors.
type Parser struct {
	r        *binary.Reader
	code     *binary.Reader
	state    parserState
	encoding Encoding
	codeLeft uint32
}

// NewParser creates a parser over a complete binary.
func NewParser(data []byte) *Parser {
	return &Parser{r: binary.NewReader(data)}
}

// Next returns the next payload, or io.EOF after End has been returned.
func (p *Parser) Next() (Payload, error) {
	switch p.state {
	case stateHeader:
		return p.readHeader()
	case stateCode:
		return p.readCodeEntry()
	case stateSections:
		return p.readSection()
	default:
		return nil, io.EOF
	}
}

// Parse collects every payload up to and including End.
func Parse(data []byte) ([]Payload, error) {
	p := NewParser(data)
	var out []Payload
	for {
		pl, err := p.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, pl)
	}
}

func (p *Parser) readHeader() (Payload, error) {
	start := p.r.Position()
	magic, err := p.r.ReadU32LE()
	if err != nil {
		return nil, p.r.WrapError("header", err)
	}
	if magic != Magic {
		return nil, p.r.WrapError("header", ErrInvalidMagic)
	}
	raw, err := p.r.ReadU32LE()
	if err != nil {
		return nil, p.r.WrapError("header", err)
	}
	num, layer := uint16(raw), uint16(raw>>16)

	switch {
	case layer == LayerModule && num == Version:
		p.encoding = EncodingModule
	case layer == LayerComponent:
		p.encoding = EncodingComponent
	default:
		return nil, p.r.WrapError("header", fmt.Errorf("%w: %d (layer %d)", ErrInvalidVersion, num, layer))
	}

	p.state = stateSections
	return &VersionPayload{
		Num:      num,
		Encoding: p.encoding,
		Range:    Range{Start: start, End: p.r.Position()},
	}, nil
}

func (p *Parser) readSection() (Payload, error) {
	if p.r.EOF() {
		return p.finish()
	}

	start := p.r.Position()
	id, err := p.r.ReadByte()
	if err != nil {
		return nil, p.r.WrapError("section header", err)
	}
	size, err := p.r.ReadU32()
	if err != nil {
		return nil, p.r.WrapError("section size", err)
	}
	sr, err := p.r.Sub(int(size))
	if err != nil {
		return nil, p.r.WrapError(SectionName(id), err)
	}
	rng := Range{Start: start, End: p.r.Position()}

	if p.encoding == EncodingComponent {
		return &ComponentSection{ID: id, Data: sr.ReadRemaining(), Range: rng}, nil
	}

	pl, err := p.decodeSection(id, sr, rng)
	if err != nil {
		return nil, sr.WrapError(SectionName(id), err)
	}
	if p.state != stateCode && !sr.EOF() {
		return nil, sr.WrapError(SectionName(id), fmt.Errorf("%w: %d trailing bytes", ErrSectionSize, sr.Len()))
	}
	return pl, nil
}

func (p *Parser) decodeSection(id byte, r *binary.Reader, rng Range) (Payload, error) {
	switch id {
	case SectionCustom:
		name, err := r.ReadName()
		if err != nil {
			return nil, err
		}
		return &CustomSection{Name: name, Data: r.ReadRemaining(), Range: rng}, nil
	case SectionType:
		groups, err := readTypeSection(r)
		if err != nil {
			return nil, err
		}
		return &TypeSection{Groups: groups, Range: rng}, nil
	case SectionImport:
		imports, err := readImportSection(r)
		if err != nil {
			return nil, err
		}
		return &ImportSection{Imports: imports, Range: rng}, nil
	case SectionFunction:
		idxs, err := readU32Vec(r)
		if err != nil {
			return nil, err
		}
		return &FunctionSection{TypeIdxs: idxs, Range: rng}, nil
	case SectionTable:
		tables, err := readTableSection(r)
		if err != nil {
			return nil, err
		}
		return &TableSection{Tables: tables, Range: rng}, nil
	case SectionMemory:
		mems, err := readMemorySection(r)
		if err != nil {
			return nil, err
		}
		return &MemorySection{Memories: mems, Range: rng}, nil
	case SectionTag:
		tags, err := readTagSection(r)
		if err != nil {
			return nil, err
		}
		return &TagSection{Tags: tags, Range: rng}, nil
	case SectionGlobal:
		globals, err := readGlobalSection(r)
		if err != nil {
			return nil, err
		}
		return &GlobalSection{Globals: globals, Range: rng}, nil
	case SectionExport:
		exports, err := readExportSection(r)
		if err != nil {
			return nil, err
		}
		return &ExportSection{Exports: exports, Range: rng}, nil
	case SectionStart:
		fn, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		return &StartSection{Func: fn, Range: rng}, nil
	case SectionElement:
		elems, err := readElementSection(r)
		if err != nil {
			return nil, err
		}
		return &ElementSection{Elements: elems, Range: rng}, nil
	case SectionDataCount:
		count, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		return &DataCountSection{Count: count, Range: rng}, nil
	case SectionCode:
		count, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		if count > 0 {
			p.code = r
			p.codeLeft = count
			p.state = stateCode
		}
		return &CodeSectionStart{Count: count, Range: rng}, nil
	case SectionData:
		segs, err := readDataSection(r)
		if err != nil {
			return nil, err
		}
		return &DataSection{Segments: segs, Range: rng}, nil
	default:
		return &UnknownSection{ID: id, Data: r.ReadRemaining(), Range: rng}, nil
	}
}

func (p *Parser) readCodeEntry() (Payload, error) {
	body, err := readFuncBody(p.code)
	if err != nil {
		return nil, p.code.WrapError("code", err)
	}
	p.codeLeft--
	if p.codeLeft == 0 {
		p.state = stateSections
		if !p.code.EOF() {
			return nil, p.code.WrapError("code", fmt.Errorf("%w: %d trailing bytes", ErrSectionSize, p.code.Len()))
		}
		p.code = nil
	}
	return &CodeSectionEntry{Body: body}, nil
}

func (p *Parser) finish() (Payload, error) {
	p.state = stateDone
	return &End{Offset: p.r.Position()}, nil
}

// SectionOrder returns the canonical position of a section ID, or 0 for
// custom and unknown sections. The binary format orders sections
// differently from their IDs. The parser does not enforce this order;
// validators do.
func SectionOrder(id byte) int {
	switch id {
	case SectionType:
		return 1
	case SectionImport:
		return 2
	case SectionFunction:
		return 3
	case SectionTable:
		return 4
	case SectionMemory:
		return 5
	case SectionTag:
		return 6 // Tag comes after Memory, before Global
	case SectionGlobal:
		return 7
	case SectionExport:
		return 8
	case SectionStart:
		return 9
	case SectionElement:
		return 10
	case SectionDataCount:
		return 11 // DataCount must come before Code
	case SectionCode:
		return 12
	case SectionData:
		return 13
	default:
		return 0
	}
}

// SectionName returns a readable name for a section id.
func SectionName(id byte) string {
	switch id {
	case SectionCustom:
		return "custom"
	case SectionType:
		return "type"
	case SectionImport:
		return "import"
	case SectionFunction:
		return "function"
	case SectionTable:
		return "table"
	case SectionMemory:
		return "memory"
	case SectionGlobal:
		return "global"
	case SectionExport:
		return "export"
	case SectionStart:
		return "start"
	case SectionElement:
		return "element"
	case SectionCode:
		return "code"
	case SectionData:
		return "data"
	case SectionDataCount:
		return "data count"
	case SectionTag:
		return "tag"
	default:
		return fmt.Sprintf("section %d", id)
	}
}
