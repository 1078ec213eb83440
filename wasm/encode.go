package wasm

import (
	"fmt"

	"github.com/wippyai/wasm-ir/wasm/internal/binary"
)

// SectionEncoder is a section body ready to be appended to a module.
type SectionEncoder interface {
	SectionID() byte
	Encode() ([]byte, error)
}

// Module assembles a binary module from sections in the order they are
// added. The first error is sticky and reported by Finish.
type Module struct {
	w   *binary.Writer
	err error
}

// NewModule starts a module with the standard header.
func NewModule() *Module {
	w := binary.NewWriter()
	w.WriteU32LE(Magic)
	w.WriteU32LE(uint32(Version))
	return &Module{w: w}
}

// Section appends an encoded section.
func (m *Module) Section(s SectionEncoder) *Module {
	if m.err != nil {
		return m
	}
	body, err := s.Encode()
	if err != nil {
		m.err = fmt.Errorf("%s section: %w", SectionName(s.SectionID()), err)
		return m
	}
	writeSection(m.w, s.SectionID(), body)
	return m
}

// RawSection appends a section body verbatim.
func (m *Module) RawSection(id byte, body []byte) *Module {
	if m.err == nil {
		writeSection(m.w, id, body)
	}
	return m
}

// Finish returns the module bytes.
func (m *Module) Finish() ([]byte, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.w.Bytes(), nil
}

func writeSection(w *binary.Writer, id byte, data []byte) {
	w.Byte(id)
	w.WriteU32(uint32(len(data)))
	w.WriteBytes(data)
}

// ConstExpr is a constant expression without its terminating end.
type ConstExpr []Instruction

func writeConstExpr(w *binary.Writer, expr ConstExpr) error {
	for _, instr := range expr {
		if err := EncodeInstruction(w, instr); err != nil {
			return err
		}
	}
	w.Byte(OpEnd)
	return nil
}

// vecSection accumulates the items of a vector-shaped section.
type vecSection struct {
	w     binary.Writer
	err   error
	count uint32
}

func (s *vecSection) add(fn func(w *binary.Writer) error) {
	if s.err != nil {
		return
	}
	if err := fn(&s.w); err != nil {
		s.err = fmt.Errorf("item %d: %w", s.count, err)
		return
	}
	s.count++
}

// Len returns the number of items added so far.
func (s *vecSection) Len() uint32 {
	return s.count
}

// Encode returns the section body.
func (s *vecSection) Encode() ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := binary.NewWriter()
	out.WriteU32(s.count)
	out.WriteBytes(s.w.Bytes())
	return out.Bytes(), nil
}

// TypeEncoder builds a type section.
type TypeEncoder struct{ vecSection }

func (*TypeEncoder) SectionID() byte { return SectionType }

// Func adds a final function type with no supertypes.
func (e *TypeEncoder) Func(params, results []ValType) *TypeEncoder {
	e.add(func(w *binary.Writer) error {
		w.Byte(FuncTypeByte)
		if err := writeValTypes(w, params); err != nil {
			return err
		}
		return writeValTypes(w, results)
	})
	return e
}

func writeValTypes(w *binary.Writer, types []ValType) error {
	w.WriteU32(uint32(len(types)))
	for _, t := range types {
		if err := writeValType(w, t); err != nil {
			return err
		}
	}
	return nil
}

// ImportEncoder builds an import section using the single-import form.
type ImportEncoder struct{ vecSection }

func (*ImportEncoder) SectionID() byte { return SectionImport }

// Import adds an import.
func (e *ImportEncoder) Import(module, name string, ty TypeRef) *ImportEncoder {
	e.add(func(w *binary.Writer) error {
		w.WriteName(module)
		w.WriteName(name)
		return writeTypeRef(w, ty)
	})
	return e
}

func writeTypeRef(w *binary.Writer, ty TypeRef) error {
	w.Byte(ty.Kind)
	switch ty.Kind {
	case KindFunc:
		w.WriteU32(ty.FuncIdx)
	case KindTable:
		if ty.Table == nil {
			return fmt.Errorf("table import without table type")
		}
		writeRefType(w, ty.Table.ElemType)
		writeLimits(w, ty.Table.Limits)
	case KindMemory:
		if ty.Memory == nil {
			return fmt.Errorf("memory import without memory type")
		}
		writeLimits(w, ty.Memory.Limits)
	case KindGlobal:
		if ty.Global == nil {
			return fmt.Errorf("global import without global type")
		}
		return writeGlobalType(w, *ty.Global)
	case KindTag:
		if ty.Tag == nil {
			return fmt.Errorf("tag import without tag type")
		}
		writeTagType(w, *ty.Tag)
	default:
		return fmt.Errorf("invalid external kind 0x%02x", ty.Kind)
	}
	return nil
}

// FunctionEncoder builds a function section.
type FunctionEncoder struct{ vecSection }

func (*FunctionEncoder) SectionID() byte { return SectionFunction }

// Function declares a function with the given type index.
func (e *FunctionEncoder) Function(typeIdx uint32) *FunctionEncoder {
	e.add(func(w *binary.Writer) error {
		w.WriteU32(typeIdx)
		return nil
	})
	return e
}

// TableEncoder builds a table section.
type TableEncoder struct{ vecSection }

func (*TableEncoder) SectionID() byte { return SectionTable }

// Table adds a table. A non-nil Init is written with the initializer prefix.
func (e *TableEncoder) Table(t TableType) *TableEncoder {
	e.add(func(w *binary.Writer) error {
		if t.Init != nil {
			// Table with init expression: 0x40 0x00 prefix
			w.Byte(TableInitPrefix)
			w.Byte(TableInitReserved)
		}
		writeRefType(w, t.ElemType)
		writeLimits(w, t.Limits)
		if t.Init != nil {
			return writeConstExpr(w, trimEnd(t.Init))
		}
		return nil
	})
	return e
}

func trimEnd(instrs []Instruction) ConstExpr {
	if n := len(instrs); n > 0 && instrs[n-1].Opcode == OpEnd {
		return instrs[:n-1]
	}
	return instrs
}

func writeLimits(w *binary.Writer, l Limits) {
	var flags byte
	if l.Max != nil {
		flags |= LimitsHasMax
	}
	if l.Shared {
		flags |= LimitsShared
	}
	if l.Is64 {
		flags |= Limits64
	}
	if l.PageSizeLog2 != nil {
		flags |= LimitsPageSize
	}
	w.Byte(flags)

	if l.Is64 {
		w.WriteU64(l.Min)
		if l.Max != nil {
			w.WriteU64(*l.Max)
		}
	} else {
		w.WriteU32(uint32(l.Min))
		if l.Max != nil {
			w.WriteU32(uint32(*l.Max))
		}
	}
	if l.PageSizeLog2 != nil {
		w.WriteU32(*l.PageSizeLog2)
	}
}

// MemoryEncoder builds a memory section.
type MemoryEncoder struct{ vecSection }

func (*MemoryEncoder) SectionID() byte { return SectionMemory }

// Memory adds a memory.
func (e *MemoryEncoder) Memory(m MemoryType) *MemoryEncoder {
	e.add(func(w *binary.Writer) error {
		writeLimits(w, m.Limits)
		return nil
	})
	return e
}

// TagEncoder builds a tag section.
type TagEncoder struct{ vecSection }

func (*TagEncoder) SectionID() byte { return SectionTag }

// Tag adds a tag.
func (e *TagEncoder) Tag(t TagType) *TagEncoder {
	e.add(func(w *binary.Writer) error {
		writeTagType(w, t)
		return nil
	})
	return e
}

func writeTagType(w *binary.Writer, t TagType) {
	w.Byte(t.Attribute)
	w.WriteU32(t.TypeIdx)
}

// GlobalEncoder builds a global section.
type GlobalEncoder struct{ vecSection }

func (*GlobalEncoder) SectionID() byte { return SectionGlobal }

// Global adds a global with its initializer.
func (e *GlobalEncoder) Global(t GlobalType, init ConstExpr) *GlobalEncoder {
	e.add(func(w *binary.Writer) error {
		if err := writeGlobalType(w, t); err != nil {
			return err
		}
		return writeConstExpr(w, init)
	})
	return e
}

func writeGlobalType(w *binary.Writer, g GlobalType) error {
	if err := writeValType(w, g.Content); err != nil {
		return err
	}
	var flags byte
	if g.Mutable {
		flags |= GlobalMutable
	}
	if g.Shared {
		flags |= GlobalShared
	}
	w.Byte(flags)
	return nil
}

// ExportEncoder builds an export section.
type ExportEncoder struct{ vecSection }

func (*ExportEncoder) SectionID() byte { return SectionExport }

// Export adds an export.
func (e *ExportEncoder) Export(name string, kind byte, index uint32) *ExportEncoder {
	e.add(func(w *binary.Writer) error {
		if kind > KindTag {
			return fmt.Errorf("invalid external kind 0x%02x", kind)
		}
		w.WriteName(name)
		w.Byte(kind)
		w.WriteU32(index)
		return nil
	})
	return e
}

// StartEncoder builds a start section.
type StartEncoder struct {
	Func uint32
}

func (*StartEncoder) SectionID() byte { return SectionStart }

// Encode returns the section body.
func (s *StartEncoder) Encode() ([]byte, error) {
	w := binary.NewWriter()
	w.WriteU32(s.Func)
	return w.Bytes(), nil
}

// ElementItems are the contents of an element segment: function indices,
// or constant expressions of type Type.
type ElementItems struct {
	Funcs []uint32
	Exprs []ConstExpr
	Type  RefType
	// UsesExprs selects Exprs over Funcs.
	UsesExprs bool
}

// ElementEncoder builds an element section.
type ElementEncoder struct{ vecSection }

func (*ElementEncoder) SectionID() byte { return SectionElement }

// Active adds an active segment. A nil table uses the implicit table 0 form
// when the item type allows it.
func (e *ElementEncoder) Active(table *uint32, offset ConstExpr, items ElementItems) *ElementEncoder {
	e.add(func(w *binary.Writer) error {
		implicit := table == nil && (!items.UsesExprs || isFuncRef(items.Type))
		var flags uint32
		if !implicit {
			flags |= elemFlagExplicitTable
		}
		if items.UsesExprs {
			flags |= elemFlagExprs
		}
		w.WriteU32(flags)
		if !implicit {
			var idx uint32
			if table != nil {
				idx = *table
			}
			w.WriteU32(idx)
		}
		if err := writeConstExpr(w, offset); err != nil {
			return err
		}
		return writeElementItems(w, items, !implicit)
	})
	return e
}

// Passive adds a passive segment.
func (e *ElementEncoder) Passive(items ElementItems) *ElementEncoder {
	return e.segment(elemFlagPassiveOrDeclarative, items)
}

// Declared adds a declarative segment.
func (e *ElementEncoder) Declared(items ElementItems) *ElementEncoder {
	return e.segment(elemFlagPassiveOrDeclarative|elemFlagDeclarative, items)
}

func (e *ElementEncoder) segment(flags uint32, items ElementItems) *ElementEncoder {
	e.add(func(w *binary.Writer) error {
		if items.UsesExprs {
			flags |= elemFlagExprs
		}
		w.WriteU32(flags)
		return writeElementItems(w, items, true)
	})
	return e
}

func isFuncRef(r RefType) bool {
	return r.Nullable && r.IsFunc()
}

func writeElementItems(w *binary.Writer, items ElementItems, withType bool) error {
	if items.UsesExprs {
		if withType {
			writeRefType(w, items.Type)
		}
		w.WriteU32(uint32(len(items.Exprs)))
		for _, expr := range items.Exprs {
			if err := writeConstExpr(w, expr); err != nil {
				return err
			}
		}
		return nil
	}
	if withType {
		w.Byte(0x00) // elemkind funcref
	}
	w.WriteU32(uint32(len(items.Funcs)))
	for _, f := range items.Funcs {
		w.WriteU32(f)
	}
	return nil
}

// DataCountEncoder builds a data count section.
type DataCountEncoder struct {
	Count uint32
}

func (*DataCountEncoder) SectionID() byte { return SectionDataCount }

// Encode returns the section body.
func (d *DataCountEncoder) Encode() ([]byte, error) {
	w := binary.NewWriter()
	w.WriteU32(d.Count)
	return w.Bytes(), nil
}

// CodeEncoder builds a code section.
type CodeEncoder struct{ vecSection }

func (*CodeEncoder) SectionID() byte { return SectionCode }

// Function adds a function body.
func (e *CodeEncoder) Function(f *FuncBodyEncoder) *CodeEncoder {
	e.add(func(w *binary.Writer) error {
		body, err := f.Encode()
		if err != nil {
			return err
		}
		w.WriteVec(body)
		return nil
	})
	return e
}

// FuncBodyEncoder builds a single function body.
type FuncBodyEncoder struct {
	w   *binary.Writer
	err error
}

// NewFuncBody starts a body with the given local declarations.
func NewFuncBody(locals []LocalEntry) *FuncBodyEncoder {
	f := &FuncBodyEncoder{w: binary.NewWriter()}
	f.w.WriteU32(uint32(len(locals)))
	for _, l := range locals {
		f.w.WriteU32(l.Count)
		if err := writeValType(f.w, l.Type); err != nil && f.err == nil {
			f.err = err
		}
	}
	return f
}

// Instruction appends an instruction.
func (f *FuncBodyEncoder) Instruction(instr Instruction) *FuncBodyEncoder {
	if f.err == nil {
		f.err = EncodeInstruction(f.w, instr)
	}
	return f
}

// Encode returns the body bytes without the size prefix.
func (f *FuncBodyEncoder) Encode() ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.w.Bytes(), nil
}

// DataEncoder builds a data section.
type DataEncoder struct{ vecSection }

func (*DataEncoder) SectionID() byte { return SectionData }

// Active adds an active segment.
func (e *DataEncoder) Active(memory uint32, offset ConstExpr, data []byte) *DataEncoder {
	e.add(func(w *binary.Writer) error {
		if memory == 0 {
			w.WriteU32(0)
		} else {
			w.WriteU32(2)
			w.WriteU32(memory)
		}
		if err := writeConstExpr(w, offset); err != nil {
			return err
		}
		w.WriteVec(data)
		return nil
	})
	return e
}

// Passive adds a passive segment.
func (e *DataEncoder) Passive(data []byte) *DataEncoder {
	e.add(func(w *binary.Writer) error {
		w.WriteU32(1)
		w.WriteVec(data)
		return nil
	})
	return e
}
