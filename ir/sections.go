package ir

import (
	stderrors "errors"
	"fmt"
	"strconv"

	"github.com/wippyai/wasm-ir/errors"
	"github.com/wippyai/wasm-ir/wasm"
)

// atItem attaches the section name and item index to err.
func atItem(phase errors.Phase, section string, index int, err error) error {
	if err == nil {
		return nil
	}
	e, ok := err.(*errors.Error)
	if !ok {
		return &errors.Error{
			Phase:   phase,
			Kind:    errors.KindInvalidData,
			Section: section,
			Path:    []string{strconv.Itoa(index)},
			Cause:   err,
		}
	}
	if e.Section == "" {
		e.Section = section
	}
	e.Path = append([]string{strconv.Itoa(index)}, e.Path...)
	return e
}

func unsupported(section, format string, args ...any) error {
	return errors.Unsupported(errors.PhaseDecode, section, fmt.Sprintf(format, args...))
}

func missing(section, field string) error {
	return errors.FieldMissing(errors.PhaseEncode, section, field)
}

func (c *Codec) decodeTypeSection(s *wasm.TypeSection) (*TypeSection, error) {
	out := &TypeSection{Types: make([]SubType, 0, len(s.Groups))}
	for i, g := range s.Groups {
		if len(g.Types) != 1 {
			return nil, atItem(errors.PhaseDecode, "type", i,
				unsupported("type", "recursion groups with %d types are not supported", len(g.Types)))
		}
		sub := g.Types[0]
		var err error
		switch {
		case !sub.Final:
			err = unsupported("type", "non-final types are not supported")
		case len(sub.Supertypes) > 0:
			err = unsupported("type", "supertypes are not supported")
		case sub.Shared:
			err = unsupported("type", "shared composite types are not supported")
		case sub.Kind != wasm.CompositeFunc || sub.Func == nil:
			err = unsupported("type", "only function types are supported")
		}
		if err != nil {
			return nil, atItem(errors.PhaseDecode, "type", i, err)
		}
		params, err := decodeValueTypes(sub.Func.Params)
		if err != nil {
			return nil, atItem(errors.PhaseDecode, "type", i, err)
		}
		results, err := decodeValueTypes(sub.Func.Results)
		if err != nil {
			return nil, atItem(errors.PhaseDecode, "type", i, err)
		}
		out.Types = append(out.Types, SubType{Func: &FuncType{Params: params, Results: results}})
	}
	return out, nil
}

func (c *Codec) encodeTypeSection(s *TypeSection) (wasm.SectionEncoder, error) {
	enc := &wasm.TypeEncoder{}
	for i, t := range s.Types {
		if t.Func == nil {
			return nil, atItem(errors.PhaseEncode, "type", i, missing("type", "function type"))
		}
		params, err := encodeValueTypes(t.Func.Params)
		if err != nil {
			return nil, atItem(errors.PhaseEncode, "type", i, err)
		}
		results, err := encodeValueTypes(t.Func.Results)
		if err != nil {
			return nil, atItem(errors.PhaseEncode, "type", i, err)
		}
		enc.Func(params, results)
	}
	return enc, nil
}

func (c *Codec) decodeImportSection(s *wasm.ImportSection) (*ImportSection, error) {
	out := &ImportSection{Imports: make([]TypeRefFunc, 0, len(s.Imports))}
	for i, imp := range s.Imports {
		if imp.Form != wasm.ImportSingle {
			return nil, atItem(errors.PhaseDecode, "import", i,
				unsupported("import", "compact import groups are not supported"))
		}
		if imp.Type.Kind != wasm.KindFunc {
			return nil, atItem(errors.PhaseDecode, "import", i,
				unsupported("import", "only function imports are supported, got %s import %q.%q",
					ExternalKind(imp.Type.Kind), imp.Module, imp.Name))
		}
		out.Imports = append(out.Imports, TypeRefFunc{
			Module:       String(imp.Module),
			Name:         String(imp.Name),
			FunctionType: Uint32(imp.Type.FuncIdx),
		})
	}
	return out, nil
}

func (c *Codec) encodeImportSection(s *ImportSection) (wasm.SectionEncoder, error) {
	enc := &wasm.ImportEncoder{}
	for i, imp := range s.Imports {
		var err error
		switch {
		case imp.Module == nil:
			err = missing("import", "module")
		case imp.Name == nil:
			err = missing("import", "name")
		case imp.FunctionType == nil:
			err = missing("import", "function type")
		}
		if err != nil {
			return nil, atItem(errors.PhaseEncode, "import", i, err)
		}
		enc.Import(*imp.Module, *imp.Name, wasm.TypeRef{Kind: wasm.KindFunc, FuncIdx: *imp.FunctionType})
	}
	return enc, nil
}

func (c *Codec) decodeFunctionSection(s *wasm.FunctionSection) (*FunctionSection, error) {
	return &FunctionSection{TypeIdxs: append([]uint32(nil), s.TypeIdxs...)}, nil
}

func (c *Codec) encodeFunctionSection(s *FunctionSection) (wasm.SectionEncoder, error) {
	enc := &wasm.FunctionEncoder{}
	for _, idx := range s.TypeIdxs {
		enc.Function(idx)
	}
	return enc, nil
}

func (c *Codec) decodeTableSection(s *wasm.TableSection) (*TableSection, error) {
	out := &TableSection{Types: make([]TableType, 0, len(s.Tables))}
	for i, t := range s.Tables {
		if t.Init != nil {
			return nil, atItem(errors.PhaseDecode, "table", i,
				unsupported("table", "table initializer expressions are not supported"))
		}
		if t.Limits.Shared {
			return nil, atItem(errors.PhaseDecode, "table", i,
				unsupported("table", "shared tables are not supported"))
		}
		ref, err := decodeRefType(t.ElemType)
		if err != nil {
			return nil, atItem(errors.PhaseDecode, "table", i, err)
		}
		tt := TableType{
			ReferenceType: ref,
			Table64:       Bool(t.Limits.Is64),
			Initial:       Uint64(t.Limits.Min),
			Shared:        Bool(false),
		}
		if t.Limits.Max != nil {
			tt.Maximum = Uint64(*t.Limits.Max)
		}
		out.Types = append(out.Types, tt)
	}
	return out, nil
}

func (c *Codec) encodeTableSection(s *TableSection) (wasm.SectionEncoder, error) {
	enc := &wasm.TableEncoder{}
	for i, t := range s.Types {
		var err error
		switch {
		case t.Table64 == nil:
			err = missing("table", "table64")
		case t.Initial == nil:
			err = missing("table", "initial")
		case t.Shared == nil:
			err = missing("table", "shared")
		}
		if err != nil {
			return nil, atItem(errors.PhaseEncode, "table", i, err)
		}
		ref, err := encodeRefType(t.ReferenceType)
		if err != nil {
			return nil, atItem(errors.PhaseEncode, "table", i, err)
		}
		enc.Table(wasm.TableType{
			ElemType: ref,
			Limits: wasm.Limits{
				Min:    *t.Initial,
				Max:    copyUint64(t.Maximum),
				Shared: *t.Shared,
				Is64:   *t.Table64,
			},
		})
	}
	return enc, nil
}

func (c *Codec) decodeMemorySection(s *wasm.MemorySection) (*MemorySection, error) {
	out := &MemorySection{MemoryTypes: make([]MemoryType, 0, len(s.Memories))}
	for i, m := range s.Memories {
		if m.Limits.Shared {
			return nil, atItem(errors.PhaseDecode, "memory", i,
				unsupported("memory", "shared memories are not supported"))
		}
		out.MemoryTypes = append(out.MemoryTypes, MemoryType{
			Memory64:     Bool(m.Limits.Is64),
			Shared:       Bool(false),
			Initial:      Uint64(m.Limits.Min),
			Maximum:      copyUint64(m.Limits.Max),
			PageSizeLog2: copyUint32(m.Limits.PageSizeLog2),
		})
	}
	return out, nil
}

func (c *Codec) encodeMemorySection(s *MemorySection) (wasm.SectionEncoder, error) {
	enc := &wasm.MemoryEncoder{}
	for i, m := range s.MemoryTypes {
		var err error
		switch {
		case m.Memory64 == nil:
			err = missing("memory", "memory64")
		case m.Shared == nil:
			err = missing("memory", "shared")
		case m.Initial == nil:
			err = missing("memory", "initial")
		}
		if err != nil {
			return nil, atItem(errors.PhaseEncode, "memory", i, err)
		}
		enc.Memory(wasm.MemoryType{Limits: wasm.Limits{
			Min:          *m.Initial,
			Max:          copyUint64(m.Maximum),
			PageSizeLog2: copyUint32(m.PageSizeLog2),
			Shared:       *m.Shared,
			Is64:         *m.Memory64,
		}})
	}
	return enc, nil
}

func (c *Codec) decodeGlobalSection(s *wasm.GlobalSection) (*GlobalSection, error) {
	out := &GlobalSection{Globals: make([]Global, 0, len(s.Globals))}
	for i, g := range s.Globals {
		content, err := decodeValueType(g.Type.Content)
		if err != nil {
			return nil, atItem(errors.PhaseDecode, "global", i, err)
		}
		initExpr, err := decodeExpression(g.Init, c.features)
		if err != nil {
			return nil, atItem(errors.PhaseDecode, "global", i, err)
		}
		out.Globals = append(out.Globals, Global{
			Type: &GlobalType{
				ContentType: content,
				Mutable:     Bool(g.Type.Mutable),
				Shared:      Bool(g.Type.Shared),
			},
			InitExpr: initExpr,
		})
	}
	return out, nil
}

func (c *Codec) encodeGlobalSection(s *GlobalSection) (wasm.SectionEncoder, error) {
	enc := &wasm.GlobalEncoder{}
	for i, g := range s.Globals {
		var err error
		switch {
		case g.Type == nil:
			err = missing("global", "global type")
		case g.Type.Mutable == nil:
			err = missing("global", "mutable")
		case g.Type.Shared == nil:
			err = missing("global", "shared")
		case g.InitExpr == nil:
			err = missing("global", "init expr")
		}
		if err != nil {
			return nil, atItem(errors.PhaseEncode, "global", i, err)
		}
		content, err := encodeValueType(g.Type.ContentType)
		if err != nil {
			return nil, atItem(errors.PhaseEncode, "global", i, err)
		}
		initExpr, err := encodeExpression(g.InitExpr, c.features)
		if err != nil {
			return nil, atItem(errors.PhaseEncode, "global", i, err)
		}
		enc.Global(wasm.GlobalType{Content: content, Mutable: *g.Type.Mutable, Shared: *g.Type.Shared}, initExpr)
	}
	return enc, nil
}

func (c *Codec) decodeExportSection(s *wasm.ExportSection) (*ExportSection, error) {
	out := &ExportSection{Exports: make([]Export, 0, len(s.Exports))}
	for i, e := range s.Exports {
		if e.Kind > wasm.KindTag {
			return nil, atItem(errors.PhaseDecode, "export", i,
				errors.InvalidDiscriminant(errors.PhaseDecode, "export", "external kind", e.Kind))
		}
		out.Exports = append(out.Exports, Export{
			Name:  String(e.Name),
			Kind:  ExternalKind(e.Kind),
			Index: Uint32(e.Index),
		})
	}
	return out, nil
}

func (c *Codec) encodeExportSection(s *ExportSection) (wasm.SectionEncoder, error) {
	enc := &wasm.ExportEncoder{}
	for i, e := range s.Exports {
		var err error
		switch {
		case e.Name == nil:
			err = missing("export", "name")
		case e.Index == nil:
			err = missing("export", "index")
		case e.Kind == ExternalKindFuncExact:
			err = errors.Unsupported(errors.PhaseEncode, "export", "func_exact exports cannot be encoded")
		case e.Kind < ExternalKindFunc || e.Kind > ExternalKindTag:
			err = errors.InvalidDiscriminant(errors.PhaseEncode, "export", "external kind", int32(e.Kind))
		}
		if err != nil {
			return nil, atItem(errors.PhaseEncode, "export", i, err)
		}
		enc.Export(*e.Name, byte(e.Kind), *e.Index)
	}
	return enc, nil
}

func (c *Codec) decodeElementSection(s *wasm.ElementSection) (*ElementSection, error) {
	out := &ElementSection{Elements: make([]Element, 0, len(s.Elements))}
	for i, e := range s.Elements {
		el, err := c.decodeElement(e)
		if err != nil {
			return nil, atItem(errors.PhaseDecode, "element", i, err)
		}
		out.Elements = append(out.Elements, el)
	}
	return out, nil
}

func (c *Codec) decodeElement(e wasm.Element) (Element, error) {
	kind := &ElementKind{}
	switch e.Mode {
	case wasm.ElemModeActive:
		offset, err := decodeExpression(e.Offset, c.features)
		if err != nil {
			return Element{}, err
		}
		kind.Type = ElementKindActive
		kind.TableIndex = copyUint32(e.Table)
		kind.Expression = offset
	case wasm.ElemModePassive:
		kind.Type = ElementKindPassive
	case wasm.ElemModeDeclarative:
		kind.Type = ElementKindDeclared
	default:
		return Element{}, errors.InvalidDiscriminant(errors.PhaseDecode, "element", "element mode", e.Mode)
	}

	if !e.UsesExprs {
		return Element{Kind: kind, Items: &ElementFunctions{Functions: append([]uint32(nil), e.Funcs...)}}, nil
	}
	ref, err := decodeRefType(e.RefType)
	if err != nil {
		return Element{}, err
	}
	items := &ElementExpressions{ReferenceType: ref, Expressions: make([]Expression, 0, len(e.Exprs))}
	for _, raw := range e.Exprs {
		expr, err := decodeExpression(raw, c.features)
		if err != nil {
			return Element{}, err
		}
		items.Expressions = append(items.Expressions, *expr)
	}
	return Element{Kind: kind, Items: items}, nil
}

func (c *Codec) encodeElementSection(s *ElementSection) (wasm.SectionEncoder, error) {
	enc := &wasm.ElementEncoder{}
	for i, e := range s.Elements {
		if err := c.encodeElement(enc, e); err != nil {
			return nil, atItem(errors.PhaseEncode, "element", i, err)
		}
	}
	return enc, nil
}

func (c *Codec) encodeElement(enc *wasm.ElementEncoder, e Element) error {
	if e.Kind == nil {
		return missing("element", "element kind")
	}
	var items wasm.ElementItems
	switch it := e.Items.(type) {
	case *ElementFunctions:
		if it == nil {
			return missing("element", "items")
		}
		items.Funcs = it.Functions
		items.Type = wasm.FuncRef.Ref
	case *ElementExpressions:
		if it == nil {
			return missing("element", "items")
		}
		ref, err := encodeRefType(it.ReferenceType)
		if err != nil {
			return err
		}
		items.UsesExprs = true
		items.Type = ref
		items.Exprs = make([]wasm.ConstExpr, 0, len(it.Expressions))
		for j := range it.Expressions {
			expr, err := encodeExpression(&it.Expressions[j], c.features)
			if err != nil {
				return err
			}
			items.Exprs = append(items.Exprs, expr)
		}
	case nil:
		return missing("element", "items")
	default:
		return errors.InvalidDiscriminant(errors.PhaseEncode, "element", "element items", fmt.Sprintf("%T", e.Items))
	}

	switch e.Kind.Type {
	case ElementKindActive:
		if e.Kind.Expression == nil {
			return missing("element", "expression")
		}
		offset, err := encodeExpression(e.Kind.Expression, c.features)
		if err != nil {
			return err
		}
		enc.Active(copyUint32(e.Kind.TableIndex), offset, items)
	case ElementKindPassive:
		enc.Passive(items)
	case ElementKindDeclared:
		enc.Declared(items)
	default:
		return errors.InvalidDiscriminant(errors.PhaseEncode, "element", "element kind type", int32(e.Kind.Type))
	}
	return nil
}

func (c *Codec) decodeCodeEntry(s *wasm.CodeSectionEntry) (*CodeSectionEntry, error) {
	out := &CodeSectionEntry{Locals: make([]Locals, 0, len(s.Body.Locals))}
	for _, l := range s.Body.Locals {
		vt, err := decodeValueType(l.Type)
		if err != nil {
			return nil, errors.WrapSection(errors.PhaseDecode, "code", err)
		}
		out.Locals = append(out.Locals, Locals{Count: Uint32(l.Count), ValueType: vt})
	}

	r := s.Body.Reader()
	for !r.EOF() {
		instr, err := r.Next()
		if stderrors.Is(err, wasm.ErrUnknownOpcode) {
			return nil, errors.New(errors.PhaseDecode, errors.KindUnsupportedOperator).
				Section("code").
				Path(strconv.Itoa(len(out.Body))).
				Detail("got unsupported operator").
				Cause(err).
				Build()
		}
		if err != nil {
			return nil, errors.WrapSection(errors.PhaseDecode, "code", err)
		}
		op, err := decodeOperator(instr, c.features)
		if err != nil {
			return nil, atItem(errors.PhaseDecode, "code", len(out.Body), err)
		}
		out.Body = append(out.Body, op)
	}
	return out, nil
}

func (c *Codec) encodeCodeEntry(s *CodeSectionEntry) (*wasm.FuncBodyEncoder, error) {
	locals := make([]wasm.LocalEntry, 0, len(s.Locals))
	for i, l := range s.Locals {
		if l.Count == nil {
			return nil, atItem(errors.PhaseEncode, "code", i, missing("code", "count"))
		}
		vt, err := encodeValueType(l.ValueType)
		if err != nil {
			return nil, atItem(errors.PhaseEncode, "code", i, err)
		}
		locals = append(locals, wasm.LocalEntry{Count: *l.Count, Type: vt})
	}

	if n := len(s.Body); n == 0 || s.Body[n-1].OpCode != OpEnd {
		return nil, errors.InvalidData(errors.PhaseEncode, "code", "function body must end with end")
	}
	body := wasm.NewFuncBody(locals)
	for i, op := range s.Body {
		instr, err := encodeOperator(op, c.features)
		if err != nil {
			return nil, atItem(errors.PhaseEncode, "code", i, err)
		}
		body.Instruction(instr)
	}
	return body, nil
}

// usesDataSegments reports whether body refers to data segments by index,
// which requires a data count section.
func usesDataSegments(s *CodeSectionEntry) bool {
	for _, op := range s.Body {
		if op.OpCode == OpMemoryInit || op.OpCode == OpDataDrop {
			return true
		}
	}
	return false
}

func (c *Codec) decodeDataSection(s *wasm.DataSection) (*DataSection, error) {
	out := &DataSection{Datas: make([]Data, 0, len(s.Segments))}
	for i, seg := range s.Segments {
		kind := &DataKind{}
		switch seg.Mode {
		case wasm.DataModeActive:
			offset, err := decodeExpression(seg.Offset, c.features)
			if err != nil {
				return nil, atItem(errors.PhaseDecode, "data", i, err)
			}
			kind.Type = DataKindActive
			kind.MemoryIndex = Uint32(seg.Memory)
			kind.Expression = offset
		case wasm.DataModePassive:
			kind.Type = DataKindPassive
		default:
			return nil, atItem(errors.PhaseDecode, "data", i,
				errors.InvalidDiscriminant(errors.PhaseDecode, "data", "data mode", seg.Mode))
		}
		out.Datas = append(out.Datas, Data{Kind: kind, Data: append([]byte(nil), seg.Init...)})
	}
	return out, nil
}

func (c *Codec) encodeDataSection(s *DataSection) (wasm.SectionEncoder, error) {
	enc := &wasm.DataEncoder{}
	for i, d := range s.Datas {
		if d.Kind == nil {
			return nil, atItem(errors.PhaseEncode, "data", i, missing("data", "data kind"))
		}
		switch d.Kind.Type {
		case DataKindActive:
			if d.Kind.MemoryIndex == nil {
				return nil, atItem(errors.PhaseEncode, "data", i, missing("data", "memory index"))
			}
			if d.Kind.Expression == nil {
				return nil, atItem(errors.PhaseEncode, "data", i, missing("data", "expression"))
			}
			offset, err := encodeExpression(d.Kind.Expression, c.features)
			if err != nil {
				return nil, atItem(errors.PhaseEncode, "data", i, err)
			}
			enc.Active(*d.Kind.MemoryIndex, offset, d.Data)
		case DataKindPassive:
			enc.Passive(d.Data)
		default:
			return nil, atItem(errors.PhaseEncode, "data", i,
				errors.InvalidDiscriminant(errors.PhaseEncode, "data", "data kind type", int32(d.Kind.Type)))
		}
	}
	return enc, nil
}

func (c *Codec) decodeTagSection(s *wasm.TagSection) (*TagSection, error) {
	out := &TagSection{Tags: make([]TagType, 0, len(s.Tags))}
	for i, t := range s.Tags {
		if t.Attribute != wasm.TagAttributeException {
			return nil, atItem(errors.PhaseDecode, "tag", i,
				unsupported("tag", "only exception tags are supported, got attribute %d", t.Attribute))
		}
		out.Tags = append(out.Tags, TagType{Kind: TagKindException, FunctionTypeIdx: Uint32(t.TypeIdx)})
	}
	return out, nil
}

func (c *Codec) encodeTagSection(s *TagSection) (wasm.SectionEncoder, error) {
	enc := &wasm.TagEncoder{}
	for i, t := range s.Tags {
		if t.FunctionTypeIdx == nil {
			return nil, atItem(errors.PhaseEncode, "tag", i, missing("tag", "function type index"))
		}
		if t.Kind != TagKindException {
			return nil, atItem(errors.PhaseEncode, "tag", i,
				errors.InvalidDiscriminant(errors.PhaseEncode, "tag", "tag kind", int32(t.Kind)))
		}
		enc.Tag(wasm.TagType{Attribute: wasm.TagAttributeException, TypeIdx: *t.FunctionTypeIdx})
	}
	return enc, nil
}

func copyUint32(p *uint32) *uint32 {
	if p == nil {
		return nil
	}
	return Uint32(*p)
}

func copyUint64(p *uint64) *uint64 {
	if p == nil {
		return nil
	}
	return Uint64(*p)
}
