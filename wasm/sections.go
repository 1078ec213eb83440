package wasm

import (
	"errors"
	"fmt"

	"github.com/wippyai/wasm-ir/wasm/internal/binary"
)

// maxPrealloc caps slice preallocation from untrusted counts.
const maxPrealloc = 1024

func readU32Vec(r *binary.Reader) ([]uint32, error) {
	count, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	out := make([]uint32, 0, min(count, maxPrealloc))
	for i := uint32(0); i < count; i++ {
		v, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func readValTypeVec(r *binary.Reader) ([]ValType, error) {
	count, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	out := make([]ValType, 0, min(count, maxPrealloc))
	for i := uint32(0); i < count; i++ {
		vt, err := readValType(r)
		if err != nil {
			return nil, err
		}
		out = append(out, vt)
	}
	return out, nil
}

func readTypeSection(r *binary.Reader) ([]RecGroup, error) {
	count, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	groups := make([]RecGroup, 0, min(count, maxPrealloc))
	for i := uint32(0); i < count; i++ {
		b, err := r.PeekByte()
		if err != nil {
			return nil, binary.ErrUnexpectedEOF
		}
		if b != RecTypeByte {
			sub, err := readSubType(r)
			if err != nil {
				return nil, err
			}
			groups = append(groups, RecGroup{Types: []SubType{sub}})
			continue
		}
		_, _ = r.ReadByte()
		n, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		group := RecGroup{Explicit: true, Types: make([]SubType, 0, min(n, maxPrealloc))}
		for j := uint32(0); j < n; j++ {
			sub, err := readSubType(r)
			if err != nil {
				return nil, err
			}
			group.Types = append(group.Types, sub)
		}
		groups = append(groups, group)
	}
	return groups, nil
}

func readSubType(r *binary.Reader) (SubType, error) {
	form, err := r.ReadByte()
	if err != nil {
		return SubType{}, binary.ErrUnexpectedEOF
	}

	switch form {
	case SubTypeByte, SubFinalByte: // 0x50, 0x4F - sub with parents
		supers, err := readU32Vec(r)
		if err != nil {
			return SubType{}, err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return SubType{}, binary.ErrUnexpectedEOF
		}
		sub, err := readCompositeType(r, kind)
		if err != nil {
			return SubType{}, err
		}
		sub.Final = form == SubFinalByte
		sub.Supertypes = supers
		return sub, nil
	default:
		// Shorthand composite type: final with no supertypes
		sub, err := readCompositeType(r, form)
		if err != nil {
			return SubType{}, err
		}
		sub.Final = true
		return sub, nil
	}
}

func readCompositeType(r *binary.Reader, kind byte) (SubType, error) {
	var sub SubType
	if kind == SharedPrefix {
		sub.Shared = true
		next, err := r.ReadByte()
		if err != nil {
			return SubType{}, binary.ErrUnexpectedEOF
		}
		kind = next
	}

	switch kind {
	case FuncTypeByte:
		params, err := readValTypeVec(r)
		if err != nil {
			return SubType{}, err
		}
		results, err := readValTypeVec(r)
		if err != nil {
			return SubType{}, err
		}
		sub.Kind = CompositeFunc
		sub.Func = &FuncType{Params: params, Results: results}
	case StructTypeByte:
		count, err := r.ReadU32()
		if err != nil {
			return SubType{}, err
		}
		sub.Kind = CompositeStruct
		sub.Fields = make([]FieldType, 0, min(count, maxPrealloc))
		for i := uint32(0); i < count; i++ {
			ft, err := readFieldType(r)
			if err != nil {
				return SubType{}, err
			}
			sub.Fields = append(sub.Fields, ft)
		}
	case ArrayTypeByte:
		ft, err := readFieldType(r)
		if err != nil {
			return SubType{}, err
		}
		sub.Kind = CompositeArray
		sub.Fields = []FieldType{ft}
	default:
		return SubType{}, fmt.Errorf("invalid composite type 0x%02x", kind)
	}
	return sub, nil
}

func readFieldType(r *binary.Reader) (FieldType, error) {
	var ft FieldType
	b, err := r.PeekByte()
	if err != nil {
		return FieldType{}, binary.ErrUnexpectedEOF
	}
	if b == PackedI8 || b == PackedI16 {
		_, _ = r.ReadByte()
		ft.Packed = b
	} else {
		ft.Type, err = readValType(r)
		if err != nil {
			return FieldType{}, err
		}
	}
	mut, err := r.ReadByte()
	if err != nil {
		return FieldType{}, binary.ErrUnexpectedEOF
	}
	if mut > 1 {
		return FieldType{}, fmt.Errorf("invalid field mutability 0x%02x", mut)
	}
	ft.Mutable = mut == 1
	return ft, nil
}

func readImportSection(r *binary.Reader) ([]Import, error) {
	count, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	imports := make([]Import, 0, min(count, maxPrealloc))
	for i := uint32(0); i < count; i++ {
		imp, err := readImport(r)
		if err != nil {
			return nil, fmt.Errorf("import %d: %w", i, err)
		}
		imports = append(imports, imp)
	}
	return imports, nil
}

func readImport(r *binary.Reader) (Import, error) {
	module, err := r.ReadName()
	if err != nil {
		return Import{}, err
	}
	name, err := r.ReadName()
	if err != nil {
		return Import{}, err
	}
	imp := Import{Module: module, Name: name}

	if name == "" {
		if b, err := r.PeekByte(); err == nil && (b == ImportCompactItems || b == ImportCompactType) {
			_, _ = r.ReadByte()
			return readCompactImport(r, imp, b)
		}
	}

	imp.Type, err = readTypeRef(r)
	if err != nil {
		return Import{}, err
	}
	return imp, nil
}

func readCompactImport(r *binary.Reader, imp Import, form byte) (Import, error) {
	var shared TypeRef
	if form == ImportCompactType {
		var err error
		shared, err = readTypeRef(r)
		if err != nil {
			return Import{}, err
		}
		imp.Form = ImportCompactSameType
	} else {
		imp.Form = ImportCompactSameModule
	}

	count, err := r.ReadU32()
	if err != nil {
		return Import{}, err
	}
	imp.Items = make([]ImportItem, 0, min(count, maxPrealloc))
	for i := uint32(0); i < count; i++ {
		name, err := r.ReadName()
		if err != nil {
			return Import{}, err
		}
		item := ImportItem{Name: name, Type: shared}
		if form == ImportCompactItems {
			item.Type, err = readTypeRef(r)
			if err != nil {
				return Import{}, err
			}
		}
		imp.Items = append(imp.Items, item)
	}
	return imp, nil
}

func readTypeRef(r *binary.Reader) (TypeRef, error) {
	kind, err := r.ReadByte()
	if err != nil {
		return TypeRef{}, binary.ErrUnexpectedEOF
	}
	ref := TypeRef{Kind: kind}
	switch kind {
	case KindFunc:
		ref.FuncIdx, err = r.ReadU32()
	case KindTable:
		var tt TableType
		tt, err = readTableType(r)
		ref.Table = &tt
	case KindMemory:
		var mt MemoryType
		mt, err = readMemoryType(r)
		ref.Memory = &mt
	case KindGlobal:
		var gt GlobalType
		gt, err = readGlobalType(r)
		ref.Global = &gt
	case KindTag:
		var tt TagType
		tt, err = readTagType(r)
		ref.Tag = &tt
	default:
		return TypeRef{}, fmt.Errorf("invalid external kind 0x%02x", kind)
	}
	if err != nil {
		return TypeRef{}, err
	}
	return ref, nil
}

func readLimits(r *binary.Reader, allowPageSize bool) (Limits, error) {
	flags, err := r.ReadByte()
	if err != nil {
		return Limits{}, binary.ErrUnexpectedEOF
	}
	valid := LimitsHasMax | LimitsShared | Limits64
	if allowPageSize {
		valid |= LimitsPageSize
	}
	if flags&^valid != 0 {
		return Limits{}, fmt.Errorf("invalid limits flags 0x%02x", flags)
	}

	l := Limits{
		Shared: flags&LimitsShared != 0,
		Is64:   flags&Limits64 != 0,
	}
	read := func() (uint64, error) {
		if l.Is64 {
			return r.ReadU64()
		}
		v, err := r.ReadU32()
		return uint64(v), err
	}

	if l.Min, err = read(); err != nil {
		return Limits{}, err
	}
	if flags&LimitsHasMax != 0 {
		hi, err := read()
		if err != nil {
			return Limits{}, err
		}
		l.Max = &hi
	}
	if flags&LimitsPageSize != 0 {
		log2, err := r.ReadU32()
		if err != nil {
			return Limits{}, err
		}
		l.PageSizeLog2 = &log2
	}
	return l, nil
}

func readTableType(r *binary.Reader) (TableType, error) {
	elem, err := readRefType(r)
	if err != nil {
		return TableType{}, err
	}
	limits, err := readLimits(r, false)
	if err != nil {
		return TableType{}, err
	}
	return TableType{ElemType: elem, Limits: limits}, nil
}

func readMemoryType(r *binary.Reader) (MemoryType, error) {
	limits, err := readLimits(r, true)
	if err != nil {
		return MemoryType{}, err
	}
	return MemoryType{Limits: limits}, nil
}

func readGlobalType(r *binary.Reader) (GlobalType, error) {
	content, err := readValType(r)
	if err != nil {
		return GlobalType{}, err
	}
	flags, err := r.ReadByte()
	if err != nil {
		return GlobalType{}, binary.ErrUnexpectedEOF
	}
	if flags&^(GlobalMutable|GlobalShared) != 0 {
		return GlobalType{}, fmt.Errorf("invalid global flags 0x%02x", flags)
	}
	return GlobalType{
		Content: content,
		Mutable: flags&GlobalMutable != 0,
		Shared:  flags&GlobalShared != 0,
	}, nil
}

func readTagType(r *binary.Reader) (TagType, error) {
	attr, err := r.ReadByte()
	if err != nil {
		return TagType{}, binary.ErrUnexpectedEOF
	}
	idx, err := r.ReadU32()
	if err != nil {
		return TagType{}, err
	}
	return TagType{Attribute: attr, TypeIdx: idx}, nil
}

func readTableSection(r *binary.Reader) ([]TableType, error) {
	count, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	tables := make([]TableType, 0, min(count, maxPrealloc))
	for i := uint32(0); i < count; i++ {
		hasInit := false
		if b, err := r.PeekByte(); err == nil && b == TableInitPrefix {
			_, _ = r.ReadByte()
			reserved, err := r.ReadByte()
			if err != nil {
				return nil, binary.ErrUnexpectedEOF
			}
			if reserved != TableInitReserved {
				return nil, fmt.Errorf("table %d: invalid reserved byte 0x%02x", i, reserved)
			}
			hasInit = true
		}
		tt, err := readTableType(r)
		if err != nil {
			return nil, fmt.Errorf("table %d: %w", i, err)
		}
		if hasInit {
			tt.Init, err = readConstExpr(r)
			if err != nil {
				return nil, fmt.Errorf("table %d init: %w", i, err)
			}
		}
		tables = append(tables, tt)
	}
	return tables, nil
}

func readMemorySection(r *binary.Reader) ([]MemoryType, error) {
	count, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	mems := make([]MemoryType, 0, min(count, maxPrealloc))
	for i := uint32(0); i < count; i++ {
		mt, err := readMemoryType(r)
		if err != nil {
			return nil, fmt.Errorf("memory %d: %w", i, err)
		}
		mems = append(mems, mt)
	}
	return mems, nil
}

func readTagSection(r *binary.Reader) ([]TagType, error) {
	count, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	tags := make([]TagType, 0, min(count, maxPrealloc))
	for i := uint32(0); i < count; i++ {
		tt, err := readTagType(r)
		if err != nil {
			return nil, err
		}
		tags = append(tags, tt)
	}
	return tags, nil
}

func readGlobalSection(r *binary.Reader) ([]Global, error) {
	count, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	globals := make([]Global, 0, min(count, maxPrealloc))
	for i := uint32(0); i < count; i++ {
		gt, err := readGlobalType(r)
		if err != nil {
			return nil, fmt.Errorf("global %d: %w", i, err)
		}
		init, err := readConstExpr(r)
		if err != nil {
			return nil, fmt.Errorf("global %d init: %w", i, err)
		}
		globals = append(globals, Global{Type: gt, Init: init})
	}
	return globals, nil
}

func readExportSection(r *binary.Reader) ([]Export, error) {
	count, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	exports := make([]Export, 0, min(count, maxPrealloc))
	for i := uint32(0); i < count; i++ {
		name, err := r.ReadName()
		if err != nil {
			return nil, err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return nil, binary.ErrUnexpectedEOF
		}
		if kind > KindTag {
			return nil, fmt.Errorf("export %q: invalid external kind 0x%02x", name, kind)
		}
		idx, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		exports = append(exports, Export{Name: name, Kind: kind, Index: idx})
	}
	return exports, nil
}

func readElementSection(r *binary.Reader) ([]Element, error) {
	count, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	elems := make([]Element, 0, min(count, maxPrealloc))
	for i := uint32(0); i < count; i++ {
		elem, err := readElement(r)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		elems = append(elems, elem)
	}
	return elems, nil
}

// Element segment flag bits.
const (
	elemFlagPassiveOrDeclarative = 0x01
	elemFlagExplicitTable        = 0x02 // with bit 0 clear
	elemFlagDeclarative          = 0x02 // with bit 0 set
	elemFlagExprs                = 0x04
)

func readElement(r *binary.Reader) (Element, error) {
	flags, err := r.ReadU32()
	if err != nil {
		return Element{}, err
	}
	if flags > 7 {
		return Element{}, fmt.Errorf("invalid element flags %d", flags)
	}

	var elem Element
	elem.UsesExprs = flags&elemFlagExprs != 0
	elem.RefType = FuncRef.Ref

	if flags&elemFlagPassiveOrDeclarative == 0 {
		elem.Mode = ElemModeActive
		if flags&elemFlagExplicitTable != 0 {
			table, err := r.ReadU32()
			if err != nil {
				return Element{}, err
			}
			elem.Table = &table
		}
		elem.Offset, err = readConstExpr(r)
		if err != nil {
			return Element{}, err
		}
	} else if flags&elemFlagDeclarative != 0 {
		elem.Mode = ElemModeDeclarative
	} else {
		elem.Mode = ElemModePassive
	}

	// Flags 0 and 4 use the implicit funcref type.
	if flags != 0 && flags != elemFlagExprs {
		if elem.UsesExprs {
			elem.RefType, err = readRefType(r)
			if err != nil {
				return Element{}, err
			}
		} else {
			kind, err := r.ReadByte()
			if err != nil {
				return Element{}, binary.ErrUnexpectedEOF
			}
			if kind != 0x00 {
				return Element{}, fmt.Errorf("invalid element kind 0x%02x", kind)
			}
		}
	}

	if elem.UsesExprs {
		count, err := r.ReadU32()
		if err != nil {
			return Element{}, err
		}
		elem.Exprs = make([][]Instruction, 0, min(count, maxPrealloc))
		for i := uint32(0); i < count; i++ {
			expr, err := readConstExpr(r)
			if err != nil {
				return Element{}, err
			}
			elem.Exprs = append(elem.Exprs, expr)
		}
	} else {
		elem.Funcs, err = readU32Vec(r)
		if err != nil {
			return Element{}, err
		}
	}
	return elem, nil
}

func readDataSection(r *binary.Reader) ([]DataSegment, error) {
	count, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	segs := make([]DataSegment, 0, min(count, maxPrealloc))
	for i := uint32(0); i < count; i++ {
		seg, err := readDataSegment(r)
		if err != nil {
			return nil, fmt.Errorf("data %d: %w", i, err)
		}
		segs = append(segs, seg)
	}
	return segs, nil
}

func readDataSegment(r *binary.Reader) (DataSegment, error) {
	flags, err := r.ReadU32()
	if err != nil {
		return DataSegment{}, err
	}
	var seg DataSegment
	switch flags {
	case 0:
		seg.Mode = DataModeActive
	case 1:
		seg.Mode = DataModePassive
	case 2:
		seg.Mode = DataModeActive
		seg.Memory, err = r.ReadU32()
		if err != nil {
			return DataSegment{}, err
		}
	default:
		return DataSegment{}, fmt.Errorf("invalid data flags %d", flags)
	}
	if seg.Mode == DataModeActive {
		seg.Offset, err = readConstExpr(r)
		if err != nil {
			return DataSegment{}, err
		}
	}
	size, err := r.ReadU32()
	if err != nil {
		return DataSegment{}, err
	}
	seg.Init, err = r.ReadBytes(int(size))
	if err != nil {
		return DataSegment{}, err
	}
	return seg, nil
}

// ErrMissingEnd is returned for a function body that does not end with end.
var ErrMissingEnd = errors.New("function body must end with end")

func readFuncBody(r *binary.Reader) (FuncBody, error) {
	size, err := r.ReadU32()
	if err != nil {
		return FuncBody{}, err
	}
	br, err := r.Sub(int(size))
	if err != nil {
		return FuncBody{}, err
	}

	groups, err := br.ReadU32()
	if err != nil {
		return FuncBody{}, err
	}
	var total uint64
	locals := make([]LocalEntry, 0, min(groups, maxPrealloc))
	for i := uint32(0); i < groups; i++ {
		n, err := br.ReadU32()
		if err != nil {
			return FuncBody{}, err
		}
		total += uint64(n)
		if total > uint64(^uint32(0)) {
			return FuncBody{}, br.WrapError("locals", errors.New("too many locals"))
		}
		vt, err := readValType(br)
		if err != nil {
			return FuncBody{}, err
		}
		locals = append(locals, LocalEntry{Count: n, Type: vt})
	}

	offset := br.Position()
	code := br.ReadRemaining()
	if len(code) == 0 || code[len(code)-1] != OpEnd {
		return FuncBody{}, br.WrapError("code", ErrMissingEnd)
	}
	return FuncBody{Locals: locals, Code: code, Offset: offset}, nil
}
