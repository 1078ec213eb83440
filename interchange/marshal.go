package interchange

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/wippyai/wasm-ir/errors"
	"github.com/wippyai/wasm-ir/ir"
)

// Marshal serializes m in the protobuf wire format described by wasm.proto.
// Missing optional fields are omitted rather than rejected so a partially
// populated module survives a round trip unchanged.
func Marshal(m *ir.Module) ([]byte, error) {
	if m == nil {
		return nil, errors.NilPointer(errors.PhaseMarshal, "", "module")
	}
	var b []byte
	b = appendOptUint32(b, 1, m.ProtocolVersion)
	if m.Version != nil {
		var v []byte
		v = appendOptUint32(v, 1, m.Version.Number)
		v = appendEnum(v, 2, int32(m.Version.Encoding))
		b = appendMessage(b, 2, v)
	}
	for i, s := range m.Sections {
		sec, err := marshalSection(s)
		if err != nil {
			return nil, at(err, "sections", i)
		}
		b = appendMessage(b, 3, sec)
	}
	return b, nil
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// appendEnum follows proto3 and omits the zero value.
func appendEnum(b []byte, num protowire.Number, v int32) []byte {
	if v == 0 {
		return b
	}
	return appendVarint(b, num, uint64(int64(v)))
}

func appendInt32(b []byte, num protowire.Number, v int32) []byte {
	return appendVarint(b, num, uint64(int64(v)))
}

func appendOptUint32(b []byte, num protowire.Number, p *uint32) []byte {
	if p == nil {
		return b
	}
	return appendVarint(b, num, uint64(*p))
}

func appendOptUint64(b []byte, num protowire.Number, p *uint64) []byte {
	if p == nil {
		return b
	}
	return appendVarint(b, num, *p)
}

func appendOptBool(b []byte, num protowire.Number, p *bool) []byte {
	if p == nil {
		return b
	}
	return appendVarint(b, num, protowire.EncodeBool(*p))
}

func appendOptString(b []byte, num protowire.Number, p *string) []byte {
	if p == nil {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, *p)
}

func appendPacked(b []byte, num protowire.Number, vs []uint32) []byte {
	if len(vs) == 0 {
		return b
	}
	var packed []byte
	for _, v := range vs {
		packed = protowire.AppendVarint(packed, uint64(v))
	}
	return appendMessage(b, num, packed)
}

func marshalSection(s ir.Section) ([]byte, error) {
	var (
		num  protowire.Number
		body []byte
		err  error
	)
	switch s := s.(type) {
	case *ir.TypeSection:
		if s == nil {
			break
		}
		num, body = 1, marshalTypeSection(s)
	case *ir.ImportSection:
		if s == nil {
			break
		}
		num = 2
		for _, imp := range s.Imports {
			var ib []byte
			ib = appendOptString(ib, 1, imp.Module)
			ib = appendOptString(ib, 2, imp.Name)
			ib = appendOptUint32(ib, 3, imp.FunctionType)
			body = appendMessage(body, 1, ib)
		}
	case *ir.FunctionSection:
		if s == nil {
			break
		}
		num, body = 3, appendPacked(nil, 1, s.TypeIdxs)
	case *ir.TableSection:
		if s == nil {
			break
		}
		num = 4
		for _, t := range s.Types {
			var tb []byte
			tb = appendEnum(tb, 1, int32(t.ReferenceType))
			tb = appendOptBool(tb, 2, t.Table64)
			tb = appendOptUint64(tb, 3, t.Initial)
			tb = appendOptUint64(tb, 4, t.Maximum)
			tb = appendOptBool(tb, 5, t.Shared)
			body = appendMessage(body, 1, tb)
		}
	case *ir.MemorySection:
		if s == nil {
			break
		}
		num = 5
		for _, m := range s.MemoryTypes {
			var mb []byte
			mb = appendOptBool(mb, 1, m.Memory64)
			mb = appendOptBool(mb, 2, m.Shared)
			mb = appendOptUint64(mb, 3, m.Initial)
			mb = appendOptUint64(mb, 4, m.Maximum)
			mb = appendOptUint32(mb, 5, m.PageSizeLog2)
			body = appendMessage(body, 1, mb)
		}
	case *ir.GlobalSection:
		if s == nil {
			break
		}
		num = 6
		body, err = marshalGlobals(s.Globals)
	case *ir.ExportSection:
		if s == nil {
			break
		}
		num = 7
		for _, e := range s.Exports {
			var eb []byte
			eb = appendOptString(eb, 1, e.Name)
			eb = appendEnum(eb, 2, int32(e.Kind))
			eb = appendOptUint32(eb, 3, e.Index)
			body = appendMessage(body, 1, eb)
		}
	case *ir.ElementSection:
		if s == nil {
			break
		}
		num = 8
		body, err = marshalElements(s.Elements)
	case *ir.CodeSectionEntry:
		if s == nil {
			break
		}
		num = 9
		body, err = marshalCode(s)
	case *ir.DataSection:
		if s == nil {
			break
		}
		num = 10
		body, err = marshalDatas(s.Datas)
	case *ir.TagSection:
		if s == nil {
			break
		}
		num = 11
		for _, t := range s.Tags {
			var tb []byte
			tb = appendEnum(tb, 1, int32(t.Kind))
			tb = appendOptUint32(tb, 2, t.FunctionTypeIdx)
			body = appendMessage(body, 1, tb)
		}
	default:
		if s == nil {
			break
		}
		return nil, errors.InvalidDiscriminant(errors.PhaseMarshal, "", "section", fmt.Sprintf("%T", s))
	}
	if err != nil {
		return nil, err
	}
	if num == 0 {
		return nil, errors.NilPointer(errors.PhaseMarshal, "", "section")
	}
	return appendMessage(nil, num, body), nil
}

func marshalValueType(v ir.ValueType) []byte {
	var b []byte
	b = appendEnum(b, 1, int32(v.Type))
	return appendEnum(b, 2, int32(v.Ref))
}

func marshalTypeSection(s *ir.TypeSection) []byte {
	var body []byte
	for _, t := range s.Types {
		var sub []byte
		if t.Func != nil {
			var fb []byte
			for _, p := range t.Func.Params {
				fb = appendMessage(fb, 1, marshalValueType(p))
			}
			for _, r := range t.Func.Results {
				fb = appendMessage(fb, 2, marshalValueType(r))
			}
			sub = appendMessage(sub, 1, fb)
		}
		body = appendMessage(body, 1, sub)
	}
	return body
}

func marshalGlobals(globals []ir.Global) ([]byte, error) {
	var body []byte
	for i, g := range globals {
		var gb []byte
		if g.Type != nil {
			var tb []byte
			tb = appendMessage(tb, 1, marshalValueType(g.Type.ContentType))
			tb = appendOptBool(tb, 2, g.Type.Mutable)
			tb = appendOptBool(tb, 3, g.Type.Shared)
			gb = appendMessage(gb, 1, tb)
		}
		if g.InitExpr != nil {
			eb, err := marshalExpression(g.InitExpr)
			if err != nil {
				return nil, at(err, "globals", i)
			}
			gb = appendMessage(gb, 2, eb)
		}
		body = appendMessage(body, 1, gb)
	}
	return body, nil
}

func marshalExpression(e *ir.Expression) ([]byte, error) {
	var b []byte
	for i, op := range e.Operators {
		ob, err := marshalOperator(op)
		if err != nil {
			return nil, at(err, "operators", i)
		}
		b = appendMessage(b, 1, ob)
	}
	return b, nil
}

func marshalElements(elements []ir.Element) ([]byte, error) {
	var body []byte
	for i, e := range elements {
		var eb []byte
		if e.Kind != nil {
			var kb []byte
			kb = appendEnum(kb, 1, int32(e.Kind.Type))
			kb = appendOptUint32(kb, 2, e.Kind.TableIndex)
			if e.Kind.Expression != nil {
				xb, err := marshalExpression(e.Kind.Expression)
				if err != nil {
					return nil, at(err, "elements", i)
				}
				kb = appendMessage(kb, 3, xb)
			}
			eb = appendMessage(eb, 1, kb)
		}
		switch items := e.Items.(type) {
		case *ir.ElementFunctions:
			if items != nil {
				eb = appendMessage(eb, 2, appendPacked(nil, 1, items.Functions))
			}
		case *ir.ElementExpressions:
			if items != nil {
				var xb []byte
				xb = appendEnum(xb, 1, int32(items.ReferenceType))
				for j := range items.Expressions {
					b, err := marshalExpression(&items.Expressions[j])
					if err != nil {
						return nil, at(at(err, "expressions", j), "elements", i)
					}
					xb = appendMessage(xb, 2, b)
				}
				eb = appendMessage(eb, 3, xb)
			}
		case nil:
		default:
			return nil, at(errors.InvalidDiscriminant(errors.PhaseMarshal, "element", "element items", fmt.Sprintf("%T", items)), "elements", i)
		}
		body = appendMessage(body, 1, eb)
	}
	return body, nil
}

func marshalCode(s *ir.CodeSectionEntry) ([]byte, error) {
	var b []byte
	for _, l := range s.Locals {
		var lb []byte
		lb = appendOptUint32(lb, 1, l.Count)
		lb = appendMessage(lb, 2, marshalValueType(l.ValueType))
		b = appendMessage(b, 1, lb)
	}
	for i, op := range s.Body {
		ob, err := marshalOperator(op)
		if err != nil {
			return nil, at(err, "body", i)
		}
		b = appendMessage(b, 2, ob)
	}
	return b, nil
}

func marshalDatas(datas []ir.Data) ([]byte, error) {
	var body []byte
	for i, d := range datas {
		var db []byte
		if d.Kind != nil {
			var kb []byte
			kb = appendEnum(kb, 1, int32(d.Kind.Type))
			kb = appendOptUint32(kb, 2, d.Kind.MemoryIndex)
			if d.Kind.Expression != nil {
				xb, err := marshalExpression(d.Kind.Expression)
				if err != nil {
					return nil, at(err, "datas", i)
				}
				kb = appendMessage(kb, 3, xb)
			}
			db = appendMessage(db, 1, kb)
		}
		if len(d.Data) > 0 {
			db = appendMessage(db, 2, d.Data)
		}
		body = appendMessage(body, 1, db)
	}
	return body, nil
}

func marshalBlockType(bt ir.BlockType) ([]byte, error) {
	switch t := bt.(type) {
	case nil:
		return nil, nil
	case ir.EmptyBlock:
		return appendInt32(nil, 1, t.Sentinel), nil
	case ir.ValueBlock:
		return appendMessage(nil, 2, marshalValueType(t.Type)), nil
	case ir.FuncBlock:
		return appendVarint(nil, 3, uint64(t.TypeIndex)), nil
	}
	return nil, errors.InvalidDiscriminant(errors.PhaseMarshal, "", "block type", fmt.Sprintf("%T", bt))
}

func marshalOperator(op ir.Operator) ([]byte, error) {
	b := appendVarint(nil, 1, uint64(op.OpCode))
	switch p := op.Payload.(type) {
	case nil:
	case ir.RelativeDepth:
		b = appendVarint(b, 2, uint64(p))
	case ir.Blockty:
		bt, err := marshalBlockType(p.Type)
		if err != nil {
			return nil, err
		}
		b = appendMessage(b, 3, bt)
	case ir.BrTargets:
		var tb []byte
		tb = appendOptUint32(tb, 1, p.Default)
		tb = appendPacked(tb, 2, p.Targets)
		b = appendMessage(b, 4, tb)
	case ir.FunctionIndex:
		b = appendVarint(b, 5, uint64(p))
	case ir.CallIndirect:
		b = appendMessage(b, 6, appendPair(p.TypeIndex, p.TableIndex))
	case ir.LocalIndex:
		b = appendVarint(b, 7, uint64(p))
	case ir.GlobalIndex:
		b = appendVarint(b, 8, uint64(p))
	case ir.MemArg:
		var mb []byte
		mb = appendOptUint32(mb, 1, p.Align)
		mb = appendOptUint32(mb, 2, p.MaxAlign)
		mb = appendOptUint64(mb, 3, p.Offset)
		mb = appendOptUint32(mb, 4, p.Memory)
		b = appendMessage(b, 9, mb)
	case ir.Mem:
		b = appendVarint(b, 10, uint64(p))
	case ir.I32Value:
		b = appendInt32(b, 11, int32(p))
	case ir.I64Value:
		b = appendVarint(b, 12, uint64(p))
	case ir.F32Value:
		b = protowire.AppendTag(b, 13, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, uint32(p))
	case ir.F64Value:
		b = protowire.AppendTag(b, 14, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, uint64(p))
	case ir.MemoryInit:
		b = appendMessage(b, 15, appendPair(p.DataIndex, p.Mem))
	case ir.DataIndex:
		b = appendVarint(b, 16, uint64(p))
	case ir.MemoryCopy:
		b = appendMessage(b, 17, appendPair(p.DstMem, p.SrcMem))
	case ir.TableInit:
		b = appendMessage(b, 18, appendPair(p.ElemIndex, p.Table))
	case ir.ElemIndex:
		b = appendVarint(b, 19, uint64(p))
	case ir.TableCopy:
		b = appendMessage(b, 20, appendPair(p.DstTable, p.SrcTable))
	case ir.TryTable:
		var tb []byte
		if p.Type != nil {
			bt, err := marshalBlockType(p.Type)
			if err != nil {
				return nil, err
			}
			tb = appendMessage(tb, 1, bt)
		}
		for _, c := range p.Catches {
			var cb []byte
			cb = appendEnum(cb, 1, int32(c.Kind))
			cb = appendOptUint32(cb, 2, c.Tag)
			cb = appendOptUint32(cb, 3, c.Label)
			tb = appendMessage(tb, 2, cb)
		}
		b = appendMessage(b, 21, tb)
	case ir.TagIndex:
		b = appendVarint(b, 22, uint64(p))
	case ir.HeapType:
		b = appendInt32(b, 23, int32(p))
	default:
		e := errors.InvalidDiscriminant(errors.PhaseMarshal, "", "payload", fmt.Sprintf("%T", p))
		e.Operator = op.OpCode.String()
		return nil, e
	}
	return b, nil
}

// appendPair encodes the two optional index fields shared by the
// two-immediate payload messages.
func appendPair(first, second *uint32) []byte {
	var b []byte
	b = appendOptUint32(b, 1, first)
	return appendOptUint32(b, 2, second)
}
