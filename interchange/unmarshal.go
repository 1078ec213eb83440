package interchange

import (
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/wippyai/wasm-ir/errors"
	"github.com/wippyai/wasm-ir/ir"
)

// Unmarshal parses a module written by Marshal. Fields absent on the wire
// stay nil in the result; ir.Encode reports them as missing. Unknown
// fields are skipped.
func Unmarshal(data []byte) (*ir.Module, error) {
	m := &ir.Module{}
	err := eachField(data, func(f field) (err error) {
		switch f.num {
		case 1:
			m.ProtocolVersion, err = f.optUint32()
		case 2:
			v := &ir.Version{}
			err = f.each(func(f field) (err error) {
				switch f.num {
				case 1:
					v.Number, err = f.optUint32()
				case 2:
					var e int32
					e, err = f.asInt32()
					v.Encoding = ir.Encoding(e)
				}
				return err
			})
			m.Version = v
		case 3:
			var sec ir.Section
			if sec, err = unmarshalSection(f); err != nil {
				return at(err, "sections", len(m.Sections))
			}
			m.Sections = append(m.Sections, sec)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func eachField(b []byte, fn func(field) error) error {
	fs, err := parseFields(b)
	if err != nil {
		return err
	}
	for _, f := range fs {
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

// each visits the fields of the embedded message f.
func (f field) each(fn func(field) error) error {
	b, err := f.message()
	if err != nil {
		return err
	}
	return eachField(b, fn)
}

func unmarshalSection(f field) (ir.Section, error) {
	var sec ir.Section
	err := f.each(func(f field) (err error) {
		if sec != nil {
			return errors.InvalidData(errors.PhaseMarshal, "", "section message sets more than one variant")
		}
		switch f.num {
		case 1:
			sec, err = unmarshalTypeSection(f)
		case 2:
			sec, err = unmarshalImportSection(f)
		case 3:
			s := &ir.FunctionSection{}
			err = f.each(func(f field) (err error) {
				if f.num == 1 {
					s.TypeIdxs, err = f.uint32s(s.TypeIdxs)
				}
				return err
			})
			sec = s
		case 4:
			sec, err = unmarshalTableSection(f)
		case 5:
			sec, err = unmarshalMemorySection(f)
		case 6:
			sec, err = unmarshalGlobalSection(f)
		case 7:
			sec, err = unmarshalExportSection(f)
		case 8:
			sec, err = unmarshalElementSection(f)
		case 9:
			sec, err = unmarshalCode(f)
		case 10:
			sec, err = unmarshalDataSection(f)
		case 11:
			sec, err = unmarshalTagSection(f)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if sec == nil {
		return nil, errors.FieldMissing(errors.PhaseMarshal, "", "section variant")
	}
	return sec, nil
}

func unmarshalValueType(f field) (ir.ValueType, error) {
	var v ir.ValueType
	err := f.each(func(f field) error {
		e, err := f.asInt32()
		switch f.num {
		case 1:
			v.Type = ir.ValType(e)
		case 2:
			v.Ref = ir.RefType(e)
		default:
			return nil
		}
		return err
	})
	return v, err
}

func unmarshalTypeSection(f field) (*ir.TypeSection, error) {
	s := &ir.TypeSection{}
	err := f.each(func(f field) error {
		if f.num != 1 {
			return nil
		}
		var sub ir.SubType
		err := f.each(func(f field) error {
			if f.num != 1 {
				return nil
			}
			ft := &ir.FuncType{}
			sub.Func = ft
			return f.each(func(f field) error {
				switch f.num {
				case 1:
					v, err := unmarshalValueType(f)
					ft.Params = append(ft.Params, v)
					return err
				case 2:
					v, err := unmarshalValueType(f)
					ft.Results = append(ft.Results, v)
					return err
				}
				return nil
			})
		})
		if err != nil {
			return at(err, "types", len(s.Types))
		}
		s.Types = append(s.Types, sub)
		return nil
	})
	return s, err
}

func unmarshalImportSection(f field) (*ir.ImportSection, error) {
	s := &ir.ImportSection{}
	err := f.each(func(f field) error {
		if f.num != 1 {
			return nil
		}
		var imp ir.TypeRefFunc
		err := f.each(func(f field) (err error) {
			switch f.num {
			case 1:
				imp.Module, err = f.optString()
			case 2:
				imp.Name, err = f.optString()
			case 3:
				imp.FunctionType, err = f.optUint32()
			}
			return err
		})
		if err != nil {
			return at(err, "imports", len(s.Imports))
		}
		s.Imports = append(s.Imports, imp)
		return nil
	})
	return s, err
}

func unmarshalTableSection(f field) (*ir.TableSection, error) {
	s := &ir.TableSection{}
	err := f.each(func(f field) error {
		if f.num != 1 {
			return nil
		}
		var t ir.TableType
		err := f.each(func(f field) (err error) {
			switch f.num {
			case 1:
				var e int32
				e, err = f.asInt32()
				t.ReferenceType = ir.RefType(e)
			case 2:
				t.Table64, err = f.optBool()
			case 3:
				t.Initial, err = f.optUint64()
			case 4:
				t.Maximum, err = f.optUint64()
			case 5:
				t.Shared, err = f.optBool()
			}
			return err
		})
		if err != nil {
			return at(err, "types", len(s.Types))
		}
		s.Types = append(s.Types, t)
		return nil
	})
	return s, err
}

func unmarshalMemorySection(f field) (*ir.MemorySection, error) {
	s := &ir.MemorySection{}
	err := f.each(func(f field) error {
		if f.num != 1 {
			return nil
		}
		var m ir.MemoryType
		err := f.each(func(f field) (err error) {
			switch f.num {
			case 1:
				m.Memory64, err = f.optBool()
			case 2:
				m.Shared, err = f.optBool()
			case 3:
				m.Initial, err = f.optUint64()
			case 4:
				m.Maximum, err = f.optUint64()
			case 5:
				m.PageSizeLog2, err = f.optUint32()
			}
			return err
		})
		if err != nil {
			return at(err, "memory_types", len(s.MemoryTypes))
		}
		s.MemoryTypes = append(s.MemoryTypes, m)
		return nil
	})
	return s, err
}

func unmarshalGlobalSection(f field) (*ir.GlobalSection, error) {
	s := &ir.GlobalSection{}
	err := f.each(func(f field) error {
		if f.num != 1 {
			return nil
		}
		var g ir.Global
		err := f.each(func(f field) (err error) {
			switch f.num {
			case 1:
				gt := &ir.GlobalType{}
				err = f.each(func(f field) (err error) {
					switch f.num {
					case 1:
						gt.ContentType, err = unmarshalValueType(f)
					case 2:
						gt.Mutable, err = f.optBool()
					case 3:
						gt.Shared, err = f.optBool()
					}
					return err
				})
				g.Type = gt
			case 2:
				g.InitExpr, err = unmarshalExpression(f)
			}
			return err
		})
		if err != nil {
			return at(err, "globals", len(s.Globals))
		}
		s.Globals = append(s.Globals, g)
		return nil
	})
	return s, err
}

func unmarshalExpression(f field) (*ir.Expression, error) {
	e := &ir.Expression{}
	err := f.each(func(f field) error {
		if f.num != 1 {
			return nil
		}
		op, err := unmarshalOperator(f)
		if err != nil {
			return at(err, "operators", len(e.Operators))
		}
		e.Operators = append(e.Operators, op)
		return nil
	})
	return e, err
}

func unmarshalExportSection(f field) (*ir.ExportSection, error) {
	s := &ir.ExportSection{}
	err := f.each(func(f field) error {
		if f.num != 1 {
			return nil
		}
		var e ir.Export
		err := f.each(func(f field) (err error) {
			switch f.num {
			case 1:
				e.Name, err = f.optString()
			case 2:
				var k int32
				k, err = f.asInt32()
				e.Kind = ir.ExternalKind(k)
			case 3:
				e.Index, err = f.optUint32()
			}
			return err
		})
		if err != nil {
			return at(err, "exports", len(s.Exports))
		}
		s.Exports = append(s.Exports, e)
		return nil
	})
	return s, err
}

func unmarshalElementSection(f field) (*ir.ElementSection, error) {
	s := &ir.ElementSection{}
	err := f.each(func(f field) error {
		if f.num != 1 {
			return nil
		}
		el, err := unmarshalElement(f)
		if err != nil {
			return at(err, "elements", len(s.Elements))
		}
		s.Elements = append(s.Elements, el)
		return nil
	})
	return s, err
}

func unmarshalElement(f field) (ir.Element, error) {
	var el ir.Element
	err := f.each(func(f field) (err error) {
		switch f.num {
		case 1:
			k := &ir.ElementKind{}
			err = f.each(func(f field) (err error) {
				switch f.num {
				case 1:
					var t int32
					t, err = f.asInt32()
					k.Type = ir.ElementKindType(t)
				case 2:
					k.TableIndex, err = f.optUint32()
				case 3:
					k.Expression, err = unmarshalExpression(f)
				}
				return err
			})
			el.Kind = k
		case 2:
			items := &ir.ElementFunctions{}
			err = f.each(func(f field) (err error) {
				if f.num == 1 {
					items.Functions, err = f.uint32s(items.Functions)
				}
				return err
			})
			el.Items = items
		case 3:
			items := &ir.ElementExpressions{}
			err = f.each(func(f field) (err error) {
				switch f.num {
				case 1:
					var r int32
					r, err = f.asInt32()
					items.ReferenceType = ir.RefType(r)
				case 2:
					var e *ir.Expression
					if e, err = unmarshalExpression(f); err == nil {
						items.Expressions = append(items.Expressions, *e)
					}
				}
				return err
			})
			el.Items = items
		}
		return err
	})
	return el, err
}

func unmarshalCode(f field) (*ir.CodeSectionEntry, error) {
	s := &ir.CodeSectionEntry{}
	err := f.each(func(f field) error {
		switch f.num {
		case 1:
			var l ir.Locals
			err := f.each(func(f field) (err error) {
				switch f.num {
				case 1:
					l.Count, err = f.optUint32()
				case 2:
					l.ValueType, err = unmarshalValueType(f)
				}
				return err
			})
			if err != nil {
				return at(err, "locals", len(s.Locals))
			}
			s.Locals = append(s.Locals, l)
		case 2:
			op, err := unmarshalOperator(f)
			if err != nil {
				return at(err, "body", len(s.Body))
			}
			s.Body = append(s.Body, op)
		}
		return nil
	})
	return s, err
}

func unmarshalDataSection(f field) (*ir.DataSection, error) {
	s := &ir.DataSection{}
	err := f.each(func(f field) error {
		if f.num != 1 {
			return nil
		}
		var d ir.Data
		err := f.each(func(f field) (err error) {
			switch f.num {
			case 1:
				k := &ir.DataKind{}
				err = f.each(func(f field) (err error) {
					switch f.num {
					case 1:
						var t int32
						t, err = f.asInt32()
						k.Type = ir.DataKindType(t)
					case 2:
						k.MemoryIndex, err = f.optUint32()
					case 3:
						k.Expression, err = unmarshalExpression(f)
					}
					return err
				})
				d.Kind = k
			case 2:
				var b []byte
				if b, err = f.message(); err == nil {
					d.Data = append(d.Data, b...)
				}
			}
			return err
		})
		if err != nil {
			return at(err, "datas", len(s.Datas))
		}
		s.Datas = append(s.Datas, d)
		return nil
	})
	return s, err
}

func unmarshalTagSection(f field) (*ir.TagSection, error) {
	s := &ir.TagSection{}
	err := f.each(func(f field) error {
		if f.num != 1 {
			return nil
		}
		var t ir.TagType
		err := f.each(func(f field) (err error) {
			switch f.num {
			case 1:
				var k int32
				k, err = f.asInt32()
				t.Kind = ir.TagKind(k)
			case 2:
				t.FunctionTypeIdx, err = f.optUint32()
			}
			return err
		})
		if err != nil {
			return at(err, "tags", len(s.Tags))
		}
		s.Tags = append(s.Tags, t)
		return nil
	})
	return s, err
}

func unmarshalBlockType(f field) (ir.BlockType, error) {
	var bt ir.BlockType
	err := f.each(func(f field) error {
		switch f.num {
		case 1:
			v, err := f.asInt32()
			bt = ir.EmptyBlock{Sentinel: v}
			return err
		case 2:
			v, err := unmarshalValueType(f)
			bt = ir.ValueBlock{Type: v}
			return err
		case 3:
			v, err := f.asUint32()
			bt = ir.FuncBlock{TypeIndex: v}
			return err
		}
		return nil
	})
	return bt, err
}

// unmarshalPair reads the two optional index fields of the two-immediate
// payload messages.
func unmarshalPair(f field) (first, second *uint32, err error) {
	err = f.each(func(f field) (err error) {
		switch f.num {
		case 1:
			first, err = f.optUint32()
		case 2:
			second, err = f.optUint32()
		}
		return err
	})
	return first, second, err
}

func unmarshalOperator(f field) (ir.Operator, error) {
	var op ir.Operator
	err := f.each(func(f field) error {
		if f.num == 1 {
			v, err := f.asUint32()
			if v > 0xFFFF {
				return errors.InvalidDiscriminant(errors.PhaseMarshal, "", "opcode", v)
			}
			op.OpCode = ir.OpCode(v)
			return err
		}
		p, err := unmarshalPayload(f)
		if err != nil {
			return err
		}
		if p != nil {
			op.Payload = p
		}
		return nil
	})
	return op, err
}

// unmarshalPayload returns nil for fields outside the payload oneof.
func unmarshalPayload(f field) (ir.Payload, error) {
	switch f.num {
	case 2:
		v, err := f.asUint32()
		return ir.RelativeDepth(v), err
	case 3:
		bt, err := unmarshalBlockType(f)
		return ir.Blockty{Type: bt}, err
	case 4:
		var p ir.BrTargets
		err := f.each(func(f field) (err error) {
			switch f.num {
			case 1:
				p.Default, err = f.optUint32()
			case 2:
				p.Targets, err = f.uint32s(p.Targets)
			}
			return err
		})
		return p, err
	case 5:
		v, err := f.asUint32()
		return ir.FunctionIndex(v), err
	case 6:
		a, b, err := unmarshalPair(f)
		return ir.CallIndirect{TypeIndex: a, TableIndex: b}, err
	case 7:
		v, err := f.asUint32()
		return ir.LocalIndex(v), err
	case 8:
		v, err := f.asUint32()
		return ir.GlobalIndex(v), err
	case 9:
		var p ir.MemArg
		err := f.each(func(f field) (err error) {
			switch f.num {
			case 1:
				p.Align, err = f.optUint32()
			case 2:
				p.MaxAlign, err = f.optUint32()
			case 3:
				p.Offset, err = f.optUint64()
			case 4:
				p.Memory, err = f.optUint32()
			}
			return err
		})
		return p, err
	case 10:
		v, err := f.asUint32()
		return ir.Mem(v), err
	case 11:
		v, err := f.asInt32()
		return ir.I32Value(v), err
	case 12:
		v, err := f.asUint64()
		return ir.I64Value(int64(v)), err
	case 13:
		if err := f.want(protowire.Fixed32Type); err != nil {
			return nil, err
		}
		return ir.F32Value(uint32(f.val)), nil
	case 14:
		if err := f.want(protowire.Fixed64Type); err != nil {
			return nil, err
		}
		return ir.F64Value(f.val), nil
	case 15:
		a, b, err := unmarshalPair(f)
		return ir.MemoryInit{DataIndex: a, Mem: b}, err
	case 16:
		v, err := f.asUint32()
		return ir.DataIndex(v), err
	case 17:
		a, b, err := unmarshalPair(f)
		return ir.MemoryCopy{DstMem: a, SrcMem: b}, err
	case 18:
		a, b, err := unmarshalPair(f)
		return ir.TableInit{ElemIndex: a, Table: b}, err
	case 19:
		v, err := f.asUint32()
		return ir.ElemIndex(v), err
	case 20:
		a, b, err := unmarshalPair(f)
		return ir.TableCopy{DstTable: a, SrcTable: b}, err
	case 21:
		var p ir.TryTable
		err := f.each(func(f field) (err error) {
			switch f.num {
			case 1:
				p.Type, err = unmarshalBlockType(f)
			case 2:
				var c ir.Catch
				err = f.each(func(f field) (err error) {
					switch f.num {
					case 1:
						var k int32
						k, err = f.asInt32()
						c.Kind = ir.CatchKind(k)
					case 2:
						c.Tag, err = f.optUint32()
					case 3:
						c.Label, err = f.optUint32()
					}
					return err
				})
				p.Catches = append(p.Catches, c)
			}
			return err
		})
		return p, err
	case 22:
		v, err := f.asUint32()
		return ir.TagIndex(v), err
	case 23:
		v, err := f.asInt32()
		return ir.HeapType(v), err
	}
	return nil, nil
}
