package interchange_test

import (
	"os"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/wippyai/wasm-ir/interchange"
	"github.com/wippyai/wasm-ir/ir"
)

type protoField struct {
	name     string
	typ      string
	repeated bool
}

// protoSchema is the subset of wasm.proto the wire checks need: fields by
// number per message, and member counts per enum.
type protoSchema struct {
	messages map[string]map[protowire.Number]protoField
	enums    map[string]int
}

var (
	fieldLine  = regexp.MustCompile(`^(optional |repeated )?(\w+) (\w+) = (\d+);$`)
	memberLine = regexp.MustCompile(`^\w+ = \d+;$`)
)

func loadSchema(t *testing.T) *protoSchema {
	t.Helper()
	data, err := os.ReadFile("wasm.proto")
	require.NoError(t, err)

	s := &protoSchema{
		messages: map[string]map[protowire.Number]protoField{},
		enums:    map[string]int{},
	}
	type block struct{ kind, name string }
	var stack []block
	message := func() string {
		for i := len(stack) - 1; i >= 0; i-- {
			if stack[i].kind == "message" {
				return stack[i].name
			}
		}
		return ""
	}

	for _, line := range strings.Split(string(data), "\n") {
		if i := strings.Index(line, "//"); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		switch {
		case line == "":
		case strings.HasPrefix(line, "message "), strings.HasPrefix(line, "enum "), strings.HasPrefix(line, "oneof "):
			f := strings.Fields(line)
			stack = append(stack, block{kind: f[0], name: f[1]})
			switch f[0] {
			case "message":
				s.messages[f[1]] = map[protowire.Number]protoField{}
			case "enum":
				s.enums[f[1]] = 0
			}
		case line == "}":
			require.NotEmpty(t, stack, "unbalanced braces")
			stack = stack[:len(stack)-1]
		case len(stack) == 0:
		case stack[len(stack)-1].kind == "enum":
			require.Regexp(t, memberLine, line)
			s.enums[stack[len(stack)-1].name]++
		default:
			m := fieldLine.FindStringSubmatch(line)
			require.NotNil(t, m, "unrecognized field line %q", line)
			n, err := strconv.Atoi(m[4])
			require.NoError(t, err)
			msg := message()
			fields := s.messages[msg]
			_, dup := fields[protowire.Number(n)]
			require.False(t, dup, "%s reuses field number %d", msg, n)
			fields[protowire.Number(n)] = protoField{name: m[3], typ: m[2], repeated: m[1] == "repeated "}
		}
	}
	require.Empty(t, stack, "unbalanced braces")
	return s
}

func (s *protoSchema) wireTypes(f protoField) []protowire.Type {
	if _, ok := s.messages[f.typ]; ok {
		return []protowire.Type{protowire.BytesType}
	}
	switch f.typ {
	case "string", "bytes":
		return []protowire.Type{protowire.BytesType}
	case "fixed32":
		return []protowire.Type{protowire.Fixed32Type}
	case "fixed64":
		return []protowire.Type{protowire.Fixed64Type}
	}
	if f.repeated {
		return []protowire.Type{protowire.VarintType, protowire.BytesType}
	}
	return []protowire.Type{protowire.VarintType}
}

// walk checks every field of b against msg and descends into nested
// messages, recording each field it meets in seen.
func (s *protoSchema) walk(t *testing.T, msg string, b []byte, seen map[string]bool) {
	t.Helper()
	fields, ok := s.messages[msg]
	require.True(t, ok, "unknown message %s", msg)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		require.GreaterOrEqual(t, n, 0, "%s: bad tag", msg)
		b = b[n:]

		f, ok := fields[num]
		require.True(t, ok, "%s has no field %d", msg, num)
		require.Contains(t, s.wireTypes(f), typ, "%s.%s wire type", msg, f.name)
		seen[msg+"."+f.name] = true

		m := protowire.ConsumeFieldValue(num, typ, b)
		require.GreaterOrEqual(t, m, 0, "%s.%s: bad value", msg, f.name)
		value := b[:m]
		b = b[m:]

		if _, nested := s.messages[f.typ]; nested {
			body, k := protowire.ConsumeBytes(value)
			require.GreaterOrEqual(t, k, 0)
			s.walk(t, f.typ, body, seen)
		}
	}
}

// schemaModule sets every field the schema declares to a non-default value.
func schemaModule() *ir.Module {
	nonNull := ir.ValueType{Type: ir.ValTypeRef, Ref: ir.RefTypeFuncRefNonNull}
	zero := ir.Expr(ir.Op(ir.OpI32Const, ir.I32Value(0)))
	return &ir.Module{
		ProtocolVersion: ir.Uint32(ir.ProtocolVersion),
		Version:         &ir.Version{Number: ir.Uint32(1), Encoding: ir.EncodingComponent},
		Sections: []ir.Section{
			&ir.TypeSection{Types: []ir.SubType{{Func: &ir.FuncType{Params: []ir.ValueType{ir.I64, nonNull}, Results: []ir.ValueType{ir.F32}}}}},
			&ir.ImportSection{Imports: []ir.TypeRefFunc{{Module: ir.String("env"), Name: ir.String("f"), FunctionType: ir.Uint32(0)}}},
			&ir.FunctionSection{TypeIdxs: []uint32{0}},
			&ir.TableSection{Types: []ir.TableType{{
				ReferenceType: ir.RefTypeFuncRefNonNull,
				Table64:       ir.Bool(true),
				Initial:       ir.Uint64(1),
				Maximum:       ir.Uint64(2),
				Shared:        ir.Bool(false),
			}}},
			&ir.MemorySection{MemoryTypes: []ir.MemoryType{{
				Memory64:     ir.Bool(true),
				Shared:       ir.Bool(true),
				Initial:      ir.Uint64(1),
				Maximum:      ir.Uint64(4),
				PageSizeLog2: ir.Uint32(0),
			}}},
			&ir.GlobalSection{Globals: []ir.Global{{
				Type:     &ir.GlobalType{ContentType: ir.I64, Mutable: ir.Bool(true), Shared: ir.Bool(false)},
				InitExpr: ir.Expr(ir.Op(ir.OpI64Const, ir.I64Value(1))),
			}}},
			&ir.ExportSection{Exports: []ir.Export{{Name: ir.String("t"), Kind: ir.ExternalKindTable, Index: ir.Uint32(0)}}},
			&ir.ElementSection{Elements: []ir.Element{
				{
					Kind:  &ir.ElementKind{Type: ir.ElementKindActive, TableIndex: ir.Uint32(0), Expression: zero},
					Items: &ir.ElementFunctions{Functions: []uint32{0}},
				},
				{
					Kind: &ir.ElementKind{Type: ir.ElementKindPassive},
					Items: &ir.ElementExpressions{
						ReferenceType: ir.RefTypeFuncRefNonNull,
						Expressions:   []ir.Expression{*ir.Expr(ir.Op(ir.OpRefFunc, ir.FunctionIndex(0)))},
					},
				},
			}},
			&ir.CodeSectionEntry{Locals: []ir.Locals{{Count: ir.Uint32(1), ValueType: ir.F64}}, Body: allPayloads()},
			&ir.DataSection{Datas: []ir.Data{{
				Kind: &ir.DataKind{Type: ir.DataKindActive, MemoryIndex: ir.Uint32(0), Expression: zero},
				Data: []byte("x"),
			}}},
			&ir.TagSection{Tags: []ir.TagType{{Kind: ir.TagKindException, FunctionTypeIdx: ir.Uint32(0)}}},
		},
	}
}

func TestWireMatchesSchema(t *testing.T) {
	s := loadSchema(t)

	pb, err := interchange.Marshal(schemaModule())
	require.NoError(t, err)

	seen := map[string]bool{}
	s.walk(t, "Module", pb, seen)

	// Every declared field must be written by Marshal. Fields of an enum
	// with a single member only ever carry the omitted zero value.
	for msg, fields := range s.messages {
		for _, f := range fields {
			if n, isEnum := s.enums[f.typ]; isEnum && n < 2 {
				continue
			}
			require.True(t, seen[msg+"."+f.name], "%s.%s is never written", msg, f.name)
		}
	}

	back, err := interchange.Unmarshal(pb)
	require.NoError(t, err)
	require.Equal(t, schemaModule(), back)
}
