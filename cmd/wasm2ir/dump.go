package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wippyai/wasm-ir/ir"
)

func newDumpCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "dump <in.wasm>",
		Short: "Print the decoded IR of a module",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := opts.logger()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			m, err := decodeFile(opts.codec(logger), args[0])
			if err != nil {
				return err
			}
			return writeModule(cmd.OutOrStdout(), m)
		},
	}
}

func decodeFile(codec *ir.Codec, path string) (*ir.Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	m, err := codec.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return m, nil
}

func writeModule(w io.Writer, m *ir.Module) error {
	if m.Version != nil {
		if _, err := fmt.Fprintf(w, "version %s (%s)\n", optU32(m.Version.Number), m.Version.Encoding); err != nil {
			return err
		}
	}
	for i, s := range m.Sections {
		if _, err := fmt.Fprintf(w, "section %d: %s\n", i, s.Name()); err != nil {
			return err
		}
		for _, line := range sectionLines(s) {
			if _, err := fmt.Fprintf(w, "  %s\n", line); err != nil {
				return err
			}
		}
	}
	return nil
}

// sectionLines renders one section as text lines, operators indented by
// block depth.
func sectionLines(s ir.Section) []string {
	var lines []string
	add := func(format string, args ...any) {
		lines = append(lines, fmt.Sprintf(format, args...))
	}

	switch s := s.(type) {
	case *ir.TypeSection:
		for i, st := range s.Types {
			if st.Func == nil {
				add("type[%d] ?", i)
				continue
			}
			add("type[%d] (%s) -> (%s)", i, valueTypes(st.Func.Params), valueTypes(st.Func.Results))
		}
	case *ir.ImportSection:
		for i, imp := range s.Imports {
			add("import[%d] %s.%s type %s", i, optStr(imp.Module), optStr(imp.Name), optU32(imp.FunctionType))
		}
	case *ir.FunctionSection:
		for i, idx := range s.TypeIdxs {
			add("function[%d] type %d", i, idx)
		}
	case *ir.TableSection:
		for i, t := range s.Types {
			add("table[%d] %s%s%s", i, t.ReferenceType, limits(t.Initial, t.Maximum), flags(t.Shared, "shared", t.Table64, "i64"))
		}
	case *ir.MemorySection:
		for i, mem := range s.MemoryTypes {
			line := fmt.Sprintf("memory[%d]%s%s", i, limits(mem.Initial, mem.Maximum), flags(mem.Shared, "shared", mem.Memory64, "i64"))
			if mem.PageSizeLog2 != nil {
				line += " pagesize=" + strconv.FormatUint(1<<*mem.PageSizeLog2, 10)
			}
			add("%s", line)
		}
	case *ir.GlobalSection:
		for i, g := range s.Globals {
			ty := "?"
			if g.Type != nil {
				ty = g.Type.ContentType.String()
				if g.Type.Mutable != nil && *g.Type.Mutable {
					ty = "mut " + ty
				}
			}
			add("global[%d] %s = %s", i, ty, expr(g.InitExpr))
		}
	case *ir.ExportSection:
		for i, e := range s.Exports {
			add("export[%d] %s %s %s", i, optStr(e.Name), e.Kind, optU32(e.Index))
		}
	case *ir.ElementSection:
		for i, e := range s.Elements {
			head := fmt.Sprintf("element[%d]", i)
			if e.Kind != nil {
				head += " " + e.Kind.Type.String()
				if e.Kind.Type == ir.ElementKindActive {
					head += fmt.Sprintf(" table %s offset (%s)", optU32(e.Kind.TableIndex), expr(e.Kind.Expression))
				}
			}
			switch items := e.Items.(type) {
			case *ir.ElementFunctions:
				add("%s funcs %v", head, items.Functions)
			case *ir.ElementExpressions:
				exprs := make([]string, len(items.Expressions))
				for j := range items.Expressions {
					exprs[j] = "(" + expr(&items.Expressions[j]) + ")"
				}
				add("%s %s %s", head, items.ReferenceType, strings.Join(exprs, " "))
			default:
				add("%s ?", head)
			}
		}
	case *ir.CodeSectionEntry:
		for _, l := range s.Locals {
			add("local %s x %s", l.ValueType, optU32(l.Count))
		}
		lines = append(lines, operatorLines(s.Body)...)
	case *ir.DataSection:
		for i, d := range s.Datas {
			head := fmt.Sprintf("data[%d]", i)
			if d.Kind != nil {
				head += " " + d.Kind.Type.String()
				if d.Kind.Type == ir.DataKindActive {
					head += fmt.Sprintf(" memory %s offset (%s)", optU32(d.Kind.MemoryIndex), expr(d.Kind.Expression))
				}
			}
			add("%s %d bytes", head, len(d.Data))
		}
	case *ir.TagSection:
		for i, t := range s.Tags {
			add("tag[%d] type %s", i, optU32(t.FunctionTypeIdx))
		}
	}
	return lines
}

func operatorLines(body []ir.Operator) []string {
	lines := make([]string, 0, len(body))
	depth := 0
	for _, op := range body {
		indent := depth
		switch op.OpCode {
		case ir.OpEnd, ir.OpDelegate:
			depth--
			indent = depth
		case ir.OpElse, ir.OpCatch, ir.OpCatchAll:
			indent = depth - 1
		}
		if indent < 0 {
			indent = 0
		}
		lines = append(lines, strings.Repeat("  ", indent)+op.String())
		switch op.OpCode {
		case ir.OpBlock, ir.OpLoop, ir.OpIf, ir.OpTry, ir.OpTryTable:
			depth++
		}
	}
	return lines
}

func expr(e *ir.Expression) string {
	if e == nil {
		return "?"
	}
	parts := make([]string, 0, len(e.Operators))
	for _, op := range e.Operators {
		if op.OpCode == ir.OpEnd {
			continue
		}
		parts = append(parts, op.String())
	}
	return strings.Join(parts, "; ")
}

func valueTypes(types []ir.ValueType) string {
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = t.String()
	}
	return strings.Join(parts, " ")
}

func limits(initial, maximum *uint64) string {
	s := " min=?"
	if initial != nil {
		s = " min=" + strconv.FormatUint(*initial, 10)
	}
	if maximum != nil {
		s += " max=" + strconv.FormatUint(*maximum, 10)
	}
	return s
}

func flags(a *bool, aName string, b *bool, bName string) string {
	var s string
	if a != nil && *a {
		s += " " + aName
	}
	if b != nil && *b {
		s += " " + bName
	}
	return s
}

func optU32(p *uint32) string {
	if p == nil {
		return "?"
	}
	return strconv.FormatUint(uint64(*p), 10)
}

func optStr(p *string) string {
	if p == nil {
		return "?"
	}
	return strconv.Quote(*p)
}
