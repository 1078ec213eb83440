package ir

import (
	stderrors "errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-ir/errors"
	"github.com/wippyai/wasm-ir/wasm"
)

// Decode converts a binary module to the IR. Sections keep their binary
// order and each function body becomes its own CodeSectionEntry. Custom,
// data count and code count payloads are dropped.
func (c *Codec) Decode(data []byte) (*Module, error) {
	p := wasm.NewParser(data)
	m := &Module{ProtocolVersion: Uint32(ProtocolVersion)}
	for {
		pl, err := p.Next()
		if stderrors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, errors.ParseFailed("module", err)
		}

		if v, ok := pl.(*wasm.VersionPayload); ok {
			if v.Encoding != wasm.EncodingModule || v.Num != wasm.Version {
				return nil, errors.Unsupported(errors.PhaseDecode, "",
					fmt.Sprintf("unsupported binary version %d (%s)", v.Num, v.Encoding))
			}
			m.Version = &Version{Number: Uint32(uint32(v.Num)), Encoding: EncodingModule}
			continue
		}

		sec, err := c.decodeSection(pl)
		if err != nil {
			return nil, err
		}
		if sec == nil {
			continue
		}
		m.Sections = append(m.Sections, sec)
		c.logger.Debug("section decoded", zap.String("section", sec.Name()), zap.Int("items", itemCount(sec)))
	}
	if m.Version == nil {
		return nil, errors.InvalidData(errors.PhaseDecode, "", "module has no version header")
	}
	return m, nil
}

// decodeSection returns nil for payloads that carry nothing the IR keeps.
func (c *Codec) decodeSection(pl wasm.Payload) (Section, error) {
	var (
		sec Section
		err error
	)
	switch s := pl.(type) {
	case *wasm.TypeSection:
		sec, err = c.decodeTypeSection(s)
	case *wasm.ImportSection:
		sec, err = c.decodeImportSection(s)
	case *wasm.FunctionSection:
		sec, err = c.decodeFunctionSection(s)
	case *wasm.TableSection:
		sec, err = c.decodeTableSection(s)
	case *wasm.MemorySection:
		sec, err = c.decodeMemorySection(s)
	case *wasm.GlobalSection:
		sec, err = c.decodeGlobalSection(s)
	case *wasm.ExportSection:
		sec, err = c.decodeExportSection(s)
	case *wasm.ElementSection:
		sec, err = c.decodeElementSection(s)
	case *wasm.CodeSectionEntry:
		sec, err = c.decodeCodeEntry(s)
	case *wasm.DataSection:
		sec, err = c.decodeDataSection(s)
	case *wasm.TagSection:
		sec, err = c.decodeTagSection(s)
	case *wasm.StartSection:
		return nil, errors.Unsupported(errors.PhaseDecode, "start", "start section is not supported")
	case *wasm.DataCountSection, *wasm.CodeSectionStart, *wasm.CustomSection,
		*wasm.ComponentSection, *wasm.End:
		return nil, nil
	case *wasm.UnknownSection:
		return nil, errors.UnknownSection(fmt.Sprintf("id %d", s.ID))
	default:
		return nil, errors.UnknownSection(fmt.Sprintf("%T", pl))
	}
	if err != nil {
		return nil, err
	}
	return sec, nil
}

// Encode converts m to a binary module. Code entries are merged into one
// code section written at the position of the last entry, preceded by a
// data count section when a body uses memory.init or data.drop.
func (c *Codec) Encode(m *Module) ([]byte, error) {
	if m == nil {
		return nil, errors.NilPointer(errors.PhaseEncode, "", "module")
	}
	if err := checkVersion(m); err != nil {
		return nil, err
	}

	last := -1
	needsDataCount := false
	var dataCount uint32
	for i, s := range m.Sections {
		switch s := s.(type) {
		case *CodeSectionEntry:
			last = i
			if s != nil && usesDataSegments(s) {
				needsDataCount = true
			}
		case *DataSection:
			if s != nil {
				dataCount += uint32(len(s.Datas))
			}
		}
	}

	out := wasm.NewModule()
	code := &wasm.CodeEncoder{}
	funcIdx := 0
	for i, s := range m.Sections {
		if isNilSection(s) {
			return nil, errors.NilPointer(errors.PhaseEncode, "", fmt.Sprintf("section %d", i))
		}

		entry, ok := s.(*CodeSectionEntry)
		if !ok {
			enc, err := c.encodeSection(s)
			if err != nil {
				return nil, err
			}
			out.Section(enc)
			c.logger.Debug("section encoded", zap.String("section", s.Name()), zap.Int("items", itemCount(s)))
			continue
		}

		body, err := c.encodeCodeEntry(entry)
		if err != nil {
			return nil, atItem(errors.PhaseEncode, "code", funcIdx, err)
		}
		code.Function(body)
		funcIdx++
		if i == last {
			if needsDataCount {
				out.Section(&wasm.DataCountEncoder{Count: dataCount})
			}
			out.Section(code)
			c.logger.Debug("section encoded", zap.String("section", "code"), zap.Int("items", int(code.Len())))
		}
	}

	bin, err := out.Finish()
	if err != nil {
		return nil, errors.Wrap(errors.PhaseEncode, errors.KindInvalidData, err, "assemble module")
	}
	return bin, nil
}

func checkVersion(m *Module) error {
	if m.ProtocolVersion != nil && *m.ProtocolVersion != ProtocolVersion {
		return errors.Unsupported(errors.PhaseEncode, "", fmt.Sprintf("unsupported protocol version %d", *m.ProtocolVersion))
	}
	if m.Version == nil {
		return errors.FieldMissing(errors.PhaseEncode, "", "version")
	}
	if m.Version.Number == nil {
		return errors.FieldMissing(errors.PhaseEncode, "", "version number")
	}
	if *m.Version.Number != uint32(wasm.Version) || m.Version.Encoding != EncodingModule {
		return errors.Unsupported(errors.PhaseEncode, "",
			fmt.Sprintf("unsupported binary version %d (%s)", *m.Version.Number, m.Version.Encoding))
	}
	return nil
}

func (c *Codec) encodeSection(s Section) (wasm.SectionEncoder, error) {
	switch s := s.(type) {
	case *TypeSection:
		return c.encodeTypeSection(s)
	case *ImportSection:
		return c.encodeImportSection(s)
	case *FunctionSection:
		return c.encodeFunctionSection(s)
	case *TableSection:
		return c.encodeTableSection(s)
	case *MemorySection:
		return c.encodeMemorySection(s)
	case *GlobalSection:
		return c.encodeGlobalSection(s)
	case *ExportSection:
		return c.encodeExportSection(s)
	case *ElementSection:
		return c.encodeElementSection(s)
	case *DataSection:
		return c.encodeDataSection(s)
	case *TagSection:
		return c.encodeTagSection(s)
	}
	return nil, errors.InvalidDiscriminant(errors.PhaseEncode, "", "section", fmt.Sprintf("%T", s))
}

func isNilSection(s Section) bool {
	switch s := s.(type) {
	case nil:
		return true
	case *TypeSection:
		return s == nil
	case *ImportSection:
		return s == nil
	case *FunctionSection:
		return s == nil
	case *TableSection:
		return s == nil
	case *MemorySection:
		return s == nil
	case *GlobalSection:
		return s == nil
	case *ExportSection:
		return s == nil
	case *ElementSection:
		return s == nil
	case *CodeSectionEntry:
		return s == nil
	case *DataSection:
		return s == nil
	case *TagSection:
		return s == nil
	}
	return false
}

func itemCount(s Section) int {
	switch s := s.(type) {
	case *TypeSection:
		return len(s.Types)
	case *ImportSection:
		return len(s.Imports)
	case *FunctionSection:
		return len(s.TypeIdxs)
	case *TableSection:
		return len(s.Types)
	case *MemorySection:
		return len(s.MemoryTypes)
	case *GlobalSection:
		return len(s.Globals)
	case *ExportSection:
		return len(s.Exports)
	case *ElementSection:
		return len(s.Elements)
	case *CodeSectionEntry:
		return len(s.Body)
	case *DataSection:
		return len(s.Datas)
	case *TagSection:
		return len(s.Tags)
	}
	return 0
}
