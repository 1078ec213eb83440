// Package validate checks binary modules produced by the codec: index and
// limit checks over the parsed payloads, then a wazero compile.
package validate

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-ir/errors"
	"github.com/wippyai/wasm-ir/ir"
	"github.com/wippyai/wasm-ir/wasm"
)

// Validator checks binary modules for conformance. A Validator is
// immutable and safe for concurrent use; each Validate call compiles in
// its own runtime.
type Validator struct {
	logger   *zap.Logger
	config   wazero.RuntimeConfig
	features ir.Features
}

// Option configures a Validator.
type Option func(*Validator)

// WithFeatures sets the instruction families the module may use. Exception
// handling enabled here lets structurally valid modules skip compilation,
// which wazero cannot do for them.
func WithFeatures(f ir.Features) Option {
	return func(v *Validator) {
		v.features = f
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(v *Validator) {
		v.logger = l
	}
}

// WithRuntimeConfig replaces the wazero runtime configuration used for the
// compile step.
func WithRuntimeConfig(cfg wazero.RuntimeConfig) Option {
	return func(v *Validator) {
		v.config = cfg
	}
}

// New creates a validator.
func New(opts ...Option) *Validator {
	v := &Validator{features: ir.FeaturesMinimal}
	for _, opt := range opts {
		opt(v)
	}
	if v.logger == nil {
		v.logger = ir.Logger()
	}
	if v.config == nil {
		v.config = wazero.NewRuntimeConfig().WithCoreFeatures(api.CoreFeaturesV2)
	}
	return v
}

// Validate runs the structural checks on bin and then compiles it with
// wazero. Compilation is skipped, with a debug log, when the module uses
// constructs outside wazero's core feature set.
func (v *Validator) Validate(ctx context.Context, bin []byte) error {
	s, err := summarize(bin)
	if err != nil {
		return err
	}
	if err := s.check(v.features); err != nil {
		return errors.Wrap(errors.PhaseValidate, errors.KindInvalidData, err, "structural check failed")
	}

	if reason := s.beyondCore(); reason != "" {
		v.logger.Debug("wazero validation skipped", zap.String("reason", reason))
		return nil
	}

	r := wazero.NewRuntimeWithConfig(ctx, v.config)
	defer r.Close(ctx)

	compiled, err := r.CompileModule(ctx, bin)
	if err != nil {
		return errors.Wrap(errors.PhaseValidate, errors.KindInvalidData, err, "wazero rejected module")
	}
	defer compiled.Close(ctx)

	v.logger.Debug("module validated",
		zap.Int("functions", len(s.funcs)),
		zap.Int("exports", len(s.exports)))
	return nil
}

// Validate checks bin with a default validator.
func Validate(ctx context.Context, bin []byte) error {
	return New().Validate(ctx, bin)
}

// summary is the flattened view of a module the checks run over.
type summary struct {
	dataCount      *uint32
	codeCount      *uint32
	start          *uint32
	types          []*wasm.FuncType
	funcs          []uint32
	tags           []wasm.TagType
	exports        []wasm.Export
	elements       []wasm.Element
	datas          []wasm.DataSegment
	bodies         []wasm.FuncBody
	memories       []wasm.MemoryType
	importMemories []wasm.MemoryType
	importFuncs    []uint32
	importTags     []wasm.TagType
	tables         int
	globals        int
	importTables   int
	importGlobals  int
	nonNullRefs    bool
	lastOrder      int
	misordered     string
}

func summarize(bin []byte) (*summary, error) {
	s := &summary{}
	p := wasm.NewParser(bin)
	for {
		payload, err := p.Next()
		if err != nil {
			return nil, errors.Wrap(errors.PhaseValidate, errors.KindInvalidData, err, "parse failed")
		}
		if id, ok := sectionID(payload); ok {
			s.noteSection(id)
		}
		switch pl := payload.(type) {
		case *wasm.VersionPayload:
			if pl.Encoding != wasm.EncodingModule {
				return nil, errors.Unsupported(errors.PhaseValidate, "", "component binaries")
			}
		case *wasm.TypeSection:
			for _, g := range pl.Groups {
				for i := range g.Types {
					st := &g.Types[i]
					s.types = append(s.types, st.Func)
					if st.Func != nil {
						s.noteTypes(st.Func.Params)
						s.noteTypes(st.Func.Results)
					}
				}
			}
		case *wasm.ImportSection:
			for _, imp := range pl.Imports {
				if imp.Form == wasm.ImportSingle {
					s.addImport(imp.Type)
					continue
				}
				for _, item := range imp.Items {
					s.addImport(item.Type)
				}
			}
		case *wasm.FunctionSection:
			s.funcs = append(s.funcs, pl.TypeIdxs...)
		case *wasm.TableSection:
			s.tables += len(pl.Tables)
			for _, t := range pl.Tables {
				s.noteRef(t.ElemType)
			}
		case *wasm.MemorySection:
			s.memories = append(s.memories, pl.Memories...)
		case *wasm.TagSection:
			s.tags = append(s.tags, pl.Tags...)
		case *wasm.GlobalSection:
			s.globals += len(pl.Globals)
			for _, g := range pl.Globals {
				s.noteTypes([]wasm.ValType{g.Type.Content})
			}
		case *wasm.ExportSection:
			s.exports = append(s.exports, pl.Exports...)
		case *wasm.StartSection:
			start := pl.Func
			s.start = &start
		case *wasm.ElementSection:
			s.elements = append(s.elements, pl.Elements...)
		case *wasm.DataCountSection:
			count := pl.Count
			s.dataCount = &count
		case *wasm.DataSection:
			s.datas = append(s.datas, pl.Segments...)
		case *wasm.CodeSectionStart:
			count := pl.Count
			s.codeCount = &count
		case *wasm.CodeSectionEntry:
			s.bodies = append(s.bodies, pl.Body)
			for _, l := range pl.Body.Locals {
				s.noteTypes([]wasm.ValType{l.Type})
			}
		case *wasm.End:
			return s, nil
		}
	}
}

// sectionID reports the section a payload opens. Code entries belong to
// the section their CodeSectionStart opened.
func sectionID(payload wasm.Payload) (byte, bool) {
	switch payload.(type) {
	case *wasm.TypeSection:
		return wasm.SectionType, true
	case *wasm.ImportSection:
		return wasm.SectionImport, true
	case *wasm.FunctionSection:
		return wasm.SectionFunction, true
	case *wasm.TableSection:
		return wasm.SectionTable, true
	case *wasm.MemorySection:
		return wasm.SectionMemory, true
	case *wasm.TagSection:
		return wasm.SectionTag, true
	case *wasm.GlobalSection:
		return wasm.SectionGlobal, true
	case *wasm.ExportSection:
		return wasm.SectionExport, true
	case *wasm.StartSection:
		return wasm.SectionStart, true
	case *wasm.ElementSection:
		return wasm.SectionElement, true
	case *wasm.DataCountSection:
		return wasm.SectionDataCount, true
	case *wasm.CodeSectionStart:
		return wasm.SectionCode, true
	case *wasm.DataSection:
		return wasm.SectionData, true
	}
	return 0, false
}

func (s *summary) noteSection(id byte) {
	order := wasm.SectionOrder(id)
	if order == 0 {
		return
	}
	if order <= s.lastOrder && s.misordered == "" {
		s.misordered = wasm.SectionName(id)
	}
	s.lastOrder = max(s.lastOrder, order)
}

func (s *summary) addImport(ty wasm.TypeRef) {
	switch ty.Kind {
	case wasm.KindFunc:
		s.importFuncs = append(s.importFuncs, ty.FuncIdx)
	case wasm.KindTable:
		s.importTables++
	case wasm.KindMemory:
		if ty.Memory != nil {
			s.importMemories = append(s.importMemories, *ty.Memory)
		}
	case wasm.KindGlobal:
		s.importGlobals++
		if ty.Global != nil {
			s.noteTypes([]wasm.ValType{ty.Global.Content})
		}
	case wasm.KindTag:
		if ty.Tag != nil {
			s.importTags = append(s.importTags, *ty.Tag)
		}
	}
}

func (s *summary) noteTypes(types []wasm.ValType) {
	for _, t := range types {
		if t.IsRef() {
			s.noteRef(t.Ref)
		}
	}
}

func (s *summary) noteRef(r wasm.RefType) {
	if !r.Nullable {
		s.nonNullRefs = true
	}
}

func (s *summary) numFuncs() uint32 {
	return uint32(len(s.importFuncs) + len(s.funcs))
}

func (s *summary) check(features ir.Features) error {
	checks := []func() error{
		s.checkSectionOrder,
		s.checkTypeIndices,
		s.checkFunctionIndices,
		s.checkTableIndices,
		s.checkMemoryIndices,
		s.checkGlobalIndices,
		s.checkTagIndices,
		s.checkExports,
		s.checkStart,
		s.checkDataCount,
		s.checkCodeCount,
		s.checkMemoryLimits,
		func() error { return s.checkBodies(features) },
	}
	for _, c := range checks {
		if err := c(); err != nil {
			return err
		}
	}
	return nil
}

func (s *summary) checkTypeIndices() error {
	numTypes := uint32(len(s.types))
	for i, typeIdx := range s.funcs {
		if typeIdx >= numTypes {
			return fmt.Errorf("function %d references invalid type index %d", i, typeIdx)
		}
	}
	for i, typeIdx := range s.importFuncs {
		if typeIdx >= numTypes {
			return fmt.Errorf("function import %d references invalid type index %d", i, typeIdx)
		}
	}
	for i, tag := range s.importTags {
		if tag.TypeIdx >= numTypes {
			return fmt.Errorf("tag import %d references invalid type index %d", i, tag.TypeIdx)
		}
	}
	for i, tag := range s.tags {
		if tag.TypeIdx >= numTypes {
			return fmt.Errorf("tag %d references invalid type index %d", i, tag.TypeIdx)
		}
	}
	return nil
}

func (s *summary) checkFunctionIndices() error {
	numFuncs := s.numFuncs()
	for i, elem := range s.elements {
		if elem.UsesExprs {
			continue
		}
		for j, funcIdx := range elem.Funcs {
			if funcIdx >= numFuncs {
				return fmt.Errorf("element %d, entry %d references invalid function index %d", i, j, funcIdx)
			}
		}
	}
	return s.checkExportIndex(wasm.KindFunc, "function", numFuncs)
}

func (s *summary) checkTableIndices() error {
	numTables := uint32(s.importTables + s.tables)
	for i, elem := range s.elements {
		if elem.Mode != wasm.ElemModeActive {
			continue
		}
		var table uint32
		if elem.Table != nil {
			table = *elem.Table
		}
		if table >= numTables {
			return fmt.Errorf("element %d references invalid table index %d", i, table)
		}
	}
	return s.checkExportIndex(wasm.KindTable, "table", numTables)
}

func (s *summary) checkMemoryIndices() error {
	numMemories := uint32(len(s.importMemories) + len(s.memories))
	for i, data := range s.datas {
		if data.Mode == wasm.DataModeActive && data.Memory >= numMemories {
			return fmt.Errorf("data segment %d references invalid memory index %d", i, data.Memory)
		}
	}
	return s.checkExportIndex(wasm.KindMemory, "memory", numMemories)
}

func (s *summary) checkGlobalIndices() error {
	return s.checkExportIndex(wasm.KindGlobal, "global", uint32(s.importGlobals+s.globals))
}

func (s *summary) checkTagIndices() error {
	return s.checkExportIndex(wasm.KindTag, "tag", uint32(len(s.importTags)+len(s.tags)))
}

func (s *summary) checkExportIndex(kind byte, what string, count uint32) error {
	for i, exp := range s.exports {
		if exp.Kind == kind && exp.Index >= count {
			return fmt.Errorf("export %d (%s) references invalid %s index %d", i, exp.Name, what, exp.Index)
		}
	}
	return nil
}

func (s *summary) checkExports() error {
	seen := make(map[string]bool, len(s.exports))
	for i, exp := range s.exports {
		if seen[exp.Name] {
			return fmt.Errorf("duplicate export name %q at index %d", exp.Name, i)
		}
		seen[exp.Name] = true
	}
	return nil
}

func (s *summary) checkStart() error {
	if s.start == nil {
		return nil
	}
	idx := *s.start
	if idx >= s.numFuncs() {
		return fmt.Errorf("start function index %d exceeds function count %d", idx, s.numFuncs())
	}
	ft := s.funcType(idx)
	if ft == nil {
		return fmt.Errorf("start function %d has no type", idx)
	}
	if len(ft.Params) != 0 || len(ft.Results) != 0 {
		return fmt.Errorf("start function must have signature [] -> [], got [%d params] -> [%d results]",
			len(ft.Params), len(ft.Results))
	}
	return nil
}

func (s *summary) funcType(idx uint32) *wasm.FuncType {
	var typeIdx uint32
	if n := uint32(len(s.importFuncs)); idx < n {
		typeIdx = s.importFuncs[idx]
	} else {
		typeIdx = s.funcs[idx-n]
	}
	if typeIdx >= uint32(len(s.types)) {
		return nil
	}
	return s.types[typeIdx]
}

func (s *summary) checkDataCount() error {
	if s.dataCount != nil && *s.dataCount != uint32(len(s.datas)) {
		return fmt.Errorf("data count section declares %d segments, but data section has %d",
			*s.dataCount, len(s.datas))
	}
	return nil
}

func (s *summary) checkSectionOrder() error {
	if s.misordered != "" {
		return fmt.Errorf("%w: %s", wasm.ErrSectionOrder, s.misordered)
	}
	return nil
}

func (s *summary) checkCodeCount() error {
	if len(s.bodies) != len(s.funcs) {
		return fmt.Errorf("%w: code section has %d entries but function section has %d",
			wasm.ErrCodeCount, len(s.bodies), len(s.funcs))
	}
	if s.codeCount != nil && *s.codeCount != uint32(len(s.bodies)) {
		return fmt.Errorf("code section declares %d entries but holds %d", *s.codeCount, len(s.bodies))
	}
	return nil
}

func (s *summary) checkMemoryLimits() error {
	for i := range s.importMemories {
		if err := checkMemoryType(&s.importMemories[i], i, true); err != nil {
			return err
		}
	}
	for i := range s.memories {
		if err := checkMemoryType(&s.memories[i], i, false); err != nil {
			return err
		}
	}
	return nil
}

func checkMemoryType(mem *wasm.MemoryType, idx int, isImport bool) error {
	maxPages := wasm.MemoryMaxPages32
	if mem.Limits.Is64 {
		maxPages = wasm.MemoryMaxPages64
	}

	prefix := "memory"
	if isImport {
		prefix = "imported memory"
	}

	if mem.Limits.Shared && mem.Limits.Max == nil {
		return fmt.Errorf("%s %d: shared memory must have maximum limit", prefix, idx)
	}
	if mem.Limits.Min > maxPages {
		return fmt.Errorf("%s %d: min pages %d exceeds maximum %d", prefix, idx, mem.Limits.Min, maxPages)
	}
	if mem.Limits.Max != nil {
		if *mem.Limits.Max > maxPages {
			return fmt.Errorf("%s %d: max pages %d exceeds maximum %d", prefix, idx, *mem.Limits.Max, maxPages)
		}
		if *mem.Limits.Max < mem.Limits.Min {
			return fmt.Errorf("%s %d: max pages %d below min pages %d", prefix, idx, *mem.Limits.Max, mem.Limits.Min)
		}
	}
	return nil
}

// checkBodies decodes every function body, rejects exception handling
// outside the enabled features and checks call targets.
func (s *summary) checkBodies(features ir.Features) error {
	numFuncs := s.numFuncs()
	for i := range s.bodies {
		instrs, err := s.bodies[i].Instructions()
		if err != nil {
			return fmt.Errorf("function %d: %w", i, err)
		}
		for _, in := range instrs {
			if isExceptionOp(in.Opcode) && !features.IsEnabled(ir.FeatureExceptions) && !features.IsEnabled(ir.FeatureLegacyExceptions) {
				return fmt.Errorf("function %d: exception handling instruction 0x%02x with exceptions disabled", i, in.Opcode)
			}
			if in.Opcode == wasm.OpCall {
				if imm, ok := in.Imm.(wasm.CallImm); ok && imm.FuncIdx >= numFuncs {
					return fmt.Errorf("function %d: call references invalid function index %d", i, imm.FuncIdx)
				}
			}
		}
	}
	return nil
}

func isExceptionOp(op byte) bool {
	switch op {
	case wasm.OpTry, wasm.OpCatch, wasm.OpThrow, wasm.OpRethrow, wasm.OpThrowRef,
		wasm.OpDelegate, wasm.OpCatchAll, wasm.OpTryTable:
		return true
	}
	return false
}

// beyondCore names the first construct wazero's core features do not
// cover, or returns "" when the module can be compiled.
func (s *summary) beyondCore() string {
	if len(s.tags) > 0 || len(s.importTags) > 0 {
		return "exception tags"
	}
	for i := range s.bodies {
		instrs, err := s.bodies[i].Instructions()
		if err != nil {
			continue
		}
		for _, in := range instrs {
			if isExceptionOp(in.Opcode) {
				return "exception handling instructions"
			}
		}
	}
	mems := append(append([]wasm.MemoryType(nil), s.importMemories...), s.memories...)
	if len(mems) > 1 {
		return "multiple memories"
	}
	for _, m := range mems {
		switch {
		case m.Limits.Is64:
			return "64-bit memory"
		case m.Limits.Shared:
			return "shared memory"
		case m.Limits.PageSizeLog2 != nil:
			return "custom page size"
		}
	}
	if s.nonNullRefs {
		return "non-nullable references"
	}
	return ""
}
