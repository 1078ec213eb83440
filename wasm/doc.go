// Package wasm reads and writes the WebAssembly binary module format.
//
// It is the low-level layer under package ir: a streaming payload parser,
// an instruction reader and encoder, and section encoders that assemble a
// module from already-built section bodies.
//
// # Parsing
//
// Parser yields one Payload per call, starting with the header and ending
// with End. Code section bodies are reported individually:
//
//	p := wasm.NewParser(data)
//	for {
//	    pl, err := p.Next()
//	    if errors.Is(err, io.EOF) {
//	        break
//	    }
//	    if err != nil {
//	        return err
//	    }
//	    switch s := pl.(type) {
//	    case *wasm.TypeSection:
//	        // ...
//	    case *wasm.CodeSectionEntry:
//	        instrs, err := s.Body.Instructions()
//	        // ...
//	    }
//	}
//
// Every byte of the input must be accounted for: a section whose declared
// size does not match its contents, sections out of canonical order, and a
// function count that differs from the code count are errors. Component
// binaries are recognized by their header and reported as raw
// ComponentSection payloads.
//
// # Instructions
//
// Core, bulk-memory, reference and exception instructions are fully
// decoded. GC, SIMD and atomic instructions are recognized by prefix but
// their immediates are not decoded; such instructions are returned once with
// a PrefixImm and further reads fail with *UnsupportedInstructionError.
//
// Float constants are kept as raw bits so NaN payloads survive a round trip.
//
// # Encoding
//
// Module collects section encoders in the order they are added:
//
//	types := new(wasm.TypeEncoder).Func(nil, []wasm.ValType{wasm.I32})
//	funcs := new(wasm.FunctionEncoder).Function(0)
//	code := new(wasm.CodeEncoder).Function(
//	    wasm.NewFuncBody(nil).
//	        Instruction(wasm.Instruction{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: 42}}).
//	        Instruction(wasm.Instruction{Opcode: wasm.OpEnd}),
//	)
//	bin, err := wasm.NewModule().Section(types).Section(funcs).Section(code).Finish()
//
// The encoder writes what it is given; ordering and cross-section
// consistency are the caller's responsibility.
package wasm
