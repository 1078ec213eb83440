// Package errors provides structured error types for the wasm-ir codec.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type carries the section, operator, field path and cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseDecode, errors.KindUnsupported).
//		Section("memory").
//		Path("memories", "0").
//		Detail("shared memories are not supported").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.FieldMissing(errors.PhaseEncode, "data", "memory index")
//	err := errors.UnsupportedOperator(errors.PhaseDecode, "v128.load", inst)
//
// All errors implement the standard error interface and support errors.Is/As.
// Is matches on Phase and Kind only.
package errors
