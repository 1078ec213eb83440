// Package ir is a typed intermediate representation of WebAssembly modules
// and a lossless codec between it and the binary format.
//
// # Decoding
//
//	codec := ir.NewCodec(ir.WithFeatures(ir.FeaturesFull))
//	m, err := codec.Decode(bin)
//
// Decode accepts a bounded subset of the format: function types in
// single-type recursion groups, function imports, funcref tables, unshared
// memories, and the instructions listed in the opcode table. Everything
// else fails with an *errors.Error of kind unsupported, unsupported_operator
// or unknown_section rather than being approximated.
//
// # Features
//
// Optional instruction families are gated by Features. FeaturesMinimal
// covers sign extension, saturating truncation, bulk memory and funcref
// constants. FeaturesFull also accepts both exception handling proposals.
// Tag sections are decoded in every configuration.
//
// # Encoding
//
// Encode is the structural inverse of Decode. Sections are written in IR
// order; all CodeSectionEntry values are merged into one code section at
// the position of the last entry. Missing fields are reported by name
// instead of defaulting to zero.
//
// Constant expressions keep their trailing end as the last operator. On
// encode one trailing end is removed if present and exactly one is written.
package ir
