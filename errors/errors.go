package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseDecode   Phase = "decode"   // WASM binary to IR
	PhaseEncode   Phase = "encode"   // IR to WASM binary
	PhaseParse    Phase = "parse"    // raw binary payload parsing
	PhaseMarshal  Phase = "marshal"  // IR to/from interchange bytes
	PhaseValidate Phase = "validate" // re-encoded binary validation
)

// Kind categorizes the error
type Kind string

const (
	KindInvalidData         Kind = "invalid_data"
	KindUnsupported         Kind = "unsupported"
	KindFieldMissing        Kind = "field_missing"
	KindInvalidVariant      Kind = "invalid_variant"
	KindUnknownSection      Kind = "unknown_section"
	KindUnsupportedOperator Kind = "unsupported_operator"
	KindPayloadMismatch     Kind = "payload_mismatch"
	KindNilPointer          Kind = "nil_pointer"
)

// Error is the structured error type used throughout the codec
type Error struct {
	Value    any
	Cause    error
	Phase    Phase
	Kind     Kind
	Section  string
	Operator string
	Detail   string
	Path     []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Section != "" {
		b.WriteString(" in ")
		b.WriteString(e.Section)
		b.WriteString(" section")
	}

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.Operator != "" {
		b.WriteString(": operator ")
		b.WriteString(e.Operator)
	}

	if e.Detail != "" {
		if e.Operator != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the field path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Section sets the section the error belongs to
func (b *Builder) Section(name string) *Builder {
	b.err.Section = name
	return b
}

// Operator sets the operator name
func (b *Builder) Operator(name string) *Builder {
	b.err.Operator = name
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// FieldMissing creates a missing field error
func FieldMissing(phase Phase, section, fieldName string) *Error {
	return &Error{
		Phase:   phase,
		Kind:    KindFieldMissing,
		Section: section,
		Detail:  fieldName + " not found",
	}
}

// InvalidDiscriminant creates an invalid discriminant error for enums and variants
func InvalidDiscriminant(phase Phase, section, what string, disc any) *Error {
	return &Error{
		Phase:   phase,
		Kind:    KindInvalidVariant,
		Section: section,
		Detail:  fmt.Sprintf("invalid %s %v", what, disc),
		Value:   disc,
	}
}

// Unsupported creates an unsupported construct error
func Unsupported(phase Phase, section, what string) *Error {
	return &Error{
		Phase:   phase,
		Kind:    KindUnsupported,
		Section: section,
		Detail:  what,
	}
}

// UnknownSection creates an error for payloads the codec does not understand
func UnknownSection(what string) *Error {
	return &Error{
		Phase:  PhaseDecode,
		Kind:   KindUnknownSection,
		Detail: "unknown section: " + what,
		Value:  what,
	}
}

// UnsupportedOperator creates an error carrying the offending instruction
func UnsupportedOperator(phase Phase, name string, inst any) *Error {
	return &Error{
		Phase:    phase,
		Kind:     KindUnsupportedOperator,
		Operator: name,
		Detail:   "got unsupported operator",
		Value:    inst,
	}
}

// PayloadMismatch creates an error for an operator whose payload has the wrong shape
func PayloadMismatch(phase Phase, op, want, got string) *Error {
	return &Error{
		Phase:    phase,
		Kind:     KindPayloadMismatch,
		Operator: op,
		Detail:   fmt.Sprintf("expected %s payload, got %s", want, got),
	}
}

// NilPointer creates a nil pointer error
func NilPointer(phase Phase, section, what string) *Error {
	return &Error{
		Phase:   phase,
		Kind:    KindNilPointer,
		Section: section,
		Detail:  "nil " + what,
	}
}

// InvalidData creates an invalid data error
func InvalidData(phase Phase, section, detail string) *Error {
	return &Error{
		Phase:   phase,
		Kind:    KindInvalidData,
		Section: section,
		Detail:  detail,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// WrapSection wraps a lower-layer error with the section it occurred in.
// Structured errors pass through with the section filled in if absent.
func WrapSection(phase Phase, section string, cause error) error {
	if cause == nil {
		return nil
	}
	if e, ok := cause.(*Error); ok {
		if e.Section == "" {
			e.Section = section
		}
		return e
	}
	return &Error{
		Phase:   phase,
		Kind:    KindInvalidData,
		Section: section,
		Cause:   cause,
	}
}

// ParseFailed creates a parsing error
func ParseFailed(what string, cause error) *Error {
	return &Error{
		Phase:  PhaseParse,
		Kind:   KindInvalidData,
		Detail: fmt.Sprintf("parse %s", what),
		Cause:  cause,
	}
}
