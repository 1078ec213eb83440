package ir

import (
	"fmt"

	"github.com/wippyai/wasm-ir/errors"
	"github.com/wippyai/wasm-ir/wasm"
)

// ValType is the kind of a ValueType.
type ValType int32

const (
	ValTypeI32 ValType = iota
	ValTypeI64
	ValTypeF32
	ValTypeF64
	ValTypeV128
	ValTypeRef
)

func (v ValType) String() string {
	switch v {
	case ValTypeI32:
		return "i32"
	case ValTypeI64:
		return "i64"
	case ValTypeF32:
		return "f32"
	case ValTypeF64:
		return "f64"
	case ValTypeV128:
		return "v128"
	case ValTypeRef:
		return "ref"
	default:
		return fmt.Sprintf("valtype(%d)", int32(v))
	}
}

// RefType is a reference type. Only function references are modelled.
type RefType int32

const (
	RefTypeFuncRef RefType = iota
	RefTypeFuncRefNonNull
)

func (r RefType) String() string {
	switch r {
	case RefTypeFuncRef:
		return "funcref"
	case RefTypeFuncRefNonNull:
		return "(ref func)"
	default:
		return fmt.Sprintf("reftype(%d)", int32(r))
	}
}

// ValueType is a value type. Ref is only meaningful when Type is ValTypeRef.
type ValueType struct {
	Type ValType
	Ref  RefType
}

// Common value types.
var (
	I32     = ValueType{Type: ValTypeI32}
	I64     = ValueType{Type: ValTypeI64}
	F32     = ValueType{Type: ValTypeF32}
	F64     = ValueType{Type: ValTypeF64}
	V128    = ValueType{Type: ValTypeV128}
	FuncRef = ValueType{Type: ValTypeRef, Ref: RefTypeFuncRef}
)

func (v ValueType) String() string {
	if v.Type == ValTypeRef {
		return v.Ref.String()
	}
	return v.Type.String()
}

// BlockType is the signature of a structured instruction: EmptyBlock,
// ValueBlock or FuncBlock.
type BlockType interface {
	isBlockType()
}

// EmptyBlock has no params and no results. Sentinel must be zero.
type EmptyBlock struct {
	Sentinel int32
}

// ValueBlock has a single result.
type ValueBlock struct {
	Type ValueType
}

// FuncBlock uses the signature of a function type.
type FuncBlock struct {
	TypeIndex uint32
}

func (EmptyBlock) isBlockType() {}
func (ValueBlock) isBlockType() {}
func (FuncBlock) isBlockType()  {}

func decodeValueType(v wasm.ValType) (ValueType, error) {
	switch v.Code {
	case wasm.ValI32:
		return I32, nil
	case wasm.ValI64:
		return I64, nil
	case wasm.ValF32:
		return F32, nil
	case wasm.ValF64:
		return F64, nil
	case wasm.ValV128:
		return V128, nil
	case wasm.ValRef:
		r, err := decodeRefType(v.Ref)
		if err != nil {
			return ValueType{}, err
		}
		return ValueType{Type: ValTypeRef, Ref: r}, nil
	}
	return ValueType{}, errors.Unsupported(errors.PhaseDecode, "", "unsupported value type "+v.String())
}

func decodeRefType(r wasm.RefType) (RefType, error) {
	if !r.IsFunc() {
		return 0, errors.New(errors.PhaseDecode, errors.KindUnsupported).
			Detail("unsupported reference type %s", r).
			Value(r).
			Build()
	}
	if r.Nullable {
		return RefTypeFuncRef, nil
	}
	return RefTypeFuncRefNonNull, nil
}

func encodeValueType(v ValueType) (wasm.ValType, error) {
	switch v.Type {
	case ValTypeI32:
		return wasm.I32, nil
	case ValTypeI64:
		return wasm.I64, nil
	case ValTypeF32:
		return wasm.F32, nil
	case ValTypeF64:
		return wasm.F64, nil
	case ValTypeV128:
		return wasm.V128, nil
	case ValTypeRef:
		r, err := encodeRefType(v.Ref)
		if err != nil {
			return wasm.ValType{}, err
		}
		return wasm.ValType{Code: wasm.ValRef, Ref: r}, nil
	}
	return wasm.ValType{}, errors.InvalidDiscriminant(errors.PhaseEncode, "", "value type", int32(v.Type))
}

func encodeRefType(r RefType) (wasm.RefType, error) {
	switch r {
	case RefTypeFuncRef:
		return wasm.FuncRef.Ref, nil
	case RefTypeFuncRefNonNull:
		return wasm.RefType{HeapType: wasm.HeapTypeFunc}, nil
	}
	return wasm.RefType{}, errors.InvalidDiscriminant(errors.PhaseEncode, "", "reference type", int32(r))
}

func decodeValueTypes(vs []wasm.ValType) ([]ValueType, error) {
	out := make([]ValueType, 0, len(vs))
	for _, v := range vs {
		vt, err := decodeValueType(v)
		if err != nil {
			return nil, err
		}
		out = append(out, vt)
	}
	return out, nil
}

func encodeValueTypes(vs []ValueType) ([]wasm.ValType, error) {
	out := make([]wasm.ValType, 0, len(vs))
	for _, v := range vs {
		vt, err := encodeValueType(v)
		if err != nil {
			return nil, err
		}
		out = append(out, vt)
	}
	return out, nil
}

func decodeBlockType(bt wasm.BlockType) (BlockType, error) {
	switch bt.Kind {
	case wasm.BlockEmpty:
		return EmptyBlock{}, nil
	case wasm.BlockValue:
		vt, err := decodeValueType(bt.Value)
		if err != nil {
			return nil, err
		}
		return ValueBlock{Type: vt}, nil
	case wasm.BlockFunc:
		return FuncBlock{TypeIndex: bt.TypeIndex}, nil
	}
	return nil, errors.InvalidDiscriminant(errors.PhaseDecode, "", "block type", bt.Kind)
}

func encodeBlockType(bt BlockType) (wasm.BlockType, error) {
	switch b := bt.(type) {
	case EmptyBlock:
		if b.Sentinel != 0 {
			return wasm.BlockType{}, errors.InvalidDiscriminant(errors.PhaseEncode, "", "empty block sentinel", b.Sentinel)
		}
		return wasm.BlockType{Kind: wasm.BlockEmpty}, nil
	case ValueBlock:
		vt, err := encodeValueType(b.Type)
		if err != nil {
			return wasm.BlockType{}, err
		}
		return wasm.BlockType{Kind: wasm.BlockValue, Value: vt}, nil
	case FuncBlock:
		return wasm.BlockType{Kind: wasm.BlockFunc, TypeIndex: b.TypeIndex}, nil
	case nil:
		return wasm.BlockType{}, errors.FieldMissing(errors.PhaseEncode, "", "block type")
	}
	return wasm.BlockType{}, errors.InvalidDiscriminant(errors.PhaseEncode, "", "block type", fmt.Sprintf("%T", bt))
}
