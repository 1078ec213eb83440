package interchange

import (
	"fmt"
	"strconv"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/wippyai/wasm-ir/errors"
)

// field is one decoded wire field. Varint and fixed values land in val,
// length-delimited values in buf.
type field struct {
	buf []byte
	val uint64
	num protowire.Number
	typ protowire.Type
}

func parseFields(b []byte) ([]field, error) {
	var out []field
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, wireError(protowire.ParseError(n))
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.val, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			var v uint32
			v, n = protowire.ConsumeFixed32(b)
			f.val = uint64(v)
		case protowire.Fixed64Type:
			f.val, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			f.buf, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return nil, wireError(protowire.ParseError(n))
		}
		b = b[n:]
		out = append(out, f)
	}
	return out, nil
}

func wireError(err error) error {
	return errors.Wrap(errors.PhaseMarshal, errors.KindInvalidData, err, "malformed wire data")
}

func (f field) want(typ protowire.Type) error {
	if f.typ == typ {
		return nil
	}
	return errors.New(errors.PhaseMarshal, errors.KindInvalidData).
		Detail("field %d has wire type %d, want %d", f.num, f.typ, typ).
		Build()
}

func (f field) message() ([]byte, error) {
	if err := f.want(protowire.BytesType); err != nil {
		return nil, err
	}
	return f.buf, nil
}

func (f field) asUint64() (uint64, error) {
	if err := f.want(protowire.VarintType); err != nil {
		return 0, err
	}
	return f.val, nil
}

func (f field) asUint32() (uint32, error) {
	v, err := f.asUint64()
	if err != nil {
		return 0, err
	}
	if v > 1<<32-1 {
		return 0, errors.InvalidData(errors.PhaseMarshal, "", fmt.Sprintf("field %d: value %d overflows uint32", f.num, v))
	}
	return uint32(v), nil
}

func (f field) asInt32() (int32, error) {
	v, err := f.asUint64()
	return int32(v), err
}

func (f field) optUint32() (*uint32, error) {
	v, err := f.asUint32()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (f field) optUint64() (*uint64, error) {
	v, err := f.asUint64()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (f field) optBool() (*bool, error) {
	v, err := f.asUint64()
	if err != nil {
		return nil, err
	}
	b := protowire.DecodeBool(v)
	return &b, nil
}

func (f field) optString() (*string, error) {
	b, err := f.message()
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}

// uint32s appends a repeated uint32 field in packed or unpacked form.
func (f field) uint32s(dst []uint32) ([]uint32, error) {
	if f.typ == protowire.VarintType {
		v, err := f.asUint32()
		if err != nil {
			return nil, err
		}
		return append(dst, v), nil
	}
	b, err := f.message()
	if err != nil {
		return nil, err
	}
	for len(b) > 0 {
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return nil, wireError(protowire.ParseError(n))
		}
		if v > 1<<32-1 {
			return nil, errors.InvalidData(errors.PhaseMarshal, "", fmt.Sprintf("field %d: value %d overflows uint32", f.num, v))
		}
		dst = append(dst, uint32(v))
		b = b[n:]
	}
	return dst, nil
}

// at prepends a path element to a structured error.
func at(err error, name string, index int) error {
	elem := name + "[" + strconv.Itoa(index) + "]"
	if e, ok := err.(*errors.Error); ok {
		e.Path = append([]string{elem}, e.Path...)
		return e
	}
	return &errors.Error{
		Phase: errors.PhaseMarshal,
		Kind:  errors.KindInvalidData,
		Path:  []string{elem},
		Cause: err,
	}
}
