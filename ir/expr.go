package ir

import (
	"github.com/wippyai/wasm-ir/errors"
	"github.com/wippyai/wasm-ir/wasm"
)

// Expression is a constant expression. Operators holds the full sequence
// including the trailing end; encoding tolerates a missing end and always
// writes exactly one.
type Expression struct {
	Operators []Operator
}

// Expr builds an Expression from ops and appends the terminating end.
func Expr(ops ...Operator) *Expression {
	out := make([]Operator, 0, len(ops)+1)
	out = append(out, ops...)
	return &Expression{Operators: append(out, Operator{OpCode: OpEnd})}
}

func isConstOp(op OpCode) bool {
	switch op {
	case OpI32Const, OpI64Const, OpF32Const, OpF64Const,
		OpGlobalGet, OpRefNull, OpRefFunc,
		OpI32Add, OpI32Sub, OpI32Mul, OpI64Add, OpI64Sub, OpI64Mul,
		OpEnd:
		return true
	}
	return false
}

func notConstant(phase errors.Phase, op Operator) error {
	return errors.New(phase, errors.KindUnsupportedOperator).
		Operator(op.OpCode.String()).
		Detail("not allowed in a constant expression").
		Value(op).
		Build()
}

// decodeExpression converts a constant expression as read by the parser,
// which includes its end.
func decodeExpression(instrs []wasm.Instruction, features Features) (*Expression, error) {
	ops := make([]Operator, 0, len(instrs))
	for _, instr := range instrs {
		op, err := decodeOperator(instr, features)
		if err != nil {
			return nil, err
		}
		if !isConstOp(op.OpCode) {
			return nil, notConstant(errors.PhaseDecode, op)
		}
		ops = append(ops, op)
	}
	return &Expression{Operators: ops}, nil
}

// encodeExpression returns the expression without its end; the wasm
// builders append it.
func encodeExpression(e *Expression, features Features) (wasm.ConstExpr, error) {
	ops := e.Operators
	if n := len(ops); n > 0 && ops[n-1].OpCode == OpEnd && ops[n-1].Payload == nil {
		ops = ops[:n-1]
	}
	out := make(wasm.ConstExpr, 0, len(ops))
	for _, op := range ops {
		if op.OpCode == OpEnd {
			return nil, errors.InvalidData(errors.PhaseEncode, "", "end before the last operator of a constant expression")
		}
		if !isConstOp(op.OpCode) {
			return nil, notConstant(errors.PhaseEncode, op)
		}
		instr, err := encodeOperator(op, features)
		if err != nil {
			return nil, err
		}
		out = append(out, instr)
	}
	return out, nil
}
