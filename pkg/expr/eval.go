package expr

import (
	"fmt"
	"math"

	"github.com/lemonberrylabs/mexpr/pkg/types"
)

// Evaluate computes the typed result of a resolved tree. A tree that needs
// resolution and is not resolved returns ErrUnresolvedVariable without
// visiting any node. Type and numeric failures set ComputationFailed and
// return an *types.EvalError; no partial result is returned.
//
// Evaluate never modifies the tree's nodes and may be called repeatedly.
func (t *Tree) Evaluate() (types.Value, error) {
	if t.Root == nil {
		return types.Null, ErrMalformedPostfix
	}
	if t.RequiresResolution && !t.Resolved {
		return types.Null, fmt.Errorf("%w: %v", ErrUnresolvedVariable, t.Unresolved())
	}
	t.ComputationFailed = false

	v, err := t.eval(t.Root)
	if err != nil {
		t.ComputationFailed = true
		return types.Null, err
	}
	return v, nil
}

func (t *Tree) eval(node Node) (types.Value, error) {
	switch n := node.(type) {
	case *IntLiteral:
		return types.NewInt(n.Value), nil
	case *DoubleLiteral:
		return types.NewDouble(n.Value), nil
	case *BoolLiteral:
		return types.NewBool(n.Value), nil
	case *Variable:
		if !n.Resolved {
			return types.Null, fmt.Errorf("%w: %s", ErrUnresolvedVariable, n.Name)
		}
		return n.Value, nil
	case *UnaryOp:
		return t.evalUnary(n)
	case *BinaryOp:
		return t.evalBinary(n)
	default:
		return types.Null, fmt.Errorf("unsupported expression node type: %T", node)
	}
}

func (t *Tree) evalUnary(n *UnaryOp) (types.Value, error) {
	operand, err := t.eval(n.Operand)
	if err != nil {
		return types.Null, err
	}
	if !operand.IsNumber() {
		return types.Null, types.NewTypeError(
			fmt.Sprintf("unsupported operand type for %s: %s", n.Op.Symbol(), operand.Type()))
	}

	x, _ := operand.AsNumber()
	switch n.Op {
	case TokenSin:
		return types.NewDouble(math.Sin(x)), nil
	case TokenCos:
		return types.NewDouble(math.Cos(x)), nil
	case TokenSqrt:
		return types.NewDouble(math.Sqrt(x)), nil
	case TokenSqr:
		if operand.Type() == types.TypeInt {
			i := operand.AsInt()
			return types.NewInt(i * i), nil
		}
		return types.NewDouble(x * x), nil
	default:
		return types.Null, fmt.Errorf("unsupported unary operator: %s", n.Op)
	}
}

func (t *Tree) evalBinary(n *BinaryOp) (types.Value, error) {
	// Both sides are always evaluated, including for and/or.
	left, err := t.eval(n.Left)
	if err != nil {
		return types.Null, err
	}
	right, err := t.eval(n.Right)
	if err != nil {
		return types.Null, err
	}

	switch n.Op {
	case TokenPlus:
		return evalArith(n.Op, left, right, func(a, b int64) int64 { return a + b },
			func(a, b float64) float64 { return a + b })
	case TokenMinus:
		return evalArith(n.Op, left, right, func(a, b int64) int64 { return a - b },
			func(a, b float64) float64 { return a - b })
	case TokenMultiply:
		return evalArith(n.Op, left, right, func(a, b int64) int64 { return a * b },
			func(a, b float64) float64 { return a * b })
	case TokenMin:
		return evalArith(n.Op, left, right, func(a, b int64) int64 { return min(a, b) },
			math.Min)
	case TokenMax:
		return evalArith(n.Op, left, right, func(a, b int64) int64 { return max(a, b) },
			math.Max)
	case TokenDivide:
		return evalDivide(left, right)
	case TokenModulo:
		return evalModulo(left, right)
	case TokenPow:
		return evalPow(left, right)
	case TokenLt:
		return evalCompare(n.Op, left, right, func(c int) bool { return c < 0 })
	case TokenLe:
		return evalCompare(n.Op, left, right, func(c int) bool { return c <= 0 })
	case TokenGt:
		return evalCompare(n.Op, left, right, func(c int) bool { return c > 0 })
	case TokenGe:
		return evalCompare(n.Op, left, right, func(c int) bool { return c >= 0 })
	case TokenEq:
		return evalCompare(n.Op, left, right, func(c int) bool { return c == 0 })
	case TokenNeq:
		return evalCompare(n.Op, left, right, func(c int) bool { return c != 0 })
	case TokenAnd:
		return evalLogical(n.Op, left, right, func(a, b bool) bool { return a && b })
	case TokenOr:
		return evalLogical(n.Op, left, right, func(a, b bool) bool { return a || b })
	default:
		return types.Null, fmt.Errorf("unsupported binary operator: %s", n.Op)
	}
}

func operandError(op TokenKind, left, right types.Value) error {
	return types.NewTypeError(
		fmt.Sprintf("unsupported operand types for %s: %s and %s", op.Symbol(), left.Type(), right.Type()))
}

func evalArith(op TokenKind, left, right types.Value, intOp func(int64, int64) int64, floatOp func(float64, float64) float64) (types.Value, error) {
	if left.Type() == types.TypeInt && right.Type() == types.TypeInt {
		return types.NewInt(intOp(left.AsInt(), right.AsInt())), nil
	}

	a, aOk := left.AsNumber()
	b, bOk := right.AsNumber()
	if !aOk || !bOk {
		return types.Null, operandError(op, left, right)
	}

	return types.NewDouble(floatOp(a, b)), nil
}

func evalDivide(left, right types.Value) (types.Value, error) {
	if left.Type() == types.TypeInt && right.Type() == types.TypeInt {
		if right.AsInt() == 0 {
			return types.Null, types.NewZeroDivisionError("division")
		}
		return types.NewInt(left.AsInt() / right.AsInt()), nil
	}

	a, aOk := left.AsNumber()
	b, bOk := right.AsNumber()
	if !aOk || !bOk {
		return types.Null, operandError(TokenDivide, left, right)
	}
	if b == 0 {
		return types.Null, types.NewZeroDivisionError("division")
	}
	return types.NewDouble(a / b), nil
}

func evalModulo(left, right types.Value) (types.Value, error) {
	if left.Type() == types.TypeInt && right.Type() == types.TypeInt {
		if right.AsInt() == 0 {
			return types.Null, types.NewZeroDivisionError("modulo")
		}
		return types.NewInt(left.AsInt() % right.AsInt()), nil
	}

	a, aOk := left.AsNumber()
	b, bOk := right.AsNumber()
	if !aOk || !bOk {
		return types.Null, operandError(TokenModulo, left, right)
	}
	if b == 0 {
		return types.Null, types.NewZeroDivisionError("modulo")
	}
	return types.NewDouble(math.Mod(a, b)), nil
}

// evalPow always yields a double, even for two ints.
func evalPow(left, right types.Value) (types.Value, error) {
	a, aOk := left.AsNumber()
	b, bOk := right.AsNumber()
	if !aOk || !bOk {
		return types.Null, operandError(TokenPow, left, right)
	}
	return types.NewDouble(math.Pow(a, b)), nil
}

func evalCompare(op TokenKind, left, right types.Value, test func(int) bool) (types.Value, error) {
	cmp, err := compare(left, right)
	if err != nil {
		return types.Null, operandError(op, left, right)
	}
	if cmp == unordered {
		return types.NewBool(op == TokenNeq), nil
	}
	return types.NewBool(test(cmp)), nil
}

// compare orders two numbers. Two ints compare exactly as int64; any other
// numeric pair compares as float64.
func compare(a, b types.Value) (int, error) {
	if a.Type() == types.TypeInt && b.Type() == types.TypeInt {
		x, y := a.AsInt(), b.AsInt()
		switch {
		case x < y:
			return -1, nil
		case x > y:
			return 1, nil
		}
		return 0, nil
	}

	an, aOk := a.AsNumber()
	bn, bOk := b.AsNumber()
	if !aOk || !bOk {
		return 0, fmt.Errorf("cannot compare %s and %s", a.Type(), b.Type())
	}
	switch {
	case an < bn:
		return -1, nil
	case an > bn:
		return 1, nil
	case an == bn:
		return 0, nil
	}
	return unordered, nil
}

// unordered is the compare result when either side is NaN.
const unordered = 2

func evalLogical(op TokenKind, left, right types.Value, logicOp func(bool, bool) bool) (types.Value, error) {
	if left.Type() != types.TypeBool || right.Type() != types.TypeBool {
		return types.Null, operandError(op, left, right)
	}
	return types.NewBool(logicOp(left.AsBool(), right.AsBool())), nil
}
