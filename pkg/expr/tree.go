package expr

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lemonberrylabs/mexpr/pkg/types"
)

// Node is the interface for all expression tree nodes. The concrete types
// are *IntLiteral, *DoubleLiteral, *BoolLiteral, *Variable, *UnaryOp and
// *BinaryOp.
type Node interface {
	nodeType() string
}

// IntLiteral is an integer leaf.
type IntLiteral struct {
	Value int64
	Text  string
}

func (n *IntLiteral) nodeType() string { return "Int" }

// DoubleLiteral is a floating point leaf.
type DoubleLiteral struct {
	Value float64
	Text  string
}

func (n *DoubleLiteral) nodeType() string { return "Double" }

// BoolLiteral is a boolean leaf.
type BoolLiteral struct {
	Value bool
}

func (n *BoolLiteral) nodeType() string { return "Bool" }

// Variable is a named leaf whose value comes from resolution.
type Variable struct {
	Name     string
	Value    types.Value // valid only when Resolved
	Resolved bool
}

func (n *Variable) nodeType() string { return "Variable" }

// UnaryOp applies sin, cos, sqr or sqrt to its operand.
type UnaryOp struct {
	Op      TokenKind
	Operand Node
}

func (n *UnaryOp) nodeType() string { return "Unary" }

// BinaryOp applies an arithmetic, comparison or logical operator.
type BinaryOp struct {
	Op    TokenKind
	Left  Node
	Right Node
}

func (n *BinaryOp) nodeType() string { return "Binary" }

// Tree is an expression tree plus the left-to-right list of its leaves.
type Tree struct {
	Root Node

	// RequiresResolution is true iff the tree has at least one Variable.
	RequiresResolution bool
	// Resolved is true once every Variable has been bound without failure.
	Resolved bool
	// ComputationFailed is set by Evaluate on a type or numeric failure.
	ComputationFailed bool

	leaves []Node
}

// Leaves returns the leaf nodes in left-to-right order. The slice is shared
// with the tree and must not be modified.
func (t *Tree) Leaves() []Node {
	return t.leaves
}

// Variables returns the Variable leaves in left-to-right order.
func (t *Tree) Variables() []*Variable {
	var vars []*Variable
	for _, leaf := range t.leaves {
		if v, ok := leaf.(*Variable); ok {
			vars = append(vars, v)
		}
	}
	return vars
}

// BuildTree converts a postfix token sequence into an expression tree.
// Operands become leaves; unary operators pop one node; binary operators pop
// the right operand and then the left one. Exactly one node must remain at
// the end, otherwise ErrMalformedPostfix is returned.
func BuildTree(postfix []Token) (*Tree, error) {
	t := &Tree{}
	nodes := make([]Node, 0, len(postfix))

	pop := func() (Node, bool) {
		if len(nodes) == 0 {
			return nil, false
		}
		n := nodes[len(nodes)-1]
		nodes = nodes[:len(nodes)-1]
		return n, true
	}

	for i, tok := range postfix {
		switch {
		case tok.Kind.IsOperand():
			leaf, err := newLeaf(tok)
			if err != nil {
				return nil, fmt.Errorf("%w: token %d: %v", ErrMalformedPostfix, i, err)
			}
			if _, ok := leaf.(*Variable); ok {
				t.RequiresResolution = true
			}
			t.leaves = append(t.leaves, leaf)
			nodes = append(nodes, leaf)

		case tok.Kind.IsUnaryOperator():
			operand, ok := pop()
			if !ok {
				return nil, fmt.Errorf("%w: %s at %d has no operand", ErrMalformedPostfix, tok.Kind, i)
			}
			nodes = append(nodes, &UnaryOp{Op: tok.Kind, Operand: operand})

		case tok.Kind.IsBinaryOperator():
			right, okR := pop()
			left, okL := pop()
			if !okR || !okL {
				return nil, fmt.Errorf("%w: %s at %d needs two operands", ErrMalformedPostfix, tok.Kind, i)
			}
			nodes = append(nodes, &BinaryOp{Op: tok.Kind, Left: left, Right: right})

		default:
			return nil, fmt.Errorf("%w: unexpected %s token at %d", ErrMalformedPostfix, tok.Kind, i)
		}
	}

	if len(nodes) != 1 {
		return nil, fmt.Errorf("%w: %d nodes left after scan", ErrMalformedPostfix, len(nodes))
	}
	t.Root = nodes[0]
	return t, nil
}

func newLeaf(tok Token) (Node, error) {
	switch tok.Kind {
	case TokenInt:
		i, err := strconv.ParseInt(tok.Text, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", tok.Text)
		}
		return &IntLiteral{Value: i, Text: tok.Text}, nil
	case TokenDouble:
		f, err := strconv.ParseFloat(tok.Text, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid double %q", tok.Text)
		}
		return &DoubleLiteral{Value: f, Text: tok.Text}, nil
	case TokenBool:
		switch tok.Text {
		case "true":
			return &BoolLiteral{Value: true}, nil
		case "false":
			return &BoolLiteral{Value: false}, nil
		}
		return nil, fmt.Errorf("invalid boolean %q", tok.Text)
	case TokenVariable:
		return &Variable{Name: tok.Text}, nil
	}
	return nil, fmt.Errorf("%s is not an operand", tok.Kind)
}

// Postfix re-serializes the tree in postfix order.
func (t *Tree) Postfix() []string {
	var out []string
	var walk func(Node)
	walk = func(n Node) {
		switch n := n.(type) {
		case *UnaryOp:
			walk(n.Operand)
			out = append(out, n.Op.Symbol())
		case *BinaryOp:
			walk(n.Left)
			walk(n.Right)
			out = append(out, n.Op.Symbol())
		default:
			out = append(out, leafText(n))
		}
	}
	if t.Root != nil {
		walk(t.Root)
	}
	return out
}

// String renders the tree as fully parenthesized infix.
func (t *Tree) String() string {
	if t.Root == nil {
		return ""
	}
	var sb strings.Builder
	writeInfix(&sb, t.Root)
	return sb.String()
}

func writeInfix(sb *strings.Builder, n Node) {
	switch n := n.(type) {
	case *UnaryOp:
		sb.WriteString(n.Op.Symbol())
		sb.WriteByte('(')
		writeInfix(sb, n.Operand)
		sb.WriteByte(')')
	case *BinaryOp:
		if n.Op.IsFunction() {
			sb.WriteString(n.Op.Symbol())
			sb.WriteByte('(')
			writeInfix(sb, n.Left)
			sb.WriteString(", ")
			writeInfix(sb, n.Right)
			sb.WriteByte(')')
			return
		}
		sb.WriteByte('(')
		writeInfix(sb, n.Left)
		sb.WriteByte(' ')
		sb.WriteString(n.Op.Symbol())
		sb.WriteByte(' ')
		writeInfix(sb, n.Right)
		sb.WriteByte(')')
	default:
		sb.WriteString(leafText(n))
	}
}

func leafText(n Node) string {
	switch n := n.(type) {
	case *IntLiteral:
		if n.Text != "" {
			return n.Text
		}
		return strconv.FormatInt(n.Value, 10)
	case *DoubleLiteral:
		if n.Text != "" {
			return n.Text
		}
		return strconv.FormatFloat(n.Value, 'g', -1, 64)
	case *BoolLiteral:
		return strconv.FormatBool(n.Value)
	case *Variable:
		return n.Name
	}
	return "?"
}
