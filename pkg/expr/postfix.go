package expr

import (
	"github.com/ahrtr/gocontainer/stack"
	"github.com/edwingeng/deque"
)

// ToPostfix reorders a matched infix span into postfix order with an
// operator stack. Operands go straight to the output; binary operators pop
// everything of greater or equal precedence first, so equal precedence
// associates to the left. Function tokens are parked on the stack and
// emitted when their call's closing parenthesis is reached. A comma flushes
// the current argument down to the call's opening parenthesis.
//
// Whitespace, tab and EOF tokens are ignored. The input must already have
// been accepted by one of the grammar entry points.
func ToPostfix(infix []Token) []Token {
	out := deque.NewDeque()
	ops := stack.New()

	for _, tok := range infix {
		kind := tok.Kind
		switch {
		case kind.IsSkipped():
			continue

		case kind.IsOperand():
			out.PushBack(tok)

		case kind == TokenLParen:
			ops.Push(tok)

		case kind == TokenRParen:
			for !ops.IsEmpty() {
				top := ops.Pop().(Token)
				if top.Kind == TokenLParen {
					break
				}
				out.PushBack(top)
			}
			for !ops.IsEmpty() && ops.Peek().(Token).Kind.IsFunction() {
				out.PushBack(ops.Pop())
			}

		case kind == TokenComma:
			for !ops.IsEmpty() && ops.Peek().(Token).Kind != TokenLParen {
				out.PushBack(ops.Pop())
			}

		case kind.IsFunction():
			ops.Push(tok)

		case kind.IsOperator():
			for !ops.IsEmpty() {
				top := ops.Peek().(Token)
				if top.Kind == TokenLParen || top.Kind.Precedence() < kind.Precedence() {
					break
				}
				out.PushBack(ops.Pop())
			}
			ops.Push(tok)
		}
	}

	for !ops.IsEmpty() {
		top := ops.Pop().(Token)
		if top.Kind == TokenLParen {
			continue
		}
		out.PushBack(top)
	}

	postfix := make([]Token, 0, out.Len())
	for !out.Empty() {
		postfix = append(postfix, out.PopFront().(Token))
	}
	return postfix
}

// PostfixText returns the source text of each postfix token.
func PostfixText(postfix []Token) []string {
	texts := make([]string, len(postfix))
	for i, tok := range postfix {
		texts[i] = tok.Text
	}
	return texts
}
