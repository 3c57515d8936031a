package expr

import (
	"fmt"

	"github.com/lemonberrylabs/mexpr/pkg/types"
)

// Parser recognizes the arithmetic, comparison and logical grammars by
// recursive descent with checkpoint/restore backtracking:
//
//	Expr        := Term ExprTail
//	ExprTail    := ('+'|'-') Term ExprTail | ε
//	Term        := Factor TermTail
//	TermTail    := ('*'|'/'|'%') Factor TermTail | ε
//	Factor      := '(' Expr ')' | INT | DOUBLE | VARIABLE
//	             | UnaryFn '(' Expr ')' | BinaryFn '(' Expr ',' Expr ')'
//	Compare     := Expr CompareOp Expr
//	Logical     := LAnd LogicalTail
//	LogicalTail := 'or' LAnd LogicalTail | ε
//	LAnd        := LTerm LAndTail
//	LAndTail    := 'and' LTerm LAndTail | ε
//	LTerm       := '(' Logical ')' | Compare | BOOL
//
// Every rule method either consumes exactly the tokens it matched and
// returns true, or restores the source to where it started and returns
// false. LTerm alternatives are tried in the order listed.
type Parser struct {
	src TokenSource
}

// NewParser creates a parser reading from src.
func NewParser(src TokenSource) *Parser {
	return &Parser{src: src}
}

// ParseArithmetic matches tokens against Expr followed by end of input and
// returns the matched span, or ErrNoMatch.
func ParseArithmetic(tokens []Token) ([]Token, error) {
	return parseWith(tokens, (*Parser).Expr)
}

// ParseComparison matches tokens against Compare followed by end of input.
func ParseComparison(tokens []Token) ([]Token, error) {
	return parseWith(tokens, (*Parser).Compare)
}

// ParseLogical matches tokens against Logical followed by end of input.
func ParseLogical(tokens []Token) ([]Token, error) {
	return parseWith(tokens, (*Parser).Logical)
}

func parseWith(tokens []Token, rule func(*Parser) bool) ([]Token, error) {
	c := NewCursor(tokens)
	p := NewParser(c)
	if !rule(p) {
		return nil, ErrNoMatch
	}
	end := c.Position()
	if !p.EOF() {
		c.Rewind(0)
		return nil, ErrNoMatch
	}
	return c.Span(0, end), nil
}

// EOF consumes the end-of-input sentinel. Anything else is restored.
func (p *Parser) EOF() bool {
	return p.accept(TokenEOF)
}

// accept consumes one token of the given kind or restores the source.
func (p *Parser) accept(kind TokenKind) bool {
	ckp := p.src.Position()
	if p.src.Next().Kind != kind {
		p.src.Rewind(ckp)
		return false
	}
	return true
}

// Expr matches an arithmetic expression.
func (p *Parser) Expr() bool {
	ckp := p.src.Position()
	if !p.term() {
		p.src.Rewind(ckp)
		return false
	}
	p.exprTail()
	return true
}

func (p *Parser) exprTail() bool {
	ckp := p.src.Position()
	switch p.src.Next().Kind {
	case TokenPlus, TokenMinus:
		if p.term() {
			p.exprTail()
			return true
		}
	}
	p.src.Rewind(ckp)
	return true
}

func (p *Parser) term() bool {
	ckp := p.src.Position()
	if !p.factor() {
		p.src.Rewind(ckp)
		return false
	}
	p.termTail()
	return true
}

func (p *Parser) termTail() bool {
	ckp := p.src.Position()
	switch p.src.Next().Kind {
	case TokenMultiply, TokenDivide, TokenModulo:
		if p.factor() {
			p.termTail()
			return true
		}
	}
	p.src.Rewind(ckp)
	return true
}

func (p *Parser) factor() bool {
	ckp := p.src.Position()

	// '(' Expr ')'
	if p.accept(TokenLParen) && p.Expr() && p.accept(TokenRParen) {
		return true
	}
	p.src.Rewind(ckp)

	tok := p.src.Next()
	switch {
	case tok.Kind == TokenInt, tok.Kind == TokenDouble, tok.Kind == TokenVariable:
		return true

	case tok.Kind.IsUnaryOperator():
		if p.accept(TokenLParen) && p.Expr() && p.accept(TokenRParen) {
			return true
		}

	case tok.Kind == TokenMin, tok.Kind == TokenMax, tok.Kind == TokenPow:
		if p.accept(TokenLParen) && p.Expr() && p.accept(TokenComma) &&
			p.Expr() && p.accept(TokenRParen) {
			return true
		}
	}

	p.src.Rewind(ckp)
	return false
}

// Compare matches Expr CompareOp Expr.
func (p *Parser) Compare() bool {
	ckp := p.src.Position()
	if p.Expr() && p.compareOp() && p.Expr() {
		return true
	}
	p.src.Rewind(ckp)
	return false
}

func (p *Parser) compareOp() bool {
	ckp := p.src.Position()
	if p.src.Next().Kind.IsComparison() {
		return true
	}
	p.src.Rewind(ckp)
	return false
}

// Logical matches a chain of comparisons joined by and/or.
func (p *Parser) Logical() bool {
	ckp := p.src.Position()
	if !p.lAnd() {
		p.src.Rewind(ckp)
		return false
	}
	p.logicalTail()
	return true
}

func (p *Parser) logicalTail() bool {
	ckp := p.src.Position()
	if p.accept(TokenOr) && p.lAnd() {
		p.logicalTail()
		return true
	}
	p.src.Rewind(ckp)
	return true
}

func (p *Parser) lAnd() bool {
	ckp := p.src.Position()
	if !p.lTerm() {
		p.src.Rewind(ckp)
		return false
	}
	p.lAndTail()
	return true
}

func (p *Parser) lAndTail() bool {
	ckp := p.src.Position()
	if p.accept(TokenAnd) && p.lTerm() {
		p.lAndTail()
		return true
	}
	p.src.Rewind(ckp)
	return true
}

func (p *Parser) lTerm() bool {
	ckp := p.src.Position()

	if p.accept(TokenLParen) && p.Logical() && p.accept(TokenRParen) {
		return true
	}
	p.src.Rewind(ckp)

	if p.Compare() {
		return true
	}

	if p.accept(TokenBool) {
		return true
	}

	p.src.Rewind(ckp)
	return false
}

// Circle is a recognized circle equation pow(x, 2) + pow(y, 2) = r².
type Circle struct {
	RadiusSquared types.Value
}

// ParseCircle recognizes exactly "pow(x, 2) + pow(y, 2) = NUMBER" followed
// by end of input.
func ParseCircle(tokens []Token) (Circle, error) {
	c := NewCursor(tokens)
	p := NewParser(c)

	if !p.squareOf("x") || !p.accept(TokenPlus) || !p.squareOf("y") || !p.accept(TokenEq) {
		return Circle{}, ErrNoMatch
	}

	ckp := c.Position()
	tok := c.Next()
	if tok.Kind != TokenInt && tok.Kind != TokenDouble {
		c.Rewind(ckp)
		return Circle{}, ErrNoMatch
	}
	if !p.EOF() {
		return Circle{}, ErrNoMatch
	}

	r, err := types.ParseLiteral(tok.Text)
	if err != nil {
		return Circle{}, fmt.Errorf("%w: %v", ErrNoMatch, err)
	}
	return Circle{RadiusSquared: r}, nil
}

// squareOf matches pow(<name>, 2).
func (p *Parser) squareOf(name string) bool {
	ckp := p.src.Position()
	if p.accept(TokenPow) && p.accept(TokenLParen) &&
		p.acceptText(TokenVariable, name) && p.accept(TokenComma) &&
		p.acceptText(TokenInt, "2") && p.accept(TokenRParen) {
		return true
	}
	p.src.Rewind(ckp)
	return false
}

func (p *Parser) acceptText(kind TokenKind, text string) bool {
	ckp := p.src.Position()
	tok := p.src.Next()
	if tok.Kind != kind || tok.Text != text {
		p.src.Rewind(ckp)
		return false
	}
	return true
}
