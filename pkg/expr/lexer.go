package expr

import (
	"fmt"
	"strconv"
	"unicode"
	"unicode/utf8"
)

// MaxExpressionLength is the maximum allowed length for a single expression.
const MaxExpressionLength = 512

// Lexer tokenizes an expression string.
type Lexer struct {
	input  string
	pos    int
	tokens []Token
}

// NewLexer creates a new lexer for the given input.
func NewLexer(input string) *Lexer {
	return &Lexer{input: input}
}

// Tokenize scans the entire input and returns all tokens. The result always
// ends with exactly one TokenEOF.
func (l *Lexer) Tokenize() ([]Token, error) {
	if len(l.input) > MaxExpressionLength {
		return nil, fmt.Errorf("expression exceeds maximum length of %d characters", MaxExpressionLength)
	}
	for {
		tok, err := l.next()
		if err != nil {
			return nil, err
		}
		l.tokens = append(l.tokens, tok)
		if tok.Kind == TokenEOF {
			break
		}
	}
	return l.tokens, nil
}

// Tokenize is shorthand for NewLexer(input).Tokenize().
func Tokenize(input string) ([]Token, error) {
	return NewLexer(input).Tokenize()
}

// next returns the next token from the input.
func (l *Lexer) next() (Token, error) {
	l.skipWhitespace()

	if l.pos >= len(l.input) {
		return Token{Kind: TokenEOF, Pos: l.pos}, nil
	}

	ch := l.input[l.pos]

	if isDigit(ch) || (ch == '.' && l.pos+1 < len(l.input) && isDigit(l.input[l.pos+1])) {
		return l.readNumber(l.pos)
	}

	// A minus glued to a number is a sign unless it follows something that
	// could be a left operand.
	if ch == '-' && l.pos+1 < len(l.input) && l.signAllowed() {
		nx := l.input[l.pos+1]
		if isDigit(nx) || (nx == '.' && l.pos+2 < len(l.input) && isDigit(l.input[l.pos+2])) {
			start := l.pos
			l.pos++
			return l.readNumber(start)
		}
	}

	// Two-character operators
	if l.pos+1 < len(l.input) {
		two := l.input[l.pos : l.pos+2]
		switch two {
		case "<=":
			return l.emit(TokenLe, 2), nil
		case ">=":
			return l.emit(TokenGe, 2), nil
		case "!=":
			return l.emit(TokenNeq, 2), nil
		case "==":
			return l.emit(TokenEq, 2), nil
		}
	}

	// Single-character operators
	switch ch {
	case '+':
		return l.emit(TokenPlus, 1), nil
	case '-':
		return l.emit(TokenMinus, 1), nil
	case '*':
		return l.emit(TokenMultiply, 1), nil
	case '/':
		return l.emit(TokenDivide, 1), nil
	case '%':
		return l.emit(TokenModulo, 1), nil
	case '<':
		return l.emit(TokenLt, 1), nil
	case '>':
		return l.emit(TokenGt, 1), nil
	case '=':
		return l.emit(TokenEq, 1), nil
	case '(':
		return l.emit(TokenLParen, 1), nil
	case ')':
		return l.emit(TokenRParen, 1), nil
	case ',':
		return l.emit(TokenComma, 1), nil
	}

	if isIdentStart(ch) {
		return l.readIdentifier(), nil
	}

	r, _ := utf8.DecodeRuneInString(l.input[l.pos:])
	return Token{}, fmt.Errorf("unexpected character %q at position %d", r, l.pos)
}

func (l *Lexer) emit(kind TokenKind, width int) Token {
	tok := Token{Kind: kind, Text: l.input[l.pos : l.pos+width], Pos: l.pos}
	l.pos += width
	return tok
}

// signAllowed reports whether a '-' at the current position may start a
// negative literal.
func (l *Lexer) signAllowed() bool {
	if len(l.tokens) == 0 {
		return true
	}
	prev := l.tokens[len(l.tokens)-1].Kind
	return !prev.IsOperand() && prev != TokenRParen
}

// readNumber reads an integer or double literal starting at start. The
// cursor may already be past a leading sign.
func (l *Lexer) readNumber(start int) (Token, error) {
	isDouble := false
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		switch {
		case isDigit(ch):
			l.pos++
		case ch == '.' && !isDouble:
			isDouble = true
			l.pos++
		case ch == 'e' || ch == 'E':
			isDouble = true
			l.pos++
			if l.pos < len(l.input) && (l.input[l.pos] == '+' || l.input[l.pos] == '-') {
				l.pos++
			}
			if l.pos >= len(l.input) || !isDigit(l.input[l.pos]) {
				return Token{}, fmt.Errorf("invalid exponent in number at position %d", start)
			}
		default:
			return l.number(start, isDouble)
		}
	}
	return l.number(start, isDouble)
}

// number emits the literal read so far. Literals that do not fit an int64
// or a finite float64 are rejected here, before any grammar sees them.
func (l *Lexer) number(start int, isDouble bool) (Token, error) {
	text := l.input[start:l.pos]
	if isDouble {
		if _, err := strconv.ParseFloat(text, 64); err != nil {
			return Token{}, fmt.Errorf("double literal %s out of range at position %d", text, start)
		}
		return Token{Kind: TokenDouble, Text: text, Pos: start}, nil
	}
	if _, err := strconv.ParseInt(text, 10, 64); err != nil {
		return Token{}, fmt.Errorf("integer literal %s out of range at position %d", text, start)
	}
	return Token{Kind: TokenInt, Text: text, Pos: start}, nil
}

// readIdentifier reads an identifier or keyword.
func (l *Lexer) readIdentifier() Token {
	start := l.pos
	for l.pos < len(l.input) && isIdentPart(l.input[l.pos]) {
		l.pos++
	}

	word := l.input[start:l.pos]
	kind := TokenVariable
	switch word {
	case "true", "false":
		kind = TokenBool
	case "and":
		kind = TokenAnd
	case "or":
		kind = TokenOr
	case "min":
		kind = TokenMin
	case "max":
		kind = TokenMax
	case "pow":
		kind = TokenPow
	case "sin":
		kind = TokenSin
	case "cos":
		kind = TokenCos
	case "sqr":
		kind = TokenSqr
	case "sqrt":
		kind = TokenSqrt
	}
	return Token{Kind: kind, Text: word, Pos: start}
}

func (l *Lexer) skipWhitespace() {
	for l.pos < len(l.input) && unicode.IsSpace(rune(l.input[l.pos])) {
		l.pos++
	}
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isIdentStart(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || ch == '_'
}

func isIdentPart(ch byte) bool {
	return isIdentStart(ch) || isDigit(ch)
}
