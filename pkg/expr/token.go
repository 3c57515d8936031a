// Package expr implements the mexpr expression pipeline: tokenizing,
// grammar recognition with backtracking, infix-to-postfix conversion,
// expression tree construction, variable resolution and typed evaluation.
package expr

// TokenKind represents the kind of a lexical token.
type TokenKind int

const (
	TokenInvalid TokenKind = iota

	// Sentinels
	TokenWhitespace // ' '
	TokenTab        // '\t'
	TokenEOF        // end of input

	// Punctuation
	TokenLParen // (
	TokenRParen // )
	TokenComma  // ,

	// Literals
	TokenInt      // integer literal
	TokenDouble   // floating point literal
	TokenVariable // identifier
	TokenBool     // true, false

	// Binary arithmetic
	TokenPlus     // +
	TokenMinus    // -
	TokenMultiply // *
	TokenDivide   // /
	TokenModulo   // %
	TokenMin      // min
	TokenMax      // max
	TokenPow      // pow

	// Unary functions
	TokenSin  // sin
	TokenCos  // cos
	TokenSqr  // sqr
	TokenSqrt // sqrt

	// Comparison
	TokenLt  // <
	TokenLe  // <=
	TokenGt  // >
	TokenGe  // >=
	TokenEq  // =, ==
	TokenNeq // !=

	// Logical
	TokenAnd // and
	TokenOr  // or
)

// Token is a single lexical token. Tokens are immutable once produced.
type Token struct {
	Kind TokenKind
	Text string // literal source text
	Pos  int    // byte offset in source
}

// String returns a debug-friendly representation of the token kind.
func (k TokenKind) String() string {
	switch k {
	case TokenWhitespace:
		return "WHITESPACE"
	case TokenTab:
		return "TAB"
	case TokenEOF:
		return "EOF"
	case TokenLParen:
		return "LPAREN"
	case TokenRParen:
		return "RPAREN"
	case TokenComma:
		return "COMMA"
	case TokenInt:
		return "INT"
	case TokenDouble:
		return "DOUBLE"
	case TokenVariable:
		return "VARIABLE"
	case TokenBool:
		return "BOOL"
	case TokenPlus:
		return "PLUS"
	case TokenMinus:
		return "MINUS"
	case TokenMultiply:
		return "MULTIPLY"
	case TokenDivide:
		return "DIVIDE"
	case TokenModulo:
		return "MODULO"
	case TokenMin:
		return "MIN"
	case TokenMax:
		return "MAX"
	case TokenPow:
		return "POW"
	case TokenSin:
		return "SIN"
	case TokenCos:
		return "COS"
	case TokenSqr:
		return "SQR"
	case TokenSqrt:
		return "SQRT"
	case TokenLt:
		return "LT"
	case TokenLe:
		return "LE"
	case TokenGt:
		return "GT"
	case TokenGe:
		return "GE"
	case TokenEq:
		return "EQ"
	case TokenNeq:
		return "NEQ"
	case TokenAnd:
		return "AND"
	case TokenOr:
		return "OR"
	default:
		return "INVALID"
	}
}

// Symbol returns the canonical source spelling of an operator or
// punctuation kind, or "" for literals and sentinels.
func (k TokenKind) Symbol() string {
	switch k {
	case TokenLParen:
		return "("
	case TokenRParen:
		return ")"
	case TokenComma:
		return ","
	case TokenPlus:
		return "+"
	case TokenMinus:
		return "-"
	case TokenMultiply:
		return "*"
	case TokenDivide:
		return "/"
	case TokenModulo:
		return "%"
	case TokenMin:
		return "min"
	case TokenMax:
		return "max"
	case TokenPow:
		return "pow"
	case TokenSin:
		return "sin"
	case TokenCos:
		return "cos"
	case TokenSqr:
		return "sqr"
	case TokenSqrt:
		return "sqrt"
	case TokenLt:
		return "<"
	case TokenLe:
		return "<="
	case TokenGt:
		return ">"
	case TokenGe:
		return ">="
	case TokenEq:
		return "="
	case TokenNeq:
		return "!="
	case TokenAnd:
		return "and"
	case TokenOr:
		return "or"
	}
	return ""
}

// IsSkipped reports whether the kind carries no meaning for conversion.
func (k TokenKind) IsSkipped() bool {
	return k == TokenWhitespace || k == TokenTab || k == TokenEOF
}

// IsOperand reports whether the kind is a literal or a variable.
func (k TokenKind) IsOperand() bool {
	switch k {
	case TokenInt, TokenDouble, TokenVariable, TokenBool:
		return true
	}
	return false
}

// IsUnaryOperator reports whether the kind takes exactly one operand.
func (k TokenKind) IsUnaryOperator() bool {
	switch k {
	case TokenSin, TokenCos, TokenSqr, TokenSqrt:
		return true
	}
	return false
}

// IsBinaryOperator reports whether the kind takes exactly two operands.
// min, max and pow are binary even though they are written as calls.
func (k TokenKind) IsBinaryOperator() bool {
	switch k {
	case TokenPlus, TokenMinus, TokenMultiply, TokenDivide, TokenModulo,
		TokenMin, TokenMax, TokenPow,
		TokenLt, TokenLe, TokenGt, TokenGe, TokenEq, TokenNeq,
		TokenAnd, TokenOr:
		return true
	}
	return false
}

// IsOperator reports whether the kind is any unary or binary operator.
func (k TokenKind) IsOperator() bool {
	return k.IsUnaryOperator() || k.IsBinaryOperator()
}

// IsFunction reports whether the kind is written in call form, f(...).
// Function tokens bind at their closing parenthesis, not by precedence.
func (k TokenKind) IsFunction() bool {
	switch k {
	case TokenSin, TokenCos, TokenSqr, TokenSqrt, TokenMin, TokenMax, TokenPow:
		return true
	}
	return false
}

// IsComparison reports whether the kind is a comparison operator.
func (k TokenKind) IsComparison() bool {
	switch k {
	case TokenLt, TokenLe, TokenGt, TokenGe, TokenEq, TokenNeq:
		return true
	}
	return false
}

// Precedence returns the binding strength of an operator; higher binds
// tighter. Parentheses and non-operators are 0.
func (k TokenKind) Precedence() int {
	switch k {
	case TokenMin, TokenMax, TokenPow:
		return 7
	case TokenMultiply, TokenDivide, TokenModulo:
		return 6
	case TokenPlus, TokenMinus:
		return 5
	case TokenSin, TokenCos, TokenSqr, TokenSqrt:
		return 4
	case TokenLt, TokenLe, TokenGt, TokenGe, TokenEq, TokenNeq:
		return 3
	case TokenAnd:
		return 2
	case TokenOr:
		return 1
	default:
		return 0
	}
}
