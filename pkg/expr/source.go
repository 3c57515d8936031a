package expr

// TokenSource supplies tokens to the grammar parser and supports rewinding
// to any earlier position. A position always yields the same token.
type TokenSource interface {
	// Next returns the token at the current position and advances.
	Next() Token
	// Position returns the current position.
	Position() int
	// Rewind moves the current position back to pos.
	Rewind(pos int)
}

// Cursor is a TokenSource over an immutable token slice. Checkpoints are
// plain positions; the slice is never modified.
type Cursor struct {
	tokens []Token
	pos    int
}

// NewCursor creates a cursor at the start of tokens.
func NewCursor(tokens []Token) *Cursor {
	return &Cursor{tokens: tokens}
}

// Next returns the current token and advances. Past the end it keeps
// returning an EOF token.
func (c *Cursor) Next() Token {
	if c.pos >= len(c.tokens) {
		c.pos++
		return Token{Kind: TokenEOF}
	}
	tok := c.tokens[c.pos]
	c.pos++
	return tok
}

// Position returns the number of tokens consumed so far.
func (c *Cursor) Position() int {
	return c.pos
}

// Rewind moves the cursor back to pos. Positions outside [0, Position()]
// are clamped.
func (c *Cursor) Rewind(pos int) {
	if pos < 0 {
		pos = 0
	}
	if pos > c.pos {
		pos = c.pos
	}
	c.pos = pos
}

// Span returns the tokens between two positions. The result has no spare
// capacity, so appending to it never writes into the cursor's slice.
func (c *Cursor) Span(from, to int) []Token {
	if to > len(c.tokens) {
		to = len(c.tokens)
	}
	if from < 0 || from > to {
		return nil
	}
	return c.tokens[from:to:to]
}
