package expr

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lemonberrylabs/mexpr/pkg/types"
)

// Grammar selects which top-level rule an expression must satisfy.
type Grammar int

const (
	// GrammarAuto tries arithmetic, then comparison, then logical.
	GrammarAuto Grammar = iota
	GrammarArithmetic
	GrammarComparison
	GrammarLogical
)

func (g Grammar) String() string {
	switch g {
	case GrammarAuto:
		return "auto"
	case GrammarArithmetic:
		return "arithmetic"
	case GrammarComparison:
		return "comparison"
	case GrammarLogical:
		return "logical"
	default:
		return fmt.Sprintf("Grammar(%d)", int(g))
	}
}

// ParseGrammar maps a grammar name to its Grammar. The empty string means
// GrammarAuto.
func ParseGrammar(name string) (Grammar, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "auto":
		return GrammarAuto, nil
	case "arithmetic", "arith":
		return GrammarArithmetic, nil
	case "comparison", "compare":
		return GrammarComparison, nil
	case "logical", "logic":
		return GrammarLogical, nil
	}
	return GrammarAuto, fmt.Errorf("unknown grammar %q", name)
}

// Match runs the entry point for grammar over tokens and returns the
// matched span together with the grammar that accepted it.
func Match(tokens []Token, grammar Grammar) ([]Token, Grammar, error) {
	switch grammar {
	case GrammarArithmetic:
		span, err := ParseArithmetic(tokens)
		return span, grammar, err
	case GrammarComparison:
		span, err := ParseComparison(tokens)
		return span, grammar, err
	case GrammarLogical:
		span, err := ParseLogical(tokens)
		return span, grammar, err
	case GrammarAuto:
		for _, g := range []Grammar{GrammarArithmetic, GrammarComparison, GrammarLogical} {
			span, _, err := Match(tokens, g)
			if err == nil {
				return span, g, nil
			}
		}
		return nil, grammar, ErrNoMatch
	}
	return nil, grammar, fmt.Errorf("unknown grammar %s", grammar)
}

// Program is a compiled expression: the source text, the grammar that
// accepted it and its postfix form. A Program is immutable and may be
// shared; each evaluation builds its own Tree.
type Program struct {
	Input   string
	Grammar Grammar
	Postfix []Token
}

// Compile tokenizes input, matches it against grammar and converts the
// matched span to postfix. Lexing failures and grammar mismatches both
// wrap ErrNoMatch.
func Compile(input string, grammar Grammar) (*Program, error) {
	tokens, err := Tokenize(input)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoMatch, err)
	}
	span, matched, err := Match(tokens, grammar)
	if err != nil {
		if errors.Is(err, ErrNoMatch) {
			return nil, fmt.Errorf("%w: %q as %s", ErrNoMatch, input, grammar)
		}
		return nil, err
	}
	return &Program{
		Input:   input,
		Grammar: matched,
		Postfix: ToPostfix(span),
	}, nil
}

// Tree builds a fresh expression tree from the program.
func (p *Program) Tree() (*Tree, error) {
	return BuildTree(p.Postfix)
}

// PostfixText returns the text of each postfix token.
func (p *Program) PostfixText() []string {
	return PostfixText(p.Postfix)
}

// Variables returns the distinct variable names in first-use order.
func (p *Program) Variables() []string {
	seen := make(map[string]bool)
	var names []string
	for _, tok := range p.Postfix {
		if tok.Kind == TokenVariable && !seen[tok.Text] {
			seen[tok.Text] = true
			names = append(names, tok.Text)
		}
	}
	return names
}

// Evaluate builds a tree, resolves it against data and evaluates it.
func (p *Program) Evaluate(data any, lookup Lookup) (types.Value, error) {
	tree, err := p.Tree()
	if err != nil {
		return types.Null, err
	}
	if tree.RequiresResolution && !tree.Resolve(lookup, data) {
		return types.Null, fmt.Errorf("%w: %s", ErrUnresolvedVariable, strings.Join(tree.Unresolved(), ", "))
	}
	return tree.Evaluate()
}

// EvaluateString runs the whole pipeline over input: tokenize, match,
// convert to postfix, build the tree, resolve variables and evaluate.
func EvaluateString(input string, grammar Grammar, data any, lookup Lookup) (types.Value, error) {
	prog, err := Compile(input, grammar)
	if err != nil {
		return types.Null, err
	}
	return prog.Evaluate(data, lookup)
}
