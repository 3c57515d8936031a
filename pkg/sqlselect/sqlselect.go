// Package sqlselect recognizes a small SELECT dialect over datasets and
// runs it with the expression pipeline:
//
//	Query := 'select' Cols 'from' TABLE [ 'where' Logical ] EOF
//	Cols  := '*' | COL ',' Cols | COL
//
// COL and TABLE are identifiers. Keywords are matched case-insensitively.
package sqlselect

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lemonberrylabs/mexpr/pkg/expr"
	"github.com/lemonberrylabs/mexpr/pkg/store"
	"github.com/lemonberrylabs/mexpr/pkg/types"
	"github.com/xwb1989/sqlparser"
)

// ErrInvalidQuery reports input that is not a valid SELECT statement.
var ErrInvalidQuery = errors.New("invalid SQL SELECT statement")

var keywords = map[string]bool{"select": true, "from": true, "where": true}

// Query is a recognized SELECT statement.
type Query struct {
	Columns   []string // nil when all columns are selected
	Table     string
	Where     *expr.Program
	Canonical string
}

// AllColumns reports whether the query selects '*'.
func (q *Query) AllColumns() bool { return q.Columns == nil }

// Parse recognizes input as a SELECT statement. The where clause, if any,
// is compiled with the logical grammar.
func Parse(input string) (*Query, error) {
	tokens, err := expr.Tokenize(input)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}

	p := &parser{src: expr.NewCursor(tokens)}
	q := &Query{}
	if !p.keyword("select") || !p.cols(q) || !p.keyword("from") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidQuery, input)
	}
	table, ok := p.identifier()
	if !ok {
		return nil, fmt.Errorf("%w: missing table name", ErrInvalidQuery)
	}
	q.Table = table

	if p.keyword("where") {
		pos := p.src.Position()
		rest := tokens[pos:]
		if _, err := expr.ParseLogical(rest); err != nil {
			return nil, fmt.Errorf("%w: where clause is not a logical expression", ErrInvalidQuery)
		}
		prog, err := expr.Compile(input[rest[0].Pos:], expr.GrammarLogical)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
		}
		q.Where = prog
	} else if p.src.Next().Kind != expr.TokenEOF {
		return nil, fmt.Errorf("%w: unexpected input after table name", ErrInvalidQuery)
	}

	q.Canonical = canonical(input, tokens)
	return q, nil
}

// canonical formats the statement with sqlparser. Inputs outside the MySQL
// dialect (for example '==') fall back to the space-joined tokens.
func canonical(input string, tokens []expr.Token) string {
	if stmt, err := sqlparser.Parse(input); err == nil {
		if sel, ok := stmt.(*sqlparser.Select); ok {
			return sqlparser.String(sel)
		}
	}
	parts := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if tok.Kind == expr.TokenEOF {
			break
		}
		parts = append(parts, tok.Text)
	}
	return strings.Join(parts, " ")
}

type parser struct {
	src *expr.Cursor
}

func (p *parser) keyword(word string) bool {
	ckp := p.src.Position()
	tok := p.src.Next()
	if tok.Kind != expr.TokenVariable || !strings.EqualFold(tok.Text, word) {
		p.src.Rewind(ckp)
		return false
	}
	return true
}

func (p *parser) identifier() (string, bool) {
	ckp := p.src.Position()
	tok := p.src.Next()
	if tok.Kind != expr.TokenVariable || keywords[strings.ToLower(tok.Text)] {
		p.src.Rewind(ckp)
		return "", false
	}
	return tok.Text, true
}

func (p *parser) cols(q *Query) bool {
	ckp := p.src.Position()
	if p.src.Next().Kind == expr.TokenMultiply {
		q.Columns = nil
		return true
	}
	p.src.Rewind(ckp)

	var names []string
	for {
		name, ok := p.identifier()
		if !ok {
			p.src.Rewind(ckp)
			return false
		}
		names = append(names, name)

		next := p.src.Position()
		if p.src.Next().Kind != expr.TokenComma {
			p.src.Rewind(next)
			break
		}
	}
	q.Columns = names
	return true
}

// Result is the output of a query.
type Result struct {
	Columns []string
	Rows    [][]types.Value
	// Skipped counts rows whose where clause failed to evaluate.
	Skipped int
}

// Execute runs q against the dataset named by its table. Rows where the
// where clause does not resolve or fails to evaluate are skipped and
// counted. A selected column missing from a row yields null.
func Execute(q *Query, s *store.Store) (*Result, error) {
	ds, err := s.GetDataset(q.Table)
	if err != nil {
		return nil, err
	}

	res := &Result{Columns: q.Columns}
	if q.AllColumns() {
		res.Columns = ds.Columns()
	}
	res.Rows = [][]types.Value{}

	for _, row := range ds.Rows {
		if q.Where != nil {
			v, err := q.Where.Evaluate(row, store.RowLookup)
			if err != nil {
				res.Skipped++
				continue
			}
			if v.Type() != types.TypeBool || !v.AsBool() {
				continue
			}
		}
		out := make([]types.Value, len(res.Columns))
		for i, col := range res.Columns {
			if v, ok := row[col]; ok {
				out[i] = v
			} else {
				out[i] = types.Null
			}
		}
		res.Rows = append(res.Rows, out)
	}
	return res, nil
}

// Run parses and executes input.
func Run(input string, s *store.Store) (*Query, *Result, error) {
	q, err := Parse(input)
	if err != nil {
		return nil, nil, err
	}
	res, err := Execute(q, s)
	if err != nil {
		return q, nil, err
	}
	return q, res, nil
}
