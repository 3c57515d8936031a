// Package runtime holds host-side variable scopes that feed the expression
// resolver.
package runtime

import (
	"fmt"
	"strings"
	"sync"

	"github.com/lemonberrylabs/mexpr/pkg/expr"
	"github.com/lemonberrylabs/mexpr/pkg/types"
)

// VariableScope manages variable storage with parent scope chaining.
// Variables are looked up starting from the current scope and walking up
// the parent chain. Bindings are always created in the current scope.
type VariableScope struct {
	parent *VariableScope
	vars   map[string]types.Value
	mu     sync.RWMutex
}

// NewScope creates a new root scope.
func NewScope() *VariableScope {
	return &VariableScope{
		vars: make(map[string]types.Value),
	}
}

// NewScopeFrom creates a root scope holding a copy of vars.
func NewScopeFrom(vars map[string]types.Value) *VariableScope {
	s := NewScope()
	for k, v := range vars {
		s.vars[k] = v
	}
	return s
}

// NewChildScope creates a child scope that inherits from this scope.
func (s *VariableScope) NewChildScope() *VariableScope {
	return &VariableScope{
		parent: s,
		vars:   make(map[string]types.Value),
	}
}

// Get retrieves a variable value, searching up the scope chain.
func (s *VariableScope) Get(name string) (types.Value, bool) {
	s.mu.RLock()
	v, ok := s.vars[name]
	s.mu.RUnlock()
	if ok {
		return v, true
	}
	if s.parent != nil {
		return s.parent.Get(name)
	}
	return types.Null, false
}

// SetLocal sets a variable in this scope only, shadowing any parent binding.
func (s *VariableScope) SetLocal(name string, value types.Value) {
	s.mu.Lock()
	s.vars[name] = value
	s.mu.Unlock()
}

// Lookup is an expr.Lookup whose data is a *VariableScope.
func Lookup(name string, data any) (types.Value, bool) {
	s, ok := data.(*VariableScope)
	if !ok || s == nil {
		return types.Null, false
	}
	return s.Get(name)
}

var _ expr.Lookup = Lookup

// Eval compiles input for grammar and evaluates it with variables taken
// from scope.
func Eval(input string, grammar expr.Grammar, scope *VariableScope) (types.Value, error) {
	var data any
	if scope != nil {
		data = scope
	}
	return expr.EvaluateString(input, grammar, data, Lookup)
}

// ParseAssignment splits "name=value" into a variable name and a literal
// value. The name must be a plain identifier.
func ParseAssignment(s string) (string, types.Value, error) {
	name, raw, ok := strings.Cut(s, "=")
	if !ok {
		return "", types.Null, fmt.Errorf("assignment %q is not of the form name=value", s)
	}
	name = strings.TrimSpace(name)
	if !isIdentifier(name) {
		return "", types.Null, fmt.Errorf("invalid variable name %q", name)
	}
	v, err := types.ParseLiteral(strings.TrimSpace(raw))
	if err != nil {
		return "", types.Null, fmt.Errorf("variable %s: %w", name, err)
	}
	return name, v, nil
}

func isIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		ch := name[i]
		switch {
		case ch == '_', ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z':
		case ch >= '0' && ch <= '9' && i > 0:
		default:
			return false
		}
	}
	tokens, err := expr.Tokenize(name)
	return err == nil && len(tokens) == 2 && tokens[0].Kind == expr.TokenVariable
}
