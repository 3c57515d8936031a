package expr

import "github.com/lemonberrylabs/mexpr/pkg/types"

// Lookup supplies the value of a named variable from host data. It returns
// false when the name is unknown. Only int, double and bool values count as
// a successful lookup.
type Lookup func(name string, data any) (types.Value, bool)

// Resolve binds every Variable leaf through lookup. It walks the leaf list
// once and reports whether all variables were bound. Trees without
// variables are always resolved. When the tree needs resolution and either
// lookup or data is nil, nothing is attempted and Resolved stays false.
//
// Resolving again with the same lookup rebinds the same values.
func (t *Tree) Resolve(lookup Lookup, data any) bool {
	if !t.RequiresResolution {
		t.Resolved = true
		return true
	}
	if lookup == nil || data == nil {
		for _, leaf := range t.leaves {
			if v, ok := leaf.(*Variable); ok {
				v.Resolved = false
				v.Value = types.Null
			}
		}
		t.Resolved = false
		return false
	}

	failed := false
	for _, leaf := range t.leaves {
		v, ok := leaf.(*Variable)
		if !ok {
			continue
		}
		val, found := lookup(v.Name, data)
		if !found || !val.IsLiteral() {
			v.Resolved = false
			v.Value = types.Null
			failed = true
			continue
		}
		v.Value = val
		v.Resolved = true
	}
	t.Resolved = !failed
	return t.Resolved
}

// Unresolved returns the names of variables that are not bound, in
// left-to-right order.
func (t *Tree) Unresolved() []string {
	var names []string
	for _, v := range t.Variables() {
		if !v.Resolved {
			names = append(names, v.Name)
		}
	}
	return names
}

// MapLookup is a Lookup whose data is a map[string]types.Value.
func MapLookup(name string, data any) (types.Value, bool) {
	m, ok := data.(map[string]types.Value)
	if !ok {
		return types.Null, false
	}
	v, ok := m[name]
	return v, ok
}
