// Package types defines the value model shared by every stage of the
// evaluator: the literal kinds an expression can produce (int, double, bool)
// and the tagged errors raised while computing them.
package types

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// ValueType represents the type of a value.
type ValueType int

const (
	TypeNull   ValueType = iota // absent; never a valid literal
	TypeBool                    // bool
	TypeInt                     // int64
	TypeDouble                  // float64
)

// String returns the type name used in API responses and error messages.
func (t ValueType) String() string {
	switch t {
	case TypeNull:
		return "null"
	case TypeBool:
		return "bool"
	case TypeInt:
		return "int"
	case TypeDouble:
		return "double"
	default:
		return "unknown"
	}
}

// Value is a literal computed or supplied during evaluation. The zero value
// is Null, which marks "no value" rather than a literal.
type Value struct {
	typ       ValueType
	boolVal   bool
	intVal    int64
	doubleVal float64
}

// Null is the absent value.
var Null = Value{typ: TypeNull}

// NewBool creates a boolean value.
func NewBool(v bool) Value {
	return Value{typ: TypeBool, boolVal: v}
}

// NewInt creates an integer value (64-bit).
func NewInt(v int64) Value {
	return Value{typ: TypeInt, intVal: v}
}

// NewDouble creates a double value (64-bit float).
func NewDouble(v float64) Value {
	return Value{typ: TypeDouble, doubleVal: v}
}

// Type returns the value's type.
func (v Value) Type() ValueType {
	return v.typ
}

// IsNull returns true if the value is absent.
func (v Value) IsNull() bool {
	return v.typ == TypeNull
}

// IsLiteral reports whether v is one of the three literal kinds a variable
// may be bound to.
func (v Value) IsLiteral() bool {
	switch v.typ {
	case TypeBool, TypeInt, TypeDouble:
		return true
	}
	return false
}

// IsNumber reports whether v is an int or a double.
func (v Value) IsNumber() bool {
	return v.typ == TypeInt || v.typ == TypeDouble
}

// AsBool returns the boolean value. Panics if not a bool.
func (v Value) AsBool() bool {
	if v.typ != TypeBool {
		panic(fmt.Sprintf("AsBool called on %s value", v.typ))
	}
	return v.boolVal
}

// AsInt returns the integer value. Panics if not an int.
func (v Value) AsInt() int64 {
	if v.typ != TypeInt {
		panic(fmt.Sprintf("AsInt called on %s value", v.typ))
	}
	return v.intVal
}

// AsDouble returns the double value. Panics if not a double.
func (v Value) AsDouble() float64 {
	if v.typ != TypeDouble {
		panic(fmt.Sprintf("AsDouble called on %s value", v.typ))
	}
	return v.doubleVal
}

// AsNumber returns the numeric value as float64. Works for int and double types.
func (v Value) AsNumber() (float64, bool) {
	switch v.typ {
	case TypeInt:
		return float64(v.intVal), true
	case TypeDouble:
		return v.doubleVal, true
	default:
		return 0, false
	}
}

// Equal tests strict equality: same type and same payload. Unlike the
// expression operator '=', an int never equals a double here.
func (v Value) Equal(other Value) bool {
	if v.typ != other.typ {
		return false
	}
	switch v.typ {
	case TypeNull:
		return true
	case TypeBool:
		return v.boolVal == other.boolVal
	case TypeInt:
		return v.intVal == other.intVal
	case TypeDouble:
		if math.IsNaN(v.doubleVal) && math.IsNaN(other.doubleVal) {
			return true
		}
		return v.doubleVal == other.doubleVal
	}
	return false
}

// String returns a human-readable representation of the value.
func (v Value) String() string {
	switch v.typ {
	case TypeNull:
		return "null"
	case TypeBool:
		if v.boolVal {
			return "true"
		}
		return "false"
	case TypeInt:
		return strconv.FormatInt(v.intVal, 10)
	case TypeDouble:
		if v.doubleVal == math.Trunc(v.doubleVal) && !math.IsInf(v.doubleVal, 0) && math.Abs(v.doubleVal) < 1e15 {
			return fmt.Sprintf("%.1f", v.doubleVal)
		}
		return strconv.FormatFloat(v.doubleVal, 'g', -1, 64)
	}
	return "<unknown>"
}

// MarshalJSON converts a Value to JSON. Non-finite doubles have no JSON
// number form and are written as strings.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.typ {
	case TypeNull:
		return []byte("null"), nil
	case TypeBool:
		if v.boolVal {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case TypeInt:
		return json.Marshal(v.intVal)
	case TypeDouble:
		if math.IsNaN(v.doubleVal) || math.IsInf(v.doubleVal, 0) {
			return json.Marshal(strconv.FormatFloat(v.doubleVal, 'g', -1, 64))
		}
		return json.Marshal(v.doubleVal)
	}
	return nil, fmt.Errorf("cannot marshal unknown type %d", v.typ)
}

// ValueFromJSON converts a Go value produced by json.Unmarshal into a Value.
// JSON numbers without a fractional part become ints. Anything that is not a
// bool or a number yields Null.
func ValueFromJSON(v interface{}) Value {
	switch val := v.(type) {
	case bool:
		return NewBool(val)
	case float64:
		if val == math.Trunc(val) && !math.IsInf(val, 0) && val >= math.MinInt64 && val <= math.MaxInt64 {
			return NewInt(int64(val))
		}
		return NewDouble(val)
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return NewInt(i)
		}
		if f, err := val.Float64(); err == nil {
			return NewDouble(f)
		}
		return Null
	default:
		return ValueFromAny(v)
	}
}

// ValueFromAny converts Go scalars (as decoded by YAML or built in code)
// into a Value. Floats keep their double type even when integral, so a
// dataset value written as 3.0 stays a double.
func ValueFromAny(v interface{}) Value {
	switch val := v.(type) {
	case Value:
		return val
	case bool:
		return NewBool(val)
	case int:
		return NewInt(int64(val))
	case int32:
		return NewInt(int64(val))
	case int64:
		return NewInt(val)
	case uint:
		if uint64(val) > math.MaxInt64 {
			return Null
		}
		return NewInt(int64(val))
	case uint64:
		if val > math.MaxInt64 {
			return Null
		}
		return NewInt(int64(val))
	case float32:
		return NewDouble(float64(val))
	case float64:
		return NewDouble(val)
	default:
		return Null
	}
}

// ParseLiteral converts literal text ("1", "-3.5", "true") into a Value,
// using the same rules as the expression lexer: text containing '.', 'e'
// or 'E' is a double, true/false are booleans, everything else must be a
// base-10 integer.
func ParseLiteral(s string) (Value, error) {
	switch s {
	case "true":
		return NewBool(true), nil
	case "false":
		return NewBool(false), nil
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return NewInt(i), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Null, fmt.Errorf("invalid literal %q", s)
	}
	return NewDouble(f), nil
}

// ToGoValue converts a Value to a plain Go value suitable for encoding.
func (v Value) ToGoValue() interface{} {
	switch v.typ {
	case TypeBool:
		return v.boolVal
	case TypeInt:
		return v.intVal
	case TypeDouble:
		return v.doubleVal
	}
	return nil
}
