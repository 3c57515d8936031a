package expr

import (
	"errors"
	"math"
	"testing"

	"github.com/lemonberrylabs/mexpr/pkg/types"
)

// appData mirrors a small host table: a=1, b=3.0, c=5, d=-1.
var appData = map[string]types.Value{
	"a": types.NewInt(1),
	"b": types.NewDouble(3.0),
	"c": types.NewInt(5),
	"d": types.NewInt(-1),
}

func TestArithmeticEvaluation(t *testing.T) {
	tests := []struct {
		input string
		want  types.Value
	}{
		{"max(1, 2)", types.NewInt(2)},
		{"5.0 + 10", types.NewDouble(15.0)},
		{"10 + 5.0", types.NewDouble(15.0)},
		{"1 - 2", types.NewInt(-1)},
		{"10 - 2.0", types.NewDouble(8.0)},
		{"min(-10, 1)", types.NewInt(-10)},
		{"min(1, 10)", types.NewInt(1)},
		{"-5", types.NewInt(-5)},
		{"-1 - -2", types.NewInt(1)},
		{"sqrt(16)", types.NewDouble(4.0)},
		{"sqr(10)", types.NewInt(100)},
		{"sqr(1.5)", types.NewDouble(2.25)},
		{"sqr(3) + min(10, 0) + sqrt(25.0)", types.NewDouble(14.0)},
		{"25 % 7", types.NewInt(4)},
		{"-7 % 3", types.NewInt(-1)},
		{"100 / 2", types.NewInt(50)},
		{"7 / 2", types.NewInt(3)},
		{"7.0 / 2", types.NewDouble(3.5)},
		{"pow(2,3)", types.NewDouble(8.0)},
		{"pow(2.0, 0.5) * pow(2, 0.5)", types.NewDouble(math.Pow(2, 0.5) * math.Pow(2, 0.5))},
		{"11.0 % 3", types.NewDouble(2.0)},
		{"max(1, 2.0)", types.NewDouble(2.0)},
		{"min(1.5, 2)", types.NewDouble(1.5)},
		{"sin(0)", types.NewDouble(0)},
		{"cos(0)", types.NewDouble(1)},
		{"2 + 3 * 4", types.NewInt(14)},
		{"(2 + 3) * 4", types.NewInt(20)},
		{"( 1 + 2 * (3 - 4 ) ) / 5 - 6", types.NewInt(-6)},
		{"10 - 4 - 3", types.NewInt(3)},
		// int64 overflow wraps
		{"sqr(3037000500)", types.NewInt(-9223372036709301616)},
		{"9223372036854775807 + 1", types.NewInt(math.MinInt64)},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := EvaluateString(tt.input, GrammarArithmetic, nil, nil)
			if err != nil {
				t.Fatalf("eval error: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("got %v (%s), want %v (%s)", got, got.Type(), tt.want, tt.want.Type())
			}
		})
	}
}

func TestComparisonEvaluation(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"1 < 2", true},
		{"1 > 2", false},
		{"1 <= 1", true},
		{"2 >= 3", false},
		{"2 = 2", true},
		{"2 == 2.0", true},
		{"2 != 2.0", false},
		{"( 5 ) >= ( 10 )", false},
		{"a > (1 + 10)", false},
		{"a - b = c - d", false},
		{"a + 2 = b", true},
		{"9007199254740993 > 9007199254740992", true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := EvaluateString(tt.input, GrammarComparison, appData, MapLookup)
			if err != nil {
				t.Fatalf("eval error: %v", err)
			}
			if !got.Equal(types.NewBool(tt.want)) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLogicalEvaluation(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"1 <= 2 and 3.0 <= 5.0", true},
		{"1 <= 2 and 3.0 > 5.0", false},
		{"1 > 2 or 3 < 4", true},
		{"1 > 2 or 3 > 4", false},
		{"1 < 2 or 1 > 2 and 1 > 2", true},
		{"(1 < 2 or 1 > 2) and 1 > 2", false},
		{"(1 + 2) < 4 or false", true},
		{"true and false", false},
		{"a <= 100 and b <= c", true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := EvaluateString(tt.input, GrammarLogical, appData, MapLookup)
			if err != nil {
				t.Fatalf("eval error: %v", err)
			}
			if !got.Equal(types.NewBool(tt.want)) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDivisionByZero(t *testing.T) {
	inputs := []string{
		"1 / 0",
		"5 % 0",
		"1.0 / 0.0",
		"1 / 0.0",
		"1.5 % 0",
		"((1 + 2) - 3) * 4 / (5 / 6) + (7 - 8)",
		"1 + 2 * (3 / (4 - 4))",
	}
	for _, input := range inputs {
		t.Run(input, func(t *testing.T) {
			tree := compileTree(t, input, GrammarArithmetic)
			got, err := tree.Evaluate()
			var evalErr *types.EvalError
			if !errors.As(err, &evalErr) {
				t.Fatalf("expected EvalError, got %v (value %v)", err, got)
			}
			if !evalErr.HasTag(types.TagZeroDivisionError) {
				t.Errorf("got tags %v, want ZeroDivisionError", evalErr.Tags)
			}
			if !tree.ComputationFailed {
				t.Error("expected ComputationFailed")
			}
			if !got.IsNull() {
				t.Errorf("failed evaluation returned %v", got)
			}
		})
	}
}

func TestTypeErrors(t *testing.T) {
	data := map[string]types.Value{
		"flag": types.NewBool(true),
		"n":    types.NewInt(2),
	}
	tests := []struct {
		input   string
		grammar Grammar
	}{
		{"flag + 1", GrammarArithmetic},
		{"n * flag", GrammarArithmetic},
		{"max(flag, n)", GrammarArithmetic},
		{"pow(flag, 2)", GrammarArithmetic},
		{"sqrt(flag)", GrammarArithmetic},
		{"sqr(flag)", GrammarArithmetic},
		{"sin(flag) + 1", GrammarArithmetic},
		{"flag < 1", GrammarComparison},
		{"n = flag", GrammarComparison},
		{"flag / 0", GrammarArithmetic},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			_, err := EvaluateString(tt.input, tt.grammar, data, MapLookup)
			var evalErr *types.EvalError
			if !errors.As(err, &evalErr) || !evalErr.HasTag(types.TagTypeError) {
				t.Errorf("got %v, want TypeError", err)
			}
		})
	}
}

func TestLogicalRequiresBooleans(t *testing.T) {
	// and over two ints cannot be written in the grammar, so build it.
	postfix := []Token{
		{Kind: TokenInt, Text: "1"},
		{Kind: TokenInt, Text: "2"},
		{Kind: TokenAnd, Text: "and"},
	}
	tree, err := BuildTree(postfix)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tree.Evaluate(); err == nil {
		t.Fatal("expected failure for int and int")
	}
	if !tree.ComputationFailed {
		t.Error("expected ComputationFailed")
	}
}

func TestSqrtOfNegativeIsNaN(t *testing.T) {
	got, err := EvaluateString("sqrt(-4)", GrammarArithmetic, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Type() != types.TypeDouble || !math.IsNaN(got.AsDouble()) {
		t.Errorf("got %v, want NaN", got)
	}

	cmp, err := EvaluateString("sqrt(-4) < 1", GrammarComparison, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !cmp.Equal(types.NewBool(false)) {
		t.Errorf("NaN < 1: got %v, want false", cmp)
	}
	neq, err := EvaluateString("sqrt(-4) != 1", GrammarComparison, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !neq.Equal(types.NewBool(true)) {
		t.Errorf("NaN != 1: got %v, want true", neq)
	}
}

func TestEvaluateIsRepeatable(t *testing.T) {
	tree := compileTree(t, "sqr(c) - a", GrammarArithmetic)
	if !tree.Resolve(MapLookup, appData) {
		t.Fatal("resolve failed")
	}
	for i := 0; i < 3; i++ {
		got, err := tree.Evaluate()
		if err != nil {
			t.Fatal(err)
		}
		if !got.Equal(types.NewInt(24)) {
			t.Fatalf("run %d: got %v, want 24", i, got)
		}
	}
}
