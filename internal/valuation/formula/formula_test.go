package formula

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testResolver(vals map[string]float64) Resolver {
	return func(path string) (float64, bool) {
		v, ok := vals[path]
		return v, ok
	}
}

func TestEvalArithmetic(t *testing.T) {
	vals := map[string]float64{
		"ram_gb":             16,
		"price_usd":          599.99,
		"cpu.cpu_mark_multi": 20000,
		"cpu.tdp_w":          35,
	}

	cases := []struct {
		name string
		src  string
		want float64
	}{
		{"literal", "42", 42},
		{"decimal literal", "2.5 * 4", 10},
		{"precedence", "2 + 3 * 4", 14},
		{"parens", "(2 + 3) * 4", 20},
		{"unary minus", "-ram_gb * 2", -32},
		{"double unary", "--4", 4},
		{"modulo", "17 % 5", 2},
		{"field ref", "ram_gb * 2.5", 40},
		{"dotted field", "cpu.cpu_mark_multi / 1000", 20},
		{"min", "min(price_usd, 500)", 500},
		{"max variadic", "max(1, ram_gb, 3)", 16},
		{"abs", "abs(0 - ram_gb)", 16},
		{"floor", "floor(price_usd / 100)", 5},
		{"ceil", "ceil(price_usd / 100)", 6},
		{"round", "round(cpu.tdp_w / 10)", 4},
		{"clamp low", "clamp(-5, 0, 10)", 0},
		{"clamp high", "clamp(50, 0, 10)", 10},
		{"clamp mid", "clamp(7, 0, 10)", 7},
		{"nested calls", "min(max(ram_gb, 8), 32) * -1", -16},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Evaluate(tc.src, testResolver(vals))
			require.NoError(t, err)
			assert.InDelta(t, tc.want, got, 1e-9)
		})
	}
}

func TestParseErrors(t *testing.T) {
	cases := []struct {
		name string
		src  string
		msg  string
	}{
		{"empty", "", "empty expression"},
		{"blank", "   ", "empty expression"},
		{"dangling operator", "ram_gb *", "unexpected end"},
		{"unbalanced paren", "(1 + 2", "missing closing parenthesis"},
		{"stray rparen", "1 + 2)", "unexpected"},
		{"unknown function", "sqrt(4)", `unknown function "sqrt"`},
		{"bad character", "ram_gb $ 2", "invalid character"},
		{"clamp arity", "clamp(1, 2)", "takes 3 argument(s)"},
		{"abs arity", "abs(1, 2)", "takes 1 argument(s)"},
		{"min arity", "min(1)", "takes 2 argument(s)"},
		{"trailing dot", "cpu. * 2", "malformed field path"},
		{"consecutive tokens", "1 2", "unexpected"},
		{"too long", strings.Repeat("1+", 1500) + "1", "exceeds"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.src)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.msg)
		})
	}
}

func TestParseDepthGuard(t *testing.T) {
	src := strings.Repeat("(", 64) + "1" + strings.Repeat(")", 64)
	_, err := Parse(src)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deeply nested")
}

func TestEvalErrors(t *testing.T) {
	vals := map[string]float64{"ram_gb": 16, "zero": 0}

	cases := []struct {
		name string
		src  string
		msg  string
	}{
		{"unresolved field", "missing_field * 2", `unresolved field "missing_field"`},
		{"division by zero", "10 / zero", "division by zero"},
		{"modulo by zero", "10 % zero", "modulo by zero"},
		{"unresolved in call", "min(ghost, 1)", "unresolved field"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Evaluate(tc.src, testResolver(vals))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.msg)
		})
	}
}

func TestEvalNilResolver(t *testing.T) {
	e := MustParse("ram_gb + 1")
	_, err := e.Eval(nil)
	require.Error(t, err)

	lit := MustParse("2 + 2")
	got, err := lit.Eval(nil)
	require.NoError(t, err)
	assert.Equal(t, 4.0, got)
}

func TestFields(t *testing.T) {
	e := MustParse("min(ram_gb, cpu.cpu_mark_multi / 1000) + ram_gb - price_usd")
	assert.Equal(t, []string{"ram_gb", "cpu.cpu_mark_multi", "price_usd"}, e.Fields())
}

func TestExprReuse(t *testing.T) {
	e := MustParse("ram_gb * -2")

	got, err := e.Eval(testResolver(map[string]float64{"ram_gb": 16}))
	require.NoError(t, err)
	assert.Equal(t, -32.0, got)

	got, err = e.Eval(testResolver(map[string]float64{"ram_gb": 8}))
	require.NoError(t, err)
	assert.Equal(t, -16.0, got)

	assert.Equal(t, "ram_gb * -2", e.String())
}
