package expr

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/veyra/stronghold/internal/types"
)

func TestParse_ValidForms(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"comparison", `{">=": [{"var": "settlement.population"}, 5000]}`},
		{"var string form", `{"var": "name"}`},
		{"var with default", `{"var": ["name", "unnamed"]}`},
		{"boolean chain", `{"and": [{"var": "a"}, {"or": [{"var": "b"}, true]}]}`},
		{"if chain", `{"if": [{">": [{"var": "x"}, 1]}, "big", "small"]}`},
		{"arithmetic", `{"+": [1, 2, {"var": "n"}]}`},
		{"membership literal list", `{"in": [{"var": "tag"}, ["port", "capital"]]}`},
		{"single operand not wrapped", `{"!": {"var": "closed"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(json.RawMessage(tt.raw)); err != nil {
				t.Errorf("Parse() error = %v, want nil", err)
			}
		})
	}
}

func TestParse_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr error
	}{
		{"empty input", ``, types.ErrEmptyExpression},
		{"json null", `null`, types.ErrEmptyExpression},
		{"bare scalar", `42`, types.ErrInvalidExpression},
		{"bare string", `"hello"`, types.ErrInvalidExpression},
		{"bare array", `[1, 2]`, types.ErrInvalidExpression},
		{"multi-key object", `{"==": [1, 1], ">": [2, 1]}`, types.ErrInvalidExpression},
		{"empty object", `{}`, types.ErrInvalidExpression},
		{"unknown operator", `{"frobnicate": [1]}`, types.ErrUnknownOperator},
		{"malformed json", `{"==": `, types.ErrInvalidExpression},
		{"var non-string path", `{"var": 42}`, types.ErrInvalidOperands},
		{"var empty array", `{"var": []}`, types.ErrInvalidOperands},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(json.RawMessage(tt.raw))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Parse() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParse_DepthGuard(t *testing.T) {
	// Nest "!" operators one past the limit.
	inner := `{"var": "x"}`
	for i := 0; i < types.MaxExpressionDepth; i++ {
		inner = fmt.Sprintf(`{"!": %s}`, inner)
	}

	if _, err := Parse(json.RawMessage(inner)); !errors.Is(err, types.ErrExpressionTooDeep) {
		t.Errorf("Parse() at depth %d error = %v, want ErrExpressionTooDeep",
			types.MaxExpressionDepth+1, err)
	}

	// Exactly at the limit parses.
	atLimit := `{"var": "x"}`
	for i := 0; i < types.MaxExpressionDepth-1; i++ {
		atLimit = fmt.Sprintf(`{"!": %s}`, atLimit)
	}
	if _, err := Parse(json.RawMessage(atLimit)); err != nil {
		t.Errorf("Parse() at depth %d error = %v, want nil", types.MaxExpressionDepth, err)
	}
}

func TestParse_OperandLimit(t *testing.T) {
	args := make([]string, types.MaxExpressionOperands+1)
	for i := range args {
		args[i] = "1"
	}
	raw := fmt.Sprintf(`{"+": [%s]}`, strings.Join(args, ","))

	if _, err := Parse(json.RawMessage(raw)); !errors.Is(err, types.ErrTooManyOperands) {
		t.Errorf("Parse() error = %v, want ErrTooManyOperands", err)
	}
}

func TestValidate_NeverPanics(t *testing.T) {
	inputs := []string{
		`{"var": {"var": {"var": "x"}}}`,
		`{"in": [[[[[1]]]]]]}`,
		`{"if": []}`,
		`{"==": null}`,
		"\x00\x01",
	}
	for _, in := range inputs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.Errorf("Validate(%q) panicked: %v", in, r)
				}
			}()
			_ = Validate(json.RawMessage(in))
		}()
	}
}
