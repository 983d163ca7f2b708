// Package template evaluates the declarative expressions stored in step configuration.
// Expressions are Go text/template sources rendered against a step's input value.
package template

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/goccy/go-json"
)

const noValue = "<no value>"

var errDivisionByZero = errors.New("division by zero")

// Expression is a parsed template ready to be evaluated many times.
type Expression struct {
	source string
	tmpl   *template.Template
}

// Parse compiles an expression source.
func Parse(source string) (*Expression, error) {
	tmpl, err := template.
		New("expression").
		Funcs(funcMap()).
		Parse(source)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template '%s': %w", source, err)
	}

	return &Expression{source: source, tmpl: tmpl}, nil
}

// Source returns the expression as written.
func (e *Expression) Source() string {
	return e.source
}

// Evaluate renders the expression with data as "." and coerces the text into a value.
func (e *Expression) Evaluate(data any) (any, error) {
	var buf strings.Builder

	err := e.tmpl.Execute(&buf, data)
	if err != nil {
		return nil, fmt.Errorf("failed to execute template '%s': %w", e.source, err)
	}

	return coerce(e.source, buf.String())
}

// Render parses and evaluates source in one call.
func Render(source string, data any) (any, error) {
	expression, err := Parse(source)
	if err != nil {
		return nil, err
	}

	return expression.Evaluate(data)
}

// RenderString renders source and formats the result as text, for URLs and headers.
func RenderString(source string, data any) (string, error) {
	if !NeedsTemplating(source) {
		return source, nil
	}

	result, err := Render(source, data)
	if err != nil {
		return "", err
	}

	switch v := result.(type) {
	case string:
		return v, nil
	case nil:
		return "", nil
	case map[string]any, []any:
		encoded, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("failed to encode template result: %w", err)
		}

		return string(encoded), nil
	default:
		return fmt.Sprintf("%v", v), nil
	}
}

// NeedsTemplating reports whether s contains template actions.
func NeedsTemplating(s string) bool {
	return strings.Contains(s, "{{")
}

func coerce(source, rendered string) (any, error) {
	result := strings.TrimSpace(rendered)

	if result == noValue {
		return "", nil
	}

	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) {
		var jsonResult any

		err := json.Unmarshal([]byte(result), &jsonResult)
		if err != nil {
			return nil, fmt.Errorf("failed to parse json '%s': %w", source, err)
		}

		return jsonResult, nil
	}

	if num, ok := parseNumber(result); ok {
		return num, nil
	}

	if b, err := strconv.ParseBool(result); err == nil {
		return b, nil
	}

	return result, nil
}

// parseNumber accepts finite decimal numbers only; NaN, Inf and hex floats stay strings.
func parseNumber(s string) (float64, bool) {
	if strings.ContainsAny(s, "xXpP_") {
		return 0, false
	}

	num, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(num, 0) || math.IsNaN(num) {
		return 0, false
	}

	return num, true
}

// Truthy converts an evaluated value to a boolean.
func Truthy(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}

		return v != ""
	case int:
		return v != 0
	case int64:
		return v != 0
	case float64:
		return v != 0
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	default:
		return false
	}
}

func funcMap() template.FuncMap {
	return template.FuncMap{
		"now": func() string {
			return time.Now().UTC().Format(time.RFC3339)
		},
		"rand": func(upper int) int {
			if upper <= 0 {
				return 0
			}

			num, err := rand.Int(rand.Reader, big.NewInt(int64(upper)))
			if err != nil {
				return 0
			}

			return int(num.Int64())
		},
		"add": func(a, b any) (float64, error) {
			x, y, err := operands(a, b)

			return x + y, err
		},
		"sub": func(a, b any) (float64, error) {
			x, y, err := operands(a, b)

			return x - y, err
		},
		"mul": func(a, b any) (float64, error) {
			x, y, err := operands(a, b)

			return x * y, err
		},
		"div": func(a, b any) (float64, error) {
			x, y, err := operands(a, b)
			if err != nil {
				return 0, err
			}

			if y == 0 {
				return 0, errDivisionByZero
			}

			return x / y, nil
		},
		"toJSON": func(v any) (string, error) {
			encoded, err := json.Marshal(v)

			return string(encoded), err
		},
		"default": func(fallback, v any) any {
			if v == nil {
				return fallback
			}

			if s, ok := v.(string); ok && s == "" {
				return fallback
			}

			return v
		},
	}
}

func operands(a, b any) (float64, float64, error) {
	x, err := toFloat(a)
	if err != nil {
		return 0, 0, err
	}

	y, err := toFloat(b)
	if err != nil {
		return 0, 0, err
	}

	return x, y, nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", n)
		}

		return f, nil
	default:
		return 0, fmt.Errorf("not a number: %T", v)
	}
}
