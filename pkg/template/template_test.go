package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender_SimpleExpression(t *testing.T) {
	data := map[string]any{
		"name":  "John",
		"age":   30,
		"isNew": true,
	}

	result, err := Render("{{ .name }}", data)
	require.NoError(t, err)
	assert.Equal(t, "John", result)

	result, err = Render("{{ .isNew }}", data)
	require.NoError(t, err)
	assert.Equal(t, true, result)

	// Numbers always come back as float64
	result, err = Render("{{ .age }}", data)
	require.NoError(t, err)
	assert.Equal(t, 30.0, result)
}

func TestRender_ObjectConstruction(t *testing.T) {
	data := map[string]any{
		"user": map[string]any{
			"name":  "Alice",
			"email": "alice@example.com",
		},
		"orders": []any{
			map[string]any{"id": 1, "total": 100.50},
			map[string]any{"id": 2, "total": 75.25},
		},
	}

	result, err := Render("{{ .user.name }}", data)
	require.NoError(t, err)
	assert.Equal(t, "Alice", result)

	result, err = Render(`{
		"user_name": "{{ .user.name }}",
		"total_orders": {{ len .orders }}
	}`, data)
	require.NoError(t, err)

	resultMap, ok := result.(map[string]any)

	require.True(t, ok)
	assert.Equal(t, "Alice", resultMap["user_name"])
	assert.Equal(t, 2.0, resultMap["total_orders"])
}

func TestRender_Arithmetic(t *testing.T) {
	data := map[string]any{"value": 21.0, "count": 4}

	result, err := Render(`{"value": {{ mul .value 2 }}}`, data)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"value": 42.0}, result)

	result, err = Render("{{ add .count 1 }}", data)
	require.NoError(t, err)
	assert.Equal(t, 5.0, result)

	result, err = Render("{{ sub .value 1 }}", data)
	require.NoError(t, err)
	assert.Equal(t, 20.0, result)

	result, err = Render("{{ div .value 2 }}", data)
	require.NoError(t, err)
	assert.Equal(t, 10.5, result)

	_, err = Render("{{ div .value 0 }}", data)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "division by zero")

	_, err = Render(`{{ add .value "abc" }}`, data)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a number")
}

func TestRender_Helpers(t *testing.T) {
	data := map[string]any{
		"items": []any{"a", "b"},
		"empty": "",
	}

	result, err := Render("{{ toJSON .items }}", data)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, result)

	result, err = Render(`{{ default "fallback" .empty }}`, data)
	require.NoError(t, err)
	assert.Equal(t, "fallback", result)

	result, err = Render("{{ now }}", data)
	require.NoError(t, err)
	assert.NotEmpty(t, result)

	result, err = Render("{{ rand 10 }}", data)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, result, 0.0)
	assert.Less(t, result, 10.0)
}

func TestRender_MissingKey(t *testing.T) {
	result, err := Render("{{ .missing }}", map[string]any{"present": 1})
	require.NoError(t, err)
	assert.Equal(t, "", result)
}

func TestRender_NonFiniteNumbersStayStrings(t *testing.T) {
	t.Parallel()

	for _, source := range []string{"Inf", "-Infinity", "NaN", "0x1p-2", "1_000"} {
		result, err := Render(source, nil)
		require.NoError(t, err)
		assert.Equal(t, source, result, source)
	}

	result, err := Render("1.5e3", nil)
	require.NoError(t, err)
	assert.Equal(t, 1500.0, result)
}

func TestRender_RandCoversWholeRange(t *testing.T) {
	t.Parallel()

	seenLarge := false

	for range 200 {
		result, err := Render("{{ rand 100000 }}", nil)
		require.NoError(t, err)

		value, ok := result.(float64)
		require.True(t, ok)
		assert.GreaterOrEqual(t, value, 0.0)
		assert.Less(t, value, 100000.0)

		if value > 255 {
			seenLarge = true
		}
	}

	assert.True(t, seenLarge)
}

func TestRender_Errors(t *testing.T) {
	_, err := Render("{{ .name ", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse template")

	_, err = Render(`{ "broken": {{ .value }} `+"}", map[string]any{"value": "not json"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse json")

	_, err = Render("{{ index .list 5 }}", map[string]any{"list": []any{1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to execute template")
}

func TestExpression_Reuse(t *testing.T) {
	expression, err := Parse("{{ gt .amount 100.0 }}")
	require.NoError(t, err)
	assert.Equal(t, "{{ gt .amount 100.0 }}", expression.Source())

	result, err := expression.Evaluate(map[string]any{"amount": 150.0})
	require.NoError(t, err)
	assert.Equal(t, true, result)

	result, err = expression.Evaluate(map[string]any{"amount": 50.0})
	require.NoError(t, err)
	assert.Equal(t, false, result)
}

func TestRenderString(t *testing.T) {
	data := map[string]any{"id": 7.0, "user": map[string]any{"name": "Bob"}}

	result, err := RenderString("https://api.example.com/users/{{ .id }}", data)
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/users/7", result)

	result, err = RenderString("no templating here", data)
	require.NoError(t, err)
	assert.Equal(t, "no templating here", result)

	result, err = RenderString("{{ toJSON .user }}", data)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Bob"}`, result)
}

func TestTruthy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		value    any
		expected bool
	}{
		{"true", true, true},
		{"false", false, false},
		{"string true", "true", true},
		{"string false", "false", false},
		{"non-empty string", "yes", true},
		{"empty string", "", false},
		{"non-zero float", 1.5, true},
		{"zero float", 0.0, false},
		{"zero int", 0, false},
		{"non-empty list", []any{1}, true},
		{"empty map", map[string]any{}, false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.expected, Truthy(tt.value))
		})
	}
}
