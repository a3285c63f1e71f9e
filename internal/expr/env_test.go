package expr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultSuccessCondition(t *testing.T) {
	env, err := NewEnvironment()
	require.NoError(t, err)

	program, err := env.Compile(DefaultSuccessCondition)
	require.NoError(t, err)

	ok, err := program.EvalBool(Activation("block", 200, map[string]any{"log": []any{"a"}}, []string{"1"}))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = program.EvalBool(Activation("block", 520, map[string]any{"error": "network"}, []string{"1"}))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestConditionsSeeDataAndIdentifiers(t *testing.T) {
	env, err := NewEnvironment()
	require.NoError(t, err)

	tests := []struct {
		name       string
		expression string
		status     int
		data       any
		ids        []string
		want       bool
	}{
		{name: "2xx range", expression: "status >= 200 && status < 300", status: 204, want: true},
		{name: "log present", expression: `has(data.log) && size(data.log) == 2`, status: 200, data: map[string]any{"log": []any{"a", "b"}}, want: true},
		{name: "lookup missing key", expression: `lookup(data, "missing") == null`, status: 200, data: map[string]any{}, want: true},
		{name: "count matches ids", expression: "count == size(ids)", status: 200, ids: []string{"1", "2", "3"}, want: true},
		{name: "action name", expression: `action == "notify_block"`, status: 200, want: false},
		{name: "identifier membership", expression: `"7618" in ids`, status: 200, ids: []string{"7618"}, want: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			program, err := env.Compile(tc.expression)
			require.NoError(t, err)
			got, err := program.EvalBool(Activation("block", tc.status, tc.data, tc.ids))
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestCompileRejectsInvalidExpressions(t *testing.T) {
	env, err := NewEnvironment()
	require.NoError(t, err)

	_, err = env.Compile("   ")
	require.Error(t, err)

	_, err = env.Compile("status ==")
	require.Error(t, err)

	_, err = env.Compile("status + 1")
	require.Error(t, err, "expected non-bool expression to be rejected")
}

func TestEvalBoolUninitializedProgram(t *testing.T) {
	_, err := Program{}.EvalBool(nil)
	require.Error(t, err)
}

func TestProgramSource(t *testing.T) {
	env, err := NewEnvironment()
	require.NoError(t, err)
	program, err := env.Compile(`  true `)
	require.NoError(t, err)
	require.Equal(t, "true", program.Source())
}
