package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	tests := []struct {
		name    string
		content string
		vars    map[string]string
		want    string
	}{
		{
			"simple substitution",
			"Hello {{name}}",
			map[string]string{"name": "World"},
			"Hello World",
		},
		{
			"repeated placeholder",
			"{{x}} and {{x}} again",
			map[string]string{"x": "1"},
			"1 and 1 again",
		},
		{
			"multiple variables",
			"{{greeting}}, {{name}}!",
			map[string]string{"greeting": "Hi", "name": "Ada"},
			"Hi, Ada!",
		},
		{
			"no placeholders",
			"plain text",
			nil,
			"plain text",
		},
		{
			"unused variables are fine",
			"{{a}}",
			map[string]string{"a": "1", "b": "2"},
			"1",
		},
		{
			"malformed braces left alone",
			"{{ spaced }} {{1bad}} {{ok}}",
			map[string]string{"ok": "yes"},
			"{{ spaced }} {{1bad}} yes",
		},
		{
			"empty value is a value",
			"[{{v}}]",
			map[string]string{"v": ""},
			"[]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Render(tt.content, tt.vars)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRender_MissingVariables(t *testing.T) {
	_, err := Render("Hello {{name}}", map[string]string{})
	require.Error(t, err)
	var terr *Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, []string{"name"}, terr.Missing)
}

func TestRender_AccumulatesAllMissing(t *testing.T) {
	_, err := Render("{{a}} {{b}} {{a}} {{c}}", map[string]string{"b": "x"})
	require.Error(t, err)
	var terr *Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, []string{"a", "c"}, terr.Missing)
}

func TestRender_Pure(t *testing.T) {
	vars := map[string]string{"name": "World"}
	first, err := Render("Hello {{name}}", vars)
	require.NoError(t, err)
	second, err := Render("Hello {{name}}", vars)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, map[string]string{"name": "World"}, vars)
}

func TestVariables(t *testing.T) {
	assert.Equal(t, []string{"b", "a"}, Variables("{{b}} {{a}} {{b}}"))
	assert.Empty(t, Variables("no placeholders here"))
}
