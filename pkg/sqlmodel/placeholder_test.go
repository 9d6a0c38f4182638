package sqlmodel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractFields(t *testing.T) {
	const tmpl = "{x} {{y}} {{{{z}}}} {a}"

	tests := []struct {
		depth int
		want  []string
	}{
		{1, []string{"a", "x"}},
		{2, []string{"y"}},
		{3, []string{"z"}},
		{4, nil},
	}

	for _, tt := range tests {
		got, err := ExtractFields(tmpl, tt.depth)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "depth %d", tt.depth)
	}
}

func TestExtractFields_Duplicates(t *testing.T) {
	got, err := ExtractFields("{b} {a} {b} {{c}} {{c}}", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestExtractFields_InvalidDepth(t *testing.T) {
	_, err := ExtractFields("{x}", 0)
	assert.ErrorIs(t, err, ErrMalformedTemplate)
}

func TestParseTemplate(t *testing.T) {
	segs, err := ParseTemplate("select {cols}\nfrom {{src}}")
	require.NoError(t, err)
	require.Len(t, segs, 3)

	assert.Equal(t, SegmentText, segs[0].Kind)
	assert.Equal(t, "select ", segs[0].Text)

	assert.Equal(t, SegmentField, segs[1].Kind)
	assert.Equal(t, "cols", segs[1].Name)
	assert.Equal(t, Position{Offset: 7, Line: 1, Column: 8}, segs[1].Pos)

	assert.Equal(t, SegmentText, segs[2].Kind)
	assert.Equal(t, "\nfrom {src}", segs[2].Text)
}

func TestParseTemplate_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		line  int
		col   int
	}{
		{"lone closing brace", "select 1 }", 1, 10},
		{"unterminated field", "select {x", 1, 8},
		{"brace inside field", "{a{b}", 1, 3},
		{"empty field", "select {}", 1, 8},
		{"invalid name", "\n{1abc}", 2, 1},
		{"odd closing run", "{x}}}}", 1, 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTemplate(tt.input)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformedTemplate)

			var mt *MalformedTemplateError
			require.ErrorAs(t, err, &mt)
			assert.Equal(t, tt.line, mt.Pos.Line)
			assert.Equal(t, tt.col, mt.Pos.Column)
		})
	}
}

func TestSubstitute(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		bindings map[string]string
		want     string
	}{
		{
			name:     "binds depth one",
			input:    "select {a} from t",
			bindings: map[string]string{"a": `"col"`},
			want:     `select "col" from t`,
		},
		{
			name:     "reduces deeper fields one level",
			input:    "{a} {{b}} {{{{c}}}}",
			bindings: map[string]string{"a": "1"},
			want:     "1 {b} {{c}}",
		},
		{
			name:     "bound values are verbatim",
			input:    "{a}",
			bindings: map[string]string{"a": "{not_a_field}"},
			want:     "{not_a_field}",
		},
		{
			name:     "literal braces around a field",
			input:    "{{{a}}}",
			bindings: map[string]string{"a": "v"},
			want:     "{v}",
		},
		{
			name:     "unused bindings ignored",
			input:    "plain",
			bindings: map[string]string{"a": "v"},
			want:     "plain",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Substitute(tt.input, tt.bindings)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSubstitute_MissingBinding(t *testing.T) {
	_, err := Substitute("{a} {b}", map[string]string{"a": "1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedTemplate)
	assert.Contains(t, err.Error(), `"b"`)
}

func TestEscapeBraces(t *testing.T) {
	assert.Equal(t, "plain", EscapeBraces("plain"))
	assert.Equal(t, `'{{"a": {{}}}}'`, EscapeBraces(`'{"a": {}}'`))

	// An escaped value survives exactly one pass unchanged.
	raw := `'{"a": 1}' {x}`
	got, err := Substitute(EscapeBraces(raw), nil)
	require.NoError(t, err)
	assert.Equal(t, raw, got)
}
