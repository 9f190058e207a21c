package subst

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestRenderLineSplitsArguments(t *testing.T) {
	t.Parallel()
	r := Renderer{}
	args, err := r.Args(Line("{{src}} -o {{tgt}}"), Context{"src": "/a/b.c", "tgt": "/out/b.o"})
	require.NoError(t, err)
	assert.Equal(t, []string{"/a/b.c", "-o", "/out/b.o"}, args)
}

func TestRenderLineBreaksValuesWithSpaces(t *testing.T) {
	t.Parallel()
	ctx := Context{"src": "/my dir/b.c", "tgt": "/out/b.o"}

	args, err := Renderer{Mode: SplitFields}.Args(Line("cc {{src}} -o {{tgt}}"), ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"cc", "/my", "dir/b.c", "-o", "/out/b.o"}, args)

	args, err = Renderer{Mode: SplitSpace}.Args(Line("cc  {{src}} -o {{tgt}}"), ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"cc", "", "/my", "dir/b.c", "-o", "/out/b.o"}, args)
}

func TestRenderTokensPreservesLength(t *testing.T) {
	t.Parallel()
	ctx := Context{
		"src":      "/my dir/b.c",
		"tgt":      "/out/b.o",
		"includes": []string{"/sdk/include", "/ext/include"},
		"empty":    "",
	}
	tmpls := [][]string{
		{},
		{"cc"},
		{"cc", "-c", "{{src}}", "-o", "{{tgt}}"},
		{"{{#includes}}-I{{.}} {{/includes}}", "{{empty}}", "{{src}}"},
	}
	for _, tokens := range tmpls {
		args, err := Renderer{Mode: SplitSpace}.Args(Tokens(tokens...), ctx)
		require.NoError(t, err)
		assert.Len(t, args, len(tokens), "tokens %q", tokens)
	}

	args, err := Renderer{}.Args(Tokens("cc", "{{src}}", "{{#includes}}-I{{.}} {{/includes}}"), ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"cc", "/my dir/b.c", "-I/sdk/include -I/ext/include "}, args)
}

func TestRenderListIteration(t *testing.T) {
	t.Parallel()
	args, err := Renderer{Mode: SplitSpace}.Args(
		Line("ar rcs {{tgt}} {{#objs}}{{.}} {{/objs}}"),
		Context{"tgt": "/w/lib1.a", "objs": []string{"/w/a.c_0.o", "/w/b.c_1.o"}},
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"ar", "rcs", "/w/lib1.a", "/w/a.c_0.o", "/w/b.c_1.o"}, args)
}

func TestRenderDoesNotEscape(t *testing.T) {
	t.Parallel()
	s, err := Render("{{flag}}", Context{"flag": "-DX=\"a&b\"<c>"})
	require.NoError(t, err)
	assert.Equal(t, "-DX=\"a&b\"<c>", s)
}

func TestRenderMissingVariable(t *testing.T) {
	t.Parallel()
	_, err := Renderer{}.Args(Line("cc {{src}} -o {{nope}}"), Context{"src": "a.c"})
	require.Error(t, err)
	var rerr *ResolutionError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, "cc {{src}} -o {{nope}}", rerr.Template)

	_, err = RenderAll([]string{"ok", "{{nope}}"}, Context{})
	require.Error(t, err)
	assert.True(t, errors.As(err, &rerr))
}

func TestRenderMissingSection(t *testing.T) {
	t.Parallel()
	ctx := Context{
		"includes":   []string{"/sdk/include"},
		"frameworks": []string(nil),
		"flags":      []string{"-O2"},
	}
	for _, tmpl := range []string{
		"cc {{#include}}-I{{.}} {{/include}}",
		"cc {{^include}}-nostdinc{{/include}}",
		"cc {{#includes}}-I{{.}} {{nope}}{{/includes}}",
		"cc {{#flags}}{{#inner}}x{{/inner}}{{/flags}}",
		"cc {{sdk.root}}",
	} {
		_, err := Render(tmpl, ctx)
		var rerr *ResolutionError
		require.True(t, errors.As(err, &rerr), "template %q rendered without error", tmpl)
		assert.Equal(t, tmpl, rerr.Template)
	}

	s, err := Render("cc {{#includes}}-I{{.}} {{/includes}}{{#frameworks}}-framework {{.}} {{/frameworks}}{{^frameworks}}-nofw{{/frameworks}}", ctx)
	require.NoError(t, err)
	assert.Equal(t, "cc -I/sdk/include -nofw", s)
}

func TestRenderNestedContext(t *testing.T) {
	t.Parallel()
	ctx := Context{
		"sdk":  map[string]interface{}{"root": "/sdk", "libs": []interface{}{"engine", "dlib"}},
		"tgt":  "a.out",
		"opts": []interface{}{map[string]interface{}{"name": "O", "value": "2"}},
	}
	s, err := Render("{{sdk.root}}/bin/ld -o {{tgt}} {{#sdk.libs}}-l{{.}} {{/sdk.libs}}{{#opts}}-{{name}}{{value}} {{tgt}}{{/opts}}", ctx)
	require.NoError(t, err)
	assert.Equal(t, "/sdk/bin/ld -o a.out -lengine -ldlib -O2 a.out", s)

	_, err = Render("{{#opts}}-{{nmae}}{{/opts}}", ctx)
	assert.Error(t, err)
}

func TestContextWith(t *testing.T) {
	t.Parallel()
	base := Context{"a": "1", "b": "2"}
	got := base.With(Context{"b": "3", "c": "4"})
	assert.Equal(t, Context{"a": "1", "b": "3", "c": "4"}, got)
	assert.Equal(t, Context{"a": "1", "b": "2"}, base)
}

func TestSplitMode(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want SplitMode
		err  bool
	}{
		{"", SplitFields, false},
		{"fields", SplitFields, false},
		{"space", SplitSpace, false},
		{"Legacy", SplitSpace, false},
		{"tabs", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseSplitMode(tt.in)
		if tt.err {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	assert.Equal(t, []string{"a", "", "b"}, SplitSpace.Split("a  b  "))
	assert.Equal(t, []string{"a", "b"}, SplitFields.Split(" a \t b\n"))
}

func TestTemplateUnmarshalYAML(t *testing.T) {
	t.Parallel()
	var v struct {
		Compile Template  `yaml:"compile"`
		Lib     Template  `yaml:"lib"`
		Mode    SplitMode `yaml:"mode"`
	}
	data := `
compile: "clang -c {{src}} -o {{tgt}}"
lib:
  - ar
  - rcs
  - "{{tgt}}"
mode: space
`
	require.NoError(t, yaml.Unmarshal([]byte(data), &v))
	assert.False(t, v.Compile.IsList())
	assert.Equal(t, "clang -c {{src}} -o {{tgt}}", v.Compile.Line)
	assert.True(t, v.Lib.IsList())
	assert.Equal(t, []string{"ar", "rcs", "{{tgt}}"}, v.Lib.Tokens)
	assert.Equal(t, SplitSpace, v.Mode)

	err := yaml.Unmarshal([]byte("compile: {a: b}"), &v)
	assert.Error(t, err)
}
