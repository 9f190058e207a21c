// Package subst renders toolchain command templates against a variable context.
//
// Templates use mustache syntax. Scalars are referenced as {{name}} and lists
// are iterated with sections, e.g. {{#includes}}-I{{.}} {{/includes}}.
// Rendering is strict: every variable, section and inverted section tag must
// name a variable present in the context, otherwise the render fails instead
// of producing an empty string or silently skipping the section.
package subst

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/cbroglie/mustache"
	"gopkg.in/yaml.v3"
)

// Context maps template variable names to values. Values are strings,
// string slices or anything else the mustache renderer can look up.
type Context map[string]interface{}

// With returns a copy of c extended with the entries of other.
// Entries of other win on conflicts; c is never modified.
func (c Context) With(other Context) Context {
	ret := make(Context, len(c)+len(other))
	for k, v := range c {
		ret[k] = v
	}
	for k, v := range other {
		ret[k] = v
	}
	return ret
}

// ResolutionError reports a template that could not be rendered,
// typically because it references an unknown variable.
type ResolutionError struct {
	Template string
	Err      error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("render template %q: %v", e.Template, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// Render renders a single template string. Values are substituted verbatim,
// without HTML escaping.
func Render(tmpl string, ctx Context) (string, error) {
	t, err := mustache.ParseStringRaw(tmpl, true)
	if err != nil {
		return "", &ResolutionError{Template: tmpl, Err: err}
	}
	if err := checkTags(t.Tags(), []interface{}{map[string]interface{}(ctx)}); err != nil {
		return "", &ResolutionError{Template: tmpl, Err: err}
	}
	s, err := t.Render(map[string]interface{}(ctx))
	if err != nil {
		return "", &ResolutionError{Template: tmpl, Err: err}
	}
	return s, nil
}

// checkTags reports the first tag that does not resolve against stack, the
// innermost context first. Section bodies are checked once per list element;
// the body of an empty list is never rendered and not checked.
func checkTags(tags []mustache.Tag, stack []interface{}) error {
	for _, tag := range tags {
		switch tag.Type() {
		case mustache.Variable:
			if _, ok := resolve(stack, tag.Name()); !ok {
				return fmt.Errorf("missing variable %q", tag.Name())
			}
		case mustache.InvertedSection:
			if _, ok := resolve(stack, tag.Name()); !ok {
				return fmt.Errorf("missing section variable %q", tag.Name())
			}
			if err := checkTags(tag.Tags(), stack); err != nil {
				return err
			}
		case mustache.Section:
			v, ok := resolve(stack, tag.Name())
			if !ok {
				return fmt.Errorf("missing section variable %q", tag.Name())
			}
			rv := indirect(reflect.ValueOf(v))
			switch rv.Kind() {
			case reflect.Slice, reflect.Array:
				for i := 0; i < rv.Len(); i++ {
					if err := checkTags(tag.Tags(), push(stack, rv.Index(i).Interface())); err != nil {
						return err
					}
				}
			case reflect.Map, reflect.Struct:
				if err := checkTags(tag.Tags(), push(stack, v)); err != nil {
					return err
				}
			default:
				if err := checkTags(tag.Tags(), stack); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func push(stack []interface{}, v interface{}) []interface{} {
	return append([]interface{}{v}, stack...)
}

// resolve looks name up the way the renderer does: "." is the innermost
// context and a dotted name is resolved part by part.
func resolve(stack []interface{}, name string) (interface{}, bool) {
	if name == "." {
		if len(stack) == 0 {
			return nil, false
		}
		return stack[0], true
	}
	if head, rest, ok := strings.Cut(name, "."); ok {
		v, ok := resolve(stack, head)
		if !ok {
			return nil, false
		}
		return resolve([]interface{}{v}, rest)
	}
	for _, ctx := range stack {
		if v, ok := field(ctx, name); ok {
			return v, true
		}
	}
	return nil, false
}

func field(ctx interface{}, name string) (interface{}, bool) {
	rv := indirect(reflect.ValueOf(ctx))
	switch rv.Kind() {
	case reflect.Map:
		key := reflect.ValueOf(name)
		switch kt := rv.Type().Key(); {
		case kt.Kind() == reflect.String:
			key = key.Convert(kt)
		case kt.Kind() != reflect.Interface:
			return nil, false
		}
		v := rv.MapIndex(key)
		if !v.IsValid() {
			return nil, false
		}
		return v.Interface(), true
	case reflect.Struct:
		v := rv.FieldByName(name)
		if !v.IsValid() || !v.CanInterface() {
			return nil, false
		}
		return v.Interface(), true
	}
	return nil, false
}

func indirect(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

// RenderAll renders every template of tmpls independently.
// The result always has the same length as tmpls.
func RenderAll(tmpls []string, ctx Context) ([]string, error) {
	ret := make([]string, len(tmpls))
	for i, tmpl := range tmpls {
		s, err := Render(tmpl, ctx)
		if err != nil {
			return nil, err
		}
		ret[i] = s
	}
	return ret, nil
}

// Template is a command template. It is either a single line, rendered as a
// whole and then split into arguments, or a list of tokens, each rendered
// into exactly one argument.
type Template struct {
	Line   string
	Tokens []string
}

// Line returns a single-line template.
func Line(s string) Template { return Template{Line: s} }

// Tokens returns a token-list template.
func Tokens(tokens ...string) Template { return Template{Tokens: tokens} }

// IsList reports whether t is a token-list template.
func (t Template) IsList() bool { return t.Tokens != nil }

// IsZero reports whether t holds no template at all.
func (t Template) IsZero() bool { return t.Line == "" && len(t.Tokens) == 0 }

func (t Template) String() string {
	if t.IsList() {
		return fmt.Sprintf("%q", t.Tokens)
	}
	return t.Line
}

// UnmarshalYAML accepts either a scalar (single line) or a sequence of
// scalars (token list).
func (t *Template) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		*t = Template{Line: value.Value}
		return nil
	case yaml.SequenceNode:
		tokens := make([]string, 0, len(value.Content))
		if err := value.Decode(&tokens); err != nil {
			return err
		}
		*t = Template{Tokens: tokens}
		return nil
	}
	return fmt.Errorf("line %d: command template must be a string or a list of strings", value.Line)
}

// SplitMode selects how a rendered single-line template becomes arguments.
type SplitMode int

const (
	// SplitFields splits around runs of whitespace and drops empty arguments.
	SplitFields SplitMode = iota
	// SplitSpace splits on every single space character. Consecutive spaces
	// yield empty arguments; trailing empty arguments are dropped. This is
	// the legacy behavior existing command templates were written against.
	SplitSpace
)

// ParseSplitMode parses "fields" or "space".
func ParseSplitMode(s string) (SplitMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fields":
		return SplitFields, nil
	case "space", "legacy":
		return SplitSpace, nil
	}
	return 0, fmt.Errorf("unknown split mode %q", s)
}

func (m SplitMode) String() string {
	if m == SplitSpace {
		return "space"
	}
	return "fields"
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *SplitMode) UnmarshalText(text []byte) error {
	v, err := ParseSplitMode(string(text))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (m *SplitMode) UnmarshalYAML(value *yaml.Node) error {
	return m.UnmarshalText([]byte(value.Value))
}

// Split splits a rendered line into arguments according to m.
func (m SplitMode) Split(s string) []string {
	if m != SplitSpace {
		return strings.Fields(s)
	}
	args := strings.Split(s, " ")
	for len(args) > 0 && args[len(args)-1] == "" {
		args = args[:len(args)-1]
	}
	return args
}

// Renderer turns command templates into argument vectors.
type Renderer struct {
	Mode SplitMode
}

// Args renders t against ctx. A token-list template yields exactly one
// argument per token; a single-line template is rendered and then split
// with r.Mode, so a substituted value containing spaces becomes several
// arguments.
func (r Renderer) Args(t Template, ctx Context) ([]string, error) {
	if t.IsList() {
		return RenderAll(t.Tokens, ctx)
	}
	s, err := Render(t.Line, ctx)
	if err != nil {
		return nil, err
	}
	return r.Mode.Split(s), nil
}
