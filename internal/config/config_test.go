package config

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/guregu/null.v3"

	"github.com/goplus/extender/internal/subst"
)

const yamlConfig = `
sdkVersion: 1.2.0
context:
  dynamo_home: /opt/dynamo
  defines: [DM_RELEASE, NDEBUG]
exportedSymbols:
  - CrashExt
  - ProfilerExt
main: stubs/main.cpp
platforms:
  x86_64-linux:
    compile: "clang++ -c {{#defines}}-D{{.}} {{/defines}}{{#includes}}-I{{.}} {{/includes}}{{src}} -o {{tgt}}"
    lib: ["ar", "rcs", "{{tgt}}", "{{#objs}}{{.}} {{/objs}}"]
    link: "clang++ {{#objs}}{{.}} {{/objs}}-o {{tgt}} {{#libPaths}}-L{{.}} {{/libPaths}}{{#extLibs}}{{.}} {{/extLibs}}{{#libs}}-l{{.}} {{/libs}}"
    includes:
      - "{{dynamo_home}}/include"
      - "{{dynamo_home}}/sdk/include"
    libPaths: ["{{dynamo_home}}/lib/linux"]
    libs: [engine, dlib]
    splitMode: space
  js-web:
    compile: "emcc -c {{src}} -o {{tgt}}"
    lib: "emar rcs {{tgt}} {{#objs}}{{.}} {{/objs}}"
    link: "emcc {{#objs}}{{.}} {{/objs}}-o {{tgt}}"
    exeExt: .js
    env:
      EM_CACHE: /tmp/em
`

const tomlConfig = `
exportedSymbols = ["CrashExt"]
binaryName = "engine"

[context]
dynamo_home = "/opt/dynamo"

[platforms.armv7-android]
compile = ["clang", "-c", "{{src}}", "-o", "{{tgt}}"]
lib = "ar rcs {{tgt}} {{#objs}}{{.}} {{/objs}}"
link = "clang {{#objs}}{{.}} {{/objs}}-o {{tgt}}"
exeExt = ".so"
frameworks = ["log", "android"]
`

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/etc/extender/build.yml", []byte(yamlConfig), 0o644))

	c, err := Load(fs, "/etc/extender/build.yml")
	require.NoError(t, err)

	assert.Equal(t, []string{"js-web", "x86_64-linux"}, c.PlatformNames())
	assert.Equal(t, []string{"CrashExt", "ProfilerExt"}, c.ExportedSymbols)
	assert.Equal(t, "1.2.0", c.SDKVersion)
	assert.Equal(t, DefaultBinaryName, c.BinaryName())
	assert.Equal(t, "/etc/extender/stubs/main.cpp", c.MainTemplate)
	assert.Empty(t, c.ExportedSymbolsTemplate)

	linux, err := c.Platform("x86_64-linux")
	require.NoError(t, err)
	assert.False(t, linux.Compile.IsList())
	assert.True(t, linux.Lib.IsList())
	assert.Equal(t, []string{"ar", "rcs", "{{tgt}}", "{{#objs}}{{.}} {{/objs}}"}, linux.Lib.Tokens)
	assert.Equal(t, []string{"engine", "dlib"}, linux.Libs)
	assert.Equal(t, subst.SplitSpace, linux.SplitMode)
	assert.Empty(t, linux.ExeExt)

	web, err := c.Platform("js-web")
	require.NoError(t, err)
	assert.Equal(t, ".js", web.ExeExt)
	assert.Equal(t, map[string]string{"EM_CACHE": "/tmp/em"}, web.Env)
	assert.Equal(t, subst.SplitFields, web.SplitMode)

	includes, err := subst.RenderAll(linux.Includes, c.Context())
	require.NoError(t, err)
	assert.Equal(t, []string{"/opt/dynamo/include", "/opt/dynamo/sdk/include"}, includes)

	_, err = c.Platform("win32")
	assert.ErrorContains(t, err, "unknown platform")
}

func TestLoadTOML(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/cfg/build.toml", []byte(tomlConfig), 0o644))

	c, err := Load(fs, "/cfg/build.toml")
	require.NoError(t, err)
	assert.Equal(t, "engine", c.BinaryName())
	assert.Equal(t, []string{"CrashExt"}, c.ExportedSymbols)
	assert.Equal(t, "/opt/dynamo", c.Context()["dynamo_home"])

	p, err := c.Platform("armv7-android")
	require.NoError(t, err)
	assert.Equal(t, []string{"clang", "-c", "{{src}}", "-o", "{{tgt}}"}, p.Compile.Tokens)
	assert.Equal(t, "ar rcs {{tgt}} {{#objs}}{{.}} {{/objs}}", p.Lib.Line)
	assert.Equal(t, []string{"log", "android"}, p.Frameworks)
	assert.Equal(t, ".so", p.ExeExt)
}

func TestParseErrors(t *testing.T) {
	t.Parallel()
	tests := map[string]struct {
		data, format string
	}{
		"no platforms":   {"context: {}", "yaml"},
		"missing link":   {"platforms: {osx: {compile: cc, lib: ar}}", "yaml"},
		"bad template":   {"platforms: {osx: {compile: {a: b}, lib: ar, link: ld}}", "yaml"},
		"bad split mode": {"platforms: {osx: {compile: cc, lib: ar, link: ld, splitMode: tabs}}", "yaml"},
		"unknown format": {"platforms: {}", "ini"},
		"broken toml":    {"[platforms", "toml"},
		"null platform":  {"platforms: {osx: }", "yml"},
	}
	for name, tt := range tests {
		_, err := Parse([]byte(tt.data), tt.format)
		assert.Error(t, err, name)
	}
}

func TestContextIsCopy(t *testing.T) {
	t.Parallel()
	c, err := Parse([]byte(yamlConfig), "yaml")
	require.NoError(t, err)
	ctx := c.Context()
	ctx["dynamo_home"] = "/elsewhere"
	assert.Equal(t, "/opt/dynamo", c.Context()["dynamo_home"])
}

func TestOptionsApply(t *testing.T) {
	t.Parallel()
	def := DefaultOptions()
	assert.True(t, def.Platform.Valid)
	assert.False(t, def.SplitMode.Valid)

	env := Options{Platform: null.StringFrom("js-web"), Jobs: null.IntFrom(2)}
	flags := Options{Jobs: null.IntFrom(8), Timeout: null.StringFrom("5m")}

	got := def.Apply(env).Apply(flags)
	assert.Equal(t, "js-web", got.Platform.String)
	assert.Equal(t, 8, got.JobCount())
	d, err := got.TimeoutDuration()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, d)
	assert.False(t, got.KeepWorkspace.Bool)
}

func TestReadEnvOptions(t *testing.T) {
	t.Parallel()
	env := map[string]string{
		"EXTENDER_PLATFORM":       "armv7-android",
		"EXTENDER_JOBS":           "3",
		"EXTENDER_SPLIT_MODE":     "space",
		"EXTENDER_KEEP_WORKSPACE": "true",
		"UNRELATED":               "x",
	}
	o, err := ReadEnvOptions(func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	})
	require.NoError(t, err)
	assert.Equal(t, null.StringFrom("armv7-android"), o.Platform)
	assert.Equal(t, 3, o.JobCount())
	assert.True(t, o.KeepWorkspace.Bool)
	assert.False(t, o.Config.Valid)
	assert.False(t, o.Timeout.Valid)

	mode, err := o.Split(&Platform{})
	require.NoError(t, err)
	assert.Equal(t, subst.SplitSpace, mode)

	_, err = ReadEnvOptions(func(key string) (string, bool) {
		if key == "EXTENDER_JOBS" {
			return "many", true
		}
		return "", false
	})
	assert.Error(t, err)
}

func TestOptionsHelpers(t *testing.T) {
	t.Parallel()
	var o Options
	assert.Equal(t, 1, o.JobCount())
	d, err := o.TimeoutDuration()
	require.NoError(t, err)
	assert.Zero(t, d)

	mode, err := o.Split(&Platform{SplitMode: subst.SplitSpace})
	require.NoError(t, err)
	assert.Equal(t, subst.SplitSpace, mode)

	o.Timeout = null.StringFrom("soon")
	_, err = o.TimeoutDuration()
	assert.Error(t, err)
	o.Timeout = null.StringFrom("-1s")
	_, err = o.TimeoutDuration()
	assert.Error(t, err)
}
