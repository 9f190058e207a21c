package build

import (
	"embed"

	"github.com/spf13/afero"

	"github.com/goplus/extender/internal/config"
	"github.com/goplus/extender/internal/manifest"
	"github.com/goplus/extender/internal/subst"
	"github.com/goplus/extender/internal/workspace"
)

//go:embed stub/main.cpp stub/exported_symbols.cpp
var stubFS embed.FS

const (
	mainSource     = "main.cpp"
	exportedSource = "exported_symbols.cpp"
)

// CollectSymbols returns the registration symbols of descs in discovery
// order followed by the global symbols in configuration order. Duplicates
// are kept: registering the same symbol twice is the caller's problem and
// surfaces at link time.
func CollectSymbols(descs []*manifest.Descriptor, global []string) []string {
	symbols := make([]string, 0, len(descs)+len(global))
	for _, d := range descs {
		symbols = append(symbols, d.Name)
	}
	return append(symbols, global...)
}

// Stubs are the generated source files of a build.
type Stubs struct {
	Main     string
	Exported string
}

// Sources returns the stub sources in compile order.
func (s *Stubs) Sources() []string { return []string{s.Main, s.Exported} }

// StubGenerator writes the engine entry source and the exported symbols
// source into a workspace.
type StubGenerator struct {
	ws           *workspace.Workspace
	main         []byte
	exportedTmpl string
}

// NewStubGenerator loads the stub templates, preferring the overrides named
// by cfg, read from fs, over the built-in ones.
func NewStubGenerator(fs afero.Fs, ws *workspace.Workspace, cfg *config.Configuration) (*StubGenerator, error) {
	main, err := readStub(fs, cfg.MainTemplate, "stub/"+mainSource)
	if err != nil {
		return nil, err
	}
	exported, err := readStub(fs, cfg.ExportedSymbolsTemplate, "stub/"+exportedSource)
	if err != nil {
		return nil, err
	}
	return &StubGenerator{ws: ws, main: main, exportedTmpl: string(exported)}, nil
}

func readStub(fs afero.Fs, override, builtin string) ([]byte, error) {
	if override == "" {
		return stubFS.ReadFile(builtin)
	}
	data, err := afero.ReadFile(fs, override)
	if err != nil {
		return nil, &FilesystemError{Op: "read stub template", Path: override, Err: err}
	}
	return data, nil
}

// Generate copies the entry source verbatim and renders the exported
// symbols source with one registration per symbol, in order.
func (g *StubGenerator) Generate(symbols []string) (*Stubs, error) {
	exported, err := subst.Render(g.exportedTmpl, subst.Context{"symbols": symbols})
	if err != nil {
		return nil, err
	}
	mainPath, err := g.ws.WriteFile(mainSource, g.main)
	if err != nil {
		return nil, &FilesystemError{Op: "write", Path: g.ws.Join(mainSource), Err: err}
	}
	exportedPath, err := g.ws.WriteFile(exportedSource, []byte(exported))
	if err != nil {
		return nil, &FilesystemError{Op: "write", Path: g.ws.Join(exportedSource), Err: err}
	}
	return &Stubs{Main: mainPath, Exported: exportedPath}, nil
}
