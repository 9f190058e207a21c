// Package build compiles native extensions and links them into the engine.
//
// A Pipeline runs one build: it scans a source root for extension
// manifests, compiles and archives each extension, generates the stub
// sources registering every extension symbol and links the engine
// executable. Every artifact lives in a workspace.Workspace owned by the
// caller; Run wraps the whole sequence in a scoped workspace.
package build

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/goplus/extender/internal/config"
	"github.com/goplus/extender/internal/manifest"
	"github.com/goplus/extender/internal/subst"
	"github.com/goplus/extender/internal/toolchain"
	"github.com/goplus/extender/internal/workspace"
)

// State is the stage a Pipeline is in.
type State int

const (
	Initialized State = iota
	Scanning
	Compiling
	Archiving
	StubGenerating
	Linking
	Complete
	Failed
)

var stateNames = [...]string{
	Initialized:    "initialized",
	Scanning:       "scanning",
	Compiling:      "compiling",
	Archiving:      "archiving",
	StubGenerating: "stub-generating",
	Linking:        "linking",
	Complete:       "complete",
	Failed:         "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Progress is reported on every state change. Index and Total count
// extensions during Compiling and Archiving and are zero otherwise.
type Progress struct {
	State     State
	Index     int
	Total     int
	Extension string
}

// ErrUsed is returned when Build is called on a pipeline that already ran.
var ErrUsed = errors.New("build: pipeline already used")

// Result describes a successful build. Every path is inside the workspace
// and disappears with it.
type Result struct {
	Executable  string
	Extensions  []*manifest.Descriptor
	Libraries   []*Library
	Symbols     []string
	StubObjects []string
}

// Pipeline builds the engine for one platform. A Pipeline runs at most once.
type Pipeline struct {
	cfg      *config.Configuration
	platform string
	profile  *config.Platform

	fs       afero.Fs
	runner   toolchain.Runner
	logger   logrus.FieldLogger
	jobs     int
	timeout  time.Duration
	split    *subst.SplitMode
	onState  func(Progress)
	wsParent string
	wsOpts   []workspace.Option

	mu    sync.Mutex
	state State
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithFs sets the filesystem holding sources and the workspace.
func WithFs(fs afero.Fs) Option { return func(p *Pipeline) { p.fs = fs } }

// WithRunner replaces the toolchain runner.
func WithRunner(r toolchain.Runner) Option { return func(p *Pipeline) { p.runner = r } }

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option { return func(p *Pipeline) { p.logger = l } }

// WithJobs bounds the number of concurrent compilations within one extension.
func WithJobs(n int) Option { return func(p *Pipeline) { p.jobs = n } }

// WithTimeout bounds every toolchain invocation of the default runner.
func WithTimeout(d time.Duration) Option { return func(p *Pipeline) { p.timeout = d } }

// WithSplitMode overrides the platform's split mode for single-line templates.
func WithSplitMode(m subst.SplitMode) Option { return func(p *Pipeline) { p.split = &m } }

// WithProgress registers a callback invoked on every state change.
func WithProgress(fn func(Progress)) Option { return func(p *Pipeline) { p.onState = fn } }

// WithWorkspace sets the parent directory and options of workspaces created by Run.
func WithWorkspace(parent string, opts ...workspace.Option) Option {
	return func(p *Pipeline) {
		p.wsParent = parent
		p.wsOpts = opts
	}
}

// New returns a pipeline building for platform with cfg.
func New(cfg *config.Configuration, platform string, opts ...Option) (*Pipeline, error) {
	profile, err := cfg.Platform(platform)
	if err != nil {
		return nil, err
	}
	p := &Pipeline{
		cfg:      cfg,
		platform: platform,
		profile:  profile,
		jobs:     1,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.fs == nil {
		p.fs = afero.NewOsFs()
	}
	if p.logger == nil {
		p.logger = logrus.StandardLogger()
	}
	p.logger = p.logger.WithField("platform", platform)
	if p.runner == nil {
		p.runner = &toolchain.Executor{Timeout: p.timeout, Env: profile.Env, Logger: p.logger}
	}
	return p, nil
}

// State returns the current state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Pipeline) enter(pr Progress) {
	p.mu.Lock()
	p.state = pr.State
	p.mu.Unlock()
	p.logger.WithField("state", pr.State).Debug("state")
	if p.onState != nil {
		p.onState(pr)
	}
}

func (p *Pipeline) renderer() subst.Renderer {
	if p.split != nil {
		return subst.Renderer{Mode: *p.split}
	}
	return subst.Renderer{Mode: p.profile.SplitMode}
}

// Build builds the engine from the extensions below srcRoot into ws.
// Extensions are built one after another; the first error of any kind
// moves the pipeline to Failed and is returned unchanged. ws is not
// released.
func (p *Pipeline) Build(ctx context.Context, ws *workspace.Workspace, srcRoot string) (_ *Result, err error) {
	p.mu.Lock()
	if p.state != Initialized {
		p.mu.Unlock()
		return nil, ErrUsed
	}
	p.state = Scanning
	p.mu.Unlock()
	defer func() {
		if err != nil {
			p.enter(Progress{State: Failed})
			p.logger.WithError(err).Debug("build failed")
		}
	}()

	p.enter(Progress{State: Scanning})
	descs, err := manifest.NewScanner(p.fs, p.logger).Scan(srcRoot)
	if err != nil {
		var derr *manifest.DecodeError
		if errors.As(err, &derr) {
			return nil, err
		}
		return nil, &FilesystemError{Op: "scan", Path: srcRoot, Err: err}
	}
	for _, d := range descs {
		if err := d.CheckSDK(p.cfg.SDKVersion); err != nil {
			return nil, err
		}
	}
	symbols := CollectSymbols(descs, p.cfg.ExportedSymbols)

	compiler := &Compiler{
		cfg:      p.cfg,
		profile:  p.profile,
		ws:       ws,
		runner:   p.runner,
		renderer: p.renderer(),
		jobs:     p.jobs,
		logger:   p.logger,
	}
	libs := make([]*Library, 0, len(descs))
	for i, d := range descs {
		p.enter(Progress{State: Compiling, Index: i + 1, Total: len(descs), Extension: d.Name})
		objs, err := compiler.CompileExtension(ctx, i, d)
		if err != nil {
			return nil, err
		}
		p.enter(Progress{State: Archiving, Index: i + 1, Total: len(descs), Extension: d.Name})
		lib, err := compiler.Archive(ctx, d.Name, objs)
		if err != nil {
			return nil, err
		}
		libs = append(libs, lib)
	}

	p.enter(Progress{State: StubGenerating})
	gen, err := NewStubGenerator(p.fs, ws, p.cfg)
	if err != nil {
		return nil, err
	}
	stubs, err := gen.Generate(symbols)
	if err != nil {
		return nil, err
	}
	stubDir, err := ws.MkdirAll("obj", "stub")
	if err != nil {
		return nil, &FilesystemError{Op: "mkdir", Path: ws.Join("obj", "stub"), Err: err}
	}
	includes, err := compiler.includes()
	if err != nil {
		return nil, err
	}
	stubObjs, err := compiler.CompileAll(ctx, stubDir, stubs.Sources(), includes)
	if err != nil {
		return nil, err
	}

	p.enter(Progress{State: Linking})
	linker := &Linker{
		cfg:      p.cfg,
		profile:  p.profile,
		ws:       ws,
		runner:   p.runner,
		renderer: p.renderer(),
		logger:   p.logger,
	}
	exe, err := linker.Link(ctx, stubObjs, libs)
	if err != nil {
		return nil, err
	}

	p.enter(Progress{State: Complete})
	p.logger.WithField("exe", exe).Info("engine built")
	return &Result{
		Executable:  exe,
		Extensions:  descs,
		Libraries:   libs,
		Symbols:     symbols,
		StubObjects: stubObjs,
	}, nil
}

// Run acquires a workspace, builds into it and hands the result to fn. The
// workspace, and with it every artifact, is released when Run returns,
// whatever the outcome; fn must copy anything it wants to keep.
func (p *Pipeline) Run(ctx context.Context, srcRoot string, fn func(*Result) error) error {
	opts := append([]workspace.Option{workspace.WithLogger(p.logger)}, p.wsOpts...)
	return workspace.With(p.fs, p.wsParent, func(ws *workspace.Workspace) error {
		res, err := p.Build(ctx, ws, srcRoot)
		if err != nil {
			return err
		}
		if fn == nil {
			return nil
		}
		return fn(res)
	}, opts...)
}
