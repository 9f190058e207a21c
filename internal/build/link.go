package build

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/goplus/extender/internal/config"
	"github.com/goplus/extender/internal/subst"
	"github.com/goplus/extender/internal/toolchain"
	"github.com/goplus/extender/internal/workspace"
)

// Linker links stub objects and extension libraries into the engine.
type Linker struct {
	cfg      *config.Configuration
	profile  *config.Platform
	ws       *workspace.Workspace
	runner   toolchain.Runner
	renderer subst.Renderer
	logger   logrus.FieldLogger
}

// Executable returns <workspace>/<binary><exeExt>.
func (l *Linker) Executable() string {
	return l.ws.Join(l.cfg.BinaryName() + l.profile.ExeExt)
}

// Link renders the platform link template and runs it. The template sees
// objs (stub objects), extLibs (extension libraries), libPaths, libs and
// frameworks (from the platform profile) and tgt (the executable).
func (l *Linker) Link(ctx context.Context, objs []string, libs []*Library) (string, error) {
	exe := l.Executable()
	extLibs := make([]string, 0, len(libs))
	for _, lib := range libs {
		extLibs = append(extLibs, lib.Path)
	}
	vars := l.cfg.Context()
	libPaths, err := subst.RenderAll(l.profile.LibPaths, vars)
	if err != nil {
		return "", err
	}
	args, err := l.renderer.Args(l.profile.Link, vars.With(subst.Context{
		"objs":       objs,
		"extLibs":    extLibs,
		"libPaths":   libPaths,
		"libs":       l.profile.Libs,
		"frameworks": l.profile.Frameworks,
		"tgt":        exe,
	}))
	if err != nil {
		return "", err
	}
	l.logger.WithFields(logrus.Fields{"exe": exe, "libraries": len(libs)}).Info("linking")
	if _, err := l.runner.Run(ctx, args...); err != nil {
		return "", err
	}
	return exe, nil
}
