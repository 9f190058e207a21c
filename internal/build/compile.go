package build

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/goplus/extender/internal/config"
	"github.com/goplus/extender/internal/manifest"
	"github.com/goplus/extender/internal/subst"
	"github.com/goplus/extender/internal/toolchain"
	"github.com/goplus/extender/internal/workspace"
)

// Library is the static library built from one extension.
type Library struct {
	Extension string
	Path      string
	Objects   []string
}

// Compiler compiles extension sources and archives them into libraries.
type Compiler struct {
	cfg      *config.Configuration
	profile  *config.Platform
	ws       *workspace.Workspace
	runner   toolchain.Runner
	renderer subst.Renderer
	jobs     int
	logger   logrus.FieldLogger
}

func (c *Compiler) includes(extra ...string) ([]string, error) {
	includes, err := subst.RenderAll(c.profile.Includes, c.cfg.Context())
	if err != nil {
		return nil, err
	}
	return append(includes, extra...), nil
}

// CompileFile compiles src into <dir>/<base>_<index>.o and returns the object path.
func (c *Compiler) CompileFile(ctx context.Context, dir string, index int, src string, includes []string) (string, error) {
	obj := filepath.Join(dir, fmt.Sprintf("%s_%d.o", filepath.Base(src), index))
	args, err := c.renderer.Args(c.profile.Compile, c.cfg.Context().With(subst.Context{
		"src":      src,
		"tgt":      obj,
		"includes": includes,
	}))
	if err != nil {
		return "", err
	}
	c.logger.WithField("src", src).Debug("compile")
	if _, err := c.runner.Run(ctx, args...); err != nil {
		return "", err
	}
	return obj, nil
}

// CompileAll compiles srcs into dir with at most c.jobs compilers running at
// once. Objects are returned in source order. The first failure cancels the
// remaining compilations and is returned.
func (c *Compiler) CompileAll(ctx context.Context, dir string, srcs []string, includes []string) ([]string, error) {
	objs := make([]string, len(srcs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(c.jobs, 1))
	for i, src := range srcs {
		i, src := i, src
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			obj, err := c.CompileFile(gctx, dir, i, src, includes)
			if err != nil {
				return err
			}
			objs[i] = obj
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return objs, nil
}

// CompileExtension compiles every source of desc into the workspace
// directory obj/<index>. An extension without sources yields no objects.
func (c *Compiler) CompileExtension(ctx context.Context, index int, desc *manifest.Descriptor) ([]string, error) {
	srcs, err := desc.Sources(c.ws.Fs())
	if err != nil {
		return nil, &FilesystemError{Op: "list sources", Path: desc.SourceDir(), Err: err}
	}
	dir, err := c.ws.MkdirAll("obj", fmt.Sprint(index))
	if err != nil {
		return nil, &FilesystemError{Op: "mkdir", Path: c.ws.Join("obj"), Err: err}
	}
	includes, err := c.includes(desc.IncludeDir())
	if err != nil {
		return nil, err
	}
	c.logger.WithFields(logrus.Fields{"extension": desc.Name, "sources": len(srcs)}).Info("compiling extension")
	return c.CompileAll(ctx, dir, srcs, includes)
}

// Archive bundles objs into a fresh uniquely named static library.
func (c *Compiler) Archive(ctx context.Context, name string, objs []string) (*Library, error) {
	lib, err := c.ws.TempPath(c.ws.Path(), "lib", ".a")
	if err != nil {
		return nil, &FilesystemError{Op: "create library", Path: c.ws.Path(), Err: err}
	}
	args, err := c.renderer.Args(c.profile.Lib, c.cfg.Context().With(subst.Context{
		"tgt":  lib,
		"objs": objs,
	}))
	if err != nil {
		return nil, err
	}
	c.logger.WithFields(logrus.Fields{"extension": name, "lib": lib}).Debug("archive")
	if _, err := c.runner.Run(ctx, args...); err != nil {
		return nil, err
	}
	return &Library{Extension: name, Path: lib, Objects: objs}, nil
}

// BuildExtension compiles and archives one extension.
func (c *Compiler) BuildExtension(ctx context.Context, index int, desc *manifest.Descriptor) (*Library, error) {
	objs, err := c.CompileExtension(ctx, index, desc)
	if err != nil {
		return nil, err
	}
	return c.Archive(ctx, desc.Name, objs)
}
