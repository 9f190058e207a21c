package internal

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/guregu/null.v3"

	"github.com/goplus/extender/internal/build"
	"github.com/goplus/extender/internal/config"
	"github.com/goplus/extender/internal/env"
	"github.com/goplus/extender/internal/errext"
	"github.com/goplus/extender/internal/manifest"
	"github.com/goplus/extender/internal/subst"
	"github.com/goplus/extender/internal/toolchain"
	"github.com/goplus/extender/internal/workspace"
)

var buildCmd = &cobra.Command{
	Use:   "build [source-root]",
	Short: "Build the engine with every extension below source-root",
	Long: `Build scans source-root (the current directory by default) for extension
manifests, compiles and archives every extension, generates the symbol
registration stub and links the engine. The executable is copied to --output;
everything else is removed when the build ends.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBuild,
}

func init() {
	buildCmd.Flags().AddFlagSet(buildFlagSet())
	rootCmd.AddCommand(buildCmd)
}

func buildFlagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet("", pflag.ContinueOnError)
	flags.StringP("platform", "p", "", "target platform (default is the host OS)")
	flags.IntP("jobs", "j", 0, "concurrent compilations per extension (default is the number of CPUs)")
	flags.String("timeout", "", "timeout of every toolchain command, e.g. 5m (default is none)")
	flags.String("split-mode", "", "how single-line command templates are split: fields or space")
	flags.Bool("keep-workspace", false, "keep the build workspace for inspection")
	flags.String("work-dir", "", "parent directory of the build workspace (default is the system temp dir)")
	flags.StringP("output", "o", "", "path of the built engine (default is ./<binaryName><exeExt>)")
	return flags
}

// flagOptions returns the options explicitly set on flags.
func flagOptions(flags *pflag.FlagSet) (config.Options, error) {
	var opts config.Options
	str := func(name string) (null.String, error) {
		v, err := flags.GetString(name)
		return null.NewString(v, flags.Changed(name)), err
	}
	var err error
	for name, dst := range map[string]*null.String{
		"config":     &opts.Config,
		"platform":   &opts.Platform,
		"timeout":    &opts.Timeout,
		"split-mode": &opts.SplitMode,
		"work-dir":   &opts.WorkDir,
		"output":     &opts.Output,
	} {
		if flags.Lookup(name) == nil {
			continue
		}
		if *dst, err = str(name); err != nil {
			return opts, err
		}
	}
	if flags.Lookup("jobs") != nil {
		jobs, err := flags.GetInt("jobs")
		if err != nil {
			return opts, err
		}
		opts.Jobs = null.NewInt(int64(jobs), flags.Changed("jobs"))
	}
	if flags.Lookup("keep-workspace") != nil {
		keep, err := flags.GetBool("keep-workspace")
		if err != nil {
			return opts, err
		}
		opts.KeepWorkspace = null.NewBool(keep, flags.Changed("keep-workspace"))
	}
	return opts, nil
}

// resolveOptions layers defaults, EXTENDER_* environment variables and flags,
// in increasing priority.
func resolveOptions(flags *pflag.FlagSet, lookup func(string) (string, bool)) (config.Options, error) {
	envOpts, err := config.ReadEnvOptions(lookup)
	if err != nil {
		return config.Options{}, errext.WithExitCodeIfNone(fmt.Errorf("environment: %w", err), errext.InvalidConfig)
	}
	flagOpts, err := flagOptions(flags)
	if err != nil {
		return config.Options{}, errext.WithExitCodeIfNone(err, errext.InvalidConfig)
	}
	return config.DefaultOptions().Apply(envOpts).Apply(flagOpts), nil
}

func loadConfig(fsys afero.Fs, opts config.Options) (*config.Configuration, error) {
	path := opts.Config.String
	if path == "" {
		var err error
		if path, err = env.DefaultConfigPath(); err != nil {
			return nil, errext.WithHint(errext.WithExitCodeIfNone(err, errext.InvalidConfig), "pass a configuration file with --config")
		}
	}
	cfg, err := config.Load(fsys, path)
	if err != nil {
		err = errext.WithExitCodeIfNone(err, errext.InvalidConfig)
		if errors.Is(err, fs.ErrNotExist) {
			err = errext.WithHint(err, "pass a configuration file with --config or EXTENDER_CONFIG")
		}
		return nil, err
	}
	return cfg, nil
}

func runBuild(cmd *cobra.Command, args []string) error {
	srcRoot := "."
	if len(args) > 0 {
		srcRoot = args[0]
	}
	opts, err := resolveOptions(cmd.Flags(), os.LookupEnv)
	if err != nil {
		return err
	}
	fsys := afero.NewOsFs()
	cfg, err := loadConfig(fsys, opts)
	if err != nil {
		return err
	}
	platform := opts.Platform.String
	profile, err := cfg.Platform(platform)
	if err != nil {
		return errext.WithHint(errext.WithExitCodeIfNone(err, errext.InvalidConfig), "select a configured platform with --platform")
	}
	timeout, err := opts.TimeoutDuration()
	if err != nil {
		return errext.WithExitCodeIfNone(err, errext.InvalidConfig)
	}
	split, err := opts.Split(profile)
	if err != nil {
		return errext.WithExitCodeIfNone(err, errext.InvalidConfig)
	}
	output := opts.Output.String
	if output == "" {
		output = cfg.BinaryName() + profile.ExeExt
	}

	p, err := build.New(cfg, platform,
		build.WithFs(fsys),
		build.WithLogger(logger),
		build.WithJobs(opts.JobCount()),
		build.WithTimeout(timeout),
		build.WithSplitMode(split),
		build.WithProgress(logProgress),
		build.WithWorkspace(opts.WorkDir.String, workspace.WithKeep(opts.KeepWorkspace.Bool)),
	)
	if err != nil {
		return errext.WithExitCodeIfNone(err, errext.InvalidConfig)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	var res *build.Result
	err = p.Run(ctx, srcRoot, func(r *build.Result) error {
		res = r
		return copyExecutable(fsys, r.Executable, output)
	})
	if err != nil {
		return exitError(err)
	}
	okColor.Fprintf(cmd.OutOrStdout(), "built %s with %d extension(s)\n", output, len(res.Libraries))
	return nil
}

func logProgress(pr build.Progress) {
	entry := logger.WithField("state", pr.State)
	switch pr.State {
	case build.Compiling:
		entry.WithField("extension", pr.Extension).Infof("[%d/%d] compiling", pr.Index, pr.Total)
	case build.Failed:
		// reported by Execute
	default:
		entry.Debug("build progress")
	}
}

// copyExecutable copies the linked engine out of the workspace before it is
// released.
func copyExecutable(fsys afero.Fs, src, dst string) error {
	in, err := fsys.Open(src)
	if err != nil {
		return &build.FilesystemError{Op: "open", Path: src, Err: err}
	}
	defer in.Close()
	if err := fsys.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return &build.FilesystemError{Op: "mkdir", Path: filepath.Dir(dst), Err: err}
	}
	out, err := fsys.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o755)
	if err != nil {
		return &build.FilesystemError{Op: "create", Path: dst, Err: err}
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return &build.FilesystemError{Op: "copy", Path: dst, Err: err}
	}
	if err := out.Close(); err != nil {
		return &build.FilesystemError{Op: "close", Path: dst, Err: err}
	}
	if err := fsys.Chmod(dst, 0o755); err != nil {
		return &build.FilesystemError{Op: "chmod", Path: dst, Err: err}
	}
	return nil
}

// exitError attaches the exit code matching the kind of err.
func exitError(err error) error {
	var (
		terr *toolchain.Error
		derr *manifest.DecodeError
		rerr *subst.ResolutionError
		ferr *build.FilesystemError
		perr *fs.PathError
	)
	switch {
	case errors.As(err, &terr):
		return errext.WithExitCodeIfNone(err, errext.ToolchainFailed)
	case errors.As(err, &derr):
		return errext.WithExitCodeIfNone(err, errext.ManifestInvalid)
	case errors.As(err, &rerr):
		return errext.WithHint(errext.WithExitCodeIfNone(err, errext.TemplateInvalid), "define the variable under context in the configuration")
	case errors.As(err, &ferr), errors.As(err, &perr):
		return errext.WithExitCodeIfNone(err, errext.FilesystemFailed)
	}
	return errext.WithExitCodeIfNone(err, errext.GenericError)
}
