package config

import (
	"fmt"
	"runtime"
	"time"

	"github.com/mstoykov/envconfig"
	"gopkg.in/guregu/null.v3"

	"github.com/goplus/extender/internal/subst"
)

// Options are the per-invocation build options. Each field is only set if
// the user supplied it, so flags, environment and defaults can be layered.
type Options struct {
	Config        null.String `envconfig:"EXTENDER_CONFIG"`
	Platform      null.String `envconfig:"EXTENDER_PLATFORM"`
	Jobs          null.Int    `envconfig:"EXTENDER_JOBS"`
	Timeout       null.String `envconfig:"EXTENDER_TIMEOUT"`
	SplitMode     null.String `envconfig:"EXTENDER_SPLIT_MODE"`
	KeepWorkspace null.Bool   `envconfig:"EXTENDER_KEEP_WORKSPACE"`
	WorkDir       null.String `envconfig:"EXTENDER_WORK_DIR"`
	Output        null.String `envconfig:"EXTENDER_OUTPUT"`
}

// DefaultOptions returns the built-in defaults. The split mode is left unset
// so the platform profile decides unless the user overrides it.
func DefaultOptions() Options {
	return Options{
		Platform:      null.StringFrom(runtime.GOOS),
		Jobs:          null.IntFrom(int64(runtime.NumCPU())),
		KeepWorkspace: null.BoolFrom(false),
	}
}

// Apply returns o overridden by every valid field of other.
func (o Options) Apply(other Options) Options {
	if other.Config.Valid {
		o.Config = other.Config
	}
	if other.Platform.Valid {
		o.Platform = other.Platform
	}
	if other.Jobs.Valid {
		o.Jobs = other.Jobs
	}
	if other.Timeout.Valid {
		o.Timeout = other.Timeout
	}
	if other.SplitMode.Valid {
		o.SplitMode = other.SplitMode
	}
	if other.KeepWorkspace.Valid {
		o.KeepWorkspace = other.KeepWorkspace
	}
	if other.WorkDir.Valid {
		o.WorkDir = other.WorkDir
	}
	if other.Output.Valid {
		o.Output = other.Output
	}
	return o
}

// ReadEnvOptions reads options from environment variables through lookup.
func ReadEnvOptions(lookup func(string) (string, bool)) (Options, error) {
	var o Options
	if err := envconfig.Process("", &o, lookup); err != nil {
		return Options{}, err
	}
	return o, nil
}

// TimeoutDuration parses the per-command timeout. Unset means no timeout.
func (o Options) TimeoutDuration() (time.Duration, error) {
	if !o.Timeout.Valid || o.Timeout.String == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(o.Timeout.String)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid timeout: %s is negative", d)
	}
	return d, nil
}

// Split returns the configured split mode, falling back to the platform's.
func (o Options) Split(p *Platform) (subst.SplitMode, error) {
	if !o.SplitMode.Valid {
		return p.SplitMode, nil
	}
	return subst.ParseSplitMode(o.SplitMode.String)
}

// JobCount returns the compile parallelism, at least 1.
func (o Options) JobCount() int {
	if !o.Jobs.Valid || o.Jobs.Int64 < 1 {
		return 1
	}
	return int(o.Jobs.Int64)
}
