// Package toolchain runs external compilers, archivers and linkers.
package toolchain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Error is returned when a toolchain process exits with a nonzero code or is
// killed. Its message is exactly the combined stdout/stderr of the process,
// which is the only diagnostic the toolchain provides, even when that is empty.
type Error struct {
	Args     []string
	ExitCode int
	Output   string
	// Err is set when the process was stopped by a timeout or cancellation.
	Err error
}

func (e *Error) Error() string { return e.Output }

// Summary describes the failure without its output, e.g. "cc exited with code 1".
func (e *Error) Summary() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.name(), e.Err)
	}
	return fmt.Sprintf("%s exited with code %d", e.name(), e.ExitCode)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) name() string {
	if len(e.Args) == 0 {
		return "toolchain"
	}
	return e.Args[0]
}

// Runner runs one toolchain command and returns its combined output.
type Runner interface {
	Run(ctx context.Context, args ...string) (string, error)
}

// Executor spawns toolchain processes one at a time per call.
// The zero value is ready to use.
type Executor struct {
	// Timeout bounds every single invocation. Zero means no limit.
	Timeout time.Duration
	// Env is merged over the current process environment.
	Env map[string]string
	// Dir is the working directory of spawned processes.
	Dir    string
	Logger logrus.FieldLogger
}

var _ Runner = (*Executor)(nil)

// Run spawns args[0] with args[1:], waits for it to exit and returns its
// merged stdout and stderr. A nonzero exit yields an *Error carrying the
// full output. When ctx is done or the timeout expires the whole process
// group is killed.
func (e *Executor) Run(ctx context.Context, args ...string) (string, error) {
	if len(args) == 0 {
		return "", errors.New("toolchain: empty command")
	}
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}
	e.logger().WithField("args", args).Debug("exec")

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = e.Dir
	if len(e.Env) > 0 {
		cmd.Env = mergeEnv(os.Environ(), e.Env)
	}
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	setProcessGroup(cmd)
	cmd.WaitDelay = time.Second

	err := cmd.Run()
	output := out.String()
	if err == nil {
		return output, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return output, &Error{Args: args, ExitCode: -1, Output: output, Err: ctxErr}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return output, &Error{Args: args, ExitCode: exitErr.ExitCode(), Output: output}
	}
	return output, fmt.Errorf("toolchain: %w", err)
}

func (e *Executor) logger() logrus.FieldLogger {
	if e.Logger == nil {
		return logrus.StandardLogger()
	}
	return e.Logger
}

// mergeEnv overrides entries of base with override, sorted by key.
func mergeEnv(base []string, override map[string]string) []string {
	envMap := make(map[string]string, len(base))
	for _, kv := range base {
		if k, v, ok := strings.Cut(kv, "="); ok {
			envMap[k] = v
		}
	}
	for k, v := range override {
		envMap[k] = v
	}
	keys := make([]string, 0, len(envMap))
	for k := range envMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+envMap[k])
	}
	return out
}
