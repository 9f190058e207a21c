// Package errext attaches process exit codes and user hints to errors.
package errext

import "errors"

// ExitCode is the code the process exits with when an error reaches main.
type ExitCode uint8

// Exit codes of the extender command.
const (
	GenericError     ExitCode = 1
	InvalidConfig    ExitCode = 2
	ToolchainFailed  ExitCode = 10
	ManifestInvalid  ExitCode = 11
	TemplateInvalid  ExitCode = 12
	FilesystemFailed ExitCode = 13
)

// HasExitCode is an error with an attached exit code.
type HasExitCode interface {
	error
	ExitCode() ExitCode
}

// WithExitCodeIfNone attaches exitCode to err unless err, or an error it
// wraps, already carries one. A nil err stays nil.
func WithExitCodeIfNone(err error, exitCode ExitCode) error {
	if err == nil {
		return nil
	}
	var ecerr HasExitCode
	if errors.As(err, &ecerr) {
		return err
	}
	return withExitCode{err, exitCode}
}

type withExitCode struct {
	error
	exitCode ExitCode
}

func (wh withExitCode) Unwrap() error {
	return wh.error
}

func (wh withExitCode) ExitCode() ExitCode {
	return wh.exitCode
}

var _ HasExitCode = withExitCode{}

// HasHint is an error with a human-readable suggestion on how to fix it.
type HasHint interface {
	error
	Hint() string
}

// WithHint attaches hint to err. If err already had a hint, the result
// reads "new hint (old hint)". A nil err stays nil.
func WithHint(err error, hint string) error {
	if err == nil {
		return nil
	}
	return withHint{err, hint}
}

type withHint struct {
	error
	hint string
}

func (wh withHint) Unwrap() error {
	return wh.error
}

func (wh withHint) Hint() string {
	hint := wh.hint
	var oldhint HasHint
	if errors.As(wh.error, &oldhint) {
		hint = hint + " (" + oldhint.Hint() + ")"
	}
	return hint
}

// Format returns the error message and the log fields describing err.
func Format(err error) (string, map[string]interface{}) {
	if err == nil {
		return "", nil
	}
	fields := make(map[string]interface{})
	var herr HasHint
	if errors.As(err, &herr) {
		fields["hint"] = herr.Hint()
	}
	return err.Error(), fields
}

// Code returns the exit code attached to err, or GenericError.
func Code(err error) ExitCode {
	var ecerr HasExitCode
	if errors.As(err, &ecerr) {
		return ecerr.ExitCode()
	}
	return GenericError
}
