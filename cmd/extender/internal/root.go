package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/goplus/extender/internal/errext"
	"github.com/goplus/extender/internal/toolchain"
)

var (
	verbose   bool
	noColor   bool
	logFormat string

	stderrTTY = isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())

	stderr io.Writer = colorable.NewColorableStderr()

	logger = &logrus.Logger{
		Out:       stderr,
		Formatter: new(logrus.TextFormatter),
		Hooks:     make(logrus.LevelHooks),
		Level:     logrus.InfoLevel,
	}

	okColor = color.New(color.FgGreen, color.Bold)
)

var rootCmd = &cobra.Command{
	Use:   "extender",
	Short: "extender links native extensions into the engine",
	Long: `extender discovers native extensions below a source root, compiles
each of them into a static library and links them, together with a generated
registration stub, into one engine executable for the target platform.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setupLogger,
}

func init() {
	rootCmd.PersistentFlags().AddFlagSet(rootFlagSet())
}

func rootFlagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet("", pflag.ContinueOnError)
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	flags.BoolVar(&noColor, "no-color", false, "disable colored output")
	flags.StringVar(&logFormat, "log-format", "text", "log output format, text or json")
	flags.StringP("config", "c", "", "configuration file (default is extender.yml in the user config directory)")
	return flags
}

func setupLogger(cmd *cobra.Command, _ []string) error {
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	if noColor {
		color.NoColor = true
		stderr = colorable.NewNonColorable(os.Stderr)
		logger.SetOutput(stderr)
	}
	switch strings.ToLower(logFormat) {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "text", "":
		logger.SetFormatter(&logrus.TextFormatter{ForceColors: stderrTTY && !noColor, DisableColors: noColor})
	default:
		return errext.WithExitCodeIfNone(fmt.Errorf("unsupported log format %q", logFormat), errext.InvalidConfig)
	}
	logger.WithField("command", cmd.Name()).Debug("starting")
	return nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.ExecuteContext(context.Background())
	if err == nil {
		return
	}
	report(stderr, err)
	os.Exit(int(errext.Code(err)))
}

// report prints err for the user. Toolchain output is printed raw, the way
// the compiler or linker wrote it; a toolchain that failed silently is
// reported by its exit code.
func report(w io.Writer, err error) {
	msg, fields := errext.Format(err)
	var terr *toolchain.Error
	if errors.As(err, &terr) {
		if terr.Output != "" {
			fmt.Fprint(w, terr.Output)
			if !strings.HasSuffix(terr.Output, "\n") {
				fmt.Fprintln(w)
			}
		}
		msg = "toolchain command failed: " + terr.Summary()
		fields["exitCode"] = terr.ExitCode
		if len(terr.Args) > 0 {
			fields["program"] = terr.Args[0]
		}
	}
	logger.WithFields(fields).Error(msg)
}
