package internal

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"
	"github.com/pterm/pterm"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/goplus/extender/internal/build"
	"github.com/goplus/extender/internal/manifest"
)

var scanJSON bool

var scanCmd = &cobra.Command{
	Use:   "scan [source-root]",
	Short: "List the extensions below source-root",
	Long: `Scan lists every extension manifest below source-root (the current
directory by default) in the order build would compile them.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runScan,
}

func init() {
	scanCmd.Flags().BoolVar(&scanJSON, "json", false, "print the extensions as JSON")
	rootCmd.AddCommand(scanCmd)
}

type extensionInfo struct {
	Name     string `json:"name"`
	Root     string `json:"root"`
	Requires string `json:"requires,omitempty"`
	Sources  int    `json:"sources"`
}

func scanExtensions(fsys afero.Fs, root string) ([]extensionInfo, error) {
	descs, err := manifest.NewScanner(fsys, logger).Scan(root)
	if err != nil {
		return nil, err
	}
	infos := make([]extensionInfo, 0, len(descs))
	for _, d := range descs {
		srcs, err := d.Sources(fsys)
		if err != nil {
			return nil, &build.FilesystemError{Op: "list sources", Path: d.SourceDir(), Err: err}
		}
		infos = append(infos, extensionInfo{Name: d.Name, Root: d.Root, Requires: d.Requires, Sources: len(srcs)})
	}
	return infos, nil
}

func runScan(cmd *cobra.Command, args []string) error {
	root := "."
	if len(args) > 0 {
		root = args[0]
	}
	infos, err := scanExtensions(afero.NewOsFs(), root)
	if err != nil {
		return exitError(err)
	}
	out := cmd.OutOrStdout()
	if scanJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(infos)
	}
	if !isTerminal(out) {
		pterm.DisableStyling()
	}
	abs, _ := filepath.Abs(root)
	data := pterm.TableData{{"NAME", "SOURCES", "REQUIRES", "PATH"}}
	for _, info := range infos {
		rel, err := filepath.Rel(abs, info.Root)
		if err != nil {
			rel = info.Root
		}
		requires := info.Requires
		if requires == "" {
			requires = "-"
		}
		data = append(data, []string{info.Name, fmt.Sprint(info.Sources), requires, rel})
	}
	table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, table)
	return err
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && !noColor && isatty.IsTerminal(f.Fd())
}
