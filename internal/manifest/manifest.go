// Package manifest discovers native extensions below a source root.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"
)

// FileName is the name of the file that marks a directory as an extension.
const FileName = "ext.manifest"

// Descriptor describes one extension found on disk.
type Descriptor struct {
	// Name is the extension's registration symbol.
	Name string `yaml:"name"`
	// Requires is the minimum engine SDK version, if any.
	Requires string `yaml:"requires"`

	// ManifestPath is the absolute path of the manifest file.
	ManifestPath string `yaml:"-"`
	// Root is the directory holding the manifest.
	Root string `yaml:"-"`
}

// SourceDir returns <root>/src.
func (d *Descriptor) SourceDir() string { return filepath.Join(d.Root, "src") }

// IncludeDir returns <root>/include.
func (d *Descriptor) IncludeDir() string { return filepath.Join(d.Root, "include") }

// Sources lists every regular file below the source directory, in lexical
// walk order. All files are compilable units whatever their extension.
// A missing source directory yields no sources.
func (d *Descriptor) Sources(fs afero.Fs) ([]string, error) {
	dir := d.SourceDir()
	info, err := fs.Stat(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, nil
	}
	var srcs []string
	err = afero.Walk(fs, dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			srcs = append(srcs, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return srcs, nil
}

// CheckSDK verifies that sdk satisfies the extension's minimum SDK version.
// Both versions are semantic versions; a leading "v" is optional.
// Nothing is checked when either side is unset.
func (d *Descriptor) CheckSDK(sdk string) error {
	if d.Requires == "" || sdk == "" {
		return nil
	}
	req := canonical(d.Requires)
	if !semver.IsValid(req) {
		return &DecodeError{Path: d.ManifestPath, Err: fmt.Errorf("invalid requires version %q", d.Requires)}
	}
	have := canonical(sdk)
	if !semver.IsValid(have) {
		return fmt.Errorf("invalid sdk version %q", sdk)
	}
	if semver.Compare(have, req) < 0 {
		return fmt.Errorf("extension %s requires sdk %s, have %s", d.Name, d.Requires, sdk)
	}
	return nil
}

func canonical(v string) string {
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}

// DecodeError reports a manifest that could not be decoded.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("manifest %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Decode parses manifest data read from path. Unknown fields are ignored.
func Decode(data []byte, path string) (*Descriptor, error) {
	var d Descriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}
	if d.Name == "" {
		return nil, &DecodeError{Path: path, Err: fmt.Errorf("missing name")}
	}
	d.ManifestPath = path
	d.Root = filepath.Dir(path)
	return &d, nil
}

// Scanner finds extension manifests.
type Scanner struct {
	fs     afero.Fs
	logger logrus.FieldLogger
}

// NewScanner returns a Scanner reading from fs.
func NewScanner(fs afero.Fs, logger logrus.FieldLogger) *Scanner {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Scanner{fs: fs, logger: logger}
}

// Scan walks root recursively and decodes every file named FileName.
// Directories are visited in lexical order so the result, and everything
// generated from it, is stable across runs.
func (s *Scanner) Scan(root string) ([]*Descriptor, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	var ret []*Descriptor
	err = afero.Walk(s.fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || info.Name() != FileName {
			return nil
		}
		data, err := afero.ReadFile(s.fs, path)
		if err != nil {
			return err
		}
		d, err := Decode(data, path)
		if err != nil {
			return err
		}
		s.logger.WithFields(logrus.Fields{"extension": d.Name, "manifest": path}).Debug("found extension")
		ret = append(ret, d)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}
