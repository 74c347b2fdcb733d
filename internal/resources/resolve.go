package resources

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	goruntime "runtime"
	"strings"
)

// ErrUnknownResource reports a logical helper name with no packaged executable.
var ErrUnknownResource = errors.New("unknown resource")

// ResolutionError reports that a packaged helper could not be located.
type ResolutionError struct {
	Name string
	Path string
	Err  error
}

func (e *ResolutionError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("resolve resource %s: %v", e.Name, e.Err)
	}
	return fmt.Sprintf("resolve resource %s (%s): %v", e.Name, e.Path, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// Resolver maps a logical helper name to an absolute executable path.
type Resolver interface {
	Resolve(name string) (string, error)
}

// DirResolver resolves helpers relative to a packaged resource directory.
type DirResolver struct {
	dir         string
	executables map[string]string
}

// NewDirResolver constructs a resolver rooted at dir. executables maps helper
// names to file names; relative entries are joined onto dir.
func NewDirResolver(dir string, executables map[string]string) *DirResolver {
	dup := make(map[string]string, len(executables))
	for k, v := range executables {
		dup[k] = v
	}
	return &DirResolver{dir: dir, executables: dup}
}

// Resolve looks the helper up on every call, so a binary replaced on disk is
// picked up by the next start.
func (r *DirResolver) Resolve(name string) (string, error) {
	rel, ok := r.executables[name]
	if !ok || strings.TrimSpace(rel) == "" {
		return "", &ResolutionError{Name: name, Err: ErrUnknownResource}
	}

	path := rel
	if !filepath.IsAbs(path) {
		path = filepath.Join(r.dir, path)
	}

	var lastErr error
	for _, candidate := range candidates(path) {
		info, err := os.Stat(candidate)
		if err != nil {
			lastErr = err
			continue
		}
		if info.IsDir() {
			lastErr = fmt.Errorf("%s is a directory", candidate)
			continue
		}
		abs, err := filepath.Abs(candidate)
		if err != nil {
			return "", &ResolutionError{Name: name, Path: candidate, Err: err}
		}
		return abs, nil
	}
	return "", &ResolutionError{Name: name, Path: path, Err: lastErr}
}

func candidates(path string) []string {
	if goruntime.GOOS == "windows" && filepath.Ext(path) == "" {
		return []string{path, path + ".exe"}
	}
	return []string{path}
}

// DefaultDir returns the resources directory that sits next to the running
// executable, which is where installers place packaged helpers.
func DefaultDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "resources"
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Join(filepath.Dir(exe), "resources")
}
