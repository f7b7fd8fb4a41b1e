// Package fileapi exposes the files of a dapp to the dashboard. Every
// operation is confined to a sandbox root: a path is accepted only when
// the directory containing it is the root or lies below it.
package fileapi

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// ErrPathInvalid is returned for any path outside the sandbox, and for a
// delete of a path that does not exist.
var ErrPathInvalid = errors.New("path is invalid")

// Sandbox resolves caller supplied paths against a root directory.
type Sandbox struct {
	root string
}

// NewSandbox creates a sandbox rooted at root.
func NewSandbox(root string) (*Sandbox, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	return &Sandbox{root: filepath.Clean(abs)}, nil
}

// Root returns the sandbox root.
func (s *Sandbox) Root() string {
	return s.root
}

// Resolve returns the absolute form of p. Relative paths are taken from
// the root. When mustExist is set, a missing path is rejected too.
func (s *Sandbox) Resolve(p string, mustExist bool) (string, error) {
	if p == "" {
		return "", ErrPathInvalid
	}
	abs := p
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(s.root, abs)
	}
	abs = filepath.Clean(abs)

	if !within(s.root, filepath.Dir(abs)) {
		return "", ErrPathInvalid
	}

	// Symbolic links must not lead out of the root either.
	realRoot := evalExisting(s.root)
	if !within(realRoot, evalExisting(filepath.Dir(abs))) {
		return "", ErrPathInvalid
	}
	info, err := os.Lstat(abs)
	switch {
	case err != nil && mustExist:
		return "", ErrPathInvalid
	case err == nil && info.Mode()&os.ModeSymlink != 0:
		target, err := filepath.EvalSymlinks(abs)
		if err != nil || !within(realRoot, filepath.Dir(target)) {
			return "", ErrPathInvalid
		}
	}
	return abs, nil
}

// within compares whole path components, so /dapp2 is not below /dapp.
func within(root, dir string) bool {
	rel, err := filepath.Rel(root, dir)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// evalExisting resolves the symbolic links of the longest existing prefix
// of p and appends the rest unchanged.
func evalExisting(p string) string {
	var rest []string
	for {
		if resolved, err := filepath.EvalSymlinks(p); err == nil {
			return filepath.Join(append([]string{resolved}, rest...)...)
		}
		parent := filepath.Dir(p)
		if parent == p {
			return filepath.Join(append([]string{p}, rest...)...)
		}
		rest = append([]string{filepath.Base(p)}, rest...)
		p = parent
	}
}
