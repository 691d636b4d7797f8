package fs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// StatKind is the type of a directory entry on disk.
type StatKind int

const (
	// KindFile is a regular file.
	KindFile StatKind = iota + 1
	// KindDir is a directory.
	KindDir
	// KindLink is a symbolic link.
	KindLink
)

// String returns "file", "dir" or "link".
func (k StatKind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDir:
		return "dir"
	case KindLink:
		return "link"
	}
	return "unknown"
}

// Stat describes one entry of a directory listing. Path is relative to the
// filesystem root.
type Stat struct {
	Path       string
	Kind       StatKind
	Executable bool
}

// Name returns the last path component.
func (s Stat) Name() string {
	return path.Base(s.Path)
}

// DirectoryListing is the sorted content of one directory.
type DirectoryListing []Stat

// Lister lists directories. PosixFS implements it against disk; the engine
// implements it with memoized nodes so listings participate in invalidation.
type Lister interface {
	Scandir(ctx context.Context, dir string) (DirectoryListing, error)
}

// PosixFS reads a directory tree rooted at Root.
// Paths passed to its methods are relative to Root.
type PosixFS struct {
	Root   string
	Ignore []string
}

// NewPosixFS creates a PosixFS rooted at the absolute form of root.
func NewPosixFS(root string, ignore ...string) (*PosixFS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root %q: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %q is not a directory", abs)
	}
	for _, p := range ignore {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid ignore pattern %q", p)
		}
	}
	return &PosixFS{Root: abs, Ignore: ignore}, nil
}

// Abs converts a relative path to an absolute path under Root.
func (p *PosixFS) Abs(rel string) string {
	return filepath.Join(p.Root, filepath.FromSlash(rel))
}

// Rel converts an absolute path under Root to a relative slash path.
// Relative input is cleaned and returned.
func (p *PosixFS) Rel(abs string) (string, error) {
	if !filepath.IsAbs(abs) {
		return CleanRelative(filepath.ToSlash(abs))
	}
	rel, err := filepath.Rel(p.Root, abs)
	if err != nil {
		return "", err
	}
	return CleanRelative(filepath.ToSlash(rel))
}

// Ignored reports whether rel matches an ignore pattern. Patterns without a
// slash match any single component; others match the whole path.
func (p *PosixFS) Ignored(rel string) bool {
	for _, pattern := range p.Ignore {
		if strings.Contains(pattern, "/") {
			if ok, _ := doublestar.Match(pattern, rel); ok {
				return true
			}
			continue
		}
		for _, comp := range strings.Split(rel, "/") {
			if ok, _ := doublestar.Match(pattern, comp); ok {
				return true
			}
		}
	}
	return false
}

// Scandir lists dir without following symlinks. Ignored entries are omitted.
// A missing directory lists as empty.
func (p *PosixFS) Scandir(ctx context.Context, dir string) (DirectoryListing, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(p.Abs(dir))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return DirectoryListing{}, nil
		}
		return nil, fmt.Errorf("scandir %q: %w", dir, err)
	}

	out := make(DirectoryListing, 0, len(entries))
	for _, e := range entries {
		rel := path.Join(dir, e.Name())
		if p.Ignored(rel) {
			continue
		}
		st := Stat{Path: rel}
		switch {
		case e.Type()&fs.ModeSymlink != 0:
			st.Kind = KindLink
		case e.IsDir():
			st.Kind = KindDir
		case e.Type().IsRegular():
			st.Kind = KindFile
			info, err := e.Info()
			if err != nil {
				return nil, fmt.Errorf("stat %q: %w", rel, err)
			}
			st.Executable = info.Mode()&0o111 != 0
		default:
			// sockets, devices and pipes are not content
			continue
		}
		out = append(out, st)
	}
	slices.SortFunc(out, func(a, b Stat) int { return strings.Compare(a.Path, b.Path) })
	return out, nil
}

// ReadFile reads the file at rel.
func (p *PosixFS) ReadFile(ctx context.Context, rel string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p.Abs(rel))
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", rel, err)
	}
	return data, nil
}

// ReadLink returns the target of the symlink at rel.
func (p *PosixFS) ReadLink(ctx context.Context, rel string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	target, err := os.Readlink(p.Abs(rel))
	if err != nil {
		return "", fmt.Errorf("readlink %q: %w", rel, err)
	}
	return filepath.ToSlash(target), nil
}
