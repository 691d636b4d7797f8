package fs

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/strata/internal/canonical"
)

// FileNode is a file entry in a Directory.
type FileNode struct {
	Name       string
	Digest     Digest
	Executable bool
}

// DirNode is a subdirectory entry in a Directory.
type DirNode struct {
	Name   string
	Digest Digest
}

// SymlinkNode is a symbolic link entry in a Directory. Links are recorded,
// never followed.
type SymlinkNode struct {
	Name   string
	Target string
}

// Directory is one level of a content-addressed tree.
//
// Entries are kept sorted by name within each list and names are unique
// across all three lists. Use Normalize before encoding a Directory that was
// assembled by hand.
type Directory struct {
	Files    []FileNode
	Dirs     []DirNode
	Symlinks []SymlinkNode
}

// ErrInvalidName is returned for entry names that are not a single path
// component.
var ErrInvalidName = errors.New("invalid directory entry name")

// Normalize NFC-normalizes and sorts entry names, rejecting invalid or
// duplicate names.
func (d *Directory) Normalize() error {
	seen := make(map[string]struct{}, len(d.Files)+len(d.Dirs)+len(d.Symlinks))
	check := func(name string) (string, error) {
		name = norm.NFC.String(name)
		if err := ValidateName(name); err != nil {
			return "", err
		}
		if _, dup := seen[name]; dup {
			return "", fmt.Errorf("duplicate directory entry %q", name)
		}
		seen[name] = struct{}{}
		return name, nil
	}

	var err error
	for i := range d.Files {
		if d.Files[i].Name, err = check(d.Files[i].Name); err != nil {
			return err
		}
	}
	for i := range d.Dirs {
		if d.Dirs[i].Name, err = check(d.Dirs[i].Name); err != nil {
			return err
		}
	}
	for i := range d.Symlinks {
		if d.Symlinks[i].Name, err = check(d.Symlinks[i].Name); err != nil {
			return err
		}
	}

	slices.SortFunc(d.Files, func(a, b FileNode) int { return strings.Compare(a.Name, b.Name) })
	slices.SortFunc(d.Dirs, func(a, b DirNode) int { return strings.Compare(a.Name, b.Name) })
	slices.SortFunc(d.Symlinks, func(a, b SymlinkNode) int { return strings.Compare(a.Name, b.Name) })
	return nil
}

// ValidateName checks that name is a single, non-special path component.
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\x00") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// IsEmpty reports whether the directory has no entries.
func (d *Directory) IsEmpty() bool {
	return len(d.Files) == 0 && len(d.Dirs) == 0 && len(d.Symlinks) == 0
}

// Encode normalizes d and returns its digest and canonical bytes.
//
// Canonical form:
//
//	{"dirs":[{"digest":..,"name":..,"size":..}],
//	 "files":[{"digest":..,"executable":true,"name":..,"size":..}],
//	 "symlinks":[{"name":..,"target":..}]}
//
// "executable" is present only when true.
func (d *Directory) Encode() (Digest, []byte, error) {
	if err := d.Normalize(); err != nil {
		return Digest{}, nil, err
	}

	files := make(canonical.Array, len(d.Files))
	for i, f := range d.Files {
		obj := canonical.Object{
			"name":   canonical.String(f.Name),
			"digest": canonical.String(f.Digest.Hex()),
			"size":   canonical.Int(f.Digest.Size),
		}
		if f.Executable {
			obj["executable"] = canonical.Bool(true)
		}
		files[i] = obj
	}
	dirs := make(canonical.Array, len(d.Dirs))
	for i, sub := range d.Dirs {
		dirs[i] = canonical.Object{
			"name":   canonical.String(sub.Name),
			"digest": canonical.String(sub.Digest.Hex()),
			"size":   canonical.Int(sub.Digest.Size),
		}
	}
	links := make(canonical.Array, len(d.Symlinks))
	for i, l := range d.Symlinks {
		links[i] = canonical.Object{
			"name":   canonical.String(l.Name),
			"target": canonical.String(l.Target),
		}
	}

	data, err := canonical.Marshal(canonical.Object{
		"files":    files,
		"dirs":     dirs,
		"symlinks": links,
	})
	if err != nil {
		return Digest{}, nil, fmt.Errorf("encode directory: %w", err)
	}
	return DigestOf(data), data, nil
}

// Digest returns the directory's digest.
func (d *Directory) Digest() (Digest, error) {
	digest, _, err := d.Encode()
	return digest, err
}

type wireEntry struct {
	Name       string `json:"name"`
	Digest     string `json:"digest"`
	Size       int64  `json:"size"`
	Executable bool   `json:"executable"`
	Target     string `json:"target"`
}

type wireDirectory struct {
	Files    []wireEntry `json:"files"`
	Dirs     []wireEntry `json:"dirs"`
	Symlinks []wireEntry `json:"symlinks"`
}

// DecodeDirectory parses canonical bytes produced by Encode.
func DecodeDirectory(data []byte) (*Directory, error) {
	var w wireDirectory
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode directory: %w", err)
	}

	d := &Directory{
		Files:    make([]FileNode, 0, len(w.Files)),
		Dirs:     make([]DirNode, 0, len(w.Dirs)),
		Symlinks: make([]SymlinkNode, 0, len(w.Symlinks)),
	}
	for _, e := range w.Files {
		digest, err := NewDigest(e.Digest, fmt.Sprint(e.Size))
		if err != nil {
			return nil, fmt.Errorf("decode directory file %q: %w", e.Name, err)
		}
		d.Files = append(d.Files, FileNode{Name: e.Name, Digest: digest, Executable: e.Executable})
	}
	for _, e := range w.Dirs {
		digest, err := NewDigest(e.Digest, fmt.Sprint(e.Size))
		if err != nil {
			return nil, fmt.Errorf("decode directory dir %q: %w", e.Name, err)
		}
		d.Dirs = append(d.Dirs, DirNode{Name: e.Name, Digest: digest})
	}
	for _, e := range w.Symlinks {
		d.Symlinks = append(d.Symlinks, SymlinkNode{Name: e.Name, Target: e.Target})
	}
	if err := d.Normalize(); err != nil {
		return nil, fmt.Errorf("decode directory: %w", err)
	}
	return d, nil
}

// File returns the file entry named name.
func (d *Directory) File(name string) (FileNode, bool) {
	for _, f := range d.Files {
		if f.Name == name {
			return f, true
		}
	}
	return FileNode{}, false
}

// Dir returns the subdirectory entry named name.
func (d *Directory) Dir(name string) (DirNode, bool) {
	for _, sub := range d.Dirs {
		if sub.Name == name {
			return sub, true
		}
	}
	return DirNode{}, false
}

// Symlink returns the symlink entry named name.
func (d *Directory) Symlink(name string) (SymlinkNode, bool) {
	for _, l := range d.Symlinks {
		if l.Name == name {
			return l, true
		}
	}
	return SymlinkNode{}, false
}
