package fs

import (
	"fmt"
	"path"
	"slices"
	"strings"
)

// ConflictError reports two incompatible entries at one path.
type ConflictError struct {
	Path   string
	Reason string
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflicting entries at %q: %s", e.Path, e.Reason)
}

type treeNode struct {
	files map[string]FileNode
	links map[string]SymlinkNode
	dirs  map[string]*treeNode
}

func newTreeNode() *treeNode {
	return &treeNode{
		files: make(map[string]FileNode),
		links: make(map[string]SymlinkNode),
		dirs:  make(map[string]*treeNode),
	}
}

// TreeBuilder assembles a directory tree from flat relative paths and
// produces the Directory for every level.
//
// Adding the same entry twice is allowed; adding a different entry at a path
// that is already taken returns *ConflictError.
type TreeBuilder struct {
	root *treeNode
}

// NewTreeBuilder creates an empty builder.
func NewTreeBuilder() *TreeBuilder {
	return &TreeBuilder{root: newTreeNode()}
}

// AddFile adds a file at the relative path p.
func (b *TreeBuilder) AddFile(p string, digest Digest, executable bool) error {
	parent, name, err := b.parentOf(p)
	if err != nil {
		return err
	}
	if existing, ok := parent.files[name]; ok {
		if existing.Digest != digest || existing.Executable != executable {
			return &ConflictError{Path: p, Reason: "different file contents"}
		}
		return nil
	}
	if err := parent.free(p, name); err != nil {
		return err
	}
	parent.files[name] = FileNode{Name: name, Digest: digest, Executable: executable}
	return nil
}

// AddSymlink adds a symlink at the relative path p.
func (b *TreeBuilder) AddSymlink(p, target string) error {
	parent, name, err := b.parentOf(p)
	if err != nil {
		return err
	}
	if existing, ok := parent.links[name]; ok {
		if existing.Target != target {
			return &ConflictError{Path: p, Reason: "different symlink targets"}
		}
		return nil
	}
	if err := parent.free(p, name); err != nil {
		return err
	}
	parent.links[name] = SymlinkNode{Name: name, Target: target}
	return nil
}

// AddDir ensures a (possibly empty) directory exists at p.
func (b *TreeBuilder) AddDir(p string) error {
	_, err := b.dirAt(p)
	return err
}

func (b *TreeBuilder) parentOf(p string) (*treeNode, string, error) {
	p, err := CleanRelative(p)
	if err != nil {
		return nil, "", err
	}
	if p == "" {
		return nil, "", fmt.Errorf("%w: empty path", ErrInvalidName)
	}
	dir, name := path.Split(p)
	parent, err := b.dirAt(strings.TrimSuffix(dir, "/"))
	if err != nil {
		return nil, "", err
	}
	return parent, name, nil
}

func (b *TreeBuilder) dirAt(p string) (*treeNode, error) {
	p, err := CleanRelative(p)
	if err != nil {
		return nil, err
	}
	n := b.root
	if p == "" {
		return n, nil
	}
	walked := ""
	for _, comp := range strings.Split(p, "/") {
		walked = path.Join(walked, comp)
		next, ok := n.dirs[comp]
		if !ok {
			if err := n.free(walked, comp); err != nil {
				return nil, err
			}
			next = newTreeNode()
			n.dirs[comp] = next
		}
		n = next
	}
	return n, nil
}

func (n *treeNode) free(p, name string) error {
	if _, ok := n.files[name]; ok {
		return &ConflictError{Path: p, Reason: "path is already a file"}
	}
	if _, ok := n.links[name]; ok {
		return &ConflictError{Path: p, Reason: "path is already a symlink"}
	}
	if _, ok := n.dirs[name]; ok {
		return &ConflictError{Path: p, Reason: "path is already a directory"}
	}
	return nil
}

// Build encodes every level of the tree bottom-up. It returns the root
// digest and each encoded directory keyed by digest.
func (b *TreeBuilder) Build() (Digest, map[Digest]*Directory, error) {
	out := make(map[Digest]*Directory)
	root, err := b.root.build(out)
	return root, out, err
}

func (n *treeNode) build(out map[Digest]*Directory) (Digest, error) {
	d := &Directory{}
	for _, name := range sortedKeys(n.dirs) {
		sub, err := n.dirs[name].build(out)
		if err != nil {
			return Digest{}, err
		}
		d.Dirs = append(d.Dirs, DirNode{Name: name, Digest: sub})
	}
	for _, name := range sortedKeys(n.files) {
		d.Files = append(d.Files, n.files[name])
	}
	for _, name := range sortedKeys(n.links) {
		d.Symlinks = append(d.Symlinks, n.links[name])
	}
	digest, _, err := d.Encode()
	if err != nil {
		return Digest{}, err
	}
	out[digest] = d
	return digest, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// CleanRelative cleans p and rejects absolute paths and paths escaping the
// root. The root itself is returned as "".
func CleanRelative(p string) (string, error) {
	if strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("%w: absolute path %q", ErrInvalidName, p)
	}
	c := path.Clean(p)
	if c == "." {
		return "", nil
	}
	if c == ".." || strings.HasPrefix(c, "../") {
		return "", fmt.Errorf("%w: %q escapes the root", ErrInvalidName, p)
	}
	return c, nil
}

// Parents returns every proper ancestor directory of p, nearest first,
// ending with the root "".
func Parents(p string) []string {
	var out []string
	for p != "" {
		p = path.Dir(p)
		if p == "." {
			p = ""
		}
		out = append(out, p)
	}
	return out
}
