package engine

import (
	"fmt"

	"github.com/roach88/strata/internal/graph"
	"github.com/roach88/strata/internal/intern"
	"github.com/roach88/strata/internal/rules"
)

// Select is a root request: the product of Query for an interned subject.
type Select struct {
	Query   rules.Query
	Subject intern.Key
}

// String implements graph.Node.
func (s Select) String() string {
	return fmt.Sprintf("Select(%s for %s)", s.Query.Product, s.Subject)
}

// CycleTolerant implements graph.Node.
func (s Select) CycleTolerant() bool {
	return false
}

// Task runs one rule entry for one subject.
type Task struct {
	Entry   *rules.Entry
	Subject intern.Key
}

// String implements graph.Node.
func (t Task) String() string {
	return fmt.Sprintf("%s(%s)", t.Entry.Rule.Name, t.Subject)
}

// CycleTolerant implements graph.Node.
func (t Task) CycleTolerant() bool {
	return t.Entry.CycleTolerant()
}

// Scandir lists a directory relative to the build root.
type Scandir struct {
	Dir string
}

// String implements graph.Node.
func (s Scandir) String() string {
	return fmt.Sprintf("Scandir(%q)", s.Dir)
}

// CycleTolerant implements graph.Node.
func (Scandir) CycleTolerant() bool { return false }

// FSPath implements FSNode.
func (s Scandir) FSPath() string { return s.Dir }

// DigestFile stores a file's content and yields its digest.
type DigestFile struct {
	Path string
}

// String implements graph.Node.
func (d DigestFile) String() string {
	return fmt.Sprintf("DigestFile(%q)", d.Path)
}

// CycleTolerant implements graph.Node.
func (DigestFile) CycleTolerant() bool { return false }

// FSPath implements FSNode.
func (d DigestFile) FSPath() string { return d.Path }

// ReadLink reads a symlink target.
type ReadLink struct {
	Path string
}

// String implements graph.Node.
func (r ReadLink) String() string {
	return fmt.Sprintf("ReadLink(%q)", r.Path)
}

// CycleTolerant implements graph.Node.
func (ReadLink) CycleTolerant() bool { return false }

// FSPath implements FSNode.
func (r ReadLink) FSPath() string { return r.Path }

// FSNode is a node that reads one path under the build root. Invalidation
// matches paths against FSPath.
type FSNode interface {
	graph.Node
	FSPath() string
}

// nodeKind labels metrics and workunits.
func nodeKind(n graph.Node) string {
	switch n.(type) {
	case Select:
		return "select"
	case Task:
		return "task"
	case Scandir:
		return "scandir"
	case DigestFile:
		return "digest_file"
	case ReadLink:
		return "read_link"
	}
	return "unknown"
}
