package rules

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
)

// Visualize writes the graph in Graphviz DOT format. Output is
// deterministic for a given graph: queries are sorted by type name and
// entries appear in ID order.
func (g *RuleGraph) Visualize(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "digraph rules {")
	fmt.Fprintln(bw, "  rankdir=LR;")
	fmt.Fprintln(bw, "  node [shape=box];")

	for i, q := range g.Queries() {
		fmt.Fprintf(bw, "  q%d [label=%s, shape=ellipse];\n", i, strconv.Quote(q.String()))
		fmt.Fprintf(bw, "  q%d -> e%d;\n", i, g.queries[q].ID)
	}

	for _, e := range g.entries {
		attrs := ""
		switch e.Kind {
		case EntryParam:
			attrs = ", shape=plaintext"
		case EntrySingleton:
			attrs = ", style=dashed"
		case EntryRule:
			if e.CycleTolerant() {
				attrs = ", style=bold"
			}
		}
		fmt.Fprintf(bw, "  e%d [label=%s%s];\n", e.ID, strconv.Quote(e.String()), attrs)
	}

	for _, e := range g.entries {
		for _, dep := range e.Selectors {
			fmt.Fprintf(bw, "  e%d -> e%d;\n", e.ID, dep.ID)
		}
		for _, spec := range e.getSpecs() {
			fmt.Fprintf(bw, "  e%d -> e%d [style=dotted, label=%s];\n",
				e.ID, e.gets[spec].ID, strconv.Quote(spec.String()))
		}
	}

	fmt.Fprintln(bw, "}")
	return bw.Flush()
}
