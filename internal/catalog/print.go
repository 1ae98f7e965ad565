package catalog

import (
	"strings"

	"github.com/hepmr/hepmr/internal/common/util"
)

// PrintTree renders the given nodes as an indented table with the type and file count of every node.
// Leaves reached through a reference are marked with "->" and the key of the original definition.
func PrintTree(nodes ...Node) string {
	w := util.NewTableBuilder()
	w.WriteRow("SAMPLE", "TYPE", "FILES", "TITLE")
	for _, node := range nodes {
		printNode(w, node, node.Path(), 0)
	}
	return w.String()
}

func printNode(w *util.TabbedStringBuilder, node Node, path Path, depth int) {
	name := strings.Repeat("  ", depth) + node.Name()
	if len(path) > 0 && node.Path().String() != path.String() {
		name += " -> " + node.Key()
	}
	if node.Hidden() {
		name += " (hidden)"
	}
	switch n := node.(type) {
	case *Sample:
		w.WriteRow(name, n.Type(), n.Len(), n.Title())
	case *SampleGroup:
		w.WriteRow(name, n.Type(), countFiles(Leaves(n)), n.Title())
		for _, child := range n.Children() {
			printNode(w, child, path.Child(child.Name()), depth+1)
		}
	}
}

func countFiles(samples []*Sample) int {
	n := 0
	for _, s := range samples {
		n += s.Len()
	}
	return n
}
