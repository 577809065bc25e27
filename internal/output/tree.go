package output

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/maxvaer/pathhunter/internal/scanner"
)

type treeNode struct {
	name     string
	children []*treeNode
}

func (n *treeNode) findOrCreate(name string) *treeNode {
	for _, c := range n.children {
		if c.name == name {
			return c
		}
	}
	child := &treeNode{name: name}
	n.children = append(n.children, child)
	return child
}

// PrintTree renders the paths of plain (non-fuzz) findings as a tree rooted
// at target. Encoded variants appear as they were sent.
func PrintTree(w io.Writer, target string, findings []scanner.Finding) {
	var paths []string
	for _, f := range findings {
		if f.Candidate.Fuzz {
			continue
		}
		if p := strings.Trim(f.Path, "/"); p != "" {
			paths = append(paths, p)
		}
	}
	if len(paths) == 0 {
		return
	}
	slices.Sort(paths)
	paths = slices.Compact(paths)

	root := &treeNode{name: target}
	for _, p := range paths {
		node := root
		for _, part := range strings.Split(p, "/") {
			node = node.findOrCreate(part)
		}
	}

	fmt.Fprintf(w, "\n  %s\n", root.name)
	printChildren(w, root, "  ")
}

func printChildren(w io.Writer, node *treeNode, prefix string) {
	for i, child := range node.children {
		isLast := i == len(node.children)-1
		connector := "├── "
		nextPrefix := prefix + "│   "
		if isLast {
			connector = "└── "
			nextPrefix = prefix + "    "
		}
		fmt.Fprintf(w, "%s%s%s\n", prefix, connector, child.name)
		printChildren(w, child, nextPrefix)
	}
}
