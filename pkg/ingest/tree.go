package ingest

import (
	"fmt"
	"strings"
)

// NodeKind enumerates the document tree node kinds.
type NodeKind string

const (
	NodeDocument         NodeKind = "document"
	NodeSection          NodeKind = "section"
	NodeParagraph        NodeKind = "paragraph"
	NodeTable            NodeKind = "table"
	NodeImageDescription NodeKind = "image_description"
)

// Node is one entry in the tree arena. Parent and Children are indices
// into Tree.Nodes; the root document node sits at index 0 with
// Parent = -1.
type Node struct {
	Kind          NodeKind
	Title         string // sections only
	Role          string // optional, "title" on the document title section
	Depth         int
	Content       string
	Page          int
	HierarchyPath []string
	Parent        int
	Children      []int
}

// Tree is the immutable document structure built once per job. Nodes
// are stored in document order, so an index walk is a pre-order walk.
type Tree struct {
	Nodes []Node
}

// Root returns the document node.
func (t *Tree) Root() *Node {
	return &t.Nodes[0]
}

// Leaves returns the indices of content-bearing nodes (paragraphs,
// tables, image descriptions) in document order.
func (t *Tree) Leaves() []int {
	var leaves []int
	for i, n := range t.Nodes {
		switch n.Kind {
		case NodeParagraph, NodeTable, NodeImageDescription:
			if strings.TrimSpace(n.Content) != "" {
				leaves = append(leaves, i)
			}
		}
	}
	return leaves
}

// Sections returns the indices of the root's direct child sections in
// document order.
func (t *Tree) Sections() []int {
	var sections []int
	for _, child := range t.Nodes[0].Children {
		if t.Nodes[child].Kind == NodeSection {
			sections = append(sections, child)
		}
	}
	return sections
}

// SectionText returns the concatenated content of every leaf under the
// section at index idx, in document order.
func (t *Tree) SectionText(idx int) string {
	var parts []string
	t.walk(idx, func(n *Node) {
		if n.Kind == NodeParagraph || n.Kind == NodeTable || n.Kind == NodeImageDescription {
			if text := strings.TrimSpace(n.Content); text != "" {
				parts = append(parts, text)
			}
		}
	})
	return strings.Join(parts, "\n\n")
}

// FullText returns the whole document content in document order.
func (t *Tree) FullText() string {
	return t.SectionText(0)
}

// Title returns the document title: the first section with role
// "title", else the first section title, else empty.
func (t *Tree) Title() string {
	first := ""
	for _, n := range t.Nodes {
		if n.Kind != NodeSection {
			continue
		}
		if n.Role == RoleTitle {
			return n.Title
		}
		if first == "" {
			first = n.Title
		}
	}
	return first
}

func (t *Tree) walk(idx int, fn func(*Node)) {
	fn(&t.Nodes[idx])
	for _, child := range t.Nodes[idx].Children {
		t.walk(child, fn)
	}
}

// BuildTree merges extractor output and image descriptions into a
// document tree. descriptions maps an image's Position to its
// vision-produced caption; images without a description are skipped.
func BuildTree(result *ExtractResult, descriptions map[int]string) *Tree {
	tree := &Tree{Nodes: []Node{{Kind: NodeDocument, Parent: -1}}}

	// Section stack: indices of currently open sections, shallowest
	// first. Headings pop open sections of equal or greater depth.
	var stack []int

	currentParent := func() int {
		if len(stack) == 0 {
			return 0
		}
		return stack[len(stack)-1]
	}

	pathFor := func(parent int) []string {
		p := &tree.Nodes[parent]
		if p.Kind != NodeSection {
			return nil
		}
		path := make([]string, 0, len(p.HierarchyPath)+1)
		path = append(path, p.HierarchyPath...)
		return append(path, p.Title)
	}

	addNode := func(n Node) int {
		idx := len(tree.Nodes)
		n.Parent = currentParent()
		n.HierarchyPath = pathFor(n.Parent)
		tree.Nodes = append(tree.Nodes, n)
		tree.Nodes[n.Parent].Children = append(tree.Nodes[n.Parent].Children, idx)
		return idx
	}

	type item struct {
		position int
		node     Node
		section  bool
		depth    int
	}
	items := make([]item, 0, len(result.Blocks)+len(result.Tables)+len(result.Images))

	for _, b := range result.Blocks {
		text := strings.TrimSpace(b.Text)
		if text == "" {
			continue
		}
		switch b.Role {
		case RoleHeading, RoleTitle:
			depth := b.Depth
			if depth <= 0 {
				depth = 1
			}
			role := ""
			if b.Role == RoleTitle {
				role = RoleTitle
			}
			items = append(items, item{
				position: b.Position,
				node:     Node{Kind: NodeSection, Title: text, Role: role, Depth: depth, Page: b.Page},
				section:  true,
				depth:    depth,
			})
		default:
			items = append(items, item{
				position: b.Position,
				node:     Node{Kind: NodeParagraph, Content: text, Page: b.Page},
			})
		}
	}
	for _, tbl := range result.Tables {
		items = append(items, item{
			position: tbl.Position,
			node:     Node{Kind: NodeTable, Content: serializeTable(tbl.Rows), Page: tbl.Page},
		})
	}
	for _, img := range result.Images {
		caption, ok := descriptions[img.Position]
		if !ok || strings.TrimSpace(caption) == "" {
			continue
		}
		items = append(items, item{
			position: img.Position,
			node:     Node{Kind: NodeImageDescription, Content: strings.TrimSpace(caption), Page: img.Page},
		})
	}

	// Stable insertion-order sort by reading position.
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && items[j].position < items[j-1].position; j-- {
			items[j], items[j-1] = items[j-1], items[j]
		}
	}

	for _, it := range items {
		if it.section {
			for len(stack) > 0 && tree.Nodes[stack[len(stack)-1]].Depth >= it.depth {
				stack = stack[:len(stack)-1]
			}
			idx := addNode(it.node)
			stack = append(stack, idx)
			continue
		}
		addNode(it.node)
	}

	return tree
}

// serializeTable renders rows as pipe-separated positional text.
func serializeTable(rows [][]string) string {
	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		cells := make([]string, len(row))
		for i, cell := range row {
			cells[i] = strings.TrimSpace(cell)
		}
		lines = append(lines, strings.Join(cells, " | "))
	}
	return strings.Join(lines, "\n")
}

// Describe renders a compact one-line-per-node dump for debugging.
func (t *Tree) Describe() string {
	var b strings.Builder
	for i, n := range t.Nodes {
		label := n.Title
		if label == "" {
			label = n.Content
		}
		if len(label) > 40 {
			label = label[:40]
		}
		fmt.Fprintf(&b, "%d\t%s\tdepth=%d\tpath=%v\t%s\n", i, n.Kind, n.Depth, n.HierarchyPath, label)
	}
	return b.String()
}
