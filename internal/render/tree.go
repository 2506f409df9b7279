// Package render formats a viewer's Score tree for terminal presentation:
// box-drawn trees and Mermaid flowcharts, the CLI-facing counterpart of
// the RPC facade's get_identities_by_score (spec §6).
package render

import (
	"fmt"
	"strings"

	"github.com/hyphanet/wot/internal/graph"
)

// ScoreNode is one row of a rendered Score tree: a target identity shown
// under one of its trusters in the viewer's tree.
type ScoreNode struct {
	ID       string
	Nickname string
	Rank     int
	Capacity int
	Value    int
	ParentID string // the truster this node is shown under; "" or the viewer for a top-level node
}

// SignEmoji returns a one-glyph indicator for a Score's sign, mirroring the
// status-emoji convention the teacher uses for issue state.
func SignEmoji(value int) string {
	switch graph.SignOf(value) {
	case graph.SignPositive:
		return "✓"
	case graph.SignNegative:
		return "✗"
	default:
		return "○"
	}
}

// FormatNode renders a single ScoreNode line: id/nickname, value, rank,
// capacity, with a [ZEROED] badge when capacity has been pinned to 0 by a
// negative direct trust (spec §4.3 tie-break).
func FormatNode(n *ScoreNode, styleFunc func(int, string) string, warnFunc func(string) string) string {
	label := n.ID
	if n.Nickname != "" {
		label = fmt.Sprintf("%s (%s)", n.ID, n.Nickname)
	}
	idStr := styleFunc(n.Value, label)
	line := fmt.Sprintf("%s %s: value=%d rank=%d capacity=%d", SignEmoji(n.Value), idStr, n.Value, n.Rank, n.Capacity)
	if n.Capacity == 0 && n.Rank > 0 {
		line += " " + warnFunc("[ZEROED]")
	}
	return line
}

// TreeRenderer draws a Score tree with box-drawing connectors, one parent
// per target (whichever ParentID the caller set), matching the
// teacher's dependency-tree renderer but rooted at a viewer rather than an
// issue.
type TreeRenderer struct {
	seen             map[string]bool
	activeConnectors []bool
	maxDepth         int

	StyleFunc func(value int, s string) string
	WarnFunc  func(string) string
}

// NewTreeRenderer creates a renderer bounded to maxDepth levels.
func NewTreeRenderer(maxDepth int) *TreeRenderer {
	return &TreeRenderer{
		seen:             make(map[string]bool),
		activeConnectors: make([]bool, maxDepth+1),
		maxDepth:         maxDepth,
		StyleFunc:        func(_ int, s string) string { return s },
		WarnFunc:         func(s string) string { return s },
	}
}

// RenderTree renders the viewer (implicit root) and every node below it
// grouped by ParentID, writing one line per node to out.
func (r *TreeRenderer) RenderTree(viewerLabel string, nodes []*ScoreNode, out func(string)) {
	out(viewerLabel)

	children := make(map[string][]*ScoreNode)
	var roots []*ScoreNode
	for _, n := range nodes {
		if n.ParentID == "" || n.ParentID == viewerLabel {
			roots = append(roots, n)
		} else {
			children[n.ParentID] = append(children[n.ParentID], n)
		}
	}

	for i, root := range roots {
		r.renderNode(root, children, 1, i == len(roots)-1, out)
	}
}

func (r *TreeRenderer) renderNode(n *ScoreNode, children map[string][]*ScoreNode, depth int, isLast bool, out func(string)) {
	var prefix strings.Builder
	for i := 1; i < depth; i++ {
		if i < len(r.activeConnectors) && r.activeConnectors[i] {
			prefix.WriteString("│   ")
		} else {
			prefix.WriteString("    ")
		}
	}
	if isLast {
		prefix.WriteString("└── ")
	} else {
		prefix.WriteString("├── ")
	}

	if r.seen[n.ID] {
		out(prefix.String() + r.WarnFunc(n.ID+" (shown above)"))
		return
	}
	r.seen[n.ID] = true

	line := prefix.String() + FormatNode(n, r.StyleFunc, r.WarnFunc)
	if depth == r.maxDepth && len(children[n.ID]) > 0 {
		line += r.WarnFunc(" …")
	}
	out(line)

	if depth >= r.maxDepth {
		return
	}
	kids := children[n.ID]
	for i, k := range kids {
		if depth < len(r.activeConnectors) {
			r.activeConnectors[depth] = i < len(kids)-1
		}
		r.renderNode(k, children, depth+1, i == len(kids)-1, out)
	}
}

// OutputMermaidFlowchart renders a Score tree as a Mermaid flowchart,
// for pasting into documentation or a web UI.
func OutputMermaidFlowchart(viewerLabel string, nodes []*ScoreNode, out func(string)) {
	out("flowchart TD")
	seen := map[string]bool{viewerLabel: true}
	out(fmt.Sprintf("  %s[\"%s\"]", safeMermaidID(viewerLabel), escapeMermaidLabel(viewerLabel)))
	for _, n := range nodes {
		if !seen[n.ID] {
			var label string
			if n.Nickname != "" {
				label = fmt.Sprintf("%s: %s (%d)", n.ID, n.Nickname, n.Value)
			} else {
				label = fmt.Sprintf("%s (%d)", n.ID, n.Value)
			}
			out(fmt.Sprintf("  %s[\"%s\"]", safeMermaidID(n.ID), escapeMermaidLabel(label)))
			seen[n.ID] = true
		}
	}
	out("")
	for _, n := range nodes {
		parent := n.ParentID
		if parent == "" {
			parent = viewerLabel
		}
		out(fmt.Sprintf("  %s --> %s", safeMermaidID(parent), safeMermaidID(n.ID)))
	}
}

func escapeMermaidLabel(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\"", "\\\"")
	return s
}

func safeMermaidID(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}
