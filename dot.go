package yaetl

import (
	"bytes"
	"fmt"
	"io"

	"github.com/emicklei/dot"
)

// WriteDot renders the node graph as Graphviz DOT source: one node per
// composed node in traversal order, a branch rendered as a labeled
// subgraph cluster, and a join's upstream dependency drawn as a dashed
// edge.
func (f *Flow) WriteDot(w io.Writer) error {
	dg := dot.NewGraph(dot.Directed)
	dg.Attr("label", string(f.id))
	f.buildDot(dg, nil)
	_, err := w.Write([]byte(dg.String()))
	return err
}

// DOT is a convenience wrapper around WriteDot returning the rendered
// source directly.
func (f *Flow) DOT() (string, error) {
	var buf bytes.Buffer
	if err := f.WriteDot(&buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (f *Flow) buildDot(dg *dot.Graph, prev *dot.Node) {
	byID := make(map[NodeID]dot.Node, len(f.nodes))

	for _, n := range f.nodes {
		label := fmt.Sprintf("%s\n%s", kindLabel(n.kind), n.id)
		cur := dg.Node(string(n.id)).Label(label)

		switch n.kind {
		case kindExtractor:
			cur.Attr("shape", "cylinder")
		case kindLoader:
			cur.Attr("shape", "cylinder")
		case kindQualifier:
			cur.Attr("shape", "diamond")
		case kindJoin:
			cur.Attr("shape", "hexagon")
			if n.joinClose != nil {
				cur.Label(label + "\n" + n.joinClose.FromKey + "=" + n.joinClose.JoinKey)
			}
			if n.joinUpstream != nil {
				if up, ok := byID[n.joinUpstream.id]; ok {
					dg.Edge(up, cur).Attr("style", "dashed")
				}
			}
		case kindBranch:
			cur.Attr("shape", "box")
			sub := dg.Subgraph(string(n.branch.ID()), dot.ClusterOption{})
			sub.Attr("label", "branch "+string(n.branch.ID()))
			n.branch.buildDot(sub, nil)
		}

		byID[n.id] = cur

		if prev != nil {
			dg.Edge(*prev, cur)
		}
		c := cur
		prev = &c
	}
}
