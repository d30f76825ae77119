package engine

import (
	"fmt"
	"strings"

	"golang.org/x/exp/slices"
	"golang.org/x/xerrors"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

type graphNode struct {
	id int64
	t  *Target
}

func (n *graphNode) ID() int64 { return n.id }

// CycleError reports a set of targets that form a dependency cycle.
type CycleError struct {
	Component []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected among targets: %s", strings.Join(e.Component, " -> "))
}

// CheckAcyclic builds a directed graph of every declared target's direct
// target-reference dependencies (path-literal deps are not graph edges;
// they are resolved against the filesystem or the Resolver at schedule
// time, not against this static graph) and fails loudly, naming every
// target in the cyclic component, if it is not acyclic.
//
// This is the explicit cycle detection the source lacks: it would recurse
// indefinitely, partially masked by the "scheduled" short-circuit, which
// lies about completion on a revisit. Here the build refuses to start at
// all rather than silently tolerating a cycle.
func CheckAcyclic(targets map[string]*Target) error {
	g := simple.NewDirectedGraph()
	nodes := make(map[*Target]*graphNode, len(targets))

	var id int64
	for _, t := range targets {
		n := &graphNode{id: id, t: t}
		id++
		nodes[t] = n
		g.AddNode(n)
	}
	for _, t := range targets {
		for _, d := range t.Deps {
			if d.Ref == nil {
				continue
			}
			dn, ok := nodes[d.Ref]
			if !ok {
				continue // a specialized/ephemeral dep target not in the registry
			}
			g.SetEdge(g.NewEdge(nodes[t], dn))
		}
	}

	if _, err := topo.Sort(g); err != nil {
		uo, ok := err.(topo.Unorderable)
		if !ok {
			return xerrors.Errorf("checking target graph for cycles: %w", err)
		}
		var names []string
		for _, component := range uo {
			for _, n := range component {
				names = append(names, n.(*graphNode).t.Name)
			}
		}
		slices.Sort(names)
		return &CycleError{Component: names}
	}
	return nil
}

var _ graph.Node = (*graphNode)(nil)
