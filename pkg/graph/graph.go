package graph

import "fmt"

// Graph is an immutable, validated dataflow graph: a dense arena of
// NodeSpecs plus the derived scope-path and downstream-edge indexes
// needed by the executor.
type Graph struct {
	subgraphs  []subgraphInfo
	specs      []NodeSpec
	scopePaths [][]SubgraphID
	downstream [][]NodeInput // indexed by NodeID: every NodeInput consuming this node's output
}

// NumNodes returns the number of nodes in the graph.
func (g *Graph) NumNodes() int { return len(g.specs) }

// Spec returns the NodeSpec for id.
func (g *Graph) Spec(id NodeID) NodeSpec { return g.specs[id] }

// ScopePath returns the chain of subgraphs from root to id's subgraph,
// root first.
func (g *Graph) ScopePath(id NodeID) []SubgraphID { return g.scopePaths[id] }

// Downstream returns every NodeInput consuming id's output.
func (g *Graph) Downstream(id NodeID) []NodeInput { return g.downstream[id] }

// ParentOf returns sg's parent subgraph. The root is its own parent.
func (g *Graph) ParentOf(sg SubgraphID) SubgraphID { return g.subgraphs[sg].parent }

// IsRoot reports whether sg is the root subgraph.
func (g *Graph) IsRoot(sg SubgraphID) bool { return g.subgraphs[sg].isRoot }

// ValidationError reports a graph-construction failure discovered at
// Finish. It is not a programmer error: it is expected, recoverable, and
// reported at the boundary.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return fmt.Sprintf("graph: %s", e.Reason) }

// Finish validates the accumulated subgraphs and nodes and freezes them
// into a Graph: every input must reference an existing, earlier node
// (later for the loop edge into a TimestampIncrement), Join and Distinct
// inputs must be indexable, and subgraph membership must match each
// operator's scope rule.
func (b *Builder) Finish() (*Graph, error) {
	g := &Graph{
		subgraphs: b.subgraphs,
		specs:     b.specs,
	}

	g.scopePaths = make([][]SubgraphID, len(g.specs))
	for id, spec := range g.specs {
		g.scopePaths[id] = scopePath(g.subgraphs, spec.subgraph)
	}

	g.downstream = make([][]NodeInput, len(g.specs))
	for id, spec := range g.specs {
		for port, in := range spec.inputs {
			if int(in.Node) < 0 || int(in.Node) >= len(g.specs) {
				return nil, &ValidationError{Reason: fmt.Sprintf("node %d input %d references nonexistent node %d", id, port, in.Node)}
			}
			g.downstream[in.Node] = append(g.downstream[in.Node], NodeInput{Node: NodeID(id), Port: port})
		}
	}

	if err := g.validate(); err != nil {
		return nil, err
	}
	return g, nil
}

func scopePath(subgraphs []subgraphInfo, leaf SubgraphID) []SubgraphID {
	var rev []SubgraphID
	cur := leaf
	for {
		rev = append(rev, cur)
		if subgraphs[cur].isRoot {
			break
		}
		cur = subgraphs[cur].parent
	}
	path := make([]SubgraphID, len(rev))
	for i, sg := range rev {
		path[len(rev)-1-i] = sg
	}
	return path
}

func (g *Graph) validate() error {
	for id, spec := range g.specs {
		nid := NodeID(id)

		if spec.kind == KindInput && len(spec.inputs) != 0 {
			return &ValidationError{Reason: fmt.Sprintf("input node %d must have no inputs", id)}
		}
		if spec.kind == KindTimestampIncrement && len(spec.inputs) != 1 {
			return &ValidationError{Reason: fmt.Sprintf("timestamp-increment node %d has no bound loop input (call BindLoopInput before Finish)", id)}
		}

		for port, in := range spec.inputs {
			if spec.kind == KindTimestampIncrement {
				// The loop edge: the input is expected to reference
				// a later node.
				if in.Node <= nid {
					return &ValidationError{Reason: fmt.Sprintf("timestamp-increment node %d must reference a later node, got %d", id, in.Node)}
				}
			} else if in.Node >= nid {
				return &ValidationError{Reason: fmt.Sprintf("node %d input %d references node %d, which is not earlier", id, port, in.Node)}
			}
		}

		if spec.kind == KindJoin || spec.kind == KindDistinct || spec.kind == KindReduce {
			for _, in := range spec.inputs {
				if !g.specs[in.Node].kind.indexable() {
					return &ValidationError{Reason: fmt.Sprintf("node %d (%s) requires an indexable input, node %d is %s", id, spec.kind, in.Node, g.specs[in.Node].kind)}
				}
			}
		}

		switch spec.kind {
		case KindTimestampPush:
			in := spec.inputs[0]
			inputSg := g.specs[in.Node].subgraph
			if g.ParentOf(spec.subgraph) != inputSg || spec.subgraph == RootSubgraph {
				return &ValidationError{Reason: fmt.Sprintf("timestamp-push node %d: input subgraph must be the parent of the node's subgraph", id)}
			}
		case KindTimestampPop:
			in := spec.inputs[0]
			inputSg := g.specs[in.Node].subgraph
			if g.ParentOf(inputSg) != spec.subgraph || inputSg == RootSubgraph {
				return &ValidationError{Reason: fmt.Sprintf("timestamp-pop node %d: output subgraph must be the parent of the input's subgraph", id)}
			}
		default:
			for _, in := range spec.inputs {
				if g.specs[in.Node].subgraph != spec.subgraph {
					return &ValidationError{Reason: fmt.Sprintf("node %d (%s) and its input %d must share a subgraph", id, spec.kind, in.Node)}
				}
			}
		}
	}
	return nil
}
