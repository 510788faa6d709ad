// Package testutils holds shared fixtures and helpers for the engine's
// test suites: canned rows and timestamps, the transitive-closure graph
// every end-to-end scenario runs on, and drain/collect helpers for
// Output nodes.
package testutils

import (
	"fmt"

	"github.com/l7mp/difflow/pkg/graph"
	"github.com/l7mp/difflow/pkg/timestamp"
	"github.com/l7mp/difflow/pkg/value"
)

// R builds a row of string values.
func R(vals ...string) value.Row {
	row := make(value.Row, len(vals))
	for i, v := range vals {
		row[i] = value.String(v)
	}
	return row
}

// Edge builds a two-column (from, to) row.
func Edge(from, to string) value.Row {
	return value.Row{value.String(from), value.String(to)}
}

// TS builds a timestamp from coordinates.
func TS(coords ...uint64) timestamp.Timestamp {
	return timestamp.Timestamp(coords)
}

// ReachGraph is the transitive-closure dataflow: an edge input feeding a
// nested iteration scope that repeatedly extends the reachability
// relation by one hop until it stops changing.
type ReachGraph struct {
	Graph    *graph.Graph
	Edges    graph.NodeID
	Distinct graph.NodeID
	Output   graph.NodeID
}

// BuildReachGraph assembles the reach dataflow. Inside the loop, the
// reachability set as of iteration k is the distinct union of the pushed
// edges and every one-hop extension produced by earlier iterations; the
// join matches reach(x,y) against edge(y,z) by keying both on y, and the
// extensions feed back through a timestamp increment.
func BuildReachGraph() (*ReachGraph, error) {
	b := graph.NewBuilder()

	edges, err := b.AddInput(graph.RootSubgraph)
	if err != nil {
		return nil, err
	}
	loop, err := b.AddSubgraph(graph.RootSubgraph)
	if err != nil {
		return nil, err
	}
	edges1, err := b.AddTimestampPush(loop, graph.NodeInput{Node: edges, Port: 0})
	if err != nil {
		return nil, err
	}
	future, err := b.AddTimestampIncrement(loop)
	if err != nil {
		return nil, err
	}
	union, err := b.AddUnion(loop,
		graph.NodeInput{Node: edges1, Port: 0},
		graph.NodeInput{Node: future, Port: 0})
	if err != nil {
		return nil, err
	}
	unionIndex, err := b.AddIndex(loop, graph.NodeInput{Node: union, Port: 0})
	if err != nil {
		return nil, err
	}
	reach, err := b.AddDistinct(loop, graph.NodeInput{Node: unionIndex, Port: 0})
	if err != nil {
		return nil, err
	}

	// reach(x,y) keyed on y, so the join below matches it against
	// edge(y,z).
	swapped, err := b.AddMap(loop, graph.NodeInput{Node: reach, Port: 0}, func(r value.Row) value.Row {
		return value.Row{r[1], r[0]}
	})
	if err != nil {
		return nil, err
	}
	swappedIndex, err := b.AddIndex(loop, graph.NodeInput{Node: swapped, Port: 0})
	if err != nil {
		return nil, err
	}
	edgesIndex, err := b.AddIndex(loop, graph.NodeInput{Node: edges1, Port: 0})
	if err != nil {
		return nil, err
	}
	joined, err := b.AddJoin(loop,
		graph.NodeInput{Node: swappedIndex, Port: 0},
		graph.NodeInput{Node: edgesIndex, Port: 0}, 1)
	if err != nil {
		return nil, err
	}
	// (y,x,y,z) -> (x,z): one more hop from x.
	extended, err := b.AddMap(loop, graph.NodeInput{Node: joined, Port: 0}, func(r value.Row) value.Row {
		return value.Row{r[1], r[3]}
	})
	if err != nil {
		return nil, err
	}
	if err := b.BindLoopInput(future, graph.NodeInput{Node: extended, Port: 0}); err != nil {
		return nil, err
	}

	popped, err := b.AddTimestampPop(graph.RootSubgraph, graph.NodeInput{Node: reach, Port: 0})
	if err != nil {
		return nil, err
	}
	out, err := b.AddOutput(graph.RootSubgraph, graph.NodeInput{Node: popped, Port: 0})
	if err != nil {
		return nil, err
	}

	g, err := b.Finish()
	if err != nil {
		return nil, fmt.Errorf("building reach graph: %w", err)
	}
	return &ReachGraph{Graph: g, Edges: edges, Distinct: reach, Output: out}, nil
}
