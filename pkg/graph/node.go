// Package graph implements the dataflow graph: an immutable, once-built
// arena of tagged-variant Node specifications addressed by opaque
// integer id, organized into nested Subgraphs for iteration, with a
// precomputed downstream-edge index and scope path per node. The graph
// may contain feedback edges (TimestampIncrement binds its input after
// the node it feeds back from is created), so edges are id references
// into a dense arena rather than pointers; there are no pointer cycles.
package graph

import (
	"fmt"

	"github.com/l7mp/difflow/pkg/value"
)

// NodeID is an opaque node identity, dense over [0, N) within a Graph.
type NodeID int

// SubgraphID is an opaque subgraph identity. Subgraph 0 is always the
// root.
type SubgraphID int

// RootSubgraph is the id of the outermost scope, always present.
const RootSubgraph SubgraphID = 0

// NodeInput pairs a Node with an input-port index. Most operators have
// one or two input ports (0, or 0 and 1); Input nodes have none.
type NodeInput struct {
	Node NodeID
	Port int
}

func (ni NodeInput) String() string { return fmt.Sprintf("n%d.%d", ni.Node, ni.Port) }

// Kind tags which shape a NodeSpec takes.
type Kind int

const (
	KindInput Kind = iota
	KindMap
	KindIndex
	KindJoin
	KindOutput
	KindTimestampPush
	KindTimestampIncrement
	KindTimestampPop
	KindUnion
	KindDistinct
	// KindReduce is gated behind a feature flag (see DESIGN.md).
	// Callers must check ReduceEnabled before constructing one.
	KindReduce
)

func (k Kind) String() string {
	switch k {
	case KindInput:
		return "Input"
	case KindMap:
		return "Map"
	case KindIndex:
		return "Index"
	case KindJoin:
		return "Join"
	case KindOutput:
		return "Output"
	case KindTimestampPush:
		return "TimestampPush"
	case KindTimestampIncrement:
		return "TimestampIncrement"
	case KindTimestampPop:
		return "TimestampPop"
	case KindUnion:
		return "Union"
	case KindDistinct:
		return "Distinct"
	case KindReduce:
		return "Reduce"
	default:
		return "Unknown"
	}
}

// MapFunc maps one row to another. The engine never reflects on it; it
// is invoked exactly once per incoming change.
type MapFunc func(row value.Row) value.Row

// ReduceFunc folds a sequence of rows (a Reduce node's whole input bag)
// into a single scalar row. Only constructible when ReduceEnabled is true.
type ReduceFunc func(rows []value.Row) value.Row

// NodeSpec is the tagged specification of one graph node. Exactly the
// fields relevant to Kind are meaningful; this is a sum type expressed
// as a struct with a private kind tag, not subtype polymorphism, so the
// executor dispatches with a single switch.
type NodeSpec struct {
	kind      Kind
	subgraph  SubgraphID
	inputs    []NodeInput // len 0, 1 or 2 depending on kind
	mapFn     MapFunc
	reduceFn  ReduceFunc
	keyColumn int // number of leading columns compared for Join
}

// Kind returns the node's tag.
func (s NodeSpec) Kind() Kind { return s.kind }

// Subgraph returns the subgraph the node lives in.
func (s NodeSpec) Subgraph() SubgraphID { return s.subgraph }

// Inputs returns the node's input ports in order. For TimestampIncrement
// this is only populated after BindLoopInput.
func (s NodeSpec) Inputs() []NodeInput { return s.inputs }

// MapFunc returns the Map node's function. Only meaningful when Kind ==
// KindMap.
func (s NodeSpec) MapFunc() MapFunc { return s.mapFn }

// ReduceFunc returns the Reduce node's function. Only meaningful when
// Kind == KindReduce.
func (s NodeSpec) ReduceFunc() ReduceFunc { return s.reduceFn }

// KeyColumns returns the number of leading row columns compared for
// equality. Only meaningful when Kind == KindJoin.
func (s NodeSpec) KeyColumns() int { return s.keyColumn }

// indexable reports whether a node of this kind may feed a Join or
// Distinct input.
func (k Kind) indexable() bool {
	return k == KindIndex || k == KindDistinct
}
