package graph

import "fmt"

// ReduceEnabled gates the Reduce node variant, which is not yet settled
// as a first-class node kind; it defaults to off (see DESIGN.md).
var ReduceEnabled = false

type subgraphInfo struct {
	id     SubgraphID
	parent SubgraphID
	isRoot bool
}

// Builder accumulates Subgraphs and Nodes, then validates and freezes
// them into a Graph via Finish.
type Builder struct {
	subgraphs []subgraphInfo
	specs     []NodeSpec
}

// NewBuilder returns a Builder containing only the root subgraph.
func NewBuilder() *Builder {
	return &Builder{
		subgraphs: []subgraphInfo{{id: RootSubgraph, parent: RootSubgraph, isRoot: true}},
	}
}

// AddSubgraph creates a new subgraph nested under parent and returns its
// id. Ids are assigned in increasing order, so every subgraph's parent
// id is strictly smaller.
func (b *Builder) AddSubgraph(parent SubgraphID) (SubgraphID, error) {
	if int(parent) < 0 || int(parent) >= len(b.subgraphs) {
		return 0, fmt.Errorf("graph: parent subgraph %d does not exist", parent)
	}
	id := SubgraphID(len(b.subgraphs))
	b.subgraphs = append(b.subgraphs, subgraphInfo{id: id, parent: parent})
	return id, nil
}

func (b *Builder) addNode(spec NodeSpec) (NodeID, error) {
	if int(spec.subgraph) < 0 || int(spec.subgraph) >= len(b.subgraphs) {
		return 0, fmt.Errorf("graph: subgraph %d does not exist", spec.subgraph)
	}
	id := NodeID(len(b.specs))
	b.specs = append(b.specs, spec)
	return id, nil
}

// AddInput adds a source node fed only by pushInput/flushInput/advanceInput.
func (b *Builder) AddInput(sg SubgraphID) (NodeID, error) {
	return b.addNode(NodeSpec{kind: KindInput, subgraph: sg})
}

// AddMap adds a node applying fn to every incoming row.
func (b *Builder) AddMap(sg SubgraphID, input NodeInput, fn MapFunc) (NodeID, error) {
	if fn == nil {
		return 0, fmt.Errorf("graph: map node requires a non-nil function")
	}
	return b.addNode(NodeSpec{kind: KindMap, subgraph: sg, inputs: []NodeInput{input}, mapFn: fn})
}

// AddIndex adds a node materializing its input as an indexed bag,
// forwarding each batch only once the input frontier has passed it.
func (b *Builder) AddIndex(sg SubgraphID, input NodeInput) (NodeID, error) {
	return b.addNode(NodeSpec{kind: KindIndex, subgraph: sg, inputs: []NodeInput{input}})
}

// AddJoin adds an equi-join node over the first keyColumns columns of
// each side. Both inputs must be indexable (Index or Distinct).
func (b *Builder) AddJoin(sg SubgraphID, left, right NodeInput, keyColumns int) (NodeID, error) {
	if keyColumns < 0 {
		return 0, fmt.Errorf("graph: join key column count must be non-negative")
	}
	return b.addNode(NodeSpec{kind: KindJoin, subgraph: sg, inputs: []NodeInput{left, right}, keyColumn: keyColumns})
}

// AddOutput adds a sink node whose emitted batches queue for popOutput.
func (b *Builder) AddOutput(sg SubgraphID, input NodeInput) (NodeID, error) {
	return b.addNode(NodeSpec{kind: KindOutput, subgraph: sg, inputs: []NodeInput{input}})
}

// AddTimestampPush adds a node entering a nested subgraph, pushing a new
// trailing zero coordinate onto every change's timestamp.
func (b *Builder) AddTimestampPush(sg SubgraphID, input NodeInput) (NodeID, error) {
	return b.addNode(NodeSpec{kind: KindTimestampPush, subgraph: sg, inputs: []NodeInput{input}})
}

// AddTimestampIncrement adds a loop-iteration node. Its input is a
// feedback edge from a node created later in the build and must be bound
// with BindLoopInput before Finish.
func (b *Builder) AddTimestampIncrement(sg SubgraphID) (NodeID, error) {
	return b.addNode(NodeSpec{kind: KindTimestampIncrement, subgraph: sg})
}

// BindLoopInput sets a previously-created TimestampIncrement node's
// input, which by construction references a node appearing later in the
// build (the feedback edge).
func (b *Builder) BindLoopInput(increment NodeID, input NodeInput) error {
	if int(increment) < 0 || int(increment) >= len(b.specs) {
		return fmt.Errorf("graph: node %d does not exist", increment)
	}
	spec := &b.specs[increment]
	if spec.kind != KindTimestampIncrement {
		return fmt.Errorf("graph: node %d is not a TimestampIncrement node", increment)
	}
	spec.inputs = []NodeInput{input}
	return nil
}

// AddTimestampPop adds a node leaving a nested subgraph, dropping the
// trailing coordinate from every change's timestamp.
func (b *Builder) AddTimestampPop(sg SubgraphID, input NodeInput) (NodeID, error) {
	return b.addNode(NodeSpec{kind: KindTimestampPop, subgraph: sg, inputs: []NodeInput{input}})
}

// AddUnion adds a node forwarding both input batches unchanged.
func (b *Builder) AddUnion(sg SubgraphID, a, c NodeInput) (NodeID, error) {
	return b.addNode(NodeSpec{kind: KindUnion, subgraph: sg, inputs: []NodeInput{a, c}})
}

// AddDistinct adds a node materializing its (indexable) input as a set,
// at most one copy of each row per timestamp.
func (b *Builder) AddDistinct(sg SubgraphID, input NodeInput) (NodeID, error) {
	return b.addNode(NodeSpec{kind: KindDistinct, subgraph: sg, inputs: []NodeInput{input}})
}

// AddReduce adds a node folding its whole input bag into one output row;
// rows are not grouped by key.
// Returns an error unless ReduceEnabled has been set.
func (b *Builder) AddReduce(sg SubgraphID, input NodeInput, fn ReduceFunc) (NodeID, error) {
	if !ReduceEnabled {
		return 0, fmt.Errorf("graph: Reduce node disabled (set graph.ReduceEnabled to enable)")
	}
	if fn == nil {
		return 0, fmt.Errorf("graph: reduce node requires a non-nil function")
	}
	return b.addNode(NodeSpec{kind: KindReduce, subgraph: sg, inputs: []NodeInput{input}, reduceFn: fn})
}
