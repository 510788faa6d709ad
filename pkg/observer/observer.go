// Package observer is the seam external collaborators (a debug
// inspector, a host-language binding) attach to: one method per Shard
// state-transition event, a no-op default, and a recording
// implementation that snapshots state via deep clones rather than
// holding live references into the Shard's own mutable data. The engine
// only ever calls through this interface and never mutates state
// through it.
package observer

import (
	"github.com/l7mp/difflow/pkg/change"
	"github.com/l7mp/difflow/pkg/graph"
	"github.com/l7mp/difflow/pkg/timestamp"
)

// Pointstamp is the public, cloneable counterpart of the Shard's internal
// pointstamp type.
type Pointstamp struct {
	Input     graph.NodeInput
	ScopePath []graph.SubgraphID
	Timestamp timestamp.Timestamp
}

// Clone returns a deep copy safe to retain independently of the Shard's
// own state.
func (p Pointstamp) Clone() Pointstamp {
	sp := make([]graph.SubgraphID, len(p.ScopePath))
	copy(sp, p.ScopePath)
	return Pointstamp{Input: p.Input, ScopePath: sp, Timestamp: p.Timestamp.Clone()}
}

// Observer receives one notification per Shard state transition.
type Observer interface {
	// PushInput fires when a Change is appended to an Input node's
	// unflushed builder.
	PushInput(node graph.NodeID, c change.Change)
	// FlushInput fires when an Input node's builder is finished into a
	// Batch and handed to the graph.
	FlushInput(node graph.NodeID, batch *change.Batch)
	// AdvanceInput fires when an Input node's frontier advances.
	AdvanceInput(node graph.NodeID, t timestamp.Timestamp)
	// EmitChangeBatch fires whenever a Batch is queued onto a downstream
	// NodeInput, whether from a flush or from an operator's own output.
	EmitChangeBatch(input graph.NodeInput, batch *change.Batch)
	// ProcessChangeBatch fires when doWork pops and dispatches one
	// queued Batch to its operator.
	ProcessChangeBatch(input graph.NodeInput, batch *change.Batch)
	// QueueFrontierUpdate fires when a pointstamp diff is recorded,
	// whether from a newly queued batch, a release, or a propagated
	// downstream effect.
	QueueFrontierUpdate(p Pointstamp, diff int)
	// ApplyFrontierUpdate fires when a popped pointstamp diff is applied
	// to a node's output support.
	ApplyFrontierUpdate(node graph.NodeID, t timestamp.Timestamp, diff int)
	// ProcessFrontierUpdates fires once at the start of a full
	// propagation pass (doWork's frontier-propagation branch).
	ProcessFrontierUpdates()
	// ProcessFrontierUpdate fires once per pop-min iteration within a
	// propagation pass.
	ProcessFrontierUpdate(p Pointstamp, diff int)
	// ProcessFrontierUpdateReaction fires once per node whose Index or
	// Distinct reaction ran after a propagation pass drained.
	ProcessFrontierUpdateReaction(node graph.NodeID)
	// PopOutput fires on every popOutput call, whether or not a batch
	// was available.
	PopOutput(node graph.NodeID, batch *change.Batch, ok bool)
	// DoWork fires once per doWork call, reporting whether it did
	// anything (hasWork() was true when it started).
	DoWork(didWork bool)
}

// NoOp is the default Observer: every method is a no-op. The zero value is
// ready to use.
type NoOp struct{}

func (NoOp) PushInput(graph.NodeID, change.Change)                  {}
func (NoOp) FlushInput(graph.NodeID, *change.Batch)                 {}
func (NoOp) AdvanceInput(graph.NodeID, timestamp.Timestamp)         {}
func (NoOp) EmitChangeBatch(graph.NodeInput, *change.Batch)         {}
func (NoOp) ProcessChangeBatch(graph.NodeInput, *change.Batch)      {}
func (NoOp) QueueFrontierUpdate(Pointstamp, int)                    {}
func (NoOp) ApplyFrontierUpdate(graph.NodeID, timestamp.Timestamp, int) {}
func (NoOp) ProcessFrontierUpdates()                                {}
func (NoOp) ProcessFrontierUpdate(Pointstamp, int)                  {}
func (NoOp) ProcessFrontierUpdateReaction(graph.NodeID)             {}
func (NoOp) PopOutput(graph.NodeID, *change.Batch, bool)            {}
func (NoOp) DoWork(bool)                                            {}

var _ Observer = NoOp{}
