package shard

import (
	"github.com/l7mp/difflow/pkg/change"
	"github.com/l7mp/difflow/pkg/timestamp"
)

// nodeState is the per-node mutable state the Shard owns for the lifetime
// of a run, parallel to graph.NodeSpec. Only the fields relevant to the
// node's Kind are meaningful; dispatch on graph.Spec(id).Kind() always
// picks out the right ones.
type nodeState struct {
	// outputSupport is the node's SupportedFrontier over output
	// timestamps: the single structure every support contribution
	// feeds. Queued-but-unprocessed input batches, an Input's
	// configured frontier, and Index/Distinct's held pending
	// timestamps all register here, and its Frontier() is the node's
	// output frontier.
	outputSupport *timestamp.SupportedFrontier

	// Input-only.
	inputBuilder  *change.Builder
	inputFrontier *timestamp.Frontier

	// Output-only: unpopped batches, FIFO.
	outputQueue []*change.Batch

	// Index, Distinct and Reduce materialize their accepted output
	// here; this is what makes a kind indexable, and what Join probes
	// on its non-matching port.
	index *change.Index

	// Index-only: changes accepted but not yet forwarded, each still
	// holding a capability on outputSupport at its own timestamp via
	// capabilityPort until the node's input frontier passes it.
	pendingChanges []change.Change

	// Distinct and Reduce: the set of timestamps at which the output
	// may still change, each also holding a capability via
	// capabilityPort.
	pendingTimestamps map[string]timestamp.Timestamp
}

func newNodeState() *nodeState {
	return &nodeState{outputSupport: timestamp.NewSupportedFrontier()}
}
