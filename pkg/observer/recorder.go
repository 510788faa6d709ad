package observer

import (
	"github.com/l7mp/difflow/pkg/change"
	"github.com/l7mp/difflow/pkg/graph"
	"github.com/l7mp/difflow/pkg/timestamp"
)

// EventKind tags one recorded state transition.
type EventKind int

const (
	EventPushInput EventKind = iota
	EventFlushInput
	EventAdvanceInput
	EventEmitChangeBatch
	EventProcessChangeBatch
	EventQueueFrontierUpdate
	EventApplyFrontierUpdate
	EventProcessFrontierUpdates
	EventProcessFrontierUpdate
	EventProcessFrontierUpdateReaction
	EventPopOutput
	EventDoWork
)

func (k EventKind) String() string {
	switch k {
	case EventPushInput:
		return "PushInput"
	case EventFlushInput:
		return "FlushInput"
	case EventAdvanceInput:
		return "AdvanceInput"
	case EventEmitChangeBatch:
		return "EmitChangeBatch"
	case EventProcessChangeBatch:
		return "ProcessChangeBatch"
	case EventQueueFrontierUpdate:
		return "QueueFrontierUpdate"
	case EventApplyFrontierUpdate:
		return "ApplyFrontierUpdate"
	case EventProcessFrontierUpdates:
		return "ProcessFrontierUpdates"
	case EventProcessFrontierUpdate:
		return "ProcessFrontierUpdate"
	case EventProcessFrontierUpdateReaction:
		return "ProcessFrontierUpdateReaction"
	case EventPopOutput:
		return "PopOutput"
	case EventDoWork:
		return "DoWork"
	default:
		return "Unknown"
	}
}

// Event is one recorded state transition. Only the fields relevant to
// Kind are set; every field is a deep clone, sharing nothing with the
// Shard's own state.
type Event struct {
	Kind       EventKind
	Node       graph.NodeID
	Input      graph.NodeInput
	Change     change.Change
	Batch      *change.Batch
	Timestamp  timestamp.Timestamp
	Pointstamp Pointstamp
	Diff       int
	OK         bool
	DidWork    bool
}

// Recorder is an Observer appending one deep-cloned Event per state
// transition, the recording implementation a debug inspector consumes.
// The zero value is ready to use.
type Recorder struct {
	Events []Event
}

func (r *Recorder) record(e Event) {
	r.Events = append(r.Events, e)
}

func cloneBatch(b *change.Batch) *change.Batch {
	if b == nil {
		return nil
	}
	return b.Clone()
}

func (r *Recorder) PushInput(node graph.NodeID, c change.Change) {
	r.record(Event{Kind: EventPushInput, Node: node, Change: c.Clone()})
}

func (r *Recorder) FlushInput(node graph.NodeID, batch *change.Batch) {
	r.record(Event{Kind: EventFlushInput, Node: node, Batch: cloneBatch(batch)})
}

func (r *Recorder) AdvanceInput(node graph.NodeID, t timestamp.Timestamp) {
	r.record(Event{Kind: EventAdvanceInput, Node: node, Timestamp: t.Clone()})
}

func (r *Recorder) EmitChangeBatch(input graph.NodeInput, batch *change.Batch) {
	r.record(Event{Kind: EventEmitChangeBatch, Input: input, Batch: cloneBatch(batch)})
}

func (r *Recorder) ProcessChangeBatch(input graph.NodeInput, batch *change.Batch) {
	r.record(Event{Kind: EventProcessChangeBatch, Input: input, Batch: cloneBatch(batch)})
}

func (r *Recorder) QueueFrontierUpdate(p Pointstamp, diff int) {
	r.record(Event{Kind: EventQueueFrontierUpdate, Pointstamp: p.Clone(), Diff: diff})
}

func (r *Recorder) ApplyFrontierUpdate(node graph.NodeID, t timestamp.Timestamp, diff int) {
	r.record(Event{Kind: EventApplyFrontierUpdate, Node: node, Timestamp: t.Clone(), Diff: diff})
}

func (r *Recorder) ProcessFrontierUpdates() {
	r.record(Event{Kind: EventProcessFrontierUpdates})
}

func (r *Recorder) ProcessFrontierUpdate(p Pointstamp, diff int) {
	r.record(Event{Kind: EventProcessFrontierUpdate, Pointstamp: p.Clone(), Diff: diff})
}

func (r *Recorder) ProcessFrontierUpdateReaction(node graph.NodeID) {
	r.record(Event{Kind: EventProcessFrontierUpdateReaction, Node: node})
}

func (r *Recorder) PopOutput(node graph.NodeID, batch *change.Batch, ok bool) {
	r.record(Event{Kind: EventPopOutput, Node: node, Batch: cloneBatch(batch), OK: ok})
}

func (r *Recorder) DoWork(didWork bool) {
	r.record(Event{Kind: EventDoWork, DidWork: didWork})
}

// Count returns the number of recorded events of the given kind.
func (r *Recorder) Count(kind EventKind) int {
	n := 0
	for _, e := range r.Events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

var _ Observer = &Recorder{}
