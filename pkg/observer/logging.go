package observer

import (
	"github.com/go-logr/logr"

	"github.com/l7mp/difflow/pkg/change"
	"github.com/l7mp/difflow/pkg/graph"
	"github.com/l7mp/difflow/pkg/timestamp"
)

// Logging is an Observer writing one structured log line per state
// transition. Coarse host-level transitions (pushes, flushes, pops) log
// at the logger's default level; the per-pointstamp firehose logs at
// verbosity 1.
type Logging struct {
	log logr.Logger
}

// NewLogging returns a Logging observer writing through log.
func NewLogging(log logr.Logger) *Logging {
	return &Logging{log: log}
}

func (l *Logging) PushInput(node graph.NodeID, c change.Change) {
	l.log.Info("push-input", "node", int(node), "row", c.Row.String(), "timestamp", c.Timestamp.String(), "diff", c.Diff)
}

func (l *Logging) FlushInput(node graph.NodeID, batch *change.Batch) {
	l.log.Info("flush-input", "node", int(node), "changes", batch.Len())
}

func (l *Logging) AdvanceInput(node graph.NodeID, t timestamp.Timestamp) {
	l.log.Info("advance-input", "node", int(node), "timestamp", t.String())
}

func (l *Logging) EmitChangeBatch(input graph.NodeInput, batch *change.Batch) {
	l.log.V(1).Info("emit-change-batch", "input", input.String(), "changes", batch.Len(), "lower-bound", batch.LowerBound().String())
}

func (l *Logging) ProcessChangeBatch(input graph.NodeInput, batch *change.Batch) {
	l.log.V(1).Info("process-change-batch", "input", input.String(), "changes", batch.Len())
}

func (l *Logging) QueueFrontierUpdate(p Pointstamp, diff int) {
	l.log.V(1).Info("queue-frontier-update", "input", p.Input.String(), "timestamp", p.Timestamp.String(), "diff", diff)
}

func (l *Logging) ApplyFrontierUpdate(node graph.NodeID, t timestamp.Timestamp, diff int) {
	l.log.V(1).Info("apply-frontier-update", "node", int(node), "timestamp", t.String(), "diff", diff)
}

func (l *Logging) ProcessFrontierUpdates() {
	l.log.V(1).Info("process-frontier-updates")
}

func (l *Logging) ProcessFrontierUpdate(p Pointstamp, diff int) {
	l.log.V(1).Info("process-frontier-update", "input", p.Input.String(), "timestamp", p.Timestamp.String(), "diff", diff)
}

func (l *Logging) ProcessFrontierUpdateReaction(node graph.NodeID) {
	l.log.V(1).Info("process-frontier-update-reaction", "node", int(node))
}

func (l *Logging) PopOutput(node graph.NodeID, batch *change.Batch, ok bool) {
	if ok {
		l.log.Info("pop-output", "node", int(node), "changes", batch.Len())
	} else {
		l.log.V(1).Info("pop-output", "node", int(node), "empty", true)
	}
}

func (l *Logging) DoWork(didWork bool) {
	l.log.V(1).Info("do-work", "did-work", didWork)
}

var _ Observer = &Logging{}
