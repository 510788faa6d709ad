package shard

import (
	"fmt"
	"sort"

	"github.com/l7mp/difflow/pkg/change"
	"github.com/l7mp/difflow/pkg/graph"
	"github.com/l7mp/difflow/pkg/observer"
	"github.com/l7mp/difflow/pkg/timestamp"
	"github.com/l7mp/difflow/pkg/value"
)

// delivery is one queued ChangeBatch waiting to be processed at a
// NodeInput. Deliveries drain in FIFO order, so batches are processed in
// arrival order per input port.
//
// joinLimit is set for deliveries destined to a Join input: the length
// of the other side's Index at emission time. Probing only that prefix
// keeps a pair of batches landing on opposite ports in the same reaction
// pass from matching each other twice, once from each side.
type delivery struct {
	input     graph.NodeInput
	batch     *change.Batch
	joinLimit int
}

// Shard is the executor: it owns every node's mutable state for the
// lifetime of the run, routes ChangeBatches along graph edges, and runs
// the progress-tracking protocol over pointstamp diffs. All operations
// are synchronous and single-threaded. The name is historical; a
// Shard is always a single worker.
type Shard struct {
	g          *graph.Graph
	states     []*nodeState
	deliveries []delivery
	diffs      *diffQueue
	obs        observer.Observer
}

// New returns a Shard for g, with every Input node's frontier at the
// least timestamp of its scope and every node frontier already
// propagated to a consistent initial state. A nil obs is replaced by the
// no-op observer.
func New(g *graph.Graph, obs observer.Observer) *Shard {
	if obs == nil {
		obs = observer.NoOp{}
	}
	s := &Shard{
		g:      g,
		states: make([]*nodeState, g.NumNodes()),
		diffs:  newDiffQueue(),
		obs:    obs,
	}

	for id := 0; id < g.NumNodes(); id++ {
		nid := graph.NodeID(id)
		st := newNodeState()
		s.states[id] = st

		switch g.Spec(nid).Kind() {
		case graph.KindInput:
			st.inputBuilder = change.NewBuilder()
			st.inputFrontier = timestamp.NewFrontier()
			least := timestamp.Least(len(g.ScopePath(nid)))
			st.inputFrontier.Retreat(least, nil)
			s.queueFrontierDiff(pointstamp{
				Input:     graph.NodeInput{Node: nid, Port: inputFrontierPort},
				ScopePath: g.ScopePath(nid),
				Timestamp: least,
			}, +1)
		case graph.KindIndex:
			st.index = change.NewIndex()
		case graph.KindDistinct, graph.KindReduce:
			st.index = change.NewIndex()
			st.pendingTimestamps = make(map[string]timestamp.Timestamp)
		}
	}

	// Establish every node's initial output frontier before any input
	// arrives, so that the very first change batch is never observed
	// ahead of an empty (fully-closed) frontier. Nothing is pending yet,
	// so no reactions can fire.
	s.propagate()

	return s
}

// NodeFrontier returns node's current output frontier: the antichain
// bounding the timestamps node may still emit changes at. Callers must
// not mutate it.
func (s *Shard) NodeFrontier(node graph.NodeID) *timestamp.Frontier {
	return s.states[node].outputSupport.Frontier()
}

// InputFrontier returns an Input node's frontier of admissible input
// timestamps, or nil if node is not an Input.
func (s *Shard) InputFrontier(node graph.NodeID) *timestamp.Frontier {
	return s.states[node].inputFrontier
}

// PushInput appends a change to an Input node's unflushed builder. The
// change's timestamp must not be below the Input's current frontier;
// such a change is rejected with an error, since admitting it would
// contradict progress already reported downstream.
func (s *Shard) PushInput(node graph.NodeID, c change.Change) error {
	st := s.states[node]
	if s.g.Spec(node).Kind() != graph.KindInput {
		return fmt.Errorf("shard: node %d is not an Input node", node)
	}
	if !st.inputFrontier.HasPassed(c.Timestamp) {
		return fmt.Errorf("shard: change at %s is below input frontier %s of node %d",
			c.Timestamp, st.inputFrontier, node)
	}
	st.inputBuilder.Add(c)
	s.obs.PushInput(node, c)
	return nil
}

// FlushInput builds the Input node's unflushed changes into a ChangeBatch
// and emits it downstream. A no-op if nothing was pushed since the last
// flush. Returns an error if every pushed diff canceled to zero, in which
// case the pushed changes are discarded.
func (s *Shard) FlushInput(node graph.NodeID) error {
	st := s.states[node]
	if s.g.Spec(node).Kind() != graph.KindInput {
		return fmt.Errorf("shard: node %d is not an Input node", node)
	}
	if st.inputBuilder.Len() == 0 {
		return nil
	}
	batch, err := st.inputBuilder.Finish()
	if err != nil {
		return err
	}
	s.obs.FlushInput(node, batch)
	s.emit(node, batch)
	return nil
}

// AdvanceInput flushes any unflushed changes, then advances the Input
// node's frontier to include t, promising that no future change will be
// pushed at a timestamp t has passed. Advancing backwards panics.
func (s *Shard) AdvanceInput(node graph.NodeID, t timestamp.Timestamp) error {
	if err := s.FlushInput(node); err != nil {
		return err
	}
	st := s.states[node]
	diffs := st.inputFrontier.Advance(t.Clone(), nil)
	for _, fd := range diffs {
		s.queueFrontierDiff(pointstamp{
			Input:     graph.NodeInput{Node: node, Port: inputFrontierPort},
			ScopePath: s.g.ScopePath(node),
			Timestamp: fd.Timestamp,
		}, fd.Sign)
	}
	s.obs.AdvanceInput(node, t)
	return nil
}

// PopOutput pops the oldest unpopped ChangeBatch from an Output node's
// queue, or returns false if none is queued.
func (s *Shard) PopOutput(node graph.NodeID) (*change.Batch, bool) {
	st := s.states[node]
	if len(st.outputQueue) == 0 {
		s.obs.PopOutput(node, nil, false)
		return nil, false
	}
	batch := st.outputQueue[0]
	st.outputQueue = st.outputQueue[1:]
	s.obs.PopOutput(node, batch, true)
	return batch, true
}

// HasWork reports whether a DoWork call would do anything: a queued
// change batch or an unpropagated pointstamp diff.
func (s *Shard) HasWork() bool {
	return len(s.deliveries) > 0 || !s.diffs.empty()
}

// DoWork performs one unit of work: either processing one queued change
// batch, or one full pass of pointstamp-diff propagation followed by the
// resulting Index/Distinct reactions. Change batches always go first, so
// that an operator never observes a change arriving behind its own
// reported output frontier.
func (s *Shard) DoWork() {
	had := s.HasWork()
	s.obs.DoWork(had)
	if !had {
		return
	}

	if len(s.deliveries) > 0 {
		d := s.deliveries[0]
		s.deliveries = s.deliveries[1:]
		s.processDelivery(d)
		return
	}

	s.obs.ProcessFrontierUpdates()
	changed := s.propagate()
	s.react(changed)
}

// queueFrontierDiff records a signed pointstamp diff for a later
// propagation pass.
func (s *Shard) queueFrontierDiff(p pointstamp, diff int) {
	s.obs.QueueFrontierUpdate(observer.Pointstamp{
		Input:     p.Input,
		ScopePath: p.ScopePath,
		Timestamp: p.Timestamp,
	}, diff)
	s.diffs.add(p, diff)
}

// emit queues batch on every NodeInput downstream of from, and records a
// +1 pointstamp diff per lower-bound timestamp per destination, the
// support that keeps downstream frontiers from advancing past the queued
// data.
func (s *Shard) emit(from graph.NodeID, batch *change.Batch) {
	for _, d := range s.g.Downstream(from) {
		s.obs.EmitChangeBatch(d, batch)
		dl := delivery{input: d, batch: batch}
		if spec := s.g.Spec(d.Node); spec.Kind() == graph.KindJoin {
			dl.joinLimit = s.states[spec.Inputs()[1-d.Port].Node].index.Len()
		}
		s.deliveries = append(s.deliveries, dl)
		for _, t := range batch.LowerBound().Timestamps() {
			s.queueFrontierDiff(pointstamp{Input: d, ScopePath: s.g.ScopePath(from), Timestamp: t}, +1)
		}
	}
}

// processDelivery dispatches one queued batch to its operator and then
// releases the support the queued batch held.
func (s *Shard) processDelivery(d delivery) {
	s.obs.ProcessChangeBatch(d.input, d.batch)

	node := d.input.Node
	spec := s.g.Spec(node)

	switch spec.Kind() {
	case graph.KindInput:
		panic(fmt.Sprintf("shard: input node %d received a change batch", node))
	case graph.KindMap:
		s.processMap(node, spec.MapFunc(), d.batch)
	case graph.KindIndex:
		s.processIndex(node, d.batch)
	case graph.KindJoin:
		s.processJoin(node, spec, d.input.Port, d.batch, d.joinLimit)
	case graph.KindOutput:
		s.states[node].outputQueue = append(s.states[node].outputQueue, d.batch)
	case graph.KindTimestampPush:
		s.processTimestampOp(node, d.batch, timestamp.Timestamp.PushCoord)
	case graph.KindTimestampIncrement:
		s.processTimestampOp(node, d.batch, timestamp.Timestamp.IncrementCoord)
	case graph.KindTimestampPop:
		s.processTimestampOp(node, d.batch, timestamp.Timestamp.PopCoord)
	case graph.KindUnion:
		s.emit(node, d.batch)
	case graph.KindDistinct, graph.KindReduce:
		s.processPendingTimestamps(node, d.batch)
	}

	// The queued batch's support is no longer needed; whatever the
	// operator produced registered its own.
	src := spec.Inputs()[d.input.Port].Node
	for _, t := range d.batch.LowerBound().Timestamps() {
		s.queueFrontierDiff(pointstamp{Input: d.input, ScopePath: s.g.ScopePath(src), Timestamp: t}, -1)
	}
}

// finishAndEmit finishes b and emits the result downstream of node.
// Nothing is emitted when every accumulated diff canceled to zero (a Map
// collapsing two rows into one, a Join producing offsetting pairs).
func (s *Shard) finishAndEmit(node graph.NodeID, b *change.Builder) {
	if b.Len() == 0 {
		return
	}
	batch, err := b.Finish()
	if err != nil {
		return
	}
	s.emit(node, batch)
}

func (s *Shard) processMap(node graph.NodeID, fn graph.MapFunc, batch *change.Batch) {
	b := change.NewBuilder()
	for _, c := range batch.Changes() {
		b.Add(change.Change{Row: fn(c.Row), Timestamp: c.Timestamp, Diff: c.Diff})
	}
	s.finishAndEmit(node, b)
}

// processIndex holds every change as pending, each with a capability on
// this node at its own timestamp, until the input frontier passes it.
// Nothing is forwarded here; indexReaction does that.
func (s *Shard) processIndex(node graph.NodeID, batch *change.Batch) {
	st := s.states[node]
	for _, c := range batch.Changes() {
		cc := c.Clone()
		st.pendingChanges = append(st.pendingChanges, cc)
		s.queueFrontierDiff(pointstamp{
			Input:     graph.NodeInput{Node: node, Port: capabilityPort},
			ScopePath: s.g.ScopePath(node),
			Timestamp: cc.Timestamp,
		}, +1)
	}
}

func (s *Shard) processJoin(node graph.NodeID, spec graph.NodeSpec, port int, batch *change.Batch, limit int) {
	if port != 0 && port != 1 {
		panic(fmt.Sprintf("shard: join node %d received a batch on port %d", node, port))
	}
	keyColumns := spec.KeyColumns()
	otherIndex := s.states[spec.Inputs()[1-port].Node].index

	b := change.NewBuilder()
	for _, c := range batch.Changes() {
		for _, ob := range otherIndex.Batches()[:limit] {
			for _, oc := range ob.Changes() {
				if !keyPrefixEqual(c.Row, oc.Row, keyColumns) {
					continue
				}
				var row value.Row
				if port == 0 {
					row = concatRows(c.Row, oc.Row)
				} else {
					row = concatRows(oc.Row, c.Row)
				}
				b.Add(change.Change{
					Row:       row,
					Timestamp: timestamp.LeastUpperBound(c.Timestamp, oc.Timestamp),
					Diff:      c.Diff * oc.Diff,
				})
			}
		}
	}
	s.finishAndEmit(node, b)
}

func (s *Shard) processTimestampOp(node graph.NodeID, batch *change.Batch, op func(timestamp.Timestamp) timestamp.Timestamp) {
	b := change.NewBuilder()
	for _, c := range batch.Changes() {
		b.Add(change.Change{Row: c.Row, Timestamp: op(c.Timestamp), Diff: c.Diff})
	}
	s.finishAndEmit(node, b)
}

// processPendingTimestamps records, for a Distinct or Reduce node, every
// timestamp at which the output may change: each incoming change's
// timestamp, plus its least upper bound with every timestamp already
// pending, since an incomparable pair of changes may first interact at their
// join. Every newly pending timestamp registers a capability.
func (s *Shard) processPendingTimestamps(node graph.NodeID, batch *change.Batch) {
	st := s.states[node]
	for _, c := range batch.Changes() {
		existing := make([]timestamp.Timestamp, 0, len(st.pendingTimestamps))
		for _, u := range st.pendingTimestamps {
			existing = append(existing, u)
		}

		candidates := []timestamp.Timestamp{c.Timestamp}
		for _, u := range existing {
			candidates = append(candidates, timestamp.LeastUpperBound(c.Timestamp, u))
		}

		for _, t := range candidates {
			k := t.String()
			if _, ok := st.pendingTimestamps[k]; ok {
				continue
			}
			t = t.Clone()
			st.pendingTimestamps[k] = t
			s.queueFrontierDiff(pointstamp{
				Input:     graph.NodeInput{Node: node, Port: capabilityPort},
				ScopePath: s.g.ScopePath(node),
				Timestamp: t,
			}, +1)
		}
	}
}

// propagate drains the pointstamp-diff queue in minimum-first
// (could-result-in) order: each popped diff is transformed through its
// node's coordinate op and applied to that node's output support, and
// any resulting frontier changes fan out to every downstream NodeInput
// as further diffs. Minimum-first ordering is what makes this terminate
// across feedback edges: a retreating wave chasing an advancing one
// around a cycle meets and cancels in the queue instead of climbing
// iteration counts forever. Intermediate states are not globally
// consistent and must not be observed by operator logic; returns
// the set of nodes whose output frontier changed.
func (s *Shard) propagate() map[graph.NodeID]bool {
	changed := make(map[graph.NodeID]bool)
	var scratch []timestamp.Diff

	for {
		p, diff, ok := s.diffs.popMin()
		if !ok {
			break
		}
		s.obs.ProcessFrontierUpdate(observer.Pointstamp{
			Input:     p.Input,
			ScopePath: p.ScopePath,
			Timestamp: p.Timestamp,
		}, diff)

		node := p.Input.Node
		out := p.Timestamp
		if p.Input.Port >= 0 {
			// Diffs arriving over a real edge pass through the node's
			// coordinate op; capability and input-frontier support is
			// already in output coordinates.
			switch s.g.Spec(node).Kind() {
			case graph.KindTimestampPush:
				out = out.PushCoord()
			case graph.KindTimestampIncrement:
				out = out.IncrementCoord()
			case graph.KindTimestampPop:
				out = out.PopCoord()
			}
		}
		s.obs.ApplyFrontierUpdate(node, out, diff)

		scratch = s.states[node].outputSupport.Update(out, diff, scratch[:0])
		if len(scratch) > 0 {
			changed[node] = true
		}
		for _, fd := range scratch {
			for _, d := range s.g.Downstream(node) {
				s.queueFrontierDiff(pointstamp{Input: d, ScopePath: s.g.ScopePath(node), Timestamp: fd.Timestamp}, fd.Sign)
			}
		}
	}
	return changed
}

// react re-evaluates every Index, Distinct and Reduce node whose input
// frontier changed during the propagation pass, in node order.
func (s *Shard) react(changed map[graph.NodeID]bool) {
	targets := make(map[graph.NodeID]bool)
	for node := range changed {
		for _, d := range s.g.Downstream(node) {
			switch s.g.Spec(d.Node).Kind() {
			case graph.KindIndex, graph.KindDistinct, graph.KindReduce:
				targets[d.Node] = true
			}
		}
	}

	ordered := make([]graph.NodeID, 0, len(targets))
	for node := range targets {
		ordered = append(ordered, node)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })

	for _, node := range ordered {
		s.obs.ProcessFrontierUpdateReaction(node)
		switch s.g.Spec(node).Kind() {
		case graph.KindIndex:
			s.indexReaction(node)
		case graph.KindDistinct:
			s.distinctReaction(node)
		case graph.KindReduce:
			s.reduceReaction(node)
		}
	}
}

// inputFrontier returns the frontier bounding what can still arrive at a
// single-input node: its upstream node's output frontier. Only valid
// between work units, when no batch is queued on the edge.
func (s *Shard) inputFrontier(node graph.NodeID) *timestamp.Frontier {
	upstream := s.g.Spec(node).Inputs()[0].Node
	return s.states[upstream].outputSupport.Frontier()
}

// indexReaction appends every pending change the input frontier can no
// longer reach (no frontier element is at or before its timestamp) to
// the node's Index, forwards them downstream as one batch, and releases
// the capabilities they held.
func (s *Shard) indexReaction(node graph.NodeID) {
	st := s.states[node]
	f := s.inputFrontier(node)

	var kept []change.Change
	var released []timestamp.Timestamp
	b := change.NewBuilder()
	for _, c := range st.pendingChanges {
		if !f.HasPassed(c.Timestamp) {
			b.Add(c)
			released = append(released, c.Timestamp)
		} else {
			kept = append(kept, c)
		}
	}
	if len(released) == 0 {
		return
	}
	st.pendingChanges = kept

	if batch, err := b.Finish(); err == nil {
		st.index.Append(batch)
		s.emit(node, batch)
	}

	for _, t := range released {
		s.queueFrontierDiff(pointstamp{
			Input:     graph.NodeInput{Node: node, Port: capabilityPort},
			ScopePath: s.g.ScopePath(node),
			Timestamp: t,
		}, -1)
	}
}

// readyPendingTimestamps returns the pending timestamps the input
// frontier can no longer reach (no frontier element is at or before
// them), in lexical order, a total extension of
// the causal order, so each timestamp is evaluated only after every
// causally-earlier sibling's output has landed in the node's own Index.
func (s *Shard) readyPendingTimestamps(node graph.NodeID) []timestamp.Timestamp {
	st := s.states[node]
	f := s.inputFrontier(node)

	var ready []timestamp.Timestamp
	for _, t := range st.pendingTimestamps {
		if !f.HasPassed(t) {
			ready = append(ready, t)
		}
	}
	sort.Slice(ready, func(i, j int) bool {
		return timestamp.LexicalOrder(ready[i], ready[j]) == timestamp.Less
	})
	return ready
}

// resolvePendingTimestamp emits the per-timestamp output correction
// produced by target (the desired multiset at t), appends it to the
// node's own Index, and releases the timestamp's capability.
func (s *Shard) resolvePendingTimestamp(node graph.NodeID, t timestamp.Timestamp, target *change.Bag) {
	st := s.states[node]
	oldBag := change.AsOf(st.index, t)

	b := change.NewBuilder()
	for _, rc := range target.Rows() {
		if old := oldBag.Count(rc.Row); rc.Diff != old {
			b.Add(change.Change{Row: rc.Row, Timestamp: t, Diff: rc.Diff - old})
		}
	}
	for _, rc := range oldBag.Rows() {
		if target.Count(rc.Row) == 0 {
			b.Add(change.Change{Row: rc.Row, Timestamp: t, Diff: -rc.Diff})
		}
	}

	if b.Len() > 0 {
		if batch, err := b.Finish(); err == nil {
			st.index.Append(batch)
			s.emit(node, batch)
		}
	}

	delete(st.pendingTimestamps, t.String())
	s.queueFrontierDiff(pointstamp{
		Input:     graph.NodeInput{Node: node, Port: capabilityPort},
		ScopePath: s.g.ScopePath(node),
		Timestamp: t,
	}, -1)
}

// distinctReaction resolves every pending timestamp the input frontier
// can no longer reach: at each, the output becomes exactly one copy of
// every row with positive net input count. Rows with non-positive net
// count (including negative, which the input may legally carry) are
// excluded.
func (s *Shard) distinctReaction(node graph.NodeID) {
	upstream := s.g.Spec(node).Inputs()[0].Node
	inputIndex := s.states[upstream].index

	for _, t := range s.readyPendingTimestamps(node) {
		newBag := change.AsOf(inputIndex, t)
		target := change.NewBag()
		for _, rc := range newBag.Rows() {
			if rc.Diff > 0 {
				target.Set(rc.Row, 1)
			}
		}
		s.resolvePendingTimestamp(node, t, target)
	}
}

// reduceReaction resolves every ready pending timestamp of a Reduce node:
// at each, the input bag (every row repeated by its positive
// multiplicity, in row order) folds through the node's ReduceFunc into a
// single output row with count one, or into the empty output when the
// input bag is empty.
func (s *Shard) reduceReaction(node graph.NodeID) {
	spec := s.g.Spec(node)
	inputIndex := s.states[spec.Inputs()[0].Node].index
	fn := spec.ReduceFunc()

	for _, t := range s.readyPendingTimestamps(node) {
		newBag := change.AsOf(inputIndex, t)
		var rows []value.Row
		for _, rc := range newBag.Rows() {
			for i := int64(0); i < rc.Diff; i++ {
				rows = append(rows, rc.Row)
			}
		}
		sort.Slice(rows, func(i, j int) bool { return rows[i].Compare(rows[j]) < 0 })

		target := change.NewBag()
		if len(rows) > 0 {
			target.Set(fn(rows), 1)
		}
		s.resolvePendingTimestamp(node, t, target)
	}
}

func concatRows(a, b value.Row) value.Row {
	out := make(value.Row, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}

func keyPrefixEqual(a, b value.Row, k int) bool {
	if len(a) < k || len(b) < k {
		return false
	}
	for i := 0; i < k; i++ {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}
