// Package shard implements the executor: the single orchestrator that owns
// every node's mutable state, routes ChangeBatches along graph edges, and
// runs the progress-tracking protocol that decides when an operator may
// treat a timestamp as finished. The graph may contain feedback edges, so
// progress flows as pointstamp diffs processed in could-result-in order
// rather than as a per-node topological sweep.
package shard

import (
	"fmt"

	"github.com/l7mp/difflow/pkg/graph"
	"github.com/l7mp/difflow/pkg/timestamp"
)

// pointstamp is the atom of progress tracking: a NodeInput (which input
// port this diff concerns), the scope path of that input's node, and a
// Timestamp. Two extra, node-local port values
// (capabilityPort and inputFrontierPort) are used beyond the real 0/1 input
// ports to track support held directly by a node rather than arriving over
// an edge; see state.go.
type pointstamp struct {
	Input     graph.NodeInput
	ScopePath []graph.SubgraphID
	Timestamp timestamp.Timestamp
}

// capabilityPort and inputFrontierPort are reserved NodeInput.Port values,
// disjoint from the 0/1 ports a real edge ever uses, for the two kinds of
// support a node can hold without anything queued on an edge: a held
// processing capability (Index's pending_changes, Distinct's
// pending_timestamps) and an Input node's own configured frontier.
const (
	capabilityPort    = -1
	inputFrontierPort = -2
)

func (p pointstamp) String() string {
	return fmt.Sprintf("%s@%v/%s", p.Input, p.ScopePath, p.Timestamp)
}

func (p pointstamp) key() string {
	return p.String()
}

// compare implements the could-result-in order: walk the shared
// prefix of scope paths comparing subgraph id then timestamp coordinate at
// each depth; the first disagreement decides. If one scope path is a
// prefix of the other (so one pointstamp's timestamp can influence the
// other's, e.g. an inner iteration feeding an outer one), fall through to
// comparing node id then input port. Returns -1, 0, or +1.
func compare(a, b pointstamp) int {
	n := len(a.ScopePath)
	if len(b.ScopePath) < n {
		n = len(b.ScopePath)
	}
	for i := 0; i < n; i++ {
		if a.ScopePath[i] != b.ScopePath[i] {
			return compareInt(int(a.ScopePath[i]), int(b.ScopePath[i]))
		}
		if i < len(a.Timestamp) && i < len(b.Timestamp) {
			if a.Timestamp[i] != b.Timestamp[i] {
				return compareUint(a.Timestamp[i], b.Timestamp[i])
			}
		}
	}
	if a.Input.Node != b.Input.Node {
		return compareInt(int(a.Input.Node), int(b.Input.Node))
	}
	return compareInt(a.Input.Port, b.Input.Port)
}

func compareInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareUint(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// diffQueue holds the unprocessed pointstamp diffs: pointstamp to signed
// count, plus minimum-first (could-result-in order) extraction.
// Implemented as a plain map with a linear scan for the minimum, like
// SupportedFrontier's recompute-by-scanning, rather than a heap; the
// engine favors simple structures over asymptotic optimality throughout.
type diffQueue struct {
	entries map[string]*queueEntry
}

type queueEntry struct {
	p     pointstamp
	count int
}

func newDiffQueue() *diffQueue {
	return &diffQueue{entries: make(map[string]*queueEntry)}
}

// add records a diff at p, dropping the entry if the running count returns
// to zero.
func (q *diffQueue) add(p pointstamp, diff int) {
	k := p.key()
	e, ok := q.entries[k]
	if !ok {
		if diff == 0 {
			return
		}
		q.entries[k] = &queueEntry{p: p, count: diff}
		return
	}
	e.count += diff
	if e.count == 0 {
		delete(q.entries, k)
	}
}

// empty reports whether any pointstamp carries a nonzero diff.
func (q *diffQueue) empty() bool {
	return len(q.entries) == 0
}

// popMin removes and returns the minimum pointstamp (could-result-in
// order) with its signed count, and true. Returns false if the queue is
// empty.
func (q *diffQueue) popMin() (pointstamp, int, bool) {
	var minKey string
	var min *queueEntry
	for k, e := range q.entries {
		if min == nil || compare(e.p, min.p) < 0 {
			min = e
			minKey = k
		}
	}
	if min == nil {
		return pointstamp{}, 0, false
	}
	delete(q.entries, minKey)
	return min.p, min.count, true
}
