package testutils

import (
	"sort"

	"github.com/l7mp/difflow/pkg/change"
	"github.com/l7mp/difflow/pkg/graph"
	"github.com/l7mp/difflow/pkg/shard"
	"github.com/l7mp/difflow/pkg/timestamp"
	"github.com/l7mp/difflow/pkg/value"
)

// Drain runs DoWork until the shard reports no work left, giving up
// after maxSteps. Returns the number of steps taken and whether the
// shard actually drained.
func Drain(s *shard.Shard, maxSteps int) (int, bool) {
	for steps := 0; steps < maxSteps; steps++ {
		if !s.HasWork() {
			return steps, true
		}
		s.DoWork()
	}
	return maxSteps, !s.HasWork()
}

// PopAll pops every queued batch from an Output node and coalesces the
// result per (row, timestamp), dropping zero sums. The result is sorted
// by row then timestamp.
func PopAll(s *shard.Shard, node graph.NodeID) []change.Change {
	type entry struct {
		row value.Row
		ts  timestamp.Timestamp
		sum int64
	}
	acc := make(map[string]*entry)
	for {
		batch, ok := s.PopOutput(node)
		if !ok {
			break
		}
		for _, c := range batch.Changes() {
			k := c.Row.Key() + "@" + c.Timestamp.String()
			e, ok := acc[k]
			if !ok {
				e = &entry{row: c.Row, ts: c.Timestamp}
				acc[k] = e
			}
			e.sum += c.Diff
		}
	}

	out := make([]change.Change, 0, len(acc))
	for _, e := range acc {
		if e.sum == 0 {
			continue
		}
		out = append(out, change.Change{Row: e.row, Timestamp: e.ts, Diff: e.sum})
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Row.Compare(out[j].Row); c != 0 {
			return c < 0
		}
		return timestamp.LexicalOrder(out[i].Timestamp, out[j].Timestamp) == timestamp.Less
	})
	return out
}
