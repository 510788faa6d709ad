// Package change implements the engine's unit of data motion: the
// Change and the immutable, sorted-and-coalesced ChangeBatch built from
// it, along with the append-only Index that materializes a Bag (a row
// multiset) as of a timestamp.
package change

import (
	"fmt"
	"sort"

	"github.com/l7mp/difflow/pkg/timestamp"
	"github.com/l7mp/difflow/pkg/value"
)

// Change is a single weighted event: row r gained (diff > 0) or lost
// (diff < 0) |diff| copies at timestamp t.
type Change struct {
	Row       value.Row
	Timestamp timestamp.Timestamp
	Diff      int64
}

// Clone returns a deep copy, safe to store in long-lived state without
// aliasing the caller's Row/Timestamp slices.
func (c Change) Clone() Change {
	return Change{Row: c.Row.Clone(), Timestamp: c.Timestamp.Clone(), Diff: c.Diff}
}

// Batch is an immutable, non-empty, sorted-and-coalesced group of Changes:
// sorted by (Row, Timestamp) with no duplicate (Row, Timestamp) pairs and
// no zero-diff entries, plus a precomputed LowerBound antichain: the
// minimal timestamps appearing in the batch.
type Batch struct {
	changes    []Change
	lowerBound *timestamp.Frontier
}

// Changes returns the batch's changes in sorted order. Callers must not
// mutate the returned slice or its elements.
func (b *Batch) Changes() []Change { return b.changes }

// LowerBound returns the batch's lower-bound antichain. Callers must not
// mutate it.
func (b *Batch) LowerBound() *timestamp.Frontier { return b.lowerBound }

// Len returns the number of changes in the batch.
func (b *Batch) Len() int { return len(b.changes) }

// Clone returns a deep copy of the batch, the snapshot primitive a host
// taking state snapshots is expected to use. The copy shares nothing
// with the original.
func (b *Batch) Clone() *Batch {
	changes := make([]Change, len(b.changes))
	for i, c := range b.changes {
		changes[i] = c.Clone()
	}
	return &Batch{changes: changes, lowerBound: b.lowerBound.Clone()}
}

func rowTimestampLess(a, b Change) bool {
	if c := a.Row.Compare(b.Row); c != 0 {
		return c < 0
	}
	return timestamp.LexicalOrder(a.Timestamp, b.Timestamp) == timestamp.Less
}

// Builder accumulates Changes and finishes them into a Batch: sorted,
// coalesced (identical (Row, Timestamp) pairs summed, zero results
// dropped), with a derived lower bound.
type Builder struct {
	pending []Change
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Add appends a Change to the builder. The Change is not validated or
// coalesced until Finish.
func (b *Builder) Add(c Change) {
	b.pending = append(b.pending, c.Clone())
}

// Len returns the number of changes added so far (pre-coalescing).
func (b *Builder) Len() int { return len(b.pending) }

// Finish sorts and coalesces the accumulated changes into a Batch and
// resets the builder. Returns an error if the result would be empty,
// either because nothing was added, or because every accumulated diff at
// a given (Row, Timestamp) canceled to zero.
func (b *Builder) Finish() (*Batch, error) {
	if len(b.pending) == 0 {
		return nil, fmt.Errorf("change: cannot finish an empty batch")
	}

	sorted := make([]Change, len(b.pending))
	copy(sorted, b.pending)
	b.pending = nil

	sort.SliceStable(sorted, func(i, j int) bool { return rowTimestampLess(sorted[i], sorted[j]) })

	coalesced := make([]Change, 0, len(sorted))
	i := 0
	for i < len(sorted) {
		j := i + 1
		sum := sorted[i].Diff
		for j < len(sorted) && sorted[j].Row.Equal(sorted[i].Row) && sorted[j].Timestamp.Equal(sorted[i].Timestamp) {
			sum += sorted[j].Diff
			j++
		}
		if sum != 0 {
			coalesced = append(coalesced, Change{Row: sorted[i].Row, Timestamp: sorted[i].Timestamp, Diff: sum})
		}
		i = j
	}

	if len(coalesced) == 0 {
		return nil, fmt.Errorf("change: all diffs canceled to zero, refusing to build an empty batch")
	}

	ts := make([]timestamp.Timestamp, len(coalesced))
	for i, c := range coalesced {
		ts[i] = c.Timestamp
	}

	return &Batch{
		changes:    coalesced,
		lowerBound: timestamp.LowerBound(ts),
	}, nil
}

// FromChanges is a convenience constructor equivalent to adding every
// element of cs to a fresh Builder and calling Finish.
func FromChanges(cs []Change) (*Batch, error) {
	b := NewBuilder()
	for _, c := range cs {
		b.Add(c)
	}
	return b.Finish()
}
