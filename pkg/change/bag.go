package change

import (
	"github.com/l7mp/difflow/pkg/timestamp"
	"github.com/l7mp/difflow/pkg/value"
)

// Index is the append-only log of Batches a node has accepted: the
// durable record an operator replays over to materialize a Bag as of any
// timestamp. It keeps whole batches instead of flattening into a single
// running multiset, since replay-as-of-t needs the per-batch timestamps.
type Index struct {
	batches []*Batch
}

// NewIndex returns an empty Index.
func NewIndex() *Index {
	return &Index{}
}

// Append adds a batch to the index. O(1).
func (idx *Index) Append(b *Batch) {
	idx.batches = append(idx.batches, b)
}

// Batches returns the batches appended so far, in append order. Callers
// must not mutate the returned slice.
func (idx *Index) Batches() []*Batch {
	return idx.batches
}

// Len returns the number of batches appended so far.
func (idx *Index) Len() int { return len(idx.batches) }

// Bag is a materialized row multiset: the set of rows present (with
// nonzero net multiplicity) as of some timestamp. Construct with NewBag:
// a zero-value Bag reads as empty, but Set on it panics.
type Bag struct {
	counts map[string]int64
	rows   map[string]value.Row
}

// NewBag returns an empty Bag.
func NewBag() *Bag {
	return &Bag{counts: make(map[string]int64), rows: make(map[string]value.Row)}
}

// Count returns r's current multiplicity (0 if absent).
func (b *Bag) Count(r value.Row) int64 {
	return b.counts[r.Key()]
}

// Rows returns the rows with nonzero multiplicity, each paired with its
// count. Order is unspecified.
func (b *Bag) Rows() []Change {
	out := make([]Change, 0, len(b.rows))
	for k, r := range b.rows {
		out = append(out, Change{Row: r, Diff: b.counts[k]})
	}
	return out
}

// Len returns the number of distinct rows with nonzero multiplicity.
func (b *Bag) Len() int { return len(b.rows) }

// Set assigns r's multiplicity outright, dropping the entry when count
// is zero.
func (b *Bag) Set(r value.Row, count int64) {
	k := r.Key()
	if count == 0 {
		delete(b.counts, k)
		delete(b.rows, k)
		return
	}
	b.counts[k] = count
	b.rows[k] = r
}

// apply folds a single (row, diff) into the bag, dropping the entry if
// the resulting count is zero.
func (b *Bag) apply(r value.Row, diff int64) {
	k := r.Key()
	count := b.counts[k] + diff
	if count == 0 {
		delete(b.counts, k)
		delete(b.rows, k)
		return
	}
	b.counts[k] = count
	b.rows[k] = r
}

// AsOf materializes the Bag of all changes in the index with a timestamp
// not after t. Batches whose LowerBound has not passed t cannot contain
// any such change (every change dominates some lower-bound element) and
// are skipped wholesale; the rest are scanned change-by-change, since t
// may fall strictly inside a batch's timestamp range.
func AsOf(idx *Index, t timestamp.Timestamp) *Bag {
	bag := NewBag()
	for _, batch := range idx.batches {
		if !batch.LowerBound().HasPassed(t) {
			continue
		}
		for _, c := range batch.Changes() {
			switch timestamp.CausalOrder(c.Timestamp, t) {
			case timestamp.Less, timestamp.Equal:
				bag.apply(c.Row, c.Diff)
			}
		}
	}
	return bag
}
