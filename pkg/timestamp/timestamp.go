// Package timestamp implements the engine's vector-timestamp lattice:
// fixed-length coordinate vectors ordered by the causal (coordinate-wise)
// partial order, the lexical total order used only to break ties, and the
// Frontier/SupportedFrontier antichain types built on top of it.
package timestamp

import (
	"fmt"
	"strings"
)

// Order is the result of comparing two Timestamps (or a Timestamp against
// a Frontier).
type Order int

const (
	// Less means the left operand is strictly before the right.
	Less Order = iota - 1
	// Equal means the operands denote the same timestamp.
	Equal
	// Greater means the left operand is strictly after the right.
	Greater
	// None means the operands are causally incomparable.
	None
)

func (o Order) String() string {
	switch o {
	case Less:
		return "lt"
	case Equal:
		return "eq"
	case Greater:
		return "gt"
	default:
		return "none"
	}
}

// Timestamp is a fixed-length vector of unsigned integer coordinates.
// Timestamps of different length are never comparable; operations that
// require comparability panic on a length mismatch.
type Timestamp []uint64

// Least returns the all-zero Timestamp of the given length.
func Least(n int) Timestamp {
	return make(Timestamp, n)
}

// Len returns the number of coordinates.
func (t Timestamp) Len() int { return len(t) }

// Clone returns a deep copy, safe to mutate independently and safe to
// store in long-lived state without aliasing the caller's slice.
func (t Timestamp) Clone() Timestamp {
	out := make(Timestamp, len(t))
	copy(out, t)
	return out
}

// PushCoord returns a new Timestamp with an extra trailing zero
// coordinate, denoting entry into a nested scope.
func (t Timestamp) PushCoord() Timestamp {
	out := make(Timestamp, len(t)+1)
	copy(out, t)
	return out
}

// PopCoord returns a new Timestamp with the trailing coordinate dropped,
// denoting exit from a nested scope. Panics if t has no coordinates.
func (t Timestamp) PopCoord() Timestamp {
	if len(t) == 0 {
		panic("timestamp: popCoord on a length-0 timestamp")
	}
	out := make(Timestamp, len(t)-1)
	copy(out, t)
	return out
}

// IncrementCoord returns a new Timestamp with the trailing coordinate
// incremented by one, denoting one iteration of the innermost loop.
// Panics if t has no coordinates.
func (t Timestamp) IncrementCoord() Timestamp {
	if len(t) == 0 {
		panic("timestamp: incrementCoord on a length-0 timestamp")
	}
	out := t.Clone()
	out[len(out)-1]++
	return out
}

func requireSameLength(a, b Timestamp) {
	if len(a) != len(b) {
		panic(fmt.Sprintf("timestamp: comparing timestamps of unequal length (%d vs %d)", len(a), len(b)))
	}
}

// CausalOrder compares a and b coordinate-wise. The result is Less/Equal/
// Greater only if every coordinate pair agrees on that relation; otherwise
// it is None. Panics if a and b have different lengths.
func CausalOrder(a, b Timestamp) Order {
	requireSameLength(a, b)

	sawLess, sawGreater := false, false
	for i := range a {
		switch {
		case a[i] < b[i]:
			sawLess = true
		case a[i] > b[i]:
			sawGreater = true
		}
	}
	switch {
	case sawLess && sawGreater:
		return None
	case sawLess:
		return Less
	case sawGreater:
		return Greater
	default:
		return Equal
	}
}

// LexicalOrder is a total order extending CausalOrder, used only as a
// tiebreaker (e.g. Distinct's evaluation order within a frontier
// advance). It compares coordinates left to right.
func LexicalOrder(a, b Timestamp) Order {
	requireSameLength(a, b)

	for i := range a {
		switch {
		case a[i] < b[i]:
			return Less
		case a[i] > b[i]:
			return Greater
		}
	}
	return Equal
}

// LeastUpperBound returns the coordinate-wise maximum of a and b. Panics
// on a length mismatch.
func LeastUpperBound(a, b Timestamp) Timestamp {
	requireSameLength(a, b)

	out := make(Timestamp, len(a))
	for i := range a {
		if a[i] >= b[i] {
			out[i] = a[i]
		} else {
			out[i] = b[i]
		}
	}
	return out
}

// Equal reports whether a and b denote the same timestamp. Timestamps of
// different length are never equal (no panic: this is a plain boolean
// query, not a partial-order comparison).
func (t Timestamp) Equal(other Timestamp) bool {
	if len(t) != len(other) {
		return false
	}
	for i := range t {
		if t[i] != other[i] {
			return false
		}
	}
	return true
}

// String renders t for debugging, e.g. "[0,1]".
func (t Timestamp) String() string {
	parts := make([]string, len(t))
	for i, c := range t {
		parts[i] = fmt.Sprintf("%d", c)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
