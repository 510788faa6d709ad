package timestamp

import "fmt"

// Diff reports that timestamp T entered (Sign == +1) or left (Sign == -1)
// an antichain.
type Diff struct {
	Timestamp Timestamp
	Sign      int
}

// Frontier is an antichain: a set of pairwise causally-incomparable
// Timestamps bounding what remains possible in the future. The zero value
// is the empty frontier (nothing remains possible, a closed system).
type Frontier struct {
	elems []Timestamp
}

// NewFrontier returns an empty Frontier.
func NewFrontier() *Frontier {
	return &Frontier{}
}

// Timestamps returns the antichain's elements. Callers must not mutate
// the returned slice or its elements.
func (f *Frontier) Timestamps() []Timestamp {
	return f.elems
}

// Len returns the number of elements in the antichain.
func (f *Frontier) Len() int { return len(f.elems) }

// Clone returns a deep copy of the antichain.
func (f *Frontier) Clone() *Frontier {
	elems := make([]Timestamp, len(f.elems))
	for i, e := range f.elems {
		elems[i] = e.Clone()
	}
	return &Frontier{elems: elems}
}

// CausalOrder compares the frontier against t: Less if some element is
// strictly before t, Equal if an element equals t, Greater if t is
// strictly before every element, None otherwise (t is incomparable with
// at least one element and not dominated by any).
func (f *Frontier) CausalOrder(t Timestamp) Order {
	if len(f.elems) == 0 {
		return Greater
	}

	sawEqual := false
	allGreater := true
	for _, e := range f.elems {
		switch CausalOrder(e, t) {
		case Less:
			return Less
		case Equal:
			sawEqual = true
		case Greater:
			// t is before this element; keep scanning.
		case None:
			allGreater = false
		}
	}
	if sawEqual {
		return Equal
	}
	if allGreater {
		return Greater
	}
	return None
}

// HasPassed reports whether the frontier has passed t, i.e. the
// comparison is Less or Equal.
func (f *Frontier) HasPassed(t Timestamp) bool {
	o := f.CausalOrder(t)
	return o == Less || o == Equal
}

func (f *Frontier) indexOf(t Timestamp) int {
	for i, e := range f.elems {
		if e.Equal(t) {
			return i
		}
	}
	return -1
}

// Advance inserts t into the antichain, evicting any elements t
// dominates (elements strictly before t, which t now supersedes as the
// tighter bound on that branch). Requires that t is not less than any
// current element; once that holds, every element is either equal
// to t, strictly before t, or incomparable with it. No-op if t is
// already present.
func (f *Frontier) Advance(t Timestamp, out []Diff) []Diff {
	for _, e := range f.elems {
		if len(e) != len(t) {
			panic(fmt.Sprintf("frontier: advance with mismatched timestamp length (%d vs %d)", len(e), len(t)))
		}
		if CausalOrder(t, e) == Less {
			panic("frontier: advance would retreat the frontier (t is less than an existing element)")
		}
	}

	if f.indexOf(t) != -1 {
		return out
	}

	kept := f.elems[:0:0]
	for _, e := range f.elems {
		if CausalOrder(e, t) == Less {
			out = append(out, Diff{Timestamp: e, Sign: -1})
			continue
		}
		kept = append(kept, e)
	}
	kept = append(kept, t)
	out = append(out, Diff{Timestamp: t, Sign: +1})
	f.elems = kept
	return out
}

// Retreat inserts t into the antichain, evicting any elements t is
// strictly before. Requires that t is not greater than any current
// element; once that holds, every element is either equal to t,
// strictly after t, or incomparable with it. No-op if t is already
// present.
func (f *Frontier) Retreat(t Timestamp, out []Diff) []Diff {
	for _, e := range f.elems {
		if len(e) != len(t) {
			panic(fmt.Sprintf("frontier: retreat with mismatched timestamp length (%d vs %d)", len(e), len(t)))
		}
		if CausalOrder(t, e) == Greater {
			panic("frontier: retreat would advance the frontier (t is greater than an existing element)")
		}
	}

	if f.indexOf(t) != -1 {
		return out
	}

	kept := f.elems[:0:0]
	for _, e := range f.elems {
		if CausalOrder(t, e) == Less {
			out = append(out, Diff{Timestamp: e, Sign: -1})
			continue
		}
		kept = append(kept, e)
	}
	kept = append(kept, t)
	out = append(out, Diff{Timestamp: t, Sign: +1})
	f.elems = kept
	return out
}

// LowerBound returns the antichain of minimal elements of ts: the
// frontier obtained by retreating an empty Frontier through every
// timestamp in ts. Unlike the public
// Retreat method, timestamps may be supplied in any order; there is no
// "not greater than" precondition on the caller since this always
// starts from nothing.
func LowerBound(ts []Timestamp) *Frontier {
	return &Frontier{elems: minima(ts)}
}

// String renders the antichain for debugging.
func (f *Frontier) String() string {
	s := "{"
	for i, e := range f.elems {
		if i > 0 {
			s += ", "
		}
		s += e.String()
	}
	return s + "}"
}
