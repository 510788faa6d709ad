package timestamp

// SupportedFrontier is a reference-counted multiset of Timestamps whose
// Frontier is the antichain of minima of the support set. Every timestamp
// a node still depends on (queued input, a held capability, an unreleased
// pending change) holds one or more units of support; the derived
// Frontier only ever reports timestamps that still have support,
// directly or through domination.
type SupportedFrontier struct {
	support  map[string]int
	byKey    map[string]Timestamp
	frontier *Frontier
}

// NewSupportedFrontier returns an empty SupportedFrontier.
func NewSupportedFrontier() *SupportedFrontier {
	return &SupportedFrontier{
		support:  make(map[string]int),
		byKey:    make(map[string]Timestamp),
		frontier: NewFrontier(),
	}
}

// Frontier returns the antichain of minima of the support set. Callers
// must not mutate it.
func (s *SupportedFrontier) Frontier() *Frontier {
	return s.frontier
}

func key(t Timestamp) string {
	return t.String()
}

// Update changes the support count for t by diff (positive to add
// support, negative to release it) and appends the resulting Frontier
// diffs to out. Driving the count negative is a programmer error.
//
// The derived Frontier is always exactly the minima of the support
// set: when t's count drops to zero it is removed from the support set
// and, if it had been on the frontier, previously-shadowed minima are
// admitted by rescanning the remaining support. When t is newly
// supported it is admitted the same way, evicting any now-dominated
// elements.
func (s *SupportedFrontier) Update(t Timestamp, diff int, out []Diff) []Diff {
	k := key(t)
	count := s.support[k] + diff
	if count < 0 {
		panic("timestamp: supported frontier support count went negative")
	}

	if count == 0 {
		delete(s.support, k)
		delete(s.byKey, k)
	} else {
		s.support[k] = count
		s.byKey[k] = t
	}

	return s.recompute(out)
}

// recompute derives the minima of the current support set and reports
// the diff against the previously-derived frontier.
func (s *SupportedFrontier) recompute(out []Diff) []Diff {
	remaining := make([]Timestamp, 0, len(s.byKey))
	for _, rt := range s.byKey {
		remaining = append(remaining, rt)
	}
	newMinima := minima(remaining)

	before := s.frontier.Timestamps()
	for _, e := range before {
		if !containsTimestamp(newMinima, e) {
			out = append(out, Diff{Timestamp: e, Sign: -1})
		}
	}
	for _, e := range newMinima {
		if !containsTimestamp(before, e) {
			out = append(out, Diff{Timestamp: e, Sign: +1})
		}
	}
	s.frontier = &Frontier{elems: newMinima}
	return out
}

// minima returns the pairwise-incomparable minimal elements of ts: those
// not strictly dominated (causally exceeded) by any other element.
func minima(ts []Timestamp) []Timestamp {
	var out []Timestamp
	for i, t := range ts {
		dominated := false
		for j, other := range ts {
			if i == j {
				continue
			}
			if CausalOrder(other, t) == Less {
				dominated = true
				break
			}
		}
		if !dominated {
			out = append(out, t)
		}
	}
	return dedupTimestamps(out)
}

func dedupTimestamps(ts []Timestamp) []Timestamp {
	out := make([]Timestamp, 0, len(ts))
	for _, t := range ts {
		if !containsTimestamp(out, t) {
			out = append(out, t)
		}
	}
	return out
}

func containsTimestamp(ts []Timestamp, t Timestamp) bool {
	for _, e := range ts {
		if e.Equal(t) {
			return true
		}
	}
	return false
}

// Support returns the current support count for t (0 if unsupported).
func (s *SupportedFrontier) Support(t Timestamp) int {
	return s.support[key(t)]
}

// SupportedTimestamps returns every timestamp with positive support, in
// unspecified order. Used by invariant checks (the derived frontier must
// equal the minima of this set) and by state snapshots.
func (s *SupportedFrontier) SupportedTimestamps() []Timestamp {
	out := make([]Timestamp, 0, len(s.byKey))
	for _, t := range s.byKey {
		out = append(out, t)
	}
	return out
}
