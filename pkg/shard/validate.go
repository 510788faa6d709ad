package shard

import (
	"fmt"

	"github.com/l7mp/difflow/pkg/graph"
	"github.com/l7mp/difflow/pkg/timestamp"
)

// Validate checks the Shard's externally observable invariants: every
// frontier is an antichain, every supported frontier equals the minima
// of its support set, every queued batch's lower bound precedes each of
// its changes, and, once the Shard is drained, every Distinct or
// Reduce node's pending timestamps are still ahead of its input
// frontier. Hosts and tests run this between work units; it never
// mutates state.
func (s *Shard) Validate() error {
	for id := 0; id < s.g.NumNodes(); id++ {
		node := graph.NodeID(id)
		st := s.states[id]

		if err := validateAntichain(st.outputSupport.Frontier()); err != nil {
			return fmt.Errorf("node %d output frontier: %w", id, err)
		}
		if err := validateSupport(st.outputSupport); err != nil {
			return fmt.Errorf("node %d output support: %w", id, err)
		}

		if st.inputFrontier != nil {
			if err := validateAntichain(st.inputFrontier); err != nil {
				return fmt.Errorf("node %d input frontier: %w", id, err)
			}
		}

		if st.pendingTimestamps != nil && !s.HasWork() {
			f := s.inputFrontier(node)
			for _, t := range st.pendingTimestamps {
				if !f.HasPassed(t) {
					return fmt.Errorf("node %d: pending timestamp %s already passed by input frontier %s after drain", id, t, f)
				}
			}
		}
	}

	for _, d := range s.deliveries {
		lb := d.batch.LowerBound()
		for _, c := range d.batch.Changes() {
			switch lb.CausalOrder(c.Timestamp) {
			case timestamp.Less, timestamp.Equal:
			default:
				return fmt.Errorf("queued batch at %s: change timestamp %s not bounded by lower bound %s", d.input, c.Timestamp, lb)
			}
		}
	}

	return nil
}

func validateAntichain(f *timestamp.Frontier) error {
	ts := f.Timestamps()
	for i, a := range ts {
		for j, b := range ts {
			if i == j {
				continue
			}
			if timestamp.CausalOrder(a, b) != timestamp.None {
				return fmt.Errorf("elements %s and %s are causally comparable", a, b)
			}
		}
	}
	return nil
}

func validateSupport(sf *timestamp.SupportedFrontier) error {
	supported := sf.SupportedTimestamps()
	frontier := sf.Frontier().Timestamps()

	for _, t := range supported {
		if sf.Support(t) <= 0 {
			return fmt.Errorf("timestamp %s has non-positive support", t)
		}
	}

	// The frontier must be exactly the minima of the support set.
	for _, e := range frontier {
		if sf.Support(e) == 0 {
			return fmt.Errorf("frontier element %s has no support", e)
		}
	}
	for _, t := range supported {
		dominated := false
		onFrontier := false
		for _, e := range frontier {
			switch timestamp.CausalOrder(e, t) {
			case timestamp.Less:
				dominated = true
			case timestamp.Equal:
				onFrontier = true
			}
		}
		if !dominated && !onFrontier {
			return fmt.Errorf("supported timestamp %s is neither on the frontier nor dominated by it", t)
		}
	}
	return nil
}
