package shard_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/l7mp/difflow/internal/testutils"
	"github.com/l7mp/difflow/pkg/change"
	"github.com/l7mp/difflow/pkg/graph"
	"github.com/l7mp/difflow/pkg/shard"
	"github.com/l7mp/difflow/pkg/timestamp"
	"github.com/l7mp/difflow/pkg/value"
)

const maxSteps = 100000

func drain(s *shard.Shard) {
	GinkgoHelper()
	steps, ok := testutils.Drain(s, maxSteps)
	Expect(ok).To(BeTrue(), "shard did not drain in %d steps", steps)
	Expect(s.Validate()).To(Succeed())
}

// linearGraph is Input -> Map -> Output at the root scope.
func linearGraph(fn graph.MapFunc) (*graph.Graph, graph.NodeID, graph.NodeID) {
	b := graph.NewBuilder()
	in, err := b.AddInput(graph.RootSubgraph)
	Expect(err).NotTo(HaveOccurred())
	m, err := b.AddMap(graph.RootSubgraph, graph.NodeInput{Node: in, Port: 0}, fn)
	Expect(err).NotTo(HaveOccurred())
	out, err := b.AddOutput(graph.RootSubgraph, graph.NodeInput{Node: m, Port: 0})
	Expect(err).NotTo(HaveOccurred())
	g, err := b.Finish()
	Expect(err).NotTo(HaveOccurred())
	return g, in, out
}

// distinctGraph is Input -> Index -> Distinct -> Output at the root scope.
func distinctGraph() (*graph.Graph, graph.NodeID, graph.NodeID) {
	b := graph.NewBuilder()
	in, err := b.AddInput(graph.RootSubgraph)
	Expect(err).NotTo(HaveOccurred())
	idx, err := b.AddIndex(graph.RootSubgraph, graph.NodeInput{Node: in, Port: 0})
	Expect(err).NotTo(HaveOccurred())
	d, err := b.AddDistinct(graph.RootSubgraph, graph.NodeInput{Node: idx, Port: 0})
	Expect(err).NotTo(HaveOccurred())
	out, err := b.AddOutput(graph.RootSubgraph, graph.NodeInput{Node: d, Port: 0})
	Expect(err).NotTo(HaveOccurred())
	g, err := b.Finish()
	Expect(err).NotTo(HaveOccurred())
	return g, in, out
}

// joinGraph is two Input -> Index chains meeting in a Join keyed on the
// first column, followed by an Output.
func joinGraph() (*graph.Graph, graph.NodeID, graph.NodeID, graph.NodeID) {
	b := graph.NewBuilder()
	left, err := b.AddInput(graph.RootSubgraph)
	Expect(err).NotTo(HaveOccurred())
	right, err := b.AddInput(graph.RootSubgraph)
	Expect(err).NotTo(HaveOccurred())
	leftIdx, err := b.AddIndex(graph.RootSubgraph, graph.NodeInput{Node: left, Port: 0})
	Expect(err).NotTo(HaveOccurred())
	rightIdx, err := b.AddIndex(graph.RootSubgraph, graph.NodeInput{Node: right, Port: 0})
	Expect(err).NotTo(HaveOccurred())
	j, err := b.AddJoin(graph.RootSubgraph,
		graph.NodeInput{Node: leftIdx, Port: 0},
		graph.NodeInput{Node: rightIdx, Port: 0}, 1)
	Expect(err).NotTo(HaveOccurred())
	out, err := b.AddOutput(graph.RootSubgraph, graph.NodeInput{Node: j, Port: 0})
	Expect(err).NotTo(HaveOccurred())
	g, err := b.Finish()
	Expect(err).NotTo(HaveOccurred())
	return g, left, right, out
}

func pairs(cs []change.Change) map[string]int64 {
	out := make(map[string]int64)
	for _, c := range cs {
		out[c.Row.String()+"@"+c.Timestamp.String()] = c.Diff
	}
	return out
}

var _ = Describe("Shard", func() {
	Describe("input handling", func() {
		It("rejects a push below the input frontier", func() {
			g, in, _ := linearGraph(func(r value.Row) value.Row { return r })
			s := shard.New(g, nil)

			Expect(s.AdvanceInput(in, testutils.TS(2))).To(Succeed())
			drain(s)

			err := s.PushInput(in, change.Change{Row: testutils.R("a"), Timestamp: testutils.TS(1), Diff: 1})
			Expect(err).To(HaveOccurred())
		})

		It("rejects pushes to a non-input node", func() {
			g, _, out := linearGraph(func(r value.Row) value.Row { return r })
			s := shard.New(g, nil)

			err := s.PushInput(out, change.Change{Row: testutils.R("a"), Timestamp: testutils.TS(0), Diff: 1})
			Expect(err).To(HaveOccurred())
		})

		It("flushing with nothing pushed is a no-op", func() {
			g, in, out := linearGraph(func(r value.Row) value.Row { return r })
			s := shard.New(g, nil)

			Expect(s.FlushInput(in)).To(Succeed())
			Expect(s.HasWork()).To(BeFalse())
			_, ok := s.PopOutput(out)
			Expect(ok).To(BeFalse())
		})

		It("reports an error when every pushed diff cancels to zero", func() {
			g, in, _ := linearGraph(func(r value.Row) value.Row { return r })
			s := shard.New(g, nil)

			r := testutils.R("r")
			Expect(s.PushInput(in, change.Change{Row: r, Timestamp: testutils.TS(0), Diff: 1})).To(Succeed())
			Expect(s.PushInput(in, change.Change{Row: r, Timestamp: testutils.TS(0), Diff: 1})).To(Succeed())
			Expect(s.PushInput(in, change.Change{Row: r, Timestamp: testutils.TS(0), Diff: -2})).To(Succeed())
			Expect(s.FlushInput(in)).NotTo(Succeed())
		})
	})

	Describe("Map", func() {
		It("maps rows through the user function, preserving timestamp and diff", func() {
			g, in, out := linearGraph(func(r value.Row) value.Row {
				str, _ := r[0].AsString()
				return value.Row{value.String(str + "!")}
			})
			s := shard.New(g, nil)

			Expect(s.PushInput(in, change.Change{Row: testutils.R("a"), Timestamp: testutils.TS(0), Diff: 2})).To(Succeed())
			Expect(s.FlushInput(in)).To(Succeed())
			drain(s)

			got := testutils.PopAll(s, out)
			Expect(got).To(HaveLen(1))
			Expect(got[0].Row.Equal(testutils.R("a!"))).To(BeTrue())
			Expect(got[0].Timestamp.Equal(testutils.TS(0))).To(BeTrue())
			Expect(got[0].Diff).To(Equal(int64(2)))
		})
	})

	Describe("Index", func() {
		It("holds changes until the input frontier passes them", func() {
			b := graph.NewBuilder()
			in, _ := b.AddInput(graph.RootSubgraph)
			idx, _ := b.AddIndex(graph.RootSubgraph, graph.NodeInput{Node: in, Port: 0})
			out, _ := b.AddOutput(graph.RootSubgraph, graph.NodeInput{Node: idx, Port: 0})
			g, err := b.Finish()
			Expect(err).NotTo(HaveOccurred())
			s := shard.New(g, nil)

			Expect(s.PushInput(in, change.Change{Row: testutils.R("a"), Timestamp: testutils.TS(0), Diff: 1})).To(Succeed())
			Expect(s.FlushInput(in)).To(Succeed())
			drain(s)

			_, ok := s.PopOutput(out)
			Expect(ok).To(BeFalse(), "index forwarded a change the frontier has not passed")

			Expect(s.AdvanceInput(in, testutils.TS(1))).To(Succeed())
			drain(s)

			got := testutils.PopAll(s, out)
			Expect(got).To(HaveLen(1))
			Expect(got[0].Row.Equal(testutils.R("a"))).To(BeTrue())
			Expect(got[0].Diff).To(Equal(int64(1)))
		})
	})

	Describe("Join", func() {
		It("joins staggered arrivals on the key prefix", func() {
			g, left, right, out := joinGraph()
			s := shard.New(g, nil)

			Expect(s.PushInput(left, change.Change{Row: testutils.R("k", "x"), Timestamp: testutils.TS(0), Diff: 2})).To(Succeed())
			Expect(s.AdvanceInput(left, testutils.TS(1))).To(Succeed())
			drain(s)

			Expect(s.PushInput(right, change.Change{Row: testutils.R("k", "y"), Timestamp: testutils.TS(0), Diff: 3})).To(Succeed())
			Expect(s.PushInput(right, change.Change{Row: testutils.R("other", "z"), Timestamp: testutils.TS(0), Diff: 1})).To(Succeed())
			Expect(s.AdvanceInput(right, testutils.TS(1))).To(Succeed())
			drain(s)

			got := testutils.PopAll(s, out)
			Expect(got).To(HaveLen(1))
			Expect(got[0].Row.Equal(testutils.R("k", "x", "k", "y"))).To(BeTrue(), "got %s", got[0].Row)
			Expect(got[0].Timestamp.Equal(testutils.TS(0))).To(BeTrue())
			Expect(got[0].Diff).To(Equal(int64(6)), "diff must be the product of the matched diffs")
		})

		It("counts each matching pair exactly once when both sides arrive together", func() {
			g, left, right, out := joinGraph()
			s := shard.New(g, nil)

			Expect(s.PushInput(left, change.Change{Row: testutils.R("k", "x"), Timestamp: testutils.TS(0), Diff: 1})).To(Succeed())
			Expect(s.PushInput(right, change.Change{Row: testutils.R("k", "y"), Timestamp: testutils.TS(0), Diff: 1})).To(Succeed())
			Expect(s.AdvanceInput(left, testutils.TS(1))).To(Succeed())
			Expect(s.AdvanceInput(right, testutils.TS(1))).To(Succeed())
			drain(s)

			got := testutils.PopAll(s, out)
			Expect(got).To(HaveLen(1))
			Expect(got[0].Diff).To(Equal(int64(1)))
		})

		It("emits at the least upper bound of the matched timestamps", func() {
			g, left, right, out := joinGraph()
			s := shard.New(g, nil)

			Expect(s.PushInput(left, change.Change{Row: testutils.R("k", "x"), Timestamp: testutils.TS(0), Diff: 1})).To(Succeed())
			Expect(s.AdvanceInput(left, testutils.TS(1))).To(Succeed())
			drain(s)

			Expect(s.PushInput(right, change.Change{Row: testutils.R("k", "y"), Timestamp: testutils.TS(1), Diff: 1})).To(Succeed())
			Expect(s.AdvanceInput(right, testutils.TS(2))).To(Succeed())
			drain(s)

			got := testutils.PopAll(s, out)
			Expect(got).To(HaveLen(1))
			Expect(got[0].Timestamp.Equal(testutils.TS(1))).To(BeTrue())
		})
	})

	Describe("Distinct", func() {
		It("collapses double-counted rows to a single copy", func() {
			g, in, out := distinctGraph()
			s := shard.New(g, nil)

			r1 := testutils.R("r1")
			Expect(s.PushInput(in, change.Change{Row: r1, Timestamp: testutils.TS(0), Diff: 1})).To(Succeed())
			Expect(s.PushInput(in, change.Change{Row: r1, Timestamp: testutils.TS(0), Diff: 1})).To(Succeed())
			Expect(s.AdvanceInput(in, testutils.TS(1))).To(Succeed())
			drain(s)

			got := testutils.PopAll(s, out)
			Expect(got).To(HaveLen(1))
			Expect(got[0].Row.Equal(r1)).To(BeTrue())
			Expect(got[0].Timestamp.Equal(testutils.TS(0))).To(BeTrue())
			Expect(got[0].Diff).To(Equal(int64(1)))
		})

		It("excludes rows with non-positive net count", func() {
			g, in, out := distinctGraph()
			s := shard.New(g, nil)

			Expect(s.PushInput(in, change.Change{Row: testutils.R("neg"), Timestamp: testutils.TS(0), Diff: -3})).To(Succeed())
			Expect(s.PushInput(in, change.Change{Row: testutils.R("pos"), Timestamp: testutils.TS(0), Diff: 2})).To(Succeed())
			Expect(s.AdvanceInput(in, testutils.TS(1))).To(Succeed())
			drain(s)

			got := testutils.PopAll(s, out)
			Expect(got).To(HaveLen(1))
			Expect(got[0].Row.Equal(testutils.R("pos"))).To(BeTrue())
			Expect(got[0].Diff).To(Equal(int64(1)))
		})

		It("retracts a row whose net count drops to zero", func() {
			g, in, out := distinctGraph()
			s := shard.New(g, nil)

			r := testutils.R("r")
			Expect(s.PushInput(in, change.Change{Row: r, Timestamp: testutils.TS(0), Diff: 2})).To(Succeed())
			Expect(s.AdvanceInput(in, testutils.TS(1))).To(Succeed())
			drain(s)
			Expect(testutils.PopAll(s, out)).To(HaveLen(1))

			Expect(s.PushInput(in, change.Change{Row: r, Timestamp: testutils.TS(1), Diff: -2})).To(Succeed())
			Expect(s.AdvanceInput(in, testutils.TS(2))).To(Succeed())
			drain(s)

			got := testutils.PopAll(s, out)
			Expect(got).To(HaveLen(1))
			Expect(got[0].Timestamp.Equal(testutils.TS(1))).To(BeTrue())
			Expect(got[0].Diff).To(Equal(int64(-1)))
		})
	})

	Describe("transitive closure (reach)", func() {
		var (
			s  *shard.Shard
			rg *testutils.ReachGraph
		)

		BeforeEach(func() {
			var err error
			rg, err = testutils.BuildReachGraph()
			Expect(err).NotTo(HaveOccurred())
			s = shard.New(rg.Graph, nil)

			for _, c := range []change.Change{
				{Row: testutils.Edge("a", "b"), Timestamp: testutils.TS(0), Diff: 1},
				{Row: testutils.Edge("b", "c"), Timestamp: testutils.TS(0), Diff: 1},
				{Row: testutils.Edge("b", "d"), Timestamp: testutils.TS(0), Diff: 1},
				{Row: testutils.Edge("c", "a"), Timestamp: testutils.TS(0), Diff: 1},
				{Row: testutils.Edge("b", "c"), Timestamp: testutils.TS(1), Diff: -1},
			} {
				Expect(s.PushInput(rg.Edges, c)).To(Succeed())
			}
			Expect(s.AdvanceInput(rg.Edges, testutils.TS(1))).To(Succeed())
			drain(s)
		})

		It("computes the closure of the initial edge set", func() {
			got := pairs(testutils.PopAll(s, rg.Output))

			want := map[string]int64{}
			for _, p := range [][2]string{
				{"a", "b"}, {"a", "c"}, {"a", "d"}, {"a", "a"},
				{"b", "c"}, {"b", "d"}, {"b", "a"}, {"b", "b"},
				{"c", "a"}, {"c", "b"}, {"c", "c"}, {"c", "d"},
			} {
				want[testutils.Edge(p[0], p[1]).String()+"@"+testutils.TS(0).String()] = 1
			}
			Expect(got).To(Equal(want))
		})

		It("retracts the pairs reachable only through the removed edge", func() {
			testutils.PopAll(s, rg.Output)

			Expect(s.AdvanceInput(rg.Edges, testutils.TS(2))).To(Succeed())
			drain(s)

			got := pairs(testutils.PopAll(s, rg.Output))
			want := map[string]int64{}
			for _, p := range [][2]string{
				{"a", "c"}, {"a", "a"}, {"b", "c"}, {"b", "a"}, {"b", "b"}, {"c", "c"},
			} {
				want[testutils.Edge(p[0], p[1]).String()+"@"+testutils.TS(1).String()] = -1
			}
			Expect(got).To(Equal(want))
		})

		It("drains idempotently", func() {
			steps, ok := testutils.Drain(s, maxSteps)
			Expect(ok).To(BeTrue())
			Expect(steps).To(Equal(0))
			Expect(s.Validate()).To(Succeed())
		})
	})

	Describe("Reduce", func() {
		BeforeEach(func() {
			graph.ReduceEnabled = true
			DeferCleanup(func() { graph.ReduceEnabled = false })
		})

		It("folds the input bag into a single row per timestamp", func() {
			b := graph.NewBuilder()
			in, _ := b.AddInput(graph.RootSubgraph)
			idx, _ := b.AddIndex(graph.RootSubgraph, graph.NodeInput{Node: in, Port: 0})
			red, err := b.AddReduce(graph.RootSubgraph, graph.NodeInput{Node: idx, Port: 0}, func(rows []value.Row) value.Row {
				return value.Row{value.Number(float64(len(rows)))}
			})
			Expect(err).NotTo(HaveOccurred())
			out, _ := b.AddOutput(graph.RootSubgraph, graph.NodeInput{Node: red, Port: 0})
			g, err := b.Finish()
			Expect(err).NotTo(HaveOccurred())
			s := shard.New(g, nil)

			Expect(s.PushInput(in, change.Change{Row: testutils.R("a"), Timestamp: testutils.TS(0), Diff: 1})).To(Succeed())
			Expect(s.PushInput(in, change.Change{Row: testutils.R("b"), Timestamp: testutils.TS(0), Diff: 2})).To(Succeed())
			Expect(s.AdvanceInput(in, testutils.TS(1))).To(Succeed())
			drain(s)

			got := testutils.PopAll(s, out)
			Expect(got).To(HaveLen(1))
			Expect(got[0].Row.Equal(value.Row{value.Number(3)})).To(BeTrue())
			Expect(got[0].Diff).To(Equal(int64(1)))

			Expect(s.PushInput(in, change.Change{Row: testutils.R("b"), Timestamp: testutils.TS(1), Diff: -2})).To(Succeed())
			Expect(s.AdvanceInput(in, testutils.TS(2))).To(Succeed())
			drain(s)

			got = testutils.PopAll(s, out)
			Expect(pairs(got)).To(Equal(map[string]int64{
				value.Row{value.Number(3)}.String() + "@" + testutils.TS(1).String(): -1,
				value.Row{value.Number(1)}.String() + "@" + testutils.TS(1).String(): 1,
			}))
		})
	})

	Describe("node frontiers", func() {
		It("tracks an input's frontier through the graph", func() {
			g, in, out := linearGraph(func(r value.Row) value.Row { return r })
			s := shard.New(g, nil)

			Expect(s.NodeFrontier(out).CausalOrder(testutils.TS(0))).To(Equal(timestamp.Equal))

			Expect(s.AdvanceInput(in, testutils.TS(3))).To(Succeed())
			drain(s)

			Expect(s.NodeFrontier(out).CausalOrder(testutils.TS(3))).To(Equal(timestamp.Equal))
			Expect(s.NodeFrontier(out).CausalOrder(testutils.TS(0))).To(Equal(timestamp.Greater))
		})
	})
})
