package graph_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/l7mp/difflow/pkg/graph"
	"github.com/l7mp/difflow/pkg/value"
)

var _ = Describe("Builder", func() {
	It("builds and finishes a trivial linear graph", func() {
		b := graph.NewBuilder()
		in, err := b.AddInput(graph.RootSubgraph)
		Expect(err).NotTo(HaveOccurred())
		m, err := b.AddMap(graph.RootSubgraph, graph.NodeInput{Node: in, Port: 0}, func(r value.Row) value.Row { return r })
		Expect(err).NotTo(HaveOccurred())
		_, err = b.AddOutput(graph.RootSubgraph, graph.NodeInput{Node: m, Port: 0})
		Expect(err).NotTo(HaveOccurred())

		g, err := b.Finish()
		Expect(err).NotTo(HaveOccurred())
		Expect(g.NumNodes()).To(Equal(3))
	})

	It("rejects a node whose input references a nonexistent node", func() {
		b := graph.NewBuilder()
		in, err := b.AddInput(graph.RootSubgraph)
		Expect(err).NotTo(HaveOccurred())
		_, err = b.AddMap(graph.RootSubgraph, graph.NodeInput{Node: in + 5, Port: 0}, func(r value.Row) value.Row { return r })
		Expect(err).NotTo(HaveOccurred()) // construction itself doesn't validate
		_, err = b.Finish()
		Expect(err).To(HaveOccurred())
	})

	It("rejects a Distinct fed by a non-indexable input", func() {
		b := graph.NewBuilder()
		in, _ := b.AddInput(graph.RootSubgraph)
		u, _ := b.AddUnion(graph.RootSubgraph, graph.NodeInput{Node: in, Port: 0}, graph.NodeInput{Node: in, Port: 0})
		_, _ = b.AddDistinct(graph.RootSubgraph, graph.NodeInput{Node: u, Port: 0})

		_, err := b.Finish()
		Expect(err).To(HaveOccurred())
		var verr *graph.ValidationError
		Expect(err).To(BeAssignableToTypeOf(verr))
	})

	It("accepts a Distinct fed by an Index", func() {
		b := graph.NewBuilder()
		in, _ := b.AddInput(graph.RootSubgraph)
		idx, _ := b.AddIndex(graph.RootSubgraph, graph.NodeInput{Node: in, Port: 0})
		_, err := b.AddDistinct(graph.RootSubgraph, graph.NodeInput{Node: idx, Port: 0})
		Expect(err).NotTo(HaveOccurred())

		_, err = b.Finish()
		Expect(err).NotTo(HaveOccurred())
	})

	It("requires a TimestampPush's input to live in the parent subgraph", func() {
		b := graph.NewBuilder()
		in, _ := b.AddInput(graph.RootSubgraph)
		loop, err := b.AddSubgraph(graph.RootSubgraph)
		Expect(err).NotTo(HaveOccurred())

		// Wrong: push node placed in root referencing a root input (no scope change).
		_, _ = b.AddTimestampPush(graph.RootSubgraph, graph.NodeInput{Node: in, Port: 0})
		_, err = b.Finish()
		Expect(err).To(HaveOccurred())

		b2 := graph.NewBuilder()
		in2, _ := b2.AddInput(graph.RootSubgraph)
		loop2, _ := b2.AddSubgraph(graph.RootSubgraph)
		_, err = b2.AddTimestampPush(loop2, graph.NodeInput{Node: in2, Port: 0})
		Expect(err).NotTo(HaveOccurred())
		_, err = b2.Finish()
		Expect(err).NotTo(HaveOccurred())
		_ = loop
	})

	It("rejects an unbound TimestampIncrement at Finish", func() {
		b := graph.NewBuilder()
		_, _ = b.AddTimestampIncrement(graph.RootSubgraph)
		_, err := b.Finish()
		Expect(err).To(HaveOccurred())
	})

	It("builds the reach topology with a loop edge bound after the fact", func() {
		b := graph.NewBuilder()

		root := graph.RootSubgraph
		loop, err := b.AddSubgraph(root)
		Expect(err).NotTo(HaveOccurred())

		in, err := b.AddInput(root)
		Expect(err).NotTo(HaveOccurred())
		push, err := b.AddTimestampPush(loop, graph.NodeInput{Node: in, Port: 0})
		Expect(err).NotTo(HaveOccurred())

		incr, err := b.AddTimestampIncrement(loop)
		Expect(err).NotTo(HaveOccurred())

		union, err := b.AddUnion(loop, graph.NodeInput{Node: push, Port: 0}, graph.NodeInput{Node: incr, Port: 0})
		Expect(err).NotTo(HaveOccurred())

		idx, err := b.AddIndex(loop, graph.NodeInput{Node: union, Port: 0})
		Expect(err).NotTo(HaveOccurred())

		distinct, err := b.AddDistinct(loop, graph.NodeInput{Node: idx, Port: 0})
		Expect(err).NotTo(HaveOccurred())

		Expect(b.BindLoopInput(incr, graph.NodeInput{Node: distinct, Port: 0})).To(Succeed())

		pop, err := b.AddTimestampPop(root, graph.NodeInput{Node: distinct, Port: 0})
		Expect(err).NotTo(HaveOccurred())
		out, err := b.AddOutput(root, graph.NodeInput{Node: pop, Port: 0})
		Expect(err).NotTo(HaveOccurred())

		g, err := b.Finish()
		Expect(err).NotTo(HaveOccurred())
		Expect(g.NumNodes()).To(Equal(8))

		Expect(g.ScopePath(push)).To(Equal([]graph.SubgraphID{root, loop}))
		Expect(g.ScopePath(in)).To(Equal([]graph.SubgraphID{root}))
		Expect(g.Downstream(incr)).To(ConsistOf(graph.NodeInput{Node: union, Port: 1}))
		Expect(g.Downstream(distinct)).To(ConsistOf(
			graph.NodeInput{Node: incr, Port: 0},
			graph.NodeInput{Node: pop, Port: 0},
		))
		_ = out
	})

	It("gates Reduce behind the feature flag", func() {
		Expect(graph.ReduceEnabled).To(BeFalse())
		b := graph.NewBuilder()
		in, _ := b.AddInput(graph.RootSubgraph)
		_, err := b.AddReduce(graph.RootSubgraph, graph.NodeInput{Node: in, Port: 0}, func(rs []value.Row) value.Row { return rs[0] })
		Expect(err).To(HaveOccurred())

		graph.ReduceEnabled = true
		defer func() { graph.ReduceEnabled = false }()
		_, err = b.AddReduce(graph.RootSubgraph, graph.NodeInput{Node: in, Port: 0}, func(rs []value.Row) value.Row { return rs[0] })
		Expect(err).NotTo(HaveOccurred())
	})
})
