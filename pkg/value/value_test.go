package value_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/l7mp/difflow/pkg/value"
)

var _ = Describe("Value", func() {
	It("distinguishes kinds even on coincidental representation", func() {
		Expect(value.String("1").Equal(value.Number(1))).To(BeFalse())
	})

	It("compares equal strings and numbers", func() {
		Expect(value.String("a").Equal(value.String("a"))).To(BeTrue())
		Expect(value.Number(1.5).Equal(value.Number(1.5))).To(BeTrue())
	})

	It("orders strings before numbers when kinds differ", func() {
		Expect(value.String("z").Compare(value.Number(0))).To(Equal(-1))
		Expect(value.Number(0).Compare(value.String("z"))).To(Equal(1))
	})

	It("produces the same key for equal rows only", func() {
		r1 := value.Row{value.String("a"), value.Number(1)}
		r2 := value.Row{value.String("a"), value.Number(1)}
		r3 := value.Row{value.String("a"), value.Number(2)}
		Expect(r1.Key()).To(Equal(r2.Key()))
		Expect(r1.Key()).NotTo(Equal(r3.Key()))
		Expect(r1.Equal(r2)).To(BeTrue())
		Expect(r1.Equal(r3)).To(BeFalse())
	})

	It("treats rows of different length as unequal regardless of prefix", func() {
		short := value.Row{value.String("a")}
		long := value.Row{value.String("a"), value.Number(1)}
		Expect(short.Equal(long)).To(BeFalse())
		Expect(short.Compare(long)).To(Equal(-1))
	})

	It("clones without aliasing the backing array", func() {
		r := value.Row{value.String("a")}
		c := r.Clone()
		c[0] = value.String("b")
		Expect(r[0].Equal(value.String("a"))).To(BeTrue())
	})
})
