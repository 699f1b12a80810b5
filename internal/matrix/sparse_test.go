package matrix

import (
	"testing"

	. "github.com/onsi/gomega"
	"gonum.org/v1/gonum/mat"
)

func TestSparseBlockAddAccumulates(t *testing.T) {
	g := NewWithT(t)

	s := NewSparseBlock([]int{3, 6}, nil)
	bj := s.AddCol(1)

	s.AddBlock(0, bj, mat.NewDense(3, 1, []float64{1, 2, 3}))
	s.AddBlock(0, bj, mat.NewDense(3, 1, []float64{1, 1, 1}))

	g.Expect(s.NumBlocks()).To(Equal(1))
	g.Expect(s.Block(0, bj).RawMatrix().Data).To(Equal([]float64{2, 3, 4}))
	g.Expect(s.Block(1, bj)).To(BeNil())
	g.Expect(s.RowBlocks(0)).To(Equal([]int{0}))
	g.Expect(s.ColBlocks(bj)).To(Equal([]int{0}))
}

func TestSparseBlockWrongSizePanics(t *testing.T) {
	g := NewWithT(t)

	s := NewSparseBlock([]int{3}, []int{1})
	g.Expect(func() { s.AddBlock(0, 0, mat.NewDense(6, 1, nil)) }).To(Panic())
}

func TestSparseBlockMulMatchesDense(t *testing.T) {
	g := NewWithT(t)

	s := NewSparseBlock([]int{2, 3}, []int{1, 2})
	s.AddBlock(0, 0, mat.NewDense(2, 1, []float64{1, -1}))
	s.AddBlock(1, 1, mat.NewDense(3, 2, []float64{1, 2, 3, 4, 5, 6}))
	s.AddBlock(0, 1, mat.NewDense(2, 2, []float64{0.5, 0, 0, 2}))

	d := s.Dense()
	r, c := d.Dims()
	g.Expect(r).To(Equal(5))
	g.Expect(c).To(Equal(3))

	x := []float64{1, 2, 3}
	y := make([]float64, 5)
	s.MulAdd(y, x)

	want := mat.NewVecDense(5, nil)
	want.MulVec(d, mat.NewVecDense(3, x))
	for i := range y {
		g.Expect(y[i]).To(BeNumerically("~", want.AtVec(i), 1e-12))
	}

	z := []float64{1, 0, -1, 2, 1}
	yt := make([]float64, 3)
	s.MulTransposeAdd(yt, z)

	wantT := mat.NewVecDense(3, nil)
	wantT.MulVec(d.T(), mat.NewVecDense(5, z))
	for i := range yt {
		g.Expect(yt[i]).To(BeNumerically("~", wantT.AtVec(i), 1e-12))
	}
}

func TestVersionTracksStructure(t *testing.T) {
	g := NewWithT(t)

	var v Version
	a := NewSparseBlock([]int{6, 6}, []int{1})
	a.AddBlock(0, 0, mat.NewDense(6, 1, nil))

	g.Expect(v.Update(a)).To(BeTrue())
	g.Expect(v.Value()).To(Equal(1))

	b := NewSparseBlock([]int{6, 6}, []int{1})
	b.AddBlock(0, 0, mat.NewDense(6, 1, []float64{1, 2, 3, 4, 5, 6}))
	g.Expect(v.Update(b)).To(BeFalse(), "values alone must not bump the version")

	b.AddBlock(1, 0, mat.NewDense(6, 1, nil))
	g.Expect(v.Update(b)).To(BeTrue())
	g.Expect(v.Value()).To(Equal(2))

	g.Expect(v.Update(b, nil)).To(BeTrue(), "a missing matrix is part of the structure")
}

func TestClone(t *testing.T) {
	g := NewWithT(t)

	s := NewSquare([]int{3})
	s.AddBlock(0, 0, mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1}))
	c := s.Clone()
	c.Block(0, 0).Set(0, 0, 5)

	g.Expect(s.Block(0, 0).At(0, 0)).To(Equal(1.0))
	g.Expect(c.Signature()).To(Equal(s.Signature()))
}
