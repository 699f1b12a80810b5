package solver

import (
	"errors"
	"testing"

	. "github.com/onsi/gomega"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/mechsim/internal/config"
	"github.com/san-kum/mechsim/internal/dynamo"
	"github.com/san-kum/mechsim/internal/matrix"
	"github.com/san-kum/mechsim/internal/mech"
)

func unitMass(sizes ...int) *matrix.SparseBlock {
	M := matrix.NewSquare(sizes)
	for i, n := range sizes {
		blk := M.EnsureBlock(i, i)
		for k := 0; k < n; k++ {
			blk.Set(k, k, 1)
		}
	}
	return M
}

func column(T *matrix.SparseBlock, bi int, vals ...float64) {
	bj := T.AddCol(1)
	T.AddBlock(bi, bj, mat.NewDense(len(vals), 1, vals))
}

func groundProblem(vz float64) *Problem {
	NT := matrix.NewSparseBlock([]int{6}, nil)
	column(NT, 0, 0, 0, 1, 0, 0, 0)
	return &Problem{
		Sizes:     []int{6},
		NumActive: 1,
		M:         unitMass(6),
		Vel:       dynamo.State{1, 0, vz, 0, 0, 0},
		NT:        NT,
		NInfo:     []mech.ConstraintInfo{{Dist: 0}},
		H:         0.01,
	}
}

func TestProjectVelocityComplementarity(t *testing.T) {
	g := NewWithT(t)
	s := New(config.DefaultEngine())

	sol, err := s.ProjectVelocity(groundProblem(-2))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(sol.Theta[0]).To(BeNumerically("~", 2, 1e-9))
	g.Expect(sol.Vel[2]).To(BeNumerically("~", 0, 1e-9))
	g.Expect(sol.Vel[0]).To(Equal(1.0))

	sol, err = s.ProjectVelocity(groundProblem(3))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(sol.Theta[0]).To(Equal(0.0))
	g.Expect(sol.Vel[2]).To(Equal(3.0))
}

func TestProjectVelocityBilateral(t *testing.T) {
	g := NewWithT(t)
	s := New(config.DefaultEngine())

	GT := matrix.NewSparseBlock([]int{6, 6}, nil)
	bj := GT.AddCol(1)
	GT.AddBlock(0, bj, mat.NewDense(6, 1, []float64{1, 0, 0, 0, 0, 0}))
	GT.AddBlock(1, bj, mat.NewDense(6, 1, []float64{-1, 0, 0, 0, 0, 0}))
	p := &Problem{
		Sizes:     []int{6, 6},
		NumActive: 2,
		M:         unitMass(6, 6),
		Vel:       dynamo.State{0, 0, 0, 0, 0, 0, 4, 0, 0, 0, 0, 0},
		GT:        GT,
		GInfo:     []mech.ConstraintInfo{{}},
		H:         0.01,
	}

	sol, err := s.ProjectVelocity(p)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(sol.Vel[0]).To(BeNumerically("~", 2, 1e-9))
	g.Expect(sol.Vel[6]).To(BeNumerically("~", 2, 1e-9))
	g.Expect(sol.Lambda[0]).To(BeNumerically("~", 2, 1e-9))
}

func TestProjectVelocityCompliantRow(t *testing.T) {
	g := NewWithT(t)
	s := New(config.DefaultEngine())

	p := groundProblem(0)
	p.NInfo[0] = mech.ConstraintInfo{Dist: -0.01, Compliance: 1e-3}

	sol, err := s.ProjectVelocity(p)
	g.Expect(err).NotTo(HaveOccurred())
	// J v + R z = b with R = c/h^2, b = -dist/h
	h, c := p.H, 1e-3
	g.Expect(sol.Vel[2] + c/(h*h)*sol.Theta[0]).To(BeNumerically("~", 0.01/h, 1e-6))
	g.Expect(sol.Vel[2]).To(BeNumerically(">", 0))
	g.Expect(sol.Vel[2]).To(BeNumerically("<", 0.01/h))
}

func TestProjectFrictionBound(t *testing.T) {
	g := NewWithT(t)
	s := New(config.DefaultEngine())
	p := groundProblem(-1)

	var got []float64
	build := func(lam, the []float64) (*matrix.SparseBlock, []mech.FrictionInfo) {
		got = append([]float64(nil), the...)
		DT := matrix.NewSparseBlock([]int{6}, nil)
		column(DT, 0, -1, 0, 0, 0, 0, 0)
		return DT, []mech.FrictionInfo{{Mu: 0.5, ContactIdx: 0}}
	}

	sol, err := s.ProjectFriction(p, build)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(got).To(HaveLen(1))
	g.Expect(got[0]).To(BeNumerically("~", 1, 1e-9))
	g.Expect(sol.Phi[0]).To(BeNumerically("~", 0.5, 1e-9))
	g.Expect(sol.Vel[0]).To(BeNumerically("~", 0.5, 1e-9))
	g.Expect(sol.Vel[2]).To(BeNumerically("~", 0, 1e-9))
	g.Expect(s.FrictionVersion()).To(Equal(1))
}

func TestProjectFrictionSticks(t *testing.T) {
	g := NewWithT(t)
	s := New(config.DefaultEngine())
	p := groundProblem(-10)

	build := func(lam, the []float64) (*matrix.SparseBlock, []mech.FrictionInfo) {
		DT := matrix.NewSparseBlock([]int{6}, nil)
		column(DT, 0, -1, 0, 0, 0, 0, 0)
		return DT, []mech.FrictionInfo{{Mu: 0.5, ContactIdx: 0}}
	}

	sol, err := s.ProjectFriction(p, build)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(sol.Phi[0]).To(BeNumerically("~", 1, 1e-9))
	g.Expect(sol.Vel[0]).To(BeNumerically("~", 0, 1e-9))
}

func TestFrictionVersionTracksPruning(t *testing.T) {
	g := NewWithT(t)
	s := New(config.DefaultEngine())
	p := groundProblem(-1)

	withFriction := true
	build := func(lam, the []float64) (*matrix.SparseBlock, []mech.FrictionInfo) {
		DT := matrix.NewSparseBlock([]int{6}, nil)
		if !withFriction {
			return DT, nil
		}
		column(DT, 0, -1, 0, 0, 0, 0, 0)
		return DT, []mech.FrictionInfo{{Mu: 0.5, ContactIdx: 0}}
	}

	_, err := s.ProjectFriction(p, build)
	g.Expect(err).NotTo(HaveOccurred())
	v1 := s.FrictionVersion()

	_, err = s.ProjectFriction(p, build)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(s.FrictionVersion()).To(Equal(v1))

	withFriction = false
	sol, err := s.ProjectFriction(p, build)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(s.FrictionVersion()).To(Equal(v1 + 1))
	g.Expect(sol.Phi).To(BeEmpty())
	g.Expect(s.Version()).To(Equal(1))
}

func TestFactorizationIsCached(t *testing.T) {
	g := NewWithT(t)
	s := New(config.DefaultEngine())
	p := groundProblem(-1)

	for i := 0; i < 3; i++ {
		_, err := s.ProjectVelocity(p)
		g.Expect(err).NotTo(HaveOccurred())
	}
	g.Expect(s.Stats().Analyses).To(Equal(1))
	g.Expect(s.Stats().Factorizations).To(Equal(1))
	g.Expect(s.Stats().Solves).To(Equal(3))

	p.M.Block(0, 0).Set(0, 0, 2)
	_, err := s.ProjectVelocity(p)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(s.Stats().Analyses).To(Equal(1))
	g.Expect(s.Stats().Factorizations).To(Equal(2))

	column(p.NT, 0, 1, 0, 0, 0, 0, 0)
	p.NInfo = append(p.NInfo, mech.ConstraintInfo{})
	_, err = s.ProjectVelocity(p)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(s.Stats().Analyses).To(Equal(2))
	g.Expect(s.Version()).To(Equal(2))
}

func TestSingularMassReportsSolveError(t *testing.T) {
	g := NewWithT(t)
	s := New(config.DefaultEngine())
	p := groundProblem(-1)
	p.M = matrix.NewSquare([]int{6})
	p.M.EnsureBlock(0, 0)

	_, err := s.ProjectVelocity(p)
	g.Expect(err).To(HaveOccurred())
	g.Expect(errors.Is(err, dynamo.ErrSingularSystem)).To(BeTrue())
	var se *dynamo.SolveError
	g.Expect(errors.As(err, &se)).To(BeTrue())
	g.Expect(se.Mode).To(Equal("velocity"))
}

func TestDimensionMismatch(t *testing.T) {
	g := NewWithT(t)
	s := New(config.DefaultEngine())
	p := groundProblem(-1)
	p.Vel = p.Vel[:5]

	_, err := s.ProjectVelocity(p)
	g.Expect(errors.Is(err, dynamo.ErrDimensionMismatch)).To(BeTrue())
}

func TestAccelerateMixedComponents(t *testing.T) {
	g := NewWithT(t)
	s := New(config.DefaultEngine())

	M := unitMass(6, 3)
	M.Block(0, 0).Set(2, 2, 2)
	M.Block(1, 1).Set(2, 2, 4)
	p := &Problem{
		Sizes:     []int{6, 3},
		NumActive: 2,
		M:         M,
		Vel:       dynamo.NewState(9),
		Force:     dynamo.State{0, 0, -2, 0, 0, 0, 0, 0, -4},
		H:         0.5,
	}

	v, err := s.Accelerate(p)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(v[2]).To(BeNumerically("~", -0.5, 1e-12))
	g.Expect(v[8]).To(BeNumerically("~", -0.5, 1e-12))
	g.Expect(s.NumBodies()).To(Equal(1))
	g.Expect(s.NumNodes()).To(Equal(1))
	g.Expect(s.LocalIndex(0)).To(Equal(0))
	g.Expect(s.LocalIndex(1)).To(Equal(-1))
	g.Expect(s.NodeIndex(1)).To(Equal(0))
}

func TestProjectVelocityParticleContact(t *testing.T) {
	g := NewWithT(t)
	s := New(config.DefaultEngine())

	M := unitMass(3)
	M.Block(0, 0).Set(2, 2, 2)
	NT := matrix.NewSparseBlock([]int{3}, nil)
	column(NT, 0, 0, 0, 1)
	p := &Problem{
		Sizes:     []int{3},
		NumActive: 1,
		M:         M,
		Vel:       dynamo.State{1, 0, -1},
		NT:        NT,
		NInfo:     []mech.ConstraintInfo{{Dist: -1e-3}},
		H:         0.01,
	}

	sol, err := s.ProjectVelocity(p)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(s.NumBodies()).To(Equal(0))
	g.Expect(s.NumNodes()).To(Equal(1))
	g.Expect(sol.Theta[0]).To(BeNumerically("~", 2, 1e-9))
	g.Expect(sol.Vel[2]).To(BeNumerically("~", 0, 1e-9))
	g.Expect(sol.Vel[0]).To(Equal(1.0))
}

func TestProjectVelocityParticleOnRigid(t *testing.T) {
	g := NewWithT(t)
	s := New(config.DefaultEngine())

	NT := matrix.NewSparseBlock([]int{6, 3}, nil)
	bj := NT.AddCol(1)
	NT.AddBlock(0, bj, mat.NewDense(6, 1, []float64{0, 0, -1, 0, 0, 0}))
	NT.AddBlock(1, bj, mat.NewDense(3, 1, []float64{0, 0, 1}))
	p := &Problem{
		Sizes:     []int{6, 3},
		NumActive: 2,
		M:         unitMass(6, 3),
		Vel:       dynamo.State{0, 0, 1, 0, 0, 0, 0, 0, -1},
		NT:        NT,
		NInfo:     []mech.ConstraintInfo{{}},
		H:         0.01,
	}

	sol, err := s.ProjectVelocity(p)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(sol.Theta[0]).To(BeNumerically("~", 1, 1e-9))
	g.Expect(sol.Vel[2]).To(BeNumerically("~", 0, 1e-9))
	g.Expect(sol.Vel[8]).To(BeNumerically("~", 0, 1e-9))
}

func TestProjectPosition(t *testing.T) {
	g := NewWithT(t)
	s := New(config.DefaultEngine())

	p := groundProblem(0)
	p.NInfo[0].Dist = -0.1
	sol, err := s.ProjectPosition(p)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(sol.Dq[2]).To(BeNumerically("~", 0.1, 1e-9))

	p.NInfo[0].Dist = 0.2
	sol, err = s.ProjectPosition(p)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(sol.Dq.MaxAbs()).To(Equal(0.0))

	p.NInfo[0] = mech.ConstraintInfo{Dist: -0.1, Compliance: 1e-4}
	sol, err = s.ProjectPosition(p)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(sol.Dq.MaxAbs()).To(Equal(0.0))
}
