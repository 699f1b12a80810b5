package contact

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	. "github.com/onsi/gomega"

	"github.com/san-kum/mechsim/internal/config"
	"github.com/san-kum/mechsim/internal/matrix"
	"github.com/san-kum/mechsim/internal/mech"
	"github.com/san-kum/mechsim/internal/spatial"
)

func TestConstraintBlocksGiveNormalSpeed(t *testing.T) {
	g := NewWithT(t)
	m, a, b := twoSpheres()
	m.Component(b.body).SetAngularVelocity(mgl64.Vec3{0, 0, 3})

	cand := sphereCandidate(-0.1)
	c := NewConstraint(cand.Point0, cand.Point1, false)
	c.Normal = cand.Normal
	c.AssignMasters(m, a, b)
	g.Expect(c.Masters()).To(HaveLen(2))
	g.Expect(c.Masters()[0].Weight).To(Equal(1.0))
	g.Expect(c.Masters()[1].Weight).To(Equal(-1.0))

	GT := matrix.NewSparseBlock(m.VelSizes(), nil)
	bj := GT.AddCol(1)
	c.AddConstraintBlocks(m, GT, bj)

	jv := make([]float64, 1)
	GT.MulTransposeAdd(jv, m.VelocityVector())
	g.Expect(jv[0]).To(BeNumerically("~", c.NormalSpeed(m), 1e-12))
	// a moves toward b at 1 m/s: approaching, so negative
	g.Expect(jv[0]).To(BeNumerically("~", -1, 1e-12))
}

func TestMeshMastersCarryWeights(t *testing.T) {
	g := NewWithT(t)
	m := mech.NewModel(config.DefaultEngine())
	body := m.AddComponent(mech.NewSphere("ball", 1, 1, mgl64.Vec3{0, 0, 2}))
	var verts []mech.ComponentID
	for i := 0; i < 3; i++ {
		verts = append(verts, m.AddComponent(mech.NewParticle("v", 0.1, mgl64.Vec3{float64(i), 0, 0})))
	}
	m.Component(verts[1]).SetLinearVelocity(mgl64.Vec3{0, 0, 2})
	m.UpdateSolveIndices()

	sheet := &mesh{"sheet", verts}
	ball := &rigidBody{"ball", body}
	p1 := Point{
		Position: mgl64.Vec3{0.5, 0, 0},
		Vertices: []int{0, 1, 2},
		Weights:  []float64{0.25, 0.5, 0.25},
	}
	c := NewConstraint(FeaturePoint(mgl64.Vec3{0.5, 0, 1}, 0), p1, true)
	c.Normal = mgl64.Vec3{0, 0, 1}
	c.AssignMasters(m, ball, sheet)

	g.Expect(c.Masters()).To(HaveLen(4))
	g.Expect(c.Masters()[0].Kind).To(Equal(RigidMaster))
	for i, cm := range c.Masters()[1:] {
		g.Expect(cm.Kind).To(Equal(VertexMaster))
		g.Expect(cm.Comp).To(Equal(verts[i]))
		g.Expect(cm.Weight).To(Equal(-p1.Weights[i]))
	}
	// the sheet rises under the ball at 0.5 * 2
	g.Expect(c.NormalSpeed(m)).To(BeNumerically("~", -1, 1e-12))
}

func TestFrictionDirection(t *testing.T) {
	m, a, b := twoSpheres()
	cand := sphereCandidate(-0.1)
	c := NewConstraint(cand.Point0, cand.Point1, false)
	c.Normal = cand.Normal
	c.AssignMasters(m, a, b)

	speed := c.ComputeFrictionDir(m)
	if math.Abs(speed-0.5) > 1e-12 {
		t.Errorf("tangential speed = %g, want 0.5", speed)
	}
	if !c.FrictionDir().ApproxEqual(mgl64.Vec3{0, -1, 0}) {
		t.Errorf("friction dir = %v, want opposite sliding", c.FrictionDir())
	}
}

func TestFrictionDirectionDeterministicAtRest(t *testing.T) {
	normals := []mgl64.Vec3{
		{1, 0, 0},
		{0, 0, -1},
		mgl64.Vec3{1, 2, 3}.Normalize(),
	}

	for _, n := range normals {
		m, a, b := twoSpheres()
		m.Component(a.body).SetLinearVelocity(mgl64.Vec3{})

		var first mgl64.Vec3
		for trial := 0; trial < 3; trial++ {
			c := NewConstraint(FeaturePoint(mgl64.Vec3{}, 0), FeaturePoint(mgl64.Vec3{}, 0), false)
			c.Normal = n
			c.AssignMasters(m, a, b)
			if speed := c.ComputeFrictionDir(m); speed > spatial.DoublePrec {
				t.Fatalf("normal %v: expected no tangential speed, got %g", n, speed)
			}
			dir := c.FrictionDir()
			if math.Abs(dir.Len()-1) > 1e-12 || math.Abs(dir.Dot(n)) > 1e-12 {
				t.Errorf("normal %v: direction %v is not a unit tangent", n, dir)
			}
			if trial == 0 {
				first = dir
			} else if dir != first {
				t.Errorf("normal %v: direction changed from %v to %v", n, first, dir)
			}
		}
	}
}

func TestAdd2DFrictionSpansTangentPlane(t *testing.T) {
	g := NewWithT(t)
	m, a, b := twoSpheres()
	cand := sphereCandidate(-0.1)
	c := NewConstraint(cand.Point0, cand.Point1, false)
	c.Normal = cand.Normal
	c.SolveIndex = 7
	c.AssignMasters(m, a, b)

	c.ComputeFrictionDir(m)
	DT := matrix.NewSparseBlock(m.VelSizes(), nil)
	infos := c.Add2DFriction(m, DT, nil, 0.4, false)
	g.Expect(infos).To(Equal([]mech.FrictionInfo{{Mu: 0.4, ContactIdx: 7}}))
	g.Expect(DT.Cols()).To(Equal(2))

	jv := make([]float64, 2)
	DT.MulTransposeAdd(jv, m.VelocityVector())
	// sliding is along y only: the first column picks it up fully
	g.Expect(jv[0]).To(BeNumerically("~", -0.5, 1e-12))
	g.Expect(jv[1]).To(BeNumerically("~", 0, 1e-12))
}

func TestConstraintStateRoundTrip(t *testing.T) {
	m, a, b := twoSpheres()
	c := NewConstraint(
		Point{Position: mgl64.Vec3{1, 2, 3}, Vertices: []int{4, 5}, Weights: []float64{0.3, 0.7}},
		FeaturePoint(mgl64.Vec3{1, 2, 2.9}, 3), true)
	c.Normal = mgl64.Vec3{0, 0.6, 0.8}
	c.Dist = -0.0123456789
	c.Lambda = 1.0 / 3.0
	c.Phi = [2]float64{-0.1, 0.2}
	c.Active = true
	c.ContactArea = 0.25

	s := c.GetState()
	r := &Constraint{}
	r.SetState(s)
	r.AssignMasters(m, a, b)

	if r.Lambda != c.Lambda || r.Phi != c.Phi || r.Dist != c.Dist || r.Normal != c.Normal || r.Active != c.Active {
		t.Errorf("restored constraint differs: %+v vs %+v", r.GetState(), s)
	}
	if r.key() != c.key() {
		t.Error("restored constraint has a different key")
	}

	// mutating the source does not leak into the state
	c.Point0.Vertices[0] = 99
	if s.Point0.Vertices[0] != 4 {
		t.Error("state aliases constraint vertices")
	}
}
