package contact

import (
	"fmt"
	"math/rand"

	"github.com/go-gl/mathgl/mgl64"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/mechsim/internal/config"
	"github.com/san-kum/mechsim/internal/mech"
)

func sphereCollidables(n int) (*mech.Model, []Collidable) {
	m := mech.NewModel(config.DefaultEngine())
	colls := make([]Collidable, n)
	for i := range colls {
		name := fmt.Sprintf("s%d", i)
		id := m.AddComponent(mech.NewSphere(name, 1, 0.5, mgl64.Vec3{float64(i), 0, 0}))
		colls[i] = &rigidBody{name, id}
	}
	m.UpdateSolveIndices()
	return m, colls
}

type pair [2]int

func ordered(a, b int) pair {
	return pair{min(a, b), max(a, b)}
}

var _ = Describe("Table", func() {
	var (
		m     *mech.Model
		colls []Collidable
		table *Table
	)

	BeforeEach(func() {
		m, colls = sphereCollidables(40)
		table = NewTable(m, colls)
	})

	It("is symmetric and agrees with a map over random operations", func() {
		rng := rand.New(rand.NewSource(7))
		ref := make(map[pair]*Handler)

		for op := 0; op < 10000; op++ {
			a, b := rng.Intn(len(colls)), rng.Intn(len(colls))
			want := ref[ordered(a, b)]

			if rng.Intn(2) == 0 && want == nil {
				Expect(table.Get(a, b)).To(BeNil())
				Expect(table.Get(b, a)).To(BeNil())
				h := table.Put(a, b, Behavior{}, DefaultSource)
				ref[ordered(a, b)] = h
				want = h
			}
			Expect(table.Get(a, b)).To(BeIdenticalTo(want))
			Expect(table.Get(b, a)).To(BeIdenticalTo(want))
		}

		Expect(table.Size()).To(Equal(len(ref)))
		for p, h := range ref {
			Expect(table.Get(p[1], p[0])).To(BeIdenticalTo(h))
		}
	})

	It("panics when a pair is put twice in either order", func() {
		h := table.Put(0, 1, Behavior{}, DefaultSource)
		Expect(func() { table.Put(1, 0, Behavior{}, DefaultSource) }).To(PanicWith(ContainSubstring("already has a handler")))
		Expect(func() { table.Put(0, 1, Behavior{}, DefaultSource) }).To(Panic())
		Expect(table.Size()).To(Equal(1))
		Expect(table.Get(1, 0)).To(BeIdenticalTo(h))
		Expect(table.Handlers(0)).To(HaveLen(1))
	})

	It("lists each handler under both collidables once", func() {
		h01 := table.Put(0, 1, Behavior{}, DefaultSource)
		h21 := table.Put(2, 1, Behavior{}, DefaultSource)
		h33 := table.Put(3, 3, Behavior{}, DefaultSource)

		Expect(table.Handlers(1)).To(ConsistOf(h01, h21))
		Expect(table.Handlers(3)).To(ConsistOf(h33))
		Expect(table.CollectHandlers(nil)).To(Equal([]*Handler{h01, h21, h33}))
		Expect(h21.Collidable0()).To(BeIdenticalTo(colls[2]))
	})

	It("prunes inactive handlers", func() {
		keep := table.Put(0, 1, Behavior{}, DefaultSource)
		drop := table.Put(1, 2, Behavior{}, DefaultSource)

		table.SetHandlerActivity(false)
		keep.SetActive(true)
		Expect(table.RemoveInactiveHandlers()).To(Equal(1))

		Expect(table.Get(0, 1)).To(BeIdenticalTo(keep))
		Expect(table.Get(2, 1)).To(BeNil())
		Expect(drop.IsActive()).To(BeFalse())
		Expect(table.Size()).To(Equal(1))
	})

	Describe("Reinitialize", func() {
		var handlers map[pair]*Handler

		BeforeEach(func() {
			handlers = make(map[pair]*Handler)
			for _, p := range []pair{{0, 1}, {0, 2}, {1, 4}, {2, 3}, {3, 5}, {4, 5}, {2, 5}} {
				h := table.Put(p[0], p[1], Behavior{}, DefaultSource)
				h.Update([]Candidate{featureCandidate(p[0]*10+p[1], -0.01)})
				h.Unilaterals()[0].Lambda = float64(p[0]*10 + p[1])
				handlers[p] = h
			}
			handlers[pair{2, 5}].SetActive(false)
		})

		It("keeps exactly the active handlers between retained collidables", func() {
			next := []Collidable{colls[5], colls[0], colls[2], colls[3]}
			table.Reinitialize(next)

			Expect(table.NumCollidables()).To(Equal(4))
			Expect(table.Size()).To(Equal(3))

			Expect(table.Get(1, 2)).To(BeIdenticalTo(handlers[pair{0, 2}]))
			Expect(table.Get(3, 2)).To(BeIdenticalTo(handlers[pair{2, 3}]))
			Expect(table.Get(0, 3)).To(BeIdenticalTo(handlers[pair{3, 5}]))
			Expect(table.Get(0, 2)).To(BeNil(), "inactive handlers are discarded")

			Expect(table.Get(3, 2).Unilaterals()[0].Lambda).To(Equal(23.0))
			Expect(handlers[pair{1, 4}].IsActive()).To(BeFalse())
			Expect(handlers[pair{0, 1}].IsActive()).To(BeFalse())
		})

		It("accepts the same set unchanged", func() {
			table.SetHandlerActivity(true)
			table.Reinitialize(colls)
			Expect(table.Size()).To(Equal(7))
			for p, h := range handlers {
				Expect(table.Get(p[1], p[0])).To(BeIdenticalTo(h))
			}
		})
	})

	Describe("checkpoints", func() {
		It("restores handlers with their state", func() {
			h := table.Put(7, 3, Behavior{Friction: 0.2}, "pair")
			h.Update([]Candidate{featureCandidate(1, -0.05)})
			h.Unilaterals()[0].Lambda = 1.5
			table.Put(0, 1, Behavior{}, DefaultSource)

			recs := table.GetState()
			Expect(recs).To(HaveLen(2))
			Expect(recs[0].IndexA).To(Equal(7))
			Expect(recs[0].IndexB).To(Equal(3))

			var sources []BehaviorSource
			restored := NewTable(m, colls)
			restored.SetState(recs, func(src BehaviorSource, c0, c1 Collidable) Behavior {
				sources = append(sources, src)
				if src == "pair" {
					return Behavior{Friction: 0.2}
				}
				return Behavior{}
			})

			Expect(sources).To(Equal([]BehaviorSource{"pair", DefaultSource}))
			r := restored.Get(3, 7)
			Expect(r).NotTo(BeNil())
			Expect(r).NotTo(BeIdenticalTo(h))
			Expect(r.Collidable0()).To(BeIdenticalTo(colls[7]))
			Expect(r.Behavior().Friction).To(Equal(0.2))
			Expect(r.GetState()).To(Equal(h.GetState()))
			Expect(restored.GetState()).To(Equal(recs))
		})

		It("panics on a repeated pair", func() {
			recs := []HandlerRecord{{IndexA: 2, IndexB: 3}, {IndexA: 3, IndexB: 2}}
			Expect(func() {
				table.SetState(recs, func(BehaviorSource, Collidable, Collidable) Behavior { return Behavior{} })
			}).To(Panic())
		})

		It("panics on indices outside the collidable list", func() {
			recs := []HandlerRecord{{IndexA: 0, IndexB: 40}}
			Expect(func() {
				table.SetState(recs, func(BehaviorSource, Collidable, Collidable) Behavior { return Behavior{} })
			}).To(Panic())
		})
	})
})
