package sim

import (
	"sync"

	"github.com/san-kum/mechsim/internal/dynamo"
)

// StatePool recycles fixed-size state buffers, used for the per-step
// snapshots taken before each step attempt.
type StatePool struct {
	pool sync.Pool
	size int
}

func NewStatePool(stateSize int) *StatePool {
	return &StatePool{
		size: stateSize,
		pool: sync.Pool{
			New: func() interface{} {
				return dynamo.NewState(stateSize)
			},
		},
	}
}

func (p *StatePool) Size() int { return p.size }

func (p *StatePool) Get() dynamo.State {
	return p.pool.Get().(dynamo.State)
}

// Put returns s to the pool. Buffers of the wrong size are dropped.
func (p *StatePool) Put(s dynamo.State) {
	if len(s) == p.size {
		s.Zero()
		p.pool.Put(s)
	}
}
