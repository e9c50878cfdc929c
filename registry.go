package fanout

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/samber/lo"
)

// Registry is the thread-safe table of callable units a caller has described but
// not yet started. Units are added in batches, claimed one by one by the
// coordinator, and dropped once their aggregate outcome has been handed out.
type Registry struct {
	mu     sync.RWMutex
	units  map[int64]*unit
	order  []int64
	nextID atomic.Int64
}

// NewRegistry creates an empty registry. IDs are assigned monotonically, scoped to
// this instance.
func NewRegistry() *Registry {
	return &Registry{units: make(map[int64]*unit)}
}

// Rejection explains why one unit of a batch was not registered. The rest of the
// batch is unaffected.
type Rejection struct {
	Index int
	Name  string
	Err   error
}

// Registered confirms a batch registration: how many units were accepted, under
// which IDs, and which descriptors were rejected.
type Registered struct {
	Count    int
	IDs      []int64
	Rejected []Rejection
}

// RegisterBatch adds a batch of unit descriptors in order. A descriptor without a
// target is rejected individually with ErrInvalidUnit; well-formed siblings still
// register. Descriptors with a zero ID get a registry-assigned one; a supplied ID
// that collides with a live unit is rejected.
func (r *Registry) RegisterBatch(specs []UnitSpec) Registered {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg := Registered{IDs: make([]int64, 0, len(specs))}
	for i, spec := range specs {
		if spec.Target.empty() {
			reg.Rejected = append(reg.Rejected, Rejection{Index: i, Name: spec.Name, Err: ErrInvalidUnit})
			continue
		}
		id := spec.ID
		if id == 0 {
			// Skip over any live caller-supplied IDs.
			for {
				id = r.nextID.Add(1)
				if _, exists := r.units[id]; !exists {
					break
				}
			}
		} else if _, exists := r.units[id]; exists {
			reg.Rejected = append(reg.Rejected, Rejection{
				Index: i,
				Name:  spec.Name,
				Err:   fmt.Errorf("%w: duplicate id %d", ErrInvalidUnit, id),
			})
			continue
		}
		r.units[id] = newUnit(id, spec)
		r.order = append(r.order, id)
		reg.IDs = append(reg.IDs, id)
		reg.Count++
	}
	return reg
}

// Pending returns a snapshot of the units still in Registered state, in
// registration order.
func (r *Registry) Pending() []UnitResult {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return lo.FilterMap(r.order, func(id int64, _ int) (UnitResult, bool) {
		u, ok := r.units[id]
		if !ok || u.currentState() != StateRegistered {
			return UnitResult{}, false
		}
		// A claim can land right after the state check; copying only the
		// immutable identity fields keeps this safe against the worker
		// writing output and err.
		return u.pendingResult(), true
	})
}

// ClearPending removes every unit still in Registered state and returns how many
// were removed. Running and terminal units are untouched.
func (r *Registry) ClearPending() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cleared := 0
	for id, u := range r.units {
		// A concurrent claim beats the clear: only units still strictly
		// Registered go away.
		if u.currentState() == StateRegistered {
			delete(r.units, id)
			cleared++
		}
	}
	r.compactOrderLocked()
	return cleared
}

// claimAll claims the given units (all pending ones when ids is empty) for
// execution, in registration order. Units already claimed by a concurrent caller,
// unknown IDs, and terminal units are skipped.
func (r *Registry) claimAll(ids []int64) []*unit {
	// Claiming under the read lock keeps ClearPending (write lock) from removing
	// a unit between its state check and the claim; concurrent claimers still
	// race fairly through the per-unit CAS.
	r.mu.RLock()
	defer r.mu.RUnlock()

	targets := r.order
	if len(ids) > 0 {
		targets = ids
	}
	return lo.FilterMap(targets, func(id int64, _ int) (*unit, bool) {
		u, ok := r.units[id]
		return u, ok && u.claim()
	})
}

// dropAll removes units whose results have been aggregated, so long-lived
// registries do not grow round over round.
func (r *Registry) dropAll(ids []int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		delete(r.units, id)
	}
	r.compactOrderLocked()
}

// Len returns the number of live units, in any state.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.units)
}

func (r *Registry) compactOrderLocked() {
	r.order = lo.Filter(r.order, func(id int64, _ int) bool {
		_, ok := r.units[id]
		return ok
	})
}
