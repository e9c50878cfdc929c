package fanout

import (
	"context"
	"fmt"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Executor invokes one unit's target with its input, returning the unit's output
// or a failure. It is the seam where tool dispatch and sub-plan execution plug in;
// the coordinator itself has no idea what a tool or a sub-plan is.
//
// The scope is the depth the unit is running at. An executor that fans out nested
// work registers a batch, starts it with scope.Child(), and returns
// Continue(pending, fold) instead of waiting: the worker slot is released right
// away and the unit turns terminal once the children resolve. Blocking on the
// nested Pending from inside the executor holds a pool worker for the whole
// subtree, which is the starvation pattern the depth pools exist to avoid.
type Executor func(scope Scope, target Target, input any) (any, error)

// Continuation defers a unit's completion until a nested batch resolves.
type Continuation struct {
	pending *Pending
	fold    func(*Outcome) (any, error)
}

// Continue makes an executor's return value asynchronous: the unit stays Running
// until pending resolves, then fold turns the child outcome into the unit's own
// output (or failure). A nil fold completes the unit with the outcome itself.
func Continue(pending *Pending, fold func(*Outcome) (any, error)) *Continuation {
	return &Continuation{pending: pending, fold: fold}
}

// Coordinator drives batches of registered units across the depth-indexed pools
// and aggregates their outcomes.
type Coordinator struct {
	pools *PoolSet
	reg   *Registry
	exec  Executor
	log   *zap.Logger
}

// NewCoordinator wires a coordinator to its pool set, registry and executor. The
// registry is injected rather than owned so tests and multiple coordinators can
// share or isolate unit tables as they see fit.
func NewCoordinator(pools *PoolSet, reg *Registry, exec Executor, opts ...Option) (*Coordinator, error) {
	if pools == nil || reg == nil {
		return nil, fmt.Errorf("coordinator needs a pool set and a registry")
	}
	if exec == nil {
		return nil, fmt.Errorf("coordinator needs an executor")
	}
	o := buildOptions(opts)
	return &Coordinator{pools: pools, reg: reg, exec: exec, log: o.log}, nil
}

// RegisterBatch delegates to the underlying registry.
func (c *Coordinator) RegisterBatch(specs []UnitSpec) Registered {
	return c.reg.RegisterBatch(specs)
}

// Pending delegates to the underlying registry.
func (c *Coordinator) Pending() []UnitResult {
	return c.reg.Pending()
}

// ClearPending delegates to the underlying registry.
func (c *Coordinator) ClearPending() int {
	return c.reg.ClearPending()
}

// StartAsync claims the targeted units (all registered ones when ids is empty) and
// returns immediately with the future of their aggregate outcome. Submission to
// the pools happens on a dispatch goroutine, so backpressure from a crowded pool
// never reaches the caller.
//
// Units already claimed by a concurrent start are skipped; starting an empty set
// yields an already-resolved empty outcome, not an error. A unit that cannot be
// enqueued (saturation, shutdown) resolves as Failed with that cause; its siblings
// are unaffected.
func (c *Coordinator) StartAsync(scope Scope, ids ...int64) (*Pending, error) {
	if scope.Depth() < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDepth, scope.Depth())
	}

	claimed := c.reg.claimAll(ids)
	claimedIDs := lo.Map(claimed, func(u *unit, _ int) int64 { return u.id })
	pending := newPending(len(claimed), func() { c.reg.dropAll(claimedIDs) })
	if len(claimed) == 0 {
		return pending, nil
	}

	c.log.Debug("starting batch",
		zap.Int("depth", scope.Depth()),
		zap.Int("units", len(claimed)))
	go c.dispatch(scope, claimed, pending)
	return pending, nil
}

// StartSync starts the targeted units and blocks until the aggregate resolves.
//
// Only call this from a caller that is not itself running inside a pool worker: a
// blocking wait on a worker goroutine occupies a pool slot for the whole duration
// of the subtree, which is the starvation pattern the depth pools exist to avoid.
// Pool-resident code uses StartAsync plus Then.
func (c *Coordinator) StartSync(scope Scope, ids ...int64) (*Outcome, error) {
	pending, err := c.StartAsync(scope, ids...)
	if err != nil {
		return nil, err
	}
	return pending.Wait(context.Background())
}

// dispatch submits every claimed unit to the pool at the batch's depth. Runs on
// its own goroutine; a submission refused by the pool fails that unit only.
func (c *Coordinator) dispatch(scope Scope, units []*unit, pending *Pending) {
	for _, u := range units {
		u := u
		err := c.pools.Submit(scope.Depth(), func() { c.runUnit(scope, u, pending) })
		if err != nil {
			c.log.Warn("unit submission refused",
				zap.Int64("unit", u.id),
				zap.String("name", u.name),
				zap.Int("depth", scope.Depth()),
				zap.Error(err))
			u.fail(err)
			pending.resolve(u.result())
		}
	}
}

// runUnit is the task body executed on a pool worker. A Continuation returned by
// the executor frees the worker slot immediately; the unit turns terminal from
// the nested batch's completion instead.
func (c *Coordinator) runUnit(scope Scope, u *unit, pending *Pending) {
	output, err := c.invoke(scope, u)
	if err != nil {
		u.fail(err)
		pending.resolve(u.result())
		return
	}
	if cont, ok := output.(*Continuation); ok {
		if cont == nil || cont.pending == nil {
			u.fail(fmt.Errorf("unit %q returned an empty continuation", u.name))
			pending.resolve(u.result())
			return
		}
		cont.pending.Then(func(outcome *Outcome) {
			folded, err := cont.invokeFold(outcome)
			if err != nil {
				u.fail(err)
			} else {
				u.complete(folded)
			}
			pending.resolve(u.result())
		})
		return
	}
	u.complete(output)
	pending.resolve(u.result())
}

// invokeFold applies the continuation's fold with the same panic containment as
// the executor itself.
func (cont *Continuation) invokeFold(outcome *Outcome) (folded any, err error) {
	if cont.fold == nil {
		return outcome, nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("continuation panicked: %v", r)
		}
	}()
	return cont.fold(outcome)
}

// invoke calls the executor with panics converted to unit failures, so one
// misbehaving target can never take down a worker or its siblings.
func (c *Coordinator) invoke(scope Scope, u *unit) (output any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unit %q panicked: %v", u.name, r)
		}
	}()
	return c.exec(scope, u.target, u.input)
}
