package fanout

import (
	"context"
	"sort"
	"sync"

	"github.com/samber/lo"
)

// Outcome is the aggregate result of a started batch: one entry per unit, keyed by
// unit ID. A snapshot taken before the batch finishes is partial; an outcome
// obtained through Wait or Then is complete.
//
// An outcome never "fails as a whole" because some units failed. Callers inspect
// the per-unit states.
type Outcome struct {
	results map[int64]UnitResult
}

// Len is the number of resolved units in the outcome.
func (o *Outcome) Len() int {
	return len(o.results)
}

// Get returns the result for a unit ID.
func (o *Outcome) Get(id int64) (UnitResult, bool) {
	res, ok := o.results[id]
	return res, ok
}

// Results lists every resolved unit, ordered by ID. Completion order within the
// batch is not recorded; identity is what callers attribute results by.
func (o *Outcome) Results() []UnitResult {
	results := lo.Values(o.results)
	sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })
	return results
}

// Completed lists the units that finished normally, ordered by ID.
func (o *Outcome) Completed() []UnitResult {
	return lo.Filter(o.Results(), func(r UnitResult, _ int) bool { return r.State == StateCompleted })
}

// Failed lists the units that ended in failure, ordered by ID.
func (o *Outcome) Failed() []UnitResult {
	return lo.Filter(o.Results(), func(r UnitResult, _ int) bool { return r.State == StateFailed })
}

// Pending is the future of a started batch. It resolves once every targeted unit
// has reached a terminal state; until then Snapshot exposes partial progress.
type Pending struct {
	mu        sync.Mutex
	results   map[int64]UnitResult
	remaining int
	done      chan struct{}
	onDone    func()
}

func newPending(total int, onDone func()) *Pending {
	p := &Pending{
		results:   make(map[int64]UnitResult, total),
		remaining: total,
		done:      make(chan struct{}),
		onDone:    onDone,
	}
	if total == 0 {
		p.finish()
	}
	return p
}

// resolve records one unit's terminal result. The last resolution completes the
// future.
func (p *Pending) resolve(res UnitResult) {
	p.mu.Lock()
	p.results[res.ID] = res
	p.remaining--
	last := p.remaining == 0
	p.mu.Unlock()
	if last {
		p.finish()
	}
}

func (p *Pending) finish() {
	if p.onDone != nil {
		p.onDone()
	}
	close(p.done)
}

// Done is closed once the aggregate is complete. Useful in selects.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the aggregate is complete or ctx expires. This is the blocking
// convenience; code running inside a pool worker should chain with Then instead.
func (p *Pending) Wait(ctx context.Context) (*Outcome, error) {
	select {
	case <-p.done:
		return p.Snapshot(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Snapshot copies the results resolved so far. Before completion it is a partial
// view for progress queries; after Done it is the full outcome.
func (p *Pending) Snapshot() *Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	results := make(map[int64]UnitResult, len(p.results))
	for id, res := range p.results {
		results[id] = res
	}
	return &Outcome{results: results}
}

// Then runs fn with the complete outcome once the aggregate resolves, on its own
// goroutine. It never blocks the caller, which makes it the right way to compose a
// nested batch into a parent unit's completion.
func (p *Pending) Then(fn func(*Outcome)) {
	go func() {
		<-p.done
		fn(p.Snapshot())
	}()
}
