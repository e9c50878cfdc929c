/*
fanout runs trees of sub-tasks over bounded pools of goroutines, one pool per nesting depth.

A caller registers a batch of callable units, then starts it. Each unit runs in the pool
matching its depth; while running it may register and start a nested batch of its own, which
lands one pool deeper. Results bubble back up through futures, and a parent folds its
children's outcome in with Continue, so it never has to hold a worker slot just to wait for
its children.

The depth split exists to avoid a classic starvation pattern: a task at depth N that fans out
children and then waits for them keeps occupying a depth-N worker without freeing anything at
depth N+1. If every depth shared one pool (or pools of equal size), a handful of simultaneous
parents can fill every slot with waiting tasks, and the tree grinds down to one effective
worker per level. Giving each depth its own pool, and growing the deeper pools (doubling per
level up to a hard cap, by default), leaves room for both the blocked-parent population and
genuine new work.

Three pieces cooperate:

- PoolSet owns the depth-indexed pools, creates them lazily, and sizes them by policy.
- Registry holds the units a caller has described but not yet started, and tracks each one
  through Registered, Running and a terminal state.
- Coordinator claims registered units, submits them at the right depth, and aggregates the
  per-unit outcomes into one future the caller can wait on, poll, or chain.

StartAsync never blocks the caller. StartSync is the only sanctioned blocking entry point and
is meant for top-level callers only: calling it from inside a pool worker recreates the very
starvation this package exists to remove.

Pool sizing is a tuning knob like any other. If units mostly wait (API calls, sub-plan
round-trips), larger pools and a deeper cap are cheap; if they burn CPU, keep the base size
near the core count and let the depth growth handle the rest. Try and measure.
*/

package fanout
