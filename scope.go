package fanout

import "fmt"

// Scope tells a piece of code how deep it sits in the execution tree. The external
// caller is depth 0; a unit started at depth N fans its own children out at depth N+1.
//
// A Scope is a value, carried alongside the unit of work. It is handed to the
// executor when the unit runs, and the executor passes Child for any nested batch it
// starts. Depth only ever grows, one level at a time.
type Scope struct {
	depth int
}

// Root is the scope of an external caller, depth 0.
func Root() Scope {
	return Scope{}
}

// At builds a scope at an explicit depth. Mostly useful in tests; normal code
// derives scopes with Child.
func At(depth int) Scope {
	return Scope{depth: depth}
}

// Depth returns the nesting depth.
func (s Scope) Depth() int {
	return s.depth
}

// Child is the scope one level deeper, where nested batches belong.
func (s Scope) Child() Scope {
	return Scope{depth: s.depth + 1}
}

func (s Scope) String() string {
	return fmt.Sprintf("depth=%d", s.depth)
}
