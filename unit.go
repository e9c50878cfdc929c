package fanout

import (
	"fmt"
	"sync/atomic"
)

// Target identifies what a unit calls: a tool, applied to a sub-plan. The library
// never interprets either field; the injected Executor does.
type Target struct {
	ToolName  string `yaml:"tool_name" json:"tool_name"`
	SubPlanID string `yaml:"sub_plan_id" json:"sub_plan_id"`
}

func (t Target) empty() bool {
	return t.ToolName == "" && t.SubPlanID == ""
}

// UnitSpec describes one callable unit of a batch at registration time. ID may be
// left zero, in which case the registry assigns one.
type UnitSpec struct {
	ID     int64
	Name   string
	Target Target
	Input  any
}

// UnitState is the lifecycle state of a registered unit. Transitions are
// one-directional: Registered → Running → one of the terminal states.
type UnitState int32

const (
	StateRegistered UnitState = iota
	StateRunning
	StateCompleted
	StateFailed
	// StateCancelled is reserved for an external cancellation signal. Nothing in
	// the coordinator produces it today.
	StateCancelled
)

func (s UnitState) String() string {
	switch s {
	case StateRegistered:
		return "REGISTERED"
	case StateRunning:
		return "RUNNING"
	case StateCompleted:
		return "COMPLETED"
	case StateFailed:
		return "FAILED"
	case StateCancelled:
		return "CANCELLED"
	}
	return fmt.Sprintf("UnitState(%d)", int32(s))
}

// Terminal reports whether the state ends a unit's lifecycle.
func (s UnitState) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// unit is a registry entry. The registry owns it while pending or running; once
// terminal, only read-only UnitResult copies circulate.
type unit struct {
	id     int64
	name   string
	target Target
	input  any

	state  atomic.Int32
	output any
	err    error
}

func newUnit(id int64, spec UnitSpec) *unit {
	u := &unit{id: id, name: spec.Name, target: spec.Target, input: spec.Input}
	u.state.Store(int32(StateRegistered))
	return u
}

// claim moves the unit from Registered to Running. Exactly one caller wins.
func (u *unit) claim() bool {
	return u.state.CompareAndSwap(int32(StateRegistered), int32(StateRunning))
}

func (u *unit) complete(output any) {
	u.output = output
	u.state.Store(int32(StateCompleted))
}

func (u *unit) fail(err error) {
	u.err = err
	u.state.Store(int32(StateFailed))
}

func (u *unit) currentState() UnitState {
	return UnitState(u.state.Load())
}

// pendingResult is the read-only view of a unit that has not run yet. It leaves
// output and err alone; only the worker that claimed a unit may touch those, and
// a registry-side read of them would race with it.
func (u *unit) pendingResult() UnitResult {
	return UnitResult{
		ID:     u.id,
		Name:   u.name,
		Target: u.target,
		State:  StateRegistered,
	}
}

func (u *unit) result() UnitResult {
	return UnitResult{
		ID:     u.id,
		Name:   u.name,
		Target: u.target,
		State:  u.currentState(),
		Output: u.output,
		Err:    u.err,
	}
}

// UnitResult is the read-only terminal view of a unit, as aggregated into an
// Outcome. Output is set only for Completed units, Err only for Failed ones.
type UnitResult struct {
	ID     int64
	Name   string
	Target Target
	State  UnitState
	Output any
	Err    error
}
