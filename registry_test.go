package fanout_test

import (
	"errors"
	"testing"

	"github.com/maxatome/go-testdeep/td"
	"github.com/samber/lo"
	"pgregory.net/rapid"

	"github.com/fogfactory/fanout"
)

func TestRegistry(t *testing.T) {
	specs := func(names ...string) []fanout.UnitSpec {
		return lo.Map(names, func(name string, _ int) fanout.UnitSpec {
			return fanout.UnitSpec{
				Name:   name,
				Target: fanout.Target{ToolName: "tool-" + name, SubPlanID: "plan-" + name},
			}
		})
	}

	t.Run("register_assigns_monotonic_ids", func(t *testing.T) {
		// Arrange
		reg := fanout.NewRegistry()

		// Act
		first := reg.RegisterBatch(specs("a", "b"))
		second := reg.RegisterBatch(specs("c"))

		// Assert
		td.Cmp(t, first.Count, 2)
		td.Cmp(t, first.IDs, []int64{1, 2})
		td.Cmp(t, second.IDs, []int64{3})
		td.Cmp(t, reg.Len(), 3)
	})

	t.Run("malformed_unit_rejected_individually", func(t *testing.T) {
		// Arrange
		reg := fanout.NewRegistry()
		batch := []fanout.UnitSpec{
			{Name: "ok", Target: fanout.Target{ToolName: "x"}},
			{Name: "no-target"},
			{Name: "also-ok", Target: fanout.Target{SubPlanID: "p2"}},
		}

		// Act
		result := reg.RegisterBatch(batch)

		// Assert: the rest of the batch still registers.
		td.Cmp(t, result.Count, 2)
		td.CmpLen(t, result.Rejected, 1)
		td.Cmp(t, result.Rejected[0].Index, 1)
		td.Cmp(t, result.Rejected[0].Name, "no-target")
		td.CmpTrue(t, errors.Is(result.Rejected[0].Err, fanout.ErrInvalidUnit))
	})

	t.Run("duplicate_supplied_id_rejected", func(t *testing.T) {
		// Arrange
		reg := fanout.NewRegistry()
		target := fanout.Target{ToolName: "x"}
		reg.RegisterBatch([]fanout.UnitSpec{{ID: 42, Name: "first", Target: target}})

		// Act
		result := reg.RegisterBatch([]fanout.UnitSpec{{ID: 42, Name: "second", Target: target}})

		// Assert
		td.Cmp(t, result.Count, 0)
		td.CmpLen(t, result.Rejected, 1)
		td.CmpTrue(t, errors.Is(result.Rejected[0].Err, fanout.ErrInvalidUnit))
	})

	t.Run("pending_preserves_registration_order", func(t *testing.T) {
		// Arrange
		reg := fanout.NewRegistry()
		reg.RegisterBatch(specs("a", "b", "c"))

		// Act
		pending := reg.Pending()

		// Assert
		names := lo.Map(pending, func(r fanout.UnitResult, _ int) string { return r.Name })
		td.Cmp(t, names, []string{"a", "b", "c"})
		for _, r := range pending {
			td.Cmp(t, r.State, fanout.StateRegistered)
		}
	})

	t.Run("clear_pending_returns_count", func(t *testing.T) {
		// Arrange
		reg := fanout.NewRegistry()
		reg.RegisterBatch(specs("a", "b", "c"))

		// Act
		cleared := reg.ClearPending()

		// Assert
		td.Cmp(t, cleared, 3)
		td.Cmp(t, reg.Pending(), td.Empty())
		td.Cmp(t, reg.Len(), 0)
	})
}

// TestRegistryLifecycleProperties checks bookkeeping invariants over arbitrary
// register / clear interleavings.
func TestRegistryLifecycleProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		reg := fanout.NewRegistry()
		live := 0

		steps := rapid.IntRange(1, 30).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			if rapid.Bool().Draw(t, "register") {
				n := rapid.IntRange(0, 5).Draw(t, "batch")
				batch := make([]fanout.UnitSpec, n)
				for j := range batch {
					batch[j] = fanout.UnitSpec{Target: fanout.Target{ToolName: "t"}}
				}
				result := reg.RegisterBatch(batch)
				if result.Count != n {
					t.Fatalf("registered %d of %d valid units", result.Count, n)
				}
				live += n
			} else {
				cleared := reg.ClearPending()
				if cleared != live {
					t.Fatalf("cleared %d, expected %d", cleared, live)
				}
				live = 0
			}
			if got := len(reg.Pending()); got != live {
				t.Fatalf("pending %d, expected %d", got, live)
			}
		}
	})
}
