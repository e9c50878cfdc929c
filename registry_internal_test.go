package fanout

import (
	"sync"
	"testing"

	"github.com/maxatome/go-testdeep/td"
	"github.com/samber/lo"
)

// Claiming is the one registry operation the public API only exposes indirectly
// (through the coordinator), so its exclusivity contract is pinned down here.
func TestClaimExclusivity(t *testing.T) {
	t.Run("concurrent_claims_are_disjoint", func(t *testing.T) {
		// Arrange
		reg := NewRegistry()
		const n = 200
		batch := make([]UnitSpec, n)
		for i := range batch {
			batch[i] = UnitSpec{Target: Target{ToolName: "t"}}
		}
		reg.RegisterBatch(batch)

		// Act: two callers race over the whole table.
		start := make(chan struct{})
		var wg sync.WaitGroup
		claims := make([][]*unit, 2)
		for i := range claims {
			i := i
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				claims[i] = reg.claimAll(nil)
			}()
		}
		close(start)
		wg.Wait()

		// Assert: every unit claimed exactly once across both callers.
		ids := lo.Map(append(claims[0], claims[1]...), func(u *unit, _ int) int64 { return u.id })
		td.CmpLen(t, ids, n)
		td.CmpLen(t, lo.Uniq(ids), n, "no unit claimed twice")
	})

	t.Run("claimed_units_survive_clear_pending", func(t *testing.T) {
		// Arrange
		reg := NewRegistry()
		batch := make([]UnitSpec, 5)
		for i := range batch {
			batch[i] = UnitSpec{Target: Target{ToolName: "t"}}
		}
		result := reg.RegisterBatch(batch)

		// Act: start two of the five, then discard the rest.
		claimed := reg.claimAll(result.IDs[:2])
		cleared := reg.ClearPending()

		// Assert
		td.CmpLen(t, claimed, 2)
		td.Cmp(t, cleared, 3)
		td.Cmp(t, reg.Pending(), td.Empty())
		td.Cmp(t, reg.Len(), 2, "running units untouched")
		for _, u := range claimed {
			td.Cmp(t, u.currentState(), StateRunning)
		}
	})

	t.Run("claim_skips_unknown_and_terminal", func(t *testing.T) {
		// Arrange
		reg := NewRegistry()
		result := reg.RegisterBatch([]UnitSpec{{Target: Target{ToolName: "t"}}})
		id := result.IDs[0]
		first := reg.claimAll([]int64{id})
		td.CmpLen(t, first, 1)
		first[0].complete("done")

		// Act
		again := reg.claimAll([]int64{id, 9999})

		// Assert
		td.Cmp(t, again, td.Empty())
	})
}
