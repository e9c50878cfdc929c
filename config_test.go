package fanout_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/maxatome/go-testdeep/td"
	"pgregory.net/rapid"

	"github.com/fogfactory/fanout"
)

func TestConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg := fanout.DefaultConfig()

		td.Cmp(t, cfg.BaseSize, 5)
		td.Cmp(t, cfg.DynamicSizing, true)
		td.Cmp(t, cfg.HardCap, 50)
		td.Cmp(t, cfg.QueueCapacity, 100)
		td.CmpNoError(t, cfg.Validate())
	})

	t.Run("dynamic_sizing_doubles_up_to_cap", func(t *testing.T) {
		cfg := fanout.DefaultConfig()

		sizes := make([]int, 6)
		for depth := range sizes {
			sizes[depth] = cfg.SizeFor(depth)
		}

		td.Cmp(t, sizes, []int{5, 10, 20, 40, 50, 50})
	})

	t.Run("fixed_sizing_is_flat", func(t *testing.T) {
		cfg := fanout.DefaultConfig()
		cfg.DynamicSizing = false

		for depth := 0; depth < 6; depth++ {
			td.Cmp(t, cfg.SizeFor(depth), 5)
		}
	})

	t.Run("load_yaml", func(t *testing.T) {
		// Arrange
		path := filepath.Join(t.TempDir(), "fanout.yaml")
		td.Require(t).CmpNoError(os.WriteFile(path, []byte(
			"base_size: 3\nhard_cap: 24\nqueue_capacity: 10\ndynamic_sizing: true\n"), 0o600))

		// Act
		cfg, err := fanout.LoadConfig(path)

		// Assert
		td.CmpNoError(t, err)
		td.Cmp(t, cfg.BaseSize, 3)
		td.Cmp(t, cfg.HardCap, 24)
		td.Cmp(t, cfg.QueueCapacity, 10)
		td.Cmp(t, cfg.SizeFor(3), 24, "3 -> 6 -> 12 -> 24, capped")
	})

	t.Run("load_missing_file", func(t *testing.T) {
		_, err := fanout.LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
		td.CmpError(t, err)
	})

	t.Run("validate_rejects_bad_sizes", func(t *testing.T) {
		cfg := fanout.DefaultConfig()
		cfg.BaseSize = 0
		td.CmpError(t, cfg.Validate())

		cfg = fanout.DefaultConfig()
		cfg.HardCap = cfg.BaseSize - 1
		td.CmpError(t, cfg.Validate())

		cfg = fanout.DefaultConfig()
		cfg.QueueCapacity = -1
		td.CmpError(t, cfg.Validate())
	})
}

// TestSizingProperties pins down the shape of the dynamic policy for arbitrary
// parameters, not just the documented defaults.
func TestSizingProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cfg := fanout.DefaultConfig()
		cfg.BaseSize = rapid.IntRange(1, 64).Draw(t, "base")
		cfg.HardCap = cfg.BaseSize + rapid.IntRange(0, 512).Draw(t, "extra")
		depth := rapid.IntRange(0, 40).Draw(t, "depth")

		size := cfg.SizeFor(depth)

		if size < cfg.BaseSize {
			t.Fatalf("size %d below base %d", size, cfg.BaseSize)
		}
		if size > cfg.HardCap {
			t.Fatalf("size %d above cap %d", size, cfg.HardCap)
		}
		if next := cfg.SizeFor(depth + 1); next < size {
			t.Fatalf("size shrank with depth: %d then %d", size, next)
		}
	})
}
