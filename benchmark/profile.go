package benchmark

import (
	"fmt"
	"math"
	"os"
	"runtime/pprof"
	"strings"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/samber/lo"

	"github.com/fogfactory/fanout"
)

// Profile runs a synthetic nested fan-out and writes a CPU profile next to a
// latency summary. The profile file is named fanout_{date}_f{fan}_l{levels}.prof.
//
// - fan: how many units each level registers per parent.
// - levels: nesting depth of the tree; leaves sleep one millisecond.
//
// use pprof to read the file (go install github.com/google/pprof@latest).
func Profile(fan, levels int, cfg fanout.Config) {
	f, err := os.Create(fmt.Sprintf("fanout_%s_f%d_l%d.prof",
		strings.ReplaceAll(time.Now().Truncate(time.Second).Format(time.DateTime), " ", "-"),
		fan, levels))
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	// Unit latency, in microseconds, as seen from inside the executor.
	hist := hdrhistogram.New(1, int64(time.Minute/time.Microsecond), 3)
	var histMu sync.Mutex

	pools, err := fanout.NewPoolSet(cfg)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer pools.Shutdown()

	var coord *fanout.Coordinator
	exec := func(scope fanout.Scope, target fanout.Target, input any) (any, error) {
		began := time.Now()
		defer func() {
			histMu.Lock()
			_ = hist.RecordValue(time.Since(began).Microseconds())
			histMu.Unlock()
		}()

		level := input.(int)
		if level >= levels-1 {
			time.Sleep(time.Millisecond)
			return nil, nil
		}
		registered := coord.RegisterBatch(childSpecs(fan, level+1))
		pending, err := coord.StartAsync(scope.Child(), registered.IDs...)
		if err != nil {
			return nil, err
		}
		return fanout.Continue(pending, func(outcome *fanout.Outcome) (any, error) {
			return outcome.Len(), nil
		}), nil
	}
	coord, err = fanout.NewCoordinator(pools, fanout.NewRegistry(), exec)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	totalUnits := 0
	for i := 1; i <= levels; i++ {
		totalUnits += int(math.Pow(float64(fan), float64(i)))
	}
	leaves := int(math.Pow(float64(fan), float64(levels)))
	fmt.Println("totalUnits:", totalUnits, ", minimal seq duration:", time.Duration(leaves)*time.Millisecond)

	func() {
		_ = pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()

		coord.RegisterBatch(childSpecs(fan, 0))
		start := time.Now()
		outcome, err := coord.StartSync(fanout.Root())
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		fmt.Printf("(par: %s, resolved: %d, failed: %d)\n",
			time.Since(start), outcome.Len(), len(outcome.Failed()))
	}()

	fmt.Printf("unit latency: p50=%s p99=%s max=%s over %d units\n",
		time.Duration(hist.ValueAtQuantile(50))*time.Microsecond,
		time.Duration(hist.ValueAtQuantile(99))*time.Microsecond,
		time.Duration(hist.Max())*time.Microsecond,
		hist.TotalCount())
	for _, s := range pools.Stats() {
		fmt.Printf("depth %d: size=%d\n", s.Depth, s.Size)
	}
	fmt.Printf("profile:%s\n", f.Name())

	// Call pprof on a file
	// pprof -http=:8080 $file
}

func childSpecs(fan, level int) []fanout.UnitSpec {
	return lo.Map(lo.Range(fan), func(i, _ int) fanout.UnitSpec {
		return fanout.UnitSpec{
			Name:   fmt.Sprintf("l%d-u%d", level, i),
			Target: fanout.Target{ToolName: "bench", SubPlanID: fmt.Sprintf("l%d", level)},
			Input:  level,
		}
	})
}
