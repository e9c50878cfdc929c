// fanout-stress drives a synthetic nested fan-out load against a fanout
// coordinator and prints a JSON report of the run.
//
// Usage:
//
//	fanout-stress --fan 4 --levels 3 --sleep 2ms
//	fanout-stress --config fanout.yaml --log-file stress.log
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/fogfactory/fanout"
)

var (
	flagConfig   string
	flagFan      int
	flagLevels   int
	flagSleep    time.Duration
	flagLogLevel string
	flagLogFile  string
)

func main() {
	cmd := &cobra.Command{
		Use:           "fanout-stress",
		Short:         "run a nested fan-out load and report pool behaviour",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			return run()
		},
	}
	cmd.Flags().StringVarP(&flagConfig, "config", "c", "", "yaml config file for pool sizing")
	cmd.Flags().IntVar(&flagFan, "fan", 4, "units registered per parent")
	cmd.Flags().IntVar(&flagLevels, "levels", 3, "nesting depth of the load tree")
	cmd.Flags().DurationVar(&flagSleep, "sleep", 2*time.Millisecond, "simulated work per leaf unit")
	cmd.Flags().StringVar(&flagLogLevel, "log-level", "info", "debug, info, warn or error")
	cmd.Flags().StringVar(&flagLogFile, "log-file", "", "log to a rotated file instead of stderr")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type report struct {
	RunID     string             `json:"run_id"`
	Fan       int                `json:"fan"`
	Levels    int                `json:"levels"`
	Resolved  int                `json:"resolved"`
	Completed int                `json:"completed"`
	Failed    int                `json:"failed"`
	Duration  string             `json:"duration"`
	Pools     []fanout.PoolStats `json:"pools"`
}

func run() error {
	log, err := newLogger(flagLogLevel, flagLogFile)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	cfg := fanout.DefaultConfig()
	if flagConfig != "" {
		if cfg, err = fanout.LoadConfig(flagConfig); err != nil {
			return err
		}
	}

	pools, err := fanout.NewPoolSet(cfg, fanout.WithLogger(log))
	if err != nil {
		return err
	}
	defer pools.Shutdown()

	var coord *fanout.Coordinator
	exec := func(scope fanout.Scope, _ fanout.Target, input any) (any, error) {
		level := input.(int)
		if level >= flagLevels-1 {
			time.Sleep(flagSleep)
			return nil, nil
		}
		registered := coord.RegisterBatch(levelSpecs(flagFan, level+1))
		pending, err := coord.StartAsync(scope.Child(), registered.IDs...)
		if err != nil {
			return nil, err
		}
		return fanout.Continue(pending, func(outcome *fanout.Outcome) (any, error) {
			return outcome.Len(), nil
		}), nil
	}
	if coord, err = fanout.NewCoordinator(pools, fanout.NewRegistry(), exec, fanout.WithLogger(log)); err != nil {
		return err
	}

	runID := uuid.NewString()
	log.Info("starting stress run",
		zap.String("run_id", runID),
		zap.Int("fan", flagFan),
		zap.Int("levels", flagLevels))

	coord.RegisterBatch(levelSpecs(flagFan, 0))
	start := time.Now()
	outcome, err := coord.StartSync(fanout.Root())
	if err != nil {
		return err
	}

	out, err := sonic.MarshalIndent(report{
		RunID:     runID,
		Fan:       flagFan,
		Levels:    flagLevels,
		Resolved:  outcome.Len(),
		Completed: len(outcome.Completed()),
		Failed:    len(outcome.Failed()),
		Duration:  time.Since(start).String(),
		Pools:     pools.Stats(),
	}, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func levelSpecs(fan, level int) []fanout.UnitSpec {
	specs := make([]fanout.UnitSpec, fan)
	for i := range specs {
		specs[i] = fanout.UnitSpec{
			Name:   fmt.Sprintf("l%d-u%d", level, i),
			Target: fanout.Target{ToolName: "stress", SubPlanID: fmt.Sprintf("l%d", level)},
			Input:  level,
		}
	}
	return specs
}

// newLogger builds a console logger, or a rotated file logger when path is set.
func newLogger(level, path string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.Set(level); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var core zapcore.Core
	if path != "" {
		sink := zapcore.AddSync(&lumberjack.Logger{
			Filename:   path,
			MaxSize:    50, // MB
			MaxBackups: 3,
			MaxAge:     7, // days
		})
		core = zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), sink, lvl)
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		core = zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.Lock(os.Stderr), lvl)
	}
	return zap.New(core), nil
}
