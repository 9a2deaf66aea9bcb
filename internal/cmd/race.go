package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/rubens21/go-lifetimes"
	"github.com/rubens21/go-lifetimes/service"
	"github.com/spf13/cobra"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
)

var raceCmd = &cobra.Command{
	Use:   "race",
	Short: "Race guarded sections against termination",
	Long: `Race starts goroutines that keep entering guarded sections of a lifetime
while another goroutine terminates it, and counts sections that started after
termination returned. The count must always be zero.`,
	RunE: runRace,
}

var (
	raceGoroutines int
	raceRounds     int
	raceDelay      time.Duration
)

func init() {
	rootCmd.AddCommand(raceCmd)

	raceCmd.Flags().IntVarP(&raceGoroutines, "goroutines", "g", 8, "goroutines entering guarded sections")
	raceCmd.Flags().IntVarP(&raceRounds, "rounds", "r", 100, "lifetimes to terminate")
	raceCmd.Flags().DurationVarP(&raceDelay, "delay", "d", time.Millisecond, "time before each termination")
}

type raceStats struct {
	rounds     int
	executed   int64
	rejected   int64
	postMortem int64
}

func runRace(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	var stats raceStats
	m := service.NewManager(lifetimes.Eternal(), logger.Sugar(), cfg.Manager.MaxWaitStop)
	m.AddTask(service.MakeProcessTask("race", m.Process(), func(p service.Process) error {
		var err error
		stats, err = race(p.Lifetime(), raceGoroutines, raceRounds, raceDelay)
		return err
	}))
	if err := m.Run(); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "rounds:      %d\n", stats.rounds)
	fmt.Fprintf(out, "executed:    %d\n", stats.executed)
	fmt.Fprintf(out, "rejected:    %d\n", stats.rejected)
	fmt.Fprintf(out, "post-mortem: %d\n", stats.postMortem)
	if stats.postMortem > 0 {
		return errors.Errorf("%d guarded sections ran after termination", stats.postMortem)
	}
	return nil
}

func race(root lifetimes.Lifetime, goroutines, rounds int, delay time.Duration) (raceStats, error) {
	var stats raceStats
	var executed, rejected, postMortem atomic.Int64

	for stats.rounds < rounds && root.IsAlive() {
		def := lifetimes.CreateNested(root)
		def.SetID(fmt.Sprintf("race-%d", stats.rounds))
		var terminated atomic.Bool

		g, ctx := errgroup.WithContext(def.Context())
		for i := 0; i < goroutines; i++ {
			g.Go(func() error {
				for {
					ok := def.ExecuteIfAlive(context.Background(), func(context.Context) {
						if terminated.Load() {
							postMortem.Inc()
						}
						executed.Inc()
					})
					if !ok {
						rejected.Inc()
						return nil
					}
				}
			})
		}
		g.Go(func() error {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
			}
			if def.Terminate() {
				terminated.Store(true)
			}
			return nil
		})
		if err := g.Wait(); err != nil {
			return stats, err
		}
		stats.rounds++
	}

	stats.executed = executed.Load()
	stats.rejected = rejected.Load()
	stats.postMortem = postMortem.Load()
	return stats, nil
}
