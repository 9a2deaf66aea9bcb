package cmd

import (
	"fmt"

	"github.com/eapache/queue"
	"github.com/rubens21/go-lifetimes"
	"github.com/rubens21/go-lifetimes/service"
	"github.com/spf13/cobra"
	"go.uber.org/atomic"
)

var churnCmd = &cobra.Command{
	Use:   "churn",
	Short: "Create and terminate many short-lived lifetimes",
	Long: `Churn creates lifetimes under one long-lived root: a sequence where each
new lifetime terminates the previous one, and a sliding window of siblings
where the oldest is terminated once the window is full.

The root keeps only the children that are still alive, so the number of
resources it reports at the end stays close to the window size no matter how
many iterations ran.`,
	RunE: runChurn,
}

var (
	churnIterations int
	churnWindow     int
)

func init() {
	rootCmd.AddCommand(churnCmd)

	churnCmd.Flags().IntVarP(&churnIterations, "iterations", "n", 10000, "number of lifetimes to create")
	churnCmd.Flags().IntVarP(&churnWindow, "window", "w", 4, "number of sibling lifetimes kept alive")
}

type churnStats struct {
	created   int
	disposed  int
	resources int
	tree      int
}

func runChurn(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	var stats churnStats
	m := service.NewManager(lifetimes.Eternal(), logger.Sugar(), cfg.Manager.MaxWaitStop)
	m.AddTask(service.MakeProcessTask("churn", m.Process(), func(p service.Process) error {
		stats = churn(p.Lifetime(), churnIterations, churnWindow)
		return nil
	}))
	if err := m.Run(); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "created:   %d\n", stats.created)
	fmt.Fprintf(out, "disposed:  %d\n", stats.disposed)
	fmt.Fprintf(out, "resources: %d\n", stats.resources)
	fmt.Fprintf(out, "tree size: %d\n", stats.tree)
	return nil
}

// churn stops early when root dies.
func churn(root lifetimes.Lifetime, iterations, window int) churnStats {
	def := lifetimes.CreateNested(root)
	def.SetID("churn")
	defer def.Terminate()

	var disposed atomic.Int64
	seq := lifetimes.NewSequentialLifetimes(def)
	siblings := queue.New()
	created := 0

	for i := 0; i < iterations && def.IsAlive(); i++ {
		seq.DefineNext(func(next *lifetimes.Definition, lt lifetimes.Lifetime) {
			next.SetID(fmt.Sprintf("seq-%d", i))
			lt.OnTermination(func() { disposed.Inc() })
		})

		sibling := def.CreateNested()
		sibling.SetID(fmt.Sprintf("sibling-%d", i))
		sibling.OnTermination(func() { disposed.Inc() })
		siblings.Add(sibling)
		if siblings.Length() > window {
			siblings.Remove().(*lifetimes.Definition).Terminate()
		}
		created += 2
	}

	snap := def.Snapshot()
	return churnStats{
		created:   created,
		disposed:  int(disposed.Load()),
		resources: snap.Resources,
		tree:      snap.Count(),
	}
}
