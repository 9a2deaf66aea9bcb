package cmd

import (
	"fmt"
	"strings"

	"github.com/m1gwings/treedrawer/tree"
	"github.com/rubens21/go-lifetimes"
	"github.com/spf13/cobra"
)

var treeCmd = &cobra.Command{
	Use:   "tree",
	Short: "Print a lifetime tree",
	Long: `Tree builds a lifetime tree of the given depth and fan-out, terminates the
lifetimes listed with --terminate and prints what is left.

Lifetimes are named by their path from the root, e.g. "root.1.0".`,
	RunE: runTree,
}

var (
	treeDepth     int
	treeFanout    int
	treeTerminate []string
)

func init() {
	rootCmd.AddCommand(treeCmd)

	treeCmd.Flags().IntVar(&treeDepth, "depth", 2, "depth of the tree below the root")
	treeCmd.Flags().IntVar(&treeFanout, "fanout", 2, "children per lifetime")
	treeCmd.Flags().StringSliceVarP(&treeTerminate, "terminate", "t", nil, "ids of lifetimes to terminate before printing")
}

func runTree(cmd *cobra.Command, _ []string) error {
	if _, _, err := setup(); err != nil {
		return err
	}

	var root *lifetimes.Definition
	lifetimes.Using(func(lt lifetimes.Lifetime) {
		root = lt.CreateNested()
		root.SetID("root")
		byID := map[string]*lifetimes.Definition{"root": root}
		grow(root, "root", treeDepth, treeFanout, byID)

		for _, id := range treeTerminate {
			def, ok := byID[id]
			if !ok {
				fmt.Fprintf(cmd.ErrOrStderr(), "no lifetime %q\n", id)
				continue
			}
			def.Terminate()
		}

		fmt.Fprintln(cmd.OutOrStdout(), drawSnapshot(root.Snapshot()))
	})
	return nil
}

func grow(parent *lifetimes.Definition, id string, depth, fanout int, byID map[string]*lifetimes.Definition) {
	if depth == 0 {
		return
	}
	for i := 0; i < fanout; i++ {
		childID := fmt.Sprintf("%s.%d", id, i)
		child := parent.CreateNested()
		child.SetID(childID)
		byID[childID] = child
		grow(child, childID, depth-1, fanout, byID)
	}
}

func drawSnapshot(s lifetimes.Snapshot) *tree.Tree {
	t := tree.NewTree(tree.NodeString(snapshotLabel(s)))
	addSnapshots(t, s.Children)
	return t
}

func addSnapshots(t *tree.Tree, children []lifetimes.Snapshot) {
	for _, c := range children {
		addSnapshots(t.AddChild(tree.NodeString(snapshotLabel(c))), c.Children)
	}
}

func snapshotLabel(s lifetimes.Snapshot) string {
	var sb strings.Builder
	sb.WriteString(s.ID)
	if s.Status != lifetimes.Alive {
		fmt.Fprintf(&sb, " (%s)", s.Status)
	}
	return sb.String()
}
