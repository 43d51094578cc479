package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/agent-memgit/internal/model"
)

func init() {
	mergeCmd := &cobra.Command{
		Use:   "merge <source>",
		Short: "Merge another branch's events into the current branch",
		Args:  cobra.ExactArgs(1),
		Run:   runMerge,
	}
	mergeCmd.Flags().String("into", "", "Target branch (default: current)")
	mergeCmd.Flags().StringP("message", "m", "", "Commit message")

	pickCmd := &cobra.Command{
		Use:   "cherry-pick <commit-id>",
		Short: "Apply one commit's events onto the current branch",
		Args:  cobra.ExactArgs(1),
		Run:   runCherryPick,
	}
	pickCmd.Flags().String("into", "", "Target branch (default: current)")
	pickCmd.Flags().StringP("message", "m", "", "Commit message")

	diffCmd := &cobra.Command{
		Use:   "diff <branch-a> <branch-b>",
		Short: "Compare the events reachable from two branches",
		Args:  cobra.ExactArgs(2),
		Run:   runDiff,
	}

	RootCmd.AddCommand(mergeCmd, pickCmd, diffCmd)
}

func runMerge(cmd *cobra.Command, args []string) {
	into, _ := cmd.Flags().GetString("into")
	message, _ := cmd.Flags().GetString("message")

	s, err := openStore(cmd)
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	c, err := s.Branches().Merge(cmd.Context(), args[0], into, message)
	if err != nil {
		exitErr("merge", err)
	}
	printCommitOrNoop(cmd, c, "nothing to merge")
}

func runCherryPick(cmd *cobra.Command, args []string) {
	into, _ := cmd.Flags().GetString("into")
	message, _ := cmd.Flags().GetString("message")

	s, err := openStore(cmd)
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	c, err := s.Branches().CherryPick(cmd.Context(), args[0], into, message)
	if err != nil {
		exitErr("cherry-pick", err)
	}
	printCommitOrNoop(cmd, c, "nothing to pick")
}

func printCommitOrNoop(cmd *cobra.Command, c *model.Commit, noop string) {
	if textFormat() {
		if c == nil {
			fmt.Fprintln(cmd.OutOrStdout(), noop)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "[%s %s] %s (%d events)\n", c.Branch, c.ShortID(), c.Message, len(c.Events))
		}
		return
	}
	printJSON(cmd, c)
}

func runDiff(cmd *cobra.Command, args []string) {
	s, err := openStore(cmd)
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	onlyA, onlyB, err := s.Branches().Diff(cmd.Context(), args[0], args[1])
	if err != nil {
		exitErr("diff", err)
	}
	if !textFormat() {
		printJSON(cmd, map[string][]string{"only_" + args[0]: nonNil(onlyA), "only_" + args[1]: nonNil(onlyB)})
		return
	}
	out := cmd.OutOrStdout()
	for _, id := range onlyA {
		fmt.Fprintf(out, "- %s\n", id)
	}
	for _, id := range onlyB {
		fmt.Fprintf(out, "+ %s\n", id)
	}
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
