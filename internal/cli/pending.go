package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func init() {
	pendingCmd := &cobra.Command{
		Use:   "pending",
		Short: "Conflicts waiting for the user",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List unresolved conflicts",
		Run:   runPendingList,
	}
	listCmd.Flags().StringP("branch", "b", "", "Only this branch (default: current)")
	listCmd.Flags().Bool("all", false, "Every branch")

	resolveCmd := &cobra.Command{
		Use:   "resolve <id>",
		Short: "Mark a conflict as handled",
		Args:  cobra.ExactArgs(1),
		Run:   runPendingResolve,
	}

	pendingCmd.AddCommand(listCmd, resolveCmd)
	RootCmd.AddCommand(pendingCmd)
}

func runPendingList(cmd *cobra.Command, args []string) {
	branch, _ := cmd.Flags().GetString("branch")
	all, _ := cmd.Flags().GetBool("all")

	s, err := openStore(cmd)
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	ctx := cmd.Context()
	if branch == "" && !all {
		if branch, err = s.CurrentBranch(ctx); err != nil {
			exitErr("pending list", err)
		}
	}
	items, err := s.Pending().List(ctx, branch)
	if err != nil {
		exitErr("pending list", err)
	}

	if !textFormat() {
		printJSON(cmd, items)
		return
	}
	for _, it := range items {
		fmt.Fprintf(cmd.OutOrStdout(), "%s [%s] %s %s %s (%s) %s\n", it.ID, it.Branch,
			it.Subject, it.Predicate, it.Object, it.Reason, humanize.Time(it.CreatedAt))
	}
}

func runPendingResolve(cmd *cobra.Command, args []string) {
	s, err := openStore(cmd)
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	if err := s.Pending().Resolve(cmd.Context(), args[0]); err != nil {
		exitErr("pending resolve", err)
	}
	if textFormat() {
		fmt.Fprintf(cmd.OutOrStdout(), "resolved %s\n", args[0])
		return
	}
	printJSON(cmd, map[string]any{"id": args[0], "resolved": true})
}
