package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/rcliao/agent-memgit/internal/model"
)

func init() {
	branchCmd := &cobra.Command{
		Use:   "branch",
		Short: "Manage branches (personas)",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List branches",
		Run:   runBranchList,
	}
	listCmd.Flags().StringP("match", "m", "", "Glob pattern, e.g. work-*")

	createCmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Fork a branch from the current one",
		Args:  cobra.ExactArgs(1),
		Run:   runBranchCreate,
	}
	createCmd.Flags().StringP("persona", "p", "", "Persona description")
	createCmd.Flags().String("from", "", "Source branch (default: current)")

	deleteCmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a branch",
		Args:  cobra.ExactArgs(1),
		Run:   runBranchDelete,
	}

	switchCmd := &cobra.Command{
		Use:   "switch <name>",
		Short: "Make a branch current",
		Args:  cobra.ExactArgs(1),
		Run:   runSwitch,
	}

	branchCmd.AddCommand(listCmd, createCmd, deleteCmd)
	RootCmd.AddCommand(branchCmd, switchCmd)
}

type branchEntry struct {
	model.Branch
	Current bool `json:"current"`
}

func runBranchList(cmd *cobra.Command, args []string) {
	match, _ := cmd.Flags().GetString("match")

	s, err := openStore(cmd)
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	ctx := cmd.Context()
	var branches []model.Branch
	if match != "" {
		branches, err = s.Branches().Match(ctx, match)
	} else {
		branches, err = s.Branches().List(ctx)
	}
	if err != nil {
		exitErr("branch list", err)
	}
	current, err := s.CurrentBranch(ctx)
	if err != nil {
		exitErr("branch list", err)
	}

	entries := make([]branchEntry, 0, len(branches))
	for _, b := range branches {
		entries = append(entries, branchEntry{Branch: b, Current: b.Name == current})
	}
	if !textFormat() {
		printJSON(cmd, entries)
		return
	}
	for _, e := range entries {
		marker := " "
		if e.Current {
			marker = "*"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s (created %s)\n", marker, e.Branch, humanize.Time(e.CreatedAt))
	}
}

func runBranchCreate(cmd *cobra.Command, args []string) {
	persona, _ := cmd.Flags().GetString("persona")
	from, _ := cmd.Flags().GetString("from")

	s, err := openStore(cmd)
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	b, err := s.Branches().Create(cmd.Context(), args[0], persona, from)
	if err != nil {
		exitErr("branch create", err)
	}
	if textFormat() {
		fmt.Fprintf(cmd.OutOrStdout(), "created %s\n", b)
		return
	}
	printJSON(cmd, b)
}

func runBranchDelete(cmd *cobra.Command, args []string) {
	s, err := openStore(cmd)
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	deleted, err := s.Branches().Delete(cmd.Context(), args[0])
	if err != nil {
		exitErr("branch delete", err)
	}
	if textFormat() {
		if deleted {
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "no branch %s\n", args[0])
		}
		return
	}
	printJSON(cmd, map[string]any{"branch": args[0], "deleted": deleted})
}

func runSwitch(cmd *cobra.Command, args []string) {
	s, err := openStore(cmd)
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	ok, err := s.Branches().Switch(cmd.Context(), args[0])
	if err != nil {
		exitErr("switch", err)
	}
	if !ok {
		exitErr("switch", fmt.Errorf("no branch %s", args[0]))
	}
	if textFormat() {
		fmt.Fprintf(cmd.OutOrStdout(), "switched to %s\n", args[0])
		return
	}
	printJSON(cmd, map[string]any{"branch": args[0], "switched": ok})
}
