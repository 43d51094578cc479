package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/agent-memgit/internal/model"
	"github.com/rcliao/agent-memgit/internal/store"
	"github.com/rcliao/agent-memgit/internal/view"
)

func init() {
	searchCmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search facts on the current branch",
		Long: "Search the current truth of the current branch, ranked by confidence then recency. " +
			"With --all, filter every recorded value instead, including superseded ones.",
		Args: cobra.MaximumNArgs(1),
		Run:  runSearch,
	}
	searchCmd.Flags().String("subject", "", "Exact subject")
	searchCmd.Flags().String("predicate", "", "Exact predicate")
	searchCmd.Flags().StringP("scope", "s", "", "Exact scope")
	searchCmd.Flags().IntP("limit", "l", 20, "Max results (0 for all)")
	searchCmd.Flags().Bool("all", false, "Include superseded values")

	contextCmd := &cobra.Command{
		Use:   "context",
		Short: "Render memories for prompt injection",
		Run:   runContext,
	}
	contextCmd.Flags().IntP("max", "m", 0, "Max memories (default from config)")
	contextCmd.Flags().StringP("scope", "s", "", "Only this scope")
	contextCmd.Flags().IntP("budget", "b", 0, "Character budget (0 for unbounded)")

	RootCmd.AddCommand(searchCmd, contextCmd)
}

func runSearch(cmd *cobra.Command, args []string) {
	subject, _ := cmd.Flags().GetString("subject")
	predicate, _ := cmd.Flags().GetString("predicate")
	scope, _ := cmd.Flags().GetString("scope")
	limit, _ := cmd.Flags().GetInt("limit")
	all, _ := cmd.Flags().GetBool("all")

	s, err := openStore(cmd)
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	ctx := cmd.Context()
	var results []model.Event
	if all {
		if len(args) > 0 {
			exitErr("search", fmt.Errorf("--all takes exact filters, not a query"))
		}
		results, err = s.Search(ctx, store.SearchParams{Subject: subject, Predicate: predicate, Scope: scope, Limit: limit})
	} else {
		var query string
		if len(args) > 0 {
			query = args[0]
		}
		results, err = s.FindFacts(ctx, store.FindParams{Query: query, Subject: subject, Predicate: predicate, Scope: scope, Limit: limit})
	}
	if err != nil {
		exitErr("search", err)
	}

	if textFormat() {
		if len(results) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no matches")
		}
		for _, ev := range results {
			fmt.Fprintln(cmd.OutOrStdout(), formatEvent(ev))
		}
		return
	}
	printJSON(cmd, results)
}

func runContext(cmd *cobra.Command, args []string) {
	maxItems, _ := cmd.Flags().GetInt("max")
	scope, _ := cmd.Flags().GetString("scope")
	budget, _ := cmd.Flags().GetInt("budget")

	s, err := openStore(cmd)
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	if textFormat() && scope == "" && budget == 0 {
		out, err := s.ContextString(cmd.Context(), maxItems)
		if err != nil {
			exitErr("context", err)
		}
		fmt.Fprint(cmd.OutOrStdout(), out)
		return
	}

	res, err := s.Context(cmd.Context(), view.ContextParams{MaxItems: maxItems, Scope: scope, Budget: budget})
	if err != nil {
		exitErr("context", err)
	}
	if textFormat() {
		for _, m := range res.Memories {
			fmt.Fprintf(cmd.OutOrStdout(), "- %s %s %s (%.2f)\n", m.Subject, m.Predicate, m.Object, m.Confidence)
		}
		return
	}
	printJSON(cmd, res)
}
