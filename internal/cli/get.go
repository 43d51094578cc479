package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/rcliao/agent-memgit/internal/model"
	"github.com/rcliao/agent-memgit/internal/store"
)

func init() {
	getCmd := &cobra.Command{
		Use:   "get <subject> <predicate>",
		Short: "Show the current value of a fact",
		Args:  cobra.ExactArgs(2),
		Run:   runGet,
	}
	getCmd.Flags().StringP("scope", "s", "", "Scope")
	getCmd.Flags().Bool("history", false, "Return every event for the key, oldest first")

	lineageCmd := &cobra.Command{
		Use:   "lineage <event-id>",
		Short: "Follow an event's parent links back to the value it first replaced",
		Args:  cobra.ExactArgs(1),
		Run:   runLineage,
	}

	RootCmd.AddCommand(getCmd, lineageCmd)
}

func runGet(cmd *cobra.Command, args []string) {
	scope, _ := cmd.Flags().GetString("scope")
	history, _ := cmd.Flags().GetBool("history")

	s, err := openStore(cmd)
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	if history {
		events, err := s.KeyHistory(cmd.Context(), args[0], args[1], scope)
		if err != nil {
			exitErr("get", err)
		}
		printEvents(cmd, events)
		return
	}

	ev, ok, err := s.View().Get(cmd.Context(), args[0], args[1], scope)
	if err != nil {
		exitErr("get", err)
	}
	if !ok {
		exitErr("get", fmt.Errorf("%w: %s", store.ErrNotFound, model.SlotKey(args[0], args[1], scope)))
	}
	printEvents(cmd, []model.Event{ev})
}

func runLineage(cmd *cobra.Command, args []string) {
	s, err := openStore(cmd)
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	events, err := s.Lineage(cmd.Context(), args[0])
	if err != nil {
		exitErr("lineage", err)
	}
	printEvents(cmd, events)
}

func printEvents(cmd *cobra.Command, events []model.Event) {
	if !textFormat() {
		if len(events) == 1 {
			printJSON(cmd, events[0])
		} else {
			printJSON(cmd, events)
		}
		return
	}
	for _, ev := range events {
		fmt.Fprintln(cmd.OutOrStdout(), formatEvent(ev))
	}
}

func formatEvent(ev model.Event) string {
	line := fmt.Sprintf("%s %-9s %s %s %s", model.ShortID(ev.ID), ev.Type, ev.Subject, ev.Predicate, ev.Object)
	if ev.Scope != "" {
		line += " [" + ev.Scope + "]"
	}
	return fmt.Sprintf("%s (%.2f, %s)", line, ev.Confidence, humanize.Time(ev.Timestamp))
}
