package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/rcliao/agent-memgit/internal/model"
)

func init() {
	RootCmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show database statistics",
		Run:   runStats,
	})
}

func runStats(cmd *cobra.Command, args []string) {
	s, err := openStore(cmd)
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	st, err := s.Stats(cmd.Context())
	if err != nil {
		exitErr("stats", err)
	}
	if !textFormat() {
		printJSON(cmd, st)
		return
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Database: %s (%s)\n", st.DBPath, humanize.Bytes(uint64(st.DBSizeBytes)))
	fmt.Fprintf(out, "Events:   %s\n", humanize.Comma(int64(st.Events)))
	fmt.Fprintf(out, "Commits:  %s\n", humanize.Comma(int64(st.Commits)))
	fmt.Fprintf(out, "Pending:  %d\n", st.Pending)
	fmt.Fprintf(out, "Branches:\n")
	for _, b := range st.Branches {
		marker := " "
		if b.Name == st.CurrentBranch {
			marker = "*"
		}
		fmt.Fprintf(out, "%s %-16s %-8s %4d commits %4d facts", marker, b.Name, model.ShortID(b.Head), b.Commits, b.Facts)
		if b.Persona != "" {
			fmt.Fprintf(out, "  %s", b.Persona)
		}
		fmt.Fprintln(out)
	}
}
