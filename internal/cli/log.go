package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func init() {
	logCmd := &cobra.Command{
		Use:   "log",
		Short: "Show commit history of the current branch",
		Run:   runLog,
	}
	logCmd.Flags().IntP("max", "n", 0, "Max commits (default from config)")
	RootCmd.AddCommand(logCmd)
}

func runLog(cmd *cobra.Command, args []string) {
	max, _ := cmd.Flags().GetInt("max")

	s, err := openStore(cmd)
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	history, err := s.History(cmd.Context(), max)
	if err != nil {
		exitErr("log", err)
	}

	if !textFormat() {
		printJSON(cmd, history)
		return
	}
	out := cmd.OutOrStdout()
	for _, c := range history {
		fmt.Fprintf(out, "%s %s (%s, %d events)\n", c.ShortID(), c.Message,
			humanize.Time(c.Timestamp), len(c.Events))
	}
}
