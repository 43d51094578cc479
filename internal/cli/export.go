package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rcliao/agent-memgit/internal/store"
)

func init() {
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export the whole ledger as JSON",
		Run:   runExport,
	}
	exportCmd.Flags().StringP("output", "o", "", "Write to file instead of stdout")

	importCmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Import a JSON export (reads stdin without a file)",
		Long:  "Import events, commits and branches. Content hashes are verified; existing branches are left alone.",
		Args:  cobra.MaximumNArgs(1),
		Run:   runImport,
	}

	RootCmd.AddCommand(exportCmd, importCmd)
}

func runExport(cmd *cobra.Command, args []string) {
	output, _ := cmd.Flags().GetString("output")

	s, err := openStore(cmd)
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	bundle, err := s.Export(cmd.Context())
	if err != nil {
		exitErr("export", err)
	}

	data, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		exitErr("marshal export", err)
	}
	if output == "" {
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return
	}
	if err := os.WriteFile(output, append(data, '\n'), 0o600); err != nil {
		exitErr("write export", err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "exported %d events, %d commits to %s\n",
		len(bundle.Events), len(bundle.Commits), output)
}

func runImport(cmd *cobra.Command, args []string) {
	var r io.Reader = cmd.InOrStdin()
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			exitErr("open import file", err)
		}
		defer f.Close()
		r = f
	}

	var bundle store.Bundle
	if err := json.NewDecoder(r).Decode(&bundle); err != nil {
		exitErr("parse import", err)
	}

	s, err := openStore(cmd)
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	res, err := s.Import(cmd.Context(), &bundle)
	if err != nil {
		exitErr("import", err)
	}
	if textFormat() {
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d events, %d commits, %d branches (%d existing branches skipped)\n",
			res.Events, res.Commits, res.Branches, res.Skipped)
		return
	}
	printJSON(cmd, res)
}
