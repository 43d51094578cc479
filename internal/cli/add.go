package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/agent-memgit/internal/model"
	"github.com/rcliao/agent-memgit/internal/store"
)

func init() {
	addCmd := &cobra.Command{
		Use:   "add <subject> <predicate> [object]",
		Short: "Remember a fact",
		Long:  "Commit one fact to the current branch. The object can be positional or piped via stdin.",
		Args:  cobra.MinimumNArgs(2),
		Run:   runAdd,
	}
	addCmd.Flags().StringP("scope", "s", "", "Scope, e.g. work or personal")
	addCmd.Flags().Float64("confidence", 0.9, "Confidence in [0,1]")
	addCmd.Flags().String("source", string(model.SourceAgentInferred), "Source: user_explicit, user_implicit, agent_inferred, tool_output, system")
	addCmd.Flags().String("evidence", "", "Supporting evidence")
	addCmd.Flags().String("sensitivity", string(model.SensitivityPublic), "Sensitivity: public, private, ephemeral")

	updateCmd := &cobra.Command{
		Use:   "update <subject> <predicate> [value]",
		Short: "Replace the value of a known fact",
		Args:  cobra.MinimumNArgs(2),
		Run:   runUpdate,
	}
	updateCmd.Flags().StringP("scope", "s", "", "Scope")
	updateCmd.Flags().StringP("reason", "r", "", "Why the value changed")

	forgetCmd := &cobra.Command{
		Use:   "forget <subject> <predicate>",
		Short: "Forget a fact",
		Long:  "Record a forget event. The fact leaves the current view but stays in history.",
		Args:  cobra.ExactArgs(2),
		Run:   runForget,
	}
	forgetCmd.Flags().StringP("scope", "s", "", "Scope")
	forgetCmd.Flags().StringP("reason", "r", "", "Why the fact is forgotten")

	RootCmd.AddCommand(addCmd, updateCmd, forgetCmd)
}

func objectArg(cmd *cobra.Command, args []string) string {
	object, err := readInput(cmd, args[2:])
	if err != nil {
		exitErr("read stdin", err)
	}
	object = strings.TrimSpace(object)
	if object == "" {
		exitErr(cmd.Name(), fmt.Errorf("object is required (positional arg or stdin)"))
	}
	return object
}

func runAdd(cmd *cobra.Command, args []string) {
	scope, _ := cmd.Flags().GetString("scope")
	confidence, _ := cmd.Flags().GetFloat64("confidence")
	source, _ := cmd.Flags().GetString("source")
	evidence, _ := cmd.Flags().GetString("evidence")
	sensitivity, _ := cmd.Flags().GetString("sensitivity")
	object := objectArg(cmd, args)

	s, err := openStore(cmd)
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	res, err := s.Remember(cmd.Context(), store.AddParams{
		Subject:     args[0],
		Predicate:   args[1],
		Object:      object,
		Scope:       scope,
		Confidence:  &confidence,
		Source:      model.Source(source),
		Evidence:    evidence,
		Sensitivity: model.Sensitivity(sensitivity),
	})
	if err != nil {
		exitErr("add", err)
	}
	printResult(cmd, res)
}

func runUpdate(cmd *cobra.Command, args []string) {
	scope, _ := cmd.Flags().GetString("scope")
	reason, _ := cmd.Flags().GetString("reason")
	value := objectArg(cmd, args)

	s, err := openStore(cmd)
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	res, err := s.Update(cmd.Context(), store.UpdateParams{
		Subject:   args[0],
		Predicate: args[1],
		Scope:     scope,
		Value:     value,
		Reason:    reason,
	})
	if err != nil {
		exitErr("update", err)
	}
	printResult(cmd, res)
}

func runForget(cmd *cobra.Command, args []string) {
	scope, _ := cmd.Flags().GetString("scope")
	reason, _ := cmd.Flags().GetString("reason")

	s, err := openStore(cmd)
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	res, err := s.Forget(cmd.Context(), store.ForgetParams{
		Subject:   args[0],
		Predicate: args[1],
		Scope:     scope,
		Reason:    reason,
	})
	if err != nil {
		exitErr("forget", err)
	}
	printResult(cmd, res)
}

func printResult(cmd *cobra.Command, res *store.Result) {
	if textFormat() {
		fmt.Fprintf(cmd.OutOrStdout(), "[%s %s] %s\n", res.Commit.Branch, res.Commit.ShortID(), res.Commit.Message)
		return
	}
	printJSON(cmd, res)
}
