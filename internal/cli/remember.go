package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	rememberCmd := &cobra.Command{
		Use:   "remember [conversation...]",
		Short: "Run the memory lifecycle over a conversation",
		Long: "Extract facts from a conversation, reconcile them with what is already remembered " +
			"and commit the result to the current branch. Reads the conversation from args or stdin.",
		Run: runRemember,
	}

	personaCmd := &cobra.Command{
		Use:   "persona [conversation...]",
		Short: "Switch to the branch whose persona fits the conversation",
		Run:   runPersona,
	}

	RootCmd.AddCommand(rememberCmd, personaCmd)
}

func conversationArg(cmd *cobra.Command, args []string) string {
	conv, err := readInput(cmd, args)
	if err != nil {
		exitErr("read stdin", err)
	}
	if strings.TrimSpace(conv) == "" {
		exitErr(cmd.Name(), fmt.Errorf("conversation is required (args or stdin)"))
	}
	return conv
}

func runRemember(cmd *cobra.Command, args []string) {
	conv := conversationArg(cmd, args)

	s, err := openStore(cmd)
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	ctrl, err := newController(cmd, s)
	if err != nil {
		exitErr("oracle", err)
	}
	res, err := ctrl.Process(cmd.Context(), conv)
	if err != nil {
		exitErr("remember", err)
	}

	if !textFormat() {
		printJSON(cmd, res)
		return
	}
	out := cmd.OutOrStdout()
	if res.Plan == nil {
		fmt.Fprintf(out, "nothing to remember: %s\n", res.Decision.Reason)
	} else {
		for _, st := range res.Plan.Steps {
			fmt.Fprintf(out, "%-10s %s", st.Result, st.Fact)
			if st.Reason != "" {
				fmt.Fprintf(out, " (%s)", st.Reason)
			}
			fmt.Fprintln(out)
		}
	}
	if res.Commit != nil {
		fmt.Fprintf(out, "[%s %s] %s\n", res.Commit.Branch, res.Commit.ShortID(), res.Commit.Message)
	}
	for _, f := range res.Fallbacks {
		fmt.Fprintf(out, "fallback: %s\n", f)
	}
}

func runPersona(cmd *cobra.Command, args []string) {
	conv := conversationArg(cmd, args)

	s, err := openStore(cmd)
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	ctrl, err := newController(cmd, s)
	if err != nil {
		exitErr("oracle", err)
	}
	branch, switched, err := ctrl.MaybeSwitchPersona(cmd.Context(), conv)
	if err != nil {
		exitErr("persona", err)
	}
	if textFormat() {
		if switched {
			fmt.Fprintf(cmd.OutOrStdout(), "switched to %s\n", branch)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "staying on %s\n", branch)
		}
		return
	}
	printJSON(cmd, map[string]any{"branch": branch, "switched": switched})
}
