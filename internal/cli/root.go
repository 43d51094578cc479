// Package cli implements the agent-memgit CLI commands.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/agent-memgit/internal/config"
	"github.com/rcliao/agent-memgit/internal/lifecycle"
	"github.com/rcliao/agent-memgit/internal/logging"
	"github.com/rcliao/agent-memgit/internal/oracle"
	"github.com/rcliao/agent-memgit/internal/store"
)

var (
	dbPath     string
	configPath string
	formatFlag string
	logLevel   string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "agent-memgit",
	Short: "Versioned memory for AI agents",
	Long: "Long-term agent memory as an append-only event ledger with git-like commits and branches. " +
		"Each branch is a persona; the current truth is replayed from history.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Database path (default: $AGENT_MEMGIT_DB or ~/.agent-memgit/memory.db)")
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: ~/.agent-memgit/config.yaml)")
	RootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "json", "Output format: json or text")
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, cfg.Validate()
}

func openStore(cmd *cobra.Command) (*store.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log := logging.New(cfg.Log, cmd.ErrOrStderr())
	return store.Open(cmd.Context(), cfg, store.WithLogger(log))
}

func newController(cmd *cobra.Command, s *store.Store) (*lifecycle.Controller, error) {
	cfg := s.Config()
	log := logging.New(cfg.Log, cmd.ErrOrStderr())
	o, err := oracle.New(cfg.Oracle, log)
	if err != nil {
		return nil, err
	}
	return lifecycle.New(s, o, cfg.Lifecycle, lifecycle.WithLogger(log)), nil
}

func textFormat() bool {
	return formatFlag == "text"
}

func printJSON(cmd *cobra.Command, v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Fprintln(cmd.OutOrStdout(), string(b))
}

// readInput takes content from positional args, falling back to piped stdin.
func readInput(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok {
		stat, err := f.Stat()
		if err != nil || stat.Mode()&os.ModeCharDevice != 0 {
			return "", nil
		}
	}
	b, err := io.ReadAll(in)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
