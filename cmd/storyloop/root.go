package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"storyloop/internal/config"
	"storyloop/internal/logging"
	"storyloop/internal/store"
)

var (
	flagWorkspace string
	flagEpic      string
)

var rootCmd = &cobra.Command{
	Use:   "storyloop",
	Short: "Autonomous story completion loop",
	Long: `Storyloop works through a backlog of stories autonomously: it selects the
next eligible story by priority and dependencies, delegates the implementation
to an AI coding agent, runs your quality checks (build/lint/test), and decides
whether to accept the change, ask the agent for an in-place fix-up, or roll
back and retry fresh — until the backlog is done or budgets run out.

Typical usage:
  storyloop import backlog.yaml     # load stories into the workspace
  storyloop run                     # work through them
  storyloop status --log            # inspect progress and the audit trail`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagWorkspace, "workspace", "w", "", "workspace directory (default: current directory)")
	rootCmd.PersistentFlags().StringVar(&flagEpic, "epic", "", "scope to an epic id instead of the whole workspace")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(storiesCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(versionCmd)
}

// workspaceDir resolves the workspace flag, defaulting to the current
// directory.
func workspaceDir() (string, error) {
	if flagWorkspace != "" {
		return flagWorkspace, nil
	}
	return os.Getwd()
}

// loopScope builds the story scope from the persistent flags.
func loopScope() (store.Scope, string, error) {
	workDir, err := workspaceDir()
	if err != nil {
		return store.Scope{}, "", err
	}
	if flagEpic != "" {
		return store.Scope{EpicID: flagEpic}, workDir, nil
	}
	return store.Scope{Workspace: workDir}, workDir, nil
}

// setup loads configuration, initializes logging, and opens the state
// database for the resolved workspace.
func setup() (*config.Config, *store.DB, store.Scope, string, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, store.Scope{}, "", fmt.Errorf("load config: %w", err)
	}
	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	})

	scope, workDir, err := loopScope()
	if err != nil {
		return nil, nil, store.Scope{}, "", err
	}

	db, err := store.Open(cfg.DatabasePath(workDir))
	if err != nil {
		return nil, nil, store.Scope{}, "", fmt.Errorf("open state database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, nil, store.Scope{}, "", fmt.Errorf("migrate state database: %w", err)
	}
	return cfg, db, scope, workDir, nil
}
