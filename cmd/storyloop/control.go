package main

import (
	"errors"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"storyloop/internal/loop"
)

var pauseCmd = &cobra.Command{
	Use:   "pause <loop-id>",
	Short: "Pause a loop at its next iteration boundary",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return controlLoop(args[0], func(orch *loop.Orchestrator, id string) error {
			return orch.PauseLoop(id)
		}, "paused")
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <loop-id>",
	Short: "Resume a paused loop",
	Long: `Resume reopens the pause gate of a loop that still has a live runner.
A loop paused before a process restart has no runner left to resume; start
a new loop instead.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		err := controlLoop(args[0], func(orch *loop.Orchestrator, id string) error {
			return orch.ResumeLoop(id)
		}, "resumed")
		if errors.Is(err, loop.ErrRunnerUnavailable) {
			color.Yellow("This loop has no live runner (the process that ran it is gone).")
			color.Yellow("Start a fresh loop with 'storyloop run'; remaining stories carry over.")
		}
		return err
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <loop-id>",
	Short: "Cancel a loop",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return controlLoop(args[0], func(orch *loop.Orchestrator, id string) error {
			return orch.CancelLoop(id)
		}, "cancelled")
	},
}

// controlLoop runs one control operation against a store-backed
// orchestrator. From a separate process there is never a live runner, so
// pause and cancel degrade to status updates the running loop observes at
// its next iteration boundary.
func controlLoop(loopID string, op func(*loop.Orchestrator, string) error, verb string) error {
	cfg, db, _, _, err := setup()
	if err != nil {
		return err
	}
	defer db.Close()

	orch := loop.NewOrchestrator(loop.Options{
		DB:            db,
		Checks:        cfg.Checks,
		StaleAfter:    cfg.Loop.StaleAfter,
		SweepInterval: cfg.Loop.SweepInterval,
	})

	if err := op(orch, loopID); err != nil {
		return err
	}

	color.Green("Loop %s: %s requested", loopID, verb)
	return nil
}
