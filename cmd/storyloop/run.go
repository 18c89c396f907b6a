package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"storyloop/internal/agentapi"
	"storyloop/internal/config"
	"storyloop/internal/loop"
	"storyloop/internal/store"
	"storyloop/internal/tracker"
)

var (
	flagMaxIterations  int
	flagAutoCommit     bool
	flagPauseOnFailure bool
	flagChecks         []string
	flagJournal        string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Work through the backlog until done or budgets run out",
	Long: `Run starts the completion loop for the current scope. Each iteration picks
the highest-priority eligible story, delegates it to the agent, runs quality
checks, and applies the accept/fix-up/rollback policy. Progress streams to the
terminal; Ctrl-C cancels cooperatively at the next iteration boundary.`,
	RunE: runLoop,
}

func init() {
	runCmd.Flags().IntVar(&flagMaxIterations, "max-iterations", 0, "override the iteration budget")
	runCmd.Flags().BoolVar(&flagAutoCommit, "commit", false, "commit each completed story")
	runCmd.Flags().BoolVar(&flagPauseOnFailure, "pause-on-failure", false, "pause the loop whenever a story fails")
	runCmd.Flags().StringSliceVar(&flagChecks, "checks", nil, "quality check ids to run (default: all configured)")
	runCmd.Flags().StringVar(&flagJournal, "tracker-journal", "", "append tracker writeback records to this file")
}

func runLoop(cmd *cobra.Command, args []string) error {
	cfg, db, scope, workDir, err := setup()
	if err != nil {
		return err
	}
	defer db.Close()

	client, err := agentapi.NewClient(agentapi.ClientConfig{
		Model:         cfg.Anthropic.Model,
		MaxTokens:     cfg.Anthropic.MaxTokens,
		APIKey:        cfg.Anthropic.APIKey,
		UseAWSBedrock: cfg.Anthropic.UseAWSBedrock,
		AWSRegion:     cfg.Anthropic.AWSRegion,
		AWSProfile:    cfg.Anthropic.AWSProfile,
	})
	if err != nil {
		return err
	}

	var writeback tracker.Writeback = tracker.Noop{}
	if flagJournal != "" {
		journal, err := tracker.NewJournal(flagJournal)
		if err != nil {
			return err
		}
		writeback = journal
	}

	orch := loop.NewOrchestrator(loop.Options{
		DB:      db,
		Agent:   agentapi.NewClaudeSessions(client),
		Tracker: writeback,
		Checks:  cfg.Checks,
		Timing: loop.Timing{
			StoryTimeout:      cfg.Loop.StoryTimeout,
			IterationDelay:    cfg.Loop.IterationDelay,
			HeartbeatInterval: cfg.Loop.HeartbeatInterval,
			SelectionRetries:  cfg.Loop.SelectionRetries,
			MaxLearnings:      cfg.Loop.MaxLearnings,
		},
		StaleAfter:    cfg.Loop.StaleAfter,
		SweepInterval: cfg.Loop.SweepInterval,
	})

	if err := orch.Recover(); err != nil {
		return err
	}

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	orch.StartSweeper(sweepCtx)

	settings := store.LoopSettings{
		MaxIterations:  cfg.Loop.MaxIterations,
		MaxAttempts:    cfg.Loop.MaxAttempts,
		MaxFixups:      cfg.Loop.MaxFixups,
		Model:          cfg.Anthropic.Model,
		MaxTokens:      cfg.Anthropic.MaxTokens,
		AutoSnapshot:   cfg.Loop.AutoSnapshot,
		AutoCommit:     cfg.Loop.AutoCommit || flagAutoCommit,
		PauseOnFailure: cfg.Loop.PauseOnFailure || flagPauseOnFailure,
		EnabledChecks:  flagChecks,
		SystemPrompt:   loadSystemPrompt(cfg),
	}
	if flagMaxIterations > 0 {
		settings.MaxIterations = flagMaxIterations
	}

	loopID, err := orch.StartLoop(context.Background(), scope, workDir, settings)
	if err != nil {
		return err
	}
	fmt.Printf("Loop %s started for %s\n\n", loopID, scope)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	for {
		select {
		case <-sigs:
			color.Yellow("\nCancelling loop (waiting for the current iteration to finish)...")
			if err := orch.CancelLoop(loopID); err != nil {
				return err
			}
		case event, ok := <-orch.Events():
			if !ok {
				return nil
			}
			if event.LoopID != loopID {
				continue
			}
			printEvent(event)
			if event.Type.Terminal() {
				orch.Shutdown(5 * time.Second)
				return printSummary(orch, loopID)
			}
		}
	}
}

// loadSystemPrompt reads the optional system prompt override file.
func loadSystemPrompt(cfg *config.Config) string {
	if cfg.Loop.SystemPromptFile == "" {
		return ""
	}
	data, err := os.ReadFile(cfg.Loop.SystemPromptFile)
	if err != nil {
		color.Yellow("warning: cannot read system prompt file: %v", err)
		return ""
	}
	return string(data)
}

func printEvent(event loop.Event) {
	switch event.Type {
	case loop.EventStoryStarted:
		color.Cyan("▶ %s (%s)", event.StoryTitle, event.Message)
	case loop.EventStoryCompleted:
		color.Green("✓ %s", event.StoryTitle)
	case loop.EventStoryFailed:
		color.Red("✗ %s: %s", event.StoryTitle, event.Message)
	case loop.EventQualityCheck:
		for _, q := range event.Quality {
			if q.Passed {
				color.Green("  check %s passed (%dms)", q.Name, q.DurationMS)
			} else {
				color.Red("  check %s failed (%dms)", q.Name, q.DurationMS)
			}
		}
	case loop.EventLearning:
		color.Yellow("  learned: %s", event.Message)
	case loop.EventPaused:
		color.Yellow("⏸ paused")
	case loop.EventResumed:
		color.Cyan("⏵ resumed")
	case loop.EventCompleted:
		color.Green("\nLoop completed: %s", event.Message)
	case loop.EventFailed:
		color.Red("\nLoop failed: %s", event.Message)
	case loop.EventCancelled:
		color.Yellow("\nLoop cancelled: %s", event.Message)
	}
}

func printSummary(orch *loop.Orchestrator, loopID string) error {
	rec, err := orch.GetLoopState(loopID)
	if err != nil {
		return err
	}
	fmt.Printf("\n%d iterations, %d completed, %d failed\n",
		rec.Iteration, rec.StoriesCompleted, rec.StoriesFailed)
	if rec.Status == store.LoopFailed {
		return fmt.Errorf("loop ended with status %s", rec.Status)
	}
	return nil
}
