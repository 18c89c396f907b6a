package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"storyloop/internal/store"
)

var flagShowLog bool

var statusCmd = &cobra.Command{
	Use:   "status [loop-id]",
	Short: "Show loop runs and their progress",
	Long: `Status lists recent loop runs for the workspace. With a loop id it shows
that loop's full state; --log additionally prints the iteration audit trail.`,
	Args: cobra.MaximumNArgs(1),
	RunE: showStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&flagShowLog, "log", false, "print the iteration log")
}

func showStatus(cmd *cobra.Command, args []string) error {
	_, db, _, _, err := setup()
	if err != nil {
		return err
	}
	defer db.Close()

	if len(args) == 1 {
		rec, err := db.GetLoop(args[0])
		if err != nil {
			return err
		}
		printLoop(rec)
		if flagShowLog {
			printLog(rec)
		}
		return nil
	}

	loops, err := db.ListLoops(nil)
	if err != nil {
		return err
	}
	if len(loops) == 0 {
		fmt.Println("No loops recorded for this workspace.")
		return nil
	}
	for i := range loops {
		printLoop(&loops[i])
		if flagShowLog {
			printLog(&loops[i])
		}
		fmt.Println()
	}
	return nil
}

func printLoop(rec *store.LoopRecord) {
	fmt.Printf("%s  %s  %s\n", rec.ID, statusColor(rec.Status), rec.Scope())
	fmt.Printf("  started %s", rec.StartedAt.Local().Format(time.RFC822))
	if rec.CompletedAt != nil {
		fmt.Printf(", ended %s", rec.CompletedAt.Local().Format(time.RFC822))
	}
	fmt.Printf("\n  iteration %d, %d completed, %d failed\n",
		rec.Iteration, rec.StoriesCompleted, rec.StoriesFailed)
	if rec.Message != "" {
		fmt.Printf("  %s\n", rec.Message)
	}
	if rec.CurrentStoryID != "" {
		fmt.Printf("  working on %s\n", rec.CurrentStoryID)
	}
}

func printLog(rec *store.LoopRecord) {
	if len(rec.Log) == 0 {
		return
	}
	fmt.Println("  log:")
	for _, entry := range rec.Log {
		line := fmt.Sprintf("    #%d %s %s", entry.Iteration, entry.Action, entry.StoryTitle)
		if entry.Detail != "" {
			line += ": " + entry.Detail
		}
		fmt.Println(line)
		for _, q := range entry.QualityResults {
			mark := color.GreenString("pass")
			if !q.Passed {
				mark = color.RedString("fail")
			}
			fmt.Printf("      %s %s (%dms)\n", mark, q.Name, q.DurationMS)
		}
	}
}

func statusColor(s store.LoopStatus) string {
	switch s {
	case store.LoopRunning:
		return color.CyanString(strings.ToUpper(string(s)))
	case store.LoopPaused:
		return color.YellowString(strings.ToUpper(string(s)))
	case store.LoopCompleted:
		return color.GreenString(strings.ToUpper(string(s)))
	default:
		return color.RedString(strings.ToUpper(string(s)))
	}
}
