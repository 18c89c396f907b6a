package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"storyloop/internal/store"
)

var flagStoryStatus string

var storiesCmd = &cobra.Command{
	Use:   "stories",
	Short: "List the backlog for the current scope",
	RunE:  listStories,
}

func init() {
	storiesCmd.Flags().StringVar(&flagStoryStatus, "status", "", "filter by status (pending|in_progress|completed|failed|skipped)")
}

func listStories(cmd *cobra.Command, args []string) error {
	_, db, scope, _, err := setup()
	if err != nil {
		return err
	}
	defer db.Close()

	var filter *store.StoryStatus
	if flagStoryStatus != "" {
		s := store.StoryStatus(flagStoryStatus)
		filter = &s
	}

	stories, err := db.ListStories(scope, filter)
	if err != nil {
		return err
	}
	if len(stories) == 0 {
		fmt.Println("No stories in scope", scope)
		return nil
	}

	for i := range stories {
		s := &stories[i]
		fmt.Printf("%s %s [%s] %s", storyMark(s.Status), s.ID[:8], s.Priority, s.Title)
		if s.Attempts > 0 {
			fmt.Printf(" (attempt %d/%d)", s.Attempts, s.MaxAttempts)
		}
		if s.ResearchOnly {
			fmt.Print(" (research)")
		}
		if len(s.DependsOn) > 0 {
			fmt.Printf(" deps:%d", len(s.DependsOn))
		}
		fmt.Println()
	}
	return nil
}

func storyMark(s store.StoryStatus) string {
	switch s {
	case store.StoryCompleted:
		return color.GreenString("✓")
	case store.StoryFailed:
		return color.RedString("✗")
	case store.StoryInProgress:
		return color.CyanString("▶")
	case store.StorySkipped:
		return color.YellowString("-")
	default:
		return "·"
	}
}
