package loop

import (
	"fmt"
	"strings"

	"storyloop/internal/store"
)

const defaultSystemPrompt = `You are an autonomous software engineer working through a backlog of stories.
Implement exactly one story at a time. Make the smallest change that satisfies
every acceptance criterion, keep the build green, and do not touch unrelated code.`

// maxLearningChars bounds each failure note carried into future prompts.
const maxLearningChars = 500

// progressSummary is the backlog overview included in every prompt.
type progressSummary struct {
	completed int
	failed    int
	remaining int
}

func summarize(stories []store.Story) progressSummary {
	var p progressSummary
	for i := range stories {
		switch stories[i].Status {
		case store.StoryCompleted:
			p.completed++
		case store.StoryFailed:
			p.failed++
		case store.StoryPending, store.StoryInProgress:
			if !stories[i].ResearchOnly {
				p.remaining++
			}
		}
	}
	return p
}

// buildPrompt assembles the agent prompt for one attempt. fixupContext is the
// failing quality-check output from the previous sub-attempt; when set, the
// prompt asks for a targeted repair of the dirty tree instead of a fresh
// implementation.
func buildPrompt(story *store.Story, fixupContext string, all []store.Story) string {
	var b strings.Builder

	if fixupContext != "" {
		b.WriteString("Your previous change for this story failed quality checks. ")
		b.WriteString("The working tree still contains that change. Fix the specific errors below without starting over.\n\n")
		b.WriteString("## Failing checks\n\n```\n")
		b.WriteString(fixupContext)
		b.WriteString("\n```\n\n")
	}

	fmt.Fprintf(&b, "## Story: %s\n\n", story.Title)
	if story.Description != "" {
		b.WriteString(story.Description)
		b.WriteString("\n\n")
	}

	if len(story.Criteria) > 0 {
		b.WriteString("## Acceptance criteria\n\n")
		for i, c := range story.Criteria {
			fmt.Fprintf(&b, "%d. %s\n", i+1, c)
		}
		b.WriteString("\n")
	}

	if len(story.Learnings) > 0 {
		b.WriteString("## Notes from earlier attempts\n\n")
		for _, l := range story.Learnings {
			fmt.Fprintf(&b, "- %s\n", truncate(l, maxLearningChars))
		}
		b.WriteString("\n")
	}

	p := summarize(all)
	fmt.Fprintf(&b, "## Backlog progress\n\n%d completed, %d failed, %d remaining (including this one).\n",
		p.completed, p.failed, p.remaining)

	return b.String()
}

// failureLearning condenses a failed attempt into a note for future prompts.
func failureLearning(results []store.QualityResult, agentErr error) string {
	if agentErr != nil {
		return truncate("agent session failed: "+agentErr.Error(), maxLearningChars)
	}

	var names []string
	var detail string
	for _, r := range results {
		if r.Required && !r.Passed {
			names = append(names, r.Name)
			if detail == "" {
				detail = r.Output
			}
		}
	}
	if len(names) == 0 {
		return ""
	}

	note := "failed checks: " + strings.Join(names, ", ")
	if detail != "" {
		note += " — " + detail
	}
	return truncate(note, maxLearningChars)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
