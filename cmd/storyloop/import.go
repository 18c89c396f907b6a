package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"storyloop/internal/store"
)

var importCmd = &cobra.Command{
	Use:   "import <backlog.yaml>",
	Short: "Import stories from a YAML backlog file",
	Long: `Import loads stories into the current scope from a YAML file:

  stories:
    - key: db-schema
      title: Design the database schema
      priority: high
      criteria:
        - migrations apply cleanly
    - key: api
      title: Build the HTTP API
      depends_on: [db-schema]

Dependencies reference other stories in the same file by key.`,
	Args: cobra.ExactArgs(1),
	RunE: importBacklog,
}

func importBacklog(cmd *cobra.Command, args []string) error {
	_, db, scope, _, err := setup()
	if err != nil {
		return err
	}
	defer db.Close()

	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	stories, err := store.ImportBacklog(db, scope, f)
	if err != nil {
		return err
	}

	color.Green("Imported %d stories into %s", len(stories), scope)
	for i := range stories {
		fmt.Printf("  %s [%s] %s\n", stories[i].ID[:8], stories[i].Priority, stories[i].Title)
	}
	return nil
}
