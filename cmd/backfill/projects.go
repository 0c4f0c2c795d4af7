package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/adsight/backfill/internal/store"
)

var (
	projID       string
	projAccount  string
	projName     string
	projTimezone string
)

func newProjectsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "projects",
		Short: "Manage tracked projects",
	}

	add := &cobra.Command{
		Use:     "add",
		Short:   "Register a project for metric imports",
		Example: `  backfill projects add --id proj-1 --account act_1234 --name "Spring Campaign"`,
		RunE:    projectsAddRun,
	}
	add.Flags().StringVar(&projID, "id", "", "project ID (required)")
	add.Flags().StringVar(&projAccount, "account", "", "upstream ad account ID (required)")
	add.Flags().StringVar(&projName, "name", "", "display name (required)")
	add.Flags().StringVar(&projTimezone, "timezone", "UTC", "reporting timezone")
	add.MarkFlagRequired("id")
	add.MarkFlagRequired("account")
	add.MarkFlagRequired("name")

	list := &cobra.Command{
		Use:   "list",
		Short: "List active projects",
		RunE:  projectsListRun,
	}

	cmd.AddCommand(add, list)
	return cmd
}

func projectsAddRun(cmd *cobra.Command, args []string) error {
	p := &store.Project{
		ID:          projID,
		AdAccountID: projAccount,
		Name:        projName,
		Timezone:    projTimezone,
	}
	if err := globalStore.CreateProject(p); err != nil {
		if store.IsDuplicate(err) {
			return fmt.Errorf("project %s already exists", projID)
		}
		return err
	}
	fmt.Printf("Project %s registered\n", projID)
	return nil
}

func projectsListRun(cmd *cobra.Command, args []string) error {
	projects, err := globalStore.ListActiveProjects()
	if err != nil {
		return err
	}
	if len(projects) == 0 {
		fmt.Println("No active projects")
		return nil
	}
	for _, p := range projects {
		status := "idle"
		if p.Progress != nil {
			status = fmt.Sprintf("%s %d%%", p.Progress.Status, p.Progress.Percent)
		}
		fmt.Printf("%-16s %-24s %-12s %s\n", p.ID, p.Name, p.AdAccountID, status)
	}
	return nil
}
