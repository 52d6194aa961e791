package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dfonseca/quadro/internal/models"
	"github.com/dfonseca/quadro/internal/output"
	"github.com/dfonseca/quadro/internal/store"
)

var (
	projectSprint string
	projectDesc   string
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage projects within sprints",
	Long:  "Add, remove, list, and show projects. Every project belongs to exactly one sprint.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectListRun()
	},
}

var projectAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a project to a sprint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectAddRun(args[0])
	},
}

var projectRemoveCmd = &cobra.Command{
	Use:     "remove <name>",
	Aliases: []string{"rm"},
	Short:   "Remove a project and its cards",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectRemoveRun(args[0])
	},
}

var projectListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectListRun()
	},
}

var projectShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show project details and its cards",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectShowRun(args[0])
	},
}

func init() {
	projectAddCmd.Flags().StringVar(&projectSprint, "sprint", "", "Sprint name (required)")
	projectAddCmd.Flags().StringVar(&projectDesc, "desc", "", "Project description")
	_ = projectAddCmd.MarkFlagRequired("sprint")

	projectListCmd.Flags().StringVar(&projectSprint, "sprint", "", "Filter by sprint name")

	projectCmd.AddCommand(projectAddCmd)
	projectCmd.AddCommand(projectRemoveCmd)
	projectCmd.AddCommand(projectListCmd)
	projectCmd.AddCommand(projectShowCmd)
	rootCmd.AddCommand(projectCmd)
}

func projectAddRun(name string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	sp, err := s.GetSprintByName(ctx, projectSprint)
	if err != nil {
		return err
	}

	p := &models.Project{
		SprintID:    sp.ID,
		Name:        name,
		Description: projectDesc,
	}

	if dryRun {
		ui.DryRunMsg("Would add project %s to sprint %s", name, sp.Name)
		return nil
	}

	if err := s.CreateProject(ctx, p); err != nil {
		return fmt.Errorf("add project: %w", err)
	}

	ui.Success("Added project %s to sprint %s", output.Cyan(name), sp.Name)
	return nil
}

func projectRemoveRun(name string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	p, err := s.GetProjectByName(ctx, name)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would remove project: %s", p.Name)
		return nil
	}

	if err := s.DeleteProject(ctx, p.ID); err != nil {
		return fmt.Errorf("remove project: %w", err)
	}

	ui.Success("Removed project %s", output.Cyan(p.Name))
	return nil
}

func projectListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	sprintID := ""
	if projectSprint != "" {
		sp, err := s.GetSprintByName(ctx, projectSprint)
		if err != nil {
			return err
		}
		sprintID = sp.ID
	}

	projects, err := s.ListProjects(ctx, sprintID)
	if err != nil {
		return err
	}

	if len(projects) == 0 {
		ui.Info("No projects found. Use 'quadro project add <name> --sprint <sprint>' to get started.")
		return nil
	}

	// Cache sprint names for display
	sprintNames := make(map[string]string)

	table := ui.Table([]string{"Name", "Sprint", "Cards", "Blocked", "Done"})
	for _, p := range projects {
		sprintName := sprintNames[p.SprintID]
		if sprintName == "" {
			if sp, err := s.GetSprint(ctx, p.SprintID); err == nil {
				sprintName = sp.Name
				sprintNames[p.SprintID] = sprintName
			}
		}

		cards, _ := s.ListCards(ctx, store.CardListFilter{ProjectID: p.ID})
		blocked, done := 0, 0
		for _, c := range cards {
			switch c.Stage {
			case models.StageBlocked:
				blocked++
			case models.StageDone:
				done++
			}
		}

		_ = table.Append([]string{
			output.Cyan(p.Name),
			sprintName,
			fmt.Sprintf("%d", len(cards)),
			fmt.Sprintf("%d", blocked),
			fmt.Sprintf("%d", done),
		})
	}
	_ = table.Render()
	return nil
}

func projectShowRun(name string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	p, err := s.GetProjectByName(ctx, name)
	if err != nil {
		return err
	}

	sprintName := ""
	if sp, err := s.GetSprint(ctx, p.SprintID); err == nil {
		sprintName = sp.Name
	}

	fmt.Fprintf(ui.Out, "%s\n", output.Cyan(p.Name))
	fmt.Fprintf(ui.Out, "  Sprint:     %s\n", sprintName)
	if p.Description != "" {
		fmt.Fprintf(ui.Out, "  Desc:       %s\n", p.Description)
	}
	fmt.Fprintln(ui.Out)

	cards, err := s.ListCards(ctx, store.CardListFilter{ProjectID: p.ID})
	if err != nil {
		return err
	}
	if len(cards) == 0 {
		ui.Info("No cards in this project.")
		return nil
	}

	table := ui.Table([]string{"ID", "Title", "Stage", "Priority", "Owner", "Due"})
	for _, c := range cards {
		due := ""
		if c.DueAt != nil {
			due = c.DueAt.Format("2006-01-02")
		}
		_ = table.Append([]string{
			shortID(c.ID),
			c.Title,
			output.StageColor(string(c.Stage)),
			output.PriorityColor(string(c.Priority)),
			c.OwnerName,
			due,
		})
	}
	_ = table.Render()
	return nil
}
