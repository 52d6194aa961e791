package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dfonseca/quadro/internal/lifecycle"
	"github.com/dfonseca/quadro/internal/models"
	"github.com/dfonseca/quadro/internal/output"
	"github.com/dfonseca/quadro/internal/store"
)

var (
	sprintStart string
	sprintEnd   string
)

var sprintCmd = &cobra.Command{
	Use:   "sprint",
	Short: "Manage sprints",
	Long:  "Add, list, show, finalize, and roll over sprints.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return sprintListRun()
	},
}

var sprintAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create a sprint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sprintAddRun(args[0])
	},
}

var sprintListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List sprints",
	RunE: func(cmd *cobra.Command, args []string) error {
		return sprintListRun()
	},
}

var sprintShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show sprint details and health",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return statusOverviewRun(args[0])
	},
}

var sprintFinalizeCmd = &cobra.Command{
	Use:   "finalize <name>",
	Short: "Finalize a sprint, freezing all of its cards",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sprintFinalizeRun(args[0])
	},
}

var sprintRolloverCmd = &cobra.Command{
	Use:   "rollover <from> <to>",
	Short: "Seed a sprint with another sprint's unfinished cards",
	Long: `Copy every non-terminal card from the source sprint into the target
sprint, recreating its projects there. Stages and scheduling fields are
preserved; done and infeasible cards stay behind.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sprintRolloverRun(args[0], args[1])
	},
}

func init() {
	sprintAddCmd.Flags().StringVar(&sprintStart, "start", "", "Start date (YYYY-MM-DD, default: today)")
	sprintAddCmd.Flags().StringVar(&sprintEnd, "end", "", "End date (YYYY-MM-DD, default: start + 13 days)")

	sprintCmd.AddCommand(sprintAddCmd)
	sprintCmd.AddCommand(sprintListCmd)
	sprintCmd.AddCommand(sprintShowCmd)
	sprintCmd.AddCommand(sprintFinalizeCmd)
	sprintCmd.AddCommand(sprintRolloverCmd)
	rootCmd.AddCommand(sprintCmd)
}

func sprintAddRun(name string) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	start := time.Now()
	if sprintStart != "" {
		start, err = time.Parse("2006-01-02", sprintStart)
		if err != nil {
			return fmt.Errorf("parse start date: %w", err)
		}
	}
	end := start.AddDate(0, 0, 13)
	if sprintEnd != "" {
		end, err = time.Parse("2006-01-02", sprintEnd)
		if err != nil {
			return fmt.Errorf("parse end date: %w", err)
		}
	}
	if end.Before(start) {
		return fmt.Errorf("end date %s is before start date %s", end.Format("2006-01-02"), start.Format("2006-01-02"))
	}

	sp := &models.Sprint{Name: name, StartDate: start, EndDate: end}

	if dryRun {
		ui.DryRunMsg("Would create sprint: %s (%s to %s)", name, start.Format("2006-01-02"), end.Format("2006-01-02"))
		return nil
	}

	if err := s.CreateSprint(context.Background(), sp); err != nil {
		return fmt.Errorf("create sprint: %w", err)
	}

	ui.Success("Created sprint %s (%s to %s)", output.Cyan(name), start.Format("2006-01-02"), end.Format("2006-01-02"))
	return nil
}

func sprintListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	sprints, err := s.ListSprints(ctx)
	if err != nil {
		return err
	}

	if len(sprints) == 0 {
		ui.Info("No sprints yet. Use 'quadro sprint add <name>' to get started.")
		return nil
	}

	now := time.Now()
	table := ui.Table([]string{"Name", "Window", "State", "Cards", "Done"})
	for _, sp := range sprints {
		cards, _ := s.ListCards(ctx, store.CardListFilter{SprintID: sp.ID})
		done := 0
		for _, c := range cards {
			if c.Stage == models.StageDone {
				done++
			}
		}

		state := output.Green("open")
		if !lifecycle.SprintOpen(sp, now) {
			state = output.Red("frozen")
		}

		_ = table.Append([]string{
			output.Cyan(sp.Name),
			fmt.Sprintf("%s to %s", sp.StartDate.Format("2006-01-02"), sp.EndDate.Format("2006-01-02")),
			state,
			fmt.Sprintf("%d", len(cards)),
			fmt.Sprintf("%d", done),
		})
	}
	_ = table.Render()
	return nil
}

func sprintFinalizeRun(name string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	sp, err := s.GetSprintByName(ctx, name)
	if err != nil {
		return err
	}
	if sp.Finalized {
		ui.Info("Sprint %s is already finalized.", sp.Name)
		return nil
	}

	if dryRun {
		ui.DryRunMsg("Would finalize sprint: %s", sp.Name)
		return nil
	}

	sp.Finalized = true
	if err := s.UpdateSprint(ctx, sp); err != nil {
		return fmt.Errorf("finalize sprint: %w", err)
	}

	ui.Success("Finalized sprint %s. Its cards are now frozen.", output.Cyan(sp.Name))
	return nil
}

func sprintRolloverRun(fromName, toName string) error {
	svc, err := getService()
	if err != nil {
		return err
	}
	ctx := context.Background()

	from, err := dataStore.GetSprintByName(ctx, fromName)
	if err != nil {
		return err
	}
	to, err := dataStore.GetSprintByName(ctx, toName)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would roll over unfinished cards from %s to %s", from.Name, to.Name)
		return nil
	}

	copied, err := svc.RolloverSprint(ctx, from.ID, to.ID, getActor())
	if err != nil {
		return fmt.Errorf("rollover: %w", err)
	}

	if copied == 0 {
		ui.Info("Nothing to roll over: %s has no unfinished cards.", from.Name)
		return nil
	}
	ui.Success("Rolled over %d card(s) from %s to %s", copied, output.Cyan(from.Name), output.Cyan(to.Name))
	return nil
}
