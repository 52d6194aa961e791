package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dfonseca/quadro/internal/health"
	"github.com/dfonseca/quadro/internal/lifecycle"
	"github.com/dfonseca/quadro/internal/models"
	"github.com/dfonseca/quadro/internal/output"
	"github.com/dfonseca/quadro/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status [sprint]",
	Short: "Show the sprint delivery dashboard",
	Long: `Show a per-project breakdown of one sprint with its health score.

Without arguments, picks the most recent open sprint.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := ""
		if len(args) == 1 {
			name = args[0]
		}
		return statusOverviewRun(name)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func statusOverviewRun(sprintName string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	sprint, err := pickSprint(ctx, s, sprintName)
	if err != nil {
		return err
	}

	cards, err := s.ListCards(ctx, store.CardListFilter{SprintID: sprint.ID})
	if err != nil {
		return err
	}

	now := time.Now()
	scorer := health.NewScorer()
	score := scorer.Score(sprint, cards, now)

	// Header
	state := output.Green("open")
	if !lifecycle.SprintOpen(sprint, now) {
		state = output.Red("frozen")
	}
	fmt.Fprintf(ui.Out, "%s  %s to %s  %s  health %s\n\n",
		output.Cyan(sprint.Name),
		sprint.StartDate.Format("2006-01-02"),
		sprint.EndDate.Format("2006-01-02"),
		state,
		output.HealthColor(score.Total),
	)

	projects, err := s.ListProjects(ctx, sprint.ID)
	if err != nil {
		return err
	}
	if len(projects) == 0 {
		ui.Info("No projects in this sprint. Use 'quadro project add <name> --sprint %s'.", sprint.Name)
		return nil
	}

	table := ui.Table([]string{"Project", "Cards", "In Progress", "Blocked", "In Review", "Done", "Overdue"})
	for _, p := range projects {
		pcards, _ := s.ListCards(ctx, store.CardListFilter{ProjectID: p.ID})

		var inProg, blocked, inReview, done, overdue int
		for _, c := range pcards {
			switch c.Stage {
			case models.StageInProgress:
				inProg++
			case models.StageBlocked:
				blocked++
			case models.StageInReview:
				inReview++
			case models.StageDone:
				done++
			}
			if c.DueAt != nil && c.DueAt.Before(now) && !c.Stage.Terminal() {
				overdue++
			}
		}

		blockedStr := fmt.Sprintf("%d", blocked)
		if blocked > 0 {
			blockedStr = output.Red(blockedStr)
		}
		overdueStr := fmt.Sprintf("%d", overdue)
		if overdue > 0 {
			overdueStr = output.Yellow(overdueStr)
		}

		_ = table.Append([]string{
			output.Cyan(p.Name),
			fmt.Sprintf("%d", len(pcards)),
			fmt.Sprintf("%d", inProg),
			blockedStr,
			fmt.Sprintf("%d", inReview),
			fmt.Sprintf("%d", done),
			overdueStr,
		})
	}
	_ = table.Render()

	fmt.Fprintln(ui.Out)
	fmt.Fprintf(ui.Out, "  Done %d/%d, %d blocked, %d overdue",
		score.DoneCards, score.TotalCards, score.BlockedCards, score.OverdueCards)
	if score.DaysRemaining > 0 {
		fmt.Fprintf(ui.Out, ", %d day(s) remaining", score.DaysRemaining)
	}
	fmt.Fprintln(ui.Out)
	return nil
}

// pickSprint resolves a sprint by name, or defaults to the most recent open
// one (falling back to the most recent overall).
func pickSprint(ctx context.Context, s store.Store, name string) (*models.Sprint, error) {
	if name != "" {
		return s.GetSprintByName(ctx, name)
	}

	sprints, err := s.ListSprints(ctx)
	if err != nil {
		return nil, err
	}
	if len(sprints) == 0 {
		return nil, fmt.Errorf("no sprints yet; create one with 'quadro sprint add <name>'")
	}

	// Sprints come back most recent first.
	now := time.Now()
	for _, sp := range sprints {
		if lifecycle.SprintOpen(sp, now) {
			return sp, nil
		}
	}
	return sprints[0], nil
}
