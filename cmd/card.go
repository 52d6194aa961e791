package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dfonseca/quadro/internal/lifecycle"
	"github.com/dfonseca/quadro/internal/llm"
	"github.com/dfonseca/quadro/internal/models"
	"github.com/dfonseca/quadro/internal/output"
	"github.com/dfonseca/quadro/internal/store"
)

var (
	cardProject  string
	cardTitle    string
	cardDesc     string
	cardLink     string
	cardPriority string
	cardOwner    string
	cardStarted  string
	cardDue      string
	cardEstimate float64
	cardStage    string
	cardReason   string
	cardYes      bool
)

var cardCmd = &cobra.Command{
	Use:   "card",
	Short: "Manage cards and their lifecycle",
	Long: `Track cards through the sprint lifecycle.

Stages: todo, in_progress, blocked, in_review, done, infeasible.
Moving into blocked asks for a reason; moving into done asks for
confirmation. Done and infeasible are terminal.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cardListRun()
	},
}

var cardAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a card to a project",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cardAddRun()
	},
}

var cardListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List cards",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cardListRun()
	},
}

var cardShowCmd = &cobra.Command{
	Use:   "show <card-id>",
	Short: "Show card details",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return cardShowRun(args[0])
	},
}

var cardEditCmd = &cobra.Command{
	Use:   "edit <card-id>",
	Short: "Edit a card's fields",
	Long: `Edit a card's fields without changing its stage.

After the edit, quadro reports which fields the card's current stage
still lacks, so you know whether a pending move will go through.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return cardEditRun(args[0])
	},
}

var cardMoveCmd = &cobra.Command{
	Use:   "move <card-id> <stage>",
	Short: "Move a card to another stage",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return cardMoveRun(args[0], models.Stage(args[1]))
	},
}

var cardBlockCmd = &cobra.Command{
	Use:   "block <card-id>",
	Short: "Move a card to blocked, declaring a pendency",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return cardMoveRun(args[0], models.StageBlocked)
	},
}

var cardDoneCmd = &cobra.Command{
	Use:   "done <card-id>",
	Short: "Conclude a card",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return cardMoveRun(args[0], models.StageDone)
	},
}

var cardReopenCmd = &cobra.Command{
	Use:   "reopen <card-id>",
	Short: "Send a blocked or in-review card back to todo",
	Long: `Return a card to todo. Only blocked and in_review cards can go back;
the card keeps its owner and schedule, so a later move forward needs no
re-entry of fields.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return cardMoveRun(args[0], models.StageToDo)
	},
}

var cardRemoveCmd = &cobra.Command{
	Use:     "remove <card-id>",
	Aliases: []string{"rm"},
	Short:   "Delete a card",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return cardRemoveRun(args[0])
	},
}

var cardAuditCmd = &cobra.Command{
	Use:   "audit <card-id>",
	Short: "Show a card's audit trail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return cardAuditRun(args[0])
	},
}

var cardEstimateCmd = &cobra.Command{
	Use:   "estimate <card-id>",
	Short: "Suggest a complexity estimate and due date",
	Long: `Ask the configured Anthropic model for an hours estimate based on the
card's title and description, and derive a due-date hint from it.
Requires anthropic.api_key (or ANTHROPIC_API_KEY).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return cardEstimateRun(args[0])
	},
}

func init() {
	cardAddCmd.Flags().StringVar(&cardProject, "project", "", "Project name (required)")
	cardAddCmd.Flags().StringVar(&cardTitle, "title", "", "Card title (required)")
	cardAddCmd.Flags().StringVar(&cardDesc, "desc", "", "Card description")
	cardAddCmd.Flags().StringVar(&cardLink, "link", "", "External link")
	cardAddCmd.Flags().StringVar(&cardPriority, "priority", "medium", "Priority: low, medium, high, critical")
	cardAddCmd.Flags().StringVar(&cardOwner, "owner", "", "Owner name")
	cardAddCmd.Flags().Float64Var(&cardEstimate, "estimate", 0, "Complexity estimate in hours")
	_ = cardAddCmd.MarkFlagRequired("project")
	_ = cardAddCmd.MarkFlagRequired("title")

	cardListCmd.Flags().StringVar(&cardProject, "project", "", "Filter by project name")
	cardListCmd.Flags().StringVar(&cardStage, "stage", "", "Filter by stage")
	cardListCmd.Flags().StringVar(&cardPriority, "priority", "", "Filter by priority")
	cardListCmd.Flags().StringVar(&cardOwner, "owner", "", "Filter by owner")

	cardEditCmd.Flags().StringVar(&cardTitle, "title", "", "New title")
	cardEditCmd.Flags().StringVar(&cardDesc, "desc", "", "New description")
	cardEditCmd.Flags().StringVar(&cardLink, "link", "", "New external link")
	cardEditCmd.Flags().StringVar(&cardPriority, "priority", "", "New priority")
	cardEditCmd.Flags().StringVar(&cardOwner, "owner", "", "New owner name")
	cardEditCmd.Flags().StringVar(&cardStarted, "started", "", "Start date (YYYY-MM-DD or RFC3339)")
	cardEditCmd.Flags().StringVar(&cardDue, "due", "", "Due date (YYYY-MM-DD or RFC3339)")
	cardEditCmd.Flags().Float64Var(&cardEstimate, "estimate", 0, "Complexity estimate in hours")

	for _, c := range []*cobra.Command{cardMoveCmd, cardBlockCmd} {
		c.Flags().StringVar(&cardReason, "reason", "", "Pendency reason (prompted for if omitted)")
	}
	for _, c := range []*cobra.Command{cardMoveCmd, cardDoneCmd} {
		c.Flags().BoolVarP(&cardYes, "yes", "y", false, "Confirm conclusion without prompting")
	}

	cardCmd.AddCommand(cardAddCmd)
	cardCmd.AddCommand(cardListCmd)
	cardCmd.AddCommand(cardShowCmd)
	cardCmd.AddCommand(cardEditCmd)
	cardCmd.AddCommand(cardMoveCmd)
	cardCmd.AddCommand(cardBlockCmd)
	cardCmd.AddCommand(cardDoneCmd)
	cardCmd.AddCommand(cardReopenCmd)
	cardCmd.AddCommand(cardRemoveCmd)
	cardCmd.AddCommand(cardAuditCmd)
	cardCmd.AddCommand(cardEstimateCmd)
	rootCmd.AddCommand(cardCmd)
}

func cardAddRun() error {
	svc, err := getService()
	if err != nil {
		return err
	}
	ctx := context.Background()

	p, err := dataStore.GetProjectByName(ctx, cardProject)
	if err != nil {
		return err
	}

	card := &models.Card{
		ProjectID:     p.ID,
		Title:         cardTitle,
		Description:   cardDesc,
		Link:          cardLink,
		Priority:      models.Priority(cardPriority),
		OwnerID:       cardOwner,
		OwnerName:     cardOwner,
		EstimateHours: cardEstimate,
	}

	if dryRun {
		ui.DryRunMsg("Would add card: %s [%s] to %s", cardTitle, cardPriority, p.Name)
		return nil
	}

	if err := svc.CreateCard(ctx, card, getActor()); err != nil {
		return fmt.Errorf("create card: %w", err)
	}

	ui.Success("Created card %s: %s", output.Cyan(shortID(card.ID)), card.Title)
	return nil
}

func cardListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	filter := store.CardListFilter{
		Stage:    models.Stage(cardStage),
		Priority: models.Priority(cardPriority),
		OwnerID:  cardOwner,
	}
	if cardProject != "" {
		p, err := s.GetProjectByName(ctx, cardProject)
		if err != nil {
			return err
		}
		filter.ProjectID = p.ID
	}

	cards, err := s.ListCards(ctx, filter)
	if err != nil {
		return err
	}

	if len(cards) == 0 {
		ui.Info("No cards found.")
		return nil
	}

	// Project name cache for display
	projectNames := make(map[string]string)

	table := ui.Table([]string{"ID", "Project", "Title", "Stage", "Priority", "Owner", "Due"})
	for _, c := range cards {
		projName := projectNames[c.ProjectID]
		if projName == "" {
			if p, err := s.GetProject(ctx, c.ProjectID); err == nil {
				projName = p.Name
				projectNames[c.ProjectID] = projName
			}
		}

		due := ""
		if c.DueAt != nil {
			due = c.DueAt.Format("2006-01-02")
		}

		_ = table.Append([]string{
			shortID(c.ID),
			projName,
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

func cardShowRun(id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	card, err := findCard(ctx, s, id)
	if err != nil {
		return err
	}

	projName := ""
	if p, err := s.GetProject(ctx, card.ProjectID); err == nil {
		projName = p.Name
	}

	fmt.Fprintf(ui.Out, "%s  %s\n", output.Cyan(shortID(card.ID)), card.Title)
	fmt.Fprintf(ui.Out, "  Project:    %s\n", projName)
	fmt.Fprintf(ui.Out, "  Stage:      %s\n", output.StageColor(string(card.Stage)))
	fmt.Fprintf(ui.Out, "  Priority:   %s\n", output.PriorityColor(string(card.Priority)))
	if card.OwnerName != "" {
		fmt.Fprintf(ui.Out, "  Owner:      %s\n", card.OwnerName)
	}
	if card.StartedAt != nil {
		fmt.Fprintf(ui.Out, "  Started:    %s\n", card.StartedAt.Format("2006-01-02 15:04"))
	}
	if card.DueAt != nil {
		fmt.Fprintf(ui.Out, "  Due:        %s\n", card.DueAt.Format("2006-01-02 15:04"))
	}
	if card.EstimateHours > 0 {
		fmt.Fprintf(ui.Out, "  Estimate:   %gh\n", card.EstimateHours)
	}
	if card.Description != "" {
		fmt.Fprintf(ui.Out, "  Desc:       %s\n", card.Description)
	}
	if card.Link != "" {
		fmt.Fprintf(ui.Out, "  Link:       %s\n", card.Link)
	}
	fmt.Fprintf(ui.Out, "  Created:    %s\n", card.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(ui.Out, "  Full ID:    %s\n", card.ID)

	if missing := lifecycle.MissingFields(card, card.Stage); len(missing) > 0 {
		fmt.Fprintf(ui.Out, "  Missing:    %s\n", output.Yellow(joinFields(missing)))
	}
	return nil
}

func cardEditRun(id string) error {
	svc, err := getService()
	if err != nil {
		return err
	}
	ctx := context.Background()

	card, err := findCard(ctx, dataStore, id)
	if err != nil {
		return err
	}

	patch := lifecycle.CardPatch{}
	if cardTitle != "" {
		patch.Title = &cardTitle
	}
	if cardDesc != "" {
		patch.Description = &cardDesc
	}
	if cardLink != "" {
		patch.Link = &cardLink
	}
	if cardPriority != "" {
		p := models.Priority(cardPriority)
		patch.Priority = &p
	}
	if cardOwner != "" {
		patch.OwnerID = &cardOwner
		patch.OwnerName = &cardOwner
	}
	if cardStarted != "" {
		t, err := parseWhen(cardStarted)
		if err != nil {
			return fmt.Errorf("parse --started: %w", err)
		}
		patch.StartedAt = &t
	}
	if cardDue != "" {
		t, err := parseWhen(cardDue)
		if err != nil {
			return fmt.Errorf("parse --due: %w", err)
		}
		patch.DueAt = &t
	}
	if cardEstimate > 0 {
		patch.EstimateHours = &cardEstimate
	}

	if dryRun {
		ui.DryRunMsg("Would edit card %s", shortID(card.ID))
		return nil
	}

	result, err := svc.EditFields(ctx, card.ID, patch, getActor())
	if err != nil {
		return describeLifecycleErr(err)
	}

	if result.Entry == nil {
		ui.Info("No changes for card %s", shortID(card.ID))
	} else {
		ui.Success("Updated card %s", output.Cyan(shortID(card.ID)))
	}
	if len(result.MissingForStage) > 0 {
		ui.Warning("Stage %s still missing: %s", result.Card.Stage, joinFields(result.MissingForStage))
	}
	return nil
}

func cardMoveRun(id string, target models.Stage) error {
	svc, err := getService()
	if err != nil {
		return err
	}
	ctx := context.Background()

	card, err := findCard(ctx, dataStore, id)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would move card %s: %s -> %s", shortID(card.ID), card.Stage, target)
		return nil
	}

	mctx := lifecycle.MoveContext{Reason: cardReason, Confirmed: cardYes}
	actor := getActor()

	result, err := svc.RequestMove(ctx, card.ID, target, actor, mctx)
	if err != nil {
		return describeLifecycleErr(err)
	}

	// Two-step protocol: collect the missing context and re-issue.
	switch result.Outcome {
	case lifecycle.MoveAwaitingReason:
		reason, err := promptLine(fmt.Sprintf("Reason for blocking %q: ", card.Title))
		if err != nil {
			return err
		}
		mctx.Reason = reason
		result, err = svc.RequestMove(ctx, card.ID, target, actor, mctx)
		if err != nil {
			return describeLifecycleErr(err)
		}

	case lifecycle.MoveAwaitingConfirmation:
		answer, err := promptLine(fmt.Sprintf("Conclude %q? [y/N] ", card.Title))
		if err != nil {
			return err
		}
		if !strings.EqualFold(answer, "y") && !strings.EqualFold(answer, "yes") {
			ui.Info("Move cancelled.")
			return nil
		}
		mctx.Confirmed = true
		result, err = svc.RequestMove(ctx, card.ID, target, actor, mctx)
		if err != nil {
			return describeLifecycleErr(err)
		}
	}

	ui.Success("Moved card %s: %s", output.Cyan(shortID(result.Card.ID)), result.Entry.Payload)
	return nil
}

func cardRemoveRun(id string) error {
	svc, err := getService()
	if err != nil {
		return err
	}
	ctx := context.Background()

	card, err := findCard(ctx, dataStore, id)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would delete card %s: %s", shortID(card.ID), card.Title)
		return nil
	}

	if err := svc.DeleteCard(ctx, card.ID, getActor()); err != nil {
		return describeLifecycleErr(err)
	}

	ui.Success("Deleted card %s: %s", output.Cyan(shortID(card.ID)), card.Title)
	return nil
}

func cardAuditRun(id string) error {
	svc, err := getService()
	if err != nil {
		return err
	}
	ctx := context.Background()

	card, err := findCard(ctx, dataStore, id)
	if err != nil {
		return err
	}

	entries, err := svc.AuditTrail(ctx, card.ID)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		ui.Info("No audit entries for card %s.", shortID(card.ID))
		return nil
	}

	fmt.Fprintf(ui.Out, "%s  %s\n\n", output.Cyan(shortID(card.ID)), card.Title)
	for _, e := range entries {
		fmt.Fprintf(ui.Out, "%s  %s  %s\n", e.CreatedAt.Format("2006-01-02 15:04"), output.Yellow(string(e.Kind)), e.ActorName)
		for _, line := range strings.Split(e.Payload, "\n") {
			fmt.Fprintf(ui.Out, "    %s\n", line)
		}
	}
	return nil
}

func cardEstimateRun(id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	card, err := findCard(ctx, s, id)
	if err != nil {
		return err
	}

	client := newLLMClient()
	if client == nil {
		return fmt.Errorf("no Anthropic API key configured (set anthropic.api_key or ANTHROPIC_API_KEY)")
	}

	est, err := client.SuggestEstimate(ctx, card.Title, card.Description)
	if err != nil {
		return fmt.Errorf("suggest estimate: %w", err)
	}

	fmt.Fprintf(ui.Out, "Estimate:   %s\n", output.Green(fmt.Sprintf("%gh", est.Hours)))
	if est.Rationale != "" {
		fmt.Fprintf(ui.Out, "Rationale:  %s\n", est.Rationale)
	}

	probe := card.Clone()
	probe.EstimateHours = est.Hours
	if due := llm.SuggestDueDate(probe, time.Now()); due != nil {
		fmt.Fprintf(ui.Out, "Due hint:   %s\n", due.Format("2006-01-02"))
	}

	if dryRun {
		ui.DryRunMsg("Would save estimate %gh to card %s", est.Hours, shortID(card.ID))
		return nil
	}

	svc, err := getService()
	if err != nil {
		return err
	}
	patch := lifecycle.CardPatch{EstimateHours: &est.Hours}
	if _, err := svc.EditFields(ctx, card.ID, patch, getActor()); err != nil {
		return describeLifecycleErr(err)
	}
	ui.Success("Saved estimate %gh to card %s", est.Hours, output.Cyan(shortID(card.ID)))
	return nil
}

// describeLifecycleErr turns typed lifecycle errors into actionable messages.
func describeLifecycleErr(err error) error {
	var incomplete *lifecycle.IncompleteDataError
	if errors.As(err, &incomplete) {
		return fmt.Errorf("card is missing %s (set them with 'quadro card edit', then retry)", joinFields(incomplete.Missing))
	}
	switch {
	case errors.Is(err, lifecycle.ErrSprintLocked):
		return fmt.Errorf("sprint is finalized or past its end date; the card is frozen")
	case errors.Is(err, lifecycle.ErrNoChange):
		return fmt.Errorf("card is already in that stage")
	case errors.Is(err, lifecycle.ErrTerminalStage):
		return fmt.Errorf("card is in a terminal stage and cannot change")
	case errors.Is(err, lifecycle.ErrIllegalTransition):
		return fmt.Errorf("that transition is not allowed from the card's current stage")
	}
	return err
}

// findCard finds a card by full ID or prefix match.
func findCard(ctx context.Context, s store.Store, id string) (*models.Card, error) {
	// Try exact match first
	if card, err := s.GetCard(ctx, id); err == nil {
		return card, nil
	}

	// Try prefix match - list all and filter
	upper := strings.ToUpper(id)
	cards, err := s.ListCards(ctx, store.CardListFilter{})
	if err != nil {
		return nil, err
	}

	var matches []*models.Card
	for _, card := range cards {
		if strings.HasPrefix(card.ID, upper) {
			matches = append(matches, card)
		}
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("card not found: %s", id)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("ambiguous card ID %s: matches %d cards", id, len(matches))
	}
}

// shortID returns a truncated ULID for display (first 12 chars).
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// joinFields renders a field list for messages.
func joinFields(fields []lifecycle.Field) string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = string(f)
	}
	return strings.Join(names, ", ")
}

// parseWhen accepts YYYY-MM-DD or full RFC3339 timestamps.
func parseWhen(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

// promptLine reads one trimmed line from stdin.
func promptLine(prompt string) (string, error) {
	fmt.Fprint(ui.Out, prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}
