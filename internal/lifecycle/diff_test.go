package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dfonseca/quadro/internal/models"
)

func TestDiffCards_NoChanges(t *testing.T) {
	card := &models.Card{Title: "Checkout retries", Priority: models.PriorityHigh}
	assert.Equal(t, "", DiffCards(card, card.Clone()))
}

func TestDiffCards_SingleField(t *testing.T) {
	before := &models.Card{Title: "Checkout retries"}
	after := before.Clone()
	after.Title = "Checkout retry budget"

	assert.Equal(t, "title: Checkout retries → Checkout retry budget", DiffCards(before, after))
}

func TestDiffCards_EmptyPlaceholder(t *testing.T) {
	before := &models.Card{}
	after := before.Clone()
	after.OwnerName = "Ana"

	assert.Equal(t, "owner: (empty) → Ana", DiffCards(before, after))

	// Clearing a field renders the placeholder on the new side.
	assert.Equal(t, "owner: Ana → (empty)", DiffCards(after, before))
}

func TestDiffCards_TimesAndHours(t *testing.T) {
	started := time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC)
	due := time.Date(2026, 3, 16, 18, 0, 0, 0, time.UTC)

	before := &models.Card{}
	after := before.Clone()
	after.StartedAt = &started
	after.DueAt = &due
	after.EstimateHours = 7.5

	want := "started_at: (empty) → 2026-03-10 14:30\n" +
		"due_at: (empty) → 2026-03-16 18:00\n" +
		"estimate_hours: (empty) → 7.5h"
	assert.Equal(t, want, DiffCards(before, after))
}

func TestDiffCards_MultipleFieldsKeepDeclarationOrder(t *testing.T) {
	before := &models.Card{
		Title:       "Old",
		Description: "old desc",
		Priority:    models.PriorityLow,
	}
	after := before.Clone()
	after.Title = "New"
	after.Description = "new desc"
	after.Priority = models.PriorityCritical

	want := "title: Old → New\n" +
		"description: old desc → new desc\n" +
		"priority: low → critical"
	assert.Equal(t, want, DiffCards(before, after))
}

func TestDiffCards_IgnoresStage(t *testing.T) {
	before := &models.Card{Stage: models.StageToDo}
	after := before.Clone()
	after.Stage = models.StageInProgress

	assert.Equal(t, "", DiffCards(before, after))
}
