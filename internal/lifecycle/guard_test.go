package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dfonseca/quadro/internal/models"
)

func scheduledCard(stage models.Stage) *models.Card {
	now := time.Now()
	return &models.Card{
		Stage:     stage,
		OwnerID:   "u1",
		OwnerName: "Ana",
		StartedAt: &now,
		DueAt:     &now,
	}
}

func TestClassify_NoChange(t *testing.T) {
	_, err := Classify(scheduledCard(models.StageInProgress), models.StageInProgress)
	assert.ErrorIs(t, err, ErrNoChange)
}

func TestClassify_TerminalStage(t *testing.T) {
	// Terminal cards reject every target, even otherwise-legal ones.
	for _, stage := range []models.Stage{models.StageDone, models.StageInfeasible} {
		for _, target := range []models.Stage{
			models.StageToDo, models.StageInProgress, models.StageBlocked,
			models.StageInReview, models.StageDone, models.StageInfeasible,
		} {
			if target == stage {
				continue
			}
			_, err := Classify(scheduledCard(stage), target)
			assert.ErrorIs(t, err, ErrTerminalStage, "%s -> %s", stage, target)
		}
	}
}

func TestClassify_IllegalTransition(t *testing.T) {
	tests := []struct {
		from, to models.Stage
	}{
		{models.StageToDo, models.StageBlocked},
		{models.StageToDo, models.StageInReview},
		{models.StageToDo, models.StageDone},
		{models.StageInProgress, models.StageToDo},
	}
	for _, tt := range tests {
		_, err := Classify(scheduledCard(tt.from), tt.to)
		assert.ErrorIs(t, err, ErrIllegalTransition, "%s -> %s", tt.from, tt.to)
	}
}

func TestClassify_BlockedRequiresReason(t *testing.T) {
	plan, err := Classify(scheduledCard(models.StageInProgress), models.StageBlocked)
	require.NoError(t, err)
	assert.Equal(t, PlanRequiresReason, plan.Kind)
	assert.Equal(t, models.StageBlocked, plan.Target)
}

func TestClassify_BlockedMissingFieldsStillAsksReason(t *testing.T) {
	// The reason requirement wins over the field check for blocked.
	card := &models.Card{Stage: models.StageInProgress}
	plan, err := Classify(card, models.StageBlocked)
	require.NoError(t, err)
	assert.Equal(t, PlanRequiresReason, plan.Kind)
}

func TestClassify_DoneRequiresConfirmation(t *testing.T) {
	plan, err := Classify(scheduledCard(models.StageInReview), models.StageDone)
	require.NoError(t, err)
	assert.Equal(t, PlanRequiresConfirmation, plan.Kind)
}

func TestClassify_DoneMissingFieldsBeforeConfirmation(t *testing.T) {
	card := &models.Card{Stage: models.StageInReview, OwnerID: "u1"}
	plan, err := Classify(card, models.StageDone)
	require.NoError(t, err)
	assert.Equal(t, PlanRequiresFields, plan.Kind)
	assert.Equal(t, []Field{FieldStartedAt, FieldDueAt}, plan.Missing)
}

func TestClassify_RequiresFields(t *testing.T) {
	card := &models.Card{Stage: models.StageToDo, Title: "t"}
	plan, err := Classify(card, models.StageInProgress)
	require.NoError(t, err)
	assert.Equal(t, PlanRequiresFields, plan.Kind)
	assert.Equal(t, []Field{FieldOwner, FieldStartedAt, FieldDueAt}, plan.Missing)
}

func TestClassify_Immediate(t *testing.T) {
	tests := []struct {
		from, to models.Stage
	}{
		{models.StageToDo, models.StageInfeasible},
		{models.StageInProgress, models.StageInReview},
		{models.StageBlocked, models.StageInProgress},
		{models.StageBlocked, models.StageToDo},
		{models.StageInReview, models.StageToDo},
		{models.StageInReview, models.StageInProgress},
	}
	for _, tt := range tests {
		plan, err := Classify(scheduledCard(tt.from), tt.to)
		require.NoError(t, err, "%s -> %s", tt.from, tt.to)
		assert.Equal(t, PlanImmediate, plan.Kind, "%s -> %s", tt.from, tt.to)
	}
}
