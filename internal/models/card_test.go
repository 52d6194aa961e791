package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStage_Valid(t *testing.T) {
	for _, s := range Stages() {
		assert.True(t, s.Valid(), "stage %s", s)
	}
	assert.False(t, Stage("archived").Valid())
	assert.False(t, Stage("").Valid())
}

func TestStage_Terminal(t *testing.T) {
	assert.True(t, StageDone.Terminal())
	assert.True(t, StageInfeasible.Terminal())

	for _, s := range []Stage{StageToDo, StageInProgress, StageBlocked, StageInReview} {
		assert.False(t, s.Terminal(), "stage %s", s)
	}
}

func TestStage_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from    Stage
		to      Stage
		allowed bool
	}{
		{StageToDo, StageInProgress, true},
		{StageToDo, StageInfeasible, true},
		{StageToDo, StageDone, false},
		{StageToDo, StageBlocked, false},
		{StageInProgress, StageBlocked, true},
		{StageInProgress, StageInReview, true},
		{StageInProgress, StageDone, true},
		{StageInProgress, StageToDo, false},
		{StageBlocked, StageToDo, true},
		{StageBlocked, StageInProgress, true},
		{StageBlocked, StageDone, true},
		{StageInReview, StageToDo, true},
		{StageInReview, StageBlocked, true},
		{StageInReview, StageDone, true},
		{StageDone, StageInProgress, false},
		{StageDone, StageToDo, false},
		{StageInfeasible, StageToDo, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestStage_TerminalHasNoTargets(t *testing.T) {
	for _, target := range Stages() {
		assert.False(t, StageDone.CanTransitionTo(target))
		assert.False(t, StageInfeasible.CanTransitionTo(target))
	}
}

func TestStage_RequiresSchedule(t *testing.T) {
	assert.True(t, StageInProgress.RequiresSchedule())
	assert.True(t, StageBlocked.RequiresSchedule())
	assert.True(t, StageInReview.RequiresSchedule())
	assert.True(t, StageDone.RequiresSchedule())
	assert.False(t, StageToDo.RequiresSchedule())
	assert.False(t, StageInfeasible.RequiresSchedule())
}

func TestValidPriority(t *testing.T) {
	for _, p := range []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical} {
		assert.True(t, ValidPriority(p))
	}
	assert.False(t, ValidPriority("urgent"))
	assert.False(t, ValidPriority(""))
}

func TestCard_Clone(t *testing.T) {
	started := time.Now()
	due := started.Add(24 * time.Hour)
	card := &Card{
		ID:        "c1",
		Title:     "original",
		Stage:     StageInProgress,
		StartedAt: &started,
		DueAt:     &due,
	}

	cp := card.Clone()
	require.NotNil(t, cp.StartedAt)

	// Mutating the clone's pointers must not touch the original.
	*cp.StartedAt = started.Add(time.Hour)
	cp.Title = "changed"

	assert.Equal(t, "original", card.Title)
	assert.True(t, card.StartedAt.Equal(started))
}

func TestActor_Privileged(t *testing.T) {
	assert.False(t, Actor{Role: RoleMember}.Privileged())
	assert.True(t, Actor{Role: RoleSupervisor}.Privileged())
	assert.True(t, Actor{Role: RoleAdmin}.Privileged())
}
