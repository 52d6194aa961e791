package models

import "time"

// Stage represents a card's position in the delivery lifecycle.
type Stage string

const (
	StageToDo       Stage = "todo"
	StageInProgress Stage = "in_progress"
	StageBlocked    Stage = "blocked"
	StageInReview   Stage = "in_review"
	StageDone       Stage = "done"
	StageInfeasible Stage = "infeasible"
)

// stageTransitions is the single source of truth for legal stage moves.
// Done and Infeasible are terminal. Blocked and InReview may return a card
// to ToDo without clearing any fields.
var stageTransitions = map[Stage][]Stage{
	StageToDo:       {StageInProgress, StageInfeasible},
	StageInProgress: {StageBlocked, StageInReview, StageDone, StageInfeasible},
	StageBlocked:    {StageToDo, StageInProgress, StageInReview, StageDone, StageInfeasible},
	StageInReview:   {StageToDo, StageInProgress, StageBlocked, StageDone, StageInfeasible},
	StageDone:       {},
	StageInfeasible: {},
}

// Stages lists all defined stages in lifecycle order.
func Stages() []Stage {
	return []Stage{StageToDo, StageInProgress, StageBlocked, StageInReview, StageDone, StageInfeasible}
}

// Valid reports whether s is one of the six defined stages.
func (s Stage) Valid() bool {
	_, ok := stageTransitions[s]
	return ok
}

// Terminal reports whether no outbound transition is permitted from s.
func (s Stage) Terminal() bool {
	return s == StageDone || s == StageInfeasible
}

// CanTransitionTo reports whether the adjacency table permits moving from s to target.
func (s Stage) CanTransitionTo(target Stage) bool {
	for _, t := range stageTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// RequiresSchedule reports whether entering s demands owner, startedAt, and dueAt.
func (s Stage) RequiresSchedule() bool {
	switch s {
	case StageInProgress, StageBlocked, StageInReview, StageDone:
		return true
	}
	return false
}

// Priority represents the urgency of a card.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// ValidPriority reports whether p is a defined priority.
func ValidPriority(p Priority) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Card represents a unit of trackable work moving through a sprint.
type Card struct {
	ID            string     `json:"id"`
	ProjectID     string     `json:"project_id"`
	Title         string     `json:"title"`
	Description   string     `json:"description,omitempty"`
	Link          string     `json:"link,omitempty"` // external reference URL
	Stage         Stage      `json:"stage"`
	Priority      Priority   `json:"priority"`
	OwnerID       string     `json:"owner_id,omitempty"` // assigned worker, empty = unassigned
	OwnerName     string     `json:"owner_name,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	DueAt         *time.Time `json:"due_at,omitempty"`
	EstimateHours float64    `json:"estimate_hours,omitempty"` // complexity estimate in hours, 0 = unset
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Clone returns a shallow copy with its own timestamp pointers.
func (c *Card) Clone() *Card {
	cp := *c
	if c.StartedAt != nil {
		t := *c.StartedAt
		cp.StartedAt = &t
	}
	if c.DueAt != nil {
		t := *c.DueAt
		cp.DueAt = &t
	}
	return &cp
}
