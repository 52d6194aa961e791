package lifecycle

import "github.com/dfonseca/quadro/internal/models"

// PlanKind tags the requirement class of a requested transition.
type PlanKind string

const (
	// PlanImmediate commits the stage change with no extra context.
	PlanImmediate PlanKind = "immediate"
	// PlanRequiresReason needs a non-empty pendency reason before commit.
	PlanRequiresReason PlanKind = "requires_reason"
	// PlanRequiresConfirmation needs an explicit conclusion acknowledgment.
	PlanRequiresConfirmation PlanKind = "requires_confirmation"
	// PlanRequiresFields defers the move until the caller populates the
	// missing fields through a normal edit and re-requests it.
	PlanRequiresFields PlanKind = "requires_fields"
)

// Plan is the tagged result of classifying a transition request.
type Plan struct {
	Kind    PlanKind
	Target  models.Stage
	Missing []Field // set when Kind == PlanRequiresFields
}

// Classify decides what a move from the card's current stage to target
// requires. Pure: it never mutates the card and performs no I/O. The rules
// are evaluated in a fixed order; the adjacency table in models decides
// which transitions exist at all.
func Classify(card *models.Card, target models.Stage) (Plan, error) {
	if target == card.Stage {
		return Plan{}, ErrNoChange
	}
	if card.Stage.Terminal() {
		return Plan{}, ErrTerminalStage
	}
	if !card.Stage.CanTransitionTo(target) {
		return Plan{}, ErrIllegalTransition
	}

	switch target {
	case models.StageBlocked:
		// Blocking always captures why the work stalled.
		return Plan{Kind: PlanRequiresReason, Target: target}, nil

	case models.StageDone:
		if missing := MissingFields(card, target); len(missing) > 0 {
			return Plan{Kind: PlanRequiresFields, Target: target, Missing: missing}, nil
		}
		return Plan{Kind: PlanRequiresConfirmation, Target: target}, nil

	default:
		if missing := MissingFields(card, target); len(missing) > 0 {
			return Plan{Kind: PlanRequiresFields, Target: target, Missing: missing}, nil
		}
		return Plan{Kind: PlanImmediate, Target: target}, nil
	}
}
