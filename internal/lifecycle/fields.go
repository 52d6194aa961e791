package lifecycle

import "github.com/dfonseca/quadro/internal/models"

// Field names a card attribute a target stage may require.
type Field string

const (
	FieldOwner     Field = "owner"
	FieldStartedAt Field = "started_at"
	FieldDueAt     Field = "due_at"
)

// MissingFields returns the subset of {owner, started_at, due_at} the card
// still lacks for the target stage. An empty result means the transition may
// proceed without extra data collection.
func MissingFields(card *models.Card, target models.Stage) []Field {
	if !target.RequiresSchedule() {
		return nil
	}

	var missing []Field
	if card.OwnerID == "" {
		missing = append(missing, FieldOwner)
	}
	if card.StartedAt == nil {
		missing = append(missing, FieldStartedAt)
	}
	if card.DueAt == nil {
		missing = append(missing, FieldDueAt)
	}
	return missing
}
