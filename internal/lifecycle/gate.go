package lifecycle

import (
	"time"

	"github.com/dfonseca/quadro/internal/models"
)

// SprintOpen reports whether cards in the sprint still accept changes.
// A finalized sprint, or one whose end date has passed, is frozen.
func SprintOpen(sprint *models.Sprint, now time.Time) bool {
	if sprint.Finalized {
		return false
	}
	return !now.After(endOfDay(sprint.EndDate))
}

// endOfDay extends a date to the last instant of that day, so a sprint
// ending "2026-03-20" stays open through the whole of the 20th.
func endOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, int(time.Second-time.Nanosecond), t.Location())
}
