package lifecycle

import (
	"fmt"
	"strings"
	"time"

	"github.com/dfonseca/quadro/internal/models"
)

// DiffCards renders a human-readable field-level diff between two versions of
// a card, one "field: old → new" line per changed field. Unchanged fields are
// excluded. Stage changes are reported separately by Moved entries and are
// not part of this diff.
func DiffCards(before, after *models.Card) string {
	var lines []string

	appendChange := func(field, old, new string) {
		if old != new {
			lines = append(lines, fmt.Sprintf("%s: %s → %s", field, orEmpty(old), orEmpty(new)))
		}
	}

	appendChange("title", before.Title, after.Title)
	appendChange("description", before.Description, after.Description)
	appendChange("link", before.Link, after.Link)
	appendChange("priority", string(before.Priority), string(after.Priority))
	appendChange("owner", before.OwnerName, after.OwnerName)
	appendChange("started_at", formatTime(before.StartedAt), formatTime(after.StartedAt))
	appendChange("due_at", formatTime(before.DueAt), formatTime(after.DueAt))
	appendChange("estimate_hours", formatHours(before.EstimateHours), formatHours(after.EstimateHours))

	return strings.Join(lines, "\n")
}

func orEmpty(s string) string {
	if s == "" {
		return "(empty)"
	}
	return s
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format("2006-01-02 15:04")
}

func formatHours(h float64) string {
	if h == 0 {
		return ""
	}
	return fmt.Sprintf("%gh", h)
}
