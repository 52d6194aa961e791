package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dfonseca/quadro/internal/models"
)

func TestSprintOpen(t *testing.T) {
	start := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC)

	sprint := &models.Sprint{StartDate: start, EndDate: end}

	tests := []struct {
		name string
		now  time.Time
		open bool
	}{
		{"mid sprint", time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC), true},
		{"morning of end date", time.Date(2026, 3, 20, 9, 0, 0, 0, time.UTC), true},
		{"last minute of end date", time.Date(2026, 3, 20, 23, 59, 0, 0, time.UTC), true},
		{"day after end date", time.Date(2026, 3, 21, 0, 0, 1, 0, time.UTC), false},
		{"weeks later", time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.open, SprintOpen(sprint, tt.now))
		})
	}
}

func TestSprintOpen_Finalized(t *testing.T) {
	sprint := &models.Sprint{
		StartDate: time.Now().AddDate(0, 0, -2),
		EndDate:   time.Now().AddDate(0, 0, 10),
		Finalized: true,
	}

	// Finalization freezes the sprint even inside its window.
	assert.False(t, SprintOpen(sprint, time.Now()))
}
