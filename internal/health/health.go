package health

import (
	"time"

	"github.com/dfonseca/quadro/internal/models"
)

// SprintScore represents the computed delivery health of a sprint.
type SprintScore struct {
	Total         int
	Completion    int // 0-40: share of cards done
	FlowHealth    int // 0-30: few cards stuck in blocked
	SchedulePace  int // 0-30: overdue cards drag this down
	DoneCards     int
	BlockedCards  int
	OverdueCards  int
	TotalCards    int
	DaysRemaining int
}

// Scorer computes health scores for sprints.
type Scorer struct{}

// NewScorer returns a new health Scorer.
func NewScorer() *Scorer {
	return &Scorer{}
}

// Score computes a delivery health score (0-100) for a sprint from its cards.
func (s *Scorer) Score(sprint *models.Sprint, cards []*models.Card, now time.Time) *SprintScore {
	h := &SprintScore{TotalCards: len(cards)}

	for _, c := range cards {
		switch c.Stage {
		case models.StageDone:
			h.DoneCards++
		case models.StageBlocked:
			h.BlockedCards++
		}
		if c.DueAt != nil && now.After(*c.DueAt) && !c.Stage.Terminal() {
			h.OverdueCards++
		}
	}

	if remaining := sprint.EndDate.Sub(now); remaining > 0 {
		h.DaysRemaining = int(remaining.Hours() / 24)
	}

	if h.TotalCards == 0 {
		// An empty sprint is neither healthy nor sick; report a neutral score.
		h.Completion = 20
		h.FlowHealth = 15
		h.SchedulePace = 15
		h.Total = 50
		return h
	}

	h.Completion = int(40 * float64(h.DoneCards) / float64(h.TotalCards))
	h.FlowHealth = scoreRatio(h.BlockedCards, h.TotalCards, 30)
	h.SchedulePace = scoreRatio(h.OverdueCards, h.TotalCards, 30)

	h.Total = h.Completion + h.FlowHealth + h.SchedulePace
	return h
}

// scoreRatio awards maxPoints when count is zero and decays as the ratio of
// affected cards grows.
func scoreRatio(count, total, maxPoints int) int {
	ratio := float64(count) / float64(total)
	switch {
	case ratio == 0:
		return maxPoints
	case ratio <= 0.1:
		return int(float64(maxPoints) * 0.8)
	case ratio <= 0.25:
		return int(float64(maxPoints) * 0.6)
	case ratio <= 0.5:
		return int(float64(maxPoints) * 0.3)
	default:
		return int(float64(maxPoints) * 0.1)
	}
}
