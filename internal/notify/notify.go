package notify

import (
	"log/slog"

	"github.com/dfonseca/quadro/internal/models"
)

// Notifier receives lifecycle events after they commit. Delivery (widgets,
// email, webhooks) lives outside the core; implementations must not block.
type Notifier interface {
	CardMoved(card *models.Card, from models.Stage, actor models.Actor)
	PendencyDeclared(card *models.Card, reason string, actor models.Actor)
	CardConcluded(card *models.Card, actor models.Actor)
}

// Noop discards all events.
type Noop struct{}

func (Noop) CardMoved(*models.Card, models.Stage, models.Actor)  {}
func (Noop) PendencyDeclared(*models.Card, string, models.Actor) {}
func (Noop) CardConcluded(*models.Card, models.Actor)            {}

// Slog logs events through the given structured logger. Used by serve so
// lifecycle activity shows up in the server log.
type Slog struct {
	Logger *slog.Logger
}

func (n Slog) CardMoved(card *models.Card, from models.Stage, actor models.Actor) {
	n.Logger.Info("card moved", "card", card.ID, "from", from, "to", card.Stage, "actor", actor.Name)
}

func (n Slog) PendencyDeclared(card *models.Card, reason string, actor models.Actor) {
	n.Logger.Info("pendency declared", "card", card.ID, "reason", reason, "actor", actor.Name)
}

func (n Slog) CardConcluded(card *models.Card, actor models.Actor) {
	n.Logger.Info("card concluded", "card", card.ID, "actor", actor.Name)
}
