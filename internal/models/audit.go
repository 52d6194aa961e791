package models

import "time"

// AuditKind classifies an audit trail entry.
type AuditKind string

const (
	AuditCreated          AuditKind = "created"
	AuditMoved            AuditKind = "moved"
	AuditUpdated          AuditKind = "updated"
	AuditPendencyDeclared AuditKind = "pendency_declared"
)

// AuditEntry is an immutable record of a state or field change on a card.
// Entries are append-only; ordering by CreatedAt defines the card's history.
type AuditEntry struct {
	ID        string    `json:"id"`
	CardID    string    `json:"card_id"`
	ActorID   string    `json:"actor_id"`
	ActorName string    `json:"actor_name"`
	Kind      AuditKind `json:"kind"`
	Payload   string    `json:"payload"` // human-readable diff or "from → to" text
	CreatedAt time.Time `json:"created_at"`
}
