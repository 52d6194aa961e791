package store

import (
	"context"
	"errors"

	"github.com/dfonseca/quadro/internal/models"
)

// ErrNotFound is wrapped by all lookup failures so callers can branch on it.
var ErrNotFound = errors.New("not found")

// CardListFilter specifies filters for listing cards.
type CardListFilter struct {
	ProjectID string
	SprintID  string
	Stage     models.Stage
	OwnerID   string
	Priority  models.Priority
}

// Store defines the persistence interface for quadro.
type Store interface {
	// Sprints
	CreateSprint(ctx context.Context, s *models.Sprint) error
	GetSprint(ctx context.Context, id string) (*models.Sprint, error)
	GetSprintByName(ctx context.Context, name string) (*models.Sprint, error)
	ListSprints(ctx context.Context) ([]*models.Sprint, error)
	UpdateSprint(ctx context.Context, s *models.Sprint) error
	DeleteSprint(ctx context.Context, id string) error

	// Projects
	CreateProject(ctx context.Context, p *models.Project) error
	GetProject(ctx context.Context, id string) (*models.Project, error)
	GetProjectByName(ctx context.Context, name string) (*models.Project, error)
	ListProjects(ctx context.Context, sprintID string) ([]*models.Project, error)
	UpdateProject(ctx context.Context, p *models.Project) error
	DeleteProject(ctx context.Context, id string) error

	// Cards
	CreateCard(ctx context.Context, card *models.Card) error
	// CreateCardWithAudit inserts a card and its creation audit entry in one
	// transaction, mirroring CommitCardChange for the insert path.
	CreateCardWithAudit(ctx context.Context, card *models.Card, entry *models.AuditEntry) error
	GetCard(ctx context.Context, id string) (*models.Card, error)
	ListCards(ctx context.Context, filter CardListFilter) ([]*models.Card, error)
	UpdateCard(ctx context.Context, card *models.Card) error
	DeleteCard(ctx context.Context, id string) error

	// GetCardSprint resolves the sprint that owns a card through its project.
	GetCardSprint(ctx context.Context, cardID string) (*models.Sprint, error)

	// CommitCardChange persists a card update and its audit entry in one
	// transaction, so the trail never records a change that failed to persist.
	CommitCardChange(ctx context.Context, card *models.Card, entry *models.AuditEntry) error

	// Audit
	AppendAudit(ctx context.Context, entry *models.AuditEntry) error
	ListAudit(ctx context.Context, cardID string) ([]*models.AuditEntry, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
