package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dfonseca/quadro/internal/models"
	"github.com/dfonseca/quadro/internal/notify"
	"github.com/dfonseca/quadro/internal/store"
)

// MoveOutcome tags the result of a move request that did not fail.
type MoveOutcome string

const (
	// MoveCommitted means the stage change was durably persisted.
	MoveCommitted MoveOutcome = "committed"
	// MoveAwaitingReason means the caller must supply a pendency reason and
	// re-issue the request. No state was changed.
	MoveAwaitingReason MoveOutcome = "awaiting_reason"
	// MoveAwaitingConfirmation means the caller must acknowledge the
	// conclusion and re-issue the request. No state was changed.
	MoveAwaitingConfirmation MoveOutcome = "awaiting_confirmation"
)

// MoveContext carries the extra input the two sub-flows collect.
type MoveContext struct {
	Reason    string // pendency reason for moves into blocked
	Confirmed bool   // conclusion acknowledgment for moves into done
}

// MoveResult is the outcome of a RequestMove call.
type MoveResult struct {
	Outcome MoveOutcome
	Card    *models.Card       // committed state, set when Outcome == MoveCommitted
	Entry   *models.AuditEntry // audit entry written by the commit
}

// CardPatch holds partial field edits. Nil pointers mean "not provided";
// edits never clear scheduling fields (backward moves lose no data).
type CardPatch struct {
	Title         *string
	Description   *string
	Link          *string
	Priority      *models.Priority
	OwnerID       *string
	OwnerName     *string
	StartedAt     *time.Time
	DueAt         *time.Time
	EstimateHours *float64
}

// dueAtOnly reports whether the patch touches due_at and nothing else.
func (p CardPatch) dueAtOnly() bool {
	return p.DueAt != nil &&
		p.Title == nil && p.Description == nil && p.Link == nil &&
		p.Priority == nil && p.OwnerID == nil && p.OwnerName == nil &&
		p.StartedAt == nil && p.EstimateHours == nil
}

// EditResult is the outcome of an EditFields call.
type EditResult struct {
	Card *models.Card
	// Entry is the Updated audit entry, nil when the patch changed nothing.
	Entry *models.AuditEntry
	// MissingForStage hints which fields the card's current stage still
	// lacks, for UI use. It never triggers a stage change by itself.
	MissingForStage []Field
}

// Service orchestrates card stage transitions: it consults the sprint gate
// and transition guard, runs the pendency and conclusion sub-flows, applies
// auto-filled fields, persists, and writes the audit trail.
type Service struct {
	store    store.Store
	notifier notify.Notifier
	now      func() time.Time

	mu    sync.Mutex
	locks map[string]*cardLock
}

// cardLock is a reference-counted mutex so entries can be evicted from the
// lock map once the last holder releases them.
type cardLock struct {
	mu   sync.Mutex
	refs int
}

// NewService creates the lifecycle service. A nil notifier disables
// notifications.
func NewService(s store.Store, n notify.Notifier) *Service {
	if n == nil {
		n = notify.Noop{}
	}
	return &Service{
		store:    s,
		notifier: n,
		now:      time.Now,
		locks:    make(map[string]*cardLock),
	}
}

// lockCard acquires the mutex serializing writes to one card and returns its
// release func. Requests on different cards proceed independently; the map
// entry is dropped when the last holder releases, so the map stays bounded by
// in-flight work rather than by every card ever touched.
func (s *Service) lockCard(cardID string) func() {
	s.mu.Lock()
	l, ok := s.locks[cardID]
	if !ok {
		l = &cardLock{}
		s.locks[cardID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, cardID)
		}
		s.mu.Unlock()
	}
}

// RequestMove asks to move a card to the target stage. The returned outcome
// is either a durable commit or an awaiting state the caller resolves by
// re-issuing the request with the needed context. All validation failures are
// typed errors; nothing is recorded for them.
func (s *Service) RequestMove(ctx context.Context, cardID string, target models.Stage, actor models.Actor, mctx MoveContext) (*MoveResult, error) {
	if !target.Valid() {
		return nil, &ValidationError{Msg: fmt.Sprintf("unknown stage: %s", target)}
	}

	unlock := s.lockCard(cardID)
	defer unlock()

	card, err := s.store.GetCard(ctx, cardID)
	if err != nil {
		return nil, err
	}
	sprint, err := s.store.GetCardSprint(ctx, cardID)
	if err != nil {
		return nil, err
	}

	if !SprintOpen(sprint, s.now()) {
		return nil, ErrSprintLocked
	}

	plan, err := Classify(card, target)
	if err != nil {
		return nil, err
	}

	switch plan.Kind {
	case PlanRequiresFields:
		// The move is not applied and not remembered; the caller collects
		// the fields through the edit path and retries.
		return nil, &IncompleteDataError{Missing: plan.Missing}

	case PlanRequiresReason:
		if mctx.Reason == "" {
			return &MoveResult{Outcome: MoveAwaitingReason}, nil
		}
		return s.declarePendency(ctx, card, actor, mctx.Reason)

	case PlanRequiresConfirmation:
		if !mctx.Confirmed {
			return &MoveResult{Outcome: MoveAwaitingConfirmation}, nil
		}
		return s.confirmConclusion(ctx, card, actor)

	default: // PlanImmediate
		from := card.Stage
		card.Stage = target
		if target == models.StageInProgress && card.StartedAt == nil {
			t := s.now().UTC()
			card.StartedAt = &t
		}
		entry := &models.AuditEntry{
			CardID:    card.ID,
			ActorID:   actor.ID,
			ActorName: actor.Name,
			Kind:      models.AuditMoved,
			Payload:   fmt.Sprintf("%s → %s", from, target),
		}
		if err := s.commit(ctx, card, entry); err != nil {
			return nil, err
		}
		s.notifier.CardMoved(card, from, actor)
		return &MoveResult{Outcome: MoveCommitted, Card: card, Entry: entry}, nil
	}
}

// declarePendency is the only path that sets blocked directly.
func (s *Service) declarePendency(ctx context.Context, card *models.Card, actor models.Actor, reason string) (*MoveResult, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, &ValidationError{Msg: "pendency reason must not be empty"}
	}

	from := card.Stage
	card.Stage = models.StageBlocked
	entry := &models.AuditEntry{
		CardID:    card.ID,
		ActorID:   actor.ID,
		ActorName: actor.Name,
		Kind:      models.AuditPendencyDeclared,
		Payload:   fmt.Sprintf("%s → %s\nMotivo: %s", from, models.StageBlocked, reason),
	}
	if err := s.commit(ctx, card, entry); err != nil {
		return nil, err
	}
	s.notifier.PendencyDeclared(card, reason, actor)
	return &MoveResult{Outcome: MoveCommitted, Card: card, Entry: entry}, nil
}

// confirmConclusion commits the move into done. Scheduling fields still null
// at this point are filled with the current timestamp; this is the one
// exception to the strict missing-fields gate, for deliberately closing out
// trivial or retroactively logged work.
func (s *Service) confirmConclusion(ctx context.Context, card *models.Card, actor models.Actor) (*MoveResult, error) {
	from := card.Stage
	card.Stage = models.StageDone
	now := s.now().UTC()
	if card.StartedAt == nil {
		t := now
		card.StartedAt = &t
	}
	if card.DueAt == nil {
		t := now
		card.DueAt = &t
	}

	entry := &models.AuditEntry{
		CardID:    card.ID,
		ActorID:   actor.ID,
		ActorName: actor.Name,
		Kind:      models.AuditMoved,
		Payload:   fmt.Sprintf("%s → %s", from, models.StageDone),
	}
	if err := s.commit(ctx, card, entry); err != nil {
		return nil, err
	}
	s.notifier.CardConcluded(card, actor)
	return &MoveResult{Outcome: MoveCommitted, Card: card, Entry: entry}, nil
}

// commit persists the card change with its audit entry, retrying once
// immediately on failure. The transactional store write guarantees the trail
// never records a transition that did not persist.
func (s *Service) commit(ctx context.Context, card *models.Card, entry *models.AuditEntry) error {
	err := s.store.CommitCardChange(ctx, card, entry)
	if err == nil {
		return nil
	}
	if err = s.store.CommitCardChange(ctx, card, entry); err != nil {
		return &PersistenceError{Err: err}
	}
	return nil
}

// EditFields applies non-stage field changes, subject to the sprint gate and
// the terminal-stage freeze. Privileged actors may still adjust due_at on
// in-progress cards after the sprint is frozen.
func (s *Service) EditFields(ctx context.Context, cardID string, patch CardPatch, actor models.Actor) (*EditResult, error) {
	unlock := s.lockCard(cardID)
	defer unlock()

	card, err := s.store.GetCard(ctx, cardID)
	if err != nil {
		return nil, err
	}
	sprint, err := s.store.GetCardSprint(ctx, cardID)
	if err != nil {
		return nil, err
	}

	if card.Stage.Terminal() {
		return nil, ErrTerminalStage
	}
	if !SprintOpen(sprint, s.now()) {
		privileged := actor.Privileged() && card.Stage == models.StageInProgress && patch.dueAtOnly()
		if !privileged {
			return nil, ErrSprintLocked
		}
	}
	if patch.Priority != nil && !models.ValidPriority(*patch.Priority) {
		return nil, &ValidationError{Msg: fmt.Sprintf("unknown priority: %s", *patch.Priority)}
	}

	before := card.Clone()
	applyPatch(card, patch)

	diff := DiffCards(before, card)
	if diff == "" {
		return &EditResult{Card: card, MissingForStage: MissingFields(card, card.Stage)}, nil
	}

	entry := &models.AuditEntry{
		CardID:    card.ID,
		ActorID:   actor.ID,
		ActorName: actor.Name,
		Kind:      models.AuditUpdated,
		Payload:   diff,
	}
	if err := s.commit(ctx, card, entry); err != nil {
		return nil, err
	}

	return &EditResult{
		Card:            card,
		Entry:           entry,
		MissingForStage: MissingFields(card, card.Stage),
	}, nil
}

func applyPatch(card *models.Card, patch CardPatch) {
	if patch.Title != nil {
		card.Title = *patch.Title
	}
	if patch.Description != nil {
		card.Description = *patch.Description
	}
	if patch.Link != nil {
		card.Link = *patch.Link
	}
	if patch.Priority != nil {
		card.Priority = *patch.Priority
	}
	if patch.OwnerID != nil {
		card.OwnerID = *patch.OwnerID
	}
	if patch.OwnerName != nil {
		card.OwnerName = *patch.OwnerName
	}
	if patch.StartedAt != nil {
		t := *patch.StartedAt
		card.StartedAt = &t
	}
	if patch.DueAt != nil {
		t := *patch.DueAt
		card.DueAt = &t
	}
	if patch.EstimateHours != nil {
		card.EstimateHours = *patch.EstimateHours
	}
}

// CreateCard registers a new card and its Created audit entry. Cards start in
// todo unless seeded into another stage, in which case the stage's field
// requirements apply up front.
func (s *Service) CreateCard(ctx context.Context, card *models.Card, actor models.Actor) error {
	if card.Stage == "" {
		card.Stage = models.StageToDo
	}
	if !card.Stage.Valid() {
		return &ValidationError{Msg: fmt.Sprintf("unknown stage: %s", card.Stage)}
	}
	if strings.TrimSpace(card.Title) == "" {
		return &ValidationError{Msg: "card title must not be empty"}
	}
	if missing := MissingFields(card, card.Stage); len(missing) > 0 {
		return &IncompleteDataError{Missing: missing}
	}

	entry := &models.AuditEntry{
		ActorID:   actor.ID,
		ActorName: actor.Name,
		Kind:      models.AuditCreated,
		Payload:   fmt.Sprintf("created in %s", card.Stage),
	}
	return s.store.CreateCardWithAudit(ctx, card, entry)
}

// AuditTrail returns the card's audit entries ordered by timestamp.
func (s *Service) AuditTrail(ctx context.Context, cardID string) ([]*models.AuditEntry, error) {
	return s.store.ListAudit(ctx, cardID)
}

// DeleteCard removes a card. Terminal cards are protected: done cards are
// never deleted, infeasible ones only by privileged actors.
func (s *Service) DeleteCard(ctx context.Context, cardID string, actor models.Actor) error {
	unlock := s.lockCard(cardID)
	defer unlock()

	card, err := s.store.GetCard(ctx, cardID)
	if err != nil {
		return err
	}
	switch card.Stage {
	case models.StageDone:
		return ErrTerminalStage
	case models.StageInfeasible:
		if !actor.Privileged() {
			return &ValidationError{Msg: "only supervisors or admins may delete infeasible cards"}
		}
	}
	return s.store.DeleteCard(ctx, cardID)
}

// RolloverSprint seeds the target sprint with the source sprint's unfinished
// work: each project is recreated under the target and its non-terminal cards
// are copied with stage and scheduling fields intact.
func (s *Service) RolloverSprint(ctx context.Context, fromSprintID, toSprintID string, actor models.Actor) (int, error) {
	from, err := s.store.GetSprint(ctx, fromSprintID)
	if err != nil {
		return 0, err
	}
	to, err := s.store.GetSprint(ctx, toSprintID)
	if err != nil {
		return 0, err
	}
	if !SprintOpen(to, s.now()) {
		return 0, ErrSprintLocked
	}

	projects, err := s.store.ListProjects(ctx, from.ID)
	if err != nil {
		return 0, err
	}

	copied := 0
	for _, p := range projects {
		cards, err := s.store.ListCards(ctx, store.CardListFilter{ProjectID: p.ID})
		if err != nil {
			return copied, err
		}

		var pending []*models.Card
		for _, c := range cards {
			if !c.Stage.Terminal() {
				pending = append(pending, c)
			}
		}
		if len(pending) == 0 {
			continue
		}

		np := &models.Project{SprintID: to.ID, Name: p.Name, Description: p.Description}
		if err := s.store.CreateProject(ctx, np); err != nil {
			return copied, err
		}

		for _, c := range pending {
			nc := c.Clone()
			nc.ID = ""
			nc.ProjectID = np.ID
			entry := &models.AuditEntry{
				ActorID:   actor.ID,
				ActorName: actor.Name,
				Kind:      models.AuditCreated,
				Payload:   fmt.Sprintf("seeded in %s by rollover from sprint %s", nc.Stage, from.Name),
			}
			if err := s.store.CreateCardWithAudit(ctx, nc, entry); err != nil {
				return copied, err
			}
			copied++
		}
	}
	return copied, nil
}
