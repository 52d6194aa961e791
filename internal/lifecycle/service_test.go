package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dfonseca/quadro/internal/models"
	"github.com/dfonseca/quadro/internal/store"
)

var (
	member     = models.Actor{ID: "u1", Name: "Ana", Role: models.RoleMember}
	supervisor = models.Actor{ID: "u2", Name: "Rui", Role: models.RoleSupervisor}
)

type testEnv struct {
	store   *store.SQLiteStore
	svc     *Service
	sprint  *models.Sprint
	project *models.Project
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })

	sprint := &models.Sprint{
		Name:      "Sprint 12",
		StartDate: time.Now().AddDate(0, 0, -3),
		EndDate:   time.Now().AddDate(0, 0, 10),
	}
	require.NoError(t, s.CreateSprint(context.Background(), sprint))

	project := &models.Project{SprintID: sprint.ID, Name: "checkout"}
	require.NoError(t, s.CreateProject(context.Background(), project))

	return &testEnv{store: s, svc: NewService(s, nil), sprint: sprint, project: project}
}

// seedCard inserts a card directly, bypassing the service so tests control
// the starting state exactly. Scheduling fields are filled whenever the
// stage requires them.
func (e *testEnv) seedCard(t *testing.T, title string, stage models.Stage) *models.Card {
	t.Helper()
	card := &models.Card{
		ProjectID: e.project.ID,
		Title:     title,
		Stage:     stage,
		Priority:  models.PriorityMedium,
	}
	if stage.RequiresSchedule() {
		started := time.Now().AddDate(0, 0, -1)
		due := time.Now().AddDate(0, 0, 3)
		card.OwnerID = "u1"
		card.OwnerName = "Ana"
		card.StartedAt = &started
		card.DueAt = &due
	}
	require.NoError(t, e.store.CreateCard(context.Background(), card))
	return card
}

func (e *testEnv) audits(t *testing.T, cardID string) []*models.AuditEntry {
	t.Helper()
	entries, err := e.store.ListAudit(context.Background(), cardID)
	require.NoError(t, err)
	return entries
}

func TestRequestMove_ImmediateCommits(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	card := env.seedCard(t, "Retry budget", models.StageInProgress)

	res, err := env.svc.RequestMove(ctx, card.ID, models.StageInReview, member, MoveContext{})
	require.NoError(t, err)
	assert.Equal(t, MoveCommitted, res.Outcome)
	assert.Equal(t, models.StageInReview, res.Card.Stage)

	stored, err := env.store.GetCard(ctx, card.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageInReview, stored.Stage)

	entries := env.audits(t, card.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, models.AuditMoved, entries[0].Kind)
	assert.Equal(t, "in_progress → in_review", entries[0].Payload)
	assert.Equal(t, "Ana", entries[0].ActorName)
}

func TestRequestMove_UnknownStage(t *testing.T) {
	env := newTestEnv(t)
	card := env.seedCard(t, "Retry budget", models.StageToDo)

	_, err := env.svc.RequestMove(context.Background(), card.ID, models.Stage("archived"), member, MoveContext{})
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestRequestMove_UnknownCard(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.RequestMove(context.Background(), "nope", models.StageInProgress, member, MoveContext{})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRequestMove_NoChange(t *testing.T) {
	env := newTestEnv(t)
	card := env.seedCard(t, "Retry budget", models.StageInProgress)

	_, err := env.svc.RequestMove(context.Background(), card.ID, models.StageInProgress, member, MoveContext{})
	assert.ErrorIs(t, err, ErrNoChange)
	assert.Empty(t, env.audits(t, card.ID))
}

func TestRequestMove_TerminalStage(t *testing.T) {
	env := newTestEnv(t)
	card := env.seedCard(t, "Shipped", models.StageDone)

	for _, target := range []models.Stage{
		models.StageToDo, models.StageInProgress, models.StageBlocked,
		models.StageInReview, models.StageInfeasible,
	} {
		_, err := env.svc.RequestMove(context.Background(), card.ID, target, supervisor, MoveContext{})
		assert.ErrorIs(t, err, ErrTerminalStage, "done -> %s", target)
	}
	assert.Empty(t, env.audits(t, card.ID))
}

func TestRequestMove_IncompleteData(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	card := env.seedCard(t, "Bare card", models.StageToDo)

	_, err := env.svc.RequestMove(ctx, card.ID, models.StageInProgress, member, MoveContext{})
	var ierr *IncompleteDataError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, []Field{FieldOwner, FieldStartedAt, FieldDueAt}, ierr.Missing)

	// The attempt leaves no trace: the card is unchanged and nothing was
	// recorded.
	stored, err := env.store.GetCard(ctx, card.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageToDo, stored.Stage)
	assert.Empty(t, env.audits(t, card.ID))
}

func TestRequestMove_IncompleteThenEditThenRetry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	card := env.seedCard(t, "Bare card", models.StageToDo)

	_, err := env.svc.RequestMove(ctx, card.ID, models.StageInProgress, member, MoveContext{})
	var ierr *IncompleteDataError
	require.ErrorAs(t, err, &ierr)

	owner := "u1"
	name := "Ana"
	started := time.Now().AddDate(0, 0, -1)
	due := time.Now().AddDate(0, 0, 3)
	_, err = env.svc.EditFields(ctx, card.ID, CardPatch{
		OwnerID: &owner, OwnerName: &name, StartedAt: &started, DueAt: &due,
	}, member)
	require.NoError(t, err)

	res, err := env.svc.RequestMove(ctx, card.ID, models.StageInProgress, member, MoveContext{})
	require.NoError(t, err)
	assert.Equal(t, MoveCommitted, res.Outcome)
	assert.Equal(t, models.StageInProgress, res.Card.Stage)
}

func TestRequestMove_BlockedAwaitingReason(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	card := env.seedCard(t, "Stuck", models.StageInProgress)

	res, err := env.svc.RequestMove(ctx, card.ID, models.StageBlocked, member, MoveContext{})
	require.NoError(t, err)
	assert.Equal(t, MoveAwaitingReason, res.Outcome)
	assert.Nil(t, res.Card)

	// Nothing changed while the caller goes off to collect the reason.
	stored, err := env.store.GetCard(ctx, card.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageInProgress, stored.Stage)
	assert.Empty(t, env.audits(t, card.ID))
}

func TestRequestMove_BlockedWhitespaceReason(t *testing.T) {
	env := newTestEnv(t)
	card := env.seedCard(t, "Stuck", models.StageInProgress)

	_, err := env.svc.RequestMove(context.Background(), card.ID, models.StageBlocked, member, MoveContext{Reason: "   "})
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
	assert.Empty(t, env.audits(t, card.ID))
}

func TestRequestMove_BlockedWithReason(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	card := env.seedCard(t, "Stuck", models.StageInProgress)

	res, err := env.svc.RequestMove(ctx, card.ID, models.StageBlocked, member, MoveContext{Reason: "waiting on payments API quota"})
	require.NoError(t, err)
	assert.Equal(t, MoveCommitted, res.Outcome)
	assert.Equal(t, models.StageBlocked, res.Card.Stage)

	entries := env.audits(t, card.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, models.AuditPendencyDeclared, entries[0].Kind)
	assert.Equal(t, "in_progress → blocked\nMotivo: waiting on payments API quota", entries[0].Payload)
}

func TestRequestMove_DoneAwaitingConfirmation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	card := env.seedCard(t, "Almost there", models.StageInReview)

	res, err := env.svc.RequestMove(ctx, card.ID, models.StageDone, member, MoveContext{})
	require.NoError(t, err)
	assert.Equal(t, MoveAwaitingConfirmation, res.Outcome)

	stored, err := env.store.GetCard(ctx, card.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageInReview, stored.Stage)
	assert.Empty(t, env.audits(t, card.ID))
}

func TestRequestMove_DoneConfirmed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	card := env.seedCard(t, "Almost there", models.StageInReview)

	res, err := env.svc.RequestMove(ctx, card.ID, models.StageDone, member, MoveContext{Confirmed: true})
	require.NoError(t, err)
	assert.Equal(t, MoveCommitted, res.Outcome)
	assert.Equal(t, models.StageDone, res.Card.Stage)

	entries := env.audits(t, card.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, models.AuditMoved, entries[0].Kind)
	assert.Equal(t, "in_review → done", entries[0].Payload)
}

func TestConfirmConclusion_AutofillsSchedule(t *testing.T) {
	// Closing out a card whose schedule never got recorded stamps both
	// timestamps at conclusion time.
	env := newTestEnv(t)
	ctx := context.Background()
	card := env.seedCard(t, "Retroactive", models.StageInProgress)
	card.StartedAt = nil
	card.DueAt = nil

	fixed := time.Date(2026, 3, 18, 16, 0, 0, 0, time.UTC)
	env.svc.now = func() time.Time { return fixed }

	res, err := env.svc.confirmConclusion(ctx, card, member)
	require.NoError(t, err)
	require.NotNil(t, res.Card.StartedAt)
	require.NotNil(t, res.Card.DueAt)
	assert.Equal(t, fixed, *res.Card.StartedAt)
	assert.Equal(t, fixed, *res.Card.DueAt)
}

func TestRequestMove_SprintLocked(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	card := env.seedCard(t, "Late", models.StageInProgress)

	env.sprint.Finalized = true
	require.NoError(t, env.store.UpdateSprint(ctx, env.sprint))

	_, err := env.svc.RequestMove(ctx, card.ID, models.StageInReview, supervisor, MoveContext{})
	assert.ErrorIs(t, err, ErrSprintLocked)
	assert.Empty(t, env.audits(t, card.ID))
}

func TestRequestMove_SprintPastEndDate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	card := env.seedCard(t, "Late", models.StageInProgress)

	env.svc.now = func() time.Time { return env.sprint.EndDate.AddDate(0, 0, 2) }

	_, err := env.svc.RequestMove(ctx, card.ID, models.StageInReview, member, MoveContext{})
	assert.ErrorIs(t, err, ErrSprintLocked)
}

func TestEditFields_WritesDiffAudit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	card := env.seedCard(t, "Old title", models.StageToDo)

	title := "New title"
	prio := models.PriorityHigh
	res, err := env.svc.EditFields(ctx, card.ID, CardPatch{Title: &title, Priority: &prio}, member)
	require.NoError(t, err)
	assert.Equal(t, "New title", res.Card.Title)

	require.NotNil(t, res.Entry)
	assert.Equal(t, models.AuditUpdated, res.Entry.Kind)
	assert.Equal(t, "title: Old title → New title\npriority: medium → high", res.Entry.Payload)

	stored, err := env.store.GetCard(ctx, card.ID)
	require.NoError(t, err)
	assert.Equal(t, "New title", stored.Title)
	assert.Equal(t, models.PriorityHigh, stored.Priority)
}

func TestEditFields_NoChangeWritesNothing(t *testing.T) {
	env := newTestEnv(t)
	card := env.seedCard(t, "Same", models.StageToDo)

	title := "Same"
	res, err := env.svc.EditFields(context.Background(), card.ID, CardPatch{Title: &title}, member)
	require.NoError(t, err)
	assert.Nil(t, res.Entry)
	assert.Empty(t, env.audits(t, card.ID))
}

func TestEditFields_MissingForStageHint(t *testing.T) {
	env := newTestEnv(t)
	card := env.seedCard(t, "Scheduled", models.StageInProgress)

	owner := "u3"
	name := "Bea"
	res, err := env.svc.EditFields(context.Background(), card.ID, CardPatch{OwnerID: &owner, OwnerName: &name}, member)
	require.NoError(t, err)
	assert.Empty(t, res.MissingForStage)
}

func TestEditFields_InvalidPriority(t *testing.T) {
	env := newTestEnv(t)
	card := env.seedCard(t, "Card", models.StageToDo)

	bad := models.Priority("urgent")
	_, err := env.svc.EditFields(context.Background(), card.ID, CardPatch{Priority: &bad}, member)
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestEditFields_TerminalFrozen(t *testing.T) {
	env := newTestEnv(t)
	card := env.seedCard(t, "Shipped", models.StageDone)

	title := "Rename after the fact"
	_, err := env.svc.EditFields(context.Background(), card.ID, CardPatch{Title: &title}, supervisor)
	assert.ErrorIs(t, err, ErrTerminalStage)
}

func TestEditFields_LockedSprint(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	card := env.seedCard(t, "Frozen", models.StageInProgress)

	env.sprint.Finalized = true
	require.NoError(t, env.store.UpdateSprint(ctx, env.sprint))

	title := "nope"
	_, err := env.svc.EditFields(ctx, card.ID, CardPatch{Title: &title}, member)
	assert.ErrorIs(t, err, ErrSprintLocked)
}

func TestEditFields_PrivilegedDueAtException(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	inProgress := env.seedCard(t, "Slipping", models.StageInProgress)
	todo := env.seedCard(t, "Not started", models.StageToDo)

	env.sprint.Finalized = true
	require.NoError(t, env.store.UpdateSprint(ctx, env.sprint))

	due := time.Now().AddDate(0, 0, 7)

	// Supervisor adjusting only due_at on an in-progress card gets through.
	res, err := env.svc.EditFields(ctx, inProgress.ID, CardPatch{DueAt: &due}, supervisor)
	require.NoError(t, err)
	require.NotNil(t, res.Card.DueAt)
	assert.WithinDuration(t, due, *res.Card.DueAt, time.Second)

	// A member is refused the same edit.
	_, err = env.svc.EditFields(ctx, inProgress.ID, CardPatch{DueAt: &due}, member)
	assert.ErrorIs(t, err, ErrSprintLocked)

	// The exception is due_at only: bundling another field loses it.
	title := "also rename"
	_, err = env.svc.EditFields(ctx, inProgress.ID, CardPatch{DueAt: &due, Title: &title}, supervisor)
	assert.ErrorIs(t, err, ErrSprintLocked)

	// And only for cards currently in progress.
	_, err = env.svc.EditFields(ctx, todo.ID, CardPatch{DueAt: &due}, supervisor)
	assert.ErrorIs(t, err, ErrSprintLocked)
}

// flakyStore fails CommitCardChange a configured number of times before
// delegating to the real store.
type flakyStore struct {
	store.Store
	failures int
}

var errFlaky = errors.New("disk hiccup")

func (f *flakyStore) CommitCardChange(ctx context.Context, card *models.Card, entry *models.AuditEntry) error {
	if f.failures > 0 {
		f.failures--
		return errFlaky
	}
	return f.Store.CommitCardChange(ctx, card, entry)
}

func TestRequestMove_CommitRetriesOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	card := env.seedCard(t, "Retry me", models.StageInProgress)

	svc := NewService(&flakyStore{Store: env.store, failures: 1}, nil)
	res, err := svc.RequestMove(ctx, card.ID, models.StageInReview, member, MoveContext{})
	require.NoError(t, err)
	assert.Equal(t, MoveCommitted, res.Outcome)

	stored, err := env.store.GetCard(ctx, card.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageInReview, stored.Stage)
}

func TestRequestMove_PersistenceErrorAfterRetry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	card := env.seedCard(t, "Broken disk", models.StageInProgress)

	svc := NewService(&flakyStore{Store: env.store, failures: 2}, nil)
	_, err := svc.RequestMove(ctx, card.ID, models.StageInReview, member, MoveContext{})

	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.ErrorIs(t, perr.Err, errFlaky)

	// The failed transition is invisible: stage unchanged, no audit entry.
	stored, err := env.store.GetCard(ctx, card.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageInProgress, stored.Stage)
	assert.Empty(t, env.audits(t, card.ID))
}

func TestCreateCard_Defaults(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	card := &models.Card{ProjectID: env.project.ID, Title: "Fresh"}
	require.NoError(t, env.svc.CreateCard(ctx, card, member))
	assert.Equal(t, models.StageToDo, card.Stage)

	entries := env.audits(t, card.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, models.AuditCreated, entries[0].Kind)
	assert.Equal(t, "created in todo", entries[0].Payload)
}

func TestCreateCard_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var verr *ValidationError
	err := env.svc.CreateCard(ctx, &models.Card{ProjectID: env.project.ID, Title: "  "}, member)
	assert.ErrorAs(t, err, &verr)

	err = env.svc.CreateCard(ctx, &models.Card{ProjectID: env.project.ID, Title: "x", Stage: "limbo"}, member)
	assert.ErrorAs(t, err, &verr)

	// Seeding straight into a scheduled stage demands the fields up front.
	var ierr *IncompleteDataError
	err = env.svc.CreateCard(ctx, &models.Card{ProjectID: env.project.ID, Title: "x", Stage: models.StageInProgress}, member)
	assert.ErrorAs(t, err, &ierr)
}

func TestDeleteCard_Protections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	done := env.seedCard(t, "Shipped", models.StageDone)
	infeasible := env.seedCard(t, "Never", models.StageInfeasible)
	todo := env.seedCard(t, "Plain", models.StageToDo)

	assert.ErrorIs(t, env.svc.DeleteCard(ctx, done.ID, supervisor), ErrTerminalStage)

	var verr *ValidationError
	assert.ErrorAs(t, env.svc.DeleteCard(ctx, infeasible.ID, member), &verr)
	assert.NoError(t, env.svc.DeleteCard(ctx, infeasible.ID, supervisor))

	assert.NoError(t, env.svc.DeleteCard(ctx, todo.ID, member))
	_, err := env.store.GetCard(ctx, todo.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRolloverSprint(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.seedCard(t, "Pending", models.StageToDo)
	blocked := env.seedCard(t, "Stuck", models.StageBlocked)
	env.seedCard(t, "Shipped", models.StageDone)
	env.seedCard(t, "Never", models.StageInfeasible)

	next := &models.Sprint{
		Name:      "Sprint 13",
		StartDate: time.Now(),
		EndDate:   time.Now().AddDate(0, 0, 13),
	}
	require.NoError(t, env.store.CreateSprint(ctx, next))

	copied, err := env.svc.RolloverSprint(ctx, env.sprint.ID, next.ID, supervisor)
	require.NoError(t, err)
	assert.Equal(t, 2, copied)

	projects, err := env.store.ListProjects(ctx, next.ID)
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.Equal(t, "checkout", projects[0].Name)

	cards, err := env.store.ListCards(ctx, store.CardListFilter{SprintID: next.ID})
	require.NoError(t, err)
	require.Len(t, cards, 2)

	// Stage and schedule survive the copy.
	for _, c := range cards {
		if c.Title == "Stuck" {
			assert.Equal(t, models.StageBlocked, c.Stage)
			require.NotNil(t, c.StartedAt)
			require.NotNil(t, c.DueAt)
			assert.WithinDuration(t, *blocked.DueAt, *c.DueAt, time.Second)

			entries := env.audits(t, c.ID)
			require.Len(t, entries, 1)
			assert.Contains(t, entries[0].Payload, "rollover from sprint Sprint 12")
		}
	}

	// Source cards stay where they were.
	src, err := env.store.ListCards(ctx, store.CardListFilter{SprintID: env.sprint.ID})
	require.NoError(t, err)
	assert.Len(t, src, 4)
}

func TestRolloverSprint_TargetLocked(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedCard(t, "Pending", models.StageToDo)

	next := &models.Sprint{
		Name:      "Sprint 13",
		StartDate: time.Now(),
		EndDate:   time.Now().AddDate(0, 0, 13),
		Finalized: true,
	}
	require.NoError(t, env.store.CreateSprint(ctx, next))

	_, err := env.svc.RolloverSprint(ctx, env.sprint.ID, next.ID, supervisor)
	assert.ErrorIs(t, err, ErrSprintLocked)
}

func TestRequestMove_ConcurrentRequestsCommitOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	card := env.seedCard(t, "Contested", models.StageInProgress)

	const n = 16
	results := make([]*MoveResult, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = env.svc.RequestMove(ctx, card.ID, models.StageInReview, member, MoveContext{})
		}(i)
	}
	wg.Wait()

	// Exactly one request wins; the rest observe the already-moved card.
	committed := 0
	for i := 0; i < n; i++ {
		if errs[i] == nil {
			assert.Equal(t, MoveCommitted, results[i].Outcome)
			committed++
		} else {
			assert.ErrorIs(t, errs[i], ErrNoChange)
		}
	}
	assert.Equal(t, 1, committed)

	stored, err := env.store.GetCard(ctx, card.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageInReview, stored.Stage)
	assert.Len(t, env.audits(t, card.ID), 1)
}

func TestEditFields_ConcurrentEditsAllRecorded(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	card := env.seedCard(t, "title-start", models.StageToDo)

	const n = 10
	errs := make([]error, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			title := fmt.Sprintf("title-%02d", i)
			_, errs[i] = env.svc.EditFields(ctx, card.ID, CardPatch{Title: &title}, member)
		}(i)
	}
	wg.Wait()

	// Serialized edits: each sees the previous title, so every distinct
	// patch produces its own Updated entry.
	for i := 0; i < n; i++ {
		assert.NoError(t, errs[i])
	}
	assert.Len(t, env.audits(t, card.ID), n)
}

func TestRequestMove_CardsLockIndependently(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.seedCard(t, "Card A", models.StageInProgress)
	b := env.seedCard(t, "Card B", models.StageInProgress)

	var wg sync.WaitGroup
	var errA, errB error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errA = env.svc.RequestMove(ctx, a.ID, models.StageInReview, member, MoveContext{})
	}()
	go func() {
		defer wg.Done()
		_, errB = env.svc.RequestMove(ctx, b.ID, models.StageInReview, member, MoveContext{})
	}()
	wg.Wait()

	require.NoError(t, errA)
	require.NoError(t, errB)
	assert.Len(t, env.audits(t, a.ID), 1)
	assert.Len(t, env.audits(t, b.ID), 1)
}

func TestDeleteCard_SerializedWithMoves(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	card := env.seedCard(t, "Doomed", models.StageInProgress)

	const n = 8
	deleteErrs := make([]error, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				deleteErrs[i] = env.svc.DeleteCard(ctx, card.ID, member)
			} else {
				_, _ = env.svc.RequestMove(ctx, card.ID, models.StageInReview, member, MoveContext{})
			}
		}(i)
	}
	wg.Wait()

	// Exactly one delete succeeds; later ones find nothing to delete.
	deleted := 0
	for i := 0; i < n; i += 2 {
		if deleteErrs[i] == nil {
			deleted++
		} else {
			assert.ErrorIs(t, deleteErrs[i], store.ErrNotFound)
		}
	}
	assert.Equal(t, 1, deleted)

	_, err := env.store.GetCard(ctx, card.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Empty(t, env.audits(t, card.ID))
}

func TestLockMapEvictedWhenIdle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	card := env.seedCard(t, "Busy", models.StageInProgress)

	_, err := env.svc.RequestMove(ctx, card.ID, models.StageInReview, member, MoveContext{})
	require.NoError(t, err)

	title := "renamed"
	_, err = env.svc.EditFields(ctx, card.ID, CardPatch{Title: &title}, member)
	require.NoError(t, err)

	// No requests in flight, so the per-card lock map holds nothing.
	env.svc.mu.Lock()
	remaining := len(env.svc.locks)
	env.svc.mu.Unlock()
	assert.Equal(t, 0, remaining)
}

func TestRolloverSprint_SkipsEmptyProjects(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// All cards terminal: the project is not recreated in the target.
	env.seedCard(t, "Shipped", models.StageDone)

	next := &models.Sprint{
		Name:      "Sprint 13",
		StartDate: time.Now(),
		EndDate:   time.Now().AddDate(0, 0, 13),
	}
	require.NoError(t, env.store.CreateSprint(ctx, next))

	copied, err := env.svc.RolloverSprint(ctx, env.sprint.ID, next.ID, supervisor)
	require.NoError(t, err)
	assert.Equal(t, 0, copied)

	projects, err := env.store.ListProjects(ctx, next.ID)
	require.NoError(t, err)
	assert.Empty(t, projects)
}
