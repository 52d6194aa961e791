package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/dfonseca/quadro/internal/health"
	"github.com/dfonseca/quadro/internal/lifecycle"
	"github.com/dfonseca/quadro/internal/llm"
	"github.com/dfonseca/quadro/internal/models"
	"github.com/dfonseca/quadro/internal/store"
)

// Server provides the REST API handlers.
type Server struct {
	store  store.Store
	svc    *lifecycle.Service
	scorer *health.Scorer
	llm    *llm.Client
}

// NewServer creates a new API server.
// The llmClient may be nil if no API key is configured.
func NewServer(s store.Store, svc *lifecycle.Service, llmClient *llm.Client) *Server {
	return &Server{
		store:  s,
		svc:    svc,
		scorer: health.NewScorer(),
		llm:    llmClient,
	}
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/sprints", s.listSprints)
	mux.HandleFunc("POST /api/v1/sprints", s.createSprint)
	mux.HandleFunc("GET /api/v1/sprints/{id}", s.getSprint)
	mux.HandleFunc("POST /api/v1/sprints/{id}/finalize", s.finalizeSprint)
	mux.HandleFunc("POST /api/v1/sprints/{id}/rollover", s.rolloverSprint)
	mux.HandleFunc("GET /api/v1/sprints/{id}/health", s.sprintHealth)

	mux.HandleFunc("GET /api/v1/projects", s.listProjects)
	mux.HandleFunc("POST /api/v1/projects", s.createProject)
	mux.HandleFunc("GET /api/v1/projects/{id}", s.getProject)
	mux.HandleFunc("DELETE /api/v1/projects/{id}", s.deleteProject)

	mux.HandleFunc("GET /api/v1/cards", s.listCards)
	mux.HandleFunc("POST /api/v1/cards", s.createCard)
	mux.HandleFunc("GET /api/v1/cards/{id}", s.getCard)
	mux.HandleFunc("DELETE /api/v1/cards/{id}", s.deleteCard)
	mux.HandleFunc("POST /api/v1/cards/{id}/move", s.moveCard)
	mux.HandleFunc("POST /api/v1/cards/{id}/edit", s.editCard)
	mux.HandleFunc("GET /api/v1/cards/{id}/audit", s.cardAudit)

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Actor-Id, X-Actor-Name, X-Actor-Role")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// actorFrom resolves the acting identity from request headers. Authentication
// itself lives in front of this API; absent headers degrade to an anonymous
// member.
func actorFrom(r *http.Request) models.Actor {
	actor := models.Actor{
		ID:   r.Header.Get("X-Actor-Id"),
		Name: r.Header.Get("X-Actor-Name"),
		Role: models.Role(r.Header.Get("X-Actor-Role")),
	}
	if actor.Role == "" {
		actor.Role = models.RoleMember
	}
	if actor.Name == "" {
		actor.Name = "anonymous"
	}
	return actor
}

// writeLifecycleError maps the lifecycle error taxonomy onto HTTP statuses.
func writeLifecycleError(w http.ResponseWriter, err error) {
	var incomplete *lifecycle.IncompleteDataError
	var validation *lifecycle.ValidationError

	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, lifecycle.ErrSprintLocked):
		writeError(w, http.StatusLocked, err.Error())
	case errors.Is(err, lifecycle.ErrNoChange),
		errors.Is(err, lifecycle.ErrTerminalStage),
		errors.Is(err, lifecycle.ErrIllegalTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &incomplete):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":   incomplete.Error(),
			"missing": incomplete.Missing,
		})
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, validation.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// --- Sprints ---

func (s *Server) listSprints(w http.ResponseWriter, r *http.Request) {
	sprints, err := s.store.ListSprints(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sprints)
}

func (s *Server) createSprint(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name      string `json:"name"`
		StartDate string `json:"start_date"`
		EndDate   string `json:"end_date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	start, err := time.Parse("2006-01-02", req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "start_date must be YYYY-MM-DD")
		return
	}
	end, err := time.Parse("2006-01-02", req.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "end_date must be YYYY-MM-DD")
		return
	}
	if end.Before(start) {
		writeError(w, http.StatusBadRequest, "end_date must not precede start_date")
		return
	}

	sprint := &models.Sprint{Name: req.Name, StartDate: start, EndDate: end}
	if err := s.store.CreateSprint(r.Context(), sprint); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, sprint)
}

func (s *Server) getSprint(w http.ResponseWriter, r *http.Request) {
	sprint, err := s.store.GetSprint(r.Context(), r.PathValue("id"))
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sprint)
}

func (s *Server) finalizeSprint(w http.ResponseWriter, r *http.Request) {
	sprint, err := s.store.GetSprint(r.Context(), r.PathValue("id"))
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	if sprint.Finalized {
		writeJSON(w, http.StatusOK, sprint)
		return
	}
	sprint.Finalized = true
	if err := s.store.UpdateSprint(r.Context(), sprint); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sprint)
}

func (s *Server) rolloverSprint(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TargetSprintID string `json:"target_sprint_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.TargetSprintID == "" {
		writeError(w, http.StatusBadRequest, "target_sprint_id is required")
		return
	}

	copied, err := s.svc.RolloverSprint(r.Context(), r.PathValue("id"), req.TargetSprintID, actorFrom(r))
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"copied": copied})
}

func (s *Server) sprintHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sprint, err := s.store.GetSprint(ctx, r.PathValue("id"))
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	cards, err := s.store.ListCards(ctx, store.CardListFilter{SprintID: sprint.ID})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.scorer.Score(sprint, cards, time.Now().UTC()))
}

// --- Projects ---

func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.store.ListProjects(r.Context(), r.URL.Query().Get("sprint_id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

func (s *Server) createProject(w http.ResponseWriter, r *http.Request) {
	var p models.Project
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if p.Name == "" || p.SprintID == "" {
		writeError(w, http.StatusBadRequest, "name and sprint_id are required")
		return
	}
	if err := s.store.CreateProject(r.Context(), &p); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) getProject(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.GetProject(r.Context(), r.PathValue("id"))
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) deleteProject(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteProject(r.Context(), r.PathValue("id")); err != nil {
		writeLifecycleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Cards ---

func (s *Server) listCards(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.CardListFilter{
		ProjectID: q.Get("project_id"),
		SprintID:  q.Get("sprint_id"),
		Stage:     models.Stage(q.Get("stage")),
		OwnerID:   q.Get("owner_id"),
		Priority:  models.Priority(q.Get("priority")),
	}
	cards, err := s.store.ListCards(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cards)
}

type cardRequest struct {
	ProjectID     string     `json:"project_id"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	Link          string     `json:"link"`
	Stage         string     `json:"stage"`
	Priority      string     `json:"priority"`
	OwnerID       string     `json:"owner_id"`
	OwnerName     string     `json:"owner_name"`
	StartedAt     *time.Time `json:"started_at"`
	DueAt         *time.Time `json:"due_at"`
	EstimateHours float64    `json:"estimate_hours"`
}

func (s *Server) createCard(w http.ResponseWriter, r *http.Request) {
	var req cardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.ProjectID == "" {
		writeError(w, http.StatusBadRequest, "project_id is required")
		return
	}

	card := &models.Card{
		ProjectID:     req.ProjectID,
		Title:         req.Title,
		Description:   req.Description,
		Link:          req.Link,
		Stage:         models.Stage(req.Stage),
		Priority:      models.Priority(req.Priority),
		OwnerID:       req.OwnerID,
		OwnerName:     req.OwnerName,
		StartedAt:     req.StartedAt,
		DueAt:         req.DueAt,
		EstimateHours: req.EstimateHours,
	}

	// Suggest an estimate when the LLM is configured and none was given
	if s.llm != nil && card.EstimateHours == 0 {
		if est, err := s.llm.SuggestEstimate(r.Context(), card.Title, card.Description); err == nil {
			card.EstimateHours = est.Hours
		}
	}

	if err := s.svc.CreateCard(r.Context(), card, actorFrom(r)); err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, card)
}

func (s *Server) getCard(w http.ResponseWriter, r *http.Request) {
	card, err := s.store.GetCard(r.Context(), r.PathValue("id"))
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, card)
}

func (s *Server) deleteCard(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteCard(r.Context(), r.PathValue("id"), actorFrom(r)); err != nil {
		writeLifecycleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// moveResponse mirrors lifecycle.MoveResult for JSON callers.
type moveResponse struct {
	Outcome string             `json:"outcome"`
	Card    *models.Card       `json:"card,omitempty"`
	Entry   *models.AuditEntry `json:"entry,omitempty"`
}

func (s *Server) moveCard(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Target    string `json:"target"`
		Reason    string `json:"reason"`
		Confirmed bool   `json:"confirmed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Target == "" {
		writeError(w, http.StatusBadRequest, "target is required")
		return
	}

	result, err := s.svc.RequestMove(r.Context(), r.PathValue("id"), models.Stage(req.Target), actorFrom(r), lifecycle.MoveContext{
		Reason:    req.Reason,
		Confirmed: req.Confirmed,
	})
	if err != nil {
		writeLifecycleError(w, err)
		return
	}

	status := http.StatusOK
	if result.Outcome != lifecycle.MoveCommitted {
		// The two-step protocol: the caller re-issues with reason/confirmed.
		status = http.StatusAccepted
	}
	writeJSON(w, status, moveResponse{
		Outcome: string(result.Outcome),
		Card:    result.Card,
		Entry:   result.Entry,
	})
}

type editResponse struct {
	Card    *models.Card       `json:"card"`
	Entry   *models.AuditEntry `json:"entry,omitempty"`
	Missing []lifecycle.Field  `json:"missing_for_stage,omitempty"`
}

func (s *Server) editCard(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title         *string    `json:"title"`
		Description   *string    `json:"description"`
		Link          *string    `json:"link"`
		Priority      *string    `json:"priority"`
		OwnerID       *string    `json:"owner_id"`
		OwnerName     *string    `json:"owner_name"`
		StartedAt     *time.Time `json:"started_at"`
		DueAt         *time.Time `json:"due_at"`
		EstimateHours *float64   `json:"estimate_hours"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	patch := lifecycle.CardPatch{
		Title:         req.Title,
		Description:   req.Description,
		Link:          req.Link,
		OwnerID:       req.OwnerID,
		OwnerName:     req.OwnerName,
		StartedAt:     req.StartedAt,
		DueAt:         req.DueAt,
		EstimateHours: req.EstimateHours,
	}
	if req.Priority != nil {
		p := models.Priority(*req.Priority)
		patch.Priority = &p
	}

	result, err := s.svc.EditFields(r.Context(), r.PathValue("id"), patch, actorFrom(r))
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, editResponse{
		Card:    result.Card,
		Entry:   result.Entry,
		Missing: result.MissingForStage,
	})
}

func (s *Server) cardAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := s.svc.AuditTrail(r.Context(), r.PathValue("id"))
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	if entries == nil {
		entries = []*models.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
