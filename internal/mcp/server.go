package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/dfonseca/quadro/internal/health"
	"github.com/dfonseca/quadro/internal/lifecycle"
	"github.com/dfonseca/quadro/internal/models"
	"github.com/dfonseca/quadro/internal/store"
)

// Server wraps the quadro data layer and exposes it as MCP tools.
type Server struct {
	store  store.Store
	svc    *lifecycle.Service
	actor  models.Actor
	scorer *health.Scorer
}

// NewServer creates the MCP server wrapper. The actor stamps every audit
// entry written through MCP tools.
func NewServer(s store.Store, svc *lifecycle.Service, actor models.Actor) *Server {
	return &Server{
		store:  s,
		svc:    svc,
		actor:  actor,
		scorer: health.NewScorer(),
	}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("quadro", "1.0.0", server.WithToolCapabilities(true))

	// Register all tools
	srv.AddTool(s.listSprintsTool())
	srv.AddTool(s.sprintStatusTool())
	srv.AddTool(s.listCardsTool())
	srv.AddTool(s.createCardTool())
	srv.AddTool(s.moveCardTool())
	srv.AddTool(s.editCardTool())
	srv.AddTool(s.cardAuditTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// quadro_list_sprints
func (s *Server) listSprintsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("quadro_list_sprints",
		mcp.WithDescription("List all sprints. Returns a JSON array with id, name, start_date, end_date, and finalized flag."),
	)
	return tool, s.handleListSprints
}

func (s *Server) handleListSprints(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sprints, err := s.store.ListSprints(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list sprints: %v", err)), nil
	}

	type sprintOut struct {
		ID        string `json:"id"`
		Name      string `json:"name"`
		StartDate string `json:"start_date"`
		EndDate   string `json:"end_date"`
		Finalized bool   `json:"finalized"`
	}

	out := make([]sprintOut, len(sprints))
	for i, sp := range sprints {
		out[i] = sprintOut{
			ID:        sp.ID,
			Name:      sp.Name,
			StartDate: sp.StartDate.Format("2006-01-02"),
			EndDate:   sp.EndDate.Format("2006-01-02"),
			Finalized: sp.Finalized,
		}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal sprints: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// quadro_sprint_status
func (s *Server) sprintStatusTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("quadro_sprint_status",
		mcp.WithDescription("Get a sprint's delivery status: card counts per stage and the computed health score. Resolves the sprint by name."),
		mcp.WithString("sprint", mcp.Required(), mcp.Description("Sprint name")),
	)
	return tool, s.handleSprintStatus
}

func (s *Server) handleSprintStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("sprint")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: sprint"), nil
	}

	sprint, err := s.store.GetSprintByName(ctx, name)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("sprint not found: %s", name)), nil
	}

	cards, err := s.store.ListCards(ctx, store.CardListFilter{SprintID: sprint.ID})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list cards: %v", err)), nil
	}

	byStage := map[string]int{}
	for _, c := range cards {
		byStage[string(c.Stage)]++
	}

	score := s.scorer.Score(sprint, cards, time.Now().UTC())

	result := map[string]any{
		"sprint": map[string]any{
			"id":         sprint.ID,
			"name":       sprint.Name,
			"start_date": sprint.StartDate.Format("2006-01-02"),
			"end_date":   sprint.EndDate.Format("2006-01-02"),
			"finalized":  sprint.Finalized,
		},
		"cards": map[string]any{
			"total":    len(cards),
			"by_stage": byStage,
		},
		"health": map[string]any{
			"total":          score.Total,
			"completion":     score.Completion,
			"flow_health":    score.FlowHealth,
			"schedule_pace":  score.SchedulePace,
			"overdue_cards":  score.OverdueCards,
			"blocked_cards":  score.BlockedCards,
			"days_remaining": score.DaysRemaining,
		},
	}

	data, err := json.Marshal(result)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal status: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// cardOut is the JSON shape shared by card-returning tools.
type cardOut struct {
	ID            string  `json:"id"`
	ProjectID     string  `json:"project_id"`
	Title         string  `json:"title"`
	Description   string  `json:"description,omitempty"`
	Link          string  `json:"link,omitempty"`
	Stage         string  `json:"stage"`
	Priority      string  `json:"priority"`
	Owner         string  `json:"owner,omitempty"`
	StartedAt     string  `json:"started_at,omitempty"`
	DueAt         string  `json:"due_at,omitempty"`
	EstimateHours float64 `json:"estimate_hours,omitempty"`
}

func toCardOut(c *models.Card) cardOut {
	out := cardOut{
		ID:            c.ID,
		ProjectID:     c.ProjectID,
		Title:         c.Title,
		Description:   c.Description,
		Link:          c.Link,
		Stage:         string(c.Stage),
		Priority:      string(c.Priority),
		Owner:         c.OwnerName,
		EstimateHours: c.EstimateHours,
	}
	if c.StartedAt != nil {
		out.StartedAt = c.StartedAt.Format(time.RFC3339)
	}
	if c.DueAt != nil {
		out.DueAt = c.DueAt.Format(time.RFC3339)
	}
	return out
}

// quadro_list_cards
func (s *Server) listCardsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("quadro_list_cards",
		mcp.WithDescription("List cards, optionally filtered by project, stage, and/or priority. Stages: todo, in_progress, blocked, in_review, done, infeasible."),
		mcp.WithString("project", mcp.Description("Project name to filter by")),
		mcp.WithString("stage", mcp.Description("Stage filter: todo, in_progress, blocked, in_review, done, infeasible")),
		mcp.WithString("priority", mcp.Description("Priority filter: low, medium, high, critical")),
	)
	return tool, s.handleListCards
}

func (s *Server) handleListCards(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := store.CardListFilter{}

	projectName := request.GetString("project", "")
	if projectName != "" {
		p, err := s.store.GetProjectByName(ctx, projectName)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("project not found: %s", projectName)), nil
		}
		filter.ProjectID = p.ID
	}
	if stage := request.GetString("stage", ""); stage != "" {
		filter.Stage = models.Stage(stage)
	}
	if priority := request.GetString("priority", ""); priority != "" {
		filter.Priority = models.Priority(priority)
	}

	cards, err := s.store.ListCards(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list cards: %v", err)), nil
	}

	out := make([]cardOut, len(cards))
	for i, c := range cards {
		out[i] = toCardOut(c)
	}

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal cards: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// quadro_create_card
func (s *Server) createCardTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("quadro_create_card",
		mcp.WithDescription("Create a new card in a project. Cards start in the todo stage. Returns the created card as JSON."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project name")),
		mcp.WithString("title", mcp.Required(), mcp.Description("Card title")),
		mcp.WithString("description", mcp.Description("Card description")),
		mcp.WithString("priority", mcp.Description("Priority: low, medium, high, critical (default: medium)")),
	)
	return tool, s.handleCreateCard
}

func (s *Server) handleCreateCard(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectName, err := request.RequireString("project")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: project"), nil
	}
	title, err := request.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: title"), nil
	}

	p, err := s.store.GetProjectByName(ctx, projectName)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("project not found: %s", projectName)), nil
	}

	card := &models.Card{
		ProjectID:   p.ID,
		Title:       title,
		Description: request.GetString("description", ""),
		Priority:    models.Priority(request.GetString("priority", string(models.PriorityMedium))),
	}
	if err := s.svc.CreateCard(ctx, card, s.actor); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to create card: %v", err)), nil
	}

	data, err := json.Marshal(toCardOut(card))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal card: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// quadro_move_card
func (s *Server) moveCardTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("quadro_move_card",
		mcp.WithDescription("Move a card to a target stage. Moves into blocked require a reason; moves into done require confirmed=true. When the move needs context you have not supplied, the result is an awaiting outcome: call again with the reason or confirmation."),
		mcp.WithString("card_id", mcp.Required(), mcp.Description("Card ID")),
		mcp.WithString("target", mcp.Required(), mcp.Description("Target stage: todo, in_progress, blocked, in_review, done, infeasible")),
		mcp.WithString("reason", mcp.Description("Pendency reason, required when moving into blocked")),
		mcp.WithBoolean("confirmed", mcp.Description("Conclusion confirmation, required when moving into done")),
	)
	return tool, s.handleMoveCard
}

func (s *Server) handleMoveCard(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cardID, err := request.RequireString("card_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: card_id"), nil
	}
	target, err := request.RequireString("target")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: target"), nil
	}

	result, err := s.svc.RequestMove(ctx, cardID, models.Stage(target), s.actor, lifecycle.MoveContext{
		Reason:    request.GetString("reason", ""),
		Confirmed: request.GetBool("confirmed", false),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("move failed: %v", err)), nil
	}

	out := map[string]any{"outcome": string(result.Outcome)}
	if result.Card != nil {
		out["card"] = toCardOut(result.Card)
	}
	if result.Entry != nil {
		out["audit"] = result.Entry.Payload
	}

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// quadro_edit_card
func (s *Server) editCardTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("quadro_edit_card",
		mcp.WithDescription("Edit a card's fields (not its stage). Returns the updated card plus which fields the current stage still lacks."),
		mcp.WithString("card_id", mcp.Required(), mcp.Description("Card ID")),
		mcp.WithString("title", mcp.Description("New title")),
		mcp.WithString("description", mcp.Description("New description")),
		mcp.WithString("priority", mcp.Description("New priority: low, medium, high, critical")),
		mcp.WithString("owner_id", mcp.Description("New owner ID")),
		mcp.WithString("owner_name", mcp.Description("New owner display name")),
		mcp.WithString("started_at", mcp.Description("Start timestamp, RFC3339")),
		mcp.WithString("due_at", mcp.Description("Due timestamp, RFC3339")),
		mcp.WithNumber("estimate_hours", mcp.Description("Complexity estimate in hours")),
	)
	return tool, s.handleEditCard
}

func (s *Server) handleEditCard(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cardID, err := request.RequireString("card_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: card_id"), nil
	}

	patch := lifecycle.CardPatch{}
	if v := request.GetString("title", ""); v != "" {
		patch.Title = &v
	}
	if v := request.GetString("description", ""); v != "" {
		patch.Description = &v
	}
	if v := request.GetString("priority", ""); v != "" {
		p := models.Priority(v)
		patch.Priority = &p
	}
	if v := request.GetString("owner_id", ""); v != "" {
		patch.OwnerID = &v
	}
	if v := request.GetString("owner_name", ""); v != "" {
		patch.OwnerName = &v
	}
	if v := request.GetString("started_at", ""); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return mcp.NewToolResultError("started_at must be RFC3339"), nil
		}
		patch.StartedAt = &t
	}
	if v := request.GetString("due_at", ""); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return mcp.NewToolResultError("due_at must be RFC3339"), nil
		}
		patch.DueAt = &t
	}
	if v := request.GetFloat("estimate_hours", 0); v != 0 {
		patch.EstimateHours = &v
	}

	result, err := s.svc.EditFields(ctx, cardID, patch, s.actor)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("edit failed: %v", err)), nil
	}

	out := map[string]any{"card": toCardOut(result.Card)}
	if len(result.MissingForStage) > 0 {
		out["missing_for_stage"] = result.MissingForStage
	}

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// quadro_card_audit
func (s *Server) cardAuditTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("quadro_card_audit",
		mcp.WithDescription("Get a card's audit trail: every stage move, field edit, and pendency declaration in chronological order."),
		mcp.WithString("card_id", mcp.Required(), mcp.Description("Card ID")),
	)
	return tool, s.handleCardAudit
}

func (s *Server) handleCardAudit(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cardID, err := request.RequireString("card_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: card_id"), nil
	}

	entries, err := s.svc.AuditTrail(ctx, cardID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load audit trail: %v", err)), nil
	}

	type entryOut struct {
		Kind      string `json:"kind"`
		Actor     string `json:"actor"`
		Payload   string `json:"payload"`
		CreatedAt string `json:"created_at"`
	}

	out := make([]entryOut, len(entries))
	for i, e := range entries {
		out[i] = entryOut{
			Kind:      string(e.Kind),
			Actor:     e.ActorName,
			Payload:   e.Payload,
			CreatedAt: e.CreatedAt.Format(time.RFC3339),
		}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal audit trail: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
