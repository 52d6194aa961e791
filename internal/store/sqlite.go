package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/dfonseca/quadro/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. Limiting to a single
	// connection serializes all DB access through Go's connection pool,
	// preventing "database is locked" errors from concurrent requests.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// Set busy timeout so concurrent writes wait instead of failing immediately
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// boolToInt converts a bool to 0 or 1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// newULID generates a new ULID string.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	// Create migrations tracking table
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	// Sort by filename
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()

		// Check if already applied
		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Sprints ---

func (s *SQLiteStore) CreateSprint(ctx context.Context, sp *models.Sprint) error {
	if sp.ID == "" {
		sp.ID = newULID()
	}
	now := time.Now().UTC()
	sp.CreatedAt = now
	sp.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sprints (id, name, start_date, end_date, finalized, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sp.ID, sp.Name, sp.StartDate, sp.EndDate, boolToInt(sp.Finalized), sp.CreatedAt, sp.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create sprint: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSprint(ctx context.Context, id string) (*models.Sprint, error) {
	return s.getSprint(ctx, "id = ?", id)
}

func (s *SQLiteStore) GetSprintByName(ctx context.Context, name string) (*models.Sprint, error) {
	return s.getSprint(ctx, "name = ?", name)
}

func (s *SQLiteStore) getSprint(ctx context.Context, where string, arg any) (*models.Sprint, error) {
	sp := &models.Sprint{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, start_date, end_date, finalized, created_at, updated_at
		FROM sprints WHERE `+where, arg,
	).Scan(&sp.ID, &sp.Name, &sp.StartDate, &sp.EndDate, &sp.Finalized, &sp.CreatedAt, &sp.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("sprint %v: %w", arg, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get sprint: %w", err)
	}
	return sp, nil
}

func (s *SQLiteStore) ListSprints(ctx context.Context) ([]*models.Sprint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, start_date, end_date, finalized, created_at, updated_at
		FROM sprints ORDER BY start_date DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sprints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sprints []*models.Sprint
	for rows.Next() {
		sp := &models.Sprint{}
		if err := rows.Scan(&sp.ID, &sp.Name, &sp.StartDate, &sp.EndDate, &sp.Finalized, &sp.CreatedAt, &sp.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan sprint: %w", err)
		}
		sprints = append(sprints, sp)
	}
	return sprints, rows.Err()
}

func (s *SQLiteStore) UpdateSprint(ctx context.Context, sp *models.Sprint) error {
	sp.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`UPDATE sprints SET name=?, start_date=?, end_date=?, finalized=?, updated_at=? WHERE id=?`,
		sp.Name, sp.StartDate, sp.EndDate, boolToInt(sp.Finalized), sp.UpdatedAt, sp.ID,
	)
	if err != nil {
		return fmt.Errorf("update sprint: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("sprint %s: %w", sp.ID, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) DeleteSprint(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM sprints WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete sprint: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("sprint %s: %w", id, ErrNotFound)
	}
	return nil
}

// --- Projects ---

func (s *SQLiteStore) CreateProject(ctx context.Context, p *models.Project) error {
	if p.ID == "" {
		p.ID = newULID()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (id, sprint_id, name, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.SprintID, p.Name, p.Description, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create project: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetProject(ctx context.Context, id string) (*models.Project, error) {
	return s.getProject(ctx, "id = ?", id)
}

func (s *SQLiteStore) GetProjectByName(ctx context.Context, name string) (*models.Project, error) {
	return s.getProject(ctx, "name = ?", name)
}

func (s *SQLiteStore) getProject(ctx context.Context, where string, arg any) (*models.Project, error) {
	p := &models.Project{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, sprint_id, name, description, created_at, updated_at
		FROM projects WHERE `+where+` ORDER BY created_at DESC LIMIT 1`, arg,
	).Scan(&p.ID, &p.SprintID, &p.Name, &p.Description, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("project %v: %w", arg, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) ListProjects(ctx context.Context, sprintID string) ([]*models.Project, error) {
	query := `SELECT id, sprint_id, name, description, created_at, updated_at FROM projects`
	var args []any
	if sprintID != "" {
		query += " WHERE sprint_id = ?"
		args = append(args, sprintID)
	}
	query += " ORDER BY name"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var projects []*models.Project
	for rows.Next() {
		p := &models.Project{}
		if err := rows.Scan(&p.ID, &p.SprintID, &p.Name, &p.Description, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func (s *SQLiteStore) UpdateProject(ctx context.Context, p *models.Project) error {
	p.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`UPDATE projects SET sprint_id=?, name=?, description=?, updated_at=? WHERE id=?`,
		p.SprintID, p.Name, p.Description, p.UpdatedAt, p.ID,
	)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("project %s: %w", p.ID, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) DeleteProject(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM projects WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	return nil
}

// --- Cards ---

const cardColumns = `id, project_id, title, description, link, stage, priority, owner_id, owner_name, started_at, due_at, estimate_hours, created_at, updated_at`

const insertCardSQL = `INSERT INTO cards (` + cardColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func fillCardDefaults(card *models.Card) {
	if card.ID == "" {
		card.ID = newULID()
	}
	if card.Stage == "" {
		card.Stage = models.StageToDo
	}
	if card.Priority == "" {
		card.Priority = models.PriorityMedium
	}
	now := time.Now().UTC()
	card.CreatedAt = now
	card.UpdatedAt = now
}

func insertCardArgs(card *models.Card) []any {
	return []any{
		card.ID, card.ProjectID, card.Title, card.Description, card.Link,
		string(card.Stage), string(card.Priority), card.OwnerID, card.OwnerName,
		card.StartedAt, card.DueAt, card.EstimateHours, card.CreatedAt, card.UpdatedAt,
	}
}

func (s *SQLiteStore) CreateCard(ctx context.Context, card *models.Card) error {
	fillCardDefaults(card)
	if _, err := s.db.ExecContext(ctx, insertCardSQL, insertCardArgs(card)...); err != nil {
		return fmt.Errorf("create card: %w", err)
	}
	return nil
}

// CreateCardWithAudit inserts a card and its creation audit entry atomically,
// so a card can never exist without its first trail entry.
func (s *SQLiteStore) CreateCardWithAudit(ctx context.Context, card *models.Card, entry *models.AuditEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	fillCardDefaults(card)
	if _, err := tx.ExecContext(ctx, insertCardSQL, insertCardArgs(card)...); err != nil {
		return fmt.Errorf("create card: %w", err)
	}

	fillAuditDefaults(entry, card.ID)
	entry.CardID = card.ID
	if _, err := tx.ExecContext(ctx, insertAuditSQL, auditArgs(entry)...); err != nil {
		return fmt.Errorf("append audit: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func scanCard(row interface{ Scan(...any) error }) (*models.Card, error) {
	card := &models.Card{}
	var stage, priority string
	var startedAt, dueAt sql.NullTime

	err := row.Scan(&card.ID, &card.ProjectID, &card.Title, &card.Description, &card.Link,
		&stage, &priority, &card.OwnerID, &card.OwnerName,
		&startedAt, &dueAt, &card.EstimateHours, &card.CreatedAt, &card.UpdatedAt)
	if err != nil {
		return nil, err
	}

	card.Stage = models.Stage(stage)
	card.Priority = models.Priority(priority)
	if startedAt.Valid {
		card.StartedAt = &startedAt.Time
	}
	if dueAt.Valid {
		card.DueAt = &dueAt.Time
	}
	return card, nil
}

func (s *SQLiteStore) GetCard(ctx context.Context, id string) (*models.Card, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+cardColumns+` FROM cards WHERE id = ?`, id)
	card, err := scanCard(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("card %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get card: %w", err)
	}
	return card, nil
}

func (s *SQLiteStore) ListCards(ctx context.Context, filter CardListFilter) ([]*models.Card, error) {
	query := `SELECT ` + cardColumns + ` FROM cards`
	var conditions []string
	var args []any

	if filter.ProjectID != "" {
		conditions = append(conditions, "project_id = ?")
		args = append(args, filter.ProjectID)
	}
	if filter.SprintID != "" {
		conditions = append(conditions, "project_id IN (SELECT id FROM projects WHERE sprint_id = ?)")
		args = append(args, filter.SprintID)
	}
	if filter.Stage != "" {
		conditions = append(conditions, "stage = ?")
		args = append(args, string(filter.Stage))
	}
	if filter.OwnerID != "" {
		conditions = append(conditions, "owner_id = ?")
		args = append(args, filter.OwnerID)
	}
	if filter.Priority != "" {
		conditions = append(conditions, "priority = ?")
		args = append(args, string(filter.Priority))
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += ` ORDER BY
		CASE stage WHEN 'todo' THEN 0 WHEN 'in_progress' THEN 1 WHEN 'blocked' THEN 2 WHEN 'in_review' THEN 3 WHEN 'done' THEN 4 ELSE 5 END,
		CASE priority WHEN 'critical' THEN 0 WHEN 'high' THEN 1 WHEN 'medium' THEN 2 ELSE 3 END,
		created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var cards []*models.Card
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("scan card: %w", err)
		}
		cards = append(cards, card)
	}
	return cards, rows.Err()
}

func (s *SQLiteStore) UpdateCard(ctx context.Context, card *models.Card) error {
	card.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx, updateCardSQL, updateCardArgs(card)...)
	if err != nil {
		return fmt.Errorf("update card: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("card %s: %w", card.ID, ErrNotFound)
	}
	return nil
}

const updateCardSQL = `UPDATE cards SET title=?, description=?, link=?, stage=?, priority=?, owner_id=?, owner_name=?, started_at=?, due_at=?, estimate_hours=?, updated_at=? WHERE id=?`

func updateCardArgs(card *models.Card) []any {
	return []any{
		card.Title, card.Description, card.Link,
		string(card.Stage), string(card.Priority), card.OwnerID, card.OwnerName,
		card.StartedAt, card.DueAt, card.EstimateHours, card.UpdatedAt, card.ID,
	}
}

func (s *SQLiteStore) DeleteCard(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Audit entries reference the card (foreign key)
	if _, err := tx.ExecContext(ctx, "DELETE FROM audit_entries WHERE card_id = ?", id); err != nil {
		return fmt.Errorf("delete card audit: %w", err)
	}

	result, err := tx.ExecContext(ctx, "DELETE FROM cards WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete card: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("card %s: %w", id, ErrNotFound)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetCardSprint(ctx context.Context, cardID string) (*models.Sprint, error) {
	sp := &models.Sprint{}
	err := s.db.QueryRowContext(ctx,
		`SELECT s.id, s.name, s.start_date, s.end_date, s.finalized, s.created_at, s.updated_at
		FROM sprints s
		JOIN projects p ON p.sprint_id = s.id
		JOIN cards c ON c.project_id = p.id
		WHERE c.id = ?`, cardID,
	).Scan(&sp.ID, &sp.Name, &sp.StartDate, &sp.EndDate, &sp.Finalized, &sp.CreatedAt, &sp.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("sprint for card %s: %w", cardID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get card sprint: %w", err)
	}
	return sp, nil
}

// CommitCardChange updates a card and appends its audit entry atomically.
func (s *SQLiteStore) CommitCardChange(ctx context.Context, card *models.Card, entry *models.AuditEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	card.UpdatedAt = time.Now().UTC()
	result, err := tx.ExecContext(ctx, updateCardSQL, updateCardArgs(card)...)
	if err != nil {
		return fmt.Errorf("update card: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("card %s: %w", card.ID, ErrNotFound)
	}

	fillAuditDefaults(entry, card.ID)
	if _, err := tx.ExecContext(ctx, insertAuditSQL, auditArgs(entry)...); err != nil {
		return fmt.Errorf("append audit: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// --- Audit ---

const insertAuditSQL = `INSERT INTO audit_entries (id, card_id, actor_id, actor_name, kind, payload, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

func fillAuditDefaults(entry *models.AuditEntry, cardID string) {
	if entry.ID == "" {
		entry.ID = newULID()
	}
	if entry.CardID == "" {
		entry.CardID = cardID
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
}

func auditArgs(entry *models.AuditEntry) []any {
	return []any{
		entry.ID, entry.CardID, entry.ActorID, entry.ActorName,
		string(entry.Kind), entry.Payload, entry.CreatedAt,
	}
}

func (s *SQLiteStore) AppendAudit(ctx context.Context, entry *models.AuditEntry) error {
	fillAuditDefaults(entry, entry.CardID)
	if _, err := s.db.ExecContext(ctx, insertAuditSQL, auditArgs(entry)...); err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListAudit(ctx context.Context, cardID string) ([]*models.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, card_id, actor_id, actor_name, kind, payload, created_at
		FROM audit_entries WHERE card_id = ? ORDER BY created_at, id`, cardID)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*models.AuditEntry
	for rows.Next() {
		e := &models.AuditEntry{}
		var kind string
		if err := rows.Scan(&e.ID, &e.CardID, &e.ActorID, &e.ActorName, &kind, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Kind = models.AuditKind(kind)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
