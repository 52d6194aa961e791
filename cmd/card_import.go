package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dfonseca/quadro/internal/lifecycle"
	"github.com/dfonseca/quadro/internal/models"
	"github.com/dfonseca/quadro/internal/store"
)

var cardImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import projects and cards from a yaml seed file",
	Long: `Import a sprint's projects and cards from a yaml seed file.

The file names an existing sprint and lists projects with their cards.
Projects already present in the sprint are reused; cards are always
created. Cards seeded into a scheduled stage must carry owner, started,
and due up front.

Example:

  sprint: Sprint 12
  projects:
    - name: checkout
      cards:
        - title: Retry budget for the payment call
          priority: high
        - title: Idempotency keys
          owner: Ana
          stage: in_progress
          started: 2026-03-10
          due: 2026-03-16
          estimate: 6`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return cardImportRun(args[0])
	},
}

func init() {
	cardCmd.AddCommand(cardImportCmd)
}

type importSeed struct {
	Sprint   string          `yaml:"sprint"`
	Projects []importProject `yaml:"projects"`
}

type importProject struct {
	Name        string       `yaml:"name"`
	Description string       `yaml:"description"`
	Cards       []importCard `yaml:"cards"`
}

type importCard struct {
	Title       string  `yaml:"title"`
	Description string  `yaml:"description"`
	Link        string  `yaml:"link"`
	Stage       string  `yaml:"stage"`
	Priority    string  `yaml:"priority"`
	Owner       string  `yaml:"owner"`
	Started     string  `yaml:"started"`
	Due         string  `yaml:"due"`
	Estimate    float64 `yaml:"estimate"`
}

// parseImportSeed decodes and validates a seed file's shape. Stage and date
// validity is left to the lifecycle service, which owns those rules.
func parseImportSeed(data []byte) (*importSeed, error) {
	var seed importSeed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	if seed.Sprint == "" {
		return nil, fmt.Errorf("seed file must name a sprint")
	}
	if len(seed.Projects) == 0 {
		return nil, fmt.Errorf("seed file has no projects")
	}
	for _, p := range seed.Projects {
		if p.Name == "" {
			return nil, fmt.Errorf("every project needs a name")
		}
		for _, c := range p.Cards {
			if c.Title == "" {
				return nil, fmt.Errorf("project %s: every card needs a title", p.Name)
			}
		}
	}
	return &seed, nil
}

// toModel builds the card for creation, parsing the seed's date strings.
func (c importCard) toModel(projectID string) (*models.Card, error) {
	card := &models.Card{
		ProjectID:     projectID,
		Title:         c.Title,
		Description:   c.Description,
		Link:          c.Link,
		Stage:         models.Stage(c.Stage),
		Priority:      models.Priority(c.Priority),
		OwnerID:       c.Owner,
		OwnerName:     c.Owner,
		EstimateHours: c.Estimate,
	}
	if c.Priority == "" {
		card.Priority = models.PriorityMedium
	}
	if c.Started != "" {
		t, err := parseWhen(c.Started)
		if err != nil {
			return nil, fmt.Errorf("card %q: parse started: %w", c.Title, err)
		}
		card.StartedAt = &t
	}
	if c.Due != "" {
		t, err := parseWhen(c.Due)
		if err != nil {
			return nil, fmt.Errorf("card %q: parse due: %w", c.Title, err)
		}
		card.DueAt = &t
	}
	return card, nil
}

// applyImportSeed creates the seed's projects and cards under the named
// sprint, reusing projects that already exist there. It returns the number of
// cards created; on error cards created so far stay.
func applyImportSeed(ctx context.Context, s store.Store, svc *lifecycle.Service, actor models.Actor, seed *importSeed) (int, error) {
	sprint, err := s.GetSprintByName(ctx, seed.Sprint)
	if err != nil {
		return 0, err
	}

	existing, err := s.ListProjects(ctx, sprint.ID)
	if err != nil {
		return 0, err
	}
	byName := make(map[string]*models.Project, len(existing))
	for _, p := range existing {
		byName[p.Name] = p
	}

	created := 0
	for _, ip := range seed.Projects {
		project := byName[ip.Name]
		if project == nil {
			project = &models.Project{SprintID: sprint.ID, Name: ip.Name, Description: ip.Description}
			if err := s.CreateProject(ctx, project); err != nil {
				return created, fmt.Errorf("create project %s: %w", ip.Name, err)
			}
			byName[ip.Name] = project
		}

		for _, ic := range ip.Cards {
			card, err := ic.toModel(project.ID)
			if err != nil {
				return created, err
			}
			if err := svc.CreateCard(ctx, card, actor); err != nil {
				return created, fmt.Errorf("create card %q: %w", ic.Title, err)
			}
			created++
		}
	}
	return created, nil
}

func cardImportRun(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}
	seed, err := parseImportSeed(data)
	if err != nil {
		return err
	}

	svc, err := getService()
	if err != nil {
		return err
	}
	ctx := context.Background()

	if dryRun {
		total := 0
		for _, p := range seed.Projects {
			total += len(p.Cards)
		}
		ui.DryRunMsg("Would import %d project(s), %d card(s) into sprint %s", len(seed.Projects), total, seed.Sprint)
		return nil
	}

	created, err := applyImportSeed(ctx, dataStore, svc, getActor(), seed)
	if err != nil {
		return err
	}
	ui.Success("Imported %d card(s) into sprint %s", created, seed.Sprint)
	return nil
}
